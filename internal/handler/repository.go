package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sakif/codehost/internal/auth"
	"github.com/sakif/codehost/internal/model"
	"github.com/sakif/codehost/internal/service"
)

// RepositoryHandler serves repository metadata and stars. Every route
// below /repos/{owner}/{repo} addresses the repository by owner username
// and name.
type RepositoryHandler struct {
	repos  *service.RepositoryService
	logger *slog.Logger
}

func NewRepositoryHandler(repos *service.RepositoryService, logger *slog.Logger) *RepositoryHandler {
	return &RepositoryHandler{repos: repos, logger: logger}
}

type createRepositoryRequest struct {
	Name          string  `json:"name"`
	Description   *string `json:"description"`
	IsPrivate     bool    `json:"isPrivate"`
	DefaultBranch string  `json:"defaultBranch"`
}

// actorID is "" for anonymous requests; services decide what that allows.
func actorID(r *http.Request) string {
	id, _ := auth.AccountIDFromContext(r.Context())
	return id
}

// HTTP: POST /api/v1/repos (requires auth) → 201
func (h *RepositoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRepositoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	repo, err := h.repos.Create(r.Context(), actorID(r), service.CreateRepositoryInput{
		Name:          req.Name,
		Description:   req.Description,
		IsPrivate:     req.IsPrivate,
		DefaultBranch: req.DefaultBranch,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, repo)
}

// HTTP: GET /api/v1/repos/{owner}/{repo}
func (h *RepositoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	repo, err := h.repos.Get(r.Context(), actorID(r), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

// HTTP: PUT /api/v1/repos/{owner}/{repo} (requires auth, owner only)
func (h *RepositoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	var upd model.RepositoryUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	repo, err := h.repos.Update(r.Context(), actorID(r), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), upd)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, repo)
}

// HTTP: DELETE /api/v1/repos/{owner}/{repo} (requires auth, owner only) → 204
func (h *RepositoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.repos.Delete(r.Context(), actorID(r), chi.URLParam(r, "owner"), chi.URLParam(r, "repo")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HTTP: GET /api/v1/repos/{owner}/{repo}/star (requires auth)
func (h *RepositoryHandler) StarStatus(w http.ResponseWriter, r *http.Request) {
	h.writeStar(w, r, h.repos.StarStatus)
}

// Star is idempotent: starring twice leaves one star.
//
// HTTP: PUT /api/v1/repos/{owner}/{repo}/star (requires auth)
func (h *RepositoryHandler) Star(w http.ResponseWriter, r *http.Request) {
	h.writeStar(w, r, h.repos.Star)
}

// HTTP: DELETE /api/v1/repos/{owner}/{repo}/star (requires auth)
func (h *RepositoryHandler) Unstar(w http.ResponseWriter, r *http.Request) {
	h.writeStar(w, r, h.repos.Unstar)
}

type starFunc func(ctx context.Context, actorID, owner, name string) (*service.StarStatus, error)

func (h *RepositoryHandler) writeStar(w http.ResponseWriter, r *http.Request, fn starFunc) {
	status, err := fn(r.Context(), actorID(r), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
