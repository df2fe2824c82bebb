package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sakif/codehost/internal/model"
	"github.com/sakif/codehost/internal/service"
)

type PullRequestHandler struct {
	prs    *service.PullRequestService
	logger *slog.Logger
}

func NewPullRequestHandler(prs *service.PullRequestService, logger *slog.Logger) *PullRequestHandler {
	return &PullRequestHandler{prs: prs, logger: logger}
}

type createPullRequestRequest struct {
	Title      string  `json:"title"`
	Body       *string `json:"body"`
	HeadBranch string  `json:"headBranch"`
	BaseBranch string  `json:"baseBranch"`
}

type mergeRequest struct {
	MergeMessage *string `json:"mergeMessage"`
}

// List returns pull requests filtered by ?state=open|closed|merged|all
// (default open).
//
// HTTP: GET /api/v1/repos/{owner}/{repo}/pulls
func (h *PullRequestHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	prs, err := h.prs.List(r.Context(), actorID(r),
		chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), r.URL.Query().Get("state"), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if prs == nil {
		prs = []model.PullRequest{}
	}
	writeJSON(w, http.StatusOK, prs)
}

// HTTP: POST /api/v1/repos/{owner}/{repo}/pulls (requires auth) → 201
func (h *PullRequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPullRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	pr, err := h.prs.Create(r.Context(), actorID(r), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"),
		service.CreatePullRequestInput{
			Title:      req.Title,
			Body:       req.Body,
			HeadBranch: req.HeadBranch,
			BaseBranch: req.BaseBranch,
		})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, pr)
}

// HTTP: GET /api/v1/repos/{owner}/{repo}/pulls/{number}
func (h *PullRequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	number, err := pathNumber(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	pr, err := h.prs.Get(r.Context(), actorID(r), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), number)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

// HTTP: PATCH /api/v1/repos/{owner}/{repo}/pulls/{number} (requires auth)
func (h *PullRequestHandler) Update(w http.ResponseWriter, r *http.Request) {
	number, err := pathNumber(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var upd model.PullRequestUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	pr, err := h.prs.Update(r.Context(), actorID(r), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), number, upd)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

// Merge accepts an optional {"mergeMessage": "..."} body. An empty body
// uses the default message.
//
// HTTP: PUT /api/v1/repos/{owner}/{repo}/pulls/{number}/merge (requires auth, owner only)
func (h *PullRequestHandler) Merge(w http.ResponseWriter, r *http.Request) {
	number, err := pathNumber(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var req mergeRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	pr, err := h.prs.Merge(r.Context(), actorID(r), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), number, req.MergeMessage)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

// HTTP: PATCH /api/v1/repos/{owner}/{repo}/pulls/{number}/close (requires auth)
func (h *PullRequestHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.prs.Close)
}

// HTTP: PATCH /api/v1/repos/{owner}/{repo}/pulls/{number}/reopen (requires auth)
func (h *PullRequestHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.prs.Reopen)
}

func (h *PullRequestHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, actorID, owner, name string, number int64) (*model.PullRequest, error),
) {
	number, err := pathNumber(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	pr, err := fn(r.Context(), actorID(r), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), number)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}
