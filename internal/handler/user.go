package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sakif/codehost/internal/auth"
	"github.com/sakif/codehost/internal/model"
	"github.com/sakif/codehost/internal/service"
)

// UserHandler serves public profiles and the owner's profile edits.
type UserHandler struct {
	accounts *service.AccountService
	repos    *service.RepositoryService
	logger   *slog.Logger
}

func NewUserHandler(accounts *service.AccountService, repos *service.RepositoryService, logger *slog.Logger) *UserHandler {
	return &UserHandler{accounts: accounts, repos: repos, logger: logger}
}

// List searches accounts by username or full name.
//
// HTTP: GET /api/v1/users?q=&limit=&offset=
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	accounts, err := h.accounts.List(r.Context(), r.URL.Query().Get("q"), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if accounts == nil {
		accounts = []model.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

// HTTP: GET /api/v1/users/{username}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.Get(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// Update edits the caller's own profile.
//
// HTTP: PUT /api/v1/users/{username} (requires auth)
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	var upd model.ProfileUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	actorID, _ := auth.AccountIDFromContext(r.Context())
	account, err := h.accounts.UpdateProfile(r.Context(), actorID, chi.URLParam(r, "username"), upd)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// Repositories lists a user's repositories. Private ones are included
// only when the caller is that user.
//
// HTTP: GET /api/v1/users/{username}/repos
func (h *UserHandler) Repositories(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	actor, _ := auth.AccountFromContext(r.Context())
	repos, err := h.repos.ListByOwner(r.Context(), actor, chi.URLParam(r, "username"), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if repos == nil {
		repos = []model.Repository{}
	}
	writeJSON(w, http.StatusOK, repos)
}
