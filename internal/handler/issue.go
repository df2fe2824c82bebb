package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sakif/codehost/internal/model"
	"github.com/sakif/codehost/internal/service"
)

type IssueHandler struct {
	issues *service.IssueService
	logger *slog.Logger
}

func NewIssueHandler(issues *service.IssueService, logger *slog.Logger) *IssueHandler {
	return &IssueHandler{issues: issues, logger: logger}
}

type createIssueRequest struct {
	Title string  `json:"title"`
	Body  *string `json:"body"`
}

// assignRequest clears the assignee when Assignee is null or "".
type assignRequest struct {
	Assignee *string `json:"assignee"`
}

// List returns issues filtered by ?state=open|closed|all (default open).
//
// HTTP: GET /api/v1/repos/{owner}/{repo}/issues
func (h *IssueHandler) List(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	issues, err := h.issues.List(r.Context(), actorID(r),
		chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), r.URL.Query().Get("state"), opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if issues == nil {
		issues = []model.Issue{}
	}
	writeJSON(w, http.StatusOK, issues)
}

// HTTP: POST /api/v1/repos/{owner}/{repo}/issues (requires auth) → 201
func (h *IssueHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createIssueRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	issue, err := h.issues.Create(r.Context(), actorID(r), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"),
		service.CreateIssueInput{Title: req.Title, Body: req.Body})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, issue)
}

// HTTP: GET /api/v1/repos/{owner}/{repo}/issues/{number}
func (h *IssueHandler) Get(w http.ResponseWriter, r *http.Request) {
	number, err := pathNumber(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	issue, err := h.issues.Get(r.Context(), actorID(r), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), number)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// HTTP: PATCH /api/v1/repos/{owner}/{repo}/issues/{number} (requires auth)
func (h *IssueHandler) Update(w http.ResponseWriter, r *http.Request) {
	number, err := pathNumber(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var upd model.IssueUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	issue, err := h.issues.Update(r.Context(), actorID(r), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), number, upd)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// HTTP: POST /api/v1/repos/{owner}/{repo}/issues/{number}/assignees (requires auth)
func (h *IssueHandler) Assign(w http.ResponseWriter, r *http.Request) {
	number, err := pathNumber(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req assignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	issue, err := h.issues.Assign(r.Context(), actorID(r), chi.URLParam(r, "owner"), chi.URLParam(r, "repo"), number, req.Assignee)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}
