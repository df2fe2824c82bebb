package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/codehost/internal/auth"
	"github.com/sakif/codehost/internal/handler"
	"github.com/sakif/codehost/internal/repository/sqlite"
	"github.com/sakif/codehost/internal/sanitize"
	"github.com/sakif/codehost/internal/service"
)

const testSecret = "handler-test-secret-0123456789"

// fakeGitHub stands in for *auth.GitHubProvider.
type fakeGitHub struct {
	user *auth.GitHubUser
	err  error
	code string
}

func (f *fakeGitHub) AuthURL(state string) string {
	return "https://github.example/login/oauth/authorize?state=" + state
}

func (f *fakeGitHub) Exchange(_ context.Context, code string) (*auth.GitHubUser, error) {
	f.code = code
	return f.user, f.err
}

type testAPI struct {
	db     *sqlite.DB
	github *fakeGitHub
	router http.Handler
}

// newTestAPI wires real services over an in-memory database and mounts the
// handlers the same way the server does.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	tokens, err := auth.NewTokenService(testSecret)
	require.NoError(t, err)
	san := sanitize.New()

	identity := service.NewIdentityService(db, tokens, auth.NewPasswordServiceForTest(4), san, logger)
	accounts := service.NewAccountService(db, san, logger)
	repos := service.NewRepositoryService(db, san, logger)
	allocator := service.NewSequenceAllocator(db, service.DefaultSequenceAttempts, logger)
	issues := service.NewIssueService(db, db, db, allocator, san, logger)
	prs := service.NewPullRequestService(db, db, allocator, san, logger)

	gh := &fakeGitHub{}
	authH := handler.NewAuthHandler(identity, gh, logger)
	userH := handler.NewUserHandler(accounts, repos, logger)
	repoH := handler.NewRepositoryHandler(repos, logger)
	issueH := handler.NewIssueHandler(issues, logger)
	prH := handler.NewPullRequestHandler(prs, logger)

	requireAuth := auth.RequireAuth(identity, logger)
	optionalAuth := auth.OptionalAuth(identity)

	r := chi.NewRouter()
	r.Get("/health", handler.Health(db, logger))
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", authH.Register)
		r.Post("/auth/login", authH.Login)
		r.Post("/auth/logout", authH.Logout)
		r.Get("/auth/github/login", authH.GitHubLogin)
		r.Get("/auth/github/callback", authH.GitHubCallback)
		r.With(requireAuth).Get("/auth/me", authH.Me)
		r.With(requireAuth).Post("/auth/refresh", authH.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(optionalAuth)
			r.Get("/users", userH.List)
			r.Get("/users/{username}", userH.Get)
			r.Get("/users/{username}/repos", userH.Repositories)
			r.Get("/repos/{owner}/{repo}", repoH.Get)
			r.Get("/repos/{owner}/{repo}/issues", issueH.List)
			r.Get("/repos/{owner}/{repo}/issues/{number}", issueH.Get)
			r.Get("/repos/{owner}/{repo}/pulls", prH.List)
			r.Get("/repos/{owner}/{repo}/pulls/{number}", prH.Get)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Put("/users/{username}", userH.Update)
			r.Post("/repos", repoH.Create)
			r.Put("/repos/{owner}/{repo}", repoH.Update)
			r.Delete("/repos/{owner}/{repo}", repoH.Delete)
			r.Get("/repos/{owner}/{repo}/star", repoH.StarStatus)
			r.Put("/repos/{owner}/{repo}/star", repoH.Star)
			r.Delete("/repos/{owner}/{repo}/star", repoH.Unstar)
			r.Post("/repos/{owner}/{repo}/issues", issueH.Create)
			r.Patch("/repos/{owner}/{repo}/issues/{number}", issueH.Update)
			r.Post("/repos/{owner}/{repo}/issues/{number}/assignees", issueH.Assign)
			r.Post("/repos/{owner}/{repo}/pulls", prH.Create)
			r.Patch("/repos/{owner}/{repo}/pulls/{number}", prH.Update)
			r.Put("/repos/{owner}/{repo}/pulls/{number}/merge", prH.Merge)
			r.Patch("/repos/{owner}/{repo}/pulls/{number}/close", prH.Close)
			r.Patch("/repos/{owner}/{repo}/pulls/{number}/reopen", prH.Reopen)
		})
	})

	return &testAPI{db: db, github: gh, router: r}
}

// do sends body (marshalled unless it is already a string) with an
// optional bearer token.
func (api *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	return rec
}

// register creates username with a fixed password and returns its token.
func (api *testAPI) register(t *testing.T, username string) string {
	t.Helper()
	rec := api.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "correct-horse",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp handler.AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func (api *testAPI) createRepo(t *testing.T, token, name string, private bool) {
	t.Helper()
	rec := api.do(t, http.MethodPost, "/api/v1/repos", token, map[string]any{
		"name":      name,
		"isPrivate": private,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, status int, errorType string) handler.ErrorResponse {
	t.Helper()
	assert.Equal(t, status, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	resp := decode[handler.ErrorResponse](t, rec)
	assert.Equal(t, errorType, resp.Error)
	return resp
}
