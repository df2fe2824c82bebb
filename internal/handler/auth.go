package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rs/xid"
	"github.com/sakif/codehost/internal/apperror"
	"github.com/sakif/codehost/internal/auth"
	"github.com/sakif/codehost/internal/model"
	"github.com/sakif/codehost/internal/service"
)

const stateCookie = "oauth_state"

// GitHubSignIn is the OAuth half of GitHub sign-in. *auth.GitHubProvider
// implements it.
type GitHubSignIn interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GitHubUser, error)
}

// AuthHandler serves registration, login and token endpoints.
//
// HANDLER RESPONSIBILITIES:
//   - Register / Login      → issue a bearer token for a new or existing account
//   - Me / Refresh          → read the account resolved by auth.RequireAuth
//   - GitHubLogin / Callback → OAuth sign-in, linking accounts by GitHub id
//
// Tokens are returned in the JSON body. Clients send them back in the
// Authorization header; there is no session cookie.
type AuthHandler struct {
	identity *service.IdentityService
	github   GitHubSignIn // nil when GitHub sign-in is not configured
	logger   *slog.Logger
}

func NewAuthHandler(identity *service.IdentityService, github GitHubSignIn, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{identity: identity, github: github, logger: logger}
}

// AuthResponse is returned by every endpoint that issues a token.
type AuthResponse struct {
	Token string         `json:"token"`
	User  *model.Account `json:"user"`
}

type registerRequest struct {
	Username string  `json:"username"`
	Email    string  `json:"email"`
	Password string  `json:"password"`
	FullName *string `json:"fullName"`
}

type loginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
	Password        string `json:"password"`
}

// Register creates an account.
//
// HTTP: POST /api/v1/auth/register → 201 {token, user}
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.identity.Register(r.Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, AuthResponse{Token: result.Token, User: result.Account})
}

// Login accepts either the username or the email in usernameOrEmail.
//
// HTTP: POST /api/v1/auth/login → 200 {token, user}
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.identity.Authenticate(r.Context(), req.UsernameOrEmail, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{Token: result.Token, User: result.Account})
}

// Logout is a no-op on the server. Tokens are stateless, so the client
// simply discards its copy.
//
// HTTP: POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// Me returns the account behind the bearer token.
//
// HTTP: GET /api/v1/auth/me (requires auth)
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		writeError(w, r, h.logger, apperror.Unauthorized("authentication required"))
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// Refresh issues a fresh token for the current account.
//
// HTTP: POST /api/v1/auth/refresh (requires auth)
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		writeError(w, r, h.logger, apperror.Unauthorized("authentication required"))
		return
	}

	token, err := h.identity.RefreshToken(r.Context(), account.ID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{Token: token, User: account})
}

// GitHubLogin redirects the browser to GitHub's authorization page.
//
// HTTP: GET /api/v1/auth/github/login
//
// The random state is stored in a short-lived HttpOnly cookie and compared
// with the state GitHub echoes back, so a callback that this server did not
// start is rejected.
func (h *AuthHandler) GitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// GitHubCallback completes the OAuth flow and answers like Login.
//
// HTTP: GET /api/v1/auth/github/callback?code=xxx&state=yyy
func (h *AuthHandler) GitHubCallback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || r.URL.Query().Get("state") != cookie.Value {
		h.logger.Warn("github callback: state mismatch")
		writeError(w, r, h.logger, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}

	// Single use.
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if denied := r.URL.Query().Get("error"); denied != "" {
		h.logger.Info("github callback: authorization denied", slog.String("error", denied))
		writeError(w, r, h.logger, apperror.Unauthorized("GitHub authorization was denied"))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, r, h.logger, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("github callback: exchange failed", slog.String("error", err.Error()))
		writeError(w, r, h.logger, apperror.Unauthorized("GitHub authentication failed"))
		return
	}

	result, err := h.identity.SignInWithGitHub(r.Context(), ghUser)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	h.logger.Info("github sign-in",
		slog.String("accountID", result.Account.ID),
		slog.String("username", result.Account.Username),
	)
	writeJSON(w, http.StatusOK, AuthResponse{Token: result.Token, User: result.Account})
}
