package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sakif/codehost/internal/apperror"
	"github.com/sakif/codehost/internal/model"
)

type contextKey string

const accountKey contextKey = "account"

// TokenValidator turns a bearer token into the account it belongs to.
// service.IdentityService implements it; the account is re-fetched on
// every call, so deleted accounts are rejected even with a live token.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*model.Account, error)
}

// RequireAuth rejects requests without a valid "Authorization: Bearer" token
// with 401 and stores the authenticated account in the request context.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := BearerToken(r)
			if !ok {
				writeUnauthorized(w)
				return
			}

			account, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				if errors.Is(err, apperror.ErrInternal) {
					logger.Error("auth: validating token", slog.String("error", err.Error()))
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"error":"internal_error","message":"An internal error occurred"}`))
					return
				}
				writeUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
		})
	}
}

// OptionalAuth attaches the account when a valid token is present and
// otherwise lets the request through anonymously.
func OptionalAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token, ok := BearerToken(r); ok {
				if account, err := validator.ValidateToken(r.Context(), token); err == nil {
					r = r.WithContext(WithAccount(r.Context(), account))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
// The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func WithAccount(ctx context.Context, account *model.Account) context.Context {
	return context.WithValue(ctx, accountKey, account)
}

func AccountFromContext(ctx context.Context) (*model.Account, bool) {
	account, ok := ctx.Value(accountKey).(*model.Account)
	return account, ok && account != nil
}

// AccountIDFromContext returns "" and false for anonymous requests.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	account, ok := AccountFromContext(ctx)
	if !ok {
		return "", false
	}
	return account.ID, account.ID != ""
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="codehost"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}`))
}
