// Package auth holds the credential primitives: the session token codec,
// the password hasher, bearer-token middleware and the GitHub OAuth provider.
//
// SESSION TOKENS:
// Tokens are HS256 JWTs carrying {sub, username, email, iat, exp, iss}.
// They are never stored server-side, so the only way a token dies is expiry.
// Callers that need to know the account still exists must re-fetch it
// (see service.IdentityService.ValidateToken).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/codehost/internal/apperror"
	"github.com/sakif/codehost/internal/model"
)

const (
	// TokenTTL is the lifetime of every issued session token: exp = iat + 24h.
	TokenTTL = 24 * time.Hour

	tokenIssuer     = "codehost"
	minSecretLength = 16
)

// TokenService signs and verifies session tokens with one shared secret.
// Create it once at startup and share the pointer; it holds no mutable state.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

// NewTokenService rejects secrets shorter than 16 characters.
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("auth: JWT secret must be at least %d characters", minSecretLength)
	}
	return &TokenService{secret: []byte(secret), now: time.Now}, nil
}

// Claims is the token payload.
type Claims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// AccountID returns the subject claim.
func (c *Claims) AccountID() string {
	return c.Subject
}

// Issue returns a token for the account that expires after TokenTTL.
func (s *TokenService) Issue(account *model.Account) (string, error) {
	return s.IssueWithTTL(account, TokenTTL)
}

// IssueWithTTL is Issue with an explicit lifetime. A negative ttl yields an
// already expired token, which tests use to exercise the expiry path.
func (s *TokenService) IssueWithTTL(account *model.Account, ttl time.Duration) (string, error) {
	if account == nil || account.ID == "" {
		return "", fmt.Errorf("auth: cannot issue token without an account id")
	}

	now := s.now()
	c := Claims{
		Username: account.Username,
		Email:    account.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Verify checks signature, algorithm, issuer and expiry and returns the
// claims. It fails closed: any problem yields an apperror.ErrUnauthorized
// and no claims.
func (s *TokenService) Verify(tokenStr string) (*Claims, error) {
	if tokenStr == "" {
		return nil, apperror.Unauthorized("missing token")
	}

	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperror.Unauthorized("token expired")
		}
		return nil, apperror.Unauthorized("invalid token")
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperror.Unauthorized("invalid token")
	}
	if c.Subject == "" {
		return nil, apperror.Unauthorized("invalid token")
	}

	return c, nil
}
