package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/codehost/internal/apperror"
	"github.com/sakif/codehost/internal/model"
)

// newTestTokenService creates a TokenService with a fixed, known secret.
func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService("test-secret-at-least-16-chars!!")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

func testAccount(id, username string) *model.Account {
	return &model.Account{ID: id, Username: username, Email: username + "@example.com"}
}

// =========================================================================
// CONSTRUCTION TESTS
// =========================================================================

func TestNewTokenService_ShortSecret(t *testing.T) {
	_, err := NewTokenService("short")
	if err == nil {
		t.Fatal("NewTokenService() should reject secrets shorter than 16 chars")
	}
}

func TestNewTokenService_ValidSecret(t *testing.T) {
	_, err := NewTokenService("this-is-16-chars")
	if err != nil {
		t.Fatalf("NewTokenService() unexpected error for valid secret: %v", err)
	}
}

// =========================================================================
// ISSUE TESTS
// =========================================================================

func TestIssue_LooksLikeJWT(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Issue(testAccount("user_1", "alice"))
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if got := strings.Count(token, "."); got != 2 {
		t.Errorf("Issue() token has %d dots, want 2", got)
	}
}

func TestIssue_RequiresAccountID(t *testing.T) {
	ts := newTestTokenService(t)

	if _, err := ts.Issue(&model.Account{Username: "alice"}); err == nil {
		t.Fatal("Issue() should fail for an account without an id")
	}
	if _, err := ts.Issue(nil); err == nil {
		t.Fatal("Issue() should fail for a nil account")
	}
}

func TestIssue_ClaimsAndLifetime(t *testing.T) {
	ts := newTestTokenService(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ts.now = func() time.Time { return fixed }

	token, err := ts.Issue(testAccount("user_abc", "alice"))
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	c, err := ts.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if c.AccountID() != "user_abc" {
		t.Errorf("sub = %q, want %q", c.AccountID(), "user_abc")
	}
	if c.Username != "alice" || c.Email != "alice@example.com" {
		t.Errorf("claims = (%q, %q), want (alice, alice@example.com)", c.Username, c.Email)
	}
	if got := c.ExpiresAt.Sub(c.IssuedAt.Time); got != 24*time.Hour {
		t.Errorf("exp - iat = %v, want 24h", got)
	}
	if !c.IssuedAt.Equal(fixed) {
		t.Errorf("iat = %v, want %v", c.IssuedAt.Time, fixed)
	}
}

func TestIssue_DifferentAccountsGetDifferentTokens(t *testing.T) {
	ts := newTestTokenService(t)

	token1, _ := ts.Issue(testAccount("user_a", "alice"))
	token2, _ := ts.Issue(testAccount("user_b", "bob"))

	if token1 == token2 {
		t.Error("Issue() returned identical tokens for different accounts")
	}
}

// =========================================================================
// VERIFY TESTS
// =========================================================================

func TestVerify_ExpiredToken(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.IssueWithTTL(testAccount("user_1", "alice"), -time.Minute)
	if err != nil {
		t.Fatalf("IssueWithTTL() error = %v", err)
	}

	c, err := ts.Verify(token)
	if err == nil {
		t.Fatal("Verify() should return an error for an expired token")
	}
	if c != nil {
		t.Error("Verify() returned claims for an expired token")
	}
	if !errors.Is(err, apperror.ErrUnauthorized) {
		t.Errorf("Verify() error = %v, want ErrUnauthorized", err)
	}
	if err.Error() != "token expired" {
		t.Errorf("Verify() message = %q, want %q", err.Error(), "token expired")
	}
}

func TestVerify_ExpiresAfterTTL(t *testing.T) {
	ts := newTestTokenService(t)
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ts.now = func() time.Time { return issued }

	token, err := ts.Issue(testAccount("user_1", "alice"))
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	ts.now = func() time.Time { return issued.Add(23 * time.Hour) }
	if _, err := ts.Verify(token); err != nil {
		t.Fatalf("Verify() 23h after issue error = %v", err)
	}

	ts.now = func() time.Time { return issued.Add(24*time.Hour + time.Second) }
	if _, err := ts.Verify(token); err == nil {
		t.Fatal("Verify() should reject a token older than 24h")
	}
}

func TestVerify_Rejects(t *testing.T) {
	ts := newTestTokenService(t)
	good, _ := ts.Issue(testAccount("user_1", "alice"))

	other, _ := NewTokenService("wrong-secret-32-chars-long!!!!!!")
	foreign, _ := other.Issue(testAccount("user_1", "alice"))

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user_1",
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(ts.secret)
	if err != nil {
		t.Fatalf("signing HS512 token: %v", err)
	}

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(ts.secret)
	if err != nil {
		t.Fatalf("signing token without subject: %v", err)
	}

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user_1", Issuer: tokenIssuer},
	}).SignedString(ts.secret)
	if err != nil {
		t.Fatalf("signing token without exp: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty string", ""},
		{"garbage", "not.a.jwt.token"},
		{"tampered signature", good[:len(good)-3] + "xxx"},
		{"wrong secret", foreign},
		{"wrong algorithm", hs512},
		{"missing subject", noSubject},
		{"missing expiry", noExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ts.Verify(tt.token)
			if err == nil {
				t.Fatal("Verify() should fail")
			}
			if c != nil {
				t.Error("Verify() returned claims alongside an error")
			}
			if !errors.Is(err, apperror.ErrUnauthorized) {
				t.Errorf("Verify() error = %v, want ErrUnauthorized", err)
			}
		})
	}
}
