package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/codehost/internal/apperror"
	"github.com/sakif/codehost/internal/auth"
	"github.com/sakif/codehost/internal/model"
	"github.com/sakif/codehost/internal/repository"
	"github.com/sakif/codehost/internal/sanitize"
)

// IdentityService owns the credential lifecycle: registration, password
// login, session token validation and refresh, and GitHub sign-in.
//
//	AuthHandler (HTTP) → IdentityService → AccountStore (DB)
//	                                     ↘ TokenService (JWT), PasswordService (bcrypt)
type IdentityService struct {
	accounts  repository.AccountStore
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	sanitizer *sanitize.Sanitizer
	logger    *slog.Logger
	settings
}

func NewIdentityService(
	accounts repository.AccountStore,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	sanitizer *sanitize.Sanitizer,
	logger *slog.Logger,
	opts ...Option,
) *IdentityService {
	return &IdentityService{
		accounts:  accounts,
		tokens:    tokens,
		passwords: passwords,
		sanitizer: sanitizer,
		logger:    logger,
		settings:  newSettings(opts),
	}
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
	FullName *string
}

// AuthResult bundles the account and a freshly issued session token.
type AuthResult struct {
	Account *model.Account
	Token   string
}

// Register creates a password account and signs it in.
//
// Input is checked in this order: username, email and password present;
// password at least 8 characters; email contains "@"; then password at most
// 72 bytes, username format, email format. An account with the same
// username or email is a conflict. The uniqueness check is repeated inside
// the insert transaction, so two concurrent registrations cannot both win.
func (s *IdentityService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.FullName != nil {
		in.FullName = s.sanitizer.TextPtr(in.FullName)
		if *in.FullName == "" {
			in.FullName = nil
		}
	}

	if err := validateRegistration(in); err != nil {
		s.recorder.AuthOutcome("register", "invalid")
		return nil, err
	}

	for _, login := range []string{in.Username, in.Email} {
		_, err := s.accounts.FindAccountByLogin(ctx, login)
		if err == nil {
			s.recorder.AuthOutcome("register", "conflict")
			return nil, apperror.Conflict("username or email already exists")
		}
		if !errors.Is(err, apperror.ErrNotFound) {
			s.recorder.AuthOutcome("register", "error")
			return nil, internalError(ctx, "failed to create account", err)
		}
	}

	digest, err := s.passwords.Hash(in.Password)
	if err != nil {
		s.recorder.AuthOutcome("register", "error")
		return nil, internalError(ctx, "failed to create account", err)
	}

	account := &model.Account{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: digest,
		FullName:     in.FullName,
	}
	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			s.recorder.AuthOutcome("register", "conflict")
		} else {
			s.recorder.AuthOutcome("register", "error")
		}
		return nil, internalError(ctx, "failed to create account", err)
	}

	token, err := s.tokens.Issue(account)
	if err != nil {
		s.recorder.AuthOutcome("register", "error")
		return nil, internalError(ctx, "failed to issue token", err)
	}

	s.recorder.AuthOutcome("register", "success")
	s.logger.Info("account registered",
		slog.String("accountID", account.ID),
		slog.String("username", account.Username),
	)
	return &AuthResult{Account: account, Token: token}, nil
}

// Authenticate logs in with a username or email and a password.
//
// Unknown accounts and wrong passwords produce the same error and take
// roughly the same time. bcrypt runs outside any transaction; the store's
// RecordLogin then re-reads the row under the write lock and refuses the
// login if the digest changed in the meantime.
func (s *IdentityService) Authenticate(ctx context.Context, login, password string) (*AuthResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		s.recorder.AuthOutcome("login", "invalid")
		return nil, apperror.ValidationFailed("", "username/email and password are required")
	}

	account, err := s.accounts.FindAccountByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			_ = s.passwords.VerifyAgainstNothing(password)
			s.recorder.AuthOutcome("login", "invalid")
			return nil, apperror.InvalidCredentials()
		}
		s.recorder.AuthOutcome("login", "error")
		return nil, internalError(ctx, "authentication failed", err)
	}

	if err := s.passwords.Verify(account.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Warn("stored password digest is unreadable",
				slog.String("accountID", account.ID),
				slog.String("error", err.Error()),
			)
		}
		s.recorder.AuthOutcome("login", "invalid")
		return nil, apperror.InvalidCredentials()
	}

	account, err = s.accounts.RecordLogin(ctx, account.ID, account.PasswordHash)
	if err != nil {
		if errors.Is(err, apperror.ErrInvalidCredentials) || errors.Is(err, apperror.ErrNotFound) {
			s.recorder.AuthOutcome("login", "invalid")
			return nil, apperror.InvalidCredentials()
		}
		s.recorder.AuthOutcome("login", "error")
		return nil, internalError(ctx, "authentication failed", err)
	}

	token, err := s.tokens.Issue(account)
	if err != nil {
		s.recorder.AuthOutcome("login", "error")
		return nil, internalError(ctx, "failed to issue token", err)
	}

	s.recorder.AuthOutcome("login", "success")
	s.logger.Info("account logged in", slog.String("accountID", account.ID))
	return &AuthResult{Account: account, Token: token}, nil
}

// ValidateToken verifies the token and re-fetches the account it names.
// The re-fetch is what makes deleted accounts lose access before their
// tokens expire.
func (s *IdentityService) ValidateToken(ctx context.Context, token string) (*model.Account, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetAccountByID(ctx, claims.AccountID())
	if err != nil {
		return nil, internalError(ctx, "failed to validate token", err)
	}
	return account, nil
}

// RefreshToken issues a new 24h token for an existing account.
func (s *IdentityService) RefreshToken(ctx context.Context, accountID string) (string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	account, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		s.recorder.AuthOutcome("refresh", "invalid")
		return "", internalError(ctx, "failed to refresh token", err)
	}

	token, err := s.tokens.Issue(account)
	if err != nil {
		s.recorder.AuthOutcome("refresh", "error")
		return "", internalError(ctx, "failed to issue token", err)
	}
	s.recorder.AuthOutcome("refresh", "success")
	return token, nil
}

// SignInWithGitHub links a GitHub identity to an account. A known GitHub id
// signs straight in. Otherwise a new password-less account is created with
// the GitHub login as username; if that username or email is taken by a
// local account the sign-in is a conflict.
func (s *IdentityService) SignInWithGitHub(ctx context.Context, ghUser *auth.GitHubUser) (*AuthResult, error) {
	if ghUser == nil {
		return nil, fmt.Errorf("service/identity: GitHub user must not be nil")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	account, err := s.accounts.GetAccountByGitHubID(ctx, ghUser.ID)
	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrNotFound):
		account, err = s.createGitHubAccount(ctx, ghUser)
		if err != nil {
			if errors.Is(err, apperror.ErrConflict) {
				s.recorder.AuthOutcome("github", "conflict")
			} else {
				s.recorder.AuthOutcome("github", "error")
			}
			return nil, err
		}
	default:
		s.recorder.AuthOutcome("github", "error")
		return nil, internalError(ctx, "GitHub sign-in failed", err)
	}

	token, err := s.tokens.Issue(account)
	if err != nil {
		s.recorder.AuthOutcome("github", "error")
		return nil, internalError(ctx, "failed to issue token", err)
	}

	s.recorder.AuthOutcome("github", "success")
	s.logger.Info("account signed in via GitHub",
		slog.String("accountID", account.ID),
		slog.String("login", ghUser.Login),
	)
	return &AuthResult{Account: account, Token: token}, nil
}

func (s *IdentityService) createGitHubAccount(ctx context.Context, ghUser *auth.GitHubUser) (*model.Account, error) {
	if !usernamePattern.MatchString(ghUser.Login) {
		return nil, apperror.ValidationFailed("username",
			fmt.Sprintf("GitHub login %q cannot be used as a username", ghUser.Login))
	}

	email := ghUser.Email
	if email == "" {
		// GitHub's own no-reply form, unique per GitHub account.
		email = fmt.Sprintf("%d+%s@users.noreply.github.com", ghUser.ID, ghUser.Login)
	}

	githubID := ghUser.ID
	account := &model.Account{
		Username:   ghUser.Login,
		Email:      email,
		GitHubID:   &githubID,
		IsVerified: ghUser.Email != "",
	}
	if name := s.sanitizer.Text(ghUser.Name); name != "" {
		account.FullName = &name
	}
	if ghUser.AvatarURL != "" {
		avatar := ghUser.AvatarURL
		account.AvatarURL = &avatar
	}

	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		return nil, internalError(ctx, "failed to create account", err)
	}
	return account, nil
}
