package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/sakif/codehost/internal/authz"
	"github.com/sakif/codehost/internal/model"
	"github.com/sakif/codehost/internal/repository"
	"github.com/sakif/codehost/internal/sanitize"
)

// AccountService serves public profiles and self-service profile edits.
type AccountService struct {
	accounts  repository.AccountStore
	sanitizer *sanitize.Sanitizer
	logger    *slog.Logger
	settings
}

func NewAccountService(accounts repository.AccountStore, sanitizer *sanitize.Sanitizer, logger *slog.Logger, opts ...Option) *AccountService {
	return &AccountService{
		accounts:  accounts,
		sanitizer: sanitizer,
		logger:    logger,
		settings:  newSettings(opts),
	}
}

func (s *AccountService) Get(ctx context.Context, username string) (*model.Account, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	account, err := s.accounts.GetAccountByUsername(ctx, username)
	if err != nil {
		return nil, internalError(ctx, "failed to load user", err)
	}
	return account, nil
}

// List returns accounts whose username or full name contains query. An
// empty query lists everyone.
func (s *AccountService) List(ctx context.Context, query string, opts repository.ListOptions) ([]model.Account, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	accounts, err := s.accounts.ListAccounts(ctx, strings.TrimSpace(query), opts)
	if err != nil {
		return nil, internalError(ctx, "failed to list users", err)
	}
	return accounts, nil
}

// UpdateProfile edits username's profile on behalf of actorID. Nil fields
// are left alone; empty strings clear them.
func (s *AccountService) UpdateProfile(ctx context.Context, actorID, username string, upd model.ProfileUpdate) (*model.Account, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	target, err := s.accounts.GetAccountByUsername(ctx, username)
	if err != nil {
		return nil, internalError(ctx, "failed to load user", err)
	}
	if err := authz.Authorize(actorID, authz.Profile(target), authz.ActionUpdate); err != nil {
		return nil, err
	}

	upd.FullName = s.sanitizer.TextPtr(upd.FullName)
	upd.Bio = s.sanitizer.RichPtr(upd.Bio)
	upd.Location = s.sanitizer.TextPtr(upd.Location)
	upd.Company = s.sanitizer.TextPtr(upd.Company)
	upd.AvatarURL = trimPtr(upd.AvatarURL)
	upd.WebsiteURL = trimPtr(upd.WebsiteURL)

	if err := validateProfile(upd); err != nil {
		return nil, err
	}

	updated, err := s.accounts.UpdateProfile(ctx, target.ID, upd)
	if err != nil {
		return nil, internalError(ctx, "failed to update profile", err)
	}

	s.logger.Info("profile updated", slog.String("accountID", updated.ID))
	return updated, nil
}

func validateProfile(upd model.ProfileUpdate) error {
	return firstError(
		optionalString("fullName", upd.FullName,
			validation.Length(0, MaxFullNameLength).Error(fmt.Sprintf("full name must be %d characters or fewer", MaxFullNameLength))),
		optionalString("bio", upd.Bio,
			validation.Length(0, MaxBioLength).Error(fmt.Sprintf("bio must be %d characters or fewer", MaxBioLength))),
		optionalString("location", upd.Location,
			validation.Length(0, MaxLocationLength).Error(fmt.Sprintf("location must be %d characters or fewer", MaxLocationLength))),
		optionalString("company", upd.Company,
			validation.Length(0, MaxLocationLength).Error(fmt.Sprintf("company must be %d characters or fewer", MaxLocationLength))),
		// ozzo's is rules skip empty values, which is what lets "" clear a link.
		optionalString("avatarUrl", upd.AvatarURL, is.URL.Error("avatarUrl must be a valid URL")),
		optionalString("websiteUrl", upd.WebsiteURL, is.URL.Error("websiteUrl must be a valid URL")),
	)
}

func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	t := strings.TrimSpace(*p)
	return &t
}
