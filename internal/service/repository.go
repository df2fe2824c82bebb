package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/sakif/codehost/internal/apperror"
	"github.com/sakif/codehost/internal/authz"
	"github.com/sakif/codehost/internal/model"
	"github.com/sakif/codehost/internal/repository"
	"github.com/sakif/codehost/internal/sanitize"
)

type RepositoryService struct {
	repos     repository.RepoStore
	sanitizer *sanitize.Sanitizer
	logger    *slog.Logger
	settings
}

func NewRepositoryService(repos repository.RepoStore, sanitizer *sanitize.Sanitizer, logger *slog.Logger, opts ...Option) *RepositoryService {
	return &RepositoryService{
		repos:     repos,
		sanitizer: sanitizer,
		logger:    logger,
		settings:  newSettings(opts),
	}
}

type CreateRepositoryInput struct {
	Name          string
	Description   *string
	IsPrivate     bool
	DefaultBranch string
}

func (s *RepositoryService) Create(ctx context.Context, actorID string, in CreateRepositoryInput) (*model.Repository, error) {
	if actorID == "" {
		return nil, apperror.Unauthorized("authentication required")
	}

	in.Name = strings.TrimSpace(in.Name)
	in.Description = s.sanitizer.RichPtr(in.Description)
	if in.DefaultBranch == "" {
		in.DefaultBranch = model.DefaultBranch
	}

	if err := firstError(
		validateRepositoryName(in.Name),
		validateDescription(in.Description),
		validateBranch("defaultBranch", in.DefaultBranch),
	); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	repo := &model.Repository{
		OwnerID:       actorID,
		Name:          in.Name,
		Description:   in.Description,
		IsPrivate:     in.IsPrivate,
		DefaultBranch: in.DefaultBranch,
	}
	if err := s.repos.CreateRepository(ctx, repo); err != nil {
		return nil, internalError(ctx, "failed to create repository", err)
	}

	s.logger.Info("repository created",
		slog.String("repositoryID", repo.ID),
		slog.String("fullName", repo.FullName()),
	)
	return repo, nil
}

// Get returns the repository if actorID may see it. Private repositories
// are reported as not found to everyone but their owner.
func (s *RepositoryService) Get(ctx context.Context, actorID, owner, name string) (*model.Repository, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.visible(ctx, actorID, owner, name)
}

func (s *RepositoryService) visible(ctx context.Context, actorID, owner, name string) (*model.Repository, error) {
	return visibleRepository(ctx, s.repos, actorID, owner, name)
}

// visibleRepository loads owner/name and hides it from non-owners when it
// is private. Issue and pull request operations resolve their repository
// through it too.
func visibleRepository(ctx context.Context, repos repository.RepoStore, actorID, owner, name string) (*model.Repository, error) {
	repo, err := repos.GetRepository(ctx, owner, name)
	if err != nil {
		return nil, internalError(ctx, "failed to load repository", err)
	}
	if repo.IsPrivate && repo.OwnerID != actorID {
		return nil, apperror.NotFound("repository", owner+"/"+name)
	}
	return repo, nil
}

// ListByOwner lists owner's repositories. Private ones are included only
// when actor is the owner; actor may be nil.
func (s *RepositoryService) ListByOwner(ctx context.Context, actor *model.Account, owner string, opts repository.ListOptions) ([]model.Repository, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	includePrivate := actor != nil && strings.EqualFold(actor.Username, owner)
	repos, err := s.repos.ListRepositoriesByOwner(ctx, owner, includePrivate, opts)
	if err != nil {
		return nil, internalError(ctx, "failed to list repositories", err)
	}
	return repos, nil
}

func (s *RepositoryService) Update(ctx context.Context, actorID, owner, name string, upd model.RepositoryUpdate) (*model.Repository, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	repo, err := s.visible(ctx, actorID, owner, name)
	if err != nil {
		return nil, err
	}
	if err := authz.Authorize(actorID, authz.Repository(repo), authz.ActionUpdate); err != nil {
		return nil, err
	}

	if upd.Name != nil {
		trimmed := strings.TrimSpace(*upd.Name)
		upd.Name = &trimmed
	}
	upd.Description = s.sanitizer.RichPtr(upd.Description)

	if err := firstError(
		optionalCheck(upd.Name, validateRepositoryName),
		validateDescription(upd.Description),
		optionalCheck(upd.DefaultBranch, func(b string) error { return validateBranch("defaultBranch", b) }),
	); err != nil {
		return nil, err
	}

	updated, err := s.repos.UpdateRepository(ctx, repo.ID, upd)
	if err != nil {
		return nil, internalError(ctx, "failed to update repository", err)
	}
	return updated, nil
}

func (s *RepositoryService) Delete(ctx context.Context, actorID, owner, name string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	repo, err := s.visible(ctx, actorID, owner, name)
	if err != nil {
		return err
	}
	if err := authz.Authorize(actorID, authz.Repository(repo), authz.ActionDelete); err != nil {
		return err
	}

	if err := s.repos.DeleteRepository(ctx, repo.ID); err != nil {
		return internalError(ctx, "failed to delete repository", err)
	}

	s.logger.Info("repository deleted",
		slog.String("repositoryID", repo.ID),
		slog.String("fullName", repo.FullName()),
	)
	return nil
}

// StarStatus is the response shape for the star endpoints.
type StarStatus struct {
	Starred   bool `json:"starred"`
	StarCount int  `json:"starCount"`
}

// Star and Unstar are idempotent.
func (s *RepositoryService) Star(ctx context.Context, actorID, owner, name string) (*StarStatus, error) {
	return s.toggleStar(ctx, actorID, owner, name, true)
}

func (s *RepositoryService) Unstar(ctx context.Context, actorID, owner, name string) (*StarStatus, error) {
	return s.toggleStar(ctx, actorID, owner, name, false)
}

func (s *RepositoryService) toggleStar(ctx context.Context, actorID, owner, name string, star bool) (*StarStatus, error) {
	if actorID == "" {
		return nil, apperror.Unauthorized("authentication required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	repo, err := s.visible(ctx, actorID, owner, name)
	if err != nil {
		return nil, err
	}

	change := s.repos.Unstar
	if star {
		change = s.repos.Star
	}
	count, err := change(ctx, repo.ID, actorID)
	if err != nil {
		return nil, internalError(ctx, "failed to update star", err)
	}
	return &StarStatus{Starred: star, StarCount: count}, nil
}

func (s *RepositoryService) StarStatus(ctx context.Context, actorID, owner, name string) (*StarStatus, error) {
	if actorID == "" {
		return nil, apperror.Unauthorized("authentication required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	repo, err := s.visible(ctx, actorID, owner, name)
	if err != nil {
		return nil, err
	}
	starred, err := s.repos.IsStarred(ctx, repo.ID, actorID)
	if err != nil {
		return nil, internalError(ctx, "failed to read star", err)
	}
	return &StarStatus{Starred: starred, StarCount: repo.StarCount}, nil
}

func validateDescription(description *string) error {
	return optionalString("description", description,
		validation.Length(0, MaxRepoDescription).Error(fmt.Sprintf("description must be %d characters or fewer", MaxRepoDescription)))
}

func optionalCheck(value *string, fn func(string) error) error {
	if value == nil {
		return nil
	}
	return fn(*value)
}
