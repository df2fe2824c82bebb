package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/codehost/internal/apperror"
	"github.com/sakif/codehost/internal/authz"
	"github.com/sakif/codehost/internal/model"
	"github.com/sakif/codehost/internal/repository"
	"github.com/sakif/codehost/internal/sanitize"
)

type PullRequestService struct {
	repos     repository.RepoStore
	prs       repository.PullRequestStore
	allocator *SequenceAllocator
	sanitizer *sanitize.Sanitizer
	logger    *slog.Logger
	settings
}

func NewPullRequestService(
	repos repository.RepoStore,
	prs repository.PullRequestStore,
	allocator *SequenceAllocator,
	sanitizer *sanitize.Sanitizer,
	logger *slog.Logger,
	opts ...Option,
) *PullRequestService {
	return &PullRequestService{
		repos:     repos,
		prs:       prs,
		allocator: allocator,
		sanitizer: sanitizer,
		logger:    logger,
		settings:  newSettings(opts),
	}
}

type CreatePullRequestInput struct {
	Title      string
	Body       *string
	HeadBranch string
	BaseBranch string
}

// Create opens a pull request. BaseBranch defaults to the repository's
// default branch and must differ from HeadBranch.
func (s *PullRequestService) Create(ctx context.Context, actorID, owner, name string, in CreatePullRequestInput) (*model.PullRequest, error) {
	if actorID == "" {
		return nil, apperror.Unauthorized("authentication required")
	}

	in.Title = s.sanitizer.Text(in.Title)
	in.Body = s.sanitizer.RichPtr(in.Body)
	in.HeadBranch = strings.TrimSpace(in.HeadBranch)
	in.BaseBranch = strings.TrimSpace(in.BaseBranch)
	if err := firstError(
		validateTitle(in.Title),
		validateBody(in.Body),
		validateBranch("headBranch", in.HeadBranch),
	); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	repo, err := visibleRepository(ctx, s.repos, actorID, owner, name)
	if err != nil {
		return nil, err
	}

	if in.BaseBranch == "" {
		in.BaseBranch = repo.DefaultBranch
	}
	if err := validateBranch("baseBranch", in.BaseBranch); err != nil {
		return nil, err
	}
	if in.HeadBranch == in.BaseBranch {
		return nil, apperror.ValidationFailed("headBranch", "head and base branches must differ")
	}

	pr := &model.PullRequest{
		RepositoryID: repo.ID,
		Title:        in.Title,
		Body:         in.Body,
		AuthorID:     actorID,
		HeadBranch:   in.HeadBranch,
		BaseBranch:   in.BaseBranch,
	}
	err = s.allocator.Retry(ctx, model.SequencePullRequest, func(ctx context.Context) error {
		return s.prs.CreatePullRequest(ctx, pr)
	})
	if err != nil {
		return nil, internalError(ctx, "failed to create pull request", err)
	}

	s.logger.Info("pull request created",
		slog.String("repository", repo.FullName()),
		slog.Int64("number", pr.Number),
	)
	return pr, nil
}

func (s *PullRequestService) Get(ctx context.Context, actorID, owner, name string, number int64) (*model.PullRequest, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, pr, err := s.load(ctx, actorID, owner, name, number)
	return pr, err
}

// List returns pull requests in state "open" (the default), "closed",
// "merged" or "all".
func (s *PullRequestService) List(ctx context.Context, actorID, owner, name, state string, opts repository.ListOptions) ([]model.PullRequest, error) {
	status, err := parsePullRequestState(state)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	repo, err := visibleRepository(ctx, s.repos, actorID, owner, name)
	if err != nil {
		return nil, err
	}

	opts = opts.Normalize()
	prs, err := s.prs.ListPullRequests(ctx, repo.ID, model.PullRequestFilter{
		Status: status,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
	if err != nil {
		return nil, internalError(ctx, "failed to list pull requests", err)
	}
	return prs, nil
}

func (s *PullRequestService) Update(ctx context.Context, actorID, owner, name string, number int64, upd model.PullRequestUpdate) (*model.PullRequest, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	repo, pr, err := s.load(ctx, actorID, owner, name, number)
	if err != nil {
		return nil, err
	}
	if err := authz.Authorize(actorID, authz.PullRequest(repo, pr), authz.ActionUpdate); err != nil {
		return nil, err
	}

	upd.Title = s.sanitizer.TextPtr(upd.Title)
	upd.Body = s.sanitizer.RichPtr(upd.Body)
	if err := firstError(optionalCheck(upd.Title, validateTitle), validateBody(upd.Body)); err != nil {
		return nil, err
	}

	updated, err := s.prs.UpdatePullRequest(ctx, pr.ID, upd)
	if err != nil {
		return nil, internalError(ctx, "failed to update pull request", err)
	}
	return updated, nil
}

// Merge is owner only and requires an open pull request. An empty message
// becomes "Merge pull request #N from <head>".
func (s *PullRequestService) Merge(ctx context.Context, actorID, owner, name string, number int64, message *string) (*model.PullRequest, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	repo, pr, err := s.load(ctx, actorID, owner, name, number)
	if err != nil {
		return nil, err
	}
	if err := authz.Authorize(actorID, authz.PullRequest(repo, pr), authz.ActionMerge); err != nil {
		return nil, err
	}

	msg := pr.DefaultMergeMessage()
	if message != nil {
		if m := s.sanitizer.Text(*message); m != "" {
			msg = m
		}
	}

	merged, err := s.prs.TransitionPullRequest(ctx, pr.ID, model.PullRequestOpen, model.PullRequestMerged, &msg)
	if err != nil {
		return nil, internalError(ctx, "failed to merge pull request", err)
	}

	s.logger.Info("pull request merged",
		slog.String("repository", repo.FullName()),
		slog.Int64("number", merged.Number),
		slog.String("by", actorID),
	)
	return merged, nil
}

// Close moves an open pull request to closed.
func (s *PullRequestService) Close(ctx context.Context, actorID, owner, name string, number int64) (*model.PullRequest, error) {
	return s.transition(ctx, actorID, owner, name, number, authz.ActionClose, model.PullRequestOpen, model.PullRequestClosed)
}

// Reopen moves a closed pull request back to open. Merged ones stay merged.
func (s *PullRequestService) Reopen(ctx context.Context, actorID, owner, name string, number int64) (*model.PullRequest, error) {
	return s.transition(ctx, actorID, owner, name, number, authz.ActionReopen, model.PullRequestClosed, model.PullRequestOpen)
}

func (s *PullRequestService) transition(
	ctx context.Context,
	actorID, owner, name string,
	number int64,
	action authz.Action,
	from, to model.PullRequestStatus,
) (*model.PullRequest, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	repo, pr, err := s.load(ctx, actorID, owner, name, number)
	if err != nil {
		return nil, err
	}
	if err := authz.Authorize(actorID, authz.PullRequest(repo, pr), action); err != nil {
		return nil, err
	}

	updated, err := s.prs.TransitionPullRequest(ctx, pr.ID, from, to, nil)
	if err != nil {
		return nil, internalError(ctx, fmt.Sprintf("failed to %s pull request", action), err)
	}
	return updated, nil
}

func (s *PullRequestService) load(ctx context.Context, actorID, owner, name string, number int64) (*model.Repository, *model.PullRequest, error) {
	repo, err := visibleRepository(ctx, s.repos, actorID, owner, name)
	if err != nil {
		return nil, nil, err
	}
	pr, err := s.prs.GetPullRequest(ctx, repo.ID, number)
	if err != nil {
		return nil, nil, internalError(ctx, "failed to load pull request", err)
	}
	return repo, pr, nil
}

func parsePullRequestState(state string) (model.PullRequestStatus, error) {
	switch s := model.PullRequestStatus(strings.ToLower(state)); {
	case s == "":
		return model.PullRequestOpen, nil
	case s == "all":
		return "", nil
	case s.Valid():
		return s, nil
	}
	return "", apperror.ValidationFailed("state", fmt.Sprintf("unknown state %q, want open, closed, merged or all", state))
}
