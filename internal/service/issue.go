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

type IssueService struct {
	repos     repository.RepoStore
	issues    repository.IssueStore
	accounts  repository.AccountStore
	allocator *SequenceAllocator
	sanitizer *sanitize.Sanitizer
	logger    *slog.Logger
	settings
}

func NewIssueService(
	repos repository.RepoStore,
	issues repository.IssueStore,
	accounts repository.AccountStore,
	allocator *SequenceAllocator,
	sanitizer *sanitize.Sanitizer,
	logger *slog.Logger,
	opts ...Option,
) *IssueService {
	return &IssueService{
		repos:     repos,
		issues:    issues,
		accounts:  accounts,
		allocator: allocator,
		sanitizer: sanitizer,
		logger:    logger,
		settings:  newSettings(opts),
	}
}

type CreateIssueInput struct {
	Title string
	Body  *string
}

// Create opens an issue with the repository's next issue number. The
// number is reserved and the row inserted in one transaction; collisions
// are retried by the allocator.
func (s *IssueService) Create(ctx context.Context, actorID, owner, name string, in CreateIssueInput) (*model.Issue, error) {
	if actorID == "" {
		return nil, apperror.Unauthorized("authentication required")
	}

	in.Title = s.sanitizer.Text(in.Title)
	in.Body = s.sanitizer.RichPtr(in.Body)
	if err := firstError(validateTitle(in.Title), validateBody(in.Body)); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	repo, err := visibleRepository(ctx, s.repos, actorID, owner, name)
	if err != nil {
		return nil, err
	}

	issue := &model.Issue{
		RepositoryID: repo.ID,
		Title:        in.Title,
		Body:         in.Body,
		AuthorID:     actorID,
	}
	err = s.allocator.Retry(ctx, model.SequenceIssue, func(ctx context.Context) error {
		return s.issues.CreateIssue(ctx, issue)
	})
	if err != nil {
		return nil, internalError(ctx, "failed to create issue", err)
	}

	s.logger.Info("issue created",
		slog.String("repository", repo.FullName()),
		slog.Int64("number", issue.Number),
	)
	return issue, nil
}

func (s *IssueService) Get(ctx context.Context, actorID, owner, name string, number int64) (*model.Issue, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, issue, err := s.load(ctx, actorID, owner, name, number)
	return issue, err
}

// List returns issues in state "open" (the default), "closed" or "all".
func (s *IssueService) List(ctx context.Context, actorID, owner, name, state string, opts repository.ListOptions) ([]model.Issue, error) {
	status, err := parseIssueState(state)
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
	issues, err := s.issues.ListIssues(ctx, repo.ID, model.IssueFilter{
		Status: status,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
	if err != nil {
		return nil, internalError(ctx, "failed to list issues", err)
	}
	return issues, nil
}

func (s *IssueService) Update(ctx context.Context, actorID, owner, name string, number int64, upd model.IssueUpdate) (*model.Issue, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	repo, issue, err := s.load(ctx, actorID, owner, name, number)
	if err != nil {
		return nil, err
	}
	if err := authz.Authorize(actorID, authz.Issue(repo, issue), authz.ActionUpdate); err != nil {
		return nil, err
	}

	upd.Title = s.sanitizer.TextPtr(upd.Title)
	upd.Body = s.sanitizer.RichPtr(upd.Body)
	if upd.Status != nil {
		status := model.IssueStatus(strings.ToUpper(string(*upd.Status)))
		if !status.Valid() {
			return nil, apperror.ValidationFailed("status", "status must be OPEN or CLOSED")
		}
		upd.Status = &status
	}
	if err := firstError(optionalCheck(upd.Title, validateTitle), validateBody(upd.Body)); err != nil {
		return nil, err
	}

	updated, err := s.issues.UpdateIssue(ctx, issue.ID, upd)
	if err != nil {
		return nil, internalError(ctx, "failed to update issue", err)
	}
	return updated, nil
}

// Assign sets the assignee by username. A nil or empty username clears it.
func (s *IssueService) Assign(ctx context.Context, actorID, owner, name string, number int64, assignee *string) (*model.Issue, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	repo, issue, err := s.load(ctx, actorID, owner, name, number)
	if err != nil {
		return nil, err
	}
	if err := authz.Authorize(actorID, authz.Issue(repo, issue), authz.ActionAssign); err != nil {
		return nil, err
	}

	var assigneeID *string
	if assignee != nil && strings.TrimSpace(*assignee) != "" {
		account, err := s.accounts.GetAccountByUsername(ctx, strings.TrimSpace(*assignee))
		if err != nil {
			return nil, internalError(ctx, "failed to assign issue", err)
		}
		assigneeID = &account.ID
	}

	updated, err := s.issues.AssignIssue(ctx, issue.ID, assigneeID)
	if err != nil {
		return nil, internalError(ctx, "failed to assign issue", err)
	}
	return updated, nil
}

func (s *IssueService) load(ctx context.Context, actorID, owner, name string, number int64) (*model.Repository, *model.Issue, error) {
	repo, err := visibleRepository(ctx, s.repos, actorID, owner, name)
	if err != nil {
		return nil, nil, err
	}
	issue, err := s.issues.GetIssue(ctx, repo.ID, number)
	if err != nil {
		return nil, nil, internalError(ctx, "failed to load issue", err)
	}
	return repo, issue, nil
}

func parseIssueState(state string) (model.IssueStatus, error) {
	switch strings.ToLower(state) {
	case "", "open":
		return model.IssueOpen, nil
	case "closed":
		return model.IssueClosed, nil
	case "all":
		return "", nil
	}
	return "", apperror.ValidationFailed("state", fmt.Sprintf("unknown state %q, want open, closed or all", state))
}
