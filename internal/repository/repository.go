// Package repository declares the storage interfaces the service layer
// depends on. internal/repository/sqlite implements all of them on one *DB.
//
// "Store" is used instead of the usual "Repository" suffix because the
// domain already has a Repository type (a code repository).
package repository

import (
	"context"

	"github.com/sakif/codehost/internal/model"
)

const (
	DefaultListLimit = 30
	MaxListLimit     = 100
)

type ListOptions struct {
	Limit  int
	Offset int
}

// Normalize clamps Limit to [1, MaxListLimit] (default DefaultListLimit)
// and Offset to >= 0.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// AccountStore is the credential store.
type AccountStore interface {
	// CreateAccount checks username/email uniqueness and inserts in one
	// transaction. It fills ID and timestamps. Duplicates yield ErrConflict.
	CreateAccount(ctx context.Context, account *model.Account) error
	GetAccountByID(ctx context.Context, id string) (*model.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*model.Account, error)
	GetAccountByGitHubID(ctx context.Context, githubID int64) (*model.Account, error)
	// FindAccountByLogin matches either username or email.
	FindAccountByLogin(ctx context.Context, login string) (*model.Account, error)
	// RecordLogin re-reads the account inside a transaction, checks that
	// its digest is still the one the caller verified, and bumps updated_at.
	RecordLogin(ctx context.Context, id, verifiedDigest string) (*model.Account, error)
	UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate) (*model.Account, error)
	ListAccounts(ctx context.Context, query string, opts ListOptions) ([]model.Account, error)
}

// RepoStore persists code repositories and their star relations.
type RepoStore interface {
	CreateRepository(ctx context.Context, repo *model.Repository) error
	GetRepository(ctx context.Context, ownerUsername, name string) (*model.Repository, error)
	ListRepositoriesByOwner(ctx context.Context, ownerUsername string, includePrivate bool, opts ListOptions) ([]model.Repository, error)
	UpdateRepository(ctx context.Context, id string, update model.RepositoryUpdate) (*model.Repository, error)
	DeleteRepository(ctx context.Context, id string) error

	// Star and Unstar are idempotent and return the recomputed star count.
	Star(ctx context.Context, repositoryID, accountID string) (int, error)
	Unstar(ctx context.Context, repositoryID, accountID string) (int, error)
	IsStarred(ctx context.Context, repositoryID, accountID string) (bool, error)
}

// SequenceStore hands out per-repository numbers.
type SequenceStore interface {
	// NextNumber atomically increments and returns the counter for
	// (repositoryID, kind). Contention surfaces as ErrConflict.
	NextNumber(ctx context.Context, repositoryID string, kind model.SequenceKind) (int64, error)
}

type IssueStore interface {
	// CreateIssue reserves the next issue number and inserts the issue in
	// one transaction. A number collision yields ErrConflict and leaves
	// nothing behind; the caller retries.
	CreateIssue(ctx context.Context, issue *model.Issue) error
	GetIssue(ctx context.Context, repositoryID string, number int64) (*model.Issue, error)
	ListIssues(ctx context.Context, repositoryID string, filter model.IssueFilter) ([]model.Issue, error)
	UpdateIssue(ctx context.Context, id string, update model.IssueUpdate) (*model.Issue, error)
	AssignIssue(ctx context.Context, id string, assigneeID *string) (*model.Issue, error)
}

type PullRequestStore interface {
	// CreatePullRequest has the same reservation contract as CreateIssue,
	// on the independent pull request sequence.
	CreatePullRequest(ctx context.Context, pr *model.PullRequest) error
	GetPullRequest(ctx context.Context, repositoryID string, number int64) (*model.PullRequest, error)
	ListPullRequests(ctx context.Context, repositoryID string, filter model.PullRequestFilter) ([]model.PullRequest, error)
	UpdatePullRequest(ctx context.Context, id string, update model.PullRequestUpdate) (*model.PullRequest, error)
	// TransitionPullRequest moves a pull request from status `from` to
	// `to`. If the stored status is not `from` it returns ErrConflict.
	TransitionPullRequest(ctx context.Context, id string, from, to model.PullRequestStatus, mergeMessage *string) (*model.PullRequest, error)
}
