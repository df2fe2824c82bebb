package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sakif/codehost/internal/apperror"
	"github.com/sakif/codehost/internal/auth"
	"github.com/sakif/codehost/internal/model"
	"github.com/sakif/codehost/internal/repository"
	"github.com/sakif/codehost/internal/sanitize"
)

// =========================================================================
// FAKE STORE
// =========================================================================

// fakeStore is an in-memory implementation of every store interface in
// internal/repository. It returns copies so callers cannot reach into its
// maps, and it reports errors with the same apperror kinds as the SQLite
// store. The *Err fields and conflict counters inject failures.
type fakeStore struct {
	mu sync.Mutex

	accounts map[string]*model.Account
	repos    map[string]*model.Repository
	stars    map[string]map[string]bool
	counters map[string]int64
	issues   map[string]*model.Issue
	prs      map[string]*model.PullRequest
	nextID   int

	createAccountErr  error
	getAccountErr     error
	findLoginErr      error
	recordLoginErr    error
	nextNumberErrs    []error
	issueConflicts    int
	pullConflicts     int
	createIssueCalls  int
	createPullCalls   int
	changeDigestOnHit string
}

var (
	_ repository.AccountStore     = (*fakeStore)(nil)
	_ repository.RepoStore        = (*fakeStore)(nil)
	_ repository.SequenceStore    = (*fakeStore)(nil)
	_ repository.IssueStore       = (*fakeStore)(nil)
	_ repository.PullRequestStore = (*fakeStore)(nil)
)

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts: make(map[string]*model.Account),
		repos:    make(map[string]*model.Repository),
		stars:    make(map[string]map[string]bool),
		counters: make(map[string]int64),
		issues:   make(map[string]*model.Issue),
		prs:      make(map[string]*model.PullRequest),
	}
}

func (f *fakeStore) newID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

// --- accounts ------------------------------------------------------------

func (f *fakeStore) CreateAccount(_ context.Context, account *model.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createAccountErr != nil {
		return f.createAccountErr
	}
	for _, a := range f.accounts {
		if strings.EqualFold(a.Username, account.Username) || strings.EqualFold(a.Email, account.Email) {
			return apperror.Conflict("username or email already exists")
		}
		if account.GitHubID != nil && a.GitHubID != nil && *a.GitHubID == *account.GitHubID {
			return apperror.Conflict("GitHub account is already linked")
		}
	}

	now := time.Now().UTC()
	account.ID = f.newID("user")
	account.CreatedAt = now
	account.UpdatedAt = now
	stored := *account
	f.accounts[account.ID] = &stored
	return nil
}

func (f *fakeStore) GetAccountByID(_ context.Context, id string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.getAccountErr != nil {
		return nil, f.getAccountErr
	}
	a, ok := f.accounts[id]
	if !ok {
		return nil, apperror.NotFound("account", id)
	}
	copied := *a
	return &copied, nil
}

func (f *fakeStore) GetAccountByUsername(_ context.Context, username string) (*model.Account, error) {
	return f.findAccount("username", username, func(a *model.Account) bool {
		return strings.EqualFold(a.Username, username)
	})
}

func (f *fakeStore) GetAccountByGitHubID(_ context.Context, githubID int64) (*model.Account, error) {
	return f.findAccount("github id", fmt.Sprint(githubID), func(a *model.Account) bool {
		return a.GitHubID != nil && *a.GitHubID == githubID
	})
}

func (f *fakeStore) FindAccountByLogin(_ context.Context, login string) (*model.Account, error) {
	if f.findLoginErr != nil {
		return nil, f.findLoginErr
	}
	return f.findAccount("account", login, func(a *model.Account) bool {
		return strings.EqualFold(a.Username, login) || strings.EqualFold(a.Email, login)
	})
}

func (f *fakeStore) findAccount(what, key string, match func(*model.Account) bool) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, a := range f.accounts {
		if match(a) {
			copied := *a
			return &copied, nil
		}
	}
	return nil, apperror.NotFound(what, key)
}

func (f *fakeStore) RecordLogin(_ context.Context, id, verifiedDigest string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.recordLoginErr != nil {
		return nil, f.recordLoginErr
	}
	a, ok := f.accounts[id]
	if !ok {
		return nil, apperror.NotFound("account", id)
	}
	// Simulates a password change landing between verify and record.
	if f.changeDigestOnHit != "" {
		a.PasswordHash = f.changeDigestOnHit
	}
	if a.PasswordHash != verifiedDigest {
		return nil, apperror.InvalidCredentials()
	}
	a.UpdatedAt = time.Now().UTC()
	copied := *a
	return &copied, nil
}

func (f *fakeStore) UpdateProfile(_ context.Context, id string, upd model.ProfileUpdate) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, ok := f.accounts[id]
	if !ok {
		return nil, apperror.NotFound("account", id)
	}
	apply := func(dst **string, src *string) {
		switch {
		case src == nil:
		case *src == "":
			*dst = nil
		default:
			v := *src
			*dst = &v
		}
	}
	apply(&a.FullName, upd.FullName)
	apply(&a.Bio, upd.Bio)
	apply(&a.AvatarURL, upd.AvatarURL)
	apply(&a.WebsiteURL, upd.WebsiteURL)
	apply(&a.Location, upd.Location)
	apply(&a.Company, upd.Company)
	a.UpdatedAt = time.Now().UTC()
	copied := *a
	return &copied, nil
}

func (f *fakeStore) ListAccounts(_ context.Context, query string, opts repository.ListOptions) ([]model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	q := strings.ToLower(query)
	var out []model.Account
	for _, a := range f.accounts {
		name := ""
		if a.FullName != nil {
			name = *a.FullName
		}
		if q == "" || strings.Contains(strings.ToLower(a.Username), q) || strings.Contains(strings.ToLower(name), q) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return page(out, opts), nil
}

// --- repositories --------------------------------------------------------

func (f *fakeStore) CreateRepository(_ context.Context, repo *model.Repository) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	owner, ok := f.accounts[repo.OwnerID]
	if !ok {
		return apperror.NotFound("account", repo.OwnerID)
	}
	for _, r := range f.repos {
		if r.OwnerID == repo.OwnerID && strings.EqualFold(r.Name, repo.Name) {
			return apperror.Conflict(fmt.Sprintf("repository %q already exists", repo.Name))
		}
	}

	now := time.Now().UTC()
	repo.ID = f.newID("repo")
	repo.OwnerUsername = owner.Username
	repo.CreatedAt = now
	repo.UpdatedAt = now
	if repo.DefaultBranch == "" {
		repo.DefaultBranch = model.DefaultBranch
	}
	stored := *repo
	f.repos[repo.ID] = &stored
	return nil
}

func (f *fakeStore) GetRepository(_ context.Context, ownerUsername, name string) (*model.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range f.repos {
		if strings.EqualFold(r.OwnerUsername, ownerUsername) && strings.EqualFold(r.Name, name) {
			copied := *r
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("repository", ownerUsername+"/"+name)
}

func (f *fakeStore) ListRepositoriesByOwner(_ context.Context, ownerUsername string, includePrivate bool, opts repository.ListOptions) ([]model.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.Repository
	for _, r := range f.repos {
		if strings.EqualFold(r.OwnerUsername, ownerUsername) && (includePrivate || !r.IsPrivate) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return page(out, opts), nil
}

func (f *fakeStore) UpdateRepository(_ context.Context, id string, upd model.RepositoryUpdate) (*model.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.repos[id]
	if !ok {
		return nil, apperror.NotFound("repository", id)
	}
	if upd.Name != nil {
		for _, other := range f.repos {
			if other.ID != id && other.OwnerID == r.OwnerID && strings.EqualFold(other.Name, *upd.Name) {
				return nil, apperror.Conflict(fmt.Sprintf("repository %q already exists", *upd.Name))
			}
		}
		r.Name = *upd.Name
	}
	if upd.Description != nil {
		r.Description = upd.Description
	}
	if upd.IsPrivate != nil {
		r.IsPrivate = *upd.IsPrivate
	}
	if upd.IsArchived != nil {
		r.IsArchived = *upd.IsArchived
	}
	if upd.DefaultBranch != nil {
		r.DefaultBranch = *upd.DefaultBranch
	}
	r.UpdatedAt = time.Now().UTC()
	copied := *r
	return &copied, nil
}

func (f *fakeStore) DeleteRepository(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.repos[id]; !ok {
		return apperror.NotFound("repository", id)
	}
	delete(f.repos, id)
	delete(f.stars, id)
	return nil
}

func (f *fakeStore) Star(_ context.Context, repositoryID, accountID string) (int, error) {
	return f.setStar(repositoryID, accountID, true)
}

func (f *fakeStore) Unstar(_ context.Context, repositoryID, accountID string) (int, error) {
	return f.setStar(repositoryID, accountID, false)
}

func (f *fakeStore) setStar(repositoryID, accountID string, on bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.repos[repositoryID]
	if !ok {
		return 0, apperror.NotFound("repository", repositoryID)
	}
	if f.stars[repositoryID] == nil {
		f.stars[repositoryID] = make(map[string]bool)
	}
	if on {
		f.stars[repositoryID][accountID] = true
	} else {
		delete(f.stars[repositoryID], accountID)
	}
	r.StarCount = len(f.stars[repositoryID])
	return r.StarCount, nil
}

func (f *fakeStore) IsStarred(_ context.Context, repositoryID, accountID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stars[repositoryID][accountID], nil
}

// --- sequences -----------------------------------------------------------

func (f *fakeStore) NextNumber(_ context.Context, repositoryID string, kind model.SequenceKind) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.nextNumberErrs) > 0 {
		err := f.nextNumberErrs[0]
		f.nextNumberErrs = f.nextNumberErrs[1:]
		return 0, err
	}
	return f.bump(repositoryID, kind), nil
}

func (f *fakeStore) bump(repositoryID string, kind model.SequenceKind) int64 {
	key := repositoryID + "/" + string(kind)
	f.counters[key]++
	return f.counters[key]
}

// --- issues --------------------------------------------------------------

func (f *fakeStore) CreateIssue(_ context.Context, issue *model.Issue) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createIssueCalls++
	if f.issueConflicts > 0 {
		f.issueConflicts--
		return apperror.Conflict("issue number collided")
	}
	author, ok := f.accounts[issue.AuthorID]
	if !ok {
		return apperror.NotFound("account", issue.AuthorID)
	}

	now := time.Now().UTC()
	issue.ID = f.newID("issue")
	issue.Number = f.bump(issue.RepositoryID, model.SequenceIssue)
	issue.Status = model.IssueOpen
	issue.AuthorUsername = author.Username
	issue.CreatedAt = now
	issue.UpdatedAt = now
	stored := *issue
	f.issues[issue.ID] = &stored
	return nil
}

func (f *fakeStore) GetIssue(_ context.Context, repositoryID string, number int64) (*model.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, i := range f.issues {
		if i.RepositoryID == repositoryID && i.Number == number {
			copied := *i
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("issue", fmt.Sprintf("#%d", number))
}

func (f *fakeStore) ListIssues(_ context.Context, repositoryID string, filter model.IssueFilter) ([]model.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.Issue
	for _, i := range f.issues {
		if i.RepositoryID == repositoryID && (filter.Status == "" || i.Status == filter.Status) {
			out = append(out, *i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Number > out[b].Number })
	return page(out, repository.ListOptions{Limit: filter.Limit, Offset: filter.Offset}), nil
}

func (f *fakeStore) UpdateIssue(_ context.Context, id string, upd model.IssueUpdate) (*model.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i, ok := f.issues[id]
	if !ok {
		return nil, apperror.NotFound("issue", id)
	}
	now := time.Now().UTC()
	if upd.Title != nil {
		i.Title = *upd.Title
	}
	if upd.Body != nil {
		i.Body = upd.Body
	}
	if upd.Status != nil {
		i.Status = *upd.Status
		if i.Status == model.IssueClosed {
			i.ClosedAt = &now
		} else {
			i.ClosedAt = nil
		}
	}
	i.UpdatedAt = now
	copied := *i
	return &copied, nil
}

func (f *fakeStore) AssignIssue(_ context.Context, id string, assigneeID *string) (*model.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i, ok := f.issues[id]
	if !ok {
		return nil, apperror.NotFound("issue", id)
	}
	if assigneeID != nil {
		if _, ok := f.accounts[*assigneeID]; !ok {
			return nil, apperror.NotFound("account", *assigneeID)
		}
	}
	i.AssigneeID = assigneeID
	i.UpdatedAt = time.Now().UTC()
	copied := *i
	return &copied, nil
}

// --- pull requests -------------------------------------------------------

func (f *fakeStore) CreatePullRequest(_ context.Context, pr *model.PullRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createPullCalls++
	if f.pullConflicts > 0 {
		f.pullConflicts--
		return apperror.Conflict("pull request number collided")
	}
	author, ok := f.accounts[pr.AuthorID]
	if !ok {
		return apperror.NotFound("account", pr.AuthorID)
	}

	now := time.Now().UTC()
	pr.ID = f.newID("pr")
	pr.Number = f.bump(pr.RepositoryID, model.SequencePullRequest)
	pr.Status = model.PullRequestOpen
	pr.AuthorUsername = author.Username
	pr.CreatedAt = now
	pr.UpdatedAt = now
	stored := *pr
	f.prs[pr.ID] = &stored
	return nil
}

func (f *fakeStore) GetPullRequest(_ context.Context, repositoryID string, number int64) (*model.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range f.prs {
		if p.RepositoryID == repositoryID && p.Number == number {
			copied := *p
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("pull request", fmt.Sprintf("#%d", number))
}

func (f *fakeStore) ListPullRequests(_ context.Context, repositoryID string, filter model.PullRequestFilter) ([]model.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.PullRequest
	for _, p := range f.prs {
		if p.RepositoryID == repositoryID && (filter.Status == "" || p.Status == filter.Status) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Number > out[b].Number })
	return page(out, repository.ListOptions{Limit: filter.Limit, Offset: filter.Offset}), nil
}

func (f *fakeStore) UpdatePullRequest(_ context.Context, id string, upd model.PullRequestUpdate) (*model.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.prs[id]
	if !ok {
		return nil, apperror.NotFound("pull request", id)
	}
	if upd.Title != nil {
		p.Title = *upd.Title
	}
	if upd.Body != nil {
		p.Body = upd.Body
	}
	p.UpdatedAt = time.Now().UTC()
	copied := *p
	return &copied, nil
}

func (f *fakeStore) TransitionPullRequest(_ context.Context, id string, from, to model.PullRequestStatus, mergeMessage *string) (*model.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.prs[id]
	if !ok {
		return nil, apperror.NotFound("pull request", id)
	}
	if p.Status != from {
		return nil, apperror.Conflict(fmt.Sprintf("pull request #%d is %s", p.Number, p.Status))
	}
	now := time.Now().UTC()
	p.Status = to
	p.UpdatedAt = now
	switch to {
	case model.PullRequestMerged:
		p.IsMerged = true
		p.MergedAt = &now
		p.ClosedAt = &now
		p.MergeMessage = mergeMessage
	case model.PullRequestClosed:
		p.ClosedAt = &now
	case model.PullRequestOpen:
		p.ClosedAt = nil
	}
	copied := *p
	return &copied, nil
}

func page[T any](items []T, opts repository.ListOptions) []T {
	opts = opts.Normalize()
	if opts.Offset >= len(items) {
		return []T{}
	}
	end := opts.Offset + opts.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[opts.Offset:end]
}

// =========================================================================
// RECORDER AND WIRING HELPERS
// =========================================================================

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []string
	retries  map[model.SequenceKind]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{retries: make(map[model.SequenceKind]int)}
}

func (r *fakeRecorder) AuthOutcome(operation, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, operation+":"+outcome)
}

func (r *fakeRecorder) SequenceRetry(kind model.SequenceKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries[kind]++
}

func (r *fakeRecorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outcomes) == 0 {
		return ""
	}
	return r.outcomes[len(r.outcomes)-1]
}

const testSecret = "test-secret-at-least-16-chars!!"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestTokens(t *testing.T) *auth.TokenService {
	t.Helper()
	ts, err := auth.NewTokenService(testSecret)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// newTestIdentity wires an IdentityService over store. bcrypt cost 4 is
// the minimum and keeps the tests fast.
func newTestIdentity(t *testing.T, store *fakeStore, opts ...Option) *IdentityService {
	t.Helper()
	return NewIdentityService(
		store,
		newTestTokens(t),
		auth.NewPasswordServiceForTest(4),
		sanitize.New(),
		testLogger(),
		opts...,
	)
}

func newTestAllocator(store *fakeStore, opts ...Option) *SequenceAllocator {
	return NewSequenceAllocator(store, DefaultSequenceAttempts, testLogger(), opts...)
}

// seedAccount inserts an account directly into the store.
func seedAccount(t *testing.T, store *fakeStore, username string) *model.Account {
	t.Helper()
	a := &model.Account{Username: username, Email: username + "@example.com"}
	if err := store.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("seeding account %s: %v", username, err)
	}
	return a
}

func seedRepository(t *testing.T, store *fakeStore, owner *model.Account, name string, private bool) *model.Repository {
	t.Helper()
	r := &model.Repository{OwnerID: owner.ID, Name: name, IsPrivate: private}
	if err := store.CreateRepository(context.Background(), r); err != nil {
		t.Fatalf("seeding repository %s: %v", name, err)
	}
	return r
}

func strPtr(s string) *string { return &s }
