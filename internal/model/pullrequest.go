package model

import (
	"fmt"
	"time"
)

type PullRequestStatus string

const (
	PullRequestOpen   PullRequestStatus = "open"
	PullRequestClosed PullRequestStatus = "closed"
	PullRequestMerged PullRequestStatus = "merged"
)

func (s PullRequestStatus) Valid() bool {
	switch s {
	case PullRequestOpen, PullRequestClosed, PullRequestMerged:
		return true
	}
	return false
}

// PullRequest proposes merging HeadBranch into BaseBranch. Number is unique
// within the repository's pull request sequence, which is independent from
// the issue sequence.
type PullRequest struct {
	ID             string            `json:"id"`
	RepositoryID   string            `json:"repositoryId"`
	Number         int64             `json:"number"`
	Title          string            `json:"title"`
	Body           *string           `json:"body,omitempty"`
	Status         PullRequestStatus `json:"status"`
	AuthorID       string            `json:"authorId"`
	AuthorUsername string            `json:"author"`
	HeadBranch     string            `json:"headBranch"`
	BaseBranch     string            `json:"baseBranch"`
	IsMerged       bool              `json:"isMerged"`
	MergeMessage   *string           `json:"mergeMessage,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	ClosedAt       *time.Time        `json:"closedAt,omitempty"`
	MergedAt       *time.Time        `json:"mergedAt,omitempty"`
}

// DefaultMergeMessage is used when a merge request carries no message.
func (pr *PullRequest) DefaultMergeMessage() string {
	return fmt.Sprintf("Merge pull request #%d from %s", pr.Number, pr.HeadBranch)
}

// PullRequestUpdate holds the editable pull request fields. Nil means unchanged.
type PullRequestUpdate struct {
	Title *string `json:"title"`
	Body  *string `json:"body"`
}

// PullRequestFilter selects pull requests by status. An empty Status means all.
type PullRequestFilter struct {
	Status PullRequestStatus
	Limit  int
	Offset int
}
