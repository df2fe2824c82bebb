package model

import "time"

type IssueStatus string

const (
	IssueOpen   IssueStatus = "OPEN"
	IssueClosed IssueStatus = "CLOSED"
)

func (s IssueStatus) Valid() bool {
	return s == IssueOpen || s == IssueClosed
}

// Issue belongs to one repository. Number is unique within the repository's
// issue sequence.
type Issue struct {
	ID             string      `json:"id"`
	RepositoryID   string      `json:"repositoryId"`
	Number         int64       `json:"number"`
	Title          string      `json:"title"`
	Body           *string     `json:"body,omitempty"`
	Status         IssueStatus `json:"status"`
	AuthorID       string      `json:"authorId"`
	AuthorUsername string      `json:"author"`
	AssigneeID     *string     `json:"assigneeId,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
	ClosedAt       *time.Time  `json:"closedAt,omitempty"`
}

// IssueUpdate holds the editable issue fields. Nil means unchanged.
type IssueUpdate struct {
	Title  *string      `json:"title"`
	Body   *string      `json:"body"`
	Status *IssueStatus `json:"status"`
}

// IssueFilter selects issues by status. An empty Status means all.
type IssueFilter struct {
	Status IssueStatus
	Limit  int
	Offset int
}
