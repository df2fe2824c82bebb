package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/codehost/internal/apperror"
	"github.com/sakif/codehost/internal/model"
	"github.com/sakif/codehost/internal/repository"
)

var _ repository.IssueStore = (*DB)(nil)

const issueSelect = `SELECT i.id, i.repository_id, i.number, i.title, i.body, i.status,
	i.author_id, u.username, i.assignee_id, i.created_at, i.updated_at, i.closed_at
	FROM issues i JOIN accounts u ON u.id = i.author_id`

func scanIssue(row rowScanner) (*model.Issue, error) {
	var (
		i      model.Issue
		status string
	)
	err := row.Scan(
		&i.ID,
		&i.RepositoryID,
		&i.Number,
		&i.Title,
		&i.Body,
		&status,
		&i.AuthorID,
		&i.AuthorUsername,
		&i.AssigneeID,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	i.Status = model.IssueStatus(status)
	return &i, nil
}

func getIssueByID(ctx context.Context, q querier, id string) (*model.Issue, error) {
	i, err := scanIssue(q.QueryRowContext(ctx, issueSelect+` WHERE i.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("issue", id)
		}
		return nil, fmt.Errorf("sqlite: getting issue %s: %w", id, err)
	}
	return i, nil
}

// CreateIssue reserves the next issue number and inserts the issue in one
// transaction, so a failed insert also gives the number back. On a number
// collision the counter is resynced and ErrConflict returned; the caller is
// expected to retry.
func (db *DB) CreateIssue(ctx context.Context, issue *model.Issue) error {
	now := time.Now().UTC()
	id := xid.New().String()
	if issue.Status == "" {
		issue.Status = model.IssueOpen
	}

	var number int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		number, err = reserveNumber(ctx, tx, issue.RepositoryID, model.SequenceIssue)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO issues (id, repository_id, number, title, body, status,
			     author_id, assignee_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id,
			issue.RepositoryID,
			number,
			issue.Title,
			nullable(issue.Body),
			string(issue.Status),
			issue.AuthorID,
			nullable(issue.AssigneeID),
			now,
			now,
		)
		if err != nil {
			return err
		}
		return tx.QueryRowContext(ctx,
			`SELECT username FROM accounts WHERE id = ?`, issue.AuthorID,
		).Scan(&issue.AuthorUsername)
	})
	if err != nil {
		return db.sequenceError(ctx, err, issue.RepositoryID, model.SequenceIssue, "creating issue")
	}

	issue.ID = id
	issue.Number = number
	issue.CreatedAt = now
	issue.UpdatedAt = now
	return nil
}

func (db *DB) GetIssue(ctx context.Context, repositoryID string, number int64) (*model.Issue, error) {
	i, err := scanIssue(db.conn.QueryRowContext(ctx,
		issueSelect+` WHERE i.repository_id = ? AND i.number = ?`, repositoryID, number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("issue", fmt.Sprintf("#%d", number))
		}
		return nil, fmt.Errorf("sqlite: getting issue #%d of %s: %w", number, repositoryID, err)
	}
	return i, nil
}

// ListIssues returns issues highest number first.
func (db *DB) ListIssues(ctx context.Context, repositoryID string, filter model.IssueFilter) ([]model.Issue, error) {
	opts := repository.ListOptions{Limit: filter.Limit, Offset: filter.Offset}.Normalize()

	rows, err := db.conn.QueryContext(ctx,
		issueSelect+` WHERE i.repository_id = ? AND (? = '' OR i.status = ?)
		 ORDER BY i.number DESC
		 LIMIT ? OFFSET ?`,
		repositoryID, string(filter.Status), string(filter.Status), opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing issues of %s: %w", repositoryID, err)
	}
	defer rows.Close()

	issues := make([]model.Issue, 0, opts.Limit)
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning issue row: %w", err)
		}
		issues = append(issues, *i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating issues: %w", err)
	}
	return issues, nil
}

// UpdateIssue applies the non-nil fields of update. Closing sets closed_at;
// reopening clears it.
func (db *DB) UpdateIssue(ctx context.Context, id string, update model.IssueUpdate) (*model.Issue, error) {
	var issue *model.Issue
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		i, err := getIssueByID(ctx, tx, id)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if update.Title != nil {
			i.Title = *update.Title
		}
		if update.Body != nil {
			if *update.Body == "" {
				i.Body = nil
			} else {
				b := *update.Body
				i.Body = &b
			}
		}
		if update.Status != nil && *update.Status != i.Status {
			i.Status = *update.Status
			if i.Status == model.IssueClosed {
				i.ClosedAt = &now
			} else {
				i.ClosedAt = nil
			}
		}
		i.UpdatedAt = now

		_, err = tx.ExecContext(ctx,
			`UPDATE issues SET title = ?, body = ?, status = ?, updated_at = ?, closed_at = ?
			 WHERE id = ?`,
			i.Title,
			nullable(i.Body),
			string(i.Status),
			i.UpdatedAt,
			nullable(i.ClosedAt),
			i.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating issue %s: %w", id, err)
		}
		issue = i
		return nil
	})
	if err != nil {
		return nil, err
	}
	return issue, nil
}

// AssignIssue sets or, with a nil assigneeID, clears the assignee.
func (db *DB) AssignIssue(ctx context.Context, id string, assigneeID *string) (*model.Issue, error) {
	var issue *model.Issue
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE issues SET assignee_id = ?, updated_at = ? WHERE id = ?`,
			nullable(assigneeID), time.Now().UTC(), id,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperror.NotFound("issue", id)
		}
		issue, err = getIssueByID(ctx, tx, id)
		return err
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, apperror.NotFound("account", *assigneeID)
		}
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, fmt.Errorf("sqlite: assigning issue %s: %w", id, err)
	}
	return issue, nil
}
