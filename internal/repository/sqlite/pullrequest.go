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

var _ repository.PullRequestStore = (*DB)(nil)

const pullRequestSelect = `SELECT p.id, p.repository_id, p.number, p.title, p.body, p.status,
	p.author_id, u.username, p.head_branch, p.base_branch, p.is_merged, p.merge_message,
	p.created_at, p.updated_at, p.closed_at, p.merged_at
	FROM pull_requests p JOIN accounts u ON u.id = p.author_id`

func scanPullRequest(row rowScanner) (*model.PullRequest, error) {
	var (
		pr     model.PullRequest
		status string
	)
	err := row.Scan(
		&pr.ID,
		&pr.RepositoryID,
		&pr.Number,
		&pr.Title,
		&pr.Body,
		&status,
		&pr.AuthorID,
		&pr.AuthorUsername,
		&pr.HeadBranch,
		&pr.BaseBranch,
		&pr.IsMerged,
		&pr.MergeMessage,
		&pr.CreatedAt,
		&pr.UpdatedAt,
		&pr.ClosedAt,
		&pr.MergedAt,
	)
	if err != nil {
		return nil, err
	}
	pr.Status = model.PullRequestStatus(status)
	return &pr, nil
}

func getPullRequestByID(ctx context.Context, q querier, id string) (*model.PullRequest, error) {
	pr, err := scanPullRequest(q.QueryRowContext(ctx, pullRequestSelect+` WHERE p.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("pull request", id)
		}
		return nil, fmt.Errorf("sqlite: getting pull request %s: %w", id, err)
	}
	return pr, nil
}

// CreatePullRequest works like CreateIssue on the pull request sequence.
func (db *DB) CreatePullRequest(ctx context.Context, pr *model.PullRequest) error {
	now := time.Now().UTC()
	id := xid.New().String()
	pr.Status = model.PullRequestOpen
	pr.IsMerged = false

	var number int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		number, err = reserveNumber(ctx, tx, pr.RepositoryID, model.SequencePullRequest)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO pull_requests (id, repository_id, number, title, body, status,
			     author_id, head_branch, base_branch, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id,
			pr.RepositoryID,
			number,
			pr.Title,
			nullable(pr.Body),
			string(pr.Status),
			pr.AuthorID,
			pr.HeadBranch,
			pr.BaseBranch,
			now,
			now,
		)
		if err != nil {
			return err
		}
		return tx.QueryRowContext(ctx,
			`SELECT username FROM accounts WHERE id = ?`, pr.AuthorID,
		).Scan(&pr.AuthorUsername)
	})
	if err != nil {
		return db.sequenceError(ctx, err, pr.RepositoryID, model.SequencePullRequest, "creating pull request")
	}

	pr.ID = id
	pr.Number = number
	pr.CreatedAt = now
	pr.UpdatedAt = now
	return nil
}

func (db *DB) GetPullRequest(ctx context.Context, repositoryID string, number int64) (*model.PullRequest, error) {
	pr, err := scanPullRequest(db.conn.QueryRowContext(ctx,
		pullRequestSelect+` WHERE p.repository_id = ? AND p.number = ?`, repositoryID, number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("pull request", fmt.Sprintf("#%d", number))
		}
		return nil, fmt.Errorf("sqlite: getting pull request #%d of %s: %w", number, repositoryID, err)
	}
	return pr, nil
}

func (db *DB) ListPullRequests(ctx context.Context, repositoryID string, filter model.PullRequestFilter) ([]model.PullRequest, error) {
	opts := repository.ListOptions{Limit: filter.Limit, Offset: filter.Offset}.Normalize()

	rows, err := db.conn.QueryContext(ctx,
		pullRequestSelect+` WHERE p.repository_id = ? AND (? = '' OR p.status = ?)
		 ORDER BY p.number DESC
		 LIMIT ? OFFSET ?`,
		repositoryID, string(filter.Status), string(filter.Status), opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing pull requests of %s: %w", repositoryID, err)
	}
	defer rows.Close()

	prs := make([]model.PullRequest, 0, opts.Limit)
	for rows.Next() {
		pr, err := scanPullRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning pull request row: %w", err)
		}
		prs = append(prs, *pr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating pull requests: %w", err)
	}
	return prs, nil
}

func (db *DB) UpdatePullRequest(ctx context.Context, id string, update model.PullRequestUpdate) (*model.PullRequest, error) {
	var pr *model.PullRequest
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		p, err := getPullRequestByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if update.Title != nil {
			p.Title = *update.Title
		}
		if update.Body != nil {
			if *update.Body == "" {
				p.Body = nil
			} else {
				b := *update.Body
				p.Body = &b
			}
		}
		p.UpdatedAt = time.Now().UTC()

		_, err = tx.ExecContext(ctx,
			`UPDATE pull_requests SET title = ?, body = ?, updated_at = ? WHERE id = ?`,
			p.Title, nullable(p.Body), p.UpdatedAt, p.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating pull request %s: %w", id, err)
		}
		pr = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pr, nil
}

// TransitionPullRequest changes the status from `from` to `to` under the
// write lock, so two concurrent merges cannot both succeed.
//
//	-> merged  is_merged, merged_at, closed_at and merge_message are set
//	-> closed  closed_at is set
//	-> open    closed_at is cleared
func (db *DB) TransitionPullRequest(ctx context.Context, id string, from, to model.PullRequestStatus, mergeMessage *string) (*model.PullRequest, error) {
	var pr *model.PullRequest
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		p, err := getPullRequestByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.Status != from {
			return apperror.Conflict(fmt.Sprintf("pull request #%d is %s", p.Number, p.Status))
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

		_, err = tx.ExecContext(ctx,
			`UPDATE pull_requests
			 SET status = ?, is_merged = ?, merge_message = ?, updated_at = ?,
			     closed_at = ?, merged_at = ?
			 WHERE id = ? AND status = ?`,
			string(p.Status),
			p.IsMerged,
			nullable(p.MergeMessage),
			p.UpdatedAt,
			nullable(p.ClosedAt),
			nullable(p.MergedAt),
			p.ID,
			string(from),
		)
		if err != nil {
			return fmt.Errorf("sqlite: moving pull request %s to %s: %w", id, to, err)
		}
		pr = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pr, nil
}
