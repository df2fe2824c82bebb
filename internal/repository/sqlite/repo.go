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

var _ repository.RepoStore = (*DB)(nil)

const repoSelect = `SELECT r.id, r.owner_id, u.username, r.name, r.description,
	r.is_private, r.is_archived, r.default_branch,
	r.star_count, r.fork_count, r.watch_count, r.created_at, r.updated_at
	FROM repositories r JOIN accounts u ON u.id = r.owner_id`

func scanRepository(row rowScanner) (*model.Repository, error) {
	var r model.Repository
	err := row.Scan(
		&r.ID,
		&r.OwnerID,
		&r.OwnerUsername,
		&r.Name,
		&r.Description,
		&r.IsPrivate,
		&r.IsArchived,
		&r.DefaultBranch,
		&r.StarCount,
		&r.ForkCount,
		&r.WatchCount,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func getRepositoryByID(ctx context.Context, q querier, id string) (*model.Repository, error) {
	r, err := scanRepository(q.QueryRowContext(ctx, repoSelect+` WHERE r.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("repository", id)
		}
		return nil, fmt.Errorf("sqlite: getting repository %s: %w", id, err)
	}
	return r, nil
}

// CreateRepository inserts repo. OwnerID must reference an existing account;
// OwnerUsername is filled from it.
func (db *DB) CreateRepository(ctx context.Context, repo *model.Repository) error {
	now := time.Now().UTC()
	repo.ID = xid.New().String()
	repo.CreatedAt = now
	repo.UpdatedAt = now
	if repo.DefaultBranch == "" {
		repo.DefaultBranch = model.DefaultBranch
	}

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO repositories (id, owner_id, name, description, is_private,
			     is_archived, default_branch, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			repo.ID,
			repo.OwnerID,
			repo.Name,
			nullable(repo.Description),
			repo.IsPrivate,
			repo.IsArchived,
			repo.DefaultBranch,
			repo.CreatedAt,
			repo.UpdatedAt,
		)
		if err != nil {
			return err
		}
		return tx.QueryRowContext(ctx,
			`SELECT username FROM accounts WHERE id = ?`, repo.OwnerID,
		).Scan(&repo.OwnerUsername)
	})
	if err != nil {
		repo.ID = ""
		switch {
		case isUniqueViolation(err, "repositories.owner_id", "repositories.name"):
			return apperror.Conflict(fmt.Sprintf("repository %q already exists", repo.Name))
		case isForeignKeyViolation(err):
			return apperror.NotFound("account", repo.OwnerID)
		}
		return fmt.Errorf("sqlite: creating repository %q: %w", repo.Name, err)
	}
	return nil
}

// GetRepository looks a repository up by owner username and name, both
// case-insensitively.
func (db *DB) GetRepository(ctx context.Context, ownerUsername, name string) (*model.Repository, error) {
	r, err := scanRepository(db.conn.QueryRowContext(ctx,
		repoSelect+` WHERE u.username = ? AND r.name = ?`, ownerUsername, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("repository", ownerUsername+"/"+name)
		}
		return nil, fmt.Errorf("sqlite: getting repository %s/%s: %w", ownerUsername, name, err)
	}
	return r, nil
}

// ListRepositoriesByOwner returns the owner's repositories, most recently
// updated first. Private repositories are skipped unless includePrivate is
// set. An unknown owner yields an empty list.
func (db *DB) ListRepositoriesByOwner(ctx context.Context, ownerUsername string, includePrivate bool, opts repository.ListOptions) ([]model.Repository, error) {
	opts = opts.Normalize()

	rows, err := db.conn.QueryContext(ctx,
		repoSelect+` WHERE u.username = ? AND (? OR r.is_private = 0)
		 ORDER BY r.updated_at DESC, r.id
		 LIMIT ? OFFSET ?`,
		ownerUsername, includePrivate, opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing repositories of %s: %w", ownerUsername, err)
	}
	defer rows.Close()

	repos := make([]model.Repository, 0, opts.Limit)
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning repository row: %w", err)
		}
		repos = append(repos, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating repositories: %w", err)
	}
	return repos, nil
}

// UpdateRepository applies the non-nil fields of update. A rename that
// collides with another repository of the same owner is a conflict.
func (db *DB) UpdateRepository(ctx context.Context, id string, update model.RepositoryUpdate) (*model.Repository, error) {
	var repo *model.Repository
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		r, err := getRepositoryByID(ctx, tx, id)
		if err != nil {
			return err
		}

		if update.Name != nil {
			r.Name = *update.Name
		}
		if update.Description != nil {
			if *update.Description == "" {
				r.Description = nil
			} else {
				d := *update.Description
				r.Description = &d
			}
		}
		if update.IsPrivate != nil {
			r.IsPrivate = *update.IsPrivate
		}
		if update.IsArchived != nil {
			r.IsArchived = *update.IsArchived
		}
		if update.DefaultBranch != nil {
			r.DefaultBranch = *update.DefaultBranch
		}
		r.UpdatedAt = time.Now().UTC()

		_, err = tx.ExecContext(ctx,
			`UPDATE repositories
			 SET name = ?, description = ?, is_private = ?, is_archived = ?,
			     default_branch = ?, updated_at = ?
			 WHERE id = ?`,
			r.Name,
			nullable(r.Description),
			r.IsPrivate,
			r.IsArchived,
			r.DefaultBranch,
			r.UpdatedAt,
			r.ID,
		)
		if err != nil {
			return err
		}
		repo = r
		return nil
	})
	if err != nil {
		if isUniqueViolation(err, "repositories.owner_id", "repositories.name") {
			return nil, apperror.Conflict(fmt.Sprintf("repository %q already exists", *update.Name))
		}
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, fmt.Errorf("sqlite: updating repository %s: %w", id, err)
	}
	return repo, nil
}

// DeleteRepository removes the repository. Issues, pull requests, stars and
// sequence counters go with it through ON DELETE CASCADE.
func (db *DB) DeleteRepository(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM repositories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting repository %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("repository", id)
	}
	return nil
}

// =========================================================================
// STARS
// =========================================================================

// Star records that accountID starred the repository. Starring twice is a
// no-op. The repository's star_count is recomputed from the stars table in
// the same transaction and returned.
func (db *DB) Star(ctx context.Context, repositoryID, accountID string) (int, error) {
	return db.changeStar(ctx, repositoryID, accountID,
		`INSERT INTO stars (repository_id, account_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (repository_id, account_id) DO NOTHING`,
		repositoryID, accountID, time.Now().UTC())
}

// Unstar removes the star if present.
func (db *DB) Unstar(ctx context.Context, repositoryID, accountID string) (int, error) {
	return db.changeStar(ctx, repositoryID, accountID,
		`DELETE FROM stars WHERE repository_id = ? AND account_id = ?`,
		repositoryID, accountID)
}

func (db *DB) changeStar(ctx context.Context, repositoryID, accountID, stmt string, args ...any) (int, error) {
	var count int
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE repositories
			 SET star_count = (SELECT COUNT(*) FROM stars WHERE repository_id = ?)
			 WHERE id = ?`,
			repositoryID, repositoryID,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperror.NotFound("repository", repositoryID)
		}
		return tx.QueryRowContext(ctx,
			`SELECT star_count FROM repositories WHERE id = ?`, repositoryID,
		).Scan(&count)
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, apperror.NotFound("repository", repositoryID)
		}
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return 0, err
		}
		return 0, fmt.Errorf("sqlite: updating star of %s on %s: %w", accountID, repositoryID, err)
	}
	return count, nil
}

func (db *DB) IsStarred(ctx context.Context, repositoryID, accountID string) (bool, error) {
	var exists int
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM stars WHERE repository_id = ? AND account_id = ?)`,
		repositoryID, accountID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking star: %w", err)
	}
	return exists == 1, nil
}
