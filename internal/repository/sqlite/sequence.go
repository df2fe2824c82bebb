package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/codehost/internal/apperror"
	"github.com/sakif/codehost/internal/model"
	"github.com/sakif/codehost/internal/repository"
)

var _ repository.SequenceStore = (*DB)(nil)

// sequenceTables maps a sequence kind to the table whose "number" column it
// numbers. Only these constant names are ever interpolated into SQL.
var sequenceTables = map[model.SequenceKind]string{
	model.SequenceIssue:       "issues",
	model.SequencePullRequest: "pull_requests",
}

func sequenceTable(kind model.SequenceKind) (string, error) {
	table, ok := sequenceTables[kind]
	if !ok {
		return "", apperror.ValidationFailed("kind", fmt.Sprintf("unknown sequence kind %q", kind))
	}
	return table, nil
}

// reserveNumber increments the (repositoryID, kind) counter and returns the
// new value. It must run inside a write transaction.
//
// The first reservation for a repository seeds the counter from the highest
// number already stored, so a missing counter row never restarts at 1 on
// top of existing data. After that the counter only moves forward.
func reserveNumber(ctx context.Context, q querier, repositoryID string, kind model.SequenceKind) (int64, error) {
	table, err := sequenceTable(kind)
	if err != nil {
		return 0, err
	}

	var n int64
	err = q.QueryRowContext(ctx, fmt.Sprintf(
		`INSERT INTO sequences (repository_id, kind, last_number)
		 VALUES (?, ?, (SELECT COALESCE(MAX(number), 0) + 1 FROM %s WHERE repository_id = ?))
		 ON CONFLICT (repository_id, kind) DO UPDATE SET last_number = last_number + 1
		 RETURNING last_number`, table),
		repositoryID, string(kind), repositoryID,
	).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// NextNumber reserves a number in its own transaction. Reserved numbers are
// never handed out again, whether or not the caller uses them.
func (db *DB) NextNumber(ctx context.Context, repositoryID string, kind model.SequenceKind) (int64, error) {
	if _, err := sequenceTable(kind); err != nil {
		return 0, err
	}

	var n int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = reserveNumber(ctx, tx, repositoryID, kind)
		return err
	})
	if err != nil {
		return 0, db.sequenceError(ctx, err, repositoryID, kind, "reserving number")
	}
	return n, nil
}

// resyncSequence moves the counter up to the highest stored number. It runs
// after a number collision, which means rows were numbered without going
// through the counter; without it every retry would collide again.
func (db *DB) resyncSequence(ctx context.Context, repositoryID string, kind model.SequenceKind) error {
	table, err := sequenceTable(kind)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx, fmt.Sprintf(
		`UPDATE sequences
		 SET last_number = MAX(last_number, (SELECT COALESCE(MAX(number), 0) FROM %s WHERE repository_id = ?))
		 WHERE repository_id = ? AND kind = ?`, table),
		repositoryID, repositoryID, string(kind),
	)
	if err != nil {
		return fmt.Errorf("sqlite: resyncing %s sequence of %s: %w", kind, repositoryID, err)
	}
	return nil
}

// sequenceError translates a failed reservation (or reservation plus
// insert) into a domain error. Contention and number collisions become
// ErrConflict so the caller can retry; a missing repository is ErrNotFound.
func (db *DB) sequenceError(ctx context.Context, err error, repositoryID string, kind model.SequenceKind, action string) error {
	var appErr *apperror.AppError
	switch {
	case errors.As(err, &appErr):
		return err
	case isUniqueViolation(err, ".repository_id", ".number"):
		if rerr := db.resyncSequence(ctx, repositoryID, kind); rerr != nil {
			return apperror.Internal("resyncing sequence", rerr)
		}
		return apperror.Conflict(fmt.Sprintf("%s number already taken, retry", kind))
	case isBusy(err):
		return apperror.Conflict(fmt.Sprintf("%s sequence is busy, retry", kind))
	case isForeignKeyViolation(err):
		return apperror.NotFound("repository", repositoryID)
	}
	return fmt.Errorf("sqlite: %s for %s %s: %w", action, repositoryID, kind, err)
}
