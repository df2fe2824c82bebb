package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sakif/codehost/internal/apperror"
	"github.com/sakif/codehost/internal/model"
	"github.com/sakif/codehost/internal/repository"
)

const (
	DefaultSequenceAttempts = 5
	sequenceBackoff         = 10 * time.Millisecond
)

// SequenceAllocator hands out per-repository issue and pull request
// numbers. The store does the atomic reservation; the allocator owns the
// bounded retry when a reservation collides or the database is busy.
type SequenceAllocator struct {
	store       repository.SequenceStore
	maxAttempts int
	logger      *slog.Logger
	settings
}

func NewSequenceAllocator(store repository.SequenceStore, maxAttempts int, logger *slog.Logger, opts ...Option) *SequenceAllocator {
	if maxAttempts < 1 {
		maxAttempts = DefaultSequenceAttempts
	}
	return &SequenceAllocator{
		store:       store,
		maxAttempts: maxAttempts,
		logger:      logger,
		settings:    newSettings(opts),
	}
}

// Next reserves the next number for (repositoryID, kind).
func (a *SequenceAllocator) Next(ctx context.Context, repositoryID string, kind model.SequenceKind) (int64, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("service/sequence: unknown kind %q", kind)
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	var n int64
	err := a.Retry(ctx, kind, func(ctx context.Context) error {
		var err error
		n, err = a.store.NextNumber(ctx, repositoryID, kind)
		return err
	})
	if err != nil {
		return 0, internalError(ctx, "failed to allocate number", err)
	}
	return n, nil
}

// Retry runs create until it succeeds, fails with anything other than
// ErrConflict, or maxAttempts is used up. create must reserve its number
// and insert its row in one transaction so that a failed attempt leaves
// nothing behind. Waits between attempts grow linearly and stop early when
// ctx ends.
func (a *SequenceAllocator) Retry(ctx context.Context, kind model.SequenceKind, create func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		err = create(ctx)
		if err == nil || !errors.Is(err, apperror.ErrConflict) {
			return err
		}
		if attempt == a.maxAttempts {
			break
		}

		a.recorder.SequenceRetry(kind)
		a.logger.Debug("sequence reservation collided, retrying",
			slog.String("kind", string(kind)),
			slog.Int("attempt", attempt),
		)

		timer := time.NewTimer(time.Duration(attempt) * sequenceBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	a.logger.Warn("sequence reservation gave up",
		slog.String("kind", string(kind)),
		slog.Int("attempts", a.maxAttempts),
		slog.String("error", err.Error()),
	)
	return apperror.Conflict(fmt.Sprintf("could not allocate a %s number, please retry", kindNoun(kind)))
}

func kindNoun(kind model.SequenceKind) string {
	if kind == model.SequencePullRequest {
		return "pull request"
	}
	return string(kind)
}
