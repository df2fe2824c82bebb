// Package service contains the business logic layer.
//
//	Handler (HTTP)  → parses requests, writes responses
//	Service         → validates, authorizes, orchestrates
//	Repository      → reads/writes the database
//
// Services depend on the store interfaces in internal/repository, never on
// internal/repository/sqlite, so tests run against in-memory fakes.
//
// Every public operation runs under a per-call deadline (WithTimeout,
// default 5s). A deadline hit anywhere below surfaces as an ErrInternal
// "operation timed out"; database/sql rolls back the open transaction.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/sakif/codehost/internal/apperror"
	"github.com/sakif/codehost/internal/model"
)

const DefaultOperationTimeout = 5 * time.Second

// Recorder receives business events for metrics.
type Recorder interface {
	// AuthOutcome counts register/login/refresh/github attempts by outcome
	// ("success", "invalid", "conflict", "error").
	AuthOutcome(operation, outcome string)
	SequenceRetry(kind model.SequenceKind)
}

type nopRecorder struct{}

func (nopRecorder) AuthOutcome(string, string)       {}
func (nopRecorder) SequenceRetry(model.SequenceKind) {}

type settings struct {
	timeout  time.Duration
	recorder Recorder
}

// Option configures optional service behavior.
type Option func(*settings)

// WithTimeout sets the per-call deadline. Zero or negative disables it.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

func WithRecorder(r Recorder) Option {
	return func(s *settings) {
		if r != nil {
			s.recorder = r
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{timeout: DefaultOperationTimeout, recorder: nopRecorder{}}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s settings) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// internalError passes domain errors through unchanged and hides anything
// else (storage, codec) behind an ErrInternal carrying only message. ctx is
// the call's deadline-bound context; drivers do not always report its
// expiry as context.DeadlineExceeded.
func internalError(ctx context.Context, message string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperror.Internal("operation timed out", err)
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.Internal(message, err)
}
