package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nodesocial/apiserver/internal/errs"
	"github.com/nodesocial/apiserver/internal/store"
	"github.com/nodesocial/apiserver/types"
	"github.com/sethvargo/go-retry"
)

const (
	defaultStorageTimeout = 5 * time.Second
	defaultRetryAttempts  = 3
	defaultRetryDelay     = 50 * time.Millisecond

	defaultListLimit = 10
	maxListLimit     = 100
)

// EventPublisher receives activity events after a write commits.
type EventPublisher interface {
	Publish(ctx context.Context, event types.Event)
}

// RetryPolicy bounds how often a single idempotent write is attempted.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// Settings holds the timing knobs shared by the services.
type Settings struct {
	// StorageTimeout bounds every individual storage call and lock wait.
	StorageTimeout time.Duration
	Retry          RetryPolicy
}

// DefaultSettings returns a 5s storage timeout and three attempts per write.
func DefaultSettings() Settings {
	return Settings{
		StorageTimeout: defaultStorageTimeout,
		Retry:          RetryPolicy{Attempts: defaultRetryAttempts, Delay: defaultRetryDelay},
	}
}

func (s Settings) normalized() Settings {
	if s.StorageTimeout <= 0 {
		s.StorageTimeout = defaultStorageTimeout
	}
	if s.Retry.Attempts < 1 {
		s.Retry.Attempts = 1
	}
	if s.Retry.Delay <= 0 {
		s.Retry.Delay = time.Millisecond
	}
	return s
}

// call runs fn once under the storage timeout.
func (s Settings) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.StorageTimeout)
	defer cancel()
	return fn(ctx)
}

// retry runs fn until it succeeds, fails permanently, or the policy is
// exhausted. Each attempt gets its own storage timeout.
func (s Settings) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(s.Retry.Attempts-1), retry.NewConstant(s.Retry.Delay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.call(ctx, fn)
		if err == nil || permanent(err) {
			return err
		}
		return retry.RetryableError(err)
	})
}

// permanent reports errors that another attempt cannot fix.
func permanent(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrDuplicateEmail)
}

// begin observes cancellation of the caller and then detaches: once a
// mutation starts it runs to completion even if the request goes away.
func begin(ctx context.Context) (context.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Storage("request canceled", err)
	}
	return context.WithoutCancel(ctx), nil
}

func lockKey(id uuid.UUID) string {
	return "user:" + id.String()
}

func clampLimit(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return offset, limit
}

func userLookupError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return errs.NotFound("user not found")
	}
	return errs.Storage("failed to load user", err)
}
