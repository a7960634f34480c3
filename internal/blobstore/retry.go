package blobstore

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// RetryMaxAttempts is the number of retries for transient store errors.
	RetryMaxAttempts = 3
	// RetryInitialInterval is the initial interval for exponential backoff.
	RetryInitialInterval = 100 * time.Millisecond
	// RetryMaxInterval is the maximum interval for exponential backoff.
	RetryMaxInterval = 2 * time.Second
)

// retrying wraps a Store with exponential-backoff retries on transient
// failures. ErrNotFound is not retried.
type retrying struct {
	inner Store
}

// WithRetry returns a Store that retries transient failures with jittered
// exponential backoff.
func WithRetry(inner Store) Store {
	return &retrying{inner: inner}
}

func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = RetryInitialInterval
	b.MaxInterval = RetryMaxInterval
	b.RandomizationFactor = 0.5
	b.Multiplier = 2.0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, RetryMaxAttempts), ctx)
}

func (r *retrying) Put(ctx context.Context, key string, data []byte) error {
	return backoff.Retry(func() error {
		return r.inner.Put(ctx, key, data)
	}, newRetryBackoff(ctx))
}

func (r *retrying) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := backoff.Retry(func() error {
		var getErr error
		data, getErr = r.inner.Get(ctx, key)
		if errors.Is(getErr, ErrNotFound) {
			return backoff.Permanent(getErr)
		}
		return getErr
	}, newRetryBackoff(ctx))
	return data, err
}

func (r *retrying) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := backoff.Retry(func() error {
		var listErr error
		keys, listErr = r.inner.List(ctx, prefix)
		return listErr
	}, newRetryBackoff(ctx))
	return keys, err
}

func (r *retrying) Delete(ctx context.Context, key string) error {
	return backoff.Retry(func() error {
		return r.inner.Delete(ctx, key)
	}, newRetryBackoff(ctx))
}

func (r *retrying) Exists(ctx context.Context, key string) bool {
	return r.inner.Exists(ctx, key)
}
