package infrastructure

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pranto48/text-sub000/internal/config"
)

// RetryPolicy retries operations that fail with transient connection errors
// using jittered exponential backoff. The zero value performs a single attempt.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// NewRetryPolicy builds a policy from the database configuration
func NewRetryPolicy(cfg config.DatabaseConfig) RetryPolicy {
	return RetryPolicy{
		Attempts:  cfg.RetryAttempts,
		BaseDelay: cfg.RetryBaseDelay,
		MaxDelay:  cfg.RetryMaxDelay,
	}
}

// Do runs fn until it succeeds, returns a non-transient error, the attempts
// are exhausted or ctx is done.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	retries := p.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), uint64(retries)), ctx)

	return backoff.Retry(func() error {
		err := fn(ctx)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	// attempts bound the policy, not wall time
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// IsTransient reports whether err looks like a connection-level failure
// worth retrying. Constraint violations and not-found results are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"connection refused", "connection reset", "broken pipe", "database is locked", "too many connections"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
