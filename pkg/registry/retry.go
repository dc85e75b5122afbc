// SPDX-License-Identifier: MPL-2.0

package registry

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"pluginpm/pkg/version"
)

// RetryPolicy bounds the retry behavior of a [WithRetry] client.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration
	// MaxInterval caps the exponentially growing delay.
	MaxInterval time.Duration
}

// DefaultRetryPolicy returns the policy used when callers do not
// configure their own: 3 attempts, 500ms initial delay, 5s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// retryClient decorates a Client with bounded exponential backoff.
type retryClient struct {
	inner  Client
	policy RetryPolicy
}

var _ Client = (*retryClient)(nil)

// WithRetry wraps a client so transient failures (per [Retryable]) are
// retried with exponential backoff. Missing packages and rejected
// credentials fail immediately. Waits are cut short when the context
// is canceled.
func WithRetry(inner Client, policy RetryPolicy) Client {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &retryClient{inner: inner, policy: policy}
}

func (c *retryClient) FetchMetadata(ctx context.Context, name string) (*PackageMetadata, error) {
	var meta *PackageMetadata
	err := c.retry(ctx, "metadata", name, func() error {
		var err error
		meta, err = c.inner.FetchMetadata(ctx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func (c *retryClient) FetchTarball(ctx context.Context, name string, v version.Version) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := c.retry(ctx, "tarball", name+"@"+v.String(), func() error {
		var err error
		body, err = c.inner.FetchTarball(ctx, name, v)
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *retryClient) FetchSignature(ctx context.Context, name string, v version.Version) ([]byte, error) {
	var sig []byte
	err := c.retry(ctx, "signature", name+"@"+v.String(), func() error {
		var err error
		sig, err = c.inner.FetchSignature(ctx, name, v)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// retry runs fn until it succeeds, fails permanently, or the attempt
// budget is spent.
func (c *retryClient) retry(ctx context.Context, op, target string, fn func() error) error {
	attempt := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.policy.InitialInterval
	b.MaxInterval = c.policy.MaxInterval
	b.MaxElapsedTime = 0 // bounded by attempt count, not wall time

	notify := func(err error, wait time.Duration) {
		slog.Debug("retrying registry request",
			"op", op, "target", target, "wait", wait, "error", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.policy.MaxAttempts-1)), ctx)
	return backoff.RetryNotify(attempt, policy, notify)
}
