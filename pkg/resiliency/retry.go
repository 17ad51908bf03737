/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package resiliency

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultInitialRetryInterval = 50 * time.Millisecond
	DefaultMaxRetryInterval     = 1 * time.Second
)

// Permanent wraps an error to stop any retry loop right away.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// RetryGet calls the factory function with exponential back-off until it succeeds,
// returns a permanent error, or the context is done.
func RetryGet[T any](ctx context.Context, factory func() (T, error)) (T, error) {
	return RetryGetWithBackoff(ctx, NewExponentialBackoff(DefaultInitialRetryInterval, DefaultMaxRetryInterval), factory)
}

// RetryGetWithTimeout is RetryGet bounded by the timeout.
func RetryGetWithTimeout[T any](ctx context.Context, timeout time.Duration, factory func() (T, error)) (T, error) {
	retryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return RetryGet(retryCtx, factory)
}

func RetryGetWithBackoff[T any](ctx context.Context, b backoff.BackOff, factory func() (T, error)) (T, error) {
	var lastAttemptErr error

	retval, err := backoff.RetryNotifyWithData(
		factory,
		backoff.WithContext(b, ctx),
		func(err error, d time.Duration) {
			lastAttemptErr = err
		},
	)

	switch {
	case err != nil && lastAttemptErr != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)):
		// Inform the caller about the timeout AND the last attempt error.
		return *new(T), errors.Join(lastAttemptErr, err)
	case err != nil:
		return *new(T), err
	default:
		return retval, nil
	}
}

// NewExponentialBackoff returns a back-off policy that never gives up on its own;
// the context passed to the retry function bounds the total time.
func NewExponentialBackoff(initial, max time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
