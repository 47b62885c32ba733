package usecase

import (
	"context"
	"time"

	"tradeup/pkg/errors"
)

// DefaultRemoteTimeout bounds a single store round-trip when none is configured.
const DefaultRemoteTimeout = 10 * time.Second

// remote runs fn with a per-call deadline and maps store errors into the
// application taxonomy.
func remote[T any](ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(callCtx)
	if err != nil {
		var zero T
		return zero, errors.FromRemote(op, err)
	}
	return v, nil
}

func remoteExec(ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) error) error {
	_, err := remote(ctx, timeout, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

type clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
