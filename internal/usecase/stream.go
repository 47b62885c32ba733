package usecase

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/iterator"

	"tradeup/internal/domain/repository"
	"tradeup/internal/infrastructure/metrics"
	"tradeup/pkg/errors"
	"tradeup/pkg/logger"
)

// DefaultResubscribeInterval is the initial wait before reopening a dropped stream.
const DefaultResubscribeInterval = 500 * time.Millisecond

type streamConfig struct {
	name             string
	resubscribeAfter time.Duration
	metrics          *metrics.Metrics
}

func (c streamConfig) backoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if c.resubscribeAfter > 0 {
		b.InitialInterval = c.resubscribeAfter
	} else {
		b.InitialInterval = DefaultResubscribeInterval
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// pump forwards snapshots from a watched query into out until ctx ends.
// A stream that drops with REMOTE_UNAVAILABLE is reopened once after a
// backoff. Any other failure, or a second consecutive drop, is returned.
func pump[T any](
	ctx context.Context,
	cfg streamConfig,
	open func(ctx context.Context) repository.SnapshotIterator[T],
	out chan<- *repository.Snapshot[T],
) error {
	it := open(ctx)
	defer func() { it.Stop() }()

	b := cfg.backoff()
	resubscribed := false
	for {
		snap, err := it.Next()
		if ctx.Err() != nil || stderrors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			mapped := errors.FromRemote(cfg.name, err)
			if resubscribed || !errors.Is(mapped, errors.CodeRemoteUnavailable) {
				return mapped
			}
			resubscribed = true
			wait := b.NextBackOff()
			logger.Warn("Stream %s dropped, resubscribing in %v: %v", cfg.name, wait, err)
			it.Stop()

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
			cfg.metrics.Resubscribed()
			it = open(ctx)
			continue
		}

		resubscribed = false
		b.Reset()
		select {
		case out <- snap:
		case <-ctx.Done():
			return nil
		}
	}
}
