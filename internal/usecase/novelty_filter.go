package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/repository"
	"tradeup/internal/infrastructure/metrics"
	"tradeup/pkg/logger"
)

const seenRetention = 10 * time.Minute

// NoveltyFilter decides which inbound messages deserve a notification for
// one user. Message ids are the dedup authority and a persisted watermark
// separates history from catch-up across restarts.
//
// With no stored watermark the first snapshot is backfill: nothing is fresh
// and the watermark is seeded from it. With a stored watermark, first-snapshot
// entries above it arrived while the user was away and are fresh. Later
// entries are fresh when their id is unseen and someone else sent them.
//
// Seen ids are only kept for seenRetention behind the watermark. Anything
// older than that is treated as history.
type NoveltyFilter struct {
	userID     string
	watermarks repository.WatermarkRepository
	metrics    *metrics.Metrics
	maxAge     time.Duration
	timeout    time.Duration
	now        clock

	mu        sync.Mutex
	seen      map[string]time.Time
	watermark *entity.Watermark
	primed    bool
}

func NewNoveltyFilter(
	userID string,
	watermarks repository.WatermarkRepository,
	m *metrics.Metrics,
	maxAge time.Duration,
	timeout time.Duration,
) *NoveltyFilter {
	return &NoveltyFilter{
		userID:     userID,
		watermarks: watermarks,
		metrics:    m,
		maxAge:     maxAge,
		timeout:    timeout,
		now:        systemClock,
		seen:       make(map[string]time.Time),
	}
}

// Observe classifies a delivery and returns the fresh messages in
// (timestamp, id) order. Every returned id is recorded as seen before
// Observe returns, so the same id is never returned twice.
func (f *NoveltyFilter) Observe(ctx context.Context, items []*entity.Message) []*entity.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	first := !f.primed
	if first {
		f.primed = true
		f.loadWatermark(ctx)
	}

	var fresh []*entity.Message
	newest := f.watermark
	for _, m := range items {
		if _, ok := f.seen[m.ID]; ok {
			continue
		}
		if f.watermark != nil && m.Timestamp.Before(f.horizon()) {
			f.metrics.NotificationSuppressed("history")
			continue
		}
		f.seen[m.ID] = m.Timestamp

		if reason := f.suppress(m, first); reason != "" {
			f.metrics.NotificationSuppressed(reason)
		} else {
			fresh = append(fresh, m)
		}

		candidate := &entity.Watermark{UserID: f.userID, Timestamp: m.Timestamp, MessageID: m.ID}
		if newest.Behind(candidate) {
			newest = candidate
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Before(fresh[j]) })

	if f.watermark.Behind(newest) {
		f.watermark = newest
		f.persist(ctx, newest)
		f.prune()
	}
	return fresh
}

// horizon is the instant below which ids are no longer tracked.
func (f *NoveltyFilter) horizon() time.Time {
	return f.watermark.Timestamp.Add(-seenRetention)
}

func (f *NoveltyFilter) prune() {
	horizon := f.horizon()
	for id, at := range f.seen {
		if at.Before(horizon) {
			delete(f.seen, id)
		}
	}
}

// suppress returns why m is not fresh, or "" when it is.
func (f *NoveltyFilter) suppress(m *entity.Message, first bool) string {
	switch {
	case m.SenderID == f.userID:
		return "self"
	case m.ReceiverID != f.userID:
		return "not_addressed"
	case m.IsDeleted:
		return "deleted"
	case first && f.watermark == nil:
		return "backfill"
	case first && f.watermark.Covers(m):
		return "history"
	case f.maxAge > 0 && f.now().Sub(m.Timestamp) > f.maxAge:
		return "stale"
	}
	return ""
}

func (f *NoveltyFilter) loadWatermark(ctx context.Context) {
	if f.watermarks == nil {
		return
	}
	wm, err := remote(ctx, f.timeout, "get watermark", func(ctx context.Context) (*entity.Watermark, error) {
		return f.watermarks.Get(ctx, f.userID)
	})
	if err != nil {
		// Without a watermark the first snapshot is treated as backfill,
		// which errs on the side of silence.
		logger.Warn("NoveltyFilter: watermark for %s unavailable: %v", f.userID, err)
		return
	}
	f.watermark = wm
}

func (f *NoveltyFilter) persist(ctx context.Context, wm *entity.Watermark) {
	if f.watermarks == nil {
		return
	}
	stored := *wm
	stored.UpdatedAt = f.now()
	if err := remoteExec(ctx, f.timeout, "advance watermark", func(ctx context.Context) error {
		return f.watermarks.Advance(ctx, &stored)
	}); err != nil {
		logger.Warn("NoveltyFilter: watermark for %s not persisted: %v", f.userID, err)
	}
}
