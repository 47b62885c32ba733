package usecase

import (
	"context"
	"sync"
	"sync/atomic"

	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/repository"
	"tradeup/internal/infrastructure/metrics"
	"tradeup/pkg/logger"
)

// Subscription streams a conversation's timeline for one viewer. Every
// delivery is a complete, ordered Timeline; a slow reader only ever sees the
// newest one. Updates is closed when the subscription ends.
type Subscription struct {
	conversationID string
	viewerID       string

	updates chan *Timeline
	latest  atomic.Pointer[Timeline]

	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}

	errMu sync.Mutex
	err   error

	metrics *metrics.Metrics
}

type subscriptionSources struct {
	messages func(ctx context.Context) repository.SnapshotIterator[*entity.Message]
	hidden   func(ctx context.Context) repository.SnapshotIterator[*entity.HiddenMessage]
}

func startSubscription(ctx context.Context, conversationID, viewerID string, src subscriptionSources, cfg streamConfig) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		conversationID: conversationID,
		viewerID:       viewerID,
		updates:        make(chan *Timeline, 1),
		cancel:         cancel,
		done:           make(chan struct{}),
		metrics:        cfg.metrics,
	}
	s.metrics.SubscriptionOpened()
	go s.run(ctx, src, cfg)
	return s
}

func (s *Subscription) Updates() <-chan *Timeline {
	return s.updates
}

// Latest returns the most recently published timeline, or nil before the
// first delivery.
func (s *Subscription) Latest() *Timeline {
	return s.latest.Load()
}

// Err reports why the subscription ended on its own. It is nil after Close.
func (s *Subscription) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close ends the subscription. It is idempotent, and once it returns no
// further timeline is delivered.
func (s *Subscription) Close() {
	s.closeOnce.Do(s.cancel)
	<-s.done
}

func (s *Subscription) run(ctx context.Context, src subscriptionSources, cfg streamConfig) {
	messageCh := make(chan *repository.Snapshot[*entity.Message])
	hiddenCh := make(chan *repository.Snapshot[*entity.HiddenMessage])
	failed := make(chan error, 2)

	var wg sync.WaitGroup
	defer func() {
		s.cancel()
		wg.Wait()
		// an undelivered timeline must not outlive Close
		select {
		case <-s.updates:
		default:
		}
		close(s.updates)
		s.metrics.SubscriptionClosed()
		close(s.done)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		msgCfg := cfg
		msgCfg.name = "watch conversation " + s.conversationID
		if err := pump(ctx, msgCfg, src.messages, messageCh); err != nil {
			failed <- err
		}
	}()

	hiddenReady := src.hidden == nil
	if !hiddenReady {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hidCfg := cfg
			hidCfg.name = "watch hidden messages " + s.viewerID
			if err := pump(ctx, hidCfg, src.hidden, hiddenCh); err != nil {
				failed <- err
			}
		}()
	}

	state := newTimelineState(s.conversationID, s.viewerID)
	messagesReady, published := false, false
	for {
		changed := false
		select {
		case <-ctx.Done():
			return
		case err := <-failed:
			logger.Error("Subscription Error: conversation %s viewer %s: %v", s.conversationID, s.viewerID, err)
			s.errMu.Lock()
			s.err = err
			s.errMu.Unlock()
			return
		case snap := <-messageCh:
			changed = state.applyMessages(snap)
			messagesReady = true
		case snap := <-hiddenCh:
			changed = state.applyHidden(snap.Items)
			hiddenReady = true
		}

		// The first delivery waits for both streams so hidden messages never
		// flash before being tombstoned.
		if !messagesReady || !hiddenReady || (published && !changed) {
			continue
		}
		s.publish(state.render())
		published = true
	}
}

// publish replaces any undelivered timeline with tl. Only the run goroutine
// sends, so the send after draining never blocks.
func (s *Subscription) publish(tl *Timeline) {
	s.latest.Store(tl)
	select {
	case <-s.updates:
	default:
	}
	s.updates <- tl
}
