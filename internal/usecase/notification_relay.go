package usecase

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/repository"
	"tradeup/internal/domain/service"
	"tradeup/internal/infrastructure/metrics"
	"tradeup/pkg/logger"
)

// NotificationRelay watches the inbox of every attached user and hands fresh
// messages to the dispatcher. Dispatch runs off the event goroutine.
type NotificationRelay struct {
	messageRepo repository.MessageRepository
	watermarks  repository.WatermarkRepository
	userRepo    repository.UserRepository
	dispatcher  service.NotificationDispatcher
	metrics     *metrics.Metrics

	maxAge           time.Duration
	timeout          time.Duration
	resubscribeAfter time.Duration

	mu       sync.Mutex
	watchers map[string]*inboxWatcher
}

type inboxWatcher struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewNotificationRelay(
	messageRepo repository.MessageRepository,
	watermarks repository.WatermarkRepository,
	userRepo repository.UserRepository,
	dispatcher service.NotificationDispatcher,
	m *metrics.Metrics,
	maxAge time.Duration,
	timeout time.Duration,
) *NotificationRelay {
	return &NotificationRelay{
		messageRepo:      messageRepo,
		watermarks:       watermarks,
		userRepo:         userRepo,
		dispatcher:       dispatcher,
		metrics:          m,
		maxAge:           maxAge,
		timeout:          timeout,
		resubscribeAfter: DefaultResubscribeInterval,
		watchers:         make(map[string]*inboxWatcher),
	}
}

func (r *NotificationRelay) SetResubscribeInterval(d time.Duration) {
	r.resubscribeAfter = d
}

// Attach starts watching userID's inbox. Attaching twice is a no-op.
func (r *NotificationRelay) Attach(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.watchers[userID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &inboxWatcher{cancel: cancel, done: make(chan struct{})}
	r.watchers[userID] = w
	go r.watch(ctx, userID, w)
	logger.Debug("NotificationRelay: attached %s", userID)
}

// Detach stops watching userID. Once it returns no further notification for
// that user is dispatched.
func (r *NotificationRelay) Detach(userID string) {
	r.mu.Lock()
	w, ok := r.watchers[userID]
	delete(r.watchers, userID)
	r.mu.Unlock()
	if !ok {
		return
	}
	w.cancel()
	<-w.done
	logger.Debug("NotificationRelay: detached %s", userID)
}

// Attached reports whether userID is being watched.
func (r *NotificationRelay) Attached(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.watchers[userID]
	return ok
}

func (r *NotificationRelay) Close() {
	r.mu.Lock()
	users := make([]string, 0, len(r.watchers))
	for id := range r.watchers {
		users = append(users, id)
	}
	r.mu.Unlock()
	for _, id := range users {
		r.Detach(id)
	}
}

func (r *NotificationRelay) watch(ctx context.Context, userID string, w *inboxWatcher) {
	var dispatches sync.WaitGroup
	defer func() {
		dispatches.Wait()
		close(w.done)
	}()

	filter := NewNoveltyFilter(userID, r.watermarks, r.metrics, r.maxAge, r.timeout)
	snapshots := make(chan *repository.Snapshot[*entity.Message])
	failed := make(chan error, 1)

	r.metrics.SubscriptionOpened()
	defer r.metrics.SubscriptionClosed()

	go func() {
		cfg := streamConfig{name: "watch inbox " + userID, resubscribeAfter: r.resubscribeAfter, metrics: r.metrics}
		failed <- pump(ctx, cfg, func(ctx context.Context) repository.SnapshotIterator[*entity.Message] {
			return r.messageRepo.WatchInbox(ctx, userID)
		}, snapshots)
	}()

	for {
		select {
		case <-ctx.Done():
			<-failed
			return
		case err := <-failed:
			if err != nil {
				logger.Error("NotificationRelay Error: inbox of %s: %v", userID, err)
			} else {
				logger.Warn("NotificationRelay: inbox stream of %s ended", userID)
			}
			r.forget(userID, w)
			return
		case snap := <-snapshots:
			for _, m := range filter.Observe(ctx, snap.Items) {
				m := m
				dispatches.Add(1)
				go func() {
					defer dispatches.Done()
					r.dispatch(ctx, m)
				}()
			}
		}
	}
}

// forget drops a watcher whose stream ended on its own so a later Attach
// can start over.
func (r *NotificationRelay) forget(userID string, w *inboxWatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watchers[userID] == w {
		delete(r.watchers, userID)
	}
}

func (r *NotificationRelay) dispatch(ctx context.Context, m *entity.Message) {
	if ctx.Err() != nil {
		return
	}
	n := service.NewMessageNotification{
		EventID:        m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     r.displayName(ctx, m.SenderID),
		Preview:        m.Preview(),
		ReceiverID:     m.ReceiverID,
	}
	err := remoteExec(ctx, r.timeout, "notify new message", func(ctx context.Context) error {
		return r.dispatcher.NotifyNewMessage(ctx, n)
	})
	if err != nil {
		if !stderrors.Is(err, context.Canceled) {
			logger.Warn("NotificationRelay: message %s to %s not dispatched: %v", m.ID, m.ReceiverID, err)
		}
		return
	}
	r.metrics.NotificationDispatched("message")
}

func (r *NotificationRelay) displayName(ctx context.Context, userID string) string {
	return lookupDisplayName(ctx, r.userRepo, r.timeout, userID)
}

func lookupDisplayName(ctx context.Context, users repository.UserRepository, timeout time.Duration, userID string) string {
	if users == nil {
		return "Someone"
	}
	u, err := remote(ctx, timeout, "get user", func(ctx context.Context) (*entity.User, error) {
		return users.GetByID(ctx, userID)
	})
	if err != nil {
		return "Someone"
	}
	return u.DisplayName()
}

// FanOutDispatcher delivers each notification to every dispatcher in turn.
// It fails only when all of them fail.
type FanOutDispatcher []service.NotificationDispatcher

func (f FanOutDispatcher) NotifyNewMessage(ctx context.Context, n service.NewMessageNotification) error {
	return f.each(func(d service.NotificationDispatcher) error { return d.NotifyNewMessage(ctx, n) })
}

func (f FanOutDispatcher) NotifyOfferEvent(ctx context.Context, n service.OfferNotification) error {
	return f.each(func(d service.NotificationDispatcher) error { return d.NotifyOfferEvent(ctx, n) })
}

func (f FanOutDispatcher) each(fn func(service.NotificationDispatcher) error) error {
	var errs []error
	for _, d := range f {
		if err := fn(d); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 && len(errs) == len(f) {
		return stderrors.Join(errs...)
	}
	for _, err := range errs {
		logger.Warn("FanOutDispatcher: %v", err)
	}
	return nil
}
