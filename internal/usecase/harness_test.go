package usecase

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	memstore "tradeup/internal/adapter/repository"
	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/service"
)

var epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward and returns the new time.
func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

type recordingDispatcher struct {
	mu       sync.Mutex
	messages []service.NewMessageNotification
	offers   []service.OfferNotification
}

func (d *recordingDispatcher) NotifyNewMessage(ctx context.Context, n service.NewMessageNotification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, n)
	return nil
}

func (d *recordingDispatcher) NotifyOfferEvent(ctx context.Context, n service.OfferNotification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offers = append(d.offers, n)
	return nil
}

func (d *recordingDispatcher) Messages() []service.NewMessageNotification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]service.NewMessageNotification(nil), d.messages...)
}

func (d *recordingDispatcher) Offers() []service.OfferNotification {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]service.OfferNotification(nil), d.offers...)
}

type fakeMedia struct {
	mu         sync.Mutex
	uploads    int
	deleted    []string
	failDelete error
}

func (m *fakeMedia) Upload(ctx context.Context, file io.Reader, contentType, folder string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads++
	return fmt.Sprintf("https://storage.googleapis.com/test-bucket/%s/%d.jpg", folder, m.uploads), nil
}

func (m *fakeMedia) Delete(ctx context.Context, fileURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, fileURL)
	return m.failDelete
}

func (m *fakeMedia) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

type recordingHook struct {
	name string

	mu       sync.Mutex
	calls    int
	failures []error
}

func (h *recordingHook) Name() string { return h.name }

func (h *recordingHook) OnOfferAccepted(ctx context.Context, offer *entity.Offer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if len(h.failures) > 0 {
		err := h.failures[0]
		h.failures = h.failures[1:]
		return err
	}
	return nil
}

func (h *recordingHook) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

type harness struct {
	store      *memstore.MemoryStore
	clock      *fakeClock
	dispatcher *recordingDispatcher
	media      *fakeMedia
	hook       *recordingHook

	conversations *ConversationStore
	guard         *BlockingGuard
	sync          *MessageSynchronizer
	offers        *OfferEngine
	lifecycle     *MessageLifecycleManager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:      memstore.NewMemoryStore(),
		clock:      &fakeClock{t: epoch},
		dispatcher: &recordingDispatcher{},
		media:      &fakeMedia{},
		hook:       &recordingHook{name: "test-hook"},
	}

	conversationRepo := memstore.NewMemoryConversationRepository(h.store)
	messageRepo := memstore.NewMemoryMessageRepository(h.store)
	hiddenRepo := memstore.NewMemoryHiddenMessageRepository(h.store)
	userRepo := memstore.NewMemoryUserRepository(h.store)
	timeout := time.Second

	h.conversations = NewConversationStore(conversationRepo, messageRepo, h.media, nil, timeout)
	h.conversations.now = h.clock.Now
	h.guard = NewBlockingGuard(memstore.NewMemoryBlockRepository(h.store), conversationRepo, timeout)
	h.guard.now = h.clock.Now
	h.sync = NewMessageSynchronizer(messageRepo, hiddenRepo, h.conversations, h.guard, h.media, nil, timeout)
	h.sync.now = h.clock.Now
	h.sync.SetResubscribeInterval(time.Millisecond)
	h.offers = NewOfferEngine(memstore.NewMemoryOfferRepository(h.store), userRepo, h.sync, h.guard,
		h.dispatcher, []service.AcceptanceHandler{h.hook}, nil, timeout, 0)
	h.offers.now = h.clock.Now
	h.lifecycle = NewMessageLifecycleManager(messageRepo, hiddenRepo, h.media, nil, 0, timeout)
	h.lifecycle.now = h.clock.Now

	h.store.PutUser(&entity.User{ID: "buyer", Username: "bao"})
	h.store.PutUser(&entity.User{ID: "seller", Username: "sang"})
	return h
}

func (h *harness) conversation(t *testing.T, productID string) *entity.Conversation {
	t.Helper()
	c, err := h.conversations.CreateOrGet(context.Background(), CreateConversationInput{
		ProductID:    productID,
		BuyerID:      "buyer",
		SellerID:     "seller",
		ProductTitle: "Vintage camera",
	})
	require.NoError(t, err)
	return c
}

// send writes a text message one second after the previous clock reading.
func (h *harness) send(t *testing.T, conversationID, from, to, content string) *entity.Message {
	t.Helper()
	h.clock.Advance(time.Second)
	m, err := h.sync.Send(context.Background(), SendMessageInput{
		ConversationID: conversationID,
		SenderID:       from,
		ReceiverID:     to,
		Content:        content,
	})
	require.NoError(t, err)
	return m
}

// waitFor reads timelines until cond holds.
func waitFor(t *testing.T, sub *Subscription, cond func(*Timeline) bool) *Timeline {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case tl, ok := <-sub.Updates():
			require.True(t, ok, "subscription ended: %v", sub.Err())
			if cond(tl) {
				return tl
			}
		case <-deadline:
			t.Fatalf("timed out waiting for timeline; latest=%+v", sub.Latest())
			return nil
		}
	}
}

func assertOrdered(t *testing.T, tl *Timeline) {
	t.Helper()
	for i := 1; i < len(tl.Messages); i++ {
		require.True(t, tl.Messages[i-1].Before(tl.Messages[i]),
			"timeline out of order at %d: %s then %s", i, tl.Messages[i-1].ID, tl.Messages[i].ID)
	}
}
