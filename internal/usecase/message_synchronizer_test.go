package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tradeup/internal/domain/entity"
	"tradeup/pkg/errors"
)

func TestSendBlockedLeavesTimelineUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.conversation(t, "p1")
	h.send(t, c.ID, "buyer", "seller", "hi")

	require.NoError(t, h.guard.Block(ctx, "seller", "buyer", c.ID))

	_, err := h.sync.Send(ctx, SendMessageInput{ConversationID: c.ID, SenderID: "buyer", ReceiverID: "seller", Content: "hello?"})
	assert.True(t, errors.Is(err, errors.CodeBlocked))

	// The block holds in the other direction too.
	_, err = h.sync.Send(ctx, SendMessageInput{ConversationID: c.ID, SenderID: "seller", ReceiverID: "buyer", Content: "bye"})
	assert.True(t, errors.Is(err, errors.CodeBlocked))

	tl, err := h.sync.History(ctx, c.ID, "seller")
	require.NoError(t, err)
	require.Len(t, tl.Messages, 1)
	assert.Equal(t, "hi", tl.Messages[0].Content)
}

func TestSendRejectsOutsiders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.conversation(t, "p1")

	_, err := h.sync.Send(ctx, SendMessageInput{ConversationID: c.ID, SenderID: "stranger", ReceiverID: "seller", Content: "hi"})
	assert.True(t, errors.Is(err, errors.CodeForbidden))

	_, err = h.sync.Send(ctx, SendMessageInput{ConversationID: c.ID, SenderID: "buyer", ReceiverID: "stranger", Content: "hi"})
	assert.True(t, errors.Is(err, errors.CodeBadRequest))

	_, err = h.sync.Send(ctx, SendMessageInput{ConversationID: c.ID, SenderID: "buyer", ReceiverID: "seller", Content: "   "})
	assert.True(t, errors.Is(err, errors.CodeBadRequest))
}

func TestSendSurvivesSummaryFailure(t *testing.T) {
	h := newHarness(t)
	c := h.conversation(t, "p1")
	h.store.FailNext("conversations.UpdateSummary", status.Error(codes.Unavailable, "offline"))

	m := h.send(t, c.ID, "buyer", "seller", "still works")
	assert.Equal(t, "still works", m.Content)
	assert.Equal(t, entity.MessageTypeText, m.Type)
}

func TestSendSurfacesRemoteFailure(t *testing.T) {
	h := newHarness(t)
	c := h.conversation(t, "p1")
	h.store.FailNext("messages.Create", status.Error(codes.Unavailable, "offline"))

	_, err := h.sync.Send(context.Background(), SendMessageInput{ConversationID: c.ID, SenderID: "buyer", ReceiverID: "seller", Content: "hi"})
	assert.True(t, errors.Is(err, errors.CodeRemoteUnavailable))
}

func TestTimelineIsOrderedWithTies(t *testing.T) {
	h := newHarness(t)
	c := h.conversation(t, "p1")
	at := h.clock.Advance(time.Minute)

	// Same timestamp, inserted out of id order.
	h.store.PutMessage(&entity.Message{ID: "m-b", ConversationID: c.ID, SenderID: "buyer", ReceiverID: "seller", Content: "b", Type: entity.MessageTypeText, Timestamp: at})
	h.store.PutMessage(&entity.Message{ID: "m-a", ConversationID: c.ID, SenderID: "seller", ReceiverID: "buyer", Content: "a", Type: entity.MessageTypeText, Timestamp: at})
	h.store.PutMessage(&entity.Message{ID: "m-0", ConversationID: c.ID, SenderID: "buyer", ReceiverID: "seller", Content: "earlier", Type: entity.MessageTypeText, Timestamp: at.Add(-time.Second)})

	sub, err := h.sync.Subscribe(context.Background(), c.ID, "buyer")
	require.NoError(t, err)
	defer sub.Close()

	tl := waitFor(t, sub, func(tl *Timeline) bool { return len(tl.Messages) == 3 })
	assertOrdered(t, tl)
	assert.Equal(t, []string{"m-0", "m-a", "m-b"}, []string{tl.Messages[0].ID, tl.Messages[1].ID, tl.Messages[2].ID})
}

func TestSubscriptionFollowsLiveUpdates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.conversation(t, "p1")
	first := h.send(t, c.ID, "buyer", "seller", "one")

	sub, err := h.sync.Subscribe(ctx, c.ID, "seller")
	require.NoError(t, err)
	defer sub.Close()

	waitFor(t, sub, func(tl *Timeline) bool { return len(tl.Messages) == 1 })

	h.send(t, c.ID, "seller", "buyer", "two")
	h.send(t, c.ID, "buyer", "seller", "three")
	tl := waitFor(t, sub, func(tl *Timeline) bool { return len(tl.Messages) == 3 })
	assertOrdered(t, tl)

	require.NoError(t, h.lifecycle.DeleteForEveryone(ctx, first.ID, "buyer"))
	tl = waitFor(t, sub, func(tl *Timeline) bool { return tl.Messages[0].IsDeleted })
	require.Len(t, tl.Messages, 3, "a tombstone never shrinks the timeline")
	assert.Equal(t, entity.DeletedPlaceholder, tl.Messages[0].Content)
	assert.Equal(t, tl, sub.Latest())
}

func TestSubscriptionHidesPerViewer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.conversation(t, "p1")
	m := h.send(t, c.ID, "buyer", "seller", "private")

	buyerSub, err := h.sync.Subscribe(ctx, c.ID, "buyer")
	require.NoError(t, err)
	defer buyerSub.Close()
	sellerSub, err := h.sync.Subscribe(ctx, c.ID, "seller")
	require.NoError(t, err)
	defer sellerSub.Close()

	waitFor(t, buyerSub, func(tl *Timeline) bool { return len(tl.Messages) == 1 })
	waitFor(t, sellerSub, func(tl *Timeline) bool { return len(tl.Messages) == 1 })

	require.NoError(t, h.lifecycle.DeleteForMe(ctx, m.ID, "seller"))

	tl := waitFor(t, sellerSub, func(tl *Timeline) bool { return tl.Messages[0].HiddenForViewer })
	assert.True(t, tl.Messages[0].IsDeleted)
	assert.Equal(t, entity.DeletedPlaceholder, tl.Messages[0].Content)

	// The sender's view is untouched.
	history, err := h.sync.History(ctx, c.ID, "buyer")
	require.NoError(t, err)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "private", history.Messages[0].Content)
	assert.False(t, history.Messages[0].IsDeleted)
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	h := newHarness(t)
	c := h.conversation(t, "p1")

	sub, err := h.sync.Subscribe(context.Background(), c.ID, "buyer")
	require.NoError(t, err)
	waitFor(t, sub, func(*Timeline) bool { return true })

	sub.Close()
	sub.Close()

	_, ok := <-sub.Updates()
	assert.False(t, ok)
	assert.NoError(t, sub.Err())
	assert.Equal(t, 0, h.store.ActiveWatches())
}

func TestSubscriptionDropsUnreadTimelineOnClose(t *testing.T) {
	h := newHarness(t)
	c := h.conversation(t, "p1")
	h.send(t, c.ID, "buyer", "seller", "unread")

	sub, err := h.sync.Subscribe(context.Background(), c.ID, "buyer")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sub.Latest() != nil }, 2*time.Second, 5*time.Millisecond)

	sub.Close()

	tl, ok := <-sub.Updates()
	assert.False(t, ok)
	assert.Nil(t, tl)
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	h := newHarness(t)
	c := h.conversation(t, "p1")
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := h.sync.Subscribe(ctx, c.ID, "buyer")
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.Updates():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	sub.Close()
}

func TestSubscriptionResubscribesAfterDrop(t *testing.T) {
	h := newHarness(t)
	c := h.conversation(t, "p1")
	h.send(t, c.ID, "buyer", "seller", "before")

	sub, err := h.sync.Subscribe(context.Background(), c.ID, "buyer")
	require.NoError(t, err)
	defer sub.Close()
	waitFor(t, sub, func(tl *Timeline) bool { return len(tl.Messages) == 1 })

	h.store.BreakWatches(status.Error(codes.Unavailable, "stream reset"))
	h.send(t, c.ID, "seller", "buyer", "after")

	tl := waitFor(t, sub, func(tl *Timeline) bool { return len(tl.Messages) == 2 })
	assertOrdered(t, tl)
	assert.NoError(t, sub.Err())
}

func TestSubscriptionStopsOnPermanentFailure(t *testing.T) {
	h := newHarness(t)
	c := h.conversation(t, "p1")

	sub, err := h.sync.Subscribe(context.Background(), c.ID, "buyer")
	require.NoError(t, err)
	defer sub.Close()
	waitFor(t, sub, func(*Timeline) bool { return true })

	h.store.BreakWatches(status.Error(codes.PermissionDenied, "rules"))

	deadline := time.After(2 * time.Second)
	for open := true; open; {
		select {
		case _, open = <-sub.Updates():
		case <-deadline:
			t.Fatal("subscription did not end")
		}
	}
	assert.True(t, errors.Is(sub.Err(), errors.CodeForbidden))
}

func TestSubscribeRequiresParticipant(t *testing.T) {
	h := newHarness(t)
	c := h.conversation(t, "p1")

	_, err := h.sync.Subscribe(context.Background(), c.ID, "stranger")
	assert.True(t, errors.Is(err, errors.CodeForbidden))
}

func TestMarkRead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.conversation(t, "p1")
	h.send(t, c.ID, "buyer", "seller", "one")
	h.send(t, c.ID, "buyer", "seller", "two")
	h.send(t, c.ID, "seller", "buyer", "three")

	n, err := h.sync.MarkRead(ctx, c.ID, "seller")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = h.sync.MarkRead(ctx, c.ID, "seller")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	tl, err := h.sync.History(ctx, c.ID, "seller")
	require.NoError(t, err)
	assert.True(t, tl.Messages[0].Read)
	assert.True(t, tl.Messages[1].Read)
	assert.False(t, tl.Messages[2].Read)
}

func TestSendImage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.conversation(t, "p1")

	m, err := h.sync.SendImage(ctx, SendImageInput{
		ConversationID: c.ID, SenderID: "buyer", ReceiverID: "seller",
		File: strings.NewReader("png"), ContentType: "image/png", FileName: "lens.png", Caption: "scratch here",
	})
	require.NoError(t, err)
	assert.Equal(t, entity.MessageTypeImage, m.Type)
	assert.Contains(t, m.ImageURL, "chat_images/"+c.ID)
	assert.Equal(t, "lens.png", m.ImageFileName)
	assert.Empty(t, h.media.Deleted())
}

func TestSendImageRemovesUploadOnFailure(t *testing.T) {
	h := newHarness(t)
	c := h.conversation(t, "p1")
	h.store.FailNext("messages.Create", status.Error(codes.Internal, "boom"))

	_, err := h.sync.SendImage(context.Background(), SendImageInput{
		ConversationID: c.ID, SenderID: "buyer", ReceiverID: "seller",
		File: strings.NewReader("png"), ContentType: "image/png",
	})
	require.Error(t, err)
	assert.Len(t, h.media.Deleted(), 1)
}

func TestSendAsync(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.conversation(t, "p1")

	m, err := h.sync.SendAsync(ctx, SendMessageInput{ConversationID: c.ID, SenderID: "buyer", ReceiverID: "seller", Content: "async"}).Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, "async", m.Content)
}
