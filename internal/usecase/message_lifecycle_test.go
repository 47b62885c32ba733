package usecase

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeup/internal/domain/entity"
	"tradeup/pkg/errors"
)

func TestDeleteForEveryoneOutsideWindow(t *testing.T) {
	h := newHarness(t)
	c := h.conversation(t, "p1")
	ctx := context.Background()
	m := h.send(t, c.ID, "buyer", "seller", "old news")
	h.clock.Advance(8 * 24 * time.Hour)

	for _, requester := range []string{"buyer", "seller", "stranger"} {
		err := h.lifecycle.DeleteForEveryone(ctx, m.ID, requester)
		assert.True(t, errors.Is(err, errors.CodeDeletionWindowExpired), "requester %s", requester)
	}
	assert.Zero(t, h.store.Calls("messages.Tombstone"))

	// Hiding it for oneself has no age limit.
	require.NoError(t, h.lifecycle.DeleteForMe(ctx, m.ID, "buyer"))
}

func TestDeleteForEveryoneAtWindowEdge(t *testing.T) {
	h := newHarness(t)
	c := h.conversation(t, "p1")
	m := h.send(t, c.ID, "buyer", "seller", "just in time")
	h.clock.Advance(DefaultDeletionWindow)

	require.NoError(t, h.lifecycle.DeleteForEveryone(context.Background(), m.ID, "buyer"))
}

func TestDeleteForEveryoneOnlySender(t *testing.T) {
	h := newHarness(t)
	c := h.conversation(t, "p1")
	m := h.send(t, c.ID, "buyer", "seller", "mine")

	err := h.lifecycle.DeleteForEveryone(context.Background(), m.ID, "seller")
	assert.True(t, errors.Is(err, errors.CodeForbidden))

	err = h.lifecycle.DeleteForEveryone(context.Background(), "missing", "buyer")
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestDeleteForEveryoneTombstonesDespiteMediaFailure(t *testing.T) {
	h := newHarness(t)
	c := h.conversation(t, "p1")
	ctx := context.Background()
	h.media.failDelete = stderrors.New("bucket unreachable")

	m, err := h.sync.SendImage(ctx, SendImageInput{
		ConversationID: c.ID, SenderID: "buyer", ReceiverID: "seller",
		File: strings.NewReader("jpeg"), ContentType: "image/jpeg",
	})
	require.NoError(t, err)

	require.NoError(t, h.lifecycle.DeleteForEveryone(ctx, m.ID, "buyer"))
	assert.Equal(t, []string{m.ImageURL}, h.media.Deleted())

	tl, err := h.sync.History(ctx, c.ID, "seller")
	require.NoError(t, err)
	require.Len(t, tl.Messages, 1)
	got := tl.Messages[0]
	assert.True(t, got.IsDeleted)
	assert.True(t, got.DeletedForEveryone)
	assert.Equal(t, "buyer", got.DeletedBy)
	assert.Equal(t, entity.DeletedPlaceholder, got.Content)
	assert.Empty(t, got.ImageURL)

	// Repeating is a no-op.
	require.NoError(t, h.lifecycle.DeleteForEveryone(ctx, m.ID, "buyer"))
	assert.Len(t, h.media.Deleted(), 1)
	assert.Equal(t, 1, h.store.Calls("messages.Tombstone"))
}

func TestDeleteForMeIsPerViewer(t *testing.T) {
	h := newHarness(t)
	c := h.conversation(t, "p1")
	ctx := context.Background()
	m := h.send(t, c.ID, "buyer", "seller", "hello")

	require.NoError(t, h.lifecycle.DeleteForMe(ctx, m.ID, "seller"))
	require.NoError(t, h.lifecycle.DeleteForMe(ctx, m.ID, "seller"))

	sellerView, err := h.sync.History(ctx, c.ID, "seller")
	require.NoError(t, err)
	assert.True(t, sellerView.Messages[0].HiddenForViewer)

	buyerView, err := h.sync.History(ctx, c.ID, "buyer")
	require.NoError(t, err)
	assert.False(t, buyerView.Messages[0].IsDeleted)
	assert.Equal(t, "hello", buyerView.Messages[0].Content)

	err = h.lifecycle.DeleteForMe(ctx, m.ID, "stranger")
	assert.True(t, errors.Is(err, errors.CodeForbidden))
}

func TestDeleteManyReportsPartialFailure(t *testing.T) {
	h := newHarness(t)
	c := h.conversation(t, "p1")
	ctx := context.Background()
	mine := h.send(t, c.ID, "buyer", "seller", "one")
	theirs := h.send(t, c.ID, "seller", "buyer", "two")
	alsoMine := h.send(t, c.ID, "buyer", "seller", "three")

	res, err := h.lifecycle.DeleteMany(ctx, []string{mine.ID, theirs.ID, alsoMine.ID, mine.ID, "missing"}, "buyer", true)
	assert.True(t, errors.Is(err, errors.CodePartialFailure))
	require.NotNil(t, res)
	assert.Equal(t, []string{mine.ID, alsoMine.ID}, res.Succeeded)
	require.Len(t, res.Failed, 2)
	assert.Equal(t, theirs.ID, res.Failed[0].MessageID)
	assert.Equal(t, errors.CodeForbidden, res.Failed[0].Code)
	assert.Equal(t, "missing", res.Failed[1].MessageID)
	assert.Equal(t, errors.CodeNotFound, res.Failed[1].Code)
	assert.Contains(t, err.Error(), "2 of 4 deletions failed")
}

func TestDeleteManyAllSucceed(t *testing.T) {
	h := newHarness(t)
	c := h.conversation(t, "p1")
	ctx := context.Background()
	a := h.send(t, c.ID, "buyer", "seller", "one")
	b := h.send(t, c.ID, "seller", "buyer", "two")

	res, err := h.lifecycle.DeleteMany(ctx, []string{a.ID, b.ID}, "buyer", false)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID}, res.Succeeded)
	assert.Empty(t, res.Failed)
}

func TestReportMessage(t *testing.T) {
	h := newHarness(t)
	c := h.conversation(t, "p1")
	ctx := context.Background()
	m := h.send(t, c.ID, "buyer", "seller", "buy outside the app")

	require.NoError(t, h.lifecycle.Report(ctx, m.ID, "seller", "off-platform payment"))
	err := h.lifecycle.Report(ctx, m.ID, "stranger", "spam")
	assert.True(t, errors.Is(err, errors.CodeForbidden))

	tl, err := h.sync.History(ctx, c.ID, "seller")
	require.NoError(t, err)
	assert.True(t, tl.Messages[0].IsReported)
}

func TestDeleteAsync(t *testing.T) {
	h := newHarness(t)
	c := h.conversation(t, "p1")
	ctx := context.Background()
	m := h.send(t, c.ID, "buyer", "seller", "bye")

	_, err := h.lifecycle.DeleteForMeAsync(ctx, m.ID, "seller").Await(ctx)
	require.NoError(t, err)
	_, err = h.lifecycle.DeleteForEveryoneAsync(ctx, m.ID, "buyer").Await(ctx)
	require.NoError(t, err)
}
