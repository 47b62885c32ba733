package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	memstore "tradeup/internal/adapter/repository"
	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/repository"
)

func inbound(id string, at time.Time) *entity.Message {
	return &entity.Message{ID: id, ConversationID: "c1", SenderID: "seller", ReceiverID: "buyer", Content: id, Type: entity.MessageTypeText, Timestamp: at}
}

func newTestFilter(t *testing.T, watermarks repository.WatermarkRepository, maxAge time.Duration) (*NoveltyFilter, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: epoch.Add(time.Hour)}
	f := NewNoveltyFilter("buyer", watermarks, nil, maxAge, time.Second)
	f.now = clk.Now
	return f, clk
}

func ids(ms []*entity.Message) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}

func TestNoveltyBackfillIsNotFresh(t *testing.T) {
	store := memstore.NewMemoryStore()
	watermarks := memstore.NewMemoryWatermarkRepository(store)
	f, _ := newTestFilter(t, watermarks, 0)
	ctx := context.Background()

	backfill := []*entity.Message{inbound("m1", epoch), inbound("m2", epoch.Add(time.Minute))}
	assert.Empty(t, f.Observe(ctx, backfill))

	wm, err := watermarks.Get(ctx, "buyer")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, "m2", wm.MessageID)

	live := inbound("m3", epoch.Add(2*time.Minute))
	fresh := f.Observe(ctx, append(backfill, live))
	assert.Equal(t, []string{"m3"}, ids(fresh))
}

func TestNoveltyReplayIsFreshAtMostOnce(t *testing.T) {
	f, _ := newTestFilter(t, nil, 0)
	ctx := context.Background()
	f.Observe(ctx, nil)

	m := inbound("m1", epoch)
	assert.Equal(t, []string{"m1"}, ids(f.Observe(ctx, []*entity.Message{m})))
	assert.Empty(t, f.Observe(ctx, []*entity.Message{m}))
	assert.Empty(t, f.Observe(ctx, []*entity.Message{m, m}))
}

func TestNoveltySkipsOwnAndForeignMessages(t *testing.T) {
	f, _ := newTestFilter(t, nil, 0)
	ctx := context.Background()
	f.Observe(ctx, nil)

	own := inbound("mine", epoch)
	own.SenderID, own.ReceiverID = "buyer", "seller"
	foreign := inbound("theirs", epoch)
	foreign.ReceiverID = "someone-else"
	deleted := inbound("gone", epoch)
	deleted.IsDeleted = true

	assert.Empty(t, f.Observe(ctx, []*entity.Message{own, foreign, deleted}))
}

func TestNoveltyCatchUpAboveStoredWatermark(t *testing.T) {
	store := memstore.NewMemoryStore()
	watermarks := memstore.NewMemoryWatermarkRepository(store)
	ctx := context.Background()
	require.NoError(t, watermarks.Advance(ctx, &entity.Watermark{UserID: "buyer", Timestamp: epoch.Add(time.Minute), MessageID: "m2"}))

	f, _ := newTestFilter(t, watermarks, 0)
	snapshot := []*entity.Message{
		inbound("m4", epoch.Add(3*time.Minute)),
		inbound("m1", epoch),
		inbound("m2", epoch.Add(time.Minute)),
		inbound("m3", epoch.Add(2*time.Minute)),
	}
	assert.Equal(t, []string{"m3", "m4"}, ids(f.Observe(ctx, snapshot)))

	wm, err := watermarks.Get(ctx, "buyer")
	require.NoError(t, err)
	assert.Equal(t, "m4", wm.MessageID)
}

func TestNoveltyWatermarkNeverMovesBack(t *testing.T) {
	store := memstore.NewMemoryStore()
	watermarks := memstore.NewMemoryWatermarkRepository(store)
	ctx := context.Background()
	f, _ := newTestFilter(t, watermarks, 0)

	f.Observe(ctx, []*entity.Message{inbound("m5", epoch.Add(5*time.Minute))})
	delayed := inbound("m1", epoch)
	assert.Equal(t, []string{"m1"}, ids(f.Observe(ctx, []*entity.Message{delayed})), "a late live arrival is still fresh")

	wm, err := watermarks.Get(ctx, "buyer")
	require.NoError(t, err)
	assert.Equal(t, "m5", wm.MessageID)
}

func TestNoveltyDropsStaleMessages(t *testing.T) {
	f, clk := newTestFilter(t, nil, 10*time.Minute)
	ctx := context.Background()
	f.Observe(ctx, nil)

	now := clk.Now()
	old := inbound("old", now.Add(-time.Hour))
	recent := inbound("recent", now.Add(-time.Minute))
	assert.Equal(t, []string{"recent"}, ids(f.Observe(ctx, []*entity.Message{old, recent})))
}

func TestNoveltyTreatsUnreadableWatermarkAsBackfill(t *testing.T) {
	store := memstore.NewMemoryStore()
	store.FailNext("watermarks.Get", status.Error(codes.Unavailable, "offline"))
	f, _ := newTestFilter(t, memstore.NewMemoryWatermarkRepository(store), 0)

	assert.Empty(t, f.Observe(context.Background(), []*entity.Message{inbound("m1", epoch)}))
}

func TestNoveltyOrdersFreshMessages(t *testing.T) {
	f, _ := newTestFilter(t, nil, 0)
	ctx := context.Background()
	f.Observe(ctx, nil)

	batch := []*entity.Message{inbound("b", epoch), inbound("c", epoch.Add(-time.Second)), inbound("a", epoch)}
	assert.Equal(t, []string{"c", "a", "b"}, ids(f.Observe(ctx, batch)))
}

func TestNoveltyForgetsIdsBehindWatermark(t *testing.T) {
	f, _ := newTestFilter(t, nil, 0)
	ctx := context.Background()
	f.Observe(ctx, nil)

	first := inbound("m1", epoch)
	near := inbound("m2", epoch.Add(25*time.Minute))
	assert.Equal(t, []string{"m1", "m2"}, ids(f.Observe(ctx, []*entity.Message{first, near})))

	latest := inbound("m3", epoch.Add(30*time.Minute))
	assert.Equal(t, []string{"m3"}, ids(f.Observe(ctx, []*entity.Message{first, near, latest})))

	f.mu.Lock()
	_, kept := f.seen["m2"]
	_, pruned := f.seen["m1"]
	tracked := len(f.seen)
	f.mu.Unlock()
	assert.True(t, kept)
	assert.False(t, pruned)
	assert.Equal(t, 2, tracked)

	// A forgotten id redelivered later is history, not news.
	assert.Empty(t, f.Observe(ctx, []*entity.Message{first, near, latest}))
}
