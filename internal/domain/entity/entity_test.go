package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMessageBeforeBreaksTiesByID(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	a := &Message{ID: "a", Timestamp: at}
	b := &Message{ID: "b", Timestamp: at}
	earlier := &Message{ID: "z", Timestamp: at.Add(-time.Millisecond)}

	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
	assert.False(t, a.Before(a))
	assert.True(t, earlier.Before(a))
}

func TestMessagePreview(t *testing.T) {
	assert.Equal(t, "hi", (&Message{Type: MessageTypeText, Content: "hi"}).Preview())
	assert.Equal(t, "📷 Image", (&Message{Type: MessageTypeImage}).Preview())
	assert.Equal(t, DeletedPlaceholder, (&Message{Type: MessageTypeText, Content: "x", IsDeleted: true}).Preview())
	assert.Equal(t, "💰 Price Offer: 1,000 VNĐ", (&Message{Type: MessageTypeChatOffer, Content: "💰 Price Offer: 1,000 VNĐ\n📦 Lens"}).Preview())
}

func TestMessageCloneIsDeep(t *testing.T) {
	readAt := time.Now()
	m := &Message{ID: "m1", ReadAt: &readAt}
	c := m.Clone()
	*c.ReadAt = readAt.Add(time.Hour)
	assert.True(t, m.ReadAt.Equal(readAt))
	assert.Nil(t, (*Message)(nil).Clone())
}

func TestWatermarkOrdering(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	wm := &Watermark{Timestamp: at, MessageID: "m"}

	assert.True(t, wm.Covers(&Message{ID: "m", Timestamp: at}))
	assert.True(t, wm.Covers(&Message{ID: "a", Timestamp: at}))
	assert.False(t, wm.Covers(&Message{ID: "n", Timestamp: at}))
	assert.True(t, wm.Covers(&Message{ID: "z", Timestamp: at.Add(-time.Second)}))
	assert.False(t, wm.Covers(&Message{ID: "a", Timestamp: at.Add(time.Second)}))

	var none *Watermark
	assert.False(t, none.Covers(&Message{ID: "a", Timestamp: at}))
	assert.True(t, none.Behind(wm))
	assert.False(t, none.Behind(nil))
	assert.False(t, wm.Behind(nil))
	assert.False(t, wm.Behind(wm))
	assert.True(t, wm.Behind(&Watermark{Timestamp: at, MessageID: "n"}))
	assert.False(t, wm.Behind(&Watermark{Timestamp: at.Add(-time.Second), MessageID: "z"}))
}

func TestOfferStatus(t *testing.T) {
	assert.Equal(t, OfferStatusDeclined, NormalizeOfferStatus("REJECTED"))
	assert.Equal(t, OfferStatusAccepted, NormalizeOfferStatus(OfferStatusAccepted))
	assert.False(t, OfferStatusPending.IsTerminal())
	assert.True(t, OfferStatus("REJECTED").IsTerminal())
	assert.True(t, OfferStatusExpired.IsTerminal())
}

func TestConversationCounterpart(t *testing.T) {
	c := &Conversation{BuyerID: "b", SellerID: "s"}
	assert.Equal(t, "s", c.Counterpart("b"))
	assert.Equal(t, "b", c.Counterpart("s"))
	assert.Equal(t, "", c.Counterpart("x"))
	assert.True(t, c.Involves("s", "b"))
	assert.False(t, c.Involves("s", "x"))
	assert.False(t, c.HasParticipant(""))
}
