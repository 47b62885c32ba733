package kafka

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memstore "tradeup/internal/adapter/repository"
	"tradeup/internal/domain/entity"
	"tradeup/pkg/errors"
)

type fakeWriter struct {
	messages []kafkago.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func newPublisher(t *testing.T) (*OfferEventPublisher, *fakeWriter) {
	t.Helper()
	store := memstore.NewMemoryStore()
	store.PutConversation(&entity.Conversation{
		ID:           "c1",
		ProductID:    "p1",
		BuyerID:      "buyer",
		SellerID:     "seller",
		Participants: []string{"buyer", "seller"},
	})
	w := &fakeWriter{}
	return NewOfferEventPublisherWithWriter(w, "offer-events", memstore.NewMemoryConversationRepository(store)), w
}

func TestOnOfferAcceptedPublishesKeyedEvent(t *testing.T) {
	p, w := newPublisher(t)
	responded := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	// a counter from the seller accepted by the buyer
	err := p.OnOfferAccepted(context.Background(), &entity.Offer{
		ID:             "o2",
		ConversationID: "c1",
		ProductID:      "p1",
		SenderID:       "seller",
		ReceiverID:     "buyer",
		OfferPrice:     480000,
		CounterOfferID: "o1",
		Status:         entity.OfferStatusAccepted,
		RespondedAt:    &responded,
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "o2", string(msg.Key))
	assert.Equal(t, responded, msg.Time)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, EventOfferAccepted, string(msg.Headers[0].Value))

	var event OfferAcceptedEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, OfferAcceptedEvent{
		Type:           EventOfferAccepted,
		OfferID:        "o2",
		ConversationID: "c1",
		ProductID:      "p1",
		BuyerID:        "buyer",
		SellerID:       "seller",
		Price:          480000,
		AcceptedAt:     responded,
	}, event)
}

func TestOnOfferAcceptedWriteFailureIsRetryable(t *testing.T) {
	p, w := newPublisher(t)
	w.err = stderrors.New("kafka: leader not available")

	err := p.OnOfferAccepted(context.Background(), &entity.Offer{ID: "o1", ConversationID: "c1", SenderID: "buyer", ReceiverID: "seller"})
	assert.True(t, errors.Is(err, errors.CodeRemoteUnavailable))
	assert.False(t, errors.IsTerminal(err))
}

func TestOnOfferAcceptedUnknownConversation(t *testing.T) {
	p, w := newPublisher(t)

	err := p.OnOfferAccepted(context.Background(), &entity.Offer{ID: "o1", ConversationID: "missing"})
	assert.True(t, errors.Is(err, errors.CodeNotFound))
	assert.Empty(t, w.messages)
}

func TestPublisherNameAndClose(t *testing.T) {
	p, w := newPublisher(t)
	assert.Equal(t, OfferAcceptedHookName, p.Name())
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
