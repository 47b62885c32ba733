package kafka

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/repository"
	"tradeup/pkg/errors"
	"tradeup/pkg/logger"
)

// OfferAcceptedHookName identifies the publisher among acceptance hooks.
const OfferAcceptedHookName = "offer-accepted-event"

const EventOfferAccepted = "offer.accepted"

// MessageWriter is the subset of *kafkago.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// OfferAcceptedEvent is consumed by the transaction service to open a
// purchase for the accepted price.
type OfferAcceptedEvent struct {
	Type           string    `json:"type"`
	OfferID        string    `json:"offer_id"`
	ConversationID string    `json:"conversation_id"`
	ProductID      string    `json:"product_id"`
	BuyerID        string    `json:"buyer_id"`
	SellerID       string    `json:"seller_id"`
	Price          int64     `json:"price"`
	AcceptedAt     time.Time `json:"accepted_at"`
}

// OfferEventPublisher emits one event per accepted offer, keyed by offer id
// so replays land on the same partition and consumers can dedupe.
type OfferEventPublisher struct {
	writer        MessageWriter
	topic         string
	conversations repository.ConversationRepository
}

func NewOfferEventPublisher(brokers []string, topic string, conversations repository.ConversationRepository) *OfferEventPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return NewOfferEventPublisherWithWriter(w, topic, conversations)
}

func NewOfferEventPublisherWithWriter(writer MessageWriter, topic string, conversations repository.ConversationRepository) *OfferEventPublisher {
	return &OfferEventPublisher{writer: writer, topic: topic, conversations: conversations}
}

func (p *OfferEventPublisher) Name() string { return OfferAcceptedHookName }

// OnOfferAccepted publishes the acceptance. Buyer and seller come from the
// conversation since either of them may have made the final offer.
func (p *OfferEventPublisher) OnOfferAccepted(ctx context.Context, offer *entity.Offer) error {
	conversation, err := p.conversations.GetByID(ctx, offer.ConversationID)
	if err != nil {
		return err
	}
	buyer, seller := conversation.BuyerID, conversation.SellerID
	acceptedAt := offer.CreatedAt
	if offer.RespondedAt != nil {
		acceptedAt = *offer.RespondedAt
	}

	event := OfferAcceptedEvent{
		Type:           EventOfferAccepted,
		OfferID:        offer.ID,
		ConversationID: offer.ConversationID,
		ProductID:      offer.ProductID,
		BuyerID:        buyer,
		SellerID:       seller,
		Price:          offer.OfferPrice,
		AcceptedAt:     acceptedAt,
	}
	value, err := json.Marshal(event)
	if err != nil {
		return errors.Internal("failed to encode offer event", err)
	}

	msg := kafkago.Message{
		Key:   []byte(offer.ID),
		Value: value,
		Time:  acceptedAt,
		Headers: []kafkago.Header{
			{Key: "type", Value: []byte(EventOfferAccepted)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logger.Error("OfferEventPublisher Error: offer %s to %s: %v", offer.ID, p.topic, err)
		return errors.RemoteUnavailable("failed to publish offer event", err)
	}
	logger.Info("OfferEventPublisher: published acceptance of offer %s", offer.ID)
	return nil
}

func (p *OfferEventPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
