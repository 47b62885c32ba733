package service

import (
	"context"
)

type OfferEventKind string

const (
	OfferEventCreated   OfferEventKind = "offer_created"
	OfferEventCountered OfferEventKind = "offer_countered"
	OfferEventAccepted  OfferEventKind = "offer_accepted"
	OfferEventDeclined  OfferEventKind = "offer_declined"
)

// NewMessageNotification describes one inbound chat message. EventID is
// stable for the logical event so dispatchers can drop repeats.
type NewMessageNotification struct {
	EventID        string
	ConversationID string
	SenderID       string
	SenderName     string
	Preview        string
	ReceiverID     string
}

type OfferNotification struct {
	EventID          string
	Kind             OfferEventKind
	OfferID          string
	ConversationID   string
	ProductID        string
	ProductTitle     string
	Amount           int64
	CounterpartyName string
	RecipientID      string
}

// NotificationDispatcher fans events out to users. Implementations must be
// idempotent per EventID.
type NotificationDispatcher interface {
	NotifyNewMessage(ctx context.Context, n NewMessageNotification) error
	NotifyOfferEvent(ctx context.Context, n OfferNotification) error
}
