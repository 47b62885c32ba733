package entity

import (
	"strings"
	"time"
)

type MessageType string

const (
	MessageTypeText          MessageType = "text"
	MessageTypeImage         MessageType = "image"
	MessageTypeOffer         MessageType = "offer"
	MessageTypeChatOffer     MessageType = "chat_offer"
	MessageTypeOfferResponse MessageType = "offer_response"
	MessageTypeSystem        MessageType = "system"
)

// DeletedPlaceholder replaces the content of a tombstoned message.
const DeletedPlaceholder = "This message was deleted"

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeOffer, MessageTypeChatOffer,
		MessageTypeOfferResponse, MessageTypeSystem:
		return true
	}
	return false
}

type Message struct {
	ID             string      `json:"id" firestore:"id"`
	ConversationID string      `json:"conversation_id" firestore:"conversationId"`
	SenderID       string      `json:"sender_id" firestore:"senderId"`
	ReceiverID     string      `json:"receiver_id" firestore:"receiverId"`
	Content        string      `json:"content" firestore:"content"`
	Type           MessageType `json:"message_type" firestore:"messageType"`
	ImageURL       string      `json:"image_url,omitempty" firestore:"imageUrl,omitempty"`
	ImageFileName  string      `json:"image_file_name,omitempty" firestore:"imageFileName,omitempty"`
	Timestamp      time.Time   `json:"timestamp" firestore:"timestamp"`

	Read   bool       `json:"read" firestore:"read"`
	ReadAt *time.Time `json:"read_at,omitempty" firestore:"readAt,omitempty"`

	IsDeleted          bool       `json:"is_deleted" firestore:"isDeleted"`
	DeletedBy          string     `json:"deleted_by,omitempty" firestore:"deletedBy,omitempty"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty" firestore:"deletedAt,omitempty"`
	DeletedForEveryone bool       `json:"deleted_for_everyone" firestore:"deletedForEveryone"`

	// Offer snapshot, set on chat_offer and offer_response messages.
	OfferID       string      `json:"offer_id,omitempty" firestore:"offerId,omitempty"`
	OfferAmount   int64       `json:"offer_amount,omitempty" firestore:"offerAmount,omitempty"`
	OriginalPrice int64       `json:"original_price,omitempty" firestore:"originalPrice,omitempty"`
	OfferStatus   OfferStatus `json:"offer_status,omitempty" firestore:"offerStatus,omitempty"`
	ProductID     string      `json:"product_id,omitempty" firestore:"productId,omitempty"`

	IsReported   bool       `json:"is_reported,omitempty" firestore:"isReported,omitempty"`
	ReportedBy   string     `json:"reported_by,omitempty" firestore:"reportedBy,omitempty"`
	ReportReason string     `json:"report_reason,omitempty" firestore:"reportReason,omitempty"`
	ReportedAt   *time.Time `json:"reported_at,omitempty" firestore:"reportedAt,omitempty"`

	// HiddenForViewer marks a viewer-local tombstone. It is never persisted.
	HiddenForViewer bool `json:"hidden_for_viewer,omitempty" firestore:"-"`
}

// Tombstone is the partial update written by delete-for-everyone.
type Tombstone struct {
	DeletedBy string
	DeletedAt time.Time
}

// Before orders messages by timestamp, then by id.
func (m *Message) Before(other *Message) bool {
	if !m.Timestamp.Equal(other.Timestamp) {
		return m.Timestamp.Before(other.Timestamp)
	}
	return m.ID < other.ID
}

func (m *Message) HasMedia() bool {
	return m.ImageURL != ""
}

func (m *Message) IsOffer() bool {
	return m.Type == MessageTypeChatOffer || m.Type == MessageTypeOffer
}

// Preview is the short text used for conversation summaries and notifications.
func (m *Message) Preview() string {
	if m.IsDeleted {
		return DeletedPlaceholder
	}
	switch m.Type {
	case MessageTypeImage:
		return "📷 Image"
	case MessageTypeChatOffer, MessageTypeOffer:
		if i := strings.IndexByte(m.Content, '\n'); i > 0 {
			return m.Content[:i]
		}
	}
	const max = 100
	if r := []rune(m.Content); len(r) > max {
		return string(r[:max]) + "…"
	}
	return m.Content
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.ReadAt != nil {
		t := *m.ReadAt
		c.ReadAt = &t
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		c.DeletedAt = &t
	}
	if m.ReportedAt != nil {
		t := *m.ReportedAt
		c.ReportedAt = &t
	}
	return &c
}
