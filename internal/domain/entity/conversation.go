package entity

import "time"

type Conversation struct {
	ID           string   `json:"id" firestore:"id"`
	ProductID    string   `json:"product_id" firestore:"productId"`
	BuyerID      string   `json:"buyer_id" firestore:"buyerId"`
	SellerID     string   `json:"seller_id" firestore:"sellerId"`
	Participants []string `json:"participants" firestore:"participants"`
	ProductTitle string   `json:"product_title,omitempty" firestore:"productTitle,omitempty"`
	ProductImage string   `json:"product_image,omitempty" firestore:"productImage,omitempty"`

	LastMessage         string    `json:"last_message" firestore:"lastMessage"`
	LastMessageTime     time.Time `json:"last_message_time" firestore:"lastMessageTime"`
	LastMessageSenderID string    `json:"last_message_sender_id,omitempty" firestore:"lastMessageSenderId,omitempty"`

	// BlockedUsers is the legacy per-conversation block flag. The per-user
	// block list is authoritative.
	BlockedUsers map[string]bool `json:"blocked_users,omitempty" firestore:"blockedUsers,omitempty"`

	IsReported   bool       `json:"is_reported" firestore:"isReported"`
	ReportedBy   string     `json:"reported_by,omitempty" firestore:"reportedBy,omitempty"`
	ReportReason string     `json:"report_reason,omitempty" firestore:"reportReason,omitempty"`
	ReportedAt   *time.Time `json:"reported_at,omitempty" firestore:"reportedAt,omitempty"`

	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
}

// ConversationSummary is the denormalized, last-write-wins preview of the
// newest message. It is a cache and never authoritative.
type ConversationSummary struct {
	LastMessage         string
	LastMessageTime     time.Time
	LastMessageSenderID string
}

type Report struct {
	ReporterID string
	Reason     string
	ReportedAt time.Time
}

func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.BuyerID == userID || c.SellerID == userID)
}

// Counterpart returns the other participant, or "" when userID is not one.
func (c *Conversation) Counterpart(userID string) string {
	switch userID {
	case c.BuyerID:
		return c.SellerID
	case c.SellerID:
		return c.BuyerID
	}
	return ""
}

// Involves reports whether the conversation is between a and b in either
// orientation.
func (c *Conversation) Involves(a, b string) bool {
	return (c.BuyerID == a && c.SellerID == b) || (c.BuyerID == b && c.SellerID == a)
}

func (c *Conversation) Summary() ConversationSummary {
	return ConversationSummary{
		LastMessage:         c.LastMessage,
		LastMessageTime:     c.LastMessageTime,
		LastMessageSenderID: c.LastMessageSenderID,
	}
}
