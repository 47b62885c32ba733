package entity

import "time"

// BlockRelation is the directed edge owner -> blocked user.
type BlockRelation struct {
	OwnerID       string    `json:"owner_id" firestore:"ownerId"`
	BlockedUserID string    `json:"blocked_user_id" firestore:"blockedUserId"`
	Blocked       bool      `json:"blocked" firestore:"blocked"`
	CreatedAt     time.Time `json:"created_at" firestore:"createdAt"`
}

// HiddenMessage suppresses one message for one viewer.
type HiddenMessage struct {
	ViewerID       string    `json:"viewer_id" firestore:"viewerId"`
	MessageID      string    `json:"message_id" firestore:"messageId"`
	ConversationID string    `json:"conversation_id" firestore:"conversationId"`
	HiddenAt       time.Time `json:"hidden_at" firestore:"hiddenAt"`
}
