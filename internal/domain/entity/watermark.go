package entity

import "time"

// Watermark is the newest inbox message a user has been notified about.
type Watermark struct {
	UserID    string    `json:"user_id" firestore:"userId"`
	Timestamp time.Time `json:"timestamp" firestore:"timestamp"`
	MessageID string    `json:"message_id" firestore:"messageId"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updatedAt"`
}

// Covers reports whether m is at or below the watermark in (timestamp, id) order.
func (w *Watermark) Covers(m *Message) bool {
	if w == nil {
		return false
	}
	if !m.Timestamp.Equal(w.Timestamp) {
		return m.Timestamp.Before(w.Timestamp)
	}
	return m.ID <= w.MessageID
}

// Behind reports whether other is strictly newer than w.
func (w *Watermark) Behind(other *Watermark) bool {
	if w == nil {
		return other != nil
	}
	if other == nil {
		return false
	}
	if !other.Timestamp.Equal(w.Timestamp) {
		return other.Timestamp.After(w.Timestamp)
	}
	return other.MessageID > w.MessageID
}
