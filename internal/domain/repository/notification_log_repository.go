package repository

import "context"

// NotificationLogRepository records which notification events were already
// pushed so redelivered events are sent once.
type NotificationLogRepository interface {
	// Claim returns true the first time eventID is seen.
	Claim(ctx context.Context, eventID string) (bool, error)
}
