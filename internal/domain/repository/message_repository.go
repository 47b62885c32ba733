package repository

import (
	"context"
	"time"

	"tradeup/internal/domain/entity"
)

type MessageRepository interface {
	// Create writes a message under its pre-assigned id and fails with
	// CONFLICT if that id is taken.
	Create(ctx context.Context, message *entity.Message) error
	GetByID(ctx context.Context, id string) (*entity.Message, error)
	ListByConversation(ctx context.Context, conversationID string) ([]*entity.Message, error)
	// Latest returns the newest message in (timestamp, id) order, or nil
	// when the conversation has none.
	Latest(ctx context.Context, conversationID string) (*entity.Message, error)
	// MarkRead flags every unread message addressed to readerID and returns
	// how many changed.
	MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error)
	Tombstone(ctx context.Context, id string, tombstone entity.Tombstone) error
	MarkReported(ctx context.Context, id string, report entity.Report) error
	DeleteByConversation(ctx context.Context, conversationID string) error

	WatchConversation(ctx context.Context, conversationID string) SnapshotIterator[*entity.Message]
	WatchInbox(ctx context.Context, receiverID string) SnapshotIterator[*entity.Message]
}
