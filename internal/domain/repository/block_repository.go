package repository

import (
	"context"

	"tradeup/internal/domain/entity"
)

type BlockRepository interface {
	Exists(ctx context.Context, ownerID, targetID string) (bool, error)
	Put(ctx context.Context, relation *entity.BlockRelation) error
	// Remove is a no-op for a missing edge.
	Remove(ctx context.Context, ownerID, targetID string) error
	List(ctx context.Context, ownerID string) ([]*entity.BlockRelation, error)
}

type HiddenMessageRepository interface {
	Hide(ctx context.Context, hidden *entity.HiddenMessage) error
	ListHidden(ctx context.Context, viewerID, conversationID string) ([]*entity.HiddenMessage, error)
	WatchHidden(ctx context.Context, viewerID, conversationID string) SnapshotIterator[*entity.HiddenMessage]
}
