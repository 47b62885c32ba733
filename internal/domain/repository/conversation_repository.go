package repository

import (
	"context"

	"tradeup/internal/domain/entity"
)

type ConversationRepository interface {
	// Create fails with CONFLICT when a conversation with the same id exists.
	Create(ctx context.Context, conversation *entity.Conversation) error
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
	// FindByProduct returns every conversation about a product, including
	// ones created under the legacy random-id scheme.
	FindByProduct(ctx context.Context, productID string) ([]*entity.Conversation, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*entity.Conversation, error)
	UpdateSummary(ctx context.Context, id string, summary entity.ConversationSummary) error
	SetLegacyBlock(ctx context.Context, id, targetID string, blocked bool) error
	MarkReported(ctx context.Context, id string, report entity.Report) error
	Delete(ctx context.Context, id string) error
}
