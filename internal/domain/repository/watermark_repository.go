package repository

import (
	"context"

	"tradeup/internal/domain/entity"
)

type WatermarkRepository interface {
	// Get returns nil when the user has no watermark yet.
	Get(ctx context.Context, userID string) (*entity.Watermark, error)
	// Advance stores wm unless the stored watermark is already newer.
	Advance(ctx context.Context, wm *entity.Watermark) error
}
