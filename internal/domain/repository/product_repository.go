package repository

import (
	"context"

	"tradeup/internal/domain/entity"
)

type ProductRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Product, error)
	// MarkUnavailable takes the listing off the market. Repeating it is harmless.
	MarkUnavailable(ctx context.Context, id string) error
}
