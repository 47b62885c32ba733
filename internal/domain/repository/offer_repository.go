package repository

import (
	"context"
	"time"

	"tradeup/internal/domain/entity"
)

type OfferRepository interface {
	// Create fails with CONFLICT when the id is taken.
	Create(ctx context.Context, offer *entity.Offer) error
	GetByID(ctx context.Context, id string) (*entity.Offer, error)
	// Transition atomically moves a PENDING offer to status. It succeeds
	// without change when the offer already has that status and fails with
	// CONFLICT for any other terminal status.
	Transition(ctx context.Context, id string, status entity.OfferStatus, at time.Time) (*entity.Offer, error)
	// Counter atomically marks the original COUNTERED, links it forward and
	// persists counter. When the original was already countered the stored
	// counter is returned instead.
	Counter(ctx context.Context, originalID string, counter *entity.Offer, at time.Time) (original *entity.Offer, stored *entity.Offer, err error)
	// ClaimFulfillment reserves hook for the offer. It returns false when the
	// hook already ran or is running elsewhere.
	ClaimFulfillment(ctx context.Context, id, hook string) (bool, error)
	ReleaseFulfillment(ctx context.Context, id, hook string) error
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*entity.Offer, error)

	// ListByProduct, ListBySender and ListByReceiver return offers newest
	// first. A limit of zero returns all of them.
	ListByProduct(ctx context.Context, productID string, limit int) ([]*entity.Offer, error)
	ListBySender(ctx context.Context, senderID string, limit int) ([]*entity.Offer, error)
	ListByReceiver(ctx context.Context, receiverID string, limit int) ([]*entity.Offer, error)
}
