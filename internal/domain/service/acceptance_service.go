package service

import (
	"context"

	"tradeup/internal/domain/entity"
)

// AcceptanceHandler runs once per accepted offer, e.g. to start the
// transaction or withdraw the listing.
type AcceptanceHandler interface {
	Name() string
	OnOfferAccepted(ctx context.Context, offer *entity.Offer) error
}

type acceptanceFunc struct {
	name string
	fn   func(ctx context.Context, offer *entity.Offer) error
}

func (a acceptanceFunc) Name() string { return a.name }

func (a acceptanceFunc) OnOfferAccepted(ctx context.Context, offer *entity.Offer) error {
	return a.fn(ctx, offer)
}

// AcceptanceHandlerFunc adapts a function into a named AcceptanceHandler.
func AcceptanceHandlerFunc(name string, fn func(ctx context.Context, offer *entity.Offer) error) AcceptanceHandler {
	return acceptanceFunc{name: name, fn: fn}
}
