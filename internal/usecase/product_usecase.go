package usecase

import (
	"context"
	"time"

	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/repository"
	"tradeup/pkg/errors"
	"tradeup/pkg/logger"
)

// ProductAvailabilityHookName identifies the hook in an offer's fulfillment record.
const ProductAvailabilityHookName = "product-availability"

type ProductUseCase struct {
	productRepo repository.ProductRepository
	timeout     time.Duration
}

func NewProductUseCase(productRepo repository.ProductRepository, timeout time.Duration) *ProductUseCase {
	return &ProductUseCase{
		productRepo: productRepo,
		timeout:     timeout,
	}
}

func (uc *ProductUseCase) GetProduct(ctx context.Context, id string) (*entity.Product, error) {
	if id == "" {
		return nil, errors.BadRequest("product id is required", nil)
	}
	return remote(ctx, uc.timeout, "get product", func(ctx context.Context) (*entity.Product, error) {
		return uc.productRepo.GetByID(ctx, id)
	})
}

// Name and OnOfferAccepted make ProductUseCase an acceptance handler that
// takes the listing off the market once an offer on it is accepted.
func (uc *ProductUseCase) Name() string { return ProductAvailabilityHookName }

func (uc *ProductUseCase) OnOfferAccepted(ctx context.Context, offer *entity.Offer) error {
	err := remoteExec(ctx, uc.timeout, "mark product unavailable", func(ctx context.Context) error {
		return uc.productRepo.MarkUnavailable(ctx, offer.ProductID)
	})
	if errors.Is(err, errors.CodeNotFound) {
		logger.Warn("AcceptOffer: product %s of offer %s no longer exists", offer.ProductID, offer.ID)
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("AcceptOffer: product %s marked unavailable after offer %s", offer.ProductID, offer.ID)
	return nil
}
