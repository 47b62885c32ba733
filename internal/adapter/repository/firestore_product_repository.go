package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"

	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/repository"
	"tradeup/pkg/errors"
)

type firestoreProductRepository struct {
	client *firestore.Client
}

func NewFirestoreProductRepository(client *firestore.Client) repository.ProductRepository {
	return &firestoreProductRepository{
		client: client,
	}
}

func (r *firestoreProductRepository) GetByID(ctx context.Context, id string) (*entity.Product, error) {
	doc, err := r.client.Collection("products").Doc(id).Get(ctx)
	if err != nil {
		return nil, storeError("Product", "get product", err)
	}

	var product entity.Product
	if err := doc.DataTo(&product); err != nil {
		return nil, errors.Internal("Failed to parse product data", err)
	}
	if product.ID == "" {
		product.ID = doc.Ref.ID
	}
	return &product, nil
}

func (r *firestoreProductRepository) MarkUnavailable(ctx context.Context, id string) error {
	_, err := r.client.Collection("products").Doc(id).Update(ctx, []firestore.Update{
		{Path: "status", Value: entity.ProductStatusUnavailable},
		{Path: "updatedAt", Value: time.Now()},
	})
	if err != nil {
		return storeError("Product", "mark product unavailable", err)
	}
	return nil
}
