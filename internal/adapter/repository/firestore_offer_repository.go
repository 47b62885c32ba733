package repository

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/repository"
	"tradeup/pkg/errors"
)

const offersCollection = "chat_offers"

type firestoreOfferRepository struct {
	client *firestore.Client
}

func NewFirestoreOfferRepository(client *firestore.Client) repository.OfferRepository {
	return &firestoreOfferRepository{
		client: client,
	}
}

func (r *firestoreOfferRepository) Create(ctx context.Context, offer *entity.Offer) error {
	_, err := r.client.Collection(offersCollection).Doc(offer.ID).Create(ctx, offer)
	if isAlreadyExists(err) {
		return errors.Conflict("offer already exists")
	}
	if err != nil {
		return storeError("Offer", "create offer", err)
	}
	return nil
}

func (r *firestoreOfferRepository) GetByID(ctx context.Context, id string) (*entity.Offer, error) {
	doc, err := r.client.Collection(offersCollection).Doc(id).Get(ctx)
	if err != nil {
		return nil, storeError("Offer", "get offer", err)
	}
	return decodeOffer(doc)
}

func (r *firestoreOfferRepository) Transition(ctx context.Context, id string, status entity.OfferStatus, at time.Time) (*entity.Offer, error) {
	ref := r.client.Collection(offersCollection).Doc(id)

	var out *entity.Offer
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		offer, err := decodeOffer(doc)
		if err != nil {
			return err
		}

		current := entity.NormalizeOfferStatus(offer.Status)
		if current == status {
			out = offer
			return nil
		}
		if current != entity.OfferStatusPending {
			return errors.Conflict(fmt.Sprintf("offer is already %s", current))
		}

		offer.Status = status
		offer.RespondedAt = &at
		out = offer
		return tx.Update(ref, []firestore.Update{
			{Path: "status", Value: status},
			{Path: "respondedAt", Value: at},
		})
	})
	if err != nil {
		return nil, storeError("Offer", "transition offer", err)
	}
	return out, nil
}

func (r *firestoreOfferRepository) Counter(ctx context.Context, originalID string, counter *entity.Offer, at time.Time) (*entity.Offer, *entity.Offer, error) {
	originalRef := r.client.Collection(offersCollection).Doc(originalID)

	var original, stored *entity.Offer
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(originalRef)
		if err != nil {
			return err
		}
		offer, err := decodeOffer(doc)
		if err != nil {
			return err
		}

		current := entity.NormalizeOfferStatus(offer.Status)
		if current == entity.OfferStatusCountered && offer.CounteredByID != "" {
			existing, err := tx.Get(r.client.Collection(offersCollection).Doc(offer.CounteredByID))
			if err != nil {
				return err
			}
			prev, err := decodeOffer(existing)
			if err != nil {
				return err
			}
			original, stored = offer, prev
			return nil
		}
		if current != entity.OfferStatusPending {
			return errors.Conflict(fmt.Sprintf("offer is already %s", current))
		}

		offer.Status = entity.OfferStatusCountered
		offer.CounteredByID = counter.ID
		offer.RespondedAt = &at
		if err := tx.Update(originalRef, []firestore.Update{
			{Path: "status", Value: entity.OfferStatusCountered},
			{Path: "counteredById", Value: counter.ID},
			{Path: "respondedAt", Value: at},
		}); err != nil {
			return err
		}
		if err := tx.Create(r.client.Collection(offersCollection).Doc(counter.ID), counter); err != nil {
			return err
		}
		original, stored = offer, counter.Clone()
		return nil
	})
	if isAlreadyExists(err) {
		return nil, nil, errors.Conflict("offer already exists")
	}
	if err != nil {
		return nil, nil, storeError("Offer", "counter offer", err)
	}
	return original, stored, nil
}

func (r *firestoreOfferRepository) ClaimFulfillment(ctx context.Context, id, hook string) (bool, error) {
	ref := r.client.Collection(offersCollection).Doc(id)

	claimed := false
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		claimed = false
		doc, err := tx.Get(ref)
		if err != nil {
			return err
		}
		offer, err := decodeOffer(doc)
		if err != nil {
			return err
		}
		if offer.Fulfilled[hook] {
			return nil
		}
		claimed = true
		return tx.Update(ref, []firestore.Update{
			{FieldPath: firestore.FieldPath{"fulfilled", hook}, Value: true},
		})
	})
	if err != nil {
		return false, storeError("Offer", "claim offer fulfillment", err)
	}
	return claimed, nil
}

func (r *firestoreOfferRepository) ReleaseFulfillment(ctx context.Context, id, hook string) error {
	_, err := r.client.Collection(offersCollection).Doc(id).Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{"fulfilled", hook}, Value: firestore.Delete},
	})
	if err != nil {
		return storeError("Offer", "release offer fulfillment", err)
	}
	return nil
}

func (r *firestoreOfferRepository) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*entity.Offer, error) {
	query := r.client.Collection(offersCollection).
		Where("status", "==", entity.OfferStatusPending).
		Where("createdAt", "<", before).
		OrderBy("createdAt", firestore.Asc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, storeError("Offer", "list pending offers", err)
	}

	offers := make([]*entity.Offer, 0, len(docs))
	for _, doc := range docs {
		o, err := decodeOffer(doc)
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, nil
}

func (r *firestoreOfferRepository) ListByProduct(ctx context.Context, productID string, limit int) ([]*entity.Offer, error) {
	return r.listWhere(ctx, "productId", productID, limit)
}

func (r *firestoreOfferRepository) ListBySender(ctx context.Context, senderID string, limit int) ([]*entity.Offer, error) {
	return r.listWhere(ctx, "senderId", senderID, limit)
}

func (r *firestoreOfferRepository) ListByReceiver(ctx context.Context, receiverID string, limit int) ([]*entity.Offer, error) {
	return r.listWhere(ctx, "receiverId", receiverID, limit)
}

func (r *firestoreOfferRepository) listWhere(ctx context.Context, field, value string, limit int) ([]*entity.Offer, error) {
	query := r.client.Collection(offersCollection).
		Where(field, "==", value).
		OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, storeError("Offer", "list offers", err)
	}

	offers := make([]*entity.Offer, 0, len(docs))
	for _, doc := range docs {
		o, err := decodeOffer(doc)
		if err != nil {
			return nil, err
		}
		offers = append(offers, o)
	}
	return offers, nil
}

func decodeOffer(doc *firestore.DocumentSnapshot) (*entity.Offer, error) {
	var offer entity.Offer
	if err := doc.DataTo(&offer); err != nil {
		return nil, errors.Internal("Failed to parse offer data", err)
	}
	if offer.ID == "" {
		offer.ID = doc.Ref.ID
	}
	offer.Status = entity.NormalizeOfferStatus(offer.Status)
	return &offer, nil
}
