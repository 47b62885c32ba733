package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/repository"
	"tradeup/pkg/errors"
)

const watermarksCollection = "notification_watermarks"

type firestoreWatermarkRepository struct {
	client *firestore.Client
}

func NewFirestoreWatermarkRepository(client *firestore.Client) repository.WatermarkRepository {
	return &firestoreWatermarkRepository{
		client: client,
	}
}

func (r *firestoreWatermarkRepository) Get(ctx context.Context, userID string) (*entity.Watermark, error) {
	doc, err := r.client.Collection(watermarksCollection).Doc(userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("Watermark", "get watermark", err)
	}
	var wm entity.Watermark
	if err := doc.DataTo(&wm); err != nil {
		return nil, errors.Internal("Failed to parse watermark data", err)
	}
	return &wm, nil
}

func (r *firestoreWatermarkRepository) Advance(ctx context.Context, wm *entity.Watermark) error {
	ref := r.client.Collection(watermarksCollection).Doc(wm.UserID)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var current entity.Watermark
			if err := doc.DataTo(&current); err != nil {
				return err
			}
			if !current.Behind(wm) {
				return nil
			}
		}
		return tx.Set(ref, wm)
	})
	if err != nil {
		return storeError("Watermark", "advance watermark", err)
	}
	return nil
}

const notificationLogCollection = "notification_log"

type firestoreNotificationLogRepository struct {
	client *firestore.Client
}

func NewFirestoreNotificationLogRepository(client *firestore.Client) repository.NotificationLogRepository {
	return &firestoreNotificationLogRepository{
		client: client,
	}
}

func (r *firestoreNotificationLogRepository) Claim(ctx context.Context, eventID string) (bool, error) {
	_, err := r.client.Collection(notificationLogCollection).Doc(eventID).Create(ctx, map[string]interface{}{
		"eventId": eventID,
		"sentAt":  firestore.ServerTimestamp,
	})
	if isAlreadyExists(err) {
		return false, nil
	}
	if err != nil {
		return false, storeError("Notification", "claim notification", err)
	}
	return true, nil
}
