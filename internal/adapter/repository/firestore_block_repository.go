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

// Block edges live at users/{owner}/blockedUsers/{target}; hidden messages
// at users/{viewer}/hiddenMessages/{message}.
type firestoreBlockRepository struct {
	client *firestore.Client
}

func NewFirestoreBlockRepository(client *firestore.Client) repository.BlockRepository {
	return &firestoreBlockRepository{
		client: client,
	}
}

func (r *firestoreBlockRepository) edges(ownerID string) *firestore.CollectionRef {
	return r.client.Collection("users").Doc(ownerID).Collection("blockedUsers")
}

func (r *firestoreBlockRepository) Exists(ctx context.Context, ownerID, targetID string) (bool, error) {
	doc, err := r.edges(ownerID).Doc(targetID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, storeError("Block", "check block", err)
	}
	var relation entity.BlockRelation
	if err := doc.DataTo(&relation); err != nil {
		return false, errors.Internal("Failed to parse block data", err)
	}
	return relation.Blocked, nil
}

func (r *firestoreBlockRepository) Put(ctx context.Context, relation *entity.BlockRelation) error {
	if _, err := r.edges(relation.OwnerID).Doc(relation.BlockedUserID).Set(ctx, relation); err != nil {
		return storeError("Block", "block user", err)
	}
	return nil
}

func (r *firestoreBlockRepository) Remove(ctx context.Context, ownerID, targetID string) error {
	// Deleting a missing document succeeds.
	if _, err := r.edges(ownerID).Doc(targetID).Delete(ctx); err != nil {
		return storeError("Block", "unblock user", err)
	}
	return nil
}

func (r *firestoreBlockRepository) List(ctx context.Context, ownerID string) ([]*entity.BlockRelation, error) {
	docs, err := r.edges(ownerID).Where("blocked", "==", true).Documents(ctx).GetAll()
	if err != nil {
		return nil, storeError("Block", "list blocked users", err)
	}
	out := make([]*entity.BlockRelation, 0, len(docs))
	for _, doc := range docs {
		var relation entity.BlockRelation
		if err := doc.DataTo(&relation); err != nil {
			return nil, errors.Internal("Failed to parse block data", err)
		}
		if relation.BlockedUserID == "" {
			relation.BlockedUserID = doc.Ref.ID
		}
		relation.OwnerID = ownerID
		out = append(out, &relation)
	}
	return out, nil
}

type firestoreHiddenMessageRepository struct {
	client *firestore.Client
}

func NewFirestoreHiddenMessageRepository(client *firestore.Client) repository.HiddenMessageRepository {
	return &firestoreHiddenMessageRepository{
		client: client,
	}
}

func (r *firestoreHiddenMessageRepository) hidden(viewerID string) *firestore.CollectionRef {
	return r.client.Collection("users").Doc(viewerID).Collection("hiddenMessages")
}

func (r *firestoreHiddenMessageRepository) Hide(ctx context.Context, hidden *entity.HiddenMessage) error {
	if _, err := r.hidden(hidden.ViewerID).Doc(hidden.MessageID).Set(ctx, hidden); err != nil {
		return storeError("Message", "hide message", err)
	}
	return nil
}

func (r *firestoreHiddenMessageRepository) query(viewerID, conversationID string) firestore.Query {
	return r.hidden(viewerID).Where("conversationId", "==", conversationID)
}

func (r *firestoreHiddenMessageRepository) ListHidden(ctx context.Context, viewerID, conversationID string) ([]*entity.HiddenMessage, error) {
	docs, err := r.query(viewerID, conversationID).Documents(ctx).GetAll()
	if err != nil {
		return nil, storeError("Message", "list hidden messages", err)
	}
	out := make([]*entity.HiddenMessage, 0, len(docs))
	for _, doc := range docs {
		h, err := decodeHidden(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

func (r *firestoreHiddenMessageRepository) WatchHidden(ctx context.Context, viewerID, conversationID string) repository.SnapshotIterator[*entity.HiddenMessage] {
	return newFirestoreSnapshotIterator(r.query(viewerID, conversationID).Snapshots(ctx), decodeHidden)
}

func decodeHidden(doc *firestore.DocumentSnapshot) (*entity.HiddenMessage, error) {
	var hidden entity.HiddenMessage
	if err := doc.DataTo(&hidden); err != nil {
		return nil, errors.Internal("Failed to parse hidden message data", err)
	}
	if hidden.MessageID == "" {
		hidden.MessageID = doc.Ref.ID
	}
	return &hidden, nil
}
