package repository

import (
	"context"

	"cloud.google.com/go/firestore"

	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/repository"
	"tradeup/pkg/errors"
)

const conversationsCollection = "conversations"

type firestoreConversationRepository struct {
	client *firestore.Client
}

func NewFirestoreConversationRepository(client *firestore.Client) repository.ConversationRepository {
	return &firestoreConversationRepository{
		client: client,
	}
}

func (r *firestoreConversationRepository) Create(ctx context.Context, conversation *entity.Conversation) error {
	_, err := r.client.Collection(conversationsCollection).Doc(conversation.ID).Create(ctx, conversation)
	if isAlreadyExists(err) {
		return errors.Conflict("conversation already exists")
	}
	if err != nil {
		return storeError("Conversation", "create conversation", err)
	}
	return nil
}

func (r *firestoreConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	doc, err := r.client.Collection(conversationsCollection).Doc(id).Get(ctx)
	if err != nil {
		return nil, storeError("Conversation", "get conversation", err)
	}
	return decodeConversation(doc)
}

func (r *firestoreConversationRepository) FindByProduct(ctx context.Context, productID string) ([]*entity.Conversation, error) {
	docs, err := r.client.Collection(conversationsCollection).
		Where("productId", "==", productID).
		OrderBy("createdAt", firestore.Asc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, storeError("Conversation", "find conversations by product", err)
	}
	return decodeConversations(docs)
}

func (r *firestoreConversationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*entity.Conversation, error) {
	query := r.client.Collection(conversationsCollection).
		Where("participants", "array-contains", userID).
		OrderBy("lastMessageTime", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return nil, storeError("Conversation", "list conversations", err)
	}
	return decodeConversations(docs)
}

func (r *firestoreConversationRepository) UpdateSummary(ctx context.Context, id string, summary entity.ConversationSummary) error {
	_, err := r.client.Collection(conversationsCollection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "lastMessage", Value: summary.LastMessage},
		{Path: "lastMessageTime", Value: summary.LastMessageTime},
		{Path: "lastMessageSenderId", Value: summary.LastMessageSenderID},
	})
	if err != nil {
		return storeError("Conversation", "update conversation summary", err)
	}
	return nil
}

func (r *firestoreConversationRepository) SetLegacyBlock(ctx context.Context, id, targetID string, blocked bool) error {
	var value interface{} = true
	if !blocked {
		value = firestore.Delete
	}
	_, err := r.client.Collection(conversationsCollection).Doc(id).Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{"blockedUsers", targetID}, Value: value},
	})
	if err != nil {
		return storeError("Conversation", "set legacy block flag", err)
	}
	return nil
}

func (r *firestoreConversationRepository) MarkReported(ctx context.Context, id string, report entity.Report) error {
	_, err := r.client.Collection(conversationsCollection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "isReported", Value: true},
		{Path: "reportedBy", Value: report.ReporterID},
		{Path: "reportReason", Value: report.Reason},
		{Path: "reportedAt", Value: report.ReportedAt},
	})
	if err != nil {
		return storeError("Conversation", "report conversation", err)
	}
	return nil
}

func (r *firestoreConversationRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.client.Collection(conversationsCollection).Doc(id).Delete(ctx); err != nil {
		return storeError("Conversation", "delete conversation", err)
	}
	return nil
}

func decodeConversation(doc *firestore.DocumentSnapshot) (*entity.Conversation, error) {
	var conversation entity.Conversation
	if err := doc.DataTo(&conversation); err != nil {
		return nil, errors.Internal("Failed to parse conversation data", err)
	}
	if conversation.ID == "" {
		conversation.ID = doc.Ref.ID
	}
	// Legacy records predate the participants array.
	if len(conversation.Participants) == 0 {
		conversation.Participants = []string{conversation.BuyerID, conversation.SellerID}
	}
	return &conversation, nil
}

func decodeConversations(docs []*firestore.DocumentSnapshot) ([]*entity.Conversation, error) {
	out := make([]*entity.Conversation, 0, len(docs))
	for _, doc := range docs {
		c, err := decodeConversation(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
