package repository

import (
	"context"
	"sort"
	"time"

	"cloud.google.com/go/firestore"

	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/repository"
	"tradeup/pkg/errors"
)

const messagesCollection = "messages"

type firestoreMessageRepository struct {
	client *firestore.Client
}

func NewFirestoreMessageRepository(client *firestore.Client) repository.MessageRepository {
	return &firestoreMessageRepository{
		client: client,
	}
}

func (r *firestoreMessageRepository) Create(ctx context.Context, message *entity.Message) error {
	_, err := r.client.Collection(messagesCollection).Doc(message.ID).Create(ctx, message)
	if isAlreadyExists(err) {
		return errors.Conflict("message already exists")
	}
	if err != nil {
		return storeError("Message", "create message", err)
	}
	return nil
}

func (r *firestoreMessageRepository) GetByID(ctx context.Context, id string) (*entity.Message, error) {
	doc, err := r.client.Collection(messagesCollection).Doc(id).Get(ctx)
	if err != nil {
		return nil, storeError("Message", "get message", err)
	}
	return decodeMessage(doc)
}

func (r *firestoreMessageRepository) conversationQuery(conversationID string) firestore.Query {
	return r.client.Collection(messagesCollection).Where("conversationId", "==", conversationID)
}

func (r *firestoreMessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]*entity.Message, error) {
	docs, err := r.conversationQuery(conversationID).
		OrderBy("timestamp", firestore.Asc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, storeError("Message", "list messages", err)
	}
	messages := make([]*entity.Message, 0, len(docs))
	for _, doc := range docs {
		m, err := decodeMessage(doc)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	sort.SliceStable(messages, func(i, j int) bool { return messages[i].Before(messages[j]) })
	return messages, nil
}

func (r *firestoreMessageRepository) Latest(ctx context.Context, conversationID string) (*entity.Message, error) {
	docs, err := r.conversationQuery(conversationID).
		OrderBy("timestamp", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(1).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, storeError("Message", "get latest message", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return decodeMessage(docs[0])
}

func (r *firestoreMessageRepository) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error) {
	query := r.conversationQuery(conversationID).
		Where("receiverId", "==", readerID).
		Where("read", "==", false)

	marked := 0
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		marked = 0
		docs, err := tx.Documents(query).GetAll()
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := tx.Update(doc.Ref, []firestore.Update{
				{Path: "read", Value: true},
				{Path: "readAt", Value: at},
			}); err != nil {
				return err
			}
			marked++
		}
		return nil
	})
	if err != nil {
		return 0, storeError("Message", "mark messages read", err)
	}
	return marked, nil
}

func (r *firestoreMessageRepository) Tombstone(ctx context.Context, id string, tombstone entity.Tombstone) error {
	_, err := r.client.Collection(messagesCollection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "isDeleted", Value: true},
		{Path: "deletedForEveryone", Value: true},
		{Path: "deletedBy", Value: tombstone.DeletedBy},
		{Path: "deletedAt", Value: tombstone.DeletedAt},
		{Path: "content", Value: entity.DeletedPlaceholder},
		{Path: "imageUrl", Value: firestore.Delete},
		{Path: "imageFileName", Value: firestore.Delete},
	})
	if err != nil {
		return storeError("Message", "tombstone message", err)
	}
	return nil
}

func (r *firestoreMessageRepository) MarkReported(ctx context.Context, id string, report entity.Report) error {
	_, err := r.client.Collection(messagesCollection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "isReported", Value: true},
		{Path: "reportedBy", Value: report.ReporterID},
		{Path: "reportReason", Value: report.Reason},
		{Path: "reportedAt", Value: report.ReportedAt},
	})
	if err != nil {
		return storeError("Message", "report message", err)
	}
	return nil
}

func (r *firestoreMessageRepository) DeleteByConversation(ctx context.Context, conversationID string) error {
	docs, err := r.conversationQuery(conversationID).Documents(ctx).GetAll()
	if err != nil {
		return storeError("Message", "list messages for deletion", err)
	}
	if len(docs) == 0 {
		return nil
	}

	bw := r.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, doc := range docs {
		job, err := bw.Delete(doc.Ref)
		if err != nil {
			bw.End()
			return storeError("Message", "delete messages", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return storeError("Message", "delete messages", err)
		}
	}
	return nil
}

func (r *firestoreMessageRepository) WatchConversation(ctx context.Context, conversationID string) repository.SnapshotIterator[*entity.Message] {
	return newFirestoreSnapshotIterator(r.conversationQuery(conversationID).Snapshots(ctx), decodeMessage)
}

func (r *firestoreMessageRepository) WatchInbox(ctx context.Context, receiverID string) repository.SnapshotIterator[*entity.Message] {
	query := r.client.Collection(messagesCollection).Where("receiverId", "==", receiverID)
	return newFirestoreSnapshotIterator(query.Snapshots(ctx), decodeMessage)
}

func decodeMessage(doc *firestore.DocumentSnapshot) (*entity.Message, error) {
	var message entity.Message
	if err := doc.DataTo(&message); err != nil {
		return nil, errors.Internal("Failed to parse message data", err)
	}
	if message.ID == "" {
		message.ID = doc.Ref.ID
	}
	return &message, nil
}
