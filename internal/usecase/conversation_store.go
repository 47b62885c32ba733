package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/repository"
	"tradeup/internal/domain/service"
	"tradeup/internal/infrastructure/metrics"
	"tradeup/pkg/errors"
	"tradeup/pkg/logger"
)

const conversationStartedMessage = "Conversation started"

// conversationNamespace scopes the name-based conversation ids.
var conversationNamespace = uuid.MustParse("6f1c2b7e-4d0a-5c3e-9b8f-2a7d1e5c4b30")

// ConversationID derives the id of the conversation about productID between
// two users. Participant order does not matter.
func ConversationID(productID, userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	key := strings.Join([]string{productID, userA, userB}, "|")
	return uuid.NewSHA1(conversationNamespace, []byte(key)).String()
}

type ConversationStore struct {
	conversationRepo repository.ConversationRepository
	messageRepo      repository.MessageRepository
	media            service.MediaStorage
	metrics          *metrics.Metrics
	timeout          time.Duration
	now              clock
	inflight         singleflight.Group
}

func NewConversationStore(
	conversationRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	media service.MediaStorage,
	m *metrics.Metrics,
	timeout time.Duration,
) *ConversationStore {
	return &ConversationStore{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		media:            media,
		metrics:          m,
		timeout:          timeout,
		now:              systemClock,
	}
}

type CreateConversationInput struct {
	ProductID    string
	BuyerID      string
	SellerID     string
	ProductTitle string
	ProductImage string
}

// CreateOrGet returns the single conversation for the product and pair,
// creating it on first contact.
func (s *ConversationStore) CreateOrGet(ctx context.Context, input CreateConversationInput) (*entity.Conversation, error) {
	if input.ProductID == "" || input.BuyerID == "" || input.SellerID == "" {
		return nil, errors.BadRequest("product, buyer and seller are required", nil)
	}
	if input.BuyerID == input.SellerID {
		return nil, errors.BadRequest("cannot start a conversation with yourself", nil)
	}

	id := ConversationID(input.ProductID, input.BuyerID, input.SellerID)
	// Joined callers share this call, so it must outlive any one of them.
	// Each store call inside is still bounded by the remote timeout.
	ch := s.inflight.DoChan(id, func() (interface{}, error) {
		return s.createOrGet(context.WithoutCancel(ctx), id, input)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		c := *res.Val.(*entity.Conversation)
		return &c, nil
	case <-ctx.Done():
		return nil, errors.FromRemote("create conversation", ctx.Err())
	}
}

func (s *ConversationStore) CreateOrGetAsync(ctx context.Context, input CreateConversationInput) *Future[*entity.Conversation] {
	return Go(ctx, func(ctx context.Context) (*entity.Conversation, error) {
		return s.CreateOrGet(ctx, input)
	})
}

func (s *ConversationStore) createOrGet(ctx context.Context, id string, input CreateConversationInput) (*entity.Conversation, error) {
	existing, err := s.load(ctx, id)
	if err == nil {
		s.metrics.ConversationResolved("existing")
		return existing, nil
	}
	if !errors.Is(err, errors.CodeNotFound) {
		return nil, err
	}

	legacy, err := remote(ctx, s.timeout, "find conversations by product", func(ctx context.Context) ([]*entity.Conversation, error) {
		return s.conversationRepo.FindByProduct(ctx, input.ProductID)
	})
	if err != nil {
		return nil, err
	}
	for _, c := range legacy {
		if c.Involves(input.BuyerID, input.SellerID) {
			s.metrics.ConversationResolved("legacy")
			return c, nil
		}
	}

	now := s.now()
	conversation := &entity.Conversation{
		ID:              id,
		ProductID:       input.ProductID,
		BuyerID:         input.BuyerID,
		SellerID:        input.SellerID,
		Participants:    []string{input.BuyerID, input.SellerID},
		ProductTitle:    input.ProductTitle,
		ProductImage:    input.ProductImage,
		LastMessage:     conversationStartedMessage,
		LastMessageTime: now,
		CreatedAt:       now,
	}
	err = remoteExec(ctx, s.timeout, "create conversation", func(ctx context.Context) error {
		return s.conversationRepo.Create(ctx, conversation)
	})
	switch {
	case err == nil:
		s.metrics.ConversationResolved("created")
		logger.Info("CreateOrGet: created conversation %s for product %s", id, input.ProductID)
		return conversation, nil
	case errors.Is(err, errors.CodeConflict):
		// Another writer created it first.
		s.metrics.ConversationResolved("raced")
		return s.load(ctx, id)
	default:
		logger.Error("CreateOrGet Error: product %s: %v", input.ProductID, err)
		return nil, err
	}
}

func (s *ConversationStore) load(ctx context.Context, id string) (*entity.Conversation, error) {
	return remote(ctx, s.timeout, "get conversation", func(ctx context.Context) (*entity.Conversation, error) {
		return s.conversationRepo.GetByID(ctx, id)
	})
}

// participantOf loads the conversation and checks userID belongs to it.
func (s *ConversationStore) participantOf(ctx context.Context, id, userID string) (*entity.Conversation, error) {
	conversation, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, errors.Forbidden("User is not a participant in this conversation", nil)
	}
	return conversation, nil
}

// Get returns the conversation with its summary repaired from the newest
// message when the stored summary is stale.
func (s *ConversationStore) Get(ctx context.Context, id, requesterID string) (*entity.Conversation, error) {
	conversation, err := s.participantOf(ctx, id, requesterID)
	if err != nil {
		return nil, err
	}

	latest, err := remote(ctx, s.timeout, "get latest message", func(ctx context.Context) (*entity.Message, error) {
		return s.messageRepo.Latest(ctx, id)
	})
	if err != nil {
		logger.Warn("Get: summary of conversation %s not verified: %v", id, err)
		return conversation, nil
	}
	if latest == nil || !summaryStale(conversation, latest) {
		return conversation, nil
	}

	summary := summaryOf(latest)
	conversation.LastMessage = summary.LastMessage
	conversation.LastMessageTime = summary.LastMessageTime
	conversation.LastMessageSenderID = summary.LastMessageSenderID
	if err := s.writeSummary(ctx, id, summary); err != nil {
		logger.Warn("Get: repaired summary of conversation %s not persisted: %v", id, err)
	}
	return conversation, nil
}

func summaryStale(c *entity.Conversation, latest *entity.Message) bool {
	if latest.Timestamp.After(c.LastMessageTime) {
		return true
	}
	return latest.Timestamp.Equal(c.LastMessageTime) && latest.IsDeleted && c.LastMessage != entity.DeletedPlaceholder
}

func summaryOf(m *entity.Message) entity.ConversationSummary {
	return entity.ConversationSummary{
		LastMessage:         m.Preview(),
		LastMessageTime:     m.Timestamp,
		LastMessageSenderID: m.SenderID,
	}
}

// RecordMessage refreshes the summary after a send. Last write wins.
func (s *ConversationStore) RecordMessage(ctx context.Context, m *entity.Message) error {
	return s.writeSummary(ctx, m.ConversationID, summaryOf(m))
}

func (s *ConversationStore) writeSummary(ctx context.Context, id string, summary entity.ConversationSummary) error {
	return remoteExec(ctx, s.timeout, "update conversation summary", func(ctx context.Context) error {
		return s.conversationRepo.UpdateSummary(ctx, id, summary)
	})
}

func (s *ConversationStore) ListForUser(ctx context.Context, userID string, limit int) ([]*entity.Conversation, error) {
	return remote(ctx, s.timeout, "list conversations", func(ctx context.Context) ([]*entity.Conversation, error) {
		return s.conversationRepo.ListByUser(ctx, userID, limit)
	})
}

func (s *ConversationStore) Report(ctx context.Context, id, reporterID, reason string) error {
	if _, err := s.participantOf(ctx, id, reporterID); err != nil {
		return err
	}
	report := entity.Report{ReporterID: reporterID, Reason: reason, ReportedAt: s.now()}
	if err := remoteExec(ctx, s.timeout, "report conversation", func(ctx context.Context) error {
		return s.conversationRepo.MarkReported(ctx, id, report)
	}); err != nil {
		logger.Error("Report Error: conversation %s: %v", id, err)
		return err
	}
	logger.Info("Report: conversation %s reported by %s", id, reporterID)
	return nil
}

// Delete removes the conversation and every message in it. Attached media is
// deleted best-effort.
func (s *ConversationStore) Delete(ctx context.Context, id, requesterID string) error {
	if _, err := s.participantOf(ctx, id, requesterID); err != nil {
		return err
	}

	messages, err := remote(ctx, s.timeout, "list messages", func(ctx context.Context) ([]*entity.Message, error) {
		return s.messageRepo.ListByConversation(ctx, id)
	})
	if err != nil {
		return err
	}
	for _, m := range messages {
		if m.HasMedia() {
			deleteMediaBestEffort(ctx, s.media, s.timeout, m.ImageURL)
		}
	}

	if err := remoteExec(ctx, s.timeout, "delete messages", func(ctx context.Context) error {
		return s.messageRepo.DeleteByConversation(ctx, id)
	}); err != nil {
		logger.Error("DeleteConversation Error: messages of %s: %v", id, err)
		return err
	}
	if err := remoteExec(ctx, s.timeout, "delete conversation", func(ctx context.Context) error {
		return s.conversationRepo.Delete(ctx, id)
	}); err != nil {
		logger.Error("DeleteConversation Error: %s: %v", id, err)
		return err
	}
	logger.Info("DeleteConversation: %s deleted by %s (%d messages)", id, requesterID, len(messages))
	return nil
}

func deleteMediaBestEffort(ctx context.Context, media service.MediaStorage, timeout time.Duration, url string) {
	if media == nil || url == "" {
		return
	}
	if err := remoteExec(ctx, timeout, "delete media", func(ctx context.Context) error {
		return media.Delete(ctx, url)
	}); err != nil {
		logger.Warn("Media: failed to delete %s: %v", url, err)
	}
}
