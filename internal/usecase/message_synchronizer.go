package usecase

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/repository"
	"tradeup/internal/domain/service"
	"tradeup/internal/infrastructure/metrics"
	"tradeup/pkg/errors"
	"tradeup/pkg/logger"
)

// MessageSynchronizer writes messages and serves ordered, live timelines.
type MessageSynchronizer struct {
	messageRepo   repository.MessageRepository
	hiddenRepo    repository.HiddenMessageRepository
	conversations *ConversationStore
	guard         *BlockingGuard
	media         service.MediaStorage
	metrics       *metrics.Metrics

	timeout          time.Duration
	resubscribeAfter time.Duration
	now              clock
}

func NewMessageSynchronizer(
	messageRepo repository.MessageRepository,
	hiddenRepo repository.HiddenMessageRepository,
	conversations *ConversationStore,
	guard *BlockingGuard,
	media service.MediaStorage,
	m *metrics.Metrics,
	timeout time.Duration,
) *MessageSynchronizer {
	return &MessageSynchronizer{
		messageRepo:      messageRepo,
		hiddenRepo:       hiddenRepo,
		conversations:    conversations,
		guard:            guard,
		media:            media,
		metrics:          m,
		timeout:          timeout,
		resubscribeAfter: DefaultResubscribeInterval,
		now:              systemClock,
	}
}

// SetResubscribeInterval sets the initial backoff before a dropped
// subscription stream is reopened.
func (ms *MessageSynchronizer) SetResubscribeInterval(d time.Duration) {
	ms.resubscribeAfter = d
}

type SendMessageInput struct {
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
	Type           entity.MessageType
}

// Send writes a message after checking the pair is not blocked, then
// refreshes the conversation summary best-effort. The two writes are not
// atomic; the summary is repaired on read.
func (ms *MessageSynchronizer) Send(ctx context.Context, input SendMessageInput) (*entity.Message, error) {
	if input.Type == "" {
		input.Type = entity.MessageTypeText
	}
	if !input.Type.Valid() {
		return nil, errors.BadRequest("unknown message type", nil)
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, errors.BadRequest("message content is required", nil)
	}

	if err := ms.authorize(ctx, input.ConversationID, input.SenderID, input.ReceiverID); err != nil {
		logger.Warn("SendMessage Error: %s -> %s in %s: %v", input.SenderID, input.ReceiverID, input.ConversationID, err)
		return nil, err
	}

	message := &entity.Message{
		ID:             uuid.New().String(),
		ConversationID: input.ConversationID,
		SenderID:       input.SenderID,
		ReceiverID:     input.ReceiverID,
		Content:        input.Content,
		Type:           input.Type,
		Timestamp:      ms.now(),
	}
	return ms.deliver(ctx, message)
}

func (ms *MessageSynchronizer) SendAsync(ctx context.Context, input SendMessageInput) *Future[*entity.Message] {
	return Go(ctx, func(ctx context.Context) (*entity.Message, error) {
		return ms.Send(ctx, input)
	})
}

type SendImageInput struct {
	ConversationID string
	SenderID       string
	ReceiverID     string
	File           io.Reader
	ContentType    string
	FileName       string
	Caption        string
}

// SendImage uploads the attachment and sends it as an image message. The
// upload is removed again if the message cannot be written.
func (ms *MessageSynchronizer) SendImage(ctx context.Context, input SendImageInput) (*entity.Message, error) {
	if ms.media == nil {
		return nil, errors.Internal("media storage is not configured", nil)
	}
	if input.File == nil {
		return nil, errors.BadRequest("image is required", nil)
	}
	if err := ms.authorize(ctx, input.ConversationID, input.SenderID, input.ReceiverID); err != nil {
		return nil, err
	}

	url, err := remote(ctx, ms.timeout, "upload image", func(ctx context.Context) (string, error) {
		return ms.media.Upload(ctx, input.File, input.ContentType, "chat_images/"+input.ConversationID)
	})
	if err != nil {
		logger.Error("SendImage Error: upload for %s: %v", input.ConversationID, err)
		return nil, err
	}

	message := &entity.Message{
		ID:             uuid.New().String(),
		ConversationID: input.ConversationID,
		SenderID:       input.SenderID,
		ReceiverID:     input.ReceiverID,
		Content:        input.Caption,
		Type:           entity.MessageTypeImage,
		ImageURL:       url,
		ImageFileName:  input.FileName,
		Timestamp:      ms.now(),
	}
	sent, err := ms.deliver(ctx, message)
	if err != nil {
		deleteMediaBestEffort(ctx, ms.media, ms.timeout, url)
		return nil, err
	}
	return sent, nil
}

// authorize checks the block lists first, then that sender and receiver are
// the two participants of the conversation.
func (ms *MessageSynchronizer) authorize(ctx context.Context, conversationID, senderID, receiverID string) error {
	if conversationID == "" || senderID == "" || receiverID == "" {
		return errors.BadRequest("conversation, sender and receiver are required", nil)
	}
	if err := ms.guard.Ensure(ctx, senderID, receiverID); err != nil {
		return err
	}
	conversation, err := ms.conversations.participantOf(ctx, conversationID, senderID)
	if err != nil {
		return err
	}
	if conversation.Counterpart(senderID) != receiverID {
		return errors.BadRequest("receiver is not the other participant of this conversation", nil)
	}
	return nil
}

// deliver persists a fully built message. A CONFLICT means an earlier attempt
// with the same id already landed, so the stored copy is returned.
func (ms *MessageSynchronizer) deliver(ctx context.Context, message *entity.Message) (*entity.Message, error) {
	err := remoteExec(ctx, ms.timeout, "create message", func(ctx context.Context) error {
		return ms.messageRepo.Create(ctx, message)
	})
	if errors.Is(err, errors.CodeConflict) {
		stored, getErr := remote(ctx, ms.timeout, "get message", func(ctx context.Context) (*entity.Message, error) {
			return ms.messageRepo.GetByID(ctx, message.ID)
		})
		if getErr != nil {
			return nil, getErr
		}
		message, err = stored, nil
	}
	if err != nil {
		logger.Error("SendMessage Error: failed to create message in %s: %v", message.ConversationID, err)
		return nil, err
	}
	ms.metrics.MessageSent(string(message.Type))

	if err := ms.conversations.RecordMessage(ctx, message); err != nil {
		logger.Warn("SendMessage: summary of conversation %s left stale: %v", message.ConversationID, err)
	}
	return message, nil
}

// MarkRead flags every unread message addressed to readerID.
func (ms *MessageSynchronizer) MarkRead(ctx context.Context, conversationID, readerID string) (int, error) {
	if _, err := ms.conversations.participantOf(ctx, conversationID, readerID); err != nil {
		return 0, err
	}
	return remote(ctx, ms.timeout, "mark messages read", func(ctx context.Context) (int, error) {
		return ms.messageRepo.MarkRead(ctx, conversationID, readerID, ms.now())
	})
}

// History returns a one-shot timeline for the viewer.
func (ms *MessageSynchronizer) History(ctx context.Context, conversationID, viewerID string) (*Timeline, error) {
	if _, err := ms.conversations.participantOf(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}

	messages, err := remote(ctx, ms.timeout, "list messages", func(ctx context.Context) ([]*entity.Message, error) {
		return ms.messageRepo.ListByConversation(ctx, conversationID)
	})
	if err != nil {
		return nil, err
	}

	state := newTimelineState(conversationID, viewerID)
	state.applyMessages(&repository.Snapshot[*entity.Message]{Items: messages})

	if ms.hiddenRepo != nil {
		hidden, err := remote(ctx, ms.timeout, "list hidden messages", func(ctx context.Context) ([]*entity.HiddenMessage, error) {
			return ms.hiddenRepo.ListHidden(ctx, viewerID, conversationID)
		})
		if err != nil {
			return nil, err
		}
		state.applyHidden(hidden)
	}
	return state.render(), nil
}

// Subscribe opens a live timeline for the viewer. The subscription lives
// until Close is called or ctx ends.
func (ms *MessageSynchronizer) Subscribe(ctx context.Context, conversationID, viewerID string) (*Subscription, error) {
	if _, err := ms.conversations.participantOf(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}

	src := subscriptionSources{
		messages: func(ctx context.Context) repository.SnapshotIterator[*entity.Message] {
			return ms.messageRepo.WatchConversation(ctx, conversationID)
		},
	}
	if ms.hiddenRepo != nil {
		src.hidden = func(ctx context.Context) repository.SnapshotIterator[*entity.HiddenMessage] {
			return ms.hiddenRepo.WatchHidden(ctx, viewerID, conversationID)
		}
	}
	cfg := streamConfig{resubscribeAfter: ms.resubscribeAfter, metrics: ms.metrics}
	return startSubscription(ctx, conversationID, viewerID, src, cfg), nil
}
