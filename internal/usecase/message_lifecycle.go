package usecase

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/repository"
	"tradeup/internal/domain/service"
	"tradeup/internal/infrastructure/metrics"
	"tradeup/pkg/errors"
	"tradeup/pkg/logger"
)

// DefaultDeletionWindow is how long a sender may delete a message for everyone.
const DefaultDeletionWindow = 7 * 24 * time.Hour

// MessageLifecycleManager owns deletion and reporting of individual messages.
//
// Delete-for-me is per viewer: it records the message in the viewer's hidden
// set and leaves the shared record untouched, so the other participant still
// sees it.
type MessageLifecycleManager struct {
	messageRepo repository.MessageRepository
	hiddenRepo  repository.HiddenMessageRepository
	media       service.MediaStorage
	metrics     *metrics.Metrics

	window  time.Duration
	timeout time.Duration
	now     clock
}

func NewMessageLifecycleManager(
	messageRepo repository.MessageRepository,
	hiddenRepo repository.HiddenMessageRepository,
	media service.MediaStorage,
	m *metrics.Metrics,
	window time.Duration,
	timeout time.Duration,
) *MessageLifecycleManager {
	if window <= 0 {
		window = DefaultDeletionWindow
	}
	return &MessageLifecycleManager{
		messageRepo: messageRepo,
		hiddenRepo:  hiddenRepo,
		media:       media,
		metrics:     m,
		window:      window,
		timeout:     timeout,
		now:         systemClock,
	}
}

// DeleteForMe hides the message from requesterID only. It has no age limit.
func (lm *MessageLifecycleManager) DeleteForMe(ctx context.Context, messageID, requesterID string) error {
	message, err := lm.load(ctx, messageID)
	if err != nil {
		return err
	}
	if message.SenderID != requesterID && message.ReceiverID != requesterID {
		return errors.Forbidden("User is not a participant of this message", nil)
	}

	hidden := &entity.HiddenMessage{
		ViewerID:       requesterID,
		MessageID:      message.ID,
		ConversationID: message.ConversationID,
		HiddenAt:       lm.now(),
	}
	if err := remoteExec(ctx, lm.timeout, "hide message", func(ctx context.Context) error {
		return lm.hiddenRepo.Hide(ctx, hidden)
	}); err != nil {
		lm.metrics.Deletion("me", "error")
		logger.Error("DeleteForMe Error: message %s for %s: %v", messageID, requesterID, err)
		return err
	}
	lm.metrics.Deletion("me", "ok")
	return nil
}

// DeleteForEveryone tombstones the shared record. Only the sender may do it,
// and only within the deletion window, which is checked first. Attached media is removed
// best-effort and never blocks the tombstone.
func (lm *MessageLifecycleManager) DeleteForEveryone(ctx context.Context, messageID, requesterID string) error {
	message, err := lm.load(ctx, messageID)
	if err != nil {
		return err
	}
	if lm.now().Sub(message.Timestamp) > lm.window {
		lm.metrics.Deletion("everyone", "expired")
		return errors.DeletionWindowExpired(fmt.Sprintf("messages can only be deleted for everyone within %v", lm.window))
	}
	if message.SenderID != requesterID {
		lm.metrics.Deletion("everyone", "forbidden")
		return errors.Forbidden("Only the sender can delete a message for everyone", nil)
	}
	if message.DeletedForEveryone {
		return nil
	}

	if message.HasMedia() {
		deleteMediaBestEffort(ctx, lm.media, lm.timeout, message.ImageURL)
	}

	tombstone := entity.Tombstone{DeletedBy: requesterID, DeletedAt: lm.now()}
	if err := remoteExec(ctx, lm.timeout, "tombstone message", func(ctx context.Context) error {
		return lm.messageRepo.Tombstone(ctx, messageID, tombstone)
	}); err != nil {
		lm.metrics.Deletion("everyone", "error")
		logger.Error("DeleteForEveryone Error: message %s: %v", messageID, err)
		return err
	}
	lm.metrics.Deletion("everyone", "ok")
	logger.Info("DeleteForEveryone: message %s deleted by %s", messageID, requesterID)
	return nil
}

func (lm *MessageLifecycleManager) DeleteForMeAsync(ctx context.Context, messageID, requesterID string) *Future[struct{}] {
	return Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, lm.DeleteForMe(ctx, messageID, requesterID)
	})
}

func (lm *MessageLifecycleManager) DeleteForEveryoneAsync(ctx context.Context, messageID, requesterID string) *Future[struct{}] {
	return Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, lm.DeleteForEveryone(ctx, messageID, requesterID)
	})
}

type BulkFailure struct {
	MessageID string `json:"message_id"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}

// BulkResult reports a batch deletion item by item.
type BulkResult struct {
	Succeeded []string      `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

// DeleteMany applies the single-message deletion to each id independently.
// When any item fails the result is returned together with a PARTIAL_FAILURE
// error carrying the counts.
func (lm *MessageLifecycleManager) DeleteMany(ctx context.Context, messageIDs []string, requesterID string, forEveryone bool) (*BulkResult, error) {
	result := &BulkResult{Succeeded: []string{}, Failed: []BulkFailure{}}
	seen := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		var err error
		if forEveryone {
			err = lm.DeleteForEveryone(ctx, id, requesterID)
		} else {
			err = lm.DeleteForMe(ctx, id, requesterID)
		}
		if err != nil {
			code := errors.CodeInternal
			var appErr *errors.AppError
			if stderrors.As(err, &appErr) {
				code = appErr.Code
			}
			result.Failed = append(result.Failed, BulkFailure{MessageID: id, Code: code, Error: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}

	if len(result.Failed) > 0 {
		return result, errors.PartialFailure(
			fmt.Sprintf("%d of %d deletions failed", len(result.Failed), len(result.Failed)+len(result.Succeeded)), nil)
	}
	return result, nil
}

// Report flags a message for moderation. Only participants may report.
func (lm *MessageLifecycleManager) Report(ctx context.Context, messageID, reporterID, reason string) error {
	message, err := lm.load(ctx, messageID)
	if err != nil {
		return err
	}
	if message.SenderID != reporterID && message.ReceiverID != reporterID {
		return errors.Forbidden("User is not a participant of this message", nil)
	}
	report := entity.Report{ReporterID: reporterID, Reason: reason, ReportedAt: lm.now()}
	return remoteExec(ctx, lm.timeout, "report message", func(ctx context.Context) error {
		return lm.messageRepo.MarkReported(ctx, messageID, report)
	})
}

func (lm *MessageLifecycleManager) load(ctx context.Context, id string) (*entity.Message, error) {
	if id == "" {
		return nil, errors.BadRequest("message id is required", nil)
	}
	return remote(ctx, lm.timeout, "get message", func(ctx context.Context) (*entity.Message, error) {
		return lm.messageRepo.GetByID(ctx, id)
	})
}
