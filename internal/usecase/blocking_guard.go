package usecase

import (
	"context"
	"time"

	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/repository"
	"tradeup/pkg/errors"
	"tradeup/pkg/logger"
)

// BlockingGuard decides whether two users may exchange messages. Blocking is
// directed when stored and symmetric when checked.
type BlockingGuard struct {
	blockRepo        repository.BlockRepository
	conversationRepo repository.ConversationRepository
	timeout          time.Duration
	now              clock
}

func NewBlockingGuard(
	blockRepo repository.BlockRepository,
	conversationRepo repository.ConversationRepository,
	timeout time.Duration,
) *BlockingGuard {
	return &BlockingGuard{
		blockRepo:        blockRepo,
		conversationRepo: conversationRepo,
		timeout:          timeout,
		now:              systemClock,
	}
}

// IsBlocked is true when either user blocked the other. The second direction
// is only queried when the first answers false.
func (g *BlockingGuard) IsBlocked(ctx context.Context, userA, userB string) (bool, error) {
	blocked, err := remote(ctx, g.timeout, "check block", func(ctx context.Context) (bool, error) {
		return g.blockRepo.Exists(ctx, userA, userB)
	})
	if err != nil || blocked {
		return blocked, err
	}
	return remote(ctx, g.timeout, "check block", func(ctx context.Context) (bool, error) {
		return g.blockRepo.Exists(ctx, userB, userA)
	})
}

// Ensure returns BLOCKED when the pair may not exchange messages.
func (g *BlockingGuard) Ensure(ctx context.Context, senderID, receiverID string) error {
	blocked, err := g.IsBlocked(ctx, senderID, receiverID)
	if err != nil {
		return err
	}
	if blocked {
		return errors.Blocked(senderID, receiverID)
	}
	return nil
}

// Block records owner -> target. When conversationID is set the legacy
// per-conversation flag is written too, best-effort. The conversation must be
// between owner and target.
func (g *BlockingGuard) Block(ctx context.Context, ownerID, targetID, conversationID string) error {
	if ownerID == "" || targetID == "" {
		return errors.BadRequest("owner and target are required", nil)
	}
	if ownerID == targetID {
		return errors.BadRequest("cannot block yourself", nil)
	}
	conversationID, err := g.legacyConversation(ctx, conversationID, ownerID, targetID)
	if err != nil {
		return err
	}

	relation := &entity.BlockRelation{
		OwnerID:       ownerID,
		BlockedUserID: targetID,
		Blocked:       true,
		CreatedAt:     g.now(),
	}
	if err := remoteExec(ctx, g.timeout, "block user", func(ctx context.Context) error {
		return g.blockRepo.Put(ctx, relation)
	}); err != nil {
		logger.Error("Block Error: %s -> %s: %v", ownerID, targetID, err)
		return err
	}

	g.setLegacyFlag(ctx, conversationID, targetID, true)
	logger.Info("Block: %s blocked %s", ownerID, targetID)
	return nil
}

// Unblock removes owner -> target. Removing a missing edge is not an error.
func (g *BlockingGuard) Unblock(ctx context.Context, ownerID, targetID, conversationID string) error {
	if ownerID == "" || targetID == "" {
		return errors.BadRequest("owner and target are required", nil)
	}
	conversationID, err := g.legacyConversation(ctx, conversationID, ownerID, targetID)
	if err != nil {
		return err
	}
	if err := remoteExec(ctx, g.timeout, "unblock user", func(ctx context.Context) error {
		return g.blockRepo.Remove(ctx, ownerID, targetID)
	}); err != nil {
		logger.Error("Unblock Error: %s -> %s: %v", ownerID, targetID, err)
		return err
	}

	g.setLegacyFlag(ctx, conversationID, targetID, false)
	return nil
}

func (g *BlockingGuard) ListBlocked(ctx context.Context, ownerID string) ([]*entity.BlockRelation, error) {
	return remote(ctx, g.timeout, "list blocked users", func(ctx context.Context) ([]*entity.BlockRelation, error) {
		return g.blockRepo.List(ctx, ownerID)
	})
}

func (g *BlockingGuard) BlockAsync(ctx context.Context, ownerID, targetID, conversationID string) *Future[struct{}] {
	return Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.Block(ctx, ownerID, targetID, conversationID)
	})
}

func (g *BlockingGuard) UnblockAsync(ctx context.Context, ownerID, targetID, conversationID string) *Future[struct{}] {
	return Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.Unblock(ctx, ownerID, targetID, conversationID)
	})
}

// legacyConversation returns the conversation whose legacy flag may be
// written, or "" when there is none to write. A conversation that is not
// between owner and target is FORBIDDEN.
func (g *BlockingGuard) legacyConversation(ctx context.Context, conversationID, ownerID, targetID string) (string, error) {
	if conversationID == "" || g.conversationRepo == nil {
		return "", nil
	}
	conversation, err := remote(ctx, g.timeout, "get conversation", func(ctx context.Context) (*entity.Conversation, error) {
		return g.conversationRepo.GetByID(ctx, conversationID)
	})
	if err != nil {
		logger.Warn("Block: legacy flag on conversation %s skipped: %v", conversationID, err)
		return "", nil
	}
	if !conversation.HasParticipant(ownerID) || conversation.Counterpart(ownerID) != targetID {
		return "", errors.Forbidden("conversation is not between these users", nil)
	}
	return conversationID, nil
}

func (g *BlockingGuard) setLegacyFlag(ctx context.Context, conversationID, targetID string, blocked bool) {
	if conversationID == "" || g.conversationRepo == nil {
		return
	}
	err := remoteExec(ctx, g.timeout, "set legacy block flag", func(ctx context.Context) error {
		return g.conversationRepo.SetLegacyBlock(ctx, conversationID, targetID, blocked)
	})
	if err != nil {
		logger.Warn("Block: legacy flag on conversation %s not updated: %v", conversationID, err)
	}
}
