package usecase

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/repository"
	"tradeup/internal/domain/service"
	"tradeup/internal/infrastructure/metrics"
	"tradeup/pkg/errors"
	"tradeup/pkg/logger"
	"tradeup/pkg/utils"
)

const (
	expiryBatchSize = 100
	offerListLimit  = 200
)

// OfferRole selects the side of a negotiation List returns.
type OfferRole string

const (
	OfferRoleAny      OfferRole = ""
	OfferRoleSent     OfferRole = "sent"
	OfferRoleReceived OfferRole = "received"
)

// OfferEngine runs the offer / counter-offer state machine. Every step is
// also a message so it renders in the conversation timeline.
type OfferEngine struct {
	offerRepo  repository.OfferRepository
	userRepo   repository.UserRepository
	sync       *MessageSynchronizer
	guard      *BlockingGuard
	dispatcher service.NotificationDispatcher
	hooks      []service.AcceptanceHandler
	metrics    *metrics.Metrics

	timeout time.Duration
	ttl     time.Duration
	now     clock
}

func NewOfferEngine(
	offerRepo repository.OfferRepository,
	userRepo repository.UserRepository,
	sync *MessageSynchronizer,
	guard *BlockingGuard,
	dispatcher service.NotificationDispatcher,
	hooks []service.AcceptanceHandler,
	m *metrics.Metrics,
	timeout time.Duration,
	ttl time.Duration,
) *OfferEngine {
	return &OfferEngine{
		offerRepo:  offerRepo,
		userRepo:   userRepo,
		sync:       sync,
		guard:      guard,
		dispatcher: dispatcher,
		hooks:      hooks,
		metrics:    m,
		timeout:    timeout,
		ttl:        ttl,
		now:        systemClock,
	}
}

type CreateOfferInput struct {
	// OfferID is optional. Supplying one makes retries of the same
	// logical offer safe.
	OfferID        string
	ConversationID string
	ProductID      string
	ProductTitle   string
	SenderID       string
	SenderName     string
	ReceiverID     string
	OriginalPrice  int64
	OfferPrice     int64
	Note           string
}

// CreateOffer persists a PENDING offer, posts it to the conversation as a
// chat_offer message and notifies the receiver.
func (e *OfferEngine) CreateOffer(ctx context.Context, input CreateOfferInput) (*entity.Offer, error) {
	if input.OfferPrice <= 0 {
		return nil, errors.InvalidPrice("offer price must be greater than zero")
	}
	if input.OriginalPrice > 0 && input.OfferPrice > input.OriginalPrice {
		return nil, errors.InvalidPrice("offer price cannot exceed the listing price")
	}
	if input.ProductID == "" {
		return nil, errors.BadRequest("product is required", nil)
	}
	if err := e.sync.authorize(ctx, input.ConversationID, input.SenderID, input.ReceiverID); err != nil {
		logger.Warn("CreateOffer Error: %s -> %s: %v", input.SenderID, input.ReceiverID, err)
		return nil, err
	}

	pending, err := e.pendingFrom(ctx, input.SenderID, input.ConversationID)
	if err != nil {
		return nil, err
	}
	if pending != nil && pending.ID != input.OfferID {
		return nil, errors.Conflict(fmt.Sprintf("offer %s is still pending in this conversation", pending.ID))
	}

	if input.OfferID == "" {
		input.OfferID = uuid.New().String()
	}
	if input.SenderName == "" {
		input.SenderName = lookupDisplayName(ctx, e.userRepo, e.timeout, input.SenderID)
	}
	offer := &entity.Offer{
		ID:             input.OfferID,
		ConversationID: input.ConversationID,
		ProductID:      input.ProductID,
		ProductTitle:   input.ProductTitle,
		SenderID:       input.SenderID,
		SenderName:     input.SenderName,
		ReceiverID:     input.ReceiverID,
		OriginalPrice:  input.OriginalPrice,
		OfferPrice:     input.OfferPrice,
		Message:        input.Note,
		Status:         entity.OfferStatusPending,
		CreatedAt:      e.now(),
	}

	err = remoteExec(ctx, e.timeout, "create offer", func(ctx context.Context) error {
		return e.offerRepo.Create(ctx, offer)
	})
	if errors.Is(err, errors.CodeConflict) {
		offer, err = e.load(ctx, input.OfferID)
		if err == nil && (offer.SenderID != input.SenderID || offer.ConversationID != input.ConversationID) {
			return nil, errors.Conflict("offer id already in use")
		}
	}
	if err != nil {
		logger.Error("CreateOffer Error: %v", err)
		return nil, err
	}
	e.metrics.OfferTransition(string(entity.OfferStatusPending))

	if err := e.post(ctx, offer); err != nil {
		return nil, err
	}
	e.notify(ctx, service.OfferEventCreated, offer, offer.ReceiverID, offer.SenderName)
	logger.Info("CreateOffer: offer %s on product %s by %s", offer.ID, offer.ProductID, offer.SenderID)
	return offer, nil
}

func (e *OfferEngine) CreateOfferAsync(ctx context.Context, input CreateOfferInput) *Future[*entity.Offer] {
	return Go(ctx, func(ctx context.Context) (*entity.Offer, error) {
		return e.CreateOffer(ctx, input)
	})
}

type RespondInput struct {
	OfferID       string
	Decision      entity.OfferStatus
	CounterPrice  int64
	CounterNote   string
	ResponderID   string
	ResponderName string
}

type RespondResult struct {
	Offer   *entity.Offer `json:"offer"`
	Counter *entity.Offer `json:"counter,omitempty"`
}

// Respond applies the receiver's decision. Retrying a response that already
// landed repeats no side effect.
func (e *OfferEngine) Respond(ctx context.Context, input RespondInput) (*RespondResult, error) {
	decision := entity.NormalizeOfferStatus(input.Decision)
	switch decision {
	case entity.OfferStatusAccepted, entity.OfferStatusDeclined, entity.OfferStatusCountered:
	default:
		return nil, errors.BadRequest(fmt.Sprintf("unsupported decision %q", input.Decision), nil)
	}

	offer, err := e.load(ctx, input.OfferID)
	if err != nil {
		return nil, err
	}
	if offer.ReceiverID != input.ResponderID {
		return nil, errors.Forbidden("Only the receiver can respond to this offer", nil)
	}
	if err := e.guard.Ensure(ctx, input.ResponderID, offer.SenderID); err != nil {
		return nil, err
	}
	if input.ResponderName == "" {
		input.ResponderName = lookupDisplayName(ctx, e.userRepo, e.timeout, input.ResponderID)
	}

	if decision == entity.OfferStatusCountered {
		return e.counter(ctx, offer, input)
	}
	return e.settle(ctx, offer, decision, input)
}

func (e *OfferEngine) RespondAsync(ctx context.Context, input RespondInput) *Future[*RespondResult] {
	return Go(ctx, func(ctx context.Context) (*RespondResult, error) {
		return e.Respond(ctx, input)
	})
}

func (e *OfferEngine) counter(ctx context.Context, offer *entity.Offer, input RespondInput) (*RespondResult, error) {
	if input.CounterPrice <= 0 {
		return nil, errors.InvalidPrice("counter price must be greater than zero")
	}

	now := e.now()
	proposal := &entity.Offer{
		ID:             uuid.New().String(),
		ConversationID: offer.ConversationID,
		ProductID:      offer.ProductID,
		ProductTitle:   offer.ProductTitle,
		SenderID:       offer.ReceiverID,
		SenderName:     input.ResponderName,
		ReceiverID:     offer.SenderID,
		OriginalPrice:  offer.OriginalPrice,
		OfferPrice:     input.CounterPrice,
		Message:        input.CounterNote,
		Status:         entity.OfferStatusPending,
		CounterOfferID: offer.ID,
		CreatedAt:      now,
	}

	type countered struct{ original, counter *entity.Offer }
	res, err := remote(ctx, e.timeout, "counter offer", func(ctx context.Context) (countered, error) {
		original, stored, err := e.offerRepo.Counter(ctx, offer.ID, proposal, now)
		return countered{original, stored}, err
	})
	if err != nil {
		logger.Error("CounterOffer Error: offer %s: %v", offer.ID, err)
		return nil, err
	}
	e.metrics.OfferTransition(string(entity.OfferStatusCountered))

	if err := e.post(ctx, res.counter); err != nil {
		return nil, err
	}
	e.notify(ctx, service.OfferEventCountered, res.counter, res.counter.ReceiverID, res.counter.SenderName)
	logger.Info("CounterOffer: offer %s countered by %s", offer.ID, res.counter.ID)
	return &RespondResult{Offer: res.original, Counter: res.counter}, nil
}

func (e *OfferEngine) settle(ctx context.Context, offer *entity.Offer, decision entity.OfferStatus, input RespondInput) (*RespondResult, error) {
	updated, err := remote(ctx, e.timeout, "respond to offer", func(ctx context.Context) (*entity.Offer, error) {
		return e.offerRepo.Transition(ctx, offer.ID, decision, e.now())
	})
	if err != nil {
		logger.Error("RespondOffer Error: offer %s -> %s: %v", offer.ID, decision, err)
		return nil, err
	}
	e.metrics.OfferTransition(string(decision))

	response := &entity.Message{
		ID:             responseMessageID(updated.ID),
		ConversationID: updated.ConversationID,
		SenderID:       updated.ReceiverID,
		ReceiverID:     updated.SenderID,
		Content:        responseContent(updated, decision),
		Type:           entity.MessageTypeOfferResponse,
		Timestamp:      e.now(),
		OfferID:        updated.ID,
		OfferAmount:    updated.OfferPrice,
		OriginalPrice:  updated.OriginalPrice,
		OfferStatus:    decision,
		ProductID:      updated.ProductID,
	}
	if _, err := e.sync.deliver(ctx, response); err != nil {
		return nil, err
	}

	kind := service.OfferEventDeclined
	if decision == entity.OfferStatusAccepted {
		kind = service.OfferEventAccepted
	}
	e.notify(ctx, kind, updated, updated.SenderID, input.ResponderName)

	if decision == entity.OfferStatusAccepted {
		if err := e.fulfill(ctx, updated); err != nil {
			return &RespondResult{Offer: updated}, err
		}
	}
	return &RespondResult{Offer: updated}, nil
}

// fulfill runs each acceptance hook at most once per offer. A failed hook is
// released so a retried Respond runs it again.
func (e *OfferEngine) fulfill(ctx context.Context, offer *entity.Offer) error {
	var failures []error
	for _, hook := range e.hooks {
		claimed, err := remote(ctx, e.timeout, "claim fulfillment", func(ctx context.Context) (bool, error) {
			return e.offerRepo.ClaimFulfillment(ctx, offer.ID, hook.Name())
		})
		if err != nil {
			failures = append(failures, err)
			continue
		}
		if !claimed {
			continue
		}

		if err := remoteExec(ctx, e.timeout, "acceptance hook "+hook.Name(), func(ctx context.Context) error {
			return hook.OnOfferAccepted(ctx, offer)
		}); err != nil {
			logger.Error("AcceptOffer Error: hook %s for offer %s: %v", hook.Name(), offer.ID, err)
			failures = append(failures, err)
			if relErr := remoteExec(ctx, e.timeout, "release fulfillment", func(ctx context.Context) error {
				return e.offerRepo.ReleaseFulfillment(ctx, offer.ID, hook.Name())
			}); relErr != nil {
				logger.Error("AcceptOffer Error: hook %s for offer %s stays claimed: %v", hook.Name(), offer.ID, relErr)
			}
		}
	}
	if len(failures) > 0 {
		return errors.RemoteUnavailable("offer accepted but follow-up steps failed; retry to complete", stderrors.Join(failures...))
	}
	return nil
}

// post emits the chat_offer message for offer. The id is derived from the
// offer so a retry cannot duplicate it.
func (e *OfferEngine) post(ctx context.Context, offer *entity.Offer) error {
	message := &entity.Message{
		ID:             offerMessageID(offer.ID),
		ConversationID: offer.ConversationID,
		SenderID:       offer.SenderID,
		ReceiverID:     offer.ReceiverID,
		Content:        offerContent(offer),
		Type:           entity.MessageTypeChatOffer,
		Timestamp:      offer.CreatedAt,
		OfferID:        offer.ID,
		OfferAmount:    offer.OfferPrice,
		OriginalPrice:  offer.OriginalPrice,
		OfferStatus:    entity.OfferStatusPending,
		ProductID:      offer.ProductID,
	}
	if _, err := e.sync.deliver(ctx, message); err != nil {
		logger.Error("CreateOffer Error: offer %s persisted but not posted: %v", offer.ID, err)
		return err
	}
	return nil
}

func (e *OfferEngine) notify(ctx context.Context, kind service.OfferEventKind, offer *entity.Offer, recipientID, counterpartyName string) {
	if e.dispatcher == nil {
		return
	}
	n := service.OfferNotification{
		EventID:          string(kind) + "-" + offer.ID,
		Kind:             kind,
		OfferID:          offer.ID,
		ConversationID:   offer.ConversationID,
		ProductID:        offer.ProductID,
		ProductTitle:     offer.ProductTitle,
		Amount:           offer.OfferPrice,
		CounterpartyName: counterpartyName,
		RecipientID:      recipientID,
	}
	if err := remoteExec(ctx, e.timeout, "notify offer event", func(ctx context.Context) error {
		return e.dispatcher.NotifyOfferEvent(ctx, n)
	}); err != nil {
		logger.Warn("Offer: %s notification for %s not dispatched: %v", kind, offer.ID, err)
		return
	}
	e.metrics.NotificationDispatched(string(kind))
}

func (e *OfferEngine) Get(ctx context.Context, offerID, requesterID string) (*entity.Offer, error) {
	offer, err := e.load(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.SenderID != requesterID && offer.ReceiverID != requesterID {
		return nil, errors.Forbidden("User is not a party to this offer", nil)
	}
	return offer, nil
}

// List returns the user's offers newest first. With productID set only
// offers on that product are returned.
func (e *OfferEngine) List(ctx context.Context, userID string, role OfferRole, productID string) ([]*entity.Offer, error) {
	switch role {
	case OfferRoleAny, OfferRoleSent, OfferRoleReceived:
	default:
		return nil, errors.BadRequest(fmt.Sprintf("unsupported role %q", role), nil)
	}

	var (
		offers []*entity.Offer
		err    error
	)
	switch {
	case productID != "":
		offers, err = remote(ctx, e.timeout, "list product offers", func(ctx context.Context) ([]*entity.Offer, error) {
			return e.offerRepo.ListByProduct(ctx, productID, offerListLimit)
		})
	case role == OfferRoleSent:
		offers, err = remote(ctx, e.timeout, "list sent offers", func(ctx context.Context) ([]*entity.Offer, error) {
			return e.offerRepo.ListBySender(ctx, userID, offerListLimit)
		})
	case role == OfferRoleReceived:
		offers, err = remote(ctx, e.timeout, "list received offers", func(ctx context.Context) ([]*entity.Offer, error) {
			return e.offerRepo.ListByReceiver(ctx, userID, offerListLimit)
		})
	default:
		offers, err = e.listBothSides(ctx, userID)
	}
	if err != nil {
		logger.Error("ListOffers Error: user %s: %v", userID, err)
		return nil, err
	}

	out := make([]*entity.Offer, 0, len(offers))
	for _, o := range offers {
		if hasRole(o, userID, role) && (productID == "" || o.ProductID == productID) {
			out = append(out, o)
		}
	}
	return out, nil
}

// HasPending reports whether the sender still has a PENDING offer in the
// conversation.
func (e *OfferEngine) HasPending(ctx context.Context, senderID, conversationID string) (bool, error) {
	pending, err := e.pendingFrom(ctx, senderID, conversationID)
	return pending != nil, err
}

func (e *OfferEngine) pendingFrom(ctx context.Context, senderID, conversationID string) (*entity.Offer, error) {
	sent, err := remote(ctx, e.timeout, "list sent offers", func(ctx context.Context) ([]*entity.Offer, error) {
		return e.offerRepo.ListBySender(ctx, senderID, 0)
	})
	if err != nil {
		return nil, err
	}
	for _, o := range sent {
		if o.ConversationID == conversationID && entity.NormalizeOfferStatus(o.Status) == entity.OfferStatusPending {
			return o, nil
		}
	}
	return nil, nil
}

func (e *OfferEngine) listBothSides(ctx context.Context, userID string) ([]*entity.Offer, error) {
	sent, err := remote(ctx, e.timeout, "list sent offers", func(ctx context.Context) ([]*entity.Offer, error) {
		return e.offerRepo.ListBySender(ctx, userID, offerListLimit)
	})
	if err != nil {
		return nil, err
	}
	received, err := remote(ctx, e.timeout, "list received offers", func(ctx context.Context) ([]*entity.Offer, error) {
		return e.offerRepo.ListByReceiver(ctx, userID, offerListLimit)
	})
	if err != nil {
		return nil, err
	}
	all := append(sent, received...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return all, nil
}

func hasRole(o *entity.Offer, userID string, role OfferRole) bool {
	switch role {
	case OfferRoleSent:
		return o.SenderID == userID
	case OfferRoleReceived:
		return o.ReceiverID == userID
	}
	return o.SenderID == userID || o.ReceiverID == userID
}

// Chain returns the whole negotiation containing offerID, oldest first.
func (e *OfferEngine) Chain(ctx context.Context, offerID string) ([]*entity.Offer, error) {
	start, err := e.load(ctx, offerID)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{start.ID: true}
	root := start
	var back []*entity.Offer
	for root.CounterOfferID != "" {
		if visited[root.CounterOfferID] {
			return nil, errors.Internal(fmt.Sprintf("offer chain of %s has a cycle", offerID), nil)
		}
		prev, err := e.load(ctx, root.CounterOfferID)
		if err != nil {
			return nil, err
		}
		visited[prev.ID] = true
		back = append(back, prev)
		root = prev
	}

	chain := make([]*entity.Offer, 0, len(back)+1)
	for i := len(back) - 1; i >= 0; i-- {
		chain = append(chain, back[i])
	}
	chain = append(chain, start)

	for head := start; head.CounteredByID != ""; {
		if visited[head.CounteredByID] {
			return nil, errors.Internal(fmt.Sprintf("offer chain of %s has a cycle", offerID), nil)
		}
		next, err := e.load(ctx, head.CounteredByID)
		if err != nil {
			return nil, err
		}
		visited[next.ID] = true
		chain = append(chain, next)
		head = next
	}
	return chain, nil
}

// ExpireStale moves PENDING offers created before cutoff to EXPIRED.
func (e *OfferEngine) ExpireStale(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := remote(ctx, e.timeout, "list pending offers", func(ctx context.Context) ([]*entity.Offer, error) {
		return e.offerRepo.ListPendingBefore(ctx, cutoff, expiryBatchSize)
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, offer := range stale {
		_, err := remote(ctx, e.timeout, "expire offer", func(ctx context.Context) (*entity.Offer, error) {
			return e.offerRepo.Transition(ctx, offer.ID, entity.OfferStatusExpired, e.now())
		})
		if errors.Is(err, errors.CodeConflict) {
			continue
		}
		if err != nil {
			logger.Warn("ExpireOffers: offer %s: %v", offer.ID, err)
			continue
		}
		e.metrics.OfferTransition(string(entity.OfferStatusExpired))
		expired++
	}
	if expired > 0 {
		logger.Info("ExpireOffers: %d offers expired", expired)
	}
	return expired, nil
}

// StartExpiryJob sweeps stale offers every interval until ctx ends. It does
// nothing when offers never expire.
func (e *OfferEngine) StartExpiryJob(ctx context.Context, interval time.Duration) {
	if e.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-ticker.C:
				if _, err := e.ExpireStale(ctx, e.now().Add(-e.ttl)); err != nil {
					logger.Error("Offer expiry job error: %v", err)
				}
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

func (e *OfferEngine) load(ctx context.Context, id string) (*entity.Offer, error) {
	if id == "" {
		return nil, errors.BadRequest("offer id is required", nil)
	}
	return remote(ctx, e.timeout, "get offer", func(ctx context.Context) (*entity.Offer, error) {
		return e.offerRepo.GetByID(ctx, id)
	})
}

func offerMessageID(offerID string) string { return "offer-" + offerID }

func responseMessageID(offerID string) string { return "offer_response-" + offerID }

func offerContent(o *entity.Offer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "💰 Price Offer: %s VNĐ", utils.FormatAmount(o.OfferPrice))
	if o.ProductTitle != "" {
		fmt.Fprintf(&b, "\n📦 %s", o.ProductTitle)
	}
	if o.Message != "" {
		fmt.Fprintf(&b, "\n💬 %s", o.Message)
	}
	return b.String()
}

func responseContent(o *entity.Offer, decision entity.OfferStatus) string {
	if decision == entity.OfferStatusAccepted {
		return fmt.Sprintf("✅ Offer Accepted! 🎉 for %s", o.ProductTitle)
	}
	return fmt.Sprintf("❌ Offer Declined for %s", o.ProductTitle)
}
