package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/repository"
	"tradeup/pkg/errors"
)

// PutConversation, PutMessage, PutProduct and PutUser seed the store
// directly, bypassing validation.

func (s *MemoryStore) PutConversation(c *entity.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = cloneConversation(c)
	s.changed()
}

func (s *MemoryStore) PutMessage(m *entity.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[m.ID] = m.Clone()
	s.changed()
}

func (s *MemoryStore) PutProduct(p *entity.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.products[p.ID] = &cp
}

func (s *MemoryStore) PutUser(u *entity.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	cp.FCMTokens = append([]string(nil), u.FCMTokens...)
	s.users[u.ID] = &cp
}

type memoryConversationRepository struct{ s *MemoryStore }

func NewMemoryConversationRepository(s *MemoryStore) repository.ConversationRepository {
	return &memoryConversationRepository{s: s}
}

func (r *memoryConversationRepository) Create(ctx context.Context, conversation *entity.Conversation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("conversations.Create"); err != nil {
		return err
	}
	if _, ok := r.s.conversations[conversation.ID]; ok {
		return errors.Conflict("conversation already exists")
	}
	r.s.conversations[conversation.ID] = cloneConversation(conversation)
	r.s.changed()
	return nil
}

func (r *memoryConversationRepository) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("conversations.GetByID"); err != nil {
		return nil, err
	}
	c, ok := r.s.conversations[id]
	if !ok {
		return nil, errors.NotFound("Conversation", nil)
	}
	return cloneConversation(c), nil
}

func (r *memoryConversationRepository) FindByProduct(ctx context.Context, productID string) ([]*entity.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("conversations.FindByProduct"); err != nil {
		return nil, err
	}
	var out []*entity.Conversation
	for _, c := range r.s.conversations {
		if c.ProductID == productID {
			out = append(out, cloneConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryConversationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*entity.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("conversations.ListByUser"); err != nil {
		return nil, err
	}
	var out []*entity.Conversation
	for _, c := range r.s.conversations {
		if c.HasParticipant(userID) {
			out = append(out, cloneConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageTime.After(out[j].LastMessageTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryConversationRepository) UpdateSummary(ctx context.Context, id string, summary entity.ConversationSummary) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("conversations.UpdateSummary"); err != nil {
		return err
	}
	c, ok := r.s.conversations[id]
	if !ok {
		return errors.NotFound("Conversation", nil)
	}
	c.LastMessage = summary.LastMessage
	c.LastMessageTime = summary.LastMessageTime
	c.LastMessageSenderID = summary.LastMessageSenderID
	r.s.changed()
	return nil
}

func (r *memoryConversationRepository) SetLegacyBlock(ctx context.Context, id, targetID string, blocked bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("conversations.SetLegacyBlock"); err != nil {
		return err
	}
	c, ok := r.s.conversations[id]
	if !ok {
		return errors.NotFound("Conversation", nil)
	}
	if blocked {
		if c.BlockedUsers == nil {
			c.BlockedUsers = make(map[string]bool)
		}
		c.BlockedUsers[targetID] = true
	} else {
		delete(c.BlockedUsers, targetID)
	}
	r.s.changed()
	return nil
}

func (r *memoryConversationRepository) MarkReported(ctx context.Context, id string, report entity.Report) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("conversations.MarkReported"); err != nil {
		return err
	}
	c, ok := r.s.conversations[id]
	if !ok {
		return errors.NotFound("Conversation", nil)
	}
	at := report.ReportedAt
	c.IsReported = true
	c.ReportedBy = report.ReporterID
	c.ReportReason = report.Reason
	c.ReportedAt = &at
	r.s.changed()
	return nil
}

func (r *memoryConversationRepository) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("conversations.Delete"); err != nil {
		return err
	}
	delete(r.s.conversations, id)
	r.s.changed()
	return nil
}

type memoryMessageRepository struct{ s *MemoryStore }

func NewMemoryMessageRepository(s *MemoryStore) repository.MessageRepository {
	return &memoryMessageRepository{s: s}
}

func (r *memoryMessageRepository) Create(ctx context.Context, message *entity.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("messages.Create"); err != nil {
		return err
	}
	if _, ok := r.s.messages[message.ID]; ok {
		return errors.Conflict("message already exists")
	}
	r.s.messages[message.ID] = message.Clone()
	r.s.changed()
	return nil
}

func (r *memoryMessageRepository) GetByID(ctx context.Context, id string) (*entity.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("messages.GetByID"); err != nil {
		return nil, err
	}
	m, ok := r.s.messages[id]
	if !ok {
		return nil, errors.NotFound("Message", nil)
	}
	return m.Clone(), nil
}

func (r *memoryMessageRepository) conversationMessages(conversationID string) []*entity.Message {
	var out []*entity.Message
	for _, m := range r.s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m.Clone())
		}
	}
	return out
}

func (r *memoryMessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]*entity.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("messages.ListByConversation"); err != nil {
		return nil, err
	}
	out := r.conversationMessages(conversationID)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (r *memoryMessageRepository) Latest(ctx context.Context, conversationID string) (*entity.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("messages.Latest"); err != nil {
		return nil, err
	}
	var latest *entity.Message
	for _, m := range r.s.messages {
		if m.ConversationID == conversationID && (latest == nil || latest.Before(m)) {
			latest = m
		}
	}
	return latest.Clone(), nil
}

func (r *memoryMessageRepository) MarkRead(ctx context.Context, conversationID, readerID string, at time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("messages.MarkRead"); err != nil {
		return 0, err
	}
	n := 0
	for _, m := range r.s.messages {
		if m.ConversationID == conversationID && m.ReceiverID == readerID && !m.Read {
			readAt := at
			m.Read = true
			m.ReadAt = &readAt
			n++
		}
	}
	if n > 0 {
		r.s.changed()
	}
	return n, nil
}

func (r *memoryMessageRepository) Tombstone(ctx context.Context, id string, tombstone entity.Tombstone) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("messages.Tombstone"); err != nil {
		return err
	}
	m, ok := r.s.messages[id]
	if !ok {
		return errors.NotFound("Message", nil)
	}
	at := tombstone.DeletedAt
	m.IsDeleted = true
	m.DeletedForEveryone = true
	m.DeletedBy = tombstone.DeletedBy
	m.DeletedAt = &at
	m.Content = entity.DeletedPlaceholder
	m.ImageURL = ""
	m.ImageFileName = ""
	r.s.changed()
	return nil
}

func (r *memoryMessageRepository) MarkReported(ctx context.Context, id string, report entity.Report) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("messages.MarkReported"); err != nil {
		return err
	}
	m, ok := r.s.messages[id]
	if !ok {
		return errors.NotFound("Message", nil)
	}
	at := report.ReportedAt
	m.IsReported = true
	m.ReportedBy = report.ReporterID
	m.ReportReason = report.Reason
	m.ReportedAt = &at
	r.s.changed()
	return nil
}

func (r *memoryMessageRepository) DeleteByConversation(ctx context.Context, conversationID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("messages.DeleteByConversation"); err != nil {
		return err
	}
	for id, m := range r.s.messages {
		if m.ConversationID == conversationID {
			delete(r.s.messages, id)
		}
	}
	r.s.changed()
	return nil
}

func (r *memoryMessageRepository) WatchConversation(ctx context.Context, conversationID string) repository.SnapshotIterator[*entity.Message] {
	return newMemoryIterator(ctx, r.s, func() []*entity.Message {
		return r.conversationMessages(conversationID)
	}, messageKey)
}

func (r *memoryMessageRepository) WatchInbox(ctx context.Context, receiverID string) repository.SnapshotIterator[*entity.Message] {
	return newMemoryIterator(ctx, r.s, func() []*entity.Message {
		var out []*entity.Message
		for _, m := range r.s.messages {
			if m.ReceiverID == receiverID {
				out = append(out, m.Clone())
			}
		}
		return out
	}, messageKey)
}

func messageKey(m *entity.Message) string { return m.ID }

type memoryOfferRepository struct{ s *MemoryStore }

func NewMemoryOfferRepository(s *MemoryStore) repository.OfferRepository {
	return &memoryOfferRepository{s: s}
}

func (r *memoryOfferRepository) Create(ctx context.Context, offer *entity.Offer) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("offers.Create"); err != nil {
		return err
	}
	if _, ok := r.s.offers[offer.ID]; ok {
		return errors.Conflict("offer already exists")
	}
	r.s.offers[offer.ID] = offer.Clone()
	return nil
}

func (r *memoryOfferRepository) GetByID(ctx context.Context, id string) (*entity.Offer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("offers.GetByID"); err != nil {
		return nil, err
	}
	o, ok := r.s.offers[id]
	if !ok {
		return nil, errors.NotFound("Offer", nil)
	}
	return o.Clone(), nil
}

func (r *memoryOfferRepository) Transition(ctx context.Context, id string, status entity.OfferStatus, at time.Time) (*entity.Offer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("offers.Transition"); err != nil {
		return nil, err
	}
	o, ok := r.s.offers[id]
	if !ok {
		return nil, errors.NotFound("Offer", nil)
	}
	current := entity.NormalizeOfferStatus(o.Status)
	if current == status {
		return o.Clone(), nil
	}
	if current != entity.OfferStatusPending {
		return nil, errors.Conflict(fmt.Sprintf("offer is already %s", current))
	}
	respondedAt := at
	o.Status = status
	o.RespondedAt = &respondedAt
	return o.Clone(), nil
}

func (r *memoryOfferRepository) Counter(ctx context.Context, originalID string, counter *entity.Offer, at time.Time) (*entity.Offer, *entity.Offer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("offers.Counter"); err != nil {
		return nil, nil, err
	}
	o, ok := r.s.offers[originalID]
	if !ok {
		return nil, nil, errors.NotFound("Offer", nil)
	}
	current := entity.NormalizeOfferStatus(o.Status)
	if current == entity.OfferStatusCountered && o.CounteredByID != "" {
		existing, ok := r.s.offers[o.CounteredByID]
		if !ok {
			return nil, nil, errors.NotFound("Counter offer", nil)
		}
		return o.Clone(), existing.Clone(), nil
	}
	if current != entity.OfferStatusPending {
		return nil, nil, errors.Conflict(fmt.Sprintf("offer is already %s", current))
	}
	if _, ok := r.s.offers[counter.ID]; ok {
		return nil, nil, errors.Conflict("offer already exists")
	}
	respondedAt := at
	o.Status = entity.OfferStatusCountered
	o.CounteredByID = counter.ID
	o.RespondedAt = &respondedAt
	r.s.offers[counter.ID] = counter.Clone()
	return o.Clone(), counter.Clone(), nil
}

func (r *memoryOfferRepository) ClaimFulfillment(ctx context.Context, id, hook string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("offers.ClaimFulfillment"); err != nil {
		return false, err
	}
	o, ok := r.s.offers[id]
	if !ok {
		return false, errors.NotFound("Offer", nil)
	}
	if o.Fulfilled[hook] {
		return false, nil
	}
	if o.Fulfilled == nil {
		o.Fulfilled = make(map[string]bool)
	}
	o.Fulfilled[hook] = true
	return true, nil
}

func (r *memoryOfferRepository) ReleaseFulfillment(ctx context.Context, id, hook string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("offers.ReleaseFulfillment"); err != nil {
		return err
	}
	if o, ok := r.s.offers[id]; ok {
		delete(o.Fulfilled, hook)
	}
	return nil
}

func (r *memoryOfferRepository) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*entity.Offer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("offers.ListPendingBefore"); err != nil {
		return nil, err
	}
	var out []*entity.Offer
	for _, o := range r.s.offers {
		if entity.NormalizeOfferStatus(o.Status) == entity.OfferStatusPending && o.CreatedAt.Before(before) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryOfferRepository) ListByProduct(ctx context.Context, productID string, limit int) ([]*entity.Offer, error) {
	return r.list("offers.ListByProduct", limit, func(o *entity.Offer) bool { return o.ProductID == productID })
}

func (r *memoryOfferRepository) ListBySender(ctx context.Context, senderID string, limit int) ([]*entity.Offer, error) {
	return r.list("offers.ListBySender", limit, func(o *entity.Offer) bool { return o.SenderID == senderID })
}

func (r *memoryOfferRepository) ListByReceiver(ctx context.Context, receiverID string, limit int) ([]*entity.Offer, error) {
	return r.list("offers.ListByReceiver", limit, func(o *entity.Offer) bool { return o.ReceiverID == receiverID })
}

func (r *memoryOfferRepository) list(op string, limit int, match func(*entity.Offer) bool) ([]*entity.Offer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter(op); err != nil {
		return nil, err
	}
	var out []*entity.Offer
	for _, o := range r.s.offers {
		if match(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryBlockRepository struct{ s *MemoryStore }

func NewMemoryBlockRepository(s *MemoryStore) repository.BlockRepository {
	return &memoryBlockRepository{s: s}
}

func (r *memoryBlockRepository) Exists(ctx context.Context, ownerID, targetID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("blocks.Exists"); err != nil {
		return false, err
	}
	rel, ok := r.s.blocks[ownerID][targetID]
	return ok && rel.Blocked, nil
}

func (r *memoryBlockRepository) Put(ctx context.Context, relation *entity.BlockRelation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("blocks.Put"); err != nil {
		return err
	}
	edges := r.s.blocks[relation.OwnerID]
	if edges == nil {
		edges = make(map[string]*entity.BlockRelation)
		r.s.blocks[relation.OwnerID] = edges
	}
	cp := *relation
	edges[relation.BlockedUserID] = &cp
	return nil
}

func (r *memoryBlockRepository) Remove(ctx context.Context, ownerID, targetID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("blocks.Remove"); err != nil {
		return err
	}
	delete(r.s.blocks[ownerID], targetID)
	return nil
}

func (r *memoryBlockRepository) List(ctx context.Context, ownerID string) ([]*entity.BlockRelation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("blocks.List"); err != nil {
		return nil, err
	}
	var out []*entity.BlockRelation
	for _, rel := range r.s.blocks[ownerID] {
		cp := *rel
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockedUserID < out[j].BlockedUserID })
	return out, nil
}

type memoryHiddenMessageRepository struct{ s *MemoryStore }

func NewMemoryHiddenMessageRepository(s *MemoryStore) repository.HiddenMessageRepository {
	return &memoryHiddenMessageRepository{s: s}
}

func (r *memoryHiddenMessageRepository) Hide(ctx context.Context, hidden *entity.HiddenMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("hidden.Hide"); err != nil {
		return err
	}
	set := r.s.hidden[hidden.ViewerID]
	if set == nil {
		set = make(map[string]*entity.HiddenMessage)
		r.s.hidden[hidden.ViewerID] = set
	}
	if _, ok := set[hidden.MessageID]; ok {
		return nil
	}
	cp := *hidden
	set[hidden.MessageID] = &cp
	r.s.changed()
	return nil
}

func (r *memoryHiddenMessageRepository) query(viewerID, conversationID string) []*entity.HiddenMessage {
	var out []*entity.HiddenMessage
	for _, h := range r.s.hidden[viewerID] {
		if h.ConversationID == conversationID {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out
}

func (r *memoryHiddenMessageRepository) ListHidden(ctx context.Context, viewerID, conversationID string) ([]*entity.HiddenMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("hidden.ListHidden"); err != nil {
		return nil, err
	}
	return r.query(viewerID, conversationID), nil
}

func (r *memoryHiddenMessageRepository) WatchHidden(ctx context.Context, viewerID, conversationID string) repository.SnapshotIterator[*entity.HiddenMessage] {
	return newMemoryIterator(ctx, r.s, func() []*entity.HiddenMessage {
		return r.query(viewerID, conversationID)
	}, func(h *entity.HiddenMessage) string { return h.MessageID })
}

type memoryWatermarkRepository struct{ s *MemoryStore }

func NewMemoryWatermarkRepository(s *MemoryStore) repository.WatermarkRepository {
	return &memoryWatermarkRepository{s: s}
}

func (r *memoryWatermarkRepository) Get(ctx context.Context, userID string) (*entity.Watermark, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("watermarks.Get"); err != nil {
		return nil, err
	}
	wm, ok := r.s.watermarks[userID]
	if !ok {
		return nil, nil
	}
	cp := *wm
	return &cp, nil
}

func (r *memoryWatermarkRepository) Advance(ctx context.Context, wm *entity.Watermark) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("watermarks.Advance"); err != nil {
		return err
	}
	current := r.s.watermarks[wm.UserID]
	if current != nil && !current.Behind(wm) {
		return nil
	}
	cp := *wm
	r.s.watermarks[wm.UserID] = &cp
	return nil
}

type memoryProductRepository struct{ s *MemoryStore }

func NewMemoryProductRepository(s *MemoryStore) repository.ProductRepository {
	return &memoryProductRepository{s: s}
}

func (r *memoryProductRepository) GetByID(ctx context.Context, id string) (*entity.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("products.GetByID"); err != nil {
		return nil, err
	}
	p, ok := r.s.products[id]
	if !ok {
		return nil, errors.NotFound("Product", nil)
	}
	cp := *p
	return &cp, nil
}

func (r *memoryProductRepository) MarkUnavailable(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("products.MarkUnavailable"); err != nil {
		return err
	}
	p, ok := r.s.products[id]
	if !ok {
		return errors.NotFound("Product", nil)
	}
	p.Status = entity.ProductStatusUnavailable
	p.UpdatedAt = time.Now()
	return nil
}

type memoryUserRepository struct{ s *MemoryStore }

func NewMemoryUserRepository(s *MemoryStore) repository.UserRepository {
	return &memoryUserRepository{s: s}
}

func (r *memoryUserRepository) GetByID(ctx context.Context, id string) (*entity.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("users.GetByID"); err != nil {
		return nil, err
	}
	u, ok := r.s.users[id]
	if !ok {
		return nil, errors.NotFound("User", nil)
	}
	cp := *u
	cp.FCMTokens = append([]string(nil), u.FCMTokens...)
	return &cp, nil
}

type memoryNotificationLogRepository struct{ s *MemoryStore }

func NewMemoryNotificationLogRepository(s *MemoryStore) repository.NotificationLogRepository {
	return &memoryNotificationLogRepository{s: s}
}

func (r *memoryNotificationLogRepository) Claim(ctx context.Context, eventID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.enter("notifications.Claim"); err != nil {
		return false, err
	}
	if r.s.notified[eventID] {
		return false, nil
	}
	r.s.notified[eventID] = true
	return true, nil
}
