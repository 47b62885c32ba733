package usecase

import (
	"reflect"
	"sort"

	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/repository"
)

// Timeline is one ordered, deduplicated view of a conversation as seen by a
// viewer. Published timelines are immutable.
type Timeline struct {
	ConversationID string            `json:"conversation_id"`
	ViewerID       string            `json:"viewer_id"`
	Version        uint64            `json:"version"`
	Messages       []*entity.Message `json:"messages"`
}

// timelineState is owned by a single goroutine.
type timelineState struct {
	conversationID string
	viewerID       string
	messages       map[string]*entity.Message
	hidden         map[string]struct{}
	version        uint64
}

func newTimelineState(conversationID, viewerID string) *timelineState {
	return &timelineState{
		conversationID: conversationID,
		viewerID:       viewerID,
		messages:       make(map[string]*entity.Message),
		hidden:         make(map[string]struct{}),
	}
}

// applyMessages folds a snapshot into the state and reports whether the view
// changed. Only removals from the store shrink the view.
func (s *timelineState) applyMessages(snap *repository.Snapshot[*entity.Message]) bool {
	changed := false
	for _, incoming := range snap.Items {
		if s.upsert(incoming) {
			changed = true
		}
	}
	for _, c := range snap.Changes {
		if c.Kind != repository.ChangeRemoved {
			continue
		}
		if _, ok := s.messages[c.Item.ID]; ok {
			delete(s.messages, c.Item.ID)
			changed = true
		}
	}
	return changed
}

func (s *timelineState) upsert(incoming *entity.Message) bool {
	if incoming == nil || incoming.ConversationID != s.conversationID {
		return false
	}
	prev := s.messages[incoming.ID]
	merged := mergeMessage(prev, incoming)
	if prev != nil && reflect.DeepEqual(prev, merged) {
		return false
	}
	s.messages[incoming.ID] = merged
	return true
}

func (s *timelineState) applyHidden(items []*entity.HiddenMessage) bool {
	changed := false
	for _, h := range items {
		if _, ok := s.hidden[h.MessageID]; !ok {
			s.hidden[h.MessageID] = struct{}{}
			changed = true
		}
	}
	return changed
}

func (s *timelineState) render() *Timeline {
	s.version++
	out := make([]*entity.Message, 0, len(s.messages))
	for id, m := range s.messages {
		if _, hidden := s.hidden[id]; hidden {
			out = append(out, hideForViewer(m))
			continue
		}
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return &Timeline{
		ConversationID: s.conversationID,
		ViewerID:       s.viewerID,
		Version:        s.version,
		Messages:       out,
	}
}

// mergeMessage combines a stored copy with a newer delivery. Tombstones and
// read receipts are never undone by a stale delivery.
func mergeMessage(prev, next *entity.Message) *entity.Message {
	out := next.Clone()
	if prev == nil {
		return out
	}
	if prev.IsDeleted && !out.IsDeleted {
		out.IsDeleted = true
		out.DeletedForEveryone = prev.DeletedForEveryone
		out.DeletedBy = prev.DeletedBy
		out.DeletedAt = prev.DeletedAt
		out.Content = prev.Content
		out.ImageURL = ""
		out.ImageFileName = ""
	}
	if prev.Read && !out.Read {
		out.Read = true
		out.ReadAt = prev.ReadAt
	}
	return out
}

func hideForViewer(m *entity.Message) *entity.Message {
	c := m.Clone()
	c.IsDeleted = true
	c.HiddenForViewer = true
	c.Content = entity.DeletedPlaceholder
	c.ImageURL = ""
	c.ImageFileName = ""
	return c
}
