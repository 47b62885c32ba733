package websocket

import (
	"encoding/json"
	stderrors "errors"

	"tradeup/internal/infrastructure/ratelimit"
	"tradeup/internal/usecase"
	"tradeup/pkg/errors"
	"tradeup/pkg/logger"
)

// WebSocket Message Types
const (
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeSubscribe    = "subscribe_conversation"
	MessageTypeUnsubscribe  = "unsubscribe_conversation"
	MessageTypeSubscribed   = "subscribed"
	MessageTypeUnsubscribed = "unsubscribed"
	MessageTypeTimeline     = "timeline"
	MessageTypeTypingStart  = "typing_start"
	MessageTypeTypingStop   = "typing_stop"
	MessageTypeTyping       = "typing"
	MessageTypeMarkRead     = "mark_read"
	MessageTypeReadReceipt  = "read_receipt"
	MessageTypeNewMessage   = "new_message"
	MessageTypeOfferEvent   = "offer_event"
	MessageTypeError        = "error"
)

// WSMessage is the envelope of every frame in both directions.
type WSMessage struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Timestamp      string      `json:"timestamp"`
}

type NewMessageData struct {
	EventID    string `json:"event_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Preview    string `json:"preview"`
}

type OfferEventData struct {
	EventID          string `json:"event_id"`
	Kind             string `json:"kind"`
	OfferID          string `json:"offer_id"`
	ProductID        string `json:"product_id"`
	ProductTitle     string `json:"product_title"`
	Amount           int64  `json:"amount"`
	CounterpartyName string `json:"counterparty_name"`
}

type TypingData struct {
	UserID string `json:"user_id"`
	Typing bool   `json:"typing"`
}

type ReadReceiptData struct {
	ReaderID string `json:"reader_id"`
	Count    int    `json:"count"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HandleClientMessage processes one frame received from a client.
func (m *Manager) HandleClientMessage(client *Client, messageBytes []byte) {
	var wsMessage WSMessage
	if err := json.Unmarshal(messageBytes, &wsMessage); err != nil {
		logger.Debug("WebSocket: failed to unmarshal message from client %s: %v", client.UserID, err)
		m.sendError(client, "", errors.BadRequest("Invalid message format", err))
		return
	}

	switch wsMessage.Type {
	case MessageTypePing:
		m.sendJSON(client, WSMessage{Type: MessageTypePong, Data: map[string]string{"status": "alive"}, Timestamp: now()})

	case MessageTypeSubscribe:
		m.handleSubscribe(client, wsMessage.ConversationID)

	case MessageTypeUnsubscribe:
		m.handleUnsubscribe(client, wsMessage.ConversationID)

	case MessageTypeTypingStart:
		m.handleTyping(client, wsMessage.ConversationID, true)

	case MessageTypeTypingStop:
		m.handleTyping(client, wsMessage.ConversationID, false)

	case MessageTypeMarkRead:
		m.handleMarkRead(client, wsMessage.ConversationID)

	default:
		logger.Debug("WebSocket: unknown message type '%s' from client %s", wsMessage.Type, client.UserID)
		m.sendError(client, wsMessage.ConversationID, errors.BadRequest("Unknown message type", nil))
	}
}

// handleSubscribe opens a live timeline and forwards every update to the
// client until the client unsubscribes or disconnects.
func (m *Manager) handleSubscribe(client *Client, conversationID string) {
	if conversationID == "" {
		m.sendError(client, "", errors.BadRequest("conversation_id is required", nil))
		return
	}
	if client.inRoom(conversationID) {
		return
	}

	sub, err := m.timelines.Subscribe(client.ctx, conversationID, client.UserID)
	if err != nil {
		m.sendError(client, conversationID, err)
		return
	}

	m.mutex.Lock()
	client.mu.Lock()
	_, exists := client.rooms[conversationID]
	joined := !client.closing && !exists
	if joined {
		client.rooms[conversationID] = sub
		members, ok := m.rooms[conversationID]
		if !ok {
			members = make(map[*Client]struct{})
			m.rooms[conversationID] = members
		}
		members[client] = struct{}{}
	}
	client.mu.Unlock()
	m.mutex.Unlock()

	if !joined {
		sub.Close()
		return
	}

	m.sendJSON(client, WSMessage{Type: MessageTypeSubscribed, ConversationID: conversationID, Timestamp: now()})
	go m.forward(client, conversationID, sub)
}

func (m *Manager) forward(client *Client, conversationID string, sub *usecase.Subscription) {
	for tl := range sub.Updates() {
		payload, err := json.Marshal(WSMessage{Type: MessageTypeTimeline, ConversationID: conversationID, Data: tl, Timestamp: now()})
		if err != nil {
			logger.Error("WebSocket: failed to marshal timeline %s for %s: %v", conversationID, client.UserID, err)
			continue
		}
		// Once the room is left no frame may follow the unsubscribed one.
		client.mu.Lock()
		if client.rooms[conversationID] == sub {
			m.enqueueLocked(client, payload)
		}
		client.mu.Unlock()
	}
	if err := sub.Err(); err != nil {
		logger.Warn("WebSocket: timeline %s for %s ended: %v", conversationID, client.UserID, err)
		m.leave(client, conversationID)
		m.sendError(client, conversationID, err)
	}
}

func (m *Manager) handleUnsubscribe(client *Client, conversationID string) {
	m.leave(client, conversationID)
	m.sendJSON(client, WSMessage{Type: MessageTypeUnsubscribed, ConversationID: conversationID, Timestamp: now()})
}

func (m *Manager) leave(client *Client, conversationID string) {
	m.mutex.Lock()
	client.mu.Lock()
	sub := client.rooms[conversationID]
	delete(client.rooms, conversationID)
	m.leaveRoomLocked(conversationID, client)
	client.mu.Unlock()
	m.mutex.Unlock()

	if sub != nil {
		sub.Close()
	}
}

func (c *Client) inRoom(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[conversationID]
	return ok
}

// handleTyping relays a typing indicator to the other participant's
// connections watching the same conversation.
func (m *Manager) handleTyping(client *Client, conversationID string, typing bool) {
	if !client.inRoom(conversationID) {
		m.sendError(client, conversationID, errors.BadRequest("Subscribe to the conversation first", nil))
		return
	}
	if typing {
		if ok, _ := m.limiter.Allow(client.UserID, ratelimit.ActionTyping); !ok {
			return
		}
	}

	payload, err := json.Marshal(WSMessage{
		Type:           MessageTypeTyping,
		ConversationID: conversationID,
		Data:           TypingData{UserID: client.UserID, Typing: typing},
		Timestamp:      now(),
	})
	if err != nil {
		return
	}
	m.SendToRoom(conversationID, payload, client.UserID)
}

// handleMarkRead marks the client's inbound messages read and sends a
// receipt to both sides of the room.
func (m *Manager) handleMarkRead(client *Client, conversationID string) {
	count, err := m.timelines.MarkRead(client.ctx, conversationID, client.UserID)
	if err != nil {
		m.sendError(client, conversationID, err)
		return
	}

	receipt := WSMessage{
		Type:           MessageTypeReadReceipt,
		ConversationID: conversationID,
		Data:           ReadReceiptData{ReaderID: client.UserID, Count: count},
		Timestamp:      now(),
	}
	m.sendJSON(client, receipt)
	if count == 0 {
		return
	}
	if payload, err := json.Marshal(receipt); err == nil {
		m.SendToRoom(conversationID, payload, client.UserID)
	}
}

func (m *Manager) sendError(client *Client, conversationID string, err error) {
	data := ErrorData{Code: errors.CodeInternal, Message: "An unexpected error occurred"}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		data = ErrorData{Code: appErr.Code, Message: appErr.Message}
	}
	m.sendJSON(client, WSMessage{Type: MessageTypeError, ConversationID: conversationID, Data: data, Timestamp: now()})
}
