package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradeup/internal/domain/service"
	"tradeup/internal/infrastructure/ratelimit"
	"tradeup/internal/usecase"
	"tradeup/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Presence is told when a user gets their first connection and when their
// last one goes away.
type Presence interface {
	Attach(userID string)
	Detach(userID string)
}

// Timelines serves live conversation views to connected clients.
type Timelines interface {
	Subscribe(ctx context.Context, conversationID, viewerID string) (*usecase.Subscription, error)
	MarkRead(ctx context.Context, conversationID, readerID string) (int, error)
}

// Client is one websocket connection. A user may hold several.
type Client struct {
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	ready  chan struct{}

	mu        sync.Mutex
	rooms     map[string]*usecase.Subscription
	closing   bool
	closed    bool
	closeOnce sync.Once
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
		ready:  make(chan struct{}),
		rooms:  make(map[string]*usecase.Subscription),
	}
}

// Manager tracks connections per user and per conversation room, and
// delivers in-app notifications to whoever is online.
type Manager struct {
	clients    map[string]map[*Client]struct{}
	rooms      map[string]map[*Client]struct{}
	Register   chan *Client
	Unregister chan *Client
	mutex      sync.RWMutex

	timelines Timelines
	presence  Presence
	limiter   *ratelimit.RateLimiter
	delivered *recentEvents

	ctx  context.Context
	done chan struct{}
}

func NewManager(timelines Timelines, presence Presence, limiter *ratelimit.RateLimiter) *Manager {
	return &Manager{
		clients:    make(map[string]map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		timelines:  timelines,
		presence:   presence,
		limiter:    limiter,
		delivered:  newRecentEvents(4096),
		ctx:        context.Background(),
		done:       make(chan struct{}),
	}
}

// SetPresence replaces the presence hook. Call it before Start.
func (m *Manager) SetPresence(presence Presence) {
	m.presence = presence
}

// Start runs the registration loop until ctx ends. Every remaining
// connection is closed on the way out.
func (m *Manager) Start(ctx context.Context) {
	m.ctx = ctx
	go func() {
		defer close(m.done)
		for {
			select {
			case client := <-m.Register:
				m.add(client)

			case client := <-m.Unregister:
				m.remove(client)

			case <-ctx.Done():
				m.mutex.RLock()
				var all []*Client
				for _, conns := range m.clients {
					for c := range conns {
						all = append(all, c)
					}
				}
				m.mutex.RUnlock()
				for _, c := range all {
					m.remove(c)
				}
				return
			}
		}
	}()
}

// Done is closed once Start's loop has exited.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) add(client *Client) {
	client.ctx, client.cancel = context.WithCancel(m.ctx)

	m.mutex.Lock()
	conns, ok := m.clients[client.UserID]
	if !ok {
		conns = make(map[*Client]struct{})
		m.clients[client.UserID] = conns
	}
	conns[client] = struct{}{}
	count := len(conns)
	m.mutex.Unlock()
	close(client.ready)

	logger.Info("WebSocket: client registered: %s (%d connections)", client.UserID, count)
	if count == 1 && m.presence != nil {
		m.presence.Attach(client.UserID)
	}
}

func (m *Manager) remove(client *Client) {
	m.mutex.Lock()
	conns, ok := m.clients[client.UserID]
	if !ok {
		m.mutex.Unlock()
		return
	}
	if _, ok := conns[client]; !ok {
		m.mutex.Unlock()
		return
	}
	delete(conns, client)
	last := len(conns) == 0
	if last {
		delete(m.clients, client.UserID)
	}
	client.mu.Lock()
	client.closing = true
	for conversationID := range client.rooms {
		m.leaveRoomLocked(conversationID, client)
	}
	client.mu.Unlock()
	m.mutex.Unlock()

	client.shutdown()
	logger.Info("WebSocket: client unregistered: %s", client.UserID)
	if last && m.presence != nil {
		m.presence.Detach(client.UserID)
	}
}

func (m *Manager) leaveRoomLocked(conversationID string, client *Client) {
	members := m.rooms[conversationID]
	delete(members, client)
	if len(members) == 0 {
		delete(m.rooms, conversationID)
	}
}

// shutdown ends every live timeline of the client and closes its send queue.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Lock()
		c.closing = true
		subs := make([]*usecase.Subscription, 0, len(c.rooms))
		for id, sub := range c.rooms {
			subs = append(subs, sub)
			delete(c.rooms, id)
		}
		c.closed = true
		close(c.Send)
		c.mu.Unlock()

		for _, sub := range subs {
			sub.Close()
		}
	})
}

// IsOnline reports whether the user has at least one open connection.
func (m *Manager) IsOnline(userID string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients[userID]) > 0
}

// ConnectionCount returns the number of open connections of a user.
func (m *Manager) ConnectionCount(userID string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.clients[userID])
}

// SendToUser queues a payload on every connection of the user and reports
// whether at least one accepted it.
func (m *Manager) SendToUser(userID string, payload []byte) bool {
	m.mutex.RLock()
	conns := make([]*Client, 0, len(m.clients[userID]))
	for c := range m.clients[userID] {
		conns = append(conns, c)
	}
	m.mutex.RUnlock()

	delivered := false
	for _, c := range conns {
		if m.enqueue(c, payload) {
			delivered = true
		}
	}
	return delivered
}

// SendToRoom queues a payload on every connection watching the conversation
// except those owned by exceptUserID.
func (m *Manager) SendToRoom(conversationID string, payload []byte, exceptUserID string) {
	m.mutex.RLock()
	members := make([]*Client, 0, len(m.rooms[conversationID]))
	for c := range m.rooms[conversationID] {
		if c.UserID != exceptUserID {
			members = append(members, c)
		}
	}
	m.mutex.RUnlock()

	for _, c := range members {
		m.enqueue(c, payload)
	}
}

// enqueue never blocks. A client whose queue is full is dropped.
func (m *Manager) enqueue(c *Client, payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return m.enqueueLocked(c, payload)
}

// enqueueLocked requires c.mu.
func (m *Manager) enqueueLocked(c *Client, payload []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.Send <- payload:
		return true
	default:
		logger.Warn("WebSocket: client %s send queue full, closing connection", c.UserID)
		go m.drop(c)
		return false
	}
}

func (m *Manager) drop(c *Client) {
	select {
	case m.Unregister <- c:
	case <-m.done:
	}
}

func (m *Manager) sendJSON(c *Client, msg WSMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Error("WebSocket: failed to marshal %s for %s: %v", msg.Type, c.UserID, err)
		return
	}
	m.enqueue(c, payload)
}

// NotifyNewMessage pushes an in-app notification to the receiver's open
// connections. Repeated event ids are dropped.
func (m *Manager) NotifyNewMessage(ctx context.Context, n service.NewMessageNotification) error {
	return m.notify(n.ReceiverID, n.EventID, WSMessage{
		Type:           MessageTypeNewMessage,
		ConversationID: n.ConversationID,
		Data: NewMessageData{
			EventID:    n.EventID,
			SenderID:   n.SenderID,
			SenderName: n.SenderName,
			Preview:    n.Preview,
		},
		Timestamp: now(),
	})
}

func (m *Manager) NotifyOfferEvent(ctx context.Context, n service.OfferNotification) error {
	return m.notify(n.RecipientID, n.EventID, WSMessage{
		Type:           MessageTypeOfferEvent,
		ConversationID: n.ConversationID,
		Data: OfferEventData{
			EventID:          n.EventID,
			Kind:             string(n.Kind),
			OfferID:          n.OfferID,
			ProductID:        n.ProductID,
			ProductTitle:     n.ProductTitle,
			Amount:           n.Amount,
			CounterpartyName: n.CounterpartyName,
		},
		Timestamp: now(),
	})
}

func (m *Manager) notify(userID, eventID string, msg WSMessage) error {
	if !m.IsOnline(userID) {
		return nil
	}
	if !m.delivered.add(eventID) {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	m.SendToUser(userID, payload)
	return nil
}

// ReadPump reads client frames until the connection fails, then unregisters.
func (c *Client) ReadPump(m *Manager) {
	defer func() {
		m.drop(c)
		c.Conn.Close()
	}()

	select {
	case <-c.ready:
	case <-m.done:
		return
	}

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("WebSocket: read error from %s: %v", c.UserID, err)
			}
			return
		}
		m.HandleClientMessage(c, message)
	}
}

// WritePump drains the send queue and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Warn("WebSocket: write error to %s: %v", c.UserID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// recentEvents remembers the last n event ids.
type recentEvents struct {
	mu   sync.Mutex
	ids  map[string]struct{}
	ring []string
	next int
}

func newRecentEvents(n int) *recentEvents {
	return &recentEvents{ids: make(map[string]struct{}, n), ring: make([]string, n)}
}

// add records id and reports whether it was new. Empty ids are always new.
func (r *recentEvents) add(id string) bool {
	if id == "" {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; ok {
		return false
	}
	if old := r.ring[r.next]; old != "" {
		delete(r.ids, old)
	}
	r.ring[r.next] = id
	r.ids[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ring)
	return true
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
