package ws

import (
	"context"
	"sync"
	"time"

	"github.com/convo/internal/logger"
	"github.com/convo/internal/model"
)

// UserStore is what the hub needs to read users and keep the durable
// presence projection in sync.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	SetOnline(ctx context.Context, userID string, online bool, lastSeen *time.Time) error
}

// GroupStore seeds room subscriptions and maintains the group's
// last-message pointer.
type GroupStore interface {
	GroupsForUser(ctx context.Context, userID string) ([]string, error)
	MemberIDs(ctx context.Context, groupID string) ([]string, error)
	SetLastMessage(ctx context.Context, groupID, messageID string) error
}

// MessageStore is the persistence collaborator for the routing engine.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	AppendGroupRead(ctx context.Context, messageID, userID string, readAt time.Time) (added bool, err error)
	SetDirectRead(ctx context.Context, messageID string) error
}

// PushNotifier sends push notifications. Nil disables pushes.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// Hub owns the presence registry (user -> live connections) and the room
// membership index (group -> subscribed connections). All mutations go
// through the Run loop's register/unregister channels or hold mu, so
// concurrent connects for one user cannot race-corrupt the sets.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	total   int

	maxConns   int
	userStore  UserStore
	groupStore GroupStore
	msgStore   MessageStore
	pushClient PushNotifier

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(userStore UserStore, groupStore GroupStore, msgStore MessageStore, maxConns int, pushClient PushNotifier) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		userStore:  userStore,
		groupStore: groupStore,
		msgStore:   msgStore,
		pushClient: pushClient,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	firstConn := len(h.clients[c.userID]) == 1
	h.mu.Unlock()

	// Seed room subscriptions from persisted group membership. A client
	// added to a group later must send join_group explicitly.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	groups, err := h.groupStore.GroupsForUser(ctx, c.userID)
	if err != nil {
		logger.Errorf("ws seed rooms user=%s: %v", c.userID, err)
	}
	for _, gid := range groups {
		h.joinRoom(c, gid)
	}

	if firstConn {
		if err := h.userStore.SetOnline(ctx, c.userID, true, nil); err != nil {
			logger.Errorf("ws set online user=%s: %v", c.userID, err)
		}
		h.broadcastAll(OutgoingMessage{Type: EventUserStatusChange, Payload: UserStatusPayload{
			UserID: c.userID,
			Status: "online",
		}})
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	for gid := range c.rooms {
		if subs, ok := h.rooms[gid]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.rooms, gid)
			}
		}
	}
	c.rooms = nil
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	if lastClient {
		now := time.Now().UTC()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Persistence is best-effort here, in-memory state stays
		// authoritative and teardown never blocks on it.
		if err := h.userStore.SetOnline(ctx, c.userID, false, &now); err != nil {
			logger.Errorf("ws set offline user=%s: %v", c.userID, err)
		}
		h.broadcastAll(OutgoingMessage{Type: EventUserStatusChange, Payload: UserStatusPayload{
			UserID:   c.userID,
			Status:   "offline",
			LastSeen: &now,
		}})
	}
}

func (h *Hub) joinRoom(c *Client, groupID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.rooms == nil {
		// Already unregistered.
		return
	}
	if _, ok := h.rooms[groupID]; !ok {
		h.rooms[groupID] = make(map[*Client]struct{})
	}
	h.rooms[groupID][c] = struct{}{}
	c.rooms[groupID] = struct{}{}
}

func (h *Hub) leaveRoom(c *Client, groupID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.rooms[groupID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.rooms, groupID)
		}
	}
	if c.rooms != nil {
		delete(c.rooms, groupID)
	}
}

// IsOnline reports whether the user has at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// ConnectionCount returns the number of live connections for a user.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) connectionsFor(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients, ok := h.clients[userID]
	if !ok {
		return nil
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	return targets
}

func (h *Hub) subscribersOf(groupID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs, ok := h.rooms[groupID]
	if !ok {
		return nil
	}
	targets := make([]*Client, 0, len(subs))
	for c := range subs {
		targets = append(targets, c)
	}
	return targets
}

// HandleMessage dispatches incoming WebSocket events.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventPrivateMessage:
		h.handleDirectMessage(ctx, c, msg)
	case EventGroupMessage:
		h.handleGroupMessage(ctx, c, msg)
	case EventTypingStatus:
		h.handleTyping(c, msg)
	case EventMessageRead:
		h.handleMessageRead(ctx, c, msg)
	case EventJoinGroup:
		if msg.GroupID != "" {
			h.joinRoom(c, msg.GroupID)
		}
	case EventLeaveGroup:
		if msg.GroupID != "" {
			h.leaveRoom(c, msg.GroupID)
		}
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: MessageErrorPayload{Error: "unknown event type"}})
	}
}

func (h *Hub) broadcastAll(msg OutgoingMessage) {
	h.mu.RLock()
	targets := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToUser(userID string, msg OutgoingMessage) {
	for _, c := range h.connectionsFor(userID) {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
