package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/convo/internal/model"
)

// --- stub collaborators ---

type onlineCall struct {
	userID   string
	online   bool
	lastSeen *time.Time
}

type stubUserStore struct {
	mu    sync.Mutex
	calls []onlineCall
}

func (s *stubUserStore) GetByID(_ context.Context, id string) (*model.User, error) {
	return &model.User{ID: id, Username: "user-" + id}, nil
}

func (s *stubUserStore) SetOnline(_ context.Context, userID string, online bool, lastSeen *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, onlineCall{userID: userID, online: online, lastSeen: lastSeen})
	return nil
}

func (s *stubUserStore) onlineCalls(userID string, online bool) []onlineCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []onlineCall
	for _, c := range s.calls {
		if c.userID == userID && c.online == online {
			out = append(out, c)
		}
	}
	return out
}

type stubGroupStore struct {
	mu          sync.Mutex
	members     map[string][]string // groupID -> userIDs
	lastMessage map[string]string   // groupID -> messageID
}

func newStubGroupStore() *stubGroupStore {
	return &stubGroupStore{members: make(map[string][]string), lastMessage: make(map[string]string)}
}

func (s *stubGroupStore) GroupsForUser(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for gid, ids := range s.members {
		for _, id := range ids {
			if id == userID {
				out = append(out, gid)
				break
			}
		}
	}
	return out, nil
}

func (s *stubGroupStore) MemberIDs(_ context.Context, groupID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.members[groupID]...), nil
}

func (s *stubGroupStore) SetLastMessage(_ context.Context, groupID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastMessage[groupID] = messageID
	return nil
}

func (s *stubGroupStore) lastMessageID(groupID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMessage[groupID]
}

type stubMessageStore struct {
	mu         sync.Mutex
	created    []*model.Message
	reads      map[string]map[string]time.Time // messageID -> userID -> readAt
	failCreate bool
}

func newStubMessageStore() *stubMessageStore {
	return &stubMessageStore{reads: make(map[string]map[string]time.Time)}
}

func (s *stubMessageStore) Create(_ context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate {
		return errors.New("storage down")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	cp := *m
	s.created = append(s.created, &cp)
	for _, r := range m.ReadBy {
		s.appendReadLocked(m.ID, r.UserID, r.ReadAt)
	}
	return nil
}

func (s *stubMessageStore) GetByID(_ context.Context, id string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.created {
		if m.ID == id {
			cp := *m
			return &cp, nil
		}
	}
	return nil, errors.New("message not found")
}

func (s *stubMessageStore) appendReadLocked(messageID, userID string, readAt time.Time) bool {
	if s.reads[messageID] == nil {
		s.reads[messageID] = make(map[string]time.Time)
	}
	if _, ok := s.reads[messageID][userID]; ok {
		return false
	}
	s.reads[messageID][userID] = readAt
	return true
}

func (s *stubMessageStore) AppendGroupRead(_ context.Context, messageID, userID string, readAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendReadLocked(messageID, userID, readAt), nil
}

func (s *stubMessageStore) SetDirectRead(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.created {
		if m.ID == messageID {
			m.Read = true
			return nil
		}
	}
	return errors.New("message not found")
}

func (s *stubMessageStore) setFailCreate(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCreate = fail
}

func (s *stubMessageStore) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

func (s *stubMessageStore) lastCreated() *model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.created) == 0 {
		return nil
	}
	cp := *s.created[len(s.created)-1]
	return &cp
}

func (s *stubMessageStore) readCount(messageID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reads[messageID])
}

// --- test harness ---

type harness struct {
	t      *testing.T
	hub    *Hub
	srv    *httptest.Server
	users  *stubUserStore
	groups *stubGroupStore
	msgs   *stubMessageStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	users := &stubUserStore{}
	groups := newStubGroupStore()
	msgs := newStubMessageStore()
	hub := NewHub(users, groups, msgs, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cctx, ccancel := context.WithCancel(context.Background())
		client := NewClient(hub, conn, userID)
		client.Start(cctx, ccancel)
		hub.Register(client)
	}))

	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &harness{t: t, hub: hub, srv: srv, users: users, groups: groups, msgs: msgs}
}

// rawEvent is the decoded wire shape for assertions.
type rawEvent struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type testConn struct {
	t      *testing.T
	userID string
	conn   *websocket.Conn
	events chan rawEvent
}

// connect dials a WebSocket connection for userID and waits until the hub
// has registered it.
func (h *harness) connect(userID string) *testConn {
	h.t.Helper()
	before := h.hub.ConnectionCount(userID)
	tc := h.connectRaw(userID)
	require.Eventually(h.t, func() bool {
		return h.hub.ConnectionCount(userID) > before
	}, 2*time.Second, 10*time.Millisecond, "connection for %s never registered", userID)
	return tc
}

// connectRaw dials without waiting for registration, for tests that drive
// several connects concurrently and assert on the aggregate count.
func (h *harness) connectRaw(userID string) *testConn {
	h.t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(h.t, err)

	tc := &testConn{t: h.t, userID: userID, conn: conn, events: make(chan rawEvent, 64)}
	go func() {
		defer close(tc.events)
		for {
			var ev rawEvent
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			tc.events <- ev
		}
	}()
	h.t.Cleanup(func() { conn.Close() })
	return tc
}

func (tc *testConn) send(msg IncomingMessage) {
	tc.t.Helper()
	require.NoError(tc.t, tc.conn.WriteJSON(msg))
}

// waitFor returns the next event of the given type, discarding others.
func (tc *testConn) waitFor(evType EventType) rawEvent {
	tc.t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-tc.events:
			if !ok {
				tc.t.Fatalf("%s: connection closed while waiting for %s", tc.userID, evType)
			}
			if ev.Type == evType {
				return ev
			}
		case <-deadline:
			tc.t.Fatalf("%s: timed out waiting for %s", tc.userID, evType)
		}
	}
}

// expectNone asserts that no event of the given type arrives within the window.
func (tc *testConn) expectNone(evType EventType, window time.Duration) {
	tc.t.Helper()
	deadline := time.After(window)
	for {
		select {
		case ev, ok := <-tc.events:
			if !ok {
				return
			}
			if ev.Type == evType {
				tc.t.Fatalf("%s: unexpected %s event: %s", tc.userID, evType, ev.Payload)
			}
		case <-deadline:
			return
		}
	}
}

func (tc *testConn) close() {
	tc.conn.Close()
}

func decodePayload[T any](t *testing.T, ev rawEvent) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(ev.Payload, &out))
	return out
}
