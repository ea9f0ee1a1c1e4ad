package ws

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceFollowsConnectionCount(t *testing.T) {
	h := newHarness(t)

	assert.False(t, h.hub.IsOnline("alice"))
	assert.Equal(t, 0, h.hub.ConnectionCount("alice"))

	c1 := h.connect("alice")
	assert.True(t, h.hub.IsOnline("alice"))
	assert.Equal(t, 1, h.hub.ConnectionCount("alice"))

	c2 := h.connect("alice")
	assert.Equal(t, 2, h.hub.ConnectionCount("alice"))

	c1.close()
	require.Eventually(t, func() bool { return h.hub.ConnectionCount("alice") == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.True(t, h.hub.IsOnline("alice"))

	c2.close()
	require.Eventually(t, func() bool { return !h.hub.IsOnline("alice") },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, h.hub.ConnectionCount("alice"))
}

func TestConcurrentConnects(t *testing.T) {
	h := newHarness(t)

	const n = 8
	conns := make([]*testConn, n)
	var wg sync.WaitGroup
	var mu sync.Mutex
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := h.connectRaw("carol")
			mu.Lock()
			conns[i] = c
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return h.hub.ConnectionCount("carol") == n },
		2*time.Second, 10*time.Millisecond)
	assert.True(t, h.hub.IsOnline("carol"))

	for _, c := range conns {
		c.close()
	}
	require.Eventually(t, func() bool { return !h.hub.IsOnline("carol") },
		2*time.Second, 10*time.Millisecond)
}

func TestLastDisconnectBroadcastsOfflineOnce(t *testing.T) {
	h := newHarness(t)

	bob := h.connect("bob")
	// Drain bob's own online broadcast.
	ev := bob.waitFor(EventUserStatusChange)
	require.Equal(t, "bob", decodePayload[UserStatusPayload](t, ev).UserID)

	a1 := h.connect("alice")
	a2 := h.connect("alice")

	// Bob sees alice come online exactly once (second connect is silent).
	ev = bob.waitFor(EventUserStatusChange)
	status := decodePayload[UserStatusPayload](t, ev)
	require.Equal(t, "alice", status.UserID)
	require.Equal(t, "online", status.Status)
	assert.Nil(t, status.LastSeen)

	a1.close()
	bob.expectNone(EventUserStatusChange, 300*time.Millisecond)
	assert.True(t, h.hub.IsOnline("alice"))

	a2.close()
	ev = bob.waitFor(EventUserStatusChange)
	status = decodePayload[UserStatusPayload](t, ev)
	assert.Equal(t, "alice", status.UserID)
	assert.Equal(t, "offline", status.Status)
	require.NotNil(t, status.LastSeen, "offline broadcast must carry last_seen")
	bob.expectNone(EventUserStatusChange, 300*time.Millisecond)

	// Exactly one durable offline write for alice.
	require.Eventually(t, func() bool { return len(h.users.onlineCalls("alice", false)) == 1 },
		2*time.Second, 10*time.Millisecond)
	offline := h.users.onlineCalls("alice", false)
	require.NotNil(t, offline[0].lastSeen)
}

func TestJoinAndLeaveGroupEvents(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("alice")

	require.Empty(t, h.hub.subscribersOf("g9"))

	alice.send(IncomingMessage{Type: EventJoinGroup, GroupID: "g9"})
	require.Eventually(t, func() bool { return len(h.hub.subscribersOf("g9")) == 1 },
		2*time.Second, 10*time.Millisecond)

	alice.send(IncomingMessage{Type: EventLeaveGroup, GroupID: "g9"})
	require.Eventually(t, func() bool { return len(h.hub.subscribersOf("g9")) == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestRoomsSeededFromMembership(t *testing.T) {
	h := newHarness(t)
	h.groups.members["g1"] = []string{"alice", "bob"}

	h.connect("alice")
	require.Eventually(t, func() bool { return len(h.hub.subscribersOf("g1")) == 1 },
		2*time.Second, 10*time.Millisecond)

	h.connect("bob")
	require.Eventually(t, func() bool { return len(h.hub.subscribersOf("g1")) == 2 },
		2*time.Second, 10*time.Millisecond)
}

func TestDisconnectClearsRoomSubscriptions(t *testing.T) {
	h := newHarness(t)
	h.groups.members["g1"] = []string{"alice"}

	a := h.connect("alice")
	require.Eventually(t, func() bool { return len(h.hub.subscribersOf("g1")) == 1 },
		2*time.Second, 10*time.Millisecond)

	a.close()
	require.Eventually(t, func() bool { return len(h.hub.subscribersOf("g1")) == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestUnknownEventType(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("alice")

	alice.send(IncomingMessage{Type: "dance"})
	ev := alice.waitFor(EventError)
	p := decodePayload[MessageErrorPayload](t, ev)
	assert.Equal(t, "unknown event type", p.Error)
}
