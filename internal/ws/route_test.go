package ws

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convo/internal/model"
)

func TestDirectMessageDelivery(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("alice")
	bob := h.connect("bob")

	alice.send(IncomingMessage{Type: EventPrivateMessage, ReceiverID: "bob", Content: "hi"})

	ev := bob.waitFor(EventNewMessage)
	got := decodePayload[model.Message](t, ev)
	assert.Equal(t, "alice", got.SenderID)
	require.NotNil(t, got.ReceiverID)
	assert.Equal(t, "bob", *got.ReceiverID)
	assert.Equal(t, "hi", got.Content)
	assert.Equal(t, model.MessageTypeText, got.MessageType)
	require.NotNil(t, got.Sender)
	assert.Equal(t, "user-alice", got.Sender.Username)
	require.NotNil(t, got.Receiver)
	assert.Equal(t, "user-bob", got.Receiver.Username)

	ack := alice.waitFor(EventMessageSent)
	ackMsg := decodePayload[model.Message](t, ack)
	assert.Equal(t, got.ID, ackMsg.ID)

	// Exactly one persisted record and one delivery.
	assert.Equal(t, 1, h.msgs.createdCount())
	bob.expectNone(EventNewMessage, 300*time.Millisecond)
}

func TestDirectMessageOfflineReceiver(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("alice")

	alice.send(IncomingMessage{Type: EventPrivateMessage, ReceiverID: "bob", Content: "hi"})

	// Send succeeds: persisted, acked, no error.
	alice.waitFor(EventMessageSent)
	assert.Equal(t, 1, h.msgs.createdCount())
	alice.expectNone(EventMessageError, 300*time.Millisecond)
}

func TestDirectMessageEmptyContent(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("alice")
	bob := h.connect("bob")

	alice.send(IncomingMessage{Type: EventPrivateMessage, ReceiverID: "bob", Content: "   "})

	ev := alice.waitFor(EventMessageError)
	p := decodePayload[MessageErrorPayload](t, ev)
	assert.Equal(t, "message content is empty", p.Error)

	assert.Equal(t, 0, h.msgs.createdCount(), "validation failure must not reach persistence")
	bob.expectNone(EventNewMessage, 300*time.Millisecond)
	bob.expectNone(EventMessageError, 100*time.Millisecond)
}

func TestDirectMessagePersistFailure(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("alice")
	bob := h.connect("bob")
	h.msgs.setFailCreate(true)

	alice.send(IncomingMessage{Type: EventPrivateMessage, ReceiverID: "bob", Content: "hi"})

	ev := alice.waitFor(EventMessageError)
	p := decodePayload[MessageErrorPayload](t, ev)
	assert.Equal(t, "failed to save message", p.Error)
	bob.expectNone(EventNewMessage, 300*time.Millisecond)
	alice.expectNone(EventMessageSent, 100*time.Millisecond)
}

func TestGroupMessageBroadcast(t *testing.T) {
	h := newHarness(t)
	h.groups.members["g1"] = []string{"alice", "bob", "carol"}

	alice := h.connect("alice")
	bob := h.connect("bob")
	carol := h.connect("carol")
	require.Eventually(t, func() bool { return len(h.hub.subscribersOf("g1")) == 3 },
		2*time.Second, 10*time.Millisecond)

	alice.send(IncomingMessage{Type: EventGroupMessage, GroupID: "g1", Content: "hello all"})

	// Every subscriber connection receives the broadcast, the sender's
	// own copy being the acknowledgment.
	for _, tc := range []*testConn{alice, bob, carol} {
		ev := tc.waitFor(EventNewGroupMessage)
		got := decodePayload[model.Message](t, ev)
		assert.Equal(t, "hello all", got.Content)
		assert.True(t, got.IsGroup)
	}
	alice.expectNone(EventMessageSent, 200*time.Millisecond)

	created := h.msgs.lastCreated()
	require.NotNil(t, created)
	require.Len(t, created.ReadBy, 1, "read set is seeded with the sender")
	assert.Equal(t, "alice", created.ReadBy[0].UserID)
	assert.Equal(t, created.ID, h.groups.lastMessageID("g1"))
}

func TestGroupMessageBrokenConnectionIsolation(t *testing.T) {
	h := newHarness(t)
	h.groups.members["g1"] = []string{"alice", "bob", "carol"}

	alice := h.connect("alice")
	bob := h.connect("bob")
	carol := h.connect("carol")
	require.Eventually(t, func() bool { return len(h.hub.subscribersOf("g1")) == 3 },
		2*time.Second, 10*time.Millisecond)

	carol.close()

	alice.send(IncomingMessage{Type: EventGroupMessage, GroupID: "g1", Content: "still here"})

	for _, tc := range []*testConn{alice, bob} {
		ev := tc.waitFor(EventNewGroupMessage)
		got := decodePayload[model.Message](t, ev)
		assert.Equal(t, "still here", got.Content)
	}
}

func TestGroupReadReceiptIdempotent(t *testing.T) {
	h := newHarness(t)
	h.groups.members["g1"] = []string{"alice", "bob"}

	alice := h.connect("alice")
	bob := h.connect("bob")
	require.Eventually(t, func() bool { return len(h.hub.subscribersOf("g1")) == 2 },
		2*time.Second, 10*time.Millisecond)

	alice.send(IncomingMessage{Type: EventGroupMessage, GroupID: "g1", Content: "read me"})
	ev := bob.waitFor(EventNewGroupMessage)
	msg := decodePayload[model.Message](t, ev)

	bob.send(IncomingMessage{Type: EventMessageRead, MessageID: msg.ID})
	bob.send(IncomingMessage{Type: EventMessageRead, MessageID: msg.ID})

	for _, tc := range []*testConn{alice, bob} {
		got := decodePayload[GroupMessageReadPayload](t, tc.waitFor(EventGroupMessageRead))
		assert.Equal(t, msg.ID, got.MessageID)
		assert.Equal(t, "bob", got.UserID)
		assert.Equal(t, "g1", got.GroupID)
		tc.expectNone(EventGroupMessageRead, 300*time.Millisecond)
	}

	// Sender seed plus bob, nothing more after the duplicate.
	assert.Equal(t, 2, h.msgs.readCount(msg.ID))
}

func TestDirectReadReceipt(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("alice")
	bob := h.connect("bob")

	alice.send(IncomingMessage{Type: EventPrivateMessage, ReceiverID: "bob", Content: "seen?"})
	msg := decodePayload[model.Message](t, bob.waitFor(EventNewMessage))

	bob.send(IncomingMessage{Type: EventMessageRead, MessageID: msg.ID})

	got := decodePayload[MessageStatusPayload](t, alice.waitFor(EventMessageStatusUpdate))
	assert.Equal(t, msg.ID, got.MessageID)
	assert.Equal(t, "read", got.Status)

	// The reader is not told their own read succeeded.
	bob.expectNone(EventMessageStatusUpdate, 300*time.Millisecond)

	stored, err := h.msgs.GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.Read)
}

func TestReadReceiptUnknownMessageDropped(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("alice")
	bob := h.connect("bob")

	bob.send(IncomingMessage{Type: EventMessageRead, MessageID: "no-such-id"})

	alice.expectNone(EventMessageStatusUpdate, 300*time.Millisecond)
	bob.expectNone(EventMessageError, 100*time.Millisecond)
}

func TestTypingRelayDirect(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("alice")
	bob := h.connect("bob")

	alice.send(IncomingMessage{Type: EventTypingStatus, ReceiverID: "bob", IsTyping: true})

	got := decodePayload[TypingPayload](t, bob.waitFor(EventTypingStatus))
	assert.Equal(t, "alice", got.UserID)
	assert.True(t, got.IsTyping)

	alice.send(IncomingMessage{Type: EventTypingStatus, ReceiverID: "bob", IsTyping: false})
	got = decodePayload[TypingPayload](t, bob.waitFor(EventTypingStatus))
	assert.False(t, got.IsTyping)
}

func TestTypingRelayGroupExcludesSender(t *testing.T) {
	h := newHarness(t)
	h.groups.members["g1"] = []string{"alice", "bob"}

	alice := h.connect("alice")
	bob := h.connect("bob")
	require.Eventually(t, func() bool { return len(h.hub.subscribersOf("g1")) == 2 },
		2*time.Second, 10*time.Millisecond)

	alice.send(IncomingMessage{Type: EventTypingStatus, GroupID: "g1", IsTyping: true})

	got := decodePayload[TypingPayload](t, bob.waitFor(EventTypingStatus))
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, "g1", got.GroupID)
	alice.expectNone(EventTypingStatus, 300*time.Millisecond)
}

func TestNotifyMessageDoesNotRePersist(t *testing.T) {
	h := newHarness(t)
	alice := h.connect("alice")
	bob := h.connect("bob")

	// The HTTP upload path already persisted this message.
	m, err := model.NewDirectMessage("alice", "bob", "/api/files/abc.png", model.MessageTypeImage)
	require.NoError(t, err)
	require.NoError(t, h.msgs.Create(context.Background(), m))

	h.hub.NotifyMessage(context.Background(), m)

	got := decodePayload[model.Message](t, bob.waitFor(EventNewMessage))
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, model.MessageTypeImage, got.MessageType)
	require.NotNil(t, got.Sender)
	assert.Equal(t, "user-alice", got.Sender.Username)
	require.NotNil(t, got.Receiver)
	assert.Equal(t, "user-bob", got.Receiver.Username)

	// Notify only: no second record, no socket ack.
	assert.Equal(t, 1, h.msgs.createdCount())
	alice.expectNone(EventMessageSent, 300*time.Millisecond)
}

func TestNotifyMessageGroup(t *testing.T) {
	h := newHarness(t)
	h.groups.members["g1"] = []string{"alice", "bob"}

	alice := h.connect("alice")
	bob := h.connect("bob")
	require.Eventually(t, func() bool { return len(h.hub.subscribersOf("g1")) == 2 },
		2*time.Second, 10*time.Millisecond)

	m, err := model.NewGroupMessage("alice", "g1", "/api/files/vid.mp4", model.MessageTypeVideo, time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, h.msgs.Create(context.Background(), m))

	h.hub.NotifyMessage(context.Background(), m)

	for _, tc := range []*testConn{alice, bob} {
		got := decodePayload[model.Message](t, tc.waitFor(EventNewGroupMessage))
		assert.Equal(t, m.ID, got.ID)
	}
	assert.Equal(t, 1, h.msgs.createdCount())
}
