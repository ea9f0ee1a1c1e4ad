package ws

import (
	"context"
	"time"

	"github.com/convo/internal/logger"
)

// handleTyping relays a typing indicator without storing anything. The
// originating client is responsible for eventually sending is_typing=false.
func (h *Hub) handleTyping(c *Client, msg IncomingMessage) {
	out := OutgoingMessage{Type: EventTypingStatus, Payload: TypingPayload{
		UserID:     c.userID,
		ReceiverID: msg.ReceiverID,
		GroupID:    msg.GroupID,
		IsTyping:   msg.IsTyping,
	}}

	switch {
	case msg.GroupID != "":
		for _, sub := range h.subscribersOf(msg.GroupID) {
			if sub.userID == c.userID {
				continue
			}
			h.sendToClient(sub, out)
		}
	case msg.ReceiverID != "":
		h.sendToUser(msg.ReceiverID, out)
	}
}

// handleMessageRead records a read receipt. Group messages append to the
// receipt set and broadcast to all subscribers (the reader included, for
// multi-device consistency); direct messages flip the read flag and notify
// the sender's connections only. Failures are logged and dropped, read
// receipts are best-effort.
func (h *Hub) handleMessageRead(ctx context.Context, c *Client, msg IncomingMessage) {
	if msg.MessageID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	m, err := h.msgStore.GetByID(ctx, msg.MessageID)
	if err != nil {
		logger.Errorf("ws read receipt lookup message=%s user=%s: %v", msg.MessageID, c.userID, err)
		return
	}

	if m.IsGroup && m.GroupID != nil {
		added, err := h.msgStore.AppendGroupRead(ctx, m.ID, c.userID, time.Now().UTC())
		if err != nil {
			logger.Errorf("ws append group read message=%s user=%s: %v", m.ID, c.userID, err)
			return
		}
		if !added {
			// Already read by this user, silent no-op.
			return
		}
		out := OutgoingMessage{Type: EventGroupMessageRead, Payload: GroupMessageReadPayload{
			MessageID: m.ID,
			UserID:    c.userID,
			GroupID:   *m.GroupID,
		}}
		for _, sub := range h.subscribersOf(*m.GroupID) {
			h.sendToClient(sub, out)
		}
		return
	}

	if err := h.msgStore.SetDirectRead(ctx, m.ID); err != nil {
		logger.Errorf("ws set direct read message=%s user=%s: %v", m.ID, c.userID, err)
		return
	}
	h.sendToUser(m.SenderID, OutgoingMessage{Type: EventMessageStatusUpdate, Payload: MessageStatusPayload{
		MessageID: m.ID,
		Status:    "read",
	}})
}
