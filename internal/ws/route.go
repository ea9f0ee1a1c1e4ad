package ws

import (
	"context"
	"errors"
	"time"

	"github.com/convo/internal/logger"
	"github.com/convo/internal/model"
)

// handleDirectMessage is the socket entry point for a one-to-one send:
// validate, persist, resolve display metadata, then fan out. The ack
// (message_sent) goes to the originating connection only; the recipient's
// connections each get new_message.
func (h *Hub) handleDirectMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleDirectMessage", time.Now())()

	msgType := msg.MessageType
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	m, err := model.NewDirectMessage(c.userID, msg.ReceiverID, msg.Content, msgType)
	if err != nil {
		h.sendToClient(c, OutgoingMessage{Type: EventMessageError, Payload: MessageErrorPayload{Error: validationText(err)}})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.msgStore.Create(ctx, m); err != nil {
		logger.Errorf("ws save direct message sender=%s receiver=%s: %v", c.userID, msg.ReceiverID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventMessageError, Payload: MessageErrorPayload{Error: "failed to save message"}})
		return
	}

	h.resolveParticipants(ctx, m)

	out := OutgoingMessage{Type: EventNewMessage, Payload: m}
	h.sendToUser(msg.ReceiverID, out)
	h.sendToClient(c, OutgoingMessage{Type: EventMessageSent, Payload: m})

	if h.pushClient != nil && !h.IsOnline(msg.ReceiverID) {
		go h.pushClient.Notify(context.Background(), msg.ReceiverID,
			pushTitle(m), pushBody(m), map[string]string{"message_id": m.ID, "sender_id": m.SenderID})
	}
}

// handleGroupMessage persists a group send and broadcasts it to every
// subscriber connection, the sender's included. The sender's own copy of
// the broadcast is the acknowledgment, there is no separate ack event.
func (h *Hub) handleGroupMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleGroupMessage", time.Now())()

	msgType := msg.MessageType
	if msgType == "" {
		msgType = model.MessageTypeText
	}
	m, err := model.NewGroupMessage(c.userID, msg.GroupID, msg.Content, msgType, time.Now().UTC())
	if err != nil {
		h.sendToClient(c, OutgoingMessage{Type: EventMessageError, Payload: MessageErrorPayload{Error: validationText(err)}})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := h.msgStore.Create(ctx, m); err != nil {
		logger.Errorf("ws save group message sender=%s group=%s: %v", c.userID, msg.GroupID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventMessageError, Payload: MessageErrorPayload{Error: "failed to save message"}})
		return
	}

	if err := h.groupStore.SetLastMessage(ctx, msg.GroupID, m.ID); err != nil {
		logger.Errorf("ws set last message group=%s: %v", msg.GroupID, err)
	}

	h.resolveParticipants(ctx, m)

	out := OutgoingMessage{Type: EventNewGroupMessage, Payload: m}
	for _, sub := range h.subscribersOf(msg.GroupID) {
		h.sendToClient(sub, out)
	}

	h.pushGroupOffline(m, msg.GroupID)
}

// NotifyMessage is the entry point for the HTTP media-upload path: the
// message is already persisted there, so the hub only resolves display
// metadata and fans out. Nothing is written twice for one logical send.
func (h *Hub) NotifyMessage(ctx context.Context, m *model.Message) {
	defer logger.DeferLogDuration("ws.NotifyMessage", time.Now())()

	h.resolveParticipants(ctx, m)

	if m.IsGroup && m.GroupID != nil {
		out := OutgoingMessage{Type: EventNewGroupMessage, Payload: m}
		for _, sub := range h.subscribersOf(*m.GroupID) {
			h.sendToClient(sub, out)
		}
		h.pushGroupOffline(m, *m.GroupID)
		return
	}
	if m.ReceiverID != nil {
		h.sendToUser(*m.ReceiverID, OutgoingMessage{Type: EventNewMessage, Payload: m})
		if h.pushClient != nil && !h.IsOnline(*m.ReceiverID) {
			go h.pushClient.Notify(context.Background(), *m.ReceiverID,
				pushTitle(m), pushBody(m), map[string]string{"message_id": m.ID, "sender_id": m.SenderID})
		}
	}
}

// resolveParticipants attaches public profiles for the client-facing
// payload shape: the sender always, the receiver too on direct messages.
// Failure only degrades the payload, never the send.
func (h *Hub) resolveParticipants(ctx context.Context, m *model.Message) {
	if sender, err := h.userStore.GetByID(ctx, m.SenderID); err != nil {
		logger.Errorf("ws resolve sender user=%s: %v", m.SenderID, err)
	} else {
		pub := sender.ToPublic()
		m.Sender = &pub
	}
	if m.IsGroup || m.ReceiverID == nil {
		return
	}
	if receiver, err := h.userStore.GetByID(ctx, *m.ReceiverID); err != nil {
		logger.Errorf("ws resolve receiver user=%s: %v", *m.ReceiverID, err)
	} else {
		pub := receiver.ToPublic()
		m.Receiver = &pub
	}
}

// pushGroupOffline push-notifies group members with no live connection.
func (h *Hub) pushGroupOffline(m *model.Message, groupID string) {
	if h.pushClient == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	memberIDs, err := h.groupStore.MemberIDs(ctx, groupID)
	if err != nil {
		logger.Errorf("ws push members group=%s: %v", groupID, err)
		return
	}
	data := map[string]string{"message_id": m.ID, "group_id": groupID, "sender_id": m.SenderID}
	for _, uid := range memberIDs {
		if uid == m.SenderID || h.IsOnline(uid) {
			continue
		}
		uid := uid
		go h.pushClient.Notify(context.Background(), uid, pushTitle(m), pushBody(m), data)
	}
}

func validationText(err error) string {
	switch {
	case errors.Is(err, model.ErrEmptyContent):
		return "message content is empty"
	case errors.Is(err, model.ErrBadTarget):
		return "invalid message target"
	case errors.Is(err, model.ErrBadMessageType):
		return "unknown message type"
	}
	return "invalid message"
}

func pushTitle(m *model.Message) string {
	if m.Sender != nil && m.Sender.Username != "" {
		return m.Sender.Username
	}
	return "New message"
}

func pushBody(m *model.Message) string {
	body := m.Content
	if m.MessageType != model.MessageTypeText || body == "" {
		body = "Attachment"
	}
	if len(body) > 120 {
		body = body[:117] + "..."
	}
	return body
}
