package ws

import (
	"time"

	"github.com/convo/internal/model"
)

type EventType string

// Inbound events (client to server).
const (
	EventPrivateMessage EventType = "private_message"
	EventGroupMessage   EventType = "group_message"
	EventTypingStatus   EventType = "typing_status"
	EventMessageRead    EventType = "message_read"
	EventJoinGroup      EventType = "join_group"
	EventLeaveGroup     EventType = "leave_group"
)

// Outbound events (server to client).
const (
	EventNewMessage          EventType = "new_message"
	EventNewGroupMessage     EventType = "new_group_message"
	EventMessageSent         EventType = "message_sent"
	EventMessageError        EventType = "message_error"
	EventMessageStatusUpdate EventType = "message_status_update"
	EventGroupMessageRead    EventType = "group_message_read"
	EventUserStatusChange    EventType = "user_status_change"
	EventError               EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type EventType `json:"type"`

	// For private_message / group_message
	ReceiverID  string            `json:"receiver_id,omitempty"`
	GroupID     string            `json:"group_id,omitempty"`
	Content     string            `json:"content,omitempty"`
	MessageType model.MessageType `json:"message_type,omitempty"`
	FileName    string            `json:"file_name,omitempty"`
	FileSize    int64             `json:"file_size,omitempty"`

	// For typing_status
	IsTyping bool `json:"is_typing,omitempty"`

	// For message_read
	MessageID string `json:"message_id,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// MessageErrorPayload is sent to the originating connection when a send
// fails before fan-out.
type MessageErrorPayload struct {
	Error string `json:"error"`
}

// TypingPayload is relayed to the target's connections.
type TypingPayload struct {
	UserID     string `json:"user_id"`
	ReceiverID string `json:"receiver_id,omitempty"`
	GroupID    string `json:"group_id,omitempty"`
	IsTyping   bool   `json:"is_typing"`
}

// MessageStatusPayload notifies a direct message's sender of a status change.
type MessageStatusPayload struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// GroupMessageReadPayload is broadcast to a group when a member reads a message.
type GroupMessageReadPayload struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	GroupID   string `json:"group_id"`
}

// UserStatusPayload is the global presence broadcast. LastSeen is set only
// for the offline transition.
type UserStatusPayload struct {
	UserID   string     `json:"user_id"`
	Status   string     `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}
