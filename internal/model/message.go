package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeVideo    MessageType = "video"
	MessageTypeAudio    MessageType = "audio"
	MessageTypeDocument MessageType = "document"
	MessageTypeFile     MessageType = "file"
)

// ValidMessageType reports whether t is one of the known message types.
func ValidMessageType(t MessageType) bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo,
		MessageTypeAudio, MessageTypeDocument, MessageTypeFile:
		return true
	}
	return false
}

var (
	// ErrEmptyContent is returned for a text message whose content is
	// empty after trimming. Media messages may carry empty content.
	ErrEmptyContent = errors.New("text message cannot be empty")
	// ErrBadTarget is returned when a message does not have exactly one
	// of receiver or group set.
	ErrBadTarget = errors.New("message requires exactly one of receiver or group")
	// ErrBadMessageType is returned for an unknown message type.
	ErrBadMessageType = errors.New("unknown message type")
)

// ReadReceipt records that one group member has read a message.
type ReadReceipt struct {
	UserID string    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// Message is one unit of communication: direct (ReceiverID set) or group
// (GroupID set), never both. Read state has two shapes selected by kind:
// the Read flag for direct messages, the ReadBy receipt set for group ones.
type Message struct {
	ID          string      `json:"id"`
	SenderID    string      `json:"sender_id"`
	ReceiverID  *string     `json:"receiver_id,omitempty"`
	GroupID     *string     `json:"group_id,omitempty"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type"`
	IsGroup     bool        `json:"is_group_message"`

	Read   bool          `json:"read"`
	ReadBy []ReadReceipt `json:"read_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	Sender   *UserPublic `json:"sender,omitempty"`
	Receiver *UserPublic `json:"receiver,omitempty"`
}

func validateContent(content string, msgType MessageType) error {
	if !ValidMessageType(msgType) {
		return ErrBadMessageType
	}
	if msgType == MessageTypeText && strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	return nil
}

// NewDirectMessage builds an unseeded direct message. The persistence layer
// fills CreatedAt on insert.
func NewDirectMessage(senderID, receiverID, content string, msgType MessageType) (*Message, error) {
	if senderID == "" || receiverID == "" {
		return nil, ErrBadTarget
	}
	if err := validateContent(content, msgType); err != nil {
		return nil, err
	}
	return &Message{
		ID:          uuid.New().String(),
		SenderID:    senderID,
		ReceiverID:  &receiverID,
		Content:     content,
		MessageType: msgType,
	}, nil
}

// NewGroupMessage builds a group message with the read set seeded by the
// sender (the sender has trivially read their own message).
func NewGroupMessage(senderID, groupID, content string, msgType MessageType, now time.Time) (*Message, error) {
	if senderID == "" || groupID == "" {
		return nil, ErrBadTarget
	}
	if err := validateContent(content, msgType); err != nil {
		return nil, err
	}
	return &Message{
		ID:          uuid.New().String(),
		SenderID:    senderID,
		GroupID:     &groupID,
		Content:     content,
		MessageType: msgType,
		IsGroup:     true,
		ReadBy:      []ReadReceipt{{UserID: senderID, ReadAt: now}},
	}, nil
}

// Validate checks the receiver/group mutual exclusivity invariant. The
// constructors uphold it; Validate guards messages decoded from elsewhere.
func (m *Message) Validate() error {
	direct := m.ReceiverID != nil && *m.ReceiverID != ""
	group := m.GroupID != nil && *m.GroupID != ""
	if direct == group {
		return ErrBadTarget
	}
	if m.IsGroup != group {
		return ErrBadTarget
	}
	return validateContent(m.Content, m.MessageType)
}

// ReadByUser reports whether the given group member already has a receipt.
func (m *Message) ReadByUser(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}
