package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/convo/internal/logger"
	"github.com/convo/internal/middleware"
	"github.com/convo/internal/model"
	"github.com/convo/internal/repository"
	"github.com/convo/internal/ws"
)

type MessageHandler struct {
	msgRepo   *repository.MessageRepository
	groupRepo *repository.GroupRepository
	hub       *ws.Hub
}

func NewMessageHandler(msgRepo *repository.MessageRepository, groupRepo *repository.GroupRepository, hub *ws.Hub) *MessageHandler {
	return &MessageHandler{msgRepo: msgRepo, groupRepo: groupRepo, hub: hub}
}

// GetConversation returns direct message history with another user.
func (h *MessageHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	otherID := chi.URLParam(r, "userID")
	limit := queryInt(r, "limit", 50)

	msgs, err := h.msgRepo.GetConversation(r.Context(), userID, otherID, limit)
	if err != nil {
		logger.Errorf("get conversation %s/%s: %v", userID, otherID, err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// GetGroupMessages returns group message history, members only.
func (h *MessageHandler) GetGroupMessages(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groupID := chi.URLParam(r, "groupID")
	limit := queryInt(r, "limit", 50)

	isMember, err := h.groupRepo.IsMember(r.Context(), groupID, userID)
	if err != nil {
		logger.Errorf("check membership group=%s user=%s: %v", groupID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if !isMember {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}

	msgs, err := h.msgRepo.GetGroupMessages(r.Context(), groupID, limit)
	if err != nil {
		logger.Errorf("get group messages %s: %v", groupID, err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type sendMessageRequest struct {
	ReceiverID  string            `json:"receiver_id,omitempty"`
	GroupID     string            `json:"group_id,omitempty"`
	Content     string            `json:"content"`
	MessageType model.MessageType `json:"message_type"`
}

// Send is the HTTP entry point for sends, used by the media-upload flow:
// the uploaded file's URL arrives as content here after the blob store
// assigned it. The message is persisted exactly once on this path; the hub
// is only asked to notify live connections afterwards, so the socket layer
// never re-persists it.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MessageType == "" {
		req.MessageType = model.MessageTypeText
	}

	var (
		m   *model.Message
		err error
	)
	switch {
	case req.GroupID != "" && req.ReceiverID != "":
		writeError(w, http.StatusBadRequest, "message must target either a user or a group, not both")
		return
	case req.GroupID != "":
		m, err = model.NewGroupMessage(userID, req.GroupID, req.Content, req.MessageType, time.Now().UTC())
	default:
		m, err = model.NewDirectMessage(userID, req.ReceiverID, req.Content, req.MessageType)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.msgRepo.Create(r.Context(), m); err != nil {
		logger.Errorf("http send message sender=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}
	if m.IsGroup {
		if err := h.groupRepo.SetLastMessage(r.Context(), req.GroupID, m.ID); err != nil {
			logger.Errorf("http set last message group=%s: %v", req.GroupID, err)
		}
	}

	// Fan out off the request path; the HTTP response is the sender's ack.
	go h.hub.NotifyMessage(context.Background(), m)

	writeJSON(w, http.StatusCreated, m)
}

// Delete removes the caller's own message. Group messages are kept, only
// direct messages may be deleted.
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")

	m, err := h.msgRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		logger.Errorf("get message %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load message")
		return
	}
	if m.SenderID != userID {
		writeError(w, http.StatusForbidden, "can only delete own messages")
		return
	}
	if m.IsGroup {
		writeError(w, http.StatusBadRequest, "group messages cannot be deleted")
		return
	}
	if err := h.msgRepo.Delete(r.Context(), id); err != nil {
		logger.Errorf("delete message %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
