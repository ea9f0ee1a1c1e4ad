package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/convo/internal/ai"
	"github.com/convo/internal/fileserver"
	"github.com/convo/internal/logger"
	"github.com/convo/internal/middleware"
	"github.com/convo/internal/model"
	"github.com/convo/internal/repository"
	"github.com/convo/internal/storage"
	"github.com/convo/internal/ws"
)

const assistantPersona = "You are Convo's built-in assistant: a friendly, concise chat companion. " +
	"Answer in the language the user writes in. Keep replies short and conversational, " +
	"suitable for a chat bubble. Do not use markdown headings."

const visionPrompt = "Describe this image for a chat conversation. If it contains text, " +
	"transcribe the text accurately first, then add a one-sentence summary."

const assistantFallback = "I'm having trouble thinking right now. Please try again in a moment."

type AIHandler struct {
	client      *ai.Client
	usage       storage.AIUsageStore
	msgRepo     *repository.MessageRepository
	files       *fileserver.Service
	hub         *ws.Hub
	assistantID string
	maxMessages int
	maxImages   int
}

func NewAIHandler(client *ai.Client, usage storage.AIUsageStore, msgRepo *repository.MessageRepository,
	files *fileserver.Service, hub *ws.Hub, assistantID string, maxMessages, maxImages int) *AIHandler {
	if maxMessages <= 0 {
		maxMessages = 10
	}
	if maxImages <= 0 {
		maxImages = 2
	}
	return &AIHandler{
		client:      client,
		usage:       usage,
		msgRepo:     msgRepo,
		files:       files,
		hub:         hub,
		assistantID: assistantID,
		maxMessages: maxMessages,
		maxImages:   maxImages,
	}
}

type aiMessageRequest struct {
	Content  string `json:"content"`
	ImageURL string `json:"image_url,omitempty"`
}

// Message handles a user's message to the assistant: check the daily
// quota, persist the user's message, ask the inference backend for a
// reply, persist and deliver the reply as a direct message from the
// assistant user. Quotas reset at UTC midnight.
func (h *AIHandler) Message(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if !h.client.Enabled() {
		writeError(w, http.StatusServiceUnavailable, "assistant is not configured")
		return
	}

	var req aiMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" && req.ImageURL == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	day := time.Now().UTC().Format("2006-01-02")
	used, err := h.usage.IncrMessages(r.Context(), userID, day)
	if err != nil {
		logger.Errorf("ai usage incr user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "assistant unavailable")
		return
	}
	if used > int64(h.maxMessages) {
		writeError(w, http.StatusTooManyRequests,
			fmt.Sprintf("daily assistant limit of %d messages reached, resets at midnight UTC", h.maxMessages))
		return
	}

	withImage := req.ImageURL != ""
	if withImage {
		usedImg, err := h.usage.IncrImages(r.Context(), userID, day)
		if err != nil {
			logger.Errorf("ai image usage incr user=%s: %v", userID, err)
			writeError(w, http.StatusInternalServerError, "assistant unavailable")
			return
		}
		if usedImg > int64(h.maxImages) {
			writeError(w, http.StatusTooManyRequests,
				fmt.Sprintf("daily limit of %d image analyses reached, resets at midnight UTC", h.maxImages))
			return
		}
	}

	// Persist the user's side of the exchange.
	msgType := model.MessageTypeText
	content := req.Content
	if withImage {
		msgType = model.MessageTypeImage
		content = req.ImageURL
	}
	userMsg, err := model.NewDirectMessage(userID, h.assistantID, content, msgType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.msgRepo.Create(r.Context(), userMsg); err != nil {
		logger.Errorf("ai persist user message user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}

	reply := h.generateReply(r.Context(), req)
	reply += h.usageFooter(r.Context(), userID, day)

	aiMsg, err := model.NewDirectMessage(h.assistantID, userID, reply, model.MessageTypeText)
	if err != nil {
		logger.Errorf("ai build reply user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "assistant unavailable")
		return
	}
	if err := h.msgRepo.Create(r.Context(), aiMsg); err != nil {
		logger.Errorf("ai persist reply user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to save reply")
		return
	}

	// Deliver the reply to all of the user's live connections.
	go h.hub.NotifyMessage(context.Background(), aiMsg)

	writeJSON(w, http.StatusOK, map[string]any{"message": userMsg, "reply": aiMsg})
}

func (h *AIHandler) generateReply(ctx context.Context, req aiMessageRequest) string {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	prompt := assistantPersona + "\n\nUser: " + req.Content

	if req.ImageURL != "" {
		data, mimeType, err := h.files.ReadStored(path.Base(req.ImageURL))
		if err != nil {
			logger.Errorf("ai read image %s: %v", req.ImageURL, err)
			return assistantFallback
		}
		vp := visionPrompt
		if req.Content != "" {
			vp = assistantPersona + "\n\n" + visionPrompt + "\n\nUser: " + req.Content
		}
		reply, err := h.client.GenerateVision(ctx, vp, data, mimeType)
		if err != nil {
			logger.Errorf("ai vision generate: %v", err)
			return assistantFallback
		}
		return reply
	}

	reply, err := h.client.Generate(ctx, prompt)
	if err != nil {
		logger.Errorf("ai generate: %v", err)
		return assistantFallback
	}
	return reply
}

// usageFooter appends the remaining daily quota so the user can pace
// themselves. Counting failures just omit the footer.
func (h *AIHandler) usageFooter(ctx context.Context, userID, day string) string {
	msgs, _, err := h.usage.Counts(ctx, userID, day)
	if err != nil {
		logger.Errorf("ai usage counts user=%s: %v", userID, err)
		return ""
	}
	left := int64(h.maxMessages) - msgs
	if left < 0 {
		left = 0
	}
	return fmt.Sprintf("\n\n(%d of %d assistant messages left today)", left, h.maxMessages)
}

// Usage reports the caller's remaining daily quota.
func (h *AIHandler) Usage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	day := time.Now().UTC().Format("2006-01-02")
	msgs, imgs, err := h.usage.Counts(r.Context(), userID, day)
	if err != nil {
		logger.Errorf("ai usage counts user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages_used":  msgs,
		"messages_limit": h.maxMessages,
		"images_used":    imgs,
		"images_limit":   h.maxImages,
	})
}
