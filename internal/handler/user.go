package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/convo/internal/logger"
	"github.com/convo/internal/middleware"
	"github.com/convo/internal/model"
	"github.com/convo/internal/repository"
)

type UserHandler struct {
	userRepo *repository.UserRepository
}

func NewUserHandler(userRepo *repository.UserRepository) *UserHandler {
	return &UserHandler{userRepo: userRepo}
}

// List returns all users with their presence projection, the caller excluded.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit := queryInt(r, "limit", 200)

	users, err := h.userRepo.ListAll(r.Context(), limit)
	if err != nil {
		logger.Errorf("list users: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load users")
		return
	}
	out := make([]model.UserPublic, 0, len(users))
	for i := range users {
		if users[i].ID == userID {
			continue
		}
		out = append(out, users[i].ToPublic())
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	u, err := h.userRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		logger.Errorf("get user %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, u.ToPublic())
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	u, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		logger.Errorf("get me %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, u.ToPublic())
}

type updateProfileRequest struct {
	Username     string `json:"username"`
	ProfilePhoto string `json:"profile_photo"`
}

func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req updateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	if existing, err := h.userRepo.GetByUsername(r.Context(), req.Username); err == nil && existing.ID != userID {
		writeError(w, http.StatusConflict, "username already taken")
		return
	}

	if err := h.userRepo.UpdateProfile(r.Context(), userID, req.Username, req.ProfilePhoto); err != nil {
		logger.Errorf("update profile %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}
	u, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		logger.Errorf("reload profile %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, u.ToPublic())
}
