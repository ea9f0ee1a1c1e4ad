package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/convo/internal/logger"
	"github.com/convo/internal/middleware"
	"github.com/convo/internal/model"
	"github.com/convo/internal/repository"
)

type GroupHandler struct {
	groupRepo *repository.GroupRepository
	userRepo  *repository.UserRepository
}

func NewGroupHandler(groupRepo *repository.GroupRepository, userRepo *repository.UserRepository) *GroupHandler {
	return &GroupHandler{groupRepo: groupRepo, userRepo: userRepo}
}

type createGroupRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	GroupImage  string   `json:"group_image"`
	MemberIDs   []string `json:"member_ids"`
}

func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "group name is required")
		return
	}

	// The creator is the admin and always a member.
	members := make([]string, 0, len(req.MemberIDs)+1)
	seen := map[string]struct{}{userID: {}}
	members = append(members, userID)
	for _, id := range req.MemberIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}

	now := time.Now().UTC()
	g := &model.Group{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		GroupImage:  req.GroupImage,
		AdminID:     userID,
		MemberIDs:   members,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.groupRepo.Create(r.Context(), g); err != nil {
		logger.Errorf("create group by %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to create group")
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	groups, err := h.groupRepo.ListForUser(r.Context(), userID)
	if err != nil {
		logger.Errorf("list groups user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "failed to load groups")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func (h *GroupHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")

	g, err := h.groupRepo.GetByIDWithMembers(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "group not found")
			return
		}
		logger.Errorf("get group %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load group")
		return
	}
	if !g.HasMember(userID) {
		writeError(w, http.StatusForbidden, "not a member")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

type updateGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	GroupImage  string `json:"group_image"`
}

func (h *GroupHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")

	g, err := h.groupRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "group not found")
			return
		}
		logger.Errorf("get group %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load group")
		return
	}
	if g.AdminID != userID {
		writeError(w, http.StatusForbidden, "only the admin can update the group")
		return
	}

	var req updateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		req.Name = g.Name
	}
	if err := h.groupRepo.Update(r.Context(), id, req.Name, req.Description, req.GroupImage); err != nil {
		logger.Errorf("update group %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to update group")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type memberRequest struct {
	UserID string `json:"user_id"`
}

func (h *GroupHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")

	g, err := h.groupRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "group not found")
			return
		}
		logger.Errorf("get group %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load group")
		return
	}
	if g.AdminID != userID {
		writeError(w, http.StatusForbidden, "only the admin can add members")
		return
	}

	var req memberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if _, err := h.userRepo.GetByID(r.Context(), req.UserID); err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if err := h.groupRepo.AddMember(r.Context(), id, req.UserID); err != nil {
		logger.Errorf("add member group=%s user=%s: %v", id, req.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to add member")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *GroupHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")
	memberID := chi.URLParam(r, "userID")

	g, err := h.groupRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "group not found")
			return
		}
		logger.Errorf("get group %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load group")
		return
	}
	// Members may remove themselves (leave); only the admin removes others.
	if memberID != userID && g.AdminID != userID {
		writeError(w, http.StatusForbidden, "only the admin can remove members")
		return
	}
	if memberID == g.AdminID {
		writeError(w, http.StatusBadRequest, "the admin cannot be removed")
		return
	}
	if err := h.groupRepo.RemoveMember(r.Context(), id, memberID); err != nil {
		logger.Errorf("remove member group=%s user=%s: %v", id, memberID, err)
		writeError(w, http.StatusInternalServerError, "failed to remove member")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
