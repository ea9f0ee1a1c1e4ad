package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/convo/internal/logger"
	"github.com/convo/internal/model"
	"github.com/convo/internal/repository"
	"github.com/convo/internal/ws"
)

type AuthHandler struct {
	userRepo *repository.UserRepository
	auth     *ws.Authenticator
}

func NewAuthHandler(userRepo *repository.UserRepository, auth *ws.Authenticator) *AuthHandler {
	return &AuthHandler{userRepo: userRepo, auth: auth}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string           `json:"token"`
	User  model.UserPublic `json:"user"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Username == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "username and email are required")
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "invalid email")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	if _, err := h.userRepo.GetByEmail(r.Context(), req.Email); err == nil {
		writeError(w, http.StatusConflict, "email already registered")
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		logger.Errorf("register lookup email=%s: %v", req.Email, err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	if _, err := h.userRepo.GetByUsername(r.Context(), req.Username); err == nil {
		writeError(w, http.StatusConflict, "username already taken")
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		logger.Errorf("register lookup username=%s: %v", req.Username, err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.Errorf("register hash password: %v", err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	u := &model.User{
		ID:           uuid.New().String(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.userRepo.Create(r.Context(), u); err != nil {
		logger.Errorf("register create user email=%s: %v", req.Email, err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}

	token, err := h.auth.Issue(u.ID)
	if err != nil {
		logger.Errorf("register issue token user=%s: %v", u.ID, err)
		writeError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: u.ToPublic()})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	u, err := h.userRepo.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		logger.Errorf("login lookup email=%s: %v", req.Email, err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	token, err := h.auth.Issue(u.ID)
	if err != nil {
		logger.Errorf("login issue token user=%s: %v", u.ID, err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: u.ToPublic()})
}
