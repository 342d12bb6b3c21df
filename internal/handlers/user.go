package handlers

import (
	"errors"
	"net/http"

	"couple-cook-backend/internal/identity"
	"couple-cook-backend/internal/middleware"
	"couple-cook-backend/internal/models"
	"couple-cook-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// UserHandler handles sign-in and profile HTTP requests
type UserHandler struct {
	userService *services.UserService
	provider    identity.Provider
}

// NewUserHandler creates a new user handler
func NewUserHandler(userService *services.UserService, provider identity.Provider) *UserHandler {
	return &UserHandler{
		userService: userService,
		provider:    provider,
	}
}

// SessionRequest carries the identity provider's token
type SessionRequest struct {
	IDToken string `json:"id_token" validate:"required"`
}

// SessionResponse is returned after a successful sign-in
type SessionResponse struct {
	Token string      `json:"token"`
	User  *MeResponse `json:"user"`
}

// MeResponse is the signed-in user plus their display projection
type MeResponse struct {
	*models.User
	Label     string  `json:"label"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

func meResponse(user *models.User) *MeResponse {
	return &MeResponse{User: user, Label: user.Label(), AvatarURL: user.Photo()}
}

// PushTokenRequest carries a device token; empty clears it
type PushTokenRequest struct {
	Token string `json:"token" validate:"max=200"`
}

// CreateSession handles POST /api/v1/auth/session
func (h *UserHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := h.provider.Verify(ctx, req.IDToken)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			respondError(w, "Invalid identity token", http.StatusUnauthorized, "unauthorized")
			return
		}
		respondServiceError(w, r, err)
		return
	}

	user, token, err := h.userService.SignIn(ctx, id)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	log.Info().Str("user_id", user.ID).Msg("User signed in")
	respondJSON(w, http.StatusOK, SessionResponse{Token: token, User: meResponse(user)})
}

// GetMe handles GET /api/v1/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, err := h.userService.GetUser(ctx, middleware.GetUserID(ctx), true)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, meResponse(user))
}

// UpdateMe handles PATCH /api/v1/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req services.ProfileUpdate
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := h.userService.UpdateProfile(ctx, middleware.GetUserID(ctx), req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, meResponse(user))
}

// UpdatePushToken handles PUT /api/v1/me/push-token
func (h *UserHandler) UpdatePushToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req PushTokenRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.userService.UpdatePushToken(ctx, middleware.GetUserID(ctx), req.Token); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
