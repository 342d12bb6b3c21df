package handlers

import (
	"net/http"

	"couple-cook-backend/internal/middleware"
	"couple-cook-backend/internal/models"
	"couple-cook-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// PartnershipHandler handles partnership-related HTTP requests
type PartnershipHandler struct {
	partnershipService *services.PartnershipService
	userService        *services.UserService
}

// NewPartnershipHandler creates a new partnership handler
func NewPartnershipHandler(partnershipService *services.PartnershipService, userService *services.UserService) *PartnershipHandler {
	return &PartnershipHandler{
		partnershipService: partnershipService,
		userService:        userService,
	}
}

// JoinRequest represents the request body for joining a partnership
type JoinRequest struct {
	Code string `json:"code" validate:"required,max=16"`
}

// InviteResponse carries the code to share with the partner
type InviteResponse struct {
	InviteCode string `json:"invite_code"`
}

// PartnerResponse wraps the partner profile; Partner is null when the user
// has no partner or the account is gone.
type PartnerResponse struct {
	Partner *models.Profile `json:"partner"`
}

// GetPartner handles GET /api/v1/partner
func (h *PartnershipHandler) GetPartner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := h.userService.GetUser(ctx, middleware.GetUserID(ctx), true)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if user.PartnerID == nil {
		respondJSON(w, http.StatusOK, PartnerResponse{})
		return
	}

	partner, err := h.partnershipService.GetPartner(ctx, *user.PartnerID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, PartnerResponse{Partner: partner})
}

// GetPartnership handles GET /api/v1/partnership
func (h *PartnershipHandler) GetPartnership(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	partnership, err := h.partnershipService.GetPartnership(ctx, middleware.GetUserID(ctx))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, partnership)
}

// CreateInvite handles POST /api/v1/partnerships/invite
func (h *PartnershipHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	code, err := h.partnershipService.CreateInvite(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to create invite")
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, InviteResponse{InviteCode: code})
}

// Join handles POST /api/v1/partnerships/join
func (h *PartnershipHandler) Join(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req JoinRequest
	if !decodeBody(w, r, &req) {
		return
	}

	partnership, err := h.partnershipService.JoinByCode(ctx, userID, req.Code)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Msg("Failed to join partnership")
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, partnership)
}

// Leave handles DELETE /api/v1/partnerships/{partnership_id}. It covers both
// disconnecting and cancelling a pending invite.
func (h *PartnershipHandler) Leave(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	partnershipID := chi.URLParam(r, "partnership_id")

	if partnershipID == "" {
		respondError(w, "partnership_id is required", http.StatusBadRequest, "invalid_request")
		return
	}

	if err := h.partnershipService.Leave(ctx, userID, partnershipID); err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("partnership_id", partnershipID).
			Msg("Failed to leave partnership")
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
