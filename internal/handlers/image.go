package handlers

import (
	"context"
	"net/http"

	"couple-cook-backend/internal/middleware"
	"couple-cook-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// UploadPresigner issues upload URLs for images
type UploadPresigner interface {
	PresignUpload(ctx context.Context, userID string, req services.UploadRequest) (*services.UploadResponse, error)
}

// ImageHandler handles image upload requests
type ImageHandler struct {
	images UploadPresigner
}

// NewImageHandler creates a new image handler
func NewImageHandler(images UploadPresigner) *ImageHandler {
	return &ImageHandler{
		images: images,
	}
}

// UploadImage handles POST /api/v1/images/upload
func (h *ImageHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req services.UploadRequest
	if !decodeBody(w, r, &req) {
		return
	}

	resp, err := h.images.PresignUpload(ctx, userID, req)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("kind", req.Kind).
		Str("key", resp.Key).
		Msg("Upload URL generated")

	respondJSON(w, http.StatusOK, resp)
}
