package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"couple-cook-backend/internal/models"
	"couple-cook-backend/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var validate = validator.New()

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errorMapping maps domain errors to a status and a stable code. Order
// matters: the first match wins.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{services.ErrInvalidCode, http.StatusNotFound, "invalid_code"},
	{services.ErrNotFound, http.StatusNotFound, "not_found"},
	{models.ErrVersionNotFound, http.StatusNotFound, "version_not_found"},
	{models.ErrCommentNotFound, http.StatusNotFound, "comment_not_found"},
	{services.ErrAlreadyPartnered, http.StatusConflict, "already_partnered"},
	{services.ErrSelfInvite, http.StatusConflict, "self_invite"},
	{services.ErrNotMember, http.StatusForbidden, "not_member"},
	{models.ErrNotCommentAuthor, http.StatusForbidden, "not_comment_author"},
	{services.ErrInvalidNickname, http.StatusBadRequest, "invalid_nickname"},
	{services.ErrUnsupportedImage, http.StatusBadRequest, "unsupported_image"},
	{models.ErrTitleRequired, http.StatusBadRequest, "invalid_recipe"},
	{models.ErrIngredientsRequired, http.StatusBadRequest, "invalid_recipe"},
	{models.ErrStepsRequired, http.StatusBadRequest, "invalid_recipe"},
	{models.ErrCommentTextRequired, http.StatusBadRequest, "invalid_comment"},
	{models.ErrInvalidRating, http.StatusBadRequest, "invalid_comment"},
	{services.ErrInviteCodeExhausted, http.StatusServiceUnavailable, "invite_code_exhausted"},
	{services.ErrWriteFailed, http.StatusInternalServerError, "write_failed"},
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int, code string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message, Code: code})
}

// respondServiceError translates a service error into a response. Unknown
// errors are logged and hidden behind a 500.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			if m.status >= http.StatusInternalServerError {
				log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
			}
			respondError(w, m.err.Error(), m.status, m.code)
			return
		}
	}
	log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	respondError(w, "internal error", http.StatusInternalServerError, "internal")
}

// decodeBody decodes a JSON request body into dst and validates its tags.
// It writes the 400 response itself and reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest, "invalid_request")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		respondError(w, validationMessage(err), http.StatusBadRequest, "invalid_request")
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag())
	}
	return err.Error()
}
