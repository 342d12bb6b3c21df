package handlers

import (
	"encoding/json"
	"net/http"

	"couple-cook-backend/internal/middleware"
	"couple-cook-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // native clients send no Origin
	},
}

// WebSocketHandler handles WebSocket connections
type WebSocketHandler struct {
	hub         *services.WSHub
	userService *services.UserService
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *services.WSHub, userService *services.UserService) *WebSocketHandler {
	return &WebSocketHandler{
		hub:         hub,
		userService: userService,
	}
}

// HandleWebSocket handles GET /ws. The connection only carries server events;
// the client may send "ping" and gets "pong" back.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.ValidateWebSocketToken(r.URL.Query().Get("token"), h.userService)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	h.hub.Register(userID, conn)
	defer h.hub.Unregister(userID, conn)

	ctx := r.Context()
	status := map[string]interface{}{"has_partner": false}
	user, err := h.userService.GetUser(ctx, userID, true)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to load user for WebSocket")
	} else if user.PartnerID != nil {
		partnerID := *user.PartnerID
		h.hub.NotifyPartnerStatus(partnerID, true)
		defer h.hub.NotifyPartnerStatus(partnerID, false)

		status = map[string]interface{}{
			"has_partner":    true,
			"partnership_id": user.PartnershipID,
			"partner_online": h.hub.IsOnline(partnerID),
		}
	}
	if err := h.hub.SendToUser(userID, services.WSMessage{Type: "partnership_status", Data: status}); err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Msg("Failed to send partnership_status message")
	}

	log.Info().Str("user_id", userID).Msg("WebSocket connection established")

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("user_id", userID).Msg("WebSocket error")
			}
			break
		}

		var msg services.WSMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			h.sendErrorToUser(userID, "Invalid message format")
			continue
		}

		switch msg.Type {
		case "ping":
			if err := h.hub.SendToUser(userID, services.WSMessage{Type: "pong"}); err != nil {
				log.Warn().Err(err).Str("user_id", userID).Msg("Failed to send pong")
			}
		default:
			h.sendErrorToUser(userID, "Unknown message type")
		}
	}
}

// sendErrorToUser sends an error message to a user
func (h *WebSocketHandler) sendErrorToUser(userID, message string) {
	msg := services.WSMessage{
		Type:    "error",
		Message: message,
	}
	if err := h.hub.SendToUser(userID, msg); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to send WebSocket error")
	}
}
