package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mcdev12/trivia/go/internal/models"
	"github.com/rs/zerolog/log"
)

// WebSocketHandler handles WebSocket upgrade requests for room connections.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{connectionManager: cm}
}

// HandleRoomConnection upgrades /ws?room=CODE&username=NAME.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	room := models.NormalizeRoomCode(r.URL.Query().Get("room"))
	if !models.ValidRoomCode(room) {
		http.Error(w, "room must be a four character code", http.StatusBadRequest)
		return
	}
	username := strings.TrimSpace(r.URL.Query().Get("username"))

	if err := h.connectionManager.UpgradeConnection(w, r, room, username); err != nil {
		// the upgrader has already written the HTTP error
		log.Error().
			Err(err).
			Str("room_code", room).
			Str("username", username).
			Msg("failed to upgrade WebSocket connection")
	}
}

// HandleConnectionStats returns statistics about active connections.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to write connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleRoomConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
