package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/mcdev12/blitz/go/internal/auth"
	"github.com/rs/zerolog/log"
)

// IdentityVerifier authenticates the upgrade request
type IdentityVerifier interface {
	FromRequest(r *http.Request) (auth.Identity, error)
}

// WebSocketHandler handles WebSocket upgrade requests
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	verifier          IdentityVerifier
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, verifier IdentityVerifier) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		verifier:          verifier,
	}
}

// HandleConnection authenticates the caller and upgrades the connection.
// Unauthenticated requests are refused before the upgrade.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.FromRequest(r)
	if err != nil {
		log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("rejected unauthenticated connection")
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, identity); err != nil {
		// The upgrader has already written an HTTP error response.
		log.Error().
			Err(err).
			Str("user", identity.Name()).
			Msg("failed to upgrade WebSocket connection")
		return
	}
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
