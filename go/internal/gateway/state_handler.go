package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/blitz/go/internal/matchclock"
	"github.com/mcdev12/blitz/go/internal/models"
	"github.com/rs/zerolog/log"
)

// RoomReader loads the current room record
type RoomReader interface {
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
}

// RoomStateResponse is the resync snapshot of a room. Clock values are the
// live remaining milliseconds at ServerTime.
type RoomStateResponse struct {
	RoomID     string             `json:"room_id"`
	Fen        string             `json:"fen"`
	Moves      []models.Move      `json:"moves"`
	White      string             `json:"white,omitempty"`
	Black      string             `json:"black,omitempty"`
	Connected  map[string]bool    `json:"connected"`
	GameState  bool               `json:"game_state"`
	Turn       string             `json:"turn,omitempty"`
	Clocks     ClockUpdateMessage `json:"clocks"`
	Result     string             `json:"result,omitempty"`
	Version    int64              `json:"version"`
	ServerTime time.Time          `json:"server_time"`
}

// StateHandler serves room snapshots for clients that need to resync
type StateHandler struct {
	rooms RoomReader
	clock clockwork.Clock
}

// NewStateHandler creates a new state handler
func NewStateHandler(rooms RoomReader, clock clockwork.Clock) *StateHandler {
	return &StateHandler{rooms: rooms, clock: clock}
}

// HandleGetRoomState handles GET /api/rooms/{id}/state
func (h *StateHandler) HandleGetRoomState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roomID := extractRoomIDFromPath(r.URL.Path)
	if roomID == "" {
		http.Error(w, "Room ID is required", http.StatusBadRequest)
		return
	}

	rm, err := h.rooms.GetRoom(r.Context(), roomID)
	switch {
	case errors.Is(err, models.ErrRoomNotFound):
		http.Error(w, "Room not found", http.StatusNotFound)
		return
	case errors.Is(err, models.ErrStoreUnavailable):
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to get room state")
		http.Error(w, "State store unavailable", http.StatusServiceUnavailable)
		return
	case err != nil:
		log.Error().Err(err).Str("room_id", roomID).Msg("failed to get room state")
		http.Error(w, "Failed to get room state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(newRoomStateResponse(rm, h.clock.Now())); err != nil {
		log.Error().Err(err).Msg("failed to encode room state response")
	}
}

func newRoomStateResponse(rm *models.Room, now time.Time) RoomStateResponse {
	connected := make(map[string]bool, len(models.AllSeats))
	for _, seat := range models.AllSeats {
		connected[seat.Color()] = rm.IsLive(seat)
	}

	resp := RoomStateResponse{
		RoomID:    rm.ID,
		Fen:       rm.Position,
		Moves:     rm.MoveLog,
		White:     rm.Seats[models.SeatA],
		Black:     rm.Seats[models.SeatB],
		Connected: connected,
		GameState: rm.Running(),
		Clocks: ClockUpdateMessage{
			W: matchclock.Remaining(rm, models.SeatA, now).Milliseconds(),
			B: matchclock.Remaining(rm, models.SeatB, now).Milliseconds(),
		},
		Result:     rm.Result,
		Version:    rm.Version,
		ServerTime: now,
	}
	if resp.Moves == nil {
		resp.Moves = []models.Move{}
	}
	if rm.Running() {
		resp.Turn = rm.ActiveSeat.Color()
	}
	return resp
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/rooms/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/state") {
			http.NotFound(w, r)
			return
		}
		h.HandleGetRoomState(w, r)
	})
}

// extractRoomIDFromPath extracts the room ID from /api/rooms/{id}/state
func extractRoomIDFromPath(path string) string {
	const prefix = "/api/rooms/"
	const suffix = "/state"

	if len(path) <= len(prefix)+len(suffix) {
		return ""
	}
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return ""
	}
	id := path[len(prefix) : len(path)-len(suffix)]
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}
