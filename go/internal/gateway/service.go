package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/blitz/go/internal/relay"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Pinger reports whether the shared store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// statusReporter is implemented by relays backed by a NATS connection
type statusReporter interface {
	Status() nats.Status
}

// Service is the client-facing gateway: WebSocket connections, resync
// snapshots and health.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	store             Pinger
	bus               relay.Bus
	instanceID        string
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	InstanceID       string
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// Deps are the collaborators the gateway fronts
type Deps struct {
	Rooms    RoomApp
	Moves    MoveApp
	Verifier IdentityVerifier
	Bus      relay.Bus
	Store    Pinger
	Clock    clockwork.Clock
}

// NewService creates a new gateway service
func NewService(config Config, deps Deps) *Service {
	dispatcher := NewDispatcher(deps.Rooms, deps.Moves, config.InstanceID, config.ConnectionConfig.RequestTimeout)
	connectionManager := NewConnectionManager(config.ConnectionConfig, deps.Bus, dispatcher)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, deps.Verifier),
		stateHandler:      NewStateHandler(deps.Rooms, deps.Clock),
		store:             deps.Store,
		bus:               deps.Bus,
		instanceID:        config.InstanceID,
	}
}

// Start relays events to local connections until ctx is done
func (s *Service) Start(ctx context.Context) error {
	log.Info().Str("instance_id", s.instanceID).Msg("starting gateway service")

	s.connectionManager.Start(ctx)

	log.Info().Msg("gateway service shutting down")
	return s.Stop()
}

// Stop closes the relay
func (s *Service) Stop() error {
	if err := s.bus.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close relay")
		return err
	}
	log.Info().Msg("gateway service stopped")
	return nil
}

// RegisterRoutes registers the gateway HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	mux.HandleFunc("/health", s.HandleHealth)
	log.Info().Msg("gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "blitz_gateway"
	stats["instance_id"] = s.instanceID
	return stats
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status      string `json:"status"`
	InstanceID  string `json:"instance_id"`
	Store       string `json:"store"`
	Relay       string `json:"relay"`
	Connections int    `json:"connections"`
}

// HandleHealth reports store and relay reachability. Any failing dependency
// makes the instance unhealthy.
func (s *Service) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:     "ok",
		InstanceID: s.instanceID,
		Store:      "ok",
		Relay:      "ok",
	}
	if total, ok := s.connectionManager.GetConnectionStats()["total_connections"].(int); ok {
		resp.Connections = total
	}

	if err := s.store.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("health check: store unreachable")
		resp.Status = "degraded"
		resp.Store = "unavailable"
	}
	if reporter, ok := s.bus.(statusReporter); ok {
		if status := reporter.Status(); status != nats.CONNECTED {
			resp.Status = "degraded"
			resp.Relay = status.String()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to encode health response")
	}
}
