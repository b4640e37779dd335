package store

import (
	"context"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ClaimToken builds the live-connection claim persisted for a seat.
func ClaimToken(instanceID, connectionID string) string {
	return instanceID + "/" + connectionID
}

// ClaimInstance extracts the owning instance from a claim token.
func ClaimInstance(token string) string {
	i := strings.IndexByte(token, '/')
	if i <= 0 {
		return ""
	}
	return token[:i]
}

// Presence keeps this process's heartbeat key alive so other instances can
// tell its live claims from those left behind by a crashed process.
type Presence struct {
	store      *Store
	instanceID string
	ttl        time.Duration
	clock      clockwork.Clock
}

// NewPresence creates a heartbeat for instanceID. The key expires after ttl
// without a refresh.
func (s *Store) NewPresence(instanceID string, ttl time.Duration, clock clockwork.Clock) *Presence {
	return &Presence{store: s, instanceID: instanceID, ttl: ttl, clock: clock}
}

// InstanceID returns the id this heartbeat is published under.
func (p *Presence) InstanceID() string { return p.instanceID }

// Beat refreshes the heartbeat key once.
func (p *Presence) Beat(ctx context.Context) error {
	key := p.store.instanceKey(p.instanceID)
	if err := p.store.client.Set(ctx, key, p.clock.Now().UnixMilli(), p.ttl).Err(); err != nil {
		return unavailable("set "+key, err)
	}
	return nil
}

// Run refreshes the heartbeat every ttl/3 until ctx is done, then removes it.
func (p *Presence) Run(ctx context.Context) {
	if err := p.Beat(ctx); err != nil {
		log.Error().Err(err).Str("instance", p.instanceID).Msg("initial presence heartbeat failed")
	}

	ticker := p.clock.NewTicker(p.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := p.store.client.Del(cleanupCtx, p.store.instanceKey(p.instanceID)).Err(); err != nil {
				log.Warn().Err(err).Str("instance", p.instanceID).Msg("failed to remove presence key")
			}
			cancel()
			return
		case <-ticker.Chan():
			if err := p.Beat(ctx); err != nil {
				log.Error().Err(err).Str("instance", p.instanceID).Msg("presence heartbeat failed")
			}
		}
	}
}
