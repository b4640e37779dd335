package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/blitz/go/internal/auth"
	"github.com/mcdev12/blitz/go/internal/config"
	"github.com/mcdev12/blitz/go/internal/gateway"
	"github.com/mcdev12/blitz/go/internal/matchclock"
	"github.com/mcdev12/blitz/go/internal/move"
	"github.com/mcdev12/blitz/go/internal/relay"
	"github.com/mcdev12/blitz/go/internal/room"
	"github.com/mcdev12/blitz/go/internal/rules"
	"github.com/mcdev12/blitz/go/internal/store"
	"github.com/rs/zerolog/log"
)

const controlChannel = "control"

type Services struct {
	InstanceID string
	Gateway    *gateway.Service
	Scheduler  *matchclock.Scheduler
	Presence   *store.Presence
	Rooms      *room.App
}

func setupServices(ctx context.Context, cfg *config.Config, client *redis.Client, keyPrefix string) (*Services, error) {
	// Wire up dependency injection chain
	// Store → Relay → Clock scheduler → Apps → Gateway
	clock := clockwork.NewRealClock()
	instanceID := cfg.Server.InstanceID

	// Store
	roomStore := store.New(client, store.Config{
		Prefix:        keyPrefix,
		RoomTTL:       cfg.Rooms.TTL.Std(),
		CheckPresence: cfg.Presence.Enabled,
	})

	// Relay
	bus, err := setupRelay(ctx, cfg, client, keyPrefix)
	if err != nil {
		return nil, err
	}
	publisher := relay.NewPublisher(bus, clock.Now)

	// Clock
	scheduler := matchclock.NewScheduler(roomStore, publisher, clock, instanceID, matchclock.Config{
		Workers:         cfg.Clock.Workers,
		EvaluateTimeout: cfg.Clock.EvaluateTimeout.Std(),
	})

	// Rooms and moves
	oracle := rules.NewChess()
	roomApp := room.NewApp(roomStore, oracle, scheduler, publisher, clock, room.Config{
		DefaultInitialTime: cfg.Rooms.DefaultInitialTime.Std(),
		MaxInitialTime:     cfg.Rooms.MaxInitialTime.Std(),
		VacancyGrace:       cfg.Rooms.VacancyGrace.Std(),
	})
	moveApp := move.NewApp(roomStore, oracle, scheduler, publisher, clock)

	// Gateway
	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.CookieName)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("failed to create verifier: %w", err)
	}
	gatewayCfg := gateway.DefaultConfig()
	gatewayCfg.InstanceID = instanceID
	gatewayService := gateway.NewService(gatewayCfg, gateway.Deps{
		Rooms:    roomApp,
		Moves:    moveApp,
		Verifier: verifier,
		Bus:      bus,
		Store:    roomStore,
		Clock:    clock,
	})

	services := &Services{
		InstanceID: instanceID,
		Gateway:    gatewayService,
		Scheduler:  scheduler,
		Rooms:      roomApp,
	}
	if cfg.Presence.Enabled {
		services.Presence = roomStore.NewPresence(instanceID, cfg.Presence.TTL.Std(), clock)
	}
	return services, nil
}

func setupRelay(ctx context.Context, cfg *config.Config, client *redis.Client, keyPrefix string) (relay.Bus, error) {
	switch cfg.Relay.Backend {
	case "nats":
		jsCfg := relay.DefaultJetStreamConfig()
		jsCfg.URL = cfg.Relay.NATSURL
		jsCfg.StreamName = cfg.Relay.StreamName
		jsCfg.SubjectPrefix = cfg.Relay.SubjectPrefix
		bus, err := relay.NewJetStreamBus(ctx, jsCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create jetstream relay: %w", err)
		}
		return bus, nil
	default:
		bus, err := relay.NewRedisBus(ctx, client, keyPrefix, controlChannel)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis relay: %w", err)
		}
		return bus, nil
	}
}

// Start runs the background services until ctx is done. The returned
// channel closes once all of them have stopped.
func (s *Services) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	finished := make(chan string, 3)

	if s.Presence != nil {
		go func() {
			s.Presence.Run(ctx)
			finished <- "presence"
		}()
	} else {
		finished <- "presence"
	}

	go func() {
		if err := s.Scheduler.Run(ctx); err != nil {
			log.Error().Err(err).Msg("clock scheduler failed")
		}
		finished <- "scheduler"
	}()

	go func() {
		if err := s.Gateway.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
		finished <- "gateway"
	}()

	go func() {
		defer close(done)
		for i := 0; i < cap(finished); i++ {
			log.Debug().Str("service", <-finished).Msg("service stopped")
		}
		s.Rooms.Janitor().Stop()
	}()

	return done
}
