package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

type JetStreamConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long to keep events
	Replicas        int
	DuplicateWindow time.Duration // Window for Nats-Msg-Id deduplication
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		StreamName:      "BLITZ_ROOM_EVENTS",
		SubjectPrefix:   "blitz.rooms",
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
		MaxAge:          time.Hour,
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
	}
}

// JetStreamBus relays events through a JetStream stream. Each subscribed room
// gets its own ordered consumer that only delivers new messages.
type JetStreamBus struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig

	mu        sync.Mutex
	consumers map[string]jetstream.ConsumeContext
	eventCh   chan *Event
	closed    bool
}

func NewJetStreamBus(ctx context.Context, cfg JetStreamConfig) (*JetStreamBus, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	b := &JetStreamBus{
		nc:        nc,
		js:        js,
		config:    cfg,
		consumers: make(map[string]jetstream.ConsumeContext),
		eventCh:   make(chan *Event, defaultEventBuffer),
	}

	if err := b.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return b, nil
}

func (b *JetStreamBus) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        b.config.StreamName,
		Description: "Room events relayed between gateway instances",
		Subjects:    []string{fmt.Sprintf("%s.>", b.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      b.config.MaxAge,
		Storage:     jetstream.MemoryStorage,
		Replicas:    b.config.Replicas,
		Duplicates:  b.config.DuplicateWindow,
	}

	stream, err := b.js.Stream(ctx, b.config.StreamName)
	if err != nil {
		if _, err = b.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", b.config.StreamName).Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if info.Config.MaxAge != sc.MaxAge || info.Config.Replicas != sc.Replicas || info.Config.Duplicates != sc.Duplicates {
		if _, err = b.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().Str("stream", b.config.StreamName).Msg("updated JetStream stream")
	}
	return nil
}

func (b *JetStreamBus) roomSubject(roomID string) string {
	return fmt.Sprintf("%s.%s", b.config.SubjectPrefix, roomID)
}

// Publish stores evt on the room subject, deduplicated by event id.
func (b *JetStreamBus) Publish(ctx context.Context, evt *Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := fmt.Sprintf("%s.%s", b.roomSubject(evt.RoomID), evt.EventType)

	ack, err := b.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(evt.EventType)},
			"Room-ID":    []string{evt.RoomID},
			"Event-ID":   []string{evt.EventID},
		},
	},
		jetstream.WithMsgID(evt.EventID),
		jetstream.WithExpectStream(b.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", evt.EventID).
		Uint64("sequence", ack.Sequence).
		Msg("published room event")
	return nil
}

// Subscribe starts an ordered consumer for roomID. Subscribing twice is a no-op.
func (b *JetStreamBus) Subscribe(ctx context.Context, roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("bus closed")
	}
	if _, ok := b.consumers[roomID]; ok {
		return nil
	}

	cons, err := b.js.OrderedConsumer(ctx, b.config.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{b.roomSubject(roomID) + ".>"},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create ordered consumer for %s: %w", roomID, err)
	}

	cc, err := cons.Consume(b.handle)
	if err != nil {
		return fmt.Errorf("start consumer for %s: %w", roomID, err)
	}
	b.consumers[roomID] = cc
	return nil
}

// Unsubscribe stops the room's consumer.
func (b *JetStreamBus) Unsubscribe(ctx context.Context, roomID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cc, ok := b.consumers[roomID]; ok {
		cc.Stop()
		delete(b.consumers, roomID)
	}
	return nil
}

func (b *JetStreamBus) handle(msg jetstream.Msg) {
	var evt Event
	if err := json.Unmarshal(msg.Data(), &evt); err != nil {
		log.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping undecodable room event")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.eventCh <- &evt:
	default:
		log.Warn().Str("room_id", evt.RoomID).Msg("event buffer full, dropping room event")
	}
}

// Events returns the channel of received events.
func (b *JetStreamBus) Events() <-chan *Event {
	return b.eventCh
}

// Status reports the NATS connection state.
func (b *JetStreamBus) Status() nats.Status {
	return b.nc.Status()
}

// Close stops every consumer and the NATS connection.
func (b *JetStreamBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for roomID, cc := range b.consumers {
		cc.Stop()
		delete(b.consumers, roomID)
	}
	close(b.eventCh)
	b.mu.Unlock()

	b.nc.Close()
	return nil
}
