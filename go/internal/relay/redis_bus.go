package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

const defaultEventBuffer = 256

// RedisBus relays events over Redis pub/sub, one channel per room. A single
// PubSub connection per process carries every room this process subscribes to.
type RedisBus struct {
	client  *redis.Client
	prefix  string
	pubsub  *redis.PubSub
	eventCh chan *Event
	done    chan struct{}
	once    sync.Once
}

// NewRedisBus opens the shared subscription. controlChannel is subscribed up
// front so the connection is in subscriber mode before any room joins.
func NewRedisBus(ctx context.Context, client *redis.Client, prefix, controlChannel string) (*RedisBus, error) {
	pubsub := client.Subscribe(ctx, prefix+controlChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", controlChannel, err)
	}

	b := &RedisBus{
		client:  client,
		prefix:  prefix,
		pubsub:  pubsub,
		eventCh: make(chan *Event, defaultEventBuffer),
		done:    make(chan struct{}),
	}
	go b.receive()
	return b, nil
}

func (b *RedisBus) channel(roomID string) string {
	return b.prefix + "room:" + roomID + ":events"
}

// Publish sends evt on the room channel.
func (b *RedisBus) Publish(ctx context.Context, evt *Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(evt.RoomID), data).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", evt.RoomID, err)
	}
	return nil
}

// Subscribe starts receiving events for roomID.
func (b *RedisBus) Subscribe(ctx context.Context, roomID string) error {
	if err := b.pubsub.Subscribe(ctx, b.channel(roomID)); err != nil {
		return fmt.Errorf("redis: subscribe %s: %w", roomID, err)
	}
	return nil
}

// Unsubscribe stops receiving events for roomID.
func (b *RedisBus) Unsubscribe(ctx context.Context, roomID string) error {
	if err := b.pubsub.Unsubscribe(ctx, b.channel(roomID)); err != nil {
		return fmt.Errorf("redis: unsubscribe %s: %w", roomID, err)
	}
	return nil
}

// Events returns the channel of received events.
func (b *RedisBus) Events() <-chan *Event {
	return b.eventCh
}

// Close tears down the subscription and closes the events channel.
func (b *RedisBus) Close() error {
	var err error
	b.once.Do(func() {
		err = b.pubsub.Close()
		<-b.done
	})
	return err
}

func (b *RedisBus) receive() {
	defer close(b.done)
	defer close(b.eventCh)

	for msg := range b.pubsub.Channel() {
		var evt Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping undecodable room event")
			continue
		}
		select {
		case b.eventCh <- &evt:
		default:
			log.Warn().
				Str("room_id", evt.RoomID).
				Str("event_type", string(evt.EventType)).
				Msg("event buffer full, dropping room event")
		}
	}
}
