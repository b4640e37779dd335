package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mcdev12/blitz/go/internal/models"
)

const (
	defaultRoomTTL    = time.Hour
	defaultMaxRetries = 16
)

// Config controls key layout and transaction behaviour.
type Config struct {
	// Prefix is prepended to every key.
	Prefix string
	// RoomTTL is how long a record outlives the longest match its clocks
	// allow. It is applied once, when the record is created.
	RoomTTL time.Duration
	// MaxRetries bounds optimistic transaction retries under contention.
	MaxRetries int
	// CheckPresence drops live claims whose owning instance has no heartbeat.
	CheckPresence bool
}

// Store is the shared room store backed by Redis hashes.
type Store struct {
	client *redis.Client
	cfg    Config
}

// New creates a Store on top of an existing client.
func New(client *redis.Client, cfg Config) *Store {
	if cfg.RoomTTL <= 0 {
		cfg.RoomTTL = defaultRoomTTL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Store{client: client, cfg: cfg}
}

func (s *Store) roomKey(roomID string) string {
	return s.cfg.Prefix + "room:" + roomID
}

func (s *Store) instanceKey(instanceID string) string {
	return s.cfg.Prefix + "instance:" + instanceID
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Create writes a new room record and sets its expiry in one transaction.
// It fails with ErrRoomExists when the id is taken.
func (s *Store) Create(ctx context.Context, room *models.Room) error {
	key := s.roomKey(room.ID)
	if room.Version == 0 {
		room.Version = 1
	}
	fields, err := encodeRoom(room)
	if err != nil {
		return err
	}

	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return unavailable("exists "+key, err)
		}
		if n > 0 {
			return &decisionError{err: models.ErrRoomExists}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, toArgs(fields))
			pipe.Expire(ctx, key, s.expiry(room))
			return nil
		})
		return err
	}

	return s.run(ctx, key, txf)
}

// expiry covers both seats spending their whole budget, so a running match
// cannot lose its record before its clocks run out.
func (s *Store) expiry(room *models.Room) time.Duration {
	longest := time.Duration(0)
	for _, seat := range models.AllSeats {
		longest += room.Clocks[seat].Remaining
	}
	return longest + s.cfg.RoomTTL
}

// Get reads the current record.
func (s *Store) Get(ctx context.Context, roomID string) (*models.Room, error) {
	key := s.roomKey(roomID)
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, unavailable("hgetall "+key, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("room %s: %w", roomID, models.ErrRoomNotFound)
	}

	room, err := decodeRoom(roomID, vals)
	if err != nil {
		return nil, fmt.Errorf("room %s: %w", roomID, err)
	}
	if err := s.pruneDeadClaims(ctx, s.client, room); err != nil {
		return nil, err
	}
	return room, nil
}

// TTL returns the remaining lifetime of a room record.
func (s *Store) TTL(ctx context.Context, roomID string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, s.roomKey(roomID)).Result()
	if err != nil {
		return 0, unavailable("ttl", err)
	}
	return d, nil
}

// DeleteIf removes the record when cond holds for its current state. The check
// and the delete are one transaction.
func (s *Store) DeleteIf(ctx context.Context, roomID string, cond func(room *models.Room) bool) (bool, error) {
	key := s.roomKey(roomID)
	deleted := false

	txf := func(tx *redis.Tx) error {
		deleted = false
		room, err := s.load(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if !cond(room) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err == nil {
			deleted = true
		}
		return err
	}

	if err := s.run(ctx, key, txf); err != nil {
		return false, err
	}
	return deleted, nil
}

func (s *Store) load(ctx context.Context, tx *redis.Tx, roomID string) (*models.Room, error) {
	key := s.roomKey(roomID)
	vals, err := tx.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, unavailable("hgetall "+key, err)
	}
	if len(vals) == 0 {
		return nil, &decisionError{err: fmt.Errorf("room %s: %w", roomID, models.ErrRoomNotFound)}
	}
	room, err := decodeRoom(roomID, vals)
	if err != nil {
		return nil, &decisionError{err: fmt.Errorf("room %s: %w", roomID, err)}
	}
	if err := s.pruneDeadClaims(ctx, tx, room); err != nil {
		return nil, err
	}
	return room, nil
}

// pruneDeadClaims hides live claims whose instance heartbeat has expired.
func (s *Store) pruneDeadClaims(ctx context.Context, cmd redis.Cmdable, room *models.Room) error {
	if !s.cfg.CheckPresence {
		return nil
	}
	for seat, token := range room.Live {
		instanceID := ClaimInstance(token)
		if instanceID == "" {
			delete(room.Live, seat)
			continue
		}
		n, err := cmd.Exists(ctx, s.instanceKey(instanceID)).Result()
		if err != nil {
			return unavailable("exists instance", err)
		}
		if n == 0 {
			delete(room.Live, seat)
		}
	}
	return nil
}

// decisionError carries an error produced by domain logic (not by Redis)
// out of a watched transaction.
type decisionError struct {
	err error
}

func (e *decisionError) Error() string { return e.err.Error() }
func (e *decisionError) Unwrap() error { return e.err }

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: redis %s: %w", models.ErrStoreUnavailable, op, err)
}

// run executes txf under WATCH on key, retrying when a concurrent writer
// invalidates the transaction.
func (s *Store) run(ctx context.Context, key string, txf func(tx *redis.Tx) error) error {
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}

		var de *decisionError
		if errors.As(err, &de) {
			return de.err
		}
		if errors.Is(err, models.ErrStoreUnavailable) {
			return err
		}
		return unavailable("transaction on "+key, err)
	}
	return fmt.Errorf("%w: %s: too much contention after %d attempts", models.ErrStoreUnavailable, key, s.cfg.MaxRetries)
}
