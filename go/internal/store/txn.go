package store

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/mcdev12/blitz/go/internal/models"
)

// Mutate runs fn against the current record inside an optimistic transaction.
// fn mutates the room in place; only fields that changed are written and the
// version is bumped once per committed change. If fn returns an error nothing
// is written and that error is returned unchanged. fn may run more than once
// when a concurrent writer wins the race, so it must not have side effects.
// The returned room is the committed state.
func (s *Store) Mutate(ctx context.Context, roomID string, fn func(room *models.Room) error) (*models.Room, error) {
	key := s.roomKey(roomID)
	var committed *models.Room

	txf := func(tx *redis.Tx) error {
		room, err := s.load(ctx, tx, roomID)
		if err != nil {
			return err
		}
		before, err := encodeRoom(room)
		if err != nil {
			return &decisionError{err: err}
		}

		if err := fn(room); err != nil {
			return &decisionError{err: err}
		}

		after, err := encodeRoom(room)
		if err != nil {
			return &decisionError{err: err}
		}
		changed := diffFields(before, after)
		if len(changed) == 0 {
			committed = room
			return nil
		}

		room.Version++
		changed[fieldVersion] = room.Version

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, changed)
			return nil
		})
		if err != nil {
			return err
		}
		committed = room
		return nil
	}

	if err := s.run(ctx, key, txf); err != nil {
		return nil, err
	}
	return committed, nil
}
