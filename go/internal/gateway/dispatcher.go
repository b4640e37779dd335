package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/blitz/go/internal/models"
	"github.com/mcdev12/blitz/go/internal/move"
	"github.com/mcdev12/blitz/go/internal/room"
	"github.com/mcdev12/blitz/go/internal/store"
	"github.com/rs/zerolog/log"
)

// RoomApp defines what the gateway needs from room membership
type RoomApp interface {
	CreateRoom(ctx context.Context, req room.CreateRoomRequest) (*room.CreateRoomResult, error)
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	JoinRoom(ctx context.Context, identity, roomID, claim string) (*room.JoinResult, error)
	LeaveRoom(ctx context.Context, roomID, claim string) (*room.LeaveResult, error)
}

// MoveApp defines what the gateway needs from move validation
type MoveApp interface {
	SubmitMove(ctx context.Context, req move.SubmitMoveRequest) (*move.SubmitMoveResult, error)
}

// Dispatcher turns client frames into room and move operations. Replies and
// errors go to the originating connection only; everything else reaches
// clients through the relay.
type Dispatcher struct {
	rooms      RoomApp
	moves      MoveApp
	instanceID string
	timeout    time.Duration
}

// NewDispatcher creates a dispatcher. Live-connection claims are minted as
// instanceID/connectionID.
func NewDispatcher(rooms RoomApp, moves MoveApp, instanceID string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultConnectionConfig().RequestTimeout
	}
	return &Dispatcher{
		rooms:      rooms,
		moves:      moves,
		instanceID: instanceID,
		timeout:    timeout,
	}
}

func (d *Dispatcher) claim(c *Connection) string {
	return store.ClaimToken(d.instanceID, c.ID)
}

// handleClientMessage processes one frame received from the client
func (d *Dispatcher) handleClientMessage(c *Connection, message []byte) {
	var frame Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		d.replyError(c, fmt.Errorf("%w: %v", models.ErrMalformedPayload, err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var err error
	switch frame.Event {
	case EventCreateRoom:
		err = d.createRoom(ctx, c, frame.Data)
	case EventJoinRoom:
		err = d.joinRoom(ctx, c, frame.Data)
	case EventSendMessage, EventSubmitMove:
		err = d.submitMove(ctx, c, frame.Data)
	default:
		err = fmt.Errorf("%w: unknown event %q", models.ErrMalformedPayload, frame.Event)
	}

	if err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Str("user", c.Identity.Name()).
			Str("event", frame.Event).
			Msg("client request rejected")
		d.replyError(c, err)
	}
}

func (d *Dispatcher) createRoom(ctx context.Context, c *Connection, data json.RawMessage) error {
	var p CreateRoomPayload
	if err := ParsePayload(data, &p); err != nil {
		return err
	}

	created, err := d.rooms.CreateRoom(ctx, room.CreateRoomRequest{
		Requestor:      c.Identity.Name(),
		Opponent:       p.OpponentUsername,
		SeatPreference: p.Preference,
		InitialTime:    time.Duration(p.Time) * time.Millisecond,
	})
	if err != nil {
		return err
	}

	// The creator is joined to the room it just made.
	if _, err := d.join(ctx, c, created.Room.ID); err != nil {
		return err
	}

	return d.reply(c, EventRoomCreated, RoomCreatedMessage{
		Success:      true,
		RoomID:       created.Room.ID,
		UserRole:     created.Seat.Color(),
		OpponentRole: created.OpponentSeat.Color(),
	})
}

func (d *Dispatcher) joinRoom(ctx context.Context, c *Connection, data json.RawMessage) error {
	var p JoinRoomPayload
	if err := ParsePayload(data, &p); err != nil {
		return err
	}
	if p.RoomID == "" {
		return fmt.Errorf("%w: roomId is required", models.ErrMalformedPayload)
	}

	joined, err := d.join(ctx, c, p.RoomID)
	if err != nil {
		return err
	}

	return d.reply(c, EventJoinedRoom, JoinedRoomMessage{
		Success:   true,
		Fen:       joined.Room.Position,
		GameState: joined.Room.Running(),
		Roll:      joined.Seat.Color(),
	})
}

// join subscribes c to roomID before recording the live claim so no event
// produced by the join itself is missed. A connection is in one room at a
// time; switching rooms releases the claim on the previous one.
func (d *Dispatcher) join(ctx context.Context, c *Connection, roomID string) (*room.JoinResult, error) {
	cm := c.Manager
	previous, err := cm.attach(ctx, c, roomID)
	if err != nil {
		return nil, err
	}

	joined, err := d.rooms.JoinRoom(ctx, c.Identity.Name(), roomID, d.claim(c))
	if err != nil {
		switch {
		case previous == roomID:
		case previous != "":
			if _, reErr := cm.attach(ctx, c, previous); reErr != nil {
				log.Warn().Err(reErr).Str("room_id", previous).Msg("failed to return connection to previous room")
			}
		default:
			cm.detach(c, roomID)
		}
		return nil, err
	}

	if previous != "" && previous != roomID {
		d.leave(ctx, c, previous)
	}
	return joined, nil
}

func (d *Dispatcher) submitMove(ctx context.Context, c *Connection, data json.RawMessage) error {
	var p SubmitMovePayload
	if err := ParsePayload(data, &p); err != nil {
		return err
	}

	mv, claimedFrom, claimedAfter, err := p.normalize()
	if err != nil {
		return err
	}

	roomID := p.RoomID
	if roomID == "" {
		roomID = c.Manager.roomOf(c)
	}
	if roomID == "" {
		return fmt.Errorf("%w: not in a room", models.ErrNotAParticipant)
	}

	_, err = d.moves.SubmitMove(ctx, move.SubmitMoveRequest{
		Identity:     c.Identity.Name(),
		RoomID:       roomID,
		ClaimedFrom:  claimedFrom,
		Move:         mv,
		ClaimedAfter: claimedAfter,
	})
	return err
}

func (d *Dispatcher) leave(ctx context.Context, c *Connection, roomID string) {
	if _, err := d.rooms.LeaveRoom(ctx, roomID, d.claim(c)); err != nil {
		log.Error().
			Err(err).
			Str("connection_id", c.ID).
			Str("room_id", roomID).
			Msg("failed to release live claim")
	}
}

// connectionClosed releases the claim of a connection that went away.
func (d *Dispatcher) connectionClosed(c *Connection, roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	d.leave(ctx, c, roomID)
}

func (d *Dispatcher) reply(c *Connection, event string, data any) error {
	frame, err := EncodeFrame(event, data)
	if err != nil {
		return err
	}
	c.Manager.sendTo(c, frame)
	return nil
}

func (d *Dispatcher) replyError(c *Connection, err error) {
	if reqErr := d.reply(c, EventError, NewErrorMessage(err)); reqErr != nil {
		log.Error().Err(reqErr).Str("connection_id", c.ID).Msg("failed to send error frame")
	}
}
