package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mcdev12/blitz/go/internal/models"
	"github.com/mcdev12/blitz/go/internal/relay"
)

// Inbound frame events
const (
	EventCreateRoom  = "createRoom"
	EventJoinRoom    = "joinRoom"
	EventSendMessage = "sendMessage"
	EventSubmitMove  = "submitMove"
)

// Outbound frame events
const (
	EventRoomCreated    = "roomCreated"
	EventJoinedRoom     = "joinedRoom"
	EventGameStart      = "gameStart"
	EventClockUpdate    = "clockUpdate"
	EventReceiveMessage = "receiveMessage"
	EventGameEnd        = "gameEnd"
	EventLeftRoom       = "leftRoom"
	EventError          = "error"
)

// Frame is the envelope of every message in both directions. Inbound data
// may be an object or a JSON string holding an object.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CreateRoomPayload is the data of a createRoom frame. Time is the initial
// clock in milliseconds.
type CreateRoomPayload struct {
	OpponentUsername string `json:"opponentUsername"`
	Preference       string `json:"preference"`
	Time             int64  `json:"time"`
}

// JoinRoomPayload is the data of a joinRoom frame
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

// MovePayload is a move in coordinate notation
type MovePayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// LegacyMessage is the older move shape that carries the claimed positions
// next to the squares.
type LegacyMessage struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	Before    string `json:"before"`
	After     string `json:"after"`
}

// SubmitMovePayload is the data of a submitMove or sendMessage frame. Either
// Move with the claimed positions or the legacy Message is expected.
type SubmitMovePayload struct {
	RoomID       string         `json:"roomId,omitempty"`
	Move         *MovePayload   `json:"move,omitempty"`
	ClaimedFrom  string         `json:"claimedFrom,omitempty"`
	ClaimedAfter string         `json:"claimedAfter,omitempty"`
	Message      *LegacyMessage `json:"message,omitempty"`
}

// normalize folds the legacy shape into a move plus claimed positions.
func (p SubmitMovePayload) normalize() (models.Move, string, string, error) {
	switch {
	case p.Move != nil:
		return models.Move{From: p.Move.From, To: p.Move.To, Promotion: p.Move.Promotion}, p.ClaimedFrom, p.ClaimedAfter, nil
	case p.Message != nil:
		m := p.Message
		return models.Move{From: m.From, To: m.To, Promotion: m.Promotion}, m.Before, m.After, nil
	default:
		return models.Move{}, "", "", fmt.Errorf("%w: move is required", models.ErrMalformedPayload)
	}
}

// RoomCreatedMessage answers createRoom
type RoomCreatedMessage struct {
	Success      bool   `json:"success"`
	RoomID       string `json:"roomId"`
	UserRole     string `json:"userRole"`
	OpponentRole string `json:"opponentRole"`
}

// JoinedRoomMessage answers joinRoom. Roll is the caller's colour.
type JoinedRoomMessage struct {
	Success   bool   `json:"success"`
	Fen       string `json:"fen"`
	GameState bool   `json:"gameState"`
	Roll      string `json:"roll"`
}

type GameStartMessage struct {
	Fen   string `json:"fen"`
	White string `json:"white"`
	Black string `json:"black"`
}

// ClockUpdateMessage carries remaining milliseconds per colour
type ClockUpdateMessage struct {
	W int64 `json:"w"`
	B int64 `json:"b"`
}

type ReceiveMessageMessage struct {
	Sender  string        `json:"sender"`
	Message LegacyMessage `json:"message"`
}

type GameEndMessage struct {
	Result string `json:"result"`
}

type LeftRoomMessage struct {
	Action   string `json:"action"`
	Username string `json:"username"`
}

type ErrorMessage struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ParsePayload decodes frame data into v. Data must be an object or a JSON
// string that holds one; anything else is ErrMalformedPayload.
func ParsePayload(data json.RawMessage, v any) error {
	raw := bytes.TrimSpace(data)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
		}
		raw = bytes.TrimSpace([]byte(s))
	}
	if len(raw) == 0 || raw[0] != '{' {
		return fmt.Errorf("%w: data must be an object", models.ErrMalformedPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}
	return nil
}

// EncodeFrame marshals an outbound frame.
func EncodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s data: %w", event, err)
	}
	frame, err := json.Marshal(Frame{Event: event, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s frame: %w", event, err)
	}
	return frame, nil
}

// publicErrors are the errors whose text is safe to show to clients.
var publicErrors = []error{
	models.ErrRoomExists,
	models.ErrRoomNotFound,
	models.ErrRoomFull,
	models.ErrAlreadyJoined,
	models.ErrNotAParticipant,
	models.ErrNotYourTurn,
	models.ErrStaleState,
	models.ErrIllegalMove,
	models.ErrGameOver,
	models.ErrMalformedPayload,
	models.ErrStoreUnavailable,
	models.ErrUnauthenticated,
}

// NewErrorMessage renders err for the wire without internal wrapping.
func NewErrorMessage(err error) ErrorMessage {
	for _, public := range publicErrors {
		if errors.Is(err, public) {
			return ErrorMessage{Message: public.Error(), Code: models.ErrorCode(err)}
		}
	}
	return ErrorMessage{Message: "internal error", Code: models.ErrorCode(err)}
}

// outbound is a relay event rendered for clients. Exclude names an identity
// whose connections must not receive the frame.
type outbound struct {
	Frame   []byte
	Exclude string
}

// translate renders a relay event as the frame clients expect.
func translate(evt *relay.Event) (*outbound, error) {
	var (
		event   string
		data    any
		exclude string
	)

	switch evt.EventType {
	case relay.EventStarted:
		var p relay.StartedPayload
		if err := evt.Decode(&p); err != nil {
			return nil, err
		}
		event = EventGameStart
		data = GameStartMessage{
			Fen:   p.Position,
			White: p.Seats[string(models.SeatA)],
			Black: p.Seats[string(models.SeatB)],
		}

	case relay.EventClockUpdated:
		var p relay.ClockUpdatedPayload
		if err := evt.Decode(&p); err != nil {
			return nil, err
		}
		event = EventClockUpdate
		data = ClockUpdateMessage{W: p.RemainingA, B: p.RemainingB}

	case relay.EventStateChanged:
		var p relay.StateChangedPayload
		if err := evt.Decode(&p); err != nil {
			return nil, err
		}
		event = EventReceiveMessage
		data = ReceiveMessageMessage{
			Sender: p.Sender,
			Message: LegacyMessage{
				From:      strings.ToLower(p.Move.From),
				To:        strings.ToLower(p.Move.To),
				Promotion: strings.ToLower(p.Move.Promotion),
				Before:    p.Before,
				After:     p.Position,
			},
		}
		exclude = p.Sender

	case relay.EventEnded:
		var p relay.EndedPayload
		if err := evt.Decode(&p); err != nil {
			return nil, err
		}
		event = EventGameEnd
		data = GameEndMessage{Result: p.Result}

	case relay.EventLeft:
		var p relay.LeftPayload
		if err := evt.Decode(&p); err != nil {
			return nil, err
		}
		event = EventLeftRoom
		data = LeftRoomMessage{Action: "disconnected", Username: p.Username}

	default:
		return nil, fmt.Errorf("unknown event type %q", evt.EventType)
	}

	frame, err := EncodeFrame(event, data)
	if err != nil {
		return nil, err
	}
	return &outbound{Frame: frame, Exclude: exclude}, nil
}
