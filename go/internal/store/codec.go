package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mcdev12/blitz/go/internal/models"
)

// Record field names. Every field is always present; an empty string encodes
// null for timestamps, open seats and missing claims.
const (
	fieldPosition    = "position"
	fieldMoveLog     = "moveLog"
	fieldActive      = "active"
	fieldActiveSeat  = "activeSeat"
	fieldResult      = "result"
	fieldVersion     = "version"
	fieldInitialTime = "initialTime"
	fieldCreatedAt   = "createdAt"
)

func seatField(seat models.Seat) string { return "seats." + string(seat) }

func liveField(seat models.Seat) string { return "live." + string(seat) }

func remainingField(seat models.Seat) string {
	return "clocks." + string(seat) + ".remainingTime"
}

func lastTimestampField(seat models.Seat) string {
	return "clocks." + string(seat) + ".lastTimestamp"
}

// encodeRoom flattens a room into hash fields. Durations and timestamps are
// stored as integer milliseconds.
func encodeRoom(r *models.Room) (map[string]string, error) {
	moves := r.MoveLog
	if moves == nil {
		moves = []models.Move{}
	}
	moveLog, err := json.Marshal(moves)
	if err != nil {
		return nil, fmt.Errorf("marshal move log: %w", err)
	}

	fields := map[string]string{
		fieldPosition:    r.Position,
		fieldMoveLog:     string(moveLog),
		fieldActive:      strconv.FormatBool(r.Active),
		fieldActiveSeat:  string(r.ActiveSeat),
		fieldResult:      r.Result,
		fieldVersion:     strconv.FormatInt(r.Version, 10),
		fieldInitialTime: strconv.FormatInt(r.InitialTime.Milliseconds(), 10),
		fieldCreatedAt:   strconv.FormatInt(r.CreatedAt.UnixMilli(), 10),
	}

	for _, seat := range models.AllSeats {
		fields[seatField(seat)] = r.Seats[seat]
		fields[liveField(seat)] = r.Live[seat]

		clock := r.Clocks[seat]
		fields[remainingField(seat)] = strconv.FormatInt(clock.Remaining.Milliseconds(), 10)
		if clock.LastTimestamp != nil {
			fields[lastTimestampField(seat)] = strconv.FormatInt(clock.LastTimestamp.UnixMilli(), 10)
		} else {
			fields[lastTimestampField(seat)] = ""
		}
	}

	return fields, nil
}

func decodeRoom(id string, vals map[string]string) (*models.Room, error) {
	r := &models.Room{
		ID:         id,
		Position:   vals[fieldPosition],
		ActiveSeat: models.Seat(vals[fieldActiveSeat]),
		Result:     vals[fieldResult],
		Seats:      map[models.Seat]string{},
		Live:       map[models.Seat]string{},
		Clocks:     map[models.Seat]models.Clock{},
	}

	if raw := vals[fieldMoveLog]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &r.MoveLog); err != nil {
			return nil, fmt.Errorf("decode %s: %w", fieldMoveLog, err)
		}
	}
	if r.MoveLog == nil {
		r.MoveLog = []models.Move{}
	}

	var err error
	if raw := vals[fieldActive]; raw != "" {
		if r.Active, err = strconv.ParseBool(raw); err != nil {
			return nil, fmt.Errorf("decode %s: %w", fieldActive, err)
		}
	}
	if r.Version, err = parseInt(vals, fieldVersion); err != nil {
		return nil, err
	}
	initial, err := parseInt(vals, fieldInitialTime)
	if err != nil {
		return nil, err
	}
	r.InitialTime = time.Duration(initial) * time.Millisecond
	created, err := parseInt(vals, fieldCreatedAt)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = time.UnixMilli(created)

	for _, seat := range models.AllSeats {
		if v := vals[seatField(seat)]; v != "" {
			r.Seats[seat] = v
		}
		if v := vals[liveField(seat)]; v != "" {
			r.Live[seat] = v
		}

		remaining, err := parseInt(vals, remainingField(seat))
		if err != nil {
			return nil, err
		}
		clock := models.Clock{Remaining: time.Duration(remaining) * time.Millisecond}
		if raw := vals[lastTimestampField(seat)]; raw != "" {
			ms, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", lastTimestampField(seat), err)
			}
			ts := time.UnixMilli(ms)
			clock.LastTimestamp = &ts
		}
		r.Clocks[seat] = clock
	}

	return r, nil
}

func parseInt(vals map[string]string, field string) (int64, error) {
	raw := vals[field]
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", field, err)
	}
	return n, nil
}

// diffFields returns the fields of after whose values differ from before.
func diffFields(before, after map[string]string) map[string]interface{} {
	changed := make(map[string]interface{})
	for k, v := range after {
		if old, ok := before[k]; !ok || old != v {
			changed[k] = v
		}
	}
	return changed
}

func toArgs(fields map[string]string) map[string]interface{} {
	args := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		args[k] = v
	}
	return args
}
