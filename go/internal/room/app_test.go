package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/blitz/go/internal/models"
	"github.com/mcdev12/blitz/go/internal/relay"
	"github.com/mcdev12/blitz/go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.UnixMilli(1_700_000_000_000)

type staticPosition string

func (p staticPosition) InitialPosition() string { return string(p) }

type fakeScheduler struct {
	mu    sync.Mutex
	armed map[string]*models.Room
}

func (s *fakeScheduler) ArmFrom(room *models.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed[room.ID] = room
}

func (s *fakeScheduler) Cancel(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.armed, roomID)
}

func (s *fakeScheduler) isArmed(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.armed[roomID]
	return ok
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*relay.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, events ...*relay.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) types() []relay.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]relay.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

type fixture struct {
	app       *App
	store     *store.Store
	mr        *miniredis.Miniredis
	clock     *clockwork.FakeClock
	scheduler *fakeScheduler
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		store:     store.New(client, store.Config{RoomTTL: time.Hour}),
		mr:        mr,
		clock:     clockwork.NewFakeClockAt(t0),
		scheduler: &fakeScheduler{armed: map[string]*models.Room{}},
		publisher: &recordingPublisher{},
	}
	f.app = NewApp(f.store, staticPosition("start"), f.scheduler, f.publisher, f.clock, Config{VacancyGrace: time.Minute})
	t.Cleanup(f.app.Janitor().Stop)
	return f
}

func (f *fixture) create(t *testing.T, req CreateRoomRequest) *CreateRoomResult {
	t.Helper()
	res, err := f.app.CreateRoom(context.Background(), req)
	require.NoError(t, err)
	return res
}

func TestCreateRoomDefaults(t *testing.T) {
	f := newFixture(t)
	res := f.create(t, CreateRoomRequest{Requestor: "alice", Opponent: "bob", SeatPreference: "w"})

	assert.Len(t, res.Room.ID, 8)
	assert.Equal(t, models.SeatA, res.Seat)
	assert.Equal(t, models.SeatB, res.OpponentSeat)

	got, err := f.app.GetRoom(context.Background(), res.Room.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Seats[models.SeatA])
	assert.Equal(t, "bob", got.Seats[models.SeatB])
	assert.Equal(t, "start", got.Position)
	assert.False(t, got.Active)
	for _, s := range models.AllSeats {
		assert.Equal(t, DefaultInitialTime, got.Clock(s).Remaining)
		assert.Nil(t, got.Clock(s).LastTimestamp)
	}
	assert.Equal(t, time.Hour+10*time.Minute, f.mr.TTL("room:"+res.Room.ID))
}

func TestCreateRoomSelfOpponentLeavesSeatOpen(t *testing.T) {
	f := newFixture(t)
	res := f.create(t, CreateRoomRequest{Requestor: "alice", Opponent: "alice", SeatPreference: "black", InitialTime: time.Minute})

	assert.Equal(t, models.SeatB, res.Seat)
	assert.True(t, res.Room.IsOpen(models.SeatA))
	assert.Equal(t, time.Minute, res.Room.Clock(models.SeatA).Remaining)
}

func TestCreateRoomValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.app.CreateRoom(context.Background(), CreateRoomRequest{})
	assert.ErrorIs(t, err, models.ErrMalformedPayload)

	_, err = f.app.CreateRoom(context.Background(), CreateRoomRequest{Requestor: "alice", SeatPreference: "green"})
	assert.ErrorIs(t, err, models.ErrMalformedPayload)

	_, err = f.app.CreateRoom(context.Background(), CreateRoomRequest{Requestor: "alice", InitialTime: -time.Second})
	assert.ErrorIs(t, err, models.ErrMalformedPayload)
}

func TestCreateRoomRetriesCollisions(t *testing.T) {
	f := newFixture(t)
	ids := []string{"taken001", "taken001", "fresh001"}
	f.app.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	require.NoError(t, f.store.Create(context.Background(), models.NewRoom("taken001", "x", time.Minute, t0)))

	res := f.create(t, CreateRoomRequest{Requestor: "alice"})
	assert.Equal(t, "fresh001", res.Room.ID)
}

func TestCreateRoomGivesUpAfterCollisions(t *testing.T) {
	f := newFixture(t)
	f.app.newID = func() string { return "taken001" }
	require.NoError(t, f.store.Create(context.Background(), models.NewRoom("taken001", "x", time.Minute, t0)))

	_, err := f.app.CreateRoom(context.Background(), CreateRoomRequest{Requestor: "alice"})
	assert.ErrorIs(t, err, models.ErrRoomExists)
}

func TestJoinStartsMatchOnSecondLiveConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.create(t, CreateRoomRequest{Requestor: "alice", SeatPreference: "A"})
	id := res.Room.ID

	first, err := f.app.JoinRoom(ctx, "alice", id, "i1/c1")
	require.NoError(t, err)
	assert.False(t, first.Started)
	assert.Equal(t, models.SeatA, first.Seat)
	assert.Empty(t, f.publisher.types())

	f.clock.Advance(3 * time.Second)
	second, err := f.app.JoinRoom(ctx, "bob", id, "i2/c2")
	require.NoError(t, err)
	assert.True(t, second.Started)
	assert.Equal(t, models.SeatB, second.Seat)

	r := second.Room
	assert.True(t, r.Active)
	assert.Equal(t, models.SeatA, r.ActiveSeat)
	require.NotNil(t, r.Clock(models.SeatA).LastTimestamp)
	assert.Equal(t, t0.Add(3*time.Second), *r.Clock(models.SeatA).LastTimestamp)
	assert.Nil(t, r.Clock(models.SeatB).LastTimestamp)
	assert.Equal(t, "bob", r.Seats[models.SeatB])

	assert.Equal(t, []relay.EventType{relay.EventStarted, relay.EventClockUpdated}, f.publisher.types())
	var clk relay.ClockUpdatedPayload
	require.NoError(t, f.publisher.events[1].Decode(&clk))
	assert.Equal(t, int64(300000), clk.RemainingA)
	assert.Equal(t, int64(300000), clk.RemainingB)
	assert.True(t, f.scheduler.isArmed(id))
}

func TestJoinErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.create(t, CreateRoomRequest{Requestor: "alice", Opponent: "bob", SeatPreference: "A"})
	id := res.Room.ID

	_, err := f.app.JoinRoom(ctx, "alice", "nope", "i1/c1")
	assert.ErrorIs(t, err, models.ErrRoomNotFound)

	_, err = f.app.JoinRoom(ctx, "alice", id, "i1/c1")
	require.NoError(t, err)

	// Same identity from a second connection.
	_, err = f.app.JoinRoom(ctx, "alice", id, "i1/c9")
	assert.ErrorIs(t, err, models.ErrAlreadyJoined)

	// Both seats bound, one live: a stranger is not a participant.
	_, err = f.app.JoinRoom(ctx, "carol", id, "i3/c3")
	assert.ErrorIs(t, err, models.ErrNotAParticipant)

	_, err = f.app.JoinRoom(ctx, "bob", id, "i2/c2")
	require.NoError(t, err)

	// Both seats live: full.
	_, err = f.app.JoinRoom(ctx, "carol", id, "i3/c3")
	assert.ErrorIs(t, err, models.ErrRoomFull)
}

func TestJoinSameClaimIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.create(t, CreateRoomRequest{Requestor: "alice"})

	_, err := f.app.JoinRoom(ctx, "alice", res.Room.ID, "i1/c1")
	require.NoError(t, err)
	_, err = f.app.JoinRoom(ctx, "alice", res.Room.ID, "i1/c1")
	assert.NoError(t, err)
}

func TestConcurrentJoinsForLastSeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.create(t, CreateRoomRequest{Requestor: "alice", SeatPreference: "A"})
	_, err := f.app.JoinRoom(ctx, "alice", res.Room.ID, "i1/c1")
	require.NoError(t, err)

	contenders := []string{"carol", "dave", "erin", "frank"}
	errs := make([]error, len(contenders))
	var wg sync.WaitGroup
	for i, who := range contenders {
		wg.Add(1)
		go func(i int, who string) {
			defer wg.Done()
			_, errs[i] = f.app.JoinRoom(ctx, who, res.Room.ID, "i9/"+who)
		}(i, who)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.True(t, errors.Is(err, models.ErrRoomFull), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, winners)

	got, err := f.app.GetRoom(ctx, res.Room.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.LiveCount())
	assert.Contains(t, contenders, got.Seats[models.SeatB])
}

func TestLeaveAndReconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.create(t, CreateRoomRequest{Requestor: "alice", Opponent: "bob", SeatPreference: "A"})
	id := res.Room.ID

	_, err := f.app.JoinRoom(ctx, "alice", id, "i1/c1")
	require.NoError(t, err)
	_, err = f.app.JoinRoom(ctx, "bob", id, "i2/c2")
	require.NoError(t, err)

	left, err := f.app.LeaveRoom(ctx, id, "i1/c1")
	require.NoError(t, err)
	require.True(t, left.Left)
	assert.Equal(t, models.SeatA, left.Seat)
	assert.Equal(t, "alice", left.Room.Seats[models.SeatA])
	assert.False(t, f.app.Janitor().Pending(id))

	var payload relay.LeftPayload
	last := f.publisher.events[len(f.publisher.events)-1]
	require.Equal(t, relay.EventLeft, last.EventType)
	require.NoError(t, last.Decode(&payload))
	assert.Equal(t, "alice", payload.Username)

	// A stale claim leaving again is a no-op.
	again, err := f.app.LeaveRoom(ctx, id, "i1/c1")
	require.NoError(t, err)
	assert.False(t, again.Left)

	rejoined, err := f.app.JoinRoom(ctx, "alice", id, "i1/c5")
	require.NoError(t, err)
	assert.False(t, rejoined.Started)
	assert.True(t, rejoined.Room.Active)
}

func TestJanitorRemovesVacantRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.create(t, CreateRoomRequest{Requestor: "alice"})
	id := res.Room.ID

	_, err := f.app.JoinRoom(ctx, "alice", id, "i1/c1")
	require.NoError(t, err)
	_, err = f.app.LeaveRoom(ctx, id, "i1/c1")
	require.NoError(t, err)
	require.True(t, f.app.Janitor().Pending(id))

	f.clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		return !f.mr.Exists("room:" + id)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestJanitorSkipsReoccupiedRoom(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.create(t, CreateRoomRequest{Requestor: "alice"})
	id := res.Room.ID

	_, err := f.app.JoinRoom(ctx, "alice", id, "i1/c1")
	require.NoError(t, err)
	_, err = f.app.LeaveRoom(ctx, id, "i1/c1")
	require.NoError(t, err)

	// Reoccupied through another instance, which cannot cancel our timer.
	_, err = f.store.Mutate(ctx, id, func(r *models.Room) error {
		r.Live[models.SeatA] = "i2/c7"
		return nil
	})
	require.NoError(t, err)

	deleted, err := f.store.DeleteIf(ctx, id, vacant)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.True(t, f.mr.Exists("room:"+id))
}
