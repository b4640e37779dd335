package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/blitz/go/internal/auth"
	"github.com/mcdev12/blitz/go/internal/models"
	"github.com/mcdev12/blitz/go/internal/move"
	"github.com/mcdev12/blitz/go/internal/relay"
	"github.com/mcdev12/blitz/go/internal/room"
	"github.com/mcdev12/blitz/go/internal/rules"
	"github.com/mcdev12/blitz/go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type idleScheduler struct{}

func (idleScheduler) ArmFrom(room *models.Room) {}
func (idleScheduler) Cancel(roomID string)      {}

type gatewayFixture struct {
	server   *httptest.Server
	verifier *auth.Verifier
	store    *store.Store
	service  *Service
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())

	st := store.New(client, store.Config{Prefix: "test:"})
	bus, err := relay.NewRedisBus(ctx, client, "test:", "control")
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(t0)
	publisher := relay.NewPublisher(bus, clock.Now)
	oracle := rules.NewChess()
	rooms := room.NewApp(st, oracle, idleScheduler{}, publisher, clock, room.Config{})
	moves := move.NewApp(st, oracle, idleScheduler{}, publisher, clock)

	verifier, err := auth.NewVerifier(testSecret, "")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.InstanceID = "gw-test"
	svc := NewService(cfg, Deps{
		Rooms:    rooms,
		Moves:    moves,
		Verifier: verifier,
		Bus:      bus,
		Store:    st,
		Clock:    clock,
	})

	mux := http.NewServeMux()
	svc.RegisterRoutes(mux)
	server := httptest.NewServer(mux)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = svc.Start(ctx)
	}()

	t.Cleanup(func() {
		server.Close()
		cancel()
		<-stopped
		rooms.Janitor().Stop()
	})

	return &gatewayFixture{server: server, verifier: verifier, store: st, service: svc}
}

func (f *gatewayFixture) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	token, err := f.verifier.Issue(user, user, time.Hour, time.Now())
	require.NoError(t, err)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

// readUntil reads frames until one named event arrives and decodes its data.
func readUntil(t *testing.T, conn *websocket.Conn, event string, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %s", event)
		if f.Event == event {
			if v != nil {
				require.NoError(t, json.Unmarshal(f.Data, v))
			}
			return
		}
		require.NotEqual(t, EventError, f.Event, "unexpected error frame: %s", string(f.Data))
	}
}

func TestUpgradeRequiresToken(t *testing.T) {
	f := newGatewayFixture(t)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	f := newGatewayFixture(t)

	resp, err := http.Get(f.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "gw-test", body.InstanceID)
}

func TestMatchOverWebSocket(t *testing.T) {
	f := newGatewayFixture(t)

	alice := f.dial(t, "alice")
	send(t, alice, EventCreateRoom, map[string]any{
		"opponentUsername": "bob",
		"preference":       "w",
		"time":             300000,
	})

	var created RoomCreatedMessage
	readUntil(t, alice, EventRoomCreated, &created)
	require.True(t, created.Success)
	require.NotEmpty(t, created.RoomID)
	assert.Equal(t, "w", created.UserRole)
	assert.Equal(t, "b", created.OpponentRole)

	bob := f.dial(t, "bob")
	// String-encoded data is accepted as well.
	send(t, bob, EventJoinRoom, `{"roomId":"`+created.RoomID+`"}`)

	var joined JoinedRoomMessage
	readUntil(t, bob, EventJoinedRoom, &joined)
	assert.Equal(t, startFEN, joined.Fen)
	assert.True(t, joined.GameState)
	assert.Equal(t, "b", joined.Roll)

	var start GameStartMessage
	readUntil(t, alice, EventGameStart, &start)
	assert.Equal(t, GameStartMessage{Fen: startFEN, White: "alice", Black: "bob"}, start)

	var clocks ClockUpdateMessage
	readUntil(t, alice, EventClockUpdate, &clocks)
	assert.Equal(t, ClockUpdateMessage{W: 300000, B: 300000}, clocks)

	// Moving out of turn is reported to the sender only.
	send(t, bob, EventSubmitMove, map[string]any{
		"roomId":       created.RoomID,
		"move":         map[string]string{"from": "e7", "to": "e5"},
		"claimedFrom":  startFEN,
		"claimedAfter": startFEN,
	})
	var rejected ErrorMessage
	readUntil(t, bob, EventError, &rejected)
	assert.Equal(t, "NotYourTurn", rejected.Code)

	// Legacy move shape, room taken from the connection.
	send(t, alice, EventSendMessage, map[string]any{
		"message": map[string]string{
			"from":   "g1",
			"to":     "f3",
			"before": startFEN,
			"after":  afterNf3FEN,
		},
	})

	var relayed ReceiveMessageMessage
	readUntil(t, bob, EventReceiveMessage, &relayed)
	assert.Equal(t, "alice", relayed.Sender)
	assert.Equal(t, LegacyMessage{From: "g1", To: "f3", Before: startFEN, After: afterNf3FEN}, relayed.Message)

	stored, err := f.store.Get(context.Background(), created.RoomID)
	require.NoError(t, err)
	assert.Equal(t, afterNf3FEN, stored.Position)
	assert.Equal(t, models.SeatB, stored.ActiveSeat)

	// Alice drops; bob is told.
	require.NoError(t, alice.Close())
	var left LeftRoomMessage
	readUntil(t, bob, EventLeftRoom, &left)
	assert.Equal(t, LeftRoomMessage{Action: "disconnected", Username: "alice"}, left)

	require.Eventually(t, func() bool {
		r, err := f.store.Get(context.Background(), created.RoomID)
		return err == nil && !r.IsLive(models.SeatA) && r.IsLive(models.SeatB)
	}, 3*time.Second, 20*time.Millisecond)
}

func TestMalformedFrameGetsErrorReply(t *testing.T) {
	f := newGatewayFixture(t)
	alice := f.dial(t, "alice")

	send(t, alice, EventJoinRoom, 42)
	var msg ErrorMessage
	readUntil(t, alice, EventError, &msg)
	assert.Equal(t, "MalformedPayload", msg.Code)

	send(t, alice, EventJoinRoom, map[string]string{"roomId": "missing1"})
	readUntil(t, alice, EventError, &msg)
	assert.Equal(t, "RoomNotFound", msg.Code)
}
