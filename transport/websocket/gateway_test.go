package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/mcp-training/chesslive/game/service"
	"github.com/wricardo/mcp-training/chesslive/game/session"
)

// received is the client-side view of an outbound Message.
type received struct {
	Event     string          `json:"event"`
	SessionID string          `json:"session_id"`
	Data      json.RawMessage `json:"data"`
}

type testServer struct {
	*httptest.Server
	hub *Hub
	svc service.GameService
}

// sequentialIDs hands out ids in order, one per accepted connection.
func sequentialIDs(ids ...string) func() string {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func newTestServer(t *testing.T, opts ...GatewayOption) *testServer {
	t.Helper()
	hub := NewHub(nil)
	svc := service.NewGameService(session.NewManager(), hub)
	gw := NewGateway(hub, svc, nil, opts...)

	server := httptest.NewServer(http.HandlerFunc(gw.ServeWS))
	t.Cleanup(server.Close)
	return &testServer{Server: server, hub: hub, svc: svc}
}

func (s *testServer) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, in Inbound) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(in))
}

func readMsg(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func readEvent(t *testing.T, conn *websocket.Conn, event string) received {
	t.Helper()
	msg := readMsg(t, conn)
	require.Equal(t, event, msg.Event, "data: %s", msg.Data)
	return msg
}

func readSnapshot(t *testing.T, conn *websocket.Conn) session.Snapshot {
	t.Helper()
	msg := readEvent(t, conn, service.EventGameState)
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(msg.Data, &snap))
	return snap
}

func readError(t *testing.T, conn *websocket.Conn) service.ErrorPayload {
	t.Helper()
	msg := readEvent(t, conn, service.EventError)
	var payload service.ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Data, &payload))
	return payload
}

func movesOf(snap session.Snapshot) []string {
	out := make([]string, len(snap.Moves))
	for i, m := range snap.Moves {
		var s string
		_ = json.Unmarshal(m, &s)
		out[i] = s
	}
	return out
}

func TestGatewayJoinAndRelay(t *testing.T) {
	srv := newTestServer(t, WithIDGenerator(sequentialIDs("A", "B", "C")))

	a := srv.dial(t, "")
	send(t, a, Inbound{Event: ActionJoinGame, SessionID: "g1"})
	snap := readSnapshot(t, a)
	assert.Equal(t, []string{"A"}, snap.ConnectionIDs())

	b := srv.dial(t, "")
	send(t, b, Inbound{Event: ActionJoin, SessionID: "g1"})
	assert.Equal(t, []string{"A", "B"}, readSnapshot(t, a).ConnectionIDs())
	assert.Equal(t, []string{"A", "B"}, readSnapshot(t, b).ConnectionIDs())

	send(t, a, Inbound{Event: ActionMove, SessionID: "g1", Move: json.RawMessage(`"e2e4"`)})
	for _, conn := range []*websocket.Conn{a, b} {
		msg := readEvent(t, conn, service.EventMove)
		assert.Equal(t, "g1", msg.SessionID)
		assert.JSONEq(t, `"e2e4"`, string(msg.Data))
	}

	send(t, b, Inbound{Event: ActionMove, SessionID: "g1", Move: json.RawMessage(`"e7e5"`)})
	for _, conn := range []*websocket.Conn{a, b} {
		assert.JSONEq(t, `"e7e5"`, string(readEvent(t, conn, service.EventMove).Data))
	}

	c := srv.dial(t, "")
	send(t, c, Inbound{Event: ActionJoinGame, SessionID: "g1"})
	snap = readSnapshot(t, c)
	assert.Equal(t, []string{"e2e4", "e7e5"}, movesOf(snap))
	assert.Equal(t, []string{"A", "B", "C"}, snap.ConnectionIDs())

	assert.Equal(t, 3, srv.hub.SubscriberCount("g1"))
}

func TestGatewayMoveToUnknownSession(t *testing.T) {
	srv := newTestServer(t)

	conn := srv.dial(t, "")
	send(t, conn, Inbound{Event: ActionMove, SessionID: "ghost", Move: json.RawMessage(`"e2e4"`)})

	payload := readError(t, conn)
	assert.Equal(t, service.CodeSessionNotFound, payload.Code)

	_, err := srv.svc.GetSession(context.Background(), "ghost")
	assert.ErrorIs(t, err, session.ErrSessionNotFound, "a failed move must not create the session")
}

func TestGatewayQueryJoinAndGameIDAlias(t *testing.T) {
	srv := newTestServer(t, WithIDGenerator(sequentialIDs("A", "B")))

	a := srv.dial(t, "?session_id=g1")
	assert.Equal(t, []string{"A"}, readSnapshot(t, a).ConnectionIDs())

	b := srv.dial(t, "")
	send(t, b, Inbound{Event: ActionJoinGame, GameID: "g1"})
	readSnapshot(t, a)
	readSnapshot(t, b)

	// Move without a session id goes to the current session.
	send(t, b, Inbound{Event: ActionMove, Move: json.RawMessage(`{"from":"e7","to":"e5"}`)})
	assert.JSONEq(t, `{"from":"e7","to":"e5"}`, string(readEvent(t, a, service.EventMove).Data))
}

func TestGatewayInvalidMessages(t *testing.T) {
	srv := newTestServer(t)
	conn := srv.dial(t, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, service.CodeInvalidRequest, readError(t, conn).Code)

	send(t, conn, Inbound{Event: "resign", SessionID: "g1"})
	assert.Equal(t, service.CodeInvalidRequest, readError(t, conn).Code)

	send(t, conn, Inbound{Event: ActionJoin})
	assert.Equal(t, service.CodeInvalidRequest, readError(t, conn).Code)

	send(t, conn, Inbound{Event: ActionJoin, SessionID: "g1"})
	readSnapshot(t, conn)
	send(t, conn, Inbound{Event: ActionMove, SessionID: "g1"})
	assert.Equal(t, service.CodeInvalidRequest, readError(t, conn).Code)
}

func TestGatewayDisconnectIsolation(t *testing.T) {
	srv := newTestServer(t, WithIDGenerator(sequentialIDs("A", "B")))

	a := srv.dial(t, "?session_id=g1")
	readSnapshot(t, a)
	b := srv.dial(t, "?session_id=g1")
	readSnapshot(t, a)
	readSnapshot(t, b)

	require.NoError(t, a.Close())

	msg := readEvent(t, b, service.EventParticipantLeft)
	var left session.Participant
	require.NoError(t, json.Unmarshal(msg.Data, &left))
	assert.Equal(t, "A", left.ConnectionID)
	assert.False(t, left.Active)

	send(t, b, Inbound{Event: ActionMove, SessionID: "g1", Move: json.RawMessage(`"e2e4"`)})
	assert.JSONEq(t, `"e2e4"`, string(readEvent(t, b, service.EventMove).Data))

	info, err := srv.svc.GetSession(context.Background(), "g1")
	require.NoError(t, err)
	assert.Len(t, info.Participants, 2)
	assert.Equal(t, 1, info.Subscribers)
}

func TestGatewaySwitchSession(t *testing.T) {
	srv := newTestServer(t, WithIDGenerator(sequentialIDs("A", "B")))

	a := srv.dial(t, "?session_id=g1")
	readSnapshot(t, a)
	b := srv.dial(t, "?session_id=g1")
	readSnapshot(t, a)
	readSnapshot(t, b)

	send(t, a, Inbound{Event: ActionJoin, SessionID: "g2"})
	readEvent(t, b, service.EventParticipantLeft)
	assert.Equal(t, "g2", readSnapshot(t, a).ID)

	assert.Equal(t, 1, srv.hub.SubscriberCount("g1"))
	assert.Equal(t, 1, srv.hub.SubscriberCount("g2"))

	send(t, b, Inbound{Event: ActionLeave})
	require.Eventually(t, func() bool {
		return srv.hub.SubscriberCount("g1") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGatewayQueryJoinOrderedWithInbound(t *testing.T) {
	srv := newTestServer(t, WithIDGenerator(sequentialIDs("A")))

	// The join event is written before the query join's gameState is read.
	a := srv.dial(t, "?session_id=g1")
	send(t, a, Inbound{Event: ActionJoin, SessionID: "g2"})

	assert.Equal(t, "g1", readSnapshot(t, a).ID)
	assert.Equal(t, "g2", readSnapshot(t, a).ID)

	assert.Equal(t, 0, srv.hub.SubscriberCount("g1"))
	assert.Equal(t, 1, srv.hub.SubscriberCount("g2"))

	info, err := srv.svc.GetSession(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, info.Participants, 1)
	assert.False(t, info.Participants[0].Active)
}

func TestGatewayQueryJoinThenImmediateClose(t *testing.T) {
	srv := newTestServer(t)

	for i := 0; i < 20; i++ {
		conn := srv.dial(t, "?session_id=g1")
		require.NoError(t, conn.Close())
	}

	require.Eventually(t, func() bool {
		return srv.hub.SubscriberCount("g1") == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		info, err := srv.svc.GetSession(context.Background(), "g1")
		if err != nil {
			return true
		}
		for _, p := range info.Participants {
			if p.Active {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGatewayRateLimit(t *testing.T) {
	srv := newTestServer(t, WithInboundRate(0.001, 1))
	conn := srv.dial(t, "")

	send(t, conn, Inbound{Event: ActionJoin, SessionID: "g1"})
	readSnapshot(t, conn)

	send(t, conn, Inbound{Event: ActionMove, SessionID: "g1", Move: json.RawMessage(`"e2e4"`)})
	assert.Equal(t, service.CodeRateLimited, readError(t, conn).Code)

	info, err := srv.svc.GetSession(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, 0, info.MoveCount)
}

func TestGatewayShutdownClosesConnections(t *testing.T) {
	hub := NewHub(nil)
	svc := service.NewGameService(session.NewManager(), hub)
	gw := NewGateway(hub, svc, nil)
	server := httptest.NewServer(http.HandlerFunc(gw.ServeWS))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?session_id=g1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	readSnapshot(t, conn)
	require.Equal(t, 1, gw.ClientCount())

	gw.Shutdown()

	assert.Equal(t, 0, gw.ClientCount())
	assert.Equal(t, 0, hub.SubscriberCount("g1"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}
