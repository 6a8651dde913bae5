// Package integration verifies the relay end to end: real HTTP server, real
// WebSocket connections, full join/broadcast/disconnect flows.
package integration

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillpad/collab-relay/internal/relay"
)

func startRelay(t *testing.T) (wsURL, origin string, hub *relay.Hub) {
	t.Helper()

	hub = relay.NewHub(nil)
	go hub.Run()
	t.Cleanup(func() { _ = hub.Shutdown(2 * time.Second) })

	cfg := relay.DefaultConfig()
	cfg.AllowedOrigins = []string{"*"}
	gateway := relay.NewGateway(hub, cfg)

	server := httptest.NewServer(relay.SetupRoutes(gateway, nil))
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/ws"
	return u.String(), server.URL, hub
}

func dial(t *testing.T, wsURL, origin string) *websocket.Conn {
	t.Helper()
	header := map[string][]string{"Origin": {origin}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err, "websocket dial")
	t.Cleanup(func() {
		_ = conn.Close()
		_ = resp.Body.Close()
	})
	return conn
}

func send(t *testing.T, conn *websocket.Conn, env relay.Envelope) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(env))
}

func joinRoom(t *testing.T, conn *websocket.Conn, doc string) {
	t.Helper()
	send(t, conn, relay.Envelope{Event: relay.EventJoinRoom, DocumentID: doc})
}

func readEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) relay.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	var env relay.Envelope
	require.NoError(t, conn.ReadJSON(&env), "expected a frame")
	return env
}

func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected no message, but received one")
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	t.Fatalf("unexpected error while waiting for silence: %v", err)
}

func waitForRooms(t *testing.T, hub *relay.Hub, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		rooms, _ := hub.Stats()
		return rooms == want
	}, 2*time.Second, 5*time.Millisecond)
}

func waitForSessions(t *testing.T, hub *relay.Hub, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, sessions := hub.Stats()
		return sessions == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDeltaFanOutWithEchoSuppression(t *testing.T) {
	wsURL, origin, hub := startRelay(t)

	b := dial(t, wsURL, origin)
	joinRoom(t, b, "doc-42")
	waitForRooms(t, hub, 1)

	a := dial(t, wsURL, origin)
	joinRoom(t, a, "doc-42")
	send(t, a, relay.Envelope{
		Event:      relay.EventSendDelta,
		DocumentID: "doc-42",
		Delta:      json.RawMessage(`{"op":"insert","pos":5,"text":"hi"}`),
	})

	env := readEnvelope(t, b, 2*time.Second)
	assert.Equal(t, relay.EventReceiveDelta, env.Event)
	assert.Equal(t, "doc-42", env.DocumentID)
	assert.JSONEq(t, `{"op":"insert","pos":5,"text":"hi"}`, string(env.Delta))

	expectNoMessage(t, a, 200*time.Millisecond)
}

func TestRoomIsolation(t *testing.T) {
	wsURL, origin, hub := startRelay(t)

	a := dial(t, wsURL, origin)
	joinRoom(t, a, "doc-1")
	waitForRooms(t, hub, 1)

	b := dial(t, wsURL, origin)
	joinRoom(t, b, "doc-2")
	waitForRooms(t, hub, 2)

	send(t, a, relay.Envelope{
		Event:      relay.EventSendDelta,
		DocumentID: "doc-1",
		Delta:      json.RawMessage(`{"op":"insert","pos":0,"text":"private"}`),
	})

	expectNoMessage(t, b, 200*time.Millisecond)
}

func TestBroadcastAfterMemberDisconnect(t *testing.T) {
	wsURL, origin, hub := startRelay(t)

	b := dial(t, wsURL, origin)
	joinRoom(t, b, "doc-9")
	waitForRooms(t, hub, 1)

	a := dial(t, wsURL, origin)
	joinRoom(t, a, "doc-9")
	send(t, a, relay.Envelope{
		Event:      relay.EventSendDelta,
		DocumentID: "doc-9",
		Delta:      json.RawMessage(`{"op":"insert","pos":0,"text":"from-a"}`),
	})
	readEnvelope(t, b, 2*time.Second) // confirms a is in the room

	c := dial(t, wsURL, origin)
	joinRoom(t, c, "doc-9")
	send(t, c, relay.Envelope{
		Event:      relay.EventSendDelta,
		DocumentID: "doc-9",
		Delta:      json.RawMessage(`{"op":"insert","pos":0,"text":"warmup"}`),
	})
	readEnvelope(t, b, 2*time.Second) // confirms c is in the room
	readEnvelope(t, a, 2*time.Second)

	require.NoError(t, a.Close())
	waitForSessions(t, hub, 2)

	// Publishing to a room with a departed member reaches the live ones and
	// surfaces no error to the sender.
	send(t, c, relay.Envelope{
		Event:      relay.EventSendDelta,
		DocumentID: "doc-9",
		Delta:      json.RawMessage(`{"op":"delete","pos":3,"len":1}`),
	})

	env := readEnvelope(t, b, 2*time.Second)
	assert.JSONEq(t, `{"op":"delete","pos":3,"len":1}`, string(env.Delta))
	expectNoMessage(t, c, 200*time.Millisecond)
}

func TestCursorFanOut(t *testing.T) {
	wsURL, origin, hub := startRelay(t)

	b := dial(t, wsURL, origin)
	joinRoom(t, b, "doc-7")
	waitForRooms(t, hub, 1)

	a := dial(t, wsURL, origin)
	joinRoom(t, a, "doc-7")
	send(t, a, relay.Envelope{
		Event:      relay.EventSendCursor,
		DocumentID: "doc-7",
		Range:      json.RawMessage(`{"index":12,"length":3}`),
		CursorID:   "cursor-a",
	})

	env := readEnvelope(t, b, 2*time.Second)
	assert.Equal(t, relay.EventReceiveCursor, env.Event)
	assert.Equal(t, "doc-7", env.DocumentID)
	assert.Equal(t, "cursor-a", env.CursorID)
	assert.JSONEq(t, `{"index":12,"length":3}`, string(env.Range))
}

func TestLeaveRoomStopsDelivery(t *testing.T) {
	wsURL, origin, hub := startRelay(t)

	b := dial(t, wsURL, origin)
	joinRoom(t, b, "doc-3")
	waitForRooms(t, hub, 1)

	a := dial(t, wsURL, origin)
	joinRoom(t, a, "doc-3")
	send(t, a, relay.Envelope{
		Event:      relay.EventSendDelta,
		DocumentID: "doc-3",
		Delta:      json.RawMessage(`{"op":"insert","pos":0,"text":"one"}`),
	})
	readEnvelope(t, b, 2*time.Second)

	send(t, b, relay.Envelope{Event: relay.EventLeaveRoom, DocumentID: "doc-3"})
	send(t, b, relay.Envelope{Event: relay.EventJoinRoom, DocumentID: "doc-parking"})
	waitForRooms(t, hub, 2) // doc-3 (a) and doc-parking (b): leave was processed

	send(t, a, relay.Envelope{
		Event:      relay.EventSendDelta,
		DocumentID: "doc-3",
		Delta:      json.RawMessage(`{"op":"insert","pos":3,"text":"two"}`),
	})
	expectNoMessage(t, b, 200*time.Millisecond)
}

func TestMalformedFramesAreDroppedNotFatal(t *testing.T) {
	wsURL, origin, hub := startRelay(t)

	b := dial(t, wsURL, origin)
	joinRoom(t, b, "doc-5")
	waitForRooms(t, hub, 1)

	a := dial(t, wsURL, origin)
	joinRoom(t, a, "doc-5")

	// Garbage, an unknown tag, and a frame without a document id: all
	// dropped, none of them close the connection.
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"event":"mystery","documentId":"doc-5"}`)))
	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"event":"send-delta"}`)))

	send(t, a, relay.Envelope{
		Event:      relay.EventSendDelta,
		DocumentID: "doc-5",
		Delta:      json.RawMessage(`{"op":"insert","pos":0,"text":"still alive"}`),
	})

	env := readEnvelope(t, b, 2*time.Second)
	assert.JSONEq(t, `{"op":"insert","pos":0,"text":"still alive"}`, string(env.Delta))
}

func TestStatsEndpoint(t *testing.T) {
	wsURL, origin, hub := startRelay(t)

	a := dial(t, wsURL, origin)
	joinRoom(t, a, "doc-1")
	waitForRooms(t, hub, 1)

	rooms, sessions := hub.Stats()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, 1, sessions)
}

func TestNonWebSocketRequestRejected(t *testing.T) {
	wsURL, _, _ := startRelay(t)

	httpURL, err := url.Parse(wsURL)
	require.NoError(t, err)
	httpURL.Scheme = "http"

	resp, err := http.Post(httpURL.String(), "application/json", nil)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(httpURL.String())
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
