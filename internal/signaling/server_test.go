package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/matchmaking"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/protocol"
)

type testEnv struct {
	srv     *Server
	hub     *matchmaking.Hub
	metrics *metrics.Metrics
	ts      *httptest.Server
	stopHub context.CancelFunc
}

func startServer(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	m := metrics.New()
	hub := matchmaking.NewHub(matchmaking.NewService(matchmaking.Options{Metrics: m}), 0)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	cfg.Hub = hub
	cfg.Metrics = m
	srv := NewServer(cfg)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)

	t.Cleanup(func() {
		cancel()
		<-hub.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
		ts.Close()
	})
	return &testEnv{srv: srv, hub: hub, metrics: m, ts: ts, stopHub: cancel}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/socket"
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(e.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (e *testEnv) status(t *testing.T) protocol.Status {
	t.Helper()
	resp, err := http.Get(e.ts.URL + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code=%d, want %d", resp.StatusCode, http.StatusOK)
	}
	var st protocol.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return st
}

func send(t *testing.T, c *websocket.Conn, ev protocol.Event, data any) {
	t.Helper()
	env, err := protocol.NewEnvelope(ev, data)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if err := c.WriteJSON(env); err != nil {
		t.Fatalf("write %s: %v", ev, err)
	}
}

func recv(t *testing.T, c *websocket.Conn) protocol.Envelope {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		t.Fatalf("parse %q: %v", data, err)
	}
	return env
}

func recvEvent(t *testing.T, c *websocket.Conn, want protocol.Event, v any) {
	t.Helper()
	env := recv(t, c)
	if env.Event != want {
		t.Fatalf("event=%q, want %q (data=%s)", env.Event, want, env.Data)
	}
	if v != nil {
		if err := env.Decode(v); err != nil {
			t.Fatalf("decode %s: %v", want, err)
		}
	}
}

func expectClose(t *testing.T, c *websocket.Conn, code int) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := c.ReadMessage()
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, code) {
			t.Fatalf("read err=%v, want close code %d", err, code)
		}
		return
	}
}

func TestSocket_PairRelayChatAndDisconnect(t *testing.T) {
	req := require.New(t)
	env := startServer(t, Config{})
	a, b := env.dial(t), env.dial(t)

	// Given a is waiting
	send(t, a, protocol.EventFindPeer, nil)
	recvEvent(t, a, protocol.EventWaitingForPeer, nil)
	req.Equal(1, env.status(t).WaitingUsers)

	// When b looks for a peer
	send(t, b, protocol.EventFindPeer, nil)

	// Then both are paired in the same room with b as initiator
	var foundA, foundB protocol.PeerFound
	recvEvent(t, b, protocol.EventPeerFound, &foundB)
	recvEvent(t, a, protocol.EventPeerFound, &foundA)
	req.True(foundB.Initiator)
	req.False(foundA.Initiator)
	req.Equal("room_1", foundA.RoomID)
	req.Equal(foundA.RoomID, foundB.RoomID)
	req.NotNil(foundA.ChatHistory)
	req.Empty(foundA.ChatHistory)
	aID, bID := foundB.PeerID, foundA.PeerID

	st := env.status(t)
	req.Equal(0, st.WaitingUsers)
	req.Equal(2, st.ActiveConnections)
	req.Equal(1, st.TotalRooms)

	// Signals are relayed verbatim with the sender's id
	offer := json.RawMessage(`{"offer":{"type":"offer","sdp":"v=0\r\n"}}`)
	send(t, b, protocol.EventSignal, protocol.SignalPayload{Signal: offer})
	var relayed protocol.SignalPayload
	recvEvent(t, a, protocol.EventSignal, &relayed)
	req.Equal(bID, relayed.From)
	req.JSONEq(string(offer), string(relayed.Signal))

	// Chat reaches both participants
	send(t, a, protocol.EventSendMessage, protocol.SendMessage{Text: "hello", Type: "system"})
	var gotA, gotB protocol.ChatMessage
	recvEvent(t, a, protocol.EventReceiveMessage, &gotA)
	recvEvent(t, b, protocol.EventReceiveMessage, &gotB)
	req.Equal(gotA, gotB)
	req.Equal(aID, gotA.From)
	req.Equal("hello", gotA.Text)
	req.Equal("text", gotA.Type)

	// When b's transport drops
	req.NoError(b.Close())

	// Then a is told and the registry is empty
	recvEvent(t, a, protocol.EventPeerDisconnected, nil)
	req.Eventually(func() bool {
		st := env.status(t)
		return st.ActiveConnections == 0 && st.TotalRooms == 0 && st.WaitingUsers == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSocket_ExplicitLeaveKeepsSocketOpen(t *testing.T) {
	req := require.New(t)
	env := startServer(t, Config{})
	a, b := env.dial(t), env.dial(t)

	send(t, a, protocol.EventFindPeer, nil)
	recvEvent(t, a, protocol.EventWaitingForPeer, nil)
	send(t, b, protocol.EventFindPeer, nil)
	recvEvent(t, a, protocol.EventPeerFound, nil)
	recvEvent(t, b, protocol.EventPeerFound, nil)

	send(t, a, protocol.EventDisconnectPeer, nil)
	recvEvent(t, b, protocol.EventPeerDisconnected, nil)

	// a can search again on the same socket
	send(t, a, protocol.EventFindPeer, nil)
	recvEvent(t, a, protocol.EventWaitingForPeer, nil)
	req.Equal(1, env.status(t).WaitingUsers)
}

func TestSocket_BadMessagesReportErrorAndStayOpen(t *testing.T) {
	req := require.New(t)
	env := startServer(t, Config{MaxChatMessageBytes: 8})
	a := env.dial(t)

	cases := []struct {
		raw  string
		code string
	}{
		{raw: `not json`, code: ErrorCodeBadMessage},
		{raw: `{"event":"find-peer","extra":1}`, code: ErrorCodeBadMessage},
		{raw: `{"event":"teleport"}`, code: ErrorCodeUnknownEvent},
		{raw: `{"event":"signal"}`, code: ErrorCodeInvalidSignal},
		{raw: `{"event":"signal","data":{"signal":null}}`, code: ErrorCodeInvalidSignal},
		{raw: `{"event":"send-message","data":{"text":"   "}}`, code: ErrorCodeInvalidChat},
		{raw: `{"event":"send-message","data":{"text":"far too long"}}`, code: ErrorCodeInvalidChat},
	}
	for _, tc := range cases {
		req.NoError(a.WriteMessage(websocket.TextMessage, []byte(tc.raw)))
		var payload protocol.ErrorPayload
		recvEvent(t, a, protocol.EventError, &payload)
		req.Equal(tc.code, payload.Code, tc.raw)
	}

	send(t, a, protocol.EventFindPeer, nil)
	recvEvent(t, a, protocol.EventWaitingForPeer, nil)
	req.EqualValues(len(cases), env.metrics.Get(metrics.InvalidMessage))
}

func TestSocket_StaleSignalIsDroppedSilently(t *testing.T) {
	req := require.New(t)
	env := startServer(t, Config{})
	a := env.dial(t)

	send(t, a, protocol.EventSignal, protocol.SignalPayload{Signal: json.RawMessage(`{"answer":{"type":"answer","sdp":"x"}}`)})
	send(t, a, protocol.EventFindPeer, nil)
	// The first thing a sees is the response to find-peer.
	recvEvent(t, a, protocol.EventWaitingForPeer, nil)
	req.EqualValues(1, env.metrics.Get(metrics.SignalDroppedStale))
}

func TestSocket_OversizeMessageClosesWith1009(t *testing.T) {
	env := startServer(t, Config{MaxMessageBytes: 128, MaxChatMessageBytes: 64})
	a := env.dial(t)

	big := `{"event":"send-message","data":{"text":"` + strings.Repeat("x", 1024) + `"}}`
	if err := a.WriteMessage(websocket.TextMessage, []byte(big)); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectClose(t, a, websocket.CloseMessageTooBig)
	require.Eventually(t, func() bool {
		return env.metrics.Get(metrics.MessageTooLarge) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

type frozenClock struct{ now time.Time }

func (c frozenClock) Now() time.Time { return c.now }

func TestSocket_RateLimitClosesWith1008(t *testing.T) {
	env := startServer(t, Config{MaxMessagesPerSecond: 2, Clock: frozenClock{now: time.Unix(0, 0)}})
	a := env.dial(t)

	for range 3 {
		send(t, a, protocol.EventFindPeer, nil)
	}
	expectClose(t, a, websocket.ClosePolicyViolation)
	require.Eventually(t, func() bool {
		return env.metrics.Get(metrics.RateLimited) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSocket_RejectsDisallowedOrigin(t *testing.T) {
	env := startServer(t, Config{Origin: origin.NewPolicy([]string{"https://app.example.com"})})

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(), header)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp=%v, want 403", resp)
	}

	header.Set("Origin", "https://app.example.com")
	c, _, err := websocket.DefaultDialer.Dial(env.wsURL(), header)
	if err != nil {
		t.Fatalf("dial allowed origin: %v", err)
	}
	_ = c.Close()
}

func TestStatus_CORSHeaders(t *testing.T) {
	env := startServer(t, Config{Origin: origin.NewPolicy([]string{"*"})})

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/status", nil)
	req.Header.Set("Origin", "https://anywhere.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin=%q, want *", got)
	}
}

func TestShutdown_AnnouncesAndClosesWith1001(t *testing.T) {
	req := require.New(t)
	env := startServer(t, Config{})
	a, b := env.dial(t), env.dial(t)

	send(t, a, protocol.EventFindPeer, nil)
	recvEvent(t, a, protocol.EventWaitingForPeer, nil)
	send(t, b, protocol.EventFindPeer, nil)
	recvEvent(t, a, protocol.EventPeerFound, nil)
	recvEvent(t, b, protocol.EventPeerFound, nil)

	env.stopHub()
	<-env.hub.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req.NoError(env.srv.Shutdown(ctx))

	for _, c := range []*websocket.Conn{a, b} {
		var msg protocol.ChatMessage
		recvEvent(t, c, protocol.EventReceiveMessage, &msg)
		req.Equal("system", msg.Type)
		req.Equal(matchmaking.ShutdownNotice, msg.Text)
		expectClose(t, c, websocket.CloseGoingAway)
	}
	req.Zero(env.srv.Connections())

	resp, err := http.Get(env.ts.URL + "/status")
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusServiceUnavailable, resp.StatusCode)
}
