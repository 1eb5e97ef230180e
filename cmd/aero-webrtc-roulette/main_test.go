package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/client"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/matchmaking"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/protocol"
)

type runningServer struct {
	baseURL string
	cancel  context.CancelFunc
	errCh   chan error
}

func startRun(t *testing.T) *runningServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cfg := config.Config{
		ListenAddr:      ln.Addr().String(),
		ShutdownTimeout: 2 * time.Second,
		ICEServers:      config.DefaultICEServers(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, logger, ln, httpserver.BuildInfo{Commit: "test"})
	}()
	t.Cleanup(cancel)
	return &runningServer{baseURL: "http://" + ln.Addr().String(), cancel: cancel, errCh: errCh}
}

func (s *runningServer) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-s.errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return")
		return nil
	}
}

func TestRun_ServesStatusAndMetrics(t *testing.T) {
	s := startRun(t)

	resp, err := http.Get(s.baseURL + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	var st protocol.Status
	err = json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.WaitingUsers != 0 || st.ActiveConnections != 0 || st.TotalRooms != 0 {
		t.Fatalf("status=%+v, want zero counts", st)
	}

	resp, err = http.Get(s.baseURL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "aero_webrtc_roulette_events_total") {
		t.Fatalf("metrics status=%d body=%s", resp.StatusCode, body)
	}

	s.cancel()
	if err := s.wait(t); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRun_ShutdownNotifiesPairedParticipants(t *testing.T) {
	s := startRun(t)
	wsURL := "ws" + strings.TrimPrefix(s.baseURL, "http") + "/socket"

	type participant struct {
		c     *client.Client
		found chan struct{}
		chat  chan protocol.ChatMessage
	}
	dial := func() *participant {
		p := &participant{found: make(chan struct{}, 1), chat: make(chan protocol.ChatMessage, 4)}
		c, err := client.Dial(context.Background(), wsURL, client.Options{
			Handlers: client.Handlers{
				OnPeerFound:   func(protocol.PeerFound) { p.found <- struct{}{} },
				OnChatMessage: func(m protocol.ChatMessage) { p.chat <- m },
			},
		})
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		t.Cleanup(func() { _ = c.Close() })
		p.c = c
		return p
	}

	a, b := dial(), dial()
	if err := a.c.FindPeer(); err != nil {
		t.Fatalf("FindPeer: %v", err)
	}
	if err := b.c.FindPeer(); err != nil {
		t.Fatalf("FindPeer: %v", err)
	}
	for _, p := range []*participant{a, b} {
		select {
		case <-p.found:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for peer-found")
		}
	}

	s.cancel()

	for _, p := range []*participant{a, b} {
		select {
		case m := <-p.chat:
			if m.Text != matchmaking.ShutdownNotice || m.Type != "system" {
				t.Fatalf("chat=%+v, want system shutdown notice", m)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for shutdown notice")
		}
		select {
		case <-p.c.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("participant socket not closed")
		}
		if !websocket.IsCloseError(p.c.Err(), websocket.CloseGoingAway) {
			t.Fatalf("close err=%v, want 1001", p.c.Err())
		}
	}

	if err := s.wait(t); err != nil {
		t.Fatalf("run: %v", err)
	}
}
