package webrtcpeer_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v4/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/negotiation"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/protocol"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/webrtcpeer"
)

// relay is one side's view of the signaling server: signals are JSON encoded
// and delivered in order to the partner machine.
type relay struct {
	signals chan json.RawMessage

	mu      sync.Mutex
	partner *negotiation.Machine
	leaves  int
}

func newRelay() *relay {
	return &relay{signals: make(chan json.RawMessage, 256)}
}

func (r *relay) FindPeer() error { return nil }

func (r *relay) SendSignal(s protocol.Signal) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	r.signals <- raw
	return nil
}

func (r *relay) Leave() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaves++
	return nil
}

func (r *relay) leaveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaves
}

func (r *relay) pump(t *testing.T, ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-r.signals:
			s, err := protocol.ParseSignal(raw)
			if err != nil {
				t.Errorf("ParseSignal(%s): %v", raw, err)
				return
			}
			r.mu.Lock()
			partner := r.partner
			r.mu.Unlock()
			_ = partner.Signal(s)
		}
	}
}

func newVNetPair(t *testing.T) (apiA, apiB *webrtc.API) {
	t.Helper()

	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	apiA, err = webrtcpeer.NewAPI(logger, func(se *webrtc.SettingEngine) { se.SetNet(netA) })
	if err != nil {
		t.Fatalf("new api A: %v", err)
	}
	apiB, err = webrtcpeer.NewAPI(logger, func(se *webrtc.SettingEngine) { se.SetNet(netB) })
	if err != nil {
		t.Fatalf("new api B: %v", err)
	}
	return apiA, apiB
}

func waitState(t *testing.T, m *negotiation.Machine, want negotiation.State) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state=%v, want %v", m.State(), want)
}

func TestMachines_NegotiateOverVirtualNetwork(t *testing.T) {
	apiA, apiB := newVNetPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	relayA, relayB := newRelay(), newRelay()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var (
		tracksMu sync.Mutex
		tracks   []negotiation.Track
	)
	newMachine := func(api *webrtc.API, r *relay) *negotiation.Machine {
		return negotiation.New(negotiation.Options{
			Transport: r,
			Factory: webrtcpeer.NewFactory(webrtcpeer.Options{
				API:         api,
				Logger:      logger,
				TestPattern: true,
			}),
			Logger: logger,
			OnRemoteTrack: func(track negotiation.Track) {
				tracksMu.Lock()
				tracks = append(tracks, track)
				tracksMu.Unlock()
			},
			OnError: func(err error) { t.Errorf("negotiation error: %v", err) },
		})
	}
	a := newMachine(apiA, relayA)
	b := newMachine(apiB, relayB)
	relayA.partner = b
	relayB.partner = a

	go a.Run(ctx)
	go b.Run(ctx)
	go relayA.pump(t, ctx)
	go relayB.pump(t, ctx)

	if err := b.PeerFound(false, "room_1"); err != nil {
		t.Fatalf("PeerFound(responder): %v", err)
	}
	if err := a.PeerFound(true, "room_1"); err != nil {
		t.Fatalf("PeerFound(initiator): %v", err)
	}

	waitState(t, a, negotiation.StateConnected)
	waitState(t, b, negotiation.StateConnected)

	tracksMu.Lock()
	got := len(tracks)
	var kind string
	if got > 0 {
		kind = tracks[0].Kind
	}
	tracksMu.Unlock()
	if got == 0 || kind != webrtc.RTPCodecTypeVideo.String() {
		t.Fatalf("remote tracks=%d first kind=%q, want video", got, kind)
	}

	if err := a.EndCall(); err != nil {
		t.Fatalf("EndCall: %v", err)
	}
	waitState(t, a, negotiation.StateIdle)
	if got := relayA.leaveCount(); got != 1 {
		t.Fatalf("leaves=%d, want 1", got)
	}

	// The responder learns about the hangup through its peer connection or
	// the server; the server notification is simulated here.
	if err := b.PeerDisconnected(); err != nil {
		t.Fatalf("PeerDisconnected: %v", err)
	}
	waitState(t, b, negotiation.StateIdle)
	if got := relayB.leaveCount(); got != 0 {
		t.Fatalf("responder leaves=%d, want 0", got)
	}
}

func TestPeer_SetMaxBitrate(t *testing.T) {
	p, err := webrtcpeer.NewPeer(webrtcpeer.Options{}, negotiation.Hooks{})
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	if got := p.MaxBitrate(); got != negotiation.DefaultMaxBitrate {
		t.Fatalf("MaxBitrate=%d, want %d", got, negotiation.DefaultMaxBitrate)
	}
	if err := p.SetMaxBitrate(0); err == nil {
		t.Fatalf("expected SetMaxBitrate(0) to fail")
	}
	if err := p.SetMaxBitrate(150_000); err != nil {
		t.Fatalf("SetMaxBitrate: %v", err)
	}
	if got := p.MaxBitrate(); got != 150_000 {
		t.Fatalf("MaxBitrate=%d, want 150000", got)
	}
	if _, err := p.OutboundStats(); err == nil {
		t.Fatalf("expected OutboundStats to fail before any media is sent")
	}
}

func TestPeer_OfferCarriesAudioAndVideo(t *testing.T) {
	p, err := webrtcpeer.NewPeer(webrtcpeer.Options{}, negotiation.Hooks{})
	if err != nil {
		t.Fatalf("NewPeer: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	offer, err := p.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if offer.Type != "offer" {
		t.Fatalf("offer type=%q, want offer", offer.Type)
	}
	if err := protocol.Offer(offer.SDP).Validate(); err != nil {
		t.Fatalf("offer signal invalid: %v", err)
	}
	for _, want := range []string{"m=audio", "m=video", "VP8", "opus"} {
		if !strings.Contains(strings.ToLower(offer.SDP), strings.ToLower(want)) {
			t.Fatalf("offer sdp missing %q", want)
		}
	}
	if p.PeerConnection().LocalDescription() == nil {
		t.Fatalf("CreateOffer did not set the local description")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
