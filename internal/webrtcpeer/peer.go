package webrtcpeer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/negotiation"
	"github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/protocol"
)

// StreamID groups the local audio and video tracks into one MediaStream.
const StreamID = "roulette"

const testPatternFPS = 15

var ErrNoOutboundStats = errors.New("webrtcpeer: no outbound video stats yet")

type Options struct {
	// API is shared across calls. Nil builds one with NewAPI per call.
	API        *webrtc.API
	ICEServers []webrtc.ICEServer
	Logger     *slog.Logger
	// TestPattern sends a synthetic video stream once connected, sized to the
	// current bitrate cap. Used where no camera is available.
	TestPattern bool
}

// NewFactory returns a negotiation.Factory that builds one Peer per call.
func NewFactory(opts Options) negotiation.Factory {
	return func(hooks negotiation.Hooks) (negotiation.Capability, error) {
		return NewPeer(opts, hooks)
	}
}

// Peer wraps one PeerConnection. It implements negotiation.Capability and
// negotiation.BitrateController.
type Peer struct {
	pc    *webrtc.PeerConnection
	video *webrtc.TrackLocalStaticSample
	log   *slog.Logger

	maxBitrate atomic.Uint64

	done        chan struct{}
	closeOnce   sync.Once
	patternOnce sync.Once
}

var (
	_ negotiation.Capability        = (*Peer)(nil)
	_ negotiation.BitrateController = (*Peer)(nil)
)

func NewPeer(opts Options, hooks negotiation.Hooks) (*Peer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	api := opts.API
	if api == nil {
		var err error
		if api, err = NewAPI(logger); err != nil {
			return nil, err
		}
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: opts.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	p := &Peer{
		pc:   pc,
		log:  logger,
		done: make(chan struct{}),
	}
	p.maxBitrate.Store(negotiation.DefaultMaxBitrate)

	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", StreamID)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("new audio track: %w", err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", StreamID)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("new video track: %w", err)
	}
	for _, track := range []webrtc.TrackLocal{audio, video} {
		sender, err := pc.AddTrack(track)
		if err != nil {
			_ = pc.Close()
			return nil, fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		// Interceptors only process RTCP that is read.
		go drainRTCP(sender)
	}
	p.video = video

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || hooks.OnLocalCandidate == nil {
			return
		}
		hooks.OnLocalCandidate(protocol.CandidateFromPion(c.ToJSON()))
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if hooks.OnRemoteTrack != nil {
			hooks.OnRemoteTrack(negotiation.Track{ID: track.ID(), Kind: track.Kind().String()})
		}
		go drainTrack(track)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateConnected && opts.TestPattern {
			p.patternOnce.Do(func() { go p.runTestPattern() })
		}
		if hooks.OnConnectionState != nil {
			hooks.OnConnectionState(connectionState(state))
		}
	})

	return p, nil
}

func (p *Peer) PeerConnection() *webrtc.PeerConnection {
	return p.pc
}

func (p *Peer) CreateOffer() (protocol.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}
	return protocol.DescriptionFromPion(offer), nil
}

func (p *Peer) CreateAnswer() (protocol.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return protocol.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}
	return protocol.DescriptionFromPion(answer), nil
}

func (p *Peer) SetRemoteDescription(desc protocol.SessionDescription) error {
	sd, err := desc.ToPion()
	if err != nil {
		return err
	}
	return p.pc.SetRemoteDescription(sd)
}

func (p *Peer) AddICECandidate(c protocol.ICECandidate) error {
	return p.pc.AddICECandidate(c.ToPion())
}

// OutboundStats reads the outbound video stream counters and the loss the
// remote receiver last reported for it.
func (p *Peer) OutboundStats() (negotiation.OutboundStats, error) {
	var (
		out   negotiation.OutboundStats
		found bool
	)
	for _, s := range p.pc.GetStats() {
		switch s := s.(type) {
		case webrtc.OutboundRTPStreamStats:
			if s.Kind != "video" {
				continue
			}
			out.BytesSent = s.BytesSent
			out.Timestamp = s.Timestamp.Time()
			found = true
		case webrtc.RemoteInboundRTPStreamStats:
			if s.Kind == "video" {
				out.FractionLost = s.FractionLost
			}
		}
	}
	if !found {
		return out, ErrNoOutboundStats
	}
	return out, nil
}

// SetMaxBitrate caps the outbound video stream. Samples are written
// pre-encoded, so the cap is applied by the test pattern's frame size.
func (p *Peer) SetMaxBitrate(bps uint64) error {
	if bps == 0 {
		return fmt.Errorf("max bitrate must be > 0")
	}
	p.maxBitrate.Store(bps)
	return nil
}

func (p *Peer) MaxBitrate() uint64 {
	return p.maxBitrate.Load()
}

func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		err = p.pc.Close()
	})
	return err
}

func (p *Peer) runTestPattern() {
	interval := time.Second / testPatternFPS
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}
		size := max(int(p.maxBitrate.Load()/8/testPatternFPS), 1)
		if err := p.video.WriteSample(media.Sample{Data: make([]byte, size), Duration: interval}); err != nil {
			p.log.Debug("test pattern stopped", "err", err)
			return
		}
	}
}

func connectionState(s webrtc.PeerConnectionState) negotiation.ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return negotiation.ConnectionConnecting
	case webrtc.PeerConnectionStateConnected:
		return negotiation.ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return negotiation.ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return negotiation.ConnectionFailed
	case webrtc.PeerConnectionStateClosed:
		return negotiation.ConnectionClosed
	default:
		return negotiation.ConnectionNew
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
