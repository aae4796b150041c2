package webrtc

import (
	"context"
	"fmt"
	"sync"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// FactoryConfig carries the ICE and networking knobs for new transports.
type FactoryConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// Factory builds pion-backed peer transports.
type Factory struct {
	cfg    FactoryConfig
	logger *zap.SugaredLogger
}

func NewFactory(cfg FactoryConfig, logger *zap.SugaredLogger) *Factory {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Factory{cfg: cfg, logger: logger}
}

func (f *Factory) NewTransport(ctx context.Context) (ports.PeerTransport, error) {
	config := webrtc.Configuration{
		ICEServers:   f.cfg.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	}

	settingEngine := webrtc.SettingEngine{}
	if f.cfg.PortRange.Min > 0 && f.cfg.PortRange.Max > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(f.cfg.PortRange.Min, f.cfg.PortRange.Max); err != nil {
			return nil, fmt.Errorf("failed to set port range: %w", err)
		}
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	return newTransport(pc, f.logger), nil
}

// transport adapts a pion PeerConnection onto the core transport port.
type transport struct {
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger

	mu      sync.Mutex
	onICE   func(webrtc.ICECandidateInit)
	onState func(domain.TransportState)
	closed  bool
}

func newTransport(pc *webrtc.PeerConnection, logger *zap.SugaredLogger) *transport {
	t := &transport{pc: pc, logger: logger}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			// End-of-gathering marker; nothing to relay.
			return
		}
		t.mu.Lock()
		fn := t.onICE
		t.mu.Unlock()
		if fn != nil {
			fn(candidate.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		mapped, ok := mapConnectionState(state)
		if !ok {
			return
		}
		t.mu.Lock()
		fn := t.onState
		t.mu.Unlock()
		if fn != nil {
			fn(mapped)
		}
	})

	return t
}

func mapConnectionState(state webrtc.PeerConnectionState) (domain.TransportState, bool) {
	switch state {
	case webrtc.PeerConnectionStateConnecting:
		return domain.TransportConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return domain.TransportConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return domain.TransportDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return domain.TransportFailed, true
	case webrtc.PeerConnectionStateClosed:
		return domain.TransportClosed, true
	default:
		return "", false
	}
}

func (t *transport) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	// A viewer transport receives both kinds of media. Re-offers on the
	// same transport must not stack extra m-lines.
	if len(t.pc.GetTransceivers()) == 0 {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeVideo, webrtc.RTPCodecTypeAudio} {
			if _, err := t.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				return webrtc.SessionDescription{}, fmt.Errorf("failed to add %s transceiver: %w", kind, err)
			}
		}
	}

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return offer, nil
}

func (t *transport) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	return answer, nil
}

func (t *transport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(desc)
}

func (t *transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(candidate)
}

func (t *transport) AddTrack(track webrtc.TrackLocal) error {
	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("failed to add track: %w", err)
	}

	// Drain sender RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (t *transport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onICE = fn
}

func (t *transport) OnConnectionStateChange(fn func(domain.TransportState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = fn
}

// OnTrack exposes inbound media for callers that render or relay it.
func (t *transport) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	t.pc.OnTrack(fn)
}

// RequestKeyFrame sends a PLI for every inbound video track so the
// sender emits a fresh keyframe. Only useful on receiving transports.
func (t *transport) RequestKeyFrame() error {
	var packets []rtcp.Packet
	for _, receiver := range t.pc.GetReceivers() {
		track := receiver.Track()
		if track == nil || track.Kind() != webrtc.RTPCodecTypeVideo {
			continue
		}
		packets = append(packets, &rtcp.PictureLossIndication{
			MediaSSRC: uint32(track.SSRC()),
		})
	}
	if len(packets) == 0 {
		return nil
	}
	if err := t.pc.WriteRTCP(packets); err != nil {
		return fmt.Errorf("failed to send PLI: %w", err)
	}
	return nil
}

func (t *transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.pc.Close()
}
