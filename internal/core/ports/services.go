package ports

import (
	"context"

	"livecast/internal/core/domain"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

// Subscription is an open handle on one signaling topic. Messages are
// ordered per sender only; the channel carries no media and nothing is
// retained for late subscribers.
type Subscription interface {
	Messages() <-chan domain.SignalingMessage
	Publish(ctx context.Context, msg domain.SignalingMessage) error
	Close() error
}

// SignalingChannel is the out-of-band message relay. Subscribe blocks
// until the relay acknowledges the subscription or the configured timeout
// elapses; retrying after a timeout is the caller's responsibility.
type SignalingChannel interface {
	Subscribe(ctx context.Context, topic string, self domain.ParticipantID) (Subscription, error)
}

// PeerTransport is one bidirectional media transport to a single remote
// participant. Implementations report connectivity through the state
// callback and surface gathered candidates through the candidate callback.
type PeerTransport interface {
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error)
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) error
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(domain.TransportState))
	// RequestKeyFrame asks the remote sender for an immediate keyframe.
	// Best effort; only meaningful on receiving transports.
	RequestKeyFrame() error
	Close() error
}

type TransportFactory interface {
	NewTransport(ctx context.Context) (PeerTransport, error)
}

// MediaPacket is one encoded media packet teed off the local capture for
// recording.
type MediaPacket struct {
	Kind   domain.TrackKind
	Packet *rtp.Packet
}

// MediaSource is the local capture handle. Tracks are attached to peer
// transports (shared read-only, never moved); Packets feeds the recorder.
type MediaSource interface {
	Tracks() []webrtc.TrackLocal
	// Packets returns the recording tee, or nil when the source does not
	// support one.
	Packets() <-chan MediaPacket
	// Codecs reports the negotiated encoding mime type per track kind.
	Codecs() map[domain.TrackKind]string
	Close() error
}

// CaptureDevice acquires local media. Acquisition errors map onto the
// permission/device taxonomy via domain.ErrPermissionDenied and
// domain.ErrDeviceUnavailable.
type CaptureDevice interface {
	Acquire(ctx context.Context, constraints domain.CaptureConstraints) (MediaSource, error)
}

// Recorder buffers the broadcaster's capture while live. Start is
// non-fatal when no supported encoding matches the source; Stop returns
// nil when nothing was buffered.
type Recorder interface {
	Start(ctx context.Context, source MediaSource) error
	Stop() (*domain.Recording, error)
}

// Metrics is the optional observability hook implemented by the
// monitoring collector. Controllers must tolerate a nil implementation.
type Metrics interface {
	SessionOpened()
	SessionClosed()
	SessionStateChanged(state domain.SessionState)
	ReconnectAttempt()
	MessagePublished(t domain.MessageType)
	MessageReceived(t domain.MessageType)
	RecordingFinalized(bytes int)
}
