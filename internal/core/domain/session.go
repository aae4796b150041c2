package domain

import "time"

// SessionState is the connection lifecycle of one peer session.
type SessionState string

const (
	SessionNew          SessionState = "new"
	SessionConnecting   SessionState = "connecting"
	SessionConnected    SessionState = "connected"
	SessionDisconnected SessionState = "disconnected"
	SessionFailed       SessionState = "failed"
	SessionClosed       SessionState = "closed"
)

// Terminal reports whether the state admits no further transitions except
// an explicit close.
func (s SessionState) Terminal() bool {
	return s == SessionFailed || s == SessionClosed
}

// TransportState is the underlying transport's view of connectivity,
// reported by the infrastructure adapter.
type TransportState string

const (
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// CaptureState is the outcome of a local media acquisition attempt.
type CaptureState string

const (
	// CaptureReady means the device was obtained and tracks are available.
	CaptureReady CaptureState = "ready"
	// CaptureDenied means permission was refused; not retryable without
	// user action outside this system.
	CaptureDenied CaptureState = "denied"
	// CaptureError means the device is unavailable or busy; retryable via
	// an explicit user retry.
	CaptureError CaptureState = "error"
)

// CaptureConstraints selects which local media to acquire.
type CaptureConstraints struct {
	Audio bool
	Video bool
	// Width and Height are hints for the video track; zero means the
	// device default.
	Width  int
	Height int
}

// ViewerPhase is the viewer-facing health state rendered to the caller.
type ViewerPhase string

const (
	PhaseWaiting      ViewerPhase = "waiting"
	PhaseConnecting   ViewerPhase = "connecting"
	PhaseConnected    ViewerPhase = "connected"
	PhaseReconnecting ViewerPhase = "reconnecting"
	PhaseFailed       ViewerPhase = "failed"
)

type TrackKind string

const (
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"
)

// Recording is a finalized capture buffer ready for upload.
type Recording struct {
	Data      []byte
	MimeType  string
	Codec     string
	StartedAt time.Time
	StoppedAt time.Time
}
