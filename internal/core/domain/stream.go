package domain

import (
	"time"
)

type StreamID string
type ParticipantID string

// StreamKind distinguishes full audio/video broadcasts from audio-only ones.
type StreamKind string

const (
	StreamKindVideo StreamKind = "video"
	StreamKindAudio StreamKind = "audio"
)

// Stream is the persisted broadcast record. The broadcaster owns the
// lifecycle fields; ViewerCount is maintained by an external counter and
// is carried here for display only.
type Stream struct {
	ID              StreamID
	BroadcasterID   ParticipantID
	Kind            StreamKind
	IsLive          bool
	StartedAt       *time.Time
	EndedAt         *time.Time
	ReplayAvailable bool
	ReplayURL       string
	ViewerCount     int
	CreatedAt       time.Time
}

// StreamStatus is the derived three-state lifecycle. It is never stored.
type StreamStatus string

const (
	StatusDraft StreamStatus = "draft"
	StatusLive  StreamStatus = "live"
	StatusEnded StreamStatus = "ended"
)

// ResolveStatus maps persisted stream fields to the lifecycle state.
// Every status-gated decision goes through this function, so that badges,
// gating and the controllers never diverge on the same underlying fields.
func ResolveStatus(s *Stream) StreamStatus {
	if s == nil {
		return StatusDraft
	}
	if s.IsLive {
		return StatusLive
	}
	if s.StartedAt != nil && s.EndedAt != nil {
		return StatusEnded
	}
	return StatusDraft
}
