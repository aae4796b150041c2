package session

import (
	"fmt"
	"sync"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// validTransitions is the connection state machine for one peer session.
// Anything absent here is rejected rather than silently accepted.
var validTransitions = map[domain.SessionState][]domain.SessionState{
	domain.SessionNew:          {domain.SessionConnecting, domain.SessionFailed, domain.SessionClosed},
	domain.SessionConnecting:   {domain.SessionConnected, domain.SessionDisconnected, domain.SessionFailed, domain.SessionClosed},
	domain.SessionConnected:    {domain.SessionDisconnected, domain.SessionFailed, domain.SessionClosed},
	domain.SessionDisconnected: {domain.SessionConnecting, domain.SessionFailed, domain.SessionClosed},
	domain.SessionFailed:       {domain.SessionClosed},
	domain.SessionClosed:       {},
}

// Session is one bidirectional media transport between two participants.
// It owns the transport handle, the remote-description flag, candidates
// queued ahead of the remote description, and the retry counter.
type Session struct {
	remoteID  domain.ParticipantID
	transport ports.PeerTransport
	logger    *zap.SugaredLogger

	mu        sync.Mutex
	state     domain.SessionState
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	attempts  int
}

func New(remoteID domain.ParticipantID, transport ports.PeerTransport, logger *zap.SugaredLogger) *Session {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Session{
		remoteID:  remoteID,
		transport: transport,
		logger:    logger,
		state:     domain.SessionNew,
	}
}

func (s *Session) RemoteID() domain.ParticipantID {
	return s.remoteID
}

func (s *Session) Transport() ports.PeerTransport {
	return s.transport
}

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves the state machine, rejecting anything not in the
// table. Callers hold s.mu.
func (s *Session) transition(to domain.SessionState) error {
	for _, allowed := range validTransitions[s.state] {
		if allowed == to {
			s.logger.Debugw("session state transition",
				"remote_id", s.remoteID,
				"from", s.state,
				"to", to,
			)
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, s.state, to)
}

// StartNegotiation marks the beginning of a description exchange. Valid
// from new and from disconnected (reconnect).
func (s *Session) StartNegotiation() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(domain.SessionConnecting)
}

// MarkConnected records transport-level success and resets the retry
// counter.
func (s *Session) MarkConnected() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(domain.SessionConnected); err != nil {
		return err
	}
	s.attempts = 0
	return nil
}

// MarkDisconnected records a transient transport loss.
func (s *Session) MarkDisconnected() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(domain.SessionDisconnected)
}

// MarkFailed is terminal for this session short of an explicit close.
func (s *Session) MarkFailed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == domain.SessionClosed || s.state == domain.SessionFailed {
		return nil
	}
	return s.transition(domain.SessionFailed)
}

// Close tears the session down: queued candidates are released and the
// underlying transport is closed. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == domain.SessionClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = domain.SessionClosed
	s.pending = nil
	s.remoteSet = false
	transport := s.transport
	s.mu.Unlock()

	if transport != nil {
		return transport.Close()
	}
	return nil
}

// SetRemoteDescription applies the remote description and then drains
// the candidates that legitimately arrived ahead of it, exactly once and
// in arrival order.
func (s *Session) SetRemoteDescription(desc webrtc.SessionDescription) error {
	s.mu.Lock()
	if s.state == domain.SessionClosed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	transport := s.transport
	s.mu.Unlock()

	if err := transport.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("failed to apply remote description: %w", err)
	}

	s.mu.Lock()
	s.remoteSet = true
	queued := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, candidate := range queued {
		if err := transport.AddICECandidate(candidate); err != nil {
			s.logger.Warnw("failed to apply queued candidate",
				"remote_id", s.remoteID,
				"error", err,
			)
		}
	}
	return nil
}

// AddICECandidate applies the candidate immediately once the remote
// description exists, queues it otherwise, and silently drops it when
// the session is already torn down.
func (s *Session) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	s.mu.Lock()
	if s.state == domain.SessionClosed {
		s.mu.Unlock()
		return nil
	}
	if !s.remoteSet {
		s.pending = append(s.pending, candidate)
		s.mu.Unlock()
		return nil
	}
	transport := s.transport
	s.mu.Unlock()

	return transport.AddICECandidate(candidate)
}

// RemoteDescriptionSet reports whether the remote description has been
// applied.
func (s *Session) RemoteDescriptionSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteSet
}

// ApplyAnswer applies an incoming answer description. Answers arriving
// when the session is not mid-negotiation, duplicates included, come
// back as domain.ErrUnexpectedAnswer so callers can drop them quietly.
func (s *Session) ApplyAnswer(desc webrtc.SessionDescription) error {
	s.mu.Lock()
	if s.state == domain.SessionClosed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if s.state != domain.SessionConnecting || s.remoteSet {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: state %s", domain.ErrUnexpectedAnswer, state)
	}
	s.mu.Unlock()

	return s.SetRemoteDescription(desc)
}

// NextAttempt increments and returns the retry counter.
func (s *Session) NextAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	return s.attempts
}

func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Session) ResetAttempts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = 0
}
