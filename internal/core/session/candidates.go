package session

import (
	"sync"

	"livecast/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// CandidateQueue buffers remote ICE candidates that arrive before the
// peer session they belong to is ready for them. Candidates are keyed by
// remote participant; draining removes them, so each queued candidate is
// handed out exactly once.
type CandidateQueue struct {
	mu      sync.Mutex
	pending map[domain.ParticipantID][]webrtc.ICECandidateInit
}

func NewCandidateQueue() *CandidateQueue {
	return &CandidateQueue{
		pending: make(map[domain.ParticipantID][]webrtc.ICECandidateInit),
	}
}

// Enqueue buffers a candidate for the given remote participant.
func (q *CandidateQueue) Enqueue(peer domain.ParticipantID, candidate webrtc.ICECandidateInit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[peer] = append(q.pending[peer], candidate)
}

// Drain removes and returns all buffered candidates for the peer, in
// arrival order. Returns nil when nothing is buffered.
func (q *CandidateQueue) Drain(peer domain.ParticipantID) []webrtc.ICECandidateInit {
	q.mu.Lock()
	defer q.mu.Unlock()

	candidates := q.pending[peer]
	delete(q.pending, peer)
	return candidates
}

// Forget discards any buffered candidates for a peer that no longer
// exists. Candidates for torn-down peers are dropped, never errored.
func (q *CandidateQueue) Forget(peer domain.ParticipantID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, peer)
}

// Len reports how many candidates are buffered for the peer.
func (q *CandidateQueue) Len(peer domain.ParticipantID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[peer])
}
