package session

import (
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateQueue_DrainExactlyOnce(t *testing.T) {
	q := NewCandidateQueue()
	q.Enqueue("viewer-1", webrtc.ICECandidateInit{Candidate: "a"})
	q.Enqueue("viewer-1", webrtc.ICECandidateInit{Candidate: "b"})
	q.Enqueue("viewer-2", webrtc.ICECandidateInit{Candidate: "c"})

	got := q.Drain("viewer-1")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Candidate)
	assert.Equal(t, "b", got[1].Candidate)

	// Second drain yields nothing; viewer-2 is untouched.
	assert.Nil(t, q.Drain("viewer-1"))
	assert.Equal(t, 1, q.Len("viewer-2"))
}

func TestCandidateQueue_Forget(t *testing.T) {
	q := NewCandidateQueue()
	q.Enqueue("viewer-1", webrtc.ICECandidateInit{Candidate: "a"})

	q.Forget("viewer-1")
	assert.Equal(t, 0, q.Len("viewer-1"))
	assert.Nil(t, q.Drain("viewer-1"))

	// Forgetting an unknown peer is a no-op.
	q.Forget("viewer-9")
}
