package services

import (
	"fmt"

	"livecast/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// SignalTopic names the relay topic carrying all signaling for one stream.
func SignalTopic(id domain.StreamID) string {
	return fmt.Sprintf("stream:%s:signal", id)
}

func candidateToInit(p domain.ICECandidatePayload) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	}
}

func initToCandidate(c webrtc.ICECandidateInit) domain.ICECandidatePayload {
	return domain.ICECandidatePayload{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	}
}
