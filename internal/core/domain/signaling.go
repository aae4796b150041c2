package domain

import (
	"encoding/json"
	"fmt"
)

type MessageType string

const (
	MessageOffer        MessageType = "offer"
	MessageAnswer       MessageType = "answer"
	MessageICECandidate MessageType = "ice-candidate"
	MessageHostReady    MessageType = "host-ready"
	MessageViewerJoin   MessageType = "viewer-join"
)

// SignalingMessage is the envelope relayed between participants of one
// stream topic. An empty TargetID means "all subscribers"; otherwise the
// message must be ignored by everyone except the target. No delivery or
// ordering guarantee exists across senders.
type SignalingMessage struct {
	Type     MessageType     `json:"type"`
	SenderID ParticipantID   `json:"sender_id"`
	TargetID ParticipantID   `json:"target_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// IsFor reports whether the message is addressed to the given participant.
func (m *SignalingMessage) IsFor(id ParticipantID) bool {
	return m.TargetID == "" || m.TargetID == id
}

// NewSignalingMessage builds an envelope with a marshaled payload.
func NewSignalingMessage(t MessageType, sender, target ParticipantID, payload interface{}) (SignalingMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return SignalingMessage{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return SignalingMessage{
		Type:     t,
		SenderID: sender,
		TargetID: target,
		Payload:  raw,
	}, nil
}

type OfferPayload struct {
	SDP string `json:"sdp"`
}

type AnswerPayload struct {
	SDP string `json:"sdp"`
}

type ICECandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

type HostReadyPayload struct {
	BroadcasterID ParticipantID `json:"broadcaster_id"`
	StreamID      StreamID      `json:"stream_id"`
}

type ViewerJoinPayload struct {
	ViewerID ParticipantID `json:"viewer_id"`
}
