package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateStreamID generates a unique stream ID.
func GenerateStreamID() string {
	return GenerateID("stream")
}

// GenerateParticipantID generates a unique participant ID.
func GenerateParticipantID() string {
	return GenerateID("peer")
}

// GenerateID generates a prefixed unique identifier.
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}
