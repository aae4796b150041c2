package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// StreamIDRegex validates stream ID format.
	StreamIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// ParticipantIDRegex validates participant ID format.
	ParticipantIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateStreamID validates a stream identifier.
func ValidateStreamID(id string) error {
	if id == "" {
		return fmt.Errorf("stream id is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("stream id is too long (max 100 characters)")
	}
	if !StreamIDRegex.MatchString(id) {
		return fmt.Errorf("stream id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateParticipantID validates a participant identifier.
func ValidateParticipantID(id string) error {
	if id == "" {
		return fmt.Errorf("participant id is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("participant id is too long (max 100 characters)")
	}
	if !ParticipantIDRegex.MatchString(id) {
		return fmt.Errorf("participant id contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateSDP performs a basic structural check on a session description
// before it is relayed or applied.
func ValidateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("sdp cannot be empty")
	}
	if len(sdp) < 2 || sdp[:2] != "v=" {
		return fmt.Errorf("invalid sdp: must start with 'v='")
	}
	for _, field := range []string{"o=", "s=", "t="} {
		if !strings.Contains(sdp, field) {
			return fmt.Errorf("invalid sdp: missing required field %q", field)
		}
	}
	return nil
}

// ValidateTopic validates a signaling topic name.
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}
	if len(topic) > 200 {
		return fmt.Errorf("topic is too long (max 200 characters)")
	}
	if strings.ContainsAny(topic, " \t\n") {
		return fmt.Errorf("topic must not contain whitespace")
	}
	return nil
}
