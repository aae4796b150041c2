package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveStatus(t *testing.T) {
	now := time.Now().UTC()
	later := now.Add(time.Hour)

	tests := []struct {
		name   string
		stream *Stream
		want   StreamStatus
	}{
		{"nil stream", nil, StatusDraft},
		{"fresh record", &Stream{}, StatusDraft},
		{"live", &Stream{IsLive: true, StartedAt: &now}, StatusLive},
		{"ended", &Stream{StartedAt: &now, EndedAt: &later}, StatusEnded},
		// A live flag wins even with both timestamps set; live is the
		// broadcaster's explicit claim.
		{"live overrides timestamps", &Stream{IsLive: true, StartedAt: &now, EndedAt: &later}, StatusLive},
		{"started but never ended", &Stream{StartedAt: &now}, StatusDraft},
		{"ended timestamp alone", &Stream{EndedAt: &later}, StatusDraft},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveStatus(tt.stream))
		})
	}
}
