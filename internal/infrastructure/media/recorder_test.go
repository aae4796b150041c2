package media

import (
	"context"
	"testing"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	codecs map[domain.TrackKind]string
	pkts   chan ports.MediaPacket
}

func newStubSource(codecs map[domain.TrackKind]string) *stubSource {
	return &stubSource{codecs: codecs, pkts: make(chan ports.MediaPacket, 16)}
}

func (s *stubSource) Tracks() []webrtc.TrackLocal         { return nil }
func (s *stubSource) Packets() <-chan ports.MediaPacket   { return s.pkts }
func (s *stubSource) Codecs() map[domain.TrackKind]string { return s.codecs }
func (s *stubSource) Close() error                        { return nil }

func opusPacket(seq uint16) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    111,
			SequenceNumber: seq,
			Timestamp:      uint32(seq) * 960,
			SSRC:           42,
		},
		Payload: []byte{0x78, 0x01, 0x02, 0x03},
	}
}

func TestRecorder_RecordsOpus(t *testing.T) {
	r := NewRecorder(nil, nil)
	source := newStubSource(map[domain.TrackKind]string{domain.TrackKindAudio: "audio/opus"})

	require.NoError(t, r.Start(context.Background(), source))
	for i := uint16(0); i < 5; i++ {
		source.pkts <- ports.MediaPacket{Kind: domain.TrackKindAudio, Packet: opusPacket(i)}
	}

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.written == 5
	}, time.Second, 5*time.Millisecond)

	rec, err := r.Stop()
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "audio/ogg", rec.MimeType)
	assert.Equal(t, "audio/opus", rec.Codec)
	assert.NotEmpty(t, rec.Data)
	assert.False(t, rec.StoppedAt.Before(rec.StartedAt))
}

func TestRecorder_PrefersVideoOverAudio(t *testing.T) {
	r := NewRecorder(nil, nil)
	source := newStubSource(map[domain.TrackKind]string{
		domain.TrackKindVideo: "video/VP8",
		domain.TrackKindAudio: "audio/opus",
	})

	require.NoError(t, r.Start(context.Background(), source))

	// Audio packets are not the selected kind, so nothing is buffered.
	source.pkts <- ports.MediaPacket{Kind: domain.TrackKindAudio, Packet: opusPacket(1)}
	time.Sleep(20 * time.Millisecond)

	rec, err := r.Stop()
	require.NoError(t, err)
	assert.Nil(t, rec, "no video packets arrived, nothing to keep")
}

func TestRecorder_NoSupportedEncoding(t *testing.T) {
	r := NewRecorder(nil, nil)
	source := newStubSource(map[domain.TrackKind]string{domain.TrackKindVideo: "video/AV1"})

	err := r.Start(context.Background(), source)
	assert.ErrorIs(t, err, domain.ErrNoSupportedEncoding)
}

func TestRecorder_EmptyRecordingIsNil(t *testing.T) {
	r := NewRecorder(nil, nil)
	source := newStubSource(map[domain.TrackKind]string{domain.TrackKindAudio: "audio/opus"})

	require.NoError(t, r.Start(context.Background(), source))
	rec, err := r.Stop()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRecorder_StopWithoutStart(t *testing.T) {
	r := NewRecorder(nil, nil)
	rec, err := r.Stop()
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRecorder_CaseInsensitiveCodecMatch(t *testing.T) {
	r := NewRecorder(nil, nil)
	source := newStubSource(map[domain.TrackKind]string{domain.TrackKindAudio: "audio/OPUS"})

	require.NoError(t, r.Start(context.Background(), source))
	_, err := r.Stop()
	assert.NoError(t, err)
}
