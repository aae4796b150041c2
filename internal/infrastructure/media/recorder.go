package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"

	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/h264writer"
	"github.com/pion/webrtc/v3/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"go.uber.org/zap"
)

// Encoding binds a track codec to a container writer. The recorder walks
// its encoding list in order and records with the first one the capture
// source can feed.
type Encoding struct {
	Codec     string
	Kind      domain.TrackKind
	MimeType  string
	NewWriter func(w io.Writer) (media.Writer, error)
}

// DefaultEncodings is the preferred recording order: video containers
// first, Opus audio as the fallback for audio-only streams.
func DefaultEncodings() []Encoding {
	return []Encoding{
		{
			Codec:    "video/VP8",
			Kind:     domain.TrackKindVideo,
			MimeType: "video/x-ivf",
			NewWriter: func(w io.Writer) (media.Writer, error) {
				return ivfwriter.NewWith(w)
			},
		},
		{
			Codec:    "video/H264",
			Kind:     domain.TrackKindVideo,
			MimeType: "video/h264",
			NewWriter: func(w io.Writer) (media.Writer, error) {
				return h264writer.NewWith(w), nil
			},
		},
		{
			Codec:    "audio/opus",
			Kind:     domain.TrackKindAudio,
			MimeType: "audio/ogg",
			NewWriter: func(w io.Writer) (media.Writer, error) {
				return oggwriter.NewWith(w, 48000, 2)
			},
		},
	}
}

// Recorder buffers one track of the live capture into a single in-memory
// blob. It records the first encoding from its preference list that the
// source actually produces; an unmatched source is reported once at
// Start and the stream simply runs without a replay.
type Recorder struct {
	encodings []Encoding
	logger    *zap.SugaredLogger

	mu        sync.Mutex
	buf       *bytes.Buffer
	writer    media.Writer
	selected  Encoding
	cancel    context.CancelFunc
	running   bool
	written   int
	startedAt time.Time

	wg sync.WaitGroup
}

func NewRecorder(encodings []Encoding, logger *zap.SugaredLogger) *Recorder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if len(encodings) == 0 {
		encodings = DefaultEncodings()
	}
	return &Recorder{encodings: encodings, logger: logger}
}

// Start begins buffering the source. domain.ErrNoSupportedEncoding means
// no preference matched the source's codecs; callers treat it as a
// degraded mode, not a failure.
func (r *Recorder) Start(ctx context.Context, source ports.MediaSource) error {
	if source == nil || source.Packets() == nil {
		return fmt.Errorf("source has no recording tee: %w", domain.ErrNoSupportedEncoding)
	}

	codecs := source.Codecs()
	var selected *Encoding
	for i := range r.encodings {
		enc := &r.encodings[i]
		if strings.EqualFold(codecs[enc.Kind], enc.Codec) {
			selected = enc
			break
		}
	}
	if selected == nil {
		return fmt.Errorf("no encoding matches source codecs %v: %w", codecs, domain.ErrNoSupportedEncoding)
	}

	buf := &bytes.Buffer{}
	writer, err := selected.NewWriter(buf)
	if err != nil {
		return fmt.Errorf("failed to create %s writer: %w", selected.MimeType, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		cancel()
		return fmt.Errorf("recorder already running")
	}
	r.running = true
	r.buf = buf
	r.writer = writer
	r.selected = *selected
	r.cancel = cancel
	r.written = 0
	r.startedAt = time.Now().UTC()
	r.mu.Unlock()

	r.wg.Add(1)
	go r.consume(runCtx, source.Packets(), selected.Kind)

	r.logger.Infow("recording started", "codec", selected.Codec, "mime_type", selected.MimeType)
	return nil
}

func (r *Recorder) consume(ctx context.Context, packets <-chan ports.MediaPacket, kind domain.TrackKind) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			if pkt.Kind != kind || pkt.Packet == nil {
				continue
			}
			r.mu.Lock()
			writer := r.writer
			if writer == nil {
				r.mu.Unlock()
				return
			}
			if err := writer.WriteRTP(pkt.Packet); err != nil {
				r.mu.Unlock()
				r.logger.Warnw("failed to write media packet", "error", err)
				continue
			}
			r.written++
			r.mu.Unlock()
		}
	}
}

// Stop finalizes the buffer. A recorder that never saw a packet returns
// a nil recording: there is nothing worth uploading.
func (r *Recorder) Stop() (*domain.Recording, error) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil, nil
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.writer.Close(); err != nil {
		r.writer = nil
		return nil, fmt.Errorf("failed to finalize recording: %w", err)
	}
	r.writer = nil

	if r.written == 0 {
		r.logger.Infow("recording empty, discarding")
		return nil, nil
	}

	rec := &domain.Recording{
		Data:      r.buf.Bytes(),
		MimeType:  r.selected.MimeType,
		Codec:     r.selected.Codec,
		StartedAt: r.startedAt,
		StoppedAt: time.Now().UTC(),
	}
	r.buf = nil

	r.logger.Infow("recording finalized", "bytes", len(rec.Data), "mime_type", rec.MimeType)
	return rec, nil
}
