package webrtc

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	// Register local capture drivers.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
)

const rtpMTU = 1200

// CaptureConfig tunes the local encoders.
type CaptureConfig struct {
	VideoBitRate int
}

// Capture acquires camera and microphone media through mediadevices.
type Capture struct {
	cfg    CaptureConfig
	logger *zap.SugaredLogger
}

func NewCapture(cfg CaptureConfig, logger *zap.SugaredLogger) *Capture {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.VideoBitRate <= 0 {
		cfg.VideoBitRate = 1_000_000
	}
	return &Capture{cfg: cfg, logger: logger}
}

func (c *Capture) Acquire(ctx context.Context, constraints domain.CaptureConstraints) (ports.MediaSource, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("failed to init VP8 encoder: %w", err)
	}
	vpxParams.BitRate = c.cfg.VideoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("failed to init Opus encoder: %w", err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaConstraints := mediadevices.MediaStreamConstraints{Codec: selector}
	if constraints.Video {
		mediaConstraints.Video = func(mtc *mediadevices.MediaTrackConstraints) {
			if constraints.Width > 0 {
				mtc.Width = prop.Int(constraints.Width)
			}
			if constraints.Height > 0 {
				mtc.Height = prop.Int(constraints.Height)
			}
		}
	}
	if constraints.Audio {
		mediaConstraints.Audio = func(mtc *mediadevices.MediaTrackConstraints) {}
	}

	stream, err := mediadevices.GetUserMedia(mediaConstraints)
	if err != nil {
		return nil, mapCaptureError(err)
	}

	source := &mediaSource{
		stream: stream,
		codecs: make(map[domain.TrackKind]string),
		pkts:   make(chan ports.MediaPacket, 256),
		stop:   make(chan struct{}),
		logger: c.logger,
	}

	for _, track := range stream.GetVideoTracks() {
		source.tracks = append(source.tracks, track)
		source.codecs[domain.TrackKindVideo] = vpxParams.RTPCodec().MimeType
		source.tee(track.(*mediadevices.VideoTrack), domain.TrackKindVideo, vpxParams.RTPCodec().MimeType)
	}
	for _, track := range stream.GetAudioTracks() {
		source.tracks = append(source.tracks, track)
		source.codecs[domain.TrackKindAudio] = opusParams.RTPCodec().MimeType
		source.tee(track.(*mediadevices.AudioTrack), domain.TrackKindAudio, opusParams.RTPCodec().MimeType)
	}

	c.logger.Infow("capture acquired",
		"video_tracks", len(stream.GetVideoTracks()),
		"audio_tracks", len(stream.GetAudioTracks()),
	)
	return source, nil
}

// mapCaptureError folds driver errors onto the domain taxonomy so
// callers can tell "user said no" from "device is busy".
func mapCaptureError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "denied") || strings.Contains(msg, "not allowed") {
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
}

type rtpTeeTrack interface {
	NewRTPReader(codecName string, ssrc uint32, mtu int) (mediadevices.RTPReadCloser, error)
}

type mediaSource struct {
	stream mediadevices.MediaStream
	tracks []webrtc.TrackLocal
	codecs map[domain.TrackKind]string
	pkts   chan ports.MediaPacket
	logger *zap.SugaredLogger

	mu      sync.Mutex
	readers []mediadevices.RTPReadCloser
	stop    chan struct{}
	closed  bool
}

func (s *mediaSource) Tracks() []webrtc.TrackLocal {
	return s.tracks
}

func (s *mediaSource) Packets() <-chan ports.MediaPacket {
	return s.pkts
}

func (s *mediaSource) Codecs() map[domain.TrackKind]string {
	out := make(map[domain.TrackKind]string, len(s.codecs))
	for k, v := range s.codecs {
		out[k] = v
	}
	return out
}

// tee spins up a dedicated RTP reader feeding the recording channel. A
// full channel drops packets rather than stalling the encoder.
func (s *mediaSource) tee(track rtpTeeTrack, kind domain.TrackKind, codecName string) {
	reader, err := track.NewRTPReader(codecName, rand.Uint32(), rtpMTU)
	if err != nil {
		s.logger.Warnw("recording tee unavailable for track", "kind", kind, "error", err)
		return
	}

	s.mu.Lock()
	s.readers = append(s.readers, reader)
	s.mu.Unlock()

	go func() {
		for {
			packets, release, err := reader.Read()
			if err != nil {
				return
			}
			for _, pkt := range packets {
				select {
				case s.pkts <- ports.MediaPacket{Kind: kind, Packet: pkt}:
				case <-s.stop:
					release()
					return
				default:
				}
			}
			release()
		}
	}()
}

func (s *mediaSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	readers := s.readers
	s.mu.Unlock()

	for _, r := range readers {
		r.Close()
	}
	for _, track := range s.stream.GetTracks() {
		if err := track.Close(); err != nil {
			s.logger.Warnw("failed to close capture track", "error", err)
		}
	}
	// s.pkts stays open; tee goroutines may still be in flight and the
	// recorder stops on its own context, not on channel close.
	return nil
}
