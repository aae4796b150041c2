package services

import (
	"context"
	"fmt"
	"io"
	"sync"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"

	"github.com/pion/webrtc/v3"
)

type fakeSubscription struct {
	mu        sync.Mutex
	in        chan domain.SignalingMessage
	published []domain.SignalingMessage
	closed    bool
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{in: make(chan domain.SignalingMessage, 64)}
}

func (s *fakeSubscription) Messages() <-chan domain.SignalingMessage { return s.in }

func (s *fakeSubscription) Publish(ctx context.Context, msg domain.SignalingMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published = append(s.published, msg)
	return nil
}

func (s *fakeSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.in)
	}
	return nil
}

func (s *fakeSubscription) deliver(msg domain.SignalingMessage) { s.in <- msg }

func (s *fakeSubscription) sent() []domain.SignalingMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.SignalingMessage, len(s.published))
	copy(out, s.published)
	return out
}

func (s *fakeSubscription) sentOfType(t domain.MessageType) []domain.SignalingMessage {
	var out []domain.SignalingMessage
	for _, m := range s.sent() {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

type fakeChannel struct {
	mu    sync.Mutex
	sub   *fakeSubscription
	err   error
	calls int
}

func (c *fakeChannel) Subscribe(ctx context.Context, topic string, self domain.ParticipantID) (ports.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	if c.sub == nil {
		c.sub = newFakeSubscription()
	}
	return c.sub, nil
}

type fakeTransport struct {
	mu         sync.Mutex
	remoteDesc *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	closed     bool
	keyframes  int
	onICE      func(webrtc.ICECandidateInit)
	onState    func(domain.TransportState)
}

func (t *fakeTransport) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n"}, nil
}

func (t *fakeTransport) CreateAnswer(ctx context.Context) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n"}, nil
}

func (t *fakeTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remoteDesc = &desc
	return nil
}

func (t *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.candidates = append(t.candidates, c)
	return nil
}

func (t *fakeTransport) AddTrack(track webrtc.TrackLocal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = append(t.tracks, track)
	return nil
}

func (t *fakeTransport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onICE = fn
}

func (t *fakeTransport) OnConnectionStateChange(fn func(domain.TransportState)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onState = fn
}

func (t *fakeTransport) RequestKeyFrame() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keyframes++
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) fireState(state domain.TransportState) {
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) appliedCandidates() []webrtc.ICECandidateInit {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(t.candidates))
	copy(out, t.candidates)
	return out
}

type fakeTransportFactory struct {
	mu      sync.Mutex
	created []*fakeTransport
	err     error
}

func (f *fakeTransportFactory) NewTransport(ctx context.Context) (ports.PeerTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	t := &fakeTransport{}
	f.created = append(f.created, t)
	return t, nil
}

func (f *fakeTransportFactory) transport(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.created) {
		return nil
	}
	return f.created[i]
}

func (f *fakeTransportFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeSource struct {
	closed bool
}

func (s *fakeSource) Tracks() []webrtc.TrackLocal              { return nil }
func (s *fakeSource) Packets() <-chan ports.MediaPacket        { return nil }
func (s *fakeSource) Codecs() map[domain.TrackKind]string      { return map[domain.TrackKind]string{domain.TrackKindVideo: "video/VP8"} }
func (s *fakeSource) Close() error                             { s.closed = true; return nil }

type fakeCapture struct {
	err    error
	source ports.MediaSource
}

func (c *fakeCapture) Acquire(ctx context.Context, constraints domain.CaptureConstraints) (ports.MediaSource, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.source == nil {
		c.source = &fakeSource{}
	}
	return c.source, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	started  bool
	stopped  bool
	startErr error
	rec      *domain.Recording
	stopErr  error
}

func (r *fakeRecorder) Start(ctx context.Context, source ports.MediaSource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.started = true
	return nil
}

func (r *fakeRecorder) Stop() (*domain.Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	return r.rec, r.stopErr
}

type fakeStorage struct {
	mu       sync.Mutex
	uploaded map[string][]byte
	err      error
}

func (s *fakeStorage) Upload(ctx context.Context, path string, data io.Reader, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	if s.uploaded == nil {
		s.uploaded = make(map[string][]byte)
	}
	s.uploaded[path] = buf
	return s.PublicURL(path), nil
}

func (s *fakeStorage) PublicURL(path string) string {
	return "https://replays.test/" + path
}

type memStreams struct {
	mu sync.Mutex
	m  map[domain.StreamID]*domain.Stream
}

func newMemStreams() *memStreams {
	return &memStreams{m: make(map[domain.StreamID]*domain.Stream)}
}

func (r *memStreams) Create(ctx context.Context, stream *domain.Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *stream
	r.m[stream.ID] = &cp
	return nil
}

func (r *memStreams) GetByID(ctx context.Context, id domain.StreamID) (*domain.Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if !ok {
		return nil, domain.ErrStreamNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memStreams) Update(ctx context.Context, stream *domain.Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[stream.ID]; !ok {
		return domain.ErrStreamNotFound
	}
	cp := *stream
	r.m[stream.ID] = &cp
	return nil
}

type fakeCounts struct {
	mu sync.Mutex
	n  map[domain.StreamID]int
}

func newFakeCounts() *fakeCounts {
	return &fakeCounts{n: make(map[domain.StreamID]int)}
}

func (c *fakeCounts) Increment(ctx context.Context, id domain.StreamID) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n[id]++
	return c.n[id], nil
}

func (c *fakeCounts) Decrement(ctx context.Context, id domain.StreamID) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n[id] > 0 {
		c.n[id]--
	}
	return c.n[id], nil
}

func (c *fakeCounts) Get(ctx context.Context, id domain.StreamID) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[id], nil
}

var errBoom = fmt.Errorf("boom")
