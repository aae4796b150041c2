package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"
	"livecast/internal/core/session"
	"livecast/pkg/backoff"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// BroadcasterConfig tunes the host-side lifecycle.
type BroadcasterConfig struct {
	AnnounceInterval time.Duration
	GoLiveBurst      int
	BurstSpacing     time.Duration
	SubscribePolicy  backoff.Policy
	RecordingEnabled bool
}

// BroadcasterDeps carries the ports the controller drives.
type BroadcasterDeps struct {
	Channel    ports.SignalingChannel
	Transports ports.TransportFactory
	Capture    ports.CaptureDevice
	Recorder   ports.Recorder
	Storage    ports.BlobStorage
	Streams    ports.StreamRepository
	Counts     ports.ViewerCountStore
	Metrics    ports.Metrics
	Logger     *zap.SugaredLogger
}

// EndResult reports the outcome of ending a stream. A replay upload
// failure shows up here instead of failing the end itself.
type EndResult struct {
	ReplaySaved bool
	ReplayURL   string
	ReplayErr   error
}

// Broadcaster runs the host side of one stream: it acquires local media,
// announces readiness on the signaling topic, answers viewer offers with
// a dedicated peer session each, and finalizes the recording when the
// stream ends.
type Broadcaster struct {
	cfg  BroadcasterConfig
	deps BroadcasterDeps

	selfID   domain.ParticipantID
	streamID domain.StreamID
	logger   *zap.SugaredLogger

	mu           sync.Mutex
	captureState domain.CaptureState
	source       ports.MediaSource
	sub          ports.Subscription
	sessions     map[domain.ParticipantID]*session.Session
	queue        *session.CandidateQueue
	recording    bool
	ended        bool
	runCancel    context.CancelFunc

	wg sync.WaitGroup
}

func NewBroadcaster(cfg BroadcasterConfig, stream *domain.Stream, deps BroadcasterDeps) *Broadcaster {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Broadcaster{
		cfg:      cfg,
		deps:     deps,
		selfID:   stream.BroadcasterID,
		streamID: stream.ID,
		logger:   logger.With("stream_id", stream.ID, "participant_id", stream.BroadcasterID),
		sessions: make(map[domain.ParticipantID]*session.Session),
		queue:    session.NewCandidateQueue(),
	}
}

// StartCapture acquires local media and reports the outcome. A permission
// refusal is distinguished from device trouble because only the latter is
// worth retrying without user intervention outside the app.
func (b *Broadcaster) StartCapture(ctx context.Context, constraints domain.CaptureConstraints) (domain.CaptureState, error) {
	source, err := b.deps.Capture.Acquire(ctx, constraints)
	if err != nil {
		state := domain.CaptureError
		if errors.Is(err, domain.ErrPermissionDenied) {
			state = domain.CaptureDenied
		}
		b.mu.Lock()
		b.captureState = state
		b.mu.Unlock()

		b.logger.Warnw("capture acquisition failed", "state", state, "error", err)
		return state, err
	}

	b.mu.Lock()
	b.captureState = domain.CaptureReady
	b.source = source
	b.mu.Unlock()

	b.logger.Infow("capture ready", "codecs", source.Codecs())
	return domain.CaptureReady, nil
}

// Start subscribes to the stream's signaling topic and begins the
// periodic readiness announcements. Capture must be ready first.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.captureState != domain.CaptureReady {
		b.mu.Unlock()
		return domain.ErrNoCapture
	}
	if b.sub != nil {
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	var sub ports.Subscription
	err := backoff.Retry(ctx, b.cfg.SubscribePolicy, func() error {
		var err error
		sub, err = b.deps.Channel.Subscribe(ctx, SignalTopic(b.streamID), b.selfID)
		if err != nil {
			b.logger.Warnw("subscribe failed, retrying", "error", err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to signaling topic: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	b.sub = sub
	b.runCancel = cancel
	b.mu.Unlock()

	b.wg.Add(2)
	go b.dispatchLoop(runCtx, sub)
	go b.announceLoop(runCtx, sub)

	b.logger.Infow("broadcaster started")
	return nil
}

// dispatchLoop routes inbound signaling until the subscription closes.
func (b *Broadcaster) dispatchLoop(ctx context.Context, sub ports.Subscription) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			if !msg.IsFor(b.selfID) || msg.SenderID == b.selfID {
				continue
			}
			if b.deps.Metrics != nil {
				b.deps.Metrics.MessageReceived(msg.Type)
			}
			b.handleMessage(ctx, sub, msg)
		}
	}
}

func (b *Broadcaster) handleMessage(ctx context.Context, sub ports.Subscription, msg domain.SignalingMessage) {
	switch msg.Type {
	case domain.MessageOffer:
		if err := b.handleOffer(ctx, sub, msg); err != nil {
			b.logger.Errorw("failed to handle offer", "viewer_id", msg.SenderID, "error", err)
		}
	case domain.MessageICECandidate:
		b.handleCandidate(msg)
	case domain.MessageViewerJoin:
		b.handleViewerJoin(ctx, sub, msg)
	default:
		// Answers and host-ready originate from this side; nothing to do.
	}
}

// announceLoop publishes host-ready on a fixed cadence so viewers that
// subscribed before the host, or missed an earlier announcement, still
// converge.
func (b *Broadcaster) announceLoop(ctx context.Context, sub ports.Subscription) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.AnnounceInterval)
	defer ticker.Stop()

	b.announce(ctx, sub, "")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.announce(ctx, sub, "")
		}
	}
}

func (b *Broadcaster) announce(ctx context.Context, sub ports.Subscription, target domain.ParticipantID) {
	msg, err := domain.NewSignalingMessage(domain.MessageHostReady, b.selfID, target, domain.HostReadyPayload{
		BroadcasterID: b.selfID,
		StreamID:      b.streamID,
	})
	if err != nil {
		b.logger.Errorw("failed to build host-ready", "error", err)
		return
	}
	if err := sub.Publish(ctx, msg); err != nil {
		b.logger.Warnw("failed to publish host-ready", "error", err)
		return
	}
	if b.deps.Metrics != nil {
		b.deps.Metrics.MessagePublished(domain.MessageHostReady)
	}
}

// GoLive marks the stream live, starts the recorder, and bursts a few
// extra announcements so waiting viewers attach quickly.
func (b *Broadcaster) GoLive(ctx context.Context) error {
	b.mu.Lock()
	sub := b.sub
	source := b.source
	ended := b.ended
	b.mu.Unlock()

	if sub == nil {
		return fmt.Errorf("broadcaster not started")
	}
	if ended {
		return domain.ErrStreamEnded
	}

	stream, err := b.deps.Streams.GetByID(ctx, b.streamID)
	if err != nil {
		return fmt.Errorf("failed to load stream: %w", err)
	}
	if !stream.IsLive {
		now := time.Now().UTC()
		stream.IsLive = true
		stream.StartedAt = &now
		if err := b.deps.Streams.Update(ctx, stream); err != nil {
			return fmt.Errorf("failed to mark stream live: %w", err)
		}
	}

	if b.cfg.RecordingEnabled && b.deps.Recorder != nil {
		if err := b.deps.Recorder.Start(ctx, source); err != nil {
			// An unmatchable encoding means the stream runs without a
			// replay, not that going live fails.
			if errors.Is(err, domain.ErrNoSupportedEncoding) {
				b.logger.Warnw("recording skipped", "error", err)
			} else {
				b.logger.Errorw("failed to start recorder", "error", err)
			}
		} else {
			b.mu.Lock()
			b.recording = true
			b.mu.Unlock()
		}
	}

	for i := 0; i < b.cfg.GoLiveBurst; i++ {
		b.announce(ctx, sub, "")
		if i < b.cfg.GoLiveBurst-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.cfg.BurstSpacing):
			}
		}
	}

	b.logger.Infow("stream live")
	return nil
}

// EndStream stops the broadcast: peer sessions close, the stream record
// flips to ended, and the recording is finalized. When saveReplay is set
// the recording is uploaded best-effort; an upload failure lands in the
// result, never in the returned error. Calling EndStream again returns
// the same no-replay outcome without side effects.
func (b *Broadcaster) EndStream(ctx context.Context, saveReplay bool) (*EndResult, error) {
	b.mu.Lock()
	if b.ended {
		b.mu.Unlock()
		return &EndResult{}, nil
	}
	b.ended = true
	cancel := b.runCancel
	sub := b.sub
	source := b.source
	recording := b.recording
	sessions := make([]*session.Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.sessions = make(map[domain.ParticipantID]*session.Session)
	b.queue = session.NewCandidateQueue()
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	for _, s := range sessions {
		if err := s.Close(); err != nil {
			b.logger.Warnw("failed to close peer session", "viewer_id", s.RemoteID(), "error", err)
		}
		if b.deps.Metrics != nil {
			b.deps.Metrics.SessionClosed()
		}
	}

	result := &EndResult{}
	if recording && b.deps.Recorder != nil {
		rec, err := b.deps.Recorder.Stop()
		switch {
		case err != nil:
			b.logger.Warnw("failed to finalize recording", "error", err)
			result.ReplayErr = err
		case rec == nil:
			// Nothing was buffered; no replay to save.
		case saveReplay:
			result.ReplaySaved, result.ReplayURL, result.ReplayErr = b.uploadReplay(ctx, rec)
		}
	}

	stream, err := b.deps.Streams.GetByID(ctx, b.streamID)
	if err != nil {
		return result, fmt.Errorf("failed to load stream: %w", err)
	}
	now := time.Now().UTC()
	stream.IsLive = false
	stream.EndedAt = &now
	stream.ReplayAvailable = result.ReplaySaved
	stream.ReplayURL = result.ReplayURL
	if err := b.deps.Streams.Update(ctx, stream); err != nil {
		return result, fmt.Errorf("failed to mark stream ended: %w", err)
	}

	b.wg.Wait()
	if sub != nil {
		if err := sub.Close(); err != nil {
			b.logger.Warnw("failed to close subscription", "error", err)
		}
	}
	if source != nil {
		if err := source.Close(); err != nil {
			b.logger.Warnw("failed to close capture", "error", err)
		}
	}

	b.logger.Infow("stream ended", "replay_saved", result.ReplaySaved)
	return result, nil
}

func (b *Broadcaster) uploadReplay(ctx context.Context, rec *domain.Recording) (bool, string, error) {
	if b.deps.Storage == nil {
		return false, "", fmt.Errorf("no replay storage configured")
	}
	path := fmt.Sprintf("%s/%d", b.streamID, rec.StoppedAt.Unix())
	url, err := b.deps.Storage.Upload(ctx, path, bytes.NewReader(rec.Data), rec.MimeType)
	if err != nil {
		b.logger.Warnw("replay upload failed", "error", err)
		return false, "", err
	}
	if b.deps.Metrics != nil {
		b.deps.Metrics.RecordingFinalized(len(rec.Data))
	}
	return true, url, nil
}

// handleOffer tears down any existing session for the sender before
// answering, so a viewer re-offer always lands on a clean transport.
func (b *Broadcaster) handleOffer(ctx context.Context, sub ports.Subscription, msg domain.SignalingMessage) error {
	var payload domain.OfferPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return fmt.Errorf("failed to decode offer payload: %w", err)
	}
	viewerID := msg.SenderID

	b.mu.Lock()
	if prev, ok := b.sessions[viewerID]; ok {
		delete(b.sessions, viewerID)
		b.queue.Forget(viewerID)
		b.mu.Unlock()
		if err := prev.Close(); err != nil {
			b.logger.Warnw("failed to close stale session", "viewer_id", viewerID, "error", err)
		}
		if b.deps.Metrics != nil {
			b.deps.Metrics.SessionClosed()
		}
		b.mu.Lock()
	}
	source := b.source
	b.mu.Unlock()

	transport, err := b.deps.Transports.NewTransport(ctx)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	if source != nil {
		for _, track := range source.Tracks() {
			if err := transport.AddTrack(track); err != nil {
				transport.Close()
				return fmt.Errorf("failed to attach track: %w", err)
			}
		}
	}

	sess := session.New(viewerID, transport, b.logger)

	transport.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		m, err := domain.NewSignalingMessage(domain.MessageICECandidate, b.selfID, viewerID, initToCandidate(candidate))
		if err != nil {
			b.logger.Errorw("failed to build candidate message", "error", err)
			return
		}
		if err := sub.Publish(context.Background(), m); err != nil {
			b.logger.Warnw("failed to publish candidate", "viewer_id", viewerID, "error", err)
		}
	})
	transport.OnConnectionStateChange(func(state domain.TransportState) {
		b.onTransportState(viewerID, sess, state)
	})

	if err := sess.StartNegotiation(); err != nil {
		sess.Close()
		return err
	}

	b.mu.Lock()
	if b.ended {
		b.mu.Unlock()
		sess.Close()
		return domain.ErrStreamEnded
	}
	b.sessions[viewerID] = sess
	queued := b.queue.Drain(viewerID)
	b.mu.Unlock()

	if b.deps.Metrics != nil {
		b.deps.Metrics.SessionOpened()
	}

	if err := sess.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  payload.SDP,
	}); err != nil {
		b.removeSession(viewerID, sess)
		return err
	}
	for _, c := range queued {
		if err := sess.AddICECandidate(c); err != nil {
			b.logger.Warnw("failed to apply buffered candidate", "viewer_id", viewerID, "error", err)
		}
	}

	answer, err := transport.CreateAnswer(ctx)
	if err != nil {
		b.removeSession(viewerID, sess)
		return fmt.Errorf("failed to create answer: %w", err)
	}

	reply, err := domain.NewSignalingMessage(domain.MessageAnswer, b.selfID, viewerID, domain.AnswerPayload{SDP: answer.SDP})
	if err != nil {
		b.removeSession(viewerID, sess)
		return err
	}
	if err := sub.Publish(ctx, reply); err != nil {
		b.removeSession(viewerID, sess)
		return fmt.Errorf("failed to publish answer: %w", err)
	}
	if b.deps.Metrics != nil {
		b.deps.Metrics.MessagePublished(domain.MessageAnswer)
	}

	b.logger.Infow("answered viewer offer", "viewer_id", viewerID)
	return nil
}

// handleCandidate routes a remote candidate to its session, or buffers it
// when the offer has not arrived yet. Candidates for unknown peers after
// teardown fall out of the buffer unnoticed, which is the intended fate.
func (b *Broadcaster) handleCandidate(msg domain.SignalingMessage) {
	var payload domain.ICECandidatePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		b.logger.Warnw("failed to decode candidate payload", "viewer_id", msg.SenderID, "error", err)
		return
	}
	candidate := candidateToInit(payload)

	b.mu.Lock()
	sess, ok := b.sessions[msg.SenderID]
	if !ok {
		if !b.ended {
			b.queue.Enqueue(msg.SenderID, candidate)
		}
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	if err := sess.AddICECandidate(candidate); err != nil {
		b.logger.Warnw("failed to apply candidate", "viewer_id", msg.SenderID, "error", err)
	}
}

// handleViewerJoin re-announces directly to the joining viewer so it does
// not have to wait out the broadcast announce interval.
func (b *Broadcaster) handleViewerJoin(ctx context.Context, sub ports.Subscription, msg domain.SignalingMessage) {
	b.mu.Lock()
	ready := b.captureState == domain.CaptureReady && !b.ended
	b.mu.Unlock()
	if !ready {
		return
	}
	b.announce(ctx, sub, msg.SenderID)
}

func (b *Broadcaster) onTransportState(viewerID domain.ParticipantID, sess *session.Session, state domain.TransportState) {
	b.logger.Debugw("viewer transport state", "viewer_id", viewerID, "state", state)

	switch state {
	case domain.TransportConnected:
		if err := sess.MarkConnected(); err != nil {
			b.logger.Warnw("unexpected connected signal", "viewer_id", viewerID, "error", err)
		}
	case domain.TransportDisconnected:
		// The viewer drives its own reconnect; the host just records it.
		if err := sess.MarkDisconnected(); err != nil {
			b.logger.Debugw("disconnect after teardown", "viewer_id", viewerID, "error", err)
		}
	case domain.TransportFailed:
		sess.MarkFailed()
		b.removeSession(viewerID, sess)
	case domain.TransportClosed:
		b.removeSession(viewerID, sess)
	}

	if b.deps.Metrics != nil {
		b.deps.Metrics.SessionStateChanged(sess.State())
	}
}

// removeSession drops the registered session for a viewer, but only when
// it is still the registered one; a replacement offer may already have
// installed a newer session under the same viewer ID.
func (b *Broadcaster) removeSession(viewerID domain.ParticipantID, sess *session.Session) {
	b.mu.Lock()
	current, ok := b.sessions[viewerID]
	if ok && current == sess {
		delete(b.sessions, viewerID)
		b.queue.Forget(viewerID)
	}
	b.mu.Unlock()

	if err := sess.Close(); err != nil {
		b.logger.Warnw("failed to close session", "viewer_id", viewerID, "error", err)
	}
	if ok && b.deps.Metrics != nil {
		b.deps.Metrics.SessionClosed()
	}
}

// Status derives the stream lifecycle from the persisted record.
func (b *Broadcaster) Status(ctx context.Context) (domain.StreamStatus, error) {
	stream, err := b.deps.Streams.GetByID(ctx, b.streamID)
	if err != nil {
		return domain.StatusDraft, err
	}
	return domain.ResolveStatus(stream), nil
}

// ViewerCount reads the shared concurrent-viewer counter.
func (b *Broadcaster) ViewerCount(ctx context.Context) (int, error) {
	return b.deps.Counts.Get(ctx, b.streamID)
}

// Sessions snapshots the per-viewer connection states.
func (b *Broadcaster) Sessions() map[domain.ParticipantID]domain.SessionState {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[domain.ParticipantID]domain.SessionState, len(b.sessions))
	for id, s := range b.sessions {
		out[id] = s.State()
	}
	return out
}

// CaptureState reports the last capture acquisition outcome.
func (b *Broadcaster) CaptureState() domain.CaptureState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.captureState
}
