package services

import (
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

// ViewerConfig tunes the viewer-side lifecycle. Disconnected and Failed
// are distinct backoff schedules: a transient drop recovers on a gentler
// curve than a hard transport failure.
type ViewerConfig struct {
	InitialOfferDelay   time.Duration
	OfferResendInterval time.Duration
	MaxOfferResends     int
	MaxAttempts         int
	Disconnected        backoff.Policy
	Failed              backoff.Policy
	SubscribePolicy     backoff.Policy
}

// ViewerDeps carries the ports the viewer controller drives.
type ViewerDeps struct {
	Channel    ports.SignalingChannel
	Transports ports.TransportFactory
	Streams    ports.StreamRepository
	Counts     ports.ViewerCountStore
	Metrics    ports.Metrics
	Logger     *zap.SugaredLogger
}

// Viewer runs the watching side of one stream. It initiates the offer,
// recovers silently from transient drops, and gives up into an explicit
// failed phase once the retry budget is spent; only Retry or Disconnect
// move it from there.
type Viewer struct {
	cfg  ViewerConfig
	deps ViewerDeps

	selfID   domain.ParticipantID
	streamID domain.StreamID
	logger   *zap.SugaredLogger

	mu        sync.Mutex
	phase     domain.ViewerPhase
	lastErr   error
	sub       ports.Subscription
	sess      *session.Session
	hostID    domain.ParticipantID
	attempts  int
	counted   bool
	runCancel context.CancelFunc
	runCtx    context.Context

	// offerEpoch invalidates in-flight offer watchdogs when the session
	// is replaced.
	offerEpoch int

	wg sync.WaitGroup
}

func NewViewer(cfg ViewerConfig, streamID domain.StreamID, selfID domain.ParticipantID, deps ViewerDeps) *Viewer {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Viewer{
		cfg:      cfg,
		deps:     deps,
		selfID:   selfID,
		streamID: streamID,
		logger:   logger.With("stream_id", streamID, "participant_id", selfID),
		phase:    domain.PhaseWaiting,
	}
}

// Connect joins the stream. When the stream is not live yet the viewer
// stays in the waiting phase and nothing is set up; callers re-invoke
// Connect once the status flips.
func (v *Viewer) Connect(ctx context.Context) error {
	stream, err := v.deps.Streams.GetByID(ctx, v.streamID)
	if err != nil {
		return fmt.Errorf("failed to load stream: %w", err)
	}
	if domain.ResolveStatus(stream) != domain.StatusLive {
		v.setPhase(domain.PhaseWaiting)
		v.logger.Debugw("stream not live, staying in waiting phase")
		return nil
	}

	v.teardown(false)

	var sub ports.Subscription
	err = backoff.Retry(ctx, v.cfg.SubscribePolicy, func() error {
		var err error
		sub, err = v.deps.Channel.Subscribe(ctx, SignalTopic(v.streamID), v.selfID)
		if err != nil {
			v.logger.Warnw("subscribe failed, retrying", "error", err)
		}
		return err
	})
	if err != nil {
		v.fail(fmt.Errorf("failed to subscribe to signaling topic: %w", err))
		return err
	}

	if _, err := v.deps.Counts.Increment(ctx, v.streamID); err != nil {
		v.logger.Warnw("failed to increment viewer count", "error", err)
	} else {
		v.mu.Lock()
		v.counted = true
		v.mu.Unlock()
	}

	runCtx, cancel := context.WithCancel(context.Background())

	v.mu.Lock()
	v.sub = sub
	v.runCtx = runCtx
	v.runCancel = cancel
	v.phase = domain.PhaseConnecting
	v.lastErr = nil
	v.mu.Unlock()

	join, err := domain.NewSignalingMessage(domain.MessageViewerJoin, v.selfID, "", domain.ViewerJoinPayload{ViewerID: v.selfID})
	if err == nil {
		if err := sub.Publish(ctx, join); err != nil {
			v.logger.Warnw("failed to publish viewer-join", "error", err)
		} else if v.deps.Metrics != nil {
			v.deps.Metrics.MessagePublished(domain.MessageViewerJoin)
		}
	}

	v.wg.Add(1)
	go v.dispatchLoop(runCtx, sub)

	// Eager first offer: do not wait for host-ready, the host may have
	// announced before we subscribed.
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		select {
		case <-runCtx.Done():
			return
		case <-time.After(v.cfg.InitialOfferDelay):
		}
		v.sendOffer(runCtx, true)
	}()

	v.logger.Infow("viewer connecting")
	return nil
}

func (v *Viewer) dispatchLoop(ctx context.Context, sub ports.Subscription) {
	defer v.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			if !msg.IsFor(v.selfID) || msg.SenderID == v.selfID {
				continue
			}
			if v.deps.Metrics != nil {
				v.deps.Metrics.MessageReceived(msg.Type)
			}
			v.handleMessage(ctx, msg)
		}
	}
}

func (v *Viewer) handleMessage(ctx context.Context, msg domain.SignalingMessage) {
	switch msg.Type {
	case domain.MessageAnswer:
		v.handleAnswer(msg)
	case domain.MessageICECandidate:
		v.handleCandidate(msg)
	case domain.MessageHostReady:
		v.handleHostReady(ctx, msg)
	default:
		// Offers and viewer-join come from other viewers; not ours.
	}
}

// sendOffer builds a fresh transport and session when none is active and
// publishes the offer. When watchdog is set, a resend loop re-publishes
// the same offer until it is answered or the resend budget runs out, at
// which point the whole connect cycle restarts.
func (v *Viewer) sendOffer(ctx context.Context, watchdog bool) {
	v.mu.Lock()
	if v.phase == domain.PhaseFailed || v.sub == nil {
		v.mu.Unlock()
		return
	}
	sub := v.sub
	sess := v.sess
	hostID := v.hostID
	v.mu.Unlock()

	if sess == nil {
		transport, err := v.deps.Transports.NewTransport(ctx)
		if err != nil {
			v.logger.Errorw("failed to create transport", "error", err)
			v.onTransportFailure()
			return
		}
		sess = session.New(hostID, transport, v.logger)

		transport.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
			v.publishCandidate(candidate)
		})
		transport.OnConnectionStateChange(func(state domain.TransportState) {
			v.onTransportState(sess, state)
		})

		if err := sess.StartNegotiation(); err != nil {
			sess.Close()
			v.logger.Errorw("failed to start negotiation", "error", err)
			return
		}

		v.mu.Lock()
		if v.sub != sub || v.phase == domain.PhaseFailed {
			v.mu.Unlock()
			sess.Close()
			return
		}
		v.sess = sess
		v.offerEpoch++
		v.mu.Unlock()

		if v.deps.Metrics != nil {
			v.deps.Metrics.SessionOpened()
		}
	}

	if sess.RemoteDescriptionSet() {
		return
	}

	offer, err := sess.Transport().CreateOffer(ctx)
	if err != nil {
		v.logger.Errorw("failed to create offer", "error", err)
		v.onTransportFailure()
		return
	}

	msg, err := domain.NewSignalingMessage(domain.MessageOffer, v.selfID, hostID, domain.OfferPayload{SDP: offer.SDP})
	if err != nil {
		v.logger.Errorw("failed to build offer message", "error", err)
		return
	}
	if err := sub.Publish(ctx, msg); err != nil {
		v.logger.Warnw("failed to publish offer", "error", err)
	} else if v.deps.Metrics != nil {
		v.deps.Metrics.MessagePublished(domain.MessageOffer)
	}

	if watchdog {
		v.mu.Lock()
		epoch := v.offerEpoch
		v.mu.Unlock()
		v.wg.Add(1)
		go v.offerWatchdog(ctx, sess, epoch, msg)
	}
}

// offerWatchdog re-publishes an unanswered offer on a fixed interval. An
// answer, a session replacement, or teardown stops it; exhausting the
// resend budget escalates to a full reconnect.
func (v *Viewer) offerWatchdog(ctx context.Context, sess *session.Session, epoch int, msg domain.SignalingMessage) {
	defer v.wg.Done()

	for resent := 0; resent < v.cfg.MaxOfferResends; resent++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(v.cfg.OfferResendInterval):
		}

		v.mu.Lock()
		stale := v.offerEpoch != epoch || v.sess != sess
		sub := v.sub
		v.mu.Unlock()
		if stale || sub == nil || sess.RemoteDescriptionSet() {
			return
		}

		v.logger.Debugw("resending unanswered offer", "resend", resent+1)
		if err := sub.Publish(ctx, msg); err != nil {
			v.logger.Warnw("failed to republish offer", "error", err)
		}
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(v.cfg.OfferResendInterval):
	}

	v.mu.Lock()
	stale := v.offerEpoch != epoch || v.sess != sess
	v.mu.Unlock()
	if stale || sess.RemoteDescriptionSet() {
		return
	}

	v.logger.Warnw("offer never answered, restarting connection")
	v.onTransportFailure()
}

// handleAnswer applies the host's answer. Anything arriving when no
// answer is expected, a duplicate included, is dropped.
func (v *Viewer) handleAnswer(msg domain.SignalingMessage) {
	v.mu.Lock()
	sess := v.sess
	if v.hostID == "" {
		v.hostID = msg.SenderID
	}
	v.mu.Unlock()

	if sess == nil {
		v.logger.Debugw("dropping answer with no session", "sender_id", msg.SenderID)
		return
	}

	var payload domain.AnswerPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		v.logger.Warnw("failed to decode answer payload", "error", err)
		return
	}

	err := sess.ApplyAnswer(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  payload.SDP,
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrUnexpectedAnswer), errors.Is(err, domain.ErrSessionClosed):
		v.logger.Debugw("dropping unexpected answer", "sender_id", msg.SenderID, "error", err)
	default:
		v.logger.Errorw("failed to apply answer", "error", err)
		v.onTransportFailure()
	}
}

func (v *Viewer) handleCandidate(msg domain.SignalingMessage) {
	var payload domain.ICECandidatePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		v.logger.Warnw("failed to decode candidate payload", "error", err)
		return
	}

	v.mu.Lock()
	sess := v.sess
	v.mu.Unlock()
	if sess == nil {
		// No session yet; the host only sends candidates after our
		// offer, so this is a leftover from a torn-down attempt.
		return
	}
	if err := sess.AddICECandidate(candidateToInit(payload)); err != nil {
		v.logger.Warnw("failed to apply candidate", "error", err)
	}
}

// handleHostReady learns the broadcaster's identity and nudges the offer
// along when the current one has gone unanswered.
func (v *Viewer) handleHostReady(ctx context.Context, msg domain.SignalingMessage) {
	var payload domain.HostReadyPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		v.logger.Warnw("failed to decode host-ready payload", "error", err)
		return
	}
	if payload.StreamID != v.streamID {
		return
	}

	v.mu.Lock()
	v.hostID = payload.BroadcasterID
	sess := v.sess
	v.mu.Unlock()

	if sess != nil && sess.RemoteDescriptionSet() {
		return
	}
	// Either no offer is in flight yet or the one in flight predates the
	// host; offer again without spawning another watchdog.
	v.sendOffer(ctx, sess == nil)
}

func (v *Viewer) publishCandidate(candidate webrtc.ICECandidateInit) {
	v.mu.Lock()
	sub := v.sub
	hostID := v.hostID
	v.mu.Unlock()
	if sub == nil {
		return
	}

	msg, err := domain.NewSignalingMessage(domain.MessageICECandidate, v.selfID, hostID, initToCandidate(candidate))
	if err != nil {
		v.logger.Errorw("failed to build candidate message", "error", err)
		return
	}
	if err := sub.Publish(context.Background(), msg); err != nil {
		v.logger.Warnw("failed to publish candidate", "error", err)
	}
}

func (v *Viewer) onTransportState(sess *session.Session, state domain.TransportState) {
	v.mu.Lock()
	current := v.sess == sess
	v.mu.Unlock()
	if !current {
		return
	}

	v.logger.Debugw("transport state", "state", state)

	switch state {
	case domain.TransportConnected:
		if err := sess.MarkConnected(); err != nil {
			v.logger.Warnw("unexpected connected signal", "error", err)
			return
		}
		v.mu.Lock()
		v.attempts = 0
		v.phase = domain.PhaseConnected
		v.mu.Unlock()
		// Ask for a keyframe so playback starts immediately instead of
		// waiting for the next one in the stream.
		if err := sess.Transport().RequestKeyFrame(); err != nil {
			v.logger.Debugw("keyframe request failed", "error", err)
		}
		v.logger.Infow("viewer connected")

	case domain.TransportDisconnected:
		if err := sess.MarkDisconnected(); err != nil {
			return
		}
		v.setPhase(domain.PhaseReconnecting)
		v.scheduleReconnect(v.cfg.Disconnected)

	case domain.TransportFailed:
		sess.MarkFailed()
		v.setPhase(domain.PhaseReconnecting)
		v.scheduleReconnect(v.cfg.Failed)
	}

	if v.deps.Metrics != nil {
		v.deps.Metrics.SessionStateChanged(sess.State())
	}
}

// onTransportFailure is the non-callback failure path (offer timeout,
// negotiation errors). It burns an attempt on the failed-path schedule.
func (v *Viewer) onTransportFailure() {
	v.setPhase(domain.PhaseReconnecting)
	v.scheduleReconnect(v.cfg.Failed)
}

// scheduleReconnect burns one attempt from the shared budget, waits out
// the policy delay, and rebuilds the session. Past the budget the viewer
// lands in the failed phase for the caller to surface.
func (v *Viewer) scheduleReconnect(policy backoff.Policy) {
	v.mu.Lock()
	if v.phase == domain.PhaseFailed || v.runCtx == nil {
		v.mu.Unlock()
		return
	}
	v.attempts++
	attempt := v.attempts
	ctx := v.runCtx
	if attempt > v.cfg.MaxAttempts {
		v.phase = domain.PhaseFailed
		v.lastErr = domain.ErrRetriesExhausted
		sess := v.sess
		v.sess = nil
		v.mu.Unlock()
		if sess != nil {
			sess.Close()
		}
		v.logger.Warnw("retry budget exhausted", "attempts", attempt-1)
		return
	}
	v.mu.Unlock()

	if v.deps.Metrics != nil {
		v.deps.Metrics.ReconnectAttempt()
	}

	delay := policy.Delay(attempt)
	v.logger.Infow("scheduling reconnect", "attempt", attempt, "delay", delay)

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		v.mu.Lock()
		if v.phase != domain.PhaseReconnecting {
			v.mu.Unlock()
			return
		}
		sess := v.sess
		v.sess = nil
		v.offerEpoch++
		v.mu.Unlock()

		if sess != nil {
			sess.Close()
			if v.deps.Metrics != nil {
				v.deps.Metrics.SessionClosed()
			}
		}

		v.sendOffer(ctx, true)
	}()
}

// Retry restarts a viewer that exhausted its budget. It only acts from
// the failed phase; anywhere else it is a no-op.
func (v *Viewer) Retry(ctx context.Context) error {
	v.mu.Lock()
	if v.phase != domain.PhaseFailed {
		v.mu.Unlock()
		return nil
	}
	v.attempts = 0
	v.lastErr = nil
	v.phase = domain.PhaseWaiting
	v.mu.Unlock()

	return v.Connect(ctx)
}

// Disconnect leaves the stream. Safe in any phase, any number of times.
func (v *Viewer) Disconnect(ctx context.Context) {
	v.teardown(true)
	v.setPhase(domain.PhaseWaiting)
	v.logger.Infow("viewer disconnected")
}

func (v *Viewer) teardown(wait bool) {
	v.mu.Lock()
	cancel := v.runCancel
	sub := v.sub
	sess := v.sess
	counted := v.counted
	v.runCancel = nil
	v.runCtx = nil
	v.sub = nil
	v.sess = nil
	v.counted = false
	v.hostID = ""
	v.offerEpoch++
	v.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		if err := sess.Close(); err != nil {
			v.logger.Warnw("failed to close session", "error", err)
		}
		if v.deps.Metrics != nil {
			v.deps.Metrics.SessionClosed()
		}
	}
	if wait {
		v.wg.Wait()
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			v.logger.Warnw("failed to close subscription", "error", err)
		}
	}
	if counted {
		if _, err := v.deps.Counts.Decrement(context.Background(), v.streamID); err != nil {
			v.logger.Warnw("failed to decrement viewer count", "error", err)
		}
	}
}

func (v *Viewer) setPhase(phase domain.ViewerPhase) {
	v.mu.Lock()
	v.phase = phase
	v.mu.Unlock()
}

func (v *Viewer) fail(err error) {
	v.mu.Lock()
	v.phase = domain.PhaseFailed
	v.lastErr = err
	v.mu.Unlock()
}

// Phase reports the viewer-facing health state.
func (v *Viewer) Phase() domain.ViewerPhase {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.phase
}

// Err returns the terminal error, set only when the phase is failed.
func (v *Viewer) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastErr
}

// ViewerCount reads the shared concurrent-viewer counter.
func (v *Viewer) ViewerCount(ctx context.Context) (int, error) {
	return v.deps.Counts.Get(ctx, v.streamID)
}
