package services

import (
	"context"
	"testing"
	"time"

	"livecast/internal/core/domain"
	"livecast/pkg/backoff"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type viewerFixture struct {
	v       *Viewer
	channel *fakeChannel
	factory *fakeTransportFactory
	streams *memStreams
	counts  *fakeCounts
}

func newViewerFixture(t *testing.T, live bool) *viewerFixture {
	t.Helper()

	now := time.Now().UTC()
	stream := &domain.Stream{
		ID:            "stream-1",
		BroadcasterID: "host-1",
		Kind:          domain.StreamKindVideo,
		CreatedAt:     now,
	}
	if live {
		stream.IsLive = true
		stream.StartedAt = &now
	}
	streams := newMemStreams()
	require.NoError(t, streams.Create(context.Background(), stream))

	f := &viewerFixture{
		channel: &fakeChannel{},
		factory: &fakeTransportFactory{},
		streams: streams,
		counts:  newFakeCounts(),
	}

	cfg := ViewerConfig{
		InitialOfferDelay:   time.Millisecond,
		OfferResendInterval: 20 * time.Millisecond,
		MaxOfferResends:     2,
		MaxAttempts:         3,
		Disconnected:        backoff.Policy{Base: 2 * time.Millisecond, Multiplier: 1.5, MaxDelay: 10 * time.Millisecond},
		Failed:              backoff.Policy{Base: time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Millisecond},
		SubscribePolicy:     backoff.Policy{Base: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond, MaxAttempts: 3},
	}
	f.v = NewViewer(cfg, "stream-1", "viewer-1", ViewerDeps{
		Channel:    f.channel,
		Transports: f.factory,
		Streams:    streams,
		Counts:     f.counts,
	})
	return f
}

func (f *viewerFixture) connect(t *testing.T) *fakeSubscription {
	t.Helper()
	require.NoError(t, f.v.Connect(context.Background()))
	require.NotNil(t, f.channel.sub)

	// Wait for the eager offer so tests have a session to talk to.
	require.Eventually(t, func() bool {
		return len(f.channel.sub.sentOfType(domain.MessageOffer)) >= 1
	}, 2*time.Second, 2*time.Millisecond)
	return f.channel.sub
}

func deliverAnswer(t *testing.T, sub *fakeSubscription) {
	t.Helper()
	msg, err := domain.NewSignalingMessage(domain.MessageAnswer, "host-1", "viewer-1", domain.AnswerPayload{
		SDP: "v=0\r\no=- 3 3 IN IP4 0.0.0.0\r\ns=-\r\nt=0 0\r\n",
	})
	require.NoError(t, err)
	sub.deliver(msg)
}

func TestViewer_ConnectGatedOnLiveStatus(t *testing.T) {
	f := newViewerFixture(t, false)

	require.NoError(t, f.v.Connect(context.Background()))
	assert.Equal(t, domain.PhaseWaiting, f.v.Phase())
	assert.Equal(t, 0, f.channel.calls)
	assert.Equal(t, 0, f.counts.n["stream-1"])
}

func TestViewer_ConnectJoinsAndOffers(t *testing.T) {
	f := newViewerFixture(t, true)
	sub := f.connect(t)

	assert.Equal(t, domain.PhaseConnecting, f.v.Phase())
	assert.Equal(t, 1, f.counts.n["stream-1"])

	joins := sub.sentOfType(domain.MessageViewerJoin)
	require.Len(t, joins, 1)
	assert.Empty(t, joins[0].TargetID, "viewer-join is a broadcast")

	count, err := f.v.ViewerCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestViewer_AnswerThenConnected(t *testing.T) {
	f := newViewerFixture(t, true)
	sub := f.connect(t)

	deliverAnswer(t, sub)
	require.Eventually(t, func() bool {
		transport := f.factory.transport(0)
		return transport != nil && transport.remoteDesc != nil
	}, 2*time.Second, 2*time.Millisecond)

	f.factory.transport(0).fireState(domain.TransportConnected)
	assert.Equal(t, domain.PhaseConnected, f.v.Phase())
	assert.Equal(t, 1, f.factory.transport(0).keyframes, "connected viewer asks for a keyframe")
}

func TestViewer_DropsUnexpectedAnswer(t *testing.T) {
	f := newViewerFixture(t, true)
	sub := f.connect(t)

	deliverAnswer(t, sub)
	require.Eventually(t, func() bool {
		return f.factory.transport(0).remoteDesc != nil
	}, 2*time.Second, 2*time.Millisecond)
	first := *f.factory.transport(0).remoteDesc

	// A duplicate answer must not be re-applied.
	msg, err := domain.NewSignalingMessage(domain.MessageAnswer, "host-1", "viewer-1", domain.AnswerPayload{SDP: "v=0\r\nduplicate"})
	require.NoError(t, err)
	sub.deliver(msg)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, first.SDP, f.factory.transport(0).remoteDesc.SDP)
}

func TestViewer_CandidatesWaitForAnswer(t *testing.T) {
	f := newViewerFixture(t, true)
	sub := f.connect(t)

	candidate, err := domain.NewSignalingMessage(domain.MessageICECandidate, "host-1", "viewer-1",
		domain.ICECandidatePayload{Candidate: "host-candidate"})
	require.NoError(t, err)
	sub.deliver(candidate)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.factory.transport(0).appliedCandidates())

	deliverAnswer(t, sub)
	require.Eventually(t, func() bool {
		return len(f.factory.transport(0).appliedCandidates()) == 1
	}, 2*time.Second, 2*time.Millisecond)
}

func TestViewer_ResendsUnansweredOffer(t *testing.T) {
	f := newViewerFixture(t, true)
	sub := f.connect(t)

	// No answer ever arrives: the initial offer is resent up to the
	// budget, then the whole connection restarts on a fresh transport.
	require.Eventually(t, func() bool {
		return len(sub.sentOfType(domain.MessageOffer)) >= 3
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return f.factory.count() >= 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, f.factory.transport(0).isClosed())
}

func TestViewer_HostReadyTriggersOffer(t *testing.T) {
	f := newViewerFixture(t, true)
	sub := f.connect(t)
	before := len(sub.sentOfType(domain.MessageOffer))

	ready, err := domain.NewSignalingMessage(domain.MessageHostReady, "host-1", "",
		domain.HostReadyPayload{BroadcasterID: "host-1", StreamID: "stream-1"})
	require.NoError(t, err)
	sub.deliver(ready)

	require.Eventually(t, func() bool {
		offers := sub.sentOfType(domain.MessageOffer)
		return len(offers) > before && offers[len(offers)-1].TargetID == "host-1"
	}, 2*time.Second, 2*time.Millisecond)
}

func TestViewer_IgnoresForeignHostReady(t *testing.T) {
	f := newViewerFixture(t, true)
	sub := f.connect(t)
	before := len(sub.sentOfType(domain.MessageOffer))

	ready, err := domain.NewSignalingMessage(domain.MessageHostReady, "host-9", "",
		domain.HostReadyPayload{BroadcasterID: "host-9", StreamID: "stream-9"})
	require.NoError(t, err)
	sub.deliver(ready)

	time.Sleep(30 * time.Millisecond)
	offers := sub.sentOfType(domain.MessageOffer)
	for _, offer := range offers[before:] {
		assert.NotEqual(t, domain.ParticipantID("host-9"), offer.TargetID)
	}
}

func TestViewer_SilentReconnectOnDisconnect(t *testing.T) {
	f := newViewerFixture(t, true)
	sub := f.connect(t)

	deliverAnswer(t, sub)
	require.Eventually(t, func() bool {
		return f.factory.transport(0).remoteDesc != nil
	}, 2*time.Second, 2*time.Millisecond)
	f.factory.transport(0).fireState(domain.TransportConnected)
	require.Equal(t, domain.PhaseConnected, f.v.Phase())

	f.factory.transport(0).fireState(domain.TransportDisconnected)
	assert.Equal(t, domain.PhaseReconnecting, f.v.Phase())

	// A fresh transport comes up and reconnects without caller action.
	require.Eventually(t, func() bool {
		return f.factory.count() >= 2
	}, 2*time.Second, 2*time.Millisecond)

	deliverAnswer(t, sub)
	require.Eventually(t, func() bool {
		transport := f.factory.transport(1)
		return transport != nil && transport.remoteDesc != nil
	}, 2*time.Second, 2*time.Millisecond)
	f.factory.transport(1).fireState(domain.TransportConnected)
	assert.Equal(t, domain.PhaseConnected, f.v.Phase())
}

func TestViewer_FailsAfterRetryBudget(t *testing.T) {
	f := newViewerFixture(t, true)
	f.connect(t)

	// Every transport fails outright; the budget is three attempts.
	for i := 0; ; i++ {
		require.Eventually(t, func() bool {
			return f.factory.count() > i || f.v.Phase() == domain.PhaseFailed
		}, 2*time.Second, 2*time.Millisecond)
		if f.v.Phase() == domain.PhaseFailed {
			break
		}
		require.Less(t, i, 10, "viewer should have given up by now")
		f.factory.transport(i).fireState(domain.TransportFailed)
	}

	assert.Equal(t, domain.PhaseFailed, f.v.Phase())
	assert.ErrorIs(t, f.v.Err(), domain.ErrRetriesExhausted)

	// Terminal means terminal: no new transports appear on their own.
	count := f.factory.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, f.factory.count())
}

func TestViewer_RetryRestartsAfterFailure(t *testing.T) {
	f := newViewerFixture(t, true)
	f.connect(t)

	for i := 0; f.v.Phase() != domain.PhaseFailed; i++ {
		require.Eventually(t, func() bool {
			return f.factory.count() > i || f.v.Phase() == domain.PhaseFailed
		}, 2*time.Second, 2*time.Millisecond)
		if f.v.Phase() == domain.PhaseFailed {
			break
		}
		require.Less(t, i, 10)
		f.factory.transport(i).fireState(domain.TransportFailed)
	}

	require.NoError(t, f.v.Retry(context.Background()))
	assert.Equal(t, domain.PhaseConnecting, f.v.Phase())
	assert.NoError(t, f.v.Err())
}

func TestViewer_RetryOnlyActsFromFailed(t *testing.T) {
	f := newViewerFixture(t, true)
	f.connect(t)
	calls := f.channel.calls

	require.NoError(t, f.v.Retry(context.Background()))
	assert.Equal(t, calls, f.channel.calls, "retry outside the failed phase is a no-op")
}

func TestViewer_Disconnect(t *testing.T) {
	f := newViewerFixture(t, true)
	f.connect(t)
	require.Equal(t, 1, f.counts.n["stream-1"])

	f.v.Disconnect(context.Background())
	assert.Equal(t, domain.PhaseWaiting, f.v.Phase())
	assert.Equal(t, 0, f.counts.n["stream-1"])
	assert.True(t, f.factory.transport(0).isClosed())

	// Disconnecting again must not go negative or panic.
	f.v.Disconnect(context.Background())
	assert.Equal(t, 0, f.counts.n["stream-1"])
}
