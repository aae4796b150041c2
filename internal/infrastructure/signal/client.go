package signal

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ClientConfig tunes the relay client.
type ClientConfig struct {
	RelayURL         string
	SubscribeTimeout time.Duration
	PublishTimeout   time.Duration
}

// Channel connects to the relay over WebSocket and exposes it as the
// core's signaling port. Every Subscribe call opens its own connection;
// a subscription maps one-to-one onto a relay session.
type Channel struct {
	cfg    ClientConfig
	logger *zap.SugaredLogger
}

func NewChannel(cfg ClientConfig, logger *zap.SugaredLogger) *Channel {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = 10 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &Channel{cfg: cfg, logger: logger}
}

// Subscribe dials the relay, requests the topic, and blocks until the
// relay acknowledges or the subscribe timeout elapses. A missing ack is
// domain.ErrSubscribeTimeout; the caller decides whether to retry.
func (c *Channel) Subscribe(ctx context.Context, topic string, self domain.ParticipantID) (ports.Subscription, error) {
	dialURL, err := url.Parse(c.cfg.RelayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	q := dialURL.Query()
	q.Set("participant_id", string(self))
	dialURL.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, dialURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}

	sub := &subscription{
		conn:   conn,
		topic:  topic,
		self:   self,
		msgs:   make(chan domain.SignalingMessage, 64),
		acks:   make(chan string, 4),
		closed: make(chan struct{}),
		logger: c.logger.With("topic", topic, "participant_id", self),
		wt:     c.cfg.PublishTimeout,
	}
	go sub.readLoop()

	if err := sub.writeFrame(Frame{Op: OpSubscribe, Topic: topic}); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to send subscribe: %w", err)
	}

	timer := time.NewTimer(c.cfg.SubscribeTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			sub.Close()
			return nil, ctx.Err()
		case <-timer.C:
			sub.Close()
			return nil, fmt.Errorf("no ack for topic %s: %w", topic, domain.ErrSubscribeTimeout)
		case <-sub.closed:
			return nil, fmt.Errorf("connection closed before ack: %w", domain.ErrSubscribeTimeout)
		case acked := <-sub.acks:
			if acked == topic {
				c.logger.Debugw("subscribed", "topic", topic, "participant_id", self)
				return sub, nil
			}
		}
	}
}

type subscription struct {
	conn   *websocket.Conn
	topic  string
	self   domain.ParticipantID
	msgs   chan domain.SignalingMessage
	acks   chan string
	logger *zap.SugaredLogger
	wt     time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func (s *subscription) Messages() <-chan domain.SignalingMessage {
	return s.msgs
}

func (s *subscription) Publish(ctx context.Context, msg domain.SignalingMessage) error {
	select {
	case <-s.closed:
		return fmt.Errorf("subscription closed")
	default:
	}

	frame := Frame{Op: OpPublish, Topic: s.topic, Message: &msg}
	if err := s.writeFrame(frame); err != nil {
		return fmt.Errorf("failed to publish %s: %w", msg.Type, err)
	}
	return nil
}

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		// Best effort; the relay drops us on disconnect anyway.
		s.writeFrame(Frame{Op: OpUnsubscribe, Topic: s.topic})
		s.conn.Close()
	})
	return nil
}

func (s *subscription) writeFrame(frame Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.wt))
	return s.conn.WriteJSON(frame)
}

// readLoop turns inbound frames into signaling messages until the
// connection dies. Closing the message channel is the consumer's signal
// that the subscription is gone.
func (s *subscription) readLoop() {
	defer close(s.msgs)

	for {
		var frame Frame
		if err := s.conn.ReadJSON(&frame); err != nil {
			select {
			case <-s.closed:
			default:
				s.logger.Warnw("relay connection lost", "error", err)
				s.Close()
			}
			return
		}

		switch frame.Op {
		case OpAck:
			select {
			case s.acks <- frame.Topic:
			default:
			}
		case OpMessage:
			if frame.Message == nil || frame.Topic != s.topic {
				continue
			}
			select {
			case s.msgs <- *frame.Message:
			case <-s.closed:
				return
			}
		case OpError:
			s.logger.Warnw("relay error", "error", frame.Error)
		}
	}
}
