package signal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"livecast/internal/core/domain"
	"livecast/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Frame is the wire envelope between relay and client. The relay only
// routes: it never inspects the signaling message beyond the sender ID.
type Frame struct {
	Op      string                   `json:"op"`
	Topic   string                   `json:"topic,omitempty"`
	Message *domain.SignalingMessage `json:"message,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpAck         = "ack"
	OpPublish     = "publish"
	OpMessage     = "message"
	OpError       = "error"
)

// RelayConfig tunes connection keepalive and abuse limits.
type RelayConfig struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	RateLimitEnabled  bool
	MessagesPerSecond float64
	RateBurst         int
}

type relayClient struct {
	id      domain.ParticipantID
	conn    *websocket.Conn
	send    chan Frame
	limiter *rate.Limiter

	mu     sync.Mutex
	topics map[string]struct{}
	closed bool
}

// Relay is the signaling message broker. Clients subscribe to stream
// topics over a WebSocket and publish envelopes into them; the relay
// fans each envelope out to every other subscriber of the topic. Nothing
// is retained: a message published before a subscription lands is gone.
type Relay struct {
	cfg    RelayConfig
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[domain.ParticipantID]*relayClient
	topics  map[string]map[*relayClient]struct{}
}

func NewRelay(cfg RelayConfig, logger *zap.SugaredLogger) *Relay {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Relay{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[domain.ParticipantID]*relayClient),
		topics:  make(map[string]map[*relayClient]struct{}),
	}
}

func (r *Relay) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	participantID := domain.ParticipantID(req.URL.Query().Get("participant_id"))
	if err := validation.ValidateParticipantID(string(participantID)); err != nil {
		http.Error(w, "invalid participant_id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	client := &relayClient{
		id:     participantID,
		conn:   conn,
		send:   make(chan Frame, 64),
		topics: make(map[string]struct{}),
	}
	if r.cfg.RateLimitEnabled {
		client.limiter = rate.NewLimiter(rate.Limit(r.cfg.MessagesPerSecond), r.cfg.RateBurst)
	}

	r.mu.Lock()
	if existing, ok := r.clients[participantID]; ok {
		// A reconnecting participant supersedes its old connection.
		r.detachLocked(existing)
		existing.shutdown()
		r.logger.Infow("closing old connection for reconnecting participant", "participant_id", participantID)
	}
	r.clients[participantID] = client
	r.mu.Unlock()

	r.logger.Infow("participant connected", "participant_id", participantID)

	go r.writePump(client)
	r.readPump(client)

	r.mu.Lock()
	if r.clients[participantID] == client {
		delete(r.clients, participantID)
	}
	r.detachLocked(client)
	r.mu.Unlock()
	client.shutdown()

	r.logger.Infow("participant disconnected", "participant_id", participantID)
}

// readPump consumes frames from one client until the connection dies.
func (r *Relay) readPump(client *relayClient) {
	conn := client.conn
	conn.SetReadDeadline(time.Now().Add(r.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(r.cfg.PongTimeout))
		return nil
	})

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.logger.Infow("read error", "participant_id", client.id, "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(r.cfg.PongTimeout))

		if client.limiter != nil && !client.limiter.Allow() {
			client.enqueue(Frame{Op: OpError, Error: "rate limit exceeded"})
			continue
		}

		if err := r.handleFrame(client, frame); err != nil {
			r.logger.Debugw("frame rejected", "participant_id", client.id, "op", frame.Op, "error", err)
			client.enqueue(Frame{Op: OpError, Topic: frame.Topic, Error: err.Error()})
		}
	}
}

// writePump owns all writes on the connection, preserving per-sender
// order and keeping the peer alive with pings.
func (r *Relay) writePump(client *relayClient) {
	ticker := time.NewTicker(r.cfg.PingInterval)
	defer ticker.Stop()
	defer client.conn.Close()

	for {
		select {
		case frame, ok := <-client.send:
			if !ok {
				client.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
			if err := client.conn.WriteJSON(frame); err != nil {
				r.logger.Debugw("write error", "participant_id", client.id, "error", err)
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(r.cfg.WriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (r *Relay) handleFrame(client *relayClient, frame Frame) error {
	switch frame.Op {
	case OpSubscribe:
		if err := validation.ValidateTopic(frame.Topic); err != nil {
			return err
		}
		r.subscribe(client, frame.Topic)
		client.enqueue(Frame{Op: OpAck, Topic: frame.Topic})
		return nil

	case OpUnsubscribe:
		r.unsubscribe(client, frame.Topic)
		return nil

	case OpPublish:
		if err := validation.ValidateTopic(frame.Topic); err != nil {
			return err
		}
		if frame.Message == nil {
			return fmt.Errorf("publish frame carries no message")
		}
		if frame.Message.SenderID != client.id {
			return fmt.Errorf("sender_id mismatch: expected %s, got %s", client.id, frame.Message.SenderID)
		}
		r.broadcast(client, frame.Topic, frame.Message)
		return nil

	default:
		return fmt.Errorf("unknown op: %s", frame.Op)
	}
}

func (r *Relay) subscribe(client *relayClient, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.topics[topic]
	if !ok {
		subs = make(map[*relayClient]struct{})
		r.topics[topic] = subs
	}
	subs[client] = struct{}{}

	client.mu.Lock()
	client.topics[topic] = struct{}{}
	client.mu.Unlock()

	r.logger.Debugw("subscribed", "participant_id", client.id, "topic", topic, "subscribers", len(subs))
}

func (r *Relay) unsubscribe(client *relayClient, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if subs, ok := r.topics[topic]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(r.topics, topic)
		}
	}

	client.mu.Lock()
	delete(client.topics, topic)
	client.mu.Unlock()
}

// broadcast fans a message out to every topic subscriber except the
// sender. A subscriber with a full send queue is dropped rather than
// allowed to stall the rest of the topic.
func (r *Relay) broadcast(sender *relayClient, topic string, msg *domain.SignalingMessage) {
	r.mu.RLock()
	subs := make([]*relayClient, 0, len(r.topics[topic]))
	for client := range r.topics[topic] {
		if client != sender {
			subs = append(subs, client)
		}
	}
	r.mu.RUnlock()

	frame := Frame{Op: OpMessage, Topic: topic, Message: msg}
	for _, client := range subs {
		if !client.enqueue(frame) {
			r.logger.Warnw("dropping slow subscriber", "participant_id", client.id, "topic", topic)
			r.mu.Lock()
			r.detachLocked(client)
			if r.clients[client.id] == client {
				delete(r.clients, client.id)
			}
			r.mu.Unlock()
			client.shutdown()
		}
	}
}

// detachLocked removes the client from every topic. Caller holds r.mu.
func (r *Relay) detachLocked(client *relayClient) {
	client.mu.Lock()
	topics := make([]string, 0, len(client.topics))
	for topic := range client.topics {
		topics = append(topics, topic)
	}
	client.topics = make(map[string]struct{})
	client.mu.Unlock()

	for _, topic := range topics {
		if subs, ok := r.topics[topic]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(r.topics, topic)
			}
		}
	}
}

// ConnectedParticipants reports how many clients are attached.
func (r *Relay) ConnectedParticipants() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// TopicSubscribers reports how many clients are subscribed to a topic.
func (r *Relay) TopicSubscribers(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

func (r *Relay) HealthCheck(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	clients := len(r.clients)
	topics := len(r.topics)
	r.mu.RUnlock()

	response := map[string]interface{}{
		"status":       "healthy",
		"timestamp":    time.Now().Unix(),
		"participants": clients,
		"topics":       topics,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (c *relayClient) enqueue(frame Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *relayClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
