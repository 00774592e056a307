package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/poolfleet/internal/events"
	"github.com/nerrad567/poolfleet/internal/infrastructure/config"
	"github.com/nerrad567/poolfleet/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound queue length.
	wsSendBufferSize = 256
)

// Broadcast channels.
const (
	// ChannelRegistryChanged carries device.Stats after any registry
	// mutation, and once on subscribe.
	ChannelRegistryChanged = "registry.changed"

	// ChannelDeviceLog carries every device log event. Clients interested in
	// one device subscribe to DeviceLogChannel(serial) instead.
	ChannelDeviceLog = "device.log"
)

// DeviceLogChannel returns the per-device log channel for serial.
func DeviceLogChannel(serial string) string {
	return ChannelDeviceLog + ":" + serial
}

// validChannel reports whether clients may subscribe to ch.
func validChannel(ch string) bool {
	switch ch {
	case ChannelRegistryChanged, ChannelDeviceLog:
		return true
	}
	serial, ok := strings.CutPrefix(ch, ChannelDeviceLog+":")
	return ok && serial != ""
}

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsInbound is WSMessage as read from a client, with the payload left raw
// until the type is known.
type wsInbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub tracks connected clients and their channel subscriptions.
//
// Client subscriptions and the closed flag are guarded by the hub lock, so
// a broadcast never races a client's send channel being closed.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
	initial map[string]func() any

	dropped atomic.Uint64
}

// WSClient is one connected WebSocket.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// Guarded by hub.mu.
	subscriptions map[string]struct{}
	closed        bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
		initial: make(map[string]func() any),
	}
}

// SetInitial registers fn to produce the payload a client receives on
// channel immediately after subscribing to it.
func (h *Hub) SetInitial(channel string, fn func() any) {
	h.mu.Lock()
	h.initial[channel] = fn
	h.mu.Unlock()
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.closeLocked(c)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// Register adds a client, keeping any subscriptions it already has.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	if c.subscriptions == nil {
		c.subscriptions = make(map[string]struct{})
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client and closes its send queue. Calling it twice
// is harmless.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	h.closeLocked(c)
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

func (h *Hub) closeLocked(c *WSClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	c.closed = true
	close(c.send)
}

// Broadcast sends payload as an event on channel to every subscriber.
// Subscribers whose queue is full miss the event; see Dropped.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := encodeFrame(WSMessage{Type: WSTypeEvent, EventType: channel, Payload: payload})
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if _, ok := c.subscriptions[channel]; ok {
			h.enqueueLocked(c, data)
		}
	}
}

// OnLogEvent relays a device log event to subscribed clients, making the
// hub an events.Sink.
func (h *Hub) OnLogEvent(e events.Event) {
	h.Broadcast(ChannelDeviceLog, e)
	h.Broadcast(DeviceLogChannel(e.Serial), e)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many frames were discarded because a client's queue
// was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// enqueueLocked queues data for c without blocking. h.mu must be held,
// read or write.
func (h *Hub) enqueueLocked(c *WSClient, data []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hub) sendTo(c *WSClient, msg WSMessage) {
	data, err := encodeFrame(msg)
	if err != nil {
		h.logger.Error("failed to marshal websocket message", "type", msg.Type, "error", err)
		return
	}
	h.mu.RLock()
	h.enqueueLocked(c, data)
	h.mu.RUnlock()
}

// subscribe adds the valid channels to c and returns them along with the
// ones it refused.
func (h *Hub) subscribe(c *WSClient, channels []string) (accepted, rejected []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range channels {
		if !validChannel(ch) {
			rejected = append(rejected, ch)
			continue
		}
		c.subscriptions[ch] = struct{}{}
		accepted = append(accepted, ch)
	}
	return accepted, rejected
}

// sendInitial queues the initial payload of each channel that has one.
func (h *Hub) sendInitial(c *WSClient, channels []string) {
	for _, ch := range channels {
		h.mu.RLock()
		fn := h.initial[ch]
		h.mu.RUnlock()
		if fn != nil {
			h.sendTo(c, WSMessage{Type: WSTypeEvent, EventType: ch, Payload: fn()})
		}
	}
}

func (h *Hub) unsubscribe(c *WSClient, channels []string) {
	h.mu.Lock()
	for _, ch := range channels {
		delete(c.subscriptions, ch)
	}
	h.mu.Unlock()
}

func encodeFrame(msg WSMessage) ([]byte, error) {
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(msg)
}

// wsTimings are the connection deadlines derived from config.
type wsTimings struct {
	pingEvery  time.Duration
	pongWait   time.Duration
	maxMessage int64
}

func timingsFrom(cfg config.WebSocketConfig) wsTimings {
	t := wsTimings{
		pingEvery:  time.Duration(cfg.PingInterval) * time.Second,
		pongWait:   time.Duration(cfg.PongTimeout) * time.Second,
		maxMessage: int64(cfg.MaxMessageSize),
	}
	if t.pingEvery <= 0 {
		t.pingEvery = 30 * time.Second
	}
	if t.pongWait <= 0 {
		t.pongWait = 10 * time.Second
	}
	if t.maxMessage <= 0 {
		t.maxMessage = 8192
	}
	return t
}

// handleWebSocket upgrades the connection. A client receives nothing until
// it subscribes to at least one channel.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	s.hub.Register(c)

	t := timingsFrom(s.hub.cfg)
	go c.writePump(t)
	go c.readPump(t)
}

func (c *WSClient) readPump(t wsTimings) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(t.pingEvery + t.pongWait))
	}
	c.conn.SetReadLimit(t.maxMessage)
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		// Application traffic counts as liveness too.
		extend() //nolint:errcheck // as above
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump(t wsTimings) {
	ticker := time.NewTicker(t.pingEvery)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(t.pongWait)) //nolint:errcheck // write reports it
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg wsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, errorPayload("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &sub) != nil || len(sub.Channels) == 0 {
			c.reply(msg.ID, WSTypeError, errorPayload(msg.Type+" requires a non-empty channels list"))
			return
		}
		if msg.Type == WSTypeUnsubscribe {
			c.hub.unsubscribe(c, sub.Channels)
			c.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels})
			return
		}
		c.handleSubscribe(msg.ID, sub.Channels)
	default:
		c.reply(msg.ID, WSTypeError, errorPayload("unknown message type: "+msg.Type))
	}
}

func (c *WSClient) handleSubscribe(id string, channels []string) {
	accepted, rejected := c.hub.subscribe(c, channels)
	if len(accepted) == 0 {
		c.reply(id, WSTypeError, map[string]any{"message": "no valid channels", "rejected": rejected})
		return
	}
	c.hub.logger.Debug("websocket client subscribed", "channels", accepted)
	c.reply(id, WSTypeResponse, map[string]any{"subscribed": accepted, "rejected": rejected})
	c.hub.sendInitial(c, accepted)
}

func (c *WSClient) reply(id, msgType string, payload any) {
	c.hub.sendTo(c, WSMessage{Type: msgType, ID: id, Payload: payload})
}

func errorPayload(message string) map[string]string {
	return map[string]string{"message": message}
}
