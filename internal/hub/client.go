package hub

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ConnConfig carries the per-connection tuning knobs from the server config.
type ConnConfig struct {
	// PongWait is the idle window: a connection that produces no frame and
	// no pong within it is forcibly disconnected.
	PongWait time.Duration
	// PingInterval must be shorter than PongWait.
	PingInterval time.Duration
	// WriteWait bounds every socket write.
	WriteWait time.Duration
	// MaxMessageSize caps one inbound frame in bytes.
	MaxMessageSize int64
	// SendQueueSize is the outbound queue capacity per connection.
	SendQueueSize int
	// RateBurst and RateInterval parameterize the inbound token bucket.
	RateBurst    int
	RateInterval time.Duration
}

type closeNotice struct {
	code   int
	reason string
}

// Client drives one WebSocket connection: a read pump feeding the gateway
// and a write pump draining the bounded outbound queue. It is the Sink the
// rooms deliver through.
type Client struct {
	conn    *websocket.Conn
	gateway *Gateway
	handle  uuid.UUID
	cfg     ConnConfig
	limiter *rateLimiter
	log     *slog.Logger

	send       chan []byte
	kicked     chan closeNotice
	kickOnce   sync.Once
	writerDone chan struct{}
}

// NewClient wraps an upgraded connection. The caller must invoke Run after a
// successful HandleConnect to start the pumps.
func NewClient(conn *websocket.Conn, gateway *Gateway, cfg ConnConfig, log *slog.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	return &Client{
		conn:       conn,
		gateway:    gateway,
		cfg:        cfg,
		limiter:    newRateLimiter(cfg),
		log:        log,
		send:       make(chan []byte, cfg.SendQueueSize),
		kicked:     make(chan closeNotice, 1),
		writerDone: make(chan struct{}),
	}
}

// Enqueue implements Sink. It never blocks; a full queue reports false and
// the room applies its backpressure policy.
func (c *Client) Enqueue(f Frame) bool {
	payload, err := json.Marshal(f)
	if err != nil {
		c.log.Error("failed to encode frame", "kind", f.Kind, "err", err)
		return true
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Kick implements Sink. The first call wins; the write pump flushes what it
// can and closes with the given code.
func (c *Client) Kick(code int, reason string) {
	c.kickOnce.Do(func() {
		c.kicked <- closeNotice{code: code, reason: reason}
	})
}

// Bind records the registry handle after a successful connect.
func (c *Client) Bind(handle uuid.UUID) {
	c.handle = handle
}

// Run starts the pumps and blocks until the read pump exits. The disconnect
// cleanup path is identical for explicit closes, timeouts, and protocol
// errors; the socket itself is released only after the write pump has
// flushed its queue and the close frame.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.gateway.HandleDisconnect(c.handle)
		// The write pump owns the socket close: closing here would race the
		// flush of queued error frames and the distinct close code. Kick is
		// a no-op when a close reason was already chosen.
		c.Kick(CloseNormal, "")
		select {
		case <-c.writerDone:
		case <-time.After(c.cfg.WriteWait):
		}
		_ = c.conn.Close()
	}()

	c.setupReadDeadlines()
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if !c.limiter.allow() {
			c.log.Warn("rate limit exceeded, frame discarded", "handle", c.handle)
			continue
		}
		if err := c.gateway.HandleFrame(c.handle, raw); err != nil {
			c.log.Warn("protocol violation", "handle", c.handle, "err", err)
			c.Kick(CloseProtocolViolation, "protocol violation")
			return
		}
	}
}

func (c *Client) setupReadDeadlines() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.log.Error("setting read deadline", "err", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})
}

// handleReadError classifies the read failure so the matching close code
// reaches the client before the socket goes away.
func (c *Client) handleReadError(err error) {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		c.log.Info("idle connection timed out", "handle", c.handle)
		c.Kick(CloseIdleTimeout, "no heartbeat")
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("inbound frame exceeded size limit", "handle", c.handle, "limit", c.cfg.MaxMessageSize)
		c.Kick(CloseProtocolViolation, "frame too large")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.log.Info("client disconnected", "handle", c.handle)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("connection closed", "handle", c.handle)
	default:
		c.log.Warn("websocket read error", "handle", c.handle, "err", err)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.writerDone)
	}()

	for {
		select {
		case payload := <-c.send:
			if !c.writeFrame(payload) {
				return
			}
		case notice := <-c.kicked:
			c.writeClose(notice)
			return
		case <-ticker.C:
			if !c.writePing() {
				return
			}
		}
	}
}

func (c *Client) writeFrame(payload []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("write failed", "handle", c.handle, "err", err)
		}
		return false
	}
	return true
}

// writeClose drains any frames already queued (an error frame or call.ended
// notice may be waiting) and then sends the close frame.
func (c *Client) writeClose(notice closeNotice) {
	deadline := time.Now().Add(c.cfg.WriteWait)
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(deadline)
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		default:
			msg := websocket.FormatCloseMessage(notice.code, notice.reason)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
			return
		}
	}
}

func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return false
	}
	return c.conn.WriteMessage(websocket.PingMessage, nil) == nil
}
