// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	sendBacklog  = 256
	closeGrace   = time.Second
	shutdownText = "Server shutting down"
)

// Client represents one WebSocket connection registered (or about to be
// registered) into a room. The hub owns all of its room-facing state; the
// client itself only owns the socket and its two pump goroutines.
type Client struct {
	id       string
	nick     string
	roomID   string
	joinedAt time.Time

	conn *websocket.Conn
	send chan []byte
	hub  *Hub
	addr string

	closed    atomic.Bool
	closeSend sync.Once

	limiter   *rateLimiter
	rateLimit RateLimitConfig
}

// NewClient creates a Client for an upgraded connection requesting the given
// room and nick. The send channel is buffered so broadcasts never block the
// hub on a slow reader.
func NewClient(conn *websocket.Conn, hub *Hub, addr, roomID, nick string) *Client {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxFrameSize)
	}

	return &Client{
		id:        uuid.NewString(),
		nick:      nick,
		roomID:    roomID,
		joinedAt:  time.Now(),
		conn:      conn,
		send:      make(chan []byte, sendBacklog),
		hub:       hub,
		addr:      addr,
		limiter:   newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit: cfg.RateLimit,
	}
}

// Nick returns the display name this connection claimed at join time.
func (c *Client) Nick() string {
	return c.nick
}

// RoomID returns the room this connection registered under.
func (c *Client) RoomID() string {
	return c.roomID
}

// isOpen reports whether the transport is still considered open. It flips
// false the moment either pump observes a transport failure, which is the
// readyState the sweeps and the duplicate-nick check act on.
func (c *Client) isOpen() bool {
	return !c.closed.Load()
}

func (c *Client) markClosed() {
	c.closed.Store(true)
}

// closeSendChan closes the outbound queue exactly once, no matter whether an
// explicit leave or a sweep reap got there first.
func (c *Client) closeSendChan() {
	c.closeSend.Do(func() {
		close(c.send)
	})
}

// enqueue hands a pre-serialized event to the write pump without blocking.
// It reports false when the client is not open or its backlog is full, in
// which case the caller treats the connection as dead.
func (c *Client) enqueue(payload []byte) bool {
	if !c.isOpen() {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// closeWithCode writes a close frame with the given code and reason, then
// tears down the socket. Used for join rejections (1008) and shutdown (1001).
func (c *Client) closeWithCode(code int, reason string) {
	writeCloseFrame(c.conn, code, reason)
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		log.Printf("Error closing connection for %s: %v", c.addr, err)
	}
}

func writeCloseFrame(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(closeGrace)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !isExpectedCloseError(err) {
		log.Printf("Error writing close frame: %v", err)
	}
}

// setupReadConnection configures the read deadline and pong handler. Pongs
// only extend the deadline; liveness detection is the sweeps' job.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Printf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

// handleReadError logs an appropriate message for a read failure and always
// reports that the read loop should stop: every transport fault is terminal
// for its connection.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		log.Printf("Frame from %s exceeded the %d byte read limit", c.addr, currentConfig().MaxFrameSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.ClosePolicyViolation) {
		log.Printf("Client %s (%s) disconnected: %v", c.id, c.nick, err)
		return true
	}

	if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
		log.Printf("Client %s (%s) connection closed: %v", c.id, c.nick, err)
		return true
	}

	log.Printf("WebSocket read error from %s (%s): %v", c.addr, c.nick, err)
	return true
}

// checkRateLimit reports whether the next inbound payload may be processed.
// Over-limit payloads are discarded, not errored; the connection stays up.
func (c *Client) checkRateLimit() bool {
	if c.limiter != nil && !c.limiter.allow() {
		log.Printf("Rate limit exceeded for %s (%d messages per %s); discarding payload",
			c.nick, c.rateLimit.Burst, c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// readPump forwards every inbound payload to the hub's dispatcher until the
// transport fails, then drives the leave transition.
func (c *Client) readPump() {
	defer func() {
		c.markClosed()
		c.hub.notifyClosed(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing connection in readPump: %v", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if c.handleReadError(err) {
				return
			}
			continue
		}

		if !c.checkRateLimit() {
			continue
		}

		c.hub.dispatch(c, payload)
	}
}

// writePump drains the send channel onto the socket and issues the periodic
// keep-alive ping. It exits when the channel closes or a write fails.
func (c *Client) writePump() {
	ticker := time.NewTicker(currentConfig().PingInterval)
	defer func() {
		ticker.Stop()
		c.markClosed()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing connection in writePump: %v", err)
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !c.writeOutbound(payload, ok) {
				return
			}
		case <-ticker.C:
			if !c.writePing() {
				return
			}
		}
	}
}

// writeOutbound writes one queued event as its own text frame so clients
// always receive exactly one JSON object per frame. It reports whether the
// pump should continue.
func (c *Client) writeOutbound(payload []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Printf("Error setting write deadline for %s: %v", c.addr, err)
		return false
	}

	if !ok {
		// Send channel closed by the hub after leave cleanup.
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error writing close message to %s: %v", c.addr, err)
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error writing message to %s: %v", c.addr, err)
		}
		return false
	}
	return true
}

// writePing issues the keep-alive ping and reports whether the pump should
// continue.
func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Printf("Error setting write deadline for ping to %s: %v", c.addr, err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error writing ping to %s: %v", c.addr, err)
		}
		return false
	}
	return true
}
