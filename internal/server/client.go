// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client represents a WebSocket client connection in the chat system.
// It owns the connection's protocol session, its outbound queue and the
// pumps that move frames between the socket and the hub.
type Client struct {
	conn        *websocket.Conn
	send        chan []byte
	hub         *Hub
	addr        string
	session     *Session
	rateLimiter *rateLimiter
	rateLimit   RateLimitConfig
	logger      *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewClient creates a new Client bound to hub. The outbound queue size,
// frame limit and rate limit come from the hub's configuration. The frame
// limit only guards against abuse; it sits well above any frame carrying
// text of the maximum length. conn may be nil in tests that only exercise
// the queue.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := hub.Config()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	var limiter *rateLimiter
	if cfg.RateLimit.Burst > 0 {
		limiter = newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval)
	}

	return &Client{
		conn:        conn,
		send:        make(chan []byte, cfg.SendBufferSize),
		hub:         hub,
		addr:        addr,
		session:     NewSession(cfg.MaxTextLength),
		rateLimiter: limiter,
		rateLimit:   cfg.RateLimit,
		logger:      hub.logger.With(slog.String("addr", addr)),
	}
}

// GetSendChan returns the client's send channel for reading outgoing messages.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Addr returns the remote address of the connection.
func (c *Client) Addr() string {
	return c.addr
}

// enqueue queues payload for delivery without blocking. It returns false
// when the client is closed or its queue is full.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// closeSend closes the outbound queue once, which makes the write pump send
// a close frame and stop.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// sendError reports a protocol violation to this connection only.
func (c *Client) sendError(reason error) {
	payload, err := EncodeError(reason.Error())
	if err != nil {
		c.logger.Error("encode error event", slog.Any("error", err))
		return
	}
	if !c.enqueue(payload) {
		c.logger.Warn("dropping error event", slog.String("reason", reason.Error()))
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("set initial read deadline", slog.Any("error", err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("set read deadline in pong handler", slog.Any("error", err))
		}
		return nil
	})
}

// handleReadError logs the reason the read loop is ending.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("frame exceeded maximum size", slog.Int64("max_bytes", c.hub.Config().MaxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Info("client disconnected", slog.Any("reason", err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info("connection closed", slog.Any("reason", err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn("unexpected websocket close", slog.Any("error", err))
	default:
		c.logger.Warn("websocket read error", slog.Any("error", err))
	}
}

// checkRateLimit reports whether the next frame may be processed. A
// throttled frame is answered with a rate limited error.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.allow() {
		c.logger.Warn("rate limit exceeded; rejecting frame",
			slog.Int("burst", c.rateLimit.Burst),
			slog.Duration("interval", c.rateLimit.RefillInterval))
		c.sendError(ErrRateLimited)
		return false
	}
	return true
}

// processMessage decodes one inbound frame, runs it through the session
// state machine and applies the resulting action to the hub.
func (c *Client) processMessage(rawMessage []byte) {
	ev, err := DecodeEvent(rawMessage)
	if err != nil {
		c.logger.Debug("rejected frame", slog.Any("error", err))
		c.sendError(err)
		return
	}

	action, err := c.session.Handle(ev)
	if err != nil {
		c.logger.Debug("protocol violation", slog.Any("error", err), slog.String("state", c.session.State().String()))
		c.sendError(err)
		return
	}

	switch action.Kind {
	case ActionJoin:
		c.hub.Join(c, action.Value)
	case ActionPost:
		if _, err := c.hub.Post(c, action.Value); err != nil {
			c.sendError(err)
		}
	}
}

// leave runs the close transition: the session becomes terminal and the hub
// drops the connection and rebroadcasts the roster.
func (c *Client) leave() {
	c.session.Close()
	c.hub.detach(c)
}

func (c *Client) readPump() {
	defer func() {
		c.leave()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Warn("close connection in readPump", slog.Any("error", err))
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection closes the WebSocket connection, swallowing expected errors.
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("close connection in writePump", slog.Any("error", err))
	}
}

// handleMessage writes one outgoing event and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("set write deadline", slog.Any("error", err))
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("write message", slog.Any("error", err))
		}
		// a dead socket is pruned from the roster on the next pass
		c.closeSend()
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	err := c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("write close message", slog.Any("error", err))
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("set write deadline for ping", slog.Any("error", err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn("write ping", slog.Any("error", err))
		return false
	}
	return true
}
