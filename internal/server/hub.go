// Package server coordinates connection lifecycle, room membership and the
// broadcast fan-out for the chat relay via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Hub owns the shared room state: the message history, the session
// registry and the set of live connections. Every event that changes what
// clients see (join, post, leave) is published under one lock so all
// clients observe the same order.
type Hub struct {
	cfg      Config
	logger   *slog.Logger
	store    *MessageStore
	sessions *SessionRegistry

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	publishMu  sync.Mutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	running    atomic.Bool
	done       chan struct{}
}

// NewHub creates a Hub for cfg. Zero fields of cfg are replaced by defaults.
// A nil logger falls back to slog.Default.
func NewHub(cfg Config, logger *slog.Logger) *Hub {
	cfg = sanitizeConfig(cfg)
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:        cfg,
		logger:     logger,
		store:      NewMessageStore(cfg.HistoryCapacity),
		sessions:   NewSessionRegistry(),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Config returns the sanitized configuration the hub runs with.
func (h *Hub) Config() Config {
	return h.cfg
}

// Store returns the message history.
func (h *Hub) Store() *MessageStore {
	return h.store
}

// Sessions returns the registry of joined connections.
func (h *Hub) Sessions() *SessionRegistry {
	return h.sessions
}

// ClientCount reports the number of live connections, joined or not.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Attach hands a freshly upgraded client to the hub, which starts its pumps.
// It returns false if the hub is shutting down.
func (h *Hub) Attach(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// detach is called once by a client's read pump when the connection ends.
func (h *Hub) detach(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		h.removeClient(client)
	}
}

// Run starts the hub's main event loop, starting pumps for new connections
// and tearing down closed ones. It returns after Shutdown is called. Only
// the first call runs the loop; Run after Shutdown returns immediately.
func (h *Hub) Run() {
	if !h.running.CompareAndSwap(false, true) {
		return
	}
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mutex.Unlock()
			client.logger.Info("client connected", slog.Int("clients", clientCount))

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// removeClient forgets a closed connection, drops its session and tells the
// remaining clients about the new roster.
func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	delete(h.clients, client)
	clientCount := len(h.clients)
	h.mutex.Unlock()

	client.closeSend()
	h.Leave(client)
	client.logger.Info("client removed", slog.Int("clients", clientCount))
}

// Join registers client under name, sends it the history and rebroadcasts
// the roster. Joining again overwrites the previous name.
func (h *Hub) Join(client *Client, name string) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.sessions.Register(client, name)
	client.logger.Info("client joined", slog.String("name", name))

	payload, err := EncodeHistory(h.store.Snapshot())
	if err != nil {
		h.logger.Error("encode history", slog.Any("error", err))
	} else if !client.enqueue(payload) {
		h.prune([]*Client{client})
	}
	h.broadcastRosterLocked()
}

// Post appends text to the history under the display name client joined
// with and broadcasts the resulting message. It fails with ErrNotJoined if
// client has no session.
func (h *Hub) Post(client *Client, text string) (ChatMessage, error) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	name, ok := h.sessions.Lookup(client)
	if !ok {
		return ChatMessage{}, ErrNotJoined
	}
	msg := h.store.Append(name, text)
	h.broadcastMessageLocked(msg)
	return msg, nil
}

// Leave removes client's session, if any, and rebroadcasts the roster.
func (h *Hub) Leave(client *Client) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.sessions.Unregister(client)
	h.broadcastRosterLocked()
}

// BroadcastMessage delivers msg to every joined client.
func (h *Hub) BroadcastMessage(msg ChatMessage) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()
	h.broadcastMessageLocked(msg)
}

// BroadcastRoster delivers the current roster to every joined client.
func (h *Hub) BroadcastRoster() {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()
	h.broadcastRosterLocked()
}

func (h *Hub) broadcastMessageLocked(msg ChatMessage) {
	payload, err := EncodeMessage(msg)
	if err != nil {
		h.logger.Error("encode message", slog.Any("error", err))
		return
	}
	h.fanOut(payload)
}

func (h *Hub) broadcastRosterLocked() {
	payload, err := EncodeUsers(h.sessions.NamesSnapshot())
	if err != nil {
		h.logger.Error("encode roster", slog.Any("error", err))
		return
	}
	h.fanOut(payload)
}

// fanOut offers payload to every joined client. Clients whose queue is
// closed or full are collected and pruned after the pass.
func (h *Hub) fanOut(payload []byte) {
	clients := h.sessions.Clients()

	var failed []*Client
	for _, client := range clients {
		if !client.enqueue(payload) {
			failed = append(failed, client)
		}
	}

	h.logger.Debug("broadcast", slog.Int("targets", len(clients)), slog.Int("failed", len(failed)))
	h.prune(failed)
}

// prune unregisters clients that failed delivery and closes their queues,
// which ends their pumps.
func (h *Hub) prune(failed []*Client) {
	for _, client := range failed {
		if h.sessions.Unregister(client) {
			client.logger.Warn("client removed after failed delivery")
		}
		client.closeSend()
	}
}

// shutdownClients closes every live connection so the pumps exit.
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")

	h.mutex.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.RUnlock()

	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			client.logger.Warn("close client connection", slog.Any("error", err))
		}
	}

	h.logger.Info("closed client connections", slog.Int("count", len(clients)))
}

// Shutdown stops the hub and waits for all client goroutines to finish,
// or until timeout elapses. It is safe to call on a hub whose Run loop was
// never started.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()
	if h.running.CompareAndSwap(false, true) {
		// Run never started; claim it so a later Run does not start either
		close(h.done)
	}
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
