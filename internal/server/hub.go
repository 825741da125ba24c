// Package server coordinates room membership, event broadcast, liveness
// sweeping, and connection cleanup for the RoomChat system via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

// inboundFrame is one raw payload read off a client's socket, queued for the
// dispatcher.
type inboundFrame struct {
	client  *Client
	payload []byte
}

// Hub owns the RoomStore and every room's state. All joins, leaves, inbound
// payloads, and sweep passes funnel through a single dispatcher goroutine
// (Run), so no two mutations of a room ever interleave. Socket writes leave
// the dispatcher through each client's buffered send channel and never block.
type Hub struct {
	store *RoomStore

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub with an empty room store, ready to accept
// registrations once Run is started.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		store:      NewRoomStore(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundFrame, 64),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Register submits a freshly upgraded connection for validation and join.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		c.closeWithCode(websocket.CloseGoingAway, shutdownText)
	}
}

// notifyClosed reports a transport close/error observed by a pump. Safe to
// call during shutdown, when the dispatcher is no longer draining.
func (h *Hub) notifyClosed(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

// dispatch queues one inbound payload for the dispatcher.
func (h *Hub) dispatch(c *Client, payload []byte) {
	select {
	case h.inbound <- inboundFrame{client: c, payload: payload}:
	case <-h.ctx.Done():
	}
}

// Run is the hub's dispatcher loop. It must be started in its own goroutine
// and runs until Shutdown cancels it. The sweep tickers share this loop so
// timer-driven reaps obey the same serialization as regular events.
func (h *Hub) Run() {
	defer close(h.done)

	cfg := currentConfig()
	terminateTicker := time.NewTicker(cfg.TerminateSweep)
	refilterTicker := time.NewTicker(cfg.RefilterSweep)
	defer terminateTicker.Stop()
	defer refilterTicker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case c := <-h.register:
			if c == nil {
				log.Printf("Received nil client registration; skipping")
				continue
			}
			h.handleJoin(c)

		case c := <-h.unregister:
			h.handleLeave(c)

		case frame := <-h.inbound:
			h.handleInbound(frame.client, frame.payload)

		case <-terminateTicker.C:
			h.sweepTerminate()

		case <-refilterTicker.C:
			h.sweepRefilter()
		}
	}
}

// handleJoin validates and registers a new connection. A duplicate nick among
// the room's open members rejects the join with close code 1008; the
// connection is never registered and its pumps never start.
func (h *Hub) handleJoin(c *Client) {
	room := h.store.GetOrCreate(c.roomID)

	if room.nickTakenByOpen(c.nick) {
		h.rejectJoin(c, room, "Nickname already taken in this room", "Nickname already taken")
		return
	}

	wasCreated := room.empty()
	room.addClient(c)
	if wasCreated {
		roomsActive.Set(float64(h.store.Len()))
	}
	clientsConnected.Inc()
	log.Printf("Client %s (%s) joined room %q from %s. Members: %d", c.id, c.nick, room.id, c.addr, len(room.clients))

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()

	h.unicast(c, newConnectedEvent("Connected to room "+room.id))
	h.unicast(c, newHistoryEvent(room.historySnapshot()))
	h.broadcast(room, newUserListEvent(room.userNicks()))
	h.unicast(c, newTypingEvent(room.typingNicks()))
	h.broadcast(room, newSystemEvent(c.nick+" joined the room", time.Now()))
}

// rejectJoin unicasts an error event, closes the connection with a policy
// violation, and tears down the room if this rejected join just created it.
func (h *Hub) rejectJoin(c *Client, room *Room, errMessage, closeReason string) {
	joinRejections.WithLabelValues("duplicate_nick").Inc()
	log.Printf("Rejecting join for %s in room %q: %s", c.nick, room.id, closeReason)

	// The pumps never started, so writing directly to the socket is safe.
	if payload, err := json.Marshal(newErrorEvent(errMessage)); err == nil {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if werr := c.conn.WriteMessage(websocket.TextMessage, payload); werr != nil && !isExpectedCloseError(werr) {
			log.Printf("Error writing rejection to %s: %v", c.addr, werr)
		}
	}
	c.markClosed()
	c.closeWithCode(websocket.ClosePolicyViolation, closeReason)

	if room.empty() {
		h.store.Remove(room.id)
		roomsActive.Set(float64(h.store.Len()))
	}
}

// handleLeave runs the Closed transition for one connection: remove it from
// its room, clear its typing flag, notify the remaining members, and destroy
// the room if it emptied. Idempotent, since an explicit close notification
// and a sweep reap can both arrive for the same client.
func (h *Hub) handleLeave(c *Client) {
	if c == nil {
		return
	}
	c.markClosed()
	c.closeSendChan()

	room := h.store.Lookup(c.roomID)
	if room == nil {
		return
	}
	if !room.removeClient(c) {
		return
	}
	clientsConnected.Dec()
	log.Printf("Client %s (%s) left room %q. Members: %d", c.id, c.nick, room.id, len(room.clients))

	typingChanged := room.setTyping(c.nick, false)

	if room.empty() {
		h.store.Remove(room.id)
		roomsActive.Set(float64(h.store.Len()))
		log.Printf("Room %q destroyed", room.id)
		return
	}

	if typingChanged {
		h.broadcast(room, newTypingEvent(room.typingNicks()))
	}
	h.broadcast(room, newSystemEvent(c.nick+" left the room", time.Now()))
	h.broadcast(room, newUserListEvent(room.userNicks()))
}

// handleInbound interprets one payload from an active connection: a typing
// control message or, failing that shape, plain chat text. A panic while
// handling is recovered and answered with a generic error event; client
// input can never take down the dispatcher.
func (h *Hub) handleInbound(c *Client, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic handling payload from %s (%s): %v", c.addr, c.nick, r)
			h.unicast(c, newErrorEvent("Error processing message"))
		}
	}()

	if !c.isOpen() {
		return
	}
	room := h.store.Lookup(c.roomID)
	if room == nil {
		return
	}

	var control typingControl
	if err := json.Unmarshal(payload, &control); err == nil && control.Type == "typing" {
		room.setTyping(c.nick, control.IsTyping)
		// Unconditional broadcast, even when the flag did not change, to
		// keep late or re-sent indicators converged across clients.
		h.broadcast(room, newTypingEvent(room.typingNicks()))
		return
	}

	h.handleChat(c, room, payload)
}

// handleChat validates and broadcasts one chat line. Whitespace-only text is
// dropped silently; oversized text is answered with a unicast error and the
// connection stays active.
func (h *Hub) handleChat(c *Client, room *Room, payload []byte) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return
	}

	cfg := currentConfig()
	if utf8.RuneCountInString(text) > cfg.MaxMessageLength {
		h.unicast(c, newErrorEvent("Message too long (max 500 characters)"))
		return
	}

	if room.setTyping(c.nick, false) {
		h.broadcast(room, newTypingEvent(room.typingNicks()))
	}

	msg := Message{Nick: c.nick, Text: text, Timestamp: time.Now()}
	room.appendHistory(msg, cfg.HistoryLimit)
	messagesTotal.Inc()
	h.broadcast(room, newMessageEvent(msg))
}

// broadcast serializes event once and enqueues it to every member of the
// room whose connection is open. Members that are closed or whose backlog is
// full are skipped; pruning them is the sweeps' job, not the broadcaster's.
func (h *Hub) broadcast(room *Room, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error encoding broadcast for room %q: %v", room.id, err)
		return
	}
	for _, member := range room.clients {
		if !member.enqueue(payload) {
			log.Printf("Skipping send to %s (%s): connection not open or backlog full", member.id, member.nick)
		}
	}
}

// unicast serializes event and enqueues it to a single connection.
func (h *Hub) unicast(c *Client, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error encoding event for %s: %v", c.addr, err)
		return
	}
	if !c.enqueue(payload) {
		log.Printf("Skipping send to %s (%s): connection not open or backlog full", c.id, c.nick)
	}
}

// sweepTerminate force-closes and reaps members whose transport is no longer
// open. It backstops the explicit close notifications, so a lost unregister
// cannot leave a dead member in the list indefinitely.
func (h *Hub) sweepTerminate() {
	var dead []*Client
	h.store.ForEachRoom(func(room *Room) {
		for _, member := range room.clients {
			if !member.isOpen() {
				dead = append(dead, member)
			}
		}
	})

	for _, member := range dead {
		log.Printf("Sweep terminating dead connection %s (%s) in room %q", member.id, member.nick, member.roomID)
		sweepReaps.Inc()
		if err := member.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing swept connection %s: %v", member.id, err)
		}
		h.handleLeave(member)
	}
}

// sweepRefilter re-filters every room's member list down to open connections
// and prunes typing entries left behind by them, rebroadcasting userList
// (and typing, when pruned) on any discrepancy. Rooms that empty out are
// destroyed.
func (h *Hub) sweepRefilter() {
	var emptied []string
	h.store.ForEachRoom(func(room *Room) {
		open := room.clients[:0:0]
		var stale []*Client
		for _, member := range room.clients {
			if member.isOpen() {
				open = append(open, member)
			} else {
				stale = append(stale, member)
			}
		}
		if len(stale) == 0 {
			return
		}

		log.Printf("Sweep pruned %d stale members from room %q", len(stale), room.id)
		room.clients = open
		for _, member := range stale {
			member.closeSendChan()
			clientsConnected.Dec()
			sweepReaps.Inc()
		}

		if room.empty() {
			emptied = append(emptied, room.id)
			return
		}
		if room.pruneTyping() {
			h.broadcast(room, newTypingEvent(room.typingNicks()))
		}
		h.broadcast(room, newUserListEvent(room.userNicks()))
	})

	for _, id := range emptied {
		h.store.Remove(id)
		log.Printf("Room %q destroyed by sweep", id)
	}
	if len(emptied) > 0 {
		roomsActive.Set(float64(h.store.Len()))
	}
}

// shutdownClients closes every open connection with close code 1001 before
// the process exits.
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	count := 0
	h.store.ForEachRoom(func(room *Room) {
		for _, member := range room.clients {
			member.closeWithCode(websocket.CloseGoingAway, shutdownText)
			member.markClosed()
			member.closeSendChan()
			count++
		}
	})

	log.Printf("Closed %d client connections", count)
}

// Shutdown initiates graceful shutdown of the hub and waits for the
// dispatcher and all pump goroutines to finish, or for the timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
