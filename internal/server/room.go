// Package server models a single chat room: its member list in join order,
// the bounded recent-message history, and the set of currently-typing nicks.
package server

// Room is one isolated broadcast domain. All access happens on the hub's
// dispatcher goroutine; Room itself carries no locking.
type Room struct {
	id      string
	clients []*Client
	history []Message
	typing  map[string]struct{}
}

func newRoom(id string) *Room {
	return &Room{
		id:     id,
		typing: make(map[string]struct{}),
	}
}

// ID returns the caller-supplied room identifier.
func (r *Room) ID() string {
	return r.id
}

func (r *Room) addClient(c *Client) {
	r.clients = append(r.clients, c)
}

// removeClient drops c from the member list, preserving join order for the
// remaining members. It reports whether c was present.
func (r *Room) removeClient(c *Client) bool {
	for i, member := range r.clients {
		if member == c {
			r.clients = append(r.clients[:i], r.clients[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) empty() bool {
	return len(r.clients) == 0
}

// nickTakenByOpen reports whether an open connection in this room already
// holds the given nick. Stale members whose transport has closed do not
// block reuse.
func (r *Room) nickTakenByOpen(nick string) bool {
	for _, member := range r.clients {
		if member.nick == nick && member.isOpen() {
			return true
		}
	}
	return false
}

// userNicks returns the member nicks in join order.
func (r *Room) userNicks() []string {
	nicks := make([]string, 0, len(r.clients))
	for _, member := range r.clients {
		nicks = append(nicks, member.nick)
	}
	return nicks
}

// appendHistory pushes msg and evicts from the front while the buffer
// exceeds limit, so newcomers replay at most the `limit` most recent lines.
func (r *Room) appendHistory(msg Message, limit int) {
	r.history = append(r.history, msg)
	for len(r.history) > limit {
		r.history = r.history[1:]
	}
}

// historySnapshot returns a copy of the buffer, oldest first. The copy keeps
// later evictions from mutating an event already handed to the encoder.
func (r *Room) historySnapshot() []Message {
	snapshot := make([]Message, len(r.history))
	copy(snapshot, r.history)
	return snapshot
}

// setTyping flags or clears nick in the typing set and reports whether
// membership actually changed.
func (r *Room) setTyping(nick string, isTyping bool) bool {
	_, present := r.typing[nick]
	if isTyping {
		if present {
			return false
		}
		r.typing[nick] = struct{}{}
		return true
	}
	if !present {
		return false
	}
	delete(r.typing, nick)
	return true
}

// typingNicks returns the currently-typing nicks in member join order, which
// keeps the broadcast deterministic.
func (r *Room) typingNicks() []string {
	nicks := make([]string, 0, len(r.typing))
	for _, member := range r.clients {
		if _, ok := r.typing[member.nick]; ok {
			nicks = append(nicks, member.nick)
		}
	}
	return nicks
}

// pruneTyping drops typing entries whose nick no longer belongs to any
// member, returning whether anything was removed.
func (r *Room) pruneTyping() bool {
	present := make(map[string]struct{}, len(r.clients))
	for _, member := range r.clients {
		present[member.nick] = struct{}{}
	}

	pruned := false
	for nick := range r.typing {
		if _, ok := present[nick]; !ok {
			delete(r.typing, nick)
			pruned = true
		}
	}
	return pruned
}
