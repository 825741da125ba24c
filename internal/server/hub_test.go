package server

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// joinWithoutPumps registers a client into a room directly on the store,
// bypassing the socket pumps so dispatcher logic can be exercised with no
// network in play. Events land in the client's buffered send channel.
func joinWithoutPumps(t *testing.T, hub *Hub, roomID, nick string) *Client {
	t.Helper()
	c := NewClient(nil, hub, "127.0.0.1:12345", roomID, nick)
	room := hub.store.GetOrCreate(roomID)
	room.addClient(c)
	return c
}

func nextEvent(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case payload, ok := <-c.send:
		if !ok {
			t.Fatal("Send channel closed while waiting for an event")
		}
		var event map[string]any
		if err := json.Unmarshal(payload, &event); err != nil {
			t.Fatalf("Failed to decode event %q: %v", payload, err)
		}
		return event
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timed out waiting for an event")
		return nil
	}
}

func expectNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload, ok := <-c.send:
		if ok {
			t.Fatalf("Expected no event, got %q", payload)
		}
	default:
	}
}

func stringSlice(t *testing.T, event map[string]any, key string) []string {
	t.Helper()
	raw, ok := event[key].([]any)
	if !ok {
		t.Fatalf("Expected %q to be a list, got %T", key, event[key])
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		out = append(out, v.(string))
	}
	return out
}

func TestChatMessageIsBroadcastAndRecorded(t *testing.T) {
	hub := NewHub()
	alice := joinWithoutPumps(t, hub, "general", "alice")
	bob := joinWithoutPumps(t, hub, "general", "bob")

	hub.handleInbound(alice, []byte("hello there"))

	for _, c := range []*Client{alice, bob} {
		event := nextEvent(t, c)
		if event["type"] != "message" {
			t.Fatalf("Expected message event, got %v", event["type"])
		}
		if event["nick"] != "alice" || event["text"] != "hello there" {
			t.Errorf("Unexpected message payload: %v", event)
		}
	}

	history := hub.store.Lookup("general").historySnapshot()
	if len(history) != 1 || history[0].Text != "hello there" {
		t.Errorf("Expected one history entry for the chat line, got %v", history)
	}
}

func TestWhitespaceOnlyChatIsDropped(t *testing.T) {
	hub := NewHub()
	alice := joinWithoutPumps(t, hub, "general", "alice")

	hub.handleInbound(alice, []byte("   "))

	expectNoEvent(t, alice)
	if len(hub.store.Lookup("general").historySnapshot()) != 0 {
		t.Error("Expected no history entry for whitespace-only payload")
	}
}

func TestOversizedChatGetsUnicastError(t *testing.T) {
	hub := NewHub()
	alice := joinWithoutPumps(t, hub, "general", "alice")
	bob := joinWithoutPumps(t, hub, "general", "bob")

	hub.handleInbound(alice, []byte(strings.Repeat("a", 501)))

	event := nextEvent(t, alice)
	if event["type"] != "error" {
		t.Fatalf("Expected error event, got %v", event["type"])
	}
	if event["message"] != "Message too long (max 500 characters)" {
		t.Errorf("Unexpected error message: %v", event["message"])
	}
	expectNoEvent(t, bob)
	if len(hub.store.Lookup("general").historySnapshot()) != 0 {
		t.Error("Expected no history entry for oversized payload")
	}

	// Exactly at the limit is accepted.
	hub.handleInbound(alice, []byte(strings.Repeat("a", 500)))
	event = nextEvent(t, alice)
	if event["type"] != "message" {
		t.Errorf("Expected 500-character message to be broadcast, got %v", event["type"])
	}
}

func TestTypingControlNeverEntersHistory(t *testing.T) {
	hub := NewHub()
	alice := joinWithoutPumps(t, hub, "general", "alice")

	hub.handleInbound(alice, []byte(`{"type":"typing","isTyping":true}`))

	event := nextEvent(t, alice)
	if event["type"] != "typing" {
		t.Fatalf("Expected typing event, got %v", event["type"])
	}
	users := stringSlice(t, event, "typingUsers")
	if len(users) != 1 || users[0] != "alice" {
		t.Errorf("Expected typingUsers [alice], got %v", users)
	}
	if len(hub.store.Lookup("general").historySnapshot()) != 0 {
		t.Error("Typing control payload must not be recorded in history")
	}
}

func TestTypingBroadcastIsUnconditional(t *testing.T) {
	hub := NewHub()
	alice := joinWithoutPumps(t, hub, "general", "alice")

	hub.handleInbound(alice, []byte(`{"type":"typing","isTyping":true}`))
	nextEvent(t, alice)

	// Re-sending the same state still broadcasts, keeping clients in sync.
	hub.handleInbound(alice, []byte(`{"type":"typing","isTyping":true}`))
	event := nextEvent(t, alice)
	if event["type"] != "typing" {
		t.Errorf("Expected a second typing broadcast, got %v", event["type"])
	}
}

func TestChatClearsSendersTypingFlag(t *testing.T) {
	hub := NewHub()
	alice := joinWithoutPumps(t, hub, "general", "alice")

	hub.handleInbound(alice, []byte(`{"type":"typing","isTyping":true}`))
	nextEvent(t, alice)

	hub.handleInbound(alice, []byte("done typing"))

	event := nextEvent(t, alice)
	if event["type"] != "typing" {
		t.Fatalf("Expected typing broadcast before the message, got %v", event["type"])
	}
	if users := stringSlice(t, event, "typingUsers"); len(users) != 0 {
		t.Errorf("Expected empty typingUsers after chat, got %v", users)
	}

	event = nextEvent(t, alice)
	if event["type"] != "message" {
		t.Errorf("Expected message event after typing broadcast, got %v", event["type"])
	}

	history := hub.store.Lookup("general").historySnapshot()
	if len(history) != 1 || history[0].Text != "done typing" {
		t.Errorf("Expected the chat line in history, got %v", history)
	}
}

func TestNonTypingJSONIsTreatedAsChat(t *testing.T) {
	hub := NewHub()
	alice := joinWithoutPumps(t, hub, "general", "alice")

	payload := `{"type":"something","x":1}`
	hub.handleInbound(alice, []byte(payload))

	event := nextEvent(t, alice)
	if event["type"] != "message" {
		t.Fatalf("Expected unknown JSON shape to fall through to chat, got %v", event["type"])
	}
	if event["text"] != payload {
		t.Errorf("Expected raw payload as chat text, got %v", event["text"])
	}
}

func TestLeaveNotifiesRemainingMembers(t *testing.T) {
	hub := NewHub()
	alice := joinWithoutPumps(t, hub, "general", "alice")
	bob := joinWithoutPumps(t, hub, "general", "bob")
	hub.store.Lookup("general").setTyping("alice", true)

	hub.handleLeave(alice)

	event := nextEvent(t, bob)
	if event["type"] != "typing" {
		t.Fatalf("Expected typing broadcast after departure cleared the flag, got %v", event["type"])
	}
	if users := stringSlice(t, event, "typingUsers"); len(users) != 0 {
		t.Errorf("Expected empty typingUsers, got %v", users)
	}

	event = nextEvent(t, bob)
	if event["type"] != "system" {
		t.Fatalf("Expected system leave notice, got %v", event["type"])
	}
	if event["text"] != "alice left the room" {
		t.Errorf("Unexpected leave notice: %v", event["text"])
	}

	event = nextEvent(t, bob)
	if event["type"] != "userList" {
		t.Fatalf("Expected userList rebroadcast, got %v", event["type"])
	}
	if users := stringSlice(t, event, "users"); len(users) != 1 || users[0] != "bob" {
		t.Errorf("Expected users [bob], got %v", users)
	}
}

func TestLastLeaveDestroysRoom(t *testing.T) {
	hub := NewHub()
	alice := joinWithoutPumps(t, hub, "general", "alice")
	hub.store.Lookup("general").appendHistory(Message{Nick: "alice", Text: "hello"}, 50)

	hub.handleLeave(alice)

	if hub.store.Lookup("general") != nil {
		t.Fatal("Expected room to be destroyed when its last member left")
	}
	if fresh := hub.store.GetOrCreate("general"); len(fresh.historySnapshot()) != 0 {
		t.Error("Expected a re-created room to start with empty history")
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	hub := NewHub()
	alice := joinWithoutPumps(t, hub, "general", "alice")
	bob := joinWithoutPumps(t, hub, "general", "bob")

	hub.handleLeave(alice)
	hub.handleLeave(alice)

	room := hub.store.Lookup("general")
	if room == nil {
		t.Fatal("Expected room to survive while bob remains")
	}
	if len(room.clients) != 1 {
		t.Errorf("Expected 1 remaining member, got %d", len(room.clients))
	}
	// One leave notice set, not two.
	count := 0
	for {
		select {
		case payload := <-bob.send:
			var event map[string]any
			if err := json.Unmarshal(payload, &event); err != nil {
				t.Fatalf("Failed to decode event: %v", err)
			}
			if event["type"] == "system" {
				count++
			}
			continue
		default:
		}
		break
	}
	if count != 1 {
		t.Errorf("Expected exactly one system leave notice, got %d", count)
	}
}

func TestNilPayloadIsDroppedSilently(t *testing.T) {
	hub := NewHub()
	alice := joinWithoutPumps(t, hub, "general", "alice")

	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("Panic escaped handleInbound: %v", r)
			}
		}()
		hub.handleInbound(alice, nil)
	}()

	expectNoEvent(t, alice)
	if len(hub.store.Lookup("general").historySnapshot()) != 0 {
		t.Error("Expected no history entry for nil payload")
	}
}

func TestRefilterSweepPrunesClosedMembers(t *testing.T) {
	hub := NewHub()
	alice := joinWithoutPumps(t, hub, "general", "alice")
	bob := joinWithoutPumps(t, hub, "general", "bob")
	hub.store.Lookup("general").setTyping("alice", true)

	alice.markClosed()
	hub.sweepRefilter()

	room := hub.store.Lookup("general")
	if room == nil {
		t.Fatal("Expected room to survive with one open member")
	}
	if nicks := room.userNicks(); len(nicks) != 1 || nicks[0] != "bob" {
		t.Errorf("Expected members [bob] after sweep, got %v", nicks)
	}

	event := nextEvent(t, bob)
	if event["type"] != "typing" {
		t.Fatalf("Expected typing broadcast after sweep pruned alice, got %v", event["type"])
	}
	if users := stringSlice(t, event, "typingUsers"); len(users) != 0 {
		t.Errorf("Expected empty typingUsers after prune, got %v", users)
	}
	event = nextEvent(t, bob)
	if event["type"] != "userList" {
		t.Errorf("Expected userList rebroadcast after sweep, got %v", event["type"])
	}
}

func TestRefilterSweepDestroysEmptiedRoom(t *testing.T) {
	hub := NewHub()
	alice := joinWithoutPumps(t, hub, "general", "alice")

	alice.markClosed()
	hub.sweepRefilter()

	if hub.store.Lookup("general") != nil {
		t.Error("Expected sweep to destroy a room with no open members")
	}
}

func TestHubShutdownWithNoClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	time.Sleep(10 * time.Millisecond)

	if err := hub.Shutdown(time.Second); err != nil {
		t.Errorf("Hub shutdown failed: %v", err)
	}
}
