package server

import (
	"fmt"
	"testing"
	"time"
)

func newTestClient(t *testing.T, hub *Hub, room, nick string) *Client {
	t.Helper()
	return NewClient(nil, hub, "127.0.0.1:12345", room, nick)
}

func TestRoomClientOrderPreserved(t *testing.T) {
	hub := NewHub()
	room := newRoom("general")

	for _, nick := range []string{"alice", "bob", "carol"} {
		room.addClient(newTestClient(t, hub, "general", nick))
	}

	got := room.userNicks()
	want := []string{"alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d nicks, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected nick %q at position %d, got %q", want[i], i, got[i])
		}
	}

	room.removeClient(room.clients[1])
	got = room.userNicks()
	if len(got) != 2 || got[0] != "alice" || got[1] != "carol" {
		t.Errorf("Expected [alice carol] after removal, got %v", got)
	}
}

func TestRoomHistoryEviction(t *testing.T) {
	room := newRoom("general")
	limit := 50

	for i := 1; i <= limit+1; i++ {
		room.appendHistory(Message{
			Nick:      "alice",
			Text:      fmt.Sprintf("message %d", i),
			Timestamp: time.Now(),
		}, limit)
	}

	snapshot := room.historySnapshot()
	if len(snapshot) != limit {
		t.Fatalf("Expected history length %d, got %d", limit, len(snapshot))
	}
	if snapshot[0].Text != "message 2" {
		t.Errorf("Expected oldest entry to be message 2 after eviction, got %q", snapshot[0].Text)
	}
	if snapshot[len(snapshot)-1].Text != fmt.Sprintf("message %d", limit+1) {
		t.Errorf("Expected newest entry to be message %d, got %q", limit+1, snapshot[len(snapshot)-1].Text)
	}
	for _, msg := range snapshot {
		if msg.Text == "message 1" {
			t.Error("Evicted message 1 still present in history")
		}
	}
}

func TestRoomHistorySnapshotIsCopy(t *testing.T) {
	room := newRoom("general")
	room.appendHistory(Message{Nick: "alice", Text: "first"}, 50)

	snapshot := room.historySnapshot()
	room.appendHistory(Message{Nick: "alice", Text: "second"}, 50)

	if len(snapshot) != 1 {
		t.Fatalf("Expected snapshot length 1, got %d", len(snapshot))
	}
	if snapshot[0].Text != "first" {
		t.Errorf("Snapshot mutated by later append: %q", snapshot[0].Text)
	}
}

func TestNickTakenByOpen(t *testing.T) {
	hub := NewHub()
	room := newRoom("general")

	alice := newTestClient(t, hub, "general", "alice")
	room.addClient(alice)

	if !room.nickTakenByOpen("alice") {
		t.Error("Expected alice to be taken while her connection is open")
	}
	if room.nickTakenByOpen("bob") {
		t.Error("Expected bob to be free")
	}

	// A stale holder of the nick must not block reuse.
	alice.markClosed()
	if room.nickTakenByOpen("alice") {
		t.Error("Expected closed connection not to block nick reuse")
	}
}

func TestTypingSetMembership(t *testing.T) {
	hub := NewHub()
	room := newRoom("general")
	room.addClient(newTestClient(t, hub, "general", "alice"))
	room.addClient(newTestClient(t, hub, "general", "bob"))

	if changed := room.setTyping("alice", true); !changed {
		t.Error("Expected first setTyping(true) to change membership")
	}
	if changed := room.setTyping("alice", true); changed {
		t.Error("Expected repeated setTyping(true) to be a no-op")
	}
	if changed := room.setTyping("bob", false); changed {
		t.Error("Expected setTyping(false) on absent nick to be a no-op")
	}

	room.setTyping("bob", true)
	got := room.typingNicks()
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Errorf("Expected typing nicks [alice bob] in join order, got %v", got)
	}

	if changed := room.setTyping("alice", false); !changed {
		t.Error("Expected setTyping(false) to clear alice")
	}
	got = room.typingNicks()
	if len(got) != 1 || got[0] != "bob" {
		t.Errorf("Expected typing nicks [bob], got %v", got)
	}
}

func TestPruneTypingDropsDepartedNicks(t *testing.T) {
	hub := NewHub()
	room := newRoom("general")
	alice := newTestClient(t, hub, "general", "alice")
	room.addClient(alice)
	room.addClient(newTestClient(t, hub, "general", "bob"))

	room.setTyping("alice", true)
	room.setTyping("bob", true)
	room.removeClient(alice)

	if pruned := room.pruneTyping(); !pruned {
		t.Error("Expected pruneTyping to report a removal")
	}
	got := room.typingNicks()
	if len(got) != 1 || got[0] != "bob" {
		t.Errorf("Expected typing nicks [bob] after prune, got %v", got)
	}
	if pruned := room.pruneTyping(); pruned {
		t.Error("Expected second pruneTyping to be a no-op")
	}
}
