// Package testhelpers provides common utilities for exercising the RoomChat
// server from tests: spinning up a full server, dialing WebSocket clients
// with join parameters, and reading typed events off a connection.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/roomchat/internal/server"
)

// ChatServer bundles everything a test needs to talk to a running relay.
type ChatServer struct {
	Hub    *server.Hub
	Server *httptest.Server
}

// StartChatServer boots a hub and an HTTP test server wired together, with
// the test server's own URL added to the allowed origins. Both are torn down
// via t.Cleanup.
func StartChatServer(t *testing.T, customize func(cfg *server.Config)) *ChatServer {
	t.Helper()

	hub := server.NewHub()
	ts := httptest.NewServer(server.SetupRoutes(hub))

	cfg := server.NewConfig()
	cfg.AllowedOrigins = append([]string{ts.URL}, cfg.AllowedOrigins...)
	if customize != nil {
		customize(cfg)
	}
	server.SetConfig(cfg)

	go hub.Run()

	t.Cleanup(func() {
		_ = hub.Shutdown(5 * time.Second)
		ts.Close()
		server.SetConfig(nil)
	})

	return &ChatServer{Hub: hub, Server: ts}
}

// WSURL builds the WebSocket endpoint URL with the given join parameters.
// Empty values are omitted so tests can exercise the missing-parameter path.
func (cs *ChatServer) WSURL(t *testing.T, room, nick string) string {
	t.Helper()

	u, err := url.Parse(cs.Server.URL)
	if err != nil {
		t.Fatalf("Failed to parse test server URL: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"

	query := u.Query()
	if room != "" {
		query.Set("room", room)
	}
	if nick != "" {
		query.Set("nick", nick)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// Dial connects a WebSocket client, presenting the test server's URL as
// Origin so the allow-list admits it.
func (cs *ChatServer) Dial(t *testing.T, room, nick string) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	header.Set("Origin", cs.Server.URL)

	conn, resp, err := websocket.DefaultDialer.Dial(cs.WSURL(t, room, nick), header)
	if err != nil {
		t.Fatalf("Failed to dial WebSocket: %v", err)
	}
	_ = resp.Body.Close()

	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// ReadEvent reads and decodes the next server event, failing the test if
// nothing arrives before the timeout.
func ReadEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}

	var event map[string]any
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("Failed to decode event %q: %v", payload, err)
	}
	return event
}

// WaitForEvent reads events until one with the wanted type arrives, failing
// the test if it does not show up before the timeout.
func WaitForEvent(t *testing.T, conn *websocket.Conn, wantType string, timeout time.Duration) map[string]any {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("Timed out waiting for %q event", wantType)
		}
		event := ReadEvent(t, conn, remaining)
		if event["type"] == wantType {
			return event
		}
	}
}

// ExpectNoMessage asserts that nothing but a timeout (or clean close)
// arrives on the connection within the given window. The deliberate read
// timeout permanently fails the underlying connection, so this must be the
// last read a test performs on conn.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, payload, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, but received %q", payload)
	}
	if netErr, ok := err.(interface{ Timeout() bool }); ok && netErr.Timeout() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of message: %v", err)
}

// ExpectClose asserts the next read fails with a close frame carrying the
// given code, returning the close reason.
func ExpectClose(t *testing.T, conn *websocket.Conn, code int, timeout time.Duration) string {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		closeErr, ok := err.(*websocket.CloseError)
		if !ok {
			t.Fatalf("Expected close error with code %d, got %v", code, err)
		}
		if closeErr.Code != code {
			t.Fatalf("Expected close code %d, got %d (%s)", code, closeErr.Code, closeErr.Text)
		}
		return closeErr.Text
	}
}

// StringList extracts a []string field from a decoded event.
func StringList(t *testing.T, event map[string]any, key string) []string {
	t.Helper()

	raw, ok := event[key].([]any)
	if !ok {
		t.Fatalf("Expected %q to be a list, got %T", key, event[key])
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			t.Fatalf("Expected string entries in %q, got %T", key, v)
		}
		out = append(out, s)
	}
	return out
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}
