// Package server defines the wire-level event payloads exchanged with chat
// clients and helpers shared across client and hub logic.
package server

import (
	"strings"
	"time"
)

// Message represents one broadcast chat line. The timestamp is assigned from
// the server clock on receipt and is the authoritative ordering.
type Message struct {
	Nick      string    `json:"nick"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// typingControl is the one structured client-to-server payload. Anything that
// does not decode into this shape is treated as plain chat text.
type typingControl struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"isTyping"`
}

// Server-to-client events. Each carries a "type" discriminator so clients can
// dispatch without sniffing field names.

type connectedEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type historyEvent struct {
	Type     string    `json:"type"`
	Messages []Message `json:"messages"`
}

type userListEvent struct {
	Type  string   `json:"type"`
	Users []string `json:"users"`
}

type typingEvent struct {
	Type        string   `json:"type"`
	TypingUsers []string `json:"typingUsers"`
}

type systemEvent struct {
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type messageEvent struct {
	Type      string    `json:"type"`
	Nick      string    `json:"nick"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newConnectedEvent(message string) connectedEvent {
	return connectedEvent{Type: "connected", Message: message}
}

func newHistoryEvent(messages []Message) historyEvent {
	if messages == nil {
		messages = []Message{}
	}
	return historyEvent{Type: "history", Messages: messages}
}

func newUserListEvent(users []string) userListEvent {
	if users == nil {
		users = []string{}
	}
	return userListEvent{Type: "userList", Users: users}
}

func newTypingEvent(typingUsers []string) typingEvent {
	if typingUsers == nil {
		typingUsers = []string{}
	}
	return typingEvent{Type: "typing", TypingUsers: typingUsers}
}

func newSystemEvent(text string, at time.Time) systemEvent {
	return systemEvent{Type: "system", Text: text, Timestamp: at}
}

func newMessageEvent(msg Message) messageEvent {
	return messageEvent{Type: "message", Nick: msg.Nick, Text: msg.Text, Timestamp: msg.Timestamp}
}

func newErrorEvent(message string) errorEvent {
	return errorEvent{Type: "error", Message: message}
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
