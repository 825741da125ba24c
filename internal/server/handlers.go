// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler upgrades a request to a WebSocket connection and submits
// it to the hub for validation and join. The requested room and nick travel
// in the query string; a request missing either is closed with code 1008
// before any room state is touched.
func WebSocketHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		roomID := r.URL.Query().Get("room")
		nick := r.URL.Query().Get("nick")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed: %v", err)
			return
		}

		if roomID == "" || nick == "" {
			joinRejections.WithLabelValues("missing_params").Inc()
			log.Printf("Rejecting connection from %s: missing room or nick", r.RemoteAddr)
			writeCloseFrame(conn, websocket.ClosePolicyViolation, "Room and nick are required")
			if cerr := conn.Close(); cerr != nil && !isExpectedCloseError(cerr) {
				log.Printf("Error closing rejected connection: %v", cerr)
			}
			return
		}

		client := NewClient(conn, hub, r.RemoteAddr, roomID, nick)
		hub.Register(client)
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "RoomChat server is running!")
}

// TestPageHandler serves an HTML page for exercising the chat protocol by
// hand: join a room under a nick, send messages, watch the member list and
// typing indicators update.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>RoomChat Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { padding: 5px; margin-right: 10px; }
        #messageInput { width: 300px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        .meta { color: gray; font-size: 0.9em; margin: 5px 0; }
    </style>
</head>
<body>
    <h1>RoomChat Test</h1>

    <div>
        <input type="text" id="roomInput" placeholder="Room">
        <input type="text" id="nickInput" placeholder="Nick">
        <button id="joinButton" onclick="join()">Join</button>
    </div>

    <div id="users" class="meta"></div>
    <div id="typing" class="meta"></div>
    <div id="messages"></div>

    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <script>
        let ws = null;
        let typingTimer = null;
        const messagesDiv = document.getElementById('messages');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');

        function addLine(text, color) {
            const el = document.createElement('div');
            el.style.color = color || 'black';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function join() {
            const room = document.getElementById('roomInput').value.trim();
            const nick = document.getElementById('nickInput').value.trim();
            ws = new WebSocket('ws://' + location.host + '/ws?room=' +
                encodeURIComponent(room) + '&nick=' + encodeURIComponent(nick));

            ws.onopen = function() {
                messageInput.disabled = false;
                sendButton.disabled = false;
            };
            ws.onmessage = function(event) {
                const msg = JSON.parse(event.data);
                switch (msg.type) {
                case 'connected': addLine(msg.message, 'gray'); break;
                case 'history':
                    msg.messages.forEach(m => addLine(m.nick + ': ' + m.text, 'black'));
                    break;
                case 'userList':
                    document.getElementById('users').textContent = 'Online: ' + msg.users.join(', ');
                    break;
                case 'typing':
                    document.getElementById('typing').textContent =
                        msg.typingUsers.length ? msg.typingUsers.join(', ') + ' typing...' : '';
                    break;
                case 'system': addLine(msg.text, 'gray'); break;
                case 'message': addLine(msg.nick + ': ' + msg.text, 'black'); break;
                case 'error': addLine('Error: ' + msg.message, 'red'); break;
                }
            };
            ws.onclose = function(event) {
                addLine('Connection closed (' + event.code + ')', 'gray');
                messageInput.disabled = true;
                sendButton.disabled = true;
            };
        }

        function sendMessage() {
            const text = messageInput.value;
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(text);
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('input', function() {
            if (!ws || ws.readyState !== WebSocket.OPEN) return;
            ws.send(JSON.stringify({type: 'typing', isTyping: true}));
            clearTimeout(typingTimer);
            typingTimer = setTimeout(function() {
                ws.send(JSON.stringify({type: 'typing', isTyping: false}));
            }, 2000);
        });
        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') sendMessage();
        });
    </script>
</body>
</html>`
	if _, err := fmt.Fprint(w, html); err != nil {
		log.Printf("Error writing HTML response: %v", err)
	}
}
