// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, the presence snapshot, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TokenQueryParam carries the token for clients that cannot set handshake headers.
const TokenQueryParam = "token"

// extractToken finds the connection token in the handshake: the configured
// header first, then an Authorization bearer, then the token query parameter.
func extractToken(r *http.Request, header string) string {
	if token := strings.TrimSpace(r.Header.Get(header)); token != "" {
		return token
	}
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		if len(authz) > len("bearer ") && strings.EqualFold(authz[:len("bearer ")], "bearer ") {
			return strings.TrimSpace(authz[len("bearer "):])
		}
	}
	return strings.TrimSpace(r.URL.Query().Get(TokenQueryParam))
}

// NewWebSocketHandler returns the handler that upgrades GET requests, creates a
// pending client and asks the gateway to authenticate it. Clients with a bad
// token are upgraded and then closed without any payload.
func NewWebSocketHandler(gw *Gateway) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(gw.log),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		token := extractToken(r, currentConfig().Auth.TokenHeader)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			gw.log.Info("WebSocket upgrade failed", zap.String("addr", r.RemoteAddr), zap.Error(err))
			return
		}

		client := NewClient(conn, gw, r.RemoteAddr)
		gw.Connect(r.Context(), client, token)
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Presence gateway is running!")
}

// NewPresenceHandler serves the current list of connected user ids as JSON.
func NewPresenceHandler(gw *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed.", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(gw.Registry().ConnectedUserIDs()); err != nil {
			gw.log.Warn("Error writing presence response", zap.Error(err))
		}
	}
}

// NewTestPageHandler serves an HTML page that connects with a token, shows
// the presence list and sends chat messages.
func NewTestPageHandler(log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := fmt.Fprint(w, testPageHTML); err != nil {
			log.Warn("Error writing HTML response", zap.Error(err))
		}
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Presence Gateway Test</title>
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
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Presence Gateway Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="tokenInput" placeholder="Paste a token...">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <h3>Online</h3>
    <ul id="clients"></ul>

    <div id="messages"></div>

    <script>
        let ws = null;
        const messagesDiv = document.getElementById('messages');
        const clientsList = document.getElementById('clients');
        const tokenInput = document.getElementById('tokenInput');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addMessage(text, italic) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            if (italic) {
                el.style.color = 'gray';
                el.style.fontStyle = 'italic';
            }
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function renderClients(ids) {
            clientsList.innerHTML = '';
            ids.forEach(function(id) {
                const li = document.createElement('li');
                li.textContent = id;
                clientsList.appendChild(li);
            });
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const token = encodeURIComponent(tokenInput.value.trim());
            ws = new WebSocket(scheme + location.host + '/ws?token=' + token);

            ws.onopen = function() { addMessage('Socket open', true); updateStatus(true); };
            ws.onmessage = function(event) {
                const evt = JSON.parse(event.data);
                if (evt.event === 'clients-updated') {
                    renderClients(evt.data);
                } else if (evt.event === 'message-from-server') {
                    addMessage((evt.data.fullName || '?') + ': ' + evt.data.message);
                }
            };
            ws.onclose = function() {
                addMessage('Connection closed', true);
                renderClients([]);
                updateStatus(false);
                ws = null;
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function sendMessage() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ message: messageInput.value }));
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
