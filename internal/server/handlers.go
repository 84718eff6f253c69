// Package server exposes HTTP handlers, including authenticated WebSocket
// upgrades, login, health checks, and the built-in test page.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/Tyrowin/chatrelay/internal/auth"
	"github.com/Tyrowin/chatrelay/internal/store"
)

var validate = validator.New()

// loginRequest is the body of POST /api/login.
type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user"`
}

// WebSocketHandler resolves the handshake credential, upgrades the
// connection and registers the client with the hub. Requests whose token
// does not resolve are refused with 401 and never upgraded.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	user, err := s.resolver.Resolve(r.Context(), auth.TokenFromRequest(r))
	if err != nil {
		s.logger.Warn("handshake authentication failed", "addr", r.RemoteAddr, "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "user_id", user.ID, "error", err)
		return
	}

	client := NewClient(conn, s.hub, s.service, user.ID, r.RemoteAddr, s.cfg)
	s.hub.Register(client)
}

// LoginHandler checks an email/password pair and returns a handshake token.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	user, err := s.users.GetUserByEmail(r.Context(), req.Email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	case err != nil:
		s.logger.Error("loading user for login", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := s.tokens.Generate(user.ID, s.cfg.Auth.TokenTTL)
	if err != nil {
		s.logger.Error("issuing token", "user_id", user.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user})
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "chatrelay server is running!")
}

// StatusHandler reports live presence and connection counts as JSON.
func (s *Server) StatusHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"online_users": s.presence.Count(),
		"connections":  s.hub.ConnectionCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// TestPageHandler serves an HTML page for exercising the event protocol
// from a browser.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		s.logger.Warn("writing test page", "error", err)
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>chatrelay test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 360px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; font-family: monospace; white-space: pre-wrap; }
        input[type="text"], input[type="password"] { width: 220px; padding: 5px; margin-right: 6px; }
        button { padding: 5px 12px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:hover { background-color: #005a87; }
        .row { margin: 6px 0; }
    </style>
</head>
<body>
    <h1>chatrelay test</h1>
    <div class="row">
        <input type="text" id="email" placeholder="email">
        <input type="password" id="password" placeholder="password">
        <button onclick="login()">Login &amp; connect</button>
        <span id="me"></span>
    </div>
    <div class="row">
        <input type="text" id="peer" placeholder="peer user id">
        <button onclick="emit('message-page', peer())">Open</button>
        <button onclick="emit('seen', peer())">Seen</button>
        <button onclick="emit('sidebar', me)">Sidebar</button>
    </div>
    <div class="row">
        <input type="text" id="text" placeholder="message">
        <button onclick="send()">Send</button>
    </div>
    <div id="log"></div>
    <script>
        let ws = null;
        let me = '';
        const log = document.getElementById('log');
        const peer = () => document.getElementById('peer').value.trim();

        function append(line) {
            log.textContent += line + '\n';
            log.scrollTop = log.scrollHeight;
        }

        async function login() {
            const res = await fetch('/api/login', {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: JSON.stringify({
                    email: document.getElementById('email').value,
                    password: document.getElementById('password').value
                })
            });
            if (!res.ok) { append('login failed: ' + res.status); return; }
            const body = await res.json();
            me = body.user._id;
            document.getElementById('me').textContent = body.user.name + ' (' + me + ')';
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?token=' + encodeURIComponent(body.token));
            ws.onopen = () => append('connected');
            ws.onclose = () => append('disconnected');
            ws.onmessage = (ev) => {
                const env = JSON.parse(ev.data);
                append(env.event + ': ' + JSON.stringify(env.data));
            };
        }

        function emit(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({event: event, data: data}));
            }
        }

        function send() {
            const input = document.getElementById('text');
            emit('new message', {sender: me, receiver: peer(), text: input.value, msgByUserId: me});
            input.value = '';
        }
    </script>
</body>
</html>`
