// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, history export, the optional inference endpoints and the built-in
// test page.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/Tyrowin/chatrelay/internal/inference"
)

// Inference is the optional text service behind the suggestion and
// analysis endpoints.
type Inference interface {
	Suggest(ctx context.Context, text string) ([]string, error)
	AnalyzeUsers(ctx context.Context, lines []inference.Line) ([]inference.UserAnalysis, error)
}

// Handlers serves the HTTP surface of one hub.
type Handlers struct {
	hub       *Hub
	inference Inference
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// NewHandlers builds the handlers for hub. inf may be nil, in which case the
// inference endpoints always answer with empty results.
func NewHandlers(hub *Hub, inf Inference) *Handlers {
	policy := newOriginPolicy(hub.Config().AllowedOrigins, hub.logger)
	return &Handlers{
		hub:       hub,
		inference: inf,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.checkOrigin,
		},
		logger: hub.logger.With(slog.String("component", "http")),
	}
}

// WebSocketHandler upgrades GET requests to WebSocket and hands the new
// connection to the hub in the unjoined state.
func (h *Handlers) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	client := NewClient(conn, h.hub, r.RemoteAddr)
	if !h.hub.Attach(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat relay is running!")
}

type historyResponse struct {
	Messages []ChatMessage `json:"messages"`
}

// HistoryHandler exports the current message history.
func (h *Handlers) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, historyResponse{Messages: h.hub.Store().Snapshot()})
}

type autocompleteRequest struct {
	Text string `json:"text"`
}

type autocompleteResponse struct {
	Suggestions []string `json:"suggestions"`
}

// AutocompleteHandler asks the inference service for reply suggestions.
// Failures degrade to an empty list.
func (h *Handlers) AutocompleteHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req autocompleteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	suggestions := []string{}
	if h.inference != nil {
		out, err := h.inference.Suggest(r.Context(), req.Text)
		if err != nil {
			h.logger.Warn("suggestions unavailable", slog.Any("error", err))
		} else if out != nil {
			suggestions = out
		}
	}
	h.writeJSON(w, autocompleteResponse{Suggestions: suggestions})
}

type analyzeResponse struct {
	Analyses []inference.UserAnalysis `json:"analyses"`
}

// AnalyzeUsersHandler asks the inference service for a mood analysis of
// every participant in the current history. Failures degrade to an empty
// list.
func (h *Handlers) AnalyzeUsersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	analyses := []inference.UserAnalysis{}
	if h.inference != nil {
		lines := lo.Map(h.hub.Store().Snapshot(), func(m ChatMessage, _ int) inference.Line {
			return inference.Line{Author: m.Author, Text: m.Text}
		})
		out, err := h.inference.AnalyzeUsers(r.Context(), lines)
		if err != nil {
			h.logger.Warn("user analysis unavailable", slog.Any("error", err))
		} else if out != nil {
			analyses = out
		}
	}
	h.writeJSON(w, analyzeResponse{Analyses: analyses})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("write json response", slog.Any("error", err))
	}
}

// TestPageHandler serves a minimal chat page that speaks the join/message
// protocol, for manual testing.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		slog.Warn("write test page", slog.Any("error", err))
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Chat Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #layout { display: flex; gap: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            width: 500px;
            padding: 10px;
            overflow-y: scroll;
            background-color: #f9f9f9;
        }
        #users { border: 1px solid #ccc; width: 160px; padding: 10px; }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        button:disabled { background-color: #999; }
        .error { color: #721c24; }
        .meta { color: gray; font-size: 0.8em; }
    </style>
</head>
<body>
    <h1>Chat Relay Test</h1>

    <div>
        <input type="text" id="nameInput" placeholder="Display name">
        <button id="joinButton" onclick="join()">Join</button>
    </div>
    <div style="margin: 10px 0;">
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <div id="layout">
        <div id="messages"></div>
        <ul id="users"></ul>
    </div>

    <script>
        let ws = null;
        const el = id => document.getElementById(id);

        function line(text, cls) {
            const div = document.createElement('div');
            if (cls) div.className = cls;
            div.textContent = text;
            el('messages').appendChild(div);
            el('messages').scrollTop = el('messages').scrollHeight;
        }

        function render(msg) {
            const when = new Date(msg.timestamp).toLocaleTimeString();
            line('[' + when + '] ' + msg.author + ': ' + msg.text);
        }

        function join() {
            const name = el('nameInput').value.trim();
            if (!name) return;
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = () => ws.send(JSON.stringify({type: 'join', name}));
            ws.onmessage = ev => {
                const p = JSON.parse(ev.data);
                if (p.type === 'history') {
                    el('messages').innerHTML = '';
                    (p.messages || []).forEach(render);
                    el('messageInput').disabled = false;
                    el('sendButton').disabled = false;
                } else if (p.type === 'message') {
                    render(p);
                } else if (p.type === 'users') {
                    el('users').innerHTML = '';
                    (p.names || []).forEach(n => {
                        const li = document.createElement('li');
                        li.textContent = n;
                        el('users').appendChild(li);
                    });
                } else if (p.type === 'error') {
                    line('error: ' + p.message, 'error');
                }
            };
            ws.onclose = () => {
                line('connection closed', 'meta');
                el('messageInput').disabled = true;
                el('sendButton').disabled = true;
            };
        }

        function sendMessage() {
            const text = el('messageInput').value.trim();
            if (text && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({type: 'message', text}));
                el('messageInput').value = '';
            }
        }

        el('messageInput').addEventListener('keypress', e => {
            if (e.key === 'Enter') sendMessage();
        });
    </script>
</body>
</html>`
