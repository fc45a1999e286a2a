package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/reflow/internal/domain"
	"github.com/ashureev/reflow/internal/identity"
	"github.com/ashureev/reflow/internal/session"
	"github.com/coder/websocket"
)

// Handler upgrades connections and bridges them to the session
// runtime: inbound interaction events trigger reruns, outbound frames
// arrive via the Registry's Deliver.
type Handler struct {
	mgr           *session.Manager
	reg           *Registry
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a WebSocket handler.
func NewHandler(mgr *session.Manager, reg *Registry, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		mgr:           mgr,
		reg:           reg,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsMessage is the inbound client message. A form submit sends the
// submit button's identity plus the batched edits in updates.
type wsMessage struct {
	Type     string          `json:"type"`
	Identity string          `json:"identity,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Updates  []wsUpdate      `json:"updates,omitempty"`
}

type wsUpdate struct {
	Identity string          `json:"identity"`
	Value    json.RawMessage `json:"value"`
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "user_id", userID, "tab_id", tabID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.reg.Register(userID, tabID, ws)
	defer h.reg.Unregister(userID, tabID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	key := SessionKey(userID, tabID)
	if _, err := h.mgr.GetOrCreate(ctx, key); err != nil {
		slog.Error("Failed to establish session", "session_id", key, "error", err)
		h.writeJSON(ws, map[string]string{"error": "session_unavailable"})
		return
	}

	// Initial run: no interaction event, produces the first tree.
	if err := h.mgr.Trigger(key, nil); err != nil {
		slog.Error("Failed to trigger initial run", "session_id", key, "error", err)
		h.writeJSON(ws, map[string]string{"error": "session_unavailable"})
		return
	}

	h.readLoop(ctx, ws, key)
	slog.Info("WebSocket session ended", "session_id", key)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, key string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", key)
			} else {
				slog.Warn("WebSocket read error", "session_id", key, "error", err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("Discarding malformed message", "session_id", key, "error", err)
			continue
		}

		switch msg.Type {
		case "event":
			ev, err := decodeEvent(&msg)
			if err != nil {
				slog.Debug("Discarding event with malformed value", "session_id", key, "error", err)
				continue
			}
			if err := h.mgr.Trigger(key, ev); err != nil {
				if errors.Is(err, domain.ErrSessionExpired) {
					h.writeJSON(ws, map[string]string{"error": "session_expired"})
					return
				}
				slog.Warn("Failed to trigger rerun", "session_id", key, "error", err)
			}
		case "ping":
			h.writeJSON(ws, map[string]string{"type": "pong"})
		default:
			slog.Debug("Unknown message type", "session_id", key, "type", msg.Type)
		}
	}
}

func decodeEvent(msg *wsMessage) (*domain.Event, error) {
	ev := &domain.Event{Identity: msg.Identity}
	if len(msg.Value) > 0 {
		if err := json.Unmarshal(msg.Value, &ev.Value); err != nil {
			return nil, err
		}
	}
	for _, u := range msg.Updates {
		var value any
		if len(u.Value) > 0 {
			if err := json.Unmarshal(u.Value, &value); err != nil {
				return nil, err
			}
		}
		ev.Updates = append(ev.Updates, domain.Update{Identity: u.Identity, Value: value})
	}
	return ev, nil
}

func (h *Handler) writeJSON(ws *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := ws.Write(context.Background(), websocket.MessageText, data); err != nil {
		slog.Debug("WebSocket write failed", "error", err)
	}
}
