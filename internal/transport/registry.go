// Package transport carries interaction events in and UI frames out
// over WebSocket.
package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/reflow/internal/domain"
	"github.com/coder/websocket"
)

const deliverTimeout = 10 * time.Second

// SessionKey builds the runtime session ID from the anonymous device
// ID and the per-tab session ID: each browser tab is its own isolated
// session.
func SessionKey(userID, tabID string) string {
	return userID + "/" + tabID
}

func splitSessionKey(key string) (userID, tabID string) {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

// Registry tracks the active WebSocket connection per session and
// implements the scheduler's Renderer by pushing frames to it.
type Registry struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn // userID -> tabID -> conn
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]map[string]*websocket.Conn)}
}

// Register adds a connection for a user/tab, replacing any previous
// one for the same tab.
func (r *Registry) Register(userID, tabID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[userID]; !ok {
		r.active[userID] = make(map[string]*websocket.Conn)
	}
	if existing, ok := r.active[userID][tabID]; ok && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	r.active[userID][tabID] = conn
	slog.Info("Connection registered", "user_id", userID, "tab_id", tabID)
}

// Unregister removes a connection if it is still the active one.
func (r *Registry) Unregister(userID, tabID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tabs, ok := r.active[userID]; ok {
		if current, ok := tabs[tabID]; ok && current == conn {
			delete(tabs, tabID)
			if len(tabs) == 0 {
				delete(r.active, userID)
			}
			slog.Info("Connection unregistered", "user_id", userID, "tab_id", tabID)
		}
	}
}

// Get returns the active connection for a user/tab, nil if none.
func (r *Registry) Get(userID, tabID string) *websocket.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tabs, ok := r.active[userID]; ok {
		return tabs[tabID]
	}
	return nil
}

// CloseUser terminates every connection of one device.
func (r *Registry) CloseUser(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tabs, ok := r.active[userID]
	if !ok {
		return
	}
	for tabID, conn := range tabs {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
		slog.Info("Connection closed", "user_id", userID, "tab_id", tabID)
	}
	delete(r.active, userID)
}

// Deliver pushes one generation's frame to the session's connection.
// A session with no connection (tab closed mid-rerun) just drops the
// frame; the committed state is what matters.
func (r *Registry) Deliver(sessionID string, frame domain.Frame) {
	userID, tabID := splitSessionKey(sessionID)
	conn := r.Get(userID, tabID)
	if conn == nil {
		slog.Debug("No connection for frame", "session_id", sessionID, "generation", frame.Generation)
		return
	}

	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("Failed to marshal frame", "session_id", sessionID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("Frame delivery failed", "session_id", sessionID, "generation", frame.Generation, "error", err)
	}
}
