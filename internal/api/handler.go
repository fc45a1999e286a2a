// Package api provides HTTP handlers for the runtime's control
// surface.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ashureev/reflow/internal/cache"
	"github.com/ashureev/reflow/internal/identity"
	"github.com/ashureev/reflow/internal/session"
	"github.com/ashureev/reflow/internal/store"
	"github.com/ashureev/reflow/internal/transport"
	"github.com/go-chi/chi/v5"
)

// Handler serves health, session, and cache admin endpoints.
type Handler struct {
	repo  store.Repository // nil when persistence is disabled
	mgr   *session.Manager
	cache *cache.Cache
}

// NewHandler creates an API handler.
func NewHandler(repo store.Repository, mgr *session.Manager, c *cache.Cache) *Handler {
	return &Handler{repo: repo, mgr: mgr, cache: c}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// RegisterRoutes mounts the API endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.health)
	r.Get("/api/sessions", h.sessions)
	r.Delete("/api/session", h.destroySession)
	r.Post("/api/cache/invalidate", h.invalidateCache)
	r.Post("/api/cache/clear", h.clearCache)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	persistence := "disabled"
	if h.repo != nil {
		persistence = "ok"
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
			persistence = "unreachable"
		}
	}
	JSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"persistence":   persistence,
		"sessions":      h.mgr.Len(),
		"cache_entries": h.cache.Len(),
	})
}

func (h *Handler) sessions(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"count":       h.mgr.Len(),
		"session_ids": h.mgr.IDs(),
	})
}

// destroySession clears the caller's own session, state included. The
// next contact starts fresh.
func (h *Handler) destroySession(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())
	key := transport.SessionKey(userID, tabID)

	if _, err := h.mgr.Get(key); err != nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	h.mgr.Destroy(r.Context(), key)
	JSON(w, http.StatusOK, map[string]string{"status": "destroyed", "session_id": key})
}

func (h *Handler) invalidateCache(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Dep string `json:"dep"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Dep == "" {
		Error(w, http.StatusBadRequest, "missing dependency token")
		return
	}
	evicted := h.cache.Invalidate(r.Context(), req.Dep)
	JSON(w, http.StatusOK, map[string]any{"dep": req.Dep, "evicted": evicted})
}

func (h *Handler) clearCache(w http.ResponseWriter, _ *http.Request) {
	h.cache.Clear()
	JSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
