// Package api exposes the collector over HTTP: auth, single and batch
// collection, saved-product queries, and run control.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/collectkit/amazon-collector/internal/backend"
	"github.com/collectkit/amazon-collector/internal/engine"
	"github.com/collectkit/amazon-collector/internal/extract"
	"github.com/collectkit/amazon-collector/internal/session"
)

type Handlers struct {
	sessions *session.Store
	products *backend.Client
	engine   *engine.Engine
	logger   *slog.Logger
}

func NewHandlers(sessions *session.Store, products *backend.Client, eng *engine.Engine, logger *slog.Logger) *Handlers {
	return &Handlers{
		sessions: sessions,
		products: products,
		engine:   eng,
		logger:   logger.With("component", "api"),
	}
}

func (h *Handlers) Ping(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "pong"})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		h.respondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Warn("login failed", "email", req.Email, "error", err)
		h.respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "user": user})
}

// Register creates the account and signs it in, so the caller holds a
// session immediately afterwards.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		h.respondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.sessions.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logger.Warn("registration failed", "email", req.Email, "error", err)
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "user": user})
}

// Logout cancels any in-progress run, then revokes the session and clears
// all local state. Nothing may keep stepping against a revoked session.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.engine.Cancel(r.Context())
	h.sessions.Logout(r.Context())
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// AuthStatus reports whether a session is held. A token close to expiry is
// refreshed here so the caller never observes a session that is about to die.
func (h *Handlers) AuthStatus(w http.ResponseWriter, r *http.Request) {
	if h.sessions.IsLoggedIn() && h.sessions.IsExpiringSoon() {
		if err := h.sessions.Refresh(r.Context()); err != nil {
			h.logger.Warn("proactive refresh failed", "error", err)
		}
	}

	resp := map[string]interface{}{
		"success":  true,
		"loggedIn": h.sessions.IsLoggedIn(),
	}
	if sess := h.sessions.Current(); sess != nil && sess.User != nil {
		resp["user"] = sess.User
	}
	h.respondJSON(w, http.StatusOK, resp)
}

type collectRequest struct {
	ASIN string `json:"asin"`
	URL  string `json:"url"`
}

// CollectOne extracts and saves a single product by ASIN or detail URL.
func (h *Handlers) CollectOne(w http.ResponseWriter, r *http.Request) {
	var req collectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	asin := req.ASIN
	if asin == "" && req.URL != "" {
		asin = extract.ASINFromURL(req.URL)
	}
	if asin == "" {
		h.respondError(w, http.StatusBadRequest, "either asin or url is required")
		return
	}

	record, result, err := h.engine.CollectOne(r.Context(), asin)
	if err != nil {
		h.respondCollectError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"skipped": result.Skipped,
		"product": record,
	})
}

type startRequest struct {
	ASINs []string `json:"asins"`
}

func (h *Handlers) StartCollection(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.ASINs) == 0 {
		h.respondError(w, http.StatusBadRequest, "asins is required")
		return
	}

	st, err := h.engine.Start(r.Context(), req.ASINs)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrNotAuthenticated):
			h.respondError(w, http.StatusUnauthorized, "login required")
		case errors.Is(err, engine.ErrBusy):
			h.respondError(w, http.StatusConflict, "collection already in progress")
		default:
			h.respondError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	h.respondJSON(w, http.StatusAccepted, map[string]interface{}{"success": true, "state": st})
}

func (h *Handlers) PauseCollection(w http.ResponseWriter, r *http.Request) {
	h.engine.Pause(r.Context())
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "state": h.engine.State()})
}

func (h *Handlers) ResumeCollection(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Resume(r.Context()); err != nil {
		if errors.Is(err, engine.ErrNotAuthenticated) {
			h.respondError(w, http.StatusUnauthorized, "login required to resume")
			return
		}
		h.respondError(w, http.StatusConflict, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "state": h.engine.State()})
}

func (h *Handlers) CancelCollection(w http.ResponseWriter, r *http.Request) {
	h.engine.Cancel(r.Context())
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "state": h.engine.State()})
}

func (h *Handlers) CollectionStatus(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "state": h.engine.State()})
}

func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 50)
	marketplace := r.URL.Query().Get("marketplace")

	result, err := h.products.ListProducts(r.Context(), page, limit, marketplace)
	if err != nil {
		h.respondCollectError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"data":       result.Data,
		"count":      result.Count,
		"page":       result.Page,
		"totalPages": result.TotalPages,
	})
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.products.Stats(r.Context())
	if err != nil {
		h.respondCollectError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "stats": stats})
}

// respondCollectError maps the error taxonomy onto HTTP statuses.
func (h *Handlers) respondCollectError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotAuthenticated), backend.IsSessionExpired(err), backend.IsAuthError(err):
		h.respondError(w, http.StatusUnauthorized, err.Error())
	default:
		var reqErr backend.RequestError
		if errors.As(err, &reqErr) && reqErr.StatusCode >= 400 && reqErr.StatusCode < 500 {
			h.respondError(w, reqErr.StatusCode, err.Error())
			return
		}
		h.logger.Error("request failed", "error", err)
		h.respondError(w, http.StatusBadGateway, err.Error())
	}
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return def
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]interface{}{"success": false, "error": message})
}
