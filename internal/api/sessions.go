package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/chatrelay/internal/identity"
	"github.com/ashureev/chatrelay/internal/session"
)

// initLocks prevents concurrent initialization for the same tenant.
var initLocks sync.Map

const (
	maxMessagesLimit      = 500
	transportStateTimeout = 3 * time.Second
)

// SessionHandler serves the tenant session endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes mounts the session endpoints on r.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/initialize", h.Initialize)
	r.Get("/sessions", h.List)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware)
		r.Get("/qr/{userId}", h.QR)
		r.Get("/status/{userId}", h.Status)
		r.Get("/groups/{userId}", h.Groups)
		r.Get("/messages/{userId}", h.Messages)
		r.Post("/logout/{userId}", h.Logout)
	})
}

type initializeRequest struct {
	UserID string `json:"userId"`
}

type statusResponse struct {
	UserID         string    `json:"userId"`
	State          string    `json:"state"`
	TransportState string    `json:"transportState,omitempty"`
	HasQR          bool      `json:"hasQr"`
	Pending        int       `json:"pending"`
	Queued         int       `json:"queued"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func toStatus(s session.Snapshot) statusResponse {
	return statusResponse{
		UserID:    s.TenantID,
		State:     string(s.State),
		HasQR:     s.HasPairingCode(),
		Pending:   s.Pending,
		Queued:    s.Queued,
		UpdatedAt: s.UpdatedAt,
	}
}

// Initialize starts a session for the tenant named in the body.
func (h *SessionHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tenantID, ok := identity.NormalizeTenantID(req.UserID)
	if !ok {
		Error(w, http.StatusBadRequest, "invalid userId")
		return
	}

	lock, _ := initLocks.LoadOrStore(tenantID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		slog.Warn("Initialization already in progress", "tenant_id", tenantID)
		Error(w, http.StatusConflict, "initialization_in_progress")
		return
	}
	defer func() {
		mutex.Unlock()
		initLocks.Delete(tenantID)
	}()

	snap, err := h.sessions.Initialize(r.Context(), tenantID)
	if err != nil {
		slog.Error("Failed to initialize session", "error", err, "tenant_id", tenantID)
		Error(w, http.StatusBadGateway, err.Error())
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"status": "initialized",
		"userId": tenantID,
		"state":  string(snap.State),
	})
}

// List returns every session.
func (h *SessionHandler) List(w http.ResponseWriter, _ *http.Request) {
	snaps := h.sessions.List()
	out := make([]statusResponse, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, toStatus(s))
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// QR returns the pairing code waiting to be scanned.
func (h *SessionHandler) QR(w http.ResponseWriter, r *http.Request) {
	tenantID := identity.TenantIDFromContext(r.Context())
	snap, err := h.sessions.Snapshot(tenantID)
	if err != nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	if !snap.HasPairingCode() {
		Error(w, http.StatusNotFound, "no pairing code available")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"userId": tenantID, "qr": snap.PairingCode})
}

// Status returns the tenant's session state. Live sessions also report what
// the transport itself says about the connection.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	tenantID := identity.TenantIDFromContext(r.Context())
	snap, err := h.sessions.Snapshot(tenantID)
	if err != nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	resp := toStatus(snap)
	if snap.State.IsLive() {
		ctx, cancel := context.WithTimeout(r.Context(), transportStateTimeout)
		st, err := h.sessions.TransportState(ctx, tenantID)
		cancel()
		if err != nil {
			slog.Warn("Failed to read transport state", "error", err, "tenant_id", tenantID)
		} else {
			resp.TransportState = string(st)
		}
	}
	JSON(w, http.StatusOK, resp)
}

type groupResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Participants int    `json:"participants"`
}

// Groups lists the tenant's group conversations.
func (h *SessionHandler) Groups(w http.ResponseWriter, r *http.Request) {
	tenantID := identity.TenantIDFromContext(r.Context())
	convs, err := h.sessions.Conversations(r.Context(), tenantID)
	switch {
	case errors.Is(err, session.ErrUnknownTenant):
		Error(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, session.ErrNotReady):
		Error(w, http.StatusConflict, "session not ready")
		return
	case err != nil:
		slog.Error("Failed to list conversations", "error", err, "tenant_id", tenantID)
		Error(w, http.StatusBadGateway, err.Error())
		return
	}

	groups := make([]groupResponse, 0, len(convs))
	for _, c := range convs {
		if !c.IsGroup {
			continue
		}
		groups = append(groups, groupResponse{ID: c.ID, Name: c.Name, Participants: c.ParticipantCount})
	}
	JSON(w, http.StatusOK, map[string]any{"userId": tenantID, "groups": groups})
}

// Messages returns the relay log for one conversation, newest first.
func (h *SessionHandler) Messages(w http.ResponseWriter, r *http.Request) {
	tenantID := identity.TenantIDFromContext(r.Context())
	conversationID := r.URL.Query().Get("conversation")
	if conversationID == "" {
		Error(w, http.StatusBadRequest, "conversation is required")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxMessagesLimit)
	}

	msgs, err := h.messages.ListMessages(r.Context(), tenantID, conversationID, limit)
	if err != nil {
		slog.Error("Failed to list messages", "error", err, "tenant_id", tenantID)
		Error(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	JSON(w, http.StatusOK, map[string]any{"userId": tenantID, "messages": msgs})
}

// Logout signs the tenant out and evicts the session.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	tenantID := identity.TenantIDFromContext(r.Context())
	err := h.sessions.Logout(r.Context(), tenantID)
	if errors.Is(err, session.ErrUnknownTenant) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		slog.Error("Failed to logout", "error", err, "tenant_id", tenantID)
		Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}
