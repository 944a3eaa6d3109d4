package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/txn2/session-gateway/pkg/session"
)

// loginResponse is the body returned by /login.
type loginResponse struct {
	TenantID  string        `json:"tenant_id"`
	State     session.State `json:"state"`
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Challenge string        `json:"challenge,omitempty"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")

	if st := h.sessions.Status(tenantID); st.State == session.StateActive {
		writeJSON(w, http.StatusOK, loginResponse{
			TenantID: tenantID,
			State:    st.State,
			Status:   session.OutcomeConnected.String(),
			Message:  "already connected",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
	defer cancel()

	res, err := h.sessions.AcquireOrCreate(ctx, tenantID)
	if err != nil {
		writeAcquireError(w, tenantID, err)
		return
	}

	resp := loginResponse{
		TenantID: tenantID,
		State:    h.sessions.Status(tenantID).State,
		Status:   res.Outcome.String(),
	}
	if res.Outcome == session.OutcomePairingRequired {
		resp.Challenge = res.Challenge
		resp.Message = "pairing required"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")

	// The tenant is dropped as soon as Remove starts, so the credential delete
	// must finish even if the client goes away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.cfg.RequestTimeout)
	defer cancel()

	if err := h.sessions.Remove(ctx, tenantID); err != nil {
		slog.Error("api: logout failed", "tenant_id", tenantID, slogKeyError, err)
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}

	h.limitersMu.Lock()
	delete(h.limiters, tenantID)
	h.limitersMu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{
		"tenant_id": tenantID,
		"status":    "logged_out",
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Status(r.PathValue("tenant")))
}

func (h *Handler) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": h.sessions.Sessions()})
}

// writeAcquireError maps a failed acquire to an HTTP response.
func writeAcquireError(w http.ResponseWriter, tenantID string, err error) {
	var connErr *session.ConnectError
	switch {
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "gateway is shutting down")
	case errors.As(err, &connErr):
		slog.Warn("api: connection failed",
			"tenant_id", tenantID, "reason", connErr.Reason, slogKeyError, err)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":  "connection failed, manual login required",
			"reason": string(connErr.Reason),
		})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeError(w, http.StatusGatewayTimeout, "timed out waiting for connection")
	default:
		slog.Error("api: acquire failed", "tenant_id", tenantID, slogKeyError, err)
		writeError(w, http.StatusInternalServerError, "connection failed")
	}
}
