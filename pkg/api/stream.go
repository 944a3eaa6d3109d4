package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const streamKeepAlive = 25 * time.Second

// stream serves the tenant's lifecycle events as server-sent events. The
// current status is written first as a "status" event.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, unsubscribe := h.events.Subscribe(tenantID)
	defer unsubscribe()

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "status", "", h.sessions.Status(tenantID)); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, "session", ev.ID, ev); err != nil {
				slog.Debug("api: event stream closed", "tenant_id", tenantID, slogKeyError, err)
				return
			}
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, name, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return fmt.Errorf("writing event: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}
