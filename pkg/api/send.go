package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/txn2/session-gateway/pkg/protocol"
	"github.com/txn2/session-gateway/pkg/session"
)

const maxSendBody = 32 << 20

// sendRequest is the JSON form of a /send body. Multipart bodies carry the
// same data as "numbers" (a JSON array), "message" and an optional "file".
type sendRequest struct {
	Recipients []string        `json:"recipients"`
	Text       string          `json:"text"`
	Media      *protocol.Media `json:"media,omitempty"`
}

// sendFailure records one recipient that could not be reached.
type sendFailure struct {
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
}

// sendResponse reports per-recipient results. Partial failure is not an
// error.
type sendResponse struct {
	TenantID string        `json:"tenant_id"`
	Message  string        `json:"message"`
	Sent     []string      `json:"sent"`
	Failed   []sendFailure `json:"failed"`
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")

	req, err := parseSendRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	acquireCtx, cancel := context.WithTimeout(r.Context(), h.cfg.RequestTimeout)
	res, err := h.sessions.AcquireOrCreate(acquireCtx, tenantID)
	cancel()
	if err != nil {
		writeAcquireError(w, tenantID, err)
		return
	}
	if res.Outcome != session.OutcomeConnected {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":     "tenant is not connected, pairing required",
			"challenge": res.Challenge,
		})
		return
	}

	resp := h.deliver(r.Context(), res.Handle, req)
	resp.TenantID = tenantID
	writeJSON(w, http.StatusOK, resp)
}

// deliver sends the message to every recipient in order, pacing sends with
// the tenant's limiter.
func (h *Handler) deliver(ctx context.Context, handle *session.Handle, req *sendRequest) sendResponse {
	resp := sendResponse{Sent: []string{}, Failed: []sendFailure{}}
	limiter := h.limiter(handle.TenantID())

	for i, recipient := range req.Recipients {
		if err := limiter.Wait(ctx); err != nil {
			for _, rest := range req.Recipients[i:] {
				resp.Failed = append(resp.Failed, sendFailure{Recipient: rest, Error: "request cancelled"})
			}
			break
		}

		msg := protocol.Message{
			To:    protocol.NormalizeRecipient(recipient),
			Text:  req.Text,
			Media: req.Media,
		}
		if err := handle.Send(ctx, msg); err != nil {
			slog.Warn("api: send failed",
				"tenant_id", handle.TenantID(), "recipient", msg.To, slogKeyError, err)
			resp.Failed = append(resp.Failed, sendFailure{Recipient: recipient, Error: sendErrorText(err)})
			continue
		}
		resp.Sent = append(resp.Sent, recipient)
	}

	resp.Message = fmt.Sprintf("sent to %d, failed for %d", len(resp.Sent), len(resp.Failed))
	return resp
}

func sendErrorText(err error) string {
	if errors.Is(err, session.ErrNotConnected) {
		return "session is no longer connected"
	}
	return "send failed"
}

// parseSendRequest reads a JSON or multipart send body.
func parseSendRequest(w http.ResponseWriter, r *http.Request) (*sendRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSendBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		req *sendRequest
		err error
	)
	if mediaType == "multipart/form-data" {
		req, err = parseMultipartSend(r)
	} else {
		req = &sendRequest{}
		if derr := json.NewDecoder(r.Body).Decode(req); derr != nil {
			err = fmt.Errorf("invalid request body: %w", derr)
		}
	}
	if err != nil {
		return nil, err
	}

	recipients := req.Recipients[:0]
	for _, rcpt := range req.Recipients {
		if rcpt = strings.TrimSpace(rcpt); rcpt != "" {
			recipients = append(recipients, rcpt)
		}
	}
	req.Recipients = recipients
	if len(req.Recipients) == 0 {
		return nil, errors.New("recipients are required")
	}
	if req.Text == "" && req.Media == nil {
		return nil, errors.New("text or media is required")
	}
	return req, nil
}

func parseMultipartSend(r *http.Request) (*sendRequest, error) {
	if err := r.ParseMultipartForm(maxSendBody); err != nil {
		return nil, fmt.Errorf("parsing multipart body: %w", err)
	}

	req := &sendRequest{Text: r.FormValue("message")}
	numbers := r.FormValue("numbers")
	if numbers == "" {
		return nil, errors.New("numbers (JSON array) are required")
	}
	if err := json.Unmarshal([]byte(numbers), &req.Recipients); err != nil {
		return nil, errors.New("numbers must be a valid JSON array")
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	req.Media = &protocol.Media{
		MimeType: mimeType,
		FileName: header.Filename,
		Data:     data,
	}
	return req, nil
}
