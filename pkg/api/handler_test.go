package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/session-gateway/pkg/credential"
	"github.com/txn2/session-gateway/pkg/events"
	"github.com/txn2/session-gateway/pkg/protocol"
	"github.com/txn2/session-gateway/pkg/session"
)

const testTenant = "acme"

type testEnv struct {
	handler *Handler
	client  *protocol.Loopback
	store   *credential.MemoryStore
	hub     *events.Hub
	manager *session.Manager
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	codec, err := credential.NewCodec(nil)
	require.NoError(t, err)
	store := credential.NewMemoryStore(codec)
	client := protocol.NewLoopback(time.Hour)
	hub := events.NewHub(16, nil)

	mgr := session.New(client, store, session.Config{
		MaxSessions:  3,
		StoreTimeout: time.Second,
	}, session.WithSink(hub))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mgr.Close(ctx)
	})

	if cfg.SendInterval == 0 {
		cfg.SendInterval = time.Millisecond
	}
	return &testEnv{
		handler: NewHandler(mgr, hub, cfg),
		client:  client,
		store:   store,
		hub:     hub,
		manager: mgr,
	}
}

func (e *testEnv) seed(t *testing.T, tenantID string) {
	t.Helper()
	require.NoError(t, e.store.Save(context.Background(), tenantID, credential.Blob{
		"me": map[string]any{"id": tenantID},
	}))
}

func (e *testEnv) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)

	var body map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	}
	return w.Code, body
}

func get(path string) *http.Request {
	return httptest.NewRequest(http.MethodGet, path, http.NoBody)
}

func postJSON(t *testing.T, path string, v any) *http.Request {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// fakeSessions returns a fixed acquire error.
type fakeSessions struct {
	err error

	removeCtxErr error
}

func (f *fakeSessions) AcquireOrCreate(context.Context, string) (session.Result, error) {
	return session.Result{}, f.err
}

func (f *fakeSessions) Remove(ctx context.Context, _ string) error {
	f.removeCtxErr = ctx.Err()
	return nil
}

func (*fakeSessions) Status(tenantID string) session.Status {
	return session.Status{TenantID: tenantID, State: session.StateNotTracked}
}

func (*fakeSessions) Sessions() []session.Status { return nil }

func TestLogin_ResumesFromStoredCredentials(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.seed(t, testTenant)

	code, body := env.do(t, get("/login/"+testTenant))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "connected", body["status"])
	assert.Equal(t, "active", body["state"])

	code, body = env.do(t, get("/login/"+testTenant))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "already connected", body["message"])
}

func TestLogin_PairingRequired(t *testing.T) {
	env := newTestEnv(t, Config{})

	code, body := env.do(t, get("/login/"+testTenant))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "pairing_required", body["status"])
	assert.Equal(t, "awaiting_pairing", body["state"])
	assert.NotEmpty(t, body["challenge"])
}

func TestLogin_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantReason string
	}{
		{"closed", session.ErrClosed, http.StatusServiceUnavailable, ""},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, ""},
		{
			"connect failure",
			&session.ConnectError{TenantID: testTenant, Reason: protocol.ReasonTimedOut},
			http.StatusBadGateway, "timed_out",
		},
		{"other", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&fakeSessions{err: tt.err}, nil, Config{})
			w := httptest.NewRecorder()
			h.ServeHTTP(w, get("/login/"+testTenant))

			assert.Equal(t, tt.wantCode, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
			assert.Equal(t, tt.wantReason, body["reason"])
		})
	}
}

func TestLogout_RemovesSessionAndCredentials(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.seed(t, testTenant)

	code, _ := env.do(t, get("/login/"+testTenant))
	require.Equal(t, http.StatusOK, code)

	code, body := env.do(t, get("/logout/"+testTenant))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "logged_out", body["status"])

	rec, err := env.store.Load(context.Background(), testTenant)
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, body = env.do(t, get("/status/"+testTenant))
	assert.Equal(t, "not_tracked", body["state"])
}

func TestLogout_SurvivesClientDisconnect(t *testing.T) {
	sessions := &fakeSessions{}
	h := NewHandler(sessions, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, get("/logout/"+testTenant).WithContext(ctx))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, sessions.removeCtxErr, "remove must not inherit the request cancellation")
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, Config{})

	code, body := env.do(t, get("/status/nobody"))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "nobody", body["tenant_id"])
	assert.Equal(t, "not_tracked", body["state"])
	assert.Equal(t, false, body["tracked"])

	env.seed(t, testTenant)
	env.do(t, get("/login/"+testTenant))
	_, body = env.do(t, get("/status/"+testTenant))
	assert.Equal(t, "active", body["state"])
	assert.Equal(t, true, body["tracked"])
}

func TestSessions_List(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.seed(t, testTenant)
	env.do(t, get("/login/"+testTenant))
	env.do(t, get("/login/other"))

	code, body := env.do(t, get("/sessions"))
	require.Equal(t, http.StatusOK, code)
	list, ok := body["sessions"].([]any)
	require.True(t, ok)
	assert.Len(t, list, 2)
}

func TestSend_JSON(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.seed(t, testTenant)

	code, body := env.do(t, postJSON(t, "/send/"+testTenant, map[string]any{
		"recipients": []string{"15550001", " 15550002@s.whatsapp.net ", ""},
		"text":       "hello",
	}))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"15550001", "15550002@s.whatsapp.net"}, body["sent"])
	assert.Empty(t, body["failed"])
	assert.Equal(t, "sent to 2, failed for 0", body["message"])

	sent := env.client.Sent(testTenant)
	require.Len(t, sent, 2)
	assert.Equal(t, "15550001@s.whatsapp.net", sent[0].To)
	assert.Equal(t, "15550002@s.whatsapp.net", sent[1].To)
	assert.Equal(t, "hello", sent[0].Text)
}

func TestSend_MultipartWithFile(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.seed(t, testTenant)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("numbers", `["15550001"]`))
	require.NoError(t, mw.WriteField("message", "see attached"))
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="file"; filename="cat.png"`},
		"Content-Type":        {"image/png"},
	})
	require.NoError(t, err)
	_, err = part.Write([]byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/send/"+testTenant, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	code, body := env.do(t, req)
	require.Equal(t, http.StatusOK, code, body)

	sent := env.client.Sent(testTenant)
	require.Len(t, sent, 1)
	require.NotNil(t, sent[0].Media)
	assert.Equal(t, protocol.MediaImage, sent[0].Media.Kind())
	assert.Equal(t, "cat.png", sent[0].Media.FileName)
	assert.Equal(t, "see attached", sent[0].Text)
}

func TestSend_Validation(t *testing.T) {
	env := newTestEnv(t, Config{})

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"malformed json", httptest.NewRequest(http.MethodPost, "/send/"+testTenant, strings.NewReader("{"))},
		{"no recipients", postJSON(t, "/send/"+testTenant, map[string]any{"text": "hi"})},
		{"blank recipients", postJSON(t, "/send/"+testTenant, map[string]any{"recipients": []string{" "}, "text": "hi"})},
		{"no content", postJSON(t, "/send/"+testTenant, map[string]any{"recipients": []string{"1"}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := env.do(t, tt.req)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.NotEmpty(t, body["error"])
		})
	}
	assert.Equal(t, session.StateNotTracked, env.manager.Status(testTenant).State)
}

func TestSend_PairingRequired(t *testing.T) {
	env := newTestEnv(t, Config{})

	code, body := env.do(t, postJSON(t, "/send/"+testTenant, map[string]any{
		"recipients": []string{"1"},
		"text":       "hi",
	}))
	assert.Equal(t, http.StatusConflict, code)
	assert.NotEmpty(t, body["challenge"])
	assert.Empty(t, env.client.Sent(testTenant))
}

func TestSendErrorText(t *testing.T) {
	assert.Equal(t, "session is no longer connected",
		sendErrorText(session.ErrNotConnected))
	assert.Equal(t, "send failed", sendErrorText(errors.New("wire")))
}

func TestHandler_OptionalRoutes(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := NewHandler(&fakeSessions{}, nil, Config{}, WithHealth(ok, ok), WithMetrics(ok))

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, get(path))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, get("/events/"+testTenant))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
