package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/session-gateway/pkg/events"
)

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, sc *bufio.Scanner) sseEvent {
	t.Helper()
	var ev sseEvent
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if ev.name != "" {
				return ev
			}
		case strings.HasPrefix(line, "event: "):
			ev.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			ev.data = strings.TrimPrefix(line, "data: ")
		}
	}
	require.NoError(t, sc.Err())
	t.Fatal("stream ended before an event was read")
	return ev
}

func TestStream_StatusThenLifecycleEvents(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.seed(t, testTenant)

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events/"+testTenant, http.NoBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	first := readEvent(t, sc)
	assert.Equal(t, "status", first.name)
	assert.Contains(t, first.data, `"state":"not_tracked"`)

	require.Eventually(t, func() bool { return env.hub.Subscribers(testTenant) == 1 },
		time.Second, 5*time.Millisecond)

	_, err = env.manager.AcquireOrCreate(ctx, testTenant)
	require.NoError(t, err)

	var states []string
	for len(states) == 0 || states[len(states)-1] != "active" {
		ev := readEvent(t, sc)
		require.Equal(t, "session", ev.name)
		var got events.Event
		require.NoError(t, json.Unmarshal([]byte(ev.data), &got))
		assert.Equal(t, testTenant, got.TenantID)
		assert.NotEmpty(t, got.ID)
		states = append(states, got.State)
	}
	assert.Equal(t, []string{"connecting", "active"}, states)
}

func TestStream_UnsubscribesOnDisconnect(t *testing.T) {
	env := newTestEnv(t, Config{})
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events/"+testTenant, http.NoBody)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	readEvent(t, bufio.NewScanner(resp.Body))
	require.Equal(t, 1, env.hub.Subscribers(testTenant))

	cancel()
	_ = resp.Body.Close()

	assert.Eventually(t, func() bool { return env.hub.Subscribers(testTenant) == 0 },
		2*time.Second, 10*time.Millisecond)
}
