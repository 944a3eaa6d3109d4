package protocol

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txn2/session-gateway/pkg/credential"
)

const loopbackTestTimeout = 2 * time.Second

func nextEvent(t *testing.T, conn Conn) Event {
	t.Helper()
	select {
	case ev, ok := <-conn.Events():
		require.True(t, ok, "event channel closed early")
		return ev
	case <-time.After(loopbackTestTimeout):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestNormalizeRecipient(t *testing.T) {
	assert.Equal(t, "15550001111"+UserSuffix, NormalizeRecipient("15550001111"))
	assert.Equal(t, "15550001111"+UserSuffix, NormalizeRecipient(" 15550001111 "))
	assert.Equal(t, "15550001111"+UserSuffix, NormalizeRecipient("15550001111"+UserSuffix))
}

func TestMediaKind(t *testing.T) {
	cases := map[string]MediaKind{
		"image/png":       MediaImage,
		"video/mp4":       MediaVideo,
		"audio/ogg":       MediaAudio,
		"application/pdf": MediaDocument,
		"":                MediaDocument,
	}
	for mime, want := range cases {
		assert.Equal(t, want, (&Media{MimeType: mime}).Kind(), mime)
	}
}

func TestReasonForStatus(t *testing.T) {
	assert.Equal(t, ReasonLoggedOut, ReasonForStatus(401))
	assert.Equal(t, ReasonConnectionLost, ReasonForStatus(408))
	assert.Equal(t, ReasonConnectionClosed, ReasonForStatus(428))
	assert.Equal(t, ReasonBadSession, ReasonForStatus(500))
	assert.Equal(t, ReasonRestartRequired, ReasonForStatus(515))
	assert.Equal(t, ReasonUnknown, ReasonForStatus(999))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "opened", Describe(Opened{}))
	assert.Equal(t, "pairing_challenge", Describe(PairingChallenge{Code: "x"}))
	assert.Equal(t, "credentials_updated", Describe(CredentialsUpdated{}))
	assert.Equal(t, "closed(logged_out)", Describe(Closed{Reason: ReasonLoggedOut}))
	assert.Equal(t, "error(boom)", Describe(Error{Err: errors.New("boom")}))
}

func TestLoopback_FreshPairing(t *testing.T) {
	client := NewLoopback(10 * time.Millisecond)

	conn, err := client.Open(context.Background(), "tenant-a", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	challenge, ok := nextEvent(t, conn).(PairingChallenge)
	require.True(t, ok)
	assert.NotEmpty(t, challenge.Code)

	creds, ok := nextEvent(t, conn).(CredentialsUpdated)
	require.True(t, ok)
	assert.IsType(t, []byte{}, creds.Blob["noiseKey"].(map[string]any)["private"])

	_, ok = nextEvent(t, conn).(Opened)
	assert.True(t, ok)
}

func TestLoopback_ResumeSkipsPairing(t *testing.T) {
	client := NewLoopback(time.Hour)

	conn, err := client.Open(context.Background(), "tenant-a", credential.Blob{"me": "x"})
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, ok := nextEvent(t, conn).(Opened)
	assert.True(t, ok)
}

func TestLoopback_SendAndClose(t *testing.T) {
	client := NewLoopback(time.Hour)
	ctx := context.Background()

	conn, err := client.Open(ctx, "tenant-a", credential.Blob{"me": "x"})
	require.NoError(t, err)
	nextEvent(t, conn)

	require.NoError(t, conn.Send(ctx, Message{To: NormalizeRecipient("1"), Text: "hi"}))
	assert.Len(t, client.Sent("tenant-a"), 1)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close(), "close is idempotent")

	select {
	case _, open := <-conn.Events():
		assert.False(t, open)
	case <-time.After(loopbackTestTimeout):
		t.Fatal("event channel not closed")
	}

	assert.ErrorIs(t, conn.Send(ctx, Message{To: "x"}), ErrConnClosed)
}

func TestLoopback_CloseDuringPairing(t *testing.T) {
	client := NewLoopback(time.Hour)

	conn, err := client.Open(context.Background(), "tenant-a", nil)
	require.NoError(t, err)
	nextEvent(t, conn)
	require.NoError(t, conn.Close())

	for range conn.Events() {
		t.Fatal("no events expected after close")
	}
}
