// Package protocol defines the boundary between the gateway and the external
// messaging-protocol client. The client performs the handshake, pairing and
// encryption; the gateway only opens connections, reads their lifecycle
// events, sends messages through them, and closes them.
package protocol

import (
	"context"
	"errors"
	"strings"

	"github.com/txn2/session-gateway/pkg/credential"
)

// UserSuffix is appended to bare phone numbers to form a recipient address.
const UserSuffix = "@s.whatsapp.net"

// ErrConnClosed is returned by Send on a closed connection.
var ErrConnClosed = errors.New("connection closed")

// Client opens protocol connections.
type Client interface {
	// Open starts a connection for tenantID. A non-nil seed resumes an
	// existing pairing; a nil seed starts a fresh pairing flow. Lifecycle
	// events are delivered on the returned Conn's Events channel.
	Open(ctx context.Context, tenantID string, seed credential.Blob) (Conn, error)
}

// Conn is a live connection handle.
type Conn interface {
	// Events delivers lifecycle events. The channel is closed after Close
	// or after the client stops producing events.
	Events() <-chan Event

	// Send delivers one message.
	Send(ctx context.Context, msg Message) error

	// Close tears the connection down.
	Close() error
}

// Message is an outbound message.
type Message struct {
	// To is the recipient address.
	To string `json:"to"`

	// Text is the message body or media caption.
	Text string `json:"text,omitempty"`

	// Media is an optional attachment.
	Media *Media `json:"media,omitempty"`
}

// Media is an attachment carried by a Message.
type Media struct {
	MimeType string `json:"mime_type"`
	FileName string `json:"file_name,omitempty"`
	Data     []byte `json:"data"`
}

// MediaKind classifies an attachment by MIME type.
type MediaKind string

// Media kinds.
const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// Kind returns the attachment kind. Anything that is not an image, video
// or audio stream is sent as a document.
func (m *Media) Kind() MediaKind {
	switch {
	case strings.HasPrefix(m.MimeType, "image/"):
		return MediaImage
	case strings.HasPrefix(m.MimeType, "video/"):
		return MediaVideo
	case strings.HasPrefix(m.MimeType, "audio/"):
		return MediaAudio
	default:
		return MediaDocument
	}
}

// NormalizeRecipient turns a bare number into a full recipient address.
func NormalizeRecipient(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasSuffix(number, UserSuffix) {
		return number
	}
	return number + UserSuffix
}
