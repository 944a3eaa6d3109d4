package credential

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strconv"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// bufferTag marks an object that carries raw bytes.
	bufferTag = "Buffer"

	// sealedPrefix marks an encrypted payload.
	sealedPrefix = "sealed:v1:"

	// slogKeyError is the slog attribute key for error values.
	slogKeyError = "error"
)

var (
	// ErrSealed is returned when a sealed payload is decoded without a key.
	ErrSealed = errors.New("credential payload is sealed and no key is configured")

	// ErrNotObject is returned when a payload does not decode to a JSON object.
	ErrNotObject = errors.New("credential payload is not an object")
)

// Codec serializes Blobs to text. Byte slices are written as tagged objects
// of the form {"type":"Buffer","data":"<base64>"} so they survive the trip
// through a text column bit for bit. When constructed with a key, the JSON
// text is additionally sealed with XChaCha20-Poly1305.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec returns a codec. A nil or empty key disables sealing; otherwise
// the key must be exactly 32 bytes.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) == 0 {
		return &Codec{}, nil
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating credential cipher: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// ParseKey decodes a base64 encryption key from configuration. An empty
// string yields a nil key.
func ParseKey(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}

// Sealed reports whether the codec encrypts payloads.
func (c *Codec) Sealed() bool {
	return c.aead != nil
}

// Encode serializes b to text.
func (c *Codec) Encode(b Blob) (string, error) {
	data, err := json.Marshal(tagValue(map[string]any(b)))
	if err != nil {
		return "", fmt.Errorf("marshaling credential blob: %w", err)
	}
	if c.aead == nil {
		return string(data), nil
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(data)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, data, nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decode parses text produced by Encode, reviving tagged byte arrays.
// Both base64 and numeric-array data forms are accepted.
func (c *Codec) Decode(s string) (Blob, error) {
	data := []byte(s)
	if strings.HasPrefix(s, sealedPrefix) {
		opened, err := c.open(strings.TrimPrefix(s, sealedPrefix))
		if err != nil {
			return nil, err
		}
		data = opened
	}

	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("unmarshaling credential blob: %w", err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	out, ok := untagMap(m).(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return Blob(out), nil
}

// DecodeStored decodes a persisted payload. A payload that cannot be decoded
// is logged and reported as nil so the caller falls back to fresh pairing.
func (c *Codec) DecodeStored(tenantID, s string) Blob {
	blob, err := c.Decode(s)
	if err != nil {
		slog.Warn("credential: undecodable record treated as absent",
			"tenant_id", tenantID, slogKeyError, err)
		return nil
	}
	return blob
}

func (c *Codec) open(s string) ([]byte, error) {
	if c.aead == nil {
		return nil, ErrSealed
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding sealed payload: %w", err)
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return nil, errors.New("sealed payload too short")
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("opening sealed payload: %w", err)
	}
	return plain, nil
}

// tagValue replaces byte slices with tagged objects throughout v. Any map,
// slice or array is descended, whatever its static element type, so key
// material held in typed containers such as map[string][]byte is tagged too.
func tagValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case []byte:
		return tagBytes(t)
	case Blob:
		return tagValue(map[string]any(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = tagValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = tagValue(val)
		}
		return out
	}
	return tagReflect(reflect.ValueOf(v), v)
}

func tagBytes(b []byte) map[string]any {
	return map[string]any{
		"type": bufferTag,
		"data": base64.StdEncoding.EncodeToString(b),
	}
}

// tagReflect handles typed containers. Values it does not descend into are
// returned as orig for encoding/json to handle.
func tagReflect(rv reflect.Value, orig any) any {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return tagValue(rv.Elem().Interface())
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return tagBytes(rv.Bytes())
		}
		if rv.IsNil() {
			return nil
		}
		return tagElems(rv)
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return tagBytes(b)
		}
		return tagElems(rv)
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key, ok := mapKey(iter.Key())
			if !ok {
				return orig
			}
			out[key] = tagValue(iter.Value().Interface())
		}
		return out
	default:
		return orig
	}
}

func tagElems(rv reflect.Value) []any {
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = tagValue(rv.Index(i).Interface())
	}
	return out
}

// mapKey renders a map key the way encoding/json does for string and
// integer kinds.
func mapKey(k reflect.Value) (string, bool) {
	switch k.Kind() {
	case reflect.String:
		return k.String(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), true
	default:
		return "", false
	}
}

func untagMap(m map[string]any) any {
	if b, ok := revive(m); ok {
		return b
	}
	for k, val := range m {
		m[k] = untagValue(val)
	}
	return m
}

func untagValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return untagMap(t)
	case []any:
		for i, val := range t {
			t[i] = untagValue(val)
		}
		return t
	default:
		return v
	}
}

// revive converts a {"type":"Buffer","data":...} object back into bytes.
func revive(m map[string]any) ([]byte, bool) {
	if len(m) != 2 || m["type"] != bufferTag {
		return nil, false
	}
	switch data := m["data"].(type) {
	case string:
		b, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, false
		}
		return b, true
	case []any:
		b := make([]byte, len(data))
		for i, el := range data {
			n, ok := el.(json.Number)
			if !ok {
				return nil, false
			}
			iv, err := n.Int64()
			if err != nil || iv < 0 || iv > math.MaxUint8 {
				return nil, false
			}
			b[i] = byte(iv)
		}
		return b, true
	default:
		return nil, false
	}
}
