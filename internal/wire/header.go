package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Required header keys present on every frame.
const (
	KeyByteOrder       = "byteorder"
	KeyContentEncoding = "content-encoding"
	KeyContentProtocol = "content-protocol"
	KeyContentSize     = "content-size"
)

// Optional keys carried by specific payload protocols.
const (
	KeyFileName = "file-name"
	KeyFileSize = "file-size"
)

// MaxHeaderLen is the largest encodable header; the length prefix is uint16.
const MaxHeaderLen = 65535

// DefaultEncoding is assumed when a header omits content-encoding.
const DefaultEncoding = "utf-8"

var (
	ErrMalformedHeader     = errors.New("wire: malformed header")
	ErrMissingHeaderField  = errors.New("wire: missing required header field")
	ErrInvalidHeaderField  = errors.New("wire: invalid header field")
	ErrHeaderTooLarge      = errors.New("wire: header exceeds length prefix capacity")
	ErrNotEncodable        = errors.New("wire: header not JSON-encodable")
	ErrUnsupportedEncoding = errors.New("wire: unsupported content encoding")
)

var requiredKeys = []string{KeyByteOrder, KeyContentEncoding, KeyContentProtocol, KeyContentSize}

// Header is the JSON metadata block describing the payload that follows it on
// the wire. Arbitrary JSON-safe extra keys may ride alongside the required
// four; decoded numbers are json.Number.
type Header map[string]any

// NativeByteOrder reports the host byte order as a wire-advisory string.
func NativeByteOrder() string {
	if binary.NativeEndian.Uint16([]byte{0x01, 0x00}) == 1 {
		return "little"
	}
	return "big"
}

func supportedEncoding(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "utf-8", "utf8", "ascii", "us-ascii":
		return true
	}
	return false
}

// EncodeHeader serializes h as [uint16 big-endian length][JSON object].
// byteorder and content-encoding are injected when absent. The original map
// is not modified.
func EncodeHeader(h Header) ([]byte, error) {
	m := make(map[string]any, len(h)+2)
	for k, v := range h {
		m[k] = v
	}
	if _, ok := m[KeyByteOrder]; !ok {
		m[KeyByteOrder] = NativeByteOrder()
	}
	if _, ok := m[KeyContentEncoding]; !ok {
		m[KeyContentEncoding] = DefaultEncoding
	}
	enc, _ := m[KeyContentEncoding].(string)
	if !supportedEncoding(enc) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, enc)
	}

	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotEncodable, err)
	}
	if len(body) > MaxHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, len(body))
	}

	out := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(body)))
	copy(out[2:], body)
	return out, nil
}

// DecodeHeader parses the JSON header block (length prefix already stripped).
// Structural decode only: required-field presence is checked by Validate.
func DecodeHeader(b []byte, encoding string) (Header, error) {
	if !supportedEncoding(encoding) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, encoding)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var h Header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: null header", ErrMalformedHeader)
	}
	return h, nil
}

// Validate checks that every required header field is present, reporting all
// missing fields at once.
func (h Header) Validate() error {
	var missing []string
	for _, k := range requiredKeys {
		if _, ok := h[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingHeaderField, strings.Join(missing, ", "))
	}
	return nil
}

// ContentProtocol returns the registry name of the payload protocol.
func (h Header) ContentProtocol() (string, error) {
	return h.stringField(KeyContentProtocol)
}

// ContentEncoding returns the declared text encoding, defaulting when absent.
func (h Header) ContentEncoding() string {
	if s, ok := h[KeyContentEncoding].(string); ok && s != "" {
		return s
	}
	return DefaultEncoding
}

// ContentSize returns the declared payload length in bytes.
func (h Header) ContentSize() (int64, error) {
	return h.intField(KeyContentSize)
}

// FileName returns the file-name field carried by FileTransfer headers.
func (h Header) FileName() (string, error) {
	return h.stringField(KeyFileName)
}

func (h Header) stringField(key string) (string, error) {
	v, ok := h[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingHeaderField, key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidHeaderField, key)
	}
	return s, nil
}

func (h Header) intField(key string) (int64, error) {
	v, ok := h[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingHeaderField, key)
	}
	var n int64
	switch t := v.(type) {
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrInvalidHeaderField, key, err)
		}
		n = i
	case int:
		n = int64(t)
	case int64:
		n = t
	case float64:
		if t != float64(int64(t)) {
			return 0, fmt.Errorf("%w: %s: not an integer", ErrInvalidHeaderField, key)
		}
		n = int64(t)
	default:
		return 0, fmt.Errorf("%w: %s: unexpected type %T", ErrInvalidHeaderField, key, v)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %s: negative", ErrInvalidHeaderField, key)
	}
	return n, nil
}
