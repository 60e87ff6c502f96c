package wire

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

func TestEncodeDecodeHeaderRoundTrip(t *testing.T) {
	in := Header{
		KeyContentProtocol: "FileTransfer",
		KeyContentSize:     10000,
		KeyFileName:        "report.pdf",
		"extra-note":       "arbitrary",
	}
	raw, err := EncodeHeader(in)
	if err != nil {
		t.Fatalf("encode header: %v", err)
	}
	declared := binary.BigEndian.Uint16(raw[0:2])
	if int(declared) != len(raw)-2 {
		t.Fatalf("length prefix mismatch: declared=%d actual=%d", declared, len(raw)-2)
	}

	out, err := DecodeHeader(raw[2:], DefaultEncoding)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if err := out.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	proto, err := out.ContentProtocol()
	if err != nil || proto != "FileTransfer" {
		t.Fatalf("content-protocol: %q err=%v", proto, err)
	}
	size, err := out.ContentSize()
	if err != nil || size != 10000 {
		t.Fatalf("content-size: %d err=%v", size, err)
	}
	name, err := out.FileName()
	if err != nil || name != "report.pdf" {
		t.Fatalf("file-name: %q err=%v", name, err)
	}
	if out["extra-note"] != "arbitrary" {
		t.Fatalf("extra field lost: %v", out["extra-note"])
	}
	if out.ContentEncoding() != DefaultEncoding {
		t.Fatalf("content-encoding not injected: %q", out.ContentEncoding())
	}
	bo, ok := out[KeyByteOrder].(string)
	if !ok || (bo != "little" && bo != "big") {
		t.Fatalf("byteorder not injected: %v", out[KeyByteOrder])
	}
}

func TestDecodeHeaderMalformed(t *testing.T) {
	for _, b := range [][]byte{[]byte("not json"), []byte(`[1,2,3]`), []byte(`"str"`), []byte(`null`)} {
		if _, err := DecodeHeader(b, DefaultEncoding); !errors.Is(err, ErrMalformedHeader) {
			t.Fatalf("input %q: expected ErrMalformedHeader, got %v", b, err)
		}
	}
}

func TestValidateReportsAllMissingFields(t *testing.T) {
	h := Header{KeyByteOrder: "little"}
	err := h.Validate()
	if !errors.Is(err, ErrMissingHeaderField) {
		t.Fatalf("expected ErrMissingHeaderField, got %v", err)
	}
	for _, want := range []string{KeyContentEncoding, KeyContentProtocol, KeyContentSize} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not name %q", err, want)
		}
	}
}

func TestEncodeHeaderTooLarge(t *testing.T) {
	h := Header{
		KeyContentProtocol: "FileTransfer",
		KeyContentSize:     0,
		"padding":          strings.Repeat("x", MaxHeaderLen),
	}
	if _, err := EncodeHeader(h); !errors.Is(err, ErrHeaderTooLarge) {
		t.Fatalf("expected ErrHeaderTooLarge, got %v", err)
	}
}

func TestEncodeHeaderNotEncodable(t *testing.T) {
	h := Header{
		KeyContentProtocol: "FileTransfer",
		KeyContentSize:     0,
		"bad":              make(chan int),
	}
	if _, err := EncodeHeader(h); !errors.Is(err, ErrNotEncodable) {
		t.Fatalf("expected ErrNotEncodable, got %v", err)
	}
}

func TestUnsupportedEncodingRejected(t *testing.T) {
	if _, err := DecodeHeader([]byte(`{}`), "ebcdic"); !errors.Is(err, ErrUnsupportedEncoding) {
		t.Fatalf("decode: expected ErrUnsupportedEncoding, got %v", err)
	}
	h := Header{KeyContentEncoding: "utf-16"}
	if _, err := EncodeHeader(h); !errors.Is(err, ErrUnsupportedEncoding) {
		t.Fatalf("encode: expected ErrUnsupportedEncoding, got %v", err)
	}
}

func TestContentSizeRejectsNegativeAndFractional(t *testing.T) {
	if _, err := (Header{KeyContentSize: -5}).ContentSize(); !errors.Is(err, ErrInvalidHeaderField) {
		t.Fatalf("negative: expected ErrInvalidHeaderField, got %v", err)
	}
	if _, err := (Header{KeyContentSize: 1.5}).ContentSize(); !errors.Is(err, ErrInvalidHeaderField) {
		t.Fatalf("fractional: expected ErrInvalidHeaderField, got %v", err)
	}
}
