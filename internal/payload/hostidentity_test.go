package payload

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"

	"github.com/danmuck/peerwire/internal/sysinfo"
	"github.com/danmuck/peerwire/internal/wire"
)

func TestIdentityRequestFramesLocalRecord(t *testing.T) {
	req, err := NewIdentityRequest(nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	out, err := req.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	declared := binary.BigEndian.Uint16(out[0:2])
	h, err := wire.DecodeHeader(out[2:2+declared], wire.DefaultEncoding)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	proto, _ := h.ContentProtocol()
	if proto != NameHostIdentity {
		t.Fatalf("content-protocol: %q", proto)
	}
	size, _ := h.ContentSize()
	body := out[2+declared:]
	if int64(len(body)) != size {
		t.Fatalf("payload length %d != content-size %d", len(body), size)
	}
	var rec sysinfo.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("payload not an identity record: %v", err)
	}
	if rec != sysinfo.Collect() {
		t.Fatalf("payload record differs from local identity")
	}

	// Second read must report drained.
	again, err := req.Read()
	if err != nil || len(again) != 0 {
		t.Fatalf("second read: %v bytes=%d", err, len(again))
	}
}

func TestIdentityResponderEmitsBarePayload(t *testing.T) {
	resp, err := NewIdentityResponder(wire.Header{})
	if err != nil {
		t.Fatalf("new responder: %v", err)
	}
	out, err := resp.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var rec sysinfo.Record
	if err := json.Unmarshal(out, &rec); err != nil {
		t.Fatalf("response is not bare JSON record: %v", err)
	}
}

func TestIdentityCompleteDecodesPeerRecord(t *testing.T) {
	want := sysinfo.Record{ComputerName: "peer-b", UserName: "eve", OSName: "plan9"}
	raw, _ := json.Marshal(want)

	var got sysinfo.Record
	var gotErr error
	req, err := NewIdentityRequest(func(rec sysinfo.Record, err error) {
		got, gotErr = rec, err
	})
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	// Arbitrary chunking of the response.
	if err := req.Receive(raw[:5]); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := req.Receive(raw[5:]); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := req.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if gotErr != nil || got != want {
		t.Fatalf("callback: rec=%+v err=%v", got, gotErr)
	}
	if err := req.Complete(); err != nil {
		t.Fatalf("second complete must be a no-op: %v", err)
	}
}

func TestIdentityCompleteReportsDecodeError(t *testing.T) {
	var gotErr error
	req, err := NewIdentityRequest(func(_ sysinfo.Record, err error) { gotErr = err })
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Receive([]byte("{truncated"))
	if err := req.Complete(); err == nil {
		t.Fatalf("expected decode error")
	}
	if gotErr == nil {
		t.Fatalf("callback did not observe the error")
	}
}

func TestIdentityFailFiresCallbackOnce(t *testing.T) {
	var calls int
	var gotErr error
	req, err := NewIdentityRequest(func(_ sysinfo.Record, err error) {
		calls++
		gotErr = err
	})
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	cause := errors.New("boom")
	req.Fail(cause)
	req.Fail(cause)
	if calls != 1 || !errors.Is(gotErr, cause) {
		t.Fatalf("calls=%d err=%v", calls, gotErr)
	}
}
