package payload

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/peerwire/internal/wire"
)

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestFileSenderEmitsHeaderThenChunks(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 1250) // 10000 bytes
	path := writeTempFile(t, "source.bin", data)

	var fractions []float64
	sender, err := NewFileSender(path, ListenerFuncs{
		Progress: func(f float64) { fractions = append(fractions, f) },
	})
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	defer sender.Complete()

	first, err := sender.Read()
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	declared := binary.BigEndian.Uint16(first[0:2])
	h, err := wire.DecodeHeader(first[2:2+declared], wire.DefaultEncoding)
	if err != nil {
		t.Fatalf("decode emitted header: %v", err)
	}
	if err := h.Validate(); err != nil {
		t.Fatalf("emitted header invalid: %v", err)
	}
	name, _ := h.FileName()
	if name != "source.bin" {
		t.Fatalf("file-name: %q", name)
	}
	size, _ := h.ContentSize()
	if size != int64(len(data)) {
		t.Fatalf("content-size: %d", size)
	}

	var streamed []byte
	streamed = append(streamed, first[2+declared:]...)
	for {
		chunk, err := sender.Read()
		if err != nil {
			t.Fatalf("read chunk: %v", err)
		}
		if len(chunk) == 0 {
			break
		}
		streamed = append(streamed, chunk...)
	}
	if !bytes.Equal(streamed, data) {
		t.Fatalf("streamed bytes differ from source")
	}
	if len(fractions) == 0 || math.Abs(fractions[len(fractions)-1]-1.0) > 1e-9 {
		t.Fatalf("final progress fraction: %v", fractions)
	}
}

func TestFileReceiverAppendsAndReportsProgress(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte{0x5a}, 9000)
	header := wire.Header{
		wire.KeyContentProtocol: NameFileTransfer,
		wire.KeyContentSize:     len(data),
		wire.KeyFileName:        "dest.bin",
	}

	var last float64
	recv, err := NewFileReceiver(header, dir, ListenerFuncs{
		Progress: func(f float64) { last = f },
	})
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}

	// Deliver in uneven chunks; chunking must not affect the result.
	for _, n := range []int{1, 3, 4096, len(data)} {
		if len(data) == 0 {
			break
		}
		if n > len(data) {
			n = len(data)
		}
		if err := recv.Receive(data[:n]); err != nil {
			t.Fatalf("receive: %v", err)
		}
		data = data[n:]
	}
	if err := recv.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "dest.bin"))
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if len(got) != 9000 {
		t.Fatalf("destination size: %d", len(got))
	}
	if math.Abs(last-1.0) > 1e-9 {
		t.Fatalf("final progress: %v", last)
	}
}

func TestFileReceiverRejectsTraversalName(t *testing.T) {
	dir := t.TempDir()
	header := wire.Header{
		wire.KeyContentProtocol: NameFileTransfer,
		wire.KeyContentSize:     1,
		wire.KeyFileName:        "../../etc/passwd",
	}
	recv, err := NewFileReceiver(header, dir, nil)
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}
	if err := recv.Receive([]byte("x")); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := recv.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// Base name only: the write lands inside dir, not up the tree.
	if _, err := os.Stat(filepath.Join(dir, "passwd")); err != nil {
		t.Fatalf("expected dir/passwd to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "..", "etc", "passwd")); err == nil {
		t.Fatalf("receiver escaped download dir")
	}
}

func TestFileReceiverReadIsEmptyAndHarmless(t *testing.T) {
	dir := t.TempDir()
	header := wire.Header{
		wire.KeyContentProtocol: NameFileTransfer,
		wire.KeyContentSize:     6,
		wire.KeyFileName:        "half.bin",
	}
	recv, err := NewFileReceiver(header, dir, nil)
	if err != nil {
		t.Fatalf("new receiver: %v", err)
	}
	if err := recv.Receive([]byte("abc")); err != nil {
		t.Fatalf("receive: %v", err)
	}
	// The write path polls Read on every connection; a receive-mode instance
	// must report nothing to send without touching its write-only handle.
	chunk, err := recv.Read()
	if err != nil {
		t.Fatalf("read on receiver: %v", err)
	}
	if len(chunk) != 0 {
		t.Fatalf("receiver produced outbound bytes: %q", chunk)
	}
	if err := recv.Receive([]byte("def")); err != nil {
		t.Fatalf("receive after read: %v", err)
	}
	if err := recv.Complete(); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "half.bin"))
	if err != nil || string(got) != "abcdef" {
		t.Fatalf("destination: %q err=%v", got, err)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	path := writeTempFile(t, "idem.bin", []byte("x"))
	sender, err := NewFileSender(path, nil)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	if err := sender.Complete(); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	if err := sender.Complete(); err != nil {
		t.Fatalf("second complete must be a no-op: %v", err)
	}
}

func TestFailReportsOnce(t *testing.T) {
	path := writeTempFile(t, "fail.bin", []byte("x"))
	var failures int
	sender, err := NewFileSender(path, ListenerFuncs{
		Failure: func(error) { failures++ },
	})
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	sender.Fail(os.ErrClosed)
	sender.Fail(os.ErrClosed)
	if failures != 1 {
		t.Fatalf("failure callbacks: %d", failures)
	}
	if err := sender.Complete(); err != nil {
		t.Fatalf("complete after fail: %v", err)
	}
}
