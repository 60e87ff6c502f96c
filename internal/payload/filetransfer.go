package payload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/danmuck/peerwire/internal/wire"
)

// DefaultChunkSize is how much file data one Read call streams.
const DefaultChunkSize = 4096

var ErrBadFileName = errors.New("payload: unusable file-name header field")

// FileTransfer streams one file in one direction. A send instance emits the
// encoded frame header first, then raw file bytes chunk by chunk; a receive
// instance appends inbound bytes to the destination file. Progress is
// reported to the listener as a fraction in [0,1].
type FileTransfer struct {
	mu       sync.Mutex
	file     *os.File
	size     int64
	moved    int64
	pending  []byte
	chunk    int
	listener Listener
	sending  bool
	closed   bool
}

// NewFileSender opens path for reading and prepares the outbound frame.
func NewFileSender(path string, l Listener) (*FileTransfer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("payload: open source file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("payload: stat source file: %w", err)
	}

	header := wire.Header{
		wire.KeyContentProtocol: NameFileTransfer,
		wire.KeyContentSize:     info.Size(),
		wire.KeyFileName:        filepath.Base(path),
		wire.KeyFileSize:        info.Size(),
	}
	hb, err := wire.EncodeHeader(header)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &FileTransfer{
		file:     f,
		size:     info.Size(),
		pending:  hb,
		chunk:    DefaultChunkSize,
		listener: l,
		sending:  true,
	}, nil
}

// NewFileReceiver opens the destination file named by the header under dir,
// creating it if absent and appending otherwise. Only the base name of the
// header field is honored so a peer cannot escape dir.
func NewFileReceiver(h wire.Header, dir string, l Listener) (*FileTransfer, error) {
	name, err := h.FileName()
	if err != nil {
		return nil, err
	}
	base := filepath.Base(name)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return nil, fmt.Errorf("%w: %q", ErrBadFileName, name)
	}
	size, err := h.ContentSize()
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filepath.Join(dir, base), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("payload: open destination file: %w", err)
	}
	return &FileTransfer{
		file:     f,
		size:     size,
		chunk:    DefaultChunkSize,
		listener: l,
	}, nil
}

// Read returns the pending frame header on the first call, then file
// contents in chunks. An empty result signals the file is drained. A
// receive-mode instance has nothing to send; its handle is write-only and is
// never touched here.
func (t *FileTransfer) Read() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.pending) > 0 {
		out := t.pending
		t.pending = nil
		return out, nil
	}
	if !t.sending || t.closed {
		return nil, nil
	}

	buf := make([]byte, t.chunk)
	n, err := t.file.Read(buf)
	if n > 0 {
		t.advance(int64(n))
		return buf[:n], nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("payload: read source file: %w", err)
	}
	return nil, nil
}

// Receive appends inbound payload bytes to the destination file.
func (t *FileTransfer) Receive(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.file.Write(p); err != nil {
		return fmt.Errorf("payload: write destination file: %w", err)
	}
	t.advance(int64(len(p)))
	return nil
}

func (t *FileTransfer) advance(n int64) {
	t.moved += n
	if t.listener == nil {
		return
	}
	fraction := 1.0
	if t.size > 0 {
		fraction = float64(t.moved) / float64(t.size)
	}
	t.listener.OnProgress(fraction)
}

// Complete closes the file handle and reports completion. Safe to call more
// than once; only the first call has effect.
func (t *FileTransfer) Complete() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	err := t.file.Close()
	listener := t.listener
	t.mu.Unlock()

	if listener != nil {
		listener.OnComplete()
	}
	if err != nil {
		return fmt.Errorf("payload: close file: %w", err)
	}
	return nil
}

// Fail releases the file handle and reports the terminal error instead of
// completion.
func (t *FileTransfer) Fail(cause error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.file.Close()
	listener := t.listener
	t.mu.Unlock()

	if listener != nil {
		listener.OnFailure(cause)
	}
}

// Transferred reports cumulative payload bytes moved so far.
func (t *FileTransfer) Transferred() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.moved
}

func (t *FileTransfer) HasResponse() bool { return false }
