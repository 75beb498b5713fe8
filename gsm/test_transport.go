package gsm

import (
	"context"
	"io"
	"sync"
	"time"
)

// TestTransport is a test helper that simulates a blocking transport using
// channels. This is needed because the receive loop continuously reads from
// the transport, and reads must block until data is available, like a real
// serial port would. Writes are captured for inspection.
//
// TestTransport is also its own Dialer, so it can be handed straight to a
// Config.
type TestTransport struct {
	mu       sync.Mutex
	readChan chan []byte
	// pending holds queued bytes a short Read did not consume
	pending []byte
	writes  chan []byte
	closed  bool
}

// NewTestTransport creates a new test transport.
// Exported for use in tests, including vendor driver packages.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		readChan: make(chan []byte, 16),
		writes:   make(chan []byte, 64),
	}
}

// Dial returns the transport itself.
func (t *TestTransport) Dial(ctx context.Context) (Transport, error) {
	return t, nil
}

func (t *TestTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return 0, io.ErrClosedPipe
	}
	w := make([]byte, len(p))
	copy(w, p)
	select {
	case t.writes <- w:
	default:
	}
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	if len(t.pending) > 0 {
		n := copy(p, t.pending)
		t.pending = t.pending[n:]
		t.mu.Unlock()
		return n, nil
	}
	t.mu.Unlock()

	data, ok := <-t.readChan
	if !ok {
		return 0, io.EOF
	}
	n := copy(p, data)
	if n < len(data) {
		t.mu.Lock()
		t.pending = append(t.pending, data[n:]...)
		t.mu.Unlock()
	}
	return n, nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

// SendData queues raw bytes to be read from the transport, simulating
// traffic from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.readChan <- []byte(data)
	}
}

// SendLine queues one framed response line.
func (t *TestTransport) SendLine(line string) {
	t.SendData("\r\n" + line + "\r\n")
}

// SendPrompt queues the payload prompt.
func (t *TestTransport) SendPrompt() {
	t.SendData("\r\n> ")
}

// NextWrite returns the next chunk written to the transport, waiting up to
// the given timeout.
func (t *TestTransport) NextWrite(timeout time.Duration) (string, bool) {
	select {
	case w := <-t.writes:
		return string(w), true
	case <-time.After(timeout):
		return "", false
	}
}
