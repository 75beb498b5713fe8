package gsm

import (
	"bufio"
	"errors"
	"io"

	"github.com/marosstudenic/lib-gsm/at"
)

const (
	// maxLineLength bounds one response line; longer input is garbage and
	// is dropped up to the next terminator.
	maxLineLength = 512
	// drainChunk sizes reads while diverting raw payload.
	drainChunk = 256
)

// rxLoop drains the transport until it is closed, dispatching response
// lines, feeding staged payloads to the modem's transmit prompt, and
// diverting armed raw payloads into socket buffers. It runs as its own
// goroutine for the lifetime of one power cycle.
func (m *Modem) rxLoop(t Transport, done chan<- struct{}) {
	defer func() {
		m.mu.Lock()
		m.rxActive = false
		m.notifyLocked()
		m.mu.Unlock()
		close(done)
	}()

	r := bufio.NewReaderSize(t, maxLineLength)
	for {
		b, err := r.ReadByte()
		if err != nil {
			m.log.Debug("receive loop ended", "error", err)
			return
		}
		switch b {
		case '>':
			m.pumpTransmit(t)
		case '\r', '\n', ' ':
			// inter-line noise
		default:
			_ = r.UnreadByte()
			line, ok := m.readLine(r)
			if !ok {
				continue
			}
			m.dispatchLine(line)
			if m.rxLen > 0 {
				m.drainPayload(r)
			}
		}
	}
}

// readLine consumes one CR-terminated line. Over-long lines are discarded
// up to their terminator; a line cut short by EOF is still delivered.
func (m *Modem) readLine(r *bufio.Reader) ([]byte, bool) {
	line, err := r.ReadSlice('\r')
	switch {
	case err == nil:
		return line[:len(line)-1], true
	case errors.Is(err, bufio.ErrBufferFull):
		m.log.Warn("dropping oversized line", "error", ErrLineTooLong)
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = r.ReadSlice('\r')
		}
		return nil, false
	default:
		if len(line) > 0 {
			return line, true
		}
		return nil, false
	}
}

// dispatchLine routes one response line: the outstanding exchange's matcher
// first, then terminal tokens, then the driver's event handler. Lines
// nothing claims are logged.
func (m *Modem) dispatchLine(line []byte) {
	if m.diag != nil {
		m.diag(DiagnosticCommandReceive, string(line))
	}
	tag, fields := at.ScanLine(line)
	if m.feedLine(tag, &fields) {
		return
	}
	if m.driver.OnEvent(m, tag, &fields) {
		return
	}
	m.log.Debug("unhandled line", "line", string(line))
}

// ReceiveForSocket arms the receive loop to divert the next n raw bytes
// into the socket's receive buffer, bypassing line framing. Call it only
// while the announcing line is being dispatched, from a response matcher or
// OnEvent: the payload follows that line on the wire. A nil socket discards
// the payload. Socket processing pauses until the bytes have been drained.
func (m *Modem) ReceiveForSocket(s *Socket, n int) {
	m.rxSock = s
	m.rxLen = n
	m.rxBusy.Store(true)
}

// drainPayload moves the armed byte count from the wire into the socket
// buffer, then releases socket processing.
func (m *Modem) drainPayload(r *bufio.Reader) {
	s, n := m.rxSock, m.rxLen
	m.rxSock, m.rxLen = nil, 0

	// the payload is separated from its announcing line by the LF half of
	// the terminator
	if b, err := r.ReadByte(); err == nil && b != '\n' {
		_ = r.UnreadByte()
	}

	m.log.Debug("receiving payload", "bytes", n, "discard", s == nil)
	buf := make([]byte, drainChunk)
	for n > 0 {
		chunk := buf
		if n < len(chunk) {
			chunk = chunk[:n]
		}
		k, err := io.ReadFull(r, chunk)
		if k > 0 && s != nil {
			s.pushInput(chunk[:k])
		}
		n -= k
		if err != nil {
			m.log.Debug("payload truncated", "missing", n, "error", err)
			break
		}
	}

	m.rxBusy.Store(false)
	m.RequestProcessing()
}

// pumpTransmit answers the modem's payload prompt with the staged bytes.
func (m *Modem) pumpTransmit(t Transport) {
	s, n := m.takeTransmit()
	if s == nil {
		m.log.Debug("unexpected transmit prompt")
		return
	}
	data := s.takeOutput(n)
	if len(data) < n {
		m.log.Debug("transmit underrun", "want", n, "have", len(data))
	}
	if len(data) == 0 {
		return
	}
	if _, err := t.Write(data); err != nil {
		m.log.Warn("payload write failed", "error", err)
	}
}
