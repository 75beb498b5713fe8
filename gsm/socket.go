package gsm

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// socketBufferSize caps the inbound buffer of one socket. Receives pause
// when the application lets the buffer fill and resume as it reads.
const socketBufferSize = 4096

// socketFlags records who references a socket and where the modem stands
// with it. The application side is mutated by the socket's own methods, the
// modem side by the driver task and by vendor hooks. All access goes through
// the owning modem's mutex.
type socketFlags uint16

const (
	// set at creation for TLS sockets
	sockAppSecure socketFlags = 1 << iota
	// the application asked for the socket to be closed
	sockAppClose
	// the application still holds the socket
	sockAppReference
	// an incoming-data hint arrived without a byte count
	sockCheckIncoming

	// the modem assigned a channel
	sockAllocated
	// a connect exchange is in flight
	sockConnecting
	// the modem confirmed the connection
	sockConnected
	// a send exchange is in flight
	sockSending
	// the modem holds inbound data for this socket
	sockIncoming
	// a close exchange is in flight
	sockClosing
	// the modem confirmed the close, or the peer closed
	sockClosed
	// the modem still references the channel
	sockTaskReference
)

// Socket is one multiplexed connection over the modem. Applications obtain
// sockets from Modem.CreateSocket, move payload with Read and Write, and
// hand the slot back with Release. The protocol work happens asynchronously
// on the driver task.
type Socket struct {
	owner *Modem
	slot  int
	host  string
	port  int
	// channel is the modem-side mux identifier, -1 until allocated.
	channel int

	// guarded by owner.mu
	flags socketFlags
	in    bytes.Buffer
	out   bytes.Buffer
}

func newSocket(m *Modem, slot int, host string, port int, secure bool) *Socket {
	s := &Socket{
		owner:   m,
		slot:    slot,
		host:    host,
		port:    port,
		channel: -1,
		flags:   sockAppReference,
	}
	if secure {
		s.flags |= sockAppSecure
	}
	return s
}

// Host returns the peer host the socket was created for.
func (s *Socket) Host() string { return s.host }

// Port returns the peer TCP port.
func (s *Socket) Port() int { return s.port }

// IsSecure reports whether the socket was created for TLS.
func (s *Socket) IsSecure() bool { return s.flags&sockAppSecure != 0 }

// Channel returns the modem-side channel identifier, or -1 while the socket
// is unallocated.
func (s *Socket) Channel() int {
	m := s.owner
	m.mu.Lock()
	defer m.mu.Unlock()
	return s.channel
}

// IsConnected reports whether the connection is established and not yet
// closing.
func (s *Socket) IsConnected() bool {
	m := s.owner
	m.mu.Lock()
	defer m.mu.Unlock()
	return s.isConnectedLocked()
}

// IsClosed reports whether the modem confirmed the close or the peer closed
// the connection.
func (s *Socket) IsClosed() bool {
	m := s.owner
	m.mu.Lock()
	defer m.mu.Unlock()
	return s.flags&sockClosed != 0
}

// OutAvailable returns the number of buffered outbound bytes not yet handed
// to the modem.
func (s *Socket) OutAvailable() int {
	m := s.owner
	m.mu.Lock()
	defer m.mu.Unlock()
	return s.out.Len()
}

// ReceiveRoom returns how many inbound bytes the socket can accept. Drivers
// size their receive requests with it.
func (s *Socket) ReceiveRoom() int {
	m := s.owner
	m.mu.Lock()
	defer m.mu.Unlock()
	if room := socketBufferSize - s.in.Len(); room > 0 {
		return room
	}
	return 0
}

// Connect waits until the driver task has established the connection. The
// connect itself starts as soon as a channel is allocated; Connect only
// observes the outcome, bounded by ctx and the modem's connect timeout.
func (s *Socket) Connect(ctx context.Context) error {
	m := s.owner
	m.waitFor(ctx, m.ConnectTimeout(), func() bool {
		return s.flags&(sockConnected|sockClosed) != 0 || !m.taskActive
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case s.isConnectedLocked():
		return nil
	case s.flags&(sockClosed|sockClosing) != 0 || !m.taskActive:
		return fmt.Errorf("connect %s:%d: %w", s.host, s.port, ErrSocketClosed)
	default:
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("connect %s:%d: %w", s.host, s.port, ErrTimeout)
	}
}

// Write buffers p for transmission and wakes the driver task. It never
// blocks on the link; the driver drains the buffer in protocol-sized sends.
func (s *Socket) Write(p []byte) (int, error) {
	m := s.owner
	m.mu.Lock()
	if s.flags&(sockClosed|sockClosing|sockAppClose) != 0 {
		m.mu.Unlock()
		return 0, ErrSocketClosed
	}
	s.out.Write(p)
	m.notifyLocked()
	m.mu.Unlock()
	m.RequestProcessing()
	return len(p), nil
}

// Read blocks until inbound payload is available and returns what is
// buffered. Once the socket is closed and drained it returns io.EOF.
func (s *Socket) Read(p []byte) (int, error) {
	m := s.owner
	for {
		m.mu.Lock()
		if s.in.Len() > 0 {
			n, _ := s.in.Read(p)
			m.notifyLocked()
			m.mu.Unlock()
			// freed buffer room lets a paused receive resume
			m.RequestProcessing()
			return n, nil
		}
		if s.flags&sockClosed != 0 || m.closed {
			m.mu.Unlock()
			return 0, io.EOF
		}
		ch := m.change
		m.mu.Unlock()

		select {
		case <-ch:
		case <-m.ctx.Done():
			return 0, io.EOF
		}
	}
}

// Release drops the application's reference. The driver task closes the
// protocol channel if needed and reclaims the slot once the modem confirms;
// the socket must not be used afterwards.
func (s *Socket) Release() {
	m := s.owner
	m.mu.Lock()
	s.flags = s.flags&^sockAppReference | sockAppClose
	active := m.taskActive
	if !active && s.canDeleteLocked() {
		m.sockets[s.slot] = nil
	}
	m.notifyLocked()
	m.mu.Unlock()
	m.log.Debug("socket released", "slot", s.slot, "channel", s.channel)
	if active {
		m.RequestProcessing()
	}
}

// Close releases the socket, satisfying io.Closer. The close is
// asynchronous; use Disconnect first to wait for confirmation.
func (s *Socket) Close() error {
	s.Release()
	return nil
}

// Disconnect asks for the connection to be closed and waits for the modem's
// confirmation, bounded by ctx and the modem's disconnect timeout. The
// application still holds the slot afterwards and must Release it.
func (s *Socket) Disconnect(ctx context.Context) error {
	m := s.owner
	m.mu.Lock()
	s.flags |= sockAppClose
	m.notifyLocked()
	m.mu.Unlock()
	m.RequestProcessing()

	m.waitFor(ctx, m.DisconnectTimeout(), func() bool {
		return s.flags&sockClosed != 0 || s.flags&sockAllocated == 0 || !m.taskActive
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	if s.flags&sockClosed != 0 || s.flags&sockAllocated == 0 || !m.taskActive {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("disconnect %s:%d: %w", s.host, s.port, ErrTimeout)
}

// Driver-facing mutators. Vendor hooks call these to report what the modem
// confirmed; each wakes waiters and, where follow-up work may exist, the
// driver task.

// Allocate records the channel the driver picked. It panics when the
// (channel, secure) pair is already held by another live socket: channel
// accounting is the driver's contract.
func (s *Socket) Allocate(channel int) {
	m := s.owner
	m.mu.Lock()
	if dup := m.findSocketLocked(channel, s.flags&sockAppSecure != 0, true); dup != nil && dup != s {
		m.mu.Unlock()
		panic("gsm: channel already allocated")
	}
	s.channel = channel
	s.flags |= sockAllocated | sockTaskReference
	m.notifyLocked()
	m.mu.Unlock()
	m.log.Debug("socket allocated", "slot", s.slot, "channel", channel, "secure", s.IsSecure())
}

// Connected reports the modem's connect confirmation.
func (s *Socket) Connected() {
	m := s.owner
	m.mu.Lock()
	s.flags = s.flags&^sockConnecting | sockConnected
	m.notifyLocked()
	m.mu.Unlock()
	m.log.Debug("socket connected", "channel", s.channel)
	// output queued before the confirmation can go out now
	m.RequestProcessing()
}

// Disconnected reports that the connection is gone: a failed connect, a
// confirmed close, or a close by the peer. The socket keeps its channel
// until the slot is reclaimed, which happens once the application releases
// its reference.
func (s *Socket) Disconnected() {
	m := s.owner
	m.mu.Lock()
	s.flags = s.flags&^(sockConnecting|sockConnected|sockSending|sockIncoming|sockCheckIncoming|sockClosing|sockTaskReference) | sockClosed
	m.notifyLocked()
	m.mu.Unlock()
	m.log.Debug("socket disconnected", "channel", s.channel)
	m.RequestProcessing()
}

// Incoming reports that the modem holds inbound data for the socket.
func (s *Socket) Incoming() {
	m := s.owner
	m.mu.Lock()
	s.flags = s.flags&^sockCheckIncoming | sockIncoming
	m.notifyLocked()
	m.mu.Unlock()
	m.RequestProcessing()
}

// MaybeIncoming schedules a CheckIncoming query after a hint that carried no
// byte count.
func (s *Socket) MaybeIncoming() {
	m := s.owner
	m.mu.Lock()
	if s.flags&sockIncoming == 0 {
		s.flags |= sockCheckIncoming
	}
	m.notifyLocked()
	m.mu.Unlock()
	m.RequestProcessing()
}

// IncomingRequested clears the pending hint once the check query is on the
// wire.
func (s *Socket) IncomingRequested() {
	m := s.owner
	m.mu.Lock()
	s.flags &^= sockCheckIncoming
	m.mu.Unlock()
}

// ReceiveFinished reports that the modem's buffer for the socket is drained.
func (s *Socket) ReceiveFinished() {
	m := s.owner
	m.mu.Lock()
	s.flags &^= sockIncoming
	m.mu.Unlock()
}

// Sending marks a send exchange in flight, keeping the scheduler from
// staging a second one.
func (s *Socket) Sending() {
	m := s.owner
	m.mu.Lock()
	s.flags |= sockSending
	m.mu.Unlock()
}

// SendingFinished reports the modem accepted the payload.
func (s *Socket) SendingFinished() {
	m := s.owner
	m.mu.Lock()
	s.flags &^= sockSending
	m.notifyLocked()
	m.mu.Unlock()
	// more buffered output may be waiting
	m.RequestProcessing()
}

// CanSend reports whether a send exchange may be staged now.
func (s *Socket) CanSend() bool {
	m := s.owner
	m.mu.Lock()
	defer m.mu.Unlock()
	return s.flags&sockConnected != 0 && s.flags&(sockSending|sockClosing|sockClosed) == 0
}

// takeOutput hands up to n buffered outbound bytes to the transmit pump.
func (s *Socket) takeOutput(n int) []byte {
	m := s.owner
	m.mu.Lock()
	defer m.mu.Unlock()
	if l := s.out.Len(); l < n {
		n = l
	}
	b := make([]byte, n)
	k, _ := s.out.Read(b)
	return b[:k]
}

// pushInput appends received payload and wakes blocked readers.
func (s *Socket) pushInput(p []byte) {
	m := s.owner
	m.mu.Lock()
	s.in.Write(p)
	m.notifyLocked()
	m.mu.Unlock()
}

// Scheduler predicates, owner.mu held.

func (s *Socket) isConnectedLocked() bool {
	return s.flags&sockConnected != 0 && s.flags&(sockClosing|sockClosed) == 0
}

func (s *Socket) wantsAllocationLocked() bool {
	return s.flags&(sockAllocated|sockAppClose) == 0
}

func (s *Socket) needsConnectLocked() bool {
	return s.flags&sockAllocated != 0 &&
		s.flags&(sockConnecting|sockConnected|sockClosing|sockClosed) == 0
}

func (s *Socket) needsCloseLocked() bool {
	return s.flags&sockAppClose != 0 && s.flags&sockAllocated != 0 &&
		s.flags&(sockClosing|sockClosed) == 0
}

func (s *Socket) dataToSendLocked() bool {
	return s.isConnectedLocked() && s.flags&sockSending == 0 && s.out.Len() > 0
}

func (s *Socket) dataToReceiveLocked() bool {
	return s.isConnectedLocked() && s.flags&sockIncoming != 0 && s.in.Len() < socketBufferSize
}

func (s *Socket) dataToCheckLocked() bool {
	return s.isConnectedLocked() && s.flags&sockCheckIncoming != 0
}

func (s *Socket) canDeleteLocked() bool {
	return s.flags&(sockAppReference|sockTaskReference) == 0 &&
		(s.flags&sockAllocated == 0 || s.flags&sockClosed != 0)
}

// FindSocket returns the live socket holding the channel, or nil. Drivers
// use it to route events and to pick free channels.
func (m *Modem) FindSocket(channel int) *Socket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findSocketLocked(channel, false, false)
}

// FindSocketSecure is FindSocket restricted to one TLS namespace, for
// chipsets that number secure and plain sessions independently.
func (m *Modem) FindSocketSecure(channel int, secure bool) *Socket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findSocketLocked(channel, secure, true)
}

func (m *Modem) findSocketLocked(channel int, secure, matchSecure bool) *Socket {
	for _, s := range m.sockets {
		if s == nil || s.flags&sockAllocated == 0 || s.channel != channel {
			continue
		}
		if matchSecure && (s.flags&sockAppSecure != 0) != secure {
			continue
		}
		return s
	}
	return nil
}
