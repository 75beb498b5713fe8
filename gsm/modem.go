package gsm

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Infinite disables the timeout on any operation that accepts one.
const Infinite time.Duration = math.MaxInt64

// Modem drives a cellular modem over a byte-stream transport, multiplexing
// TCP sockets on top of the chipset's AT command dialect.
//
// Two goroutines do the work. The driver task owns the lifecycle: it powers
// the device, walks it through link bring-up, SIM unlock and network attach,
// then schedules socket operations until the modem has been idle long enough
// to power off. The receive loop is the ONLY reader of the transport: it
// frames response lines, resolves command exchanges, dispatches unsolicited
// events to the driver, and diverts raw payload bytes into socket buffers.
//
// Applications create a Modem, obtain sockets with CreateSocket, and use
// them as ordinary connections; the driver task starts on demand and stops
// itself after the idle window. Vendor packages implement Driver to bind a
// concrete chipset.
type Modem struct {
	dialer  Dialer
	driver  Driver
	options Options
	log     *slog.Logger
	diag    DiagnosticFunc

	// ctx ends when the modem is closed
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards the mutable state below; change is closed and replaced
	// whenever that state moves, waking waitFor loops
	mu     sync.Mutex
	change chan struct{}
	// transport is nil between a power-off and the next dial
	transport     Transport
	closed        bool
	taskActive    bool
	rxActive      bool
	networkActive bool
	phase         Phase
	link          LinkStatus
	gsm           GsmStatus
	sim           SimStatus
	tcp           TCPStatus
	rssi          int
	netInfo       NetworkInfo
	// sockets is the slot arena; nil entries are free
	sockets []*Socket

	atTimeout         time.Duration
	connectTimeout    time.Duration
	disconnectTimeout time.Duration
	powerOffTimeout   time.Duration

	// kick wakes the driver task for another scheduling pass
	kick chan struct{}

	eng atEngine

	// rxBusy pauses socket scheduling while raw payload is mid-flight;
	// rxSock and rxLen belong to the receive goroutine
	rxBusy atomic.Bool
	rxSock *Socket
	rxLen  int
}

// New creates a Modem and dials its transport. The driver task is not
// started; it comes up with the first CreateSocket or an explicit Start.
//
// Returns an error if the configuration is incomplete or the transport
// cannot be established.
func New(ctx context.Context, config Config) (*Modem, error) {
	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}

	m := &Modem{
		dialer:            config.Dialer,
		driver:            config.Driver,
		options:           config.Options,
		log:               config.Logger,
		diag:              config.Diagnostics,
		change:            make(chan struct{}),
		transport:         transport,
		sockets:           make([]*Socket, config.MaxSockets),
		atTimeout:         config.ATTimeout,
		connectTimeout:    config.ConnectTimeout,
		disconnectTimeout: config.DisconnectTimeout,
		powerOffTimeout:   config.PowerOffTimeout,
		kick:              make(chan struct{}, 1),
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	return m, nil
}

// Start brings the driver task up without waiting for a socket, for
// applications that want the modem registered before any connection is
// needed.
func (m *Modem) Start() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	run := !m.taskActive
	if run {
		m.taskActive = true
	}
	m.mu.Unlock()
	if run {
		go m.task()
	}
	return nil
}

// Close shuts the modem down without the power-off sequence: the transport
// is closed, pending exchanges fail, blocked readers get io.EOF and the
// driver task winds down. For an orderly power-off, release all sockets and
// wait with WaitForPowerOff before closing.
func (m *Modem) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	m.closed = true
	t := m.transport
	m.transport = nil
	m.notifyLocked()
	m.mu.Unlock()

	m.cancel()
	if t != nil {
		return t.Close()
	}
	return nil
}

// CreateSocket reserves a slot for a connection to host:port. The driver
// task starts if needed, allocates a modem channel and connects
// asynchronously; use Socket.Connect to wait for the outcome.
func (m *Modem) CreateSocket(host string, port int, secure bool) (*Socket, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrAlreadyClosed
	}
	slot := -1
	for i, s := range m.sockets {
		if s == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		m.mu.Unlock()
		return nil, ErrNoFreeSockets
	}
	s := newSocket(m, slot, host, port, secure)
	m.sockets[slot] = s
	m.notifyLocked()
	m.mu.Unlock()

	m.log.Debug("socket created", "slot", slot, "host", host, "port", port, "secure", secure)
	if err := m.Start(); err != nil {
		m.mu.Lock()
		m.sockets[slot] = nil
		m.mu.Unlock()
		return nil, err
	}
	m.RequestProcessing()
	return s, nil
}

// RequestProcessing wakes the driver task for another scheduling pass. It
// never blocks; a pass already pending absorbs the request. Drivers call it
// after changing socket state from an event handler.
func (m *Modem) RequestProcessing() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// WaitForIdle blocks until no sockets exist, or the timeout elapses. It
// reports whether the modem is idle.
func (m *Modem) WaitForIdle(timeout time.Duration) bool {
	assertRelative(timeout)
	return m.waitFor(m.ctx, timeout, func() bool { return m.socketCountLocked() == 0 })
}

// WaitForPowerOff blocks until both the driver task and the receive loop
// have stopped, or the timeout elapses. It reports whether the modem is
// powered off.
func (m *Modem) WaitForPowerOff(timeout time.Duration) bool {
	assertRelative(timeout)
	return m.waitFor(m.ctx, timeout, func() bool { return !m.taskActive && !m.rxActive })
}

// WaitNetworkActive blocks until the network is attached, the driver task
// stops, or the timeout elapses. It reports whether the network is active.
func (m *Modem) WaitNetworkActive(timeout time.Duration) bool {
	assertRelative(timeout)
	m.waitFor(m.ctx, timeout, func() bool { return m.networkActive || !m.taskActive })
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.networkActive
}

// waitFor blocks until pred holds, the timeout elapses or ctx ends. pred is
// evaluated with the modem mutex held. The return value is pred's final
// evaluation, which absorbs wakeups that race the deadline.
func (m *Modem) waitFor(ctx context.Context, timeout time.Duration, pred func() bool) bool {
	var expired <-chan time.Time
	if timeout != Infinite {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		m.mu.Lock()
		if pred() {
			m.mu.Unlock()
			return true
		}
		ch := m.change
		m.mu.Unlock()

		select {
		case <-ch:
		case <-expired:
			m.mu.Lock()
			defer m.mu.Unlock()
			return pred()
		case <-ctx.Done():
			m.mu.Lock()
			defer m.mu.Unlock()
			return pred()
		}
	}
}

// notifyLocked wakes every waitFor loop. Callers hold mu.
func (m *Modem) notifyLocked() {
	close(m.change)
	m.change = make(chan struct{})
}

// Phase returns the driver task's lifecycle phase.
func (m *Modem) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Modem) setPhase(p Phase) {
	m.mu.Lock()
	changed := m.phase != p
	m.phase = p
	if changed {
		m.notifyLocked()
	}
	m.mu.Unlock()
	if changed {
		m.log.Debug("phase", "phase", p)
	}
}

// NetworkActive reports whether the network is attached and sockets can be
// serviced.
func (m *Modem) NetworkActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.networkActive
}

func (m *Modem) setNetworkActive(active bool) {
	m.mu.Lock()
	changed := m.networkActive != active
	m.networkActive = active
	if changed {
		m.notifyLocked()
	}
	m.mu.Unlock()
}

// LinkStatus returns the command channel classification.
func (m *Modem) LinkStatus() LinkStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.link
}

// SetLinkStatus records a command channel classification. The core latches
// failures here; drivers may set finer-grained causes before returning an
// error from a lifecycle hook.
func (m *Modem) SetLinkStatus(s LinkStatus) {
	m.mu.Lock()
	changed := m.link != s
	m.link = s
	if changed {
		m.notifyLocked()
	}
	m.mu.Unlock()
	if changed {
		m.log.Debug("link status", "status", s)
	}
}

// GsmStatus returns the registration state reported by the driver.
func (m *Modem) GsmStatus() GsmStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gsm
}

func (m *Modem) SetGsmStatus(s GsmStatus) {
	m.mu.Lock()
	changed := m.gsm != s
	m.gsm = s
	if changed {
		m.notifyLocked()
	}
	m.mu.Unlock()
	if changed {
		m.log.Debug("gsm status", "status", s)
	}
}

// SimStatus returns the SIM state reported by the driver.
func (m *Modem) SimStatus() SimStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sim
}

func (m *Modem) SetSimStatus(s SimStatus) {
	m.mu.Lock()
	changed := m.sim != s
	m.sim = s
	if changed {
		m.notifyLocked()
	}
	m.mu.Unlock()
	if changed {
		m.log.Debug("sim status", "status", s)
	}
}

// TCPStatus returns the packet-data state reported by the driver.
func (m *Modem) TCPStatus() TCPStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tcp
}

func (m *Modem) SetTCPStatus(s TCPStatus) {
	m.mu.Lock()
	changed := m.tcp != s
	m.tcp = s
	if changed {
		m.notifyLocked()
	}
	m.mu.Unlock()
	if changed {
		m.log.Debug("tcp status", "status", s)
	}
}

// RSSI returns the last signal strength report, in the chipset's units.
func (m *Modem) RSSI() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rssi
}

func (m *Modem) SetRSSI(rssi int) {
	m.mu.Lock()
	changed := m.rssi != rssi
	m.rssi = rssi
	if changed {
		m.notifyLocked()
	}
	m.mu.Unlock()
	if changed {
		m.log.Debug("rssi", "rssi", rssi)
	}
}

// NetworkInfo returns the serving network identity, or the zero value while
// unknown.
func (m *Modem) NetworkInfo() NetworkInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.netInfo
}

func (m *Modem) SetNetworkInfo(info NetworkInfo) {
	m.mu.Lock()
	changed := m.netInfo != info
	m.netInfo = info
	if changed {
		m.notifyLocked()
	}
	m.mu.Unlock()
	if changed {
		m.log.Debug("network", "network", info)
	}
}

// ATTimeout returns the default command exchange timeout.
func (m *Modem) ATTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.atTimeout
}

// SetATTimeout adjusts the default command exchange timeout. Negative
// values panic; use Infinite to disable.
func (m *Modem) SetATTimeout(d time.Duration) {
	assertRelative(d)
	m.mu.Lock()
	m.atTimeout = d
	m.mu.Unlock()
}

// ConnectTimeout returns the bound on bring-up phases and socket connects.
func (m *Modem) ConnectTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectTimeout
}

func (m *Modem) SetConnectTimeout(d time.Duration) {
	assertRelative(d)
	m.mu.Lock()
	m.connectTimeout = d
	m.mu.Unlock()
}

// DisconnectTimeout returns the bound on teardown phases and socket closes.
func (m *Modem) DisconnectTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectTimeout
}

func (m *Modem) SetDisconnectTimeout(d time.Duration) {
	assertRelative(d)
	m.mu.Lock()
	m.disconnectTimeout = d
	m.mu.Unlock()
}

// PowerOffTimeout returns the idle window before the modem powers down.
func (m *Modem) PowerOffTimeout() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.powerOffTimeout
}

func (m *Modem) SetPowerOffTimeout(d time.Duration) {
	assertRelative(d)
	m.mu.Lock()
	m.powerOffTimeout = d
	m.mu.Unlock()
}

// Options returns the operator parameters for driver hooks.
func (m *Modem) Options() Options { return m.options }

// Logger returns the modem's logger, for drivers that want their traces in
// the same stream.
func (m *Modem) Logger() *slog.Logger { return m.log }

// Transport returns the live transport, or nil between a power-off and the
// next dial. PowerOn and PowerOff hooks may type-assert it for control
// lines.
func (m *Modem) Transport() Transport {
	return m.transportRef()
}

func (m *Modem) transportRef() Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport
}

func (m *Modem) socketCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.socketCountLocked()
}

func (m *Modem) socketCountLocked() int {
	n := 0
	for _, s := range m.sockets {
		if s != nil {
			n++
		}
	}
	return n
}

// snapshotSockets copies the live slots for a scheduling pass.
func (m *Modem) snapshotSockets() []*Socket {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Socket, 0, len(m.sockets))
	for _, s := range m.sockets {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// assertRelative rejects negative durations. Timeouts here are relative
// windows; passing a negative value is a programming error.
func assertRelative(d time.Duration) {
	if d < 0 {
		panic("gsm: negative timeout")
	}
}
