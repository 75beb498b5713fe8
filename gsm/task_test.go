package gsm_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/marosstudenic/lib-gsm/at"
	"github.com/marosstudenic/lib-gsm/gsm"
)

type dialerFunc func(ctx context.Context) (gsm.Transport, error)

func (f dialerFunc) Dial(ctx context.Context) (gsm.Transport, error) { return f(ctx) }

// scriptDriver records lifecycle phases in order and fails the ones the test
// asks it to. Socket hooks reject; tests that move socket data use
// socketDriver.
type scriptDriver struct {
	gsm.BaseDriver
	mu      sync.Mutex
	phases  []string
	fail    map[string]error
	onPhase map[string]func(*gsm.Modem)
	stopped chan struct{}
}

func newScriptDriver() *scriptDriver {
	return &scriptDriver{
		fail:    map[string]error{},
		onPhase: map[string]func(*gsm.Modem){},
		stopped: make(chan struct{}, 4),
	}
}

func (d *scriptDriver) record(m *gsm.Modem, name string) error {
	d.mu.Lock()
	d.phases = append(d.phases, name)
	err := d.fail[name]
	hook := d.onPhase[name]
	d.mu.Unlock()
	if hook != nil {
		hook(m)
	}
	return err
}

func (d *scriptDriver) history() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.phases...)
}

func (d *scriptDriver) PowerOn(ctx context.Context, m *gsm.Modem) error {
	return d.record(m, "power-on")
}

func (d *scriptDriver) Start(ctx context.Context, m *gsm.Modem) error {
	return d.record(m, "start")
}

func (d *scriptDriver) UnlockSim(ctx context.Context, m *gsm.Modem) error {
	return d.record(m, "unlock-sim")
}

func (d *scriptDriver) ConnectNetwork(ctx context.Context, m *gsm.Modem) error {
	return d.record(m, "connect-network")
}

func (d *scriptDriver) DisconnectNetwork(ctx context.Context, m *gsm.Modem) error {
	return d.record(m, "disconnect-network")
}

func (d *scriptDriver) Stop(ctx context.Context, m *gsm.Modem) error {
	return d.record(m, "stop")
}

func (d *scriptDriver) PowerOff(ctx context.Context, m *gsm.Modem) error {
	return d.record(m, "power-off")
}

func (d *scriptDriver) OnTaskStopped(m *gsm.Modem) {
	select {
	case d.stopped <- struct{}{}:
	default:
	}
}

func (d *scriptDriver) TryAllocate(m *gsm.Modem, s *gsm.Socket) bool { return false }

func (d *scriptDriver) Connect(ctx context.Context, m *gsm.Modem, s *gsm.Socket) error {
	return errNotSupported
}

func (d *scriptDriver) SendPacket(ctx context.Context, m *gsm.Modem, s *gsm.Socket) error {
	return errNotSupported
}

func (d *scriptDriver) ReceivePacket(ctx context.Context, m *gsm.Modem, s *gsm.Socket) error {
	return errNotSupported
}

func (d *scriptDriver) CheckIncoming(ctx context.Context, m *gsm.Modem, s *gsm.Socket) error {
	return errNotSupported
}

func (d *scriptDriver) Close(ctx context.Context, m *gsm.Modem, s *gsm.Socket) error {
	return errNotSupported
}

func (d *scriptDriver) awaitStop(t *testing.T) {
	t.Helper()
	select {
	case <-d.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("driver task never stopped")
	}
}

func equalPhases(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestLifecycle(t *testing.T) {
	newTestModem := func(t *testing.T, d gsm.Driver, powerOff time.Duration) *gsm.Modem {
		t.Helper()
		dialer := dialerFunc(func(ctx context.Context) (gsm.Transport, error) {
			return gsm.NewTestTransport(), nil
		})
		m, err := gsm.New(context.Background(), gsm.Config{
			Dialer:            dialer,
			Driver:            d,
			ATTimeout:         2 * time.Second,
			ConnectTimeout:    2 * time.Second,
			DisconnectTimeout: 2 * time.Second,
			PowerOffTimeout:   powerOff,
		})
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		t.Cleanup(func() { m.Close() })
		return m
	}

	t.Run("full cycle without sockets", func(t *testing.T) {
		d := newScriptDriver()
		m := newTestModem(t, d, 100*time.Millisecond)

		if err := m.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		if !m.WaitNetworkActive(5 * time.Second) {
			t.Fatal("network never became active")
		}
		if m.Phase() != gsm.Active {
			t.Errorf("phase = %v, want active", m.Phase())
		}

		// no sockets: the idle window elapses and the modem powers off
		d.awaitStop(t)
		if !m.WaitForPowerOff(5 * time.Second) {
			t.Fatal("modem never powered off")
		}
		if m.Phase() != gsm.PoweredOff {
			t.Errorf("phase = %v, want powered off", m.Phase())
		}

		want := []string{
			"power-on", "start", "unlock-sim", "connect-network",
			"disconnect-network", "stop", "power-off",
		}
		if got := d.history(); !equalPhases(got, want) {
			t.Errorf("phases = %v, want %v", got, want)
		}
		if m.LinkStatus() != gsm.LinkOK {
			t.Errorf("link status = %v, want ok", m.LinkStatus())
		}
	})

	t.Run("power-on failure stays down", func(t *testing.T) {
		d := newScriptDriver()
		d.fail["power-on"] = errors.New("no power")
		m := newTestModem(t, d, gsm.Infinite)

		if err := m.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		d.awaitStop(t)

		if !m.WaitForPowerOff(5 * time.Second) {
			t.Fatal("task never stopped")
		}
		if m.LinkStatus() != gsm.LinkPowerOnFailure {
			t.Errorf("link status = %v, want power-on failure", m.LinkStatus())
		}
		if m.Phase() != gsm.PoweredOff {
			t.Errorf("phase = %v, want powered off", m.Phase())
		}
		if got := d.history(); !equalPhases(got, []string{"power-on"}) {
			t.Errorf("phases = %v, want [power-on] only", got)
		}
	})

	t.Run("bring-up failure skips to teardown", func(t *testing.T) {
		d := newScriptDriver()
		d.fail["unlock-sim"] = errors.New("sim stuck")
		m := newTestModem(t, d, gsm.Infinite)

		if err := m.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		d.awaitStop(t)

		if m.LinkStatus() != gsm.LinkCommandError {
			t.Errorf("link status = %v, want command error", m.LinkStatus())
		}
		want := []string{"power-on", "start", "unlock-sim", "stop", "power-off"}
		if got := d.history(); !equalPhases(got, want) {
			t.Errorf("phases = %v, want %v", got, want)
		}
		if m.WaitNetworkActive(10 * time.Millisecond) {
			t.Error("network reported active after failed bring-up")
		}
	})

	t.Run("hook status takes precedence over classification", func(t *testing.T) {
		d := newScriptDriver()
		d.fail["start"] = errors.New("no sync")
		// a failed start would classify as auto-baud failure; a status the
		// hook latched itself must survive
		d.onPhase["start"] = func(m *gsm.Modem) {
			m.SetLinkStatus(gsm.LinkPowerOnFailure)
		}
		m := newTestModem(t, d, gsm.Infinite)

		if err := m.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		d.awaitStop(t)

		if m.LinkStatus() != gsm.LinkPowerOnFailure {
			t.Errorf("link status = %v, hook's value was overwritten", m.LinkStatus())
		}
	})

	t.Run("restart dials a fresh transport", func(t *testing.T) {
		var mu sync.Mutex
		dials := 0
		dialer := dialerFunc(func(ctx context.Context) (gsm.Transport, error) {
			mu.Lock()
			dials++
			mu.Unlock()
			return gsm.NewTestTransport(), nil
		})

		d := newScriptDriver()
		m, err := gsm.New(context.Background(), gsm.Config{
			Dialer:          dialer,
			Driver:          d,
			PowerOffTimeout: 50 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		defer m.Close()

		if err := m.Start(); err != nil {
			t.Fatalf("start: %v", err)
		}
		d.awaitStop(t)
		if !m.WaitForPowerOff(5 * time.Second) {
			t.Fatal("first cycle never ended")
		}

		if err := m.Start(); err != nil {
			t.Fatalf("restart: %v", err)
		}
		d.awaitStop(t)
		if !m.WaitForPowerOff(5 * time.Second) {
			t.Fatal("second cycle never ended")
		}

		mu.Lock()
		defer mu.Unlock()
		// New dialed once; the second cycle re-dials after the first
		// power-off closed the transport
		if dials != 2 {
			t.Errorf("dials = %d, want 2", dials)
		}
	})

	t.Run("WaitNetworkActive false while stopped", func(t *testing.T) {
		d := newScriptDriver()
		m := newTestModem(t, d, gsm.Infinite)

		if m.WaitNetworkActive(10 * time.Millisecond) {
			t.Error("network reported active without a running task")
		}
	})
}

// socketDriver extends scriptDriver with functional socket hooks speaking a
// CIP-style dialect: sends go through the payload prompt, receives are
// pushed by the modem with a byte count.
type socketDriver struct {
	*scriptDriver
}

func (d *socketDriver) TryAllocate(m *gsm.Modem, s *gsm.Socket) bool {
	for ch := 0; ch < 8; ch++ {
		if m.FindSocketSecure(ch, s.IsSecure()) == nil {
			s.Allocate(ch)
			return true
		}
	}
	return false
}

func (d *socketDriver) Connect(ctx context.Context, m *gsm.Modem, s *gsm.Socket) error {
	d.mu.Lock()
	err := d.fail["socket-connect"]
	d.mu.Unlock()
	if err != nil {
		return err
	}
	s.Connected()
	return nil
}

func (d *socketDriver) SendPacket(ctx context.Context, m *gsm.Modem, s *gsm.Socket) error {
	n := s.OutAvailable()
	if n > 64 {
		n = 64
	}
	if !m.ATLock() {
		return errors.New("command channel busy")
	}
	m.NextATTransmit(s, n)
	s.Sending()
	res := m.ATf(ctx, "+CIPSEND=%d,%d", s.Channel(), n)
	s.SendingFinished()
	if res != gsm.ATOK {
		return fmt.Errorf("send rejected: %v", res)
	}
	return nil
}

func (d *socketDriver) Close(ctx context.Context, m *gsm.Modem, s *gsm.Socket) error {
	s.Disconnected()
	return nil
}

func (d *socketDriver) OnEvent(m *gsm.Modem, tag at.Tag, fields *at.Fields) bool {
	if tag == at.Hash("+RECEIVE,") {
		ch, _ := fields.Int()
		n, _ := fields.Int()
		m.ReceiveForSocket(m.FindSocket(ch), n)
		return true
	}
	return false
}

func TestSocketFlow(t *testing.T) {
	transports := make(chan *gsm.TestTransport, 2)
	dialer := dialerFunc(func(ctx context.Context) (gsm.Transport, error) {
		tr := gsm.NewTestTransport()
		transports <- tr
		return tr, nil
	})

	d := &socketDriver{scriptDriver: newScriptDriver()}
	m, err := gsm.New(context.Background(), gsm.Config{
		Dialer:            dialer,
		Driver:            d,
		ATTimeout:         2 * time.Second,
		ConnectTimeout:    2 * time.Second,
		DisconnectTimeout: 2 * time.Second,
		PowerOffTimeout:   150 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer m.Close()
	tr := <-transports

	s, err := m.CreateSocket("example.com", 8080, false)
	if err != nil {
		t.Fatalf("create socket: %v", err)
	}

	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !s.IsConnected() {
		t.Error("socket not connected after Connect")
	}
	if got := s.Channel(); got != 0 {
		t.Errorf("channel = %d, want 0", got)
	}

	// outbound: the scheduler stages the buffered bytes against the prompt
	if _, err := s.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	w, ok := tr.NextWrite(2 * time.Second)
	if !ok {
		t.Fatal("send command never hit the wire")
	}
	if w != "AT+CIPSEND=0,5\r" {
		t.Fatalf("wire = %q, want send command", w)
	}
	tr.SendPrompt()
	payload, ok := tr.NextWrite(2 * time.Second)
	if !ok {
		t.Fatal("payload never hit the wire")
	}
	if payload != "hello" {
		t.Errorf("payload = %q, want %q", payload, "hello")
	}
	tr.SendLine("OK")

	// inbound: the modem pushes a counted payload
	tr.SendData("\r\n+RECEIVE,0,7\r\npayload")
	buf := make([]byte, 32)
	n, err := s.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got != "payload" {
		t.Errorf("read = %q, want %q", got, "payload")
	}

	// orderly shutdown: close, release, idle window, power off
	if err := s.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	s.Release()
	if !m.WaitForIdle(2 * time.Second) {
		t.Fatal("modem never became idle")
	}
	d.awaitStop(t)
	if !m.WaitForPowerOff(5 * time.Second) {
		t.Fatal("modem never powered off")
	}

	want := []string{
		"power-on", "start", "unlock-sim", "connect-network",
		"disconnect-network", "stop", "power-off",
	}
	if got := d.history(); !equalPhases(got, want) {
		t.Errorf("phases = %v, want %v", got, want)
	}
}

func TestSocketConnectFailure(t *testing.T) {
	d := &socketDriver{scriptDriver: newScriptDriver()}
	d.fail["socket-connect"] = errors.New("refused")

	dialer := dialerFunc(func(ctx context.Context) (gsm.Transport, error) {
		return gsm.NewTestTransport(), nil
	})
	m, err := gsm.New(context.Background(), gsm.Config{
		Dialer:            dialer,
		Driver:            d,
		ConnectTimeout:    2 * time.Second,
		DisconnectTimeout: 2 * time.Second,
		PowerOffTimeout:   gsm.Infinite,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer m.Close()

	s, err := m.CreateSocket("example.com", 8080, false)
	if err != nil {
		t.Fatalf("create socket: %v", err)
	}

	if err := s.Connect(context.Background()); !errors.Is(err, gsm.ErrSocketClosed) {
		t.Errorf("connect error = %v, want ErrSocketClosed", err)
	}
	if !s.IsClosed() {
		t.Error("socket not closed after failed connect")
	}

	// the failed socket's slot frees once released
	s.Release()
	if !m.WaitForIdle(2 * time.Second) {
		t.Error("slot never reclaimed after failed connect")
	}
}
