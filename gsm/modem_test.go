package gsm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"github.com/marosstudenic/lib-gsm/gsm"
)

var errNotSupported = errors.New("not supported")

// nullDriver satisfies Driver for tests that never reach socket traffic:
// allocation always fails and socket hooks reject.
type nullDriver struct {
	gsm.BaseDriver
}

func (*nullDriver) TryAllocate(m *gsm.Modem, s *gsm.Socket) bool { return false }

func (*nullDriver) Connect(ctx context.Context, m *gsm.Modem, s *gsm.Socket) error {
	return errNotSupported
}

func (*nullDriver) SendPacket(ctx context.Context, m *gsm.Modem, s *gsm.Socket) error {
	return errNotSupported
}

func (*nullDriver) ReceivePacket(ctx context.Context, m *gsm.Modem, s *gsm.Socket) error {
	return errNotSupported
}

func (*nullDriver) CheckIncoming(ctx context.Context, m *gsm.Modem, s *gsm.Socket) error {
	return errNotSupported
}

func (*nullDriver) Close(ctx context.Context, m *gsm.Modem, s *gsm.Socket) error {
	return errNotSupported
}

func TestNew(t *testing.T) {
	t.Run("ErrNoDialer when no dialer provided", func(t *testing.T) {
		_, err := gsm.New(context.Background(), gsm.Config{Driver: &nullDriver{}})

		if err != gsm.ErrNoDialer {
			t.Errorf("expected ErrNoDialer, got: %v", err)
		}
	})

	t.Run("ErrNoDriver when no driver provided", func(t *testing.T) {
		_, err := gsm.New(context.Background(), gsm.Config{Dialer: gsm.NewTestTransport()})

		if err != gsm.ErrNoDriver {
			t.Errorf("expected ErrNoDriver, got: %v", err)
		}
	})

	t.Run("dial error propagates", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		dialErr := errors.New("dial failed")
		dialer := gsm.NewMockDialer(ctrl)
		dialer.EXPECT().Dial(gomock.Any()).Return(nil, dialErr)

		_, err := gsm.New(context.Background(), gsm.Config{
			Dialer: dialer,
			Driver: &nullDriver{},
		})
		if err != dialErr {
			t.Errorf("expected dial error, got: %v", err)
		}
	})

	t.Run("dials the transport once", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		transport := gsm.NewMockTransport(ctrl)
		transport.EXPECT().Close().Return(nil)
		dialer := gsm.NewMockDialer(ctrl)
		dialer.EXPECT().Dial(gomock.Any()).Return(transport, nil)

		m, err := gsm.New(context.Background(), gsm.Config{
			Dialer: dialer,
			Driver: &nullDriver{},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := m.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})
}

func TestClose(t *testing.T) {
	newModem := func(t *testing.T) *gsm.Modem {
		t.Helper()
		m, err := gsm.New(context.Background(), gsm.Config{
			Dialer: gsm.NewTestTransport(),
			Driver: &nullDriver{},
		})
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		return m
	}

	t.Run("second close reports ErrAlreadyClosed", func(t *testing.T) {
		m := newModem(t)
		if err := m.Close(); err != nil {
			t.Fatalf("first close: %v", err)
		}
		if err := m.Close(); err != gsm.ErrAlreadyClosed {
			t.Errorf("expected ErrAlreadyClosed, got: %v", err)
		}
	})

	t.Run("CreateSocket after close fails", func(t *testing.T) {
		m := newModem(t)
		m.Close()
		if _, err := m.CreateSocket("example.com", 443, true); err != gsm.ErrAlreadyClosed {
			t.Errorf("expected ErrAlreadyClosed, got: %v", err)
		}
	})

	t.Run("Start after close fails", func(t *testing.T) {
		m := newModem(t)
		m.Close()
		if err := m.Start(); err != gsm.ErrAlreadyClosed {
			t.Errorf("expected ErrAlreadyClosed, got: %v", err)
		}
	})
}

func TestWaitForIdle(t *testing.T) {
	m, err := gsm.New(context.Background(), gsm.Config{
		Dialer: gsm.NewTestTransport(),
		Driver: &nullDriver{},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer m.Close()

	t.Run("idle modem returns immediately", func(t *testing.T) {
		start := time.Now()
		if !m.WaitForIdle(10 * time.Second) {
			t.Error("expected idle")
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("WaitForIdle blocked for %v on an idle modem", elapsed)
		}
	})

	t.Run("negative timeout panics", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic for negative timeout")
			}
		}()
		m.WaitForIdle(-time.Second)
	})
}
