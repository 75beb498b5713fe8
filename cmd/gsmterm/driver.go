package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marosstudenic/lib-gsm/at"
	"github.com/marosstudenic/lib-gsm/gsm"
)

const (
	autoBaudAttempts = 10
	autoBaudProbe    = 100 * time.Millisecond
	registrationPoll = 2 * time.Second
)

// initSequence is the chipset-neutral base configuration: echo off, verbose
// errors, and extended registration notifications for both domains.
var initSequence = []string{"E0", "+CMEE=2", "+CREG=2", "+CGREG=2"}

var errNoData = errors.New("data sockets not supported")

// 3GPP registration states reported by +CREG/+CGREG.
const (
	regHome    = 1
	regRoaming = 5
)

type regState struct {
	status int
	active bool
}

// consoleDriver is a chipset-neutral driver for the diagnostic console. It
// brings the command channel up, unlocks the SIM and tracks network
// registration, but opens no data connections; traffic beyond that flows
// through the console's AT passthrough.
type consoleDriver struct {
	gsm.BaseDriver

	mu   sync.Mutex
	net  regState // circuit-switched registration (+CREG)
	gprs regState // packet-switched registration (+CGREG)
}

// lockAT claims the command channel, yielding while a console request
// briefly holds it.
func lockAT(ctx context.Context, m *gsm.Modem) error {
	for !m.ATLock() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	return nil
}

func (d *consoleDriver) Start(ctx context.Context, m *gsm.Modem) error {
	d.mu.Lock()
	d.net, d.gprs = regState{}, regState{}
	d.mu.Unlock()

	synced := false
	for i := 0; i < autoBaudAttempts && !synced; i++ {
		if err := lockAT(ctx, m); err != nil {
			return err
		}
		m.NextATTimeout(autoBaudProbe)
		synced = m.AT(ctx, "") == gsm.ATOK
	}
	if !synced {
		return errors.New("no response to auto-baud probes")
	}

	for _, cmd := range initSequence {
		if err := lockAT(ctx, m); err != nil {
			return err
		}
		if res := m.AT(ctx, cmd); res != gsm.ATOK {
			return fmt.Errorf("AT%s: %s", cmd, res)
		}
	}
	return nil
}

type pinState uint8

const (
	pinUnknown pinState = iota
	pinReady
	pinWanted
	pinBlocked
)

func (d *consoleDriver) UnlockSim(ctx context.Context, m *gsm.Modem) error {
	state, err := d.queryPIN(ctx, m)
	if err != nil {
		m.SetSimStatus(gsm.SimNotInserted)
		return err
	}

	switch state {
	case pinReady:
		return nil

	case pinWanted:
		pin := m.Options().PIN()
		if pin == "" {
			m.SetSimStatus(gsm.SimLocked)
			return errors.New("sim wants a pin and none is configured")
		}
		if err := lockAT(ctx, m); err != nil {
			return err
		}
		if m.ATf(ctx, `+CPIN="%s"`, pin) != gsm.ATOK {
			// forget the rejected PIN so retries cannot lock the card
			m.Options().RemovePIN()
			m.SetSimStatus(gsm.SimBadPIN)
			return errors.New("sim rejected the configured pin")
		}
		m.Options().PINUsed()
		return nil

	default:
		m.SetSimStatus(gsm.SimLocked)
		return errors.New("sim is not usable (PUK required?)")
	}
}

// queryPIN issues +CPIN? and captures the state line that precedes its OK.
func (d *consoleDriver) queryPIN(ctx context.Context, m *gsm.Modem) (pinState, error) {
	if err := lockAT(ctx, m); err != nil {
		return pinUnknown, err
	}

	state := pinUnknown
	m.NextATResponse(func(tag at.Tag, fields *at.Fields) bool {
		if tag != at.Hash("+CPIN") {
			return false
		}
		if t, ok := fields.Tag(); ok {
			switch t {
			case at.Hash("READY"):
				state = pinReady
			case at.Hash("SIM PIN"):
				state = pinWanted
			default:
				state = pinBlocked
			}
		}
		return true
	})
	if res := m.AT(ctx, "+CPIN?"); res != gsm.ATOK {
		return pinUnknown, fmt.Errorf("AT+CPIN?: %s", res)
	}
	return state, nil
}

func (d *consoleDriver) ConnectNetwork(ctx context.Context, m *gsm.Modem) error {
	for _, cmd := range []string{"+CREG?", "+CGREG?", "+COPS?", "+CSQ"} {
		if err := lockAT(ctx, m); err != nil {
			return err
		}
		if res := m.AT(ctx, cmd); res != gsm.ATOK {
			return fmt.Errorf("AT%s: %s", cmd, res)
		}
	}

	// registration reports arrive unsolicited; re-poll for firmwares that
	// drop them while searching
	for {
		if d.registered() {
			return nil
		}
		select {
		case <-ctx.Done():
			m.SetGsmStatus(gsm.GsmNoNetwork)
			return errors.New("network registration timed out")
		case <-time.After(registrationPoll):
		}
		if err := lockAT(ctx, m); err != nil {
			return err
		}
		m.AT(ctx, "+CREG?")
	}
}

func (d *consoleDriver) registered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.active
}

func (d *consoleDriver) OnEvent(m *gsm.Modem, tag at.Tag, fields *at.Fields) bool {
	switch tag {
	case at.Hash("+CSQ"):
		rssi, ok := fields.Int()
		ber, _ := fields.Int()
		if ok {
			m.SetRSSI(decodeRSSI(rssi))
			m.Logger().Debug("signal", "rssi", rssi, "ber", ber)
		}
		return true

	case at.Hash("+CREG"), at.Hash("+CGREG"):
		d.handleRegistration(m, tag == at.Hash("+CGREG"), fields)
		return true

	case at.Hash("+CPIN"):
		if t, ok := fields.Tag(); ok && t == at.Hash("READY") {
			m.SetSimStatus(gsm.SimOK)
		}
		return true

	case at.Hash("+CPSI"):
		d.handleNetworkInfo(m, fields)
		return true

	case at.Hash("+COPS"), at.Hash("+CTZV"):
		// queried or pushed for their trace line only
		return true
	}
	return false
}

// handleRegistration digests a +CREG/+CGREG report. The solicited form
// carries the report mode as an extra leading field; the field count tells
// the two forms apart.
func (d *consoleDriver) handleRegistration(m *gsm.Modem, packet bool, fields *at.Fields) {
	if n := fields.Count(); n == 2 || n == 4 {
		fields.Int()
	}
	stat, ok := fields.Int()
	if !ok {
		return
	}

	d.mu.Lock()
	r := &d.net
	if packet {
		r = &d.gprs
	}
	r.status = stat
	r.active = stat == regHome || stat == regRoaming
	d.mu.Unlock()

	switch stat {
	case regHome:
		m.SetGsmStatus(gsm.GsmOK)
	case regRoaming:
		m.SetGsmStatus(gsm.GsmRoaming)
	default:
		m.SetGsmStatus(gsm.GsmSearching)
	}
}

// handleNetworkInfo extracts the "MCC-MNC" operator pair from a +CPSI system
// report. A report without a parsable pair resets the identity to unknown,
// which is what a "NO SERVICE" report amounts to.
func (d *consoleDriver) handleNetworkInfo(m *gsm.Modem, fields *at.Fields) {
	fields.Tag() // system mode
	fields.Tag() // operation mode
	text, _ := fields.Text()

	var mcc, mnc, mccDigits, mncDigits int
	cur, digits := &mcc, &mccDigits
scan:
	for i := 0; i < len(text); i++ {
		switch c := text[i]; {
		case c >= '0' && c <= '9':
			*cur = *cur*10 + int(c-'0')
			*digits++
		case c == '-' && cur == &mcc:
			cur, digits = &mnc, &mncDigits
		default:
			break scan
		}
	}
	if mccDigits == 0 || (mncDigits != 2 && mncDigits != 3) {
		mcc, mnc, mncDigits = 0, 0, 0
	}
	m.SetNetworkInfo(gsm.NewNetworkInfo(mcc, mnc, mncDigits))
}

// decodeRSSI converts a +CSQ report to dBm. 0..31 is the TS 27.007 scale;
// 100..191 is the extended scale some chipsets report. Anything else means
// unknown.
func decodeRSSI(raw int) int {
	switch {
	case raw >= 0 && raw <= 31:
		return -113 + raw*2
	case raw >= 100 && raw <= 191:
		return -116 + raw
	default:
		return 0
	}
}

func (d *consoleDriver) TryAllocate(m *gsm.Modem, s *gsm.Socket) bool { return false }

func (d *consoleDriver) Connect(ctx context.Context, m *gsm.Modem, s *gsm.Socket) error {
	return errNoData
}

func (d *consoleDriver) SendPacket(ctx context.Context, m *gsm.Modem, s *gsm.Socket) error {
	return errNoData
}

func (d *consoleDriver) ReceivePacket(ctx context.Context, m *gsm.Modem, s *gsm.Socket) error {
	return errNoData
}

func (d *consoleDriver) CheckIncoming(ctx context.Context, m *gsm.Modem, s *gsm.Socket) error {
	return errNoData
}

func (d *consoleDriver) Close(ctx context.Context, m *gsm.Modem, s *gsm.Socket) error {
	return errNoData
}
