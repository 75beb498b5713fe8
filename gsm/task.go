package gsm

import (
	"context"
	"time"
)

// task is the driver goroutine: it powers the device, brings the link up,
// attaches to the network, services sockets until the modem has been idle
// for the power-off window, and tears everything down again. It exits after
// power-off and is restarted on demand.
func (m *Modem) task() {
	defer m.taskStopped()

	m.log.Debug("driver task starting")

	// a previous power-off closed the transport; dial a fresh one
	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()
	if t == nil {
		nt, err := m.dialer.Dial(m.ctx)
		if err != nil {
			m.log.Warn("transport dial failed", "error", err)
			m.SetLinkStatus(LinkPowerOnFailure)
			return
		}
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			nt.Close()
			return
		}
		m.transport = nt
		m.mu.Unlock()
	}

	m.Diagnostic(DiagnosticPowerSend, "on")
	if !m.runPhase(PoweringOn, m.driver.PowerOn, m.ConnectTimeout(), LinkPowerOnFailure) {
		m.Diagnostic(DiagnosticPowerReceive, "err")
		return
	}
	m.Diagnostic(DiagnosticPowerReceive, "on")

	// the receive loop owns transport reads from here until power-off
	tr := m.transportRef()
	if tr == nil {
		return
	}
	done := make(chan struct{})
	m.mu.Lock()
	m.rxActive = true
	m.mu.Unlock()
	go m.rxLoop(tr, done)

	// each successful phase latches its subsystem status; failures latched
	// by the hook or by runPhase survive until the next attempt gets this far
	started := m.runPhase(Starting, m.driver.Start, m.ConnectTimeout(), LinkAutoBaudFailure)
	up := started
	if up {
		m.SetLinkStatus(LinkOK)
		up = m.runPhase(SimUnlock, m.driver.UnlockSim, m.ConnectTimeout(), LinkCommandError)
	}
	if up {
		m.SetSimStatus(SimOK)
		up = m.runPhase(NetworkAttach, m.driver.ConnectNetwork, m.ConnectTimeout(), LinkCommandError)
	}

	if up {
		m.SetGsmStatus(GsmOK)
		m.setNetworkActive(true)
		m.setPhase(Active)
		m.log.Info("modem online", "network", m.NetworkInfo().String())
		m.serveActive()
		m.setNetworkActive(false)
		m.runPhase(NetworkDetach, m.driver.DisconnectNetwork, m.DisconnectTimeout(), LinkOK)
	}
	if started {
		m.runPhase(Stopping, m.driver.Stop, m.DisconnectTimeout(), LinkOK)
	}

	m.closeTransport()
	m.Diagnostic(DiagnosticPowerSend, "off")
	m.runPhase(PoweringOff, m.driver.PowerOff, m.PowerOffTimeout(), LinkOK)
	m.Diagnostic(DiagnosticPowerReceive, "off")
	<-done
	m.sweepSockets()
}

func (m *Modem) taskStopped() {
	m.mu.Lock()
	m.taskActive = false
	m.phase = PoweredOff
	m.notifyLocked()
	m.mu.Unlock()
	m.log.Info("modem offline")
	m.driver.OnTaskStopped(m)

	// work that arrived during teardown restarts the task
	m.mu.Lock()
	restart := !m.closed && len(m.kick) > 0
	if restart {
		m.taskActive = true
	}
	m.mu.Unlock()
	if restart {
		m.log.Debug("driver task restarting")
		go m.task()
	}
}

// runPhase runs one lifecycle hook with its phase recorded and its runtime
// bounded. On failure the link status is classified, unless the hook
// already latched a status of its own or failure is LinkOK (teardown
// phases, which are best effort).
func (m *Modem) runPhase(phase Phase, hook func(context.Context, *Modem) error, timeout time.Duration, failure LinkStatus) bool {
	m.setPhase(phase)
	ctx := m.ctx
	if timeout != Infinite {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(m.ctx, timeout)
		defer cancel()
	}
	before := m.LinkStatus()
	if err := hook(ctx, m); err != nil {
		m.log.Warn("lifecycle phase failed", "phase", phase, "error", err)
		if failure != LinkOK && m.LinkStatus() == before {
			m.SetLinkStatus(failure)
		}
		return false
	}
	return true
}

// serveActive runs the socket scheduler until the modem has been idle for
// the power-off window or the modem is closed.
func (m *Modem) serveActive() {
	for {
		m.processSockets()

		var timer *time.Timer
		var expired <-chan time.Time
		if m.socketCount() == 0 {
			if d := m.PowerOffTimeout(); d != Infinite {
				timer = time.NewTimer(d)
				expired = timer.C
			}
		}

		select {
		case <-m.kick:
			if timer != nil {
				timer.Stop()
			}
		case <-expired:
			if m.socketCount() == 0 {
				m.log.Debug("idle window elapsed")
				return
			}
		case <-m.ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// processSockets makes one scheduling pass over the slot arena: close what
// the application released, reclaim confirmed slots, then allocate, connect
// and move data for the rest. Socket work pauses while the receive loop is
// draining a raw payload.
func (m *Modem) processSockets() {
	if m.rxBusy.Load() {
		// the drain kicks again when it finishes
		return
	}

	for _, s := range m.snapshotSockets() {
		m.mu.Lock()
		need := s.needsCloseLocked()
		if need {
			s.flags |= sockClosing
		}
		m.mu.Unlock()
		if need {
			m.runSocketHook("close", m.driver.Close, s, m.DisconnectTimeout())
		}
	}

	m.reclaimSockets()

	for _, s := range m.snapshotSockets() {
		if m.rxBusy.Load() {
			return
		}

		m.mu.Lock()
		alloc := s.wantsAllocationLocked()
		m.mu.Unlock()
		if alloc && !m.driver.TryAllocate(m, s) {
			// no channel free; retried on the next pass
			continue
		}

		m.mu.Lock()
		connect := s.needsConnectLocked()
		if connect {
			s.flags |= sockConnecting
		}
		m.mu.Unlock()
		if connect {
			if err := m.runSocketHook("connect", m.driver.Connect, s, m.ConnectTimeout()); err != nil {
				s.Disconnected()
				continue
			}
		}

		m.mu.Lock()
		send := s.dataToSendLocked()
		m.mu.Unlock()
		if send {
			m.runSocketHook("send", m.driver.SendPacket, s, m.ATTimeout())
		}

		m.mu.Lock()
		recv := s.dataToReceiveLocked()
		m.mu.Unlock()
		if recv {
			m.runSocketHook("receive", m.driver.ReceivePacket, s, m.ATTimeout())
		}

		m.mu.Lock()
		check := s.dataToCheckLocked()
		m.mu.Unlock()
		if check {
			m.runSocketHook("check incoming", m.driver.CheckIncoming, s, m.ATTimeout())
		}
	}
}

// reclaimSockets frees slots whose close the modem confirmed and whose
// application reference is gone.
func (m *Modem) reclaimSockets() {
	var freed []int
	m.mu.Lock()
	for i, s := range m.sockets {
		if s != nil && s.canDeleteLocked() {
			m.sockets[i] = nil
			freed = append(freed, i)
		}
	}
	if freed != nil {
		m.notifyLocked()
	}
	m.mu.Unlock()
	for _, slot := range freed {
		m.log.Debug("socket slot reclaimed", "slot", slot)
	}
}

func (m *Modem) runSocketHook(op string, hook func(context.Context, *Modem, *Socket) error, s *Socket, timeout time.Duration) error {
	ctx := m.ctx
	if timeout != Infinite {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(m.ctx, timeout)
		defer cancel()
	}
	err := hook(ctx, m, s)
	if err != nil {
		m.log.Warn("socket operation failed", "op", op, "slot", s.slot, "channel", s.Channel(), "error", err)
	}
	return err
}

// sweepSockets force-closes whatever survived teardown so blocked readers
// and connect waiters observe the shutdown, and reclaims slots that lost
// their application reference.
func (m *Modem) sweepSockets() {
	m.mu.Lock()
	for i, s := range m.sockets {
		if s == nil {
			continue
		}
		s.flags = s.flags&^(sockConnecting|sockConnected|sockSending|sockIncoming|sockCheckIncoming|sockClosing|sockTaskReference) | sockClosed
		if s.canDeleteLocked() {
			m.sockets[i] = nil
		}
	}
	m.notifyLocked()
	m.mu.Unlock()
}

func (m *Modem) closeTransport() {
	m.mu.Lock()
	t := m.transport
	m.transport = nil
	m.mu.Unlock()
	if t == nil {
		return
	}
	if err := t.Close(); err != nil {
		m.log.Debug("transport close", "error", err)
	}
}
