package gsm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marosstudenic/lib-gsm/at"
)

// ATResult is the outcome of one AT command exchange.
type ATResult uint8

const (
	// ATOK: the modem confirmed the command.
	ATOK ATResult = iota
	// ATError: the modem rejected it (ERROR, +CME ERROR, +CMS ERROR).
	ATError
	// ATTimeout: no terminal response arrived inside the window.
	ATTimeout
	// ATFailure: the exchange never completed on the wire, or a matcher
	// resolved it as failed.
	ATFailure
)

func (r ATResult) String() string {
	switch r {
	case ATOK:
		return "ok"
	case ATError:
		return "error"
	case ATTimeout:
		return "timeout"
	case ATFailure:
		return "failure"
	}
	return fmt.Sprintf("ATResult(%d)", uint8(r))
}

// ResponseFunc examines one inbound line while its exchange is outstanding.
// It runs on the receive goroutine, before terminal-token handling and event
// dispatch. Returning true claims the line; resolution then happens through
// ATComplete, ATCompleteWaitOK or ATFail.
type ResponseFunc func(tag at.Tag, fields *at.Fields) bool

// atEngine serializes command exchanges onto the link. One command may be
// outstanding at a time; the lock additionally lets a caller stage per-
// exchange state (timeout, matcher, payload) before issuing it.
type atEngine struct {
	mu     sync.Mutex
	locked bool

	// staged between ATLock and AT
	nextTimeout time.Duration
	nextWaitOK  bool
	matcher     ResponseFunc
	txSock      *Socket
	txLen       int

	// current exchange
	outstanding bool
	waitOK      bool
	okSeen      bool
	matched     bool
	result      chan ATResult
}

// ATLock claims exclusive use of the command channel, so a multi-command
// sequence is not interleaved with another caller's. It reports false when
// the lock is already held; there is no blocking acquire at this layer.
func (m *Modem) ATLock() bool {
	e := &m.eng
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locked {
		return false
	}
	e.locked = true
	return true
}

// ATUnlock releases the lock without issuing a command, for abandoning an
// exchange between ATLock and AT. Staged state is discarded. Releasing an
// unheld lock panics.
func (m *Modem) ATUnlock() {
	e := &m.eng
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.locked {
		panic("gsm: releasing unheld AT lock")
	}
	if e.outstanding {
		panic("gsm: releasing AT lock with a command outstanding")
	}
	e.locked = false
	e.clearStagedLocked()
}

// NextATTimeout overrides the default timeout for the next exchange only.
// Pass Infinite to wait indefinitely. Requires the AT lock.
func (m *Modem) NextATTimeout(d time.Duration) {
	assertRelative(d)
	e := &m.eng
	e.mu.Lock()
	defer e.mu.Unlock()
	e.assertStagingLocked("NextATTimeout")
	e.nextTimeout = d
}

// NextATResponse installs a matcher consulted for every line that arrives
// while the next exchange is outstanding. Requires the AT lock.
func (m *Modem) NextATResponse(fn ResponseFunc) {
	e := &m.eng
	e.mu.Lock()
	defer e.mu.Unlock()
	e.assertStagingLocked("NextATResponse")
	e.matcher = fn
}

// NextATTransmit stages n bytes of the socket's buffered output to be
// pumped onto the link when the modem raises its payload prompt during the
// next exchange. Requires the AT lock.
func (m *Modem) NextATTransmit(s *Socket, n int) {
	e := &m.eng
	e.mu.Lock()
	defer e.mu.Unlock()
	e.assertStagingLocked("NextATTransmit")
	e.txSock, e.txLen = s, n
}

// ATCompleteWaitOK declares and resolves a two-part exchange. Called between
// ATLock and AT it marks the next exchange as needing a secondary response
// in addition to OK, so an early OK is withheld rather than resolving the
// command. Called from the matcher it records that the secondary response
// arrived. The exchange resolves to ATOK once both have been seen, in either
// order.
func (m *Modem) ATCompleteWaitOK() {
	e := &m.eng
	e.mu.Lock()
	switch {
	case e.outstanding:
		e.matched = true
		if e.okSeen {
			e.resolveLocked(ATOK)
		}
		e.mu.Unlock()
	case e.locked:
		e.nextWaitOK = true
		e.mu.Unlock()
	default:
		e.mu.Unlock()
		m.log.Debug("stale AT completion ignored")
	}
}

// ATComplete resolves the outstanding exchange as successful, for commands
// whose success is signaled by something other than OK. Completions that
// race the exchange's timeout are ignored.
func (m *Modem) ATComplete() {
	e := &m.eng
	e.mu.Lock()
	if e.outstanding {
		e.resolveLocked(ATOK)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	m.log.Debug("stale AT completion ignored")
}

// ATFail resolves the outstanding exchange as failed, for responses that
// announce an unrecoverable condition before any terminal token.
func (m *Modem) ATFail() {
	e := &m.eng
	e.mu.Lock()
	if e.outstanding {
		e.resolveLocked(ATFailure)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	m.log.Debug("stale AT completion ignored")
}

// AT issues one command and waits for its resolution. The "AT" prefix and
// the carriage return are added here, so AT(ctx, "+CPIN?") puts
// "AT+CPIN?\r" on the wire. The lock is acquired if the caller does not
// hold it, and is always released by the time AT returns; issuing a command
// while another is outstanding panics. An exchange that times out, or that
// never reaches the wire, latches LinkCommandError.
func (m *Modem) AT(ctx context.Context, cmd string) ATResult {
	deflt := m.ATTimeout()
	t := m.transportRef()

	e := &m.eng
	e.mu.Lock()
	if e.outstanding {
		e.mu.Unlock()
		panic("gsm: AT command already outstanding")
	}
	e.locked = true
	e.outstanding = true
	e.waitOK = e.nextWaitOK
	e.okSeen = false
	e.matched = false
	e.result = make(chan ATResult, 1)
	timeout := e.nextTimeout
	if timeout == 0 {
		timeout = deflt
	}
	e.nextTimeout = 0
	e.nextWaitOK = false
	resCh := e.result
	e.mu.Unlock()

	m.Diagnostic(DiagnosticCommandSend, "AT"+cmd)
	m.log.Debug("at send", "cmd", cmd)

	res := ATFailure
	sent := false
	if t == nil {
		m.log.Warn("at send without transport", "cmd", cmd)
	} else if _, err := t.Write(atWire(cmd)); err != nil {
		m.log.Warn("at write failed", "cmd", cmd, "error", err)
	} else {
		sent = true
		res = m.awaitResult(ctx, resCh, timeout)
	}

	e.mu.Lock()
	e.finishLocked()
	e.mu.Unlock()

	if res == ATTimeout {
		m.log.Warn("at timeout", "cmd", cmd)
	}
	if !sent || res == ATTimeout {
		m.SetLinkStatus(LinkCommandError)
	}
	return res
}

// ATf formats and issues one command.
func (m *Modem) ATf(ctx context.Context, format string, args ...any) ATResult {
	return m.AT(ctx, fmt.Sprintf(format, args...))
}

func atWire(cmd string) []byte {
	b := make([]byte, 0, len(cmd)+3)
	b = append(b, "AT"...)
	b = append(b, cmd...)
	return append(b, '\r')
}

func (m *Modem) awaitResult(ctx context.Context, resCh <-chan ATResult, timeout time.Duration) ATResult {
	var expired <-chan time.Time
	if timeout != Infinite {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case res := <-resCh:
		return res
	case <-expired:
		return m.eng.abort(ATTimeout)
	case <-ctx.Done():
		return m.eng.abort(ATFailure)
	}
}

// abort ends the exchange from the waiting side. A resolution that already
// won the race is preferred over the abort result.
func (e *atEngine) abort(r ATResult) ATResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.outstanding {
		e.outstanding = false
		return r
	}
	return <-e.result
}

// feedLine offers one inbound line to the engine: first to the matcher,
// then as a possible terminal token. It reports whether the line was
// consumed.
func (m *Modem) feedLine(tag at.Tag, fields *at.Fields) bool {
	e := &m.eng
	e.mu.Lock()
	if e.outstanding && e.matcher != nil {
		fn := e.matcher
		e.mu.Unlock()
		if fn(tag, fields) {
			return true
		}
		e.mu.Lock()
	}
	defer e.mu.Unlock()
	if !e.outstanding {
		return false
	}
	switch tag {
	case at.TagOK:
		if e.waitOK && !e.matched {
			// two-part exchange, secondary not seen yet: hold the OK
			e.okSeen = true
		} else {
			e.resolveLocked(ATOK)
		}
		return true
	case at.TagError, at.TagCmeError, at.TagCmsError:
		e.resolveLocked(ATError)
		return true
	}
	return false
}

// takeTransmit claims the staged payload source when the transmit prompt
// arrives.
func (m *Modem) takeTransmit() (*Socket, int) {
	e := &m.eng
	e.mu.Lock()
	defer e.mu.Unlock()
	s, n := e.txSock, e.txLen
	e.txSock, e.txLen = nil, 0
	return s, n
}

func (e *atEngine) resolveLocked(r ATResult) {
	if !e.outstanding {
		return
	}
	e.outstanding = false
	e.result <- r
}

func (e *atEngine) finishLocked() {
	e.outstanding = false
	e.locked = false
	e.waitOK = false
	e.okSeen = false
	e.matched = false
	e.clearStagedLocked()
}

func (e *atEngine) clearStagedLocked() {
	e.nextTimeout = 0
	e.nextWaitOK = false
	e.matcher = nil
	e.txSock = nil
	e.txLen = 0
}

func (e *atEngine) assertStagingLocked(op string) {
	if !e.locked {
		panic("gsm: " + op + " requires the AT lock")
	}
	if e.outstanding {
		panic("gsm: " + op + " with a command outstanding")
	}
}
