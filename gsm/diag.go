package gsm

// DiagnosticKind categorizes wire-level trace messages.
type DiagnosticKind uint8

const (
	// DiagnosticCommandSend traces a command written to the modem.
	DiagnosticCommandSend DiagnosticKind = iota
	// DiagnosticCommandReceive traces a response line read from the modem.
	DiagnosticCommandReceive
	// DiagnosticPowerSend traces a power-control action.
	DiagnosticPowerSend
	// DiagnosticPowerReceive traces a power-state report from the device.
	DiagnosticPowerReceive
)

func (k DiagnosticKind) String() string {
	switch k {
	case DiagnosticCommandSend:
		return "command-send"
	case DiagnosticCommandReceive:
		return "command-receive"
	case DiagnosticPowerSend:
		return "power-send"
	case DiagnosticPowerReceive:
		return "power-receive"
	}
	return "unknown"
}

// DiagnosticFunc receives categorized wire traces, one call per command,
// response line or power action. It is called from the receive and driver
// task goroutines and must not block.
type DiagnosticFunc func(kind DiagnosticKind, message string)

// Diagnostic forwards a trace message to the configured sink, if any.
// Drivers use it to surface vendor-specific traffic in the same stream as
// the core's traces.
func (m *Modem) Diagnostic(kind DiagnosticKind, message string) {
	if m.diag != nil {
		m.diag(kind, message)
	}
}
