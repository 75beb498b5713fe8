package gsm

import "fmt"

// LinkStatus classifies the health of the command channel itself.
type LinkStatus uint8

const (
	LinkOK LinkStatus = iota
	// LinkPowerOnFailure means the device did not come up when powered.
	LinkPowerOnFailure
	// LinkAutoBaudFailure means the device powered up but never synchronized
	// on the command channel.
	LinkAutoBaudFailure
	// LinkCommandError means a command exchange timed out or failed after
	// the link had been established.
	LinkCommandError
)

func (s LinkStatus) String() string {
	switch s {
	case LinkOK:
		return "ok"
	case LinkPowerOnFailure:
		return "power-on failure"
	case LinkAutoBaudFailure:
		return "auto-baud failure"
	case LinkCommandError:
		return "command error"
	}
	return fmt.Sprintf("LinkStatus(%d)", uint8(s))
}

// GsmStatus describes cellular registration.
type GsmStatus uint8

const (
	GsmOK GsmStatus = iota
	GsmNoNetwork
	GsmRoaming
	GsmSearching
)

func (s GsmStatus) String() string {
	switch s {
	case GsmOK:
		return "registered"
	case GsmNoNetwork:
		return "no network"
	case GsmRoaming:
		return "roaming"
	case GsmSearching:
		return "searching"
	}
	return fmt.Sprintf("GsmStatus(%d)", uint8(s))
}

// SimStatus describes the SIM card.
type SimStatus uint8

const (
	SimOK SimStatus = iota
	SimNotInserted
	SimLocked
	SimBadPIN
)

func (s SimStatus) String() string {
	switch s {
	case SimOK:
		return "ok"
	case SimNotInserted:
		return "not inserted"
	case SimLocked:
		return "locked"
	case SimBadPIN:
		return "bad pin"
	}
	return fmt.Sprintf("SimStatus(%d)", uint8(s))
}

// TCPStatus describes the packet-data subsystem.
type TCPStatus uint8

const (
	TCPOK TCPStatus = iota
	TCPGPRSError
	TCPTLSError
	TCPConnectionError
)

func (s TCPStatus) String() string {
	switch s {
	case TCPOK:
		return "ok"
	case TCPGPRSError:
		return "gprs error"
	case TCPTLSError:
		return "tls error"
	case TCPConnectionError:
		return "connection error"
	}
	return fmt.Sprintf("TCPStatus(%d)", uint8(s))
}

// Phase is the lifecycle state of the driver task.
type Phase uint8

const (
	PoweredOff Phase = iota
	PoweringOn
	Starting
	SimUnlock
	NetworkAttach
	Active
	NetworkDetach
	Stopping
	PoweringOff
)

func (p Phase) String() string {
	switch p {
	case PoweredOff:
		return "powered off"
	case PoweringOn:
		return "powering on"
	case Starting:
		return "starting"
	case SimUnlock:
		return "sim unlock"
	case NetworkAttach:
		return "network attach"
	case Active:
		return "active"
	case NetworkDetach:
		return "network detach"
	case Stopping:
		return "stopping"
	case PoweringOff:
		return "powering off"
	}
	return fmt.Sprintf("Phase(%d)", uint8(p))
}

// NetworkInfo identifies the serving network by mobile country code, mobile
// network code, and the digit count of the network code. The digit count is
// significant: a two digit MNC 01 and a three digit MNC 001 name different
// operators. The triple packs into a single word, so two values describe the
// same network exactly when they compare equal.
type NetworkInfo uint32

// NewNetworkInfo packs the operator triple. mncDigits is 2 or 3; values are
// masked to their field widths.
func NewNetworkInfo(mcc, mnc, mncDigits int) NetworkInfo {
	return NetworkInfo(uint32(mcc&0x3ff)<<14 | uint32(mnc&0x3ff)<<4 | uint32(mncDigits&0xf))
}

func (n NetworkInfo) MCC() int { return int(n >> 14 & 0x3ff) }

func (n NetworkInfo) MNC() int { return int(n >> 4 & 0x3ff) }

// MNCDigits is the number of digits the operator uses for its network code.
func (n NetworkInfo) MNCDigits() int { return int(n & 0xf) }

// IsValid reports whether the value names a network. The zero value means
// unknown.
func (n NetworkInfo) IsValid() bool { return n != 0 }

func (n NetworkInfo) String() string {
	if !n.IsValid() {
		return "unknown"
	}
	return fmt.Sprintf("%03d-%0*d", n.MCC(), n.MNCDigits(), n.MNC())
}
