package gsm

import (
	"context"

	"github.com/marosstudenic/lib-gsm/at"
)

// Driver is the vendor hook set: the chipset-specific implementation of the
// socket and lifecycle primitives that the driver task and the receive loop
// invoke. The core sequences the hooks; the driver translates them into the
// chipset's AT dialect.
//
// The socket hooks are mandatory. Lifecycle hooks, OnEvent and OnTaskStopped
// have no-op defaults; embed BaseDriver and override the ones with real
// device behavior.
//
// Every hook except OnEvent and OnTaskStopped runs on the driver task
// goroutine and may freely use the AT engine within the bounds of its
// context. OnEvent runs on the receive goroutine while a line is being
// dispatched: it must not issue AT commands, but it may mark sockets, update
// statuses, resolve exchanges via ATComplete or ATCompleteWaitOK, and arm
// payload redirection with ReceiveForSocket.
type Driver interface {
	// TryAllocate picks a free modem channel for the socket and records it
	// with Socket.Allocate. Returning false leaves the socket unallocated;
	// allocation is retried on the next processing pass.
	TryAllocate(m *Modem, s *Socket) bool

	// Connect establishes the protocol-level connection for an allocated
	// socket. Confirmation is reported through Socket.Connected or
	// Socket.Disconnected, possibly from OnEvent after Connect has returned.
	// Returning an error marks the socket closed and releases its slot.
	Connect(ctx context.Context, m *Modem, s *Socket) error

	// SendPacket transmits a chunk of the socket's buffered output,
	// typically by staging NextATTransmit against the modem's payload
	// prompt. It is called only while the socket has data to send and no
	// send is in flight.
	SendPacket(ctx context.Context, m *Modem, s *Socket) error

	// ReceivePacket asks the modem to emit buffered inbound data for the
	// socket, routing the raw payload through ReceiveForSocket.
	ReceivePacket(ctx context.Context, m *Modem, s *Socket) error

	// CheckIncoming queries whether the modem holds buffered data for the
	// socket, after an incoming-data hint arrived without a byte count.
	CheckIncoming(ctx context.Context, m *Modem, s *Socket) error

	// Close performs the protocol-level close for the socket. The slot is
	// reclaimed only once Socket.Disconnected confirms it.
	Close(ctx context.Context, m *Modem, s *Socket) error

	// PowerOn brings the device out of reset, pulsing power keys or control
	// lines as the hardware requires. The receive loop is not running yet,
	// so PowerOn must not issue AT commands.
	PowerOn(ctx context.Context, m *Modem) error

	// Start synchronizes the command channel after power-on, typically by
	// auto-bauding with repeated AT pings, and applies base configuration.
	Start(ctx context.Context, m *Modem) error

	// UnlockSim supplies the PIN from Options when the SIM demands one.
	UnlockSim(ctx context.Context, m *Modem) error

	// ConnectNetwork attaches to the cellular network and brings up
	// packet data.
	ConnectNetwork(ctx context.Context, m *Modem) error

	// DisconnectNetwork detaches from the network before shutdown.
	DisconnectNetwork(ctx context.Context, m *Modem) error

	// Stop quiesces the device before power removal.
	Stop(ctx context.Context, m *Modem) error

	// PowerOff removes power. The transport is already closed when it runs,
	// so like PowerOn it operates on control lines, not AT commands.
	PowerOff(ctx context.Context, m *Modem) error

	// OnEvent dispatches one unsolicited line by its leading-token tag. It
	// reports whether the event was recognized; unrecognized lines are
	// logged at debug level.
	OnEvent(m *Modem, tag at.Tag, fields *at.Fields) bool

	// OnTaskStopped is notified after the driver task has fully quiesced,
	// with the receive loop terminated and the transport closed.
	OnTaskStopped(m *Modem)
}

// BaseDriver supplies the optional hooks' defaults: lifecycle phases succeed
// without device interaction, events go unrecognized, shutdown is silent.
// Vendor drivers embed it and implement the socket hooks plus whatever
// lifecycle phases their hardware needs.
type BaseDriver struct{}

func (BaseDriver) PowerOn(ctx context.Context, m *Modem) error           { return nil }
func (BaseDriver) Start(ctx context.Context, m *Modem) error             { return nil }
func (BaseDriver) UnlockSim(ctx context.Context, m *Modem) error         { return nil }
func (BaseDriver) ConnectNetwork(ctx context.Context, m *Modem) error    { return nil }
func (BaseDriver) DisconnectNetwork(ctx context.Context, m *Modem) error { return nil }
func (BaseDriver) Stop(ctx context.Context, m *Modem) error              { return nil }
func (BaseDriver) PowerOff(ctx context.Context, m *Modem) error          { return nil }

func (BaseDriver) OnEvent(m *Modem, tag at.Tag, fields *at.Fields) bool { return false }

func (BaseDriver) OnTaskStopped(m *Modem) {}
