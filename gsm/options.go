package gsm

// Options supplies operator and SIM parameters to vendor drivers. The core
// never consults it; it exists so chipset drivers share one configuration
// surface instead of each inventing its own.
type Options interface {
	// APN returns the packet-data access point name.
	APN() string
	// APNUser returns the APN username, or "" when the APN is open.
	APNUser() string
	// APNPassword returns the APN password.
	APNPassword() string
	// PIN returns the stored SIM PIN, or "" when none is available.
	PIN() string
	// PINUsed is called after the modem accepted the stored PIN.
	PINUsed()
	// RemovePIN is called after the modem rejected the stored PIN, so the
	// bad value is not retried into a SIM lock.
	RemovePIN()
	// UseFlowControl reports whether the driver should enable hardware flow
	// control on the link.
	UseFlowControl() bool
}

// StaticOptions is a fixed-value Options implementation, suitable when the
// operator parameters are known at configuration time.
type StaticOptions struct {
	AccessPointName string
	User            string
	Password        string
	SimPIN          string
	FlowControl     bool
}

func (o *StaticOptions) APN() string         { return o.AccessPointName }
func (o *StaticOptions) APNUser() string     { return o.User }
func (o *StaticOptions) APNPassword() string { return o.Password }
func (o *StaticOptions) PIN() string         { return o.SimPIN }
func (o *StaticOptions) PINUsed()            {}

// RemovePIN clears the stored PIN after a rejection.
func (o *StaticOptions) RemovePIN() { o.SimPIN = "" }

func (o *StaticOptions) UseFlowControl() bool { return o.FlowControl }
