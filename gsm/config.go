package gsm

import (
	"log/slog"
	"time"
)

// Config carries everything a Modem needs. Dialer and Driver are required;
// the rest defaults through setDefaults.
type Config struct {
	// Dialer opens the transport to the modem.
	Dialer Dialer
	// Driver supplies the chipset-specific hook set.
	Driver Driver
	// Options supplies operator parameters to the driver hooks. Defaults to
	// an empty StaticOptions.
	Options Options
	// Logger receives debug and warning traces. Defaults to slog.Default().
	Logger *slog.Logger
	// Diagnostics, when set, receives categorized wire-level traces.
	Diagnostics DiagnosticFunc

	// MaxSockets bounds the socket slot arena. Defaults to 12.
	MaxSockets int

	// ATTimeout bounds a command exchange that carries no explicit
	// override. Defaults to 5s.
	ATTimeout time.Duration
	// ConnectTimeout bounds power-on, link bring-up, network attach and
	// socket connects. Defaults to 30s.
	ConnectTimeout time.Duration
	// DisconnectTimeout bounds network detach, device stop and socket
	// closes. Defaults to 10s.
	DisconnectTimeout time.Duration
	// PowerOffTimeout is both the idle window with no sockets before the
	// task powers the modem down and the bound on the PowerOff hook.
	// Defaults to Infinite, which keeps an idle modem powered.
	PowerOffTimeout time.Duration
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	if c.Driver == nil {
		return ErrNoDriver
	}
	if c.ATTimeout < 0 || c.ConnectTimeout < 0 || c.DisconnectTimeout < 0 || c.PowerOffTimeout < 0 {
		return ErrInvalidTimeout
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Options == nil {
		c.Options = &StaticOptions{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MaxSockets == 0 {
		c.MaxSockets = 12
	}
	if c.ATTimeout == 0 {
		c.ATTimeout = 5 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.DisconnectTimeout == 0 {
		c.DisconnectTimeout = 10 * time.Second
	}
	if c.PowerOffTimeout == 0 {
		c.PowerOffTimeout = Infinite
	}
}

// ConfigBuilder assembles a Config fluently. Fields left unset take the
// Config defaults.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithDriver(d Driver) *ConfigBuilder {
	b.config.Driver = d
	return b
}

func (b *ConfigBuilder) WithOptions(o Options) *ConfigBuilder {
	b.config.Options = o
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

func (b *ConfigBuilder) WithDiagnostics(fn DiagnosticFunc) *ConfigBuilder {
	b.config.Diagnostics = fn
	return b
}

func (b *ConfigBuilder) WithMaxSockets(n int) *ConfigBuilder {
	b.config.MaxSockets = n
	return b
}

func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.ATTimeout = d
	return b
}

func (b *ConfigBuilder) WithConnectTimeout(d time.Duration) *ConfigBuilder {
	b.config.ConnectTimeout = d
	return b
}

func (b *ConfigBuilder) WithDisconnectTimeout(d time.Duration) *ConfigBuilder {
	b.config.DisconnectTimeout = d
	return b
}

func (b *ConfigBuilder) WithPowerOffTimeout(d time.Duration) *ConfigBuilder {
	b.config.PowerOffTimeout = d
	return b
}

// Build finalizes the configuration, applying defaults and validating the
// result.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	c.setDefaults()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
