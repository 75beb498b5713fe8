package main

import (
	"flag"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		config, err := LoadConfig(WithDefaults())
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if config.BindAddress != "0.0.0.0:8090" {
			t.Errorf("bind address = %q", config.BindAddress)
		}
		if config.SerialPort != "/dev/ttyUSB0" || config.BaudRate != 115200 {
			t.Errorf("serial defaults = %q @ %d", config.SerialPort, config.BaudRate)
		}
		if config.TCPAddress != "" {
			t.Errorf("tcp address = %q, want unset", config.TCPAddress)
		}
		if config.LogLevel != "info" {
			t.Errorf("log level = %q", config.LogLevel)
		}
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("SERIAL_PORT", "/dev/ttyACM3")
		t.Setenv("BAUD_RATE", "921600")
		t.Setenv("TCP_ADDRESS", "127.0.0.1:7000")
		t.Setenv("SIM_PIN", "1234")
		t.Setenv("APN", "internet")

		config, err := LoadConfig(WithDefaults(), WithEnv())
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if config.SerialPort != "/dev/ttyACM3" {
			t.Errorf("serial port = %q", config.SerialPort)
		}
		if config.BaudRate != 921600 {
			t.Errorf("baud rate = %d", config.BaudRate)
		}
		if config.TCPAddress != "127.0.0.1:7000" {
			t.Errorf("tcp address = %q", config.TCPAddress)
		}
		if config.SimPIN != "1234" || config.APN != "internet" {
			t.Errorf("sim pin = %q, apn = %q", config.SimPIN, config.APN)
		}
	})

	t.Run("bad baud rate in environment is ignored", func(t *testing.T) {
		t.Setenv("BAUD_RATE", "fast")

		config, err := LoadConfig(WithDefaults(), WithEnv())
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if config.BaudRate != 115200 {
			t.Errorf("baud rate = %d, want default", config.BaudRate)
		}
	})

	t.Run("flags override environment", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "warn")

		fSet := flag.NewFlagSet("gsmterm", flag.ContinueOnError)
		fSet.String("log-level", "info", "")
		fSet.String("bind-address", "", "")
		if err := fSet.Parse([]string{"-log-level=debug", "-bind-address=127.0.0.1:9000"}); err != nil {
			t.Fatalf("parse: %v", err)
		}

		config, err := LoadConfig(WithDefaults(), WithEnv(), WithFlags(fSet))
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if config.LogLevel != "debug" {
			t.Errorf("log level = %q, want the flag value", config.LogLevel)
		}
		if config.BindAddress != "127.0.0.1:9000" {
			t.Errorf("bind address = %q", config.BindAddress)
		}
	})
}
