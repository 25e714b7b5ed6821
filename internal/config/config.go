// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml"
)

const (
	DefaultFile         = "/etc/gnss_settings.conf"
	DefaultSocket       = "/run/gnss_settings/bus.sock"
	DefaultSettingsFile = "/persistent/config.ini"
	DefaultSenderID     = 0x42
	DefaultMaxDrain     = 32
	DefaultLogLevel     = "info"
	DefaultBaudRate     = 115200
)

type Config struct {
	Socket       string `toml:"socket"`
	OwnerGroup   string `toml:"group"`
	SettingsFile string `toml:"settings_file"`
	SenderID     uint16 `toml:"sender_id"`
	MaxDrain     int    `toml:"max_drain"`
	LogLevel     string `toml:"log_level"`
	SerialDevice string `toml:"serial_device"`
	BaudRate     int    `toml:"serial_baud_rate"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.fill()
	return c
}

func (c *Config) fill() {
	if c.Socket == "" {
		c.Socket = DefaultSocket
	}
	if c.SettingsFile == "" {
		c.SettingsFile = DefaultSettingsFile
	}
	if c.SenderID == 0 {
		c.SenderID = DefaultSenderID
	}
	if c.MaxDrain < 1 {
		c.MaxDrain = DefaultMaxDrain
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
}

func Parse(file string) (c *Config, err error) {
	contents, err := os.ReadFile(file)
	if err != nil {
		err = fmt.Errorf("config.Parse(): %w", err)
		return
	}

	c = &Config{}

	if err = toml.Unmarshal(contents, c); err != nil {
		err = fmt.Errorf("config.Parse(): %w", err)
		return
	}

	c.fill()

	return
}
