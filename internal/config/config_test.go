// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConf(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gnss_settings.conf")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParse(t *testing.T) {
	path := writeConf(t, `
socket = "/tmp/bus.sock"
group = "gnss"
settings_file = "/tmp/config.ini"
sender_id = 100
max_drain = 8
log_level = "debug"
serial_device = "/dev/ttyS1"
serial_baud_rate = 9600
`)

	c, err := Parse(path)
	if err != nil {
		t.Fatal(err)
	}

	want := Config{
		Socket:       "/tmp/bus.sock",
		OwnerGroup:   "gnss",
		SettingsFile: "/tmp/config.ini",
		SenderID:     100,
		MaxDrain:     8,
		LogLevel:     "debug",
		SerialDevice: "/dev/ttyS1",
		BaudRate:     9600,
	}
	if *c != want {
		t.Errorf("got %+v, want %+v", *c, want)
	}
}

func TestParseDefaults(t *testing.T) {
	path := writeConf(t, "group = \"gnss\"\n")

	c, err := Parse(path)
	if err != nil {
		t.Fatal(err)
	}

	want := *Default()
	want.OwnerGroup = "gnss"
	if *c != want {
		t.Errorf("got %+v, want %+v", *c, want)
	}
	if c.SenderID != 0x42 {
		t.Errorf("sender id = %d", c.SenderID)
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse(filepath.Join(t.TempDir(), "missing.conf")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Parse(writeConf(t, "socket = [")); err == nil {
		t.Error("expected error for invalid toml")
	}
}
