// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"gitlab.com/postmarketOS/gnss_settings/internal/registry"
)

func newStore(t *testing.T, contents string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.ini")
	if contents != "" {
		require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	}
	return New(path)
}

func TestLoadOverride(t *testing.T) {
	s := newStore(t, "[uart0]\nmode=NMEA\nenabled_sbp_messages=\n\n[ntrip]\nurl=http://host:2101/mnt#1\n")

	tables := []struct {
		section, name string
		value         string
		ok            bool
	}{
		{"uart0", "mode", "NMEA", true},
		{"uart0", "enabled_sbp_messages", "", true},
		{"ntrip", "url", "http://host:2101/mnt#1", true},
		{"uart0", "baudrate", "", false},
		{"imu", "rate", "", false},
	}

	for _, table := range tables {
		value, ok, err := s.LoadOverride(table.section, table.name)
		require.NoError(t, err)
		require.Equal(t, table.ok, ok, "%s.%s", table.section, table.name)
		require.Equal(t, table.value, value, "%s.%s", table.section, table.name)
	}
}

func TestLoadOverrideMissingFile(t *testing.T) {
	s := newStore(t, "")

	value, ok, err := s.LoadOverride("s", "k")
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, value)
}

func TestSave(t *testing.T) {
	s := newStore(t, "[stale]\nkey=1\n")

	err := s.Save([]registry.Setting{
		{Section: "uart0", Name: "mode", Value: "NMEA", Dirty: true},
		{Section: "uart0", Name: "baudrate", Value: "9600", Dirty: true},
		{Section: "ntrip", Name: "enable", Value: "True", Dirty: true},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	require.Equal(t, "[uart0]\nmode=NMEA\nbaudrate=9600\n[ntrip]\nenable=True\n", string(data))

	value, ok, err := s.LoadOverride("uart0", "baudrate")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "9600", value)

	_, ok, err = s.LoadOverride("stale", "key")
	require.NoError(t, err)
	require.False(t, ok, "save must rewrite the file from scratch")
}

func TestSaveEmpty(t *testing.T) {
	s := newStore(t, "[s]\nk=1\n")

	require.NoError(t, s.Save(nil))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestSaveUnwritable(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing", "config.ini"))

	require.Error(t, s.Save([]registry.Setting{{Section: "s", Name: "k", Value: "1"}}))
}

func TestReset(t *testing.T) {
	s := newStore(t, "[s]\nk=1\n")

	require.NoError(t, s.Reset())
	_, err := os.Stat(s.Path())
	require.True(t, os.IsNotExist(err))

	// resetting twice is fine
	require.NoError(t, s.Reset())
}

// Values are opaque: quoting, backticks, '=' and comment characters come
// back exactly as saved.
func TestSaveRoundTripOpaqueValues(t *testing.T) {
	s := newStore(t, "")

	saved := []registry.Setting{
		{Section: "a", Name: "rate", Value: "10"},
		{Section: "b", Name: "label", Value: `"""x`},
		{Section: "b", Name: "tick", Value: "`tick`"},
		{Section: "b", Name: "query", Value: "k=v=w"},
		{Section: "b", Name: "quoted", Value: `"spaced value"`},
		{Section: "b", Name: "comment", Value: "; not a comment # nor this"},
		{Section: "b", Name: "padded", Value: "  x  "},
		{Section: "b", Name: "continued", Value: `line\`},
		{Section: "c", Name: "empty", Value: ""},
	}
	require.NoError(t, s.Save(saved))

	for _, st := range saved {
		value, ok, err := s.LoadOverride(st.Section, st.Name)
		require.NoError(t, err, st.String())
		require.True(t, ok, st.String())
		require.Equal(t, st.Value, value, st.String())
	}
}

func TestSaveSkipsUnstorable(t *testing.T) {
	s := newStore(t, "")

	err := s.Save([]registry.Setting{
		{Section: "a", Name: "rate", Value: "10"},
		{Section: "b", Name: "label", Value: "x\n[a]\nrate=99"},
		{Section: "b", Name: "k=v", Value: "1"},
		{Section: "b", Name: "ok", Value: "2"},
	})
	require.ErrorIs(t, err, ErrUnstorable)

	data, rerr := os.ReadFile(s.Path())
	require.NoError(t, rerr)
	require.Equal(t, "[a]\nrate=10\n[b]\nok=2\n", string(data))

	value, ok, err := s.LoadOverride("a", "rate")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "10", value, "a bad value must not shadow another override")

	_, ok, err = s.LoadOverride("b", "label")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoadOverrideHandEdited(t *testing.T) {
	s := newStore(t, "; comment\nstray line\n[ uart0 ]\r\n mode =NMEA\r\nmode=SBP\n[uart1]\nmode=RTCM\n")

	tables := []struct {
		section, name string
		value         string
		ok            bool
	}{
		{"uart0", "mode", "NMEA", true},
		{"uart1", "mode", "RTCM", true},
		{"", "stray line", "", false},
	}

	for _, table := range tables {
		value, ok, err := s.LoadOverride(table.section, table.name)
		require.NoError(t, err)
		require.Equal(t, table.ok, ok, "%s.%s", table.section, table.name)
		require.Equal(t, table.value, value, "%s.%s", table.section, table.name)
	}
}
