// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package owner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"gitlab.com/postmarketOS/gnss_settings/internal/bus"
	"gitlab.com/postmarketOS/gnss_settings/internal/client"
	"gitlab.com/postmarketOS/gnss_settings/internal/directory"
	"gitlab.com/postmarketOS/gnss_settings/internal/registry"
	"gitlab.com/postmarketOS/gnss_settings/internal/settings"
	"gitlab.com/postmarketOS/gnss_settings/internal/store"
)

type fixture struct {
	t       *testing.T
	socket  string
	broker  *bus.Broker
	clients int
}

func newFixture(t *testing.T, overrides string) *fixture {
	t.Helper()

	dir, err := os.MkdirTemp("", "owner")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	storePath := filepath.Join(dir, "config.ini")
	if overrides != "" {
		require.NoError(t, os.WriteFile(storePath, []byte(overrides), 0644))
	}

	fx := &fixture{t: t, socket: filepath.Join(dir, "bus.sock")}

	ctx, cancel := context.WithCancel(context.Background())
	fx.broker = bus.NewBroker(fx.socket, "", zerolog.Nop())
	done := make(chan error, 1)
	go func() { done <- fx.broker.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, func() bool {
		_, err := os.Stat(fx.socket)
		return err == nil
	}, time.Second, 5*time.Millisecond)

	ep := fx.dial(0x42)
	d := directory.New(registry.New(), store.New(storePath), ep, zerolog.Nop())
	go ep.Run(ctx, d.Handle)

	return fx
}

func (fx *fixture) dial(sender uint16) *bus.Endpoint {
	fx.t.Helper()
	ep, err := bus.Dial(context.Background(), fx.socket, sender)
	require.NoError(fx.t, err)
	fx.t.Cleanup(func() { ep.Close() })

	fx.clients++
	require.Eventually(fx.t, func() bool { return fx.broker.Clients() == fx.clients }, time.Second, 5*time.Millisecond)
	return ep
}

func (fx *fixture) client(sender uint16) *client.Client {
	fx.t.Helper()
	c := client.New(fx.dial(sender), zerolog.Nop())
	c.Timeout = 200 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	fx.t.Cleanup(cancel)
	go c.Run(ctx)
	return c
}

func (fx *fixture) owner(sender uint16) *Owner {
	return New(fx.client(sender), zerolog.Nop())
}

func TestAddAndWrite(t *testing.T) {
	fx := newFixture(t, "")
	o := fx.owner(1)
	ctx := context.Background()

	rate := NewInt(10, nil)
	require.NoError(t, o.Add(ctx, "solution", "rate", rate))

	writer := fx.client(2)
	status, err := writer.Write(ctx, "solution", "rate", "20")
	require.NoError(t, err)
	require.Equal(t, settings.WriteOK, status)
	require.Equal(t, int64(20), rate.Get())

	require.Eventually(t, func() bool {
		e, err := writer.Read(ctx, "solution", "rate")
		return err == nil && e.Value == "20"
	}, time.Second, 10*time.Millisecond)
}

func TestWriteRejected(t *testing.T) {
	fx := newFixture(t, "")
	o := fx.owner(1)
	ctx := context.Background()

	mode := NewEnum([]string{"SBP", "NMEA"}, "SBP", nil)
	limit := NewInt(5, func(v int64) error {
		if v > 100 {
			return errors.New("too large")
		}
		return nil
	})
	serial := NewString("abc123", nil).ReadOnly()

	require.NoError(t, o.Add(ctx, "uart0", "mode", mode))
	require.NoError(t, o.Add(ctx, "uart0", "limit", limit))
	require.NoError(t, o.Add(ctx, "system", "serial", serial))

	writer := fx.client(2)
	tests := []struct {
		section, name, value string
		status               settings.WriteStatus
		keep                 string
	}{
		{"uart0", "mode", "RTCM", settings.WriteValueRejected, "SBP"},
		{"uart0", "limit", "500", settings.WriteValueRejected, "5"},
		{"uart0", "limit", "five", settings.WriteValueRejected, "5"},
		{"system", "serial", "x", settings.WriteReadOnly, "abc123"},
	}
	for _, test := range tests {
		status, err := writer.Write(ctx, test.section, test.name, test.value)
		require.NoError(t, err)
		require.Equal(t, test.status, status, "%s.%s=%s", test.section, test.name, test.value)

		e, err := writer.Read(ctx, test.section, test.name)
		require.NoError(t, err)
		require.Equal(t, test.keep, e.Value)
	}
}

func TestAddAdoptsOverride(t *testing.T) {
	fx := newFixture(t, "[uart0]\nmode=NMEA\n")
	o := fx.owner(1)

	mode := NewEnum([]string{"SBP", "NMEA"}, "SBP", nil)
	require.NoError(t, o.Add(context.Background(), "uart0", "mode", mode))
	require.Equal(t, "NMEA", mode.Get())
}

func TestAddTwice(t *testing.T) {
	fx := newFixture(t, "")
	o := fx.owner(1)
	ctx := context.Background()

	require.NoError(t, o.Add(ctx, "s", "k", NewInt(1, nil)))
	require.ErrorIs(t, o.Add(ctx, "s", "k", NewInt(2, nil)), ErrOwned)
}

func TestWatch(t *testing.T) {
	fx := newFixture(t, "")
	ctx := context.Background()

	o := fx.owner(1)
	enabled := NewBool(false, nil)
	require.NoError(t, o.Add(ctx, "ntrip", "enable", enabled))
	require.NoError(t, o.Add(ctx, "ntrip", "url", NewString("", nil)))

	watcher := fx.owner(3)
	watched := NewBool(true, nil)
	require.NoError(t, watcher.Watch(ctx, "ntrip", "enable", watched))
	require.False(t, watched.Get(), "initial value comes from the directory")

	writer := fx.client(2)
	status, err := writer.Write(ctx, "ntrip", "enable", "True")
	require.NoError(t, err)
	require.Equal(t, settings.WriteOK, status)

	require.Eventually(t, func() bool { return watched.Get() }, time.Second, 5*time.Millisecond)

	// writes to other settings leave the watch alone
	status, err = writer.Write(ctx, "ntrip", "url", "http://example.com")
	require.NoError(t, err)
	require.Equal(t, settings.WriteOK, status)
	require.True(t, watched.Get())
}
