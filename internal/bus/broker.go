// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"strconv"

	"github.com/rs/zerolog"

	"gitlab.com/postmarketOS/gnss_settings/internal/sbp"
)

// Broker is the bus itself: every frame written by one attached client is
// delivered to all other attached clients. There is no addressing and no
// ordering between different clients.
type Broker struct {
	socket    string
	sockGroup string
	pool      *Pool
	log       zerolog.Logger
}

// Create a new Broker listening at socket. When sockGroup is not empty the
// socket is handed to that group so unprivileged daemons can attach.
func NewBroker(socket string, sockGroup string, log zerolog.Logger) *Broker {
	return &Broker{
		socket:    socket,
		sockGroup: sockGroup,
		pool:      NewPool(log),
		log:       log.With().Str("component", "broker").Logger(),
	}
}

// Clients returns the number of attached clients.
func (b *Broker) Clients() int {
	return b.pool.Count()
}

// Start listens on the unix socket and serves until ctx is done.
func (b *Broker) Start(ctx context.Context) error {
	if err := os.RemoveAll(b.socket); err != nil {
		return fmt.Errorf("bus.Broker.Start(): %w", err)
	}

	var lc net.ListenConfig
	sock, err := lc.Listen(ctx, "unix", b.socket)
	if err != nil {
		return fmt.Errorf("bus.Broker.Start(): %w", err)
	}

	if err := os.Chmod(b.socket, 0660); err != nil {
		sock.Close()
		return fmt.Errorf("bus.Broker.Start(): %w", err)
	}

	if b.sockGroup != "" {
		group, err := user.LookupGroup(b.sockGroup)
		if err != nil {
			sock.Close()
			return fmt.Errorf("bus.Broker.Start(): %w", err)
		}

		gid, err := strconv.ParseInt(group.Gid, 10, 32)
		if err != nil {
			sock.Close()
			return fmt.Errorf("bus.Broker.Start(): %w", err)
		}

		if err := os.Chown(b.socket, -1, int(gid)); err != nil {
			sock.Close()
			return fmt.Errorf("bus.Broker.Start(): %w", err)
		}
	}

	return b.Serve(ctx, sock)
}

// Serve accepts clients from l until ctx is done. l is closed on return.
func (b *Broker) Serve(ctx context.Context, l net.Listener) error {
	defer l.Close()
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	go b.pool.Start(ctx)

	b.log.Info().Str("socket", l.Addr().String()).Msg("accepting connections")
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("bus.Broker.Serve(): %w", err)
		}

		go b.Attach(ctx, conn.RemoteAddr().String(), conn)
	}
}

// Attach subscribes conn to the bus and publishes every frame read from it.
// It returns once conn fails or ctx is done, conn is always closed.
func (b *Broker) Attach(ctx context.Context, name string, conn io.ReadWriteCloser) {
	if name == "" || name == "@" {
		name = fmt.Sprintf("conn-%p", conn)
	}
	c := NewClient(name)
	log := b.log.With().Str("client", name).Logger()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	select {
	case b.pool.Register <- c:
	case <-ctx.Done():
		conn.Close()
		return
	}
	log.Info().Msg("client attached")

	go b.clientWriter(c, conn)

	b.clientReader(ctx, c, conn, log)

	select {
	case b.pool.Unregister <- c:
	case <-ctx.Done():
	}
	conn.Close()
	log.Info().Uint64("dropped", c.Dropped()).Msg("client detached")
}

func (b *Broker) clientReader(ctx context.Context, c *Client, conn io.Reader, log zerolog.Logger) {
	dec := sbp.NewDecoder(conn)
	dropped := 0
	for {
		f, err := dec.Next()
		if dec.Dropped != dropped {
			log.Warn().Int("total", dec.Dropped).Msg("discarded frames with bad crc")
			dropped = dec.Dropped
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				log.Debug().Err(err).Msg("read failed")
			}
			return
		}

		data, err := f.Bytes()
		if err != nil {
			log.Warn().Err(err).Msg("dropping frame")
			continue
		}

		select {
		case b.pool.Broadcast <- Message{From: c, Data: data}:
		case <-ctx.Done():
			return
		}
	}
}

// Routine run for each client connection
func (b *Broker) clientWriter(c *Client, conn io.WriteCloser) {
	for msg := range c.Send {
		if _, err := conn.Write(msg); err != nil {
			// the reader notices the closed conn and unregisters
			conn.Close()
			break
		}
	}
	// drain until the pool closes Send so it never blocks on us
	for range c.Send {
	}
}
