// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"gitlab.com/postmarketOS/gnss_settings/internal/sbp"
)

// DefaultMaxDrain bounds how many queued frames one wake of Run handles
// before it checks for cancellation again.
const DefaultMaxDrain = 32

var ErrClosed = errors.New("bus: endpoint closed")

// Handler is called once per received frame.
type Handler func(f sbp.Frame)

// Endpoint is a process's attachment to the bus.
type Endpoint struct {
	conn     io.ReadWriteCloser
	sender   uint16
	maxDrain int

	wmu    sync.Mutex
	closed bool
}

// Dial attaches to the broker listening at socket. sender is stamped on
// every frame sent with Send.
func Dial(ctx context.Context, socket string, sender uint16) (*Endpoint, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socket)
	if err != nil {
		return nil, fmt.Errorf("bus.Dial(): %w", err)
	}
	return NewEndpoint(conn, sender), nil
}

// NewEndpoint wraps an already attached connection.
func NewEndpoint(conn io.ReadWriteCloser, sender uint16) *Endpoint {
	return &Endpoint{
		conn:     conn,
		sender:   sender,
		maxDrain: DefaultMaxDrain,
	}
}

// SetMaxDrain changes the per wake bound, n < 1 restores the default.
func (e *Endpoint) SetMaxDrain(n int) {
	if n < 1 {
		n = DefaultMaxDrain
	}
	e.maxDrain = n
}

func (e *Endpoint) SenderID() uint16 {
	return e.sender
}

// Send publishes payload as a frame of the given kind.
func (e *Endpoint) Send(kind uint16, payload []byte) error {
	return e.SendFrom(e.sender, kind, payload)
}

// SendFrom publishes a frame carrying another sender id, which is how a
// reply is addressed to the process that asked for it.
func (e *Endpoint) SendFrom(sender uint16, kind uint16, payload []byte) error {
	data, err := sbp.Frame{Type: kind, Sender: sender, Payload: payload}.Bytes()
	if err != nil {
		return fmt.Errorf("bus.Endpoint.Send(): %w", err)
	}

	e.wmu.Lock()
	defer e.wmu.Unlock()
	if e.closed {
		return ErrClosed
	}
	if _, err := e.conn.Write(data); err != nil {
		return fmt.Errorf("bus.Endpoint.Send(): %w", err)
	}
	return nil
}

// Run reads frames and calls h for each of them, always from the calling
// goroutine. Several frames may be handled per wake, up to the drain bound.
// Run returns when ctx is done or the connection fails.
func (e *Endpoint) Run(ctx context.Context, h Handler) error {
	frames := make(chan sbp.Frame, e.maxDrain)
	readErr := make(chan error, 1)

	stop := context.AfterFunc(ctx, func() { e.Close() })
	defer stop()

	go func() {
		dec := sbp.NewDecoder(e.conn)
		for {
			f, err := dec.Next()
			if err != nil {
				readErr <- err
				close(frames)
				return
			}
			select {
			case frames <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				err := <-readErr
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if errors.Is(err, io.EOF) {
					return ErrClosed
				}
				return fmt.Errorf("bus.Endpoint.Run(): %w", err)
			}
			h(f)
			e.drain(frames, h)
		}
	}
}

func (e *Endpoint) drain(frames <-chan sbp.Frame, h Handler) {
	for i := 1; i < e.maxDrain; i++ {
		select {
		case f, ok := <-frames:
			if !ok {
				return
			}
			h(f)
		default:
			return
		}
	}
}

func (e *Endpoint) Close() error {
	e.wmu.Lock()
	defer e.wmu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.conn.Close()
}
