// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package bus

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// queueLen is the number of frames buffered per subscriber before the pool
// starts dropping frames for it.
const queueLen = 64

// Client is one subscriber of the pool, a socket connection or a serial
// port.
type Client struct {
	Name string
	Send chan []byte

	dropped atomic.Uint64
}

func NewClient(name string) *Client {
	return &Client{
		Name: name,
		Send: make(chan []byte, queueLen),
	}
}

// Dropped reports how many frames were discarded because the client did not
// keep up.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Message is a frame published by From.
type Message struct {
	From *Client
	Data []byte
}

// Pool fans every published frame out to all clients except the publisher.
type Pool struct {
	Register   chan *Client
	Unregister chan *Client
	Broadcast  chan Message

	clients map[*Client]bool
	count   atomic.Int32
	log     zerolog.Logger
}

func NewPool(log zerolog.Logger) *Pool {
	return &Pool{
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Broadcast:  make(chan Message, queueLen),
		clients:    make(map[*Client]bool),
		log:        log.With().Str("component", "pool").Logger(),
	}
}

// Count returns the number of registered clients.
func (p *Pool) Count() int {
	return int(p.count.Load())
}

func (p *Pool) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range p.clients {
				close(c.Send)
				delete(p.clients, c)
			}
			p.count.Store(0)
			return
		case c := <-p.Register:
			p.clients[c] = true
			p.count.Store(int32(len(p.clients)))
			p.log.Debug().Str("client", c.Name).Int("clients", len(p.clients)).Msg("client registered")
		case c := <-p.Unregister:
			if p.clients[c] {
				delete(p.clients, c)
				close(c.Send)
			}
			p.count.Store(int32(len(p.clients)))
			p.log.Debug().Str("client", c.Name).Int("clients", len(p.clients)).Msg("client unregistered")
		case msg := <-p.Broadcast:
			for c := range p.clients {
				if c == msg.From {
					continue
				}
				select {
				case c.Send <- msg.Data:
				default:
					// queue full, drop
					if n := c.dropped.Add(1); n&(n-1) == 0 {
						p.log.Warn().Str("client", c.Name).Uint64("dropped", n).Msg("client queue full, dropping frames")
					}
				}
			}
		}
	}
}
