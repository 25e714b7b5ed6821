// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

// Package client speaks the settings protocol from the side of a process
// that owns, reads or changes settings. The directory never times out or
// retries, so all of that happens here.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"gitlab.com/postmarketOS/gnss_settings/internal/bus"
	"gitlab.com/postmarketOS/gnss_settings/internal/sbp"
	"gitlab.com/postmarketOS/gnss_settings/internal/settings"
)

const (
	DefaultTimeout = 100 * time.Millisecond
	DefaultTries   = 5
)

var (
	ErrTimeout = errors.New("client: no response")
	ErrClosed  = errors.New("client: not running")
)

// Transport is the bus attachment a Client runs on, normally a
// *bus.Endpoint.
type Transport interface {
	Send(kind uint16, payload []byte) error
	SenderID() uint16
	Run(ctx context.Context, h bus.Handler) error
}

// Entry is one setting as reported by the directory.
type Entry struct {
	Section string `yaml:"section"`
	Name    string `yaml:"name"`
	Value   string `yaml:"value"`
	Type    string `yaml:"type,omitempty"`
}

func (e Entry) String() string {
	return e.Section + "." + e.Name
}

type waiter struct {
	match func(f sbp.Frame) bool
	ch    chan sbp.Frame
}

type Client struct {
	tr  Transport
	log zerolog.Logger

	// Timeout bounds a single request attempt, Tries the attempts made
	// by Register, Read and ReadByIndex.
	Timeout time.Duration
	Tries   int

	// WriteBackOff paces write retries. WriteTries bounds them.
	WriteBackOff func() backoff.BackOff
	WriteTries   uint

	mu       sync.Mutex
	waiters  []*waiter
	watchers map[settings.Kind][]bus.Handler
}

func New(tr Transport, log zerolog.Logger) *Client {
	return &Client{
		tr:           tr,
		log:          log.With().Str("component", "client").Logger(),
		Timeout:      DefaultTimeout,
		Tries:        DefaultTries,
		WriteBackOff: defaultWriteBackOff,
		WriteTries:   DefaultTries,
		watchers:     make(map[settings.Kind][]bus.Handler),
	}
}

func defaultWriteBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	return b
}

func (c *Client) SenderID() uint16 {
	return c.tr.SenderID()
}

// Run delivers incoming frames to pending requests and watchers until ctx
// is done. Watchers are called on Run's goroutine and must not wait for a
// response themselves.
func (c *Client) Run(ctx context.Context) error {
	return c.tr.Run(ctx, c.dispatch)
}

// Watch calls fn for every frame of the given kind.
func (c *Client) Watch(kind settings.Kind, fn bus.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers[kind] = append(c.watchers[kind], fn)
}

// Send publishes a raw settings message.
func (c *Client) Send(kind settings.Kind, payload []byte) error {
	return c.tr.Send(kind, payload)
}

func (c *Client) dispatch(f sbp.Frame) {
	c.mu.Lock()
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		if w.match(f) {
			w.ch <- f
			continue
		}
		kept = append(kept, w)
	}
	c.waiters = kept
	watchers := c.watchers[f.Type]
	c.mu.Unlock()

	for _, fn := range watchers {
		fn(f)
	}
}

func (c *Client) addWaiter(match func(sbp.Frame) bool) *waiter {
	w := &waiter{match: match, ch: make(chan sbp.Frame, 1)}
	c.mu.Lock()
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	return w
}

func (c *Client) removeWaiter(w *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, o := range c.waiters {
		if o == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// request sends one message and waits up to timeout for a matching frame.
func (c *Client) request(ctx context.Context, kind settings.Kind, payload []byte, timeout time.Duration, match func(sbp.Frame) bool) (sbp.Frame, error) {
	w := c.addWaiter(match)
	defer c.removeWaiter(w)

	if err := c.tr.Send(kind, payload); err != nil {
		if errors.Is(err, bus.ErrClosed) {
			return sbp.Frame{}, ErrClosed
		}
		return sbp.Frame{}, err
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case f := <-w.ch:
		return f, nil
	case <-t.C:
		return sbp.Frame{}, ErrTimeout
	case <-ctx.Done():
		return sbp.Frame{}, ctx.Err()
	}
}

// requestTries repeats request on timeouts, up to c.Tries attempts.
func (c *Client) requestTries(ctx context.Context, kind settings.Kind, payload []byte, match func(sbp.Frame) bool) (f sbp.Frame, err error) {
	tries := c.Tries
	if tries < 1 {
		tries = 1
	}
	for i := 0; i < tries; i++ {
		f, err = c.request(ctx, kind, payload, c.Timeout, match)
		if !errors.Is(err, ErrTimeout) {
			return
		}
		c.log.Debug().Str("kind", settings.KindName(kind)).Int("try", i+1).Msg("request timed out")
	}
	return
}

func sameKey(t settings.Tuple, section, name string) bool {
	return t.Section == section && t.Name == name
}

// Register declares section.name with its default value and type. The
// returned value is the one the directory adopted, which differs from
// value when a persisted override exists.
func (c *Client) Register(ctx context.Context, section, name, value, typ string) (settings.RegisterResult, string, error) {
	payload, err := settings.Encode(section, name, value, typ)
	if err != nil {
		return 0, "", fmt.Errorf("client.Register(): %w", err)
	}

	self := c.tr.SenderID()
	f, err := c.requestTries(ctx, settings.KindRegisterResponse, payload, func(f sbp.Frame) bool {
		if f.Type != settings.KindRegisterResponse || f.Sender != self {
			return false
		}
		res, rest, err := settings.SplitStatus(f.Payload)
		if err != nil {
			return false
		}
		if settings.RegisterResult(res) == settings.RegisterParseFailed {
			return true
		}
		t, err := settings.DecodeValue(rest)
		return err == nil && sameKey(t, section, name)
	})
	if err != nil {
		return 0, "", fmt.Errorf("client.Register(): %s.%s: %w", section, name, err)
	}

	res, rest, _ := settings.SplitStatus(f.Payload)
	result := settings.RegisterResult(res)
	if result == settings.RegisterParseFailed {
		return result, "", nil
	}
	t, _ := settings.DecodeValue(rest)
	return result, t.Value, nil
}

// Write asks the owner of section.name to change it and waits for the
// outcome. Attempts that see no response are retried with exponential
// back off. A response with any status ends the retry. The caller's ctx
// bounds the whole operation.
func (c *Client) Write(ctx context.Context, section, name, value string) (settings.WriteStatus, error) {
	payload, err := settings.Encode(section, name, value, "")
	if err != nil {
		return settings.WriteParseFailed, fmt.Errorf("client.Write(): %w", err)
	}

	self := c.tr.SenderID()
	match := func(f sbp.Frame) bool {
		if f.Type != settings.KindWriteResponse {
			return false
		}
		_, rest, err := settings.SplitStatus(f.Payload)
		if err != nil {
			return false
		}
		t, err := settings.Decode(rest)
		if err != nil {
			// an echoed request the directory could not parse
			return f.Sender == self
		}
		return sameKey(t, section, name)
	}

	attempt := 0
	op := func() (settings.WriteStatus, error) {
		attempt++
		f, err := c.request(ctx, settings.KindWrite, payload, c.Timeout, match)
		switch {
		case errors.Is(err, ErrTimeout):
			c.log.Debug().Str("setting", section+"."+name).Int("try", attempt).Msg("write timed out")
			return settings.WriteTimeout, err
		case err != nil:
			return settings.WriteServiceFailed, backoff.Permanent(err)
		}
		status, _, _ := settings.SplitStatus(f.Payload)
		return settings.WriteStatus(status), nil
	}

	opts := []backoff.RetryOption{backoff.WithMaxTries(c.WriteTries)}
	if c.WriteBackOff != nil {
		opts = append(opts, backoff.WithBackOff(c.WriteBackOff()))
	}

	status, err := backoff.Retry(ctx, op, opts...)
	if err != nil {
		if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return settings.WriteTimeout, fmt.Errorf("client.Write(): %s.%s: %w", section, name, err)
		}
		return settings.WriteServiceFailed, fmt.Errorf("client.Write(): %s.%s: %w", section, name, err)
	}
	return status, nil
}

// Read returns the directory's cached value of section.name.
func (c *Client) Read(ctx context.Context, section, name string) (Entry, error) {
	payload, err := settings.EncodeKey(section, name)
	if err != nil {
		return Entry{}, fmt.Errorf("client.Read(): %w", err)
	}

	f, err := c.requestTries(ctx, settings.KindReadRequest, payload, func(f sbp.Frame) bool {
		if f.Type != settings.KindReadResponse {
			return false
		}
		t, err := settings.DecodeValue(f.Payload)
		return err == nil && sameKey(t, section, name)
	})
	if err != nil {
		return Entry{}, fmt.Errorf("client.Read(): %s.%s: %w", section, name, err)
	}

	t, _ := settings.DecodeValue(f.Payload)
	return entry(t), nil
}

// ReadByIndex returns the index'th setting in registry order. done is true
// once index is past the last setting.
func (c *Client) ReadByIndex(ctx context.Context, index uint16) (e Entry, done bool, err error) {
	f, err := c.requestTries(ctx, settings.KindReadByIndexRequest, settings.EncodeIndex(index), func(f sbp.Frame) bool {
		switch f.Type {
		case settings.KindReadByIndexDone:
			return true
		case settings.KindReadByIndexResponse:
			idx, _, err := settings.DecodeReadByIndexResponse(f.Payload)
			return err == nil && idx == index
		}
		return false
	})
	if err != nil {
		return Entry{}, false, fmt.Errorf("client.ReadByIndex(): %d: %w", index, err)
	}

	if f.Type == settings.KindReadByIndexDone {
		return Entry{}, true, nil
	}
	_, t, _ := settings.DecodeReadByIndexResponse(f.Payload)
	return entry(t), false, nil
}

// List enumerates every registered setting.
func (c *Client) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	for i := 0; i <= 0xFFFF; i++ {
		e, done, err := c.ReadByIndex(ctx, uint16(i))
		if err != nil {
			return entries, err
		}
		if done {
			return entries, nil
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Save asks the directory to persist changed settings. There is no
// response.
func (c *Client) Save(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.tr.Send(settings.KindSave, nil); err != nil {
		return fmt.Errorf("client.Save(): %w", err)
	}
	return nil
}

func entry(t settings.Tuple) Entry {
	return Entry{Section: t.Section, Name: t.Name, Value: t.Value, Type: t.Type}
}
