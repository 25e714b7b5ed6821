// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

// Package owner lets a daemon own settings: it registers them with the
// directory, applies writes addressed to them and reports the outcome on
// the bus. Settings owned by other processes can be watched.
package owner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"gitlab.com/postmarketOS/gnss_settings/internal/client"
	"gitlab.com/postmarketOS/gnss_settings/internal/sbp"
	"gitlab.com/postmarketOS/gnss_settings/internal/settings"
)

var (
	ErrRegister = errors.New("owner: registration refused")
	ErrOwned    = errors.New("owner: setting already added")
)

type key struct {
	section string
	name    string
}

type Owner struct {
	c   *client.Client
	log zerolog.Logger

	mu      sync.Mutex
	owned   map[key]Applier
	watched map[key][]Applier
}

// New hooks an owner into c. c.Run must be running for Add and Watch to
// complete.
func New(c *client.Client, log zerolog.Logger) *Owner {
	o := &Owner{
		c:       c,
		log:     log.With().Str("component", "owner").Logger(),
		owned:   make(map[key]Applier),
		watched: make(map[key][]Applier),
	}
	c.Watch(settings.KindWrite, o.handleWrite)
	c.Watch(settings.KindWriteResponse, o.handleWriteResponse)
	return o
}

// Add registers section.name with a's current value as default, then takes
// on whatever value the directory reports back.
func (o *Owner) Add(ctx context.Context, section, name string, a Applier) error {
	k := key{section, name}
	o.mu.Lock()
	_, dup := o.owned[k]
	o.mu.Unlock()
	if dup {
		return fmt.Errorf("owner.Add(): %s.%s: %w", section, name, ErrOwned)
	}

	res, value, err := o.c.Register(ctx, section, name, a.Value(), a.Type())
	if err != nil {
		return fmt.Errorf("owner.Add(): %w", err)
	}
	if res == settings.RegisterParseFailed {
		return fmt.Errorf("owner.Add(): %s.%s: %w", section, name, ErrRegister)
	}
	if res == settings.RegisterAlreadyRegistered {
		o.log.Warn().Str("setting", section+"."+name).Msg("setting was registered before")
	}

	if value != a.Value() {
		if status := a.ValidateAndApply(value); status != settings.WriteOK {
			o.log.Warn().
				Str("setting", section+"."+name).
				Str("value", value).
				Stringer("status", status).
				Msg("unable to adopt stored value")
		}
	}

	o.mu.Lock()
	o.owned[k] = a
	o.mu.Unlock()

	o.log.Debug().Str("setting", section+"."+name).Str("value", a.Value()).Stringer("result", res).Msg("added")
	return nil
}

// Watch keeps a in step with a setting owned by another process. The
// current value is read once up front, later changes arrive with every
// successful write response.
func (o *Owner) Watch(ctx context.Context, section, name string, a Applier) error {
	k := key{section, name}
	o.mu.Lock()
	o.watched[k] = append(o.watched[k], a)
	o.mu.Unlock()

	e, err := o.c.Read(ctx, section, name)
	if err != nil {
		return fmt.Errorf("owner.Watch(): %w", err)
	}
	if status := a.ValidateAndApply(e.Value); status != settings.WriteOK {
		o.log.Warn().Str("setting", e.String()).Str("value", e.Value).Stringer("status", status).Msg("watch: value not applied")
	}
	return nil
}

func (o *Owner) handleWrite(f sbp.Frame) {
	t, err := settings.DecodeValue(f.Payload)
	if err != nil {
		return
	}

	o.mu.Lock()
	a, ok := o.owned[key{t.Section, t.Name}]
	o.mu.Unlock()
	if !ok {
		return
	}

	status := a.ValidateAndApply(t.Value)
	o.log.Info().
		Str("setting", t.Section+"."+t.Name).
		Str("value", t.Value).
		Stringer("status", status).
		Msg("write")

	payload, err := settings.EncodeWriteResponse(status, t.Section, t.Name, a.Value())
	if err != nil {
		o.log.Error().Err(err).Str("setting", t.Section+"."+t.Name).Msg("write response")
		return
	}
	if err := o.c.Send(settings.KindWriteResponse, payload); err != nil {
		o.log.Error().Err(err).Msg("write response")
	}
}

func (o *Owner) handleWriteResponse(f sbp.Frame) {
	status, rest, err := settings.SplitStatus(f.Payload)
	if err != nil || settings.WriteStatus(status) != settings.WriteOK {
		return
	}
	t, err := settings.DecodeValue(rest)
	if err != nil {
		return
	}

	o.mu.Lock()
	watchers := o.watched[key{t.Section, t.Name}]
	o.mu.Unlock()

	for _, a := range watchers {
		if a.Value() == t.Value {
			continue
		}
		if status := a.ValidateAndApply(t.Value); status != settings.WriteOK {
			o.log.Warn().Str("setting", t.Section+"."+t.Name).Str("value", t.Value).Stringer("status", status).Msg("watch: value not applied")
		}
	}
}
