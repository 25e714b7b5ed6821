// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

// Package directory implements the settings directory: it answers register,
// read and enumeration requests from its registry and keeps the registry in
// step with the values owners confirm on the bus.
//
// The directory never applies a write itself. A write request is only
// checked against the registry, the owner of the setting applies it and
// broadcasts a write response, and that response is what updates the cache.
package directory

import (
	"errors"

	"github.com/rs/zerolog"

	"gitlab.com/postmarketOS/gnss_settings/internal/registry"
	"gitlab.com/postmarketOS/gnss_settings/internal/sbp"
	"gitlab.com/postmarketOS/gnss_settings/internal/settings"
)

// Sender is the outbound side of the bus.
type Sender interface {
	Send(kind uint16, payload []byte) error
	SendFrom(sender uint16, kind uint16, payload []byte) error
}

// Persister stores overrides across restarts.
type Persister interface {
	LoadOverride(section, name string) (value string, ok bool, err error)
	Save(settings []registry.Setting) error
	Reset() error
}

// Directory dispatches settings messages. Handle must be called from a
// single goroutine, the registry is not locked.
type Directory struct {
	reg      *registry.Registry
	store    Persister
	tx       Sender
	log      zerolog.Logger
	handlers map[settings.Kind]func(f sbp.Frame)
}

func New(reg *registry.Registry, store Persister, tx Sender, log zerolog.Logger) *Directory {
	d := &Directory{
		reg:   reg,
		store: store,
		tx:    tx,
		log:   log.With().Str("component", "directory").Logger(),
	}

	d.handlers = map[settings.Kind]func(sbp.Frame){
		settings.KindRegister:           d.register,
		settings.KindWrite:              d.write,
		settings.KindWriteResponse:      d.writeResponse,
		settings.KindReadRequest:        d.read,
		settings.KindReadByIndexRequest: d.readByIndex,
		settings.KindSave:               d.save,
	}

	return d
}

// Registry exposes the cache, e.g. for diagnostics.
func (d *Directory) Registry() *registry.Registry {
	return d.reg
}

// Handle processes one frame. Frames of other kinds are ignored.
func (d *Directory) Handle(f sbp.Frame) {
	h, ok := d.handlers[f.Type]
	if !ok {
		return
	}
	d.log.Trace().
		Str("kind", settings.KindName(f.Type)).
		Uint16("sender", f.Sender).
		Int("len", len(f.Payload)).
		Msg("message")
	h(f)
}

// Reset deletes all persisted overrides. The registry is left alone, the
// defaults come back on the next start.
func (d *Directory) Reset() error {
	return d.store.Reset()
}

func (d *Directory) register(f sbp.Frame) {
	t, err := settings.DecodeValue(f.Payload)
	if err != nil {
		d.log.Error().Err(err).Uint16("sender", f.Sender).Msg("register request: parse error")
		d.reply(f.Sender, settings.KindRegisterResponse, []byte{byte(settings.RegisterParseFailed)})
		return
	}

	res := settings.RegisterOK
	s := d.reg.Lookup(t.Section, t.Name)
	if s == nil {
		s = &registry.Setting{
			Section: t.Section,
			Name:    t.Name,
			Value:   t.Value,
			Type:    t.Type,
		}

		value, ok, err := d.store.LoadOverride(t.Section, t.Name)
		switch {
		case err != nil:
			d.log.Warn().Err(err).Str("setting", s.String()).Msg("unable to read persisted value")
		case ok:
			s.Value = value
			s.Dirty = true
			res = settings.RegisterOKPermanent
		}

		if err := d.reg.Insert(s); err != nil {
			d.log.Error().Err(err).Msg("register request")
			return
		}
		d.log.Debug().Str("setting", s.String()).Str("value", s.Value).Stringer("result", res).Msg("registered")
	} else {
		d.log.Warn().Str("setting", s.String()).Msg("setting already registered")
		res = settings.RegisterAlreadyRegistered
	}

	payload, err := settings.EncodeRegisterResponse(res, s.Section, s.Name, s.Value)
	if err != nil {
		d.log.Error().Err(err).Str("setting", s.String()).Msg("register response")
		return
	}
	d.reply(f.Sender, settings.KindRegisterResponse, payload)
}

func (d *Directory) write(f sbp.Frame) {
	t, err := settings.DecodeValue(f.Payload)
	if err != nil {
		d.log.Error().Err(err).Uint16("sender", f.Sender).Msg("write request: parse error")
		d.reject(f, settings.WriteParseFailed)
		return
	}

	if d.reg.Lookup(t.Section, t.Name) == nil {
		d.log.Error().Str("setting", t.Section+"."+t.Name).Msg("write request: setting not registered")
		d.reject(f, settings.WriteSettingRejected)
		return
	}

	// The owner validates, applies and answers.
}

func (d *Directory) reject(f sbp.Frame, status settings.WriteStatus) {
	d.reply(f.Sender, settings.KindWriteResponse, settings.EncodeWriteRejection(status, f.Payload))
}

func (d *Directory) writeResponse(f sbp.Frame) {
	status, rest, err := settings.SplitStatus(f.Payload)
	if err != nil {
		d.log.Error().Err(err).Msg("write response: parse error")
		return
	}
	if settings.WriteStatus(status) != settings.WriteOK {
		return
	}

	t, err := settings.DecodeValue(rest)
	if err != nil {
		d.log.Error().Err(err).Msg("write response: parse error")
		return
	}

	changed, err := d.reg.MarkDirtyIfChanged(t.Section, t.Name, t.Value)
	if err != nil {
		d.log.Error().Err(err).Msg("write response for unregistered setting")
		return
	}
	if changed {
		d.log.Info().Str("setting", t.Section+"."+t.Name).Str("value", t.Value).Msg("value confirmed")
	}
}

func (d *Directory) read(f sbp.Frame) {
	t, err := settings.Decode(f.Payload)
	if err != nil {
		d.log.Error().Err(err).Msg("read request: parse error")
		return
	}

	s := d.reg.Lookup(t.Section, t.Name)
	if s == nil {
		d.log.Error().Str("setting", t.Section+"."+t.Name).Msg("read request: setting not found")
		return
	}

	payload, err := settings.Encode(s.Section, s.Name, s.Value, "")
	if err != nil {
		d.log.Error().Err(err).Str("setting", s.String()).Msg("read response")
		return
	}
	d.broadcast(settings.KindReadResponse, payload)
}

func (d *Directory) readByIndex(f sbp.Frame) {
	idx, err := settings.DecodeIndex(f.Payload)
	if err != nil {
		d.log.Error().Err(err).Msg("read by index request: malformed message")
		return
	}

	s := d.reg.At(int(idx))
	if s == nil {
		d.broadcast(settings.KindReadByIndexDone, nil)
		return
	}

	payload, err := encodeWithType(s, func(typ string) ([]byte, error) {
		return settings.EncodeReadByIndexResponse(idx, s.Section, s.Name, s.Value, typ)
	})
	if err != nil {
		d.log.Error().Err(err).Str("setting", s.String()).Msg("read by index response")
		return
	}
	d.broadcast(settings.KindReadByIndexResponse, payload)
}

// encodeWithType drops the advisory type when the full message would not
// fit, the value is what clients cannot do without.
func encodeWithType(s *registry.Setting, enc func(typ string) ([]byte, error)) ([]byte, error) {
	payload, err := enc(s.Type)
	if errors.Is(err, settings.ErrTooLong) && s.Type != "" {
		return enc("")
	}
	return payload, err
}

func (d *Directory) save(sbp.Frame) {
	dirty := d.reg.Dirty()
	if err := d.store.Save(dirty); err != nil {
		d.log.Error().Err(err).Msg("save request")
		return
	}
	d.log.Info().Int("settings", len(dirty)).Msg("settings saved")
}

// reply sends a frame stamped with the requester's sender id, so only the
// requester treats it as its answer.
func (d *Directory) reply(to uint16, kind settings.Kind, payload []byte) {
	if err := d.tx.SendFrom(to, kind, payload); err != nil {
		d.log.Error().Err(err).Str("kind", settings.KindName(kind)).Msg("send failed")
	}
}

func (d *Directory) broadcast(kind settings.Kind, payload []byte) {
	if err := d.tx.Send(kind, payload); err != nil {
		d.log.Error().Err(err).Str("kind", settings.KindName(kind)).Msg("send failed")
	}
}
