// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package registry

import (
	"errors"
	"fmt"
)

var (
	ErrExists   = errors.New("registry: setting already registered")
	ErrNotFound = errors.New("registry: setting not found")
)

// Setting is one entry in the registry. Only Value and Dirty change after
// the entry is inserted.
type Setting struct {
	Section string
	Name    string
	Value   string
	Type    string
	Dirty   bool
}

func (s *Setting) String() string {
	return fmt.Sprintf("%s.%s", s.Section, s.Name)
}

type key struct {
	section string
	name    string
}

// Registry is the ordered set of settings known to the directory. Entries of
// one section are kept next to each other, in the order they registered.
// It is not safe for concurrent use, the directory owns it from a single
// goroutine.
type Registry struct {
	settings []*Setting
	index    map[key]*Setting
}

func New() *Registry {
	return &Registry{
		index: make(map[key]*Setting),
	}
}

func (r *Registry) Len() int {
	return len(r.settings)
}

func (r *Registry) Lookup(section, name string) *Setting {
	return r.index[key{section, name}]
}

// Insert places s right after the last entry of its section, or at the end
// when the section is new.
func (r *Registry) Insert(s *Setting) error {
	k := key{s.Section, s.Name}
	if _, ok := r.index[k]; ok {
		return fmt.Errorf("registry.Insert(): %w: %s", ErrExists, s)
	}

	pos := len(r.settings)
	for i := len(r.settings) - 1; i >= 0; i-- {
		if r.settings[i].Section == s.Section {
			pos = i + 1
			break
		}
	}

	r.settings = append(r.settings, nil)
	copy(r.settings[pos+1:], r.settings[pos:])
	r.settings[pos] = s
	r.index[k] = s

	return nil
}

// At returns the entry at position i, or nil past the end.
func (r *Registry) At(i int) *Setting {
	if i < 0 || i >= len(r.settings) {
		return nil
	}
	return r.settings[i]
}

// MarkDirtyIfChanged stores value and marks the entry dirty, but only when
// value differs from what is cached. Confirming an unchanged value must not
// cause a redundant persist.
func (r *Registry) MarkDirtyIfChanged(section, name, value string) (changed bool, err error) {
	s := r.Lookup(section, name)
	if s == nil {
		err = fmt.Errorf("registry.MarkDirtyIfChanged(): %w: %s.%s", ErrNotFound, section, name)
		return
	}
	if s.Value == value {
		return
	}

	s.Value = value
	s.Dirty = true
	changed = true
	return
}

// Each calls fn for every entry in registry order until fn returns false.
func (r *Registry) Each(fn func(i int, s *Setting) bool) {
	for i, s := range r.settings {
		if !fn(i, s) {
			return
		}
	}
}

// Dirty returns copies of all dirty entries in registry order.
func (r *Registry) Dirty() []Setting {
	var out []Setting
	for _, s := range r.settings {
		if s.Dirty {
			out = append(out, *s)
		}
	}
	return out
}
