// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package owner

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gitlab.com/postmarketOS/gnss_settings/internal/settings"
)

// Applier is what an owner exposes for each of its settings.
type Applier interface {
	// ValidateAndApply parses value and makes it current. Anything but
	// WriteOK leaves the current value untouched.
	ValidateAndApply(value string) settings.WriteStatus
	Value() string
	Type() string
}

// Setting is a typed setting value. Notify, if set, runs after a new value
// was parsed and stored; an error from it restores the previous value unless
// another write replaced it in the meantime. Notify runs without the lock
// held and may call Get or Value.
type Setting[T comparable] struct {
	mu       sync.Mutex
	value    T
	typ      string
	readOnly bool
	parse    func(string) (T, error)
	format   func(T) string
	notify   func(T) error
	writes   uint64
}

func (s *Setting[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func (s *Setting[T]) Value() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format(s.value)
}

func (s *Setting[T]) Type() string {
	return s.typ
}

// ReadOnly makes every write fail with WriteReadOnly.
func (s *Setting[T]) ReadOnly() *Setting[T] {
	s.mu.Lock()
	s.readOnly = true
	s.mu.Unlock()
	return s
}

func (s *Setting[T]) ValidateAndApply(value string) settings.WriteStatus {
	s.mu.Lock()
	if s.readOnly {
		s.mu.Unlock()
		return settings.WriteReadOnly
	}

	v, err := s.parse(value)
	if err != nil {
		s.mu.Unlock()
		return settings.WriteValueRejected
	}

	old := s.value
	s.value = v
	s.writes++
	mine := s.writes
	notify := s.notify
	s.mu.Unlock()

	if notify == nil {
		return settings.WriteOK
	}
	if err := notify(v); err != nil {
		s.mu.Lock()
		if s.writes == mine {
			s.value = old
		}
		s.mu.Unlock()
		return settings.WriteValueRejected
	}
	return settings.WriteOK
}

func NewInt(v int64, notify func(int64) error) *Setting[int64] {
	return &Setting[int64]{
		value:  v,
		parse:  func(s string) (int64, error) { return strconv.ParseInt(strings.TrimSpace(s), 10, 32) },
		format: func(v int64) string { return strconv.FormatInt(v, 10) },
		notify: notify,
	}
}

func NewFloat(v float64, notify func(float64) error) *Setting[float64] {
	return &Setting[float64]{
		value:  v,
		parse:  func(s string) (float64, error) { return strconv.ParseFloat(strings.TrimSpace(s), 64) },
		format: func(v float64) string { return strconv.FormatFloat(v, 'g', 12, 64) },
		notify: notify,
	}
}

func NewString(v string, notify func(string) error) *Setting[string] {
	return &Setting[string]{
		value:  v,
		parse:  func(s string) (string, error) { return s, nil },
		format: func(v string) string { return v },
		notify: notify,
	}
}

// NewEnum creates a setting that only takes one of names. v must be one of
// them.
func NewEnum(names []string, v string, notify func(string) error) *Setting[string] {
	return &Setting[string]{
		value: v,
		typ:   "enum:" + strings.Join(names, ","),
		parse: func(s string) (string, error) {
			for _, n := range names {
				if n == s {
					return s, nil
				}
			}
			return "", fmt.Errorf("owner: %q is not one of %v", s, names)
		},
		format: func(v string) string { return v },
		notify: notify,
	}
}

var boolNames = []string{"False", "True"}

// NewBool is an enum of False and True.
func NewBool(v bool, notify func(bool) error) *Setting[bool] {
	return &Setting[bool]{
		value: v,
		typ:   "enum:" + strings.Join(boolNames, ","),
		parse: func(s string) (bool, error) {
			switch s {
			case "True":
				return true, nil
			case "False":
				return false, nil
			}
			return false, fmt.Errorf("owner: %q is not a bool", s)
		},
		format: func(v bool) string { return boolNames[boolIndex(v)] },
		notify: notify,
	}
}

func boolIndex(v bool) int {
	if v {
		return 1
	}
	return 0
}
