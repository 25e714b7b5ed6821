// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gitlab.com/postmarketOS/gnss_settings/internal/registry"
)

// Store keeps overrides for registered settings in an ini style file:
//
//	[section]
//	name=value
//
// The file only ever holds settings that were changed from the value their
// owner declared.
type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// LoadOverride returns the persisted value for section.name. A missing file,
// section or key all mean there is no override. An empty value is a valid
// override.
//
// The file is read the way Save writes it: a line "[section]" opens a
// section, any other line is split at its first '='. Keys are trimmed,
// values are taken verbatim up to the end of the line. Lines that fit
// neither form are skipped. The first match wins.
func (s *Store) LoadOverride(section, name string) (value string, ok bool, err error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		err = nil
		return
	}
	if err != nil {
		err = fmt.Errorf("store.LoadOverride(): %w", err)
		return
	}
	defer f.Close()

	current := ""
	inSection := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")

		if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			current = strings.TrimSpace(trimmed[1 : len(trimmed)-1])
			inSection = true
			continue
		}
		if !inSection || current != section {
			continue
		}

		k, v, found := strings.Cut(line, "=")
		if !found || strings.TrimSpace(k) != name {
			continue
		}
		return v, true, nil
	}
	if err = scanner.Err(); err != nil {
		err = fmt.Errorf("store.LoadOverride(): %q: %w", s.path, err)
	}
	return
}

// ErrUnstorable is returned by Save for settings whose section, name or
// value cannot be written as a single line that reads back unchanged. The
// other settings are still saved.
var ErrUnstorable = errors.New("store: setting cannot be stored")

func storable(st registry.Setting) bool {
	return !strings.ContainsAny(st.Section, "[]\r\n") &&
		strings.TrimSpace(st.Section) == st.Section &&
		!strings.ContainsAny(st.Name, "=\r\n") &&
		strings.TrimSpace(st.Name) == st.Name &&
		!strings.ContainsAny(st.Value, "\r\n")
}

// Save rewrites the file with the given settings, grouped under one header
// per run of equal sections. Callers pass only the settings that need an
// override record, in registry order.
func (s *Store) Save(settings []registry.Setting) (err error) {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("store.Save(): %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriter(tmp)
	var skipped []string
	section := ""
	header := false
	for _, st := range settings {
		if !storable(st) {
			skipped = append(skipped, st.String())
			continue
		}
		if !header || st.Section != section {
			header = true
			section = st.Section
			if _, err = fmt.Fprintf(w, "[%s]\n", section); err != nil {
				return fmt.Errorf("store.Save(): %w", err)
			}
		}
		if _, err = fmt.Fprintf(w, "%s=%s\n", st.Name, st.Value); err != nil {
			return fmt.Errorf("store.Save(): %w", err)
		}
	}

	if err = w.Flush(); err != nil {
		return fmt.Errorf("store.Save(): %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("store.Save(): %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("store.Save(): %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("store.Save(): %w", err)
	}
	if err = os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("store.Save(): %w", err)
	}

	if len(skipped) > 0 {
		return fmt.Errorf("store.Save(): %s: %w", strings.Join(skipped, ", "), ErrUnstorable)
	}
	return nil
}

// Reset deletes the file, restoring every setting to its owner's default on
// the next start.
func (s *Store) Reset() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("store.Reset(): %w", err)
	}
	return nil
}
