// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// EnvLevel overrides the configured level when set.
const EnvLevel = "GNSS_SETTINGS_LOG_LEVEL"

// New returns a console logger on stderr tagged with app.
func New(app string, level string) zerolog.Logger {
	return NewWriter(os.Stderr, app, level)
}

func NewWriter(w io.Writer, app string, level string) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return zerolog.New(out).
		Level(Level(level)).
		With().
		Timestamp().
		Str("app", app).
		Logger()
}

// Level resolves the effective level. Unknown names fall back to info.
func Level(configured string) zerolog.Level {
	name := configured
	if env := os.Getenv(EnvLevel); env != "" {
		name = env
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || name == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
