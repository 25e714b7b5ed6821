// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"gitlab.com/postmarketOS/gnss_settings/internal/bus"
	"gitlab.com/postmarketOS/gnss_settings/internal/config"
	"gitlab.com/postmarketOS/gnss_settings/internal/directory"
	"gitlab.com/postmarketOS/gnss_settings/internal/logging"
	"gitlab.com/postmarketOS/gnss_settings/internal/registry"
	"gitlab.com/postmarketOS/gnss_settings/internal/store"
)

func main() {
	var confFile string
	flag.StringVarP(&confFile, "config", "c", config.DefaultFile, "Configuration file to use.")
	var resetDefaults bool
	flag.BoolVar(&resetDefaults, "reset-defaults", false, "Delete all saved settings before starting.")
	var help bool
	flag.BoolVarP(&help, "help", "h", false, "Print help and quit.")

	flag.Usage = func() {
		fmt.Println("usage: settingsd [OPTION...]")
		fmt.Println("Runs the settings directory.")
		fmt.Println("Options:")
		flag.PrintDefaults()
	}

	flag.Parse()

	if help {
		flag.Usage()
		return
	}

	conf, err := config.Parse(confFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logging.New("settingsd", conf.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := store.New(conf.SettingsFile)
	if resetDefaults {
		if err := st.Reset(); err != nil {
			log.Fatal().Err(err).Msg("unable to reset settings")
		}
		log.Info().Str("file", st.Path()).Msg("settings reset to defaults")
	}

	ep, err := dial(ctx, conf, log)
	if err != nil {
		log.Fatal().Err(err).Str("socket", conf.Socket).Msg("unable to attach to bus")
	}
	defer ep.Close()
	ep.SetMaxDrain(conf.MaxDrain)

	d := directory.New(registry.New(), st, ep, log)

	log.Info().
		Str("socket", conf.Socket).
		Str("file", st.Path()).
		Uint16("sender", conf.SenderID).
		Msg("settings directory running")

	err = ep.Run(ctx, d.Handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("bus connection lost")
	}
	log.Info().Int("settings", d.Registry().Len()).Msg("stopped")
}

// dial waits for the bus to come up.
func dial(ctx context.Context, conf *config.Config, log zerolog.Logger) (*bus.Endpoint, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 2 * time.Second

	return backoff.Retry(ctx, func() (*bus.Endpoint, error) {
		return bus.Dial(ctx, conf.Socket, conf.SenderID)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(30*time.Second),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().Err(err).Dur("retry_in", next).Msg("bus not ready")
		}),
	)
}
