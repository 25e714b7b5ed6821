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

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"gitlab.com/postmarketOS/gnss_settings/internal/bus"
	"gitlab.com/postmarketOS/gnss_settings/internal/client"
	"gitlab.com/postmarketOS/gnss_settings/internal/config"
	"gitlab.com/postmarketOS/gnss_settings/internal/logging"
	"gitlab.com/postmarketOS/gnss_settings/internal/owner"
)

var errNegativeRate = errors.New("message rate must not be negative")

type nmeaSettings struct {
	gga     *owner.Setting[int64]
	rmc     *owner.Setting[int64]
	talker  *owner.Setting[string]
	enabled *owner.Setting[bool]
	version *owner.Setting[string]

	solnFreq *owner.Setting[float64]
}

func newNmeaSettings(log zerolog.Logger) *nmeaSettings {
	rate := func(name string) func(int64) error {
		return func(v int64) error {
			if v < 0 {
				return errNegativeRate
			}
			log.Info().Int64(name, v).Msg("message rate changed")
			return nil
		}
	}

	return &nmeaSettings{
		gga:     owner.NewInt(1, rate("gpgga_msg_rate")),
		rmc:     owner.NewInt(10, rate("gprmc_msg_rate")),
		talker:  owner.NewEnum([]string{"GP", "GN"}, "GN", nil),
		enabled: owner.NewBool(true, nil),
		version: owner.NewString("v1.0.0", nil).ReadOnly(),

		solnFreq: owner.NewFloat(10, func(v float64) error {
			log.Info().Float64("soln_freq", v).Msg("solution frequency changed")
			return nil
		}),
	}
}

func (n *nmeaSettings) register(ctx context.Context, o *owner.Owner) error {
	for _, s := range []struct {
		name string
		a    owner.Applier
	}{
		{"gpgga_msg_rate", n.gga},
		{"gprmc_msg_rate", n.rmc},
		{"talker_id", n.talker},
		{"enabled", n.enabled},
		{"version", n.version},
	} {
		if err := o.Add(ctx, "nmea", s.name, s.a); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	var confFile string
	flag.StringVarP(&confFile, "config", "c", config.DefaultFile, "Configuration file to use.")
	var sender uint16
	flag.Uint16Var(&sender, "sender", 0x0200, "Sender id to use on the bus.")
	var help bool
	flag.BoolVarP(&help, "help", "h", false, "Print help and quit.")

	flag.Usage = func() {
		fmt.Println("usage: sample_daemon [OPTION...]")
		fmt.Println("Owns a few NMEA output settings to show how daemons take part in settings.")
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

	log := logging.New("sample_daemon", conf.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ep, err := bus.Dial(ctx, conf.Socket, sender)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to attach to bus")
	}
	defer ep.Close()

	c := client.New(ep, log)
	o := owner.New(c, log)
	n := newNmeaSettings(log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.Run(ctx)
	})
	g.Go(func() error {
		if err := n.register(ctx, o); err != nil {
			return err
		}
		if err := o.Watch(ctx, "solution", "soln_freq", n.solnFreq); err != nil {
			log.Warn().Err(err).Msg("solution.soln_freq not available, keeping default")
		}
		log.Info().
			Int64("gpgga_msg_rate", n.gga.Get()).
			Int64("gprmc_msg_rate", n.rmc.Get()).
			Str("talker_id", n.talker.Get()).
			Bool("enabled", n.enabled.Get()).
			Msg("settings registered")
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("exiting")
	}
}
