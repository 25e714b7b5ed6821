// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"gitlab.com/postmarketOS/gnss_settings/internal/bus"
	"gitlab.com/postmarketOS/gnss_settings/internal/config"
	"gitlab.com/postmarketOS/gnss_settings/internal/logging"
)

func main() {
	var confFile string
	flag.StringVarP(&confFile, "config", "c", config.DefaultFile, "Configuration file to use.")
	var serialDevice string
	flag.StringVarP(&serialDevice, "serial", "s", "", "Bridge the bus to this serial device, overrides the configuration file.")
	var help bool
	flag.BoolVarP(&help, "help", "h", false, "Print help and quit.")

	flag.Usage = func() {
		fmt.Println("usage: busd [OPTION...]")
		fmt.Println("Runs the settings bus, relaying every frame to all attached daemons.")
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
	if serialDevice != "" {
		conf.SerialDevice = serialDevice
	}

	log := logging.New("busd", conf.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker := bus.NewBroker(conf.Socket, conf.OwnerGroup, log)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return broker.Start(ctx)
	})
	if conf.SerialDevice != "" {
		g.Go(func() error {
			return broker.AttachSerial(ctx, conf.SerialDevice, conf.BaudRate)
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("bus stopped")
	}
	log.Info().Msg("bus stopped")
}
