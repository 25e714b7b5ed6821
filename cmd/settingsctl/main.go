// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"gitlab.com/postmarketOS/gnss_settings/internal/bus"
	"gitlab.com/postmarketOS/gnss_settings/internal/client"
	"gitlab.com/postmarketOS/gnss_settings/internal/config"
	"gitlab.com/postmarketOS/gnss_settings/internal/logging"
	"gitlab.com/postmarketOS/gnss_settings/internal/settings"
)

func usage() {
	flag.CommandLine.Usage()
}

func main() {
	var socket string
	flag.StringVarP(&socket, "socket", "s", config.DefaultSocket, "Path to the settings bus socket.")
	var sender uint16
	flag.Uint16Var(&sender, "sender", 0x0100, "Sender id to use on the bus.")
	var timeout time.Duration
	flag.DurationVarP(&timeout, "timeout", "t", 5*time.Second, "Give up after this long.")
	var verbose bool
	flag.BoolVarP(&verbose, "verbose", "v", false, "Log protocol details to stderr.")

	var help bool
	flag.BoolVarP(&help, "help", "h", false, "Print help and quit.")

	flag.Usage = func() {
		fmt.Println("usage: settingsctl [OPTION...] COMMAND ")
		fmt.Println("Options:")
		flag.PrintDefaults()
		fmt.Println("Commands:")
		fmt.Printf("  %-28s\t%s\n", "read <section> <name>", "Print the current value of a setting.")
		fmt.Printf("  %-28s\t%s\n", "write <section> <name> <value>", "Change a setting.")
		fmt.Printf("  %-28s\t%s\n", "list", "Print all registered settings.")
		fmt.Printf("  %-28s\t%s\n", "dump", "Print all registered settings as YAML.")
		fmt.Printf("  %-28s\t%s\n", "save", "Persist changed settings.")
	}

	flag.Parse()

	if help {
		usage()
		return
	}

	log := zerolog.Nop()
	if verbose {
		log = logging.New("settingsctl", "debug")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := run(ctx, socket, sender, log, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, socket string, sender uint16, log zerolog.Logger, args []string) error {
	if len(args) == 0 {
		usage()
		return nil
	}

	ep, err := bus.Dial(ctx, socket, sender)
	if err != nil {
		return err
	}
	defer ep.Close()

	c := client.New(ep, log)
	go c.Run(ctx)

	switch cmd := args[0]; cmd {
	case "read":
		if len(args) < 3 {
			usage()
			return nil
		}
		e, err := c.Read(ctx, args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Println(e.Value)
	case "write":
		if len(args) < 4 {
			usage()
			return nil
		}
		status, err := c.Write(ctx, args[1], args[2], args[3])
		if err != nil {
			return err
		}
		if status != settings.WriteOK {
			return fmt.Errorf("write %s.%s rejected: %s", args[1], args[2], status)
		}
	case "list":
		entries, err := c.List(ctx)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s.%s=%s\n", e.Section, e.Name, e.Value)
		}
	case "dump":
		entries, err := c.List(ctx)
		if err != nil {
			return err
		}
		return dump(os.Stdout, entries)
	case "save":
		return c.Save(ctx)
	default:
		fmt.Printf("Unknown command: %q\n", cmd)
		usage()
	}

	return nil
}

// dump writes entries as a mapping of sections to name/value mappings,
// keeping registry order.
func dump(w io.Writer, entries []client.Entry) error {
	root := &yaml.Node{Kind: yaml.MappingNode}
	sections := map[string]*yaml.Node{}

	for _, e := range entries {
		sec, ok := sections[e.Section]
		if !ok {
			sec = &yaml.Node{Kind: yaml.MappingNode}
			sections[e.Section] = sec
			root.Content = append(root.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: e.Section},
				sec,
			)
		}

		value := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Value}
		if e.Type != "" {
			value.LineComment = e.Type
		}
		sec.Content = append(sec.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: e.Name},
			value,
		)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return err
	}
	return enc.Close()
}
