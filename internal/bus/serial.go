// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package bus

import (
	"context"
	"fmt"

	"go.bug.st/serial"
)

// AttachSerial bridges the bus to a serial port, e.g. a UART exposed to an
// external host. Frames from the host are published on the bus and every bus
// frame is written to the host. It blocks until the port fails or ctx is
// done.
func (b *Broker) AttachSerial(ctx context.Context, device string, baud int) error {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return fmt.Errorf("bus.Broker.AttachSerial(): %w", err)
	}

	b.log.Info().Str("device", device).Int("baud", baud).Msg("serial bridge opened")
	b.Attach(ctx, device, port)

	return nil
}
