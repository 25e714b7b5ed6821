// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package sbp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	Preamble byte = 0x55

	// MaxPayload is the largest payload a single frame can carry, the
	// length field is one byte.
	MaxPayload = 255

	headerLen = 6
	crcLen    = 2
	MaxFrame  = headerLen + MaxPayload + crcLen
)

var (
	ErrPayloadTooLarge = errors.New("sbp: payload too large")
	ErrBadPreamble     = errors.New("sbp: bad preamble")
	ErrBadCRC          = errors.New("sbp: crc mismatch")
	ErrShortFrame      = errors.New("sbp: short frame")
)

// Frame is one message on the bus. Type carries the message kind and Sender
// the identity of the process that sent it, neither is part of Payload.
type Frame struct {
	Type    uint16
	Sender  uint16
	Payload []byte
}

// crc16 is CRC-16/XMODEM (poly 0x1021, init 0).
func crc16(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func (f Frame) String() string {
	return fmt.Sprintf("sbp{type: 0x%04X, sender: 0x%04X, len: %d}", f.Type, f.Sender, len(f.Payload))
}

// Bytes encodes the frame for the wire.
func (f Frame) Bytes() ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("sbp.Frame.Bytes(): %w: %d", ErrPayloadTooLarge, len(f.Payload))
	}

	buf := make([]byte, headerLen, headerLen+len(f.Payload)+crcLen)
	buf[0] = Preamble
	binary.LittleEndian.PutUint16(buf[1:3], f.Type)
	binary.LittleEndian.PutUint16(buf[3:5], f.Sender)
	buf[5] = byte(len(f.Payload))
	buf = append(buf, f.Payload...)

	crc := crc16(0, buf[1:])
	buf = binary.LittleEndian.AppendUint16(buf, crc)

	return buf, nil
}

// Parse decodes exactly one frame from b.
func Parse(b []byte) (f Frame, err error) {
	if len(b) < headerLen+crcLen {
		err = ErrShortFrame
		return
	}
	if b[0] != Preamble {
		err = ErrBadPreamble
		return
	}

	n := int(b[5])
	if len(b) != headerLen+n+crcLen {
		err = ErrShortFrame
		return
	}

	want := binary.LittleEndian.Uint16(b[headerLen+n:])
	if crc16(0, b[1:headerLen+n]) != want {
		err = ErrBadCRC
		return
	}

	f.Type = binary.LittleEndian.Uint16(b[1:3])
	f.Sender = binary.LittleEndian.Uint16(b[3:5])
	f.Payload = append([]byte(nil), b[headerLen:headerLen+n]...)

	return
}
