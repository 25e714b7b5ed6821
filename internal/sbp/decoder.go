// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package sbp

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

// Decoder reads frames from a byte stream. Bytes before a preamble are
// skipped. A frame whose CRC does not match is discarded as a whole, using the
// length from its own header, and scanning resumes after its CRC. A valid
// frame that starts inside the discarded span is lost with it.
type Decoder struct {
	r *bufio.Reader

	// Dropped counts frames discarded because of a CRC mismatch.
	Dropped int
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, MaxFrame)}
}

// Next blocks until a complete, valid frame is read. It only returns an
// error when the underlying reader does.
func (d *Decoder) Next() (Frame, error) {
	var buf [MaxFrame]byte

	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return Frame{}, err
		}
		if b != Preamble {
			continue
		}

		buf[0] = b
		if _, err := io.ReadFull(d.r, buf[1:headerLen]); err != nil {
			return Frame{}, unexpected(err)
		}

		n := int(buf[5])
		end := headerLen + n + crcLen
		if _, err := io.ReadFull(d.r, buf[headerLen:end]); err != nil {
			return Frame{}, unexpected(err)
		}

		want := binary.LittleEndian.Uint16(buf[headerLen+n : end])
		if crc16(0, buf[1:headerLen+n]) != want {
			d.Dropped++
			continue
		}

		return Frame{
			Type:    binary.LittleEndian.Uint16(buf[1:3]),
			Sender:  binary.LittleEndian.Uint16(buf[3:5]),
			Payload: append([]byte(nil), buf[headerLen:headerLen+n]...),
		}, nil
	}
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
