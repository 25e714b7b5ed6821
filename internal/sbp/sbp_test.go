// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package sbp

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// Test frame checksumming
func TestChecksum(t *testing.T) {
	tables := []struct {
		in       string
		expected uint16
	}{
		{"123456789", 0x31C3},
		{"", 0x0000},
		{"A", 0x58E5},
	}

	for _, table := range tables {
		out := crc16(0, []byte(table.in))
		if out != table.expected {
			t.Errorf("%q expected: 0x%04X, got: 0x%04X", table.in, table.expected, out)
		}
	}
}

func TestBytesLayout(t *testing.T) {
	f := Frame{Type: 0x00A1, Sender: 0x0042}
	b, err := f.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	head := []byte{Preamble, 0xA1, 0x00, 0x42, 0x00, 0x00}
	if !bytes.Equal(b[:headerLen], head) {
		t.Errorf("header expected: % X, got: % X", head, b[:headerLen])
	}
	if len(b) != headerLen+crcLen {
		t.Errorf("length expected: %d, got: %d", headerLen+crcLen, len(b))
	}
}

func TestBytesTooLarge(t *testing.T) {
	f := Frame{Type: 1, Payload: make([]byte, MaxPayload+1)}
	if _, err := f.Bytes(); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got: %v", err)
	}
}

func TestParse(t *testing.T) {
	in := Frame{Type: 0x00AE, Sender: 0x1234, Payload: []byte("uart0\x00mode\x00SBP\x00")}
	b, err := in.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	out, err := Parse(b)
	if err != nil {
		t.Fatal(err)
	}
	if out.Type != in.Type || out.Sender != in.Sender || !bytes.Equal(out.Payload, in.Payload) {
		t.Errorf("expected: %v %q, got: %v %q", in, in.Payload, out, out.Payload)
	}

	b[len(b)-1] ^= 0xFF
	if _, err := Parse(b); !errors.Is(err, ErrBadCRC) {
		t.Errorf("expected ErrBadCRC, got: %v", err)
	}

	if _, err := Parse(b[:4]); !errors.Is(err, ErrShortFrame) {
		t.Errorf("expected ErrShortFrame, got: %v", err)
	}
}

// Test that the decoder skips garbage and corrupted frames
func TestDecoderResync(t *testing.T) {
	good := []Frame{
		{Type: 0x00A4, Sender: 1, Payload: []byte("a\x00b\x00")},
		{Type: 0x00A6, Sender: 2},
		{Type: 0x00A5, Sender: 3, Payload: bytes.Repeat([]byte{'x'}, MaxPayload)},
	}

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x13, 0x37})
	for i, f := range good {
		b, err := f.Bytes()
		if err != nil {
			t.Fatal(err)
		}
		if i == 1 {
			bad := append([]byte(nil), b...)
			bad[len(bad)-2] ^= 0x01
			stream.Write(bad)
		}
		stream.Write(b)
	}

	d := NewDecoder(&stream)
	for _, want := range good {
		got, err := d.Next()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Type != want.Type || got.Sender != want.Sender || !bytes.Equal(got.Payload, want.Payload) {
			t.Errorf("expected: %v, got: %v", want, got)
		}
	}

	if d.Dropped != 1 {
		t.Errorf("dropped expected: 1, got: %d", d.Dropped)
	}

	if _, err := d.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got: %v", err)
	}
}

// A corrupted frame is skipped by its own length, taking any frame that
// starts inside it along.
func TestDecoderDiscardsCorruptSpan(t *testing.T) {
	inner, err := Frame{Type: 0x00A4, Sender: 1, Payload: []byte("a\x00b\x00")}.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	outer, err := Frame{Type: 0x00A5, Sender: 2, Payload: inner}.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	outer[len(outer)-1] ^= 0xFF
	last := Frame{Type: 0x00A6, Sender: 3}
	tail, err := last.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	d := NewDecoder(bytes.NewReader(append(outer, tail...)))
	got, err := d.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Type != last.Type || got.Sender != last.Sender {
		t.Errorf("expected: %v, got: %v", last, got)
	}
	if d.Dropped != 1 {
		t.Errorf("dropped expected: 1, got: %d", d.Dropped)
	}
}

func TestDecoderTruncated(t *testing.T) {
	b, err := Frame{Type: 1, Payload: []byte("abc")}.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	d := NewDecoder(bytes.NewReader(b[:len(b)-3]))
	if _, err := d.Next(); err != io.ErrUnexpectedEOF {
		t.Errorf("expected io.ErrUnexpectedEOF, got: %v", err)
	}
}
