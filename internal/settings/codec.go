// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

package settings

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"gitlab.com/postmarketOS/gnss_settings/internal/sbp"
)

// MaxPayload bounds every encoded settings message.
const MaxPayload = sbp.MaxPayload

const (
	tokensName  = 2
	tokensValue = 3
	tokensType  = 4
)

var (
	ErrTooLong      = errors.New("settings: encoded message too long")
	ErrParse        = errors.New("settings: parse error")
	ErrInvalidField = errors.New("settings: field contains NUL")
)

// Tuple is the decoded form of a settings payload. Fields reports how many
// tokens were present on the wire: 2 (section, name), 3 (+ value) or
// 4 (+ type).
type Tuple struct {
	Section string
	Name    string
	Value   string
	Type    string
	Fields  int
}

func (t Tuple) HasValue() bool {
	return t.Fields >= tokensValue
}

func (t Tuple) HasType() bool {
	return t.Fields >= tokensType
}

func (t Tuple) String() string {
	return fmt.Sprintf("%s.%s=%q", t.Section, t.Name, t.Value)
}

func appendFields(dst []byte, fields ...string) ([]byte, error) {
	n := len(dst)
	for _, f := range fields {
		if strings.IndexByte(f, 0) >= 0 {
			return nil, ErrInvalidField
		}
		n += len(f) + 1
	}
	if n > MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLong, n, MaxPayload)
	}

	out := make([]byte, len(dst), n)
	copy(out, dst)
	for _, f := range fields {
		out = append(out, f...)
		out = append(out, 0)
	}
	return out, nil
}

// Encode packs section, name and value, followed by typ when it is not
// empty. Nothing is returned when the result would not fit in MaxPayload.
func Encode(section, name, value, typ string) ([]byte, error) {
	return AppendEncode(nil, section, name, value, typ)
}

// AppendEncode is Encode with a prefix, the bound applies to the whole
// message including the prefix.
func AppendEncode(prefix []byte, section, name, value, typ string) ([]byte, error) {
	if typ == "" {
		return appendFields(prefix, section, name, value)
	}
	return appendFields(prefix, section, name, value, typ)
}

// EncodeKey packs the two field form used by read requests.
func EncodeKey(section, name string) ([]byte, error) {
	return appendFields(nil, section, name)
}

// Decode splits a payload into its tokens. The last byte has to terminate
// the last field. An empty terminator right after the type field is
// accepted, older firmware emitted one.
func Decode(b []byte) (t Tuple, err error) {
	if len(b) == 0 || b[len(b)-1] != 0 {
		err = fmt.Errorf("%w: missing terminator", ErrParse)
		return
	}

	var tokens [tokensType]string
	n := 0
	start := 0
	for i, c := range b {
		if c != 0 {
			continue
		}
		if n == tokensType {
			// only a trailing empty token is allowed past the type
			if i == start && i == len(b)-1 {
				break
			}
			err = fmt.Errorf("%w: too many fields", ErrParse)
			return
		}
		tokens[n] = string(b[start:i])
		n++
		start = i + 1
	}

	if n < tokensName {
		err = fmt.Errorf("%w: expected at least %d fields, got %d", ErrParse, tokensName, n)
		return
	}

	t = Tuple{
		Section: tokens[0],
		Name:    tokens[1],
		Value:   tokens[2],
		Type:    tokens[3],
		Fields:  n,
	}
	return
}

// DecodeValue is Decode, additionally requiring a value field.
func DecodeValue(b []byte) (Tuple, error) {
	t, err := Decode(b)
	if err != nil {
		return t, err
	}
	if !t.HasValue() {
		return t, fmt.Errorf("%w: missing value", ErrParse)
	}
	return t, nil
}

// EncodeRegisterResponse builds result | section | name | value.
func EncodeRegisterResponse(res RegisterResult, section, name, value string) ([]byte, error) {
	return AppendEncode([]byte{byte(res)}, section, name, value, "")
}

// EncodeWriteResponse builds status | section | name | value.
func EncodeWriteResponse(status WriteStatus, section, name, value string) ([]byte, error) {
	return AppendEncode([]byte{byte(status)}, section, name, value, "")
}

// EncodeWriteRejection builds a write response carrying the request bytes
// as they were received, truncated to fit.
func EncodeWriteRejection(status WriteStatus, request []byte) []byte {
	n := len(request)
	if n > MaxPayload-1 {
		n = MaxPayload - 1
	}
	out := make([]byte, 0, n+1)
	out = append(out, byte(status))
	return append(out, request[:n]...)
}

// SplitStatus separates the leading result/status byte from the tuple.
func SplitStatus(b []byte) (byte, []byte, error) {
	if len(b) < 1 {
		return 0, nil, fmt.Errorf("%w: missing status", ErrParse)
	}
	return b[0], b[1:], nil
}

// EncodeIndex builds a read by index request.
func EncodeIndex(index uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, index)
}

// DecodeIndex parses a read by index request, which is exactly the index.
func DecodeIndex(b []byte) (uint16, error) {
	if len(b) != 2 {
		return 0, fmt.Errorf("%w: index payload length %d", ErrParse, len(b))
	}
	return binary.LittleEndian.Uint16(b), nil
}

// EncodeReadByIndexResponse builds index | section | name | value | type.
func EncodeReadByIndexResponse(index uint16, section, name, value, typ string) ([]byte, error) {
	return AppendEncode(EncodeIndex(index), section, name, value, typ)
}

func DecodeReadByIndexResponse(b []byte) (uint16, Tuple, error) {
	if len(b) < 2 {
		return 0, Tuple{}, fmt.Errorf("%w: short read by index response", ErrParse)
	}
	t, err := DecodeValue(b[2:])
	if err != nil {
		return 0, t, err
	}
	return binary.LittleEndian.Uint16(b[:2]), t, nil
}
