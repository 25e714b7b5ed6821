// Copyright 2021 Clayton Craft <clayton@craftyguy.net>
// SPDX-License-Identifier: GPL-3.0-or-later

// Package settings holds the wire contract of the settings protocol: message
// kinds, result codes and the NUL-terminated (section, name, value, type)
// tuple carried in every settings payload.
package settings

import "fmt"

// Kind is the bus message type of a settings message.
type Kind = uint16

const (
	KindWrite               Kind = 0x00A0
	KindSave                Kind = 0x00A1
	KindReadByIndexRequest  Kind = 0x00A2
	KindReadRequest         Kind = 0x00A4
	KindReadResponse        Kind = 0x00A5
	KindReadByIndexDone     Kind = 0x00A6
	KindReadByIndexResponse Kind = 0x00A7
	KindRegister            Kind = 0x00AE
	KindWriteResponse       Kind = 0x00AF
	KindRegisterResponse    Kind = 0x01AF
)

// KindName returns a human readable name for logging.
func KindName(k Kind) string {
	switch k {
	case KindWrite:
		return "write"
	case KindSave:
		return "save"
	case KindReadByIndexRequest:
		return "read_by_index_req"
	case KindReadRequest:
		return "read_req"
	case KindReadResponse:
		return "read_resp"
	case KindReadByIndexDone:
		return "read_by_index_done"
	case KindReadByIndexResponse:
		return "read_by_index_resp"
	case KindRegister:
		return "register"
	case KindWriteResponse:
		return "write_resp"
	case KindRegisterResponse:
		return "register_resp"
	}
	return fmt.Sprintf("0x%04X", k)
}

// RegisterResult is the first byte of a register response.
type RegisterResult uint8

const (
	RegisterOK RegisterResult = iota
	// RegisterOKPermanent means the directory adopted a persisted value
	// instead of the one the owner declared.
	RegisterOKPermanent
	RegisterAlreadyRegistered
	RegisterParseFailed
)

func (r RegisterResult) String() string {
	switch r {
	case RegisterOK:
		return "ok"
	case RegisterOKPermanent:
		return "ok_permanent"
	case RegisterAlreadyRegistered:
		return "already_registered"
	case RegisterParseFailed:
		return "parse_failed"
	}
	return fmt.Sprintf("unknown(%d)", uint8(r))
}

// WriteStatus is the first byte of a write response.
type WriteStatus uint8

const (
	WriteOK WriteStatus = iota
	WriteValueRejected
	WriteSettingRejected
	WriteParseFailed
	WriteReadOnly
	WriteModifyDisabled
	WriteServiceFailed
	WriteTimeout
)

func (s WriteStatus) String() string {
	switch s {
	case WriteOK:
		return "ok"
	case WriteValueRejected:
		return "value_rejected"
	case WriteSettingRejected:
		return "setting_rejected"
	case WriteParseFailed:
		return "parse_failed"
	case WriteReadOnly:
		return "read_only"
	case WriteModifyDisabled:
		return "modify_disabled"
	case WriteServiceFailed:
		return "service_failed"
	case WriteTimeout:
		return "timeout"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}
