// Copyright (C) 2017 Kale Blankenship. All rights reserved.
// This software may be modified and distributed under the terms
// of the MIT license.  See the LICENSE file for details

package tftp

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// opcode is the 16-bit big-endian operation code every TFTP datagram
// opens with.
type opcode uint16

const (
	opRRQ   opcode = 1
	opWRQ   opcode = 2
	opDATA  opcode = 3
	opACK   opcode = 4
	opERROR opcode = 5
)

func (o opcode) String() string {
	switch o {
	case opRRQ:
		return "RRQ"
	case opWRQ:
		return "WRQ"
	case opDATA:
		return "DATA"
	case opACK:
		return "ACK"
	case opERROR:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN_OPCODE_%d", uint16(o))
	}
}

// ErrorCode is a TFTP error code as defined in RFC 1350.
type ErrorCode uint16

const (
	ErrCodeNotDefined        ErrorCode = 0
	ErrCodeFileNotFound      ErrorCode = 1
	ErrCodeAccessViolation   ErrorCode = 2
	ErrCodeDiskFull          ErrorCode = 3
	ErrCodeIllegalOperation  ErrorCode = 4
	ErrCodeUnknownTransferID ErrorCode = 5
	ErrCodeFileAlreadyExists ErrorCode = 6
	ErrCodeNoSuchUser        ErrorCode = 7
)

var errorCodeStrings = map[ErrorCode]string{
	ErrCodeNotDefined:        "NOT_DEFINED",
	ErrCodeFileNotFound:      "FILE_NOT_FOUND",
	ErrCodeAccessViolation:   "ACCESS_VIOLATION",
	ErrCodeDiskFull:          "DISK_FULL",
	ErrCodeIllegalOperation:  "ILLEGAL_OPERATION",
	ErrCodeUnknownTransferID: "UNKNOWN_TRANSFER_ID",
	ErrCodeFileAlreadyExists: "FILE_ALREADY_EXISTS",
	ErrCodeNoSuchUser:        "NO_SUCH_USER",
}

func (e ErrorCode) String() string {
	if name, ok := errorCodeStrings[e]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_ERROR_%d", uint16(e))
}

// TransferMode is a TFTP transfer mode.
type TransferMode string

const (
	ModeNetASCII TransferMode = "netascii"
	ModeOctet    TransferMode = "octet"
	ModeMail     TransferMode = "mail"
)

// blockSize is the fixed DATA payload size spec §3 requires; a
// payload shorter than this signals the terminal block.
const blockSize = 512

// datagram holds a decoded or to-be-encoded TFTP packet. Unlike the
// teacher's windowed variant there is no window byte and no option
// string: wire layout is exactly RFC 1350's five packet kinds.
type datagram struct {
	op       opcode
	filename string
	mode     TransferMode
	block    uint16
	payload  []byte
	errCode  ErrorCode
	errMsg   string
}

func (d *datagram) String() string {
	switch d.op {
	case opRRQ, opWRQ:
		return fmt.Sprintf("%s[filename=%q mode=%q]", d.op, d.filename, d.mode)
	case opDATA:
		return fmt.Sprintf("%s[block=%d len=%d]", d.op, d.block, len(d.payload))
	case opACK:
		return fmt.Sprintf("%s[block=%d]", d.op, d.block)
	case opERROR:
		return fmt.Sprintf("%s[code=%s msg=%q]", d.op, d.errCode, d.errMsg)
	default:
		return d.op.String()
	}
}

// encodeRequest builds an RRQ or WRQ datagram: opcode, filename
// C-string, mode C-string, both NUL-terminated (spec §3, §4.A).
func encodeRequest(op opcode, filename string, mode TransferMode) []byte {
	buf := make([]byte, 0, 2+len(filename)+1+len(mode)+1)
	buf = binary.BigEndian.AppendUint16(buf, uint16(op))
	buf = append(buf, filename...)
	buf = append(buf, 0)
	buf = append(buf, mode...)
	buf = append(buf, 0)
	return buf
}

func encodeReadRequest(filename string, mode TransferMode) []byte {
	return encodeRequest(opRRQ, filename, mode)
}

func encodeWriteRequest(filename string, mode TransferMode) []byte {
	return encodeRequest(opWRQ, filename, mode)
}

// encodeData builds a DATA datagram for block n carrying payload
// (0..512 bytes).
func encodeData(block uint16, payload []byte) []byte {
	buf := make([]byte, 0, 4+len(payload))
	buf = binary.BigEndian.AppendUint16(buf, uint16(opDATA))
	buf = binary.BigEndian.AppendUint16(buf, block)
	buf = append(buf, payload...)
	return buf
}

// encodeAck builds a 4-byte ACK datagram.
func encodeAck(block uint16) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], uint16(opACK))
	binary.BigEndian.PutUint16(buf[2:4], block)
	return buf
}

// encodeError builds an ERROR datagram: opcode, error code, message
// C-string, NUL-terminated.
func encodeError(code ErrorCode, msg string) []byte {
	buf := make([]byte, 0, 4+len(msg)+1)
	buf = binary.BigEndian.AppendUint16(buf, uint16(opERROR))
	buf = binary.BigEndian.AppendUint16(buf, uint16(code))
	buf = append(buf, msg...)
	buf = append(buf, 0)
	return buf
}

// errIllegalOperation is returned by decode when a datagram fails a
// packet-kind-specific length check; spec §4.A requires these map to
// Status{IllegalOperation, "Invalid server response."} at the caller.
var errIllegalOperation = fmt.Errorf("illegal operation: malformed datagram")

// decode parses a received datagram of length len(buf). Per spec
// §4.A: requires len(buf) >= 2, peeks the opcode, then applies
// per-kind length checks.
func decode(buf []byte) (*datagram, error) {
	if len(buf) < 2 {
		return nil, errIllegalOperation
	}

	op := opcode(binary.BigEndian.Uint16(buf[0:2]))
	d := &datagram{op: op}

	switch op {
	case opRRQ, opWRQ:
		rest := buf[2:]
		nul := bytes.IndexByte(rest, 0)
		if nul < 0 {
			return nil, errIllegalOperation
		}
		d.filename = string(rest[:nul])
		rest = rest[nul+1:]
		nul = bytes.IndexByte(rest, 0)
		if nul < 0 {
			return nil, errIllegalOperation
		}
		d.mode = TransferMode(bytes.ToLower(rest[:nul]))
		return d, nil

	case opDATA:
		if len(buf) < 4 {
			return nil, errIllegalOperation
		}
		d.block = binary.BigEndian.Uint16(buf[2:4])
		d.payload = buf[4:]
		return d, nil

	case opACK:
		if len(buf) != 4 {
			return nil, errIllegalOperation
		}
		d.block = binary.BigEndian.Uint16(buf[2:4])
		return d, nil

	case opERROR:
		if len(buf) < 5 {
			return nil, errIllegalOperation
		}
		d.errCode = ErrorCode(binary.BigEndian.Uint16(buf[2:4]))
		d.errMsg = getErrorMessage(buf)
		if !bytes.Contains(buf[4:], []byte{0}) {
			return nil, errIllegalOperation
		}
		return d, nil

	default:
		return nil, errIllegalOperation
	}
}

// getErrorMessage returns the message bytes up to (not including) the
// first NUL within buf's ERROR payload; if no NUL is found the
// message is treated as empty (spec §4.A).
func getErrorMessage(buf []byte) string {
	if len(buf) < 5 {
		return ""
	}
	payload := buf[4:]
	nul := bytes.IndexByte(payload, 0)
	if nul < 0 {
		return ""
	}
	return string(payload[:nul])
}
