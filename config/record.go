// Package config defines the persisted GPIB interface configuration: the
// address, handshake timing, and terminator settings that ++savecfg
// writes and the next boot restores.
package config

import (
	"encoding/binary"
	"fmt"

	"gpibridge/protocol"
)

// Mode selects whether the interface comes up as a device or as the
// controller-in-charge.
type Mode uint8

const (
	ModeDevice     Mode = 0
	ModeController Mode = 1
)

// recordSize is the on-disk layout size, deliberately fixed so a stored
// blob either matches the current layout exactly or is rejected outright
// rather than partially reinterpreted.
const recordSize = 48

// Record is the full set of interface settings that survive a restart.
// Every field here corresponds to a ++-command that reads or writes it;
// see interp.CommandTable.
type Record struct {
	Mode          Mode
	PrimaryAddr   uint8
	SecondaryAddr uint8 // 0 means "no secondary address"
	AutoMode      uint8 // 0-3, see interp.Session
	EOIEnabled    bool
	EOSMode       uint8 // 0-3: terminator appended to data sent to instruments
	EORMode       uint8 // 0-7: terminator that ends a receive; 7 is EOI-only
	EOTEnabled    bool
	EOTChar       byte
	ReadTimeoutMS uint16
	Verbose       bool
	SRQAuto       bool
	ListenOnly    bool
	TalkOnly      bool
	StatusByte    byte
	IDNString     [32]byte // custom *IDN? response; empty means use the built-in default
}

// Default returns the factory configuration: device mode, address 0,
// EOI-terminated, auto mode off, a 1200ms read timeout.
func Default() Record {
	return Record{
		Mode:          ModeDevice,
		PrimaryAddr:   0,
		AutoMode:      0,
		EOIEnabled:    true,
		EOSMode:       0,
		EORMode:       0,
		ReadTimeoutMS: 1200,
	}
}

// Marshal serializes r into its fixed-size wire form followed by a
// CRC-16 trailer. This is always an explicit field-by-field encode, never
// a raw struct cast: Record's Go layout (padding, field order chosen for
// readability) has no relationship to the bytes written here, and must
// not be assumed to.
func (r Record) Marshal() []byte {
	buf := make([]byte, recordSize+2)

	buf[0] = byte(r.Mode)
	buf[1] = r.PrimaryAddr
	buf[2] = r.SecondaryAddr
	buf[3] = r.AutoMode
	buf[4] = boolToByte(r.EOIEnabled)
	buf[5] = r.EOSMode
	buf[6] = r.EORMode
	buf[7] = boolToByte(r.EOTEnabled)
	buf[8] = r.EOTChar
	binary.LittleEndian.PutUint16(buf[9:11], r.ReadTimeoutMS)
	buf[11] = boolToByte(r.Verbose)
	buf[12] = boolToByte(r.SRQAuto)
	buf[13] = boolToByte(r.ListenOnly)
	buf[14] = boolToByte(r.TalkOnly)
	buf[15] = r.StatusByte
	copy(buf[16:16+len(r.IDNString)], r.IDNString[:])

	crc := protocol.CRC16(buf[:recordSize])
	binary.LittleEndian.PutUint16(buf[recordSize:], crc)
	return buf
}

// Unmarshal decodes a blob written by Marshal, verifying the CRC trailer
// first. A short, oversized, or checksum-mismatched blob is rejected
// outright rather than partially trusted; callers fall back to
// config.Default() in that case.
func Unmarshal(data []byte) (Record, error) {
	var r Record

	if len(data) != recordSize+2 {
		return r, fmt.Errorf("config: blob is %d bytes, want %d", len(data), recordSize+2)
	}

	want := binary.LittleEndian.Uint16(data[recordSize:])
	got := protocol.CRC16(data[:recordSize])
	if want != got {
		return r, fmt.Errorf("config: CRC mismatch (stored %04X, computed %04X)", want, got)
	}

	r.Mode = Mode(data[0])
	r.PrimaryAddr = data[1]
	r.SecondaryAddr = data[2]
	r.AutoMode = data[3]
	r.EOIEnabled = data[4] != 0
	r.EOSMode = data[5]
	r.EORMode = data[6]
	r.EOTEnabled = data[7] != 0
	r.EOTChar = data[8]
	r.ReadTimeoutMS = binary.LittleEndian.Uint16(data[9:11])
	r.Verbose = data[11] != 0
	r.SRQAuto = data[12] != 0
	r.ListenOnly = data[13] != 0
	r.TalkOnly = data[14] != 0
	r.StatusByte = data[15]
	copy(r.IDNString[:], data[16:16+len(r.IDNString)])

	return r, nil
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
