// Package tcp provides a zero-copy view over an RFC 9293 TCP segment header.
// The guest-facing TCP state machine lives in package natsvc; this package
// only knows how to read and write header fields and compute the checksum.
package tcp

import (
	"encoding/binary"
	"errors"

	"github.com/groundwater/ghostvm-vnet/wire"
)

// HeaderLen is the minimum (no-options) TCP header length.
const HeaderLen = 20

var (
	errShort    = errors.New("tcp: buffer shorter than header")
	errDataOff  = errors.New("tcp: data offset < 5 or exceeds buffer")
)

// Flags is the 8-bit TCP control-flags field.
type Flags uint8

const (
	FlagFIN Flags = 1 << 0
	FlagSYN Flags = 1 << 1
	FlagRST Flags = 1 << 2
	FlagPSH Flags = 1 << 3
	FlagACK Flags = 1 << 4
	FlagURG Flags = 1 << 5
)

func (fl Flags) Has(f Flags) bool { return fl&f != 0 }

func (fl Flags) String() string {
	var s []byte
	add := func(set bool, c byte) {
		if set {
			s = append(s, c)
		}
	}
	add(fl.Has(FlagSYN), 'S')
	add(fl.Has(FlagACK), 'A')
	add(fl.Has(FlagFIN), 'F')
	add(fl.Has(FlagRST), 'R')
	add(fl.Has(FlagPSH), 'P')
	add(fl.Has(FlagURG), 'U')
	if len(s) == 0 {
		return "."
	}
	return string(s)
}

// Frame is a zero-copy view over a TCP segment header.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as a TCP frame, requiring the fixed 20-byte header and
// a data offset of at least 5 (32-bit words) that does not exceed the buffer.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < HeaderLen {
		return Frame{}, errShort
	}
	f := Frame{buf: buf}
	off := f.HeaderLength()
	if off < HeaderLen || off > len(buf) {
		return Frame{}, errDataOff
	}
	return f, nil
}

// RawData returns the underlying buffer.
func (f Frame) RawData() []byte { return f.buf }

// SourcePort returns the source port.
func (f Frame) SourcePort() uint16 { return binary.BigEndian.Uint16(f.buf[0:2]) }

// SetSourcePort sets the source port.
func (f Frame) SetSourcePort(p uint16) { binary.BigEndian.PutUint16(f.buf[0:2], p) }

// DestinationPort returns the destination port.
func (f Frame) DestinationPort() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }

// SetDestinationPort sets the destination port.
func (f Frame) SetDestinationPort(p uint16) { binary.BigEndian.PutUint16(f.buf[2:4], p) }

// Seq returns the sequence number field.
func (f Frame) Seq() uint32 { return binary.BigEndian.Uint32(f.buf[4:8]) }

// SetSeq sets the sequence number field.
func (f Frame) SetSeq(v uint32) { binary.BigEndian.PutUint32(f.buf[4:8], v) }

// Ack returns the acknowledgment number field.
func (f Frame) Ack() uint32 { return binary.BigEndian.Uint32(f.buf[8:12]) }

// SetAck sets the acknowledgment number field.
func (f Frame) SetAck(v uint32) { binary.BigEndian.PutUint32(f.buf[8:12], v) }

// dataOffset returns the raw data-offset nibble, in 32-bit words.
func (f Frame) dataOffset() uint8 { return f.buf[12] >> 4 }

// HeaderLength returns dataOffset*4, the header length in bytes (including options).
func (f Frame) HeaderLength() int { return int(f.dataOffset()) * 4 }

// SetDataOffset sets the data-offset field, in 32-bit words.
func (f Frame) SetDataOffset(words uint8) { f.buf[12] = words << 4 }

// Flags returns the control-flags field.
func (f Frame) Flags() Flags { return Flags(f.buf[13]) }

// SetFlags sets the control-flags field.
func (f Frame) SetFlags(fl Flags) { f.buf[13] = byte(fl) }

// WindowSize returns the window size field.
func (f Frame) WindowSize() uint16 { return binary.BigEndian.Uint16(f.buf[14:16]) }

// SetWindowSize sets the window size field.
func (f Frame) SetWindowSize(v uint16) { binary.BigEndian.PutUint16(f.buf[14:16], v) }

// Checksum returns the checksum field as present on the wire.
func (f Frame) Checksum() uint16 { return binary.BigEndian.Uint16(f.buf[16:18]) }

// SetChecksum sets the checksum field.
func (f Frame) SetChecksum(v uint16) { binary.BigEndian.PutUint16(f.buf[16:18], v) }

// UrgentPointer returns the urgent pointer field.
func (f Frame) UrgentPointer() uint16 { return binary.BigEndian.Uint16(f.buf[18:20]) }

// SetUrgentPointer sets the urgent pointer field.
func (f Frame) SetUrgentPointer(v uint16) { binary.BigEndian.PutUint16(f.buf[18:20], v) }

// Options returns the variable-length options area.
func (f Frame) Options() []byte { return f.buf[HeaderLen:f.HeaderLength()] }

// Payload returns the segment payload, i.e. everything after the header.
// The caller must slice RawData to the segment's true end beforehand (TCP
// carries no internal total-length field; that comes from the IP layer).
func (f Frame) Payload() []byte { return f.buf[f.HeaderLength():] }

// ClearHeader zeroes the fixed 20-byte header, leaving options/payload untouched.
func (f Frame) ClearHeader() { clear(f.buf[:HeaderLen]) }

// ValidateSize records an error on v if the data offset is inconsistent with the buffer.
func (f Frame) ValidateSize(v *wire.Validator) {
	off := f.HeaderLength()
	if off < HeaderLen || off > len(f.buf) {
		v.AddError(errDataOff)
	}
}

// CalculateChecksum computes the TCP checksum over the pseudo-header
// (supplied by the caller, typically via ipv4.Frame.WritePseudoHeader) plus
// the full segment (header, options, payload), ignoring the checksum field's
// current value. segment must be the full TCP segment slice (f.RawData()
// sliced to the true segment length).
func CalculateChecksum(pseudoHeader wire.Checksum791, segment []byte) uint16 {
	c := pseudoHeader
	var saved [2]byte
	copy(saved[:], segment[16:18])
	segment[16], segment[17] = 0, 0
	c.WritePadded(segment)
	copy(segment[16:18], saved[:])
	return c.Sum16()
}
