// Package udp provides a zero-copy view over an RFC 768 UDP datagram.
package udp

import (
	"encoding/binary"
	"errors"

	"github.com/groundwater/ghostvm-vnet/wire"
)

// HeaderLen is the fixed UDP header length.
const HeaderLen = 8

var (
	errShort  = errors.New("udp: buffer shorter than header")
	errLength = errors.New("udp: length field inconsistent with buffer")
)

// Frame is a zero-copy view over a UDP datagram.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as a UDP frame, requiring at least the 8 byte header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < HeaderLen {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
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

// Length returns the UDP length field (header + payload).
func (f Frame) Length() uint16 { return binary.BigEndian.Uint16(f.buf[4:6]) }

// SetLength sets the UDP length field.
func (f Frame) SetLength(l uint16) { binary.BigEndian.PutUint16(f.buf[4:6], l) }

// Checksum returns the checksum field as present on the wire.
func (f Frame) Checksum() uint16 { return binary.BigEndian.Uint16(f.buf[6:8]) }

// SetChecksum sets the checksum field.
func (f Frame) SetChecksum(v uint16) { binary.BigEndian.PutUint16(f.buf[6:8], v) }

// Payload returns the bytes after the header, bounded by the Length field.
func (f Frame) Payload() []byte { return f.buf[HeaderLen:f.Length()] }

// ClearHeader zeroes the fixed 8-byte header.
func (f Frame) ClearHeader() { clear(f.buf[:HeaderLen]) }

// ValidateSize records an error on v if Length is inconsistent with the buffer.
func (f Frame) ValidateSize(v *wire.Validator) {
	l := f.Length()
	if l < HeaderLen {
		v.AddError(errLength)
		return
	}
	if int(l) > len(f.buf) {
		v.AddError(errShort)
	}
}

// SetPayloadLength sets the length field to reflect a payload of the given size
// (the caller is responsible for having placed the bytes at buf[HeaderLen:]).
func (f Frame) SetPayloadLength(n int) { f.SetLength(uint16(HeaderLen + n)) }

// CalculateChecksum computes the UDP checksum over the pseudo-header (supplied
// by the caller, typically via ipv4.Frame.WritePseudoHeader) plus the UDP
// segment itself, ignoring the current value of the checksum field.
// This router always computes a real checksum even though 0 is legal on the wire.
func CalculateChecksum(pseudoHeader wire.Checksum791, f Frame) uint16 {
	c := pseudoHeader
	l := f.Length()
	segment := f.buf[:l]
	var saved [2]byte
	copy(saved[:], segment[6:8])
	segment[6], segment[7] = 0, 0
	c.WritePadded(segment)
	copy(segment[6:8], saved[:])
	return wire.NeverZero(c.Sum16())
}
