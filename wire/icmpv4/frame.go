// Package icmpv4 provides a zero-copy view over an RFC 792 ICMPv4 message.
// Only Echo Request/Reply are modeled; other types are surfaced via Type/Code
// for firewall inspection but not interpreted further.
package icmpv4

import (
	"encoding/binary"
	"errors"

	"github.com/groundwater/ghostvm-vnet/wire"
)

// HeaderLen is the fixed ICMP header length (type, code, checksum).
const HeaderLen = 4

// EchoHeaderLen is HeaderLen plus the identifier/sequence fields used by
// echo request/reply messages.
const EchoHeaderLen = HeaderLen + 4

var errShort = errors.New("icmpv4: buffer shorter than header")

type Type uint8

const (
	TypeEchoReply   Type = 0
	TypeEchoRequest Type = 8
)

// Frame is a zero-copy view over an ICMPv4 message.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as an ICMPv4 frame, requiring at least the 4 byte
// type/code/checksum header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < HeaderLen {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// RawData returns the underlying buffer.
func (f Frame) RawData() []byte { return f.buf }

// Type returns the ICMP type field.
func (f Frame) Type() Type { return Type(f.buf[0]) }

// SetType sets the ICMP type field.
func (f Frame) SetType(t Type) { f.buf[0] = byte(t) }

// Code returns the ICMP code field.
func (f Frame) Code() uint8 { return f.buf[1] }

// SetCode sets the ICMP code field.
func (f Frame) SetCode(c uint8) { f.buf[1] = c }

// Checksum returns the checksum field as present on the wire.
func (f Frame) Checksum() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }

// SetChecksum sets the checksum field.
func (f Frame) SetChecksum(v uint16) { binary.BigEndian.PutUint16(f.buf[2:4], v) }

// Identifier returns the echo identifier field (rest-of-header bytes 0:2).
// Only meaningful for Echo Request/Reply.
func (f Frame) Identifier() uint16 { return binary.BigEndian.Uint16(f.buf[4:6]) }

// SetIdentifier sets the echo identifier field.
func (f Frame) SetIdentifier(v uint16) { binary.BigEndian.PutUint16(f.buf[4:6], v) }

// Sequence returns the echo sequence number field.
func (f Frame) Sequence() uint16 { return binary.BigEndian.Uint16(f.buf[6:8]) }

// SetSequence sets the echo sequence number field.
func (f Frame) SetSequence(v uint16) { binary.BigEndian.PutUint16(f.buf[6:8], v) }

// Payload returns the echo data following the 8-byte echo header. Only
// meaningful for Echo Request/Reply; other ICMP types should use RawData()[HeaderLen:].
func (f Frame) Payload() []byte { return f.buf[EchoHeaderLen:] }

// ClearHeader zeroes the fixed 4-byte ICMP header.
func (f Frame) ClearHeader() { clear(f.buf[:HeaderLen]) }

// ValidateSize records an error on v if the buffer is too short for the fixed header.
func (f Frame) ValidateSize(v *wire.Validator) {
	if len(f.buf) < HeaderLen {
		v.AddError(errShort)
	}
}

// CalculateChecksum computes the ICMP checksum over type+code+rest-of-packet,
// ignoring the current value of the checksum field.
func (f Frame) CalculateChecksum() uint16 {
	var c wire.Checksum791
	c.AddUint16(uint16(f.Type())<<8 | uint16(f.Code()))
	c.AddUint16(0) // checksum field itself reads as zero during computation
	c.WritePadded(f.buf[HeaderLen:])
	return c.Sum16()
}

// BuildEchoReply rewrites an echo-request buffer in place into an echo
// reply: type flips to EchoReply, identifier/sequence/payload are left
// untouched (the caller already copied them in), and the checksum is recomputed.
func BuildEchoReply(f Frame) {
	f.SetType(TypeEchoReply)
	f.SetCode(0)
	f.SetChecksum(0)
	f.SetChecksum(f.CalculateChecksum())
}
