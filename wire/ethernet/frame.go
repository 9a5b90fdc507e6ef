// Package ethernet provides a zero-copy view over an IEEE 802.3 Ethernet-II
// frame buffer (no preamble, no FCS): dst(6) + src(6) + etherType(2) + payload.
package ethernet

import (
	"encoding/binary"
	"errors"

	"github.com/groundwater/ghostvm-vnet/wire"
)

const (
	// HeaderLen is the fixed header length of an untagged Ethernet-II frame.
	HeaderLen = 14
)

var errShort = errors.New("ethernet: buffer shorter than header")

// Frame is a view over buf interpreting it as an Ethernet-II frame.
// It never copies buf; all accessors read/write through it directly.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as a Frame. Returns an error if buf is too short to
// hold a fixed Ethernet header. VLAN tags are not recognized here or by
// ValidateSize.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < HeaderLen {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// RawData returns the underlying buffer the Frame was built from.
func (f Frame) RawData() []byte { return f.buf }

// Destination returns the frame's destination hardware address.
func (f Frame) Destination() *[6]byte { return (*[6]byte)(f.buf[0:6]) }

// Source returns the frame's source hardware address.
func (f Frame) Source() *[6]byte { return (*[6]byte)(f.buf[6:12]) }

// EtherType returns the EtherType field.
func (f Frame) EtherType() Type { return Type(binary.BigEndian.Uint16(f.buf[12:14])) }

// SetEtherType sets the EtherType field.
func (f Frame) SetEtherType(t Type) { binary.BigEndian.PutUint16(f.buf[12:14], uint16(t)) }

// Payload returns the bytes following the 14 byte header (VLAN tags are a
// spec-level Non-goal and are not handled here).
func (f Frame) Payload() []byte { return f.buf[HeaderLen:] }

// ClearHeader zeroes the fixed header fields, leaving the payload untouched.
func (f Frame) ClearHeader() {
	clear(f.buf[:HeaderLen])
}

// ValidateSize records an error on v if the buffer is inconsistent. Ethernet
// has no internal length field (frame length is given by the datagram
// boundary), so this only guards against a header-only buffer.
func (f Frame) ValidateSize(v *wire.Validator) {
	if len(f.buf) < HeaderLen {
		v.AddError(errShort)
	}
}
