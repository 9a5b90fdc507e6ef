// Package ipv4 provides a zero-copy view over an RFC 791 IPv4 header plus a
// checksum helper for the TCP/UDP pseudo-header. IPv6 is out of scope.
package ipv4

import (
	"encoding/binary"
	"errors"

	"github.com/groundwater/ghostvm-vnet/wire"
)

// HeaderLen is the minimum (no-options) IPv4 header length.
const HeaderLen = 20

var (
	errShort    = errors.New("ipv4: buffer shorter than declared total length")
	errBadIHL   = errors.New("ipv4: IHL < 5 or IHL*4 exceeds buffer")
	errVersion  = errors.New("ipv4: version field is not 4")
	errTotalLen = errors.New("ipv4: total length shorter than header")
)

// Proto is the IPv4 protocol field (IANA "Assigned Internet Protocol Numbers").
type Proto uint8

const (
	ProtoICMP Proto = 1
	ProtoTCP  Proto = 6
	ProtoUDP  Proto = 17
)

func (p Proto) String() string {
	switch p {
	case ProtoICMP:
		return "ICMP"
	case ProtoTCP:
		return "TCP"
	case ProtoUDP:
		return "UDP"
	default:
		return "unknown"
	}
}

// Flags is the 3-bit flags + 13-bit fragment offset field.
type Flags uint16

const (
	FlagDontFragment  Flags = 0x4000
	FlagMoreFragments Flags = 0x2000
)

// Frame is a zero-copy view over an IPv4 packet.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as an IPv4 frame after validating version, IHL and
// total-length consistency, exactly the checks spec.md requires for parse
// to fail: short buffer, version != 4, IHL < 5 or IHL*4 > total length.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < HeaderLen {
		return Frame{}, wire.ErrShortBuffer
	}
	f := Frame{buf: buf}
	if f.Version() != 4 {
		return Frame{}, errVersion
	}
	ihl := f.HeaderLength()
	if ihl < HeaderLen || ihl > len(buf) {
		return Frame{}, errBadIHL
	}
	tl := int(f.TotalLength())
	if tl < ihl {
		return Frame{}, errTotalLen
	}
	if tl > len(buf) {
		return Frame{}, errShort
	}
	return f, nil
}

// RawData returns the underlying buffer.
func (f Frame) RawData() []byte { return f.buf }

// Version returns the IP version field (top nibble of byte 0); always 4 for this package.
func (f Frame) Version() uint8 { return f.buf[0] >> 4 }

// IHL returns the raw Internet Header Length field, in 32-bit words.
func (f Frame) IHL() uint8 { return f.buf[0] & 0xf }

// HeaderLength returns IHL*4, the header length in bytes.
func (f Frame) HeaderLength() int { return int(f.IHL()) * 4 }

// SetVersionAndIHL sets the version (top nibble) and IHL (bottom nibble, in words).
func (f Frame) SetVersionAndIHL(version, ihl uint8) { f.buf[0] = version<<4 | ihl&0xf }

// ToS returns the Type of Service / DSCP+ECN byte.
func (f Frame) ToS() uint8 { return f.buf[1] }

// SetToS sets the Type of Service byte.
func (f Frame) SetToS(v uint8) { f.buf[1] = v }

// TotalLength returns the total packet length (header + payload) field.
func (f Frame) TotalLength() uint16 { return binary.BigEndian.Uint16(f.buf[2:4]) }

// SetTotalLength sets the total packet length field.
func (f Frame) SetTotalLength(v uint16) { binary.BigEndian.PutUint16(f.buf[2:4], v) }

// ID returns the identification field.
func (f Frame) ID() uint16 { return binary.BigEndian.Uint16(f.buf[4:6]) }

// SetID sets the identification field.
func (f Frame) SetID(v uint16) { binary.BigEndian.PutUint16(f.buf[4:6], v) }

// FlagsAndFragmentOffset returns the combined flags+fragment-offset field.
func (f Frame) FlagsAndFragmentOffset() Flags { return Flags(binary.BigEndian.Uint16(f.buf[6:8])) }

// SetFlagsAndFragmentOffset sets the combined flags+fragment-offset field.
func (f Frame) SetFlagsAndFragmentOffset(v Flags) { binary.BigEndian.PutUint16(f.buf[6:8], uint16(v)) }

// TTL returns the Time To Live field.
func (f Frame) TTL() uint8 { return f.buf[8] }

// SetTTL sets the Time To Live field.
func (f Frame) SetTTL(v uint8) { f.buf[8] = v }

// Protocol returns the encapsulated protocol field.
func (f Frame) Protocol() Proto { return Proto(f.buf[9]) }

// SetProtocol sets the encapsulated protocol field.
func (f Frame) SetProtocol(p Proto) { f.buf[9] = byte(p) }

// Checksum returns the header checksum field as present on the wire.
func (f Frame) Checksum() uint16 { return binary.BigEndian.Uint16(f.buf[10:12]) }

// SetChecksum sets the header checksum field.
func (f Frame) SetChecksum(v uint16) { binary.BigEndian.PutUint16(f.buf[10:12], v) }

// Source returns the source address.
func (f Frame) Source() *[4]byte { return (*[4]byte)(f.buf[12:16]) }

// Destination returns the destination address.
func (f Frame) Destination() *[4]byte { return (*[4]byte)(f.buf[16:20]) }

// Options returns the variable-length options area between the fixed header
// and HeaderLength(); empty for the common IHL==5 case.
func (f Frame) Options() []byte { return f.buf[HeaderLen:f.HeaderLength()] }

// Payload returns the bytes after the header, bounded by TotalLength so
// trailing link-layer padding is excluded.
func (f Frame) Payload() []byte {
	return f.buf[f.HeaderLength():f.TotalLength()]
}

// ClearHeader zeroes the fixed 20-byte header.
func (f Frame) ClearHeader() { clear(f.buf[:HeaderLen]) }

// ValidateSize records an error on v if IHL/TotalLength are inconsistent with the buffer.
func (f Frame) ValidateSize(v *wire.Validator) {
	if f.Version() != 4 {
		v.AddError(errVersion)
	}
	ihl := f.HeaderLength()
	if ihl < HeaderLen || ihl > len(f.buf) {
		v.AddError(errBadIHL)
		return
	}
	tl := int(f.TotalLength())
	if tl < ihl {
		v.AddError(errTotalLen)
	} else if tl > len(f.buf) {
		v.AddError(errShort)
	}
}

// CalculateHeaderChecksum computes the RFC 1071 header checksum over the
// header as currently laid out, ignoring the current value of the checksum field.
func (f Frame) CalculateHeaderChecksum() uint16 {
	var c wire.Checksum791
	hl := f.HeaderLength()
	for i := 0; i < hl; i += 2 {
		if i == 10 {
			continue // skip the checksum field itself
		}
		c.AddUint16(binary.BigEndian.Uint16(f.buf[i : i+2]))
	}
	return c.Sum16()
}

// WritePseudoHeader folds the IPv4 pseudo-header (src, dst, zero, protocol,
// segment length) used by TCP/UDP checksums into c, per RFC 793/768.
func (f Frame) WritePseudoHeader(c *wire.Checksum791, segmentLength uint16) {
	src, dst := f.Source(), f.Destination()
	c.AddUint16(binary.BigEndian.Uint16(src[0:2]))
	c.AddUint16(binary.BigEndian.Uint16(src[2:4]))
	c.AddUint16(binary.BigEndian.Uint16(dst[0:2]))
	c.AddUint16(binary.BigEndian.Uint16(dst[2:4]))
	c.AddUint16(uint16(f.Protocol()))
	c.AddUint16(segmentLength)
}
