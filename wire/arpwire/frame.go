// Package arpwire provides a zero-copy view over an IPv4-over-Ethernet ARP
// packet as defined in RFC 826. It only supports hardware type Ethernet(1)
// and protocol type IPv4, which is all this router ever emits or expects.
package arpwire

import (
	"encoding/binary"
	"errors"

	"github.com/groundwater/ghostvm-vnet/wire"
	"github.com/groundwater/ghostvm-vnet/wire/ethernet"
)

// HeaderLen is the fixed size of an ARP packet for Ethernet/IPv4: 8 byte
// fixed header + 2*(6 byte hw addr + 4 byte proto addr).
const HeaderLen = 8 + 2*(6+4)

var (
	errShort       = errors.New("arp: buffer shorter than header")
	errAddrSizes   = errors.New("arp: hardware/protocol address sizes not (6,4)")
	errShortHeader = errors.New("arp: buffer too short for fixed header")
)

// Operation is the ARP opcode.
type Operation uint16

const (
	OpRequest Operation = 1
	OpReply   Operation = 2
)

// Frame is a zero-copy view over an ARP packet restricted to Ethernet/IPv4.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf as an ARP frame. It validates that the fixed 8-byte
// header is present and, once hardware/protocol address lengths are known,
// that the buffer is long enough for the full 28-byte Ethernet/IPv4 packet.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < 8 {
		return Frame{}, errShortHeader
	}
	f := Frame{buf: buf}
	_, hlen := f.Hardware()
	_, plen := f.Protocol()
	if hlen != 6 || plen != 4 {
		return Frame{}, errAddrSizes
	}
	if len(buf) < HeaderLen {
		return Frame{}, errShort
	}
	return f, nil
}

// RawData returns the underlying buffer.
func (f Frame) RawData() []byte { return f.buf }

// Hardware returns the hardware type and address length fields.
func (f Frame) Hardware() (uint16, uint8) {
	return binary.BigEndian.Uint16(f.buf[0:2]), f.buf[4]
}

// SetHardware sets the hardware type and address length fields.
func (f Frame) SetHardware(typ uint16, length uint8) {
	binary.BigEndian.PutUint16(f.buf[0:2], typ)
	f.buf[4] = length
}

// Protocol returns the protocol type and address length fields.
func (f Frame) Protocol() (ethernet.Type, uint8) {
	return ethernet.Type(binary.BigEndian.Uint16(f.buf[2:4])), f.buf[5]
}

// SetProtocol sets the protocol type and address length fields.
func (f Frame) SetProtocol(typ ethernet.Type, length uint8) {
	binary.BigEndian.PutUint16(f.buf[2:4], uint16(typ))
	f.buf[5] = length
}

// Opcode returns the ARP operation field.
func (f Frame) Opcode() Operation { return Operation(binary.BigEndian.Uint16(f.buf[6:8])) }

// SetOpcode sets the ARP operation field.
func (f Frame) SetOpcode(op Operation) { binary.BigEndian.PutUint16(f.buf[6:8], uint16(op)) }

// SenderHardware returns the sender hardware (MAC) address.
func (f Frame) SenderHardware() *[6]byte { return (*[6]byte)(f.buf[8:14]) }

// SenderProtocol returns the sender protocol (IPv4) address.
func (f Frame) SenderProtocol() *[4]byte { return (*[4]byte)(f.buf[14:18]) }

// TargetHardware returns the target hardware (MAC) address.
func (f Frame) TargetHardware() *[6]byte { return (*[6]byte)(f.buf[18:24]) }

// TargetProtocol returns the target protocol (IPv4) address.
func (f Frame) TargetProtocol() *[4]byte { return (*[4]byte)(f.buf[24:28]) }

// ClearHeader zeroes the fixed opcode/type header fields, leaving addresses untouched.
func (f Frame) ClearHeader() { clear(f.buf[:8]) }

// ValidateSize records an error on v if the buffer is inconsistent with the header fields.
func (f Frame) ValidateSize(v *wire.Validator) {
	_, hlen := f.Hardware()
	_, plen := f.Protocol()
	if hlen != 6 || plen != 4 {
		v.AddError(errAddrSizes)
		return
	}
	if len(f.buf) < HeaderLen {
		v.AddError(errShort)
	}
}

// BuildRequest initializes buf (which must be at least HeaderLen bytes) as
// an Ethernet/IPv4 ARP request from sender to targetProto, returning the Frame.
func BuildRequest(buf []byte, senderHW [6]byte, senderProto [4]byte, targetProto [4]byte) (Frame, error) {
	if len(buf) < HeaderLen {
		return Frame{}, errShort
	}
	f := Frame{buf: buf[:HeaderLen]}
	f.ClearHeader()
	f.SetHardware(1, 6)
	f.SetProtocol(ethernet.TypeIPv4, 4)
	f.SetOpcode(OpRequest)
	*f.SenderHardware() = senderHW
	*f.SenderProtocol() = senderProto
	*f.TargetProtocol() = targetProto
	return f, nil
}

// BuildReply turns a request req into a reply in place: the original
// sender becomes the new target, and replyHW becomes the new sender
// hardware address. The original target protocol address (the address
// being resolved) is kept as the new sender protocol address.
func BuildReply(req Frame, replyHW [6]byte) {
	requesterHW, requesterProto := *req.SenderHardware(), *req.SenderProtocol()
	resolvedProto := *req.TargetProtocol()
	req.SetOpcode(OpReply)
	*req.TargetHardware() = requesterHW
	*req.TargetProtocol() = requesterProto
	*req.SenderHardware() = replyHW
	*req.SenderProtocol() = resolvedProto
}
