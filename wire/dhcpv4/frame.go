// Package dhcpv4 provides a zero-copy view over a BOOTP/DHCPv4 payload,
// following the same Frame-over-buf pattern used across the wire/*
// packages.
package dhcpv4

import (
	"encoding/binary"
	"errors"

	"github.com/groundwater/ghostvm-vnet/wire"
)

const (
	sizeCHAddr   = 16
	sizeSName    = 64
	sizeBootFile = 128
	HeaderLen    = 44
	// MagicCookieOffset is measured from the start of the UDP payload.
	MagicCookieOffset = HeaderLen + sizeSName + sizeBootFile
	// MagicCookie is the fixed DHCP cookie value (RFC 2131 §3).
	MagicCookie uint32 = 0x63825363
	// OptionsOffset is where the options TLV stream begins.
	OptionsOffset = MagicCookieOffset + 4

	ClientPort = 68
	ServerPort = 67

	// MinSize is the minimum legal DHCP datagram length (BOOTP fixed
	// portion plus magic cookie, no options).
	MinSize = OptionsOffset
)

var (
	errShortFrame  = errors.New("dhcpv4: frame shorter than minimum size")
	errBadOption   = errors.New("dhcpv4: option length exceeds payload")
	errNoOptions   = errors.New("dhcpv4: frame carries no options")
)

// Frame is a zero-copy view over a DHCPv4 datagram.
type Frame struct {
	buf []byte
}

// NewFrame wraps buf, requiring it be at least MinSize bytes.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < MinSize {
		return Frame{}, errShortFrame
	}
	return Frame{buf: buf}, nil
}

func (f Frame) RawData() []byte { return f.buf }

func (f Frame) Op() Op      { return Op(f.buf[0]) }
func (f Frame) SetOp(op Op) { f.buf[0] = byte(op) }

func (f Frame) SetHardware(htype, hlen, hops uint8) {
	f.buf[1], f.buf[2], f.buf[3] = htype, hlen, hops
}

func (f Frame) XID() uint32       { return binary.BigEndian.Uint32(f.buf[4:8]) }
func (f Frame) SetXID(xid uint32) { binary.BigEndian.PutUint32(f.buf[4:8], xid) }

func (f Frame) Secs() uint16        { return binary.BigEndian.Uint16(f.buf[8:10]) }
func (f Frame) SetSecs(secs uint16) { binary.BigEndian.PutUint16(f.buf[8:10], secs) }

func (f Frame) Flags() uint16        { return binary.BigEndian.Uint16(f.buf[10:12]) }
func (f Frame) SetFlags(flags uint16) { binary.BigEndian.PutUint16(f.buf[10:12], flags) }

// CIAddr is the client's own IP address, set only once bound.
func (f Frame) CIAddr() *[4]byte { return (*[4]byte)(f.buf[12:16]) }

// YIAddr is "your" (client) IP address, filled in by the server.
func (f Frame) YIAddr() *[4]byte { return (*[4]byte)(f.buf[16:20]) }

// SIAddr is the next-server (bootstrap) address.
func (f Frame) SIAddr() *[4]byte { return (*[4]byte)(f.buf[20:24]) }

// GIAddr is the relay-agent address.
func (f Frame) GIAddr() *[4]byte { return (*[4]byte)(f.buf[24:28]) }

// CHAddrAs6 returns the client hardware address truncated to an Ethernet MAC.
func (f Frame) CHAddrAs6() *[6]byte { return (*[6]byte)(f.buf[28:34]) }

func (f Frame) MagicCookie() uint32 {
	return binary.BigEndian.Uint32(f.buf[MagicCookieOffset:])
}

func (f Frame) SetMagicCookie(cookie uint32) {
	binary.BigEndian.PutUint32(f.buf[MagicCookieOffset:], cookie)
}

// ClearHeader zeros the fixed BOOTP header, sname and file fields.
func (f Frame) ClearHeader() {
	clear(f.buf[:MagicCookieOffset])
}

// OptionsPayload returns the mutable options area of the underlying buffer.
func (f Frame) OptionsPayload() []byte { return f.buf[OptionsOffset:] }

// ForEachOption walks the TLV option stream, invoking fn for every option
// until OptEnd or the buffer is exhausted. Passing fn=nil only validates.
func (f Frame) ForEachOption(fn func(op OptNum, data []byte) error) error {
	ptr := OptionsOffset
	if ptr > len(f.buf) {
		return errShortFrame
	}
	if len(f.buf[ptr:]) == 0 {
		return errNoOptions
	}
	for ptr+1 < len(f.buf) {
		opt := OptNum(f.buf[ptr])
		if opt == OptEnd {
			break
		}
		if opt == OptPad {
			ptr++
			continue
		}
		optlen := int(f.buf[ptr+1])
		if ptr+2+optlen > len(f.buf) {
			return errBadOption
		}
		if fn != nil {
			if err := fn(opt, f.buf[ptr+2:ptr+2+optlen]); err != nil {
				return err
			}
		}
		ptr += 2 + optlen
	}
	return nil
}

// ValidateSize runs option-stream validation and reports any error into v.
func (f Frame) ValidateSize(v *wire.Validator) {
	if err := f.ForEachOption(nil); err != nil {
		v.AddError(err)
	}
}
