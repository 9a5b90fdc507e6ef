package dhcpsvc

import (
	"encoding/binary"
	"time"

	"github.com/groundwater/ghostvm-vnet/addr"
	"github.com/groundwater/ghostvm-vnet/packet"
	"github.com/groundwater/ghostvm-vnet/wire/dhcpv4"
)

// replyFrameSize is the BOOTREPLY wire size, padded per spec §4.3
// ("Response padded to 300 bytes").
const replyFrameSize = 300

// buildReplyOptions fills the options TLV stream of a 300 byte dhcpv4.Frame
// for an OFFER or ACK, following spec §4.3's "Response construction" list.
func buildReplyOptions(dfrm dhcpv4.Frame, msgType dhcpv4.MessageType, serverID addr.IPv4, leaseTTL time.Duration, subnetMask, gateway addr.IPv4, dns []addr.IPv4) error {
	opts := dfrm.OptionsPayload()
	n := 0
	written, err := dhcpv4.EncodeOption(opts[n:], dhcpv4.OptMessageType, byte(msgType))
	if err != nil {
		return err
	}
	n += written

	written, err = dhcpv4.EncodeOption(opts[n:], dhcpv4.OptServerIdentification, serverID[:]...)
	if err != nil {
		return err
	}
	n += written

	if msgType != dhcpv4.MsgNak {
		var ttl [4]byte
		binary.BigEndian.PutUint32(ttl[:], uint32(leaseTTL/time.Second))
		written, err = dhcpv4.EncodeOption(opts[n:], dhcpv4.OptIPAddressLeaseTime, ttl[:]...)
		if err != nil {
			return err
		}
		n += written

		written, err = dhcpv4.EncodeOption(opts[n:], dhcpv4.OptSubnetMask, subnetMask[:]...)
		if err != nil {
			return err
		}
		n += written

		written, err = dhcpv4.EncodeOption(opts[n:], dhcpv4.OptRouter, gateway[:]...)
		if err != nil {
			return err
		}
		n += written

		if len(dns) > 0 {
			raw := make([]byte, 0, len(dns)*4)
			for _, d := range dns {
				raw = append(raw, d[:]...)
			}
			written, err = dhcpv4.EncodeOption(opts[n:], dhcpv4.OptDNSServers, raw...)
			if err != nil {
				return err
			}
			n += written
		}
	}

	opts[n] = byte(dhcpv4.OptEnd)
	return nil
}

// buildReply assembles a full Ethernet+IPv4+UDP(67->68)+DHCP datagram into
// outbuf, addressed to clientMAC (spec §4.3: "Wrapped UDP 67->68 to client
// MAC"). assignedIP is the zero value for a NAK.
func buildReply(
	outbuf []byte,
	req dhcpv4.Frame,
	msgType dhcpv4.MessageType,
	clientMAC addr.MAC,
	assignedIP addr.IPv4,
	gatewayMAC addr.MAC,
	gatewayIP addr.IPv4,
	subnetMask addr.IPv4,
	leaseTTL time.Duration,
	dns []addr.IPv4,
) (int, error) {
	var dhcpBuf [replyFrameSize]byte
	dfrm, err := dhcpv4.NewFrame(dhcpBuf[:])
	if err != nil {
		return 0, err
	}
	dfrm.ClearHeader()
	dfrm.SetOp(dhcpv4.OpReply)
	dfrm.SetHardware(1, 6, 0)
	dfrm.SetXID(req.XID())
	*dfrm.CHAddrAs6() = clientMAC
	dfrm.SetMagicCookie(dhcpv4.MagicCookie)

	destIP := addr.Broadcast255()
	if msgType != dhcpv4.MsgNak {
		*dfrm.YIAddr() = [4]byte(assignedIP)
		destIP = assignedIP
	}
	*dfrm.SIAddr() = [4]byte(gatewayIP)

	if err := buildReplyOptions(dfrm, msgType, gatewayIP, leaseTTL, subnetMask, gatewayIP, dns); err != nil {
		return 0, err
	}

	return packet.BuildUDP(outbuf, clientMAC, gatewayMAC, gatewayIP, destIP, dhcpv4.ServerPort, dhcpv4.ClientPort, dhcpBuf[:])
}
