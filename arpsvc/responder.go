package arpsvc

import (
	"log/slog"

	"github.com/groundwater/ghostvm-vnet/addr"
	"github.com/groundwater/ghostvm-vnet/wire/arpwire"
)

// Responder answers ARP requests for the router's own gateway address and
// feeds every observed sender binding into a Table.
type Responder struct {
	Table      *Table
	GatewayIP  addr.IPv4
	GatewayMAC addr.MAC
	Log        *slog.Logger
}

// NewResponder builds a Responder over its own fresh Table.
func NewResponder(gatewayIP addr.IPv4, gatewayMAC addr.MAC, log *slog.Logger) *Responder {
	if log == nil {
		log = slog.Default()
	}
	return &Responder{Table: NewTable(), GatewayIP: gatewayIP, GatewayMAC: gatewayMAC, Log: log}
}

// Handle processes one ARP frame (spec §4.2). It always learns the sender
// binding. If the frame is a request for the gateway's own IP, it rewrites
// the frame buffer in place into a reply and returns handled=true so the
// orchestrator can enqueue the same buffer back to the guest. Any other ARP
// packet yields handled=false: no reply.
func (r *Responder) Handle(frame arpwire.Frame) (handled bool) {
	senderHW := *frame.SenderHardware()
	senderProto := addr.IPv4(*frame.SenderProtocol())
	r.Table.Learn(senderProto, addr.MAC(senderHW))

	if frame.Opcode() != arpwire.OpRequest {
		return false
	}
	targetProto := addr.IPv4(*frame.TargetProtocol())
	if targetProto != r.GatewayIP {
		return false
	}
	arpwire.BuildReply(frame, r.GatewayMAC)
	r.Log.Debug("arpsvc: replied to request for gateway", slog.String("from", senderProto.String()))
	return true
}
