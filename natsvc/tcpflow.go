package natsvc

// tcpState tracks the guest-facing TCP state machine this engine maintains
// for each TCP NAT entry. The source this spec was distilled from let a raw
// stream connection's bytes leak back to the guest under the original
// 5-tuple without ever tracking sequence numbers; real TCP stacks reject
// that. This engine instead tracks its own send sequence and the guest's
// next expected sequence per flow, so the guest sees segments with real
// sequence and acknowledgement numbers (spec §9 "TCP toward the guest").
// It does not retransmit and does no congestion control.
type tcpState uint8

const (
	tcpStateSynSent tcpState = iota
	tcpStateEstablished
	tcpStateFinWait
	tcpStateClosed
)

func (s tcpState) String() string {
	switch s {
	case tcpStateSynSent:
		return "syn_sent"
	case tcpStateEstablished:
		return "established"
	case tcpStateFinWait:
		return "fin_wait"
	case tcpStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// tcpFlowState is the sequence-number bookkeeping for one guest<->upstream
// TCP flow. localSeq is this router's own send sequence (the bytes it has
// sent to the guest, i.e. data read from upstream); remoteNext is the next
// sequence number expected from the guest.
type tcpFlowState struct {
	state      tcpState
	localSeq   uint32 // next seq this router will use when sending to guest
	remoteNext uint32 // next seq expected from guest (our ack value)
}

// newTCPFlowState seeds a flow straight out of a received guest SYN:
// guestISN is the guest's initial sequence number, localISN is this
// router's freshly chosen initial sequence number for its own half.
// localSeq starts at localISN itself, since the SYN-ACK this router is
// about to send still needs to carry that exact sequence number; the
// SYN-ACK's own sequence slot (RFC 793) is consumed by onSendSYN once it
// goes out.
func newTCPFlowState(guestISN, localISN uint32) *tcpFlowState {
	return &tcpFlowState{
		state:      tcpStateSynSent,
		localSeq:   localISN,
		remoteNext: guestISN + 1,
	}
}

// onGuestAck advances out of syn_sent once the guest acknowledges our
// SYN-ACK (spec §4.5 "ACK from syn_sent -> established").
func (s *tcpFlowState) onGuestAck() {
	if s.state == tcpStateSynSent {
		s.state = tcpStateEstablished
	}
}

// onGuestData records n bytes of payload received from the guest.
func (s *tcpFlowState) onGuestData(n int) {
	s.remoteNext += uint32(n)
}

// onGuestFin transitions into fin_wait and consumes the FIN's sequence slot.
func (s *tcpFlowState) onGuestFin() {
	s.remoteNext++
	s.state = tcpStateFinWait
}

// onGuestRST forces immediate closure (spec §4.5 "RST -> closed").
func (s *tcpFlowState) onGuestRST() {
	s.state = tcpStateClosed
}

// onSend records n bytes of payload sent toward the guest.
func (s *tcpFlowState) onSend(n int) {
	s.localSeq += uint32(n)
}

// onSendSYN consumes the SYN-ACK's own sequence-number slot (RFC 793) once
// it has been sent, so the first post-handshake data segment carries
// localISN+1, the byte the guest's ACK of the SYN-ACK actually expects.
func (s *tcpFlowState) onSendSYN() {
	s.localSeq++
}
