package daybreak

// Opcode identifies the shape of a protocol frame: a datagram whose
// first byte is 0x00 carries one of these as its second byte. A
// datagram whose first byte is not 0x00 is an application frame and
// never carries an opcode at all.
type Opcode byte

const (
	OpPadding           Opcode = 0x00
	OpSessionRequest    Opcode = 0x01
	OpSessionResponse   Opcode = 0x02
	OpCombined          Opcode = 0x03
	OpSessionDisconnect Opcode = 0x05
	OpKeepAlive         Opcode = 0x06
	OpSessionStatReq    Opcode = 0x07
	OpSessionStatResp   Opcode = 0x08
	OpPacket0           Opcode = 0x09
	OpPacket1           Opcode = 0x0A
	OpPacket2           Opcode = 0x0B
	OpPacket3           Opcode = 0x0C
	OpFragment0         Opcode = 0x0D
	OpFragment1         Opcode = 0x0E
	OpFragment2         Opcode = 0x0F
	OpFragment3         Opcode = 0x10
	OpOutOfOrderAck0    Opcode = 0x11
	OpOutOfOrderAck1    Opcode = 0x12
	OpOutOfOrderAck2    Opcode = 0x13
	OpOutOfOrderAck3    Opcode = 0x14
	OpAck0              Opcode = 0x15
	OpAck1              Opcode = 0x16
	OpAck2              Opcode = 0x17
	OpAck3              Opcode = 0x18
	OpAppCombined       Opcode = 0x19
	OpOutboundPing      Opcode = 0x1C
	OpOutOfSession      Opcode = 0x1D
)

// NumStreams is the number of independent reliable streams multiplexed
// over one session.
const NumStreams = 4

func (o Opcode) packetStream() (int, bool) {
	if o >= OpPacket0 && o <= OpPacket3 {
		return int(o - OpPacket0), true
	}
	return 0, false
}

func (o Opcode) fragmentStream() (int, bool) {
	if o >= OpFragment0 && o <= OpFragment3 {
		return int(o - OpFragment0), true
	}
	return 0, false
}

func (o Opcode) outOfOrderAckStream() (int, bool) {
	if o >= OpOutOfOrderAck0 && o <= OpOutOfOrderAck3 {
		return int(o - OpOutOfOrderAck0), true
	}
	return 0, false
}

func (o Opcode) ackStream() (int, bool) {
	if o >= OpAck0 && o <= OpAck3 {
		return int(o - OpAck0), true
	}
	return 0, false
}

func packetOpcode(stream int) Opcode    { return OpPacket0 + Opcode(stream) }
func fragmentOpcode(stream int) Opcode  { return OpFragment0 + Opcode(stream) }
func ackOpcode(stream int) Opcode       { return OpAck0 + Opcode(stream) }
func outOfOrderOpcode(stream int) Opcode { return OpOutOfOrderAck0 + Opcode(stream) }

func (o Opcode) String() string {
	switch o {
	case OpPadding:
		return "Padding"
	case OpSessionRequest:
		return "SessionRequest"
	case OpSessionResponse:
		return "SessionResponse"
	case OpCombined:
		return "Combined"
	case OpSessionDisconnect:
		return "SessionDisconnect"
	case OpKeepAlive:
		return "KeepAlive"
	case OpSessionStatReq:
		return "SessionStatRequest"
	case OpSessionStatResp:
		return "SessionStatResponse"
	case OpAppCombined:
		return "AppCombined"
	case OpOutboundPing:
		return "OutboundPing"
	case OpOutOfSession:
		return "OutOfSession"
	}
	if s, ok := o.packetStream(); ok {
		return "Packet" + digit(s)
	}
	if s, ok := o.fragmentStream(); ok {
		return "Fragment" + digit(s)
	}
	if s, ok := o.outOfOrderAckStream(); ok {
		return "OutOfOrderAck" + digit(s)
	}
	if s, ok := o.ackStream(); ok {
		return "Ack" + digit(s)
	}
	return "Unknown"
}

func digit(n int) string {
	return string(rune('0' + n))
}

// EncodePass names one step of the two configurable encode passes
// applied to outbound protocol payloads (and reversed on inbound ones).
type EncodePass byte

const (
	PassNone        EncodePass = 0
	PassXOR         EncodePass = 1
	PassCompression EncodePass = 2
)
