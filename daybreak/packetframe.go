package daybreak

const protocolVersion uint32 = 3

// buildSessionRequest encodes a 0x01 SessionRequest frame.
func buildSessionRequest(connectCode, maxPacketSize uint32) []byte {
	w := newWriter(2 + 12)
	w.byte(0x00).byte(byte(OpSessionRequest))
	w.uint32(protocolVersion).uint32(connectCode).uint32(maxPacketSize)
	return w.bytesOut()
}

type sessionRequest struct {
	ProtocolVersion uint32
	ConnectCode     uint32
	MaxPacketSize   uint32
}

func parseSessionRequest(body []byte) (sessionRequest, error) {
	r := newReader(body)
	var req sessionRequest
	var err error
	if req.ProtocolVersion, err = r.uint32(); err != nil {
		return req, err
	}
	if req.ConnectCode, err = r.uint32(); err != nil {
		return req, err
	}
	if req.MaxPacketSize, err = r.uint32(); err != nil {
		return req, err
	}
	return req, nil
}

// buildSessionResponse encodes a 0x02 SessionResponse frame.
func buildSessionResponse(connectCode, encodeKey uint32, crcBytes uint8, pass0, pass1 EncodePass, maxPacketSize uint32) []byte {
	w := newWriter(2 + 4 + 4 + 1 + 1 + 1 + 4)
	w.byte(0x00).byte(byte(OpSessionResponse))
	w.uint32(connectCode).uint32(encodeKey)
	w.byte(crcBytes).byte(byte(pass0)).byte(byte(pass1))
	w.uint32(maxPacketSize)
	return w.bytesOut()
}

type sessionResponse struct {
	ConnectCode   uint32
	EncodeKey     uint32
	CRCBytes      uint8
	Pass0         EncodePass
	Pass1         EncodePass
	MaxPacketSize uint32
}

func parseSessionResponse(body []byte) (sessionResponse, error) {
	r := newReader(body)
	var resp sessionResponse
	var err error
	if resp.ConnectCode, err = r.uint32(); err != nil {
		return resp, err
	}
	if resp.EncodeKey, err = r.uint32(); err != nil {
		return resp, err
	}
	crcBytes, err := r.byte()
	if err != nil {
		return resp, err
	}
	resp.CRCBytes = crcBytes
	p0, err := r.byte()
	if err != nil {
		return resp, err
	}
	resp.Pass0 = EncodePass(p0)
	p1, err := r.byte()
	if err != nil {
		return resp, err
	}
	resp.Pass1 = EncodePass(p1)
	if resp.MaxPacketSize, err = r.uint32(); err != nil {
		return resp, err
	}
	return resp, nil
}

// buildSessionDisconnect encodes a 0x05 SessionDisconnect frame. Its
// 6-byte wire size (zero + opcode + connect_code) follows the explicit
// inline comment on the disconnect-frame test in the original
// implementation's test suite, over a conflicting struct-size assertion
// elsewhere in that same suite - see DESIGN.md.
func buildSessionDisconnect(connectCode uint32) []byte {
	w := newWriter(6)
	w.byte(0x00).byte(byte(OpSessionDisconnect))
	w.uint32(connectCode)
	return w.bytesOut()
}

func parseSessionDisconnect(body []byte) (uint32, error) {
	r := newReader(body)
	return r.uint32()
}

func buildKeepAlive() []byte {
	return []byte{0x00, byte(OpKeepAlive)}
}

func buildOutOfSession() []byte {
	return []byte{0x00, byte(OpOutOfSession)}
}

func buildOutboundPing() []byte {
	return []byte{0x00, byte(OpOutboundPing)}
}

// buildAck encodes a cumulative Ack[stream] frame.
func buildAck(stream int, seq uint16) []byte {
	w := newWriter(4)
	w.byte(0x00).byte(byte(ackOpcode(stream)))
	w.uint16(seq)
	return w.bytesOut()
}

// buildOutOfOrderAck encodes an OutOfOrderAck[stream] frame.
func buildOutOfOrderAck(stream int, seq uint16) []byte {
	w := newWriter(4)
	w.byte(0x00).byte(byte(outOfOrderOpcode(stream)))
	w.uint16(seq)
	return w.bytesOut()
}

func parseAckSequence(body []byte) (uint16, error) {
	r := newReader(body)
	return r.uint16()
}

// buildPacket encodes a Packet[stream] frame: sequence followed by the
// opaque payload.
func buildPacket(stream int, seq uint16, payload []byte) []byte {
	w := newWriter(4 + len(payload))
	w.byte(0x00).byte(byte(packetOpcode(stream)))
	w.uint16(seq)
	w.bytes(payload)
	return w.bytesOut()
}

// buildFragment encodes a Fragment[stream] frame. first indicates
// whether this is the first fragment of a reassembly, in which case
// totalSize is written ahead of the fragment body.
func buildFragment(stream int, seq uint16, first bool, totalSize uint32, body []byte) []byte {
	capHint := 4 + len(body)
	if first {
		capHint += 4
	}
	w := newWriter(capHint)
	w.byte(0x00).byte(byte(fragmentOpcode(stream)))
	w.uint16(seq)
	if first {
		w.uint32(totalSize)
	}
	w.bytes(body)
	return w.bytesOut()
}

// sessionStatRequest/Response field layouts are not fully specified by
// the wire table (SPEC_FULL.md §4.1 only commits to "timing and packet
// counters"); the layout below is this module's documented resolution
// of that gap (see DESIGN.md and SPEC_FULL.md's SUPPLEMENTED FEATURES).
type sessionStatRequest struct {
	Timestamp        int64
	LastPing         uint32
	AveragePing      uint32
	LowestPing       uint32
	HighestPing      uint32
	PacketsSent      uint64
	PacketsReceived  uint64
}

func buildSessionStatRequest(r sessionStatRequest) []byte {
	w := newWriter(2 + 8 + 16 + 16)
	w.byte(0x00).byte(byte(OpSessionStatReq))
	w.uint64(uint64(r.Timestamp))
	w.uint32(r.LastPing).uint32(r.AveragePing).uint32(r.LowestPing).uint32(r.HighestPing)
	w.uint64(r.PacketsSent).uint64(r.PacketsReceived)
	return w.bytesOut()
}

func parseSessionStatRequest(body []byte) (sessionStatRequest, error) {
	r := newReader(body)
	var req sessionStatRequest
	ts, err := r.uint64()
	if err != nil {
		return req, err
	}
	req.Timestamp = int64(ts)
	if req.LastPing, err = r.uint32(); err != nil {
		return req, err
	}
	if req.AveragePing, err = r.uint32(); err != nil {
		return req, err
	}
	if req.LowestPing, err = r.uint32(); err != nil {
		return req, err
	}
	if req.HighestPing, err = r.uint32(); err != nil {
		return req, err
	}
	if req.PacketsSent, err = r.uint64(); err != nil {
		return req, err
	}
	if req.PacketsReceived, err = r.uint64(); err != nil {
		return req, err
	}
	return req, nil
}

type sessionStatResponse struct {
	RequestTimestamp      int64
	Timestamp             int64
	PacketsSentServer     uint64
	PacketsReceivedServer uint64
	PacketsSentClient     uint64
	PacketsReceivedClient uint64
}

func buildSessionStatResponse(r sessionStatResponse) []byte {
	w := newWriter(2 + 16 + 32)
	w.byte(0x00).byte(byte(OpSessionStatResp))
	w.uint64(uint64(r.RequestTimestamp)).uint64(uint64(r.Timestamp))
	w.uint64(r.PacketsSentServer).uint64(r.PacketsReceivedServer)
	w.uint64(r.PacketsSentClient).uint64(r.PacketsReceivedClient)
	return w.bytesOut()
}

func parseSessionStatResponse(body []byte) (sessionStatResponse, error) {
	r := newReader(body)
	var resp sessionStatResponse
	rt, err := r.uint64()
	if err != nil {
		return resp, err
	}
	resp.RequestTimestamp = int64(rt)
	ts, err := r.uint64()
	if err != nil {
		return resp, err
	}
	resp.Timestamp = int64(ts)
	if resp.PacketsSentServer, err = r.uint64(); err != nil {
		return resp, err
	}
	if resp.PacketsReceivedServer, err = r.uint64(); err != nil {
		return resp, err
	}
	if resp.PacketsSentClient, err = r.uint64(); err != nil {
		return resp, err
	}
	if resp.PacketsReceivedClient, err = r.uint64(); err != nil {
		return resp, err
	}
	return resp, nil
}
