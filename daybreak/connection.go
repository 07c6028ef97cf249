package daybreak

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/eqemu-go/daybreak/internal/numeric"
)

// Status is one of the four total, monotone connection states described
// in SPEC_FULL.md §3.1: a connection never re-enters Connecting once it
// has left it.
type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusDisconnecting
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusDisconnecting:
		return "Disconnecting"
	case StatusDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// unreliableStream is the sentinel stream index reported to
// on_packet_recv for application frames and Padding-wrapped payloads,
// which travel outside any of the four reliable streams.
const unreliableStream = -1

// Connection is the per-peer state machine: reliability, fragmentation,
// encoding, CRC, coalescing, keep-alive, stats and send budget
// (SPEC_FULL.md §2, ~70% of the core).
//
// Connection keeps a direct pointer back to its owning manager rather
// than the weak-self-reference/raw-back-pointer pair the source used
// for re-entrant callbacks (SPEC_FULL.md §9): Go's garbage collector
// has no trouble with a connection -> manager pointer coexisting with
// the manager -> connection map entry, so nothing here is actually
// cyclic in the sense that motivated the original's weak pointer.
type Connection struct {
	manager *ConnectionManager
	peer    *net.UDPAddr
	peerKey string

	isClient bool
	status   Status

	connectCode   uint32
	encodeKey     uint32
	maxPacketSize uint32
	crcBytes      uint32
	encodePasses  [2]EncodePass

	streams  [NumStreams]*reliableStream
	coalesce *coalesceBuffer
	budget   sendBudget
	stats    Stats

	createdAt           time.Time
	lastSend            time.Time
	lastRecv            time.Time
	closeTime           time.Time
	lastConnectAttempt  time.Time
	lastSessionStatsAt  time.Time

	opts ConnectionManagerOptions
	now  func() time.Time
}

func newConnection(mgr *ConnectionManager, peer *net.UDPAddr, opts ConnectionManagerOptions, now time.Time) *Connection {
	c := &Connection{
		manager:       mgr,
		peer:          peer,
		peerKey:       peer.String(),
		maxPacketSize: opts.MaxPacketSize,
		crcBytes:      opts.CRCLength,
		encodePasses:  opts.EncodePasses,
		coalesce:      newCoalesceBuffer(now),
		budget:        newSendBudget(opts.OutgoingDataRate),
		createdAt:     now,
		lastRecv:      now,
		lastSend:      now,
		opts:          opts,
		now:           func() time.Time { return time.Now() },
	}
	for i := range c.streams {
		c.streams[i] = newReliableStream(i)
	}
	c.stats.AveragePing = 500 * time.Millisecond
	return c
}

// newOutboundConnection builds a client-side connection, initially
// Connecting, that retries SessionRequest until a SessionResponse
// arrives or connect_stale_ms elapses.
func newOutboundConnection(mgr *ConnectionManager, peer *net.UDPAddr, connectCode uint32, opts ConnectionManagerOptions, now time.Time) *Connection {
	c := newConnection(mgr, peer, opts, now)
	c.isClient = true
	c.status = StatusConnecting
	c.connectCode = connectCode
	return c
}

// newInboundConnection builds a server-side connection, Connected
// immediately after accepting a SessionRequest (SPEC_FULL.md §3.1).
func newInboundConnection(mgr *ConnectionManager, peer *net.UDPAddr, req sessionRequest, opts ConnectionManagerOptions, now time.Time) *Connection {
	c := newConnection(mgr, peer, opts, now)
	c.isClient = false
	c.status = StatusConnected
	c.connectCode = req.ConnectCode
	c.encodeKey = rand.Uint32()
	if req.MaxPacketSize > 0 && req.MaxPacketSize < c.maxPacketSize {
		c.maxPacketSize = req.MaxPacketSize
	}
	c.sendSessionResponse(now)
	return c
}

func (c *Connection) Status() Status { return c.status }

func (c *Connection) Peer() *net.UDPAddr { return c.peer }

// GetStats returns a snapshot copy of the connection's counters.
func (c *Connection) GetStats() Stats { return c.stats }

// ResetStats zeroes the counters without disturbing any other
// connection state.
func (c *Connection) ResetStats() { c.stats = Stats{AveragePing: c.stats.AveragePing} }

// Ping sends an unreliable OutboundPing frame immediately, bypassing
// the coalesce buffer the same way KeepAlive does.
func (c *Connection) Ping() {
	if c.status != StatusConnected {
		return
	}
	c.sendImmediate(buildOutboundPing())
}

// RequestSessionStats sends a SessionStatRequest carrying this side's
// current counters; the peer answers with a SessionStatResponse that
// handleSessionStatResponse folds into RemotePacketsSent/Received.
func (c *Connection) RequestSessionStats() {
	if c.status != StatusConnected {
		return
	}
	now := c.now()
	req := sessionStatRequest{
		Timestamp:       now.UnixNano(),
		LastPing:        uint32(c.stats.LastPing.Milliseconds()),
		AveragePing:     uint32(c.stats.AveragePing.Milliseconds()),
		LowestPing:      uint32(c.stats.MinPing.Milliseconds()),
		HighestPing:     uint32(c.stats.MaxPing.Milliseconds()),
		PacketsSent:     c.stats.PacketsSent,
		PacketsReceived: c.stats.PacketsReceived,
	}
	c.lastSessionStatsAt = now
	c.sendImmediate(buildSessionStatRequest(req))
}

// QueuePacket is fire-and-forget (SPEC_FULL.md §7: "no errors are
// raised to the caller"): it never returns an error, even once the
// connection has left Connected.
func (c *Connection) QueuePacket(payload []byte, stream int, reliable bool) {
	if c.status != StatusConnected {
		return
	}
	if stream < 0 || stream >= NumStreams {
		stream = 0
	}
	now := c.now()
	if !reliable {
		c.enqueueForSend(wrapApplicationFrame(payload))
		return
	}
	c.queueReliable(stream, payload, now)
}

// wrapApplicationFrame prefixes payload with the Padding opcode when
// its first byte would otherwise be mistaken for a protocol frame
// marker (SPEC_FULL.md §4.1).
func wrapApplicationFrame(payload []byte) []byte {
	if len(payload) > 0 && payload[0] == 0x00 {
		out := make([]byte, 0, len(payload)+2)
		out = append(out, 0x00, byte(OpPadding))
		out = append(out, payload...)
		return out
	}
	return payload
}

const (
	packetHeaderSize        = 4 // 0x00, opcode, sequence(u16)
	firstFragmentHeaderSize = 8 // 0x00, opcode, sequence(u16), total_size(u32)
	contFragmentHeaderSize  = 4 // 0x00, opcode, sequence(u16)
)

func (c *Connection) queueReliable(stream int, payload []byte, now time.Time) {
	s := c.streams[stream]
	maxBody := int(c.maxPacketSize) - int(c.crcBytes) - packetHeaderSize
	if maxBody > 0 && len(payload) <= maxBody {
		seq := s.nextOutSequence()
		frame := buildPacket(stream, seq, payload)
		c.rememberAndSend(s, seq, frame, now)
		return
	}

	firstCap := int(c.maxPacketSize) - int(c.crcBytes) - firstFragmentHeaderSize
	contCap := int(c.maxPacketSize) - int(c.crcBytes) - contFragmentHeaderSize
	if firstCap <= 0 || contCap <= 0 {
		c.reportError(ErrKindFraming, fmt.Errorf("daybreak: max_packet_size too small to fragment"))
		return
	}

	totalSize := uint32(len(payload))
	offset := 0
	first := true
	for offset < len(payload) {
		cap := contCap
		if first {
			cap = firstCap
		}
		end := offset + cap
		if end > len(payload) {
			end = len(payload)
		}
		body := payload[offset:end]
		seq := s.nextOutSequence()
		frame := buildFragment(stream, seq, first, totalSize, body)
		c.rememberAndSend(s, seq, frame, now)
		offset = end
		first = false
	}
}

func (c *Connection) rememberAndSend(s *reliableStream, seq uint16, frame []byte, now time.Time) {
	delay := c.computeResendDelay()
	s.remember(seq, frame, now, delay)
	c.enqueueForSend(frame)
}

func (c *Connection) computeResendDelay() time.Duration {
	pingMs := float64(c.stats.AveragePing.Milliseconds())
	delayMs := pingMs*c.opts.ResendDelayFactor + float64(c.opts.ResendDelay.Milliseconds())
	return numeric.Clamp(time.Duration(delayMs)*time.Millisecond, c.opts.ResendDelayMin, c.opts.ResendDelayMax)
}

// enqueueForSend buffers frame in the coalesce queue, immediately
// emitting anything the queue forces out as a side effect (SPEC_FULL.md
// §4.7).
func (c *Connection) enqueueForSend(frame []byte) {
	now := c.now()
	outs := c.coalesce.queue(frame, int(c.maxPacketSize), int(c.crcBytes), c.opts.HoldSize, now)
	for _, out := range outs {
		c.sendRaw(out)
	}
}

// sendImmediate bypasses the coalesce buffer entirely, for handshake
// and liveness frames that must not wait on a flush timer.
func (c *Connection) sendImmediate(frame []byte) {
	c.sendRaw(frame)
}

// sendRaw runs the budget check, encode passes and CRC append on frame
// (a raw, not-yet-encoded wire datagram) and hands it to the manager's
// socket. The send budget is charged against frame's pre-encode length,
// matching the original's InternalSend ordering (SPEC_FULL.md's
// SUPPLEMENTED FEATURES section).
func (c *Connection) sendRaw(frame []byte) {
	if !c.budget.trySpend(len(frame)) {
		c.stats.DroppedDatarate++
		return
	}

	encoded, err := encodeOutbound(frame, c.encodePasses, c.encodeKey)
	if err != nil {
		c.reportError(ErrKindDecode, err)
		return
	}
	final := encoded
	if packetCanBeEncoded(frame) {
		final = appendCRC(encoded, int(c.crcBytes), true, c.encodeKey)
	}

	if c.opts.SimulatedOutPacketLoss > 0 && randPercent() < c.opts.SimulatedOutPacketLoss {
		// The sender believes this datagram was transmitted; the wire
		// never carries it. Stats still reflect an attempted send.
		c.stats.BytesSent += uint64(len(final))
		c.stats.PacketsSent++
		c.lastSend = c.now()
		return
	}

	// The actual wire write happens out of a pooled scratch buffer
	// rather than final's own backing array: the slab bounds how much
	// memory a burst of sends can hold onto at once, and the slot is
	// returned the moment WriteToUDP has copied it onto the socket.
	buf, err := c.manager.sendPool.acquire()
	if err != nil {
		c.reportError(ErrKindResourceExhaustion, err)
		return
	}
	buf = append(buf, final...)
	writeErr := c.manager.writeDatagram(c.peer, buf)
	c.manager.sendPool.release(buf)
	if writeErr != nil {
		c.reportError(ErrKindResourceExhaustion, writeErr)
		return
	}
	c.stats.BytesSent += uint64(len(final))
	c.stats.PacketsSent++
	c.lastSend = c.now()
}

var randPercent = func() int { return rand.Intn(100) }

func (c *Connection) reportError(kind ErrorKind, err error) {
	c.manager.notifyError(c, kind, err)
}

// Close is idempotent and synchronous (SPEC_FULL.md §5): it flushes the
// coalesce buffer, emits a disconnect frame, and transitions to
// Disconnecting. Calling it a second time is a no-op.
func (c *Connection) Close() {
	if c.status == StatusDisconnecting || c.status == StatusDisconnected {
		return
	}
	now := c.now()
	c.disconnect(now, true)
}

func (c *Connection) disconnect(now time.Time, sendFrame bool) {
	for _, out := range c.coalesce.flush() {
		c.sendRaw(out)
	}
	if sendFrame {
		c.sendImmediate(buildSessionDisconnect(c.connectCode))
	}
	if c.closeTime.IsZero() {
		c.closeTime = now
	}
	c.transition(StatusDisconnecting, now)
}

func (c *Connection) transition(to Status, now time.Time) {
	from := c.status
	if from == to {
		return
	}
	c.status = to
	c.manager.notifyStateChange(c, from, to)
}

// process runs this connection's share of one manager tick: state-
// specific retry/expiry logic, budget replenishment, periodic coalesce
// flush and keep-alive emission (SPEC_FULL.md §4.2/§4.9).
func (c *Connection) process(now time.Time, tickIntervalMS float64) {
	switch c.status {
	case StatusConnecting:
		if c.isClient {
			if now.Sub(c.lastConnectAttempt) >= c.opts.ConnectDelay {
				c.sendImmediate(buildSessionRequest(c.connectCode, c.maxPacketSize))
				c.lastConnectAttempt = now
			}
			if now.Sub(c.createdAt) >= c.opts.ConnectStale {
				c.transition(StatusDisconnecting, now)
			}
		}
	case StatusConnected:
		c.budget.replenish(tickIntervalMS)
		if c.coalesce.dueForPeriodicFlush(now, c.opts.HoldLengthMS) {
			for _, out := range c.coalesce.flush() {
				c.sendRaw(out)
			}
		}
		if c.opts.KeepaliveDelay > 0 && now.Sub(c.lastSend) > c.opts.KeepaliveDelay {
			c.sendImmediate(buildKeepAlive())
		}
		if c.opts.StaleConnection > 0 && now.Sub(c.lastRecv) > c.opts.StaleConnection {
			c.disconnect(now, true)
		}
	case StatusDisconnecting:
		if now.Sub(c.closeTime) >= c.opts.ConnectionCloseTime {
			c.transition(StatusDisconnected, now)
		}
	}
}

// processResend scans every stream with outstanding sent packets,
// closing the connection if the oldest has exceeded resend_timeout,
// skipping a stream whose oldest hasn't yet exceeded its own
// resend_delay_ms (and saw no ack since the last scan), and otherwise
// re-emitting every buffered packet for that stream, bounded by the
// shared per-scan window caps (SPEC_FULL.md §4.4).
func (c *Connection) processResend(now time.Time) {
	if c.status != StatusConnected {
		return
	}
	packetsLeft := maxResendPacketsPerWindow
	bytesLeft := maxResendBytesPerWindow

	for _, s := range c.streams {
		if len(s.sentPackets) == 0 {
			continue
		}
		_, oldest, ok := s.oldestSent()
		if !ok {
			continue
		}
		if now.Sub(oldest.firstSentAt) > c.opts.ResendTimeout {
			c.disconnect(now, true)
			return
		}
		if now.Sub(oldest.firstSentAt) < oldest.resendDelay && !s.ackedSinceLastScan {
			continue
		}
		s.ackedSinceLastScan = false

		for _, seq := range s.sortedSentSequences() {
			if packetsLeft <= 0 || bytesLeft <= 0 {
				return
			}
			sp := s.sentPackets[seq]
			c.enqueueForSend(sp.frame)
			sp.lastSentAt = now
			sp.timesResent++
			sp.resendDelay = numeric.Clamp(sp.resendDelay*2, c.opts.ResendDelayMin, c.opts.ResendDelayMax)

			if isFragmentFrame(sp.frame) {
				c.stats.ResentFragments++
			} else {
				c.stats.ResentPackets++
			}
			packetsLeft--
			bytesLeft -= len(sp.frame)
		}
	}
}

func isFragmentFrame(frame []byte) bool {
	if len(frame) < 2 || frame[0] != 0x00 {
		return false
	}
	_, ok := Opcode(frame[1]).fragmentStream()
	return ok
}

// handleDatagram is the connection's entry point for a datagram the
// manager has already demultiplexed to it: validate CRC, reverse the
// encode passes, and dispatch by opcode.
func (c *Connection) handleDatagram(raw []byte) {
	now := c.now()
	c.lastRecv = now
	c.stats.BytesReceived += uint64(len(raw))

	if len(raw) < 1 {
		c.reportError(ErrKindFraming, ErrShortHeader)
		return
	}

	var body []byte
	if packetCanBeEncoded(raw) {
		stripped, ok := validateCRC(raw, int(c.crcBytes), true, c.encodeKey, c.opts.SkipCRCValidation)
		if !ok {
			c.reportError(ErrKindCRC, ErrCRCMismatch)
			return
		}
		decoded, err := decodeInbound(stripped, c.encodePasses, c.encodeKey)
		if err != nil {
			c.reportError(ErrKindDecode, err)
			return
		}
		body = decoded
	} else {
		body = raw
	}
	c.stats.BytesAfterDecode += uint64(len(body))
	c.dispatch(body, now)
}

func (c *Connection) dispatch(frame []byte, now time.Time) {
	if len(frame) == 0 {
		return
	}
	if frame[0] != 0x00 {
		c.deliverApplication(unreliableStream, frame)
		return
	}
	if len(frame) < 2 {
		c.reportError(ErrKindFraming, ErrShortHeader)
		return
	}
	c.dispatchOpcode(Opcode(frame[1]), frame[2:], now)
}

func (c *Connection) dispatchOpcode(op Opcode, body []byte, now time.Time) {
	switch op {
	case OpPadding:
		c.deliverApplication(unreliableStream, body)
	case OpSessionRequest:
		c.handleSessionRequest(body, now)
	case OpSessionResponse:
		c.handleSessionResponse(body, now)
	case OpCombined:
		c.dispatchCombined(body, now, parseCombined)
	case OpAppCombined:
		c.dispatchCombined(body, now, parseAppCombined)
	case OpSessionDisconnect:
		cc, err := parseSessionDisconnect(body)
		if err != nil {
			c.reportError(ErrKindFraming, err)
			return
		}
		if cc == c.connectCode {
			c.disconnect(now, true)
		}
	case OpKeepAlive, OpOutboundPing:
		// No-op beyond the lastRecv bump already applied.
	case OpSessionStatReq:
		c.handleSessionStatRequest(body, now)
	case OpSessionStatResp:
		c.handleSessionStatResponse(body)
	case OpOutOfSession:
		c.disconnect(now, false)
	default:
		if s, ok := op.packetStream(); ok {
			c.handleReliable(s, false, body, now)
			return
		}
		if s, ok := op.fragmentStream(); ok {
			c.handleReliable(s, true, body, now)
			return
		}
		if s, ok := op.ackStream(); ok {
			c.handleAck(s, body, now)
			return
		}
		if s, ok := op.outOfOrderAckStream(); ok {
			c.handleOutOfOrderAck(s, body, now)
			return
		}
		c.reportError(ErrKindFraming, fmt.Errorf("daybreak: unknown opcode 0x%02x", byte(op)))
	}
}

func (c *Connection) dispatchCombined(body []byte, now time.Time, parse func([]byte) ([][]byte, error)) {
	items, err := parse(body)
	if err != nil {
		c.reportError(ErrKindFraming, err)
		return
	}
	for _, item := range items {
		c.dispatch(item, now)
	}
}

func (c *Connection) deliverApplication(stream int, payload []byte) {
	c.stats.PacketsReceived++
	c.manager.notifyPacketRecv(c, stream, payload)
}

func (c *Connection) handleReliable(stream int, isFragment bool, body []byte, now time.Time) {
	if len(body) < 2 {
		c.reportError(ErrKindFraming, ErrShortHeader)
		return
	}
	seq := binary.BigEndian.Uint16(body[:2])
	rest := body[2:]
	s := c.streams[stream]

	switch CompareSequence(s.sequenceIn, seq) {
	case OrderFuture:
		c.sendOutOfOrderAck(stream, seq)
		s.packetQueue[seq] = queuedUnit{isFragment: isFragment, raw: rest}
	case OrderPast:
		c.sendAck(stream, s.sequenceIn-1)
	case OrderCurrent:
		delete(s.packetQueue, seq)
		c.sendAck(stream, seq)
		s.sequenceIn++
		c.processUnit(s, isFragment, rest, now)
		for {
			unit, ok := s.packetQueue[s.sequenceIn]
			if !ok {
				break
			}
			delete(s.packetQueue, s.sequenceIn)
			s.sequenceIn++
			c.processUnit(s, unit.isFragment, unit.raw, now)
			// Each drained entry gets its own cumulative ack, same as
			// the packet that arrived in order would have - the queue
			// draining is invisible to the peer, which still expects
			// one ack per delivered sequence.
			c.sendAck(stream, s.sequenceIn-1)
		}
	}
}

func (c *Connection) processUnit(s *reliableStream, isFragment bool, raw []byte, now time.Time) {
	if !isFragment {
		c.deliverApplication(s.index, raw)
		return
	}
	var err error
	if !s.fragment.active {
		if len(raw) < 4 {
			c.reportError(ErrKindFraming, ErrShortHeader)
			return
		}
		totalSize := binary.BigEndian.Uint32(raw[:4])
		err = s.fragment.begin(totalSize, raw[4:])
	} else {
		err = s.fragment.append(raw)
	}
	if err != nil {
		c.reportError(ErrKindFraming, err)
		return
	}
	if s.fragment.complete() {
		c.deliverApplication(s.index, s.fragment.take())
	}
}

func (c *Connection) sendAck(stream int, seq uint16) {
	c.enqueueForSend(buildAck(stream, seq))
}

func (c *Connection) sendOutOfOrderAck(stream int, seq uint16) {
	c.enqueueForSend(buildOutOfOrderAck(stream, seq))
}

func (c *Connection) handleAck(stream int, body []byte, now time.Time) {
	seq, err := parseAckSequence(body)
	if err != nil {
		c.reportError(ErrKindFraming, err)
		return
	}
	samples := c.streams[stream].ackCumulative(seq, now)
	for _, smp := range samples {
		c.stats.samplePing(smp.round)
	}
}

func (c *Connection) handleOutOfOrderAck(stream int, body []byte, now time.Time) {
	seq, err := parseAckSequence(body)
	if err != nil {
		c.reportError(ErrKindFraming, err)
		return
	}
	samples := c.streams[stream].ackExact(seq, now)
	for _, smp := range samples {
		c.stats.samplePing(smp.round)
	}
}

func (c *Connection) handleSessionRequest(body []byte, now time.Time) {
	req, err := parseSessionRequest(body)
	if err != nil {
		c.reportError(ErrKindFraming, err)
		return
	}
	if c.status == StatusConnected && req.ConnectCode == c.connectCode {
		c.sendSessionResponse(now)
	}
}

func (c *Connection) sendSessionResponse(now time.Time) {
	c.sendImmediate(buildSessionResponse(c.connectCode, c.encodeKey, uint8(c.crcBytes), c.encodePasses[0], c.encodePasses[1], c.maxPacketSize))
}

func (c *Connection) handleSessionResponse(body []byte, now time.Time) {
	if c.status != StatusConnecting {
		return
	}
	resp, err := parseSessionResponse(body)
	if err != nil {
		c.reportError(ErrKindFraming, err)
		return
	}
	if resp.ConnectCode != c.connectCode {
		// Protocol mismatch: may be a stray packet. Dropped silently
		// per SPEC_FULL.md §7, without an on_error_message callback.
		return
	}
	c.encodeKey = resp.EncodeKey
	c.crcBytes = uint32(resp.CRCBytes)
	c.encodePasses = [2]EncodePass{resp.Pass0, resp.Pass1}
	if resp.MaxPacketSize > 0 {
		c.maxPacketSize = resp.MaxPacketSize
	}
	c.transition(StatusConnected, now)
}

func (c *Connection) handleSessionStatRequest(body []byte, now time.Time) {
	req, err := parseSessionStatRequest(body)
	if err != nil {
		c.reportError(ErrKindFraming, err)
		return
	}
	c.stats.RemotePacketsSent = req.PacketsSent
	c.stats.RemotePacketsReceived = req.PacketsReceived
	c.lastSessionStatsAt = now

	resp := sessionStatResponse{
		RequestTimestamp:      req.Timestamp,
		Timestamp:             now.UnixNano(),
		PacketsSentServer:     c.stats.PacketsSent,
		PacketsReceivedServer: c.stats.PacketsReceived,
		PacketsSentClient:     req.PacketsSent,
		PacketsReceivedClient: req.PacketsReceived,
	}
	c.enqueueForSend(buildSessionStatResponse(resp))
}

func (c *Connection) handleSessionStatResponse(body []byte) {
	resp, err := parseSessionStatResponse(body)
	if err != nil {
		c.reportError(ErrKindFraming, err)
		return
	}
	c.stats.RemotePacketsSent = resp.PacketsSentServer
	c.stats.RemotePacketsReceived = resp.PacketsReceivedServer
}
