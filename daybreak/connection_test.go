package daybreak

import (
	"context"
	"net"
	"testing"
	"time"
)

// newTestConnection builds a Connected connection whose manager is
// bound to a real (ephemeral) UDP socket, so any send path the test
// exercises - including a coalesce-forced flush - has somewhere real
// to write to rather than panicking on a nil *net.UDPConn. The peer
// address is an unreachable loopback port; UDP sends there succeed
// locally regardless (nothing need actually be listening).
func newTestConnection(t *testing.T, onRecv PacketRecvCallback, onErr ErrorCallback) (*Connection, *ConnectionManager) {
	t.Helper()
	opts := DefaultConnectionManagerOptions()
	opts.Port = 0
	mgr := NewConnectionManager(func(o *ConnectionManagerOptions) { *o = opts })
	if onRecv != nil {
		mgr.SetOnPacketRecv(onRecv)
	}
	if onErr != nil {
		mgr.SetOnErrorMessage(onErr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	mgr.LocalAddr() // blocks until the socket is bound

	peer := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1}
	conn := newConnection(mgr, peer, opts, time.Now())
	conn.status = StatusConnected
	conn.connectCode = 0xBEEF
	return conn, mgr
}

func TestHandleReliableInOrderDelivery(t *testing.T) {
	var got [][]byte
	conn, _ := newTestConnection(t, func(_ *Connection, stream int, payload []byte) {
		if stream != 0 {
			t.Errorf("expected stream 0, got %d", stream)
		}
		got = append(got, append([]byte{}, payload...))
	}, nil)

	now := time.Now()
	for seq := uint16(0); seq < 3; seq++ {
		body := buildPacket(0, seq, []byte{byte('a' + seq)})[2:]
		conn.handleReliable(0, false, body, now)
	}

	if len(got) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(got))
	}
	for i, payload := range got {
		if payload[0] != byte('a'+i) {
			t.Fatalf("delivery %d out of order: got %q", i, payload)
		}
	}
}

func TestHandleReliableOutOfOrderReassemblesInOrder(t *testing.T) {
	var got []byte
	conn, _ := newTestConnection(t, func(_ *Connection, stream int, payload []byte) {
		got = append(got, payload...)
	}, nil)

	now := time.Now()
	// Arrive in the order 2, 1, 0; delivery must still happen 0, 1, 2.
	body2 := buildPacket(0, 2, []byte("C"))[2:]
	body1 := buildPacket(0, 1, []byte("B"))[2:]
	body0 := buildPacket(0, 0, []byte("A"))[2:]

	conn.handleReliable(0, false, body2, now)
	if len(got) != 0 {
		t.Fatalf("seq 2 must be buffered, not delivered, while 0 and 1 are missing")
	}
	conn.handleReliable(0, false, body1, now)
	if len(got) != 0 {
		t.Fatalf("seq 1 must still be buffered without seq 0")
	}
	conn.handleReliable(0, false, body0, now)

	if string(got) != "ABC" {
		t.Fatalf("expected in-order delivery ABC, got %q", got)
	}
	if len(conn.streams[0].packetQueue) != 0 {
		t.Fatalf("expected the out-of-order queue to drain fully, got %d left", len(conn.streams[0].packetQueue))
	}
}

func TestHandleReliableDuplicatePastDoesNotRedeliver(t *testing.T) {
	var deliveries int
	conn, _ := newTestConnection(t, func(_ *Connection, _ int, _ []byte) {
		deliveries++
	}, nil)

	now := time.Now()
	body0 := buildPacket(0, 0, []byte("A"))[2:]
	conn.handleReliable(0, false, body0, now)
	if deliveries != 1 {
		t.Fatalf("expected exactly one delivery, got %d", deliveries)
	}

	// Replay the same sequence: sequenceIn is now 1, so seq 0 reads as
	// Past and must only trigger a re-ack, never a second delivery.
	conn.handleReliable(0, false, body0, now)
	if deliveries != 1 {
		t.Fatalf("expected the duplicate to be dropped without redelivery, got %d deliveries", deliveries)
	}
}

func TestHandleReliableFragmentReassemblyOutOfOrder(t *testing.T) {
	var got []byte
	conn, _ := newTestConnection(t, func(_ *Connection, stream int, payload []byte) {
		if stream != 1 {
			t.Errorf("expected fragment delivery on stream 1, got %d", stream)
		}
		got = append([]byte{}, payload...)
	}, nil)

	whole := []byte("a message split across two fragments")
	part1 := whole[:10]
	part2 := whole[10:]

	firstBody := buildFragment(1, 0, true, uint32(len(whole)), part1)[2:]
	contBody := buildFragment(1, 1, false, 0, part2)[2:]

	now := time.Now()
	// Continuation arrives before the first fragment: it must be
	// buffered in the out-of-order queue without knowing yet whether
	// it is a continuation (that is only decided once it drains).
	conn.handleReliable(1, true, contBody, now)
	if got != nil {
		t.Fatalf("expected no delivery before the first fragment arrives")
	}

	conn.handleReliable(1, true, firstBody, now)
	if string(got) != string(whole) {
		t.Fatalf("reassembled mismatch: got %q want %q", got, whole)
	}
}

func TestHandleAckRemovesSentPacketAndSamplesPing(t *testing.T) {
	conn, _ := newTestConnection(t, nil, nil)
	now := time.Now()
	conn.streams[0].remember(5, []byte("frame"), now.Add(-50*time.Millisecond), 400*time.Millisecond)

	ackBody := buildAck(0, 5)[2:]
	conn.handleAck(0, ackBody, now)

	if _, ok := conn.streams[0].sentPackets[5]; ok {
		t.Fatalf("expected sequence 5 removed after ack")
	}
	if conn.stats.LastPing <= 0 {
		t.Fatalf("expected a positive ping sample to be folded in, got %v", conn.stats.LastPing)
	}
}

func TestHandleOutOfOrderAckRemovesExactSequenceOnly(t *testing.T) {
	conn, _ := newTestConnection(t, nil, nil)
	now := time.Now()
	conn.streams[0].remember(1, []byte("a"), now, 400*time.Millisecond)
	conn.streams[0].remember(2, []byte("b"), now, 400*time.Millisecond)

	ooAckBody := buildOutOfOrderAck(0, 2)[2:]
	conn.handleOutOfOrderAck(0, ooAckBody, now)

	if _, ok := conn.streams[0].sentPackets[2]; ok {
		t.Fatalf("expected sequence 2 removed")
	}
	if _, ok := conn.streams[0].sentPackets[1]; !ok {
		t.Fatalf("expected sequence 1 to remain outstanding")
	}
}

func TestDispatchCombinedDeliversEachItem(t *testing.T) {
	var payloads []string
	conn, _ := newTestConnection(t, func(_ *Connection, stream int, payload []byte) {
		if stream != unreliableStream {
			t.Errorf("expected application frames on the unreliable stream sentinel")
		}
		payloads = append(payloads, string(payload))
	}, nil)

	items := [][]byte{[]byte("first"), []byte("second")}
	frames := buildCombined(items)
	if len(frames) != 1 {
		t.Fatalf("expected both items packed into a single Combined frame")
	}

	conn.dispatch(frames[0], time.Now())
	if len(payloads) != 2 || payloads[0] != "first" || payloads[1] != "second" {
		t.Fatalf("unexpected payloads: %v", payloads)
	}
}

func TestDispatchUnknownOpcodeReportsFramingError(t *testing.T) {
	var gotKind ErrorKind
	var gotErr error
	conn, _ := newTestConnection(t, nil, func(_ *Connection, event ErrorEvent) {
		gotKind = event.Kind
		gotErr = event.Err
	})

	conn.dispatch([]byte{0x00, 0x7F}, time.Now())
	if gotKind != ErrKindFraming {
		t.Fatalf("expected ErrKindFraming, got %v", gotKind)
	}
	if gotErr == nil {
		t.Fatalf("expected a non-nil error for an unknown opcode")
	}
}

func TestQueueReliableSingleFramePath(t *testing.T) {
	conn, _ := newTestConnection(t, nil, nil)
	conn.QueuePacket([]byte("small reliable payload"), 2, true)

	if len(conn.streams[2].sentPackets) != 1 {
		t.Fatalf("expected exactly one outstanding sent packet, got %d", len(conn.streams[2].sentPackets))
	}
}

func TestQueueReliableFragmentsLargePayload(t *testing.T) {
	conn, _ := newTestConnection(t, nil, nil)
	big := make([]byte, int(conn.maxPacketSize)*3)
	for i := range big {
		big[i] = byte(i)
	}
	conn.QueuePacket(big, 0, true)

	if len(conn.streams[0].sentPackets) < 2 {
		t.Fatalf("expected the payload to split into multiple fragments, got %d outstanding", len(conn.streams[0].sentPackets))
	}
}

func TestQueuePacketDropsWhenNotConnected(t *testing.T) {
	conn, _ := newTestConnection(t, nil, nil)
	conn.status = StatusConnecting
	conn.QueuePacket([]byte("should be dropped"), 0, true)

	if len(conn.streams[0].sentPackets) != 0 {
		t.Fatalf("expected QueuePacket to drop silently outside StatusConnected")
	}
}

func TestWrapApplicationFramePrefixesPadding(t *testing.T) {
	raw := []byte{0x00, 1, 2, 3}
	wrapped := wrapApplicationFrame(raw)
	if wrapped[0] != 0x00 || Opcode(wrapped[1]) != OpPadding {
		t.Fatalf("expected a Padding wrapper for a payload starting with 0x00, got %v", wrapped[:2])
	}

	untouched := []byte{0x01, 2, 3}
	if got := wrapApplicationFrame(untouched); string(got) != string(untouched) {
		t.Fatalf("expected an unambiguous payload to pass through unchanged")
	}
}

func TestResetStatsPreservesAveragePing(t *testing.T) {
	conn, _ := newTestConnection(t, nil, nil)
	conn.stats.PacketsSent = 42
	conn.stats.AveragePing = 123 * time.Millisecond
	conn.ResetStats()

	if conn.stats.PacketsSent != 0 {
		t.Fatalf("expected counters reset, got PacketsSent=%d", conn.stats.PacketsSent)
	}
	if conn.stats.AveragePing != 123*time.Millisecond {
		t.Fatalf("expected AveragePing preserved across reset, got %v", conn.stats.AveragePing)
	}
}
