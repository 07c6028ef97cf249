package daybreak

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// startManager runs a manager in the background bound to an ephemeral
// port and tears it down when the test ends.
func startManager(t *testing.T, opts ...ManagerOption) *ConnectionManager {
	t.Helper()
	base := []ManagerOption{func(o *ConnectionManagerOptions) { o.Port = 0 }}
	mgr := NewConnectionManager(append(base, opts...)...)

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
	mgr.LocalAddr()
	return mgr
}

// eventually polls cond at a 2ms tick up to 2s. Every scenario here
// crosses two independently ticking managers over a real socket, so a
// fixed sleep would be both slower and flakier than polling for the
// actual condition.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 2*time.Millisecond, msg)
}

func TestHandshakeClientReachesConnected(t *testing.T) {
	server := startManager(t)
	client := startManager(t)

	srvAddr := server.LocalAddr()
	conn := client.Connect(srvAddr, 0xCAFE)

	eventually(t, func() bool { return conn.Status() == StatusConnected }, "client never reached Connected")

	eventually(t, func() bool {
		peer, ok := server.Connection(client.LocalAddr())
		return ok && peer.Status() == StatusConnected
	}, "server never saw the peer reach Connected")
}

func TestReliableSendsDeliverInOrderAcrossRealSockets(t *testing.T) {
	received := make(chan []byte, 8)

	server := startManager(t)
	server.SetOnPacketRecv(func(_ *Connection, stream int, payload []byte) {
		if stream != 0 {
			return
		}
		received <- append([]byte{}, payload...)
	})

	client := startManager(t)
	conn := client.Connect(server.LocalAddr(), 1)
	eventually(t, func() bool { return conn.Status() == StatusConnected }, "never connected")

	for _, b := range [][]byte{[]byte("one"), []byte("two"), []byte("three")} {
		conn.QueuePacket(b, 0, true)
	}

	var got [][]byte
	for i := 0; i < 3; i++ {
		select {
		case p := <-received:
			got = append(got, p)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d", i)
		}
	}
	require.Equal(t, "one", string(got[0]))
	require.Equal(t, "two", string(got[1]))
	require.Equal(t, "three", string(got[2]))
}

func TestFragmentReassemblyAcrossRealSockets(t *testing.T) {
	received := make(chan []byte, 1)
	server := startManager(t)
	server.SetOnPacketRecv(func(_ *Connection, _ int, payload []byte) {
		received <- append([]byte{}, payload...)
	})

	client := startManager(t, func(o *ConnectionManagerOptions) { o.MaxPacketSize = 128 })
	conn := client.Connect(server.LocalAddr(), 2)
	eventually(t, func() bool { return conn.Status() == StatusConnected }, "never connected")

	big := make([]byte, 900)
	for i := range big {
		big[i] = byte(i)
	}
	conn.QueuePacket(big, 1, true)

	select {
	case got := <-received:
		require.Equal(t, big, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reassembled delivery")
	}
}

func TestRetransmitDeliversDespiteOutboundLoss(t *testing.T) {
	received := make(chan []byte, 1)
	server := startManager(t)
	server.SetOnPacketRecv(func(_ *Connection, _ int, payload []byte) {
		received <- append([]byte{}, payload...)
	})

	client := startManager(t, func(o *ConnectionManagerOptions) {
		o.SimulatedOutPacketLoss = 60
		o.ResendDelay = 20 * time.Millisecond
		o.ResendDelayMax = 50 * time.Millisecond
	})
	conn := client.Connect(server.LocalAddr(), 3)
	eventually(t, func() bool { return conn.Status() == StatusConnected }, "never connected")

	conn.QueuePacket([]byte("eventually delivered"), 0, true)

	select {
	case got := <-received:
		require.Equal(t, "eventually delivered", string(got))
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for delivery despite retransmission")
	}
}

func TestCoalesceCombinesSmallSendsIntoOneDatagram(t *testing.T) {
	server := startManager(t)

	deliveries := make(chan struct{}, 16)
	server.SetOnPacketRecv(func(_ *Connection, _ int, _ []byte) {
		deliveries <- struct{}{}
	})

	client := startManager(t, func(o *ConnectionManagerOptions) {
		o.HoldLengthMS = 200 * time.Millisecond
		o.HoldSize = 4096
	})
	conn := client.Connect(server.LocalAddr(), 4)
	eventually(t, func() bool { return conn.Status() == StatusConnected }, "never connected")

	before := client.Connections()[0].GetStats().PacketsSent

	for i := 0; i < 5; i++ {
		conn.QueuePacket([]byte{byte(i)}, 0, false)
	}

	for i := 0; i < 5; i++ {
		select {
		case <-deliveries:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d", i)
		}
	}

	after := client.Connections()[0].GetStats().PacketsSent
	require.Equalf(t, uint64(1), after-before, "expected the five small sends to coalesce into one datagram")
}

// TestHandshakeFramesCarryNoCRCAndDrainEmitsFinalCumulativeAck drives a
// real server ConnectionManager from a hand-rolled client socket (not a
// Connection) so the assertions can inspect raw wire bytes directly,
// rather than in-process state the way the other tests here do. It
// checks two things no white-box test can see: that SessionResponse
// carries no CRC trailer (handshake frames are exempt per
// packetCanBeEncoded), and that reordered arrivals 0, 2, 3, 1 on stream
// 0 end with a cumulative Ack(3) on the wire, matching SPEC_FULL.md
// §8's scenario 2.
func TestHandshakeFramesCarryNoCRCAndDrainEmitsFinalCumulativeAck(t *testing.T) {
	server := startManager(t)

	raw, err := net.DialUDP("udp", nil, server.LocalAddr())
	require.NoError(t, err)
	defer raw.Close()
	require.NoError(t, raw.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = raw.Write(buildSessionRequest(0xBEEF, 1024))
	require.NoError(t, err)

	respBuf := make([]byte, 2048)
	n, err := raw.Read(respBuf)
	require.NoError(t, err)
	// A SessionResponse is not CRC-gated, so every byte after the
	// 0x00, opcode header is exactly the parsed struct - no trailer
	// to strip. If sendRaw regressed to appending a CRC here,
	// parseSessionResponse would either fail outright or silently
	// decode trailer bytes as part of MaxPacketSize.
	require.Equal(t, byte(0x00), respBuf[0])
	require.Equal(t, byte(OpSessionResponse), respBuf[1])
	resp, err := parseSessionResponse(respBuf[2:n])
	require.NoError(t, err)
	require.Equal(t, uint32(0xBEEF), resp.ConnectCode)

	eventually(t, func() bool { return len(server.Connections()) == 1 }, "server never accepted the connection")

	passes := [2]EncodePass{resp.Pass0, resp.Pass1}
	send := func(frame []byte) {
		encoded, err := encodeOutbound(frame, passes, resp.EncodeKey)
		require.NoError(t, err)
		final := encoded
		if packetCanBeEncoded(frame) {
			final = appendCRC(encoded, int(resp.CRCBytes), true, resp.EncodeKey)
		}
		_, err = raw.Write(final)
		require.NoError(t, err)
	}

	// Reorder the arrivals exactly as SPEC_FULL.md §8 scenario 2 does:
	// 0, 2, 3, 1. The final in-order delivery (1) should drain 2 and 3
	// out of the queue and re-ack each one, ending on a cumulative
	// Ack(3).
	for _, seq := range []uint16{0, 2, 3, 1} {
		send(buildPacket(0, seq, []byte{byte(seq)}))
	}

	type observedAck struct {
		cumulative bool
		seq        uint16
	}
	var acks []observedAck

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, raw.SetReadDeadline(time.Now().Add(500*time.Millisecond)))
		buf := make([]byte, 2048)
		n, err := raw.Read(buf)
		if err != nil {
			if len(acks) > 0 && acks[len(acks)-1] == (observedAck{cumulative: true, seq: 3}) {
				break
			}
			continue
		}

		stripped, ok := validateCRC(buf[:n], int(resp.CRCBytes), true, resp.EncodeKey, false)
		require.True(t, ok, "CRC validation failed on a datagram from the server")
		decoded, err := decodeInbound(stripped, passes, resp.EncodeKey)
		require.NoError(t, err)

		var items [][]byte
		if len(decoded) >= 2 && decoded[0] == 0x00 && Opcode(decoded[1]) == OpCombined {
			items, err = parseCombined(decoded[2:])
			require.NoError(t, err)
		} else {
			items = [][]byte{decoded}
		}

		for _, item := range items {
			if len(item) < 2 || item[0] != 0x00 {
				continue
			}
			op := Opcode(item[1])
			if s, ok := op.ackStream(); ok && s == 0 {
				seq, err := parseAckSequence(item[2:])
				require.NoError(t, err)
				acks = append(acks, observedAck{cumulative: true, seq: seq})
			} else if s, ok := op.outOfOrderAckStream(); ok && s == 0 {
				seq, err := parseAckSequence(item[2:])
				require.NoError(t, err)
				acks = append(acks, observedAck{cumulative: false, seq: seq})
			}
		}

		if len(acks) > 0 && acks[len(acks)-1] == (observedAck{cumulative: true, seq: 3}) {
			break
		}
	}

	require.NotEmpty(t, acks, "never observed an ack frame from the server")
	last := acks[len(acks)-1]
	require.True(t, last.cumulative, "expected the final observed ack to be cumulative, got OutOfOrderAck(%d)", last.seq)
	require.Equal(t, uint16(3), last.seq, "expected the final cumulative ack to cover sequence 3 once the reorder queue drained")
}

func TestStaleConnectionClosesAfterSilence(t *testing.T) {
	server := startManager(t, func(o *ConnectionManagerOptions) {
		o.StaleConnection = 40 * time.Millisecond
		o.ConnectionCloseTime = 10 * time.Millisecond
		o.KeepaliveDelay = 0
	})
	closed := make(chan struct{}, 1)
	server.SetOnConnectionStateChange(func(_ *Connection, from, to Status) {
		if from == StatusDisconnecting && to == StatusDisconnected {
			select {
			case closed <- struct{}{}:
			default:
			}
		}
	})

	// Hand-craft a SessionRequest from a socket that will never send
	// another byte, so the server accepts a connection and then just
	// goes quiet.
	raw, err := net.DialUDP("udp", nil, server.LocalAddr())
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Write(buildSessionRequest(5, 512))
	require.NoError(t, err)

	eventually(t, func() bool { return len(server.Connections()) == 1 }, "server never accepted the connection")
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("connection never went stale")
	}
	eventually(t, func() bool { return len(server.Connections()) == 0 }, "stale connection was never removed")
}
