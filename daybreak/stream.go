package daybreak

import (
	"sort"
	"time"
)

// queuedUnit is a future-arrival datagram held in a stream's
// out-of-order queue until the gap ahead of it closes. raw holds the
// bytes following the sequence number verbatim; whether a buffered
// fragment unit carries a leading total_size is only knowable once it
// is actually drained in order (reassembly state at that point tells
// us whether it is the first fragment of a new message or a
// continuation), so that parsing is deferred to processUnit rather
// than done at queue time.
type queuedUnit struct {
	isFragment bool
	raw        []byte
}

// sentPacket is one outstanding reliable send awaiting acknowledgment.
type sentPacket struct {
	frame       []byte // full pre-encode wire frame, reused verbatim on resend
	firstSentAt time.Time
	lastSentAt  time.Time
	timesResent int
	resendDelay time.Duration
}

// reliableStream is the per-stream sliding-window reliability state
// described in SPEC_FULL.md §3.2/§4.4: independent sequence counters,
// an out-of-order receive queue, outstanding sent packets awaiting ack,
// and fragment reassembly.
type reliableStream struct {
	index int

	sequenceIn  uint16
	sequenceOut uint16

	packetQueue map[uint16]queuedUnit
	sentPackets map[uint16]*sentPacket

	fragment fragmentAssembly

	// ackedSinceLastScan tracks whether any ack/out-of-order-ack has
	// landed on this stream since the last resend scan, used by the
	// "skip this stream" rule in SPEC_FULL.md §4.4.
	ackedSinceLastScan bool
}

func newReliableStream(index int) *reliableStream {
	return &reliableStream{
		index:       index,
		packetQueue: make(map[uint16]queuedUnit),
		sentPackets: make(map[uint16]*sentPacket),
	}
}

// nextOutSequence returns the next sequence to assign and advances the
// counter, wrapping at 0xFFFF.
func (s *reliableStream) nextOutSequence() uint16 {
	seq := s.sequenceOut
	s.sequenceOut++
	return seq
}

// remember stores a freshly sent reliable frame for retransmission.
func (s *reliableStream) remember(seq uint16, frame []byte, now time.Time, resendDelay time.Duration) {
	s.sentPackets[seq] = &sentPacket{
		frame:       frame,
		firstSentAt: now,
		lastSentAt:  now,
		resendDelay: resendDelay,
	}
}

// pingSample is one round-trip observation produced by removing an
// acknowledged sent packet.
type pingSample struct {
	round time.Duration
}

// ackCumulative removes every sent packet whose sequence is not
// strictly Future relative to seq (i.e. Current or Past under
// CompareSequence), matching "sequence <= s under sequence-comparison
// semantics" in SPEC_FULL.md §4.4.
func (s *reliableStream) ackCumulative(seq uint16, now time.Time) []pingSample {
	var samples []pingSample
	for k, sp := range s.sentPackets {
		if CompareSequence(seq, k) != OrderFuture {
			samples = append(samples, pingSample{round: now.Sub(sp.lastSentAt)})
			delete(s.sentPackets, k)
		}
	}
	if len(samples) > 0 {
		s.ackedSinceLastScan = true
	}
	return samples
}

// ackExact removes only the exact matching sequence.
func (s *reliableStream) ackExact(seq uint16, now time.Time) []pingSample {
	sp, ok := s.sentPackets[seq]
	if !ok {
		return nil
	}
	delete(s.sentPackets, seq)
	s.ackedSinceLastScan = true
	return []pingSample{{round: now.Sub(sp.lastSentAt)}}
}

// oldestSent returns the sequence and entry of the longest-outstanding
// sent packet, by first-sent time, or ok=false if none are outstanding.
func (s *reliableStream) oldestSent() (seq uint16, entry *sentPacket, ok bool) {
	var found bool
	var bestSeq uint16
	var best *sentPacket
	for k, sp := range s.sentPackets {
		if !found || sp.firstSentAt.Before(best.firstSentAt) {
			found = true
			bestSeq = k
			best = sp
		}
	}
	return bestSeq, best, found
}

// sortedSentSequences returns outstanding sequence keys ordered oldest
// first by firstSentAt, matching the "restart from the oldest each
// tick" resend-scan behavior documented in SPEC_FULL.md's SUPPLEMENTED
// FEATURES section.
func (s *reliableStream) sortedSentSequences() []uint16 {
	keys := make([]uint16, 0, len(s.sentPackets))
	for k := range s.sentPackets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return s.sentPackets[keys[i]].firstSentAt.Before(s.sentPackets[keys[j]].firstSentAt)
	})
	return keys
}
