package daybreak

import "time"

// Stats holds the per-connection counters SPEC_FULL.md §3.2 enumerates.
// GetStats returns a copy; ResetStats zeroes the counters in place
// without otherwise disturbing connection state.
type Stats struct {
	BytesSent     uint64
	BytesReceived uint64
	PacketsSent   uint64
	PacketsReceived uint64

	BytesBeforeEncode uint64
	BytesAfterDecode  uint64

	ResentPackets  uint64
	ResentFragments uint64

	DroppedDatarate uint64

	LastPing    time.Duration
	MinPing     time.Duration
	MaxPing     time.Duration
	AveragePing time.Duration

	// RemotePacketsSent/RemotePacketsReceived mirror the peer's own
	// counters as last reported in a SessionStatRequest or
	// SessionStatResponse (SPEC_FULL.md §4.9).
	RemotePacketsSent     uint64
	RemotePacketsReceived uint64
}

// samplePing folds one round-trip observation into the rolling ping
// estimate plus min/max/last, matching SPEC_FULL.md §3.2/§4.4:
// rolling_ping updated as (rolling*2 + sample)/3.
func (s *Stats) samplePing(round time.Duration) {
	if round < 0 {
		round = 0
	}
	s.LastPing = round
	if s.MinPing == 0 || round < s.MinPing {
		s.MinPing = round
	}
	if round > s.MaxPing {
		s.MaxPing = round
	}
	if s.AveragePing == 0 {
		s.AveragePing = 500 * time.Millisecond
	}
	s.AveragePing = (s.AveragePing*2 + round) / 3
}
