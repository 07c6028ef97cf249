package daybreak

import "time"

// ConnectionManagerOptions configures a ConnectionManager and the
// connections it creates. Every field maps directly to one of the
// enumerated options in SPEC_FULL.md §6.
type ConnectionManagerOptions struct {
	Port int

	MaxPacketSize uint32
	CRCLength     uint32 // 0, 2, or 4; 0 disables CRC send/validate.
	EncodePasses  [2]EncodePass

	TicRateHertz int

	HoldLengthMS time.Duration
	HoldSize     int

	ResendDelay       time.Duration
	ResendDelayFactor float64
	ResendDelayMin    time.Duration
	ResendDelayMax    time.Duration
	ResendTimeout     time.Duration

	ConnectDelay      time.Duration
	ConnectStale      time.Duration
	StaleConnection   time.Duration
	KeepaliveDelay    time.Duration
	ConnectionCloseTime time.Duration

	OutgoingDataRate float64 // KiB/s; 0 disables budgeting.

	SimulatedInPacketLoss  int // percent, 0-100
	SimulatedOutPacketLoss int // percent, 0-100

	SkipCRCValidation bool
}

// MAX_CLIENT_RECV_PACKETS_PER_WINDOW and MAX_CLIENT_RECV_BYTES_PER_WINDOW
// bound a single resend scan across a connection's streams
// (SPEC_FULL.md §4.4).
const (
	maxResendPacketsPerWindow = 300
	maxResendBytesPerWindow   = 140 * 1024
)

// DefaultConnectionManagerOptions returns the option values this module
// treats as sane defaults, matching the magnitudes named throughout
// SPEC_FULL.md (100 Hz tick, 100ms-5s resend delay bounds, etc).
func DefaultConnectionManagerOptions() ConnectionManagerOptions {
	return ConnectionManagerOptions{
		Port:          9000,
		MaxPacketSize: 512,
		CRCLength:     2,
		EncodePasses:  [2]EncodePass{PassCompression, PassXOR},

		TicRateHertz: 100,

		HoldLengthMS: 10 * time.Millisecond,
		HoldSize:     512,

		ResendDelay:       400 * time.Millisecond,
		ResendDelayFactor: 1.5,
		ResendDelayMin:    100 * time.Millisecond,
		ResendDelayMax:    5000 * time.Millisecond,
		ResendTimeout:     15 * time.Second,

		ConnectDelay:        500 * time.Millisecond,
		ConnectStale:        5 * time.Second,
		StaleConnection:     30 * time.Second,
		KeepaliveDelay:      9500 * time.Millisecond,
		ConnectionCloseTime: 2 * time.Second,

		OutgoingDataRate: 0,

		SimulatedInPacketLoss:  0,
		SimulatedOutPacketLoss: 0,

		SkipCRCValidation: false,
	}
}

// TickInterval is the period between manager ticks implied by
// TicRateHertz.
func (o ConnectionManagerOptions) TickInterval() time.Duration {
	if o.TicRateHertz <= 0 {
		return 10 * time.Millisecond
	}
	return time.Second / time.Duration(o.TicRateHertz)
}

// ManagerOption mutates a ConnectionManagerOptions in place; passed to
// NewConnectionManager, which applies each in order on top of
// DefaultConnectionManagerOptions, generalizing the teacher's
// NewServer(host, port, maxPlayers) constructor shape to the larger
// option surface this protocol needs.
type ManagerOption func(*ConnectionManagerOptions)

func WithMaxPacketSize(n uint32) ManagerOption {
	return func(o *ConnectionManagerOptions) { o.MaxPacketSize = n }
}

func WithCRCLength(n uint32) ManagerOption {
	return func(o *ConnectionManagerOptions) { o.CRCLength = n }
}

func WithEncodePasses(p0, p1 EncodePass) ManagerOption {
	return func(o *ConnectionManagerOptions) { o.EncodePasses = [2]EncodePass{p0, p1} }
}

func WithOutgoingDataRate(kibPerSec float64) ManagerOption {
	return func(o *ConnectionManagerOptions) { o.OutgoingDataRate = kibPerSec }
}

func WithSimulatedPacketLoss(inPct, outPct int) ManagerOption {
	return func(o *ConnectionManagerOptions) {
		o.SimulatedInPacketLoss = inPct
		o.SimulatedOutPacketLoss = outPct
	}
}

func WithSkipCRCValidation(skip bool) ManagerOption {
	return func(o *ConnectionManagerOptions) { o.SkipCRCValidation = skip }
}
