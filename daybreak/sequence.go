package daybreak

// Order classifies a received sequence number relative to the next
// sequence a stream expects.
type Order int

const (
	OrderCurrent Order = iota
	OrderFuture
	OrderPast
)

// sequenceWrapBound is the hard-coded half-window heuristic beyond which
// a sequence distance is assumed to be 16-bit wrap-around rather than a
// genuinely distant future/past sequence. This is a deliberate
// compatibility choice, not the stricter exact half window (+/-0x8000) -
// see DESIGN.md's Open Question resolution.
const sequenceWrapBound = 10000

// CompareSequence classifies actual relative to expected, the next
// sequence number a stream's receive side is waiting for.
func CompareSequence(expected, actual uint16) Order {
	if expected == actual {
		return OrderCurrent
	}
	diff := int32(actual) - int32(expected)
	switch {
	case diff > 0 && diff <= sequenceWrapBound:
		return OrderFuture
	case diff < 0 && diff >= -sequenceWrapBound:
		return OrderPast
	case diff > sequenceWrapBound:
		// actual is far "ahead" numerically but within wrap distance of
		// being just behind expected once the 16-bit counter wraps.
		return OrderPast
	default:
		return OrderFuture
	}
}
