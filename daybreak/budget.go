package daybreak

import (
	"github.com/eqemu-go/daybreak/internal/numeric"
)

// sendBudget implements the byte-rate send allowance described in
// SPEC_FULL.md §4.8: replenished each tick, capped above at the
// configured rate (no lower clamp - a connection can run the budget
// negative is never allowed since spend rejects once it would, but
// replenishment itself is upper-clamp-only, matching the original's
// UpdateDataBudget).
type sendBudget struct {
	kib     float64
	rateKiB float64 // 0 disables budgeting entirely
}

func newSendBudget(rateKiB float64) sendBudget {
	return sendBudget{rateKiB: rateKiB}
}

// replenish adds tickIntervalMS*rate/1000 kilobytes, clamped above at
// rateKiB. A zero rate leaves budgeting disabled (spend always allows).
func (b *sendBudget) replenish(tickIntervalMS float64) {
	if b.rateKiB <= 0 {
		return
	}
	add := tickIntervalMS * b.rateKiB / 1000.0
	b.kib = numeric.ClampUpper(b.kib+add, b.rateKiB)
}

// trySpend charges byteLen/1024 kilobytes against the budget and
// reports whether the charge succeeded. When budgeting is disabled
// (rateKiB <= 0) every spend succeeds.
func (b *sendBudget) trySpend(byteLen int) bool {
	if b.rateKiB <= 0 {
		return true
	}
	cost := float64(byteLen) / 1024.0
	if b.kib-cost < 0 {
		return false
	}
	b.kib -= cost
	return true
}
