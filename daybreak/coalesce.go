package daybreak

import "time"

// coalesceHeaderOverhead accounts for the 0x00, 0x03 Combined frame
// header bytes a flush will prepend.
const coalesceHeaderOverhead = 2

// coalesceBuffer accumulates pending encoded payloads for one
// connection, to be packed into Combined frames on flush
// (SPEC_FULL.md §4.7). Each queued item must already be <= 0xFF bytes;
// queue() itself enforces that by flushing and sending an oversized
// item standalone instead of ever buffering it.
type coalesceBuffer struct {
	items    [][]byte
	length   int
	holdTime time.Time
}

func newCoalesceBuffer(now time.Time) *coalesceBuffer {
	return &coalesceBuffer{holdTime: now}
}

func (c *coalesceBuffer) empty() bool { return len(c.items) == 0 }

// queue buffers item, forcing an immediate flush first when any of the
// three conditions in SPEC_FULL.md §4.7 would otherwise be violated.
// It returns any datagrams that must be sent immediately as a result
// (the flushed prior buffer, and/or the new item itself if it could
// never be buffered).
func (c *coalesceBuffer) queue(item []byte, maxPacketSize int, crcBytes int, holdSize int, now time.Time) [][]byte {
	if len(item) > 0xFF {
		out := c.flush()
		out = append(out, item)
		return out
	}

	projected := coalesceHeaderOverhead + crcBytes + c.length + (len(c.items) + 1) + len(item)
	if projected > maxPacketSize {
		out := c.flush()
		c.bufferItem(item, now)
		return out
	}

	if c.length+len(c.items) > holdSize {
		out := c.flush()
		c.bufferItem(item, now)
		return out
	}

	c.bufferItem(item, now)
	return nil
}

func (c *coalesceBuffer) bufferItem(item []byte, now time.Time) {
	if c.empty() {
		c.holdTime = now
	}
	c.items = append(c.items, item)
	c.length += len(item)
}

// dueForPeriodicFlush reports whether the periodic hold_length_ms
// timeout (checked every tick) has elapsed.
func (c *coalesceBuffer) dueForPeriodicFlush(now time.Time, holdLength time.Duration) bool {
	if c.empty() {
		return false
	}
	return now.Sub(c.holdTime) >= holdLength
}

// flush drains the buffer, returning raw datagrams ready for the
// encode/CRC/send pipeline: the sole item unwrapped if there is
// exactly one, otherwise one or more Combined frames built by
// buildCombined.
func (c *coalesceBuffer) flush() [][]byte {
	if c.empty() {
		return nil
	}
	var out [][]byte
	if len(c.items) == 1 {
		out = [][]byte{c.items[0]}
	} else {
		out = buildCombined(c.items)
	}
	c.items = nil
	c.length = 0
	return out
}
