package daybreak

// combinedCap bounds the scratch buffer used while greedily packing
// items into a single Combined frame (SPEC_FULL.md §4.7).
const combinedCap = 512

// buildCombined greedily packs items into one or more Combined (0x03)
// frames, writing 0x00, 0x03 then repeated (len:u8, bytes) entries. Any
// item that does not fit as the first entry of a fresh Combined frame
// is returned standalone instead of being wrapped. Every item must
// already be <= 0xFF bytes; callers (the coalesce flush path) are
// responsible for flushing such oversized items individually before
// they ever reach here.
func buildCombined(items [][]byte) [][]byte {
	var out [][]byte
	var cur []byte

	flushCur := func() {
		if len(cur) > 0 {
			out = append(out, cur)
			cur = nil
		}
	}

	for _, item := range items {
		if len(item) > 0xFF {
			// Should not happen if callers pre-flush oversized items,
			// but stay defensive: send it standalone.
			flushCur()
			out = append(out, item)
			continue
		}
		entryLen := 1 + len(item)
		if len(cur) == 0 {
			if 2+entryLen > combinedCap {
				// Doesn't fit even as the sole entry of a fresh frame.
				out = append(out, item)
				continue
			}
			cur = append(cur, 0x00, byte(OpCombined))
		}
		if len(cur)+entryLen > combinedCap {
			flushCur()
			cur = append(cur, 0x00, byte(OpCombined))
		}
		cur = append(cur, byte(len(item)))
		cur = append(cur, item...)
	}
	flushCur()
	return out
}

// parseCombined splits a Combined frame's body (bytes after the 0x00,
// 0x03 header) into its inner datagrams.
func parseCombined(body []byte) ([][]byte, error) {
	var items [][]byte
	r := newReader(body)
	for r.remaining() > 0 {
		n, err := r.byte()
		if err != nil {
			return nil, err
		}
		item, err := r.bytes(int(n))
		if err != nil {
			return nil, ErrCombinedOverflow
		}
		items = append(items, item)
	}
	return items, nil
}

// parseAppCombined splits an AppCombined frame's body using the
// variable-length size prefix: one byte for lengths < 0xFF, three bytes
// (0xFF + u16 BE) for lengths that fit u16, seven bytes (0xFF 0xFF 0xFF
// + u32 BE) otherwise. This module only ever needs to parse
// AppCombined, never emit it (SPEC_FULL.md §4.7).
func parseAppCombined(body []byte) ([][]byte, error) {
	var items [][]byte
	r := newReader(body)
	for r.remaining() > 0 {
		n, err := readAppCombinedLength(r)
		if err != nil {
			return nil, err
		}
		item, err := r.bytes(n)
		if err != nil {
			return nil, ErrCombinedOverflow
		}
		items = append(items, item)
	}
	return items, nil
}

func readAppCombinedLength(r *reader) (int, error) {
	b0, err := r.byte()
	if err != nil {
		return 0, err
	}
	if b0 != 0xFF {
		return int(b0), nil
	}
	b1, err := r.byte()
	if err != nil {
		return 0, err
	}
	b2, err := r.byte()
	if err != nil {
		return 0, err
	}
	if b1 != 0xFF || b2 != 0xFF {
		return int(b1)<<8 | int(b2), nil
	}
	v, err := r.uint32()
	if err != nil {
		return 0, err
	}
	return int(v), nil
}
