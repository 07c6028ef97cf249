package daybreak

// fragmentAssembly holds the in-progress reassembly state for one
// reliable stream. At most one reassembly is in progress per stream at
// a time (SPEC_FULL.md §3.3).
type fragmentAssembly struct {
	totalBytes   uint32
	currentBytes uint32
	buffer       []byte
	active       bool
}

func (f *fragmentAssembly) reset() {
	f.totalBytes = 0
	f.currentBytes = 0
	f.buffer = nil
	f.active = false
}

// begin starts a new reassembly from a first fragment.
func (f *fragmentAssembly) begin(totalSize uint32, body []byte) error {
	f.totalBytes = totalSize
	f.buffer = make([]byte, totalSize)
	f.currentBytes = 0
	f.active = true
	return f.append(body)
}

// append copies body into the buffer at the current offset. It
// abandons the reassembly (clearing all state) and reports
// ErrFragmentOverflow if body would overflow totalBytes, matching
// SPEC_FULL.md §4.5's "entire reassembly is abandoned" rule.
func (f *fragmentAssembly) append(body []byte) error {
	if f.currentBytes+uint32(len(body)) > f.totalBytes {
		f.reset()
		return ErrFragmentOverflow
	}
	copy(f.buffer[f.currentBytes:], body)
	f.currentBytes += uint32(len(body))
	return nil
}

// complete reports whether the reassembly has accumulated every byte
// the first fragment promised.
func (f *fragmentAssembly) complete() bool {
	return f.active && f.currentBytes >= f.totalBytes
}

// take returns the completed buffer and resets the assembly state.
func (f *fragmentAssembly) take() []byte {
	buf := f.buffer
	f.reset()
	return buf
}
