package daybreak

import "encoding/binary"

// writer accumulates bytes for an outbound datagram. It plays the same
// role the teacher's BitStream plays for RakNet frames, but every
// multi-byte field here is big-endian, matching this protocol's wire
// format rather than RakNet's little-endian one.
type writer struct {
	buf []byte
}

func newWriter(capacityHint int) *writer {
	return &writer{buf: make([]byte, 0, capacityHint)}
}

func (w *writer) byte(b byte) *writer {
	w.buf = append(w.buf, b)
	return w
}

func (w *writer) bytes(b []byte) *writer {
	w.buf = append(w.buf, b...)
	return w
}

func (w *writer) uint16(v uint16) *writer {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
	return w
}

func (w *writer) uint32(v uint32) *writer {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
	return w
}

func (w *writer) uint64(v uint64) *writer {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
	return w
}

func (w *writer) bytesOut() []byte { return w.buf }

// reader walks an inbound byte slice with bounds-checked reads; every
// read either advances the cursor and returns a value or reports
// ErrShortHeader, replacing the raw pointer arithmetic the original
// parser used for this same job.
type reader struct {
	buf []byte
	pos int
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf}
}

func (r *reader) remaining() int { return len(r.buf) - r.pos }

func (r *reader) byte() (byte, error) {
	if r.remaining() < 1 {
		return 0, ErrShortHeader
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, ErrShortHeader
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) rest() []byte {
	b := r.buf[r.pos:]
	r.pos = len(r.buf)
	return b
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}
