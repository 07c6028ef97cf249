package daybreak

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/pkg/errors"
)

// Compression markers. 0x5A selects a following zlib-format DEFLATE
// stream; 0xA5 means the remaining bytes are passed through
// uncompressed. compressDecode selects on the marker byte alone;
// looksCompressed additionally checks the byte after 0x5A for 0x78 (the
// zlib CMF byte for window bits 15), the fragment-reassembly dispatch
// check in SPEC_FULL.md §4.5.
const (
	deflateMarker        byte = 0x5A
	deflateMarkerNextByte byte = 0x78
	passthroughMarker    byte = 0xA5
)

// compressionMinInputLen is the threshold below which compression is
// never attempted; SPEC_FULL.md §4.6 only attempts DEFLATE when
// len(input) > 30.
const compressionMinInputLen = 30

// deflateCompress runs zlib-wrapped DEFLATE (window bits 15, the
// RFC-1950 format `deflateInit`/`inflateInit2(&z, 15)` produce) at the
// best-speed level, matching the wire format in SPEC_FULL.md §6. The
// wrapper's CMF byte is what lets looksCompressed recognize a
// compressed stream by its leading 0x78.
func deflateCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestSpeed)
	if err != nil {
		return nil, errors.Wrap(err, "daybreak: zlib writer")
	}
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, "daybreak: zlib write")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "daybreak: zlib close")
	}
	return buf.Bytes(), nil
}

func deflateDecompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "daybreak: zlib reader")
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "daybreak: zlib inflate")
	}
	return out, nil
}

// compressEncode applies the Compression pass on send: head stays
// untouched (opcode/sequence header bytes preceding body), body is
// DEFLATE-compressed with a one-byte marker prefix when that shrinks
// it, otherwise passed through with a passthrough marker.
func compressEncode(head, body []byte) ([]byte, error) {
	if len(body) > compressionMinInputLen {
		compressed, err := deflateCompress(body)
		if err == nil && len(compressed) < len(body) {
			out := make([]byte, 0, len(head)+1+len(compressed))
			out = append(out, head...)
			out = append(out, deflateMarker)
			out = append(out, compressed...)
			return out, nil
		}
	}
	out := make([]byte, 0, len(head)+1+len(body))
	out = append(out, head...)
	out = append(out, passthroughMarker)
	out = append(out, body...)
	return out, nil
}

// compressDecode reverses compressEncode: head is left untouched, the
// marker byte immediately following it selects inflate, passthrough, or
// (for any other marker value) leaving the tail unchanged, matching
// SPEC_FULL.md §4.6's decode rule.
func compressDecode(head, tail []byte) ([]byte, error) {
	if len(tail) == 0 {
		return append([]byte{}, head...), nil
	}
	marker := tail[0]
	rest := tail[1:]
	switch marker {
	case deflateMarker:
		body, err := deflateDecompress(rest)
		if err != nil {
			return nil, err
		}
		return append(append([]byte{}, head...), body...), nil
	case passthroughMarker:
		return append(append([]byte{}, head...), rest...), nil
	default:
		return append(append([]byte{}, head...), tail...), nil
	}
}

// looksCompressed reports whether buf begins with a recognizable
// compression marker. SPEC_FULL.md §4.5 describes this check against a
// fully reassembled datagram, but since the Compression pass already
// runs once per outer wire datagram at flush/send time (see DESIGN.md's
// two-pass encode scope decision), reassembled fragment bodies have
// already been decoded by the time processUnit sees them and never
// carry a marker byte themselves. This stays as a standalone,
// test-only helper so the marker format's round-trip/idempotence
// properties remain independently verifiable.
func looksCompressed(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	if buf[0] == passthroughMarker {
		return true
	}
	if buf[0] == deflateMarker && len(buf) > 1 && buf[1] == deflateMarkerNextByte {
		return true
	}
	return false
}
