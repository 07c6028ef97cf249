package daybreak

import (
	"bytes"
	"strings"
	"testing"
)

func TestCompressEncodeDecodeRoundTripLargeInput(t *testing.T) {
	head := []byte{0x00, byte(OpPacket0), 0x00, 0x07}
	body := bytes.Repeat([]byte("compress me please "), 10) // well over 30 bytes, highly repetitive

	encoded, err := compressEncode(head, body)
	if err != nil {
		t.Fatalf("compressEncode: %v", err)
	}
	if !bytes.Equal(encoded[:len(head)], head) {
		t.Fatalf("head must stay untouched by compression")
	}
	if encoded[len(head)] != deflateMarker {
		t.Fatalf("expected deflate marker for compressible input, got %#x", encoded[len(head)])
	}

	decoded, err := compressDecode(head, encoded[len(head):])
	if err != nil {
		t.Fatalf("compressDecode: %v", err)
	}
	if !bytes.Equal(decoded, append(append([]byte{}, head...), body...)) {
		t.Fatalf("round trip mismatch")
	}
}

func TestCompressEncodeSmallInputPassesThrough(t *testing.T) {
	head := []byte{0x01}
	body := []byte("short") // well under the 30 byte minimum

	encoded, err := compressEncode(head, body)
	if err != nil {
		t.Fatalf("compressEncode: %v", err)
	}
	if encoded[len(head)] != passthroughMarker {
		t.Fatalf("expected passthrough marker for small input, got %#x", encoded[len(head)])
	}

	decoded, err := compressDecode(head, encoded[len(head):])
	if err != nil {
		t.Fatalf("compressDecode: %v", err)
	}
	if !bytes.Equal(decoded, append(append([]byte{}, head...), body...)) {
		t.Fatalf("round trip mismatch for passthrough")
	}
}

func TestCompressEncodeIncompressibleInputPassesThrough(t *testing.T) {
	head := []byte{0x01}
	// Random-looking, non-repetitive, over the threshold: DEFLATE is
	// unlikely to shrink this, so the encoder should fall back.
	body := []byte(strings.Repeat("qzjv", 1))
	for len(body) <= compressionMinInputLen {
		body = append(body, byte(len(body)*37+11))
	}

	encoded, err := compressEncode(head, body)
	if err != nil {
		t.Fatalf("compressEncode: %v", err)
	}
	if encoded[len(head)] != passthroughMarker {
		t.Fatalf("expected passthrough marker for incompressible input, got %#x", encoded[len(head)])
	}
	decoded, err := compressDecode(head, encoded[len(head):])
	if err != nil {
		t.Fatalf("compressDecode: %v", err)
	}
	if !bytes.Equal(decoded, append(append([]byte{}, head...), body...)) {
		t.Fatalf("round trip mismatch")
	}
}

func TestLooksCompressedDetectsMarkers(t *testing.T) {
	if !looksCompressed([]byte{passthroughMarker, 'x'}) {
		t.Errorf("expected passthrough marker to be detected")
	}
	if !looksCompressed([]byte{deflateMarker, deflateMarkerNextByte, 'x'}) {
		t.Errorf("expected deflate marker + lookahead byte to be detected")
	}
	if looksCompressed([]byte{deflateMarker, 0x00}) {
		t.Errorf("deflate marker without the lookahead byte must not be detected")
	}
	if looksCompressed(nil) {
		t.Errorf("empty buffer must not be detected as compressed")
	}
}

func TestCompressDecodeEmptyTail(t *testing.T) {
	head := []byte{0x01, 0x02}
	out, err := compressDecode(head, nil)
	if err != nil {
		t.Fatalf("compressDecode: %v", err)
	}
	if !bytes.Equal(out, head) {
		t.Fatalf("expected head returned unchanged for empty tail, got %v", out)
	}
}
