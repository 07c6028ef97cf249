package daybreak

import "testing"

func TestAppendValidateCRC16Roundtrip(t *testing.T) {
	payload := []byte("a reliable datagram body")
	framed := appendCRC(payload, 2, true, 0xCAFEBABE)
	if len(framed) != len(payload)+2 {
		t.Fatalf("expected 2 trailer bytes, got %d extra", len(framed)-len(payload))
	}

	out, ok := validateCRC(framed, 2, true, 0xCAFEBABE, false)
	if !ok {
		t.Fatalf("expected CRC16 to validate")
	}
	if string(out) != string(payload) {
		t.Fatalf("payload mismatch after CRC strip: %q", out)
	}
}

func TestAppendValidateCRC32Roundtrip(t *testing.T) {
	payload := []byte("another datagram, a bit longer this time")
	framed := appendCRC(payload, 4, false, 0)
	out, ok := validateCRC(framed, 4, false, 0, false)
	if !ok {
		t.Fatalf("expected CRC32 to validate")
	}
	if string(out) != string(payload) {
		t.Fatalf("payload mismatch: %q", out)
	}
}

func TestCRCZeroBytesDisablesValidation(t *testing.T) {
	payload := []byte("unchanged")
	framed := appendCRC(payload, 0, true, 1)
	if string(framed) != string(payload) {
		t.Fatalf("crcBytes=0 must be a no-op, got %q", framed)
	}
	out, ok := validateCRC(framed, 0, true, 1, false)
	if !ok || string(out) != string(payload) {
		t.Fatalf("crcBytes=0 must always validate unchanged, got %q ok=%v", out, ok)
	}
}

func TestValidateCRCDetectsTamper(t *testing.T) {
	payload := []byte("tamper me")
	framed := appendCRC(payload, 2, true, 42)
	framed[0] ^= 0xFF

	if _, ok := validateCRC(framed, 2, true, 42, false); ok {
		t.Fatalf("expected CRC mismatch after tampering payload")
	}
}

func TestValidateCRCWrongKeyFails(t *testing.T) {
	payload := []byte("keyed payload")
	framed := appendCRC(payload, 2, true, 1111)
	if _, ok := validateCRC(framed, 2, true, 2222, false); ok {
		t.Fatalf("expected validation to fail with the wrong key")
	}
}

func TestSkipCRCValidationBypassesCheck(t *testing.T) {
	payload := []byte("trust me")
	framed := appendCRC(payload, 2, true, 1)
	framed[0] ^= 0xFF // would fail a real check

	out, ok := validateCRC(framed, 2, true, 1, true)
	if !ok {
		t.Fatalf("expected skipValidation to always report ok")
	}
	if len(out) != len(payload) {
		t.Fatalf("expected trailer still stripped under skipValidation, got len %d", len(out))
	}
}

func TestCRC32KeyedUsesLittleEndianKeyBytes(t *testing.T) {
	// Keying with 0 must differ from plain CRC since the zero key's raw
	// bytes are still folded into the hash ahead of the data.
	data := []byte("abc")
	if crc32Keyed(data, 0) == crc32Plain(data) {
		t.Fatalf("expected keyed(0) to differ from plain (the key bytes are still hashed)")
	}
	// Two different keys must produce different sums for the same data.
	if crc32Keyed(data, 1) == crc32Keyed(data, 2) {
		t.Fatalf("expected different keys to produce different sums")
	}
	// The key is hashed as its little-endian bytes ahead of the data.
	if crc32Keyed(data, 0x01020304) != crc32Plain([]byte{0x04, 0x03, 0x02, 0x01, 'a', 'b', 'c'}) {
		t.Fatalf("expected keyed CRC to equal plain CRC over little-endian key bytes followed by data")
	}
}
