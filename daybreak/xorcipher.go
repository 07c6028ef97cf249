package daybreak

import "encoding/binary"

// xorEncode runs the 32-bit rolling-XOR stream cipher forward: for each
// 4-byte chunk starting at offset, ct = pt ^ key; key = ct. Tail bytes
// (fewer than 4 remaining) are XORed with the low byte of the final
// key. offset skips the protocol header bytes that are never encoded
// (2 bytes for a 0x00-prefixed protocol frame, 1 byte otherwise - see
// xorOffset).
func xorEncode(data []byte, offset int, key uint32) []byte {
	out := make([]byte, len(data))
	copy(out, data)

	i := offset
	for ; i+4 <= len(out); i += 4 {
		pt := binary.BigEndian.Uint32(out[i : i+4])
		ct := pt ^ key
		binary.BigEndian.PutUint32(out[i:i+4], ct)
		key = ct
	}
	if i < len(out) {
		lowByte := byte(key)
		for ; i < len(out); i++ {
			out[i] ^= lowByte
		}
	}
	return out
}

// xorDecode reverses xorEncode. The key must roll forward using the
// *ciphertext* read from the wire on both encode and decode, which is
// what makes the cipher symmetric and correct: pt = ct ^ key; key = ct.
func xorDecode(data []byte, offset int, key uint32) []byte {
	out := make([]byte, len(data))
	copy(out, data)

	i := offset
	for ; i+4 <= len(out); i += 4 {
		ct := binary.BigEndian.Uint32(out[i : i+4])
		pt := ct ^ key
		binary.BigEndian.PutUint32(out[i:i+4], pt)
		key = ct
	}
	if i < len(out) {
		lowByte := byte(key)
		for ; i < len(out); i++ {
			out[i] ^= lowByte
		}
	}
	return out
}

// xorOffset returns the byte offset at which XOR encoding starts: past
// the 2-byte protocol header (0x00 + opcode) for protocol frames, or
// past the 1-byte leading byte for application frames.
func xorOffset(data []byte) int {
	if len(data) > 0 && data[0] == 0x00 {
		return 2
	}
	return 1
}
