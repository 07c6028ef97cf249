package daybreak

import (
	"encoding/binary"

	"github.com/klauspost/crc32"
)

// crc32Keyed computes CRC32 (IEEE polynomial 0xEDB88320, reflected) over
// the little-endian raw bytes of key followed by data, matching the
// original C++ implementation's `memcpy(keyBytes, &key, 4)` ahead of the
// main CRC body on its little-endian deployment target - see DESIGN.md
// for why little-endian key bytes are the only choice that stays
// wire-compatible with real clients.
func crc32Keyed(data []byte, key uint32) uint32 {
	var keyBytes [4]byte
	binary.LittleEndian.PutUint32(keyBytes[:], key)

	h := crc32.NewIEEE()
	h.Write(keyBytes[:])
	h.Write(data)
	return h.Sum32()
}

// crc32Plain computes CRC32 over data alone, for connections configured
// without a keyed CRC (encode_key == 0 is still "no key" in practice for
// the purposes of this helper; callers decide whether to key).
func crc32Plain(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// appendCRC appends crcBytes (0, 2, or 4) of the CRC32 of data (keyed by
// key when keyed is true) to data and returns the result. crcBytes == 0
// is a no-op, matching "0 disables CRC send/validate" (SPEC_FULL.md §6).
func appendCRC(data []byte, crcBytes int, keyed bool, key uint32) []byte {
	if crcBytes == 0 {
		return data
	}
	var sum uint32
	if keyed {
		sum = crc32Keyed(data, key)
	} else {
		sum = crc32Plain(data)
	}
	switch crcBytes {
	case 2:
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(sum))
		return append(data, tmp[:]...)
	case 4:
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], sum)
		return append(data, tmp[:]...)
	default:
		return data
	}
}

// validateCRC checks the trailing crcBytes of data against a freshly
// computed CRC over the preceding bytes. It returns the payload with the
// CRC trailer stripped and whether it matched. crcBytes == 0 always
// matches and returns data unchanged.
func validateCRC(data []byte, crcBytes int, keyed bool, key uint32, skipValidation bool) (payload []byte, ok bool) {
	if crcBytes == 0 {
		return data, true
	}
	if len(data) < crcBytes {
		return data, false
	}
	split := len(data) - crcBytes
	payload = data[:split]
	trailer := data[split:]

	if skipValidation {
		return payload, true
	}

	var sum uint32
	if keyed {
		sum = crc32Keyed(payload, key)
	} else {
		sum = crc32Plain(payload)
	}

	switch crcBytes {
	case 2:
		return payload, uint16(sum) == binary.BigEndian.Uint16(trailer)
	case 4:
		return payload, sum == binary.BigEndian.Uint32(trailer)
	default:
		return payload, false
	}
}
