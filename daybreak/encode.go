package daybreak

// packetCanBeEncoded reports whether data is eligible for the two
// configurable encode passes. SessionRequest, SessionResponse and
// OutOfSession must stay readable before a session's encode_key and
// encode_passes are even known, so they (and only they, among protocol
// frames) are excluded; every other protocol frame and every
// application frame is eligible.
func packetCanBeEncoded(data []byte) bool {
	if len(data) < 1 {
		return true
	}
	if data[0] != 0x00 {
		return true // application frame
	}
	if len(data) < 2 {
		return true
	}
	switch Opcode(data[1]) {
	case OpSessionRequest, OpSessionResponse, OpOutOfSession:
		return false
	default:
		return true
	}
}

// encodeOutbound applies passes[0] then passes[1] to data, in the
// order an application-ready payload or protocol frame would be
// written to the wire, ahead of CRC append. Ineligible frames (see
// packetCanBeEncoded) pass through unchanged.
func encodeOutbound(data []byte, passes [2]EncodePass, key uint32) ([]byte, error) {
	if !packetCanBeEncoded(data) {
		return data, nil
	}
	out := data
	for _, pass := range passes {
		encoded, err := applyPass(out, pass, key, true)
		if err != nil {
			return nil, err
		}
		out = encoded
	}
	return out, nil
}

// decodeInbound reverses encodeOutbound: passes run in order
// passes[1] then passes[0], after CRC validation and trailer removal.
func decodeInbound(data []byte, passes [2]EncodePass, key uint32) ([]byte, error) {
	if !packetCanBeEncoded(data) {
		return data, nil
	}
	out := data
	for i := len(passes) - 1; i >= 0; i-- {
		decoded, err := applyPass(out, passes[i], key, false)
		if err != nil {
			return nil, err
		}
		out = decoded
	}
	return out, nil
}

func applyPass(data []byte, pass EncodePass, key uint32, encode bool) ([]byte, error) {
	switch pass {
	case PassNone:
		return data, nil
	case PassXOR:
		offset := xorOffset(data)
		if offset > len(data) {
			offset = len(data)
		}
		if encode {
			return xorEncode(data, offset, key), nil
		}
		return xorDecode(data, offset, key), nil
	case PassCompression:
		offset := xorOffset(data)
		if offset > len(data) {
			offset = len(data)
		}
		head := data[:offset]
		tail := data[offset:]
		if encode {
			return compressEncode(head, tail)
		}
		return compressDecode(head, tail)
	default:
		return data, nil
	}
}
