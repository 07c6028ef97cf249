package daybreak

import "github.com/pkg/errors"

// Sentinel errors a caller can match with errors.Is; everything that
// crosses the connection/manager boundary is wrapped with
// github.com/pkg/errors so the error callback can log a stack trace
// with %+v while call sites elsewhere keep matching on the sentinel.
var (
	// ErrShortHeader is returned when a datagram is too small to hold
	// the header its opcode requires.
	ErrShortHeader = errors.New("daybreak: datagram shorter than required header")

	// ErrCRCMismatch is returned when a received datagram's trailing
	// CRC does not match the computed value.
	ErrCRCMismatch = errors.New("daybreak: crc mismatch")

	// ErrDecodeFailed names a decode failure. The inflate path does not
	// return it: a DEFLATE inflate failure surfaces as the wrapped zlib
	// error under ErrKindDecode.
	ErrDecodeFailed = errors.New("daybreak: decode failed")

	// ErrFragmentOverflow is returned when a fragment would write past
	// the total size declared by the first fragment in a reassembly.
	ErrFragmentOverflow = errors.New("daybreak: fragment overflow")

	// ErrCombinedOverflow is returned when a Combined/AppCombined
	// sub-length claims more bytes than remain in the datagram.
	ErrCombinedOverflow = errors.New("daybreak: combined sub-length overflow")

	// ErrConnectCodeMismatch names a SessionResponse whose connect_code
	// does not match the one the connection sent in its SessionRequest.
	// Nothing returns it: such a response is dropped silently, with no
	// error callback.
	ErrConnectCodeMismatch = errors.New("daybreak: connect_code mismatch")

	// ErrBufferPoolExhausted is returned by the send buffer pool when
	// every slot is in flight.
	ErrBufferPoolExhausted = errors.New("daybreak: send buffer pool exhausted")

	// ErrConnectionClosed names a send on a connection that has left the
	// Connected state. Nothing returns it: QueuePacket has no return
	// value and drops such a send silently, and it is never propagated
	// to an application callback.
	ErrConnectionClosed = errors.New("daybreak: connection is closed")
)

// ErrorKind classifies the errors on_error_message callbacks receive in
// an ErrorEvent, next to the underlying error, so an application can log
// or ignore without needing type assertions.
type ErrorKind int

const (
	ErrKindFraming ErrorKind = iota
	ErrKindCRC
	ErrKindDecode
	ErrKindProtocolMismatch
	ErrKindPeerAbsent
	ErrKindLiveness
	ErrKindResourceExhaustion
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindFraming:
		return "framing"
	case ErrKindCRC:
		return "crc"
	case ErrKindDecode:
		return "decode"
	case ErrKindProtocolMismatch:
		return "protocol_mismatch"
	case ErrKindPeerAbsent:
		return "peer_absent"
	case ErrKindLiveness:
		return "liveness"
	case ErrKindResourceExhaustion:
		return "resource_exhaustion"
	default:
		return "unknown"
	}
}

// ErrorEvent is delivered to ConnectionManager.SetOnErrorMessage.
type ErrorEvent struct {
	Kind ErrorKind
	Err  error
}
