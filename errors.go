package liveroom

import (
	"errors"
	"fmt"
)

// Sentinel errors for the connect-time failure modes. Wrap these with
// fmt.Errorf("%w: ...") so callers can still test with errors.Is.
var (
	// ErrConnectFailed means the WebSocket handshake itself failed.
	ErrConnectFailed = errors.New("liveroom: websocket connect failed")
	// ErrSendFailed means the Certificate frame could not be written.
	ErrSendFailed = errors.New("liveroom: send failed")
	// ErrBootstrapFailed means a Bootstrapper call did not yield usable
	// connection inputs. It is provided for Bootstrapper implementations
	// (see bootstrap/bilibili) to use; the core itself wraps it only when
	// Connect is given Inputs with a nil Endpoint.
	ErrBootstrapFailed = errors.New("liveroom: bootstrap failed")
	// ErrChannelDropped means the connection's context was cancelled (by
	// Close or by the ctx passed to Connect) while the reader was blocked
	// sending to a full command channel; the commands not yet sent are
	// discarded.
	ErrChannelDropped = errors.New("liveroom: consumer dropped the stream")
)

// FramingError reports a frame that could not be safely parsed: an unknown
// protocol/type tag, a truncated header or body, or a malformed
// CertificateResp. It always ends the reader task, since the stream
// position can no longer be trusted.
type FramingError struct{ Cause error }

func (e *FramingError) Error() string { return fmt.Sprintf("liveroom: framing error: %v", e.Cause) }
func (e *FramingError) Unwrap() error { return e.Cause }

// CompressionError reports a malformed zlib/brotli batch or one of its
// sub-envelopes. Any command bodies already extracted from the batch before
// the error occurred are still delivered to the consumer.
type CompressionError struct{ Cause error }

func (e *CompressionError) Error() string {
	return fmt.Sprintf("liveroom: compression error: %v", e.Cause)
}
func (e *CompressionError) Unwrap() error { return e.Cause }

// JSONError reports a single command body that was not valid JSON. It is
// always recovered locally: the batch and connection continue.
type JSONError struct{ Cause error }

func (e *JSONError) Error() string { return fmt.Sprintf("liveroom: invalid command json: %v", e.Cause) }
func (e *JSONError) Unwrap() error { return e.Cause }

// InvalidProtocolError reports an envelope with a protocol tag outside
// {JsonCommand, Special, ZlibCommand, BrotliCommand}.
type InvalidProtocolError struct{ Value uint16 }

func (e *InvalidProtocolError) Error() string {
	return fmt.Sprintf("liveroom: invalid protocol tag %d", e.Value)
}

// InvalidTypeError reports an envelope with a packet type outside the
// known set.
type InvalidTypeError struct{ Value uint32 }

func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("liveroom: invalid packet type %d", e.Value)
}

// UnsupportedPacketError reports a (Type, Protocol) pairing that is each
// individually valid but has no defined payload dispatch.
type UnsupportedPacketError struct{ Envelope Envelope }

func (e *UnsupportedPacketError) Error() string {
	return fmt.Sprintf("liveroom: unsupported packet type=%d protocol=%d", e.Envelope.Type, e.Envelope.Protocol)
}

// AuthRejectedError reports a CertificateResp with a non-zero code.
type AuthRejectedError struct{ Code int32 }

func (e *AuthRejectedError) Error() string {
	return fmt.Sprintf("liveroom: certificate rejected, code=%d", e.Code)
}
