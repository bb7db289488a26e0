package transfer

import (
    "errors"
    "fmt"
)

var (
    // ErrChecksumMismatch is returned when the receiver answers ACK_FAIL.
    ErrChecksumMismatch = errors.New("transfer: checksum mismatch reported by receiver")
    // ErrAckTimeout is returned when no acknowledgement arrives in time.
    ErrAckTimeout = errors.New("transfer: acknowledgement timeout")
    // ErrUnexpectedAck is returned for a reply that is neither ACK_OK nor ACK_FAIL.
    ErrUnexpectedAck = errors.New("transfer: unexpected acknowledgement")
)

// ConnectError reports that no connection to Addr could be established.
// Callers treat it as "peer unreachable" and queue or reconnect.
type ConnectError struct {
    Addr string
    Err  error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("connect %s: %v", e.Addr, e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

// TransportError reports a socket failure in the middle of a transfer.
type TransportError struct {
    Op  string
    Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transfer %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// IsConnectError reports whether err is, or wraps, a *ConnectError.
func IsConnectError(err error) bool {
    var ce *ConnectError
    return errors.As(err, &ce)
}
