package transport

import (
    "context"
    "errors"
    "net"
)

// Kind identifies the link type.
type Kind int

const (
    KindUnknown Kind = iota
    KindTCP
    KindQUIC
    KindMem
)

func (k Kind) String() string {
    switch k {
    case KindTCP:
        return "tcp"
    case KindQUIC:
        return "quic"
    case KindMem:
        return "mem"
    default:
        return "unknown"
    }
}

// ErrListenerClosed is returned by Accept after Close.
var ErrListenerClosed = errors.New("transport: listener closed")

// Listener accepts inbound connections.
type Listener interface {
    // Accept blocks until an inbound connection is available or ctx is done.
    Accept(ctx context.Context) (net.Conn, error)
    // Addr returns the local listening address.
    Addr() net.Addr
    // Close stops the listener and unblocks Accept.
    Close() error
}

// Transport provides dialing/listening for a specific link kind.
type Transport interface {
    Kind() Kind
    // Listen starts accepting inbound connections on address (transport-specific format).
    Listen(ctx context.Context, address string) (Listener, error)
    // Dial opens an outbound connection. ctx bounds connection establishment only.
    Dial(ctx context.Context, address string) (net.Conn, error)
}
