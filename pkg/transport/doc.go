// Package transport defines the byte-stream link used by the transfer
// protocol and provides implementations (tcp, quic, mem).
//
// Key concepts:
// - Transport: dials/listens for connections of a specific Kind
// - Listener: accepts inbound connections until closed or its ctx is done
// - Conn: a plain net.Conn; framing is done by pkg/protocol on top of it
package transport
