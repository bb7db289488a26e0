// Package discovery finds the peer device and forms the link to it. The
// rest of the system consumes it through Service and its event channel.
package discovery

import (
    "context"

    "p2pdrop/pkg/peers"
)

// Peer is a discovered device.
type Peer = peers.Peer

// ConnectionInfo describes the current link.
type ConnectionInfo struct {
    GroupFormed  bool
    IsGroupOwner bool
    // GroupOwnerAddress is the host:port of the group owner's transfer server.
    GroupOwnerAddress string
    // PeerAddress is the device address of the connected peer.
    PeerAddress string
}

// EventKind discriminates Events.
type EventKind int

const (
    PeersChanged EventKind = iota + 1
    ConnectionChanged
)

func (k EventKind) String() string {
    switch k {
    case PeersChanged:
        return "peers-changed"
    case ConnectionChanged:
        return "connection-changed"
    default:
        return "unknown"
    }
}

// Event is a snapshot pushed by a Service. Peers is set for PeersChanged,
// Info for ConnectionChanged.
type Event struct {
    Kind  EventKind
    Peers []Peer
    Info  ConnectionInfo
}

// Service is the peer discovery and group formation collaborator.
type Service interface {
    StartDiscovery(ctx context.Context) error
    StopDiscovery() error
    // CreateGroup makes this device the group owner.
    CreateGroup(ctx context.Context) error
    // Connect asks to join the device at address. A nil error means the
    // link is up; failures are returned for the caller to retry.
    Connect(ctx context.Context, address string) error
    Disconnect() error
    ConnectionInfo() ConnectionInfo
    Peers() []Peer
    // Events delivers snapshots in order. The channel is closed by Close.
    Events() <-chan Event
    Close() error
}
