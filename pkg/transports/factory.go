// Package transports constructs transport implementations by name.
package transports

import (
    "strings"
    "time"

    "p2pdrop/pkg/transport"
    "p2pdrop/pkg/transport/mem"
    tquic "p2pdrop/pkg/transport/quic"
    ttcp "p2pdrop/pkg/transport/tcp"
)

// Options tune constructed transports.
type Options struct {
    DialTimeout time.Duration
}

// NewByKind constructs a Transport by string kind.
func NewByKind(kind string, opts Options) (transport.Transport, error) {
    switch strings.ToLower(strings.TrimSpace(kind)) {
    case "", "tcp":
        t := ttcp.New()
        t.DialTimeout = opts.DialTimeout
        return t, nil
    case "quic":
        return tquic.New()
    case "mem", "inproc":
        return mem.New(), nil
    default:
        return nil, ErrUnknownKind(kind)
    }
}

// ErrUnknownKind is returned for unsupported kind strings.
type ErrUnknownKind string

func (e ErrUnknownKind) Error() string { return "unknown transport kind: " + string(e) }
