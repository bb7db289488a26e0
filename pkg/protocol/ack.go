package protocol

import (
    "io"
    "strings"
)

// AckLine returns the acknowledgement line for a verification outcome.
func AckLine(ok bool) []byte {
    if ok {
        return []byte(AckOK + "\n")
    }
    return []byte(AckFail + "\n")
}

// WriteAck writes the acknowledgement line for ok to w.
func WriteAck(w io.Writer, ok bool) error {
    _, err := w.Write(AckLine(ok))
    return err
}

// Ack is a parsed acknowledgement reply.
type Ack int

const (
    AckUnknown Ack = iota
    AckAccepted
    AckRejected
)

// ParseAck classifies one reply line, ignoring surrounding whitespace.
func ParseAck(line string) Ack {
    switch strings.TrimSpace(line) {
    case AckOK:
        return AckAccepted
    case AckFail:
        return AckRejected
    default:
        return AckUnknown
    }
}
