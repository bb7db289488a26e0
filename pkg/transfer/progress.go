package transfer

import (
    "time"
)

// Progress is reported by the sender after every chunk.
type Progress struct {
    Name      string
    BytesSent uint64
    Total     uint64
    // Speed is the average rate since the transfer started, in bytes per second.
    Speed float64
    // ETA is the estimated time remaining; valid only when ETAKnown.
    ETA      time.Duration
    ETAKnown bool
}

// Percent returns completion in the range [0,100].
func (p Progress) Percent() float64 {
    if p.Total == 0 {
        return 100
    }
    return float64(p.BytesSent) * 100 / float64(p.Total)
}

func newProgress(name string, sent, total uint64, elapsed time.Duration) Progress {
    p := Progress{Name: name, BytesSent: sent, Total: total}
    if secs := elapsed.Seconds(); secs > 0 {
        p.Speed = float64(sent) / secs
    }
    if p.Speed > 0 {
        remaining := float64(0)
        if total > sent {
            remaining = float64(total - sent)
        }
        p.ETA = time.Duration(remaining / p.Speed * float64(time.Second))
        p.ETAKnown = true
    }
    return p
}

// ReceiveProgress is reported by the server for every chunk and once when
// the transfer ends.
type ReceiveProgress struct {
    ConnID        string
    Name          string
    Path          string
    BytesReceived uint64
    Total         uint64
    // Done is set on the end frame. Complete is set only when the checksum matched.
    Done     bool
    Complete bool
    Checksum string
}
