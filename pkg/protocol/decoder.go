package protocol

import (
    "bytes"
    "errors"
    "fmt"

    "go.uber.org/zap"
)

// ParseError describes a segment that was dropped by the Decoder.
type ParseError struct {
    Segment []byte
    Err     error
}

func (e *ParseError) Error() string {
    return fmt.Sprintf("malformed frame (%d bytes): %v", len(e.Segment), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var errNoHeaderLine = errors.New("missing header line")

var delim = []byte(Delimiter)

// Decoder de-frames a byte stream. Feed appends received bytes and Next
// yields complete frames; it never blocks and may be called again after
// every Feed. Malformed segments are logged and skipped.
type Decoder struct {
    buf     []byte
    off     int
    skipped int
    // OnSkip, when set, observes every dropped segment.
    OnSkip func(*ParseError)
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder { return &Decoder{} }

// Feed appends stream bytes.
func (d *Decoder) Feed(p []byte) {
    if d.off > 0 && d.off >= len(d.buf)/2 {
        n := copy(d.buf, d.buf[d.off:])
        d.buf = d.buf[:n]
        d.off = 0
    }
    d.buf = append(d.buf, p...)
}

// Buffered reports the number of bytes held but not yet framed.
func (d *Decoder) Buffered() int { return len(d.buf) - d.off }

// Skipped reports how many malformed segments have been dropped.
func (d *Decoder) Skipped() int { return d.skipped }

// Next returns the next complete frame, or false when the buffer holds no
// complete delimiter-terminated segment.
func (d *Decoder) Next() (Frame, bool) {
    for {
        rest := d.buf[d.off:]
        idx := bytes.Index(rest, delim)
        if idx < 0 {
            return Frame{}, false
        }
        segment := rest[:idx]
        d.off += idx + len(Delimiter)

        f, err := parseSegment(segment)
        if err != nil {
            d.skip(segment, err)
            continue
        }
        return f, true
    }
}

func (d *Decoder) skip(segment []byte, err error) {
    d.skipped++
    pe := &ParseError{Segment: append([]byte(nil), segment...), Err: err}
    zap.L().Named("protocol").Warn("skip malformed frame", zap.Int("bytes", len(segment)), zap.Error(err))
    if d.OnSkip != nil {
        d.OnSkip(pe)
    }
}

func parseSegment(segment []byte) (Frame, error) {
    nl := bytes.IndexByte(segment, '\n')
    if nl < 0 {
        return Frame{}, errNoHeaderLine
    }
    var h Header
    if err := headerCodec.Unmarshal(segment[:nl], &h); err != nil {
        return Frame{}, err
    }
    switch h.Type {
    case TypeStart, TypeChunk, TypeEnd:
    default:
        return Frame{}, fmt.Errorf("unknown frame type %q", h.Type)
    }
    // Peers that terminate the payload with "\n.\n" leave a trailing newline.
    payload := bytes.TrimRight(segment[nl+1:], "\r\n")
    return Frame{Header: h, Payload: append([]byte(nil), payload...)}, nil
}
