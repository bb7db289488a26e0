package protocol

import (
    "bytes"
    "encoding/base64"
    "fmt"
    "io"

    "p2pdrop/pkg/protocol/codec"
)

var headerCodec = codec.JSON()

// Header is the tagged record leading a frame. Only the fields of the
// active variant are serialized.
type Header struct {
    Type     FrameType `json:"type"`
    Name     string    `json:"name,omitempty"`
    Size     uint64    `json:"size,omitempty"`
    Seq      uint32    `json:"seq,omitempty"`
    Len      uint32    `json:"len,omitempty"`
    Checksum string    `json:"checksum,omitempty"`
}

type startHeader struct {
    Type FrameType `json:"type"`
    Name string    `json:"name"`
    Size uint64    `json:"size"`
}

type chunkHeader struct {
    Type FrameType `json:"type"`
    Seq  uint32    `json:"seq"`
    Len  uint32    `json:"len"`
}

type endHeader struct {
    Type     FrameType `json:"type"`
    Checksum string    `json:"checksum"`
}

// Start announces a transfer of size bytes named name.
func Start(name string, size uint64) Header { return Header{Type: TypeStart, Name: name, Size: size} }

// Chunk describes chunk seq whose encoded payload is n bytes long.
func Chunk(seq, n uint32) Header { return Header{Type: TypeChunk, Seq: seq, Len: n} }

// End closes a transfer with the hex digest of all encoded payloads.
func End(checksum string) Header { return Header{Type: TypeEnd, Checksum: checksum} }

// MarshalJSON writes exactly the fields of the header's variant, keeping
// zero values such as seq 0 or size 0.
func (h Header) MarshalJSON() ([]byte, error) {
    switch h.Type {
    case TypeStart:
        return headerCodec.Marshal(startHeader{Type: h.Type, Name: h.Name, Size: h.Size})
    case TypeChunk:
        return headerCodec.Marshal(chunkHeader{Type: h.Type, Seq: h.Seq, Len: h.Len})
    case TypeEnd:
        return headerCodec.Marshal(endHeader{Type: h.Type, Checksum: h.Checksum})
    default:
        return nil, fmt.Errorf("unknown frame type %q", h.Type)
    }
}

// Frame is one decoded wire message. Payload holds the encoded (base64)
// bytes as they appeared on the wire.
type Frame struct {
    Header  Header
    Payload []byte
}

// Data decodes the base64 payload.
func (f Frame) Data() ([]byte, error) {
    if len(f.Payload) == 0 {
        return nil, nil
    }
    out := make([]byte, base64.StdEncoding.DecodedLen(len(f.Payload)))
    n, err := base64.StdEncoding.Decode(out, f.Payload)
    if err != nil { return nil, fmt.Errorf("decode chunk %d: %w", f.Header.Seq, err) }
    return out[:n], nil
}

// EncodePayload returns the transport encoding of raw chunk bytes.
func EncodePayload(raw []byte) []byte {
    out := make([]byte, base64.StdEncoding.EncodedLen(len(raw)))
    base64.StdEncoding.Encode(out, raw)
    return out
}

// Encode serializes a header and optional encoded payload into one frame.
func Encode(h Header, payload []byte) ([]byte, error) {
    hb, err := h.MarshalJSON()
    if err != nil { return nil, err }
    var buf bytes.Buffer
    buf.Grow(len(hb) + 1 + len(payload) + len(Delimiter))
    buf.Write(hb)
    buf.WriteByte('\n')
    buf.Write(payload)
    buf.WriteString(Delimiter)
    return buf.Bytes(), nil
}

// WriteFrame encodes and writes a frame to w in a single Write call.
func WriteFrame(w io.Writer, h Header, payload []byte) (int, error) {
    b, err := Encode(h, payload)
    if err != nil { return 0, err }
    return w.Write(b)
}
