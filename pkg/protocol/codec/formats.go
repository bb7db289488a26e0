package codec

import (
    "bytes"
    "encoding/json"

    cbor "github.com/fxamacker/cbor/v2"
)

type jsonCodec struct{}

// JSON returns a compact JSON codec that leaves <, > and & unescaped, so
// names like "a&b.txt" appear on the wire as written.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) ContentType() string { return "application/json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
    var buf bytes.Buffer
    enc := json.NewEncoder(&buf)
    enc.SetEscapeHTML(false)
    if err := enc.Encode(v); err != nil { return nil, err }
    return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// maxDocumentItems bounds arrays decoded from a persisted document.
const maxDocumentItems = 1 << 24

type cborCodec struct {
    enc cbor.EncMode
    dec cbor.DecMode
}

// CBOR returns a canonical CBOR codec. Decoding rejects duplicate map keys.
func CBOR() (Codec, error) {
    em, err := cbor.CanonicalEncOptions().EncMode()
    if err != nil { return nil, err }
    dm, err := cbor.DecOptions{
        DupMapKey:        cbor.DupMapKeyEnforcedAPF,
        MaxArrayElements: maxDocumentItems,
    }.DecMode()
    if err != nil { return nil, err }
    return cborCodec{enc: em, dec: dm}, nil
}

func (c cborCodec) ContentType() string                { return "application/cbor" }
func (c cborCodec) Marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborCodec) Unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }
