// Package codec holds the document codecs shared by the wire format and
// the persisted queue.
package codec

import "fmt"

// Codec marshals typed values. Implementations are deterministic so that
// rewritten documents stay byte-stable.
type Codec interface {
    ContentType() string
    Marshal(v any) ([]byte, error)
    Unmarshal(data []byte, v any) error
}

// Registry maps format names and content types to codecs.
type Registry struct { byName map[string]Codec }

// NewRegistry returns a registry holding JSON and CBOR under both their
// short names ("json", "cbor") and content types.
func NewRegistry() (*Registry, error) {
    r := &Registry{byName: make(map[string]Codec)}
    r.Register("json", JSON())
    cb, err := CBOR()
    if err != nil { return nil, err }
    r.Register("cbor", cb)
    return r, nil
}

// Register adds c under name and under its content type.
func (r *Registry) Register(name string, c Codec) {
    r.byName[name] = c
    r.byName[c.ContentType()] = c
}

// Get returns a codec by name or content type, or nil.
func (r *Registry) Get(name string) Codec { return r.byName[name] }

// ByName is Get with an error for unknown formats.
func ByName(name string) (Codec, error) {
    r, err := NewRegistry()
    if err != nil { return nil, err }
    c := r.Get(name)
    if c == nil { return nil, fmt.Errorf("unknown codec %q", name) }
    return c, nil
}
