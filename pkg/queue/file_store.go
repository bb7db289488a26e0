package queue

import (
    "bytes"
    "errors"
    "fmt"
    "io/fs"
    "os"
    "path/filepath"
    "time"

    "go.uber.org/zap"

    "p2pdrop/pkg/protocol/codec"
)

// FileStore keeps the queue as one JSON (or CBOR) document.
type FileStore struct {
    path  string
    codec codec.Codec
}

// NewFileStore returns a store writing format ("json" or "cbor") to path.
func NewFileStore(path, format string) (*FileStore, error) {
    if format == "" { format = "json" }
    c, err := codec.ByName(format)
    if err != nil { return nil, err }
    return &FileStore{path: path, codec: c}, nil
}

// Path returns the document location.
func (s *FileStore) Path() string { return s.path }

// Load reads the document. A missing or empty file is an empty queue. An
// undecodable file is moved aside and treated as empty.
func (s *FileStore) Load() ([]Entry, error) {
    b, err := os.ReadFile(s.path)
    if errors.Is(err, fs.ErrNotExist) {
        return nil, nil
    }
    if err != nil { return nil, &PersistenceError{Op: "load", Path: s.path, Err: err} }
    if len(bytes.TrimSpace(b)) == 0 {
        return nil, nil
    }
    var entries []Entry
    if err := s.codec.Unmarshal(b, &entries); err != nil {
        aside := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().UnixMilli())
        zap.L().Named("queue").Error("queue document unreadable, moving aside",
            zap.String("path", s.path), zap.String("aside", aside), zap.Error(err))
        if rerr := os.Rename(s.path, aside); rerr != nil {
            return nil, &PersistenceError{Op: "load", Path: s.path, Err: errors.Join(err, rerr)}
        }
        return nil, nil
    }
    return entries, nil
}

// Save writes entries to a temp file in the same directory and renames it
// over the document.
func (s *FileStore) Save(entries []Entry) error {
    if entries == nil { entries = []Entry{} }
    b, err := s.codec.Marshal(entries)
    if err != nil { return &PersistenceError{Op: "encode", Path: s.path, Err: err} }
    dir := filepath.Dir(s.path)
    if err := os.MkdirAll(dir, 0o755); err != nil { return &PersistenceError{Op: "save", Path: s.path, Err: err} }
    tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
    if err != nil { return &PersistenceError{Op: "save", Path: s.path, Err: err} }
    cleanup := func(err error) error {
        _ = tmp.Close()
        _ = os.Remove(tmp.Name())
        return &PersistenceError{Op: "save", Path: s.path, Err: err}
    }
    if _, err := tmp.Write(b); err != nil { return cleanup(err) }
    if err := tmp.Sync(); err != nil { return cleanup(err) }
    if err := tmp.Close(); err != nil { return cleanup(err) }
    if err := os.Rename(tmp.Name(), s.path); err != nil {
        _ = os.Remove(tmp.Name())
        return &PersistenceError{Op: "save", Path: s.path, Err: err}
    }
    return nil
}

func (s *FileStore) Close() error { return nil }
