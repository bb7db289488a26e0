package queue

import (
    "bytes"
    "encoding/binary"
    "errors"
    "fmt"

    "github.com/dgraph-io/badger/v3"
    "go.uber.org/zap"

    "p2pdrop/pkg/protocol/codec"
)

var (
    badgerPrefix  = []byte("q/")
    generationKey = []byte("m/generation")
)

// entryCodec encodes badger values as canonical CBOR.
var entryCodec = func() codec.Codec {
    c, err := codec.CBOR()
    if err != nil { panic(err) }
    return c
}()

// BadgerStore keeps entries under q/<generation>/<position> keys, both
// big-endian, so iteration order is queue order. Save writes a whole new
// generation in batches and then switches m/generation in one small
// transaction, so a queue of any length is saved without hitting the
// transaction size limit and a crash leaves the previous generation current.
type BadgerStore struct {
    db   *badger.DB
    path string
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
    opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{zap.S().Named("badger")})
    db, err := badger.Open(opts)
    if err != nil { return nil, &PersistenceError{Op: "open", Path: dir, Err: err} }
    return &BadgerStore{db: db, path: dir}, nil
}

func generationPrefix(gen uint64) []byte {
    k := make([]byte, len(badgerPrefix)+9)
    copy(k, badgerPrefix)
    binary.BigEndian.PutUint64(k[len(badgerPrefix):], gen)
    k[len(k)-1] = '/'
    return k
}

func positionKey(gen uint64, i int) []byte {
    p := generationPrefix(gen)
    k := make([]byte, len(p)+8)
    copy(k, p)
    binary.BigEndian.PutUint64(k[len(p):], uint64(i))
    return k
}

func currentGeneration(txn *badger.Txn) (uint64, error) {
    item, err := txn.Get(generationKey)
    if errors.Is(err, badger.ErrKeyNotFound) {
        return 0, nil
    }
    if err != nil { return 0, err }
    v, err := item.ValueCopy(nil)
    if err != nil { return 0, err }
    if len(v) != 8 { return 0, fmt.Errorf("generation value has %d bytes", len(v)) }
    return binary.BigEndian.Uint64(v), nil
}

func (s *BadgerStore) Load() ([]Entry, error) {
    var out []Entry
    err := s.db.View(func(txn *badger.Txn) error {
        gen, err := currentGeneration(txn)
        if err != nil { return err }
        prefix := generationPrefix(gen)
        it := txn.NewIterator(badger.DefaultIteratorOptions)
        defer it.Close()
        for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
            v, err := it.Item().ValueCopy(nil)
            if err != nil { return err }
            var e Entry
            if err := entryCodec.Unmarshal(v, &e); err != nil {
                return fmt.Errorf("decode %x: %w", it.Item().Key(), err)
            }
            out = append(out, e)
        }
        return nil
    })
    if err != nil { return nil, &PersistenceError{Op: "load", Path: s.path, Err: err} }
    return out, nil
}

// Save writes entries as the next generation and makes it current.
func (s *BadgerStore) Save(entries []Entry) error {
    var gen uint64
    err := s.db.View(func(txn *badger.Txn) error {
        var err error
        gen, err = currentGeneration(txn)
        return err
    })
    if err != nil { return &PersistenceError{Op: "save", Path: s.path, Err: err} }
    next := gen + 1

    wb := s.db.NewWriteBatch()
    for i, e := range entries {
        v, err := entryCodec.Marshal(e)
        if err != nil {
            wb.Cancel()
            return &PersistenceError{Op: "encode", Path: s.path, Err: err}
        }
        if err := wb.Set(positionKey(next, i), v); err != nil {
            wb.Cancel()
            return &PersistenceError{Op: "save", Path: s.path, Err: err}
        }
    }
    if err := wb.Flush(); err != nil { return &PersistenceError{Op: "save", Path: s.path, Err: err} }

    err = s.db.Update(func(txn *badger.Txn) error {
        v := make([]byte, 8)
        binary.BigEndian.PutUint64(v, next)
        return txn.Set(generationKey, v)
    })
    if err != nil { return &PersistenceError{Op: "save", Path: s.path, Err: err} }

    if err := s.dropStale(next); err != nil {
        // The new generation is already current; leftovers go on the next Save.
        zap.L().Named("queue").Warn("stale queue generation not removed", zap.String("path", s.path), zap.Error(err))
    }
    return nil
}

// dropStale deletes every entry key outside generation keep.
func (s *BadgerStore) dropStale(keep uint64) error {
    live := generationPrefix(keep)
    var stale [][]byte
    err := s.db.View(func(txn *badger.Txn) error {
        opts := badger.DefaultIteratorOptions
        opts.PrefetchValues = false
        it := txn.NewIterator(opts)
        defer it.Close()
        for it.Seek(badgerPrefix); it.ValidForPrefix(badgerPrefix); it.Next() {
            if bytes.HasPrefix(it.Item().Key(), live) {
                continue
            }
            stale = append(stale, it.Item().KeyCopy(nil))
        }
        return nil
    })
    if err != nil || len(stale) == 0 { return err }
    wb := s.db.NewWriteBatch()
    for _, k := range stale {
        if err := wb.Delete(k); err != nil {
            wb.Cancel()
            return err
        }
    }
    return wb.Flush()
}

func (s *BadgerStore) Close() error { return s.db.Close() }

// badgerLogger routes badger's logging through zap.
type badgerLogger struct{ s *zap.SugaredLogger }

func (l badgerLogger) Errorf(f string, a ...interface{})   { l.s.Errorf(f, a...) }
func (l badgerLogger) Warningf(f string, a ...interface{}) { l.s.Warnf(f, a...) }
func (l badgerLogger) Infof(f string, a ...interface{})    { l.s.Debugf(f, a...) }
func (l badgerLogger) Debugf(f string, a ...interface{})   { l.s.Debugf(f, a...) }
