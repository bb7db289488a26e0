package queue

import (
    "fmt"
    "path/filepath"

    "p2pdrop/pkg/config"
)

// Store persists the whole queue document. Save replaces the previous
// document atomically; a crash leaves either the old or the new sequence.
type Store interface {
    Load() ([]Entry, error)
    Save(entries []Entry) error
    Close() error
}

// OpenStore constructs the backend selected by cfg. Relative paths are
// resolved against dataDir.
func OpenStore(cfg config.QueueConfig, dataDir string) (Store, error) {
    path := cfg.Path
    if path == config.DefaultQueue().Path {
        switch cfg.Backend {
        case "sqlite":
            path = "outgoing_queue.db"
        case "badger":
            path = "outgoing_queue.badger"
        }
    }
    if !filepath.IsAbs(path) { path = filepath.Join(dataDir, path) }
    switch cfg.Backend {
    case "", "file":
        return NewFileStore(path, cfg.Format)
    case "sqlite":
        return NewSQLiteStore(path)
    case "badger":
        return NewBadgerStore(path)
    default:
        return nil, fmt.Errorf("queue: unknown backend %q", cfg.Backend)
    }
}
