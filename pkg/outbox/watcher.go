// Package outbox watches a directory and submits files dropped into it once
// they stop changing.
package outbox

import (
    "context"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "sync"
    "time"

    "github.com/fsnotify/fsnotify"
    "go.uber.org/zap"
)

// SubmitFunc receives the absolute path of a settled file.
type SubmitFunc func(ctx context.Context, path string) error

// Watcher debounces create and write events per file.
type Watcher struct {
    dir    string
    settle time.Duration
    submit SubmitFunc
    log    *zap.Logger

    mu      sync.Mutex
    pending map[string]*time.Timer
}

// New returns a watcher for dir. The directory is created if missing.
func New(dir string, settle time.Duration, submit SubmitFunc) (*Watcher, error) {
    abs, err := filepath.Abs(dir)
    if err != nil { return nil, err }
    if err := os.MkdirAll(abs, 0o755); err != nil { return nil, fmt.Errorf("outbox: %w", err) }
    if settle <= 0 { settle = 500 * time.Millisecond }
    return &Watcher{
        dir:     abs,
        settle:  settle,
        submit:  submit,
        log:     zap.L().Named("outbox").With(zap.String("dir", abs)),
        pending: make(map[string]*time.Timer),
    }, nil
}

// Dir is the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Run watches until ctx is done. Files already present are not submitted.
func (w *Watcher) Run(ctx context.Context) error {
    fw, err := fsnotify.NewWatcher()
    if err != nil { return fmt.Errorf("outbox: %w", err) }
    defer fw.Close()
    if err := fw.Add(w.dir); err != nil { return fmt.Errorf("outbox: watch %s: %w", w.dir, err) }
    w.log.Info("watching outbox")
    defer w.stopPending()

    for {
        select {
        case <-ctx.Done():
            return nil
        case ev, ok := <-fw.Events:
            if !ok { return nil }
            if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) { continue }
            if strings.HasPrefix(filepath.Base(ev.Name), ".") { continue }
            w.touch(ctx, ev.Name)
        case err, ok := <-fw.Errors:
            if !ok { return nil }
            w.log.Warn("watcher error", zap.Error(err))
        }
    }
}

// touch restarts the settle timer for path.
func (w *Watcher) touch(ctx context.Context, path string) {
    w.mu.Lock(); defer w.mu.Unlock()
    if t, ok := w.pending[path]; ok {
        t.Reset(w.settle)
        return
    }
    w.pending[path] = time.AfterFunc(w.settle, func() { w.fire(ctx, path) })
}

func (w *Watcher) fire(ctx context.Context, path string) {
    w.mu.Lock(); delete(w.pending, path); w.mu.Unlock()
    if ctx.Err() != nil { return }
    st, err := os.Stat(path)
    if err != nil || !st.Mode().IsRegular() { return }
    if err := w.submit(ctx, path); err != nil {
        w.log.Warn("submit failed", zap.String("path", path), zap.Error(err))
        return
    }
    w.log.Info("file submitted", zap.String("path", path), zap.Int64("bytes", st.Size()))
}

func (w *Watcher) stopPending() {
    w.mu.Lock(); defer w.mu.Unlock()
    for p, t := range w.pending {
        t.Stop()
        delete(w.pending, p)
    }
}
