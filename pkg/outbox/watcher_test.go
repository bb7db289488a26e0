package outbox

import (
    "context"
    "os"
    "path/filepath"
    "sync"
    "testing"
    "time"
)

type recorder struct {
    mu    sync.Mutex
    paths []string
    got   chan string
}

func (r *recorder) submit(_ context.Context, path string) error {
    r.mu.Lock(); r.paths = append(r.paths, path); r.mu.Unlock()
    r.got <- path
    return nil
}

func startWatcher(t *testing.T, settle time.Duration) (*Watcher, *recorder) {
    t.Helper()
    rec := &recorder{got: make(chan string, 8)}
    w, err := New(filepath.Join(t.TempDir(), "outbox"), settle, rec.submit)
    if err != nil { t.Fatalf("new: %v", err) }
    ctx, cancel := context.WithCancel(context.Background())
    done := make(chan struct{})
    go func() { defer close(done); _ = w.Run(ctx) }()
    t.Cleanup(func() { cancel(); <-done })
    time.Sleep(50 * time.Millisecond)
    return w, rec
}

func TestSubmitsSettledFileOnce(t *testing.T) {
    w, rec := startWatcher(t, 100*time.Millisecond)
    path := filepath.Join(w.Dir(), "photo.jpg")
    f, err := os.Create(path)
    if err != nil { t.Fatalf("create: %v", err) }
    for i := 0; i < 3; i++ {
        if _, err := f.Write([]byte("chunk")); err != nil { t.Fatalf("write: %v", err) }
        time.Sleep(20 * time.Millisecond)
    }
    _ = f.Close()

    select {
    case got := <-rec.got:
        if got != path { t.Fatalf("submitted %q, want %q", got, path) }
    case <-time.After(3 * time.Second):
        t.Fatalf("file not submitted")
    }
    select {
    case extra := <-rec.got:
        t.Fatalf("submitted twice: %q", extra)
    case <-time.After(300 * time.Millisecond):
    }
}

func TestIgnoresHiddenFilesAndDirs(t *testing.T) {
    w, rec := startWatcher(t, 50*time.Millisecond)
    if err := os.WriteFile(filepath.Join(w.Dir(), ".partial"), []byte("x"), 0o644); err != nil { t.Fatalf("write: %v", err) }
    if err := os.Mkdir(filepath.Join(w.Dir(), "sub"), 0o755); err != nil { t.Fatalf("mkdir: %v", err) }
    select {
    case got := <-rec.got:
        t.Fatalf("unexpected submit %q", got)
    case <-time.After(300 * time.Millisecond):
    }
}
