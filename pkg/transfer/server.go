package transfer

import (
    "context"
    "crypto/sha256"
    "encoding/hex"
    "errors"
    "fmt"
    "hash"
    "net"
    "os"
    "path/filepath"
    "strings"
    "sync"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"

    "p2pdrop/pkg/protocol"
    "p2pdrop/pkg/transport"
)

// ServerOptions configure the receiving side.
type ServerOptions struct {
    // Root is the directory received files are written into.
    Root string
    // UniqueNames picks "name (n).ext" instead of truncating an existing file.
    UniqueNames bool
    // OnReceive observes every chunk and the end of each transfer.
    OnReceive func(ReceiveProgress)
}

// Server accepts transfers. Every connection owns its decoder and in-flight
// state; only output path reservation is shared.
type Server struct {
    tr   transport.Transport
    opts ServerOptions

    mu       sync.Mutex
    reserved map[string]struct{}
    wg       sync.WaitGroup
}

func NewServer(tr transport.Transport, opts ServerOptions) *Server {
    return &Server{tr: tr, opts: opts, reserved: make(map[string]struct{})}
}

// Serve listens on addr and blocks until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
    l, err := s.tr.Listen(ctx, addr)
    if err != nil { return fmt.Errorf("listen %s: %w", addr, err) }
    zap.L().Named("receiver").Info("listening", zap.String("kind", s.tr.Kind().String()), zap.String("addr", l.Addr().String()))
    return s.ServeListener(ctx, l)
}

// ServeListener accepts connections from l until ctx is done or l is
// closed, then waits for in-flight connections to finish.
func (s *Server) ServeListener(ctx context.Context, l transport.Listener) error {
    defer s.wg.Wait()
    defer l.Close()
    for {
        c, err := l.Accept(ctx)
        if err != nil {
            if ctx.Err() != nil || errors.Is(err, transport.ErrListenerClosed) {
                return nil
            }
            return err
        }
        s.wg.Add(1)
        go func() {
            defer s.wg.Done()
            s.handleConn(ctx, c)
        }()
    }
}

// inflight is the per-connection receive slot.
type inflight struct {
    name     string
    path     string
    size     uint64
    received uint64
    nextSeq  uint32
    digest   hash.Hash
    out      *os.File
    failed   error
}

func (s *Server) handleConn(ctx context.Context, c net.Conn) {
    connID := uuid.NewString()
    log := zap.L().Named("receiver").With(zap.String("conn", connID), zap.String("remote", c.RemoteAddr().String()))
    stop := context.AfterFunc(ctx, func() { _ = c.Close() })
    defer stop()
    defer c.Close()
    log.Debug("connection accepted")

    var cur *inflight
    defer func() {
        if cur != nil {
            log.Warn("connection closed mid-transfer", zap.String("name", cur.name), zap.Uint64("received", cur.received))
            s.discard(cur)
        }
    }()

    dec := protocol.NewDecoder()
    buf := make([]byte, 32*1024)
    for {
        n, err := c.Read(buf)
        if n > 0 {
            dec.Feed(buf[:n])
            for {
                f, ok := dec.Next()
                if !ok { break }
                cur = s.onFrame(c, connID, cur, f, log)
            }
        }
        if err != nil {
            log.Debug("connection done", zap.Error(err), zap.Int("skipped", dec.Skipped()))
            return
        }
    }
}

// onFrame advances the receive state machine by one frame and returns the
// new in-flight slot (nil when idle).
func (s *Server) onFrame(c net.Conn, connID string, cur *inflight, f protocol.Frame, log *zap.Logger) *inflight {
    switch f.Header.Type {
    case protocol.TypeStart:
        if cur != nil {
            log.Info("new start supersedes partial transfer", zap.String("name", cur.name), zap.Uint64("received", cur.received))
            s.discard(cur)
        }
        return s.begin(f.Header, log)

    case protocol.TypeChunk:
        if cur == nil {
            return nil
        }
        if f.Header.Seq != cur.nextSeq {
            log.Warn("out of order chunk", zap.Uint32("seq", f.Header.Seq), zap.Uint32("expected", cur.nextSeq))
        }
        cur.nextSeq = f.Header.Seq + 1
        if int(f.Header.Len) != len(f.Payload) {
            log.Debug("declared chunk length differs", zap.Uint32("declared", f.Header.Len), zap.Int("actual", len(f.Payload)))
        }
        cur.digest.Write(f.Payload)
        data, err := f.Data()
        if err != nil {
            cur.fail(err)
        } else if cur.out != nil {
            if _, err := cur.out.Write(data); err != nil { cur.fail(err) }
        }
        cur.received += uint64(len(data))
        s.notify(ReceiveProgress{ConnID: connID, Name: cur.name, Path: cur.path, BytesReceived: cur.received, Total: cur.size})
        return cur

    case protocol.TypeEnd:
        if cur == nil {
            return nil
        }
        sum := hex.EncodeToString(cur.digest.Sum(nil))
        if cur.out != nil {
            if err := cur.out.Sync(); err != nil { cur.fail(err) }
            if err := cur.out.Close(); err != nil { cur.fail(err) }
            cur.out = nil
        }
        ok := cur.failed == nil && sum == f.Header.Checksum
        if err := protocol.WriteAck(c, ok); err != nil {
            log.Warn("write ack failed", zap.Error(err))
        }
        if ok {
            log.Info("file received", zap.String("name", cur.name), zap.String("path", cur.path), zap.Uint64("bytes", cur.received))
        } else {
            log.Warn("file rejected", zap.String("name", cur.name), zap.String("local", sum), zap.String("declared", f.Header.Checksum), zap.Error(cur.failed))
        }
        s.release(cur.path)
        s.notify(ReceiveProgress{
            ConnID: connID, Name: cur.name, Path: cur.path,
            BytesReceived: cur.received, Total: cur.size,
            Done: true, Complete: ok, Checksum: sum,
        })
        return nil
    }
    return cur
}

func (s *Server) begin(h protocol.Header, log *zap.Logger) *inflight {
    name := sanitizeName(h.Name)
    cur := &inflight{name: name, size: h.Size, digest: sha256.New()}
    if err := os.MkdirAll(s.opts.Root, 0o755); err != nil {
        cur.fail(err)
        return cur
    }
    cur.path = s.reserve(name)
    out, err := os.Create(cur.path)
    if err != nil {
        cur.fail(err)
        log.Warn("open output failed", zap.String("path", cur.path), zap.Error(err))
        return cur
    }
    cur.out = out
    log.Info("receiving", zap.String("name", name), zap.String("path", cur.path), zap.Uint64("size", h.Size))
    return cur
}

func (in *inflight) fail(err error) {
    if in.failed == nil { in.failed = err }
}

// discard drops a partial transfer and its output file.
func (s *Server) discard(cur *inflight) {
    if cur.out != nil {
        _ = cur.out.Close()
        _ = os.Remove(cur.path)
    }
    s.release(cur.path)
}

func (s *Server) notify(p ReceiveProgress) {
    if s.opts.OnReceive != nil { s.opts.OnReceive(p) }
}

// reserve returns the output path for name. With UniqueNames it skips
// paths that exist on disk or are held by another connection.
func (s *Server) reserve(name string) string {
    s.mu.Lock(); defer s.mu.Unlock()
    path := filepath.Join(s.opts.Root, name)
    if s.opts.UniqueNames {
        ext := filepath.Ext(name)
        stem := strings.TrimSuffix(name, ext)
        for n := 1; s.taken(path); n++ {
            path = filepath.Join(s.opts.Root, fmt.Sprintf("%s (%d)%s", stem, n, ext))
        }
    }
    s.reserved[path] = struct{}{}
    return path
}

func (s *Server) taken(path string) bool {
    if _, ok := s.reserved[path]; ok {
        return true
    }
    _, err := os.Stat(path)
    return err == nil
}

func (s *Server) release(path string) {
    if path == "" { return }
    s.mu.Lock(); delete(s.reserved, path); s.mu.Unlock()
}

// sanitizeName strips directories from a sender-declared name.
func sanitizeName(name string) string {
    name = filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
    if name == "" || name == "/" || name == "." || name == ".." {
        return fmt.Sprintf("recv_%d", time.Now().UnixMilli())
    }
    return name
}
