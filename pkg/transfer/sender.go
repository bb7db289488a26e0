// Package transfer implements the chunked file transfer sender and the
// receiving server on top of pkg/protocol framing.
package transfer

import (
    "bufio"
    "bytes"
    "context"
    "crypto/sha256"
    "encoding/hex"
    "errors"
    "fmt"
    "io"
    "net"
    "os"
    "path/filepath"
    "time"

    "go.uber.org/zap"

    "p2pdrop/pkg/protocol"
    "p2pdrop/pkg/transport"
)

// Limiter throttles outbound bytes. *shaper.TokenBucket satisfies it.
type Limiter interface {
    Wait(ctx context.Context, n int) error
}

// SenderOptions tune a Sender. Zero values fall back to protocol defaults.
type SenderOptions struct {
    ChunkSize  int
    AckTimeout time.Duration
    Limiter    Limiter
}

// Result summarizes a successful transfer.
type Result struct {
    Name     string
    Bytes    uint64
    Chunks   int
    Checksum string
    Elapsed  time.Duration
}

// Sender pushes one file per connection. Each call is a single attempt and
// never retries.
type Sender struct {
    tr   transport.Transport
    opts SenderOptions
    now  func() time.Time
}

func NewSender(tr transport.Transport, opts SenderOptions) *Sender {
    if opts.ChunkSize <= 0 { opts.ChunkSize = protocol.DefaultChunkSize }
    if opts.AckTimeout <= 0 { opts.AckTimeout = 20 * time.Second }
    return &Sender{tr: tr, opts: opts, now: time.Now}
}

// SendFile transfers the file at path to addr under its base name.
func (s *Sender) SendFile(ctx context.Context, path, addr string, onProgress func(Progress)) (Result, error) {
    f, err := os.Open(path)
    if err != nil { return Result{}, fmt.Errorf("open %s: %w", path, err) }
    defer f.Close()
    st, err := f.Stat()
    if err != nil { return Result{}, fmt.Errorf("stat %s: %w", path, err) }
    if st.IsDir() { return Result{}, fmt.Errorf("send %s: is a directory", path) }
    return s.SendReader(ctx, filepath.Base(path), f, uint64(st.Size()), addr, onProgress)
}

// SendBytes transfers an in-memory payload as a file named name.
func (s *Sender) SendBytes(ctx context.Context, name string, data []byte, addr string, onProgress func(Progress)) (Result, error) {
    return s.SendReader(ctx, name, bytes.NewReader(data), uint64(len(data)), addr, onProgress)
}

// SendReader transfers exactly size bytes read from r. The connection is
// closed on return regardless of the outcome.
func (s *Sender) SendReader(ctx context.Context, name string, r io.Reader, size uint64, addr string, onProgress func(Progress)) (Result, error) {
    log := zap.L().Named("sender").With(zap.String("name", name), zap.String("addr", addr))

    conn, err := s.tr.Dial(ctx, addr)
    if err != nil { return Result{}, &ConnectError{Addr: addr, Err: err} }
    defer conn.Close()
    stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
    defer stop()

    started := s.now()
    res := Result{Name: name}
    fail := func(op string, err error) (Result, error) {
        if ctx.Err() != nil { return res, ctx.Err() }
        return res, &TransportError{Op: op, Err: err}
    }

    if _, err := protocol.WriteFrame(conn, protocol.Start(name, size), nil); err != nil {
        return fail("write start", err)
    }

    digest := sha256.New()
    buf := make([]byte, s.opts.ChunkSize)
    var seq uint32
    for res.Bytes < size {
        n := uint64(len(buf))
        if left := size - res.Bytes; left < n { n = left }
        if _, err := io.ReadFull(r, buf[:n]); err != nil {
            return res, fmt.Errorf("read %s at %d: %w", name, res.Bytes, err)
        }
        enc := protocol.EncodePayload(buf[:n])
        if s.opts.Limiter != nil {
            if err := s.opts.Limiter.Wait(ctx, len(enc)); err != nil { return res, err }
        }
        if _, err := protocol.WriteFrame(conn, protocol.Chunk(seq, uint32(len(enc))), enc); err != nil {
            return fail(fmt.Sprintf("write chunk %d", seq), err)
        }
        digest.Write(enc)
        seq++
        res.Bytes += n
        res.Chunks++
        if onProgress != nil { onProgress(newProgress(name, res.Bytes, size, s.now().Sub(started))) }
    }
    if res.Chunks == 0 && onProgress != nil {
        onProgress(newProgress(name, 0, 0, s.now().Sub(started)))
    }

    res.Checksum = hex.EncodeToString(digest.Sum(nil))
    if _, err := protocol.WriteFrame(conn, protocol.End(res.Checksum), nil); err != nil {
        return fail("write end", err)
    }

    if err := s.awaitAck(ctx, conn); err != nil {
        log.Warn("transfer rejected", zap.Uint64("bytes", res.Bytes), zap.Error(err))
        return res, err
    }
    res.Elapsed = s.now().Sub(started)
    log.Info("transfer acknowledged", zap.Uint64("bytes", res.Bytes), zap.Int("chunks", res.Chunks), zap.Duration("elapsed", res.Elapsed))
    return res, nil
}

func (s *Sender) awaitAck(ctx context.Context, conn net.Conn) error {
    if err := conn.SetReadDeadline(time.Now().Add(s.opts.AckTimeout)); err != nil {
        return &TransportError{Op: "await ack", Err: err}
    }
    line, err := bufio.NewReader(conn).ReadString('\n')
    if err != nil {
        if ctx.Err() != nil { return ctx.Err() }
        var ne net.Error
        if errors.As(err, &ne) && ne.Timeout() {
            return fmt.Errorf("%w after %s", ErrAckTimeout, s.opts.AckTimeout)
        }
        return &TransportError{Op: "await ack", Err: err}
    }
    switch protocol.ParseAck(line) {
    case protocol.AckAccepted:
        return nil
    case protocol.AckRejected:
        return ErrChecksumMismatch
    default:
        return fmt.Errorf("%w: %q", ErrUnexpectedAck, line)
    }
}
