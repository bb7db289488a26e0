package quic

import (
    "context"
    "io"
    "testing"
    "time"

    "p2pdrop/pkg/transport"
)

func TestStreamEcho(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()

    tr, err := New()
    if err != nil { t.Fatalf("new: %v", err) }
    if tr.Kind() != transport.KindQUIC { t.Fatalf("kind = %v", tr.Kind()) }
    l, err := tr.Listen(ctx, "127.0.0.1:0")
    if err != nil { t.Fatalf("listen: %v", err) }
    defer l.Close()

    go func() {
        c, err := l.Accept(ctx)
        if err != nil { return }
        defer c.Close()
        buf := make([]byte, 4)
        if _, err := io.ReadFull(c, buf); err != nil { return }
        _, _ = c.Write(buf)
        _, _ = io.Copy(io.Discard, c)
    }()

    c, err := tr.Dial(ctx, l.Addr().String())
    if err != nil { t.Fatalf("dial: %v", err) }
    defer c.Close()
    if _, err := c.Write([]byte("ping")); err != nil { t.Fatalf("write: %v", err) }
    buf := make([]byte, 4)
    if _, err := io.ReadFull(c, buf); err != nil { t.Fatalf("read: %v", err) }
    if string(buf) != "ping" { t.Fatalf("echo = %q", buf) }
}

func TestAcceptAfterClose(t *testing.T) {
    tr, err := New()
    if err != nil { t.Fatalf("new: %v", err) }
    l, err := tr.Listen(context.Background(), "127.0.0.1:0")
    if err != nil { t.Fatalf("listen: %v", err) }
    _ = l.Close()
    if _, err := l.Accept(context.Background()); err != transport.ErrListenerClosed {
        t.Fatalf("accept after close = %v", err)
    }
}
