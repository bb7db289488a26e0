package tcp

import (
    "context"
    "io"
    "testing"
    "time"
)

func TestDialListenEcho(t *testing.T) {
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()

    tr := New()
    l, err := tr.Listen(ctx, "127.0.0.1:0")
    if err != nil { t.Fatalf("listen: %v", err) }
    defer l.Close()

    go func() {
        c, err := l.Accept(ctx)
        if err != nil { return }
        defer c.Close()
        _, _ = io.Copy(c, c)
    }()

    c, err := tr.Dial(ctx, l.Addr().String())
    if err != nil { t.Fatalf("dial: %v", err) }
    defer c.Close()
    if _, err := c.Write([]byte("ping")); err != nil { t.Fatalf("write: %v", err) }
    buf := make([]byte, 4)
    if _, err := io.ReadFull(c, buf); err != nil { t.Fatalf("read: %v", err) }
    if string(buf) != "ping" { t.Fatalf("echo = %q", buf) }
}

func TestDialRefused(t *testing.T) {
    ctx := context.Background()
    tr := New()
    l, err := tr.Listen(ctx, "127.0.0.1:0")
    if err != nil { t.Fatalf("listen: %v", err) }
    addr := l.Addr().String()
    _ = l.Close()
    if _, err := tr.Dial(ctx, addr); err == nil { t.Fatalf("expected dial error after close") }
}
