package tcp

import (
    "context"
    "net"
    "sync"
    "time"

    "p2pdrop/pkg/transport"
)

// Transport dials and listens on plain TCP sockets.
type Transport struct {
    // DialTimeout bounds connection establishment; zero leaves it to ctx.
    DialTimeout time.Duration
    // KeepAlive period for established connections; zero uses the OS default.
    KeepAlive time.Duration
}

func New() *Transport { return &Transport{} }

func (t *Transport) Kind() transport.Kind { return transport.KindTCP }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    var lc net.ListenConfig
    l, err := lc.Listen(ctx, "tcp", address)
    if err != nil { return nil, err }
    tl := &listener{l: l, newCh: make(chan net.Conn, 8), closeCh: make(chan struct{})}
    go tl.acceptLoop()
    go func() {
        select {
        case <-ctx.Done():
            _ = tl.Close()
        case <-tl.closeCh:
        }
    }()
    return tl, nil
}

func (t *Transport) Dial(ctx context.Context, address string) (net.Conn, error) {
    d := &net.Dialer{Timeout: t.DialTimeout, KeepAlive: t.KeepAlive}
    return d.DialContext(ctx, "tcp", address)
}

type listener struct {
    l       net.Listener
    newCh   chan net.Conn
    closeCh chan struct{}
    once    sync.Once
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (net.Conn, error) {
    select {
    case <-ctx.Done():
        return nil, ctx.Err()
    case <-l.closeCh:
        return nil, transport.ErrListenerClosed
    case c := <-l.newCh:
        return c, nil
    }
}

func (l *listener) Close() error {
    var err error
    l.once.Do(func() {
        close(l.closeCh)
        err = l.l.Close()
    })
    return err
}

func (l *listener) acceptLoop() {
    for {
        c, err := l.l.Accept()
        if err != nil { return }
        select {
        case l.newCh <- c:
        case <-l.closeCh:
            _ = c.Close()
            return
        }
    }
}
