package quic

import (
    "context"
    "crypto/rand"
    "crypto/rsa"
    "crypto/tls"
    "crypto/x509"
    "math/big"
    "net"
    "sync"
    "time"

    quicgo "github.com/quic-go/quic-go"
    "go.uber.org/zap"

    "p2pdrop/pkg/transport"
)

const alpn = "p2pdrop"

// Transport carries each transfer on the first bidirectional stream of a
// dedicated QUIC connection.
type Transport struct {
    tlsConf  *tls.Config
    quicConf *quicgo.Config
}

// New returns a Transport with an ephemeral self-signed server certificate.
// Peers are not authenticated; the link itself is the trust boundary.
func New() (*Transport, error) {
    cert, err := selfSignedCert()
    if err != nil { return nil, err }
    tlsConf := &tls.Config{
        Certificates: []tls.Certificate{cert},
        NextProtos:   []string{alpn},
        MinVersion:   tls.VersionTLS13,
    }
    qconf := &quicgo.Config{
        KeepAlivePeriod: 10 * time.Second,
        MaxIdleTimeout:  60 * time.Second,
    }
    return &Transport{tlsConf: tlsConf, quicConf: qconf}, nil
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUIC }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    l, err := quicgo.ListenAddr(address, t.tlsConf, t.quicConf)
    if err != nil { return nil, err }
    lctx, cancel := context.WithCancel(ctx)
    ql := &listener{l: l, newCh: make(chan net.Conn, 8), closeCh: make(chan struct{}), cancel: cancel}
    go ql.acceptLoop(lctx)
    go func() {
        select {
        case <-ctx.Done():
            _ = ql.Close()
        case <-ql.closeCh:
        }
    }()
    return ql, nil
}

func (t *Transport) Dial(ctx context.Context, address string) (net.Conn, error) {
    tlsClient := &tls.Config{
        InsecureSkipVerify: true,
        NextProtos:         []string{alpn},
        MinVersion:         tls.VersionTLS13,
    }
    c, err := quicgo.DialAddr(ctx, address, tlsClient, t.quicConf)
    if err != nil { return nil, err }
    st, err := c.OpenStreamSync(ctx)
    if err != nil {
        _ = c.CloseWithError(0, "open stream failed")
        return nil, err
    }
    return &streamConn{Stream: st, conn: c}, nil
}

type listener struct {
    l       *quicgo.Listener
    newCh   chan net.Conn
    closeCh chan struct{}
    once    sync.Once
    cancel  context.CancelFunc
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
        l.cancel()
        err = l.l.Close()
    })
    return err
}

func (l *listener) acceptLoop(ctx context.Context) {
    for {
        c, err := l.l.Accept(ctx)
        if err != nil { return }
        go l.acceptStream(ctx, c)
    }
}

// acceptStream waits for the dialer's stream. The stream becomes visible
// once the dialer writes its first frame.
func (l *listener) acceptStream(ctx context.Context, c quicgo.Connection) {
    st, err := c.AcceptStream(ctx)
    if err != nil {
        zap.L().Named("quic").Debug("accept stream failed", zap.String("remote", c.RemoteAddr().String()), zap.Error(err))
        _ = c.CloseWithError(0, "no stream")
        return
    }
    sc := &streamConn{Stream: st, conn: c}
    select {
    case l.newCh <- sc:
    case <-l.closeCh:
        _ = sc.Close()
    }
}

// streamConn adapts a QUIC stream and its owning connection to net.Conn.
type streamConn struct {
    quicgo.Stream
    conn quicgo.Connection
    once sync.Once
}

func (s *streamConn) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *streamConn) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Close closes the send side of the stream and then the connection.
func (s *streamConn) Close() error {
    var err error
    s.once.Do(func() {
        err = s.Stream.Close()
        s.Stream.CancelRead(0)
        if cerr := s.conn.CloseWithError(0, ""); err == nil { err = cerr }
    })
    return err
}

// selfSignedCert generates a short-lived self-signed TLS certificate for local QUIC use.
func selfSignedCert() (tls.Certificate, error) {
    priv, err := rsa.GenerateKey(rand.Reader, 2048)
    if err != nil { return tls.Certificate{}, err }
    tmpl := x509.Certificate{
        SerialNumber:          big.NewInt(time.Now().UnixNano()),
        NotBefore:             time.Now().Add(-time.Minute),
        NotAfter:              time.Now().Add(24 * time.Hour),
        KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
        ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
        BasicConstraintsValid: true,
        DNSNames:              []string{"localhost"},
    }
    der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
    if err != nil { return tls.Certificate{}, err }
    return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
