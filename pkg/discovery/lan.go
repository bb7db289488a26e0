package discovery

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net"
    "strconv"
    "sync"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"
    "golang.org/x/net/ipv4"

    "p2pdrop/pkg/peers"
    "p2pdrop/pkg/transport"
)

// LANOptions configure a LAN service.
type LANOptions struct {
    // ID is the beacon identity. A random one is used when empty.
    ID           string
    DeviceName   string
    TransferPort int
    // Multicast enables beacons on Group:Port.
    Multicast        bool
    Group            string
    Port             int
    AnnounceInterval time.Duration
    PeerTTL          time.Duration
    // Static peers are always listed.
    Static []Peer
    // Prober dials a peer's transfer endpoint to check reachability. The
    // connection is closed immediately, so the receiver sees one empty
    // connection. It is used on Connect and again only after a connected
    // peer stops being listed.
    Prober       transport.Transport
    ProbeTimeout time.Duration
}

// beacon is one multicast datagram: AN announces, QR queries, BY leaves.
type beacon struct {
    T    string `json:"t"`
    ID   string `json:"id"`
    Name string `json:"name,omitempty"`
    Port int    `json:"port,omitempty"`
    GO   bool   `json:"go,omitempty"`
    V    int    `json:"v"`
}

const beaconVersion = 1

// LAN discovers peers on the local network from static configuration and
// multicast beacons, and treats a reachable transfer endpoint as a formed
// group.
type LAN struct {
    opts  LANOptions
    id    string
    store *peers.Store
    log   *zap.Logger

    events chan Event

    mu        sync.Mutex
    closed    bool
    info      ConnectionInfo
    conn      *net.UDPConn
    pc        *ipv4.PacketConn
    stopLoop  context.CancelFunc
    loopDone  chan struct{}
    stopWatch context.CancelFunc
}

// NewLAN returns a stopped LAN service.
func NewLAN(opts LANOptions) *LAN {
    if opts.AnnounceInterval <= 0 { opts.AnnounceInterval = 5 * time.Second }
    if opts.PeerTTL <= 0 { opts.PeerTTL = 30 * time.Second }
    if opts.ProbeTimeout <= 0 { opts.ProbeTimeout = 3 * time.Second }
    if opts.Group == "" { opts.Group = "239.255.42.43" }
    if opts.Port == 0 { opts.Port = 9901 }
    if opts.ID == "" { opts.ID = uuid.NewString() }
    d := &LAN{
        opts:   opts,
        id:     opts.ID,
        log:    zap.L().Named("discovery"),
        events: make(chan Event, 32),
    }
    d.store = peers.NewStore(opts.PeerTTL, d.emitPeers)
    return d
}

// ID is this device's beacon identity.
func (d *LAN) ID() string { return d.id }

func (d *LAN) Events() <-chan Event { return d.events }

func (d *LAN) Peers() []Peer { return d.store.List() }

func (d *LAN) ConnectionInfo() ConnectionInfo {
    d.mu.Lock(); defer d.mu.Unlock()
    return d.info
}

func (d *LAN) emit(ev Event) {
    d.mu.Lock(); defer d.mu.Unlock()
    if d.closed { return }
    select {
    case d.events <- ev:
    default:
        d.log.Warn("event dropped, consumer is slow", zap.Stringer("kind", ev.Kind))
    }
}

func (d *LAN) emitPeers() { d.emit(Event{Kind: PeersChanged, Peers: d.store.List()}) }

func (d *LAN) setInfo(info ConnectionInfo) {
    d.mu.Lock(); d.info = info; d.mu.Unlock()
    d.emit(Event{Kind: ConnectionChanged, Info: info})
}

// StartDiscovery lists static peers and, when enabled, starts beaconing.
func (d *LAN) StartDiscovery(ctx context.Context) error {
    for _, p := range d.opts.Static {
        p.Static = true
        if p.Port == 0 { p.Port = d.opts.TransferPort }
        d.store.Upsert(p)
    }
    if !d.opts.Multicast {
        if len(d.opts.Static) > 0 { d.emitPeers() }
        return nil
    }

    d.mu.Lock()
    if d.conn != nil {
        d.mu.Unlock()
        d.send(beacon{T: "QR", Name: d.opts.DeviceName, Port: d.opts.TransferPort})
        return nil
    }
    d.mu.Unlock()

    conn, pc, err := d.joinGroup()
    if err != nil { return fmt.Errorf("discovery: join %s:%d: %w", d.opts.Group, d.opts.Port, err) }
    lctx, cancel := context.WithCancel(ctx)
    done := make(chan struct{})
    d.mu.Lock()
    d.conn, d.pc, d.stopLoop, d.loopDone = conn, pc, cancel, done
    d.mu.Unlock()
    go d.loop(lctx, conn, done)
    d.send(beacon{T: "QR", Name: d.opts.DeviceName, Port: d.opts.TransferPort})
    d.log.Info("discovery started", zap.String("group", d.opts.Group), zap.Int("port", d.opts.Port), zap.String("id", d.id))
    return nil
}

func (d *LAN) joinGroup() (*net.UDPConn, *ipv4.PacketConn, error) {
    conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: d.opts.Port})
    if err != nil { return nil, nil, err }
    pc := ipv4.NewPacketConn(conn)
    group := &net.UDPAddr{IP: net.ParseIP(d.opts.Group)}
    joined := 0
    ifaces, _ := net.Interfaces()
    for i := range ifaces {
        ifi := ifaces[i]
        if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 { continue }
        if err := pc.JoinGroup(&ifi, group); err == nil { joined++ }
    }
    if joined == 0 {
        if err := pc.JoinGroup(nil, group); err != nil {
            _ = conn.Close()
            return nil, nil, err
        }
    }
    _ = pc.SetMulticastTTL(4)
    _ = pc.SetMulticastLoopback(true)
    return conn, pc, nil
}

func (d *LAN) send(b beacon) {
    d.mu.Lock(); conn := d.conn; d.mu.Unlock()
    if conn == nil { return }
    b.ID, b.V = d.id, beaconVersion
    data, _ := json.Marshal(b)
    dst := &net.UDPAddr{IP: net.ParseIP(d.opts.Group), Port: d.opts.Port}
    if _, err := conn.WriteTo(data, dst); err != nil {
        d.log.Debug("beacon send failed", zap.String("t", b.T), zap.Error(err))
    }
}

func (d *LAN) announce() {
    info := d.ConnectionInfo()
    d.send(beacon{T: "AN", Name: d.opts.DeviceName, Port: d.opts.TransferPort, GO: info.IsGroupOwner})
}

func (d *LAN) loop(ctx context.Context, conn *net.UDPConn, done chan struct{}) {
    defer close(done)
    go func() {
        t := time.NewTicker(d.opts.AnnounceInterval)
        defer t.Stop()
        d.announce()
        for {
            select {
            case <-ctx.Done():
                return
            case <-t.C:
                d.announce()
            }
        }
    }()
    stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
    defer stop()

    buf := make([]byte, 2048)
    for {
        n, src, err := conn.ReadFromUDP(buf)
        if err != nil {
            if ctx.Err() != nil { return }
            var ne net.Error
            if errors.As(err, &ne) && ne.Timeout() { continue }
            d.log.Warn("discovery socket closed", zap.Error(err))
            return
        }
        var b beacon
        if err := json.Unmarshal(buf[:n], &b); err != nil {
            d.log.Debug("bad beacon", zap.String("from", src.String()), zap.Error(err))
            continue
        }
        d.handle(b, src.IP.String())
    }
}

func (d *LAN) handle(b beacon, srcIP string) {
    if b.ID == "" || b.ID == d.id { return }
    switch b.T {
    case "BY":
        d.store.Remove(b.ID)
    case "AN", "QR":
        name := b.Name
        if name == "" { name = srcIP }
        port := b.Port
        if port == 0 { port = d.opts.TransferPort }
        d.store.Upsert(Peer{Address: b.ID, Name: name, Host: srcIP, Port: port, GroupOwner: b.GO})
        if b.T == "QR" { go d.announce() }
    }
}

// StopDiscovery says goodbye, stops beaconing and forgets dynamic peers.
// Static peers stay listed.
func (d *LAN) StopDiscovery() error {
    d.mu.Lock()
    conn, cancel, done := d.conn, d.stopLoop, d.loopDone
    d.mu.Unlock()
    if conn == nil { return nil }
    defer d.forgetDynamic()
    d.send(beacon{T: "BY"})
    cancel()
    <-done
    err := conn.Close()
    d.mu.Lock()
    d.conn, d.pc, d.stopLoop, d.loopDone = nil, nil, nil, nil
    d.mu.Unlock()
    d.log.Info("discovery stopped")
    return err
}

func (d *LAN) forgetDynamic() {
    for _, p := range d.store.List() {
        if !p.Static { d.store.Remove(p.Address) }
    }
}

// CreateGroup makes this device the group owner; peers connect to it.
func (d *LAN) CreateGroup(ctx context.Context) error {
    host := localIP()
    d.setInfo(ConnectionInfo{
        GroupFormed:       true,
        IsGroupOwner:      true,
        GroupOwnerAddress: net.JoinHostPort(host, strconv.Itoa(d.opts.TransferPort)),
    })
    d.announce()
    d.log.Info("group created", zap.String("owner", host))
    return nil
}

// Connect resolves address through the peer list and probes its transfer
// endpoint. On success the link is watched until the peer is no longer
// listed and stops answering.
func (d *LAN) Connect(ctx context.Context, address string) error {
    endpoint := d.store.Resolve(address, d.opts.TransferPort)
    if err := d.probe(ctx, endpoint); err != nil {
        return fmt.Errorf("discovery: connect %s (%s): %w", address, endpoint, err)
    }
    d.setInfo(ConnectionInfo{GroupFormed: true, GroupOwnerAddress: endpoint, PeerAddress: address})
    d.log.Info("group formed", zap.String("peer", address), zap.String("owner", endpoint))
    d.watch(endpoint)
    return nil
}

func (d *LAN) probe(ctx context.Context, endpoint string) error {
    if d.opts.Prober == nil { return errors.New("no prober configured") }
    pctx, cancel := context.WithTimeout(ctx, d.opts.ProbeTimeout)
    defer cancel()
    c, err := d.opts.Prober.Dial(pctx, endpoint)
    if err != nil { return err }
    return c.Close()
}

// watch checks the link every announce interval. While the peer at
// endpoint is listed, its beacons or static entry keep the link up. Once it
// drops out of the list the endpoint is dialled once, and a failed dial
// reports a lost link.
func (d *LAN) watch(endpoint string) {
    ctx, cancel := context.WithCancel(context.Background())
    d.mu.Lock()
    if d.stopWatch != nil { d.stopWatch() }
    d.stopWatch = cancel
    d.mu.Unlock()
    go func() {
        t := time.NewTicker(d.opts.AnnounceInterval)
        defer t.Stop()
        for {
            select {
            case <-ctx.Done():
                return
            case <-t.C:
                if d.listed(endpoint) { continue }
                if err := d.probe(ctx, endpoint); err != nil {
                    if ctx.Err() != nil { return }
                    d.log.Warn("link lost", zap.String("owner", endpoint), zap.Error(err))
                    d.setInfo(ConnectionInfo{})
                    return
                }
            }
        }
    }()
}

// listed reports whether a live peer resolves to endpoint.
func (d *LAN) listed(endpoint string) bool {
    for _, p := range d.store.List() {
        if p.Host == "" { continue }
        if p.Port == 0 { p.Port = d.opts.TransferPort }
        if p.Endpoint() == endpoint { return true }
    }
    return false
}

// Disconnect drops the link.
func (d *LAN) Disconnect() error {
    d.mu.Lock()
    if d.stopWatch != nil { d.stopWatch(); d.stopWatch = nil }
    d.mu.Unlock()
    d.setInfo(ConnectionInfo{})
    return nil
}

// Close stops everything and closes the event channel.
func (d *LAN) Close() error {
    err := d.StopDiscovery()
    d.mu.Lock()
    if d.stopWatch != nil { d.stopWatch(); d.stopWatch = nil }
    d.mu.Unlock()
    d.store.Close()
    d.mu.Lock()
    if !d.closed {
        d.closed = true
        close(d.events)
    }
    d.mu.Unlock()
    return err
}

// localIP returns the first non-loopback IPv4 address, or 127.0.0.1.
func localIP() string {
    addrs, err := net.InterfaceAddrs()
    if err != nil { return "127.0.0.1" }
    for _, a := range addrs {
        if ipn, ok := a.(*net.IPNet); ok && !ipn.IP.IsLoopback() && ipn.IP.To4() != nil {
            return ipn.IP.String()
        }
    }
    return "127.0.0.1"
}
