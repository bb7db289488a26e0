// Package node ties discovery, transfer, the outgoing queue and reconnection
// together: sends go direct over a live link or are queued, and the queue is
// flushed whenever the link comes back.
package node

import (
    "context"
    "errors"
    "fmt"
    "net"
    "strconv"
    "sync"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"

    "p2pdrop/pkg/discovery"
    "p2pdrop/pkg/queue"
    "p2pdrop/pkg/reconnect"
    "p2pdrop/pkg/transfer"
)

// ErrNoDestination is returned when an item has no destination and no group
// owner is known.
var ErrNoDestination = errors.New("node: no destination")

// Options tune a Node.
type Options struct {
    // DefaultPort is used for destinations without a port.
    DefaultPort int
    // Target is the remembered device connected to on start and after
    // link loss.
    Target string
    // FlushInterval flushes the queue periodically while connected. Zero
    // disables the tick.
    FlushInterval    time.Duration
    ReconnectInitial time.Duration
    ReconnectMax     time.Duration
}

// Delivery is the outcome of a send request.
type Delivery struct {
    // Queued is set when the item was persisted instead of delivered.
    Queued bool
    Entry  queue.Entry
    Result transfer.Result
}

// Node is the sending side orchestrator.
type Node struct {
    svc    discovery.Service
    sender *transfer.Sender
    queue  *queue.Queue
    rc     *reconnect.Manager
    opts   Options
    log    *zap.Logger

    mu    sync.Mutex
    info  discovery.ConnectionInfo
    peers []discovery.Peer

    flushReq chan struct{}
    wg       sync.WaitGroup
}

// New wires a Node. ctx bounds reconnect attempts.
func New(ctx context.Context, svc discovery.Service, sender *transfer.Sender, q *queue.Queue, opts Options) *Node {
    if opts.DefaultPort <= 0 { opts.DefaultPort = 8080 }
    n := &Node{
        svc:      svc,
        sender:   sender,
        queue:    q,
        opts:     opts,
        log:      zap.L().Named("node"),
        flushReq: make(chan struct{}, 1),
    }
    n.rc = reconnect.New(ctx, reconnect.ConnectorFunc(svc.Connect), reconnect.Options{
        Initial: opts.ReconnectInitial,
        Max:     opts.ReconnectMax,
    })
    if opts.Target != "" { n.rc.SetTarget(opts.Target) }
    return n
}

// ConnectionInfo returns the last link snapshot seen.
func (n *Node) ConnectionInfo() discovery.ConnectionInfo {
    n.mu.Lock(); defer n.mu.Unlock()
    return n.info
}

// Connected reports whether a group is formed.
func (n *Node) Connected() bool { return n.ConnectionInfo().GroupFormed }

// Reconnect exposes the reconnect bookkeeping.
func (n *Node) Reconnect() reconnect.State { return n.rc.State() }

// Queue returns the outgoing queue.
func (n *Node) Queue() *queue.Queue { return n.queue }

// Attach records a link formed outside the discovery event stream, such as
// a destination given on the command line.
func (n *Node) Attach(info discovery.ConnectionInfo) {
    n.handle(discovery.Event{Kind: discovery.ConnectionChanged, Info: info})
}

// Connect remembers address as the target and tries it now. Failures are
// retried with backoff.
func (n *Node) Connect(address string) error { return n.rc.Connect(address) }

// SendFile delivers the file at path now when connected, otherwise queues it.
func (n *Node) SendFile(ctx context.Context, path, destination string, onProgress func(transfer.Progress)) (Delivery, error) {
    return n.submit(ctx, queue.NewFile(path, destination), onProgress)
}

// SendMessage delivers text as a small file named msg-<uuid>.txt, or queues it.
func (n *Node) SendMessage(ctx context.Context, text, destination string, port int) (Delivery, error) {
    return n.submit(ctx, queue.NewMessage(text, destination, port), nil)
}

func (n *Node) submit(ctx context.Context, item queue.SendItem, onProgress func(transfer.Progress)) (Delivery, error) {
    if err := item.Validate(); err != nil { return Delivery{}, err }
    if !n.Connected() {
        return n.enqueue(item)
    }
    res, err := n.deliver(ctx, item, onProgress)
    if err == nil {
        return Delivery{Result: res}, nil
    }
    if !isDeliveryError(err) {
        return Delivery{}, err
    }
    n.log.Warn("direct send failed, queueing", zap.String("item", item.String()), zap.Error(err))
    d, qerr := n.enqueue(item)
    if qerr != nil { return d, errors.Join(err, qerr) }
    return d, nil
}

func (n *Node) enqueue(item queue.SendItem) (Delivery, error) {
    e, err := n.queue.Enqueue(item)
    if err != nil { return Delivery{}, err }
    return Delivery{Queued: true, Entry: e}, nil
}

// deliver makes one attempt for item. A connect failure marks the link lost.
func (n *Node) deliver(ctx context.Context, item queue.SendItem, onProgress func(transfer.Progress)) (transfer.Result, error) {
    addr, err := n.endpoint(item.Destination, item.Port)
    if err != nil { return transfer.Result{}, err }
    var res transfer.Result
    switch item.Kind {
    case queue.KindMessage:
        res, err = n.sender.SendBytes(ctx, "msg-"+uuid.NewString()+".txt", []byte(item.Text), addr, onProgress)
    case queue.KindFile:
        res, err = n.sender.SendFile(ctx, item.Path, addr, onProgress)
    default:
        return transfer.Result{}, fmt.Errorf("node: unknown item type %q", item.Kind)
    }
    if transfer.IsConnectError(err) {
        n.linkLost(err)
    }
    return res, err
}

// isDeliveryError reports failures of the link or the peer, as opposed to
// local problems such as an unreadable file.
func isDeliveryError(err error) bool {
    var te *transfer.TransportError
    return transfer.IsConnectError(err) ||
        errors.As(err, &te) ||
        errors.Is(err, transfer.ErrAckTimeout) ||
        errors.Is(err, transfer.ErrChecksumMismatch) ||
        errors.Is(err, transfer.ErrUnexpectedAck) ||
        errors.Is(err, ErrNoDestination)
}

func (n *Node) linkLost(cause error) {
    n.mu.Lock()
    was := n.info.GroupFormed
    n.info = discovery.ConnectionInfo{}
    n.mu.Unlock()
    if !was { return }
    n.rc.OnDisconnected()
    n.rc.OnConnectFailure(cause)
}

// endpoint turns an item destination into host:port. An empty destination
// means the current group owner.
func (n *Node) endpoint(dest string, port int) (string, error) {
    if dest == "" {
        info := n.ConnectionInfo()
        if info.GroupOwnerAddress == "" || info.IsGroupOwner {
            return "", ErrNoDestination
        }
        return info.GroupOwnerAddress, nil
    }
    n.mu.Lock(); known := n.peers; n.mu.Unlock()
    for _, p := range known {
        if (p.Address == dest || p.Name == dest) && p.Host != "" {
            if port <= 0 { port = p.Port }
            if port <= 0 { port = n.opts.DefaultPort }
            return net.JoinHostPort(p.Host, strconv.Itoa(port)), nil
        }
    }
    host, hp, err := net.SplitHostPort(dest)
    if err != nil {
        host, hp = dest, ""
    }
    if port <= 0 {
        if hp != "" { return dest, nil }
        port = n.opts.DefaultPort
    }
    return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// Flush attempts every queued item once.
func (n *Node) Flush(ctx context.Context) ([]queue.Result, error) {
    results, err := n.queue.Process(ctx, func(ctx context.Context, item queue.SendItem) error {
        _, err := n.deliver(ctx, item, nil)
        return err
    })
    if err != nil {
        n.log.Error("flush failed", zap.Error(err))
    }
    return results, err
}

// RequestFlush asks Run to flush in the background.
func (n *Node) RequestFlush() {
    select {
    case n.flushReq <- struct{}{}:
    default:
    }
}

// Run consumes discovery events until ctx is done or the event channel is
// closed. Discovery is started here and the remembered target is tried.
func (n *Node) Run(ctx context.Context) error {
    defer n.wg.Wait()
    defer n.rc.Stop()
    if err := n.svc.StartDiscovery(ctx); err != nil {
        return fmt.Errorf("start discovery: %w", err)
    }
    if n.opts.Target != "" {
        n.async(func() { _ = n.rc.Retry() })
    }

    var tick <-chan time.Time
    if n.opts.FlushInterval > 0 {
        t := time.NewTicker(n.opts.FlushInterval)
        defer t.Stop()
        tick = t.C
    }
    for {
        select {
        case <-ctx.Done():
            return nil
        case ev, ok := <-n.svc.Events():
            if !ok { return nil }
            n.handle(ev)
        case <-tick:
            if n.Connected() && n.queue.Len() > 0 { n.flushAsync(ctx) }
        case <-n.flushReq:
            if n.Connected() { n.flushAsync(ctx) }
        }
    }
}

func (n *Node) async(f func()) {
    n.wg.Add(1)
    go func() {
        defer n.wg.Done()
        f()
    }()
}

func (n *Node) flushAsync(ctx context.Context) {
    n.async(func() { _, _ = n.Flush(ctx) })
}

func (n *Node) handle(ev discovery.Event) {
    switch ev.Kind {
    case discovery.PeersChanged:
        n.mu.Lock()
        n.peers = ev.Peers
        connected := n.info.GroupFormed
        n.mu.Unlock()
        target := n.rc.State().Target
        if !connected && target != "" && containsPeer(ev.Peers, target) {
            n.log.Info("target visible again", zap.String("target", target))
            n.async(func() { _ = n.rc.Retry() })
        }

    case discovery.ConnectionChanged:
        n.mu.Lock()
        prev := n.info
        n.info = ev.Info
        n.mu.Unlock()
        switch {
        case ev.Info.GroupFormed && !prev.GroupFormed:
            n.log.Info("link up", zap.String("owner", ev.Info.GroupOwnerAddress), zap.Bool("group_owner", ev.Info.IsGroupOwner))
            n.rc.OnConnected()
            n.RequestFlush()
        case !ev.Info.GroupFormed && prev.GroupFormed:
            n.log.Warn("link down")
            n.rc.OnDisconnected()
            if n.rc.State().Target != "" {
                n.async(func() { _ = n.rc.Retry() })
            }
        }
    }
}

func containsPeer(ps []discovery.Peer, target string) bool {
    for _, p := range ps {
        if p.Address == target || p.Name == target { return true }
    }
    return false
}
