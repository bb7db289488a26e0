package node

import (
    "context"
    "errors"
    "os"
    "path/filepath"
    "strings"
    "sync"
    "testing"
    "time"

    "p2pdrop/pkg/config"
    "p2pdrop/pkg/discovery"
    "p2pdrop/pkg/queue"
    "p2pdrop/pkg/transfer"
    "p2pdrop/pkg/transport/mem"
)

// fakeService is a scripted discovery collaborator.
type fakeService struct {
    events chan discovery.Event

    mu         sync.Mutex
    connects   []string
    connectErr error
    owner      string
}

func newFakeService(owner string) *fakeService {
    return &fakeService{events: make(chan discovery.Event, 16), owner: owner}
}

func (f *fakeService) StartDiscovery(context.Context) error { return nil }
func (f *fakeService) StopDiscovery() error                 { return nil }
func (f *fakeService) CreateGroup(context.Context) error    { return nil }
func (f *fakeService) Disconnect() error                    { return nil }
func (f *fakeService) ConnectionInfo() discovery.ConnectionInfo { return discovery.ConnectionInfo{} }
func (f *fakeService) Peers() []discovery.Peer              { return nil }
func (f *fakeService) Events() <-chan discovery.Event       { return f.events }
func (f *fakeService) Close() error                         { return nil }

func (f *fakeService) Connect(_ context.Context, address string) error {
    f.mu.Lock()
    f.connects = append(f.connects, address)
    err := f.connectErr
    f.mu.Unlock()
    if err != nil { return err }
    f.events <- discovery.Event{Kind: discovery.ConnectionChanged, Info: f.formed()}
    return nil
}

func (f *fakeService) formed() discovery.ConnectionInfo {
    return discovery.ConnectionInfo{GroupFormed: true, GroupOwnerAddress: f.owner}
}

func (f *fakeService) connectCount() int {
    f.mu.Lock(); defer f.mu.Unlock()
    return len(f.connects)
}

type fixture struct {
    node *Node
    svc  *fakeService
    root string
    done chan transfer.ReceiveProgress
}

// newFixture starts a node whose discovery collaborator fails every connect
// with connectErr until it is cleared.
func newFixture(t *testing.T, opts Options, connectErr error) *fixture {
    t.Helper()
    ctx, cancel := context.WithCancel(context.Background())
    t.Cleanup(cancel)

    tr := mem.New()
    fx := &fixture{root: t.TempDir(), done: make(chan transfer.ReceiveProgress, 8)}
    srv := transfer.NewServer(tr, transfer.ServerOptions{Root: fx.root, UniqueNames: true, OnReceive: func(p transfer.ReceiveProgress) {
        if p.Done { fx.done <- p }
    }})
    l, err := tr.Listen(ctx, "owner:8080")
    if err != nil { t.Fatalf("listen: %v", err) }
    go func() { _ = srv.ServeListener(ctx, l) }()

    st, err := queue.OpenStore(config.QueueConfig{Backend: "file", Path: "q.json", Format: "json"}, t.TempDir())
    if err != nil { t.Fatalf("open store: %v", err) }
    q := queue.New(st)
    t.Cleanup(func() { _ = q.Close() })

    fx.svc = newFakeService("owner:8080")
    fx.svc.connectErr = connectErr
    sender := transfer.NewSender(tr, transfer.SenderOptions{AckTimeout: 2 * time.Second})
    fx.node = New(ctx, fx.svc, sender, q, opts)

    runDone := make(chan struct{})
    go func() { defer close(runDone); _ = fx.node.Run(ctx) }()
    t.Cleanup(func() { cancel(); <-runDone })
    return fx
}

func (fx *fixture) received(t *testing.T) transfer.ReceiveProgress {
    t.Helper()
    select {
    case p := <-fx.done:
        if !p.Complete { t.Fatalf("transfer not complete: %+v", p) }
        return p
    case <-time.After(5 * time.Second):
        t.Fatalf("nothing received")
        return transfer.ReceiveProgress{}
    }
}

func (fx *fixture) linkUp(t *testing.T) {
    t.Helper()
    fx.svc.events <- discovery.Event{Kind: discovery.ConnectionChanged, Info: fx.svc.formed()}
    waitFor(t, fx.node.Connected)
}

func waitFor(t *testing.T, cond func() bool) {
    t.Helper()
    deadline := time.Now().Add(5 * time.Second)
    for !cond() {
        if time.Now().After(deadline) { t.Fatalf("condition not reached") }
        time.Sleep(10 * time.Millisecond)
    }
}

func TestQueuedWhileDisconnectedThenFlushed(t *testing.T) {
    fx := newFixture(t, Options{}, nil)
    d, err := fx.node.SendMessage(context.Background(), "hello later", "", 0)
    if err != nil { t.Fatalf("send: %v", err) }
    if !d.Queued || fx.node.Queue().Len() != 1 { t.Fatalf("not queued: %+v", d) }

    fx.linkUp(t)
    p := fx.received(t)
    if !strings.HasPrefix(p.Name, "msg-") || !strings.HasSuffix(p.Name, ".txt") {
        t.Fatalf("message name = %q", p.Name)
    }
    data, err := os.ReadFile(p.Path)
    if err != nil { t.Fatalf("read: %v", err) }
    if string(data) != "hello later" { t.Fatalf("content = %q", data) }
    waitFor(t, func() bool { return fx.node.Queue().Len() == 0 })
}

func TestDirectSendWhenConnected(t *testing.T) {
    fx := newFixture(t, Options{}, nil)
    fx.linkUp(t)

    src := filepath.Join(t.TempDir(), "report.pdf")
    if err := os.WriteFile(src, []byte(strings.Repeat("r", 70000)), 0o644); err != nil { t.Fatalf("write: %v", err) }
    var last transfer.Progress
    d, err := fx.node.SendFile(context.Background(), src, "", func(p transfer.Progress) { last = p })
    if err != nil { t.Fatalf("send: %v", err) }
    if d.Queued || d.Result.Chunks != 2 || d.Result.Bytes != 70000 { t.Fatalf("delivery = %+v", d) }
    if last.BytesSent != 70000 || last.Total != 70000 { t.Fatalf("last progress = %+v", last) }
    p := fx.received(t)
    if filepath.Base(p.Path) != "report.pdf" { t.Fatalf("path = %q", p.Path) }
    if fx.node.Queue().Len() != 0 { t.Fatalf("queue not empty") }
}

func TestConnectErrorQueuesAndSchedulesReconnect(t *testing.T) {
    fx := newFixture(t, Options{Target: "tablet", ReconnectInitial: time.Hour, ReconnectMax: time.Hour}, errors.New("busy"))
    fx.linkUp(t)

    d, err := fx.node.SendMessage(context.Background(), "hi", "nowhere:9", 0)
    if err != nil { t.Fatalf("send: %v", err) }
    if !d.Queued { t.Fatalf("expected queued after connect error") }
    if fx.node.Connected() { t.Fatalf("link should be marked down") }
    st := fx.node.Reconnect()
    if st.Attempts < 1 || st.NextDelay == 0 { t.Fatalf("reconnect state = %+v", st) }
}

func TestLocalErrorNotQueued(t *testing.T) {
    fx := newFixture(t, Options{}, nil)
    fx.linkUp(t)
    if _, err := fx.node.SendFile(context.Background(), filepath.Join(t.TempDir(), "missing"), "", nil); err == nil {
        t.Fatalf("expected error for missing file")
    }
    if fx.node.Queue().Len() != 0 { t.Fatalf("local failure was queued") }
}

func TestTargetReappearingTriggersConnect(t *testing.T) {
    fx := newFixture(t, Options{Target: "tablet", ReconnectInitial: time.Hour, ReconnectMax: time.Hour}, errors.New("out of range"))
    waitFor(t, func() bool { return fx.svc.connectCount() >= 1 })

    fx.svc.mu.Lock(); fx.svc.connectErr = nil; fx.svc.mu.Unlock()
    fx.svc.events <- discovery.Event{Kind: discovery.PeersChanged, Peers: []discovery.Peer{{Address: "aa:bb", Name: "tablet"}}}
    waitFor(t, fx.node.Connected)
    if st := fx.node.Reconnect(); st.Attempts != 0 || !st.Connected { t.Fatalf("state after reconnect = %+v", st) }
}

func TestLinkDownMarksDisconnected(t *testing.T) {
    fx := newFixture(t, Options{}, nil)
    fx.linkUp(t)
    fx.svc.events <- discovery.Event{Kind: discovery.ConnectionChanged}
    waitFor(t, func() bool { return !fx.node.Connected() })
    d, err := fx.node.SendMessage(context.Background(), "after drop", "", 0)
    if err != nil || !d.Queued { t.Fatalf("send after drop: %+v %v", d, err) }
}

func TestEndpointResolution(t *testing.T) {
    n := &Node{opts: Options{DefaultPort: 8080}, peers: []discovery.Peer{{Address: "aa:bb", Name: "tablet", Host: "192.168.49.1", Port: 9000}}}
    cases := []struct {
        dest string
        port int
        want string
    }{
        {"tablet", 0, "192.168.49.1:9000"},
        {"aa:bb", 7000, "192.168.49.1:7000"},
        {"10.0.0.5", 0, "10.0.0.5:8080"},
        {"10.0.0.5:1234", 0, "10.0.0.5:1234"},
        {"10.0.0.5:1234", 99, "10.0.0.5:99"},
    }
    for _, c := range cases {
        got, err := n.endpoint(c.dest, c.port)
        if err != nil || got != c.want { t.Fatalf("endpoint(%q,%d) = %q, %v; want %q", c.dest, c.port, got, err, c.want) }
    }
    if _, err := n.endpoint("", 0); !errors.Is(err, ErrNoDestination) { t.Fatalf("empty destination err = %v", err) }
}
