package node

import (
    "path/filepath"
    "testing"
    "time"

    "p2pdrop/pkg/config"
    "p2pdrop/pkg/queue"
    "p2pdrop/pkg/transport/mem"
)

func TestWiringFromConfig(t *testing.T) {
    cfg := config.Default()
    cfg.DataDir = t.TempDir()
    cfg.Discovery.Target = "tablet"
    cfg.Discovery.Peers = []config.PeerConfig{{Name: "tablet", Host: "192.168.49.1"}}

    opts := OptionsFromConfig(cfg)
    if opts.DefaultPort != 8080 || opts.Target != "tablet" || opts.ReconnectInitial != time.Second || opts.ReconnectMax != 30*time.Second {
        t.Fatalf("options = %+v", opts)
    }

    q, err := OpenQueue(cfg)
    if err != nil { t.Fatalf("open queue: %v", err) }
    defer q.Close()
    if _, err := q.Enqueue(queue.NewMessage("x", "tablet", 0)); err != nil { t.Fatalf("enqueue: %v", err) }
    fs, err := queue.NewFileStore(filepath.Join(cfg.DataDir, "outgoing_queue.json"), "json")
    if err != nil { t.Fatalf("file store: %v", err) }
    if entries, err := fs.Load(); err != nil || len(entries) != 1 { t.Fatalf("queue document: %d entries, %v", len(entries), err) }

    d := DiscoveryFromConfig(cfg, mem.New())
    defer d.Close()
    if len(d.Peers()) != 0 { t.Fatalf("peers listed before start") }
    again := DiscoveryFromConfig(cfg, mem.New())
    defer again.Close()
    if d.ID() == "" || d.ID() != again.ID() { t.Fatalf("device id not stable: %q vs %q", d.ID(), again.ID()) }
}
