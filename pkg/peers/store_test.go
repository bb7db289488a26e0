package peers

import (
    "sync/atomic"
    "testing"
    "time"
)

func TestUpsertListResolve(t *testing.T) {
    var changes atomic.Int32
    s := NewStore(time.Minute, func() { changes.Add(1) })
    defer s.Close()

    if !s.Upsert(Peer{Address: "aa:bb", Name: "tablet", Host: "192.168.49.1", Port: 8080}) { t.Fatalf("new peer not reported") }
    if s.Upsert(Peer{Address: "aa:bb", Name: "tablet", Host: "192.168.49.1", Port: 8080}) { t.Fatalf("refresh reported as change") }
    s.Upsert(Peer{Address: "cc:dd", Name: "phone"})

    list := s.List()
    if len(list) != 2 || list[0].Name != "phone" || list[1].Name != "tablet" { t.Fatalf("list = %+v", list) }
    if changes.Load() != 2 { t.Fatalf("changes = %d", changes.Load()) }

    cases := map[string]string{
        "aa:bb":        "192.168.49.1:8080",
        "tablet":       "192.168.49.1:8080",
        "10.0.0.5:9000": "10.0.0.5:9000",
        "10.0.0.5":     "10.0.0.5:8080",
    }
    for in, want := range cases {
        if got := s.Resolve(in, 8080); got != want { t.Fatalf("Resolve(%q) = %q, want %q", in, got, want) }
    }
}

func TestDynamicPeersExpire(t *testing.T) {
    gone := make(chan struct{}, 4)
    s := NewStore(30*time.Millisecond, func() { gone <- struct{}{} })
    defer s.Close()

    s.Upsert(Peer{Address: "static", Static: true})
    s.Upsert(Peer{Address: "dynamic"})
    <-gone
    <-gone

    select {
    case <-gone:
    case <-time.After(2 * time.Second):
        t.Fatalf("dynamic peer never expired")
    }
    list := s.List()
    if len(list) != 1 || list[0].Address != "static" { t.Fatalf("list = %+v", list) }
}

func TestRemove(t *testing.T) {
    s := NewStore(time.Minute, nil)
    defer s.Close()
    s.Upsert(Peer{Address: "x"})
    if !s.Remove("x") || s.Remove("x") { t.Fatalf("remove semantics") }
    if _, ok := s.Get("x"); ok { t.Fatalf("removed peer still present") }
}
