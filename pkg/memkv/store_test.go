package memkv

import (
    "sort"
    "sync"
    "sync/atomic"
    "testing"
    "time"
)

type fakeClock struct{ ns atomic.Int64 }

func newFakeClock() *fakeClock {
    c := &fakeClock{}
    c.ns.Store(time.Unix(100, 0).UnixNano())
    return c
}

func (c *fakeClock) Now() time.Time          { return time.Unix(0, c.ns.Load()) }
func (c *fakeClock) Advance(d time.Duration) { c.ns.Add(int64(d)) }

func TestSetGetCopies(t *testing.T) {
    s := New(Options{})
    defer s.Close()

    in := []byte("abc")
    if !s.Set("k1", in, 0) { t.Fatalf("set refused") }
    in[0] = 'X'
    v, ok := s.Get("k1")
    if !ok || string(v) != "abc" { t.Fatalf("Get mismatch: ok=%v v=%q", ok, v) }
    v[0] = 'Y'
    if v2, _ := s.Get("k1"); string(v2) != "abc" { t.Fatalf("store aliased caller slice: %q", v2) }
}

func TestUpdateDeleteKeys(t *testing.T) {
    s := New(Options{})
    defer s.Close()
    s.Set("peer:a", []byte("1"), 0)
    s.Set("peer:b", []byte("2"), 0)
    s.Set("other", []byte("3"), 0)

    if !s.Update("peer:a", func(old []byte) []byte { return append(old, '0') }) { t.Fatalf("update failed") }
    if v, _ := s.Get("peer:a"); string(v) != "10" { t.Fatalf("after update: %q", v) }
    if s.Update("missing", func(b []byte) []byte { return b }) { t.Fatalf("update of missing key") }

    keys := s.Keys("peer:")
    sort.Strings(keys)
    if len(keys) != 2 || keys[0] != "peer:a" || keys[1] != "peer:b" { t.Fatalf("keys = %v", keys) }

    if !s.Delete("peer:b") || s.Delete("peer:b") { t.Fatalf("delete semantics") }
    if m := s.Metrics(); m.Keys != 2 || m.Bytes != 3 { t.Fatalf("metrics = %+v", m) }
}

func TestLazyExpiry(t *testing.T) {
    clock := newFakeClock()
    s := New(Options{Now: clock.Now})
    defer s.Close()

    s.Set("k", []byte("v"), time.Second)
    if ttl, ok := s.TTL("k"); !ok || ttl != time.Second { t.Fatalf("ttl = %v ok=%v", ttl, ok) }
    clock.Advance(2 * time.Second)
    if _, ok := s.Get("k"); ok { t.Fatalf("expired key returned") }
    if s.Metrics().Expired != 1 { t.Fatalf("expired counter = %d", s.Metrics().Expired) }
}

func TestExpireRefreshes(t *testing.T) {
    clock := newFakeClock()
    s := New(Options{Now: clock.Now})
    defer s.Close()

    s.Set("k", []byte("v"), time.Second)
    clock.Advance(900 * time.Millisecond)
    if !s.Expire("k", time.Second) { t.Fatalf("expire refused live key") }
    clock.Advance(900 * time.Millisecond)
    if _, ok := s.Get("k"); !ok { t.Fatalf("refreshed key expired early") }
}

func TestExpirerCallsOnExpire(t *testing.T) {
    var mu sync.Mutex
    var gone []string
    done := make(chan struct{})
    s := New(Options{OnExpire: func(k string) {
        mu.Lock(); gone = append(gone, k); mu.Unlock()
        close(done)
    }})
    defer s.Close()

    s.Set("peer:x", []byte("v"), 20*time.Millisecond)
    select {
    case <-done:
    case <-time.After(2 * time.Second):
        t.Fatalf("expirer did not evict")
    }
    mu.Lock(); defer mu.Unlock()
    if len(gone) != 1 || gone[0] != "peer:x" { t.Fatalf("expired = %v", gone) }
}

func TestMaxBytes(t *testing.T) {
    s := New(Options{MaxBytes: 4})
    defer s.Close()
    if !s.Set("a", []byte("abc"), 0) { t.Fatalf("first set refused") }
    if s.Set("b", []byte("xy"), 0) { t.Fatalf("set beyond cap accepted") }
    if !s.Set("a", []byte("abcd"), 0) { t.Fatalf("overwrite within cap refused") }
}
