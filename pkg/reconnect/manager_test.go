package reconnect

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"
)

func TestDelaySequence(t *testing.T) {
    want := []time.Duration{2000, 4000, 8000, 16000, 30000, 30000}
    for i, w := range want {
        got := Delay(i+1, time.Second, 30*time.Second)
        if got != w*time.Millisecond { t.Fatalf("attempt %d: delay = %v, want %v", i+1, got, w*time.Millisecond) }
    }
    if Delay(0, time.Second, 30*time.Second) != time.Second { t.Fatalf("attempt 0 should be initial") }
    if Delay(1<<20, time.Second, 30*time.Second) != 30*time.Second { t.Fatalf("large attempt not capped") }
}

// fakeClock collects scheduled retries so tests can fire them by hand.
type fakeClock struct {
    mu      sync.Mutex
    delays  []time.Duration
    pending []func()
}

func (c *fakeClock) schedule(d time.Duration, f func()) func() {
    c.mu.Lock(); defer c.mu.Unlock()
    c.delays = append(c.delays, d)
    idx := len(c.pending)
    c.pending = append(c.pending, f)
    return func() {
        c.mu.Lock(); defer c.mu.Unlock()
        c.pending[idx] = nil
    }
}

// fireLast runs the most recent scheduled retry if it is still pending.
func (c *fakeClock) fireLast() bool {
    c.mu.Lock()
    f := c.pending[len(c.pending)-1]
    c.pending[len(c.pending)-1] = nil
    c.mu.Unlock()
    if f == nil { return false }
    f()
    return true
}

type flakyConnector struct {
    mu    sync.Mutex
    fails int
    calls []string
}

func (f *flakyConnector) Connect(_ context.Context, addr string) error {
    f.mu.Lock(); defer f.mu.Unlock()
    f.calls = append(f.calls, addr)
    if f.fails > 0 {
        f.fails--
        return errors.New("group formation failed")
    }
    return nil
}

func newTestManager(conn Connector) (*Manager, *fakeClock) {
    clock := &fakeClock{}
    m := New(context.Background(), conn, Options{Initial: time.Second, Max: 30 * time.Second})
    m.schedule = clock.schedule
    return m, clock
}

func TestBackoffUntilSuccess(t *testing.T) {
    conn := &flakyConnector{fails: 6}
    m, clock := newTestManager(conn)

    if err := m.Connect("aa:bb:cc:dd:ee:ff"); err == nil { t.Fatalf("first connect should fail") }
    for i := 0; i < 5; i++ {
        if !clock.fireLast() { t.Fatalf("retry %d not pending", i+1) }
    }
    want := []time.Duration{2, 4, 8, 16, 30, 30}
    if len(clock.delays) != len(want) { t.Fatalf("delays = %v", clock.delays) }
    for i, w := range want {
        if clock.delays[i] != w*time.Second { t.Fatalf("delay %d = %v, want %v", i, clock.delays[i], w*time.Second) }
    }
    if st := m.State(); st.Attempts != 6 || st.NextDelay != 30*time.Second { t.Fatalf("state = %+v", st) }

    // Seventh attempt succeeds; establishment arrives as an event.
    clock.fireLast()
    if len(conn.calls) != 7 { t.Fatalf("connect calls = %d", len(conn.calls)) }
    m.OnConnected()
    if st := m.State(); st.Attempts != 0 || !st.Connected { t.Fatalf("state after connect = %+v", st) }
}

func TestTimerAfterConnectIsNoop(t *testing.T) {
    conn := &flakyConnector{fails: 1}
    m, clock := newTestManager(conn)
    _ = m.Connect("peer")

    // Connected through another path before the timer fires.
    clock.mu.Lock(); pending := clock.pending[0]; clock.mu.Unlock()
    m.OnConnected()
    pending()
    if len(conn.calls) != 1 { t.Fatalf("timer fired a connect while connected: %v", conn.calls) }
}

func TestConnectedResetsAndCancels(t *testing.T) {
    conn := &flakyConnector{fails: 3}
    m, clock := newTestManager(conn)
    _ = m.Connect("peer")
    clock.fireLast()
    m.OnConnected()
    if clock.fireLast() { t.Fatalf("pending retry survived OnConnected") }

    m.OnDisconnected()
    conn.fails = 1
    if err := m.Retry(); err == nil { t.Fatalf("retry should fail") }
    if got := clock.delays[len(clock.delays)-1]; got != 2*time.Second {
        t.Fatalf("delay after reset = %v, want 2s", got)
    }
}

func TestRetryWithoutTarget(t *testing.T) {
    m, _ := newTestManager(&flakyConnector{})
    if err := m.Retry(); !errors.Is(err, ErrNoTarget) { t.Fatalf("err = %v", err) }
}

func TestRealTimerFires(t *testing.T) {
    done := make(chan struct{}, 4)
    calls := 0
    conn := ConnectorFunc(func(context.Context, string) error {
        calls++
        done <- struct{}{}
        if calls == 1 { return errors.New("down") }
        return nil
    })
    m := New(context.Background(), conn, Options{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond})
    defer m.Stop()
    _ = m.Connect("peer")
    <-done
    select {
    case <-done:
    case <-time.After(2 * time.Second):
        t.Fatalf("scheduled retry never ran")
    }
}
