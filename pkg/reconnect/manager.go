package reconnect

import (
    "context"
    "errors"
    "sync"
    "time"

    "go.uber.org/zap"
)

// Connector asks the link layer to connect to an address. A nil error means
// the request was accepted; establishment is reported via OnConnected.
type Connector interface {
    Connect(ctx context.Context, address string) error
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, address string) error

func (f ConnectorFunc) Connect(ctx context.Context, address string) error { return f(ctx, address) }

// Options tune the backoff schedule.
type Options struct {
    Initial time.Duration
    Max     time.Duration
}

// State is a snapshot of the reconnect bookkeeping.
type State struct {
    Target    string
    Attempts  int
    Connected bool
    // NextDelay is the delay of the pending retry, zero when none is scheduled.
    NextDelay time.Duration
}

// ErrNoTarget is returned by Connect without a remembered target.
var ErrNoTarget = errors.New("reconnect: no target")

// scheduleFunc runs f after d and returns a function that cancels it.
type scheduleFunc func(d time.Duration, f func()) (cancel func())

func afterFunc(d time.Duration, f func()) func() {
    t := time.AfterFunc(d, f)
    return func() { t.Stop() }
}

// Manager owns the reconnect state for one remembered target. Retries are
// unbounded; only the delay is capped.
type Manager struct {
    ctx  context.Context
    conn Connector
    opts Options
    log  *zap.Logger

    mu       sync.Mutex
    state    State
    cancel   func()
    schedule scheduleFunc
}

// New returns a Manager. ctx bounds every connect attempt it makes.
func New(ctx context.Context, conn Connector, opts Options) *Manager {
    if opts.Initial <= 0 { opts.Initial = time.Second }
    if opts.Max <= 0 { opts.Max = 30 * time.Second }
    return &Manager{ctx: ctx, conn: conn, opts: opts, schedule: afterFunc, log: zap.L().Named("reconnect")}
}

// State returns a copy of the current state.
func (m *Manager) State() State {
    m.mu.Lock(); defer m.mu.Unlock()
    return m.state
}

// SetTarget remembers address as the device to reconnect to.
func (m *Manager) SetTarget(address string) {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.state.Target != address {
        m.state.Target = address
        m.state.Attempts = 0
    }
}

// Connect remembers address and attempts a connection now. On failure a
// retry is scheduled and the error is returned.
func (m *Manager) Connect(address string) error {
    m.SetTarget(address)
    return m.attempt()
}

// Retry attempts the remembered target now unless already connected.
func (m *Manager) Retry() error {
    m.mu.Lock()
    connected, target := m.state.Connected, m.state.Target
    m.mu.Unlock()
    if connected { return nil }
    if target == "" { return ErrNoTarget }
    return m.attempt()
}

func (m *Manager) attempt() error {
    m.mu.Lock()
    target := m.state.Target
    m.mu.Unlock()
    if target == "" { return ErrNoTarget }
    if m.ctx.Err() != nil { return m.ctx.Err() }

    err := m.conn.Connect(m.ctx, target)
    if err != nil {
        m.OnConnectFailure(err)
        return err
    }
    return nil
}

// OnConnectFailure records a failed connect and schedules one retry after
// Delay(attempts). A pending retry is replaced.
func (m *Manager) OnConnectFailure(cause error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.state.Target == "" || m.ctx.Err() != nil { return }
    m.state.Attempts++
    d := Delay(m.state.Attempts, m.opts.Initial, m.opts.Max)
    m.state.NextDelay = d
    if m.cancel != nil { m.cancel() }
    m.cancel = m.schedule(d, m.fire)
    m.log.Warn("connect failed, retry scheduled",
        zap.String("target", m.state.Target), zap.Int("attempt", m.state.Attempts),
        zap.Duration("delay", d), zap.Error(cause))
}

// fire runs a scheduled retry. It is a no-op once connected.
func (m *Manager) fire() {
    m.mu.Lock()
    m.cancel = nil
    m.state.NextDelay = 0
    connected := m.state.Connected
    m.mu.Unlock()
    if connected {
        return
    }
    _ = m.attempt()
}

// OnConnected resets the attempt counter and drops any pending retry.
func (m *Manager) OnConnected() {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.state.Attempts > 0 {
        m.log.Info("connected", zap.String("target", m.state.Target), zap.Int("after_attempts", m.state.Attempts))
    }
    m.state.Connected = true
    m.state.Attempts = 0
    m.state.NextDelay = 0
    if m.cancel != nil {
        m.cancel()
        m.cancel = nil
    }
}

// OnDisconnected marks the link as down. It does not schedule a retry by
// itself; callers use Retry when the target is seen again.
func (m *Manager) OnDisconnected() {
    m.mu.Lock(); defer m.mu.Unlock()
    m.state.Connected = false
}

// Stop cancels a pending retry.
func (m *Manager) Stop() {
    m.mu.Lock(); defer m.mu.Unlock()
    if m.cancel != nil {
        m.cancel()
        m.cancel = nil
    }
}
