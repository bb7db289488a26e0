// Package memkv is a sharded in-memory key/value store with per-key TTL.
// Expired keys are removed lazily on access and eagerly by a background
// expirer, which reports each removal through Options.OnExpire.
package memkv

import (
    "container/heap"
    "strings"
    "sync"
    "sync/atomic"
    "time"
)

type Options struct {
    Shards   int    // number of shards (default 32)
    MaxBytes uint64 // cap on the total size of values, 0 = unlimited
    // OnExpire is called from the expirer goroutine for every key it evicts.
    OnExpire func(key string)
    // Now overrides the clock, mostly for tests.
    Now func() time.Time
}

func (o Options) withDefaults() Options {
    if o.Shards <= 0 {
        o.Shards = 32
    }
    if o.Now == nil {
        o.Now = time.Now
    }
    return o
}

type Store struct {
    opts    Options
    shards  []shard
    expq    *expQueue
    closeCh chan struct{}
    once    sync.Once
    wg      sync.WaitGroup
    nowFn   func() time.Time

    mKeys    atomic.Uint64
    mBytes   atomic.Uint64
    mSets    atomic.Uint64
    mHits    atomic.Uint64
    mMisses  atomic.Uint64
    mDels    atomic.Uint64
    mExpired atomic.Uint64
}

type shard struct {
    mu sync.RWMutex
    m  map[string]*entry
}

type entry struct {
    val      []byte
    expireAt int64 // unix nano; 0 = never
}

func (e *entry) expired(now int64) bool { return e.expireAt != 0 && e.expireAt <= now }

func New(opts Options) *Store {
    opts = opts.withDefaults()
    s := &Store{
        opts:    opts,
        shards:  make([]shard, opts.Shards),
        expq:    &expQueue{},
        closeCh: make(chan struct{}),
        nowFn:   opts.Now,
    }
    s.expq.wake = make(chan struct{}, 1)
    for i := range s.shards {
        s.shards[i].m = make(map[string]*entry)
    }
    s.wg.Add(1)
    go s.expirer()
    return s
}

// Close stops the expirer. The store stays readable.
func (s *Store) Close() {
    s.once.Do(func() { close(s.closeCh) })
    s.wg.Wait()
}

func (s *Store) shardFor(key string) *shard {
    // FNV-1a 64
    var h uint64 = 1469598103934665603
    for i := 0; i < len(key); i++ {
        h ^= uint64(key[i])
        h *= 1099511628211
    }
    return &s.shards[int(h%uint64(len(s.shards)))]
}

// reserve accounts a positive size delta, refusing it past MaxBytes.
func (s *Store) reserve(delta uint64) bool {
    if s.opts.MaxBytes == 0 {
        s.mBytes.Add(delta)
        return true
    }
    for {
        cur := s.mBytes.Load()
        if cur+delta > s.opts.MaxBytes {
            return false
        }
        if s.mBytes.CompareAndSwap(cur, cur+delta) {
            return true
        }
    }
}

func (s *Store) release(n int) {
    for {
        cur := s.mBytes.Load()
        next := uint64(0)
        if uint64(n) < cur {
            next = cur - uint64(n)
        }
        if s.mBytes.CompareAndSwap(cur, next) {
            return
        }
    }
}

// removeLocked deletes key from a locked shard and fixes the counters.
func (s *Store) removeLocked(sh *shard, key string, e *entry) {
    delete(sh.m, key)
    s.mKeys.Add(^uint64(0))
    s.release(len(e.val))
}

// Set stores a copy of val. ttl <= 0 means no expiry. It returns false when
// the value would exceed MaxBytes.
func (s *Store) Set(key string, val []byte, ttl time.Duration) bool {
    expAt := int64(0)
    if ttl > 0 {
        expAt = s.nowFn().Add(ttl).UnixNano()
    }
    v := append([]byte(nil), val...)

    sh := s.shardFor(key)
    sh.mu.Lock()
    defer sh.mu.Unlock()
    prev, existed := sh.m[key]
    delta := len(v)
    if existed {
        delta -= len(prev.val)
    }
    if delta > 0 && !s.reserve(uint64(delta)) {
        return false
    }
    if delta < 0 {
        s.release(-delta)
    }
    sh.m[key] = &entry{val: v, expireAt: expAt}
    if !existed {
        s.mKeys.Add(1)
    }
    s.mSets.Add(1)
    if expAt != 0 {
        s.enqueueExpire(key, expAt)
    }
    return true
}

// Get returns a copy of the value.
func (s *Store) Get(key string) ([]byte, bool) {
    now := s.nowFn().UnixNano()
    sh := s.shardFor(key)
    sh.mu.RLock()
    e, ok := sh.m[key]
    if ok && !e.expired(now) {
        out := append([]byte(nil), e.val...)
        sh.mu.RUnlock()
        s.mHits.Add(1)
        return out, true
    }
    sh.mu.RUnlock()
    if ok {
        s.evict(key)
    }
    s.mMisses.Add(1)
    return nil, false
}

// Update replaces the value of a live key with fn(old). The TTL is kept.
func (s *Store) Update(key string, fn func(old []byte) []byte) bool {
    now := s.nowFn().UnixNano()
    sh := s.shardFor(key)
    sh.mu.Lock()
    defer sh.mu.Unlock()
    e, ok := sh.m[key]
    if !ok {
        return false
    }
    if e.expired(now) {
        s.removeLocked(sh, key, e)
        s.mExpired.Add(1)
        return false
    }
    nv := append([]byte(nil), fn(e.val)...)
    delta := len(nv) - len(e.val)
    if delta > 0 && !s.reserve(uint64(delta)) {
        return false
    }
    if delta < 0 {
        s.release(-delta)
    }
    e.val = nv
    return true
}

func (s *Store) Delete(key string) bool {
    sh := s.shardFor(key)
    sh.mu.Lock()
    defer sh.mu.Unlock()
    e, ok := sh.m[key]
    if ok {
        s.removeLocked(sh, key, e)
        s.mDels.Add(1)
    }
    return ok
}

// Expire sets a new TTL on a live key. ttl <= 0 deletes it.
func (s *Store) Expire(key string, ttl time.Duration) bool {
    if ttl <= 0 {
        return s.Delete(key)
    }
    now := s.nowFn()
    sh := s.shardFor(key)
    sh.mu.Lock()
    defer sh.mu.Unlock()
    e, ok := sh.m[key]
    if !ok {
        return false
    }
    if e.expired(now.UnixNano()) {
        s.removeLocked(sh, key, e)
        s.mExpired.Add(1)
        return false
    }
    e.expireAt = now.Add(ttl).UnixNano()
    s.enqueueExpire(key, e.expireAt)
    return true
}

// TTL returns the remaining lifetime. A key without expiry reports 0, true.
func (s *Store) TTL(key string) (time.Duration, bool) {
    now := s.nowFn().UnixNano()
    sh := s.shardFor(key)
    sh.mu.RLock()
    e, ok := sh.m[key]
    if !ok {
        sh.mu.RUnlock()
        return 0, false
    }
    exp := e.expireAt
    sh.mu.RUnlock()
    if exp == 0 {
        return 0, true
    }
    if exp <= now {
        s.evict(key)
        return 0, false
    }
    return time.Duration(exp - now), true
}

// Keys returns the live keys with the given prefix, in no particular order.
func (s *Store) Keys(prefix string) []string {
    now := s.nowFn().UnixNano()
    var out []string
    for i := range s.shards {
        sh := &s.shards[i]
        sh.mu.RLock()
        for k, e := range sh.m {
            if !e.expired(now) && strings.HasPrefix(k, prefix) {
                out = append(out, k)
            }
        }
        sh.mu.RUnlock()
    }
    return out
}

// evict removes key if it is still expired and reports whether it did.
func (s *Store) evict(key string) bool {
    sh := s.shardFor(key)
    sh.mu.Lock()
    defer sh.mu.Unlock()
    e, ok := sh.m[key]
    if !ok || !e.expired(s.nowFn().UnixNano()) {
        return false
    }
    s.removeLocked(sh, key, e)
    s.mExpired.Add(1)
    return true
}

// Stats is a point-in-time snapshot of the store counters.
type Stats struct {
    Keys    uint64
    Bytes   uint64
    Sets    uint64
    Hits    uint64
    Misses  uint64
    Dels    uint64
    Expired uint64
}

func (s *Store) Metrics() Stats {
    return Stats{
        Keys:    s.mKeys.Load(),
        Bytes:   s.mBytes.Load(),
        Sets:    s.mSets.Load(),
        Hits:    s.mHits.Load(),
        Misses:  s.mMisses.Load(),
        Dels:    s.mDels.Load(),
        Expired: s.mExpired.Load(),
    }
}

type expItem struct {
    when int64
    key  string
}

// expQueue is a min-heap of deadlines guarded by its own mutex.
type expQueue struct {
    sync.Mutex
    items []expItem
    wake  chan struct{}
}

func (q *expQueue) Len() int           { return len(q.items) }
func (q *expQueue) Less(i, j int) bool { return q.items[i].when < q.items[j].when }
func (q *expQueue) Swap(i, j int)      { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *expQueue) Push(x any)         { q.items = append(q.items, x.(expItem)) }
func (q *expQueue) Pop() any {
    n := len(q.items)
    it := q.items[n-1]
    q.items = q.items[:n-1]
    return it
}

func (s *Store) enqueueExpire(key string, when int64) {
    s.expq.Lock()
    heap.Push(s.expq, expItem{when: when, key: key})
    s.expq.Unlock()
    select {
    case s.expq.wake <- struct{}{}:
    default:
    }
}

func (s *Store) expirer() {
    defer s.wg.Done()
    timer := time.NewTimer(time.Hour)
    defer timer.Stop()
    for {
        s.expq.Lock()
        wait := time.Hour
        var due []string
        now := s.nowFn().UnixNano()
        for s.expq.Len() > 0 {
            head := s.expq.items[0]
            if head.when > now {
                wait = time.Duration(head.when - now)
                break
            }
            heap.Pop(s.expq)
            due = append(due, head.key)
        }
        s.expq.Unlock()

        for _, key := range due {
            if s.evict(key) && s.opts.OnExpire != nil {
                s.opts.OnExpire(key)
            }
        }

        if !timer.Stop() {
            select {
            case <-timer.C:
            default:
            }
        }
        timer.Reset(wait)
        select {
        case <-s.closeCh:
            return
        case <-s.expq.wake:
        case <-timer.C:
        }
    }
}
