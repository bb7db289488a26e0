// Package shaper limits outbound transfer bandwidth.
package shaper

import (
    "context"
    "sync"
    "time"
)

// TokenBucket is a simple token bucket measured in bytes.
type TokenBucket struct {
    mu       sync.Mutex
    capacity int64
    tokens   int64
    rate     int64 // tokens per second
    last     time.Time
    now      func() time.Time
}

// NewTokenBucket returns a full bucket refilled at ratePerSec. A capacity
// of zero or less uses one second worth of tokens.
func NewTokenBucket(ratePerSec, capacity int64) *TokenBucket {
    if capacity <= 0 { capacity = ratePerSec }
    return &TokenBucket{capacity: capacity, tokens: capacity, rate: ratePerSec, now: time.Now}
}

// Allow tries to consume n tokens; if not enough, returns duration to wait.
func (b *TokenBucket) Allow(n int64) (ok bool, wait time.Duration) {
    b.mu.Lock(); defer b.mu.Unlock()
    now := b.now()
    if b.last.IsZero() { b.last = now }
    dt := now.Sub(b.last)
    if dt > 0 {
        add := (b.rate * dt.Nanoseconds()) / int64(time.Second)
        if add > 0 {
            b.tokens += add
            if b.tokens > b.capacity { b.tokens = b.capacity }
            b.last = now
        }
    }
    if b.tokens >= n {
        b.tokens -= n
        return true, 0
    }
    need := n - b.tokens
    nanos := (need * int64(time.Second)) / b.rate
    if nanos <= 0 { nanos = int64(time.Millisecond) }
    return false, time.Duration(nanos)
}

// Wait blocks until n tokens were consumed or ctx is done. Requests larger
// than the bucket are taken in capacity-sized slices.
func (b *TokenBucket) Wait(ctx context.Context, n int) error {
    left := int64(n)
    for left > 0 {
        take := left
        if take > b.capacity { take = b.capacity }
        ok, wait := b.Allow(take)
        if ok {
            left -= take
            continue
        }
        t := time.NewTimer(wait)
        select {
        case <-ctx.Done():
            t.Stop()
            return ctx.Err()
        case <-t.C:
        }
    }
    return nil
}
