package queue

import (
    "context"
    "sync"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"
)

// SendFunc attempts delivery of one item.
type SendFunc func(ctx context.Context, item SendItem) error

// Queue serializes all access to a Store. Every mutation is a whole
// document read-modify-write under mu, so concurrent callers never lose
// updates.
type Queue struct {
    mu      sync.Mutex
    flushMu sync.Mutex
    store   Store
    now     func() time.Time
    log     *zap.Logger
}

func New(store Store) *Queue {
    return &Queue{store: store, now: time.Now, log: zap.L().Named("queue")}
}

// Enqueue appends item and returns once the new document is persisted.
func (q *Queue) Enqueue(item SendItem) (Entry, error) {
    if err := item.Validate(); err != nil { return Entry{}, err }
    q.mu.Lock(); defer q.mu.Unlock()
    entries, err := q.load()
    if err != nil {
        q.log.Error("load failed", zap.Error(err))
        return Entry{}, err
    }
    e := newEntry(item, q.now())
    entries = append(entries, e)
    if err := q.store.Save(entries); err != nil {
        q.log.Error("enqueue not persisted", zap.String("item", item.String()), zap.Error(err))
        return Entry{}, err
    }
    q.log.Info("enqueued", zap.String("id", e.ID), zap.String("item", item.String()), zap.Int("depth", len(entries)))
    return e, nil
}

// Dequeue removes and returns the oldest item. ok is false when empty.
func (q *Queue) Dequeue() (item SendItem, ok bool, err error) {
    q.mu.Lock(); defer q.mu.Unlock()
    entries, err := q.load()
    if err != nil { return SendItem{}, false, err }
    if len(entries) == 0 {
        return SendItem{}, false, nil
    }
    if err := q.store.Save(entries[1:]); err != nil { return SendItem{}, false, err }
    return entries[0].Item, true, nil
}

// List returns a snapshot of the persisted entries in queue order.
func (q *Queue) List() ([]Entry, error) {
    q.mu.Lock(); defer q.mu.Unlock()
    return q.load()
}

// Len returns the current depth, or 0 when the document is unreadable.
func (q *Queue) Len() int {
    entries, err := q.List()
    if err != nil { return 0 }
    return len(entries)
}

// Process attempts send for every entry in queue order and then removes the
// entries that succeeded. Failed entries stay, in their relative order, with
// no retry cap. Items enqueued while Process runs are kept untouched. The
// full result list is returned, successes included. Only one Process runs
// at a time.
func (q *Queue) Process(ctx context.Context, send SendFunc) ([]Result, error) {
    q.flushMu.Lock(); defer q.flushMu.Unlock()

    snapshot, err := q.List()
    if err != nil { return nil, err }
    if len(snapshot) == 0 {
        return nil, nil
    }

    results := make([]Result, 0, len(snapshot))
    delivered := make(map[string]struct{}, len(snapshot))
    for _, e := range snapshot {
        if ctx.Err() != nil {
            results = append(results, Result{Entry: e, Err: ctx.Err()})
            continue
        }
        if err := send(ctx, e.Item); err != nil {
            q.log.Warn("send failed for queued item", zap.String("id", e.ID), zap.String("item", e.Item.String()), zap.Error(err))
            results = append(results, Result{Entry: e, Err: err})
            continue
        }
        delivered[e.ID] = struct{}{}
        results = append(results, Result{Entry: e, OK: true})
    }

    if len(delivered) > 0 {
        if err := q.remove(delivered); err != nil {
            return results, err
        }
    }
    q.log.Info("queue processed", zap.Int("attempted", len(snapshot)), zap.Int("sent", len(delivered)))
    return results, nil
}

func (q *Queue) remove(ids map[string]struct{}) error {
    q.mu.Lock(); defer q.mu.Unlock()
    current, err := q.load()
    if err != nil { return err }
    kept := current[:0]
    for _, e := range current {
        if _, gone := ids[e.ID]; !gone || e.ID == "" {
            kept = append(kept, e)
        }
    }
    if err := q.store.Save(kept); err != nil {
        q.log.Error("flush result not persisted, delivered items may be resent", zap.Error(err))
        return err
    }
    return nil
}

// load reads the document with q.mu held. Entries written without an id
// are given one and the document is saved back, so the ids Process matches
// on stay stable across reads.
func (q *Queue) load() ([]Entry, error) {
    entries, err := q.store.Load()
    if err != nil { return nil, err }
    missing := 0
    for i := range entries {
        if entries[i].ID == "" {
            entries[i].ID = uuid.NewString()
            missing++
        }
    }
    if missing == 0 {
        return entries, nil
    }
    if err := q.store.Save(entries); err != nil {
        q.log.Error("assigned ids not persisted", zap.Int("entries", missing), zap.Error(err))
        return nil, err
    }
    q.log.Info("assigned ids to legacy entries", zap.Int("entries", missing))
    return entries, nil
}

// Close releases the underlying store.
func (q *Queue) Close() error { return q.store.Close() }
