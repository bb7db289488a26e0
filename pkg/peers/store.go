// Package peers tracks discovered devices. Entries live in a memkv store
// and disappear when not seen again within the TTL.
package peers

import (
    "encoding/json"
    "net"
    "sort"
    "strconv"
    "strings"
    "sync"
    "time"

    "go.uber.org/zap"

    "p2pdrop/pkg/memkv"
)

// Peer is one discovered device.
type Peer struct {
    // Address identifies the device on the link (for Wi-Fi Direct, its MAC).
    Address string `json:"address"`
    Name    string `json:"name,omitempty"`
    // Host and Port are where the device's transfer server listens.
    Host string `json:"host,omitempty"`
    Port int    `json:"port,omitempty"`
    // GroupOwner is set when the device announced itself as group owner.
    GroupOwner bool  `json:"group_owner,omitempty"`
    Static     bool  `json:"static,omitempty"`
    LastSeen   int64 `json:"last_seen_unix_ms"`
}

// Endpoint returns host:port, or "" when the host is unknown.
func (p Peer) Endpoint() string {
    if p.Host == "" { return "" }
    return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func keyPeer(address string) string { return "peer:" + address }

// Store holds discovered peers. onChange is called after every membership
// change, including TTL expiry.
type Store struct {
    kv       *memkv.Store
    ttl      time.Duration
    now      func() time.Time
    mu       sync.Mutex
    onChange func()
}

// NewStore returns a Store whose dynamic entries expire after ttl.
func NewStore(ttl time.Duration, onChange func()) *Store {
    s := &Store{ttl: ttl, now: time.Now, onChange: onChange}
    s.kv = memkv.New(memkv.Options{OnExpire: func(key string) {
        zap.L().Named("peers").Debug("peer expired", zap.String("peer", strings.TrimPrefix(key, "peer:")))
        s.changed()
    }})
    return s
}

// Close stops the expirer.
func (s *Store) Close() { s.kv.Close() }

func (s *Store) changed() {
    s.mu.Lock(); fn := s.onChange; s.mu.Unlock()
    if fn != nil { fn() }
}

// SetOnChange replaces the change hook.
func (s *Store) SetOnChange(fn func()) {
    s.mu.Lock(); s.onChange = fn; s.mu.Unlock()
}

// Upsert records p as seen now. Static peers never expire. It reports
// whether the visible peer set changed (new peer or new endpoint).
func (s *Store) Upsert(p Peer) bool {
    if p.Address == "" { return false }
    prev, existed := s.Get(p.Address)
    p.LastSeen = s.now().UnixMilli()
    if existed && prev.Static { p.Static = true }
    ttl := s.ttl
    if p.Static { ttl = 0 }
    b, _ := json.Marshal(p)
    s.kv.Set(keyPeer(p.Address), b, ttl)

    changed := !existed || prev.Endpoint() != p.Endpoint() || prev.Name != p.Name || prev.GroupOwner != p.GroupOwner
    if changed {
        zap.L().Named("peers").Debug("peer upsert", zap.String("peer", p.Address), zap.String("endpoint", p.Endpoint()))
        s.changed()
    }
    return changed
}

// Get returns the peer with address.
func (s *Store) Get(address string) (Peer, bool) {
    b, ok := s.kv.Get(keyPeer(address))
    if !ok { return Peer{}, false }
    var p Peer
    if err := json.Unmarshal(b, &p); err != nil { return Peer{}, false }
    return p, true
}

// Remove forgets a peer, for example after a bye announcement.
func (s *Store) Remove(address string) bool {
    if !s.kv.Delete(keyPeer(address)) { return false }
    s.changed()
    return true
}

// List returns live peers sorted by name then address.
func (s *Store) List() []Peer {
    keys := s.kv.Keys("peer:")
    out := make([]Peer, 0, len(keys))
    for _, k := range keys {
        if p, ok := s.Get(strings.TrimPrefix(k, "peer:")); ok {
            out = append(out, p)
        }
    }
    sort.Slice(out, func(i, j int) bool {
        if out[i].Name != out[j].Name { return out[i].Name < out[j].Name }
        return out[i].Address < out[j].Address
    })
    return out
}

// Resolve maps a peer address, a name or a literal host[:port] to a dialable
// endpoint. defaultPort is used when no port is known.
func (s *Store) Resolve(target string, defaultPort int) string {
    if p, ok := s.Get(target); ok && p.Host != "" {
        if p.Port == 0 { p.Port = defaultPort }
        return p.Endpoint()
    }
    for _, p := range s.List() {
        if p.Name != "" && p.Name == target && p.Host != "" {
            if p.Port == 0 { p.Port = defaultPort }
            return p.Endpoint()
        }
    }
    if _, _, err := net.SplitHostPort(target); err == nil {
        return target
    }
    return net.JoinHostPort(target, strconv.Itoa(defaultPort))
}
