package config

import "time"

// NetConfig contains reconnection tuning options.
type NetConfig struct {
    ReconnectInitialMS int `mapstructure:"reconnect_initial_ms"`
    ReconnectMaxMS     int `mapstructure:"reconnect_max_ms"`
}

func (n NetConfig) ReconnectInitial() time.Duration {
    return time.Duration(n.ReconnectInitialMS) * time.Millisecond
}

func (n NetConfig) ReconnectMax() time.Duration {
    return time.Duration(n.ReconnectMaxMS) * time.Millisecond
}

// DiscoveryConfig describes how peers are found.
// Example YAML:
// discovery:
//   multicast: true
//   group: "239.255.42.43"
//   port: 9901
//   peers:
//     - address: "tablet"
//       host: "192.168.49.1"
//       port: 8080
//   target: "tablet"
type DiscoveryConfig struct {
    Multicast          bool         `mapstructure:"multicast"`
    Group              string       `mapstructure:"group"`
    Port               int          `mapstructure:"port"`
    AnnounceIntervalMS int          `mapstructure:"announce_interval_ms"`
    PeerTTLMS          int          `mapstructure:"peer_ttl_ms"`
    Peers              []PeerConfig `mapstructure:"peers"`
    // Target is the remembered device to (re)connect to on startup.
    Target string `mapstructure:"target"`
}

// PeerConfig is a statically known peer.
type PeerConfig struct {
    Address string `mapstructure:"address"`
    Name    string `mapstructure:"name"`
    Host    string `mapstructure:"host"`
    Port    int    `mapstructure:"port"`
}

func DefaultDiscovery() DiscoveryConfig {
    return DiscoveryConfig{
        Multicast:          false,
        Group:              "239.255.42.43",
        Port:               9901,
        AnnounceIntervalMS: 5000,
        PeerTTLMS:          30000,
    }
}

// OutboxConfig controls the watched outgoing directory.
type OutboxConfig struct {
    Enable   bool   `mapstructure:"enable"`
    Dir      string `mapstructure:"dir"`
    SettleMS int    `mapstructure:"settle_ms"`
}

func (o OutboxConfig) Settle() time.Duration {
    return time.Duration(o.SettleMS) * time.Millisecond
}
