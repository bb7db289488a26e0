package config

import (
    "fmt"
    "strings"
    "time"
)

// TransferConfig describes the chunked transfer endpoints.
type TransferConfig struct {
    // Transport kind: tcp (default), quic, mem
    Transport string `mapstructure:"transport"`
    // Listen address of the receiver; empty disables the server role.
    Listen string `mapstructure:"listen"`
    // Port used when a destination carries no explicit port.
    Port          int   `mapstructure:"port"`
    ChunkSize     int   `mapstructure:"chunk_size"`
    AckTimeoutMS  int   `mapstructure:"ack_timeout_ms"`
    DialTimeoutMS int   `mapstructure:"dial_timeout_ms"`
    RateLimitBPS  int64 `mapstructure:"rate_limit_bps"`
    // UniqueNames makes the receiver pick `name (n)` instead of truncating an existing file.
    UniqueNames bool   `mapstructure:"unique_names"`
    ReceivedDir string `mapstructure:"received_dir"`
}

func DefaultTransfer() TransferConfig {
    return TransferConfig{
        Transport:     "tcp",
        Listen:        ":8080",
        Port:          8080,
        ChunkSize:     64 * 1024,
        AckTimeoutMS:  20000,
        DialTimeoutMS: 10000,
        UniqueNames:   true,
        ReceivedDir:   "received",
    }
}

func (t TransferConfig) AckTimeout() time.Duration {
    return time.Duration(t.AckTimeoutMS) * time.Millisecond
}

func (t TransferConfig) DialTimeout() time.Duration {
    return time.Duration(t.DialTimeoutMS) * time.Millisecond
}

func (t *TransferConfig) validate() error {
    t.Transport = strings.ToLower(strings.TrimSpace(t.Transport))
    if t.Transport == "" {
        t.Transport = "tcp"
    }
    if t.Port <= 0 || t.Port > 65535 {
        return fmt.Errorf("invalid transfer.port: %d", t.Port)
    }
    if t.ChunkSize <= 0 {
        return fmt.Errorf("invalid transfer.chunk_size: %d", t.ChunkSize)
    }
    if t.AckTimeoutMS <= 0 {
        t.AckTimeoutMS = 20000
    }
    return nil
}

// QueueConfig selects the durable queue backend.
type QueueConfig struct {
    // Backend: file (default), sqlite, badger
    Backend string `mapstructure:"backend"`
    // Path relative to data_dir unless absolute. For badger it is a directory.
    Path string `mapstructure:"path"`
    // Format of the file backend document: json (default) or cbor
    Format          string `mapstructure:"format"`
    FlushIntervalMS int    `mapstructure:"flush_interval_ms"`
}

func DefaultQueue() QueueConfig {
    return QueueConfig{
        Backend:         "file",
        Path:            "outgoing_queue.json",
        Format:          "json",
        FlushIntervalMS: 60000,
    }
}

func (q QueueConfig) FlushInterval() time.Duration {
    return time.Duration(q.FlushIntervalMS) * time.Millisecond
}

func (q *QueueConfig) validate() error {
    q.Backend = strings.ToLower(strings.TrimSpace(q.Backend))
    q.Format = strings.ToLower(strings.TrimSpace(q.Format))
    switch q.Backend {
    case "", "file":
        q.Backend = "file"
    case "sqlite", "badger":
    default:
        return fmt.Errorf("invalid queue.backend: %q", q.Backend)
    }
    switch q.Format {
    case "", "json":
        q.Format = "json"
    case "cbor":
    default:
        return fmt.Errorf("invalid queue.format: %q", q.Format)
    }
    if strings.TrimSpace(q.Path) == "" {
        return fmt.Errorf("queue.path must not be empty")
    }
    return nil
}
