// Package config provides YAML-based configuration loading for p2pdrop.
package config

import (
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"

    "github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
    // AppName optional logical name of the application instance
    AppName string `mapstructure:"app_name"`

    // DataDir is the private storage root: queue document, received files.
    DataDir string `mapstructure:"data_dir"`

    // DeviceName is announced to peers during discovery.
    DeviceName string `mapstructure:"device_name"`

    // Log holds logging configuration
    Log LogConfig `mapstructure:"log"`

    // Transfer configures the chunked transfer protocol endpoints.
    Transfer TransferConfig `mapstructure:"transfer"`

    // Queue configures the durable outgoing queue.
    Queue QueueConfig `mapstructure:"queue"`

    // Net holds reconnection tuning
    Net NetConfig `mapstructure:"net"`

    // Discovery configures the peer discovery collaborator.
    Discovery DiscoveryConfig `mapstructure:"discovery"`

    // Outbox configures the watched outgoing directory.
    Outbox OutboxConfig `mapstructure:"outbox"`
}

// LogConfig defines logger settings.
type LogConfig struct {
    // Level: debug, info, warn, error
    Level string `mapstructure:"level"`
    // Format: console or json
    Format string `mapstructure:"format"`
    // Outputs: list of outputs: stdout, stderr, or file paths
    Outputs []string `mapstructure:"outputs"`

    // Rotation controls file rotation when writing to files
    Rotation RotationConfig `mapstructure:"rotation"`
    // Development toggles development-friendly logging options
    Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
    Enable     bool   `mapstructure:"enable"`
    Filename   string `mapstructure:"filename"`
    MaxSizeMB  int    `mapstructure:"max_size_mb"`
    MaxBackups int    `mapstructure:"max_backups"`
    MaxAgeDays int    `mapstructure:"max_age_days"`
    Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
    return &Config{
        AppName:    "p2pdrop",
        DataDir:    "./data",
        DeviceName: hostnameOr("p2pdrop-device"),
        Log: LogConfig{
            Level:       "info",
            Format:      "console",
            Outputs:     []string{"stdout"},
            Development: true,
            Rotation: RotationConfig{
                Enable:     false,
                Filename:   "logs/p2pdrop.log",
                MaxSizeMB:  50,
                MaxBackups: 3,
                MaxAgeDays: 28,
                Compress:   true,
            },
        },
        Transfer:  DefaultTransfer(),
        Queue:     DefaultQueue(),
        Net:       NetConfig{ReconnectInitialMS: 1000, ReconnectMaxMS: 30000},
        Discovery: DefaultDiscovery(),
        Outbox:    OutboxConfig{Enable: false, Dir: "outbox", SettleMS: 500},
    }
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix P2PDROP and `.`/`-` are replaced with `_`.
// Example: P2PDROP_TRANSFER_PORT=9090
func Load(path string) (*Config, error) {
    cfg := Default()

    v := viper.New()
    v.SetConfigType("yaml")
    v.SetEnvPrefix("P2PDROP")
    v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
    v.AutomaticEnv()

    seedDefaults(v, cfg)

    if path == "" {
        if envPath := os.Getenv("P2PDROP_CONFIG"); envPath != "" {
            path = envPath
        }
    }

    if path != "" {
        v.SetConfigFile(path)
    } else {
        v.SetConfigName("p2pdrop")
        v.AddConfigPath(".")
        v.AddConfigPath("./configs")
        if home, err := os.UserHomeDir(); err == nil {
            v.AddConfigPath(filepath.Join(home, ".p2pdrop"))
        }
    }

    // Read config file if present; if not found, continue with defaults/env
    if err := v.ReadInConfig(); err != nil {
        var viperConfigFileNotFound viper.ConfigFileNotFoundError
        if !errors.As(err, &viperConfigFileNotFound) {
            return nil, fmt.Errorf("read config: %w", err)
        }
    }

    if err := v.Unmarshal(cfg); err != nil {
        return nil, fmt.Errorf("decode config: %w", err)
    }

    if err := cfg.validate(); err != nil {
        return nil, err
    }
    return cfg, nil
}

// seedDefaults registers every key with viper so env-only configs work.
func seedDefaults(v *viper.Viper, cfg *Config) {
    v.SetDefault("app_name", cfg.AppName)
    v.SetDefault("data_dir", cfg.DataDir)
    v.SetDefault("device_name", cfg.DeviceName)

    v.SetDefault("log.level", cfg.Log.Level)
    v.SetDefault("log.format", cfg.Log.Format)
    v.SetDefault("log.outputs", cfg.Log.Outputs)
    v.SetDefault("log.development", cfg.Log.Development)
    v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
    v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
    v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
    v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
    v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
    v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

    v.SetDefault("transfer.transport", cfg.Transfer.Transport)
    v.SetDefault("transfer.listen", cfg.Transfer.Listen)
    v.SetDefault("transfer.port", cfg.Transfer.Port)
    v.SetDefault("transfer.chunk_size", cfg.Transfer.ChunkSize)
    v.SetDefault("transfer.ack_timeout_ms", cfg.Transfer.AckTimeoutMS)
    v.SetDefault("transfer.dial_timeout_ms", cfg.Transfer.DialTimeoutMS)
    v.SetDefault("transfer.rate_limit_bps", cfg.Transfer.RateLimitBPS)
    v.SetDefault("transfer.unique_names", cfg.Transfer.UniqueNames)
    v.SetDefault("transfer.received_dir", cfg.Transfer.ReceivedDir)

    v.SetDefault("queue.backend", cfg.Queue.Backend)
    v.SetDefault("queue.path", cfg.Queue.Path)
    v.SetDefault("queue.format", cfg.Queue.Format)
    v.SetDefault("queue.flush_interval_ms", cfg.Queue.FlushIntervalMS)

    v.SetDefault("net.reconnect_initial_ms", cfg.Net.ReconnectInitialMS)
    v.SetDefault("net.reconnect_max_ms", cfg.Net.ReconnectMaxMS)

    v.SetDefault("discovery.multicast", cfg.Discovery.Multicast)
    v.SetDefault("discovery.group", cfg.Discovery.Group)
    v.SetDefault("discovery.port", cfg.Discovery.Port)
    v.SetDefault("discovery.announce_interval_ms", cfg.Discovery.AnnounceIntervalMS)
    v.SetDefault("discovery.peer_ttl_ms", cfg.Discovery.PeerTTLMS)
    v.SetDefault("discovery.peers", cfg.Discovery.Peers)
    v.SetDefault("discovery.target", cfg.Discovery.Target)

    v.SetDefault("outbox.enable", cfg.Outbox.Enable)
    v.SetDefault("outbox.dir", cfg.Outbox.Dir)
    v.SetDefault("outbox.settle_ms", cfg.Outbox.SettleMS)
}

func (c *Config) validate() error {
    lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
    switch lvl {
    case "debug", "info", "warn", "warning", "error":
        // ok
    default:
        return fmt.Errorf("invalid log.level: %q", c.Log.Level)
    }

    if c.Log.Format == "" {
        c.Log.Format = "console"
    }
    if len(c.Log.Outputs) == 0 {
        c.Log.Outputs = []string{"stdout"}
    }
    if strings.TrimSpace(c.DataDir) == "" {
        return errors.New("data_dir must not be empty")
    }
    if err := c.Transfer.validate(); err != nil {
        return err
    }
    if err := c.Queue.validate(); err != nil {
        return err
    }
    if c.Net.ReconnectInitialMS <= 0 {
        c.Net.ReconnectInitialMS = 1000
    }
    if c.Net.ReconnectMaxMS < c.Net.ReconnectInitialMS {
        return fmt.Errorf("net.reconnect_max_ms (%d) below reconnect_initial_ms (%d)", c.Net.ReconnectMaxMS, c.Net.ReconnectInitialMS)
    }
    return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
    cfg, err := Load(path)
    if err != nil {
        panic(err)
    }
    return cfg
}

// ResolvePath joins p onto DataDir unless p is already absolute.
func (c *Config) ResolvePath(p string) string {
    if p == "" || filepath.IsAbs(p) {
        return p
    }
    return filepath.Join(c.DataDir, p)
}

func hostnameOr(def string) string {
    if h, err := os.Hostname(); err == nil && h != "" {
        return h
    }
    return def
}
