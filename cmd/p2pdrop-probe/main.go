// Command p2pdrop-probe measures how long discovery takes to see a peer and
// writes the trials as CSV.
package main

import (
    "context"
    "flag"
    "fmt"
    "os"
    "os/signal"
    "time"

    "go.uber.org/zap"

    "p2pdrop/pkg/config"
    "p2pdrop/pkg/discovery"
    "p2pdrop/pkg/node"
    "p2pdrop/pkg/observability"
    "p2pdrop/pkg/transports"
)

func main() {
    configPath := flag.String("config", "", "Path to YAML config file")
    trials := flag.Int("trials", 5, "number of discovery trials")
    timeout := flag.Duration("timeout", 10*time.Second, "per-trial timeout")
    cooldown := flag.Duration("cooldown", time.Second, "pause between trials")
    out := flag.String("out", "discovery_metrics.csv", "CSV output path, relative to data_dir")
    flag.Parse()

    cfg, err := config.Load(*configPath)
    if err != nil { fatalf("load config: %v", err) }
    logger, err := observability.SetupLogger(cfg.Log)
    if err != nil { fatalf("setup logger: %v", err) }
    defer func() { _ = logger.Sync() }()

    ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
    defer cancel()

    tr, err := transports.NewByKind(cfg.Transfer.Transport, transports.Options{DialTimeout: cfg.Transfer.DialTimeout()})
    if err != nil { fatalf("transport: %v", err) }
    svc := node.DiscoveryFromConfig(cfg, tr)
    defer svc.Close()

    ms, err := discovery.MeasureDiscovery(ctx, svc, discovery.MeasureOptions{Trials: *trials, Timeout: *timeout, Cooldown: *cooldown})
    if err != nil { zap.L().Warn("measurement interrupted", zap.Error(err), zap.Int("completed", len(ms))) }

    path := cfg.ResolvePath(*out)
    if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil { fatalf("data dir: %v", err) }
    if err := discovery.WriteCSVFile(path, ms); err != nil { fatalf("write %s: %v", path, err) }

    s := discovery.Summarize(ms)
    fmt.Printf("trials=%d timeouts=%d mean=%.1fms stddev=%.1fms min=%dms max=%dms\n", s.Trials, s.Timeouts, s.Mean, s.StdDev, s.Min, s.Max)
    fmt.Printf("saved %s\n", path)
}

func fatalf(format string, a ...any) {
    fmt.Fprintf(os.Stderr, format+"\n", a...)
    os.Exit(1)
}
