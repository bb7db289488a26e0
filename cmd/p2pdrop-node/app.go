package main

import (
    "context"
    "errors"
    "os"
    "os/signal"
    "syscall"

    "go.uber.org/zap"

    "p2pdrop/pkg/config"
    "p2pdrop/pkg/node"
    "p2pdrop/pkg/observability"
    "p2pdrop/pkg/outbox"
    "p2pdrop/pkg/transfer"
    "p2pdrop/pkg/transports"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
    cfg, err := config.Load(opts.ConfigPath)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
        return 1
    }
    if opts.Target != "" { cfg.Discovery.Target = opts.Target }

    logger, err := observability.SetupLogger(cfg.Log)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
        return 1
    }
    defer func() { _ = logger.Sync() }()

    zap.L().Info("p2pdrop-node started", zap.String("app", cfg.AppName), zap.String("device", cfg.DeviceName))
    zap.L().Info("effective configuration", zap.Any("config", cfg))

    ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer cancel()

    tr, err := transports.NewByKind(cfg.Transfer.Transport, transports.Options{DialTimeout: cfg.Transfer.DialTimeout()})
    if err != nil {
        zap.L().Error("failed to create transport", zap.Error(err))
        return 1
    }

    q, err := node.OpenQueue(cfg)
    if err != nil {
        zap.L().Error("failed to open queue", zap.Error(err))
        return 1
    }
    defer q.Close()
    zap.L().Info("outgoing queue ready", zap.String("backend", cfg.Queue.Backend), zap.Int("depth", q.Len()))

    svc := node.DiscoveryFromConfig(cfg, tr)
    defer svc.Close()
    nd := node.New(ctx, svc, node.SenderFromConfig(tr, cfg.Transfer), q, node.OptionsFromConfig(cfg))

    errc := make(chan error, 2)
    if cfg.Transfer.Listen != "" {
        srv := node.ServerFromConfig(tr, cfg, logReceive)
        go func() { errc <- srv.Serve(ctx, cfg.Transfer.Listen) }()
    }

    if cfg.Outbox.Enable {
        w, err := outbox.New(cfg.ResolvePath(cfg.Outbox.Dir), cfg.Outbox.Settle(), func(ctx context.Context, path string) error {
            d, err := nd.SendFile(ctx, path, "", nil)
            if err == nil && d.Queued { zap.L().Info("outbox file queued", zap.String("path", path)) }
            return err
        })
        if err != nil {
            zap.L().Error("failed to init outbox", zap.Error(err))
            return 1
        }
        go func() { errc <- w.Run(ctx) }()
    }

    if opts.CreateGroup {
        if err := svc.CreateGroup(ctx); err != nil { zap.L().Warn("create group failed", zap.Error(err)) }
    }

    nodeDone := make(chan error, 1)
    go func() { nodeDone <- nd.Run(ctx) }()
    zap.L().Info("node is running; press Ctrl+C to exit")

    code := 0
    select {
    case <-ctx.Done():
    case err := <-nodeDone:
        nodeDone <- err
        if err != nil {
            zap.L().Error("node stopped", zap.Error(err))
            code = 1
        }
    case err := <-errc:
        if err != nil && !errors.Is(err, context.Canceled) {
            zap.L().Error("component stopped", zap.Error(err))
            code = 1
        }
    }
    cancel()
    <-nodeDone
    zap.L().Info("shutting down", zap.Int("queued", q.Len()))
    return code
}

func logReceive(p transfer.ReceiveProgress) {
    if !p.Done { return }
    if p.Complete {
        zap.L().Info("received", zap.String("name", p.Name), zap.String("path", p.Path), zap.Uint64("bytes", p.BytesReceived), zap.String("sha256", p.Checksum))
        return
    }
    zap.L().Warn("receive failed verification", zap.String("name", p.Name), zap.String("local_sha256", p.Checksum))
}
