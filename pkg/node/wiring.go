package node

import (
    "time"

    "go.uber.org/zap"

    "p2pdrop/pkg/config"
    "p2pdrop/pkg/discovery"
    "p2pdrop/pkg/identity"
    "p2pdrop/pkg/queue"
    "p2pdrop/pkg/shaper"
    "p2pdrop/pkg/transfer"
    "p2pdrop/pkg/transport"
)

// OptionsFromConfig maps configuration onto node Options.
func OptionsFromConfig(cfg *config.Config) Options {
    return Options{
        DefaultPort:      cfg.Transfer.Port,
        Target:           cfg.Discovery.Target,
        FlushInterval:    cfg.Queue.FlushInterval(),
        ReconnectInitial: cfg.Net.ReconnectInitial(),
        ReconnectMax:     cfg.Net.ReconnectMax(),
    }
}

// SenderFromConfig builds a Sender, rate limited when rate_limit_bps is set.
func SenderFromConfig(tr transport.Transport, c config.TransferConfig) *transfer.Sender {
    opts := transfer.SenderOptions{ChunkSize: c.ChunkSize, AckTimeout: c.AckTimeout()}
    if c.RateLimitBPS > 0 {
        opts.Limiter = shaper.NewTokenBucket(c.RateLimitBPS, 0)
    }
    return transfer.NewSender(tr, opts)
}

// ServerFromConfig builds the receiving server rooted at received_dir.
func ServerFromConfig(tr transport.Transport, cfg *config.Config, onReceive func(transfer.ReceiveProgress)) *transfer.Server {
    return transfer.NewServer(tr, transfer.ServerOptions{
        Root:        cfg.ResolvePath(cfg.Transfer.ReceivedDir),
        UniqueNames: cfg.Transfer.UniqueNames,
        OnReceive:   onReceive,
    })
}

// OpenQueue opens the configured queue backend under data_dir.
func OpenQueue(cfg *config.Config) (*queue.Queue, error) {
    st, err := queue.OpenStore(cfg.Queue, cfg.DataDir)
    if err != nil { return nil, err }
    return queue.New(st), nil
}

// DiscoveryFromConfig builds the LAN discovery service. tr probes peers.
// The beacon id is the persistent device id when one can be stored.
func DiscoveryFromConfig(cfg *config.Config, tr transport.Transport) *discovery.LAN {
    id, err := identity.LoadOrCreate(cfg.ResolvePath(identity.FileName))
    if err != nil {
        zap.L().Warn("device id not persisted, using a temporary one", zap.Error(err))
    }
    d := cfg.Discovery
    static := make([]discovery.Peer, 0, len(d.Peers))
    for _, p := range d.Peers {
        addr := p.Address
        if addr == "" { addr = p.Host }
        static = append(static, discovery.Peer{Address: addr, Name: p.Name, Host: p.Host, Port: p.Port})
    }
    return discovery.NewLAN(discovery.LANOptions{
        ID:               id,
        DeviceName:       cfg.DeviceName,
        TransferPort:     cfg.Transfer.Port,
        Multicast:        d.Multicast,
        Group:            d.Group,
        Port:             d.Port,
        AnnounceInterval: time.Duration(d.AnnounceIntervalMS) * time.Millisecond,
        PeerTTL:          time.Duration(d.PeerTTLMS) * time.Millisecond,
        Static:           static,
        Prober:           tr,
        ProbeTimeout:     cfg.Transfer.DialTimeout(),
    })
}
