// Command p2pdrop-send sends files and messages to a peer, queueing them when
// the peer is unreachable, and manages the outgoing queue.
package main

import (
    "context"
    "flag"
    "fmt"
    "net"
    "os"
    "os/signal"
    "strconv"
    "strings"
    "time"

    "go.uber.org/zap"

    "p2pdrop/pkg/config"
    "p2pdrop/pkg/discovery"
    "p2pdrop/pkg/node"
    "p2pdrop/pkg/observability"
    "p2pdrop/pkg/transfer"
    "p2pdrop/pkg/transports"
)

const usage = `usage: p2pdrop-send [-config file] <command> [flags]

commands:
  file  -to host[:port] <path>...   send files, queue on failure
  msg   -to host[:port] [-port n] <text>
  list                              show queued items
  flush -to host[:port]             send every queued item once
`

func main() {
    configPath := flag.String("config", "", "Path to YAML config file")
    flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
    flag.Parse()
    if flag.NArg() < 1 {
        flag.Usage()
        os.Exit(2)
    }

    cfg, err := config.Load(*configPath)
    if err != nil { fatalf("load config: %v", err) }
    logger, err := observability.SetupLogger(cfg.Log)
    if err != nil { fatalf("setup logger: %v", err) }

    ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
    code := 2
    cmd, args := flag.Arg(0), flag.Args()[1:]
    switch cmd {
    case "file", "msg", "flush":
        code = runSend(ctx, cfg, cmd, args)
    case "list":
        code = runList(cfg)
    default:
        flag.Usage()
    }
    cancel()
    _ = logger.Sync()
    os.Exit(code)
}

func runSend(ctx context.Context, cfg *config.Config, cmd string, args []string) int {
    fs := flag.NewFlagSet(cmd, flag.ExitOnError)
    to := fs.String("to", cfg.Discovery.Target, "destination host[:port]")
    port := fs.Int("port", 0, "destination port for messages")
    _ = fs.Parse(args)

    tr, err := transports.NewByKind(cfg.Transfer.Transport, transports.Options{DialTimeout: cfg.Transfer.DialTimeout()})
    if err != nil { fatalf("transport: %v", err) }
    q, err := node.OpenQueue(cfg)
    if err != nil { fatalf("open queue: %v", err) }
    defer q.Close()

    svc := node.DiscoveryFromConfig(cfg, tr)
    defer svc.Close()
    nd := node.New(ctx, svc, node.SenderFromConfig(tr, cfg.Transfer), q, node.OptionsFromConfig(cfg))
    if *to != "" {
        nd.Attach(discovery.ConnectionInfo{GroupFormed: true, GroupOwnerAddress: withPort(*to, cfg.Transfer.Port)})
    }

    switch cmd {
    case "file":
        if fs.NArg() == 0 { fatalf("file: no paths given") }
        failed := 0
        for _, p := range fs.Args() {
            d, err := nd.SendFile(ctx, p, *to, printProgress)
            if err != nil {
                fmt.Fprintf(os.Stderr, "\n%s: %v\n", p, err)
                failed++
                continue
            }
            report(p, d)
        }
        if failed > 0 { return 1 }
    case "msg":
        text := strings.Join(fs.Args(), " ")
        if text == "" { fatalf("msg: empty message") }
        d, err := nd.SendMessage(ctx, text, *to, *port)
        if err != nil {
            fmt.Fprintf(os.Stderr, "msg: %v\n", err)
            return 1
        }
        report("message", d)
    case "flush":
        if *to == "" { fatalf("flush: -to is required") }
        results, err := nd.Flush(ctx)
        for _, r := range results {
            status := "sent"
            if !r.OK { status = "kept: " + r.Err.Error() }
            fmt.Printf("%s  %s  %s\n", r.Entry.ID, r.Entry.Item, status)
        }
        if err != nil {
            fmt.Fprintf(os.Stderr, "flush: %v\n", err)
            return 1
        }
        fmt.Printf("%d item(s) left in queue\n", q.Len())
    }
    return 0
}

func runList(cfg *config.Config) int {
    q, err := node.OpenQueue(cfg)
    if err != nil { fatalf("open queue: %v", err) }
    defer q.Close()
    entries, err := q.List()
    if err != nil { fatalf("list: %v", err) }
    for _, e := range entries {
        fmt.Printf("%s  %s  %s\n", e.ID, e.EnqueuedAt().Format(time.RFC3339), e.Item)
    }
    fmt.Printf("%d item(s)\n", len(entries))
    return 0
}

func report(what string, d node.Delivery) {
    if d.Queued {
        fmt.Printf("\n%s: peer unreachable, queued as %s\n", what, d.Entry.ID)
        zap.L().Info("queued", zap.String("item", d.Entry.Item.String()), zap.String("id", d.Entry.ID))
        return
    }
    fmt.Printf("\n%s: sent %d bytes in %d chunk(s), sha256 %s\n", what, d.Result.Bytes, d.Result.Chunks, d.Result.Checksum)
}

func printProgress(p transfer.Progress) {
    eta := "?"
    if p.ETAKnown { eta = p.ETA.Round(time.Second).String() }
    fmt.Printf("\r%s %5.1f%% %d/%d bytes %.0f B/s eta %s", p.Name, p.Percent(), p.BytesSent, p.Total, p.Speed, eta)
}

// withPort adds the default port to a bare host.
func withPort(dest string, port int) string {
    if _, _, err := net.SplitHostPort(dest); err == nil { return dest }
    return net.JoinHostPort(dest, strconv.Itoa(port))
}

func fatalf(format string, a ...any) {
    fmt.Fprintf(os.Stderr, format+"\n", a...)
    os.Exit(1)
}
