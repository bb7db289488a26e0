package discovery

import (
    "context"
    "encoding/csv"
    "fmt"
    "io"
    "math"
    "os"
    "strconv"
    "time"

    "go.uber.org/zap"
)

// Timeout is recorded for a trial that saw no peers in time.
const Timeout = -1

// Measurement is one discovery trial in milliseconds, or Timeout.
type Measurement struct {
    Trial int
    MS    int64
}

// MeasureOptions configure MeasureDiscovery.
type MeasureOptions struct {
    Trials   int
    Timeout  time.Duration
    Cooldown time.Duration
}

// MeasureDiscovery runs trials of start-discovery until the first non-empty
// peers event. The service is stopped between trials.
func MeasureDiscovery(ctx context.Context, svc Service, opts MeasureOptions) ([]Measurement, error) {
    if opts.Trials <= 0 { opts.Trials = 10 }
    if opts.Timeout <= 0 { opts.Timeout = 10 * time.Second }
    log := zap.L().Named("discovery")
    out := make([]Measurement, 0, opts.Trials)
    for i := 1; i <= opts.Trials; i++ {
        ms, err := measureOnce(ctx, svc, opts.Timeout)
        if err != nil { return out, err }
        out = append(out, Measurement{Trial: i, MS: ms})
        log.Info("discovery trial", zap.Int("trial", i), zap.Int64("ms", ms))
        if i == opts.Trials || opts.Cooldown <= 0 { continue }
        select {
        case <-ctx.Done():
            return out, ctx.Err()
        case <-time.After(opts.Cooldown):
        }
    }
    return out, nil
}

func measureOnce(ctx context.Context, svc Service, timeout time.Duration) (int64, error) {
    drain(svc.Events())
    start := time.Now()
    if err := svc.StartDiscovery(ctx); err != nil { return 0, fmt.Errorf("start discovery: %w", err) }
    defer func() { _ = svc.StopDiscovery() }()

    timer := time.NewTimer(timeout)
    defer timer.Stop()
    for {
        select {
        case <-ctx.Done():
            return 0, ctx.Err()
        case <-timer.C:
            return Timeout, nil
        case ev, ok := <-svc.Events():
            if !ok { return Timeout, nil }
            if ev.Kind == PeersChanged && len(ev.Peers) > 0 {
                return time.Since(start).Milliseconds(), nil
            }
        }
    }
}

func drain(ch <-chan Event) {
    for {
        select {
        case _, ok := <-ch:
            if !ok { return }
        default:
            return
        }
    }
}

// WriteCSV writes the "trial,ms" table.
func WriteCSV(w io.Writer, ms []Measurement) error {
    cw := csv.NewWriter(w)
    if err := cw.Write([]string{"trial", "ms"}); err != nil { return err }
    for _, m := range ms {
        if err := cw.Write([]string{strconv.Itoa(m.Trial), strconv.FormatInt(m.MS, 10)}); err != nil {
            return err
        }
    }
    cw.Flush()
    return cw.Error()
}

// WriteCSVFile writes the table to path.
func WriteCSVFile(path string, ms []Measurement) error {
    f, err := os.Create(path)
    if err != nil { return err }
    if err := WriteCSV(f, ms); err != nil {
        _ = f.Close()
        return err
    }
    return f.Close()
}

// Summary aggregates the successful trials. Timeouts are only counted.
type Summary struct {
    Trials   int
    Timeouts int
    Mean     float64
    StdDev   float64
    Min      int64
    Max      int64
}

func Summarize(ms []Measurement) Summary {
    s := Summary{Trials: len(ms)}
    var vals []float64
    for _, m := range ms {
        if m.MS < 0 {
            s.Timeouts++
            continue
        }
        if len(vals) == 0 || m.MS < s.Min { s.Min = m.MS }
        if m.MS > s.Max { s.Max = m.MS }
        vals = append(vals, float64(m.MS))
    }
    if len(vals) == 0 { return s }
    for _, v := range vals { s.Mean += v }
    s.Mean /= float64(len(vals))
    if len(vals) > 1 {
        var sq float64
        for _, v := range vals { sq += (v - s.Mean) * (v - s.Mean) }
        s.StdDev = math.Sqrt(sq / float64(len(vals)-1))
    }
    return s
}
