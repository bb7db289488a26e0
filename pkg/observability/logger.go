// Package observability contains logging setup for p2pdrop binaries.
package observability

import (
    "os"
    "path/filepath"
    "strings"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
    "gopkg.in/natefinch/lumberjack.v2"

    "p2pdrop/pkg/config"
)

// SetupLogger builds a zap.Logger from the provided configuration, sets it as
// the global logger, and redirects the stdlib log package. The caller should
// defer logger.Sync().
func SetupLogger(c config.LogConfig) (*zap.Logger, error) {
    level := zap.NewAtomicLevelAt(parseLevel(c.Level))

    encCfg := encoderConfig(c.Development)
    var encoder zapcore.Encoder
    if strings.EqualFold(c.Format, "json") {
        encoder = zapcore.NewJSONEncoder(encCfg)
    } else {
        encoder = zapcore.NewConsoleEncoder(encCfg)
    }

    cores := make([]zapcore.Core, 0, len(c.Outputs))
    for _, out := range c.Outputs {
        cores = append(cores, zapcore.NewCore(encoder, sinkFor(out, c), level))
    }

    opts := []zap.Option{
        zap.AddCaller(),
        zap.AddStacktrace(zap.ErrorLevel),
    }
    if c.Development {
        opts = append(opts, zap.Development())
    }

    logger := zap.New(zapcore.NewTee(cores...), opts...)
    zap.ReplaceGlobals(logger)
    _, _ = zap.RedirectStdLogAt(logger, zap.InfoLevel)
    return logger, nil
}

// Component returns the global logger named after a subsystem (queue, sender, ...).
func Component(name string) *zap.Logger { return zap.L().Named(name) }

func parseLevel(s string) zapcore.Level {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "debug":
        return zap.DebugLevel
    case "warn", "warning":
        return zap.WarnLevel
    case "error":
        return zap.ErrorLevel
    default:
        return zap.InfoLevel
    }
}

// sinkFor maps an output name to a write syncer. Anything that is not
// stdout/stderr is a file path, rotated by lumberjack when enabled.
func sinkFor(out string, c config.LogConfig) zapcore.WriteSyncer {
    switch strings.ToLower(out) {
    case "stdout":
        return zapcore.AddSync(os.Stdout)
    case "stderr":
        return zapcore.AddSync(os.Stderr)
    }
    if c.Rotation.Enable {
        name := out
        if strings.TrimSpace(c.Rotation.Filename) != "" {
            name = c.Rotation.Filename
        }
        return zapcore.AddSync(&lumberjack.Logger{
            Filename:   name,
            MaxSize:    atLeast(c.Rotation.MaxSizeMB, 10),
            MaxBackups: atLeast(c.Rotation.MaxBackups, 1),
            MaxAge:     atLeast(c.Rotation.MaxAgeDays, 7),
            Compress:   c.Rotation.Compress,
        })
    }
    if dir := filepath.Dir(out); dir != "." {
        _ = os.MkdirAll(dir, 0o755)
    }
    f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
    if err != nil {
        // fallback to stderr on failure
        return zapcore.AddSync(os.Stderr)
    }
    return zapcore.AddSync(f)
}

func encoderConfig(dev bool) zapcore.EncoderConfig {
    if dev {
        cfg := zap.NewDevelopmentEncoderConfig()
        cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
        return cfg
    }
    cfg := zap.NewProductionEncoderConfig()
    cfg.EncodeTime = zapcore.ISO8601TimeEncoder
    return cfg
}

func atLeast(v, floor int) int {
    if v > floor {
        return v
    }
    return floor
}
