// Package identity keeps a stable device id across restarts.
package identity

import (
    "errors"
    "fmt"
    "io/fs"
    "os"
    "path/filepath"
    "strings"

    "github.com/google/uuid"
    "go.uber.org/zap"
)

// FileName is the id file inside data_dir.
const FileName = "device_id"

// LoadOrCreate returns the device id stored at path. A missing or unreadable
// id is replaced by a fresh random one, which is persisted.
func LoadOrCreate(path string) (string, error) {
    b, err := os.ReadFile(path)
    switch {
    case err == nil:
        txt := strings.TrimSpace(string(b))
        if id, perr := uuid.Parse(txt); perr == nil {
            return id.String(), nil
        }
        zap.L().Warn("invalid device id, regenerating", zap.String("path", path))
    case !errors.Is(err, fs.ErrNotExist):
        return "", fmt.Errorf("identity: read %s: %w", path, err)
    }

    id := uuid.NewString()
    if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
        return "", fmt.Errorf("identity: %w", err)
    }
    if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
        return "", fmt.Errorf("identity: write %s: %w", path, err)
    }
    zap.L().Info("generated new device id", zap.String("id", id), zap.String("path", path))
    return id, nil
}
