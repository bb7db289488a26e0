package queue

import (
    "database/sql"
    "encoding/json"
    "fmt"
    "os"
    "path/filepath"

    _ "modernc.org/sqlite"
)

// SQLiteStore keeps one row per entry; Save swaps all rows in a single
// transaction.
type SQLiteStore struct {
    db   *sql.DB
    path string
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
    if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
        return nil, &PersistenceError{Op: "open", Path: path, Err: err}
    }
    db, err := sql.Open("sqlite", path)
    if err != nil { return nil, fmt.Errorf("open db: %w", err) }
    db.SetMaxOpenConns(1)
    s := &SQLiteStore{db: db, path: path}
    if err := s.initSchema(); err != nil {
        db.Close()
        return nil, fmt.Errorf("init schema: %w", err)
    }
    return s, nil
}

func (s *SQLiteStore) initSchema() error {
    schema := `
    CREATE TABLE IF NOT EXISTS outgoing_queue (
        pos INTEGER PRIMARY KEY,
        id TEXT NOT NULL,
        ts INTEGER NOT NULL,
        item TEXT NOT NULL
    );
    `
    _, err := s.db.Exec(schema)
    return err
}

func (s *SQLiteStore) Load() ([]Entry, error) {
    rows, err := s.db.Query(`SELECT id, ts, item FROM outgoing_queue ORDER BY pos`)
    if err != nil { return nil, &PersistenceError{Op: "load", Path: s.path, Err: err} }
    defer rows.Close()
    var out []Entry
    for rows.Next() {
        var e Entry
        var item string
        if err := rows.Scan(&e.ID, &e.TS, &item); err != nil {
            return nil, &PersistenceError{Op: "load", Path: s.path, Err: err}
        }
        if err := json.Unmarshal([]byte(item), &e.Item); err != nil {
            return nil, &PersistenceError{Op: "decode", Path: s.path, Err: err}
        }
        out = append(out, e)
    }
    if err := rows.Err(); err != nil { return nil, &PersistenceError{Op: "load", Path: s.path, Err: err} }
    return out, nil
}

func (s *SQLiteStore) Save(entries []Entry) error {
    tx, err := s.db.Begin()
    if err != nil { return &PersistenceError{Op: "save", Path: s.path, Err: err} }
    defer tx.Rollback()
    if _, err := tx.Exec(`DELETE FROM outgoing_queue`); err != nil {
        return &PersistenceError{Op: "save", Path: s.path, Err: err}
    }
    stmt, err := tx.Prepare(`INSERT INTO outgoing_queue (pos, id, ts, item) VALUES (?, ?, ?, ?)`)
    if err != nil { return &PersistenceError{Op: "save", Path: s.path, Err: err} }
    defer stmt.Close()
    for i, e := range entries {
        item, err := json.Marshal(e.Item)
        if err != nil { return &PersistenceError{Op: "encode", Path: s.path, Err: err} }
        if _, err := stmt.Exec(i, e.ID, e.TS, string(item)); err != nil {
            return &PersistenceError{Op: "save", Path: s.path, Err: err}
        }
    }
    if err := tx.Commit(); err != nil { return &PersistenceError{Op: "save", Path: s.path, Err: err} }
    return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
