// Package queue is the durable outgoing queue: send requests that could not
// be delivered are persisted and retried when the peer link is back.
package queue

import (
    "errors"
    "fmt"
    "time"

    "github.com/google/uuid"
)

// Kind discriminates queued send requests.
type Kind string

const (
    KindMessage Kind = "message"
    KindFile    Kind = "file"
)

// SendItem is a queued request. Messages carry Text; files carry Path.
type SendItem struct {
    Kind        Kind   `json:"type" cbor:"type"`
    Text        string `json:"text,omitempty" cbor:"text,omitempty"`
    Path        string `json:"path,omitempty" cbor:"path,omitempty"`
    Destination string `json:"destination,omitempty" cbor:"destination,omitempty"`
    Port        int    `json:"port,omitempty" cbor:"port,omitempty"`
}

// NewMessage returns a message item addressed to destination:port.
func NewMessage(text, destination string, port int) SendItem {
    return SendItem{Kind: KindMessage, Text: text, Destination: destination, Port: port}
}

// NewFile returns a file item addressed to destination.
func NewFile(path, destination string) SendItem {
    return SendItem{Kind: KindFile, Path: path, Destination: destination}
}

// Validate reports structurally broken items.
func (it SendItem) Validate() error {
    switch it.Kind {
    case KindMessage:
        if it.Text == "" { return errors.New("queue: message item without text") }
    case KindFile:
        if it.Path == "" { return errors.New("queue: file item without path") }
    default:
        return fmt.Errorf("queue: unknown item type %q", it.Kind)
    }
    return nil
}

func (it SendItem) String() string {
    if it.Kind == KindFile {
        return fmt.Sprintf("file %s -> %s", it.Path, it.Destination)
    }
    return fmt.Sprintf("message (%d chars) -> %s", len(it.Text), it.Destination)
}

// Entry is one persisted record. Entries are immutable once written.
type Entry struct {
    ID   string   `json:"id" cbor:"id"`
    Item SendItem `json:"item" cbor:"item"`
    // TS is the enqueue time in Unix milliseconds.
    TS int64 `json:"ts" cbor:"ts"`
}

func newEntry(item SendItem, now time.Time) Entry {
    return Entry{ID: uuid.NewString(), Item: item, TS: now.UnixMilli()}
}

// EnqueuedAt returns TS as a time.
func (e Entry) EnqueuedAt() time.Time { return time.UnixMilli(e.TS) }

// Result is the outcome of one send attempt during Process.
type Result struct {
    Entry Entry
    OK    bool
    Err   error
}

// PersistenceError wraps a failed read or write of the queue document.
type PersistenceError struct {
    Op   string
    Path string
    Err  error
}

func (e *PersistenceError) Error() string {
    return fmt.Sprintf("queue %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
