package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (append-only jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AlertRecord is one dispatch attempt, successful or not.
// Keep it compact and schema-stable.
type AlertRecord struct {
	At         time.Time `json:"at"`
	LogID      string    `json:"log_id"`
	Recipient  string    `json:"recipient,omitempty"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	EventCount int       `json:"event_count"`
}
