package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines files next to Path
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Trigger says what started a run.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerAll      Trigger = "all"
)

// RunRecord is one attempted page update.
// Keep it compact and schema-stable.
type RunRecord struct {
	At         time.Time `json:"at"`
	Target     string    `json:"target"`
	Page       string    `json:"page"`
	Trigger    Trigger   `json:"trigger"`
	OK         bool      `json:"ok"`
	RevisionID int64     `json:"revision_id,omitempty"`
	// ErrorKind is the wiki error classification (credentials_rejected, api_error, ...).
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
	TookMS    int64  `json:"took_ms"`
}
