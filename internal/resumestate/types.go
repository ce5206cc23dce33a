package resumestate

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("state store disabled")

// ErrCorrupt marks a committed record that can no longer be decoded. This is
// the one storage failure callers treat as fatal: everything else degrades to
// "no record".
var ErrCorrupt = errors.New("resume record corrupt")

// PowerState is the state the machine was in before the last suspend was
// initiated.
type PowerState string

const (
	PowerRunning   PowerState = "running"
	PowerSuspended PowerState = "suspended"
)

// Valid reports whether s is one of the enumerated states.
func (s PowerState) Valid() bool {
	return s == PowerRunning || s == PowerSuspended
}

// Record is the persisted resume fact: "the machine last resumed at
// ResumedAt, having been in PreSuspendState beforehand."
type Record struct {
	ResumedAt       time.Time  `json:"resumed_at"`
	PreSuspendState PowerState `json:"pre_suspend_state"`
}

// Config configures the store.
//
// Driver values:
//   - "file": dependency-free file backend (temp file + atomic rename)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", the store is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
