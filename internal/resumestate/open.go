package resumestate

import (
	"context"
	"errors"
	"strings"

	logx "github.com/bnavetta/night-kitchen/pkg/logx"
)

// Store is the single-record persistence API.
//
// Write replaces the whole record; Read returns the most recently completed
// write, or nil if none has ever occurred.
type Store interface {
	Write(ctx context.Context, rec Record) error
	Read(ctx context.Context) (*Record, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if the store is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown state store driver: " + driver)
	}
}
