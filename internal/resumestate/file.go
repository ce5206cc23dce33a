package resumestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "github.com/bnavetta/night-kitchen/pkg/logx"
)

// fileStore is the dependency-free backend: one JSON file holding the current
// record. Writes go to a temp file in the same directory, fsync, then rename
// over the committed path, so a crash mid-write leaves the previous record
// intact and readers in other processes never see a torn record.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("state_store.path is required for file driver")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Write(ctx context.Context, rec Record) error {
	_ = ctx
	if !rec.PreSuspendState.Valid() {
		return fmt.Errorf("refusing to persist invalid power state %q", rec.PreSuspendState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	// Flush to disk before promoting; rename alone doesn't guarantee the
	// temp file's contents survived a power cut.
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	s.log.Debug("resume record committed",
		logx.String("path", s.path),
		logx.Time("resumed_at", rec.ResumedAt),
		logx.String("pre_suspend_state", string(rec.PreSuspendState)),
	)
	return nil
}

func (s *fileStore) Read(ctx context.Context) (*Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		// First boot / no suspend observed yet: a valid, distinct state.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if rec.ResumedAt.IsZero() || !rec.PreSuspendState.Valid() {
		return nil, fmt.Errorf("%w: %s: missing fields", ErrCorrupt, s.path)
	}
	return &rec, nil
}
