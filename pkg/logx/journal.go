package logx

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// journalWriter is a zerolog sink that forwards log lines to systemd-journald.
//
// It decodes the JSON line zerolog hands it and re-emits the message with the
// remaining fields as uppercase journal variables, so `journalctl -o verbose`
// keeps them structured. A min-level plus a rate limiter keep noisy debug
// output from flooding the journal.
type journalWriter struct {
	minLevel zerolog.Level
	limiter  *rate.Limiter
}

func newJournalWriter(cfg JournalConfig) *journalWriter {
	if !journal.Enabled() {
		fmt.Fprintln(Stderr(), "logx: journald sink enabled but journald is not available")
		return nil
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	return &journalWriter{
		minLevel: parseLevel(cfg.MinLevel, zerolog.InfoLevel),
		limiter:  rate.NewLimiter(rate.Limit(rps), rps),
	}
}

func (w *journalWriter) Write(p []byte) (int, error) {
	// Default to info when WriteLevel isn't used.
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *journalWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if w == nil {
		return len(p), nil
	}
	if level < w.minLevel {
		return len(p), nil
	}
	if !w.limiter.Allow() {
		return len(p), nil
	}

	msg, vars := splitJournalLine(p)
	if msg == "" {
		return len(p), nil
	}
	_ = journal.Send(msg, journalPriority(level), vars)
	return len(p), nil
}

func journalPriority(level zerolog.Level) journal.Priority {
	switch {
	case level >= zerolog.ErrorLevel:
		return journal.PriErr
	case level >= zerolog.WarnLevel:
		return journal.PriWarning
	case level >= zerolog.InfoLevel:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// splitJournalLine decodes a zerolog JSON line into (message, journal vars).
func splitJournalLine(p []byte) (string, map[string]string) {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		// Not JSON; send raw (trimmed).
		return strings.TrimSpace(string(p)), nil
	}

	msg, _ := m["message"].(string)
	if msg == "" {
		msg, _ = m["msg"].(string)
	}

	vars := make(map[string]string, len(m))
	for k, v := range m {
		if k == "time" || k == "level" || k == "message" || k == "msg" {
			continue
		}
		name := journalVarName(k)
		if name == "" {
			continue
		}
		vars[name] = fmt.Sprint(v)
	}
	if len(vars) == 0 {
		vars = nil
	}
	return msg, vars
}

// journalVarName maps a field key to a valid journal variable name
// (uppercase, [A-Z0-9_], must not start with a digit or underscore).
func journalVarName(k string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(k) {
		switch {
		case r >= 'A' && r <= 'Z', unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := strings.TrimLeft(b.String(), "_0123456789")
	return s
}
