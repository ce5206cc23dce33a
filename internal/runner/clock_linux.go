//go:build linux

package runner

import (
	"time"

	"github.com/bnavetta/night-kitchen/internal/clock"
)

// SystemClock reads wall time and uptime from the kernel.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Uptime() (time.Duration, error) { return clock.Uptime() }
