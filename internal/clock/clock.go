//go:build linux

// Package clock holds time helpers for dealing with systemd and the kernel:
// microsecond timestamps, CLOCK_MONOTONIC conversion, and system uptime.
package clock

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// FromUsec converts microseconds since the UTC Unix epoch to a time.Time.
func FromUsec(usec uint64) time.Time {
	return time.Unix(0, int64(usec)*int64(time.Microsecond)).UTC()
}

// MonotonicToRealtime converts a CLOCK_MONOTONIC timestamp (microseconds since
// boot) to wall-clock time.
//
// Same approach as systemd's dual_clock_get: read both clocks now and use the
// difference as the offset. The two reads don't happen at the same instant, but
// the skew is far below anything a wake alarm cares about. The offset is not
// cached because NTP adjustments would invalidate it.
func MonotonicToRealtime(monoUsec uint64) (time.Time, error) {
	var mono, real unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &mono); err != nil {
		return time.Time{}, fmt.Errorf("clock_gettime(CLOCK_MONOTONIC): %w", err)
	}
	if err := unix.ClockGettime(unix.CLOCK_REALTIME, &real); err != nil {
		return time.Time{}, fmt.Errorf("clock_gettime(CLOCK_REALTIME): %w", err)
	}

	target := time.Duration(monoUsec) * time.Microsecond
	offset := target - time.Duration(mono.Nano())
	return time.Unix(0, real.Nano()).Add(offset).UTC(), nil
}

// Uptime returns how long the system has been up.
func Uptime() (time.Duration, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, fmt.Errorf("sysinfo: %w", err)
	}
	return time.Duration(info.Uptime) * time.Second, nil
}

// BootTime returns the wall-clock instant the system booted, derived from
// the current time minus uptime.
func BootTime() (time.Time, error) {
	up, err := Uptime()
	if err != nil {
		return time.Time{}, err
	}
	return time.Now().Add(-up), nil
}
