//go:build linux

package rtc

import (
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// ClockMode says which timezone the hardware clock keeps.
type ClockMode int

const (
	// ClockUTC means the hardware clock is in UTC (the sane default).
	ClockUTC ClockMode = iota
	// ClockLocal means the hardware clock is in local time (dual-boot setups).
	ClockLocal
)

const adjtimePath = "/etc/adjtime"

// ReadClockMode reads the hardware clock mode from /etc/adjtime.
// The third line is "UTC" or "LOCAL"; a missing or malformed file means UTC,
// matching util-linux's hwclock behavior.
func ReadClockMode() ClockMode {
	b, err := os.ReadFile(adjtimePath)
	if err != nil {
		return ClockUTC
	}
	return parseClockMode(string(b))
}

func parseClockMode(adjtime string) ClockMode {
	lines := strings.Split(adjtime, "\n")
	if len(lines) < 3 {
		return ClockUTC
	}
	if strings.TrimSpace(lines[2]) == "LOCAL" {
		return ClockLocal
	}
	return ClockUTC
}

// toHardware converts a wall-clock instant to the broken-down representation
// the RTC stores, honoring the clock mode.
func (m ClockMode) toHardware(t time.Time) unix.RTCTime {
	if m == ClockLocal {
		t = t.Local()
	} else {
		t = t.UTC()
	}
	return unix.RTCTime{
		Sec:  int32(t.Second()),
		Min:  int32(t.Minute()),
		Hour: int32(t.Hour()),
		Mday: int32(t.Day()),
		Mon:  int32(t.Month() - 1),
		Year: int32(t.Year() - 1900),
	}
}

// toWallClock converts an RTC timestamp back to a wall-clock instant.
func (m ClockMode) toWallClock(rt unix.RTCTime) time.Time {
	loc := time.UTC
	if m == ClockLocal {
		loc = time.Local
	}
	return time.Date(
		int(rt.Year)+1900,
		time.Month(rt.Mon+1),
		int(rt.Mday),
		int(rt.Hour),
		int(rt.Min),
		int(rt.Sec),
		0,
		loc,
	)
}
