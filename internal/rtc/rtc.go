//go:build linux

// Package rtc programs the hardware real-time-clock wake alarm.
//
// Only one wake alarm can be outstanding system-wide; setting a new one
// replaces any prior value. Arm therefore refuses to override a pending
// alarm that would fire earlier than the requested time.
package rtc

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const DefaultDevice = "/dev/rtc0"

// Device is an open RTC character device.
type Device struct {
	path string
	f    *os.File
	mode ClockMode
}

// Open opens the RTC device at path (DefaultDevice if empty) and detects the
// hardware clock mode from /etc/adjtime.
func Open(path string) (*Device, error) {
	if path == "" {
		path = DefaultDevice
	}
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open rtc device %s: %w", path, err)
	}
	return &Device{path: f.Name(), f: f, mode: ReadClockMode()}, nil
}

func (d *Device) Close() error { return d.f.Close() }

// WakeAlarm returns the currently programmed wake alarm and whether it is
// enabled.
func (d *Device) WakeAlarm() (time.Time, bool, error) {
	alrm, err := unix.IoctlGetRTCWkAlrm(int(d.f.Fd()))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read wake alarm from %s: %w", d.path, err)
	}
	if alrm.Enabled == 0 {
		return time.Time{}, false, nil
	}
	return d.mode.toWallClock(alrm.Time), true, nil
}

// Arm programs the wake alarm for t and returns the effective alarm time.
//
// If an enabled alarm earlier than t is already pending it is left alone:
// waking early costs one extra scheduling round trip, waking late skips work.
func (d *Device) Arm(t time.Time) (time.Time, error) {
	current, enabled, err := d.WakeAlarm()
	if err != nil {
		return time.Time{}, err
	}
	if enabled && current.Before(t) {
		return current, nil
	}

	alrm := unix.RTCWkAlrm{
		Enabled: 1,
		Time:    d.mode.toHardware(t),
	}
	if err := unix.IoctlSetRTCWkAlrm(int(d.f.Fd()), &alrm); err != nil {
		return time.Time{}, fmt.Errorf("set wake alarm on %s: %w", d.path, err)
	}
	return t, nil
}

// Disarm clears any pending wake alarm.
func (d *Device) Disarm() error {
	alrm := unix.RTCWkAlrm{Enabled: 0}
	if err := unix.IoctlSetRTCWkAlrm(int(d.f.Fd()), &alrm); err != nil {
		return fmt.Errorf("clear wake alarm on %s: %w", d.path, err)
	}
	return nil
}
