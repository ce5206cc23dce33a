// Package powerbus adapts the host's power and service managers (logind and
// systemd over the system D-Bus) into the narrow surface the scheduler and
// runner consume. It is a typed transport, not a place for policy.
package powerbus

// InhibitWhat values for AcquireInhibitor.
const (
	InhibitSleep            = "sleep"
	InhibitShutdown         = "shutdown"
	InhibitSleepAndShutdown = "sleep:shutdown"
)

// Inhibit modes.
const (
	ModeDelay = "delay"
	ModeBlock = "block"
)
