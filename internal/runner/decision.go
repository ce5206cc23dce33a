package runner

import (
	"time"

	"github.com/bnavetta/night-kitchen/internal/resumestate"
)

// Decision is the power state the machine should be returned to after the
// task group finishes. It is a closed set: the restore step refuses to act on
// a value outside it rather than silently doing nothing.
type Decision int

const (
	// LeaveRunning: the machine is in ordinary use (or we can't tell, which
	// is treated the same — the safest default).
	LeaveRunning Decision = iota
	// ReturnToSuspend: the machine was woken from suspend for this schedule
	// and should go back to sleep.
	ReturnToSuspend
	// PowerOff: the machine was booted purely to run this schedule.
	PowerOff
	// RestartAndContinue: reboot and let the machine come back up.
	RestartAndContinue
)

func (d Decision) String() string {
	switch d {
	case LeaveRunning:
		return "leave-running"
	case ReturnToSuspend:
		return "return-to-suspend"
	case PowerOff:
		return "power-off"
	case RestartAndContinue:
		return "restart-and-continue"
	default:
		return "invalid"
	}
}

// Thresholds are the tunable windows for trigger and restore classification.
type Thresholds struct {
	// ResumeTolerance: a wake counts as "for this schedule" when the runner
	// started within this window of the recorded resume timestamp.
	ResumeTolerance time.Duration

	// FreshBootWindow: with no resume record, a boot younger than this is
	// assumed to exist purely to run the schedule.
	FreshBootWindow time.Duration

	// AlreadyUpAfter: past this much uptime the machine is considered in
	// ordinary use.
	AlreadyUpAfter time.Duration
}

// snapshot is everything the restore decision depends on, captured once.
type snapshot struct {
	uptimeKnown   bool
	uptime        time.Duration
	wokeForThis   bool
	record        *resumestate.Record
	otherSessions bool
}

// decide maps a snapshot to a Decision. Pure; the order of the rules is the
// contract:
//  1. A machine already up for a while is in ordinary use.
//  2. Active user sessions always win.
//  3. A wake attributed to this schedule from suspend goes back to suspend.
//  4. A fresh boot with no resume history was booted just for us.
//  5. Anything ambiguous leaves the machine running.
func decide(t Thresholds, s snapshot) Decision {
	if !s.uptimeKnown {
		return LeaveRunning
	}
	if s.uptime > t.AlreadyUpAfter {
		return LeaveRunning
	}
	if s.otherSessions {
		return LeaveRunning
	}
	if s.wokeForThis && s.record != nil && s.record.PreSuspendState == resumestate.PowerSuspended {
		return ReturnToSuspend
	}
	if s.record == nil && s.uptime < t.FreshBootWindow {
		return PowerOff
	}
	return LeaveRunning
}
