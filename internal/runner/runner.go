// Package runner implements the short-lived process invoked by a schedule's
// timer: it works out why the machine is up, activates the schedule's task
// group, and restores the machine to an appropriate power state afterward.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnavetta/night-kitchen/internal/config"
	"github.com/bnavetta/night-kitchen/internal/resumestate"
	logx "github.com/bnavetta/night-kitchen/pkg/logx"
)

// Transport is the slice of the power transport the runner consumes.
type Transport interface {
	StartUnitAndWait(ctx context.Context, unit string) error
	Suspend(ctx context.Context) error
	PowerOff(ctx context.Context) error
	Reboot(ctx context.Context) error
	HasOtherSessions(ctx context.Context) (bool, error)
}

// StateReader is the reader half of the resume state store.
type StateReader interface {
	Read(ctx context.Context) (*resumestate.Record, error)
}

// Clock abstracts wall time and system uptime so decisions are testable.
type Clock interface {
	Now() time.Time
	Uptime() (time.Duration, error)
}

type Runner struct {
	log        logx.Logger
	transport  Transport
	store      StateReader // nil means no store configured
	clock      Clock
	thresholds Thresholds
}

func New(log logx.Logger, transport Transport, store StateReader, clk Clock, t Thresholds) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{log: log, transport: transport, store: store, clock: clk, thresholds: t}
}

// Outcome reports what happened across the whole run. TaskErr and RestoreErr
// are independent: the task group failing never prevents the restore step.
type Outcome struct {
	Decision   Decision
	TaskErr    error
	RestoreErr error
}

// Run executes the full state machine for one schedule activation:
// Started → DecidingTrigger → RunningTaskGroup → DecidingRestore → Restoring.
//
// Only an unreadable-but-present (corrupt) resume record aborts the run;
// every other failure degrades toward the LeaveRunning default.
func (r *Runner) Run(ctx context.Context, sched config.ScheduleConfig) (Outcome, error) {
	started := r.clock.Now()

	snap := snapshot{}
	if up, err := r.clock.Uptime(); err != nil {
		r.log.Warn("could not determine system uptime", logx.Err(err))
	} else {
		snap.uptimeKnown = true
		snap.uptime = up
	}

	rec, err := r.readRecord(ctx)
	if err != nil {
		return Outcome{}, err
	}
	snap.record = rec
	snap.wokeForThis = r.classifyTrigger(started, rec)

	r.log.Info("activating task group",
		logx.String("schedule", sched.Name),
		logx.String("unit", sched.TaskGroup),
		logx.Bool("woke_for_this", snap.wokeForThis),
	)
	taskErr := r.transport.StartUnitAndWait(ctx, sched.TaskGroup)
	if taskErr != nil {
		// Logged and carried into the exit code, but the machine still gets
		// restored: leaving it needlessly awake is a separate failure mode
		// from the task failing.
		r.log.Error("task group failed", logx.String("unit", sched.TaskGroup), logx.Err(taskErr))
	}

	if other, err := r.transport.HasOtherSessions(ctx); err != nil {
		r.log.Warn("could not check for user sessions", logx.Err(err))
	} else {
		snap.otherSessions = other
	}

	decision := decide(r.thresholds, snap)
	r.log.Info("power decision",
		logx.String("decision", decision.String()),
		logx.Duration("uptime", snap.uptime),
		logx.Bool("other_sessions", snap.otherSessions),
	)

	restoreErr := r.restore(ctx, decision)
	if restoreErr != nil {
		// No retry: a missed transition just leaves the machine running
		// until the next natural trigger.
		r.log.Error("could not restore power state", logx.String("decision", decision.String()), logx.Err(restoreErr))
	}

	return Outcome{Decision: decision, TaskErr: taskErr, RestoreErr: restoreErr}, nil
}

// readRecord loads the resume record, treating "no store" and "no record" as
// the same valid absence. Corruption of a committed record is the one fatal
// storage error.
func (r *Runner) readRecord(ctx context.Context) (*resumestate.Record, error) {
	if r.store == nil {
		return nil, nil
	}
	rec, err := r.store.Read(ctx)
	if errors.Is(err, resumestate.ErrCorrupt) {
		return nil, err
	}
	if err != nil {
		r.log.Warn("could not read resume record", logx.Err(err))
		return nil, nil
	}
	return rec, nil
}

// classifyTrigger decides whether the machine woke specifically for this
// activation: the resume must be recent relative to our start, within the
// configured tolerance.
func (r *Runner) classifyTrigger(started time.Time, rec *resumestate.Record) bool {
	if rec == nil {
		return false
	}
	since := started.Sub(rec.ResumedAt)
	if since < 0 || since >= r.thresholds.ResumeTolerance {
		r.log.Debug("resume record too old for this activation",
			logx.Time("resumed_at", rec.ResumedAt),
			logx.Duration("since", since),
		)
		return false
	}
	return true
}

func (r *Runner) restore(ctx context.Context, d Decision) error {
	switch d {
	case LeaveRunning:
		r.log.Info("leaving machine running")
		return nil
	case ReturnToSuspend:
		return r.transport.Suspend(ctx)
	case PowerOff:
		return r.transport.PowerOff(ctx)
	case RestartAndContinue:
		return r.transport.Reboot(ctx)
	default:
		return fmt.Errorf("unhandled power decision %d", int(d))
	}
}
