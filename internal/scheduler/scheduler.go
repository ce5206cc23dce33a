// Package scheduler implements the long-running daemon that guarantees a
// hardware wake alarm is armed before the machine suspends or powers off,
// and records resume events for the runner.
package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/bnavetta/night-kitchen/internal/config"
	"github.com/bnavetta/night-kitchen/internal/eventbus"
	"github.com/bnavetta/night-kitchen/internal/powerbus"
	"github.com/bnavetta/night-kitchen/internal/resumestate"
	logx "github.com/bnavetta/night-kitchen/pkg/logx"
)

// Transport is the slice of the power transport the scheduler consumes.
type Transport interface {
	AcquireInhibitor(ctx context.Context, what, who, why, mode string) (io.Closer, error)
	NextElapse(ctx context.Context, timerUnit, fallbackCron string) (time.Time, error)
}

// AlarmClock programs the hardware wake alarm. Arm returns the effective
// alarm time, which may be an earlier already-pending alarm.
type AlarmClock interface {
	Arm(t time.Time) (time.Time, error)
}

// StateWriter is the writer half of the resume state store.
type StateWriter interface {
	Write(ctx context.Context, rec resumestate.Record) error
}

type Params struct {
	Log       logx.Logger
	Bus       eventbus.Bus
	Transport Transport
	Alarm     AlarmClock
	Store     StateWriter // nil disables resume records
	Schedules []config.ScheduleConfig

	// Who/Why identify this daemon to logind when taking inhibitor locks.
	Who string
	Why string
}

type Scheduler struct {
	log       logx.Logger
	bus       eventbus.Bus
	transport Transport
	alarm     AlarmClock
	store     StateWriter
	who, why  string

	mu        sync.Mutex
	schedules []config.ScheduleConfig

	// Touched only by the event loop goroutine: the handler is serialized by
	// design, so interleaving alarm programming with lock release cannot
	// happen.
	inhibitor     io.Closer
	lastRequested resumestate.PowerState
}

func New(p Params) *Scheduler {
	log := p.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	who := p.Who
	if who == "" {
		who = config.DefaultInhibitorWho
	}
	why := p.Why
	if why == "" {
		why = config.DefaultInhibitorWhy
	}
	return &Scheduler{
		log:       log,
		bus:       p.Bus,
		transport: p.Transport,
		alarm:     p.Alarm,
		store:     p.Store,
		who:       who,
		why:       why,
		schedules: append([]config.ScheduleConfig(nil), p.Schedules...),
		// The only way to resume is from suspend, so this is the safe
		// default until we observe a transition ourselves.
		lastRequested: resumestate.PowerSuspended,
	}
}

// SetSchedules replaces the schedule set. Safe to call while Run is active;
// the next notification uses the new set.
func (s *Scheduler) SetSchedules(schedules []config.ScheduleConfig) {
	s.mu.Lock()
	s.schedules = append([]config.ScheduleConfig(nil), schedules...)
	s.mu.Unlock()
}

func (s *Scheduler) snapshotSchedules() []config.ScheduleConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedules
}

// Run consumes power events until ctx is canceled. Events are handled one at
// a time; a second notification waits until the previous handler completes.
func (s *Scheduler) Run(ctx context.Context) error {
	events, unsub := s.bus.Subscribe(16)
	defer unsub()

	// Standing delay lock: logind only waits for locks that were held before
	// PrepareForSleep/PrepareForShutdown fired, so the lock must be taken
	// now, not when the signal arrives.
	s.takeInhibitor(ctx)
	defer s.dropInhibitor()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return errors.New("power event stream closed")
			}
			s.handle(ctx, ev)
		}
	}
}

func (s *Scheduler) handle(ctx context.Context, ev eventbus.Event) {
	s.log.Debug("power event", logx.String("kind", ev.Kind.String()))
	switch ev.Kind {
	case eventbus.PreSleep, eventbus.PreShutdown:
		s.onTransition(ctx, ev.Kind)
	case eventbus.PostSleep:
		s.onResumed(ctx)
	}
}

// onTransition arms the wake alarm for the next schedule activation while the
// delay lock holds the transition back, then releases the lock so the
// transition can proceed. The lock never outlives this function, success or
// failure: a stuck inhibitor is worse than a missed wake.
func (s *Scheduler) onTransition(ctx context.Context, kind eventbus.Kind) {
	s.takeInhibitor(ctx)
	defer s.dropInhibitor()

	if kind == eventbus.PreSleep {
		s.lastRequested = resumestate.PowerSuspended
	}

	next, ok := s.nextActivation(ctx)
	if !ok {
		s.log.Warn("no schedule activation time available; not arming wake alarm")
		return
	}
	s.log.Info("next schedule activation", logx.Time("at", next))

	if s.alarm == nil {
		s.log.Warn("no wake alarm device available; not arming", logx.Time("at", next))
		return
	}

	armed, err := s.alarm.Arm(next)
	if err != nil {
		s.log.Error("could not arm wake alarm", logx.Time("at", next), logx.Err(err))
		return
	}
	if !armed.Equal(next) {
		s.log.Debug("kept earlier pending alarm", logx.Time("at", armed))
	}
	s.log.Info("wake alarm armed", logx.Time("at", armed))
}

// onResumed records the resume fact and retakes the standing delay lock for
// the next transition.
func (s *Scheduler) onResumed(ctx context.Context) {
	rec := resumestate.Record{
		ResumedAt:       time.Now(),
		PreSuspendState: s.lastRequested,
	}
	if s.store != nil {
		if err := s.store.Write(ctx, rec); err != nil {
			s.log.Error("could not record resume", logx.Err(err))
		} else {
			s.log.Info("recorded resume",
				logx.Time("resumed_at", rec.ResumedAt),
				logx.String("pre_suspend_state", string(rec.PreSuspendState)),
			)
		}
	}
	s.takeInhibitor(ctx)
}

// nextActivation returns the minimum next-elapse time across all schedules.
// Per-schedule failures are logged and skipped; (zero, false) means no
// schedule produced a usable time.
func (s *Scheduler) nextActivation(ctx context.Context) (time.Time, bool) {
	var (
		next  time.Time
		found bool
	)
	for _, sched := range s.snapshotSchedules() {
		t, err := s.transport.NextElapse(ctx, sched.TimerUnit, sched.FallbackCron)
		if err != nil {
			s.log.Warn("could not get next activation time",
				logx.String("schedule", sched.Name),
				logx.String("unit", sched.TimerUnit),
				logx.Err(err),
			)
			continue
		}
		s.log.Debug("schedule activation time",
			logx.String("schedule", sched.Name),
			logx.Time("at", t),
		)
		if !found || t.Before(next) {
			next = t
			found = true
		}
	}
	return next, found
}

// takeInhibitor acquires the delay lock if it is not already held. Failure is
// non-fatal: blocking the machine from ever sleeping is worse than missing
// one wake cycle, so the pending transition proceeds unmodified.
func (s *Scheduler) takeInhibitor(ctx context.Context) {
	if s.inhibitor != nil {
		return
	}
	lock, err := s.transport.AcquireInhibitor(
		ctx, powerbus.InhibitSleepAndShutdown, s.who, s.why, powerbus.ModeDelay,
	)
	if err != nil {
		s.log.Warn("could not take inhibitor lock", logx.Err(err))
		return
	}
	s.inhibitor = lock
}

// dropInhibitor releases the lock if held. Releasing is what lets a pending
// transition continue, so it must succeed-or-log, never block.
func (s *Scheduler) dropInhibitor() {
	if s.inhibitor == nil {
		return
	}
	if err := s.inhibitor.Close(); err != nil {
		s.log.Warn("failed to release inhibitor lock", logx.Err(err))
	}
	s.inhibitor = nil
}
