package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/bnavetta/night-kitchen/internal/config"
	"github.com/bnavetta/night-kitchen/internal/eventbus"
	"github.com/bnavetta/night-kitchen/internal/resumestate"
)

type fakeLock struct {
	mu     sync.Mutex
	closed int
}

func (l *fakeLock) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed++
	return nil
}

type fakeTransport struct {
	mu sync.Mutex

	elapse     map[string]time.Time
	elapseErr  map[string]error
	acquireErr error

	locks []*fakeLock
}

func (f *fakeTransport) AcquireInhibitor(context.Context, string, string, string, string) (io.Closer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	l := &fakeLock{}
	f.locks = append(f.locks, l)
	return l, nil
}

func (f *fakeTransport) NextElapse(_ context.Context, timerUnit, _ string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.elapseErr[timerUnit]; err != nil {
		return time.Time{}, err
	}
	t, ok := f.elapse[timerUnit]
	if !ok {
		return time.Time{}, errors.New("unknown timer unit")
	}
	return t, nil
}

func (f *fakeTransport) lockStats() (acquired, open int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.locks {
		l.mu.Lock()
		if l.closed == 0 {
			open++
		}
		l.mu.Unlock()
	}
	return len(f.locks), open
}

type fakeAlarm struct {
	mu      sync.Mutex
	armed   []time.Time
	pending time.Time
	err     error
}

func (a *fakeAlarm) Arm(t time.Time) (time.Time, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return time.Time{}, a.err
	}
	a.armed = append(a.armed, t)
	if !a.pending.IsZero() && a.pending.Before(t) {
		return a.pending, nil
	}
	a.pending = t
	return t, nil
}

func (a *fakeAlarm) armedTimes() []time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]time.Time(nil), a.armed...)
}

type fakeWriter struct {
	mu      sync.Mutex
	records []resumestate.Record
}

func (w *fakeWriter) Write(_ context.Context, rec resumestate.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.records = append(w.records, rec)
	return nil
}

func (w *fakeWriter) all() []resumestate.Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]resumestate.Record(nil), w.records...)
}

func testSchedules(base time.Time) ([]config.ScheduleConfig, *fakeTransport) {
	tr := &fakeTransport{
		elapse: map[string]time.Time{
			"nightly.timer": base.Add(4 * time.Hour),
			"hourly.timer":  base.Add(30 * time.Minute),
		},
		elapseErr: map[string]error{},
	}
	scheds := []config.ScheduleConfig{
		{Name: "nightly", TimerUnit: "nightly.timer", TaskGroup: "nightly.target"},
		{Name: "hourly", TimerUnit: "hourly.timer", TaskGroup: "hourly.target"},
	}
	return scheds, tr
}

func newTestScheduler(t *testing.T, scheds []config.ScheduleConfig, tr *fakeTransport, alarm AlarmClock, store StateWriter) *Scheduler {
	t.Helper()
	return New(Params{
		Bus:       eventbus.New(),
		Transport: tr,
		Alarm:     alarm,
		Store:     store,
		Schedules: scheds,
	})
}

func TestOnTransitionArmsEarliestActivation(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	scheds, tr := testSchedules(base)
	alarm := &fakeAlarm{}
	s := newTestScheduler(t, scheds, tr, alarm, nil)

	s.onTransition(context.Background(), eventbus.PreSleep)

	armed := alarm.armedTimes()
	if len(armed) != 1 {
		t.Fatalf("armed %d alarms, want 1", len(armed))
	}
	want := base.Add(30 * time.Minute)
	if !armed[0].Equal(want) {
		t.Fatalf("armed %v, want earliest activation %v", armed[0], want)
	}
}

func TestOnTransitionSkipsFailingSchedules(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	scheds, tr := testSchedules(base)
	tr.elapseErr["hourly.timer"] = errors.New("timer not loaded")
	alarm := &fakeAlarm{}
	s := newTestScheduler(t, scheds, tr, alarm, nil)

	s.onTransition(context.Background(), eventbus.PreSleep)

	armed := alarm.armedTimes()
	if len(armed) != 1 {
		t.Fatalf("armed %d alarms, want 1", len(armed))
	}
	want := base.Add(4 * time.Hour)
	if !armed[0].Equal(want) {
		t.Fatalf("armed %v, want surviving activation %v", armed[0], want)
	}
}

func TestOnTransitionAllSchedulesFailing(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	scheds, tr := testSchedules(base)
	tr.elapseErr["hourly.timer"] = errors.New("down")
	tr.elapseErr["nightly.timer"] = errors.New("down")
	alarm := &fakeAlarm{}
	s := newTestScheduler(t, scheds, tr, alarm, nil)

	s.onTransition(context.Background(), eventbus.PreSleep)

	if len(alarm.armedTimes()) != 0 {
		t.Fatal("no alarm should be armed when no activation time is available")
	}
	// The transition must still be released.
	if _, open := tr.lockStats(); open != 0 {
		t.Fatalf("%d inhibitor locks still open after transition", open)
	}
}

func TestInhibitorReleasedExactlyOncePerTransition(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	scheds, tr := testSchedules(base)
	alarm := &fakeAlarm{}
	s := newTestScheduler(t, scheds, tr, alarm, nil)

	ctx := context.Background()
	s.onTransition(ctx, eventbus.PreSleep)
	s.onTransition(ctx, eventbus.PreSleep)

	acquired, open := tr.lockStats()
	if acquired != 2 {
		t.Fatalf("acquired %d locks, want one per transition", acquired)
	}
	if open != 0 {
		t.Fatalf("%d locks left open", open)
	}
	for i, l := range tr.locks {
		if l.closed != 1 {
			t.Fatalf("lock %d closed %d times, want exactly once", i, l.closed)
		}
	}
}

func TestBackToBackTransitionsArmSameAlarm(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	scheds, tr := testSchedules(base)
	alarm := &fakeAlarm{}
	s := newTestScheduler(t, scheds, tr, alarm, nil)

	ctx := context.Background()
	s.onTransition(ctx, eventbus.PreSleep)
	s.onTransition(ctx, eventbus.PreSleep)

	armed := alarm.armedTimes()
	if len(armed) != 2 {
		t.Fatalf("armed %d alarms, want 2", len(armed))
	}
	if !armed[0].Equal(armed[1]) {
		t.Fatalf("alarm values differ across identical transitions: %v vs %v", armed[0], armed[1])
	}
}

func TestAlarmFailureReleasesInhibitor(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	scheds, tr := testSchedules(base)
	alarm := &fakeAlarm{err: errors.New("rtc ioctl failed")}
	s := newTestScheduler(t, scheds, tr, alarm, nil)

	s.onTransition(context.Background(), eventbus.PreSleep)

	acquired, open := tr.lockStats()
	if acquired != 1 {
		t.Fatalf("acquired %d locks, want 1", acquired)
	}
	if open != 0 {
		t.Fatal("inhibitor lock must be released when arming fails")
	}
	if tr.locks[0].closed != 1 {
		t.Fatalf("lock closed %d times, want exactly once", tr.locks[0].closed)
	}
}

func TestMissingAlarmDeviceReleasesInhibitor(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	scheds, tr := testSchedules(base)
	s := newTestScheduler(t, scheds, tr, nil, nil)

	s.onTransition(context.Background(), eventbus.PreSleep)

	if _, open := tr.lockStats(); open != 0 {
		t.Fatal("inhibitor lock must be released when no alarm device is configured")
	}
}

func TestInhibitorFailureDoesNotBlockAlarm(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	scheds, tr := testSchedules(base)
	tr.acquireErr = errors.New("permission denied")
	alarm := &fakeAlarm{}
	s := newTestScheduler(t, scheds, tr, alarm, nil)

	s.onTransition(context.Background(), eventbus.PreSleep)

	if len(alarm.armedTimes()) != 1 {
		t.Fatal("alarm must still be armed when the inhibitor cannot be taken")
	}
}

func TestOnResumedWritesRecordAndRetakesLock(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	scheds, tr := testSchedules(base)
	store := &fakeWriter{}
	s := newTestScheduler(t, scheds, tr, &fakeAlarm{}, store)

	ctx := context.Background()
	s.onTransition(ctx, eventbus.PreSleep)
	s.onResumed(ctx)

	recs := store.all()
	if len(recs) != 1 {
		t.Fatalf("wrote %d records, want 1", len(recs))
	}
	if recs[0].PreSuspendState != resumestate.PowerSuspended {
		t.Fatalf("PreSuspendState = %s, want %s", recs[0].PreSuspendState, resumestate.PowerSuspended)
	}
	if recs[0].ResumedAt.IsZero() {
		t.Fatal("ResumedAt not set")
	}
	if _, open := tr.lockStats(); open != 1 {
		t.Fatalf("%d locks open after resume, want the standing lock retaken", open)
	}
}

func TestRunConsumesEventsUntilCanceled(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	scheds, tr := testSchedules(base)
	alarm := &fakeAlarm{}
	bus := eventbus.New()
	store := &fakeWriter{}
	s := New(Params{
		Bus:       bus,
		Transport: tr,
		Alarm:     alarm,
		Store:     store,
		Schedules: scheds,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Let Run subscribe and take the standing lock.
	waitFor(t, func() bool { acquired, _ := tr.lockStats(); return acquired >= 1 })

	bus.Publish(eventbus.Event{Kind: eventbus.PreSleep, Time: time.Now()})
	waitFor(t, func() bool { return len(alarm.armedTimes()) == 1 })

	bus.Publish(eventbus.Event{Kind: eventbus.PostSleep, Time: time.Now()})
	waitFor(t, func() bool { return len(store.all()) == 1 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, open := tr.lockStats(); open != 0 {
		t.Fatalf("%d locks left open after shutdown", open)
	}
}

func TestSetSchedulesTakesEffectNextTransition(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	scheds, tr := testSchedules(base)
	tr.elapse["weekly.timer"] = base.Add(5 * time.Minute)
	alarm := &fakeAlarm{}
	s := newTestScheduler(t, scheds, tr, alarm, nil)

	ctx := context.Background()
	s.onTransition(ctx, eventbus.PreSleep)
	s.SetSchedules(append(scheds, config.ScheduleConfig{
		Name: "weekly", TimerUnit: "weekly.timer", TaskGroup: "weekly.target",
	}))
	s.onTransition(ctx, eventbus.PreSleep)

	armed := alarm.armedTimes()
	if len(armed) != 2 {
		t.Fatalf("armed %d alarms, want 2", len(armed))
	}
	if want := base.Add(30 * time.Minute); !armed[0].Equal(want) {
		t.Fatalf("first alarm %v, want %v", armed[0], want)
	}
	if want := base.Add(5 * time.Minute); !armed[1].Equal(want) {
		t.Fatalf("second alarm %v, want %v", armed[1], want)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
