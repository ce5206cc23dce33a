//go:build linux

package powerbus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bnavetta/night-kitchen/internal/clock"
	logx "github.com/bnavetta/night-kitchen/pkg/logx"
)

// StartUnitAndWait starts the given unit and blocks until its job reaches a
// terminal state. Any result other than "done" is an error.
//
// The wait is bounded by ctx only, not the per-call timeout: the task group
// may legitimately run for a long time.
func (c *Conn) StartUnitAndWait(ctx context.Context, unit string) error {
	c.mu.RLock()
	systemd := c.systemd
	c.mu.RUnlock()
	if systemd == nil {
		return transportErr("start unit", errClosed)
	}

	// Buffered so systemd's job tracker never blocks delivering the result.
	result := make(chan string, 1)

	cctx, cancel := c.callCtx(ctx)
	job, err := systemd.StartUnitContext(cctx, unit, "fail", result)
	cancel()
	if err != nil {
		return transportErr(fmt.Sprintf("start unit %s", unit), err)
	}
	c.log.Debug("started job", logx.Int("job", job), logx.String("unit", unit))

	select {
	case res := <-result:
		c.log.Debug("job finished", logx.String("unit", unit), logx.String("result", res))
		if res != "done" {
			return transportErr(fmt.Sprintf("start unit %s", unit), fmt.Errorf("job result %q", res))
		}
		return nil
	case <-ctx.Done():
		return transportErr(fmt.Sprintf("await unit %s", unit), ctx.Err())
	}
}

// NextElapse returns the next wall-clock instant the given timer unit will
// fire. systemd reports realtime and monotonic elapse points separately; a
// zero value means the timer has no event on that clock. The earlier of the
// two wins.
//
// When the timer cannot be queried and fallbackCron is set, the next elapse
// is computed from the cron expression instead, so an unreachable systemd
// does not silently skip the wake alarm.
func (c *Conn) NextElapse(ctx context.Context, timerUnit, fallbackCron string) (time.Time, error) {
	next, err := c.timerNextElapse(ctx, timerUnit)
	if err == nil {
		return next, nil
	}
	if expr := strings.TrimSpace(fallbackCron); expr != "" {
		c.log.Warn("timer query failed; using cron fallback",
			logx.String("unit", timerUnit),
			logx.String("cron", expr),
			logx.Err(err),
		)
		return cronNext(expr, time.Now())
	}
	return time.Time{}, err
}

func (c *Conn) timerNextElapse(ctx context.Context, timerUnit string) (time.Time, error) {
	c.mu.RLock()
	systemd := c.systemd
	c.mu.RUnlock()
	if systemd == nil {
		return time.Time{}, transportErr("timer properties", errClosed)
	}

	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	props, err := systemd.GetUnitTypePropertiesContext(cctx, timerUnit, "Timer")
	if err != nil {
		return time.Time{}, transportErr(fmt.Sprintf("timer properties for %s", timerUnit), err)
	}

	var candidates []time.Time

	if usec := usecProperty(props, "NextElapseUSecRealtime"); usec != 0 {
		t := clock.FromUsec(usec)
		c.log.Debug("next realtime elapse", logx.String("unit", timerUnit), logx.Time("at", t))
		candidates = append(candidates, t)
	}
	if usec := usecProperty(props, "NextElapseUSecMonotonic"); usec != 0 {
		t, err := clock.MonotonicToRealtime(usec)
		if err != nil {
			return time.Time{}, transportErr("convert monotonic elapse", err)
		}
		c.log.Debug("next monotonic elapse", logx.String("unit", timerUnit), logx.Time("at", t))
		candidates = append(candidates, t)
	}

	if len(candidates) == 0 {
		return time.Time{}, transportErr(
			fmt.Sprintf("timer %s", timerUnit),
			fmt.Errorf("neither realtime nor monotonic next elapse point"),
		)
	}

	next := candidates[0]
	for _, t := range candidates[1:] {
		if t.Before(next) {
			next = t
		}
	}
	return next, nil
}

func usecProperty(props map[string]interface{}, key string) uint64 {
	v, ok := props[key].(uint64)
	if !ok {
		return 0
	}
	return v
}

func cronNext(expr string, now time.Time) (time.Time, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(now), nil
}
