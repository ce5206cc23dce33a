//go:build linux

// Package app wires the scheduler daemon together: config, logging, the
// power transport, the RTC device, the resume state store, and the
// scheduler loop under one supervisor.
package app

import (
	"context"
	"io"
	"time"

	"github.com/bnavetta/night-kitchen/internal/config"
	"github.com/bnavetta/night-kitchen/internal/eventbus"
	"github.com/bnavetta/night-kitchen/internal/powerbus"
	"github.com/bnavetta/night-kitchen/internal/resumestate"
	"github.com/bnavetta/night-kitchen/internal/rtc"
	"github.com/bnavetta/night-kitchen/internal/runtime/supervisor"
	"github.com/bnavetta/night-kitchen/internal/scheduler"
	logx "github.com/bnavetta/night-kitchen/pkg/logx"
)

type Daemon struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	conn  *powerbus.Conn
	clock *rtc.Device
	store resumestate.Store
	bus   eventbus.Bus

	sched *scheduler.Scheduler
}

func New(cfgPath string) (*Daemon, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(cfg.LogxConfig())
	log = log.With(logx.String("comp", "app"))

	storeCfg, err := cfg.StoreConfig()
	if err != nil {
		logs.Close()
		return nil, err
	}
	store, err := resumestate.Open(storeCfg, log.With(logx.String("comp", "resumestate")))
	if err != nil {
		logs.Close()
		return nil, err
	}

	return &Daemon{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		store:   store,
		bus:     eventbus.New(),
	}, nil
}

func (d *Daemon) Start(ctx context.Context) error {
	cfg := d.cfgm.Get()

	d.sup = supervisor.New(ctx, supervisor.WithLogger(d.log), supervisor.WithCancelOnError(true))

	d.cfgm.SetLogger(d.log.With(logx.String("comp", "config")))
	d.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	callTimeout, err := cfg.CallTimeout()
	if err != nil {
		return err
	}
	conn, err := powerbus.Connect(d.sup.Context(),
		powerbus.WithCallTimeout(callTimeout),
		powerbus.WithLogger(d.log.With(logx.String("comp", "powerbus"))),
	)
	if err != nil {
		return err
	}
	d.conn = conn

	// A missing RTC device costs wake alarms, nothing else: signals are still
	// pumped and resume records still written, so the runner keeps working
	// for wakes triggered by other means.
	var alarm scheduler.AlarmClock
	if clock, err := rtc.Open(cfg.RTC.Device); err != nil {
		d.log.Error("could not open rtc device; wake alarms disabled",
			logx.String("device", clockPath(cfg)), logx.Err(err))
	} else {
		d.clock = clock
		alarm = clock
	}

	d.sched = scheduler.New(scheduler.Params{
		Log:       d.log.With(logx.String("comp", "scheduler")),
		Bus:       d.bus,
		Transport: busTransport{conn: conn},
		Alarm:     alarm,
		Store:     storeWriter(d.store),
		Schedules: cfg.Schedules,
		Who:       cfg.InhibitorWho(),
		Why:       cfg.InhibitorWhy(),
	})

	d.sup.Go("powerbus.signals", func(c context.Context) error {
		return d.conn.PumpSignals(c, d.bus)
	})
	d.sup.Go("scheduler.loop", func(c context.Context) error {
		return d.sched.Run(c)
	})
	d.sup.Go("config.watch", func(c context.Context) error {
		return d.cfgm.Watch(c)
	})

	// hot reload fan-out: schedules and logging can change at runtime
	sub := d.cfgm.Subscribe(8)
	d.sup.Go("config.reload", func(c context.Context) error {
		defer d.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				d.log.Info("config reloaded", logx.Int("schedules", len(newCfg.Schedules)))
				d.sched.SetSchedules(newCfg.Schedules)
				d.logs.Apply(newCfg.LogxConfig())
			}
		}
	})

	d.log.Info("scheduler daemon started",
		logx.Int("schedules", len(cfg.Schedules)),
		logx.String("rtc", clockPath(cfg)),
	)
	return nil
}

func clockPath(cfg *config.Config) string {
	if cfg.RTC.Device != "" {
		return cfg.RTC.Device
	}
	return rtc.DefaultDevice
}

// Done is closed when the supervisor context is canceled (fatal error or Stop).
func (d *Daemon) Done() <-chan struct{} {
	if d.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return d.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (d *Daemon) Err() error {
	if d.sup == nil {
		return nil
	}
	return d.sup.Err()
}

func (d *Daemon) Stop(ctx context.Context) error {
	var err error
	if d.sup != nil {
		stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		err = d.sup.Stop(stopCtx)
	}
	if d.conn != nil {
		d.conn.Close()
	}
	if d.clock != nil {
		_ = d.clock.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
	_ = d.logs.Close()
	return err
}

// busTransport narrows *powerbus.Conn to what the scheduler consumes. The
// explicit nil return keeps a failed acquire from leaking a typed-nil
// io.Closer to the caller.
type busTransport struct {
	conn *powerbus.Conn
}

func (t busTransport) AcquireInhibitor(ctx context.Context, what, who, why, mode string) (io.Closer, error) {
	f, err := t.conn.AcquireInhibitor(ctx, what, who, why, mode)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (t busTransport) NextElapse(ctx context.Context, timerUnit, fallbackCron string) (time.Time, error) {
	return t.conn.NextElapse(ctx, timerUnit, fallbackCron)
}

// storeWriter keeps a disabled store (nil interface) nil when narrowed to
// the scheduler's writer interface.
func storeWriter(s resumestate.Store) scheduler.StateWriter {
	if s == nil {
		return nil
	}
	return s
}
