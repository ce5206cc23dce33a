//go:build linux

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bnavetta/night-kitchen/internal/config"
	"github.com/bnavetta/night-kitchen/internal/powerbus"
	"github.com/bnavetta/night-kitchen/internal/resumestate"
	"github.com/bnavetta/night-kitchen/internal/runner"
	logx "github.com/bnavetta/night-kitchen/pkg/logx"
)

const (
	exitTaskFailed    = 2
	exitRestoreFailed = 3
)

func main() {
	var cfgPath string
	var logLevel string
	flag.StringVar(&cfgPath, "config", "/etc/night-kitchen/config.yaml", "path to config file (yaml or json)")
	flag.StringVar(&logLevel, "log-level", "", "override the configured log level")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: night-kitchen-runner [flags] <schedule>")
		os.Exit(1)
	}
	os.Exit(run(cfgPath, logLevel, flag.Arg(0)))
}

func run(cfgPath, logLevel, scheduleName string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		return 1
	}
	logCfg := cfg.LogxConfig()
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	logs, log := logx.New(logCfg)
	defer logs.Close()
	log = log.With(logx.String("comp", "runner"), logx.String("schedule", scheduleName))

	sched, ok := cfg.Schedule(scheduleName)
	if !ok {
		log.Error("unknown schedule", logx.String("name", scheduleName))
		return 1
	}

	callTimeout, err := cfg.CallTimeout()
	if err != nil {
		log.Error("invalid config", logx.Err(err))
		return 1
	}
	conn, err := powerbus.Connect(ctx,
		powerbus.WithCallTimeout(callTimeout),
		powerbus.WithLogger(log.With(logx.String("comp", "powerbus"))),
	)
	if err != nil {
		log.Error("could not connect to system bus", logx.Err(err))
		return 1
	}
	defer conn.Close()

	storeCfg, err := cfg.StoreConfig()
	if err != nil {
		log.Error("invalid config", logx.Err(err))
		return 1
	}
	store, err := resumestate.Open(storeCfg, log.With(logx.String("comp", "resumestate")))
	if err != nil {
		log.Error("could not open resume state store", logx.Err(err))
		return 1
	}
	if store != nil {
		defer store.Close()
	}

	thresholds, err := loadThresholds(cfg)
	if err != nil {
		log.Error("invalid config", logx.Err(err))
		return 1
	}

	r := runner.New(log, conn, storeReader(store), runner.SystemClock{}, thresholds)
	outcome, err := r.Run(ctx, sched)
	if err != nil {
		log.Error("runner failed", logx.Err(err))
		return 1
	}
	switch {
	case outcome.RestoreErr != nil:
		return exitRestoreFailed
	case outcome.TaskErr != nil:
		return exitTaskFailed
	}
	return 0
}

func loadThresholds(cfg *config.Config) (runner.Thresholds, error) {
	var t runner.Thresholds
	var err error
	if t.ResumeTolerance, err = cfg.ResumeTolerance(); err != nil {
		return t, err
	}
	if t.FreshBootWindow, err = cfg.FreshBootWindow(); err != nil {
		return t, err
	}
	if t.AlreadyUpAfter, err = cfg.AlreadyUpAfter(); err != nil {
		return t, err
	}
	return t, nil
}

// storeReader keeps a disabled store (nil interface) nil when narrowed to
// the runner's reader interface.
func storeReader(s resumestate.Store) runner.StateReader {
	if s == nil {
		return nil
	}
	return s
}
