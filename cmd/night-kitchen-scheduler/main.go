//go:build linux

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bnavetta/night-kitchen/internal/app"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "/etc/night-kitchen/config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	daemon, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := daemon.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = daemon.Stop(context.Background())
		os.Exit(1)
	}

	<-daemon.Done()
	fatal := daemon.Err()
	_ = daemon.Stop(context.Background())
	if fatal != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, "fatal:", fatal)
		os.Exit(1)
	}
}
