//go:build linux

package powerbus

import (
	"context"
	"errors"

	godbus "github.com/godbus/dbus/v5"

	"github.com/bnavetta/night-kitchen/internal/eventbus"
	logx "github.com/bnavetta/night-kitchen/pkg/logx"
)

const (
	login1Dest         = "org.freedesktop.login1"
	login1Path         = godbus.ObjectPath("/org/freedesktop/login1")
	login1ManagerIface = "org.freedesktop.login1.Manager"

	sigPrepareForSleep    = login1ManagerIface + ".PrepareForSleep"
	sigPrepareForShutdown = login1ManagerIface + ".PrepareForShutdown"
)

// PumpSignals subscribes to logind's PrepareForSleep/PrepareForShutdown
// signals and republishes them as power events on the bus until ctx is
// canceled. It blocks; run it under the supervisor.
func (c *Conn) PumpSignals(ctx context.Context, bus eventbus.Bus) error {
	c.mu.RLock()
	conn := c.signals
	c.mu.RUnlock()
	if conn == nil {
		return transportErr("subscribe signals", errClosed)
	}

	for _, member := range []string{"PrepareForSleep", "PrepareForShutdown"} {
		err := conn.AddMatchSignal(
			godbus.WithMatchObjectPath(login1Path),
			godbus.WithMatchInterface(login1ManagerIface),
			godbus.WithMatchMember(member),
		)
		if err != nil {
			return transportErr("subscribe "+member, err)
		}
	}

	sigs := make(chan *godbus.Signal, 16)
	conn.Signal(sigs)
	defer conn.RemoveSignal(sigs)

	c.log.Info("listening for power signals")

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-sigs:
			if !ok {
				return transportErr("signal stream", errors.New("channel closed"))
			}
			c.dispatchSignal(sig, bus)
		}
	}
}

func (c *Conn) dispatchSignal(sig *godbus.Signal, bus eventbus.Bus) {
	starting, ok := signalArg(sig)
	if !ok {
		c.log.Warn("malformed power signal", logx.String("name", sig.Name))
		return
	}

	switch sig.Name {
	case sigPrepareForSleep:
		if starting {
			c.log.Info("system is about to sleep")
			bus.Publish(eventbus.Event{Kind: eventbus.PreSleep})
		} else {
			c.log.Info("system resumed from sleep")
			bus.Publish(eventbus.Event{Kind: eventbus.PostSleep})
		}
	case sigPrepareForShutdown:
		if starting {
			c.log.Info("system is about to shut down")
			bus.Publish(eventbus.Event{Kind: eventbus.PreShutdown})
		} else {
			// logind never reverses a shutdown; note it and move on.
			c.log.Warn("unexpected PrepareForShutdown(false) signal")
		}
	}
}

func signalArg(sig *godbus.Signal) (bool, bool) {
	if len(sig.Body) != 1 {
		return false, false
	}
	b, ok := sig.Body[0].(bool)
	return b, ok
}
