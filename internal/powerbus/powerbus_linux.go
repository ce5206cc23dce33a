//go:build linux

package powerbus

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	sdbus "github.com/coreos/go-systemd/v22/dbus"
	"github.com/coreos/go-systemd/v22/login1"
	godbus "github.com/godbus/dbus/v5"

	logx "github.com/bnavetta/night-kitchen/pkg/logx"
)

const defaultCallTimeout = 5 * time.Second

// Conn bundles the three system-bus connections the daemons need: logind for
// session enumeration, systemd for units/timers, and a raw bus connection for
// signal subscription plus the power-management calls. The latter go through
// the raw connection because login1's own PowerOff/Reboot wrappers discard
// errors and none of its calls can be bounded by a context.
type Conn struct {
	mu      sync.RWMutex
	log     logx.Logger
	logind  *login1.Conn
	systemd *sdbus.Conn
	signals *godbus.Conn

	callTimeout time.Duration
}

type Option func(*Conn)

// WithCallTimeout bounds every individual transport call. A timeout is
// treated identically to an explicit failure.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Conn) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(c *Conn) { c.log = log }
}

// Connect opens the system-bus connections. Closing the returned Conn
// releases all of them.
func Connect(ctx context.Context, opts ...Option) (*Conn, error) {
	c := &Conn{
		log:         logx.Nop(),
		callTimeout: defaultCallTimeout,
	}
	for _, o := range opts {
		o(c)
	}

	logind, err := login1.New()
	if err != nil {
		return nil, transportErr("connect logind", err)
	}

	systemd, err := sdbus.NewSystemConnectionContext(ctx)
	if err != nil {
		logind.Close()
		return nil, transportErr("connect systemd", err)
	}

	// A dedicated connection for signals: the sequential handler preserves
	// logind's signal ordering, which the scheduler's serialized event loop
	// depends on.
	signals, err := godbus.ConnectSystemBus(godbus.WithSignalHandler(godbus.NewSequentialSignalHandler()))
	if err != nil {
		logind.Close()
		systemd.Close()
		return nil, transportErr("connect system bus", err)
	}

	c.logind = logind
	c.systemd = systemd
	c.signals = signals
	return c, nil
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.logind != nil {
		c.logind.Close()
		c.logind = nil
	}
	if c.systemd != nil {
		c.systemd.Close()
		c.systemd = nil
	}
	if c.signals != nil {
		_ = c.signals.Close()
		c.signals = nil
	}
}

// callCtx derives a bounded context for one transport call.
func (c *Conn) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}

// managerCall invokes a method on org.freedesktop.login1.Manager over the
// raw bus connection, bounded by the per-call timeout.
func (c *Conn) managerCall(ctx context.Context, method string, retval interface{}, args ...interface{}) error {
	c.mu.RLock()
	conn := c.signals
	c.mu.RUnlock()
	if conn == nil {
		return errClosed
	}

	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	call := conn.Object(login1Dest, login1Path).CallWithContext(
		cctx, login1ManagerIface+"."+method, 0, args...,
	)
	if retval != nil {
		return call.Store(retval)
	}
	return call.Err
}

// AcquireInhibitor takes a logind inhibitor lock. The returned file is the
// lock: closing it releases the inhibitor.
func (c *Conn) AcquireInhibitor(ctx context.Context, what, who, why, mode string) (*os.File, error) {
	var fd godbus.UnixFD
	if err := c.managerCall(ctx, "Inhibit", &fd, what, who, why, mode); err != nil {
		return nil, transportErr(fmt.Sprintf("inhibit %s (%s)", what, mode), err)
	}
	f := os.NewFile(uintptr(fd), "inhibitor")
	c.log.Debug("took inhibitor lock",
		logx.String("what", what),
		logx.String("mode", mode),
		logx.Uint64("fd", uint64(f.Fd())),
	)
	return f, nil
}

// Suspend asks logind to suspend the system.
func (c *Conn) Suspend(ctx context.Context) error {
	return transportErr("suspend", c.managerCall(ctx, "Suspend", nil, false))
}

// PowerOff asks logind to power the system off.
func (c *Conn) PowerOff(ctx context.Context) error {
	return transportErr("power off", c.managerCall(ctx, "PowerOff", nil, false))
}

// Reboot asks logind to reboot the system.
func (c *Conn) Reboot(ctx context.Context) error {
	return transportErr("reboot", c.managerCall(ctx, "Reboot", nil, false))
}

// HasOtherSessions reports whether any logind user session is active. The
// runner executes as a system unit with no session of its own, so any
// session at all means a human may be using the machine.
func (c *Conn) HasOtherSessions(ctx context.Context) (bool, error) {
	c.mu.RLock()
	logind := c.logind
	c.mu.RUnlock()
	if logind == nil {
		return false, transportErr("list sessions", errClosed)
	}

	cctx, cancel := c.callCtx(ctx)
	defer cancel()
	sessions, err := logind.ListSessionsContext(cctx)
	if err != nil {
		return false, transportErr("list sessions", err)
	}
	for _, s := range sessions {
		c.log.Debug("found session",
			logx.String("session_id", s.ID),
			logx.String("user", s.User),
			logx.String("seat", s.Seat),
		)
	}
	return len(sessions) > 0, nil
}

var errClosed = fmt.Errorf("connection is closed")
