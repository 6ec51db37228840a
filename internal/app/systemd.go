package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "uenotify/pkg/logx"
)

// sdNotifier reports readiness and liveness to systemd (Type=notify units).
// Every method is a no-op when disabled or when NOTIFY_SOCKET is unset.
type sdNotifier struct {
	enabled bool
	log     logx.Logger
	notify  func(state string) (bool, error)
}

func newSDNotifier(enabled bool, log logx.Logger) *sdNotifier {
	return &sdNotifier{
		enabled: enabled,
		log:     log,
		notify:  func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
}

func (n *sdNotifier) send(state string) {
	if n == nil || !n.enabled {
		return
	}
	sent, err := n.notify(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify", logx.String("state", state))
	}
}

func (n *sdNotifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }
func (n *sdNotifier) Watchdog() { n.send(daemon.SdNotifyWatchdog) }

// watchdogInterval returns half of WATCHDOG_USEC, or 0 when the unit has no
// watchdog.
func (n *sdNotifier) watchdogInterval() time.Duration {
	if n == nil || !n.enabled {
		return 0
	}
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("watchdog config invalid", logx.Err(err))
		return 0
	}
	return d / 2
}

// runWatchdog pings systemd while cycles keep completing. A stalled poll loop
// stops the pings and lets systemd restart the unit. stale is read on every
// tick so a reloaded interval takes effect.
func (n *sdNotifier) runWatchdog(ctx context.Context, every time.Duration, alive func() time.Time, stale func() time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if last := alive(); !last.IsZero() && time.Since(last) > stale() {
				n.log.Warn("poll loop stalled; withholding watchdog ping", logx.Time("last_cycle", last))
				continue
			}
			n.Watchdog()
		}
	}
}
