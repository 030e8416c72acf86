package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "chanwatch/pkg/logx"
)

// sdNotifier reports service state to systemd. Outside a notify-type unit
// every call is a no-op.
type sdNotifier struct {
	log logx.Logger
}

func (n sdNotifier) send(state string) {
	ok, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if ok {
		n.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func (n sdNotifier) Ready() { n.send(daemon.SdNotifyReady) }
func (n sdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }
func (n sdNotifier) Status(s string) { n.send("STATUS=" + s) }

// watchdog pings systemd at half the configured WatchdogSec until ctx ends.
func (n sdNotifier) watchdog(ctx context.Context) {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil || every <= 0 {
		return
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
