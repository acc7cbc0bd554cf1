package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"jobhost/internal/app"
	logx "jobhost/pkg/logx"
)

func newRunCmd(o *rootOptions) *cobra.Command {
	var shutdown time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler until interrupted",
		Long: `Run the engine, the scheduler and the config watcher in the foreground.

Under a systemd unit with Type=notify the host reports READY once every job
is registered, STOPPING on shutdown, and feeds the watchdog when
WatchdogSec is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := o.open(false)
			if err != nil {
				return err
			}
			log := a.Logger()

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return err
			}
			sdNotify(log, daemon.SdNotifyReady)
			go watchdog(ctx, log)

			var reason app.StopReason
			select {
			case s := <-sigs:
				reason = app.StopSIGINT
				if s == syscall.SIGTERM {
					reason = app.StopSIGTERM
				}
			case <-a.Done():
				reason = app.StopFatalError
			case <-cmd.Context().Done():
				reason = app.StopAppStop
			}
			fatal := a.Err()

			sdNotify(log, daemon.SdNotifyStopping)
			cancel()
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdown)
			defer stopCancel()
			if err := a.Stop(stopCtx, reason); err != nil {
				return err
			}
			if reason == app.StopFatalError {
				return fatal
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&shutdown, "shutdown-timeout", 15*time.Second, "upper bound for a graceful stop")
	return cmd
}

func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// watchdog pings systemd at half the configured WatchdogSec until ctx is done.
func watchdog(ctx context.Context, log logx.Logger) {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("watchdog config invalid", logx.Err(err))
		return
	}
	if every <= 0 {
		return
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sdNotify(log, daemon.SdNotifyWatchdog)
		}
	}
}
