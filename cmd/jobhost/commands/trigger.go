package commands

import (
	"context"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"jobhost/internal/app"
)

func newTriggerCmd(o *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "trigger NAME",
		Short: "Run one job now and wait for it to finish",
		Long: `Run one job now and wait for it to finish.

The job runs through the same engine as scheduled runs, so its run record
lands in storage and dependent jobs it triggers run too. Cron schedules
are not started.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(true)
			if err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = a.Stop(stopCtx, app.StopRunOnce)
			}()

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			ev, err := a.RunOnce(ctx, args[0])
			if err != nil {
				return err
			}
			pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("%s %s in %s (run %s)",
				ev.Name, ev.Status, ev.Took.Round(time.Millisecond), ev.RunID)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "wait", 0, "give up waiting after this long (0 waits forever)")
	return cmd
}
