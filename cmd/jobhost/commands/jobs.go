package commands

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"jobhost/internal/app"
)

func newJobsCmd(o *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List configured jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := o.open(true)
			if err != nil {
				return err
			}
			defer func() { _ = a.Stop(context.Background(), app.StopAppStop) }()

			snap := a.Scheduler().Snapshot()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}

			data := pterm.TableData{{"NAME", "KIND", "SCHEDULE", "ENABLED", "TIMEOUT", "STATUS"}}
			for _, j := range snap.Jobs {
				timeout := "-"
				if j.Timeout > 0 {
					timeout = j.Timeout.String()
				}
				schedule := j.Schedule
				if schedule == "" {
					schedule = "manual"
				}
				data = append(data, []string{j.Name, j.Kind, schedule, strconv.FormatBool(j.Enabled), timeout, j.Status})
			}
			if err := pterm.DefaultTable.WithHasHeader().WithWriter(cmd.OutOrStdout()).WithData(data).Render(); err != nil {
				return err
			}
			pterm.Info.WithWriter(cmd.OutOrStdout()).Printfln("%d jobs, timezone %s, kinds: %v",
				len(snap.Jobs), orLocal(snap.Timezone), a.Registry().Kinds())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the scheduler snapshot as JSON")
	return cmd
}

func orLocal(tz string) string {
	if tz == "" {
		return time.Local.String()
	}
	return tz
}
