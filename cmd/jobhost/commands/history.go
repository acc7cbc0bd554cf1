package commands

import (
	"context"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"jobhost/internal/app"
	"jobhost/internal/errors"
	"jobhost/internal/storage"
)

func newHistoryCmd(o *rootOptions) *cobra.Command {
	var (
		jobName string
		limit   int
		purge   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or purge recorded job runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := o.open(true)
			if err != nil {
				return err
			}
			defer func() { _ = a.Stop(context.Background(), app.StopAppStop) }()

			st := a.Store()
			if st == nil {
				return errors.WithHint(storage.ErrDisabled, "set storage.driver to file or sqlite")
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if purge > 0 {
				n, err := st.PurgeRuns(ctx, time.Now().Add(-purge))
				if err != nil {
					return err
				}
				pterm.Success.WithWriter(out).Printfln("purged %d runs older than %s", n, purge)
				return nil
			}

			runs, err := st.ListRuns(ctx, storage.RunQuery{Job: jobName})
			if err != nil {
				return err
			}
			// newest last; keep the tail
			if limit > 0 && len(runs) > limit {
				runs = runs[len(runs)-limit:]
			}

			data := pterm.TableData{{"FINISHED", "JOB", "KIND", "SOURCE", "OUTCOME", "TOOK", "ERROR"}}
			for _, r := range runs {
				data = append(data, []string{
					r.Finished.Local().Format(time.DateTime),
					r.Job,
					r.Kind,
					r.Trigger,
					r.Outcome,
					r.Took().Round(time.Millisecond).String(),
					r.Error,
				})
			}
			if len(runs) == 0 {
				pterm.Info.WithWriter(out).Println("no runs recorded")
				return nil
			}
			return pterm.DefaultTable.WithHasHeader().WithWriter(out).WithData(data).Render()
		},
	}
	cmd.Flags().StringVar(&jobName, "job", "", "only runs of this job")
	cmd.Flags().IntVar(&limit, "limit", 20, "show at most this many of the latest runs (0 = all)")
	cmd.Flags().DurationVar(&purge, "purge-older-than", 0, "delete runs finished before now minus this duration")
	return cmd
}
