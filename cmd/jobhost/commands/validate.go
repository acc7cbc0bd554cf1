package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"jobhost/internal/app"
	"jobhost/internal/config"
	"jobhost/internal/jobs"
	"jobhost/internal/task/job"
)

func newValidateCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a config file without running anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewManager(o.configPath).Parse()
			if err != nil {
				return err
			}
			reg := job.NewRegistry()
			if err := jobs.Register(reg, jobs.Deps{}); err != nil {
				return err
			}
			if err := app.ValidateConfig(cfg, reg); err != nil {
				return err
			}
			pterm.Success.WithWriter(cmd.OutOrStdout()).Printfln("%s: ok (%d jobs, format %s)",
				o.configPath, len(cfg.Jobs), config.FormatOf(o.configPath))
			return nil
		},
	}
}
