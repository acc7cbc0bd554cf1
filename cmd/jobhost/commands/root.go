// Package commands implements the jobhost command line.
package commands

import (
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"jobhost/internal/app"
	"jobhost/internal/errors"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRoot builds the jobhost command tree.
func NewRoot() *cobra.Command {
	o := &rootOptions{}
	root := &cobra.Command{
		Use:   "jobhost",
		Short: "Scheduled job host",
		Long: `jobhost runs configured jobs on cron or interval schedules.

Jobs are declared in a JSON, YAML or TOML config file. Each job names a
kind (noop, sleep, history-purge, parameter-stamp), an optional schedule
and its parameters. The config file is watched and reloaded while running.

Examples:
  jobhost run -c /etc/jobhost.yaml       # run until interrupted
  jobhost validate -c jobhost.toml       # check a config without running it
  jobhost trigger "Nightly Purge"        # run one job now and wait for it
  jobhost history --job "Nightly Purge"  # show recorded runs`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&o.configPath, "config", "c", defaultConfigPath(), "config file (json, yaml or toml)")
	root.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(
		newRunCmd(o),
		newValidateCmd(o),
		newTriggerCmd(o),
		newJobsCmd(o),
		newHistoryCmd(o),
	)
	return root
}

func defaultConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("JOBHOST_CONFIG")); p != "" {
		return p
	}
	return "./jobhost.yaml"
}

// open builds the app. One-shot commands pass quiet so info logs don't mix
// with their output unless --log-level asks for them.
func (o *rootOptions) open(quiet bool) (*app.App, error) {
	level := o.logLevel
	if level == "" && quiet {
		level = "warn"
	}
	var opts []app.Option
	if level != "" {
		opts = append(opts, app.WithLogLevel(level))
	}
	return app.New(o.configPath, opts...)
}

// PrintError writes err and any hints attached to it.
func PrintError(w io.Writer, err error) {
	pterm.Error.WithWriter(w).Println(err.Error())
	if hint := errors.FlattenHints(err); hint != "" {
		pterm.Info.WithWriter(w).Println(hint)
	}
}
