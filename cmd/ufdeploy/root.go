package main

import (
	"github.com/spf13/cobra"

	"github.com/jmorrisuk/ufdeploy/internal/config"
)

func newRootCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:           "ufdeploy",
		Short:         "Batch-install the Splunk Universal Forwarder across a server fleet over SSH",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", config.DefaultConfigPath, "path to the run configuration file")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "list intended targets without installing anything")
	flags.BoolVar(&opts.insecure, "insecure", false, "skip host key verification")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable colored summary output")

	return cmd
}
