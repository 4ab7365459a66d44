package main

import (
	"github.com/spf13/cobra"
)

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
	storage    string
	debug      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "hmem",
		Short:         "Hierarchical memory engine for agents",
		Long:          "hmem keeps working, episodic and semantic memory for an agent and consolidates recurring episodes into knowledge.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "", "Override log level")
	flags.StringVar(&opts.storage, "storage", "", "Override storage backend (memory, badger, redis)")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug mode")

	cmd.AddCommand(
		newServeCmd(opts),
		newConsolidateCmd(opts),
		newRecordCmd(opts),
		newStatsCmd(opts),
		newContextCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func (o *rootOptions) overrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if o.logLevel != "" {
		overrides["log.level"] = o.logLevel
	}
	if o.storage != "" {
		overrides["storage.type"] = o.storage
	}
	if o.debug {
		overrides["app.debug"] = true
	}

	return overrides
}
