package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print tier statistics of the stored memory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(commandContext(cmd), opts, cmd.OutOrStdout())
		},
	}
}

func runStats(ctx context.Context, opts *rootOptions, out io.Writer) (err error) {
	a, err := bootstrap(ctx, opts, oneShot(false))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := a.engine.Load(ctx); err != nil {
		return fmt.Errorf("load memory: %w", err)
	}
	return writeJSON(out, a.engine.Stats())
}
