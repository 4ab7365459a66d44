package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newConsolidateCmd(opts *rootOptions) *cobra.Command {
	var minEpisodes int

	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Run one consolidation pass against the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsolidate(commandContext(cmd), opts, minEpisodes, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&minEpisodes, "min-episodes", 0, "Smallest category group to mine (0 uses the configured value)")
	return cmd
}

func runConsolidate(ctx context.Context, opts *rootOptions, minEpisodes int, out io.Writer) (err error) {
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
	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	summary, err := a.engine.Consolidate(ctx, minEpisodes)
	if err != nil {
		return fmt.Errorf("consolidate: %w", err)
	}
	if !summary.Persisted {
		return fmt.Errorf("consolidation results were not persisted")
	}
	return writeJSON(out, summary)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
