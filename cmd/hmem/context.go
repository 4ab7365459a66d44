package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goclaw/hmem/pkg/memory"
)

func newContextCmd(opts *rootOptions) *cobra.Command {
	tiers := memory.ContextOptions{}

	cmd := &cobra.Command{
		Use:   "context [query]",
		Short: "Print the memory context assembled for a query",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !tiers.IncludeSemantic && !tiers.IncludeEpisodic && !tiers.IncludeWorking {
				tiers = memory.AllTiers
			}
			return runContext(commandContext(cmd), opts, strings.Join(args, " "), tiers, cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&tiers.IncludeSemantic, "semantic", false, "Include semantic knowledge")
	flags.BoolVar(&tiers.IncludeEpisodic, "episodic", false, "Include recent episodes")
	flags.BoolVar(&tiers.IncludeWorking, "working", false, "Include working memory")
	return cmd
}

func runContext(ctx context.Context, opts *rootOptions, query string, tiers memory.ContextOptions, out io.Writer) (err error) {
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
	return writeJSON(out, a.engine.MemoryContext(ctx, query, tiers))
}
