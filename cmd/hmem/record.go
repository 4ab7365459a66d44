package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/goclaw/hmem/pkg/memory"
)

type recordOptions struct {
	id          string
	category    string
	description string
	success     bool
	valence     float64
	importance  float64
	tags        []string
}

func newRecordCmd(opts *rootOptions) *cobra.Command {
	ro := &recordOptions{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record an episode and persist it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(commandContext(cmd), opts, ro, cmd.OutOrStdout())
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&ro.id, "id", "", "Episode id (generated when empty)")
	flags.StringVar(&ro.category, "category", "", "Episode category")
	flags.StringVar(&ro.description, "description", "", "What happened")
	flags.BoolVar(&ro.success, "success", false, "Whether the episode succeeded")
	flags.Float64Var(&ro.valence, "valence", 0, "Emotional valence in [-1, 1]")
	flags.Float64Var(&ro.importance, "importance", 0.5, "Importance in [0, 1]")
	flags.StringSliceVar(&ro.tags, "tag", nil, "Tag (repeatable)")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func runRecord(ctx context.Context, opts *rootOptions, ro *recordOptions, out io.Writer) (err error) {
	category, err := memory.ParseCategory(ro.category)
	if err != nil {
		return err
	}

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
	ep, err := a.engine.AddEpisode(ctx, memory.EpisodeInput{
		ID:               ro.id,
		Category:         category,
		Description:      ro.description,
		Success:          ro.success,
		EmotionalValence: ro.valence,
		Importance:       ro.importance,
		Tags:             ro.tags,
	})
	if err != nil {
		return err
	}
	if err := a.engine.Save(ctx); err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	return writeJSON(out, ep)
}
