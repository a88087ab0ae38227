package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			// No run lock: the lease table is created by this command.
			version, err := a.Migrate()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]uint{"version": version})
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-sources",
		Short: "Upsert the prefecture portal sources and any catalogue file entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := a.SeedEntries()
			if err != nil {
				return err
			}
			return a.RunJob(cmd.Context(), "seed-sources", func(ctx context.Context) error {
				n, err := a.Seeder().Run(ctx, entries)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]int{"seeded": n})
			})
		},
	}
}

func newCollectSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collect-sources",
		Short: "Poll due sources and record discovered links",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return a.RunJob(cmd.Context(), "collect-sources", func(ctx context.Context) error {
				summary, err := a.Collector().Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
}

func newCollectDetailsCmd() *cobra.Command {
	var rounds int
	cmd := &cobra.Command{
		Use:   "collect-details",
		Short: "Fetch and extract pending discovered items",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return a.RunJob(cmd.Context(), "collect-details", func(ctx context.Context) error {
				report, err := a.Extractor(rounds).Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().IntVar(&rounds, "rounds", 0, "maximum batches to process (0 uses details.max_rounds)")
	return cmd
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify",
		Short: "Re-classify every stored subsidy into a category",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return a.RunJob(cmd.Context(), "classify", func(ctx context.Context) error {
				res, err := a.Classifier().Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newComputeScoresCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compute-scores",
		Short: "Aggregate municipality scores and briefs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return a.RunJob(cmd.Context(), "compute-scores", func(ctx context.Context) error {
				res, err := a.Scoring().ComputeScores(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

func newComputePriorityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compute-priority",
		Short: "Pick today's priority municipality per prefecture",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return a.RunJob(cmd.Context(), "compute-priority", func(ctx context.Context) error {
				res, err := a.Scoring().ComputePriority(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}

// fullRunSummary collects the result of every stage of full-run.
type fullRunSummary struct {
	Sources  any `json:"sources"`
	Details  any `json:"details"`
	Classify any `json:"classify"`
	Scores   any `json:"scores"`
	Priority any `json:"priority"`
}

func newFullRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "full-run",
		Short: "Run collection, extraction, classification and scoring in order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			rounds := a.Config().Pipeline.DetailsRounds
			var out fullRunSummary
			steps := []struct {
				name string
				dst  *any
				fn   func(ctx context.Context) (any, error)
			}{
				{"collect-sources", &out.Sources, func(ctx context.Context) (any, error) { return a.Collector().Run(ctx) }},
				{"collect-details", &out.Details, func(ctx context.Context) (any, error) { return a.Extractor(rounds).Run(ctx) }},
				{"classify", &out.Classify, func(ctx context.Context) (any, error) { return a.Classifier().Run(ctx) }},
				{"compute-scores", &out.Scores, func(ctx context.Context) (any, error) { return a.Scoring().ComputeScores(ctx) }},
				{"compute-priority", &out.Priority, func(ctx context.Context) (any, error) { return a.Scoring().ComputePriority(ctx) }},
			}
			err = a.RunJob(cmd.Context(), "full-run", func(ctx context.Context) error {
				for _, s := range steps {
					err := a.RunJob(ctx, s.name, func(ctx context.Context) error {
						res, err := s.fn(ctx)
						if err != nil {
							return err
						}
						*s.dst = res
						a.Logger().Info("stage finished", zap.String("stage", s.name), zap.Any("result", res))
						return nil
					})
					if err != nil {
						return fmt.Errorf("%s: %w", s.name, err)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newSendDigestCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "send-digest",
		Short: "Publish today's digest to every pending subscriber",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return a.RunJob(cmd.Context(), "send-digest", func(ctx context.Context) error {
				res, err := a.Sender(dryRun).Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "build one sample digest without publishing or logging")
	return cmd
}
