package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/the-pantry-must-flow/internal/cli"
	"github.com/joshsymonds/the-pantry-must-flow/internal/learning"
)

func learnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learn",
		Short: "Inspect and run prediction learning",
	}
	cmd.AddCommand(learnTriggerCmd())
	cmd.AddCommand(learnSummaryCmd())
	return cmd
}

func learnTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Fold pending feedback into a learning update",
		Long: `Create a learning update from pending feedback. Nothing happens until at
least learning.threshold feedback rows are pending.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			update, err := a.learning.Trigger(ctx)
			if errors.Is(err, learning.ErrBelowThreshold) {
				fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("Not enough pending feedback (need %d)", cfg.Learning.Threshold)))
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Learning update %d created from %d feedback rows, average accuracy %.1f%% (%s)",
				update.ID, update.FeedbackCount, update.AverageAccuracy, update.Trend)))
			return nil
		},
	}
}

func learnSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show the learning summary used in prediction prompts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			format, _ := cmd.Flags().GetString("output")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			summary, err := a.learning.Summarize(ctx)
			if err != nil {
				return err
			}
			return cli.Write(cmd.OutOrStdout(), format, summary, func() string {
				return cli.RenderSummary(summary)
			})
		},
	}
	cmd.Flags().StringP("output", "o", cli.FormatText, "output format (text, yaml, json)")
	return cmd
}

func analyticsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Report prediction accuracy over time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			format, _ := cmd.Flags().GetString("output")
			days, _ := cmd.Flags().GetInt("days")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			report, err := a.learning.Analytics(ctx, days)
			if err != nil {
				return err
			}
			return cli.Write(cmd.OutOrStdout(), format, report, func() string {
				return cli.RenderAnalytics(report)
			})
		},
	}
	cmd.Flags().Int("days", learning.DefaultAnalyticsDays, "days of learning updates to include")
	cmd.Flags().StringP("output", "o", cli.FormatText, "output format (text, yaml, json)")
	return cmd
}
