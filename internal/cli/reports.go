package cli

import (
	"fmt"
	"time"

	"pipeline_backend/internal/pipeline/repository"

	"github.com/spf13/cobra"
)

func newDensityCommand(app *App) *cobra.Command {
	var entity string

	cmd := &cobra.Command{
		Use:   "density",
		Short: "Show the stage funnel with bottlenecks",
		Long: `Show how many leads or deals sit in each funnel stage, the conversion
between stages, and which stage holds entities longer than its target.

Example:
  stagectl density --entity deal`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			et := repository.EntityType(entity)
			if !et.IsValid() {
				return fmt.Errorf("--entity must be lead or deal, got %q", entity)
			}
			engine, err := app.engine()
			if err != nil {
				return err
			}
			report, err := engine.Density(cmd.Context(), et)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printTitle(out, fmt.Sprintf("Stage density (%s)", et))
			t := newTable("Stage", "Count", "Share", "Conversion", "Drop-off", "Avg days", "Target", "Bottleneck")
			for _, s := range report.Stages {
				avg := fmt.Sprint(s.AvgDays)
				if s.OverTarget {
					avg = warnStyle.Render(avg)
				}
				t.Row(
					string(s.Stage),
					fmt.Sprint(s.Count),
					fmt.Sprintf("%d%%", s.ConversionPct),
					fmt.Sprintf("%d%%", s.ConversionRate),
					fmt.Sprintf("%d%%", s.DropOffRate),
					avg,
					fmt.Sprint(s.TargetDays),
					yesNo(s.IsBottleneck),
				)
			}
			printTable(out, t)
			printDetail(out, "total %d, overall conversion %d%%", report.Total, report.OverallConversionPct)
			return nil
		},
	}
	cmd.Flags().StringVar(&entity, "entity", string(repository.EntityLead), "lead or deal")
	return cmd
}

func newForecastCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "forecast",
		Short: "Show weighted pipeline value and expected commission",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.engine()
			if err != nil {
				return err
			}
			resp, err := engine.Forecast(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printTitle(out, "Revenue forecast")
			t := newTable("Stage", "Deals", "Win %", "Value", "Weighted", "Commission")
			for _, s := range resp.Stages {
				t.Row(
					string(s.Stage),
					fmt.Sprint(s.Count),
					percent(s.WinProbability),
					money(s.TotalValue),
					money(s.WeightedValue),
					money(s.ExpectedCommission),
				)
			}
			t.Row("Total", "", "", money(resp.TotalValue), money(resp.WeightedValue), money(resp.ExpectedCommission))
			printTable(out, t)
			printDetail(out, "commission rate %s, ruleset v%d", percent(resp.CommissionRate), resp.RulesetVersion)
			return nil
		},
	}
}

func newStalledCommand(app *App) *cobra.Command {
	var stageDays, idleDays int

	cmd := &cobra.Command{
		Use:   "stalled",
		Short: "List deals stuck in a stage or without recent activity",
		Long: `List open deals that exceeded the stage-age or idle thresholds, most
severe first. Zero thresholds fall back to the engine defaults.

Example:
  stagectl stalled --stage-days 30 --idle-days 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if stageDays < 0 || idleDays < 0 {
				return fmt.Errorf("thresholds must not be negative")
			}
			engine, err := app.engine()
			if err != nil {
				return err
			}
			resp, err := engine.StalledDeals(cmd.Context(), stageDays, idleDays)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printTitle(out, "Stalled deals")
			if resp.Count == 0 {
				fmt.Fprintln(out, okStyle.Render("no stalled deals"))
				return nil
			}
			t := newTable("Deal", "Title", "Stage", "Stage days", "Idle days", "Severity", "Action")
			for _, d := range resp.Items {
				t.Row(
					d.DealID.String(),
					d.Title,
					string(d.Stage),
					fmt.Sprint(d.StageDays),
					fmt.Sprint(d.ActivityGapDays),
					string(d.Death.Severity),
					d.Death.SuggestedAction,
				)
			}
			printTable(out, t)
			printDetail(out, "%d deals", resp.Count)
			return nil
		},
	}
	cmd.Flags().IntVar(&stageDays, "stage-days", 0, "days since the last stage change")
	cmd.Flags().IntVar(&idleDays, "idle-days", 0, "days since the last activity")
	return cmd
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
