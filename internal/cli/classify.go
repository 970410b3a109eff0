package cli

import (
	"fmt"

	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/transport"

	"github.com/spf13/cobra"
)

func newClassifyCommand(app *App) *cobra.Command {
	var req transport.ClassifyRequest

	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Dry-run the stage classifier for one activity",
		Long: `Classify an activity against the published ruleset without saving
anything. With --current-stage the stability lock is checked too.

Example:
  stagectl classify --type Call --purpose "Follow Up" --outcome Interested \
    --current-stage Opportunity --activities 1 --days 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.CurrentStage != "" && !domain.IsKnownStage(req.CurrentStage) {
				return fmt.Errorf("unknown stage %q", req.CurrentStage)
			}
			if req.ActivitiesInStage < 0 || req.DaysInStage < 0 {
				return fmt.Errorf("--activities and --days must not be negative")
			}
			engine, err := app.engine()
			if err != nil {
				return err
			}
			resp, err := engine.Classify(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printTitle(out, "Classification")
			t := newTable("Stage", "Source", "Rule", "Win %")
			t.Row(string(resp.Classification.Stage), resp.Classification.Source, resp.Classification.RuleID, percent(resp.WinProbability))
			printTable(out, t)

			if resp.Transition != nil {
				verdict := okStyle.Render("allowed")
				if !resp.Transition.Allowed {
					verdict = errorStyle.Render("blocked")
				}
				fmt.Fprintf(out, "%s -> %s: %s\n", resp.CurrentStage, resp.Classification.Stage, verdict)
				printDetail(out, "%s", resp.Transition.Reason)
			}
			printDetail(out, "ruleset v%d", resp.RulesetVersion)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.ActivityType, "type", "", "activity type, e.g. Call")
	f.StringVar(&req.Purpose, "purpose", "", "activity purpose")
	f.StringVar(&req.Outcome, "outcome", "", "activity outcome")
	f.StringVar(&req.CurrentStage, "current-stage", "", "stage the entity is in now")
	f.IntVar(&req.ActivitiesInStage, "activities", 0, "completed activities in the current stage")
	f.IntVar(&req.DaysInStage, "days", 0, "days in the current stage")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}
