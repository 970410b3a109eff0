package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResyncCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "resync-deals",
		Short: "Recompute every deal stage from its leads",
		Long: `Re-run deal synchronisation for every deal with the published ruleset.

Exits with status 2 when any deal failed to sync.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.engine()
			if err != nil {
				return err
			}
			resp, err := engine.ResyncAllDeals(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printTitle(out, "Deal resync")
			t := newTable("Evaluated", "Changed", "Failed")
			t.Row(fmt.Sprint(resp.Evaluated), fmt.Sprint(resp.Changed), fmt.Sprint(resp.Failed))
			printTable(out, t)
			for _, e := range resp.Errors {
				fmt.Fprintln(out, errorStyle.Render("  "+e))
			}
			if resp.Failed > 0 {
				return NewExitError(exitPartialFailure)
			}
			return nil
		},
	}
}

func newRecalcCommand(app *App) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "recalc-activity",
		Short: "Realign last activity timestamps with recorded activities",
		Long: `Recompute last_activity_at for every lead and deal from its completed
activities and write the rows that drifted.

Example:
  stagectl recalc-activity --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.engine()
			if err != nil {
				return err
			}
			resp, err := engine.RecalculateLastActivity(cmd.Context(), dryRun)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if resp.DryRun {
				printTitle(out, "Last activity drift (dry run)")
			} else {
				printTitle(out, "Last activity recalculated")
			}
			if resp.Count == 0 {
				fmt.Fprintln(out, okStyle.Render("nothing to change"))
				return nil
			}
			t := newTable("Entity", "ID", "Stored", "Computed")
			for _, c := range resp.Changes {
				t.Row(c.EntityType, c.EntityID.String(), formatTime(c.Previous), formatTime(c.Computed))
			}
			printTable(out, t)
			printDetail(out, "%d rows", resp.Count)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report drift without writing")
	return cmd
}

func newAlertsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "alerts",
		Short: "Run one pipeline alert sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := app.engine()
			if err != nil {
				return err
			}
			resp, err := engine.EvaluateAlerts(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printTitle(out, "Alert sweep")
			t := newTable("Evaluated", "Raised", "Refreshed", "Resolved")
			t.Row(fmt.Sprint(resp.Evaluated), fmt.Sprint(resp.Raised), fmt.Sprint(resp.Refreshed), fmt.Sprint(resp.Resolved))
			printTable(out, t)
			return nil
		},
	}
}
