package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func newRulesetCommand(app *App) *cobra.Command {
	var showMappings bool

	cmd := &cobra.Command{
		Use:   "ruleset",
		Short: "Show the published ruleset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Rules == nil {
				return errNotConnected
			}
			resp, err := app.Rules.CurrentRuleset(cmd.Context())
			if err != nil {
				return err
			}
			rs := resp.Ruleset

			out := cmd.OutOrStdout()
			printTitle(out, fmt.Sprintf("Ruleset v%d", rs.Version))
			printDetail(out, "published %s", rs.PublishedAt.UTC().Format(time.RFC3339))
			if resp.ArchiveKey != nil {
				printDetail(out, "archived at %s", *resp.ArchiveKey)
			}

			t := newTable("Section", "Entries")
			t.Row("outcome mappings", fmt.Sprint(len(rs.OutcomeMappings)))
			t.Row("override rules", fmt.Sprint(len(rs.OverrideRules)))
			t.Row("sync rules", fmt.Sprint(len(rs.SyncRules)))
			t.Row("stability locks", fmt.Sprint(len(rs.StabilityLocks)))
			printTable(out, t)

			if len(rs.OverrideRules) > 0 {
				rules := newTable("Priority", "ID", "Type", "Purpose", "Outcome", "Stage", "Active")
				for _, r := range rs.OverrideRules {
					rules.Row(fmt.Sprint(r.Priority), r.ID, r.ActivityType, r.Purpose, r.Outcome, string(r.Stage), fmt.Sprint(r.IsActive))
				}
				printTable(out, rules)
			}

			if showMappings {
				rows := resp.Mappings
				sort.SliceStable(rows, func(i, j int) bool {
					if rows[i].ActivityType != rows[j].ActivityType {
						return rows[i].ActivityType < rows[j].ActivityType
					}
					return rows[i].Purpose < rows[j].Purpose
				})
				m := newTable("Type", "Purpose", "Outcome", "Stage", "Score", "Win %")
				for _, r := range rows {
					m.Row(r.ActivityType, r.Purpose, r.Outcome, string(r.Stage), fmt.Sprint(r.Score), percent(r.Probability))
				}
				printTable(out, m)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showMappings, "mappings", false, "list every outcome mapping")
	return cmd
}
