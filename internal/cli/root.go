package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// Exit code for a command that ran but reported per-item failures.
const exitPartialFailure = 2

// NewRootCommand builds the stagectl command tree.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "stagectl",
		Short: "Operate the sales pipeline stage engine",
		Long: `stagectl runs maintenance and reporting tasks against the stage engine
using the currently published ruleset.

Connection settings come from the same environment as the API
(DATABASE_URL, REDIS_URL, MINIO_*).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := app.connect(cmd.Context()); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			return nil
		},
	}

	root.AddCommand(
		newResyncCommand(app),
		newRecalcCommand(app),
		newDensityCommand(app),
		newForecastCommand(app),
		newStalledCommand(app),
		newClassifyCommand(app),
		newAlertsCommand(app),
		newRulesetCommand(app),
	)
	return root
}

// Execute runs stagectl with args and returns the process exit code.
func Execute(ctx context.Context, app *App, args []string) int {
	defer app.Close()

	cmd := NewRootCommand(app)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		if code, ok := IsExitError(err); ok {
			return code
		}
		fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("error: "+err.Error()))
		return 1
	}
	return 0
}
