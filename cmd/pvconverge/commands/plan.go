package commands

import (
	"github.com/spf13/cobra"

	"github.com/pvconverge/pvconverge/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute a plan without applying it",
		Long: `Compute the deployment plan without applying it.

The pipeline runs through merge, validation, planning, and the guard, then
stops. The saved plan artifact stays on the target host; a later deploy
recomputes its own plan rather than applying a stale one.`,
		Example: `  # Preview pending changes
  pvconverge plan

  # Preview as JSON
  pvconverge plan --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, ctx, err := setupRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			report, runErr := rt.pipeline.Run(ctx, rt.doc, engine.Options{
				PlanOnly: true,
			})

			if jsonOutput {
				if err := printJSON(report); err != nil {
					return err
				}
			} else {
				printReport(report)
			}
			return runErr
		},
	}

	return cmd
}
