package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pvconverge/pvconverge/pkg/engine"
)

func newDeployCommand() *cobra.Command {
	var (
		destroyOverride bool
		skipVerify      bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Run the full deployment pipeline",
		Long: `Run the full deployment pipeline against the target host.

The pipeline merges the collected resource definitions with the applied
state, validates the result, plans via the apply engine, evaluates the
destruction guard, applies the saved plan, and verifies the outcome.

A deployment that would destroy managed resources is blocked unless
--destroy-override is given; the override still lists every resource the
plan will destroy.`,
		Example: `  # Deploy with defaults
  pvconverge deploy

  # Deliberately allow a destructive deployment
  pvconverge deploy --destroy-override

  # Deploy without post-apply verification
  pvconverge deploy --skip-verify`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, ctx, err := setupRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			report, runErr := rt.pipeline.Run(ctx, rt.doc, engine.Options{
				OverrideDestroy: destroyOverride,
				SkipVerify:      skipVerify,
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

	cmd.Flags().BoolVar(&destroyOverride, "destroy-override", false, "allow a deployment that destroys managed resources")
	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "skip post-apply verification")

	return cmd
}

// printReport renders a run report for humans.
func printReport(report *engine.RunReport) {
	fmt.Printf("Run:     %s\n", report.RunID)
	fmt.Printf("Status:  %s\n", report.Status)
	fmt.Printf("Cluster: %s\n", report.Cluster.String())
	if report.Plan.Summary != "" {
		fmt.Printf("Plan:    %s\n", report.Plan.Summary)
	}
	fmt.Println("Stages:")
	for _, s := range report.Stages {
		line := fmt.Sprintf("  %-10s %s", s.Stage, s.Result)
		if s.Result != "skipped" {
			line += fmt.Sprintf(" (%s)", s.Duration.Round(time.Millisecond))
		}
		if s.Error != "" {
			line += fmt.Sprintf(" - %s", s.Error)
		}
		fmt.Println(line)
	}
	for _, ref := range report.Guard.DestructiveKeys {
		fmt.Printf("Destructive: %s\n", ref.String())
	}
	for _, w := range report.VerifyWarnings {
		fmt.Printf("Warning: %s\n", w)
	}
}
