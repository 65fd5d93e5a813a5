package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	dataDir    string
	policyDir  string
	verbose    bool
	jsonOutput bool
	noHistory  bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pvconverge",
		Short: "pvconverge - Proxmox reconciliation and safe-deployment orchestrator",
		Long: `pvconverge reconciles collected Proxmox resource definitions with the
state already applied by the declarative engine and drives deployments
through a staged pipeline with a destruction guard.

The pipeline:
  - Merges collected definitions with the applied-state snapshot
  - Validates the merged document structurally and against policies
  - Plans via the external apply engine and saves the plan artifact
  - Blocks deployments that would silently destroy managed resources
  - Applies the saved plan verbatim and verifies the result`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/pvconverge/resources.yaml", "collected resources document path")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "/var/lib/pvconverge", "local data directory for artifacts and run history")
	rootCmd.PersistentFlags().StringVar(&policyDir, "policy-dir", "", "directory of additional .rego policies")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noHistory, "no-history", false, "disable run-history recording")

	// Add subcommands
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newFactsCommand())
	rootCmd.AddCommand(newStateCommand())

	return rootCmd
}
