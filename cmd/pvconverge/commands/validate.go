package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pvconverge/pvconverge/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the collected resources document locally",
		Long: `Validate the collected resources document without contacting the
target host.

Checks structural validity (connection settings, category names, identity
attributes) and evaluates the built-in and operator-supplied policies
against the collected records. The merge against applied state happens
only during deploy; validate sees the collected document as-is.`,
		Example: `  # Validate the default document
  pvconverge validate

  # Validate a specific document with extra policies
  pvconverge validate -c ./resources.yaml --policy-dir ./policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tel, err := newTelemetry()
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown(cmd.Context()) }()

			doc, err := loadDocument()
			if err != nil {
				return err
			}

			policies, err := policy.NewEngine(tel.Logger.Zerolog())
			if err != nil {
				return err
			}
			if policyDir != "" {
				if err := policies.LoadDir(policyDir); err != nil {
					return err
				}
			}

			result, err := policies.Evaluate(cmd.Context(), doc)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(result)
			}

			for _, w := range result.Warnings {
				fmt.Printf("warning: [%s] %s\n", w.Policy, w.Message)
			}
			for _, v := range result.Violations {
				fmt.Printf("error: [%s] %s\n", v.Policy, v.Message)
			}
			if !result.Allowed {
				return fmt.Errorf("validation failed with %d violation(s)", len(result.Violations))
			}

			fmt.Printf("Document valid: %d record(s) across %d categor(ies)\n",
				doc.RecordCount(), len(doc.Categories))
			return nil
		},
	}

	return cmd
}
