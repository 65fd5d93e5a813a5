package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pvconverge/pvconverge/pkg/cluster"
	"github.com/pvconverge/pvconverge/pkg/engine"
	"github.com/pvconverge/pvconverge/pkg/platform"
	"github.com/pvconverge/pvconverge/pkg/transports/ssh"
)

func newFactsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Detect cluster facts on the target host",
		Long: `Query the target host and report its cluster facts.

Detection tries the structured status API first, then the text fallback,
and degrades to standalone when neither yields a usable answer. Quorum is
reported as true, false, or unknown.`,
		Example: `  # Show cluster facts
  pvconverge facts

  # As JSON
  pvconverge facts --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tel, err := newTelemetry()
			if err != nil {
				return err
			}
			ctx := tel.WithContext(cmd.Context())
			defer func() { _ = tel.Shutdown(ctx) }()

			doc, err := loadDocument()
			if err != nil {
				return err
			}

			sshCfg := ssh.DefaultConfig(doc.Connection.Host, doc.Connection.User)
			if doc.Connection.Port != 0 {
				sshCfg.Port = doc.Connection.Port
			}
			sshCfg.PrivateKeyPath = doc.Connection.CredentialPath

			transport, err := ssh.NewClient(sshCfg)
			if err != nil {
				return err
			}
			if err := transport.Connect(ctx); err != nil {
				return engine.NewConnectivityError(
					fmt.Sprintf("failed to connect to %s", sshCfg.Address()), err)
			}
			defer func() { _ = transport.Disconnect() }()

			fact := cluster.Detect(ctx, platform.NewQuery(transport))

			if jsonOutput {
				return printJSON(fact)
			}

			fmt.Println(fact.String())
			if fact.Exists {
				fmt.Printf("  name:    %s\n", fact.Name)
				fmt.Printf("  quorate: %s\n", fact.Quorate)
				if fact.NodeCount != cluster.NodeCountUnknown {
					fmt.Printf("  nodes:   %d\n", fact.NodeCount)
				}
				fmt.Printf("  source:  %s\n", fact.Source)
			}
			return nil
		},
	}

	return cmd
}
