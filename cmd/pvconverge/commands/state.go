package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/pvconverge/pvconverge/pkg/artifact"
	"github.com/pvconverge/pvconverge/pkg/config"
	"github.com/pvconverge/pvconverge/pkg/stores"
)

func newStateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect applied state and run history",
	}

	cmd.AddCommand(newStateListCommand())
	cmd.AddCommand(newStateShowCommand())
	cmd.AddCommand(newStateArtifactCommand())
	cmd.AddCommand(newStateRunsCommand())
	cmd.AddCommand(newStateEventsCommand())

	return cmd
}

func newStateArtifactCommand() *cobra.Command {
	var showDocument bool

	cmd := &cobra.Command{
		Use:   "artifact",
		Short: "Show the latest persisted desired-state artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := artifact.NewStore(dataDir)
			if err != nil {
				return err
			}

			latest, err := store.Latest()
			if err != nil {
				return fmt.Errorf("no artifact recorded yet: %w", err)
			}

			if !showDocument {
				if jsonOutput {
					return printJSON(map[string]string{"path": latest})
				}
				fmt.Println(latest)
				return nil
			}

			doc, err := artifact.ReadFile(latest)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(doc)
			}
			fmt.Printf("# %s\n", latest)
			for _, category := range config.AllCategories() {
				records := doc.Records(category)
				if len(records) == 0 {
					continue
				}
				keys := make([]string, 0, len(records))
				for k := range records {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				fmt.Printf("%s: %d record(s)\n", category, len(keys))
				for _, k := range keys {
					fmt.Printf("  %s\n", k)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showDocument, "document", false, "print the document contents, not just the path")
	return cmd
}

func newStateListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every resource address in the applied state",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, ctx, err := setupRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			addresses, err := rt.engine.StateList(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(addresses)
			}
			for _, addr := range addresses {
				fmt.Println(addr)
			}
			return nil
		},
	}
}

func newStateShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <address>",
		Short: "Show the attributes of one applied resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, ctx, err := setupRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			attrs, err := rt.engine.StateShow(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(attrs)
			}
			keys := make([]string, 0, len(attrs))
			for k := range attrs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s = %s\n", k, attrs[k])
			}
			return nil
		},
	}
}

func newStateRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded deployment runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runs, err := store.ListRuns(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(runs)
			}
			for _, run := range runs {
				line := fmt.Sprintf("%s  %-9s  %s", run.ID, run.Status, run.StartedAt.Format("2006-01-02 15:04:05"))
				if run.Error != nil {
					line += fmt.Sprintf("  %s", *run.Error)
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func newStateEventsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Show the event timeline of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			events, err := store.ListEvents(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(events)
			}
			for _, event := range events {
				stage := ""
				if event.Stage != nil {
					stage = *event.Stage
				}
				fmt.Printf("%s  %-7s  %-8s  %s\n",
					event.CreatedAt.Format("15:04:05"), event.Level, stage, event.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of events to show")
	return cmd
}

// openHistory opens the run-history database without touching the network.
func openHistory(ctx context.Context) (stores.Store, error) {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: filepath.Join(dataDir, "pvconverge.db"),
	})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}
