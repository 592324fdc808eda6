package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"channel-gateway/internal/app"
	"channel-gateway/internal/bootstrap"
	"channel-gateway/internal/config"
	"channel-gateway/internal/ports"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	logger  *slog.Logger
	asJSON  bool
	verbose bool
)

func main() {
	root := &cobra.Command{
		Use:   "inboxctl",
		Short: "Operator tool for the channel gateway",
		Long:  "inboxctl inspects configured channels and finds and merges duplicate contacts.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "print results as JSON")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")

	root.AddCommand(channelsCmd())
	root.AddCommand(duplicatesCmd())
	root.AddCommand(mergeCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// withServices loads configuration, opens the store and hands fn the
// services. Domain events are published when a broker is configured.
func withServices(fn func(ctx context.Context, svc bootstrap.Services) error) error {
	conf, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	repo, closeRepo, err := bootstrap.OpenStore(conf, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	events, closeEvents, err := bootstrap.OpenEvents(conf, logger)
	if err != nil {
		return err
	}
	defer closeEvents()

	return fn(context.Background(), bootstrap.NewServices(conf, repo, events, logger))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func channelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List channels whose provider credentials are configured",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(func(_ context.Context, svc bootstrap.Services) error {
				chans := svc.Registry.Configured()
				if asJSON {
					return printJSON(chans)
				}
				if len(chans) == 0 {
					fmt.Println("no channels configured")
					return nil
				}
				for _, ch := range chans {
					fmt.Println(ch)
				}
				return nil
			})
		},
	}
}

func duplicatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "duplicates",
		Short: "List groups of contacts that look like the same person",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(func(ctx context.Context, svc bootstrap.Services) error {
				groups, err := svc.Contacts.FindDuplicates(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(groups)
				}
				if len(groups) == 0 {
					fmt.Println("no duplicates found")
					return nil
				}
				for i, g := range groups {
					fmt.Printf("group %d\n", i+1)
					for _, dc := range g.Contacts {
						reason := string(dc.Reason)
						if reason == "" {
							reason = "primary"
						}
						fmt.Printf("  %s  %-24s %-8s messages=%d notes=%d\n",
							dc.Contact.ID, dc.Contact.FullName(), reason,
							dc.Activity.Messages, dc.Activity.Notes)
					}
				}
				return nil
			})
		},
	}
}

func mergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge PRIMARY_ID DUPLICATE_ID...",
		Short: "Fold duplicate contacts into a primary contact",
		Long: `Moves messages, notes and scheduled messages from each duplicate onto the
primary and deletes the duplicate. Merging stops at the first failure;
duplicates merged before it stay merged.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			return withServices(func(ctx context.Context, svc bootstrap.Services) error {
				report, err := svc.Contacts.Merge(ctx, ids[0], ids[1:])
				if err != nil && report.FailedID == nil {
					return err
				}
				if asJSON {
					if perr := printJSON(report); perr != nil {
						return perr
					}
				} else {
					printReport(report)
				}
				return err
			})
		},
	}
}

func parseIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, len(args))
	for i, a := range args {
		id, err := uuid.Parse(strings.TrimSpace(a))
		if err != nil {
			return nil, fmt.Errorf("%q is not a contact id", a)
		}
		ids[i] = id
	}
	return ids, nil
}

func printReport(r app.MergeReport) {
	fmt.Printf("primary %s: merged %d contact(s)\n", r.PrimaryID, len(r.Merged))
	printMoved(r.Moved)
	if r.FailedID != nil {
		fmt.Printf("stopped at %s: %s\n", r.FailedID, r.Error)
	}
}

func printMoved(m ports.MergeCounts) {
	fmt.Printf("  moved messages=%d notes=%d scheduled=%d\n", m.Messages, m.Notes, m.ScheduledMessages)
}
