// cmd/compliancectl/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"compliance-workflow/internal/app"
	"compliance-workflow/internal/common/auth"
	"compliance-workflow/internal/common/config"
	"compliance-workflow/internal/common/database"
	"compliance-workflow/internal/common/logger"
	"compliance-workflow/internal/models"
	"compliance-workflow/internal/services/sweeper"
	"compliance-workflow/internal/services/txn"
	"compliance-workflow/internal/store"
	"compliance-workflow/internal/store/postgres"
)

type rootFlags struct {
	configPath string
	logLevel   string
}

func main() {
	var flags rootFlags
	root := &cobra.Command{
		Use:           "compliancectl",
		Short:         "Operate the compliance workflow backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Config file (defaults to configs/config.yaml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn", "Log level for command output")

	root.AddCommand(newSweepCmd(&flags), newStatsCmd(&flags), newMigrateCmd(&flags),
		newActivityCmd(&flags), newInboxCmd(&flags))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newSweepCmd(flags *rootFlags) *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Auto-accept observations whose response deadline has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			if asOf != "" {
				t, err := time.Parse(time.RFC3339, asOf)
				if err != nil {
					return fmt.Errorf("--as-of: %w", err)
				}
				now = t.UTC()
			}
			return withApp(cmd.Context(), flags, func(a *app.App) error {
				res, err := a.Sweeper.Sweep(cmd.Context(), now, sweeper.TriggerManual)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"asOf":      now.Format(time.RFC3339),
					"accepted":  res.Count,
					"failed":    res.Failed,
					"skipped":   res.Skipped,
					"contended": res.Contended,
				})
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "Evaluate deadlines at this RFC3339 instant instead of now")
	return cmd
}

func newStatsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "approval-stats",
		Short: "Print approval request counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(a *app.App) error {
				stats, err := a.Approvals.Stats(cmd.Context(), auth.System)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
}

func newActivityCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "activity <entity-type> <entity-id>",
		Short: "Print the audit trail of one entity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(a *app.App) error {
				var entries []*models.ActivityLog
				err := a.Runner.Run(cmd.Context(), func(tx store.Tx, _ *txn.Effects) error {
					var err error
					entries, err = tx.ListActivity(cmd.Context(), args[0], args[1])
					return err
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entries)
			})
		},
	}
}

func newInboxCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inbox <user-id>",
		Short: "Print the in-app notifications of one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), flags, func(a *app.App) error {
				var items []*models.Notification
				err := a.Runner.Run(cmd.Context(), func(tx store.Tx, _ *txn.Effects) error {
					var err error
					items, err = tx.ListNotifications(cmd.Context(), args[0])
					return err
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), items)
			})
		},
	}
}

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			pg, err := database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			defer pg.Close()
			if err := pg.WaitReady(cmd.Context(), 30*time.Second); err != nil {
				return fmt.Errorf("postgres not ready: %w", err)
			}
			if err := postgres.Migrate(cmd.Context(), pg.DB); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d statements\n", len(postgres.Statements()))
			return nil
		},
	}
}

func loadConfig(flags *rootFlags) (*config.Config, error) {
	if flags.configPath != "" {
		return config.LoadFromFile(flags.configPath)
	}
	return config.Load()
}

func withApp(ctx context.Context, flags *rootFlags, fn func(a *app.App) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	log := logger.FromConfig(logger.Options{Level: flags.logLevel, Format: "console", Output: "stderr"})

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
