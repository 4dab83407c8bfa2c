// Command fallguardctl is the operator CLI for the escalation service. It
// runs against the same storage and senders as the API server.
//
// Usage:
//
//	fallguardctl migrate
//	fallguardctl sweep once
//	fallguardctl sweep run --interval 30s
//	fallguardctl config show
//	fallguardctl config list
//	fallguardctl config create --name night --threshold 60 --channels email,sms,push
//	fallguardctl config activate 3
//	fallguardctl events list --status detected --subject 7
//	fallguardctl events explain 42
//	fallguardctl events dispatch 42 --force
//	fallguardctl events notifications 42
//	fallguardctl maintenance reap --stale-after 5m
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fallguard/fallguard/internal/alertconfig"
	"github.com/fallguard/fallguard/internal/app"
	"github.com/fallguard/fallguard/internal/config"
	"github.com/fallguard/fallguard/internal/db"
	"github.com/fallguard/fallguard/internal/escalation"
	"github.com/fallguard/fallguard/internal/falls"
	"github.com/fallguard/fallguard/internal/maintenance"
	"github.com/fallguard/fallguard/internal/sweep"
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	root := &cobra.Command{
		Use:          "fallguardctl",
		Short:        "Fallguard escalation operator CLI",
		SilenceUsage: true,
	}

	root.AddCommand(migrateCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(configCmd())
	root.AddCommand(eventsCmd())
	root.AddCommand(maintenanceCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// --------------------------------------------------------------------------
// migrate command
// --------------------------------------------------------------------------

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			if err := db.Migrate(cmd.Context(), cfg.DatabaseURL); err != nil {
				return err
			}
			logger.Info("Schema applied")
			return nil
		},
	}
}

// --------------------------------------------------------------------------
// sweep command
// --------------------------------------------------------------------------

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the escalation sweep",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "once",
		Short: "Run a single sweep tick and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app.App) error {
				result, err := a.Sweeper.Tick(ctx)
				if err != nil {
					return err
				}
				logger.Info("Sweep finished", "summary", result.Summary())
				return printJSON(result)
			})
		},
	})

	var interval time.Duration
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sweep on a schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app.App) error {
				if interval == 0 {
					interval = a.Cfg.SweepInterval
				}
				return sweep.NewScheduler(a.Sweeper, interval, logger).Start(ctx)
			})
		},
	}
	runCmd.Flags().DurationVar(&interval, "interval", 0, "Sweep interval (default SWEEP_INTERVAL)")
	cmd.AddCommand(runCmd)
	return cmd
}

// --------------------------------------------------------------------------
// config command
// --------------------------------------------------------------------------

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and change alert configurations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the active configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app.App) error {
				c, err := a.Configs.Active(ctx)
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print every configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app.App) error {
				list, err := a.Configs.List(ctx)
				if err != nil {
					return err
				}
				return printJSON(list)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "activate <id>",
		Short: "Make a configuration the only active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return run(func(ctx context.Context, a *app.App) error {
				c, err := a.Configs.Activate(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	})

	cmd.AddCommand(configCreateCmd())
	return cmd
}

func configCreateCmd() *cobra.Command {
	var (
		c        alertconfig.Config
		channels []string
		priority []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, ch := range channels {
				c.Channels = append(c.Channels, alertconfig.Channel(ch))
			}
			for _, r := range priority {
				c.ContactPriority = append(c.ContactPriority, alertconfig.Role(r))
			}
			return run(func(ctx context.Context, a *app.App) error {
				created, err := a.Configs.Create(ctx, c)
				if err != nil {
					return err
				}
				return printJSON(created)
			})
		},
	}
	d := alertconfig.Default()
	cmd.Flags().StringVar(&c.Name, "name", "", "Configuration name")
	cmd.Flags().StringVar(&c.Description, "description", "", "Description")
	cmd.Flags().IntVar(&c.ThresholdSeconds, "threshold", d.ThresholdSeconds, "Seconds in detected before escalation")
	cmd.Flags().IntVar(&c.EscalationDelaySeconds, "escalation-delay", d.EscalationDelaySeconds, "Escalation delay in seconds")
	cmd.Flags().IntVar(&c.MaxEscalationLevel, "max-level", d.MaxEscalationLevel, "Maximum escalation level")
	cmd.Flags().StringSliceVar(&channels, "channels", []string{"email", "sms"}, "Notification channels in order")
	cmd.Flags().StringSliceVar(&priority, "priority", []string{"primary", "secondary", "emergency"}, "Caregiver roles in contact order")
	cmd.Flags().BoolVar(&c.IsActive, "activate", false, "Activate after creating")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// --------------------------------------------------------------------------
// events command
// --------------------------------------------------------------------------

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect fall events",
	}

	var (
		status    string
		subjectID int64
		page      int
		perPage   int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List fall events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := falls.Filter{Page: page, PerPage: perPage}
			if status != "" {
				s := falls.Status(status)
				f.Status = &s
			}
			if subjectID > 0 {
				f.SubjectID = &subjectID
			}
			return run(func(ctx context.Context, a *app.App) error {
				p, err := a.Events.List(ctx, f)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "Filter by status")
	listCmd.Flags().Int64Var(&subjectID, "subject", 0, "Filter by subject id")
	listCmd.Flags().IntVar(&page, "page", 1, "Page")
	listCmd.Flags().IntVar(&perPage, "per-page", falls.DefaultPerPage, "Page size")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "explain <id>",
		Short: "Show whether and when an event will escalate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return run(func(ctx context.Context, a *app.App) error {
				e, err := a.Events.Get(ctx, id)
				if err != nil {
					return err
				}
				cfg, err := a.Configs.Active(ctx)
				if err != nil {
					return err
				}
				now := time.Now().UTC()
				remaining, can := escalation.Due(e, cfg, now)
				return printJSON(map[string]interface{}{
					"eventId":          e.ID,
					"status":           e.Status,
					"timeInState":      e.TimeInState(now).Round(time.Second).String(),
					"thresholdSeconds": cfg.ThresholdSeconds,
					"canEscalate":      can,
					"shouldEscalate":   escalation.ShouldEscalate(e, cfg, now),
					"dueIn":            remaining.Round(time.Second).String(),
				})
			})
		},
	})

	var force bool
	dispatchCmd := &cobra.Command{
		Use:   "dispatch <id>",
		Short: "Escalate one event now if it is due (or regardless, with --force)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return run(func(ctx context.Context, a *app.App) error {
				e, err := a.Events.Get(ctx, id)
				if err != nil {
					return err
				}
				cfg, err := a.Configs.Active(ctx)
				if err != nil {
					return err
				}
				if !force && !escalation.ShouldEscalate(e, cfg, time.Now().UTC()) {
					return fmt.Errorf("event %d is not due for escalation (use --force)", id)
				}
				if e.Status != falls.StatusDetected {
					return fmt.Errorf("event %d is %s and can no longer escalate", id, e.Status)
				}
				res, err := a.Dispatcher.Dispatch(ctx, e, cfg)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	dispatchCmd.Flags().BoolVar(&force, "force", false, "Skip the threshold check")
	cmd.AddCommand(dispatchCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "notifications <id>",
		Short: "Print the per-channel delivery records of an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return run(func(ctx context.Context, a *app.App) error {
				records, err := a.Store.ListByEvent(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(records)
			})
		},
	})
	return cmd
}

// --------------------------------------------------------------------------
// maintenance command
// --------------------------------------------------------------------------

func maintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Run housekeeping tasks once",
	}

	var staleAfter time.Duration
	reapCmd := &cobra.Command{
		Use:   "reap",
		Short: "Fail notification records stuck in pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app.App) error {
				if staleAfter == 0 {
					staleAfter = a.Cfg.PendingStaleAfter
				}
				n := maintenance.ReapStale(ctx, a.Store, staleAfter, time.Now().UTC(), logger)
				fmt.Printf("reaped %d records\n", n)
				return nil
			})
		},
	}
	reapCmd.Flags().DurationVar(&staleAfter, "stale-after", 0, "Pending age considered abandoned (default PENDING_STALE_AFTER)")
	cmd.AddCommand(reapCmd)

	var retain time.Duration
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Hard-delete long soft-deleted fall events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app.App) error {
				if retain == 0 {
					retain = a.Cfg.RetainDeleted
				}
				n := maintenance.PurgeDeleted(ctx, a.Store, retain, time.Now().UTC(), logger)
				fmt.Printf("purged %d events\n", n)
				return nil
			})
		},
	}
	purgeCmd.Flags().DurationVar(&retain, "retain", 0, "Retention for soft-deleted events (default RETAIN_DELETED)")
	cmd.AddCommand(purgeCmd)
	return cmd
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func run(fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer a.Close()

	return fn(ctx, a)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
