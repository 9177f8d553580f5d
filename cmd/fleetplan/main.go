package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleetplan/internal/app"
	"fleetplan/internal/catalog"
	"fleetplan/internal/coordinator"
	"fleetplan/internal/db"
	"fleetplan/internal/domain"
	"fleetplan/internal/engine"
	"fleetplan/internal/migrate"
	fleetplansdk "fleetplan/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "fleetplan",
	Short: "Fleet maintenance planning CLI",
	Long: `Fleetplan keeps the annual and monthly maintenance plans of a vehicle fleet.
- Catalog: fleetplan.yml lists the maintenance categories (with their report rows per month), the task codes with their standard man-hours, and the vehicles.
- Annual plan: every vehicle gets up to <capacity> task codes per category per month.
- Monthly plan: every vehicle/day cell holds the task codes done that day.
- Views: plans are projected into grids with man-hour totals and summary counts; edits are written to the store and the view is reloaded.
- Remote: with --remote the same commands run against a 'fleetplan serve' instance.
- Event log: every write is recorded, view with 'fleetplan log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString("remote") != "" {
			return nil
		}
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FLEETPLAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	rootCmd.PersistentFlags().String("fleet", "", "fleet id (overrides the stored catalog)")
	rootCmd.PersistentFlags().String("remote", "", "base URL of a fleetplan server")
	rootCmd.PersistentFlags().String("api-key", "", "API key for --remote")
	rootCmd.PersistentFlags().String("token", "", "bearer token for --remote")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "json", "actor-id", "force", "fleet", "remote", "api-key", "token", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(editCmd())
	rootCmd.AddCommand(prescheduleCmd())
	rootCmd.AddCommand(overviewCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

// recordSource is what the schedule commands need from either the local engine or a
// remote server.
type recordSource interface {
	coordinator.Source
	AnnualAssignments(ctx context.Context, year int, categories []string) ([]domain.Assignment, error)
	MonthlyAssignments(ctx context.Context, year, month int, categories []string) ([]domain.Assignment, error)
}

// session is a resolved catalog plus the store it is enforced by. local is nil when the
// commands run against --remote.
type session struct {
	catalog *catalog.Catalog
	source  recordSource
	local   *engine.Engine
	remote  *fleetplansdk.Client
	logger  *slog.Logger
}

func (s *session) coordinator() (*coordinator.Coordinator, error) {
	return coordinator.New(s.source, s.catalog, coordinator.Options{
		Logger:  s.logger,
		ActorID: viper.GetString("actor-id"),
	})
}

func (s *session) preSchedule(ctx context.Context, opts engine.PreScheduleOptions, monthly bool) (engine.PreScheduleResult, error) {
	if s.local != nil {
		if monthly {
			return s.local.PreScheduleMonthly(ctx, opts)
		}
		return s.local.PreScheduleAnnual(ctx, opts)
	}
	req := fleetplansdk.PreScheduleRequest{Year: opts.Year, Categories: opts.Categories, Seed: opts.Seed}
	if monthly {
		month := opts.Month
		req.Month = &month
	}
	res, err := s.remote.PreSchedule(ctx, req)
	if err != nil {
		return engine.PreScheduleResult{}, err
	}
	return engine.PreScheduleResult{Created: res.Created, Removed: res.Removed, Skipped: res.Skipped, Seed: res.Seed}, nil
}

func withSession(ctx context.Context, fn func(context.Context, *session) error) error {
	logger := newLogger()
	if remote := viper.GetString("remote"); remote != "" {
		client := fleetplansdk.New(remote)
		client.APIKey = viper.GetString("api-key")
		client.BearerToken = viper.GetString("token")
		c, err := client.Catalog(ctx)
		if err != nil {
			return fmt.Errorf("load remote catalog: %w", err)
		}
		if fleet := viper.GetString("fleet"); fleet != "" && fleet != c.Fleet.ID {
			return fmt.Errorf("server plans fleet %s, not %s", c.Fleet.ID, fleet)
		}
		return fn(ctx, &session{catalog: c, source: client, remote: client, logger: logger})
	}
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		return fn(ctx, &session{catalog: e.Catalog, source: e, local: &e, logger: logger})
	})
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	if viper.GetString("remote") != "" {
		return fmt.Errorf("this command works on the local workspace only; drop --remote")
	}
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, nil)
	c, err := app.ResolveCatalog(ctx, workspace, viper.GetString("fleet"), viper.GetString("actor-id"), e)
	if err != nil {
		return err
	}
	e.Catalog = c
	return fn(ctx, e)
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// splitList parses a comma separated flag value.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// monthIndex converts a 1-12 --month flag to the zero-based month the store uses.
func monthIndex(month int) (int, error) {
	if month < 1 || month > 12 {
		return 0, fmt.Errorf("--month must be 1-12, got %d", month)
	}
	return month - 1, nil
}
