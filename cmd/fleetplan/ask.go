package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"fleetplan/internal/db"
	"fleetplan/internal/engine"
	"fleetplan/internal/intent"
	"fleetplan/internal/projection"
)

const askStateFile = "session.yml"

// askState is what `fleetplan ask` remembers between invocations: the period on screen
// and a plan being built up over several commands.
type askState struct {
	Year      int             `yaml:"year"`
	Month     int             `yaml:"month"`
	View      string          `yaml:"view"`
	Highlight string          `yaml:"highlight,omitempty"`
	Pending   *intent.Pending `yaml:"pending,omitempty"`
}

func defaultAskState(now time.Time) askState {
	return askState{Year: now.Year(), Month: int(now.Month()) - 1, View: intent.ViewAnnual}
}

func loadAskState(path string, now time.Time) (askState, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return defaultAskState(now), nil
	}
	if err != nil {
		return askState{}, err
	}
	st := defaultAskState(now)
	if err := yaml.Unmarshal(data, &st); err != nil {
		return askState{}, fmt.Errorf("read %s: %w", path, err)
	}
	if st.View != intent.ViewMonthly {
		st.View = intent.ViewAnnual
	}
	if !projection.ValidMonth(st.Month) {
		st.Month = 0
	}
	return st, nil
}

func saveAskState(path string, st askState) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func askCmd() *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "ask <command...>",
		Short: "Run a free-text planning command",
		Long: `Ask reads a short planning command in English or Chinese and runs it, for example:
  fleetplan ask "preschedule 2026 balanced"
  fleetplan ask "also schedule special"
  fleetplan ask "switch to 5月"
  fleetplan ask "busiest month"
The year, month and view it works on are kept in .fleetplan/session.yml.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := db.EnsureWorkspace(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			path := filepath.Join(dir, askStateFile)
			if reset {
				if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
					return err
				}
			}
			st, err := loadAskState(path, time.Now())
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			if strings.TrimSpace(text) == "" {
				text = "help"
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				if err := runAsk(ctx, os.Stdout, s, &st, text); err != nil {
					return err
				}
				return saveAskState(path, st)
			})
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "forget the remembered period and pending plan")
	return cmd
}

// runAsk classifies text against st, runs it and updates st.
func runAsk(ctx context.Context, w io.Writer, s *session, st *askState, text string) error {
	in := intent.Classify(text, intent.Context{
		Year:       st.Year,
		Month:      st.Month,
		View:       st.View,
		Categories: s.catalog.CategoryNames(),
		Pending:    st.Pending,
	})
	s.logger.Debug("ask", "text", text, "kind", in.Kind, "year", in.Year, "month", in.Month)

	switch in.Kind {
	case intent.Help:
		fmt.Fprint(w, askHelp)
		return nil

	case intent.PreScheduleAnnual, intent.PreScheduleMonthly:
		monthly := in.Kind == intent.PreScheduleMonthly
		if err := askPreSchedule(ctx, w, s, in.Year, in.Month, in.Categories, monthly); err != nil {
			return err
		}
		st.Year = in.Year
		st.Pending = &intent.Pending{Year: in.Year, Month: in.Month, Categories: in.Categories}
		st.View = intent.ViewAnnual
		if monthly {
			st.Month = in.Month
			st.View = intent.ViewMonthly
		}
		return nil

	case intent.ContinueSchedule:
		if len(in.Added) == 0 {
			fmt.Fprintf(w, "Already planned: %s\n", strings.Join(in.Categories, ", "))
			return nil
		}
		if err := askPreSchedule(ctx, w, s, in.Year, in.Month, in.Added, in.Month >= 0); err != nil {
			return err
		}
		st.Pending.Categories = in.Categories
		return nil

	case intent.Import:
		fmt.Fprintln(w, "Import a catalog with: fleetplan catalog import <file>")
		return nil

	case intent.Highlight:
		st.Highlight = in.Highlight
		return askOverview(ctx, w, s, st, in.Highlight)

	case intent.SwitchView:
		st.View = in.View
		return askOverview(ctx, w, s, st, st.Highlight)

	case intent.SwitchYear:
		st.Year = in.Year
		st.View = intent.ViewAnnual
		return askOverview(ctx, w, s, st, st.Highlight)

	case intent.SwitchMonth:
		st.Month = in.Month
		st.View = intent.ViewMonthly
		return askOverview(ctx, w, s, st, st.Highlight)

	case intent.CountTasks:
		o, label, err := askViewOverview(ctx, s, st, in.View, "")
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %d tasks\n", label, o.TotalTasks)
		return nil

	case intent.Busiest:
		o, label, err := askViewOverview(ctx, s, st, in.View, "")
		if err != nil {
			return err
		}
		if o.BusiestPeriod < 0 || o.BusiestManHours == 0 {
			fmt.Fprintf(w, "%s: nothing planned\n", label)
			return nil
		}
		unit := "day"
		if in.View == intent.ViewAnnual {
			unit = "month"
		}
		fmt.Fprintf(w, "%s: busiest %s is %s with %s man-hours\n", label, unit, periodLabel(unit, o.BusiestPeriod), formatHours(o.BusiestManHours))
		return nil

	default:
		fmt.Fprintf(w, "Not understood: %q. Try `fleetplan ask help`.\n", text)
		return nil
	}
}

func askPreSchedule(ctx context.Context, w io.Writer, s *session, year, month int, categories []string, monthly bool) error {
	opts := engine.PreScheduleOptions{Year: year, Categories: categories, ActorID: viper.GetString("actor-id")}
	period := fmt.Sprintf("%d", year)
	if monthly {
		opts.Month = month
		period = fmt.Sprintf("%d-%02d", year, month+1)
	}
	res, err := s.preSchedule(ctx, opts, monthly)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Planned %s for %s: %d tasks (seed %d)\n", strings.Join(categories, ", "), period, res.Created, res.Seed)
	return nil
}

func askOverview(ctx context.Context, w io.Writer, s *session, st *askState, highlight string) error {
	o, label, err := askViewOverview(ctx, s, st, st.View, highlight)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, label)
	period := "month"
	if st.View == intent.ViewMonthly {
		period = "day"
	}
	renderOverview(w, o, period)
	return nil
}

// askViewOverview summarizes the remembered period of view and names it.
func askViewOverview(ctx context.Context, s *session, st *askState, view, highlight string) (projection.Overview, string, error) {
	monthly := view == intent.ViewMonthly
	o, _, err := overview(ctx, s, st.Year, st.Month, monthly, highlight)
	if err != nil {
		return projection.Overview{}, "", err
	}
	label := fmt.Sprintf("%d", st.Year)
	if monthly {
		label = fmt.Sprintf("%d-%02d", st.Year, st.Month+1)
	}
	return o, label, nil
}

const askHelp = `Commands:
  preschedule 2026 [balanced|special|dedicated]   generate the annual plan (预排2026年计划)
  preschedule march 2026 balanced                 generate a month's plan (先排2026年3月的均衡修)
  also schedule special                           add a category to the plan just generated (再排特别修)
  highlight special                               rank periods by a category's man-hours (高亮特别修)
  annual view / monthly view                      switch view (年视图 / 月视图)
  2027 / may                                      switch year or month (切换到5月)
  how many tasks                                  count tasks in view (多少任务)
  busiest                                         busiest month or day (最忙)
`
