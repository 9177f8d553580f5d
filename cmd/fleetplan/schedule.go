package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleetplan/internal/catalog"
	"fleetplan/internal/coordinator"
	"fleetplan/internal/engine"
	"fleetplan/internal/projection"
)

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "catalog", Short: "Fleet catalog (categories, tasks, vehicles)"}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default fleetplan.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := catalog.Path(workspace)
			if _, err := os.Stat(path); err == nil && !viper.GetBool("force") {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			fleet := viper.GetString("fleet")
			if fleet == "" {
				fleet = "fleet"
			}
			if err := os.WriteFile(path, []byte(catalog.GenerateDefault(fleet)), 0o644); err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the catalog in use",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				c := s.catalog
				if viper.GetBool("json") {
					return printJSON(c)
				}
				fmt.Printf("Fleet %s: %d vehicles\n", c.Fleet.ID, len(c.Vehicles))
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Category", "Rows", "Tasks", "Man-hours"})
				for _, cat := range c.Categories {
					for _, code := range c.CodesByCategory(cat.Name) {
						def, _ := c.Definition(code)
						tw.AppendRow(table.Row{cat.Name, cat.Capacity, code, formatHours(def.ManHours)})
					}
					tw.AppendSeparator()
				}
				tw.Render()
				return nil
			})
		},
	}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Validate a catalog file and store it in the workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := catalog.FromFile(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ImportCatalog(ctx, c, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("Imported catalog for fleet %s (%d tasks, %d vehicles)\n", c.Fleet.ID, len(c.Tasks), len(c.Vehicles))
				return nil
			})
		},
	}

	cmd.AddCommand(initCmd, showCmd, importCmd)
	return cmd
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "plan", Short: "Show the annual or monthly plan"}

	var annualYear int
	var annualVehicles string
	var annualAll bool
	annualCmd := &cobra.Command{
		Use:   "annual",
		Short: "Show the annual plan grid",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				vehicles, err := vehicleFilter(s.catalog, annualVehicles)
				if err != nil {
					return err
				}
				coord, err := s.coordinator()
				if err != nil {
					return err
				}
				v, err := coord.LoadAnnual(ctx, annualYear)
				if err != nil {
					return err
				}
				for _, o := range v.Overflows {
					s.logger.Warn("slot overflow", "overflow", o.String())
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				renderAnnual(os.Stdout, s.catalog, v, vehicles, annualAll)
				renderAnnualSummary(os.Stdout, s.catalog, v)
				return nil
			})
		},
	}
	annualCmd.Flags().IntVar(&annualYear, "year", 0, "plan year")
	annualCmd.Flags().StringVar(&annualVehicles, "vehicles", "", "comma separated vehicles to show")
	annualCmd.Flags().BoolVar(&annualAll, "all", false, "show vehicles without tasks")
	_ = annualCmd.MarkFlagRequired("year")

	var monthlyYear, monthlyMonth int
	var monthlyVehicles string
	var monthlyAll bool
	monthlyCmd := &cobra.Command{
		Use:   "monthly",
		Short: "Show the monthly plan grid",
		RunE: func(cmd *cobra.Command, args []string) error {
			month, err := monthIndex(monthlyMonth)
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				vehicles, err := vehicleFilter(s.catalog, monthlyVehicles)
				if err != nil {
					return err
				}
				coord, err := s.coordinator()
				if err != nil {
					return err
				}
				v, err := coord.LoadMonthly(ctx, monthlyYear, month)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				renderMonthly(os.Stdout, s.catalog, v, vehicles, monthlyAll)
				renderVehicleSummary(os.Stdout, s.catalog, v, vehicles, monthlyAll)
				return nil
			})
		},
	}
	monthlyCmd.Flags().IntVar(&monthlyYear, "year", 0, "plan year")
	monthlyCmd.Flags().IntVar(&monthlyMonth, "month", 0, "month (1-12)")
	monthlyCmd.Flags().StringVar(&monthlyVehicles, "vehicles", "", "comma separated vehicles to show")
	monthlyCmd.Flags().BoolVar(&monthlyAll, "all", false, "show vehicles without tasks")
	_ = monthlyCmd.MarkFlagRequired("year")
	_ = monthlyCmd.MarkFlagRequired("month")

	cmd.AddCommand(annualCmd, monthlyCmd)
	return cmd
}

func editCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "edit", Short: "Edit one cell of a plan"}

	var mYear, mMonth, mDay int
	var mVehicle, mCode string
	monthlyCmd := &cobra.Command{
		Use:   "monthly",
		Short: "Set (or clear with an empty --code) a vehicle/day cell",
		RunE: func(cmd *cobra.Command, args []string) error {
			month, err := monthIndex(mMonth)
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				coord, err := s.coordinator()
				if err != nil {
					return err
				}
				if _, err := coord.LoadMonthly(ctx, mYear, month); err != nil {
					return err
				}
				ok, err := coord.ApplyMonthlyEdit(ctx, mVehicle, mDay, mCode)
				if !ok {
					return editFailure(err)
				}
				cell, _ := coord.Monthly().Cell(mVehicle, mDay)
				return printEdit(fmt.Sprintf("%s %d-%02d-%02d", mVehicle, mYear, mMonth, mDay), cell)
			})
		},
	}
	monthlyCmd.Flags().IntVar(&mYear, "year", 0, "plan year")
	monthlyCmd.Flags().IntVar(&mMonth, "month", 0, "month (1-12)")
	monthlyCmd.Flags().IntVar(&mDay, "day", 0, "day of month")
	monthlyCmd.Flags().StringVar(&mVehicle, "vehicle", "", "vehicle id")
	monthlyCmd.Flags().StringVar(&mCode, "code", "", "task code (empty clears the cell)")
	for _, name := range []string{"year", "month", "day", "vehicle"} {
		_ = monthlyCmd.MarkFlagRequired(name)
	}

	var aYear, aMonth, aSlot int
	var aVehicle, aCategory, aCode string
	annualCmd := &cobra.Command{
		Use:   "annual",
		Short: "Set (or clear with an empty --code) one slot of the annual plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			month, err := monthIndex(aMonth)
			if err != nil {
				return err
			}
			if aSlot < 1 {
				return fmt.Errorf("--slot must be 1 or more")
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				coord, err := s.coordinator()
				if err != nil {
					return err
				}
				if _, err := coord.LoadAnnual(ctx, aYear); err != nil {
					return err
				}
				ok, err := coord.ApplyAnnualEdit(ctx, aVehicle, month, aCategory, aSlot-1, aCode)
				if !ok {
					return editFailure(err)
				}
				slots := coord.Annual().Slots(month, aVehicle, aCategory)
				return printEdit(fmt.Sprintf("%s %d-%02d %s", aVehicle, aYear, aMonth, aCategory), slots)
			})
		},
	}
	annualCmd.Flags().IntVar(&aYear, "year", 0, "plan year")
	annualCmd.Flags().IntVar(&aMonth, "month", 0, "month (1-12)")
	annualCmd.Flags().StringVar(&aVehicle, "vehicle", "", "vehicle id")
	annualCmd.Flags().StringVar(&aCategory, "category", "", "maintenance category")
	annualCmd.Flags().IntVar(&aSlot, "slot", 1, "report row (1-based)")
	annualCmd.Flags().StringVar(&aCode, "code", "", "task code (empty clears the slot)")
	for _, name := range []string{"year", "month", "vehicle", "category"} {
		_ = annualCmd.MarkFlagRequired(name)
	}

	cmd.AddCommand(monthlyCmd, annualCmd)
	return cmd
}

func editFailure(err error) error {
	var werr *coordinator.WriteError
	if errors.As(err, &werr) && werr.Rejected {
		return fmt.Errorf("%s rejected: %s", werr.Op, werr.Message)
	}
	return err
}

func printEdit(target string, value any) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"target": target, "value": value})
	}
	switch v := value.(type) {
	case *projection.Cell:
		if v == nil {
			fmt.Printf("%s cleared\n", target)
			return nil
		}
		fmt.Printf("%s = %v\n", target, v.Codes)
	default:
		fmt.Printf("%s = %v\n", target, v)
	}
	return nil
}

func prescheduleCmd() *cobra.Command {
	var year, month int
	var categories string
	var seed int64
	cmd := &cobra.Command{
		Use:   "preschedule",
		Short: "Generate the annual plan, or a month's plan with --month",
		Long: `Preschedule replaces the plan of the selected categories with a generated one.
Without --month the annual plan of --year is regenerated; with --month the monthly plan
of that month is. A fixed --seed reproduces a previous plan.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.PreScheduleOptions{
				Year:       year,
				Categories: splitList(categories),
				Seed:       seed,
				ActorID:    viper.GetString("actor-id"),
			}
			monthly := cmd.Flags().Changed("month")
			if monthly {
				m, err := monthIndex(month)
				if err != nil {
					return err
				}
				opts.Month = m
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				res, err := s.preSchedule(ctx, opts, monthly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Created %d tasks, removed %d, skipped %d (seed %d)\n", res.Created, res.Removed, res.Skipped, res.Seed)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "plan year")
	cmd.Flags().IntVar(&month, "month", 0, "month (1-12); omit for the annual plan")
	cmd.Flags().StringVar(&categories, "categories", "", "comma separated categories (default all)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (0 picks one)")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

func overviewCmd() *cobra.Command {
	var year, month int
	var highlight string
	cmd := &cobra.Command{
		Use:   "overview",
		Short: "Totals and busiest period of a year, or of a month with --month",
		RunE: func(cmd *cobra.Command, args []string) error {
			monthly := cmd.Flags().Changed("month")
			m := 0
			if monthly {
				var err error
				if m, err = monthIndex(month); err != nil {
					return err
				}
			}
			return withSession(cmd.Context(), func(ctx context.Context, s *session) error {
				if highlight != "" && !s.catalog.HasCategory(highlight) {
					return fmt.Errorf("unknown category %s", highlight)
				}
				o, period, err := overview(ctx, s, year, m, monthly, highlight)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(o)
				}
				renderOverview(os.Stdout, o, period)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "plan year")
	cmd.Flags().IntVar(&month, "month", 0, "month (1-12)")
	cmd.Flags().StringVar(&highlight, "highlight", "", "category to rank periods by")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}

// overview loads a view and summarizes it. period is "month" or "day".
func overview(ctx context.Context, s *session, year, month int, monthly bool, highlight string) (projection.Overview, string, error) {
	coord, err := s.coordinator()
	if err != nil {
		return projection.Overview{}, "", err
	}
	if monthly {
		v, err := coord.LoadMonthly(ctx, year, month)
		if err != nil {
			return projection.Overview{}, "", err
		}
		return projection.MonthlyOverview(v, highlight), "day", nil
	}
	v, err := coord.LoadAnnual(ctx, year)
	if err != nil {
		return projection.Overview{}, "", err
	}
	return projection.AnnualOverview(v, highlight), "month", nil
}
