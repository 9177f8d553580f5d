package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"fleetplan/internal/catalog"
	"fleetplan/internal/projection"
)

// renderAnnual prints the annual grid: one row per vehicle, category and report row, one
// column per month. Vehicles without any task are left out unless all is set. Vehicles
// the store holds but the catalog does not list follow the listed ones.
func renderAnnual(w io.Writer, c *catalog.Catalog, v *projection.AnnualView, vehicles []string, all bool) {
	vehicles = append(append([]string(nil), vehicles...), uncataloguedVehicles(c, v)...)
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(fmt.Sprintf("Annual plan %d (%s)", v.Year, c.Fleet.ID))
	header := table.Row{"Vehicle", "Category", "Row"}
	for m := 1; m <= 12; m++ {
		header = append(header, m)
	}
	tw.AppendHeader(header)

	for _, vehicle := range vehicles {
		if !all && !annualHasTasks(v, vehicle) {
			continue
		}
		for _, cat := range c.Categories {
			rows := 0
			for m := 0; m < 12; m++ {
				if n := v.RowCount(cat, m); n > rows {
					rows = n
				}
			}
			for r := 0; r < rows; r++ {
				row := table.Row{vehicle, cat.Name, r + 1}
				for m := 0; m < 12; m++ {
					row = append(row, v.Slot(m, vehicle, cat.Name, r))
				}
				tw.AppendRow(row)
			}
		}
		tw.AppendSeparator()
	}

	for _, name := range c.CategoryNames() {
		footer := table.Row{"Man-hours", name, ""}
		for m := 0; m < 12; m++ {
			footer = append(footer, formatHours(v.MonthlyManHours[m][name]))
		}
		tw.AppendFooter(footer)
	}
	tw.Render()
}

// renderAnnualSummary prints the per-month task counts for every summary key.
func renderAnnualSummary(w io.Writer, c *catalog.Catalog, v *projection.AnnualView) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	header := table.Row{"Task"}
	for m := 1; m <= 12; m++ {
		header = append(header, m)
	}
	header = append(header, "Total")
	tw.AppendHeader(header)
	for _, key := range c.SummaryKeys() {
		row := table.Row{key}
		total := 0
		for m := 0; m < 12; m++ {
			n := v.MonthlySummary[m][key]
			total += n
			row = append(row, n)
		}
		row = append(row, total)
		tw.AppendRow(row)
	}
	tw.Render()
}

// renderMonthly prints the monthly grid: one row per vehicle, one column per day.
func renderMonthly(w io.Writer, c *catalog.Catalog, v *projection.MonthlyView, vehicles []string, all bool) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(fmt.Sprintf("Monthly plan %d-%02d (%s)", v.Year, v.Month+1, c.Fleet.ID))
	header := table.Row{"Vehicle"}
	for d := 1; d <= v.DaysInMonth; d++ {
		header = append(header, d)
	}
	tw.AppendHeader(header)

	for _, vehicle := range vehicles {
		row := table.Row{vehicle}
		empty := true
		for d := 1; d <= v.DaysInMonth; d++ {
			cell, ok := v.Cell(vehicle, d)
			if !ok {
				row = append(row, "")
				continue
			}
			empty = false
			row = append(row, strings.Join(cell.Codes, "/"))
		}
		if empty && !all {
			continue
		}
		tw.AppendRow(row)
	}

	footer := table.Row{"Man-hours"}
	for d := 1; d <= v.DaysInMonth; d++ {
		var total float64
		for _, h := range v.DailyManHours[d] {
			total += h
		}
		footer = append(footer, formatHours(total))
	}
	tw.AppendFooter(footer)
	tw.Render()
}

// renderVehicleSummary prints the per-vehicle category counts of a month.
func renderVehicleSummary(w io.Writer, c *catalog.Catalog, v *projection.MonthlyView, vehicles []string, all bool) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	header := table.Row{"Vehicle"}
	for _, name := range c.CategoryNames() {
		header = append(header, name)
	}
	tw.AppendHeader(header)
	for _, vehicle := range vehicles {
		counts := v.VehicleSummary[vehicle]
		row := table.Row{vehicle}
		total := 0
		for _, name := range c.CategoryNames() {
			total += counts[name]
			row = append(row, counts[name])
		}
		if total == 0 && !all {
			continue
		}
		tw.AppendRow(row)
	}
	tw.Render()
}

// renderOverview prints the totals of a view. period names the unit of BusiestPeriod.
func renderOverview(w io.Writer, o projection.Overview, period string) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Metric", "Value"})
	tw.AppendRow(table.Row{"Total tasks", o.TotalTasks})
	for _, name := range sortedKeys(o.CategoryCounts) {
		tw.AppendRow(table.Row{name + " tasks", o.CategoryCounts[name]})
	}
	if o.BusiestPeriod >= 0 {
		tw.AppendRow(table.Row{"Busiest " + period, periodLabel(period, o.BusiestPeriod)})
		tw.AppendRow(table.Row{"Busiest man-hours", formatHours(o.BusiestManHours)})
	}
	for _, prefix := range sortedKeys(o.PrefixCounts) {
		tw.AppendRow(table.Row{prefix + "* tasks", o.PrefixCounts[prefix]})
	}
	for i, p := range o.TopPeriods {
		tw.AppendRow(table.Row{fmt.Sprintf("%s top %d", o.Highlight, i+1), fmt.Sprintf("%s %s (%s h)", period, periodLabel(period, p.Period), formatHours(p.ManHours))})
	}
	for i, vh := range o.TopVehicles {
		tw.AppendRow(table.Row{fmt.Sprintf("%s vehicle %d", o.Highlight, i+1), fmt.Sprintf("%s: %d tasks (%s h)", vh.Vehicle, vh.Tasks, formatHours(vh.ManHours))})
	}
	tw.Render()
}

func annualHasTasks(v *projection.AnnualView, vehicle string) bool {
	for _, byVehicle := range v.Schedule {
		for _, slots := range byVehicle[vehicle] {
			for _, code := range slots {
				if code != "" {
					return true
				}
			}
		}
	}
	return false
}

func uncataloguedVehicles(c *catalog.Catalog, v *projection.AnnualView) []string {
	seen := map[string]bool{}
	var out []string
	for _, byVehicle := range v.Schedule {
		for vehicle := range byVehicle {
			if !c.HasVehicle(vehicle) && !seen[vehicle] {
				seen[vehicle] = true
				out = append(out, vehicle)
			}
		}
	}
	sort.Strings(out)
	return out
}

// periodLabel shows months one-based; days already are.
func periodLabel(period string, n int) string {
	if period == "month" {
		return strconv.Itoa(n + 1)
	}
	return strconv.Itoa(n)
}

func formatHours(h float64) string {
	if h == 0 {
		return ""
	}
	return strconv.FormatFloat(h, 'f', -1, 64)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// vehicleFilter narrows the catalog's vehicles to the comma separated list, keeping
// catalog order.
func vehicleFilter(c *catalog.Catalog, list string) ([]string, error) {
	want := splitList(list)
	if len(want) == 0 {
		return c.Vehicles, nil
	}
	for _, v := range want {
		if !c.HasVehicle(v) {
			return nil, fmt.Errorf("unknown vehicle %s", v)
		}
	}
	var out []string
	for _, v := range c.Vehicles {
		for _, w := range want {
			if v == w {
				out = append(out, v)
				break
			}
		}
	}
	return out, nil
}
