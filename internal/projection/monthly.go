package projection

import (
	"fleetplan/internal/catalog"
	"fleetplan/internal/domain"
)

// MonthlyView is the render-ready monthly grid. Schedule is keyed by CellKey(vehicle, day);
// VehicleSummary and VehicleManHours by vehicle, then category.
type MonthlyView struct {
	Year            int                           `json:"year"`
	Month           int                           `json:"month"`
	DaysInMonth     int                           `json:"days_in_month"`
	Schedule        map[string]*Cell              `json:"schedule"`
	DailyManHours   map[int]map[string]float64    `json:"daily_man_hours"`
	VehicleSummary  map[string]map[string]int     `json:"vehicle_summary"`
	VehicleManHours map[string]map[string]float64 `json:"vehicle_man_hours"`
}

// Cell holds every code assigned to one vehicle on one day. Code and Definition stay
// pinned to the first assignment seen for the cell.
type Cell struct {
	Code       string                  `json:"code"`
	Codes      []string                `json:"codes"`
	Definition *catalog.TaskDefinition `json:"definition"`
}

// ProjectMonthly builds the view of a zero-based month.
func (p Projector) ProjectMonthly(year, month int, assignments []domain.Assignment) (*MonthlyView, error) {
	if !ValidMonth(month) {
		return nil, &RangeError{Index: -1, Field: "month", Value: month, Min: 0, Max: 11}
	}
	days := DaysIn(year, month)
	if err := validateMonthly(year, month, days, assignments); err != nil {
		return nil, err
	}
	categories := p.Catalog.CategoryNames()
	v := &MonthlyView{
		Year:            year,
		Month:           month,
		DaysInMonth:     days,
		Schedule:        map[string]*Cell{},
		DailyManHours:   make(map[int]map[string]float64, days),
		VehicleSummary:  make(map[string]map[string]int, len(p.Catalog.Vehicles)),
		VehicleManHours: make(map[string]map[string]float64, len(p.Catalog.Vehicles)),
	}
	for d := 1; d <= days; d++ {
		hours := make(map[string]float64, len(categories))
		for _, c := range categories {
			hours[c] = 0
		}
		v.DailyManHours[d] = hours
	}
	for _, vehicle := range p.Catalog.Vehicles {
		counts := make(map[string]int, len(categories))
		hours := make(map[string]float64, len(categories))
		for _, c := range categories {
			counts[c] = 0
			hours[c] = 0
		}
		v.VehicleSummary[vehicle] = counts
		v.VehicleManHours[vehicle] = hours
	}

	for _, a := range assignments {
		day := *a.Day
		def, known := p.Catalog.Definition(a.Code)
		key := CellKey(a.Vehicle, day)
		if cell, ok := v.Schedule[key]; ok {
			cell.Codes = append(cell.Codes, a.Code)
		} else {
			cell = &Cell{Code: a.Code, Codes: []string{a.Code}}
			if known {
				cell.Definition = &def
			}
			v.Schedule[key] = cell
		}
		if !known {
			continue
		}
		if hours, ok := v.DailyManHours[day][a.Category]; ok {
			v.DailyManHours[day][a.Category] = hours + a.ManHours
		}
		if n, ok := v.VehicleSummary[a.Vehicle][a.Category]; ok {
			v.VehicleSummary[a.Vehicle][a.Category] = n + 1
			v.VehicleManHours[a.Vehicle][a.Category] += a.ManHours
		}
	}
	return v, nil
}

// Cell returns the cell of a vehicle on a day.
func (v *MonthlyView) Cell(vehicle string, day int) (*Cell, bool) {
	c, ok := v.Schedule[CellKey(vehicle, day)]
	return c, ok
}
