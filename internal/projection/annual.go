package projection

import (
	"fmt"
	"sort"

	"fleetplan/internal/catalog"
	"fleetplan/internal/domain"
)

// Projector folds assignment records into view models. It holds nothing but the
// catalog, so every projection is a pure function of its arguments.
type Projector struct {
	Catalog *catalog.Catalog
}

func New(c *catalog.Catalog) Projector {
	return Projector{Catalog: c}
}

// AnnualView is the render-ready annual grid. Schedule is keyed by MonthKey, then vehicle,
// then category; slot order is input order.
type AnnualView struct {
	Year            int                                       `json:"year"`
	Schedule        map[string]map[string]map[string][]string `json:"schedule"`
	MonthlyManHours []map[string]float64                      `json:"monthly_man_hours"`
	MonthlySummary  []map[string]int                          `json:"monthly_summary"`
	AllMonthTasks   [][]MonthTask                             `json:"all_month_tasks"`
	Overflows       []SlotOverflow                            `json:"overflows,omitempty"`
}

// MonthTask is a flat lookup entry. Definition is nil for codes missing from the catalog.
type MonthTask struct {
	Vehicle    string                  `json:"vehicle"`
	Code       string                  `json:"task"`
	Definition *catalog.TaskDefinition `json:"definition"`
}

// SlotOverflow reports a bucket holding more codes than its category has rows.
type SlotOverflow struct {
	Month    int    `json:"month"`
	Vehicle  string `json:"vehicle"`
	Category string `json:"category"`
	Capacity int    `json:"capacity"`
	Count    int    `json:"count"`
}

func (o SlotOverflow) String() string {
	return fmt.Sprintf("month %d vehicle %s %s: %d codes for %d rows", o.Month+1, o.Vehicle, o.Category, o.Count, o.Capacity)
}

// ProjectAnnual builds the annual view of year. The whole input is validated before the
// fold starts; a RangeError leaves nothing half-built.
func (p Projector) ProjectAnnual(year int, assignments []domain.Assignment) (*AnnualView, error) {
	if err := validateAnnual(year, assignments); err != nil {
		return nil, err
	}
	categories := p.Catalog.CategoryNames()
	v := newAnnualView(year, categories, p.Catalog.SummaryKeys())

	for _, a := range assignments {
		byVehicle := v.Schedule[MonthKey(year, a.Month)]
		buckets, ok := byVehicle[a.Vehicle]
		if !ok {
			buckets = emptyBuckets(categories)
			byVehicle[a.Vehicle] = buckets
		}
		buckets[a.Category] = append(buckets[a.Category], a.Code)

		task := MonthTask{Vehicle: a.Vehicle, Code: a.Code}
		if def, known := p.Catalog.Definition(a.Code); known {
			task.Definition = &def
			if hours, ok := v.MonthlyManHours[a.Month][a.Category]; ok {
				v.MonthlyManHours[a.Month][a.Category] = hours + a.ManHours
			}
			key := p.Catalog.SummaryKey(a.Code)
			if n, ok := v.MonthlySummary[a.Month][key]; ok {
				v.MonthlySummary[a.Month][key] = n + 1
			}
		}
		v.AllMonthTasks[a.Month] = append(v.AllMonthTasks[a.Month], task)
	}
	v.Overflows = p.overflows(v)
	return v, nil
}

func newAnnualView(year int, categories, summaryKeys []string) *AnnualView {
	v := &AnnualView{
		Year:            year,
		Schedule:        make(map[string]map[string]map[string][]string, 12),
		MonthlyManHours: make([]map[string]float64, 12),
		MonthlySummary:  make([]map[string]int, 12),
		AllMonthTasks:   make([][]MonthTask, 12),
	}
	for m := 0; m < 12; m++ {
		v.Schedule[MonthKey(year, m)] = map[string]map[string][]string{}
		hours := make(map[string]float64, len(categories))
		for _, c := range categories {
			hours[c] = 0
		}
		v.MonthlyManHours[m] = hours
		summary := make(map[string]int, len(summaryKeys))
		for _, k := range summaryKeys {
			summary[k] = 0
		}
		v.MonthlySummary[m] = summary
		v.AllMonthTasks[m] = []MonthTask{}
	}
	return v
}

func emptyBuckets(categories []string) map[string][]string {
	buckets := make(map[string][]string, len(categories))
	for _, c := range categories {
		buckets[c] = []string{}
	}
	return buckets
}

func (p Projector) overflows(v *AnnualView) []SlotOverflow {
	var out []SlotOverflow
	for m := 0; m < 12; m++ {
		byVehicle := v.Schedule[MonthKey(v.Year, m)]
		vehicles := make([]string, 0, len(byVehicle))
		for vehicle := range byVehicle {
			vehicles = append(vehicles, vehicle)
		}
		sort.Strings(vehicles)
		for _, vehicle := range vehicles {
			for _, cat := range p.Catalog.Categories {
				if n := len(byVehicle[vehicle][cat.Name]); n > cat.Capacity {
					out = append(out, SlotOverflow{Month: m, Vehicle: vehicle, Category: cat.Name, Capacity: cat.Capacity, Count: n})
				}
			}
		}
	}
	return out
}

// Slots returns the codes of one vehicle/month/category bucket.
func (v *AnnualView) Slots(month int, vehicle, category string) []string {
	return v.Schedule[MonthKey(v.Year, month)][vehicle][category]
}

// Slot returns the code at a slot index, or "" for an empty row.
func (v *AnnualView) Slot(month int, vehicle, category string, index int) string {
	slots := v.Slots(month, vehicle, category)
	if index < 0 || index >= len(slots) {
		return ""
	}
	return slots[index]
}

// RowCount is the number of rows a bucket needs when rendered: the category capacity,
// or more when the bucket overflows it.
func (v *AnnualView) RowCount(c catalog.Category, month int) int {
	rows := c.Capacity
	for _, buckets := range v.Schedule[MonthKey(v.Year, month)] {
		if n := len(buckets[c.Name]); n > rows {
			rows = n
		}
	}
	return rows
}
