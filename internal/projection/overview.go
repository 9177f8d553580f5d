package projection

import (
	"sort"
	"strings"
	"unicode"
)

const topPeriods = 5

// Overview summarises a projected view for an info panel. BusiestPeriod is a zero-based
// month for annual views and a day for monthly ones, -1 when no period has any man-hours.
type Overview struct {
	TotalTasks      int            `json:"total_tasks"`
	CategoryCounts  map[string]int `json:"category_counts"`
	PrefixCounts    map[string]int `json:"prefix_counts"`
	BusiestPeriod   int            `json:"busiest_period"`
	BusiestManHours float64        `json:"busiest_man_hours"`
	Highlight       string         `json:"highlight,omitempty"`
	TopPeriods      []PeriodHours  `json:"top_periods,omitempty"`
	TopVehicles     []VehicleHours `json:"top_vehicles,omitempty"`
}

type PeriodHours struct {
	Period   int     `json:"period"`
	ManHours float64 `json:"man_hours"`
}

// VehicleHours is one vehicle's load in the highlighted category.
type VehicleHours struct {
	Vehicle  string  `json:"vehicle"`
	Tasks    int     `json:"tasks"`
	ManHours float64 `json:"man_hours"`
}

// CodePrefix is the letter prefix a task code is counted under ("J" for "J12").
func CodePrefix(code string) string {
	i := strings.IndexFunc(code, func(r rune) bool { return !unicode.IsLetter(r) })
	if i < 0 {
		return code
	}
	return code[:i]
}

// AnnualOverview computes totals over an annual view. When highlight names a category,
// the months and vehicles carrying the most man-hours for it are listed.
func AnnualOverview(v *AnnualView, highlight string) Overview {
	o := newOverview(highlight)
	for m := 0; m < 12; m++ {
		for _, buckets := range v.Schedule[MonthKey(v.Year, m)] {
			for cat, codes := range buckets {
				o.TotalTasks += len(codes)
				if len(codes) > 0 {
					o.CategoryCounts[cat] += len(codes)
				}
				o.countPrefixes(codes)
			}
		}
	}
	var periods []PeriodHours
	for m, hours := range v.MonthlyManHours {
		periods = append(periods, PeriodHours{Period: m, ManHours: sum(hours)})
	}
	o.BusiestPeriod, o.BusiestManHours = busiest(periods)
	if highlight != "" {
		var hl []PeriodHours
		for m, hours := range v.MonthlyManHours {
			hl = append(hl, PeriodHours{Period: m, ManHours: hours[highlight]})
		}
		o.TopPeriods = top(hl)

		load := map[string]*VehicleHours{}
		for _, tasks := range v.AllMonthTasks {
			for _, t := range tasks {
				if t.Definition == nil || t.Definition.Category != highlight {
					continue
				}
				vh := vehicleLoad(load, t.Vehicle)
				vh.Tasks++
				vh.ManHours += t.Definition.ManHours
			}
		}
		o.TopVehicles = topVehicles(load)
	}
	return o
}

// MonthlyOverview computes totals over a monthly view.
func MonthlyOverview(v *MonthlyView, highlight string) Overview {
	o := newOverview(highlight)
	for _, cell := range v.Schedule {
		o.TotalTasks += len(cell.Codes)
		o.countPrefixes(cell.Codes)
	}
	for _, counts := range v.VehicleSummary {
		for cat, n := range counts {
			if n > 0 {
				o.CategoryCounts[cat] += n
			}
		}
	}
	periods := make([]PeriodHours, 0, v.DaysInMonth)
	for d := 1; d <= v.DaysInMonth; d++ {
		periods = append(periods, PeriodHours{Period: d, ManHours: sum(v.DailyManHours[d])})
	}
	o.BusiestPeriod, o.BusiestManHours = busiest(periods)
	if highlight != "" {
		hl := make([]PeriodHours, 0, v.DaysInMonth)
		for d := 1; d <= v.DaysInMonth; d++ {
			hl = append(hl, PeriodHours{Period: d, ManHours: v.DailyManHours[d][highlight]})
		}
		o.TopPeriods = top(hl)

		load := map[string]*VehicleHours{}
		for vehicle, counts := range v.VehicleSummary {
			if n := counts[highlight]; n > 0 {
				vh := vehicleLoad(load, vehicle)
				vh.Tasks = n
				vh.ManHours = v.VehicleManHours[vehicle][highlight]
			}
		}
		o.TopVehicles = topVehicles(load)
	}
	return o
}

func newOverview(highlight string) Overview {
	return Overview{CategoryCounts: map[string]int{}, PrefixCounts: map[string]int{}, BusiestPeriod: -1, Highlight: highlight}
}

func (o *Overview) countPrefixes(codes []string) {
	for _, code := range codes {
		if code != "" {
			o.PrefixCounts[CodePrefix(code)]++
		}
	}
}

func vehicleLoad(load map[string]*VehicleHours, vehicle string) *VehicleHours {
	vh, ok := load[vehicle]
	if !ok {
		vh = &VehicleHours{Vehicle: vehicle}
		load[vehicle] = vh
	}
	return vh
}

// topVehicles ranks by man-hours, then task count, then vehicle id.
func topVehicles(load map[string]*VehicleHours) []VehicleHours {
	out := make([]VehicleHours, 0, len(load))
	for _, vh := range load {
		out = append(out, *vh)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ManHours != out[j].ManHours {
			return out[i].ManHours > out[j].ManHours
		}
		if out[i].Tasks != out[j].Tasks {
			return out[i].Tasks > out[j].Tasks
		}
		return out[i].Vehicle < out[j].Vehicle
	})
	if len(out) > topPeriods {
		out = out[:topPeriods]
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sum(hours map[string]float64) float64 {
	var total float64
	for _, h := range hours {
		total += h
	}
	return total
}

// busiest returns the first period with the strictly largest positive total.
func busiest(periods []PeriodHours) (int, float64) {
	best, most := -1, 0.0
	for _, p := range periods {
		if p.ManHours > most {
			best, most = p.Period, p.ManHours
		}
	}
	return best, most
}

func top(periods []PeriodHours) []PeriodHours {
	var nonZero []PeriodHours
	for _, p := range periods {
		if p.ManHours > 0 {
			nonZero = append(nonZero, p)
		}
	}
	sort.SliceStable(nonZero, func(i, j int) bool { return nonZero[i].ManHours > nonZero[j].ManHours })
	if len(nonZero) > topPeriods {
		nonZero = nonZero[:topPeriods]
	}
	return nonZero
}
