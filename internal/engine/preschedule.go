package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"fleetplan/internal/domain"
	"fleetplan/internal/events"
	"fleetplan/internal/projection"
)

// PreScheduleOptions select the period and categories a plan is generated for. A zero
// Seed draws one from the clock.
type PreScheduleOptions struct {
	Year       int
	Month      int
	Categories []string
	Seed       int64
	ActorID    string
}

type PreScheduleResult struct {
	Created int   `json:"created"`
	Removed int64 `json:"removed"`
	Skipped int   `json:"skipped"`
	Seed    int64 `json:"seed"`
}

type plannedTask struct {
	assignment domain.Assignment
	priority   int
}

// PreScheduleAnnual replaces the year's records of the selected categories with a
// generated plan. Every vehicle gets one to three tasks a month, plus up to one more;
// tasks that would overflow a category's slot capacity are skipped.
func (e Engine) PreScheduleAnnual(ctx context.Context, opts PreScheduleOptions) (PreScheduleResult, error) {
	codes, err := e.selectedCodes(opts.Categories)
	if err != nil {
		return PreScheduleResult{}, err
	}
	res := PreScheduleResult{Seed: e.seed(opts.Seed)}
	rng := rand.New(rand.NewSource(res.Seed))

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	if res.Removed, err = e.Repo.DeleteAnnualPeriodTx(ctx, tx, opts.Year, opts.Categories); err != nil {
		return res, fmt.Errorf("clear year: %w", err)
	}

	for m := 0; m < 12; m++ {
		for _, vehicle := range e.Catalog.Vehicles {
			used := map[string]int{}
			if len(opts.Categories) > 0 {
				// Buckets of categories outside the selection keep their records.
				for _, cat := range e.Catalog.CategoryNames() {
					slots, err := e.Repo.AnnualSlotsTx(ctx, tx, opts.Year, m, vehicle, cat)
					if err != nil {
						return res, err
					}
					used[cat] = len(slots)
				}
			}
			for _, t := range e.draw(rng, codes, opts.Year, m, vehicle) {
				a := t.assignment
				capacity, _ := e.Catalog.Capacity(a.Category)
				slot := used[a.Category]
				if slot >= capacity {
					res.Skipped++
					continue
				}
				a.ID = e.newID("plan", a.Year, a.Month, a.Vehicle, a.Category, slot, res.Created)
				if err := e.Repo.InsertAnnualTx(ctx, tx, a, slot); err != nil {
					return res, fmt.Errorf("insert plan: %w", err)
				}
				used[a.Category] = slot + 1
				res.Created++
			}
		}
	}
	payload := events.EventPayload{"year": opts.Year, "categories": opts.Categories, "created": res.Created, "seed": res.Seed}
	if err := e.Events.Append(ctx, tx, events.PlanGenerated, e.fleetID(), "annual_plan", fmt.Sprint(opts.Year), opts.ActorID, payload); err != nil {
		return res, err
	}
	return res, tx.Commit()
}

// PreScheduleMonthly spreads the month's annual tasks over calendar days: priority 1
// lands in the first third of the month, 2 in the second, 3 in the last. When the year
// has no annual records for the month a fresh set is drawn.
func (e Engine) PreScheduleMonthly(ctx context.Context, opts PreScheduleOptions) (PreScheduleResult, error) {
	if !projection.ValidMonth(opts.Month) {
		return PreScheduleResult{}, fmt.Errorf("month %d outside 0..11", opts.Month)
	}
	codes, err := e.selectedCodes(opts.Categories)
	if err != nil {
		return PreScheduleResult{}, err
	}
	res := PreScheduleResult{Seed: e.seed(opts.Seed)}
	rng := rand.New(rand.NewSource(res.Seed))

	annual, err := e.Repo.AnnualAssignments(ctx, opts.Year, opts.Categories)
	if err != nil {
		return res, err
	}
	var planned []plannedTask
	for _, a := range annual {
		if a.Month == opts.Month {
			planned = append(planned, plannedTask{assignment: a, priority: rng.Intn(3) + 1})
		}
	}
	if len(planned) == 0 {
		for _, vehicle := range e.Catalog.Vehicles {
			planned = append(planned, e.draw(rng, codes, opts.Year, opts.Month, vehicle)...)
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	if res.Removed, err = e.Repo.DeleteMonthlyPeriodTx(ctx, tx, opts.Year, opts.Month, opts.Categories); err != nil {
		return res, fmt.Errorf("clear month: %w", err)
	}
	days := projection.DaysIn(opts.Year, opts.Month)
	band := days / 3
	seq := map[string]int{}
	for _, t := range planned {
		day := (t.priority-1)*band + rng.Intn(band) + 1
		if day > days {
			day = days
		}
		a := t.assignment
		a.Month = opts.Month
		a.Day = &day
		key := projection.CellKey(a.Vehicle, day)
		a.ID = e.newID("plan", a.Year, a.Month, key, seq[key], res.Created)
		if err := e.Repo.InsertMonthlyTx(ctx, tx, a, seq[key]); err != nil {
			return res, fmt.Errorf("insert plan: %w", err)
		}
		seq[key]++
		res.Created++
	}
	payload := events.EventPayload{"year": opts.Year, "month": opts.Month, "categories": opts.Categories, "created": res.Created, "seed": res.Seed}
	if err := e.Events.Append(ctx, tx, events.PlanGenerated, e.fleetID(), "monthly_plan", projection.MonthKey(opts.Year, opts.Month), opts.ActorID, payload); err != nil {
		return res, err
	}
	return res, tx.Commit()
}

// draw picks a vehicle's tasks for one month. The base count depends only on the vehicle
// id and the month so the load spreads evenly across the fleet.
func (e Engine) draw(rng *rand.Rand, codes []string, year, month int, vehicle string) []plannedTask {
	base := month%3 + 1
	if len(vehicle) > 2 {
		base = (int(vehicle[2])+month)%3 + 1
	}
	n := base + rng.Intn(2)
	out := make([]plannedTask, 0, n)
	for i := 0; i < n; i++ {
		def, _ := e.Catalog.Definition(codes[rng.Intn(len(codes))])
		out = append(out, plannedTask{
			assignment: domain.Assignment{
				Year:     year,
				Month:    month,
				Vehicle:  vehicle,
				Category: def.Category,
				Code:     def.Code,
				ManHours: def.ManHours,
			},
			priority: rng.Intn(3) + 1,
		})
	}
	return out
}

func (e Engine) selectedCodes(categories []string) ([]string, error) {
	if err := e.checkCategories(categories); err != nil {
		return nil, err
	}
	if len(categories) == 0 {
		categories = e.Catalog.CategoryNames()
	}
	var codes []string
	for _, c := range categories {
		codes = append(codes, e.Catalog.CodesByCategory(c)...)
	}
	if len(codes) == 0 {
		return nil, errors.New("no task codes in the selected categories")
	}
	return codes, nil
}

func (e Engine) seed(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	return e.now().UnixNano()
}
