package engine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"fleetplan/internal/catalog"
	"fleetplan/internal/coordinator"
	"fleetplan/internal/db"
	"fleetplan/internal/domain"
	"fleetplan/internal/engine"
	"fleetplan/internal/events"
	"fleetplan/internal/migrate"
	"fleetplan/internal/projection"
	"fleetplan/internal/repo"
)

var _ coordinator.Source = engine.Engine{}

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cat := catalog.Default("line-1")
	eng := engine.New(conn, cat)
	var tick int64
	eng.Now = func() time.Time {
		tick++
		return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(tick))
	}
	ctx := context.Background()
	if err := eng.ImportCatalog(ctx, cat, "tester"); err != nil {
		t.Fatalf("import catalog: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func TestMonthlyWriteReplacesCell(t *testing.T) {
	env := newTestEnv(t)
	w := domain.MonthlyCellWrite{Year: 2025, Month: 4, Day: 5, Vehicle: "1101", Code: "J1", ActorID: "tester"}
	res, err := env.Engine.WriteMonthlyCell(env.Ctx, w)
	if err != nil || !res.Success {
		t.Fatalf("write: %+v %v", res, err)
	}
	w.Code = "T3"
	if res, err := env.Engine.WriteMonthlyCell(env.Ctx, w); err != nil || !res.Success {
		t.Fatalf("rewrite: %+v %v", res, err)
	}
	got, err := env.Engine.FetchMonthly(env.Ctx, 2025, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Code != "T3" || got[0].Category != catalog.Special || got[0].ManHours != 12 || got[0].DayValue() != 5 {
		t.Fatalf("cell not replaced: %+v", got)
	}
	w.Code = ""
	if res, err := env.Engine.WriteMonthlyCell(env.Ctx, w); err != nil || !res.Success {
		t.Fatalf("clear: %+v %v", res, err)
	}
	if got, _ := env.Engine.FetchMonthly(env.Ctx, 2025, 4); len(got) != 0 {
		t.Fatalf("cell not cleared: %+v", got)
	}
}

func TestClearingEmptyMonthlyCellIsSilent(t *testing.T) {
	env := newTestEnv(t)
	w := domain.MonthlyCellWrite{Year: 2025, Month: 2, Day: 7, Vehicle: "1104", ActorID: "tester"}
	if res, err := env.Engine.WriteMonthlyCell(env.Ctx, w); err != nil || !res.Success {
		t.Fatalf("clear empty cell: %+v %v", res, err)
	}
	cleared := repo.EventFilter{Type: events.MonthlyCellCleared}
	if got, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, cleared); err != nil || len(got) != 0 {
		t.Fatalf("clearing nothing must not log an event: %+v %v", got, err)
	}

	w.Code = "Z1"
	if res, err := env.Engine.WriteMonthlyCell(env.Ctx, w); err != nil || !res.Success {
		t.Fatalf("write: %+v %v", res, err)
	}
	w.Code = ""
	if res, err := env.Engine.WriteMonthlyCell(env.Ctx, w); err != nil || !res.Success {
		t.Fatalf("clear: %+v %v", res, err)
	}
	got, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, cleared)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !strings.Contains(got[0].Payload, `"removed":1`) {
		t.Fatalf("expected one cleared event removing one record, got %+v", got)
	}
}

func TestWritesRejectedByCatalog(t *testing.T) {
	env := newTestEnv(t)
	monthly := []domain.MonthlyCellWrite{
		{Year: 2025, Month: 1, Day: 29, Vehicle: "1101", Code: "J1"},
		{Year: 2025, Month: 12, Day: 1, Vehicle: "1101", Code: "J1"},
		{Year: 2025, Month: 1, Day: 2, Vehicle: "9999", Code: "J1"},
		{Year: 2025, Month: 1, Day: 2, Vehicle: "1101", Code: "Q1"},
	}
	for _, w := range monthly {
		res, err := env.Engine.WriteMonthlyCell(env.Ctx, w)
		if err != nil || res.Success || res.Message == "" {
			t.Fatalf("expected rejection for %+v, got %+v %v", w, res, err)
		}
	}
	annual := []domain.AnnualCellWrite{
		{Year: 2025, Month: 0, Vehicle: "1101", Category: catalog.Balanced, SlotIndex: 1, Code: "J1"},
		{Year: 2025, Month: 0, Vehicle: "1101", Category: catalog.Special, SlotIndex: 0, Code: "J1"},
		{Year: 2025, Month: 0, Vehicle: "1101", Category: "Overhaul", SlotIndex: 0, Code: "J1"},
		{Year: 2025, Month: 0, Vehicle: "1101", Category: catalog.Special, SlotIndex: -1, Code: "T1"},
	}
	for _, w := range annual {
		res, err := env.Engine.WriteAnnualCell(env.Ctx, w)
		if err != nil || res.Success {
			t.Fatalf("expected rejection for %+v, got %+v %v", w, res, err)
		}
	}
	if got, _ := env.Engine.FetchAnnual(env.Ctx, 2025); len(got) != 0 {
		t.Fatalf("rejected writes stored records: %+v", got)
	}
}

func TestAnnualSlotWrites(t *testing.T) {
	env := newTestEnv(t)
	write := func(slot int, code string) {
		t.Helper()
		w := domain.AnnualCellWrite{Year: 2025, Month: 6, Vehicle: "1103", Category: catalog.Special, SlotIndex: slot, Code: code, ActorID: "tester"}
		res, err := env.Engine.WriteAnnualCell(env.Ctx, w)
		if err != nil || !res.Success {
			t.Fatalf("write slot %d %q: %+v %v", slot, code, res, err)
		}
	}
	write(3, "T1") // appended at slot 0
	write(1, "T2")
	write(0, "T3")
	write(3, "") // past the stored slots: no-op

	p := projection.New(env.Engine.Catalog)
	records, err := env.Engine.FetchAnnual(env.Ctx, 2025)
	if err != nil {
		t.Fatal(err)
	}
	v, err := p.ProjectAnnual(2025, records)
	if err != nil {
		t.Fatal(err)
	}
	if got := v.Slots(6, "1103", catalog.Special); len(got) != 2 || got[0] != "T3" || got[1] != "T2" {
		t.Fatalf("unexpected slots %v", got)
	}

	write(0, "")
	records, _ = env.Engine.FetchAnnual(env.Ctx, 2025)
	v, _ = p.ProjectAnnual(2025, records)
	if got := v.Slots(6, "1103", catalog.Special); len(got) != 1 || got[0] != "T2" {
		t.Fatalf("clear should shift slots: %v", got)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, repo.EventFilter{FleetID: "line-1", EntityKind: "annual_slot"})
	if err != nil || len(evts) != 4 {
		t.Fatalf("expected 4 slot events, got %d %v", len(evts), err)
	}
}

func TestEngineBackedCoordinator(t *testing.T) {
	env := newTestEnv(t)
	c, err := coordinator.New(env.Engine, env.Engine.Catalog, coordinator.Options{ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.LoadMonthly(env.Ctx, 2024, 1); err != nil {
		t.Fatal(err)
	}
	if ok, err := c.ApplyMonthlyEdit(env.Ctx, "1101", 29, "Z3"); !ok || err != nil {
		t.Fatalf("edit: %v %v", ok, err)
	}
	cell, found := c.Monthly().Cell("1101", 29)
	if !found || cell.Code != "Z3" || c.Monthly().VehicleSummary["1101"][catalog.Dedicated] != 1 {
		t.Fatalf("unexpected cell %+v", cell)
	}
}

func TestPreScheduleAnnualHonoursCapacity(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.PreScheduleAnnual(env.Ctx, engine.PreScheduleOptions{Year: 2025, Seed: 42, ActorID: "tester"})
	if err != nil {
		t.Fatalf("preschedule: %v", err)
	}
	if res.Created == 0 || res.Seed != 42 {
		t.Fatalf("unexpected result %+v", res)
	}
	records, _ := env.Engine.FetchAnnual(env.Ctx, 2025)
	if len(records) != res.Created {
		t.Fatalf("stored %d, reported %d", len(records), res.Created)
	}
	v, err := projection.New(env.Engine.Catalog).ProjectAnnual(2025, records)
	if err != nil {
		t.Fatal(err)
	}
	if len(v.Overflows) != 0 {
		t.Fatalf("generated plan overflows: %v", v.Overflows)
	}
	perVehicleMonth := map[string]int{}
	for _, a := range records {
		perVehicleMonth[projection.CellKey(a.Vehicle, a.Month)]++
	}
	for key, n := range perVehicleMonth {
		if n > 4 {
			t.Fatalf("%s has %d tasks", key, n)
		}
	}

	again, err := env.Engine.PreScheduleAnnual(env.Ctx, engine.PreScheduleOptions{Year: 2025, Seed: 42})
	if err != nil || again.Removed != int64(res.Created) || again.Created != res.Created {
		t.Fatalf("same seed should replace with the same plan: %+v %v", again, err)
	}
}

func TestPreScheduleCategorySelection(t *testing.T) {
	env := newTestEnv(t)
	keep := domain.AnnualCellWrite{Year: 2025, Month: 0, Vehicle: "1101", Category: catalog.Balanced, SlotIndex: 0, Code: "J3"}
	if res, err := env.Engine.WriteAnnualCell(env.Ctx, keep); err != nil || !res.Success {
		t.Fatalf("seed record: %+v %v", res, err)
	}
	if _, err := env.Engine.PreScheduleAnnual(env.Ctx, engine.PreScheduleOptions{Year: 2025, Categories: []string{catalog.Special}, Seed: 3}); err != nil {
		t.Fatal(err)
	}
	records, _ := env.Engine.FetchAnnual(env.Ctx, 2025)
	balanced := 0
	for _, a := range records {
		switch a.Category {
		case catalog.Special:
		case catalog.Balanced:
			balanced++
		default:
			t.Fatalf("unselected category generated: %+v", a)
		}
	}
	if balanced != 1 {
		t.Fatalf("existing balanced record lost")
	}
	if _, err := env.Engine.PreScheduleAnnual(env.Ctx, engine.PreScheduleOptions{Year: 2025, Categories: []string{"Overhaul"}}); err == nil {
		t.Fatalf("unknown category should fail")
	}
}

func TestPreScheduleMonthlySpreadsAnnualPlan(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.PreScheduleAnnual(env.Ctx, engine.PreScheduleOptions{Year: 2024, Seed: 9}); err != nil {
		t.Fatal(err)
	}
	annual, _ := env.Engine.FetchAnnual(env.Ctx, 2024)
	want := 0
	for _, a := range annual {
		if a.Month == 1 {
			want++
		}
	}
	res, err := env.Engine.PreScheduleMonthly(env.Ctx, engine.PreScheduleOptions{Year: 2024, Month: 1, Seed: 9})
	if err != nil {
		t.Fatal(err)
	}
	if res.Created != want {
		t.Fatalf("expected %d monthly records, got %d", want, res.Created)
	}
	records, _ := env.Engine.FetchMonthly(env.Ctx, 2024, 1)
	v, err := projection.New(env.Engine.Catalog).ProjectMonthly(2024, 1, records)
	if err != nil {
		t.Fatalf("generated month does not project: %v", err)
	}
	total := 0
	for _, cell := range v.Schedule {
		total += len(cell.Codes)
	}
	if total != want {
		t.Fatalf("projected %d codes, want %d", total, want)
	}
	if _, err := env.Engine.PreScheduleMonthly(env.Ctx, engine.PreScheduleOptions{Year: 2024, Month: 12}); err == nil {
		t.Fatalf("month 12 should fail")
	}
}
