package coordinator_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"fleetplan/internal/catalog"
	"fleetplan/internal/coordinator"
	"fleetplan/internal/domain"
)

// stubSource keeps monthly records in memory and applies cell writes the way a store would.
type stubSource struct {
	monthly  []domain.Assignment
	annual   []domain.Assignment
	reject   string
	writeErr error
	fetchErr error
	fetches  int
	writes   int
	cat      *catalog.Catalog
}

func (s *stubSource) FetchAnnual(ctx context.Context, year int) ([]domain.Assignment, error) {
	s.fetches++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return append([]domain.Assignment(nil), s.annual...), nil
}

func (s *stubSource) FetchMonthly(ctx context.Context, year, month int) ([]domain.Assignment, error) {
	s.fetches++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return append([]domain.Assignment(nil), s.monthly...), nil
}

func (s *stubSource) WriteMonthlyCell(ctx context.Context, w domain.MonthlyCellWrite) (domain.WriteResult, error) {
	s.writes++
	if s.writeErr != nil {
		return domain.WriteResult{}, s.writeErr
	}
	if s.reject != "" {
		return domain.WriteResult{Success: false, Message: s.reject}, nil
	}
	kept := s.monthly[:0]
	for _, a := range s.monthly {
		if a.Vehicle == w.Vehicle && a.DayValue() == w.Day {
			continue
		}
		kept = append(kept, a)
	}
	s.monthly = kept
	if w.Code != "" {
		def, _ := s.cat.Definition(w.Code)
		day := w.Day
		s.monthly = append(s.monthly, domain.Assignment{Year: w.Year, Month: w.Month, Day: &day, Vehicle: w.Vehicle, Category: def.Category, Code: w.Code, ManHours: def.ManHours})
	}
	return domain.WriteResult{Success: true}, nil
}

func (s *stubSource) WriteAnnualCell(ctx context.Context, w domain.AnnualCellWrite) (domain.WriteResult, error) {
	s.writes++
	if s.writeErr != nil {
		return domain.WriteResult{}, s.writeErr
	}
	if s.reject != "" {
		return domain.WriteResult{Success: false, Message: s.reject}, nil
	}
	def, _ := s.cat.Definition(w.Code)
	s.annual = append(s.annual, domain.Assignment{Year: w.Year, Month: w.Month, Vehicle: w.Vehicle, Category: def.Category, Code: w.Code, ManHours: def.ManHours})
	return domain.WriteResult{Success: true}, nil
}

func newCoordinator(t *testing.T, src *stubSource) *coordinator.Coordinator {
	t.Helper()
	cat := catalog.Default("line-1")
	src.cat = cat
	c, err := coordinator.New(src, cat, coordinator.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return c
}

func day(d int) *int { return &d }

func TestMonthlyEditRoundTrip(t *testing.T) {
	src := &stubSource{}
	c := newCoordinator(t, src)
	ctx := context.Background()
	if _, err := c.LoadMonthly(ctx, 2025, 4); err != nil {
		t.Fatalf("load: %v", err)
	}
	ok, err := c.ApplyMonthlyEdit(ctx, "1101", 5, "J1")
	if err != nil || !ok {
		t.Fatalf("edit: %v %v", ok, err)
	}
	cell, found := c.Monthly().Cell("1101", 5)
	if !found || !reflect.DeepEqual(cell.Codes, []string{"J1"}) {
		t.Fatalf("cell after edit: %+v", cell)
	}
	if c.Monthly().DailyManHours[5][catalog.Balanced] != 8 {
		t.Fatalf("aggregates not reprojected: %v", c.Monthly().DailyManHours[5])
	}
	if c.State() != coordinator.StateIdle {
		t.Fatalf("expected idle, got %s", c.State())
	}
}

func TestMonthlyEditReplacesMergedCell(t *testing.T) {
	src := &stubSource{monthly: []domain.Assignment{
		{Year: 2025, Month: 4, Day: day(5), Vehicle: "1101", Category: catalog.Balanced, Code: "J1", ManHours: 8},
		{Year: 2025, Month: 4, Day: day(5), Vehicle: "1101", Category: catalog.Special, Code: "T2", ManHours: 6},
	}}
	c := newCoordinator(t, src)
	ctx := context.Background()
	if _, err := c.LoadMonthly(ctx, 2025, 4); err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok, err := c.ApplyMonthlyEdit(ctx, "1101", 5, ""); !ok || err != nil {
		t.Fatalf("clear: %v %v", ok, err)
	}
	if _, found := c.Monthly().Cell("1101", 5); found {
		t.Fatalf("cell should be cleared")
	}
}

func TestRejectedWriteLeavesViewUnchanged(t *testing.T) {
	src := &stubSource{monthly: []domain.Assignment{
		{Year: 2025, Month: 4, Day: day(5), Vehicle: "1101", Category: catalog.Balanced, Code: "J1", ManHours: 8},
	}}
	c := newCoordinator(t, src)
	ctx := context.Background()
	before, err := c.LoadMonthly(ctx, 2025, 4)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	snapshot, _ := json.Marshal(before)
	fetches := src.fetches

	src.reject = "vehicle locked"
	ok, err := c.ApplyMonthlyEdit(ctx, "1101", 5, "T3")
	if ok {
		t.Fatalf("expected failure")
	}
	var werr *coordinator.WriteError
	if !errors.As(err, &werr) || !werr.Rejected || werr.Message != "vehicle locked" {
		t.Fatalf("expected rejection, got %v", err)
	}
	after, _ := json.Marshal(c.Monthly())
	if string(snapshot) != string(after) || c.Monthly() != before {
		t.Fatalf("view changed after rejected write")
	}
	if src.fetches != fetches {
		t.Fatalf("rejected write must not refetch")
	}
	if c.State() != coordinator.StateFailed {
		t.Fatalf("expected failed, got %s", c.State())
	}

	src.reject = ""
	if ok, err := c.ApplyMonthlyEdit(ctx, "1101", 5, "T3"); !ok || err != nil {
		t.Fatalf("retry after failure: %v %v", ok, err)
	}
	if c.State() != coordinator.StateIdle {
		t.Fatalf("expected idle after retry, got %s", c.State())
	}
}

func TestTransportFailureIsSurfaced(t *testing.T) {
	boom := errors.New("connection reset")
	src := &stubSource{}
	c := newCoordinator(t, src)
	ctx := context.Background()
	before, err := c.LoadAnnual(ctx, 2025)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	src.writeErr = boom
	ok, err := c.ApplyAnnualEdit(ctx, "1101", 2, catalog.Special, 0, "T1")
	if ok || !errors.Is(err, boom) {
		t.Fatalf("expected transport error, got %v %v", ok, err)
	}
	if src.writes != 1 {
		t.Fatalf("coordinator must not retry, got %d writes", src.writes)
	}
	if c.Annual() != before {
		t.Fatalf("annual view replaced after failure")
	}
}

func TestReloadFailureKeepsPreviousView(t *testing.T) {
	src := &stubSource{}
	c := newCoordinator(t, src)
	ctx := context.Background()
	before, err := c.LoadAnnual(ctx, 2025)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	src.fetchErr = errors.New("timeout")
	ok, err := c.ApplyAnnualEdit(ctx, "1101", 2, catalog.Special, 0, "T1")
	if ok || err == nil {
		t.Fatalf("expected reload failure")
	}
	if c.Annual() != before || c.State() != coordinator.StateFailed {
		t.Fatalf("view or state wrong after reload failure: %s", c.State())
	}
}

func TestUnknownCodeIsRefusedBeforeWrite(t *testing.T) {
	src := &stubSource{}
	c := newCoordinator(t, src)
	ctx := context.Background()
	if _, err := c.LoadMonthly(ctx, 2025, 0); err != nil {
		t.Fatalf("load: %v", err)
	}
	ok, err := c.ApplyMonthlyEdit(ctx, "1101", 3, "X99")
	var werr *coordinator.WriteError
	if ok || !errors.As(err, &werr) || !werr.Rejected {
		t.Fatalf("expected refusal, got %v %v", ok, err)
	}
	if src.writes != 0 {
		t.Fatalf("unknown code reached the source")
	}
	if c.State() != coordinator.StateIdle {
		t.Fatalf("refusal should not move the machine, got %s", c.State())
	}
}

func TestEditWithoutViewFails(t *testing.T) {
	c := newCoordinator(t, &stubSource{})
	if _, err := c.ApplyAnnualEdit(context.Background(), "1101", 0, catalog.Balanced, 0, "J1"); !errors.Is(err, coordinator.ErrNoView) {
		t.Fatalf("expected ErrNoView, got %v", err)
	}
}

func TestAnnualEditReprojectsYear(t *testing.T) {
	src := &stubSource{}
	c := newCoordinator(t, src)
	ctx := context.Background()
	if _, err := c.LoadAnnual(ctx, 2025); err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok, err := c.ApplyAnnualEdit(ctx, "1107", 8, catalog.Dedicated, 0, "Z2"); !ok || err != nil {
		t.Fatalf("edit: %v %v", ok, err)
	}
	v := c.Annual()
	if v.Slot(8, "1107", catalog.Dedicated, 0) != "Z2" || v.MonthlyManHours[8][catalog.Dedicated] != 10 {
		t.Fatalf("annual view not reprojected: %v", v.Slots(8, "1107", catalog.Dedicated))
	}
	if v.MonthlySummary[8]["Z2"] != 1 {
		t.Fatalf("summary not reprojected: %v", v.MonthlySummary[8])
	}
}
