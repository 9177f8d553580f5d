package engine

import (
	"context"
	"fmt"

	"fleetplan/internal/domain"
	"fleetplan/internal/events"
	"fleetplan/internal/projection"
)

// WriteMonthlyCell sets the whole content of a vehicle/day cell to one code, or clears it.
func (e Engine) WriteMonthlyCell(ctx context.Context, w domain.MonthlyCellWrite) (domain.WriteResult, error) {
	return result(e.writeMonthlyCell(ctx, w))
}

func (e Engine) writeMonthlyCell(ctx context.Context, w domain.MonthlyCellWrite) error {
	if e.Catalog == nil {
		return fmt.Errorf("catalog not loaded")
	}
	if !projection.ValidMonth(w.Month) {
		return reject("month %d outside 0..11", w.Month)
	}
	if days := projection.DaysIn(w.Year, w.Month); w.Day < 1 || w.Day > days {
		return reject("day %d outside 1..%d", w.Day, days)
	}
	if !e.Catalog.HasVehicle(w.Vehicle) {
		return reject("unknown vehicle %s", w.Vehicle)
	}
	a := domain.Assignment{Year: w.Year, Month: w.Month, Day: &w.Day, Vehicle: w.Vehicle, Code: w.Code}
	if w.Code != "" {
		def, ok := e.Catalog.Definition(w.Code)
		if !ok {
			return reject("unknown task code %s", w.Code)
		}
		a.Category, a.ManHours = def.Category, def.ManHours
		a.ID = e.newID("monthly", w.Year, w.Month, w.Day, w.Vehicle, w.Code)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	removed, err := e.Repo.DeleteMonthlyCellTx(ctx, tx, w.Year, w.Month, w.Day, w.Vehicle)
	if err != nil {
		return fmt.Errorf("clear cell: %w", err)
	}
	if removed == 0 && w.Code == "" {
		return nil
	}
	evt := events.MonthlyCellCleared
	if w.Code != "" {
		if err := e.Repo.InsertMonthlyTx(ctx, tx, a, 0); err != nil {
			return fmt.Errorf("insert cell: %w", err)
		}
		evt = events.MonthlyCellWritten
	}
	payload := events.EventPayload{
		"year":    w.Year,
		"month":   w.Month,
		"day":     w.Day,
		"vehicle": w.Vehicle,
		"code":    w.Code,
		"removed": removed,
	}
	if err := e.Events.Append(ctx, tx, evt, e.fleetID(), "monthly_cell", projection.CellKey(w.Vehicle, w.Day), w.ActorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// WriteAnnualCell replaces the code in one slot of a vehicle/month/category bucket.
// Writing past the last stored slot appends; clearing a slot shifts later slots up.
func (e Engine) WriteAnnualCell(ctx context.Context, w domain.AnnualCellWrite) (domain.WriteResult, error) {
	return result(e.writeAnnualCell(ctx, w))
}

func (e Engine) writeAnnualCell(ctx context.Context, w domain.AnnualCellWrite) error {
	if e.Catalog == nil {
		return fmt.Errorf("catalog not loaded")
	}
	if !projection.ValidMonth(w.Month) {
		return reject("month %d outside 0..11", w.Month)
	}
	if !e.Catalog.HasVehicle(w.Vehicle) {
		return reject("unknown vehicle %s", w.Vehicle)
	}
	capacity, ok := e.Catalog.Capacity(w.Category)
	if !ok {
		return reject("unknown category %s", w.Category)
	}
	if w.SlotIndex < 0 || w.SlotIndex >= capacity {
		return reject("slot %d outside %s capacity %d", w.SlotIndex, w.Category, capacity)
	}
	var manHours float64
	if w.Code != "" {
		def, ok := e.Catalog.Definition(w.Code)
		if !ok {
			return reject("unknown task code %s", w.Code)
		}
		if def.Category != w.Category {
			return reject("task %s belongs to %s, not %s", w.Code, def.Category, w.Category)
		}
		manHours = def.ManHours
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	slots, err := e.Repo.AnnualSlotsTx(ctx, tx, w.Year, w.Month, w.Vehicle, w.Category)
	if err != nil {
		return fmt.Errorf("load slots: %w", err)
	}

	evt := events.AnnualCellWritten
	slot := w.SlotIndex
	switch {
	case w.Code == "" && slot >= len(slots):
		return nil
	case w.Code == "":
		if err := e.Repo.DeleteAnnualSlotTx(ctx, tx, w.Year, w.Month, w.Vehicle, w.Category, slot); err != nil {
			return fmt.Errorf("clear slot: %w", err)
		}
		evt = events.AnnualCellCleared
	case slot < len(slots):
		if err := e.Repo.UpdateAnnualCodeTx(ctx, tx, slots[slot].ID, w.Code, manHours); err != nil {
			return fmt.Errorf("update slot: %w", err)
		}
	default:
		slot = len(slots)
		a := domain.Assignment{
			ID:       e.newID("annual", w.Year, w.Month, w.Vehicle, w.Category, slot, w.Code),
			Year:     w.Year,
			Month:    w.Month,
			Vehicle:  w.Vehicle,
			Category: w.Category,
			Code:     w.Code,
			ManHours: manHours,
		}
		if err := e.Repo.InsertAnnualTx(ctx, tx, a, slot); err != nil {
			return fmt.Errorf("insert slot: %w", err)
		}
	}
	payload := events.EventPayload{
		"year":     w.Year,
		"month":    w.Month,
		"vehicle":  w.Vehicle,
		"category": w.Category,
		"slot":     slot,
		"code":     w.Code,
	}
	entity := fmt.Sprintf("%s/%s/%s/%d", projection.MonthKey(w.Year, w.Month), w.Vehicle, w.Category, slot)
	if err := e.Events.Append(ctx, tx, evt, e.fleetID(), "annual_slot", entity, w.ActorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}
