package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"fleetplan/internal/catalog"
	"fleetplan/internal/domain"
	"fleetplan/internal/projection"
)

// Source is the task record store the coordinator reads from and writes to.
type Source interface {
	FetchAnnual(ctx context.Context, year int) ([]domain.Assignment, error)
	FetchMonthly(ctx context.Context, year, month int) ([]domain.Assignment, error)
	WriteMonthlyCell(ctx context.Context, w domain.MonthlyCellWrite) (domain.WriteResult, error)
	WriteAnnualCell(ctx context.Context, w domain.AnnualCellWrite) (domain.WriteResult, error)
}

// ErrNoView is returned when an edit targets a view that has not been loaded.
var ErrNoView = errors.New("view not loaded")

// WriteError describes a failed edit. Rejected is set when the code was refused before
// or by the source; otherwise Err carries the transport or refetch failure.
type WriteError struct {
	Op       string
	Vehicle  string
	Period   string
	Code     string
	Rejected bool
	Message  string
	Err      error
}

func (e *WriteError) Error() string {
	target := fmt.Sprintf("%s %s %s code %q", e.Op, e.Vehicle, e.Period, e.Code)
	if e.Rejected {
		return fmt.Sprintf("%s rejected: %s", target, e.Message)
	}
	return fmt.Sprintf("%s: %v", target, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Options configures a Coordinator. ActorID is stamped on every write request.
type Options struct {
	Logger  *slog.Logger
	ActorID string
}

// Coordinator owns the authoritative annual and monthly views of a session. Edits are
// written to the Source and then reloaded; a view is never patched in place.
type Coordinator struct {
	src       Source
	catalog   *catalog.Catalog
	projector projection.Projector
	log       *slog.Logger
	actorID   string

	mu      sync.Mutex
	machine *editMachine
	annual  *projection.AnnualView
	monthly *projection.MonthlyView
}

func New(src Source, c *catalog.Catalog, opts Options) (*Coordinator, error) {
	if src == nil {
		return nil, errors.New("source is required")
	}
	if c == nil {
		return nil, errors.New("catalog is required")
	}
	m, err := newEditMachine()
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		src:       src,
		catalog:   c,
		projector: projection.New(c),
		log:       log,
		actorID:   opts.ActorID,
		machine:   m,
	}, nil
}

// LoadAnnual fetches and projects a year, replacing the current annual view.
func (c *Coordinator) LoadAnnual(ctx context.Context, year int) (*projection.AnnualView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := c.fetchAnnual(ctx, year)
	if err != nil {
		return nil, err
	}
	c.annual = v
	return v, nil
}

// LoadMonthly fetches and projects a zero-based month, replacing the current monthly view.
func (c *Coordinator) LoadMonthly(ctx context.Context, year, month int) (*projection.MonthlyView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := c.fetchMonthly(ctx, year, month)
	if err != nil {
		return nil, err
	}
	c.monthly = v
	return v, nil
}

func (c *Coordinator) Annual() *projection.AnnualView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.annual
}

func (c *Coordinator) Monthly() *projection.MonthlyView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.monthly
}

// State returns the edit state.
func (c *Coordinator) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.current()
}

// ApplyMonthlyEdit replaces the whole content of a cell of the loaded month with code, or
// clears it when code is empty. On success the month is reloaded before returning.
func (c *Coordinator) ApplyMonthlyEdit(ctx context.Context, vehicle string, day int, code string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.monthly == nil {
		return false, ErrNoView
	}
	year, month := c.monthly.Year, c.monthly.Month
	werr := &WriteError{Op: "monthly edit", Vehicle: vehicle, Period: fmt.Sprintf("%d-%02d-%02d", year, month+1, day), Code: code}

	w := domain.MonthlyCellWrite{Year: year, Month: month, Day: day, Vehicle: vehicle, Code: code, ActorID: c.actorID}
	return c.edit(ctx, werr, func(ctx context.Context) (domain.WriteResult, error) {
		return c.src.WriteMonthlyCell(ctx, w)
	}, func(ctx context.Context) error {
		v, err := c.fetchMonthly(ctx, year, month)
		if err != nil {
			return err
		}
		c.monthly = v
		return nil
	})
}

// ApplyAnnualEdit replaces the task in one slot of the loaded year. On success the year is
// reloaded before returning.
func (c *Coordinator) ApplyAnnualEdit(ctx context.Context, vehicle string, month int, category string, slotIndex int, code string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.annual == nil {
		return false, ErrNoView
	}
	year := c.annual.Year
	werr := &WriteError{Op: "annual edit", Vehicle: vehicle, Period: fmt.Sprintf("%d-%02d %s[%d]", year, month+1, category, slotIndex), Code: code}

	w := domain.AnnualCellWrite{Year: year, Month: month, Vehicle: vehicle, Category: category, SlotIndex: slotIndex, Code: code, ActorID: c.actorID}
	return c.edit(ctx, werr, func(ctx context.Context) (domain.WriteResult, error) {
		return c.src.WriteAnnualCell(ctx, w)
	}, func(ctx context.Context) error {
		v, err := c.fetchAnnual(ctx, year)
		if err != nil {
			return err
		}
		c.annual = v
		return nil
	})
}

// edit drives one write/refetch cycle. Callers hold c.mu.
func (c *Coordinator) edit(ctx context.Context, werr *WriteError, write func(context.Context) (domain.WriteResult, error), refetch func(context.Context) error) (bool, error) {
	if werr.Code != "" {
		if _, known := c.catalog.Definition(werr.Code); !known {
			werr.Rejected = true
			werr.Message = "unknown task code"
			c.log.Info("edit refused", "op", werr.Op, "vehicle", werr.Vehicle, "code", werr.Code)
			return false, werr
		}
	}
	if err := c.machine.send(eventWrite); err != nil {
		return false, err
	}

	res, err := write(ctx)
	if err != nil {
		c.transition(eventFail)
		werr.Err = err
		c.log.Error("edit write failed", "op", werr.Op, "vehicle", werr.Vehicle, "err", err)
		return false, werr
	}
	if !res.Success {
		c.transition(eventReject)
		werr.Rejected = true
		werr.Message = res.Message
		c.log.Info("edit rejected", "op", werr.Op, "vehicle", werr.Vehicle, "code", werr.Code, "reason", res.Message)
		return false, werr
	}

	c.transition(eventWritten)
	if err := refetch(ctx); err != nil {
		c.transition(eventFail)
		werr.Err = fmt.Errorf("written but reload failed: %w", err)
		c.log.Error("edit reload failed", "op", werr.Op, "vehicle", werr.Vehicle, "err", err)
		return false, werr
	}
	c.transition(eventRefetched)
	c.log.Debug("edit applied", "op", werr.Op, "vehicle", werr.Vehicle, "period", werr.Period, "code", werr.Code)
	return true, nil
}

func (c *Coordinator) transition(event string) {
	if err := c.machine.send(event); err != nil {
		c.log.Warn("edit machine", "err", err)
	}
}

func (c *Coordinator) fetchAnnual(ctx context.Context, year int) (*projection.AnnualView, error) {
	records, err := c.src.FetchAnnual(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("fetch annual %d: %w", year, err)
	}
	v, err := c.projector.ProjectAnnual(year, records)
	if err != nil {
		return nil, err
	}
	for _, o := range v.Overflows {
		c.log.Warn("slot capacity exceeded", "overflow", o.String())
	}
	return v, nil
}

func (c *Coordinator) fetchMonthly(ctx context.Context, year, month int) (*projection.MonthlyView, error) {
	if !projection.ValidMonth(month) {
		return nil, &projection.RangeError{Index: -1, Field: "month", Value: month, Min: 0, Max: 11}
	}
	records, err := c.src.FetchMonthly(ctx, year, month)
	if err != nil {
		return nil, fmt.Errorf("fetch monthly %d-%02d: %w", year, month+1, err)
	}
	return c.projector.ProjectMonthly(year, month, records)
}
