package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"fleetplan/internal/catalog"
	"fleetplan/internal/domain"
	"fleetplan/internal/events"
	"fleetplan/internal/repo"
)

// Engine is the local task record source: it stores assignments in the workspace
// database and enforces the catalog on every write.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Catalog *catalog.Catalog
	Now     func() time.Time
}

func New(db *sql.DB, c *catalog.Catalog) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Catalog: c,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) fleetID() string {
	if e.Catalog == nil {
		return ""
	}
	return e.Catalog.Fleet.ID
}

// RejectError is a write refused by business rules. It is reported to callers as an
// unsuccessful WriteResult rather than as a failure.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string { return e.Reason }

func reject(format string, args ...any) error {
	return &RejectError{Reason: fmt.Sprintf(format, args...)}
}

// result folds a write outcome into the Source contract.
func result(err error) (domain.WriteResult, error) {
	var rej *RejectError
	if errors.As(err, &rej) {
		return domain.WriteResult{Success: false, Message: rej.Reason}, nil
	}
	if err != nil {
		return domain.WriteResult{}, err
	}
	return domain.WriteResult{Success: true}, nil
}

func (e Engine) newID(parts ...any) string {
	key := e.fleetID()
	for _, p := range parts {
		key += "|" + fmt.Sprint(p)
	}
	key += "|" + strconv.FormatInt(e.now().UnixNano(), 10)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// ImportCatalog stores c as the workspace catalog snapshot. Callers switch to c by building
// a new Engine; a running engine keeps the catalog it was created with.
func (e Engine) ImportCatalog(ctx context.Context, c *catalog.Catalog, actorID string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertCatalog(ctx, tx, c); err != nil {
		return fmt.Errorf("store catalog: %w", err)
	}
	payload := events.EventPayload{
		"categories": len(c.Categories),
		"tasks":      len(c.Tasks),
		"vehicles":   len(c.Vehicles),
	}
	if err := e.Events.Append(ctx, tx, events.CatalogImported, c.Fleet.ID, "catalog", c.Fleet.ID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// FetchAnnual returns every record of year.
func (e Engine) FetchAnnual(ctx context.Context, year int) ([]domain.Assignment, error) {
	return e.Repo.AnnualAssignments(ctx, year, nil)
}

// FetchMonthly returns every record of a zero-based month.
func (e Engine) FetchMonthly(ctx context.Context, year, month int) ([]domain.Assignment, error) {
	return e.Repo.MonthlyAssignments(ctx, year, month, nil)
}

// AnnualAssignments returns a year's records restricted to categories.
func (e Engine) AnnualAssignments(ctx context.Context, year int, categories []string) ([]domain.Assignment, error) {
	if err := e.checkCategories(categories); err != nil {
		return nil, err
	}
	return e.Repo.AnnualAssignments(ctx, year, categories)
}

// MonthlyAssignments returns a month's records restricted to categories.
func (e Engine) MonthlyAssignments(ctx context.Context, year, month int, categories []string) ([]domain.Assignment, error) {
	if month < 0 || month > 11 {
		return nil, fmt.Errorf("month %d outside 0..11", month)
	}
	if err := e.checkCategories(categories); err != nil {
		return nil, err
	}
	return e.Repo.MonthlyAssignments(ctx, year, month, categories)
}

func (e Engine) checkCategories(categories []string) error {
	if e.Catalog == nil {
		return errors.New("catalog not loaded")
	}
	for _, c := range categories {
		if !e.Catalog.HasCategory(c) {
			return fmt.Errorf("unknown category %s", c)
		}
	}
	return nil
}
