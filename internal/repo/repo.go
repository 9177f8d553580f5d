package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fleetplan/internal/catalog"
	"fleetplan/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) on(tx *sql.Tx) queryer {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// UpsertCatalog stores the session catalog snapshot for its fleet.
func (r Repo) UpsertCatalog(ctx context.Context, tx *sql.Tx, c *catalog.Catalog) error {
	if c == nil {
		return fmt.Errorf("catalog nil")
	}
	if err := c.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	ts := now()
	_, err = r.on(tx).ExecContext(ctx, `INSERT INTO catalogs(fleet_id,catalog_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(fleet_id) DO UPDATE SET catalog_json=excluded.catalog_json, updated_at=excluded.updated_at`, c.Fleet.ID, string(payload), ts, ts)
	return err
}

func (r Repo) GetCatalog(ctx context.Context, fleetID string) (*catalog.Catalog, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT catalog_json FROM catalogs WHERE fleet_id=?`, fleetID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeCatalog(payload)
}

// SingleCatalog returns the only stored catalog of a workspace.
func (r Repo) SingleCatalog(ctx context.Context) (*catalog.Catalog, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT catalog_json FROM catalogs ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var payloads []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		payloads = append(payloads, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(payloads) == 0 {
		return nil, ErrNotFound
	}
	if len(payloads) > 1 {
		return nil, fmt.Errorf("multiple fleets exist; specify --fleet")
	}
	return decodeCatalog(payloads[0])
}

func decodeCatalog(payload string) (*catalog.Catalog, error) {
	var c catalog.Catalog
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, err
	}
	return &c, c.Validate()
}

const eventColumns = `id,ts,type,COALESCE(fleet_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json`

// EventFilter narrows event listings. Zero values match everything.
type EventFilter struct {
	FleetID    string
	Type       string
	EntityKind string
	Before     int64
}

// LatestEvents returns the newest events first.
func (r Repo) LatestEvents(ctx context.Context, limit int, f EventFilter) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if f.FleetID != "" {
		clauses = append(clauses, "fleet_id=?")
		args = append(args, f.FleetID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id DESC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, fleetID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if fleetID != "" {
		clauses = append(clauses, "fleet_id=?")
		args = append(args, fleetID)
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id ASC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.FleetID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID for a fleet.
func (r Repo) LatestEventID(ctx context.Context, fleetID string) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE fleet_id=?`, fleetID).Scan(&id)
	return id, err
}
