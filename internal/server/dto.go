package server

import (
	"encoding/json"
	"strings"

	"fleetplan/internal/catalog"
	"fleetplan/internal/domain"
)

// Request payloads

type MonthlyUpdateRequest struct {
	Year    int    `json:"year" minimum:"1"`
	Month   int    `json:"month" minimum:"0" maximum:"11"`
	Day     int    `json:"day" minimum:"1" maximum:"31"`
	Vehicle string `json:"vehicle" minLength:"1"`
	Code    string `json:"code" doc:"Task code; empty clears the cell"`
}

type AnnualUpdateRequest struct {
	Year      int    `json:"year" minimum:"1"`
	Month     int    `json:"month" minimum:"0" maximum:"11"`
	Vehicle   string `json:"vehicle" minLength:"1"`
	Category  string `json:"category" minLength:"1"`
	SlotIndex int    `json:"slot_index" minimum:"0"`
	Code      string `json:"code" doc:"Task code; empty clears the slot"`
}

type PreScheduleRequest struct {
	Year       int      `json:"year" minimum:"1"`
	Month      *int     `json:"month,omitempty" minimum:"0" maximum:"11" doc:"Generate the monthly plan of this month instead of the annual plan"`
	Categories []string `json:"categories,omitempty"`
	Seed       int64    `json:"seed,omitempty"`
}

// Response payloads

type AssignmentsResponse struct {
	Year  int                 `json:"year"`
	Month *int                `json:"month,omitempty"`
	Items []domain.Assignment `json:"items"`
}

// CatalogResponse mirrors fleetplan.yml without its webhook settings, so clients can decode
// it straight into a catalog.
type CatalogResponse struct {
	Fleet       FleetInfo                `json:"fleet"`
	Categories  []catalog.Category       `json:"categories"`
	Tasks       []catalog.TaskDefinition `json:"tasks"`
	Vehicles    []string                 `json:"vehicles"`
	Summary     SummaryConfig            `json:"summary"`
	SummaryKeys []string                 `json:"summary_keys"`
}

type FleetInfo struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
}

type SummaryConfig struct {
	CollapsePrefixes []string `json:"collapse_prefixes,omitempty"`
	Keys             []string `json:"keys,omitempty"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	FleetID    string          `json:"fleet_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload" jsonschema:"type=object,additionalProperties=true"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type MeResponse struct {
	ActorID     string   `json:"actor_id"`
	Source      string   `json:"source"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func catalogResponse(c *catalog.Catalog) CatalogResponse {
	return CatalogResponse{
		Fleet:      FleetInfo{ID: c.Fleet.ID, Description: c.Fleet.Description},
		Categories: nonNilSlice(c.Categories),
		Tasks:      nonNilSlice(c.Tasks),
		Vehicles:   nonNilSlice(c.Vehicles),
		Summary: SummaryConfig{
			CollapsePrefixes: c.Summary.CollapsePrefixes,
			Keys:             c.Summary.Keys,
		},
		SummaryKeys: c.SummaryKeys(),
	}
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		FleetID:    evt.FleetID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

// splitList parses a comma separated query value.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
