package domain

// Assignment is the canonical task-assignment record delivered by a record source.
// Day is set only on monthly records. Month is zero-based.
type Assignment struct {
	ID       string  `json:"id,omitempty"`
	Year     int     `json:"year"`
	Month    int     `json:"month" minimum:"0" maximum:"11"`
	Day      *int    `json:"day,omitempty" minimum:"1" maximum:"31"`
	Vehicle  string  `json:"vehicle"`
	Category string  `json:"category"`
	Code     string  `json:"code"`
	ManHours float64 `json:"man_hours"`
}

// DayValue returns the day of a monthly record, or 0 when absent.
func (a Assignment) DayValue() int {
	if a.Day == nil {
		return 0
	}
	return *a.Day
}

// MonthlyCellWrite sets the whole content of one vehicle/day cell. An empty Code clears it.
type MonthlyCellWrite struct {
	Year    int    `json:"year"`
	Month   int    `json:"month" minimum:"0" maximum:"11"`
	Day     int    `json:"day"`
	Vehicle string `json:"vehicle"`
	Code    string `json:"code"`
	ActorID string `json:"-"`
}

// AnnualCellWrite replaces the task in one slot of the annual grid. An empty Code clears it.
type AnnualCellWrite struct {
	Year      int    `json:"year"`
	Month     int    `json:"month" minimum:"0" maximum:"11"`
	Vehicle   string `json:"vehicle"`
	Category  string `json:"category"`
	SlotIndex int    `json:"slot_index" minimum:"0"`
	Code      string `json:"code"`
	ActorID   string `json:"-"`
}

// WriteResult is the source's verdict on a cell write.
type WriteResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	FleetID    string `json:"fleet_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Role      string `json:"role"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
