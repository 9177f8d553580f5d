package catalog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Reference category names of the default fleet catalog.
const (
	Balanced  = "Balanced"
	Special   = "Special"
	Dedicated = "Dedicated"
)

// Catalog models fleetplan.yml: the read-only reference data a planning session runs against.
type Catalog struct {
	Fleet struct {
		ID          string `yaml:"id" json:"id"`
		Description string `yaml:"description,omitempty" json:"description,omitempty"`
	} `yaml:"fleet" json:"fleet"`
	Categories []Category       `yaml:"categories" json:"categories"`
	Tasks      []TaskDefinition `yaml:"tasks" json:"tasks"`
	Vehicles   []string         `yaml:"vehicles" json:"vehicles"`
	Summary    struct {
		CollapsePrefixes []string `yaml:"collapse_prefixes,omitempty" json:"collapse_prefixes,omitempty"`
		Keys             []string `yaml:"keys,omitempty" json:"keys,omitempty"`
	} `yaml:"summary" json:"summary"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`

	once  sync.Once
	index *index
}

// Category is a maintenance class. Capacity is the number of report rows one vehicle
// has for the category in a month of the annual plan.
type Category struct {
	Name     string `yaml:"name" json:"name"`
	Capacity int    `yaml:"capacity" json:"capacity"`
}

// TaskDefinition is the standard cost of a task code.
type TaskDefinition struct {
	Code     string  `yaml:"code" json:"code"`
	Category string  `yaml:"category" json:"category"`
	ManHours float64 `yaml:"man_hours" json:"man_hours"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

type index struct {
	defs        map[string]TaskDefinition
	capacity    map[string]int
	vehicles    map[string]struct{}
	summaryKeys []string
	summarySet  map[string]struct{}
}

// Load reads and validates the catalog file from a workspace.
func Load(workspace string) (*Catalog, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("catalog %s not found; import with fleetplan catalog import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the catalog file does not exist.
func LoadOptional(workspace string) (*Catalog, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the catalog file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "fleetplan.yml")
}

// Validate ensures the catalog meets required structure.
func (c *Catalog) Validate() error {
	if c.Fleet.ID == "" {
		return fmt.Errorf("catalog.fleet.id is required")
	}
	if len(c.Categories) == 0 {
		return fmt.Errorf("catalog.categories is required")
	}
	categories := make(map[string]struct{}, len(c.Categories))
	for _, cat := range c.Categories {
		if strings.TrimSpace(cat.Name) == "" {
			return fmt.Errorf("catalog.categories contains empty name")
		}
		if _, dup := categories[cat.Name]; dup {
			return fmt.Errorf("category %s defined twice", cat.Name)
		}
		if cat.Capacity <= 0 {
			return fmt.Errorf("category %s must have a positive capacity", cat.Name)
		}
		categories[cat.Name] = struct{}{}
	}
	codes := make(map[string]struct{}, len(c.Tasks))
	for _, def := range c.Tasks {
		if strings.TrimSpace(def.Code) == "" {
			return fmt.Errorf("catalog.tasks contains empty code")
		}
		if _, dup := codes[def.Code]; dup {
			return fmt.Errorf("task code %s defined twice", def.Code)
		}
		if _, ok := categories[def.Category]; !ok {
			return fmt.Errorf("task %s references unknown category %s", def.Code, def.Category)
		}
		if def.ManHours < 0 {
			return fmt.Errorf("task %s has negative man_hours", def.Code)
		}
		codes[def.Code] = struct{}{}
	}
	if len(c.Vehicles) == 0 {
		return fmt.Errorf("catalog.vehicles is required")
	}
	vehicles := make(map[string]struct{}, len(c.Vehicles))
	for _, v := range c.Vehicles {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("catalog.vehicles contains empty id")
		}
		if strings.Contains(v, "-") {
			return fmt.Errorf("vehicle %s must not contain '-'", v)
		}
		if _, dup := vehicles[v]; dup {
			return fmt.Errorf("vehicle %s listed twice", v)
		}
		vehicles[v] = struct{}{}
	}
	for _, key := range c.Summary.Keys {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("catalog.summary.keys contains empty key")
		}
	}
	for _, p := range c.Summary.CollapsePrefixes {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("catalog.summary.collapse_prefixes contains empty prefix")
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

func (c *Catalog) idx() *index {
	c.once.Do(func() {
		ix := &index{
			defs:       make(map[string]TaskDefinition, len(c.Tasks)),
			capacity:   make(map[string]int, len(c.Categories)),
			vehicles:   make(map[string]struct{}, len(c.Vehicles)),
			summarySet: map[string]struct{}{},
		}
		for _, def := range c.Tasks {
			ix.defs[def.Code] = def
		}
		for _, cat := range c.Categories {
			ix.capacity[cat.Name] = cat.Capacity
		}
		for _, v := range c.Vehicles {
			ix.vehicles[v] = struct{}{}
		}
		keys := c.Summary.Keys
		if len(keys) == 0 {
			// No explicit whitelist: every catalog code gets a column.
			for _, def := range c.Tasks {
				keys = append(keys, c.summaryKey(def.Code))
			}
		}
		for _, k := range keys {
			if _, ok := ix.summarySet[k]; ok {
				continue
			}
			ix.summarySet[k] = struct{}{}
			ix.summaryKeys = append(ix.summaryKeys, k)
		}
		c.index = ix
	})
	return c.index
}

// Definition returns the task definition for code.
func (c *Catalog) Definition(code string) (TaskDefinition, bool) {
	def, ok := c.idx().defs[code]
	return def, ok
}

// CategoryNames returns category names in catalog order.
func (c *Catalog) CategoryNames() []string {
	names := make([]string, 0, len(c.Categories))
	for _, cat := range c.Categories {
		names = append(names, cat.Name)
	}
	return names
}

// Capacity returns the slot capacity of a category.
func (c *Catalog) Capacity(category string) (int, bool) {
	n, ok := c.idx().capacity[category]
	return n, ok
}

func (c *Catalog) HasCategory(category string) bool {
	_, ok := c.idx().capacity[category]
	return ok
}

func (c *Catalog) HasVehicle(vehicle string) bool {
	_, ok := c.idx().vehicles[vehicle]
	return ok
}

// CodesByCategory returns the task codes of a category in catalog order.
func (c *Catalog) CodesByCategory(category string) []string {
	var codes []string
	for _, def := range c.Tasks {
		if def.Category == category {
			codes = append(codes, def.Code)
		}
	}
	return codes
}

// SummaryKey maps a task code onto its summary column. Codes starting with a collapse
// prefix share the prefix column; every other code is its own column.
func (c *Catalog) SummaryKey(code string) string {
	return c.summaryKey(code)
}

func (c *Catalog) summaryKey(code string) string {
	for _, p := range c.Summary.CollapsePrefixes {
		if strings.HasPrefix(code, p) {
			return p
		}
	}
	return code
}

// SummaryKeys returns the tracked summary columns in display order.
func (c *Catalog) SummaryKeys() []string {
	keys := c.idx().summaryKeys
	out := make([]string, len(keys))
	copy(out, keys)
	return out
}

// TracksSummaryKey reports whether key is one of the tracked summary columns.
func (c *Catalog) TracksSummaryKey(key string) bool {
	_, ok := c.idx().summarySet[key]
	return ok
}

// GenerateDefault returns the default catalog YAML.
func GenerateDefault(fleetID string) string {
	return fmt.Sprintf(defaultTemplate, fleetID, defaultVehicles())
}

// Default returns the reference catalog for a fleet.
func Default(fleetID string) *Catalog {
	var c Catalog
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(fleetID))).Decode(&c)
	c.Fleet.ID = fleetID
	return &c
}

// FromYAML parses and validates a catalog from raw YAML bytes.
func FromYAML(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// FromFile reads a YAML catalog from the given path.
func FromFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

func defaultVehicles() string {
	ids := make([]string, 0, 35)
	for i := 1; i <= 35; i++ {
		ids = append(ids, fmt.Sprintf("%q", fmt.Sprintf("11%02d", i)))
	}
	return "[" + strings.Join(ids, ", ") + "]"
}

const defaultTemplate = `fleet:
  id: %s

categories:
  - name: Balanced
    capacity: 1
  - name: Special
    capacity: 4
  - name: Dedicated
    capacity: 7

tasks:
  - {code: J1, category: Balanced, man_hours: 8}
  - {code: J2, category: Balanced, man_hours: 8}
  - {code: J3, category: Balanced, man_hours: 8}
  - {code: J4, category: Balanced, man_hours: 8}
  - {code: J5, category: Balanced, man_hours: 8}
  - {code: J6, category: Balanced, man_hours: 8}
  - {code: J7, category: Balanced, man_hours: 4}
  - {code: J8, category: Balanced, man_hours: 8}
  - {code: J9, category: Balanced, man_hours: 8}
  - {code: J10, category: Balanced, man_hours: 8}
  - {code: J11, category: Balanced, man_hours: 8}
  - {code: J12, category: Balanced, man_hours: 8}
  - {code: T1, category: Special, man_hours: 4}
  - {code: T2, category: Special, man_hours: 6}
  - {code: T3, category: Special, man_hours: 12}
  - {code: Z1, category: Dedicated, man_hours: 3}
  - {code: Z2, category: Dedicated, man_hours: 10}
  - {code: Z3, category: Dedicated, man_hours: 5}
  - {code: Z4, category: Dedicated, man_hours: 7}
  - {code: Z5, category: Dedicated, man_hours: 4}
  - {code: Z6, category: Dedicated, man_hours: 6}
  - {code: Z7, category: Dedicated, man_hours: 3}

vehicles: %s

summary:
  collapse_prefixes: [J]
  keys: [J, Z1, Z2, Z3, Z5, Z6, Z7, T1, T2, T3]
`
