package semantics

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a catalog override from a YAML file. Deployments with a
// non-standard schema ship their own catalog; everything else uses Default.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read semantics catalog: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse semantics catalog: %w", err)
	}

	if err := catalog.Validate(); err != nil {
		return nil, fmt.Errorf("invalid semantics catalog: %w", err)
	}
	return &catalog, nil
}

// Validate checks internal consistency: metrics and joins may only reference
// cataloged tables and columns.
func (c *Catalog) Validate() error {
	if len(c.Tables) == 0 {
		return fmt.Errorf("catalog has no tables")
	}

	names := make(map[string]TableSpec, len(c.Tables))
	for _, t := range c.Tables {
		if t.Name == "" {
			return fmt.Errorf("table with empty name")
		}
		if _, dup := names[t.Name]; dup {
			return fmt.Errorf("duplicate table %q", t.Name)
		}
		names[t.Name] = t
	}

	for _, m := range c.Metrics {
		if _, ok := names[m.Table]; !ok {
			return fmt.Errorf("metric %q references unknown table %q", m.Name, m.Table)
		}
	}

	for _, j := range c.Joins {
		left, ok := names[j.LeftTable]
		if !ok {
			return fmt.Errorf("join references unknown table %q", j.LeftTable)
		}
		right, ok := names[j.RightTable]
		if !ok {
			return fmt.Errorf("join references unknown table %q", j.RightTable)
		}
		if !hasColumn(left, j.LeftColumn) {
			return fmt.Errorf("join references unknown column %s.%s", j.LeftTable, j.LeftColumn)
		}
		if !hasColumn(right, j.RightColumn) {
			return fmt.Errorf("join references unknown column %s.%s", j.RightTable, j.RightColumn)
		}
	}
	return nil
}

func hasColumn(t TableSpec, name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}
