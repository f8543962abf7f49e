package models

import "time"

// ColumnInfo describes one result column.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// ExecutionResult holds the rows returned by a validated query. Rows keep
// the column order of Columns. Transient; never persisted.
type ExecutionResult struct {
	Columns  []ColumnInfo  `json:"columns"`
	Rows     [][]any       `json:"rows"`
	RowCount int           `json:"row_count"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Empty reports whether the result carries no rows.
func (r *ExecutionResult) Empty() bool {
	return r == nil || r.RowCount == 0
}

// ColumnNames returns the ordered column names.
func (r *ExecutionResult) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}
