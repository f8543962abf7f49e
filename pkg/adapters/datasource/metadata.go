package datasource

// Table is a discovered base table in a tenant database.
type Table struct {
	Schema   string
	Name     string
	RowCount int64
}

// Column is a discovered column. DataType is normalized to a
// database-neutral name so schema context prompts read the same way
// regardless of which driver produced them.
type Column struct {
	Name            string
	DataType        string
	IsNullable      bool
	IsPrimaryKey    bool
	OrdinalPosition int
}
