// Package semantics carries the restaurant analytics catalog: which tables
// and columns exist, what each metric means, which joins are legal, and the
// business rules every generated query must obey. The catalog is the source
// of truth the validator enforces; the prompt merely repeats it as a hint.
package semantics

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// Well-known tables of the restaurant schema.
const (
	TableSales    = "sales"
	TableItems    = "items"
	TableProducts = "products"
	TableExpenses = "expenses"
	TablePayments = "payments"
)

// Well-known columns referenced by the mandatory rules.
const (
	ColumnCreatedAt = "created_at"
	ColumnClosedAt  = "closed_at"
	ColumnSaleState = "sale_state"
	ColumnCanceled  = "canceled"
)

// ClosedStateLiteral is the only sale_state value that counts for reporting.
const ClosedStateLiteral = "CLOSED"

// Mandatory predicates, in the exact shape the planner emits and the
// validator detects.
const (
	ClosedStatePredicate = "sale_state = 'CLOSED'"
	NonCanceledPredicate = "canceled IS NOT TRUE"
)

// Semantic roles for columns in a schema context.
const (
	RoleIdentifier = "identifier"
	RoleDimension  = "dimension"
	RoleMeasure    = "measure"
	RoleTime       = "time"
	RoleState      = "state"
	RoleAttribute  = "attribute"
)

// ColumnSpec describes one expected column of a catalog table.
type ColumnSpec struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Role        string `yaml:"role"`
	Description string `yaml:"description,omitempty"`
}

// TableSpec describes one allowed table.
type TableSpec struct {
	Name       string       `yaml:"name"`
	PrimaryKey string       `yaml:"primary_key"`
	Kind       string       `yaml:"kind"` // "fact" or "dimension"
	DateColumn string       `yaml:"date_column,omitempty"`
	Columns    []ColumnSpec `yaml:"columns"`
}

// Metric maps a business term to its one legal aggregation.
type Metric struct {
	Name        string `yaml:"name"`
	Table       string `yaml:"table"`
	Expression  string `yaml:"expression"`
	Description string `yaml:"description,omitempty"`
}

// Join is one edge of the legal join graph.
type Join struct {
	LeftTable   string `yaml:"left_table"`
	LeftColumn  string `yaml:"left_column"`
	RightTable  string `yaml:"right_table"`
	RightColumn string `yaml:"right_column"`
}

// Catalog is the full rule set for one deployment. Rules are ordered; their
// text is embedded verbatim in generation prompts and mirrored by validator
// checks.
type Catalog struct {
	Tables  []TableSpec `yaml:"tables"`
	Metrics []Metric    `yaml:"metrics"`
	Joins   []Join      `yaml:"joins"`
	Rules   []string    `yaml:"rules"`
}

// Default returns the built-in restaurant catalog.
func Default() *Catalog {
	return &Catalog{
		Tables: []TableSpec{
			{
				Name:       TableSales,
				PrimaryKey: "uuid",
				Kind:       "fact",
				DateColumn: ColumnCreatedAt,
				Columns: []ColumnSpec{
					{Name: "uuid", Type: "uuid", Role: RoleIdentifier},
					{Name: "restaurant", Type: "text", Role: RoleDimension, Description: "location name"},
					{Name: ColumnCreatedAt, Type: "timestamptz", Role: RoleTime, Description: "when the sale happened; use for all time filters"},
					{Name: ColumnClosedAt, Type: "timestamptz", Role: RoleTime, Description: "bookkeeping close time; never use for time filters"},
					{Name: ColumnSaleState, Type: "text", Role: RoleState, Description: "only 'CLOSED' sales count"},
					{Name: "total", Type: "numeric", Role: RoleMeasure, Description: "order total; the gross sales measure"},
					{Name: "num_customers", Type: "integer", Role: RoleMeasure, Description: "covers"},
				},
			},
			{
				Name:       TableItems,
				PrimaryKey: "uuid",
				Kind:       "fact",
				Columns: []ColumnSpec{
					{Name: "uuid", Type: "uuid", Role: RoleIdentifier},
					{Name: "sale_id", Type: "uuid", Role: RoleIdentifier},
					{Name: "product_id", Type: "uuid", Role: RoleIdentifier},
					{Name: "quantity", Type: "integer", Role: RoleMeasure},
					{Name: "price", Type: "numeric", Role: RoleMeasure, Description: "price charged on this line"},
					{Name: ColumnCanceled, Type: "boolean", Role: RoleState, Description: "canceled lines never count"},
				},
			},
			{
				Name:       TableProducts,
				PrimaryKey: "uuid",
				Kind:       "dimension",
				Columns: []ColumnSpec{
					{Name: "uuid", Type: "uuid", Role: RoleIdentifier},
					{Name: "name", Type: "text", Role: RoleDimension},
					{Name: "category", Type: "text", Role: RoleDimension},
					{Name: "price", Type: "numeric", Role: RoleAttribute, Description: "current menu price; not a revenue column"},
				},
			},
			{
				Name:       TableExpenses,
				PrimaryKey: "uuid",
				Kind:       "fact",
				DateColumn: ColumnCreatedAt,
				Columns: []ColumnSpec{
					{Name: "uuid", Type: "uuid", Role: RoleIdentifier},
					{Name: "restaurant", Type: "text", Role: RoleDimension},
					{Name: ColumnCreatedAt, Type: "timestamptz", Role: RoleTime},
					{Name: "category", Type: "text", Role: RoleDimension},
					{Name: "amount", Type: "numeric", Role: RoleMeasure},
				},
			},
			{
				Name:       TablePayments,
				PrimaryKey: "uuid",
				Kind:       "fact",
				DateColumn: ColumnCreatedAt,
				Columns: []ColumnSpec{
					{Name: "uuid", Type: "uuid", Role: RoleIdentifier},
					{Name: "sale_id", Type: "uuid", Role: RoleIdentifier},
					{Name: "method", Type: "text", Role: RoleDimension},
					{Name: "amount", Type: "numeric", Role: RoleMeasure},
					{Name: ColumnCreatedAt, Type: "timestamptz", Role: RoleTime},
				},
			},
		},
		Metrics: []Metric{
			{Name: "gross_sales", Table: TableSales, Expression: "SUM(sales.total)", Description: "gross sales / revenue / turnover"},
			{Name: "item_revenue", Table: TableItems, Expression: "SUM(items.price * items.quantity)", Description: "revenue attributed to products"},
			{Name: "covers", Table: TableSales, Expression: "SUM(sales.num_customers)", Description: "guests served"},
			{Name: "expense_total", Table: TableExpenses, Expression: "SUM(expenses.amount)", Description: "expenses"},
			{Name: "payment_total", Table: TablePayments, Expression: "SUM(payments.amount)", Description: "payments received"},
		},
		Joins: []Join{
			{LeftTable: TableItems, LeftColumn: "sale_id", RightTable: TableSales, RightColumn: "uuid"},
			{LeftTable: TablePayments, LeftColumn: "sale_id", RightTable: TableSales, RightColumn: "uuid"},
			{LeftTable: TableItems, LeftColumn: "product_id", RightTable: TableProducts, RightColumn: "uuid"},
		},
		Rules: []string{
			"Every query touching sales must include the filter sale_state = 'CLOSED'; open or voided sales never count.",
			"Time filters always use created_at, never closed_at.",
			"Every query touching items must include the filter canceled IS NOT TRUE.",
			"Gross sales means SUM(sales.total). Item revenue means SUM(items.price * items.quantity). Never aggregate products.price for revenue; it is the current menu price.",
			"Produce exactly one read-only SELECT statement; no writes, no DDL, no second statement.",
		},
	}
}

// Table looks up a table by name.
func (c *Catalog) Table(name string) (TableSpec, bool) {
	for _, t := range c.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableSpec{}, false
}

// Metric returns the metric with the given name, if present.
func (c *Catalog) Metric(name string) (Metric, bool) {
	for _, m := range c.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return Metric{}, false
}

// JoinsFor returns join edges that touch the given table.
func (c *Catalog) JoinsFor(table string) []Join {
	var joins []Join
	for _, j := range c.Joins {
		if j.LeftTable == table || j.RightTable == table {
			joins = append(joins, j)
		}
	}
	return joins
}

// EntityName derives a display name for a table ("sales" -> "Sale").
func EntityName(table string) string {
	singular := inflection.Singular(table)
	if singular == "" {
		return table
	}
	return strings.ToUpper(singular[:1]) + singular[1:]
}
