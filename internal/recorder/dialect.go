package recorder

import "fmt"

// Dialect abstracts SQL syntax differences between the SQLite and
// PostgreSQL archive backends.
type Dialect interface {
	// DriverName returns the driver name for sql.Open().
	// SQLite: "sqlite", PostgreSQL: "postgres"
	DriverName() string

	// Placeholder returns the parameter placeholder for the given position (1-indexed).
	// SQLite: "?" (ignores position), PostgreSQL: "$1", "$2", etc.
	Placeholder(position int) string

	// InitStatements returns statements run once per connection before any
	// schema work. SQLite: PRAGMA statements, PostgreSQL: none.
	InitStatements() []string

	// Schema returns the statements that create the frame archive tables
	// and indexes. All statements are idempotent.
	Schema() []string
}

// NewDialect creates the Dialect for the configured archive driver.
func NewDialect(driver string) (Dialect, error) {
	switch driver {
	case "sqlite":
		return &SQLiteDialect{}, nil
	case "postgres":
		return &PostgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unknown archive driver %q", driver)
	}
}
