package recorder

import "fmt"

// PostgresDialect implements Dialect for PostgreSQL archives.
type PostgresDialect struct{}

// DriverName returns "postgres" for the lib/pq driver.
func (d *PostgresDialect) DriverName() string {
	return "postgres"
}

// Placeholder returns "$N" for the given position (PostgreSQL uses numbered placeholders).
func (d *PostgresDialect) Placeholder(position int) string {
	return fmt.Sprintf("$%d", position)
}

// InitStatements returns no statements; PostgreSQL needs no per-connection setup.
func (d *PostgresDialect) InitStatements() []string {
	return nil
}

// Schema returns the PostgreSQL frame archive schema.
func (d *PostgresDialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS frames (
			id BIGSERIAL PRIMARY KEY,
			seq BIGINT NOT NULL,
			received_at TIMESTAMPTZ NOT NULL,
			payload TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_frames_received_at ON frames(received_at)`,
	}
}
