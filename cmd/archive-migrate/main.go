// archive-migrate copies a recorded frame archive from SQLite to
// PostgreSQL, preserving ids and sequence numbers.
//
// Usage:
//
//	go run ./cmd/archive-migrate \
//	    -sqlite data/frames.db \
//	    -pg-host localhost \
//	    -pg-port 5432 \
//	    -pg-user groundstation \
//	    -pg-password groundstation \
//	    -pg-database groundstation
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/lakeshorelabs/groundstation/internal/recorder"
)

func main() {
	// Parse command-line flags
	sqlitePath := flag.String("sqlite", "data/frames.db", "Path to the SQLite frame archive")
	pgHost := flag.String("pg-host", "localhost", "PostgreSQL host")
	pgPort := flag.Int("pg-port", 5432, "PostgreSQL port")
	pgUser := flag.String("pg-user", "groundstation", "PostgreSQL user")
	pgPassword := flag.String("pg-password", "groundstation", "PostgreSQL password")
	pgDatabase := flag.String("pg-database", "groundstation", "PostgreSQL database name")
	pgSSLMode := flag.String("pg-sslmode", "disable", "PostgreSQL SSL mode")
	dryRun := flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	flag.Parse()

	log.Println("Frame Archive Migration Tool")
	log.Println("============================")

	// Open the SQLite archive
	log.Printf("Opening SQLite archive: %s", *sqlitePath)
	sqliteDB, err := sql.Open("sqlite", *sqlitePath)
	if err != nil {
		log.Fatalf("Failed to open SQLite archive: %v", err)
	}
	defer sqliteDB.Close()

	if err := sqliteDB.Ping(); err != nil {
		log.Fatalf("Failed to connect to SQLite archive: %v", err)
	}

	// Build PostgreSQL connection string
	pgConnStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		*pgHost, *pgPort, *pgUser, *pgPassword, *pgDatabase, *pgSSLMode,
	)

	log.Printf("Opening PostgreSQL database: %s@%s:%d/%s", *pgUser, *pgHost, *pgPort, *pgDatabase)
	pgDB, err := sql.Open("postgres", pgConnStr)
	if err != nil {
		log.Fatalf("Failed to open PostgreSQL database: %v", err)
	}
	defer pgDB.Close()

	if err := pgDB.Ping(); err != nil {
		log.Fatalf("Failed to connect to PostgreSQL database: %v", err)
	}

	if *dryRun {
		log.Println("DRY RUN MODE - No changes will be made")
	}

	// The recorder's dialect owns the schema; reuse it so the tool can
	// never drift from what stationd writes.
	log.Println("Ensuring PostgreSQL schema is ready...")
	if !*dryRun {
		dialect, err := recorder.NewDialect("postgres")
		if err != nil {
			log.Fatalf("Failed to load postgres dialect: %v", err)
		}
		for _, stmt := range dialect.Schema() {
			if _, err := pgDB.Exec(stmt); err != nil {
				log.Fatalf("Failed to prepare schema: %v\nSQL: %s", err, stmt)
			}
		}
	}

	count, err := migrateFrames(sqliteDB, pgDB, *dryRun)
	if err != nil {
		log.Fatalf("Failed to migrate frames: %v", err)
	}

	log.Println("============================")
	log.Printf("Migration complete! Frames migrated: %d", count)
	if *dryRun {
		log.Println("(DRY RUN - No actual changes were made)")
	}
}

func migrateFrames(sqlite, pg *sql.DB, dryRun bool) (int64, error) {
	rows, err := sqlite.Query(`SELECT id, seq, received_at, payload FROM frames ORDER BY id`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var count int64
	for rows.Next() {
		var id, seq int64
		var receivedAt time.Time
		var payload string

		if err := rows.Scan(&id, &seq, &receivedAt, &payload); err != nil {
			return count, err
		}

		if dryRun {
			count++
			continue
		}

		// Skip frames that already made it across
		var existingID int64
		err := pg.QueryRow(`SELECT id FROM frames WHERE id = $1`, id).Scan(&existingID)
		if err == nil {
			continue
		}

		// Insert with explicit ID to preserve archive order
		_, err = pg.Exec(
			`INSERT INTO frames (id, seq, received_at, payload) VALUES ($1, $2, $3, $4)`,
			id, seq, receivedAt.UTC(), payload,
		)
		if err != nil {
			if !strings.Contains(err.Error(), "duplicate key") {
				return count, err
			}
		} else {
			count++
		}
	}

	// Reset the sequence to avoid ID conflicts for new frames
	if !dryRun {
		_, _ = pg.Exec(`SELECT setval('frames_id_seq', COALESCE((SELECT MAX(id) FROM frames), 0) + 1, false)`)
	}

	return count, rows.Err()
}

func init() {
	// Custom usage message
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Copies a recorded frame archive from SQLite to PostgreSQL.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExample:\n")
		fmt.Fprintf(os.Stderr, "  %s -sqlite data/frames.db -pg-host localhost -pg-user groundstation -pg-password groundstation -pg-database groundstation\n", os.Args[0])
	}
}
