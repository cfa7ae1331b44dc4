// Package journal persists controller events (pulse sequences, predictions,
// config changes, failures) to rolling local SQLite databases. The journal is
// a diagnostic record; nothing is ever replayed from it.
package journal

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "modernc.org/sqlite"
)

// Event kinds.
const (
	KindIrrigation = "irrigation"
	KindPrediction = "prediction"
	KindConfig     = "config"
	KindMonitor    = "monitor"
	KindError      = "error"
)

// Event is one journal row.
type Event struct {
	ID           string `json:"id"`
	TsNs         int64  `json:"ts_ns"`
	Kind         string `json:"kind"`
	GreenhouseID string `json:"greenhouse_id,omitempty"`
	Status       string `json:"status,omitempty"`
	Detail       string `json:"detail,omitempty"` // free-form JSON
}

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsPath = "migrations"

// openDB opens a journal database with the standard pragmas.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal open db %s: %w", path, err)
	}

	// Single-writer: only one connection needed.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal exec %q on %s: %w", p, path, err)
		}
	}
	return db, nil
}

// migrateDB applies journal migrations to an open database.
func migrateDB(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, migrationsPath)
	if err != nil {
		return fmt.Errorf("journal migrate: init source: %w", err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("journal migrate: init db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("journal migrate: init migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("journal migrate: up: %w", err)
	}
	return nil
}
