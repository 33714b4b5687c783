package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/relay/internal/store/migrations"
)

// SchemaVersion is the newest migration this build ships:
//
//	1  conversations, their participants and the message log
//	2  unread_state, the last unread flag published per participant
const SchemaVersion = 2

// Migration reports the schema version before and after Migrate.
type Migration struct {
	From uint
	To   uint
}

// Applied reports whether Migrate changed the schema.
func (m Migration) Applied() bool { return m.From != m.To }

// Migrate brings the schema up to SchemaVersion. A database left dirty by a
// failed migration, or written by a newer build, is refused.
func (db *DB) Migrate() (Migration, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return Migration{}, fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return Migration{}, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return Migration{}, fmt.Errorf("migration instance: %w", err)
	}

	from, err := schemaVersion(m)
	if err != nil {
		return Migration{}, err
	}
	if from > SchemaVersion {
		return Migration{From: from, To: from}, fmt.Errorf("schema version %d is newer than this build (%d)", from, SchemaVersion)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return Migration{From: from}, fmt.Errorf("migrate from version %d: %w", from, err)
	}
	to, err := schemaVersion(m)
	if err != nil {
		return Migration{From: from}, err
	}
	return Migration{From: from, To: to}, nil
}

// schemaVersion is 0 on a fresh database.
func schemaVersion(m *migrate.Migrate) (uint, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return v, fmt.Errorf("schema version %d is dirty", v)
	}
	return v, nil
}
