// Package migrations применяет SQL-миграции схемы PostgreSQL.
package migrations

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	// Источник миграций из локальной директории.
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Table таблица версий схемы. Своё имя позволяет делить базу с другими сервисами.
const Table = "terabox_schema_migrations"

// ErrDirtySchema предыдущая миграция прервалась, схему нужно чинить вручную.
var ErrDirtySchema = errors.New("schema is dirty")

// Run доводит схему до последней версии из каталога dir и возвращает её номер.
// Если схема уже актуальна, ничего не делает.
func Run(db *sql.DB, dir string) (uint, error) {
	const op = "migrations.Run"

	driver, err := pgxv5.WithInstance(db, &pgxv5.Config{MigrationsTable: Table})
	if err != nil {
		return 0, fmt.Errorf("%s: driver: %w", op, err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "pgx_v5", driver)
	if err != nil {
		return 0, fmt.Errorf("%s: source %s: %w", op, dir, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("%s: up: %w", op, err)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("%s: version: %w", op, err)
	case dirty:
		return version, fmt.Errorf("%s: %w: version %d", op, ErrDirtySchema, version)
	}
	return version, nil
}
