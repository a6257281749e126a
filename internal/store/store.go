// Package store is the durable SQL booking store served by bookingd.
package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"booking-proxy/internal/config"
)

// DB wraps a SQL connection with the dialect it was opened for.
type DB struct {
	*sql.DB
	driver string
}

// Open connects to the configured database and applies the schema.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return openSQLite(cfg.Path)
	case "postgres", "pgx":
		return openPostgres(cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func openSQLite(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	db := &DB{DB: sqlDB, driver: "sqlite"}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return db, nil
}

func openPostgres(dsn string) (*DB, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db := &DB{DB: sqlDB, driver: "postgres"}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return db, nil
}

// Driver returns "sqlite" or "postgres".
func (db *DB) Driver() string { return db.driver }

// Q rewrites ? placeholders for PostgreSQL, passes through for SQLite.
func (db *DB) Q(query string) string {
	if db.driver == "postgres" {
		return Rebind(query)
	}
	return query
}

// Rebind converts ? placeholders to $1, $2, ...
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (db *DB) migrate() error {
	var schema string
	switch db.driver {
	case "sqlite":
		schema = schemaSQLite
	case "postgres":
		schema = schemaPostgres
	default:
		return fmt.Errorf("no schema for driver: %s", db.driver)
	}
	_, err := db.Exec(schema)
	return err
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS bookings (
	booking_sn      TEXT PRIMARY KEY,
	shop_id         INTEGER NOT NULL,
	booking_status  TEXT NOT NULL DEFAULT '',
	tracking_number TEXT NOT NULL DEFAULT '',
	document_status TEXT NOT NULL DEFAULT '',
	is_printed      INTEGER NOT NULL DEFAULT 0,
	match_status    TEXT NOT NULL DEFAULT '',
	order_sn        TEXT NOT NULL DEFAULT '',
	buyer_username  TEXT NOT NULL DEFAULT '',
	create_time     INTEGER NOT NULL DEFAULT 0,
	update_time     INTEGER NOT NULL DEFAULT 0,
	payload         TEXT NOT NULL DEFAULT '{}',
	updated_at      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_bookings_shop_status ON bookings(shop_id, booking_status);
CREATE INDEX IF NOT EXISTS idx_bookings_document ON bookings(document_status, is_printed);
CREATE INDEX IF NOT EXISTS idx_bookings_create_time ON bookings(create_time);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS bookings (
	booking_sn      TEXT PRIMARY KEY,
	shop_id         BIGINT NOT NULL,
	booking_status  TEXT NOT NULL DEFAULT '',
	tracking_number TEXT NOT NULL DEFAULT '',
	document_status TEXT NOT NULL DEFAULT '',
	is_printed      INTEGER NOT NULL DEFAULT 0,
	match_status    TEXT NOT NULL DEFAULT '',
	order_sn        TEXT NOT NULL DEFAULT '',
	buyer_username  TEXT NOT NULL DEFAULT '',
	create_time     BIGINT NOT NULL DEFAULT 0,
	update_time     BIGINT NOT NULL DEFAULT 0,
	payload         TEXT NOT NULL DEFAULT '{}',
	updated_at      BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_bookings_shop_status ON bookings(shop_id, booking_status);
CREATE INDEX IF NOT EXISTS idx_bookings_document ON bookings(document_status, is_printed);
CREATE INDEX IF NOT EXISTS idx_bookings_create_time ON bookings(create_time);
`
