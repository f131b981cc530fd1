package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('doctor', 'pharmacy', 'patient')),
		hospital_name TEXT,
		hospital_address TEXT,
		hospital_contact TEXT,
		license_number TEXT,
		doctor_name TEXT,
		patient_name TEXT,
		patient_age INTEGER,
		patient_gender TEXT,
		patient_address TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS queue_tickets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		patient_id INTEGER NOT NULL REFERENCES users(id),
		doctor_id INTEGER NOT NULL REFERENCES users(id),
		queue_number TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS prescription_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		document_filename TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'Pending',
		medication_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		payload BLOB NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		error_message TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		processed_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_events_status ON outbox_events (status, created_at)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('doctor', 'pharmacy', 'patient')),
		hospital_name TEXT,
		hospital_address TEXT,
		hospital_contact TEXT,
		license_number TEXT,
		doctor_name TEXT,
		patient_name TEXT,
		patient_age INTEGER,
		patient_gender TEXT,
		patient_address TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS queue_tickets (
		id BIGSERIAL PRIMARY KEY,
		patient_id BIGINT NOT NULL REFERENCES users(id),
		doctor_id BIGINT NOT NULL REFERENCES users(id),
		queue_number TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS prescription_records (
		id BIGSERIAL PRIMARY KEY,
		document_filename TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'Pending',
		medication_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		payload BYTEA NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		error_message TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		processed_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_events_status ON outbox_events (status, created_at)`,
}

// EnsureSchema creates every table that does not exist yet. It never alters
// or drops existing tables, so it is safe on every start.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	statements := sqliteSchema
	if db.DriverName() == DriverPostgres {
		statements = postgresSchema
	}

	return withTx(ctx, db, func(tx *sqlx.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create schema: %w", err)
			}
		}
		return nil
	})
}
