// Package testutil builds seeded stores for package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jwalitptl/prescription-api/internal/config"
	"github.com/jwalitptl/prescription-api/internal/repository/sqlstore"
	"github.com/jwalitptl/prescription-api/pkg/security"
)

// Seeded fixture ids in a fresh database.
const (
	DoctorID  int64 = 1
	PatientID int64 = 2
)

// NewDB opens a migrated sqlite database in a temp dir, closed at cleanup.
func NewDB(t *testing.T) *sqlx.DB {
	t.Helper()

	ctx := context.Background()
	db, err := sqlstore.NewDB(ctx, config.DatabaseConfig{
		Driver: sqlstore.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, sqlstore.EnsureSchema(ctx, db))
	return db
}

// NewSeededDB is NewDB plus the demo doctor, patient and ticket.
func NewSeededDB(t *testing.T, now time.Time) *sqlx.DB {
	t.Helper()

	db := NewDB(t)
	seeder := sqlstore.NewSeeder(db, security.NewBcryptHasher(bcrypt.MinCost), func() time.Time { return now })
	_, err := seeder.EnsureSeedData(context.Background())
	require.NoError(t, err)
	return db
}
