package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Migration represents a database migration
type Migration struct {
	Version int
	Up      string
	Down    string
}

// Migrations contains all database migrations
var Migrations = []Migration{
	{
		Version: 1,
		Up: `
			CREATE EXTENSION IF NOT EXISTS "uuid-ossp";

			CREATE TABLE IF NOT EXISTS broadcasts (
				id UUID PRIMARY KEY DEFAULT uuid_generate_v4(),
				external_match_id VARCHAR(255) NOT NULL,
				organization_id VARCHAR(255) NOT NULL,
				stream_key VARCHAR(128) UNIQUE NOT NULL,
				status VARCHAR(20) NOT NULL DEFAULT 'scheduled',
				started_at TIMESTAMPTZ,
				ended_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				CONSTRAINT broadcasts_status_check CHECK (status IN ('scheduled', 'live', 'finished', 'cancelled'))
			);

			CREATE INDEX IF NOT EXISTS idx_broadcasts_status ON broadcasts(status);
		`,
		Down: `
			DROP TABLE IF EXISTS broadcasts;
		`,
	},
	{
		Version: 2,
		Up: `
			CREATE INDEX IF NOT EXISTS idx_broadcasts_organization ON broadcasts(organization_id, created_at DESC);
			CREATE INDEX IF NOT EXISTS idx_broadcasts_match ON broadcasts(external_match_id);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_broadcasts_organization;
			DROP INDEX IF EXISTS idx_broadcasts_match;
		`,
	},
	{
		Version: 3,
		Up: `
			ALTER TABLE broadcasts ADD CONSTRAINT broadcasts_timestamps_check CHECK (
				(status = 'scheduled' AND started_at IS NULL AND ended_at IS NULL)
				OR (status = 'live' AND started_at IS NOT NULL AND ended_at IS NULL)
				OR (status = 'finished' AND started_at IS NOT NULL AND ended_at IS NOT NULL)
				OR (status = 'cancelled' AND ended_at IS NOT NULL)
			);
		`,
		Down: `
			ALTER TABLE broadcasts DROP CONSTRAINT IF EXISTS broadcasts_timestamps_check;
		`,
	},
}

// RunMigrations applies every migration newer than the recorded version, each in its own transaction.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}

	currentVersion, err := getCurrentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range sortedMigrations() {
		if migration.Version <= currentVersion {
			continue
		}

		zerolog.Ctx(ctx).Info().Int("version", migration.Version).Msg("running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to run migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", migration.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// Rollback reverts the most recently applied migration. It is a no-op when nothing is applied.
func Rollback(ctx context.Context, db *sql.DB) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}

	currentVersion, err := getCurrentVersion(ctx, db)
	if err != nil {
		return err
	}
	if currentVersion == 0 {
		return nil
	}

	var target *Migration
	for _, m := range Migrations {
		if m.Version == currentVersion {
			m := m
			target = &m
			break
		}
	}
	if target == nil {
		return fmt.Errorf("migration %d is recorded but unknown to this binary", currentVersion)
	}

	zerolog.Ctx(ctx).Info().Int("version", target.Version).Msg("reverting migration")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, target.Down); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to revert migration %d: %w", target.Version, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = $1", target.Version); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to unrecord migration %d: %w", target.Version, err)
	}
	return tx.Commit()
}

// AppliedMigration is one row of schema_migrations.
type AppliedMigration struct {
	Version   int
	AppliedAt time.Time
}

func Status(ctx context.Context, db *sql.DB) ([]AppliedMigration, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}
	defer rows.Close()

	var out []AppliedMigration
	for rows.Next() {
		var m AppliedMigration
		if err := rows.Scan(&m.Version, &m.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func sortedMigrations() []Migration {
	sorted := make([]Migration, len(Migrations))
	copy(sorted, Migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	return sorted
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func getCurrentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}
