package registry

import (
	"context"
	"database/sql"
	"time"

	"github.com/biodiversity-meets-data/occmirror/pkg/errors"
	"github.com/uptrace/bun"
)

// Migration is implemented by every schema migration
type Migration interface {
	Version() int
	Name() string
	Up(ctx context.Context, tx bun.Tx) error
}

// availableMigrations lists all migrations in order
func availableMigrations() []Migration {
	return []Migration{
		&migration001{},
	}
}

// migrateToLatest runs all pending migrations in one transaction
func migrateToLatest(ctx context.Context, db *bun.DB) error {
	currentVersion, err := currentMigrationVersion(ctx, db)
	if err != nil {
		return err
	}

	var pending []Migration
	for _, m := range availableMigrations() {
		if m.Version() > currentVersion {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(ErrMigrationFailed, "failed to begin migration transaction", err)
	}

	for _, m := range pending {
		if err := m.Up(ctx, tx); err != nil {
			tx.Rollback()
			return errors.New(ErrMigrationFailed, "migration failed", err).AddContext("migration", m.Name())
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, m := range pending {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mirror_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.Version(), m.Name(), now,
		); err != nil {
			tx.Rollback()
			return errors.New(ErrMigrationFailed, "failed to record migration", err).AddContext("migration", m.Name())
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.New(ErrMigrationFailed, "failed to commit migrations", err)
	}
	return nil
}

// currentMigrationVersion returns the latest applied migration version,
// creating the tracking table on first use
func currentMigrationVersion(ctx context.Context, db *bun.DB) (int, error) {
	exists, err := tableExists(ctx, db, "mirror_migrations")
	if err != nil {
		return 0, errors.New(ErrMigrationFailed, "failed to check migrations table", err)
	}
	if !exists {
		_, err := db.NewCreateTable().
			Model(&struct {
				bun.BaseModel `bun:"table:mirror_migrations"`
				Version       int    `bun:"version,pk,type:integer"`
				Name          string `bun:"name,type:text,notnull"`
				AppliedAt     string `bun:"applied_at,type:text,notnull"`
			}{}).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return 0, errors.New(ErrMigrationFailed, "failed to create migrations table", err)
		}
		return 0, nil
	}

	var version int
	err = db.NewSelect().
		Column("version").
		Table("mirror_migrations").
		Order("version DESC").
		Limit(1).
		Scan(ctx, &version)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, errors.New(ErrMigrationFailed, "failed to get current version", err)
	}
	return version, nil
}

// verifySchema checks that every expected table exists
func verifySchema(ctx context.Context, db *bun.DB) error {
	expectedTables := []string{"mirror_migrations", "snapshots", "partition_files", "sync_runs"}
	for _, name := range expectedTables {
		exists, err := tableExists(ctx, db, name)
		if err != nil {
			return errors.New(ErrSchemaVerification, "failed to verify table", err).AddContext("table", name)
		}
		if !exists {
			return errors.New(ErrSchemaVerification, "expected table does not exist", nil).AddContext("table", name)
		}
	}
	return nil
}

func tableExists(ctx context.Context, db *bun.DB, tableName string) (bool, error) {
	var exists int
	err := db.NewRaw("SELECT 1 FROM sqlite_master WHERE type='table' AND name=?", tableName).Scan(ctx, &exists)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// migration001 creates the initial mirror schema
type migration001 struct{}

func (m *migration001) Version() int { return 1 }
func (m *migration001) Name() string { return "initial_mirror_schema" }

func (m *migration001) Up(ctx context.Context, tx bun.Tx) error {
	if _, err := tx.NewCreateTable().
		Model((*Snapshot)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return err
	}

	if _, err := tx.NewCreateTable().
		Model((*PartitionFile)(nil)).
		ForeignKey(`("snapshot_id") REFERENCES "snapshots" ("id") ON DELETE CASCADE`).
		IfNotExists().
		Exec(ctx); err != nil {
		return err
	}

	if _, err := tx.NewCreateTable().
		Model((*SyncRun)(nil)).
		ForeignKey(`("snapshot_id") REFERENCES "snapshots" ("id") ON DELETE CASCADE`).
		IfNotExists().
		Exec(ctx); err != nil {
		return err
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_snapshots_date ON snapshots(date)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_state ON snapshots(state)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_partition_files_key ON partition_files(snapshot_id, key)`,
		`CREATE INDEX IF NOT EXISTS idx_partition_files_state ON partition_files(snapshot_id, state)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_snapshot ON sync_runs(snapshot_id)`,
	}
	for _, idx := range indexes {
		if _, err := tx.ExecContext(ctx, idx); err != nil {
			return err
		}
	}

	return nil
}
