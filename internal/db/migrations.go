package db

import (
	"context"
	"database/sql"
	"fmt"
)

type Migration struct {
	Version int
	UpSQL   string
	DownSQL string
}

var migrations = []Migration{
	{
		Version: 1,
		UpSQL: `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS rules (
	position INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	field TEXT NOT NULL,
	operator TEXT NOT NULL CHECK(operator IN ('>','<','>=','<=','==','!=','contains','len==')),
	value_json TEXT NOT NULL,
	bin INTEGER NOT NULL CHECK(bin >= 0)
);

CREATE TABLE IF NOT EXISTS scans (
	scan_id TEXT PRIMARY KEY,
	card_name TEXT NOT NULL,
	bin INTEGER NOT NULL,
	scanned_at TEXT NOT NULL,
	record_json TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS scans_scanned_at ON scans(scanned_at);
`,
		DownSQL: `
DROP INDEX IF EXISTS scans_scanned_at;
DROP TABLE IF EXISTS scans;
DROP TABLE IF EXISTS rules;
DROP TABLE IF EXISTS schema_migrations;
`,
	},
}

func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations(version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE version = ?`, m.Version).Scan(&exists)
		if err == nil {
			continue
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
