package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/cardsort/sorterd/internal/model"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// ReplaceRules swaps the persisted rule list wholesale, preserving order via
// an explicit position column.
func (s *Store) ReplaceRules(ctx context.Context, rules []model.Rule) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rules tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rules`); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("clear rules: %w", err)
	}
	for i, r := range rules {
		valueJSON, err := json.Marshal(r.Value)
		if err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("encode rule value: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO rules(position, name, field, operator, value_json, bin)
VALUES (?, ?, ?, ?, ?, ?)
`, i, r.Name, r.Field, r.Operator, string(valueJSON), r.Bin); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("insert rule %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rules: %w", err)
	}
	return nil
}

// ListRules returns the persisted rule list in evaluation order. An empty
// result means no rules are persisted; the caller falls back to the built-in
// default set.
func (s *Store) ListRules(ctx context.Context) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT name, field, operator, value_json, bin FROM rules ORDER BY position
`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var rules []model.Rule
	for rows.Next() {
		var r model.Rule
		var valueJSON string
		if err := rows.Scan(&r.Name, &r.Field, &r.Operator, &valueJSON, &r.Bin); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		if err := json.Unmarshal([]byte(valueJSON), &r.Value); err != nil {
			return nil, fmt.Errorf("decode rule value: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// InsertScan appends one processed scan. The full record is stored as JSON
// alongside the columns the export and dashboard query on.
func (s *Store) InsertScan(ctx context.Context, card model.CardRecord) error {
	recordJSON, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("encode scan: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO scans(scan_id, card_name, bin, scanned_at, record_json)
VALUES (?, ?, ?, ?, ?)
`, card.ID, card.Name, card.Bin, card.ScanTimestamp, string(recordJSON)); err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}
	return nil
}

// ListScans returns every logged scan in arrival order.
func (s *Store) ListScans(ctx context.Context) ([]model.CardRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record_json FROM scans ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var scans []model.CardRecord
	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, fmt.Errorf("scan scan row: %w", err)
		}
		var card model.CardRecord
		if err := json.Unmarshal([]byte(recordJSON), &card); err != nil {
			return nil, fmt.Errorf("decode scan: %w", err)
		}
		scans = append(scans, card)
	}
	return scans, rows.Err()
}

func (s *Store) ClearScans(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scans`); err != nil {
		return fmt.Errorf("clear scans: %w", err)
	}
	return nil
}
