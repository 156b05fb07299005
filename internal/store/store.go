// Package store keeps a history of decoded samples in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/shaunagostinho/mbe-dash/internal/mbe"
)

const schema = `
CREATE TABLE IF NOT EXISTS sample (
	sample_id INTEGER PRIMARY KEY AUTOINCREMENT,
	stamp_ms  INTEGER NOT NULL,
	name      TEXT    NOT NULL,
	value     REAL    NOT NULL,
	units     TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS sample_name_stamp ON sample(name, stamp_ms);
`

// Sample is one stored reading.
type Sample struct {
	SampleID int64   `db:"sample_id" json:"-"`
	StampMs  int64   `db:"stamp_ms" json:"stamp"`
	Name     string  `db:"name" json:"name"`
	Value    float64 `db:"value" json:"value"`
	Units    string  `db:"units" json:"units"`
}

// Time returns the sample time.
func (s Sample) Time() time.Time { return time.UnixMilli(s.StampMs) }

// Store wraps the sample database.
type Store struct {
	db *sqlx.DB
}

// Open opens or creates the database at filename. ":memory:" works for tests.
func Open(filename string) (*Store, error) {
	conn, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, err
	}
	conn.SetMaxIdleConns(1)
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	db := sqlx.NewDb(conn, "sqlite3")
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Record stores one cycle's values in a single transaction.
func (s *Store) Record(ctx context.Context, at time.Time, vals []mbe.DecodedValue) error {
	if len(vals) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO sample(stamp_ms, name, value, units) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	ms := at.UnixMilli()
	for _, v := range vals {
		if _, err := stmt.ExecContext(ctx, ms, v.Name, v.Value, v.Units); err != nil {
			return fmt.Errorf("store: insert %s: %w", v.Name, err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit samples for name, newest first.
func (s *Store) Recent(ctx context.Context, name string, limit int) (samples []Sample, err error) {
	err = s.db.SelectContext(ctx, &samples,
		`SELECT * FROM sample WHERE name = ? ORDER BY stamp_ms DESC, sample_id DESC LIMIT ?`, name, limit)
	return
}

// Names lists every variable that has at least one sample.
func (s *Store) Names(ctx context.Context) (names []string, err error) {
	err = s.db.SelectContext(ctx, &names, `SELECT DISTINCT name FROM sample ORDER BY name`)
	return
}

// Prune deletes samples older than before and reports how many went.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	r, err := s.db.ExecContext(ctx, `DELETE FROM sample WHERE stamp_ms < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return r.RowsAffected()
}
