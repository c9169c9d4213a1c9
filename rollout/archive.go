package rollout

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteArchive keeps a durable history of terminal records across
// training steps. Unlike the per-step jsonl file, which is rewritten in
// place, the archive accumulates: one row per (step, runid), upserted
// when a batch finishes.
type SQLiteArchive struct {
	db *sql.DB
}

const archiveSchema = `
CREATE TABLE IF NOT EXISTS rollouts (
	step    INTEGER NOT NULL,
	runid   INTEGER NOT NULL,
	problem TEXT    NOT NULL,
	reward  REAL    NOT NULL,
	record  TEXT    NOT NULL,
	PRIMARY KEY (step, runid)
);
CREATE INDEX IF NOT EXISTS idx_rollouts_problem ON rollouts (problem);
`

// OpenSQLiteArchive opens (and if needed initializes) an archive database
func OpenSQLiteArchive(path string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open archive database: %w", err)
	}
	if _, err := db.Exec(archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize archive schema: %w", err)
	}
	return &SQLiteArchive{db: db}, nil
}

// ArchiveStep upserts every terminal record of a step. Pending records
// are skipped; a resumed step simply overwrites its earlier rows.
func (a *SQLiteArchive) ArchiveStep(ctx context.Context, step int, records []*Record) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO rollouts (step, runid, problem, reward, record) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare archive insert: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		if record.Pending() {
			continue
		}
		blob, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode record runid=%d: %w", record.RunID, err)
		}
		if _, err := stmt.ExecContext(ctx, step, record.RunID, record.Problem, record.Reward, string(blob)); err != nil {
			return fmt.Errorf("archive record runid=%d: %w", record.RunID, err)
		}
	}
	return tx.Commit()
}

// LoadStep returns the archived records of one step ordered by runid
func (a *SQLiteArchive) LoadStep(ctx context.Context, step int) ([]*Record, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT record FROM rollouts WHERE step = ? ORDER BY runid`, step)
	if err != nil {
		return nil, fmt.Errorf("query archived step %d: %w", step, err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan archived record: %w", err)
		}
		record := &Record{}
		if err := json.Unmarshal([]byte(blob), record); err != nil {
			return nil, fmt.Errorf("decode archived record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Close releases the underlying database handle
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}
