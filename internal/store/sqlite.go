package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leadflow/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS records (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	upload_id      INTEGER NOT NULL,
	name           TEXT,
	company        TEXT,
	website        TEXT,
	email          TEXT,
	email_verified BOOLEAN,
	email_quality  INTEGER,
	email_status   TEXT,
	email_notes    TEXT,
	email_2          TEXT,
	email_2_verified BOOLEAN,
	email_2_quality  INTEGER,
	email_2_status   TEXT,
	email_2_notes    TEXT,
	email_3          TEXT,
	email_3_verified BOOLEAN,
	email_3_quality  INTEGER,
	email_3_status   TEXT,
	email_3_notes    TEXT,
	is_blog       BOOLEAN,
	blog_score    INTEGER,
	blog_notes    TEXT,
	linkedin      TEXT,
	instagram     TEXT,
	facebook      TEXT,
	contact_form  TEXT,
	phone         TEXT,
	source        TEXT,
	notes         TEXT,
	classified_at DATETIME,
	discovered_at DATETIME,
	verified_at   DATETIME,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	upload_id   INTEGER NOT NULL,
	status      TEXT NOT NULL,
	snapshot    TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_records_upload_id ON records(upload_id);
CREATE INDEX IF NOT EXISTS idx_jobs_started_at ON jobs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertRecords(ctx context.Context, uploadID int64, records []model.Record) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert records")
	}
	defer tx.Rollback() //nolint:errcheck

	query := `INSERT INTO records (` + strings.Join(insertColumns, ", ") + `) VALUES (?` +
		strings.Repeat(", ?", len(insertColumns)-1) + `)`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert record")
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, insertValues(uploadID, r)...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert record for upload %d", uploadID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert records")
	}
	return len(records), nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, uploadID int64) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE upload_id = ? ORDER BY id`,
		uploadID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list records for upload %d", uploadID)
	}
	defer rows.Close()

	records := []model.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		records = append(records, *r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id int64) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: record %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %d", id)
	}
	return r, nil
}

func (s *SQLiteStore) ApplyPatch(ctx context.Context, id int64, patch model.RecordPatch) error {
	query, args, err := buildPatchUpdate(id, patch, time.Now().UTC(), func(int) string { return "?" })
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: apply patch to record %d", id)
	}
	return checkRowsAffected(res, id)
}

func (s *SQLiteStore) SaveJob(ctx context.Context, snap model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, upload_id, status, snapshot, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, snapshot = excluded.snapshot, finished_at = excluded.finished_at`,
		snap.ID, snap.UploadID, string(snap.Status), string(data), snap.StartedAt.UTC(), snap.FinishedAt,
	)
	return eris.Wrapf(err, "sqlite: save job %s", snap.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM jobs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return decodeSnapshot([]byte(data))
}

func (s *SQLiteStore) ListJobs(ctx context.Context, limit int) ([]model.Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT snapshot FROM jobs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	jobs := []model.Snapshot{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		snap, err := decodeSnapshot([]byte(data))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *snap)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func decodeSnapshot(data []byte) (*model.Snapshot, error) {
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal job")
	}
	return &snap, nil
}

func checkRowsAffected(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "record %d", id)
	}
	return nil
}
