package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadflow/internal/model"
)

// pgxPool is the subset of *pgxpool.Pool the store uses. pgxmock satisfies
// it in tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool pgxPool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_record": `SELECT ` + recordColumns + ` FROM records WHERE id = $1`,
	"save_job":   saveJobSQL,
	"get_job":    `SELECT snapshot FROM jobs WHERE id = $1`,
}

const saveJobSQL = `INSERT INTO jobs (id, upload_id, status, snapshot, started_at, finished_at) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, snapshot = EXCLUDED.snapshot, finished_at = EXCLUDED.finished_at`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS records (
	id             BIGSERIAL PRIMARY KEY,
	upload_id      BIGINT NOT NULL,
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
	classified_at TIMESTAMPTZ,
	discovered_at TIMESTAMPTZ,
	verified_at   TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	upload_id   BIGINT NOT NULL,
	status      TEXT NOT NULL,
	snapshot    JSONB NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_records_upload_id ON records(upload_id);
CREATE INDEX IF NOT EXISTS idx_records_email ON records(lower(email));
CREATE INDEX IF NOT EXISTS idx_jobs_started_at ON jobs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) InsertRecords(ctx context.Context, uploadID int64, records []model.Record) (int, error) {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = insertValues(uploadID, r)
	}
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{"records"}, insertColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: copy records for upload %d", uploadID)
	}
	return int(n), nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, uploadID int64) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM records WHERE upload_id = $1 ORDER BY id`,
		uploadID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list records for upload %d", uploadID)
	}
	defer rows.Close()

	records := []model.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		records = append(records, *r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) GetRecord(ctx context.Context, id int64) (*model.Record, error) {
	r, err := scanRecord(s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: record %d", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %d", id)
	}
	return r, nil
}

func (s *PostgresStore) ApplyPatch(ctx context.Context, id int64, patch model.RecordPatch) error {
	query, args, err := buildPatchUpdate(id, patch, time.Now().UTC(), func(n int) string {
		return fmt.Sprintf("$%d", n)
	})
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: apply patch to record %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "record %d", id)
	}
	return nil
}

func (s *PostgresStore) SaveJob(ctx context.Context, snap model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job")
	}
	_, err = s.pool.Exec(ctx, saveJobSQL,
		snap.ID, snap.UploadID, string(snap.Status), data, snap.StartedAt.UTC(), snap.FinishedAt,
	)
	return eris.Wrapf(err, "postgres: save job %s", snap.ID)
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Snapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT snapshot FROM jobs WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return decodeSnapshot(data)
}

func (s *PostgresStore) ListJobs(ctx context.Context, limit int) ([]model.Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `SELECT snapshot FROM jobs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	jobs := []model.Snapshot{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		snap, err := decodeSnapshot(data)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *snap)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}
