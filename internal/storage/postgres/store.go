package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"epochsync/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS metric_rows (
	job TEXT NOT NULL,
	name TEXT NOT NULL,
	epoch INTEGER NOT NULL,
	amount NUMERIC NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (job, name, epoch)
);
CREATE TABLE IF NOT EXISTS job_runs (
	job TEXT PRIMARY KEY,
	epoch INTEGER NOT NULL,
	rows_written INTEGER NOT NULL,
	rows_deleted INTEGER NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store mirrors reconciled metric rows and keeps per-job run state in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the mirror tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// UpsertMetricRows inserts or updates metric rows for job.
func (s *Store) UpsertMetricRows(ctx context.Context, job string, rows []model.MetricRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO metric_rows (job, name, epoch, amount, created_at, updated_at)
			VALUES ($1, $2, $3, $4::numeric, now(), now())
			ON CONFLICT (job, name, epoch)
			DO UPDATE SET
				amount = EXCLUDED.amount,
				updated_at = now()
		`,
			job,
			r.Name,
			r.Epoch,
			r.Amount.String(),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range rows {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadRun returns the last successful run of job.
func (s *Store) LoadRun(ctx context.Context, job string) (model.RunRecord, bool, error) {
	if job == "" {
		return model.RunRecord{}, false, fmt.Errorf("job name required")
	}
	run := model.RunRecord{Job: job}
	row := s.pool.QueryRow(ctx, `
		SELECT epoch, rows_written, rows_deleted, started_at, finished_at
		FROM job_runs WHERE job=$1
	`, job)
	if err := row.Scan(&run.Epoch, &run.Rows, &run.Deleted, &run.StartedAt, &run.FinishedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RunRecord{}, false, nil
		}
		return model.RunRecord{}, false, err
	}
	return run, true, nil
}

// SaveRun upserts the last successful run of a job. Failed runs are ignored.
func (s *Store) SaveRun(ctx context.Context, run model.RunRecord) error {
	if run.Job == "" {
		return fmt.Errorf("job name required")
	}
	if !run.OK() {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_runs (job, epoch, rows_written, rows_deleted, started_at, finished_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (job) DO UPDATE
		SET epoch = EXCLUDED.epoch,
			rows_written = EXCLUDED.rows_written,
			rows_deleted = EXCLUDED.rows_deleted,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			updated_at = now()
	`, run.Job, run.Epoch, run.Rows, run.Deleted, run.StartedAt.UTC(), run.FinishedAt.UTC())
	return err
}

// Lease is a held session-level advisory lock.
type Lease struct {
	conn *pgxpool.Conn
	key  string
}

// TryLock takes pg_try_advisory_lock(hashtext(key)) on a dedicated connection.
// It returns nil and no error when another session holds the lock.
func (s *Store) TryLock(ctx context.Context, key string) (*Lease, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, key).Scan(&ok); err != nil {
		conn.Release()
		return nil, err
	}
	if !ok {
		conn.Release()
		return nil, nil
	}
	return &Lease{conn: conn, key: key}, nil
}

// Unlock releases the advisory lock and returns the connection to the pool.
func (l *Lease) Unlock(ctx context.Context) error {
	if l == nil || l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Release()
		l.conn = nil
	}()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, l.key)
	return err
}
