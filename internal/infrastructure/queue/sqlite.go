package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/flashcur/marketpulse/internal/domain"
)

// SQLiteQueue is a durable at-least-once job queue on a single sqlite file.
// Claims are leased: a job claimed but neither acked nor nacked becomes
// claimable again once the lease runs out, which is what makes a crashed
// worker harmless.
type SQLiteQueue struct {
	db   *sql.DB
	opts Options

	timeNow func() time.Time // For testing
	newID   func() string
}

func NewSQLiteQueue(dbPath string, opts Options) (*SQLiteQueue, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; serializing through a single connection
	// avoids SQLITE_BUSY under concurrent claims.
	db.SetMaxOpenConns(1)

	q := &SQLiteQueue{
		db:      db,
		opts:    opts,
		timeNow: time.Now,
		newID:   uuid.NewString,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			payload BLOB NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL,
			not_before DATETIME NOT NULL,
			claimed_at DATETIME,
			last_error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_kind_status ON jobs(kind, status, not_before);`,
	}

	for _, query := range queries {
		if _, err := q.db.Exec(query); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", query, err)
		}
	}
	return nil
}

func (q *SQLiteQueue) Close() error { return q.db.Close() }

func (q *SQLiteQueue) Enqueue(ctx context.Context, kind domain.JobKind, payload []byte) error {
	now := q.timeNow().UTC()
	query := `INSERT INTO jobs (id, kind, payload, status, attempts, max_attempts, not_before, created_at, updated_at)
			  VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`
	_, err := q.db.ExecContext(ctx, query,
		q.newID(), string(kind), payload, string(domain.JobPending), q.opts.MaxAttempts, now, now, now)
	return err
}

// Claim picks the oldest job of the kind that is either pending and past its
// not-before time, or claimed with an expired lease. It returns (nil, nil)
// when nothing is ready.
func (q *SQLiteQueue) Claim(ctx context.Context, kind domain.JobKind) (*domain.Job, error) {
	now := q.timeNow().UTC()
	leaseCutoff := now.Add(-q.opts.Lease)

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `SELECT id, kind, payload, attempts, max_attempts, last_error, created_at FROM jobs
			  WHERE kind = ?
			    AND ((status = ? AND not_before <= ?) OR (status = ? AND claimed_at <= ?))
			  ORDER BY created_at, id
			  LIMIT 1`
	row := tx.QueryRowContext(ctx, query,
		string(kind), string(domain.JobPending), now, string(domain.JobClaimed), leaseCutoff)

	var job domain.Job
	var jobKind string
	err = row.Scan(&job.ID, &jobKind, &job.Payload, &job.Attempts, &job.MaxAttempts, &job.LastError, &job.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	job.Kind = domain.JobKind(jobKind)
	job.Status = domain.JobClaimed
	job.Attempts++

	update := `UPDATE jobs SET status = ?, attempts = ?, claimed_at = ?, updated_at = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, update,
		string(domain.JobClaimed), job.Attempts, now, now, job.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &job, nil
}

func (q *SQLiteQueue) Ack(ctx context.Context, job *domain.Job) error {
	now := q.timeNow().UTC()
	_, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(domain.JobDone), now, job.ID)
	return err
}

func (q *SQLiteQueue) Nack(ctx context.Context, job *domain.Job, retryable bool) error {
	now := q.timeNow().UTC()

	if !retryable || job.Attempts >= job.MaxAttempts {
		_, err := q.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			string(domain.JobDead), job.LastError, now, job.ID)
		return err
	}

	notBefore := now.Add(retryDelay(q.opts.RetryBase, job.Attempts))
	_, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, not_before = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(domain.JobPending), notBefore, job.LastError, now, job.ID)
	return err
}

// Depth reports how many jobs of the kind are waiting or in flight. Used by
// the ops surface, not the hot path.
func (q *SQLiteQueue) Depth(ctx context.Context, kind domain.JobKind) (int, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE kind = ? AND status IN (?, ?)`,
		string(kind), string(domain.JobPending), string(domain.JobClaimed))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
