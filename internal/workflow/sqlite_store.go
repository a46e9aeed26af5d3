package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trendtide/internal/domain"
)

const sqliteSchema = `
create table if not exists workflow_runs (
    id            text primary key,
    function_id   text not null,
    event_name    text not null,
    payload       text not null default '{}',
    status        text not null default 'Running',
    output        text,
    error         text not null default '',
    attempt       integer not null default 0,
    max_retries   integer not null default 0,
    lease_owner   text,
    lease_until   integer,
    available_at  integer not null,
    created_at    integer not null,
    updated_at    integer not null
);
create index if not exists workflow_runs_claim_idx on workflow_runs (status, available_at, created_at);
create table if not exists workflow_steps (
    seq         integer primary key autoincrement,
    run_id      text not null references workflow_runs (id) on delete cascade,
    step_name   text not null,
    status      text not null,
    output      text,
    error       text not null default '',
    attempt     integer not null default 1,
    updated_at  integer not null,
    unique (run_id, step_name)
);
`

// SQLiteStore is the single-node Store. The connection pool is capped at one
// connection, so the claim update needs no row locking.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates the workflow tables if needed.
func NewSQLiteStore(ctx context.Context, db *sql.DB, now func() time.Time) (*SQLiteStore, error) {
	if now == nil {
		now = time.Now
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("migrate sqlite workflow schema: %w", err)
	}
	return &SQLiteStore{db: db, now: now}, nil
}

func (s *SQLiteStore) ms() int64 { return s.now().UnixMilli() }

func (s *SQLiteStore) CreateRun(ctx context.Context, run NewRun) error {
	now := s.ms()
	payload := string(run.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.ExecContext(ctx, `insert into workflow_runs
		(id, function_id, event_name, payload, status, attempt, max_retries, available_at, created_at, updated_at)
		values (?, ?, ?, ?, 'Running', 0, ?, ?, ?, ?)`,
		run.RunID, run.FunctionID, run.Event, payload, run.MaxRetries, now, now, now)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClaimRun(ctx context.Context, owner string, lease time.Duration) (*Claim, error) {
	now := s.ms()
	var (
		claim   Claim
		payload string
	)
	err := s.db.QueryRowContext(ctx, `update workflow_runs
		set lease_owner = ?, lease_until = ?, attempt = attempt + 1, updated_at = ?
		where id = (
			select id from workflow_runs
			where status = 'Running'
			  and available_at <= ?
			  and (lease_until is null or lease_until < ?)
			order by created_at asc, rowid asc
			limit 1
		)
		returning id, function_id, event_name, payload, attempt, max_retries`,
		owner, now+lease.Milliseconds(), now, now, now).
		Scan(&claim.RunID, &claim.FunctionID, &claim.Event, &payload, &claim.Attempt, &claim.MaxRetries)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoRunAvailable
		}
		return nil, fmt.Errorf("claim run: %w", err)
	}
	claim.Owner = owner
	claim.Payload = json.RawMessage(payload)
	return &claim, nil
}

func (s *SQLiteStore) RenewLease(ctx context.Context, runID, owner string, lease time.Duration) error {
	now := s.ms()
	res, err := s.db.ExecContext(ctx, `update workflow_runs
		set lease_until = ?, updated_at = ?
		where id = ? and status = 'Running' and lease_owner = ?`,
		now+lease.Milliseconds(), now, runID, owner)
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	return s.checkLease(ctx, res, runID, owner)
}

func (s *SQLiteStore) ReleaseRun(ctx context.Context, runID, owner string, delay time.Duration, lastErr string) error {
	now := s.ms()
	res, err := s.db.ExecContext(ctx, `update workflow_runs
		set lease_owner = null, lease_until = null, available_at = ?, error = ?, updated_at = ?
		where id = ? and status = 'Running' and lease_owner = ?`,
		now+delay.Milliseconds(), lastErr, now, runID, owner)
	if err != nil {
		return fmt.Errorf("release run: %w", err)
	}
	return s.checkLease(ctx, res, runID, owner)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID, owner string, status domain.RunStatus, output json.RawMessage, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `update workflow_runs
		set status = ?, output = ?, error = ?, lease_owner = null, lease_until = null, updated_at = ?
		where id = ? and status = 'Running' and lease_owner = ?`,
		string(status), nullableText(output), errMsg, s.ms(), runID, owner)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return s.checkLease(ctx, res, runID, owner)
}

func (s *SQLiteStore) CancelRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `update workflow_runs
		set status = 'Cancelled', error = 'cancelled by operator', updated_at = ?
		where id = ? and status = 'Running'`,
		s.ms(), runID)
	if err != nil {
		return fmt.Errorf("cancel run: %w", err)
	}
	return s.checkTransition(ctx, res, runID)
}

func (s *SQLiteStore) checkTransition(ctx context.Context, res sql.Result, runID string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if _, err := s.RunStatus(ctx, runID); err != nil {
		return err
	}
	return domain.ErrConflict
}

func (s *SQLiteStore) checkLease(ctx context.Context, res sql.Result, runID, owner string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	status, holder, err := s.lease(ctx, runID)
	if err != nil {
		return err
	}
	if err := leaseError(status, holder, owner); err != nil {
		return err
	}
	return domain.ErrConflict
}

func (s *SQLiteStore) lease(ctx context.Context, runID string) (domain.RunStatus, string, error) {
	var status, holder string
	err := s.db.QueryRowContext(ctx, `select status, coalesce(lease_owner, '') from workflow_runs where id = ?`, runID).
		Scan(&status, &holder)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", domain.ErrNotFound
		}
		return "", "", fmt.Errorf("select run lease: %w", err)
	}
	return domain.RunStatus(status), holder, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.JobRun, error) {
	var (
		run                  domain.JobRun
		status, payload      string
		output               sql.NullString
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `select id, function_id, event_name, payload, status, output, error, attempt, created_at, updated_at
		from workflow_runs where id = ?`, runID).
		Scan(&run.RunID, &run.Function, &run.Event, &payload, &status, &output, &run.Error, &run.Attempt, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select run: %w", err)
	}
	run.Status = domain.RunStatus(status)
	run.Payload = json.RawMessage(payload)
	if output.Valid {
		run.Output = json.RawMessage(output.String)
	}
	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	run.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	rows, err := s.db.QueryContext(ctx, `select step_name, status, output, error, attempt, updated_at
		from workflow_steps where run_id = ? order by seq asc`, runID)
	if err != nil {
		return nil, fmt.Errorf("select steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		step, err := scanSQLiteStep(rows)
		if err != nil {
			return nil, err
		}
		run.Steps = append(run.Steps, *step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return &run, nil
}

func (s *SQLiteStore) RunStatus(ctx context.Context, runID string) (domain.RunStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `select status from workflow_runs where id = ?`, runID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("select run status: %w", err)
	}
	return domain.RunStatus(status), nil
}

func (s *SQLiteStore) GetStep(ctx context.Context, runID, name string) (*domain.StepRecord, error) {
	row := s.db.QueryRowContext(ctx, `select step_name, status, output, error, attempt, updated_at
		from workflow_steps where run_id = ? and step_name = ?`, runID, name)
	step, err := scanSQLiteStep(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return step, nil
}

func (s *SQLiteStore) SaveStep(ctx context.Context, runID, owner string, step domain.StepRecord) error {
	res, err := s.db.ExecContext(ctx, `insert into workflow_steps (run_id, step_name, status, output, error, attempt, updated_at)
		select ?, ?, ?, ?, ?, ?, ?
		where exists (select 1 from workflow_runs where id = ? and lease_owner = ?)
		on conflict (run_id, step_name) do update set
			status = excluded.status,
			output = excluded.output,
			error = excluded.error,
			attempt = excluded.attempt,
			updated_at = excluded.updated_at
		where workflow_steps.status <> 'Succeeded'`,
		runID, step.Name, string(step.Status), nullableText(step.Output), step.Error, step.Attempt, s.ms(), runID, owner)
	if err != nil {
		return fmt.Errorf("save step %s: %w", step.Name, err)
	}
	if affected, err := res.RowsAffected(); err != nil || affected > 0 {
		return err
	}
	// Nothing written: either the step already succeeded or the lease moved.
	_, holder, err := s.lease(ctx, runID)
	if err != nil {
		return err
	}
	if holder != owner {
		return ErrLeaseLost
	}
	return nil
}

func scanSQLiteStep(row rowScanner) (*domain.StepRecord, error) {
	var (
		step      domain.StepRecord
		status    string
		output    sql.NullString
		updatedAt int64
	)
	if err := row.Scan(&step.Name, &status, &output, &step.Error, &step.Attempt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan step: %w", err)
	}
	step.Status = domain.StepStatus(status)
	if output.Valid {
		step.Output = json.RawMessage(output.String)
	}
	step.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &step, nil
}

func nullableText(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

var _ Store = (*SQLiteStore)(nil)
