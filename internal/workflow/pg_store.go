package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"trendtide/internal/domain"
	"trendtide/internal/infra"
	"trendtide/internal/sqlinline"
)

// PGStore persists runs in Postgres through the marker-checked SQLRunner.
type PGStore struct {
	sql infra.SQLExecutor
}

func NewPGStore(sql infra.SQLExecutor) *PGStore {
	return &PGStore{sql: sql}
}

func (s *PGStore) CreateRun(ctx context.Context, run NewRun) error {
	_, err := s.sql.Exec(ctx, sqlinline.QInsertRun, run.RunID, run.FunctionID, run.Event, jsonArg(run.Payload, "{}"), run.MaxRetries)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *PGStore) ClaimRun(ctx context.Context, owner string, lease time.Duration) (*Claim, error) {
	var (
		claim   Claim
		payload []byte
	)
	err := s.sql.QueryRow(ctx, sqlinline.QClaimRun, owner, lease.Milliseconds()).
		Scan(&claim.RunID, &claim.FunctionID, &claim.Event, &payload, &claim.Attempt, &claim.MaxRetries)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, ErrNoRunAvailable
		}
		return nil, fmt.Errorf("claim run: %w", err)
	}
	claim.Owner = owner
	claim.Payload = payload
	return &claim, nil
}

func (s *PGStore) RenewLease(ctx context.Context, runID, owner string, lease time.Duration) error {
	tag, err := s.sql.Exec(ctx, sqlinline.QRenewLease, runID, owner, lease.Milliseconds())
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseMiss(ctx, runID, owner)
	}
	return nil
}

func (s *PGStore) ReleaseRun(ctx context.Context, runID, owner string, delay time.Duration, lastErr string) error {
	tag, err := s.sql.Exec(ctx, sqlinline.QReleaseRun, runID, delay.Milliseconds(), lastErr, owner)
	if err != nil {
		return fmt.Errorf("release run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseMiss(ctx, runID, owner)
	}
	return nil
}

func (s *PGStore) FinishRun(ctx context.Context, runID, owner string, status domain.RunStatus, output json.RawMessage, errMsg string) error {
	tag, err := s.sql.Exec(ctx, sqlinline.QFinishRun, runID, string(status), jsonArg(output, ""), errMsg, owner)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.leaseMiss(ctx, runID, owner)
	}
	return nil
}

// leaseMiss explains an owner-scoped update that matched no row.
func (s *PGStore) leaseMiss(ctx context.Context, runID, owner string) error {
	status, holder, err := s.lease(ctx, runID)
	if err != nil {
		return err
	}
	if err := leaseError(status, holder, owner); err != nil {
		return err
	}
	return domain.ErrConflict
}

func (s *PGStore) lease(ctx context.Context, runID string) (domain.RunStatus, string, error) {
	var status, holder string
	if err := s.sql.QueryRow(ctx, sqlinline.QSelectRunLease, runID).Scan(&status, &holder); err != nil {
		if infra.IsNoRows(err) {
			return "", "", domain.ErrNotFound
		}
		return "", "", fmt.Errorf("select run lease: %w", err)
	}
	return domain.RunStatus(status), holder, nil
}

func (s *PGStore) CancelRun(ctx context.Context, runID string) error {
	tag, err := s.sql.Exec(ctx, sqlinline.QCancelRun, runID)
	if err != nil {
		return fmt.Errorf("cancel run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrConflict(ctx, runID)
	}
	return nil
}

func (s *PGStore) missingOrConflict(ctx context.Context, runID string) error {
	if _, err := s.RunStatus(ctx, runID); err != nil {
		return err
	}
	return domain.ErrConflict
}

func (s *PGStore) GetRun(ctx context.Context, runID string) (*domain.JobRun, error) {
	var (
		run             domain.JobRun
		status          string
		payload, output []byte
	)
	err := s.sql.QueryRow(ctx, sqlinline.QSelectRun, runID).
		Scan(&run.RunID, &run.Function, &run.Event, &payload, &status, &output, &run.Error, &run.Attempt, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select run: %w", err)
	}
	run.Status = domain.RunStatus(status)
	run.Payload = payload
	run.Output = output

	rows, err := s.sql.Query(ctx, sqlinline.QSelectRunSteps, runID)
	if err != nil {
		return nil, fmt.Errorf("select steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		step, err := scanStep(rows)
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

func (s *PGStore) RunStatus(ctx context.Context, runID string) (domain.RunStatus, error) {
	var status string
	if err := s.sql.QueryRow(ctx, sqlinline.QSelectRunStatus, runID).Scan(&status); err != nil {
		if infra.IsNoRows(err) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("select run status: %w", err)
	}
	return domain.RunStatus(status), nil
}

func (s *PGStore) GetStep(ctx context.Context, runID, name string) (*domain.StepRecord, error) {
	step, err := scanStep(s.sql.QueryRow(ctx, sqlinline.QSelectStep, runID, name))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return step, nil
}

func (s *PGStore) SaveStep(ctx context.Context, runID, owner string, step domain.StepRecord) error {
	tag, err := s.sql.Exec(ctx, sqlinline.QUpsertStep, runID, step.Name, string(step.Status), jsonArg(step.Output, ""), step.Error, step.Attempt, owner)
	if err != nil {
		return fmt.Errorf("save step %s: %w", step.Name, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStep(row rowScanner) (*domain.StepRecord, error) {
	var (
		step   domain.StepRecord
		status string
		output []byte
	)
	if err := row.Scan(&step.Name, &status, &output, &step.Error, &step.Attempt, &step.UpdatedAt); err != nil {
		if infra.IsNoRows(err) {
			return nil, err
		}
		return nil, fmt.Errorf("scan step: %w", err)
	}
	step.Status = domain.StepStatus(status)
	step.Output = output
	return &step, nil
}

// jsonArg renders raw JSON as a text argument for a ::jsonb cast. Empty input
// becomes fallback, or NULL when fallback is empty.
func jsonArg(raw json.RawMessage, fallback string) any {
	if len(raw) == 0 {
		if fallback == "" {
			return nil
		}
		return fallback
	}
	return string(raw)
}

var _ Store = (*PGStore)(nil)
