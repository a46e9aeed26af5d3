package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"trendtide/internal/domain"
)

var (
	// ErrNoRunAvailable is returned by Store.ClaimRun when nothing is runnable.
	ErrNoRunAvailable = errors.New("workflow: no run available")
	// ErrLeaseLost is returned when a worker writes to a run whose lease is
	// now held by another worker.
	ErrLeaseLost = errors.New("workflow: lease lost")
)

// NewRun is the row written when an event is accepted.
type NewRun struct {
	RunID      string
	FunctionID string
	Event      string
	Payload    json.RawMessage
	MaxRetries int
}

// Claim is a leased run handed to a worker.
type Claim struct {
	RunID      string
	Owner      string
	FunctionID string
	Event      string
	Payload    json.RawMessage
	Attempt    int
	MaxRetries int
}

// Store persists runs and step records. Implementations must keep three
// guarantees: a Succeeded step is never overwritten, a run leaves the Running
// status at most once, and only the current lease owner writes run progress.
//
// Owner-scoped methods return domain.ErrNotFound for unknown runs,
// domain.ErrConflict for runs no longer Running and ErrLeaseLost when another
// owner holds the lease.
type Store interface {
	CreateRun(ctx context.Context, run NewRun) error
	// ClaimRun leases the oldest runnable run for owner. Runs whose lease
	// expired are runnable again.
	ClaimRun(ctx context.Context, owner string, lease time.Duration) (*Claim, error)
	// RenewLease extends the lease owner holds.
	RenewLease(ctx context.Context, runID, owner string, lease time.Duration) error
	// ReleaseRun drops the lease so the run is retried after delay.
	ReleaseRun(ctx context.Context, runID, owner string, delay time.Duration, lastErr string) error
	// FinishRun moves a Running run to a terminal status.
	FinishRun(ctx context.Context, runID, owner string, status domain.RunStatus, output json.RawMessage, errMsg string) error
	// CancelRun returns domain.ErrNotFound for unknown runs and
	// domain.ErrConflict for runs already terminal. The lease owner is kept so
	// a step already executing can still record its result.
	CancelRun(ctx context.Context, runID string) error
	GetRun(ctx context.Context, runID string) (*domain.JobRun, error)
	RunStatus(ctx context.Context, runID string) (domain.RunStatus, error)
	// GetStep returns domain.ErrNotFound when the step was never reached.
	GetStep(ctx context.Context, runID, name string) (*domain.StepRecord, error)
	// SaveStep writes a step record on behalf of owner. It returns
	// ErrLeaseLost when owner no longer holds the run.
	SaveStep(ctx context.Context, runID, owner string, step domain.StepRecord) error
}

// leaseError explains why an owner-scoped write matched no run.
func leaseError(status domain.RunStatus, holder, owner string) error {
	if status != domain.RunStatusRunning {
		return domain.ErrConflict
	}
	if holder != owner {
		return ErrLeaseLost
	}
	return nil
}
