package workflow

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"trendtide/internal/domain"
)

type memoryRun struct {
	run         domain.JobRun
	maxRetries  int
	leaseOwner  string
	leaseUntil  time.Time
	availableAt time.Time
	seq         int64
}

// MemoryStore keeps runs in process. It backs tests and STORE_DRIVER=memory.
type MemoryStore struct {
	mu    sync.Mutex
	now   func() time.Time
	seq   int64
	runs  map[string]*memoryRun
	steps map[string][]domain.StepRecord
}

// NewMemoryStore builds an empty store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:   now,
		runs:  make(map[string]*memoryRun),
		steps: make(map[string][]domain.StepRecord),
	}
}

func (s *MemoryStore) CreateRun(_ context.Context, run NewRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.RunID]; exists {
		return domain.ErrConflict
	}
	now := s.now()
	s.seq++
	s.runs[run.RunID] = &memoryRun{
		run: domain.JobRun{
			RunID:     run.RunID,
			Function:  run.FunctionID,
			Event:     run.Event,
			Payload:   cloneRaw(run.Payload),
			Status:    domain.RunStatusRunning,
			CreatedAt: now,
			UpdatedAt: now,
		},
		maxRetries:  run.MaxRetries,
		availableAt: now,
		seq:         s.seq,
	}
	return nil
}

func (s *MemoryStore) ClaimRun(_ context.Context, owner string, lease time.Duration) (*Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var next *memoryRun
	for _, r := range s.runs {
		if r.run.Status != domain.RunStatusRunning || r.availableAt.After(now) {
			continue
		}
		if !r.leaseUntil.IsZero() && !r.leaseUntil.Before(now) {
			continue
		}
		if next == nil || r.seq < next.seq {
			next = r
		}
	}
	if next == nil {
		return nil, ErrNoRunAvailable
	}
	next.leaseOwner = owner
	next.leaseUntil = now.Add(lease)
	next.run.Attempt++
	next.run.UpdatedAt = now
	return &Claim{
		RunID:      next.run.RunID,
		Owner:      owner,
		FunctionID: next.run.Function,
		Event:      next.run.Event,
		Payload:    cloneRaw(next.run.Payload),
		Attempt:    next.run.Attempt,
		MaxRetries: next.maxRetries,
	}, nil
}

// held returns the run when owner holds its lease and the run is Running.
func (s *MemoryStore) held(runID, owner string) (*memoryRun, error) {
	r, ok := s.runs[runID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if err := leaseError(r.run.Status, r.leaseOwner, owner); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *MemoryStore) RenewLease(_ context.Context, runID, owner string, lease time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.held(runID, owner)
	if err != nil {
		return err
	}
	now := s.now()
	r.leaseUntil = now.Add(lease)
	r.run.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ReleaseRun(_ context.Context, runID, owner string, delay time.Duration, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.held(runID, owner)
	if err != nil {
		return err
	}
	now := s.now()
	r.leaseOwner = ""
	r.leaseUntil = time.Time{}
	r.availableAt = now.Add(delay)
	r.run.Error = lastErr
	r.run.UpdatedAt = now
	return nil
}

func (s *MemoryStore) FinishRun(_ context.Context, runID, owner string, status domain.RunStatus, output json.RawMessage, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.held(runID, owner)
	if err != nil {
		return err
	}
	r.run.Status = status
	r.run.Output = cloneRaw(output)
	r.run.Error = errMsg
	r.run.UpdatedAt = s.now()
	r.leaseOwner = ""
	r.leaseUntil = time.Time{}
	return nil
}

func (s *MemoryStore) CancelRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return domain.ErrNotFound
	}
	if r.run.Status != domain.RunStatusRunning {
		return domain.ErrConflict
	}
	r.run.Status = domain.RunStatusCancelled
	r.run.Error = "cancelled by operator"
	r.run.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (*domain.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := r.run
	out.Payload = cloneRaw(r.run.Payload)
	out.Output = cloneRaw(r.run.Output)
	out.Steps = append([]domain.StepRecord(nil), s.steps[runID]...)
	return &out, nil
}

func (s *MemoryStore) RunStatus(_ context.Context, runID string) (domain.RunStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return r.run.Status, nil
}

func (s *MemoryStore) GetStep(_ context.Context, runID, name string) (*domain.StepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, step := range s.steps[runID] {
		if step.Name == name {
			out := step
			out.Output = cloneRaw(step.Output)
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *MemoryStore) SaveStep(_ context.Context, runID, owner string, step domain.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return domain.ErrNotFound
	}
	if r.leaseOwner != owner {
		return ErrLeaseLost
	}
	step.Output = cloneRaw(step.Output)
	step.UpdatedAt = s.now()
	steps := s.steps[runID]
	for i := range steps {
		if steps[i].Name != step.Name {
			continue
		}
		if steps[i].Status == domain.StepStatusSucceeded {
			return nil
		}
		steps[i] = step
		return nil
	}
	s.steps[runID] = append(steps, step)
	return nil
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

var _ Store = (*MemoryStore)(nil)
