package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trendtide/internal/domain"
)

// Run is the handle a Handler uses to read its payload and execute steps.
type Run struct {
	ID      string
	Event   string
	Payload json.RawMessage
	Attempt int

	owner  string
	store  Store
	logger zerolog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// Decode unmarshals the triggering event data into v.
func (r *Run) Decode(v any) error {
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return NonRetriable(fmt.Errorf("decode %s payload: %w", r.Event, err))
	}
	return nil
}

// Logger returns the run scoped logger.
func (r *Run) Logger() *zerolog.Logger {
	return &r.logger
}

// Step executes fn at most once per run to success. When a Succeeded record
// for name already exists the stored output is returned and fn is skipped.
func (r *Run) Step(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (json.RawMessage, error) {
	if err := r.claimName(name); err != nil {
		return nil, err
	}
	if err := r.checkCancelled(ctx); err != nil {
		return nil, err
	}

	prev, err := r.store.GetStep(ctx, r.ID, name)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load step %s: %w", name, err)
	}
	attempt := 1
	if prev != nil {
		if prev.Status == domain.StepStatusSucceeded {
			r.logger.Debug().Str("step", name).Msg("workflow: step replayed from memo")
			return prev.Output, nil
		}
		attempt = prev.Attempt + 1
	}

	if err := r.store.SaveStep(ctx, r.ID, r.owner, domain.StepRecord{Name: name, Status: domain.StepStatusPending, Attempt: attempt}); err != nil {
		return nil, fmt.Errorf("mark step %s pending: %w", name, err)
	}

	started := time.Now()
	out, runErr := callStep(ctx, fn)
	if runErr != nil {
		r.logger.Warn().Err(runErr).Str("step", name).Int("step_attempt", attempt).Msg("workflow: step failed")
		if err := r.store.SaveStep(ctx, r.ID, r.owner, domain.StepRecord{Name: name, Status: domain.StepStatusFailed, Error: runErr.Error(), Attempt: attempt}); err != nil {
			r.logger.Error().Err(err).Str("step", name).Msg("workflow: record step failure")
		}
		return nil, fmt.Errorf("step %s: %w: %w", name, domain.ErrStepFailed, runErr)
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, NonRetriable(fmt.Errorf("step %s: encode output: %w", name, err))
	}
	if err := r.store.SaveStep(ctx, r.ID, r.owner, domain.StepRecord{Name: name, Status: domain.StepStatusSucceeded, Output: raw, Attempt: attempt}); err != nil {
		return nil, fmt.Errorf("record step %s: %w", name, err)
	}
	r.logger.Info().Str("step", name).Dur("took", time.Since(started)).Msg("workflow: step succeeded")
	return raw, nil
}

// Step is the typed form of Run.Step.
func Step[T any](ctx context.Context, r *Run, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := r.Step(ctx, name, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, NonRetriable(fmt.Errorf("step %s: decode output: %w", name, err))
	}
	return out, nil
}

type sleepRecord struct {
	WakeAt time.Time `json:"wake_at"`
}

// Sleep suspends the run until a wake time recorded on first execution. A
// replay after the wake time returns immediately.
func (r *Run) Sleep(ctx context.Context, name string, d time.Duration) error {
	rec, err := Step(ctx, r, name, func(context.Context) (sleepRecord, error) {
		return sleepRecord{WakeAt: time.Now().Add(d).UTC()}, nil
	})
	if err != nil {
		return err
	}
	wait := time.Until(rec.WakeAt)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Run) claimName(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if name == "" {
		return NonRetriable(errors.New("workflow: step name is required"))
	}
	if _, dup := r.seen[name]; dup {
		return NonRetriable(fmt.Errorf("workflow: step %q used twice in one run", name))
	}
	r.seen[name] = struct{}{}
	return nil
}

func (r *Run) checkCancelled(ctx context.Context) error {
	status, err := r.store.RunStatus(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("load run status: %w", err)
	}
	if status == domain.RunStatusCancelled {
		return domain.ErrRunCancelled
	}
	return nil
}

func callStep(ctx context.Context, fn func(ctx context.Context) (any, error)) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panic: %v", r)
		}
	}()
	return fn(ctx)
}
