// Package poller waits for a workflow run to reach a terminal status.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"trendtide/internal/domain"
)

// Defaults match the interactive client: first check after 2s, then every 2s
// for up to 30 attempts.
const (
	DefaultInitialDelay = 2 * time.Second
	DefaultInterval     = 2 * time.Second
	DefaultMaxAttempts  = 30
)

// StatusSource reports the current state of a run. A domain.ErrNotFound answer
// is treated as "not visible yet".
type StatusSource interface {
	RunStatus(ctx context.Context, runID string) (*domain.JobRun, error)
}

// Outcome is the result of one Poll.
type Outcome string

const (
	OutcomeCompleted Outcome = "Completed"
	OutcomeFailed    Outcome = "Failed"
	OutcomeCancelled Outcome = "Cancelled"
	// OutcomePending means attempts ran out while the run was still going.
	OutcomePending Outcome = "Pending"
)

// Result is what Poll observed. Run is the last snapshot seen, if any.
type Result struct {
	RunID    string
	Outcome  Outcome
	Run      *domain.JobRun
	Attempts int
}

// Message is the user-facing summary of the result.
func (r Result) Message() string {
	switch r.Outcome {
	case OutcomeCompleted:
		return "Your request is ready."
	case OutcomeFailed:
		if r.Run != nil && r.Run.Error != "" {
			return "Generation failed: " + r.Run.Error
		}
		return "Generation failed."
	case OutcomeCancelled:
		return "Generation was cancelled."
	default:
		return "Still processing in the background. Check your history in a few minutes."
	}
}

// DecodeOutput unmarshals the output of a completed run into v.
func (r Result) DecodeOutput(v any) error {
	if r.Outcome != OutcomeCompleted || r.Run == nil {
		return fmt.Errorf("run %s has no output (outcome %s)", r.RunID, r.Outcome)
	}
	if err := json.Unmarshal(r.Run.Output, v); err != nil {
		return fmt.Errorf("decode run output: %w", err)
	}
	return nil
}

// ContentPackage decodes the output of a completed content generation run.
func (r Result) ContentPackage() (domain.ContentPackage, error) {
	var pkg domain.ContentPackage
	err := r.DecodeOutput(&pkg)
	return pkg, err
}

// Thumbnail decodes the output of a completed thumbnail generation run.
func (r Result) Thumbnail() (domain.ThumbnailRecord, error) {
	var rec domain.ThumbnailRecord
	err := r.DecodeOutput(&rec)
	return rec, err
}

type Options struct {
	InitialDelay time.Duration
	Interval     time.Duration
	MaxAttempts  int
	Logger       zerolog.Logger
}

// Poller queries a StatusSource on a fixed cadence.
type Poller struct {
	source       StatusSource
	initialDelay time.Duration
	interval     time.Duration
	maxAttempts  int
	logger       zerolog.Logger
}

// New applies defaults to zero-valued options. A negative InitialDelay or
// Interval means no wait.
func New(source StatusSource, opts Options) *Poller {
	p := &Poller{
		source:       source,
		initialDelay: opts.InitialDelay,
		interval:     opts.Interval,
		maxAttempts:  opts.MaxAttempts,
		logger:       opts.Logger,
	}
	if p.initialDelay == 0 {
		p.initialDelay = DefaultInitialDelay
	}
	if p.interval == 0 {
		p.interval = DefaultInterval
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = DefaultMaxAttempts
	}
	return p
}

// Poll returns after at most MaxAttempts status queries. Completed yields a nil
// error; Failed and Cancelled yield domain.ErrRunFailed and
// domain.ErrRunCancelled alongside the result; exhaustion yields
// OutcomePending and a nil error. Cancelling ctx aborts with ctx.Err().
func (p *Poller) Poll(ctx context.Context, runID string) (Result, error) {
	res := Result{RunID: runID, Outcome: OutcomePending}
	if p.initialDelay > 0 {
		timer := time.NewTimer(p.initialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return res, ctx.Err()
		case <-timer.C:
		}
	}

	limit := rate.Inf
	if p.interval > 0 {
		limit = rate.Every(p.interval)
	}
	limiter := rate.NewLimiter(limit, 1)
	for res.Attempts < p.maxAttempts {
		if err := limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			return res, err
		}
		res.Attempts++

		run, err := p.source.RunStatus(ctx, runID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			ev := p.logger.Debug()
			if !errors.Is(err, domain.ErrNotFound) {
				ev = p.logger.Warn()
			}
			ev.Err(err).Str("run_id", runID).Int("attempt", res.Attempts).Msg("poller: status query failed")
			continue
		}
		res.Run = run

		switch run.Status {
		case domain.RunStatusCompleted:
			res.Outcome = OutcomeCompleted
			return res, nil
		case domain.RunStatusFailed:
			res.Outcome = OutcomeFailed
			return res, fmt.Errorf("%w: %s", domain.ErrRunFailed, run.Error)
		case domain.RunStatusCancelled:
			res.Outcome = OutcomeCancelled
			return res, domain.ErrRunCancelled
		}
	}
	return res, nil
}
