package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"trendtide/internal/domain"
)

const (
	defaultConcurrency  = 4
	defaultPollInterval = 2 * time.Second
	defaultLease        = 5 * time.Minute
	defaultRetries      = 2
	defaultBackoff      = 2 * time.Second
	maxBackoff          = 2 * time.Minute
)

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	Store        Store
	Logger       zerolog.Logger
	Concurrency  int
	PollInterval time.Duration
	Lease        time.Duration
	// Retries is the default retry budget for functions registered with a
	// negative Retries value.
	Retries     int
	BaseBackoff time.Duration
	WorkerID    string
}

// Engine dispatches events into runs and executes them.
type Engine struct {
	store        Store
	logger       zerolog.Logger
	concurrency  int
	pollInterval time.Duration
	lease        time.Duration
	retries      int
	backoff      time.Duration
	workerID     string
	snapshots    *cache.Cache

	mu        sync.RWMutex
	functions map[string]Function
	byEvent   map[string][]string
}

// New builds an Engine. Store is required.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("workflow: store is required")
	}
	e := &Engine{
		store:        opts.Store,
		logger:       opts.Logger,
		concurrency:  opts.Concurrency,
		pollInterval: opts.PollInterval,
		lease:        opts.Lease,
		retries:      opts.Retries,
		backoff:      opts.BaseBackoff,
		workerID:     opts.WorkerID,
		snapshots:    cache.New(10*time.Minute, 20*time.Minute),
		functions:    make(map[string]Function),
		byEvent:      make(map[string][]string),
	}
	if e.concurrency <= 0 {
		e.concurrency = defaultConcurrency
	}
	if e.pollInterval <= 0 {
		e.pollInterval = defaultPollInterval
	}
	if e.lease <= 0 {
		e.lease = defaultLease
	}
	if e.retries < 0 {
		e.retries = defaultRetries
	}
	if e.backoff <= 0 {
		e.backoff = defaultBackoff
	}
	if e.workerID == "" {
		host, _ := os.Hostname()
		e.workerID = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	return e, nil
}

// Register adds functions. IDs must be unique.
func (e *Engine) Register(fns ...Function) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, fn := range fns {
		if fn.ID == "" || fn.Event == "" || fn.Handler == nil {
			return fmt.Errorf("workflow: function %q needs an id, event and handler", fn.ID)
		}
		if _, exists := e.functions[fn.ID]; exists {
			return fmt.Errorf("workflow: function %q already registered", fn.ID)
		}
		if fn.Retries < 0 {
			fn.Retries = e.retries
		}
		e.functions[fn.ID] = fn
		e.byEvent[fn.Event] = append(e.byEvent[fn.Event], fn.ID)
	}
	return nil
}

// Send records one run per function subscribed to the event and returns their
// ids. It never waits for execution.
func (e *Engine) Send(ctx context.Context, evt Event) ([]string, error) {
	e.mu.RLock()
	ids := append([]string(nil), e.byEvent[evt.Name]...)
	e.mu.RUnlock()
	if len(ids) == 0 {
		return nil, fmt.Errorf("workflow: no function subscribed to %q", evt.Name)
	}

	runIDs := make([]string, 0, len(ids))
	for _, fnID := range ids {
		fn := e.function(fnID)
		runID := "run_" + uuid.NewString()
		err := e.store.CreateRun(ctx, NewRun{
			RunID:      runID,
			FunctionID: fnID,
			Event:      evt.Name,
			Payload:    evt.Data,
			MaxRetries: fn.Retries,
		})
		if err != nil {
			return runIDs, fmt.Errorf("workflow: create run for %s: %w", fnID, err)
		}
		e.logger.Info().Str("run_id", runID).Str("function", fnID).Str("event", evt.Name).Msg("workflow: run queued")
		runIDs = append(runIDs, runID)
	}
	return runIDs, nil
}

// Status returns the current run snapshot. Terminal snapshots are cached.
func (e *Engine) Status(ctx context.Context, runID string) (*domain.JobRun, error) {
	if cached, ok := e.snapshots.Get(runID); ok {
		run := *cached.(*domain.JobRun)
		return &run, nil
	}
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		snapshot := *run
		e.snapshots.SetDefault(runID, &snapshot)
	}
	return run, nil
}

// Cancel stops a Running run. Steps already executing finish, but no further
// step starts.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	if err := e.store.CancelRun(ctx, runID); err != nil {
		return err
	}
	e.logger.Info().Str("run_id", runID).Msg("workflow: run cancelled")
	return nil
}

// Run starts the worker pool and blocks until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info().Str("worker_id", e.workerID).Int("concurrency", e.concurrency).Msg("workflow: workers started")
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.concurrency; i++ {
		g.Go(func() error {
			return e.loop(gctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	e.logger.Info().Msg("workflow: workers stopped")
	return err
}

func (e *Engine) loop(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		processed, err := e.ProcessNext(ctx)
		if err != nil && ctx.Err() == nil {
			e.logger.Error().Err(err).Msg("workflow: claim failed")
		}
		if processed {
			timer.Reset(0)
		} else {
			timer.Reset(e.pollInterval)
		}
	}
}

// ProcessNext claims and executes a single run. It reports whether a run was
// claimed.
func (e *Engine) ProcessNext(ctx context.Context) (bool, error) {
	claim, err := e.store.ClaimRun(ctx, e.workerID, e.lease)
	if err != nil {
		if errors.Is(err, ErrNoRunAvailable) {
			return false, nil
		}
		return false, err
	}
	e.execute(ctx, claim)
	return true, nil
}

func (e *Engine) function(id string) Function {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.functions[id]
}

func (e *Engine) execute(ctx context.Context, claim *Claim) {
	logger := e.logger.With().Str("run_id", claim.RunID).Str("function", claim.FunctionID).Int("attempt", claim.Attempt).Logger()
	fn := e.function(claim.FunctionID)
	if fn.Handler == nil {
		e.finish(ctx, logger, claim, domain.RunStatusFailed, nil, "function not registered: "+claim.FunctionID)
		return
	}

	logger.Info().Msg("workflow: run started")
	run := &Run{
		ID:      claim.RunID,
		Event:   claim.Event,
		Payload: claim.Payload,
		Attempt: claim.Attempt,
		owner:   claim.Owner,
		store:   e.store,
		logger:  logger,
		seen:    make(map[string]struct{}),
	}

	runCtx, stop := context.WithCancelCause(ctx)
	var beat sync.WaitGroup
	beat.Add(1)
	go func() {
		defer beat.Done()
		e.heartbeat(runCtx, logger, claim, stop)
	}()
	output, err := invoke(runCtx, fn.Handler, run)
	leaseLost := errors.Is(context.Cause(runCtx), ErrLeaseLost)
	stop(nil)
	beat.Wait()

	switch {
	case leaseLost || errors.Is(err, ErrLeaseLost):
		// Another worker owns the run now and resumes it from the last
		// succeeded step.
		logger.Warn().AnErr("run_error", err).Msg("workflow: lease lost, abandoning run")
	case err == nil:
		raw, mErr := json.Marshal(output)
		if mErr != nil {
			e.finish(ctx, logger, claim, domain.RunStatusFailed, nil, "encode output: "+mErr.Error())
			return
		}
		e.finish(ctx, logger, claim, domain.RunStatusCompleted, raw, "")
	case errors.Is(err, domain.ErrRunCancelled):
		logger.Info().Msg("workflow: run stopped after cancellation")
	case ctx.Err() != nil:
		// The lease expires and another worker resumes from the last
		// succeeded step.
		logger.Warn().Err(err).Msg("workflow: run interrupted")
	case !IsNonRetriable(err) && claim.Attempt <= claim.MaxRetries:
		delay := e.backoffFor(claim.Attempt)
		logger.Warn().Err(err).Dur("retry_in", delay).Msg("workflow: attempt failed, retrying")
		if rErr := e.store.ReleaseRun(ctx, claim.RunID, claim.Owner, delay, err.Error()); rErr != nil {
			logger.Error().Err(rErr).Msg("workflow: release run failed")
		}
	default:
		e.finish(ctx, logger, claim, domain.RunStatusFailed, nil, err.Error())
	}
}

// heartbeat renews the claim's lease every third of the lease period until
// ctx ends. It cancels the run with ErrLeaseLost once another worker holds
// the lease, or when renewals keep failing for a full lease period.
func (e *Engine) heartbeat(ctx context.Context, logger zerolog.Logger, claim *Claim, lost context.CancelCauseFunc) {
	ticker := time.NewTicker(e.lease / 3)
	defer ticker.Stop()
	renewed := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := e.store.RenewLease(ctx, claim.RunID, claim.Owner, e.lease)
		switch {
		case err == nil:
			renewed = time.Now()
		case errors.Is(err, domain.ErrConflict):
			// Cancelled; the next step boundary stops the handler.
			return
		case errors.Is(err, ErrLeaseLost), errors.Is(err, domain.ErrNotFound):
			lost(ErrLeaseLost)
			return
		case ctx.Err() != nil:
			return
		default:
			logger.Warn().Err(err).Msg("workflow: lease renewal failed")
			if time.Since(renewed) >= e.lease {
				lost(ErrLeaseLost)
				return
			}
		}
	}
}

func (e *Engine) finish(ctx context.Context, logger zerolog.Logger, claim *Claim, status domain.RunStatus, output json.RawMessage, errMsg string) {
	err := e.store.FinishRun(ctx, claim.RunID, claim.Owner, status, output, errMsg)
	switch {
	case err == nil:
		ev := logger.Info()
		if status == domain.RunStatusFailed {
			ev = logger.Error().Str("error", errMsg)
		}
		ev.Str("status", string(status)).Msg("workflow: run finished")
	case errors.Is(err, domain.ErrConflict):
		logger.Warn().Str("status", string(status)).Msg("workflow: run already terminal")
	case errors.Is(err, ErrLeaseLost):
		logger.Warn().Str("status", string(status)).Msg("workflow: lease lost before finish")
	default:
		logger.Error().Err(err).Msg("workflow: finish run failed")
	}
}

func (e *Engine) backoffFor(attempt int) time.Duration {
	delay := e.backoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

func invoke(ctx context.Context, h Handler, run *Run) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow: handler panic: %v", r)
		}
	}()
	return h(ctx, run)
}
