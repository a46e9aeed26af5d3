package poller

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"trendtide/internal/domain"
)

type scriptedSource struct {
	mu      sync.Mutex
	calls   int
	answers func(call int) (*domain.JobRun, error)
}

func (s *scriptedSource) RunStatus(_ context.Context, runID string) (*domain.JobRun, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.answers(call)
}

func running(id string) *domain.JobRun {
	return &domain.JobRun{RunID: id, Status: domain.RunStatusRunning}
}

func fastPoller(src StatusSource, attempts int) *Poller {
	return New(src, Options{InitialDelay: -1, Interval: time.Millisecond, MaxAttempts: attempts})
}

func TestPollStopsAfterMaxAttempts(t *testing.T) {
	src := &scriptedSource{answers: func(int) (*domain.JobRun, error) { return running("run_1"), nil }}

	res, err := fastPoller(src, 5).Poll(context.Background(), "run_1")
	if err != nil {
		t.Fatalf("pending is not an error, got %v", err)
	}
	if src.calls != 5 || res.Attempts != 5 {
		t.Fatalf("expected exactly 5 queries, got calls=%d attempts=%d", src.calls, res.Attempts)
	}
	if res.Outcome != OutcomePending || !strings.Contains(res.Message(), "background") {
		t.Fatalf("unexpected result %+v %q", res, res.Message())
	}
}

func TestPollTerminalStatusesReturnImmediately(t *testing.T) {
	cases := []struct {
		status  domain.RunStatus
		outcome Outcome
		want    error
	}{
		{domain.RunStatusFailed, OutcomeFailed, domain.ErrRunFailed},
		{domain.RunStatusCancelled, OutcomeCancelled, domain.ErrRunCancelled},
		{domain.RunStatusCompleted, OutcomeCompleted, nil},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			src := &scriptedSource{answers: func(int) (*domain.JobRun, error) {
				return &domain.JobRun{RunID: "run_2", Status: tc.status, Error: "boom"}, nil
			}}
			res, err := fastPoller(src, 30).Poll(context.Background(), "run_2")
			if src.calls != 1 {
				t.Fatalf("expected a single query, got %d", src.calls)
			}
			if res.Outcome != tc.outcome {
				t.Fatalf("outcome = %s, want %s", res.Outcome, tc.outcome)
			}
			if tc.want == nil && err != nil || tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestPollCountsErrorsAsAttempts(t *testing.T) {
	src := &scriptedSource{answers: func(call int) (*domain.JobRun, error) {
		switch {
		case call == 1:
			return nil, domain.ErrNotFound
		case call < 4:
			return nil, errors.New("connection reset")
		default:
			output, _ := json.Marshal(domain.ContentPackage{Description: "done", Tags: []string{"go"}})
			return &domain.JobRun{RunID: "run_3", Status: domain.RunStatusCompleted, Output: output}, nil
		}
	}}
	res, err := fastPoller(src, 10).Poll(context.Background(), "run_3")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.Attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", res.Attempts)
	}
	pkg, err := res.ContentPackage()
	if err != nil || pkg.Description != "done" {
		t.Fatalf("decode package: %+v %v", pkg, err)
	}
	if _, err := (Result{Outcome: OutcomePending}).Thumbnail(); err == nil {
		t.Fatalf("pending result must not decode")
	}
}

func TestPollHonoursContextCancellation(t *testing.T) {
	src := &scriptedSource{answers: func(int) (*domain.JobRun, error) { return running("run_4"), nil }}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(src, Options{InitialDelay: time.Hour})
	if _, err := p.Poll(ctx, "run_4"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if src.calls != 0 {
		t.Fatalf("no query expected after cancellation, got %d", src.calls)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	p := New(nil, Options{})
	if p.initialDelay != DefaultInitialDelay || p.interval != DefaultInterval || p.maxAttempts != DefaultMaxAttempts {
		t.Fatalf("unexpected defaults %+v", p)
	}
}
