package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"trendtide/internal/domain"
	"trendtide/internal/sqlinline"
)

type stubExecutor struct {
	token   string
	err     error
	queries int
	exec    struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.queries++
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func TestToken(t *testing.T) {
	store := NewStore(&stubExecutor{token: " abc123 "})
	key, err := store.Token(context.Background(), ProviderLLM)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "abc123" {
		t.Fatalf("expected abc123, got %q", key)
	}
}

func TestToken_NoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows})
	key, err := store.Token(context.Background(), ProviderYouTube)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestResolvePrefersConfiguredValue(t *testing.T) {
	exec := &stubExecutor{token: "from-db"}
	store := NewStore(exec)
	key, err := store.Resolve(context.Background(), ProviderInference, " from-env ")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if key != "from-env" {
		t.Fatalf("expected from-env, got %q", key)
	}
	if exec.queries != 0 {
		t.Fatalf("expected no store lookup, got %d", exec.queries)
	}

	key, err = store.Resolve(context.Background(), ProviderInference, "")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if key != "from-db" {
		t.Fatalf("expected from-db, got %q", key)
	}
}

func TestRotate(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.Rotate(context.Background(), " ImageKit ", "secret", "ops@host"); err != nil {
		t.Fatalf("Rotate error: %v", err)
	}
	if exec.exec.query != sqlinline.QRotateProviderKey {
		t.Fatalf("unexpected query executed")
	}
	if exec.exec.args[0] != ProviderImageKit || exec.exec.args[1] != "secret" || exec.exec.args[2] != "ops@host" {
		t.Fatalf("unexpected args: %#v", exec.exec.args)
	}
}

func TestRotateRejectsBadInput(t *testing.T) {
	cases := map[string][2]string{
		"empty key":        {ProviderLLM, " "},
		"unknown provider": {"gemini", "secret"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			exec := &stubExecutor{}
			err := NewStore(exec).Rotate(context.Background(), tc[0], tc[1], "")
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if exec.exec.query != "" {
				t.Fatal("nothing should be written")
			}
		})
	}
}
