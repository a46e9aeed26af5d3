package infra

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

func TestExtractMarker(t *testing.T) {
	query := "--sql 4f55a9b7-4e9f-4e45-a3b3-5a532d21d9db\nselect 1;\n"
	marker, body, err := ExtractMarker(query)
	if err != nil {
		t.Fatalf("ExtractMarker error: %v", err)
	}
	if marker != "4f55a9b7-4e9f-4e45-a3b3-5a532d21d9db" {
		t.Fatalf("marker = %q", marker)
	}
	if body != "select 1;" {
		t.Fatalf("body = %q", body)
	}
}

func TestExtractMarkerRejectsMissingMarker(t *testing.T) {
	for _, q := range []string{"", "select 1;", "--sql not-a-uuid\nselect 1;"} {
		if _, _, err := ExtractMarker(q); err == nil {
			t.Fatalf("expected error for %q", q)
		}
	}
}

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(pgx.ErrNoRows) {
		t.Fatal("pgx.ErrNoRows not detected")
	}
	if !IsNoRows(fmt.Errorf("wrapped: %w", pgx.ErrNoRows)) {
		t.Fatal("wrapped pgx.ErrNoRows not detected")
	}
	if !IsNoRows(sql.ErrNoRows) {
		t.Fatal("sql.ErrNoRows not detected")
	}
	if IsNoRows(errors.New("boom")) || IsNoRows(nil) {
		t.Fatal("unexpected match")
	}
}

type recordingExecutor struct {
	query string
	args  []any
	err   error
}

func (r *recordingExecutor) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	r.query, r.args = query, args
	return pgconn.NewCommandTag("UPDATE 1"), r.err
}

func (r *recordingExecutor) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	r.query, r.args = query, args
	return errorRow{err: r.err}
}

func (r *recordingExecutor) Query(_ context.Context, query string, args ...any) (pgx.Rows, error) {
	r.query, r.args = query, args
	return nil, r.err
}

func TestSQLRunnerStripsMarkerAndLogsSlowStatements(t *testing.T) {
	db := &recordingExecutor{}
	var buf bytes.Buffer
	runner := NewSQLRunner(db, zerolog.New(&buf).Level(zerolog.InfoLevel))
	clock := time.Unix(0, 0)
	runner.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	tag, err := runner.Exec(context.Background(), "--sql 4f55a9b7-4e9f-4e45-a3b3-5a532d21d9db\nupdate t set x = $1;", 1)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if tag.RowsAffected() != 1 {
		t.Fatalf("rows = %d", tag.RowsAffected())
	}
	if db.query != "update t set x = $1;" || len(db.args) != 1 {
		t.Fatalf("executor got %q %v", db.query, db.args)
	}
	if !strings.Contains(buf.String(), `"message":"slow sql"`) || !strings.Contains(buf.String(), "4f55a9b7") {
		t.Fatalf("expected slow sql warning, got %s", buf.String())
	}
}

func TestSQLRunnerRejectsUnmarkedQuery(t *testing.T) {
	db := &recordingExecutor{}
	runner := NewSQLRunner(db, zerolog.Nop())
	if err := runner.QueryRow(context.Background(), "select 1").Scan(); err == nil {
		t.Fatal("expected marker error")
	}
	if db.query != "" {
		t.Fatal("unmarked query reached the database")
	}
}

func TestSQLRunnerNoRowsIsNotAnError(t *testing.T) {
	db := &recordingExecutor{err: pgx.ErrNoRows}
	var buf bytes.Buffer
	runner := NewSQLRunner(db, zerolog.New(&buf).Level(zerolog.ErrorLevel))
	runner.now = func() time.Time { return time.Unix(0, 0) }
	var v int
	if err := runner.QueryRow(context.Background(), "--sql 4f55a9b7-4e9f-4e45-a3b3-5a532d21d9db\nselect 1;").Scan(&v); !IsNoRows(err) {
		t.Fatalf("err = %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("no-rows was logged as an error: %s", buf.String())
	}
}
