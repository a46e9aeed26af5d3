package infra

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// SQLExecutor defines the contract repositories and stores need for executing SQL.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

var markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// DefaultSlowQuery is the latency above which a statement is logged at warn.
const DefaultSlowQuery = 250 * time.Millisecond

// SQLRunner strips the `--sql <uuid>` marker from sqlinline constants before
// handing them to the database and logs by marker. Successful statements log
// at debug unless they are slow.
type SQLRunner struct {
	db        SQLExecutor
	logger    zerolog.Logger
	slowQuery time.Duration
	now       func() time.Time
}

// NewSQLRunner wraps db, usually a *pgxpool.Pool.
func NewSQLRunner(db SQLExecutor, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{db: db, logger: logger, slowQuery: DefaultSlowQuery, now: time.Now}
}

func (r *SQLRunner) observe(marker, op string, start time.Time, err error) {
	took := r.now().Sub(start)
	switch {
	case err != nil && !IsNoRows(err):
		r.logger.Error().Err(err).Str("sql", marker).Str("op", op).Dur("took", took).Msg("sql failed")
	case took >= r.slowQuery:
		r.logger.Warn().Str("sql", marker).Str("op", op).Dur("took", took).Msg("slow sql")
	default:
		r.logger.Debug().Str("sql", marker).Str("op", op).Dur("took", took).Msg("sql")
	}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, body, err := ExtractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := r.now()
	tag, err := r.db.Exec(ctx, body, args...)
	r.observe(marker, "exec", start, err)
	return tag, err
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, body, err := ExtractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return loggingRow{row: r.db.QueryRow(ctx, body, args...), runner: r, marker: marker, start: r.now()}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, body, err := ExtractMarker(query)
	if err != nil {
		return nil, err
	}
	start := r.now()
	rows, err := r.db.Query(ctx, body, args...)
	r.observe(marker, "query", start, err)
	return rows, err
}

// loggingRow defers observation to Scan, where pgx reports query errors.
type loggingRow struct {
	row    pgx.Row
	runner *SQLRunner
	marker string
	start  time.Time
}

func (l loggingRow) Scan(dest ...any) error {
	err := l.row.Scan(dest...)
	l.runner.observe(l.marker, "query_row", l.start, err)
	return err
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(dest ...any) error {
	return e.err
}

// IsNoRows reports whether err signals an empty result set from either pgx or database/sql.
func IsNoRows(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// ExtractMarker splits the marker line from the executable SQL.
func ExtractMarker(query string) (string, string, error) {
	trimmed := strings.TrimSpace(query)
	lines := strings.Split(trimmed, "\n")
	if len(lines) == 0 || trimmed == "" {
		return "", "", errors.New("empty query")
	}
	markerLine := strings.TrimSpace(lines[0])
	if !markerRegexp.MatchString(markerLine) {
		return "", "", errors.New("sql marker missing or invalid")
	}
	return strings.TrimSpace(strings.TrimPrefix(markerLine, "--sql ")), strings.Join(lines[1:], "\n"), nil
}

var _ SQLExecutor = (*SQLRunner)(nil)
