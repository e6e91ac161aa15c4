package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SQLExecutor is the query surface repositories depend on.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// TxExecutor runs a function inside a database transaction. The executor
// handed to fn is bound to that transaction.
type TxExecutor interface {
	SQLExecutor
	WithinTx(ctx context.Context, fn func(tx SQLExecutor) error) error
}

// ErrSQLMarker is returned for statements without a valid audit marker.
var ErrSQLMarker = errors.New("sql marker missing or invalid")

var markerRegexp = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)

// SQLRunner executes marked statements against the pool, or against a
// transaction when produced by WithinTx. Every statement is logged by its
// marker so slow-query reports map back to a sqlinline constant.
type SQLRunner struct {
	pool   *pgxpool.Pool
	tx     pgx.Tx
	logger Logger
}

func NewSQLRunner(pool *pgxpool.Pool, logger Logger) *SQLRunner {
	return &SQLRunner{pool: pool, logger: logger}
}

func (r *SQLRunner) conn() SQLExecutor {
	if r.tx != nil {
		return r.tx
	}
	return r.pool
}

// WithinTx commits when fn returns nil and rolls back otherwise. Nested calls
// use a savepoint.
func (r *SQLRunner) WithinTx(ctx context.Context, fn func(tx SQLExecutor) error) error {
	var (
		tx  pgx.Tx
		err error
	)
	if r.tx != nil {
		tx, err = r.tx.Begin(ctx)
	} else {
		tx, err = r.pool.Begin(ctx)
	}
	if err != nil {
		r.logger.Error().Err(err).Msg("sql: tx begin failed")
		return err
	}
	if err := fn(&SQLRunner{pool: r.pool, tx: tx, logger: r.logger}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			r.logger.Error().Err(rbErr).Msg("sql: tx rollback failed")
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		r.logger.Error().Err(err).Msg("sql: tx commit failed")
		return err
	}
	return nil
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, stmt, err := splitMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := time.Now()
	tag, err := r.conn().Exec(ctx, stmt, args...)
	r.done(marker, "exec", start, err).Int64("rows", tag.RowsAffected()).Send()
	return tag, err
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, stmt, err := splitMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return &loggedRow{row: r.conn().QueryRow(ctx, stmt, args...), runner: r, marker: marker, start: time.Now()}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, stmt, err := splitMarker(query)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := r.conn().Query(ctx, stmt, args...)
	if err != nil {
		r.done(marker, "query", start, err).Send()
		return nil, err
	}
	return &loggedRows{Rows: rows, runner: r, marker: marker, start: start}, nil
}

// done starts the log event for a finished statement. Failures other than
// pgx.ErrNoRows log at error level.
func (r *SQLRunner) done(marker, op string, start time.Time, err error) *zerolog.Event {
	ev := r.logger.Debug()
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		ev = r.logger.Error().Err(err)
	}
	return ev.Str("marker", marker).Str("op", op).Dur("elapsed", time.Since(start))
}

type loggedRow struct {
	row    pgx.Row
	runner *SQLRunner
	marker string
	start  time.Time
}

func (l *loggedRow) Scan(dest ...any) error {
	err := l.row.Scan(dest...)
	l.runner.done(l.marker, "query_row", l.start, err).Send()
	return err
}

type loggedRows struct {
	pgx.Rows
	runner *SQLRunner
	marker string
	start  time.Time
	rows   int
	closed bool
}

func (l *loggedRows) Next() bool {
	if l.Rows.Next() {
		l.rows++
		return true
	}
	return false
}

func (l *loggedRows) Close() {
	l.Rows.Close()
	if l.closed {
		return
	}
	l.closed = true
	l.runner.done(l.marker, "query", l.start, l.Rows.Err()).Int("rows", l.rows).Send()
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(...any) error {
	return e.err
}

// splitMarker returns the marker id and the statement that follows it.
func splitMarker(query string) (string, string, error) {
	head, stmt, _ := strings.Cut(strings.TrimSpace(query), "\n")
	m := markerRegexp.FindStringSubmatch(strings.TrimSpace(head))
	if m == nil {
		return "", "", ErrSQLMarker
	}
	return m[1], stmt, nil
}

var _ TxExecutor = (*SQLRunner)(nil)
