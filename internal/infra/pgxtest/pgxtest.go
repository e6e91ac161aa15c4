// Package pgxtest provides in-process stand-ins for infra.SQLExecutor used by
// repository tests.
package pgxtest

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"photostudio/internal/infra"
)

// Row scans a fixed set of values. A nil Row value behaves like pgx.ErrNoRows.
type Row struct {
	Values []any
	Err    error
}

func (r Row) Scan(dest ...any) error {
	if r.Err != nil {
		return r.Err
	}
	if r.Values == nil {
		return pgx.ErrNoRows
	}
	return assign(dest, r.Values)
}

// NoRows is returned for single-row lookups that match nothing.
var NoRows = Row{Err: pgx.ErrNoRows}

type rowsBase struct{}

func (rowsBase) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (rowsBase) Conn() *pgx.Conn { return nil }

func (rowsBase) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (rowsBase) Values() ([]any, error) {
	return nil, fmt.Errorf("values not supported in test rows")
}

func (rowsBase) RawValues() [][]byte { return nil }

// Rows iterates over value tuples.
type Rows struct {
	rowsBase
	data   [][]any
	idx    int
	err    error
	Closed bool
}

func NewRows(data ...[]any) *Rows {
	return &Rows{data: data, idx: -1}
}

// WithErr makes Err report err once iteration ends.
func (r *Rows) WithErr(err error) *Rows {
	r.err = err
	return r
}

func (r *Rows) Next() bool {
	if r.idx+1 >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.idx < 0 || r.idx >= len(r.data) {
		return fmt.Errorf("scan called without a current row")
	}
	return assign(dest, r.data[r.idx])
}

func (r *Rows) Err() error { return r.err }

func (r *Rows) Close() { r.Closed = true }

// Call is one recorded statement.
type Call struct {
	Query string
	Args  []any
}

// Executor records statements and answers them through the optional hooks.
// Exec without a hook reports one affected row.
type Executor struct {
	mu         sync.Mutex
	Calls      []Call
	OnExec     func(query string, args []any) (pgconn.CommandTag, error)
	OnQueryRow func(query string, args []any) pgx.Row
	OnQuery    func(query string, args []any) (pgx.Rows, error)
	TxCount    int
}

func (e *Executor) record(query string, args []any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = append(e.Calls, Call{Query: query, Args: args})
}

func (e *Executor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	e.record(query, args)
	if e.OnExec != nil {
		return e.OnExec(query, args)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (e *Executor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	e.record(query, args)
	if e.OnQueryRow != nil {
		return e.OnQueryRow(query, args)
	}
	return NoRows
}

func (e *Executor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	e.record(query, args)
	if e.OnQuery != nil {
		return e.OnQuery(query, args)
	}
	return NewRows(), nil
}

// WithinTx runs fn against the same executor.
func (e *Executor) WithinTx(ctx context.Context, fn func(tx infra.SQLExecutor) error) error {
	e.mu.Lock()
	e.TxCount++
	e.mu.Unlock()
	return fn(e)
}

// Queries returns the recorded statements in order.
func (e *Executor) Queries() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.Calls))
	for _, c := range e.Calls {
		out = append(out, c.Query)
	}
	return out
}

// Tag builds a command tag reporting n affected rows.
func Tag(n int) pgconn.CommandTag {
	return pgconn.NewCommandTag(fmt.Sprintf("UPDATE %d", n))
}

func assign(dest []any, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d)
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("scan: destination %d is not a pointer", i)
		}
		target = target.Elem()
		if values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		src := reflect.ValueOf(values[i])
		switch {
		case src.Type().AssignableTo(target.Type()):
			target.Set(src)
		case target.Kind() == reflect.Pointer && src.Type().AssignableTo(target.Type().Elem()):
			ptr := reflect.New(target.Type().Elem())
			ptr.Elem().Set(src)
			target.Set(ptr)
		case src.Type().ConvertibleTo(target.Type()):
			target.Set(src.Convert(target.Type()))
		default:
			return fmt.Errorf("scan: cannot assign %s to %s at %d", src.Type(), target.Type(), i)
		}
	}
	return nil
}

var _ infra.TxExecutor = (*Executor)(nil)
