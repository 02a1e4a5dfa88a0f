// Package pgxfake provides in-memory stand-ins for pgx transactions so
// services can be tested without a database.
package pgxfake

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Call records one Exec, Query or QueryRow invocation.
type Call struct {
	SQL  string
	Args []any
}

// Beginner hands out a fresh Tx per Begin and keeps every one it created.
// Setup, when set, configures each new Tx before it is returned.
type Beginner struct {
	mu       sync.Mutex
	BeginErr error
	Setup    func(tx *Tx)
	Txs      []*Tx
}

func (b *Beginner) Begin(context.Context) (pgx.Tx, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.BeginErr != nil {
		return nil, b.BeginErr
	}
	tx := &Tx{}
	if b.Setup != nil {
		b.Setup(tx)
	}
	b.Txs = append(b.Txs, tx)
	return tx, nil
}

// Last returns the most recent transaction, or nil.
func (b *Beginner) Last() *Tx {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Txs) == 0 {
		return nil
	}
	return b.Txs[len(b.Txs)-1]
}

// Tx implements pgx.Tx. Query and QueryRow consume Results in order.
type Tx struct {
	Committed  bool
	RolledBack bool
	CommitErr  error
	ExecErr    error
	Results    []Result
	Execs      []Call
	Queries    []Call
}

// Result is the canned answer to one Query or QueryRow.
type Result struct {
	Rows [][]any
	Err  error
}

// Queue appends canned results.
func (t *Tx) Queue(results ...Result) {
	t.Results = append(t.Results, results...)
}

// ExecsMatching returns the Exec calls whose SQL contains fragment.
func (t *Tx) ExecsMatching(fragment string) []Call {
	out := make([]Call, 0)
	for _, c := range t.Execs {
		if strings.Contains(c.SQL, fragment) {
			out = append(out, c)
		}
	}
	return out
}

func (t *Tx) next(sql string, args []any) Result {
	t.Queries = append(t.Queries, Call{SQL: sql, Args: args})
	if len(t.Results) == 0 {
		return Result{Err: fmt.Errorf("pgxfake: no result queued for %q", strings.TrimSpace(sql))}
	}
	r := t.Results[0]
	t.Results = t.Results[1:]
	return r
}

func (t *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("pgxfake: nested transactions not supported")
}

func (t *Tx) Commit(context.Context) error {
	if t.CommitErr != nil {
		return t.CommitErr
	}
	t.Committed = true
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	if !t.Committed {
		t.RolledBack = true
	}
	return nil
}

func (t *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (t *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (t *Tx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (t *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (t *Tx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.Execs = append(t.Execs, Call{SQL: sql, Args: args})
	if t.ExecErr != nil {
		return pgconn.CommandTag{}, t.ExecErr
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (t *Tx) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	r := t.next(sql, args)
	if r.Err != nil {
		return nil, r.Err
	}
	return &Rows{data: r.Rows, idx: -1}, nil
}

func (t *Tx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	r := t.next(sql, args)
	if r.Err != nil {
		return errRow{err: r.Err}
	}
	if len(r.Rows) == 0 {
		return errRow{err: pgx.ErrNoRows}
	}
	return valuesRow(r.Rows[0])
}

func (t *Tx) Conn() *pgx.Conn {
	return nil
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

type valuesRow []any

func (r valuesRow) Scan(dest ...any) error { return assign([]any(r), dest) }

// Rows implements pgx.Rows over canned values.
type Rows struct {
	data [][]any
	idx  int
	err  error
}

func (r *Rows) Close()                                       {}
func (r *Rows) Err() error                                   { return r.err }
func (r *Rows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *Rows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *Rows) RawValues() [][]byte                          { return nil }
func (r *Rows) Conn() *pgx.Conn                              { return nil }

func (r *Rows) Next() bool {
	r.idx++
	return r.idx < len(r.data)
}

func (r *Rows) Scan(dest ...any) error {
	if r.idx < 0 || r.idx >= len(r.data) {
		return errors.New("pgxfake: scan outside row set")
	}
	return assign(r.data[r.idx], dest)
}

func (r *Rows) Values() ([]any, error) {
	if r.idx < 0 || r.idx >= len(r.data) {
		return nil, errors.New("pgxfake: values outside row set")
	}
	return r.data[r.idx], nil
}

func assign(src []any, dest []any) error {
	if len(src) != len(dest) {
		return fmt.Errorf("pgxfake: row has %d values, scan wants %d", len(src), len(dest))
	}
	for i := range dest {
		target := reflect.ValueOf(dest[i])
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("pgxfake: destination %d is not a pointer", i)
		}
		elem := target.Elem()
		if src[i] == nil {
			elem.Set(reflect.Zero(elem.Type()))
			continue
		}
		v := reflect.ValueOf(src[i])
		switch {
		case v.Type().AssignableTo(elem.Type()):
			elem.Set(v)
		case v.Type().ConvertibleTo(elem.Type()):
			elem.Set(v.Convert(elem.Type()))
		case elem.Kind() == reflect.Pointer && v.Type().ConvertibleTo(elem.Type().Elem()):
			p := reflect.New(elem.Type().Elem())
			p.Elem().Set(v.Convert(elem.Type().Elem()))
			elem.Set(p)
		default:
			return fmt.Errorf("pgxfake: cannot assign %T to %s", src[i], elem.Type())
		}
	}
	return nil
}
