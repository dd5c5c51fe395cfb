package postgres_test

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// rowStub implements pgx.Row
type rowStub struct{ scan func(dest ...any) error }

func (r rowStub) Scan(dest ...any) error { return r.scan(dest...) }

// rowsStub implements pgx.Rows over a list of scan funcs.
type rowsStub struct {
	scans []func(dest ...any) error
	i     int
	err   error
}

func (r *rowsStub) Close()                                       {}
func (r *rowsStub) Err() error                                   { return r.err }
func (r *rowsStub) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rowsStub) Next() bool {
	if r.i >= len(r.scans) {
		return false
	}
	r.i++
	return true
}
func (r *rowsStub) Scan(dest ...any) error        { return r.scans[r.i-1](dest...) }
func (r *rowsStub) Values() ([]any, error)        { return nil, nil }
func (r *rowsStub) RawValues() [][]byte           { return nil }
func (r *rowsStub) Conn() *pgx.Conn               { return nil }

// poolStub implements postgres.PgxPool for tests. Exec and QueryRow pop from
// per-call queues so multi-statement methods can be scripted; an empty queue
// falls back to the last configured behavior.
type poolStub struct {
	execTags []pgconn.CommandTag
	execErr  error
	execN    int

	rows     []rowStub
	rowN     int
	queryRes *rowsStub
	queryErr error
}

func (p *poolStub) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	p.execN++
	if p.execErr != nil {
		return pgconn.CommandTag{}, p.execErr
	}
	if len(p.execTags) == 0 {
		return pgconn.NewCommandTag("UPDATE 1"), nil
	}
	tag := p.execTags[0]
	if len(p.execTags) > 1 {
		p.execTags = p.execTags[1:]
	}
	return tag, nil
}

func (p *poolStub) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	p.rowN++
	if len(p.rows) == 0 {
		return rowStub{scan: func(_ ...any) error { return errors.New("no row configured") }}
	}
	row := p.rows[0]
	if len(p.rows) > 1 {
		p.rows = p.rows[1:]
	}
	return row
}

func (p *poolStub) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	if p.queryRes == nil {
		return &rowsStub{}, nil
	}
	return p.queryRes, nil
}

func (p *poolStub) BeginTx(_ context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	return nil, errors.New("tx not supported by poolStub")
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
}
