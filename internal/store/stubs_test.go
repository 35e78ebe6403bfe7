package store

import (
	"context"
	"database/sql"
)

type (
	execFunc   func(ctx context.Context, query string, args ...any) (sql.Result, error)
	getFunc    func(ctx context.Context, dest any, query string, args ...any) error
	selectFunc func(ctx context.Context, dest any, query string, args ...any) error
)

func (f execFunc) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if f == nil {
		return stubResult{}, nil
	}
	return f(ctx, query, args...)
}

func (f getFunc) get(ctx context.Context, dest any, query string, args ...any) error {
	if f == nil {
		return nil
	}
	return f(ctx, dest, query, args...)
}

func (f selectFunc) sel(ctx context.Context, dest any, query string, args ...any) error {
	if f == nil {
		return nil
	}
	return f(ctx, dest, query, args...)
}

// stubDB satisfies DB; unset funcs succeed with zero results.
type stubDB struct {
	getFn    getFunc
	selectFn selectFunc
	execFn   execFunc
}

func (s stubDB) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return s.getFn.get(ctx, dest, query, args...)
}

func (s stubDB) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return s.selectFn.sel(ctx, dest, query, args...)
}

func (s stubDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.execFn.exec(ctx, query, args...)
}

type stubExecer struct {
	execFn execFunc
}

func (s stubExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.execFn.exec(ctx, query, args...)
}

type stubGetter struct {
	getFn getFunc
}

func (s stubGetter) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return s.getFn.get(ctx, dest, query, args...)
}

type stubSelecter struct {
	selectFn selectFunc
}

func (s stubSelecter) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return s.selectFn.sel(ctx, dest, query, args...)
}

type stubResult struct {
	rows int64
	err  error
}

func (r stubResult) LastInsertId() (int64, error) {
	return 0, r.err
}

func (r stubResult) RowsAffected() (int64, error) {
	return r.rows, r.err
}
