/*
Package sql implements persistent storage using the postgres database.
*/
package sql

import (
	"context"
	"errors"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// CollectOneRow collects exactly one row, translating errors.
func CollectOneRow[T any](rows pgx.Rows, fn pgx.RowToFunc[T]) (T, error) {
	row, err := pgx.CollectOneRow(rows, fn)
	if err != nil {
		return *new(T), toError(err)
	}
	return row, nil
}

// CollectRows collects all rows, translating errors.
func CollectRows[T any](rows pgx.Rows, fn pgx.RowToFunc[T]) ([]T, error) {
	collected, err := pgx.CollectRows(rows, fn)
	if err != nil {
		return nil, toError(err)
	}
	return collected, nil
}

func toError(err error) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return internal.ErrResourceNotFound
	case errors.As(err, &pgErr):
		switch pgErr.Code {
		case "23505": // unique violation
			return internal.ErrResourceAlreadyExists
		}
		return err
	default:
		return err
	}
}

// Updater retrieves a row for update, applies fn to it and writes it back,
// all within a transaction.
func Updater[T any](
	ctx context.Context,
	db *DB,
	getForUpdate func(context.Context, Connection) (T, error),
	fn func(context.Context, T) error,
	update func(context.Context, Connection, T) error,
) (T, error) {
	var row T
	err := db.Tx(ctx, func(ctx context.Context) error {
		conn := db.conn(ctx)
		var err error
		row, err = getForUpdate(ctx, conn)
		if err != nil {
			return err
		}
		if err := fn(ctx, row); err != nil {
			return err
		}
		return update(ctx, conn, row)
	})
	return row, err
}
