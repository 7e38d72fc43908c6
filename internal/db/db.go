package db

import (
	"context"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// MustOpen connects to DATABASE_URL or panics; mains call this once.
func MustOpen() *sqlx.DB {
	dsn := os.Getenv("DATABASE_URL")
	return sqlx.MustConnect("pgx", dsn)
}

// WithTx runs fn in a transaction, rolling back on error.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
