package repository

import (
	"context"
	_ "embed"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Table and sequence names.
const (
	sendTable       = "mail_send_records"
	eventTable      = "mail_events"
	outboxTable     = "mail_outbox"
	trackerSequence = "mail_tracker_id_seq"
)

// pgForeignKeyViolation is the SQLSTATE for a missing referenced row.
const pgForeignKeyViolation = "23503"

//go:embed schema.sql
var schemaSQL string

// DBTX is the subset of pgxpool.Pool and pgx.Tx the repositories use.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

func withTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// conn returns the transaction stored in ctx, or db when there is none.
func conn(ctx context.Context, db DBTX) DBTX {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}

	return db
}

// EnsureSchema creates the tracking tables and the tracker id sequence if they are missing.
func EnsureSchema(ctx context.Context, db DBTX) error {
	_, err := db.Exec(ctx, schemaSQL)
	return err
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}
