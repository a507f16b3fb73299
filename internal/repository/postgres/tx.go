package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/catalogindex/pkg/database"
)

// TxManager runs indexing work inside read-only transactions. The
// transaction travels in the context, so repositories built on the same
// pool pick it up through database.Conn.
type TxManager struct {
	db     database.Beginner
	logger *slog.Logger
}

// NewTxManager creates a transaction manager over db.
func NewTxManager(db database.Beginner, logger *slog.Logger) *TxManager {
	return &TxManager{db: db, logger: logger}
}

// WithinTx runs fn in a read-only transaction. An error returned by fn is
// returned unchanged after the rollback; a panic rolls back and re-panics.
// Calls nested in an open transaction join it.
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := database.TxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			m.rollback(ctx, tx)
			panic(r)
		}
	}()

	if err := fn(database.WithTx(ctx, tx)); err != nil {
		m.rollback(ctx, tx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (m *TxManager) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
		m.logger.WarnContext(ctx, "failed to roll back transaction", slog.String("error", err.Error()))
	}
}
