package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/perpus/internal/model"
)

// PostgresLedger はbooks.stockを条件付きUPDATEで増減する在庫台帳。
// 判定と更新を1文で行うため、並行実行されても在庫が負にならない。
type PostgresLedger struct {
	db DBTX
}

// NewPostgresLedger はPostgresLedgerを生成する。
func NewPostgresLedger(db DBTX) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Stock は現在の在庫数を返す。
func (l *PostgresLedger) Stock(ctx context.Context, bookID string) (int, error) {
	if !validID(bookID) {
		return 0, model.NewBookNotFoundError(bookID)
	}

	var stock int
	err := l.db.QueryRowContext(ctx,
		`SELECT stock FROM books WHERE id = $1`,
		bookID,
	).Scan(&stock)
	if err == sql.ErrNoRows {
		return 0, model.NewBookNotFoundError(bookID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read stock: %w", err)
	}
	return stock, nil
}

// Decrement は在庫を1減らす。
func (l *PostgresLedger) Decrement(ctx context.Context, bookID string) error {
	if !validID(bookID) {
		return model.NewBookNotFoundError(bookID)
	}

	result, err := l.db.ExecContext(ctx,
		`UPDATE books SET stock = stock - 1, updated_at = now()
		 WHERE id = $1 AND stock >= 1`,
		bookID,
	)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	// 更新0件: 書籍がないのか在庫がないのかを判別する
	if _, err := l.Stock(ctx, bookID); err != nil {
		return err
	}
	return model.NewOutOfStockError(bookID)
}

// Increment は在庫を1増やす。上限はない。
func (l *PostgresLedger) Increment(ctx context.Context, bookID string) error {
	if !validID(bookID) {
		return model.NewBookNotFoundError(bookID)
	}

	result, err := l.db.ExecContext(ctx,
		`UPDATE books SET stock = stock + 1, updated_at = now() WHERE id = $1`,
		bookID,
	)
	if err != nil {
		return fmt.Errorf("failed to increment stock: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return model.NewBookNotFoundError(bookID)
	}
	return nil
}

// Adjust は在庫をdeltaだけ増減し、更新後の在庫数を返す。
func (l *PostgresLedger) Adjust(ctx context.Context, bookID string, delta int) (int, error) {
	if !validID(bookID) {
		return 0, model.NewBookNotFoundError(bookID)
	}

	var stock int
	err := l.db.QueryRowContext(ctx,
		`UPDATE books SET stock = stock + $2, updated_at = now()
		 WHERE id = $1 AND stock + $2 >= 0
		 RETURNING stock`,
		bookID, delta,
	).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to adjust stock: %w", err)
	}

	current, err := l.Stock(ctx, bookID)
	if err != nil {
		return 0, err
	}
	return 0, model.NewInvalidValueError("quantity",
		fmt.Sprintf("在庫数が負になります（現在の在庫: %d、変更量: %d）", current, delta))
}

// compile-time interface check
var _ InventoryLedger = (*PostgresLedger)(nil)
