package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresTxManager は*sql.Txを用いてTxManagerを実装する。
type PostgresTxManager struct {
	db *sql.DB
}

// NewPostgresTxManager はPostgresTxManagerを生成する。
func NewPostgresTxManager(db *sql.DB) *PostgresTxManager {
	return &PostgresTxManager{db: db}
}

// WithinTx はトランザクションを開始してfnを実行する。
// ctxがキャンセルまたはタイムアウトした場合、database/sqlがトランザクションをロールバックする。
func (m *PostgresTxManager) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	// コミット済みの場合はErrTxDoneとなり何もしない。panic時もここでロールバックされる
	defer tx.Rollback()

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) Users() UserFinder       { return NewPostgresUserRepo(t.tx) }
func (t *postgresTx) Ledger() InventoryLedger { return NewPostgresLedger(t.tx) }
func (t *postgresTx) Loans() LoanRepository   { return NewPostgresLoanRepo(t.tx) }

// compile-time interface check
var _ TxManager = (*PostgresTxManager)(nil)
