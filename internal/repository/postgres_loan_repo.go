package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/perpus/internal/model"
)

// 一覧系は書籍タイトルとユーザー名を結合して返す
const loanSelect = `SELECT l.id, l.user_id, l.book_id, l.borrowed_at, l.returned_at, l.status, b.title, u.username
	FROM loans l
	JOIN books b ON b.id = l.book_id
	JOIN users u ON u.id = l.user_id`

// PostgresLoanRepo はPostgreSQLを使用した貸出記録リポジトリ。
type PostgresLoanRepo struct {
	db DBTX
}

// NewPostgresLoanRepo はPostgresLoanRepoを生成する。
func NewPostgresLoanRepo(db DBTX) *PostgresLoanRepo {
	return &PostgresLoanRepo{db: db}
}

func scanLoan(row rowScanner) (*model.Loan, error) {
	loan := &model.Loan{}
	var returnedAt sql.NullTime
	err := row.Scan(&loan.ID, &loan.UserID, &loan.BookID, &loan.BorrowedAt, &returnedAt, &loan.Status, &loan.BookTitle, &loan.Username)
	if err != nil {
		return nil, err
	}
	if returnedAt.Valid {
		t := returnedAt.Time
		loan.ReturnedAt = &t
	}
	return loan, nil
}

// HasActiveLoan は指定ユーザーが指定書籍をactiveで借りているかを返す。
func (r *PostgresLoanRepo) HasActiveLoan(ctx context.Context, userID, bookID string) (bool, error) {
	if !validID(userID) || !validID(bookID) {
		return false, nil
	}

	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM loans WHERE user_id = $1 AND book_id = $2 AND status = 'active'
		)`,
		userID, bookID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active loan: %w", err)
	}
	return exists, nil
}

// Create はactiveな貸出記録を作成する。
// 部分ユニークインデックスの違反は並行する貸出に負けたことを意味する。
func (r *PostgresLoanRepo) Create(ctx context.Context, loan *model.Loan) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO loans (id, user_id, book_id, borrowed_at, status)
		 VALUES ($1, $2, $3, $4, 'active')`,
		loan.ID, loan.UserID, loan.BookID, loan.BorrowedAt,
	)
	if isUniqueViolation(err, constraintActiveLoan) {
		return model.NewAlreadyBorrowedError(loan.BookID)
	}
	if isForeignKeyViolation(err) {
		return model.NewNotFoundError("ユーザーまたは書籍", loan.UserID+"/"+loan.BookID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert loan: %w", err)
	}
	loan.Status = model.LoanStatusActive
	loan.ReturnedAt = nil
	return nil
}

// MarkReturned はactiveな貸出をreturnedに遷移させる。
func (r *PostgresLoanRepo) MarkReturned(ctx context.Context, loanID string, returnedAt time.Time) error {
	if !validID(loanID) {
		return model.NewLoanNotFoundError(loanID)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE loans SET status = 'returned', returned_at = $2
		 WHERE id = $1 AND status = 'active'`,
		loanID, returnedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to mark loan returned: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var status string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM loans WHERE id = $1`, loanID).Scan(&status)
	if err == sql.ErrNoRows {
		return model.NewLoanNotFoundError(loanID)
	}
	if err != nil {
		return fmt.Errorf("failed to read loan status: %w", err)
	}
	return model.NewAlreadyReturnedError(loanID)
}

// FindByID は指定IDの貸出記録を取得する。見つからない場合はnilを返す。
func (r *PostgresLoanRepo) FindByID(ctx context.Context, id string) (*model.Loan, error) {
	if !validID(id) {
		return nil, nil
	}

	loan, err := scanLoan(r.db.QueryRowContext(ctx, loanSelect+` WHERE l.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find loan by ID: %w", err)
	}
	return loan, nil
}

// List は全貸出記録を新しい順に返す。
func (r *PostgresLoanRepo) List(ctx context.Context, page model.Page) ([]*model.Loan, error) {
	return r.query(ctx,
		loanSelect+` ORDER BY l.borrowed_at DESC, l.id LIMIT $1 OFFSET $2`,
		page.PerPage, page.Offset(),
	)
}

// ListByUser は指定ユーザーの貸出記録を新しい順に返す。
func (r *PostgresLoanRepo) ListByUser(ctx context.Context, userID string, page model.Page) ([]*model.Loan, error) {
	if !validID(userID) {
		return nil, nil
	}
	return r.query(ctx,
		loanSelect+` WHERE l.user_id = $1 ORDER BY l.borrowed_at DESC, l.id LIMIT $2 OFFSET $3`,
		userID, page.PerPage, page.Offset(),
	)
}

// ListActiveByUser は指定ユーザーのactiveな貸出記録を返す。
func (r *PostgresLoanRepo) ListActiveByUser(ctx context.Context, userID string) ([]*model.Loan, error) {
	if !validID(userID) {
		return nil, nil
	}
	return r.query(ctx,
		loanSelect+` WHERE l.user_id = $1 AND l.status = 'active' ORDER BY l.borrowed_at DESC`,
		userID,
	)
}

// Count は貸出記録の総数を返す。
func (r *PostgresLoanRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM loans`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count loans: %w", err)
	}
	return count, nil
}

func (r *PostgresLoanRepo) query(ctx context.Context, query string, args ...any) ([]*model.Loan, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loans: %w", err)
	}
	defer rows.Close()

	var loans []*model.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate loans: %w", err)
	}
	return loans, nil
}

// compile-time interface check
var _ LoanRepository = (*PostgresLoanRepo)(nil)
