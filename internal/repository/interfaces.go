// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/perpus/internal/model"
)

// DBTX は*sql.DBと*sql.Txの共通部分。
// リポジトリはどちらに対しても同じSQLを発行できる。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UserFinder はユーザーの存在確認に使う最小インターフェース。
type UserFinder interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	UserFinder

	// FindByUsername はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.User, error)

	// Create はユーザーを作成する。ユーザー名が重複する場合はDUPLICATE_USERNAMEを返す。
	Create(ctx context.Context, user *model.User) error

	// Update はpatchで指定されたフィールドのみ更新する。見つからない場合はnilを返す。
	Update(ctx context.Context, id string, patch model.UserPatch) (*model.User, error)

	// DeleteByID は指定IDのユーザーを削除する。
	DeleteByID(ctx context.Context, id string) error

	// List はユーザー一覧をユーザー名順に返す。
	List(ctx context.Context, page model.Page) ([]*model.User, error)

	// Search はユーザー名の部分一致で検索する。
	Search(ctx context.Context, keyword string) ([]*model.User, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションをユーザーのロール付きで取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// BookRepository は書籍マスタの永続化インターフェース。
// 在庫数の増減はInventoryLedgerを経由する。
type BookRepository interface {
	// FindByID は指定IDの書籍を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Book, error)

	// Create は書籍を作成する。
	Create(ctx context.Context, book *model.Book) error

	// Update はpatchで指定されたフィールドのみ更新する。見つからない場合はnilを返す。
	Update(ctx context.Context, id string, patch model.BookPatch) (*model.Book, error)

	// DeleteByID は指定IDの書籍を削除する。
	DeleteByID(ctx context.Context, id string) error

	// List は書籍一覧をタイトル順に返す。
	List(ctx context.Context, page model.Page) ([]*model.Book, error)

	// Search はタイトルまたは著者の部分一致で検索する。
	Search(ctx context.Context, keyword string) ([]*model.Book, error)

	// Count は書籍の総数を返す。
	Count(ctx context.Context) (int, error)
}

// InventoryLedger は書籍ごとの貸出可能在庫を管理する。
// 在庫数は常に0以上に保たれる。
type InventoryLedger interface {
	// Stock は現在の在庫数を返す。書籍が存在しない場合はBOOK_NOT_FOUND。
	Stock(ctx context.Context, bookID string) (int, error)

	// Decrement は在庫を1減らす。在庫0ならOUT_OF_STOCK、書籍がなければBOOK_NOT_FOUND。
	Decrement(ctx context.Context, bookID string) error

	// Increment は在庫を1増やす。書籍がなければBOOK_NOT_FOUND。
	Increment(ctx context.Context, bookID string) error

	// Adjust は在庫をdeltaだけ増減し、更新後の在庫数を返す。
	// 結果が負になる場合はINVALID_VALUE（quantity）を返し、在庫は変更しない。
	Adjust(ctx context.Context, bookID string, delta int) (int, error)
}

// LoanRepository は貸出記録の永続化インターフェース。
type LoanRepository interface {
	// HasActiveLoan は指定ユーザーが指定書籍をactiveで借りているかを返す。
	HasActiveLoan(ctx context.Context, userID, bookID string) (bool, error)

	// Create はactiveな貸出記録を作成する。
	// 同一ユーザー・同一書籍のactiveな貸出が既にある場合はALREADY_BORROWEDを返す。
	Create(ctx context.Context, loan *model.Loan) error

	// MarkReturned はactiveな貸出をreturnedに遷移させる。
	// 見つからなければLOAN_NOT_FOUND、既に返却済みならALREADY_RETURNEDを返す。
	MarkReturned(ctx context.Context, loanID string, returnedAt time.Time) error

	// FindByID は指定IDの貸出記録を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Loan, error)

	// List は全貸出記録を新しい順に返す。
	List(ctx context.Context, page model.Page) ([]*model.Loan, error)

	// ListByUser は指定ユーザーの貸出記録を新しい順に返す。
	ListByUser(ctx context.Context, userID string, page model.Page) ([]*model.Loan, error)

	// ListActiveByUser は指定ユーザーのactiveな貸出記録を返す。
	ListActiveByUser(ctx context.Context, userID string) ([]*model.Loan, error)

	// Count は貸出記録の総数を返す。
	Count(ctx context.Context) (int, error)
}

// ReportRepository は貸出レポート用の集計クエリを提供する。
type ReportRepository interface {
	// LoanReport はフィルタ条件に一致する貸出記録を貸出日時の降順で返す。
	LoanReport(ctx context.Context, filter model.ReportFilter) ([]model.ReportRow, error)

	// FilterOptions はフィルタに指定可能な値の一覧を返す。
	FilterOptions(ctx context.Context) (*model.ReportFilterOptions, error)

	// PopularBooks は[from, to)の期間に多く貸し出された書籍と期間内の総貸出数を返す。
	PopularBooks(ctx context.Context, from, to time.Time, limit int) ([]model.PopularBook, int, error)
}

// Tx はトランザクション内で利用するリポジトリ群。
type Tx interface {
	Users() UserFinder
	Ledger() InventoryLedger
	Loans() LoanRepository
}

// TxManager はスコープ付きトランザクションを提供する。
// fnがnilを返せばコミットし、エラーまたはpanicの場合はロールバックする。
// いずれの場合もトランザクションは必ず解放される。
type TxManager interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
