// Package model はドメインモデルを定義する。
package model

import "time"

// LoanStatus は貸出記録の状態。active から returned への一方向のみ遷移する。
type LoanStatus string

const (
	LoanStatusActive   LoanStatus = "active"
	LoanStatusReturned LoanStatus = "returned"
)

// Loan は1件の貸出記録を表す。
// ReturnedAt は Status が returned のときのみ設定される。
type Loan struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	BookID     string     `json:"book_id"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	Status     LoanStatus `json:"status"`

	// 一覧取得時のみ結合して埋める表示用フィールド
	BookTitle string `json:"book_title,omitempty"`
	Username  string `json:"username,omitempty"`
}

// IsActive は貸出中かどうかを返す。
func (l *Loan) IsActive() bool {
	return l.Status == LoanStatusActive
}
