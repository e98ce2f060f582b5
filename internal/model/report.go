package model

import "time"

// ReportFilter は貸出レポートの絞り込み条件。ゼロ値の項目は条件に含めない。
type ReportFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	Status    LoanStatus
	BookTitle string
	Username  string
}

// ReportRow は貸出レポートの1行。
type ReportRow struct {
	LoanID       string     `json:"loan_id" db:"loan_id"`
	Username     string     `json:"username" db:"username"`
	BookTitle    string     `json:"book_title" db:"book_title"`
	Author       string     `json:"author" db:"author"`
	BorrowedAt   time.Time  `json:"borrowed_at" db:"borrowed_at"`
	ReturnedAt   *time.Time `json:"returned_at,omitempty" db:"returned_at"`
	Status       LoanStatus `json:"status" db:"status"`
	DurationDays int        `json:"duration_days" db:"duration_days"`
}

// ReportFilterOptions はレポート画面で選択可能なフィルタ値。
type ReportFilterOptions struct {
	Statuses  []LoanStatus `json:"statuses"`
	Titles    []string     `json:"titles"`
	Usernames []string     `json:"usernames"`
}

// PopularBook は年間人気書籍ランキングの1行。
type PopularBook struct {
	BookID          string    `json:"book_id" db:"book_id"`
	Title           string    `json:"title" db:"title"`
	Author          string    `json:"author" db:"author"`
	LoanCount       int       `json:"loan_count" db:"loan_count"`
	AvgDurationDays float64   `json:"avg_duration_days" db:"avg_duration_days"`
	LastBorrowedAt  time.Time `json:"last_borrowed_at" db:"last_borrowed_at"`
	Percentage      float64   `json:"percentage" db:"-"`
}
