package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"

	"github.com/hitoshi/perpus/internal/model"
)

// PostgresReportRepo は貸出レポートの集計クエリを実行する。
// 可変条件の組み立てにgoqu、構造体へのマッピングにsqlxを使う。
type PostgresReportRepo struct {
	db *sqlx.DB
}

// NewPostgresReportRepo はPostgresReportRepoを生成する。
func NewPostgresReportRepo(db *sqlx.DB) *PostgresReportRepo {
	return &PostgresReportRepo{db: db}
}

// LoanReport はフィルタ条件に一致する貸出記録を貸出日時の降順で返す。
func (r *PostgresReportRepo) LoanReport(ctx context.Context, filter model.ReportFilter) ([]model.ReportRow, error) {
	ds := goqu.Dialect(dialectPostgres).
		From(goqu.T("loans").As("l")).
		Join(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("l.user_id")))).
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.id").Eq(goqu.I("l.book_id")))).
		Select(
			goqu.I("l.id").As("loan_id"),
			goqu.I("u.username").As("username"),
			goqu.I("b.title").As("book_title"),
			goqu.I("b.author").As("author"),
			goqu.I("l.borrowed_at").As("borrowed_at"),
			goqu.I("l.returned_at").As("returned_at"),
			goqu.I("l.status").As("status"),
			goqu.L("EXTRACT(DAY FROM (COALESCE(l.returned_at, now()) - l.borrowed_at))::int").As("duration_days"),
		).
		Order(goqu.I("l.borrowed_at").Desc(), goqu.I("l.id").Asc())

	if filter.StartDate != nil {
		ds = ds.Where(goqu.I("l.borrowed_at").Gte(*filter.StartDate))
	}
	if filter.EndDate != nil {
		ds = ds.Where(goqu.I("l.borrowed_at").Lt(*filter.EndDate))
	}
	if filter.Status != "" {
		ds = ds.Where(goqu.I("l.status").Eq(string(filter.Status)))
	}
	if filter.BookTitle != "" {
		ds = ds.Where(goqu.I("b.title").ILike(likePattern(filter.BookTitle)))
	}
	if filter.Username != "" {
		ds = ds.Where(goqu.I("u.username").ILike(likePattern(filter.Username)))
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build loan report query: %w", err)
	}

	var rows []model.ReportRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query loan report: %w", err)
	}
	return rows, nil
}

// FilterOptions はフィルタに指定可能な値の一覧を返す。
func (r *PostgresReportRepo) FilterOptions(ctx context.Context) (*model.ReportFilterOptions, error) {
	opts := &model.ReportFilterOptions{}

	if err := r.db.SelectContext(ctx, &opts.Statuses,
		`SELECT DISTINCT status FROM loans ORDER BY status`); err != nil {
		return nil, fmt.Errorf("failed to query loan statuses: %w", err)
	}
	if err := r.db.SelectContext(ctx, &opts.Titles,
		`SELECT DISTINCT b.title FROM loans l JOIN books b ON b.id = l.book_id ORDER BY b.title`); err != nil {
		return nil, fmt.Errorf("failed to query book titles: %w", err)
	}
	if err := r.db.SelectContext(ctx, &opts.Usernames,
		`SELECT DISTINCT u.username FROM loans l JOIN users u ON u.id = l.user_id ORDER BY u.username`); err != nil {
		return nil, fmt.Errorf("failed to query usernames: %w", err)
	}

	return opts, nil
}

// PopularBooks は[from, to)の期間に多く貸し出された書籍と期間内の総貸出数を返す。
func (r *PostgresReportRepo) PopularBooks(ctx context.Context, from, to time.Time, limit int) ([]model.PopularBook, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total,
		`SELECT count(*) FROM loans WHERE borrowed_at >= $1 AND borrowed_at < $2`,
		from, to,
	); err != nil {
		return nil, 0, fmt.Errorf("failed to count loans in period: %w", err)
	}

	var books []model.PopularBook
	err := r.db.SelectContext(ctx, &books,
		`SELECT b.id AS book_id, b.title, b.author,
			count(l.id) AS loan_count,
			COALESCE(AVG(EXTRACT(EPOCH FROM (COALESCE(l.returned_at, now()) - l.borrowed_at)) / 86400), 0)::float8 AS avg_duration_days,
			MAX(l.borrowed_at) AS last_borrowed_at
		 FROM loans l
		 JOIN books b ON b.id = l.book_id
		 WHERE l.borrowed_at >= $1 AND l.borrowed_at < $2
		 GROUP BY b.id, b.title, b.author
		 ORDER BY loan_count DESC, last_borrowed_at DESC
		 LIMIT $3`,
		from, to, limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query popular books: %w", err)
	}
	return books, total, nil
}

// compile-time interface check
var _ ReportRepository = (*PostgresReportRepo)(nil)
