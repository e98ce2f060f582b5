package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"

	"github.com/hitoshi/perpus/internal/model"
)

const dialectPostgres = "postgres"

var bookColumns = []any{"id", "title", "author", "stock", "year", "created_at", "updated_at"}

// PostgresBookRepo はPostgreSQLを使用した書籍リポジトリ。
// 条件が可変になる更新と検索はgoquで組み立てる。
type PostgresBookRepo struct {
	db DBTX
}

// NewPostgresBookRepo はPostgresBookRepoを生成する。
func NewPostgresBookRepo(db DBTX) *PostgresBookRepo {
	return &PostgresBookRepo{db: db}
}

func scanBook(row rowScanner) (*model.Book, error) {
	book := &model.Book{}
	err := row.Scan(&book.ID, &book.Title, &book.Author, &book.Stock, &book.Year, &book.CreatedAt, &book.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return book, nil
}

// FindByID は指定IDの書籍を取得する。見つからない場合はnilを返す。
func (r *PostgresBookRepo) FindByID(ctx context.Context, id string) (*model.Book, error) {
	if !validID(id) {
		return nil, nil
	}

	book, err := scanBook(r.db.QueryRowContext(ctx,
		`SELECT id, title, author, stock, year, created_at, updated_at FROM books WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find book by ID: %w", err)
	}
	return book, nil
}

// Create は書籍を作成する。
func (r *PostgresBookRepo) Create(ctx context.Context, book *model.Book) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO books (id, title, author, stock, year, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		book.ID, book.Title, book.Author, book.Stock, book.Year, book.CreatedAt, book.UpdatedAt,
	)
	if isCheckViolation(err) {
		return model.NewInvalidValueError("stock", "在庫数は0以上で指定してください")
	}
	if err != nil {
		return fmt.Errorf("failed to insert book: %w", err)
	}
	return nil
}

// Update はpatchで指定されたフィールドのみ更新する。見つからない場合はnilを返す。
func (r *PostgresBookRepo) Update(ctx context.Context, id string, patch model.BookPatch) (*model.Book, error) {
	if !validID(id) {
		return nil, nil
	}

	record := goqu.Record{"updated_at": goqu.L("now()")}
	if patch.Title != nil {
		record["title"] = *patch.Title
	}
	if patch.Author != nil {
		record["author"] = *patch.Author
	}
	if patch.Stock != nil {
		record["stock"] = *patch.Stock
	}
	if patch.Year != nil {
		record["year"] = *patch.Year
	}

	query, args, err := goqu.Dialect(dialectPostgres).
		Update("books").
		Set(record).
		Where(goqu.C("id").Eq(id)).
		Returning(bookColumns...).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build book update: %w", err)
	}

	book, err := scanBook(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if isCheckViolation(err) {
		return nil, model.NewInvalidValueError("stock", "在庫数は0以上で指定してください")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update book: %w", err)
	}
	return book, nil
}

// DeleteByID は指定IDの書籍を削除する。貸出記録が残っている書籍は削除できない。
func (r *PostgresBookRepo) DeleteByID(ctx context.Context, id string) error {
	if !validID(id) {
		return model.NewBookNotFoundError(id)
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id)
	if isForeignKeyViolation(err) {
		return model.NewInvalidValueError("id", "貸出記録がある書籍は削除できません")
	}
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.NewBookNotFoundError(id)
	}
	return nil
}

// List は書籍一覧をタイトル順に返す。
func (r *PostgresBookRepo) List(ctx context.Context, page model.Page) ([]*model.Book, error) {
	ds := goqu.Dialect(dialectPostgres).
		From("books").
		Select(bookColumns...).
		Order(goqu.C("title").Asc(), goqu.C("id").Asc()).
		Limit(uint(page.PerPage)).
		Offset(uint(page.Offset()))
	return r.selectBooks(ctx, ds)
}

// Search はタイトルまたは著者の部分一致（大文字小文字を区別しない）で検索する。
func (r *PostgresBookRepo) Search(ctx context.Context, keyword string) ([]*model.Book, error) {
	pattern := likePattern(keyword)
	ds := goqu.Dialect(dialectPostgres).
		From("books").
		Select(bookColumns...).
		Where(goqu.Or(
			goqu.C("title").ILike(pattern),
			goqu.C("author").ILike(pattern),
		)).
		Order(goqu.C("title").Asc())
	return r.selectBooks(ctx, ds)
}

// Count は書籍の総数を返す。
func (r *PostgresBookRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM books`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count books: %w", err)
	}
	return count, nil
}

func (r *PostgresBookRepo) selectBooks(ctx context.Context, ds *goqu.SelectDataset) ([]*model.Book, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("failed to build book query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer rows.Close()

	var books []*model.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate books: %w", err)
	}
	return books, nil
}

// compile-time interface check
var _ BookRepository = (*PostgresBookRepo)(nil)
