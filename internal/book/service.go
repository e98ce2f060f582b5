// Package book は書籍マスタ管理のドメインロジックを提供する。
package book

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/perpus/internal/model"
	"github.com/hitoshi/perpus/internal/repository"
	"github.com/hitoshi/perpus/internal/security"
)

const (
	titleMinLen   = 2
	titleMaxLen   = 200
	authorMaxLen  = 100
	keywordMinLen = 2
	minYear       = 1900
	maxPageSize   = 100
)

// Input は書籍登録時の入力値。
type Input struct {
	Title  string
	Author string
	Stock  int
	Year   int
}

// Service は書籍管理のサービス層。
// 在庫数の増減はTxManager経由でInventoryLedgerに委ねる。
type Service struct {
	repo            repository.BookRepository
	txm             repository.TxManager
	sanitizer       security.TextSanitizer
	logger          *slog.Logger
	defaultPageSize int
	now             func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.BookRepository,
	txm repository.TxManager,
	sanitizer security.TextSanitizer,
	logger *slog.Logger,
	defaultPageSize int,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultPageSize <= 0 {
		defaultPageSize = 10
	}
	return &Service{
		repo:            repo,
		txm:             txm,
		sanitizer:       sanitizer,
		logger:          logger,
		defaultPageSize: defaultPageSize,
		now:             time.Now,
	}
}

// Create は入力を検証して書籍を登録する。
func (s *Service) Create(ctx context.Context, in Input) (*model.Book, error) {
	in.Title = s.sanitizer.Clean(in.Title)
	in.Author = s.sanitizer.Clean(in.Author)

	if err := validateTitle(in.Title); err != nil {
		return nil, err
	}
	if err := validateAuthor(in.Author); err != nil {
		return nil, err
	}
	if err := validateStock(in.Stock); err != nil {
		return nil, err
	}
	if err := s.validateYear(in.Year); err != nil {
		return nil, err
	}

	b := &model.Book{
		ID:     uuid.NewString(),
		Title:  in.Title,
		Author: in.Author,
		Stock:  in.Stock,
		Year:   in.Year,
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("書籍の登録に失敗しました: %w", err)
	}

	s.logger.Info("書籍を登録しました", slog.String("book_id", b.ID), slog.Int("stock", b.Stock))
	return b, nil
}

// Get は書籍を1件取得する。
func (s *Service) Get(ctx context.Context, id string) (*model.Book, error) {
	b, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("書籍の取得に失敗しました: %w", err)
	}
	if b == nil {
		return nil, model.NewBookNotFoundError(id)
	}
	return b, nil
}

// List は書籍一覧と総件数を返す。
func (s *Service) List(ctx context.Context, page model.Page) ([]*model.Book, int, error) {
	if page.Number < 1 {
		page.Number = 1
	}
	if page.PerPage < 1 {
		page.PerPage = s.defaultPageSize
	}
	if page.PerPage > maxPageSize {
		page.PerPage = maxPageSize
	}

	books, err := s.repo.List(ctx, page)
	if err != nil {
		return nil, 0, fmt.Errorf("書籍一覧の取得に失敗しました: %w", err)
	}
	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("書籍数の取得に失敗しました: %w", err)
	}
	return books, total, nil
}

// Search はタイトルまたは著者名で書籍を検索する。キーワードは2文字以上。
func (s *Service) Search(ctx context.Context, keyword string) ([]*model.Book, error) {
	keyword = strings.TrimSpace(keyword)
	if utf8.RuneCountInString(keyword) < keywordMinLen {
		return nil, model.NewInvalidValueError("q", fmt.Sprintf("%d文字以上で入力してください", keywordMinLen))
	}
	books, err := s.repo.Search(ctx, keyword)
	if err != nil {
		return nil, fmt.Errorf("書籍の検索に失敗しました: %w", err)
	}
	return books, nil
}

// Update はpatchで指定されたフィールドのみを検証して更新する。
func (s *Service) Update(ctx context.Context, id string, patch model.BookPatch) (*model.Book, error) {
	if patch.IsEmpty() {
		return nil, model.NewInvalidValueError("update_data", "更新する項目がありません")
	}
	if patch.Title != nil {
		t := s.sanitizer.Clean(*patch.Title)
		if err := validateTitle(t); err != nil {
			return nil, err
		}
		patch.Title = &t
	}
	if patch.Author != nil {
		a := s.sanitizer.Clean(*patch.Author)
		if err := validateAuthor(a); err != nil {
			return nil, err
		}
		patch.Author = &a
	}
	if patch.Stock != nil {
		if err := validateStock(*patch.Stock); err != nil {
			return nil, err
		}
	}
	if patch.Year != nil {
		if err := s.validateYear(*patch.Year); err != nil {
			return nil, err
		}
	}

	b, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("書籍の更新に失敗しました: %w", err)
	}
	if b == nil {
		return nil, model.NewBookNotFoundError(id)
	}
	return b, nil
}

// Delete は書籍を削除する。貸出記録が残っている書籍は削除できない。
func (s *Service) Delete(ctx context.Context, id string) error {
	b, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("書籍の取得に失敗しました: %w", err)
	}
	if b == nil {
		return model.NewBookNotFoundError(id)
	}
	if err := s.repo.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("書籍の削除に失敗しました: %w", err)
	}
	s.logger.Info("書籍を削除しました", slog.String("book_id", id))
	return nil
}

// AdjustStock は在庫数をquantityだけ増減し、更新後の在庫数を返す。
// 結果が負になる調整はINVALID_VALUE（quantity）で拒否する。
func (s *Service) AdjustStock(ctx context.Context, id string, quantity int) (int, error) {
	if quantity == 0 {
		return 0, model.NewInvalidValueError("quantity", "0以外の整数を指定してください")
	}

	var stock int
	err := s.txm.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		stock, err = tx.Ledger().Adjust(ctx, id, quantity)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("在庫数の更新に失敗しました: %w", err)
	}

	s.logger.Info("在庫数を調整しました",
		slog.String("book_id", id),
		slog.Int("delta", quantity),
		slog.Int("stock", stock),
	)
	return stock, nil
}

func validateTitle(title string) error {
	n := utf8.RuneCountInString(title)
	if n < titleMinLen || n > titleMaxLen {
		return model.NewInvalidValueError("title", fmt.Sprintf("%d〜%d文字で入力してください", titleMinLen, titleMaxLen))
	}
	return nil
}

func validateAuthor(author string) error {
	if author == "" {
		return model.NewInvalidValueError("author", "必須項目です")
	}
	if utf8.RuneCountInString(author) > authorMaxLen {
		return model.NewInvalidValueError("author", fmt.Sprintf("%d文字以内で入力してください", authorMaxLen))
	}
	return nil
}

func validateStock(stock int) error {
	if stock < 0 {
		return model.NewInvalidValueError("stock", "0以上の整数を指定してください")
	}
	return nil
}

// validateYear は出版年が (1900, 今年+1] の範囲にあるかを検証する。
func (s *Service) validateYear(year int) error {
	maxYear := s.now().Year() + 1
	if year <= minYear || year > maxYear {
		return model.NewInvalidValueError("year", fmt.Sprintf("%dより後、%d以前の年を指定してください", minYear, maxYear))
	}
	return nil
}
