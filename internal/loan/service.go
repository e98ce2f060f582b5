// Package loan は貸出・返却の状態遷移を在庫と一貫させて実行する。
package loan

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/perpus/internal/events"
	"github.com/hitoshi/perpus/internal/metrics"
	"github.com/hitoshi/perpus/internal/model"
	"github.com/hitoshi/perpus/internal/repository"
)

const (
	maxPageSize    = 100
	publishTimeout = 3 * time.Second
)

// Config は貸出サービスの設定。
type Config struct {
	// TxTimeout は1回の状態遷移に許す最大時間。呼び出し元のctxの期限がより短ければそちらが優先される。
	TxTimeout       time.Duration
	DefaultPageSize int
}

// Service は貸出と返却を1つのトランザクションとして実行する。
// 接続はコンストラクタで受け取ったTxManagerを通してのみ扱う。
type Service struct {
	txm       repository.TxManager
	publisher events.Publisher
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	cfg       Config

	now   func() time.Time
	newID func() string
}

// NewService はServiceの新しいインスタンスを生成する。
// publisherとcollectorがnilの場合は何もしない実装を使う。
func NewService(
	txm repository.TxManager,
	publisher events.Publisher,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if collector == nil {
		collector = metrics.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 5 * time.Second
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 10
	}
	return &Service{
		txm:       txm,
		publisher: publisher,
		metrics:   collector,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Borrow はuserIDのユーザーにbookIDの書籍を1冊貸し出す。
//
// 検証順はユーザー存在、書籍存在、在庫、重複貸出。在庫の減算と貸出記録の作成は
// 同一トランザクションで行い、どちらかが失敗すれば両方とも取り消される。
func (s *Service) Borrow(ctx context.Context, userID, bookID string) (*model.Loan, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
	defer cancel()

	var loan *model.Loan
	err := s.txm.WithinTx(ctx, func(tx repository.Tx) error {
		user, err := tx.Users().FindByID(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return model.NewUserNotFoundError(userID)
		}

		stock, err := tx.Ledger().Stock(ctx, bookID)
		if err != nil {
			return err
		}
		if stock < 1 {
			return model.NewOutOfStockError(bookID)
		}

		active, err := tx.Loans().HasActiveLoan(ctx, userID, bookID)
		if err != nil {
			return err
		}
		if active {
			return model.NewAlreadyBorrowedError(bookID)
		}

		// 並行する貸出との競合は条件付き減算と部分ユニークインデックスで検出される
		if err := tx.Ledger().Decrement(ctx, bookID); err != nil {
			return err
		}

		l := &model.Loan{
			ID:         s.newID(),
			UserID:     userID,
			BookID:     bookID,
			BorrowedAt: s.now(),
			Status:     model.LoanStatusActive,
			Username:   user.Username,
		}
		if err := tx.Loans().Create(ctx, l); err != nil {
			return err
		}
		loan = l
		return nil
	})
	s.metrics.RecordLoanTxDuration("borrow", time.Since(start))

	if err != nil {
		return nil, s.fail(ctx, "borrow", err,
			slog.String("user_id", userID),
			slog.String("book_id", bookID),
		)
	}

	s.metrics.RecordBorrow()
	s.logger.Info("貸出を記録しました",
		slog.String("loan_id", loan.ID),
		slog.String("user_id", userID),
		slog.String("book_id", bookID),
	)
	s.publish(ctx, events.LoanBorrowed, loan, loan.BorrowedAt)
	return loan, nil
}

// BorrowAs はactorとして貸出を行う。
// targetUserIDが空ならactor自身への貸出。他人への貸出は管理者のみ許可する。
func (s *Service) BorrowAs(ctx context.Context, actor model.Actor, targetUserID, bookID string) (*model.Loan, error) {
	if bookID == "" {
		return nil, model.NewInvalidValueError("book_id", "必須項目です")
	}
	if targetUserID == "" {
		targetUserID = actor.UserID
	}
	if !actor.CanAccessUser(targetUserID) {
		s.metrics.RecordLoanRejected(model.ErrCodeForbidden)
		return nil, model.NewForbiddenError("他のユーザーの代理で貸出できるのは管理者のみです。")
	}
	return s.Borrow(ctx, targetUserID, bookID)
}

// Return は貸出を返却済みにし、在庫を1冊戻す。
// 状態の遷移と在庫の加算は同一トランザクションで行う。
func (s *Service) Return(ctx context.Context, loanID string) (*model.Loan, error) {
	return s.returnLoan(ctx, loanID, nil)
}

// ReturnAs はactorとして返却を行う。本人の貸出か管理者のみ返却できる。
func (s *Service) ReturnAs(ctx context.Context, actor model.Actor, loanID string) (*model.Loan, error) {
	return s.returnLoan(ctx, loanID, func(l *model.Loan) error {
		if !actor.CanAccessUser(l.UserID) {
			return model.NewForbiddenError("この貸出を返却する権限がありません。")
		}
		return nil
	})
}

func (s *Service) returnLoan(ctx context.Context, loanID string, authorize func(*model.Loan) error) (*model.Loan, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
	defer cancel()

	var loan *model.Loan
	err := s.txm.WithinTx(ctx, func(tx repository.Tx) error {
		l, err := tx.Loans().FindByID(ctx, loanID)
		if err != nil {
			return err
		}
		if l == nil {
			return model.NewLoanNotFoundError(loanID)
		}
		if authorize != nil {
			if err := authorize(l); err != nil {
				return err
			}
		}
		if !l.IsActive() {
			return model.NewAlreadyReturnedError(loanID)
		}

		// 時計の巻き戻りがあっても返却日時が貸出日時より前にならないようにする
		returnedAt := s.now()
		if returnedAt.Before(l.BorrowedAt) {
			returnedAt = l.BorrowedAt
		}

		// 同じ貸出への並行返却は条件付き更新で1件だけが成功する
		if err := tx.Loans().MarkReturned(ctx, loanID, returnedAt); err != nil {
			return err
		}
		if err := tx.Ledger().Increment(ctx, l.BookID); err != nil {
			return err
		}

		l.Status = model.LoanStatusReturned
		l.ReturnedAt = &returnedAt
		loan = l
		return nil
	})
	s.metrics.RecordLoanTxDuration("return", time.Since(start))

	if err != nil {
		return nil, s.fail(ctx, "return", err, slog.String("loan_id", loanID))
	}

	s.metrics.RecordReturn()
	s.logger.Info("返却を記録しました",
		slog.String("loan_id", loan.ID),
		slog.String("user_id", loan.UserID),
		slog.String("book_id", loan.BookID),
	)
	s.publish(ctx, events.LoanReturned, loan, *loan.ReturnedAt)
	return loan, nil
}

// fail はエラーを分類して返す。
// ドメインエラーはそのまま、それ以外はStorageFailureに包んで詳細を隠す。
func (s *Service) fail(ctx context.Context, op string, err error, attrs ...slog.Attr) error {
	attrs = append(attrs, slog.String("op", op))

	var apiErr *model.APIError
	if errors.As(err, &apiErr) && apiErr.Code != model.ErrCodeStorageFailure {
		s.metrics.RecordLoanRejected(apiErr.Code)
		s.logger.LogAttrs(ctx, slog.LevelInfo, "貸出処理を拒否しました",
			append(attrs, slog.String("code", apiErr.Code))...)
		return err
	}

	s.metrics.RecordLoanRejected(model.ErrCodeStorageFailure)
	s.logger.LogAttrs(ctx, slog.LevelError, "貸出処理に失敗しました",
		append(attrs, slog.String("error", err.Error()))...)
	if apiErr != nil {
		return err
	}
	return model.NewStorageFailureError(err)
}

// publish はコミット後にイベントを発行する。失敗しても遷移は取り消さない。
func (s *Service) publish(ctx context.Context, typ events.EventType, loan *model.Loan, at time.Time) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := s.publisher.Publish(ctx, events.LoanEvent{
		Type:       typ,
		LoanID:     loan.ID,
		UserID:     loan.UserID,
		BookID:     loan.BookID,
		OccurredAt: at,
	})
	if err != nil {
		s.logger.Warn("貸出イベントの発行に失敗しました",
			slog.String("type", string(typ)),
			slog.String("loan_id", loan.ID),
			slog.String("error", err.Error()),
		)
	}
}

// Get は貸出記録を1件取得する。本人の貸出か管理者のみ参照できる。
func (s *Service) Get(ctx context.Context, actor model.Actor, loanID string) (*model.Loan, error) {
	var loan *model.Loan
	err := s.read(ctx, func(tx repository.Tx) error {
		l, err := tx.Loans().FindByID(ctx, loanID)
		if err != nil {
			return err
		}
		if l == nil {
			return model.NewLoanNotFoundError(loanID)
		}
		loan = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !actor.CanAccessUser(loan.UserID) {
		return nil, model.NewForbiddenError("この貸出記録を参照する権限がありません。")
	}
	return loan, nil
}

// List は全貸出記録と総件数を返す。管理画面向け。
func (s *Service) List(ctx context.Context, actor model.Actor, page model.Page) ([]*model.Loan, int, error) {
	if !actor.IsAdmin() {
		return nil, 0, model.NewForbiddenError("全貸出記録の参照は管理者のみ可能です。")
	}
	page = s.normalizePage(page)

	var (
		loans []*model.Loan
		total int
	)
	err := s.read(ctx, func(tx repository.Tx) error {
		var err error
		if loans, err = tx.Loans().List(ctx, page); err != nil {
			return err
		}
		total, err = tx.Loans().Count(ctx)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return loans, total, nil
}

// ListByUser は指定ユーザーの貸出履歴を返す。
func (s *Service) ListByUser(ctx context.Context, actor model.Actor, userID string, page model.Page) ([]*model.Loan, error) {
	if !actor.CanAccessUser(userID) {
		return nil, model.NewForbiddenError("他のユーザーの貸出履歴は参照できません。")
	}
	page = s.normalizePage(page)

	var loans []*model.Loan
	err := s.read(ctx, func(tx repository.Tx) error {
		var err error
		loans, err = tx.Loans().ListByUser(ctx, userID, page)
		return err
	})
	return loans, err
}

// ListActiveByUser は指定ユーザーが現在借りている貸出記録を返す。
func (s *Service) ListActiveByUser(ctx context.Context, actor model.Actor, userID string) ([]*model.Loan, error) {
	if !actor.CanAccessUser(userID) {
		return nil, model.NewForbiddenError("他のユーザーの貸出状況は参照できません。")
	}

	var loans []*model.Loan
	err := s.read(ctx, func(tx repository.Tx) error {
		var err error
		loans, err = tx.Loans().ListActiveByUser(ctx, userID)
		return err
	})
	return loans, err
}

// IsBorrowing はユーザーが書籍を現在借りているかを返す。
func (s *Service) IsBorrowing(ctx context.Context, userID, bookID string) (bool, error) {
	var active bool
	err := s.read(ctx, func(tx repository.Tx) error {
		var err error
		active, err = tx.Loans().HasActiveLoan(ctx, userID, bookID)
		return err
	})
	return active, err
}

func (s *Service) read(ctx context.Context, fn func(tx repository.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.TxTimeout)
	defer cancel()

	err := s.txm.WithinTx(ctx, fn)
	if err == nil {
		return nil
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	s.logger.Error("貸出記録の取得に失敗しました", slog.String("error", err.Error()))
	return model.NewStorageFailureError(err)
}

func (s *Service) normalizePage(p model.Page) model.Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.PerPage < 1 {
		p.PerPage = s.cfg.DefaultPageSize
	}
	if p.PerPage > maxPageSize {
		p.PerPage = maxPageSize
	}
	return p
}
