// Package memstore はプロセス内メモリ上のTxManager実装を提供する。
// 条件付き更新を持たないストアの代替として、トランザクション全体を相互排他で直列化し、
// 失敗時はスナップショットへ巻き戻す。テストとローカル検証で使う。
package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/hitoshi/perpus/internal/model"
	"github.com/hitoshi/perpus/internal/repository"
)

type state struct {
	users map[string]model.User
	books map[string]model.Book
	loans map[string]model.Loan
	// 作成順。一覧の並び順を安定させる
	loanSeq []string
}

func (s *state) clone() *state {
	c := &state{
		users:   make(map[string]model.User, len(s.users)),
		books:   make(map[string]model.Book, len(s.books)),
		loans:   make(map[string]model.Loan, len(s.loans)),
		loanSeq: append([]string(nil), s.loanSeq...),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.books {
		c.books[k] = v
	}
	for k, v := range s.loans {
		if v.ReturnedAt != nil {
			t := *v.ReturnedAt
			v.ReturnedAt = &t
		}
		c.loans[k] = v
	}
	return c
}

// Store はメモリ上のユーザー・書籍・貸出記録を保持する。
type Store struct {
	// 容量1のチャネルをミューテックスとして使い、ctxのキャンセルで待機を打ち切れるようにする
	sem chan struct{}
	st  *state
}

// New は空のStoreを生成する。
func New() *Store {
	return &Store{
		sem: make(chan struct{}, 1),
		st: &state{
			users: make(map[string]model.User),
			books: make(map[string]model.Book),
			loans: make(map[string]model.Loan),
		},
	}
}

func (s *Store) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) unlock() {
	<-s.sem
}

// WithinTx はStore全体を排他してfnを実行する。
// fnがエラーを返すかpanicした場合、またはctxが期限切れになった場合は変更を破棄する。
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := s.lock(ctx); err != nil {
		return err
	}
	defer s.unlock()

	snapshot := s.st.clone()
	committed := false
	defer func() {
		if !committed {
			s.st = snapshot
		}
	}()

	if err := fn(&memTx{st: s.st}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	committed = true
	return nil
}

// AddUser はユーザーを登録する。テストデータ投入用。
func (s *Store) AddUser(user model.User) {
	_ = s.lock(context.Background())
	defer s.unlock()
	s.st.users[user.ID] = user
}

// AddBook は書籍を登録する。テストデータ投入用。
func (s *Store) AddBook(book model.Book) {
	_ = s.lock(context.Background())
	defer s.unlock()
	s.st.books[book.ID] = book
}

// Book は書籍の現在値を返す。
func (s *Store) Book(id string) (model.Book, bool) {
	_ = s.lock(context.Background())
	defer s.unlock()
	b, ok := s.st.books[id]
	return b, ok
}

// Loans は全貸出記録を作成順に返す。
func (s *Store) Loans() []model.Loan {
	_ = s.lock(context.Background())
	defer s.unlock()
	out := make([]model.Loan, 0, len(s.st.loanSeq))
	for _, id := range s.st.loanSeq {
		out = append(out, s.st.loans[id])
	}
	return out
}

type memTx struct {
	st *state
}

func (t *memTx) Users() repository.UserFinder       { return userFinder{t.st} }
func (t *memTx) Ledger() repository.InventoryLedger { return ledger{t.st} }
func (t *memTx) Loans() repository.LoanRepository   { return loans{t.st} }

type userFinder struct{ st *state }

func (u userFinder) FindByID(_ context.Context, id string) (*model.User, error) {
	user, ok := u.st.users[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

type ledger struct{ st *state }

func (l ledger) Stock(_ context.Context, bookID string) (int, error) {
	b, ok := l.st.books[bookID]
	if !ok {
		return 0, model.NewBookNotFoundError(bookID)
	}
	return b.Stock, nil
}

func (l ledger) Decrement(_ context.Context, bookID string) error {
	b, ok := l.st.books[bookID]
	if !ok {
		return model.NewBookNotFoundError(bookID)
	}
	if b.Stock < 1 {
		return model.NewOutOfStockError(bookID)
	}
	b.Stock--
	b.UpdatedAt = time.Now()
	l.st.books[bookID] = b
	return nil
}

func (l ledger) Increment(_ context.Context, bookID string) error {
	b, ok := l.st.books[bookID]
	if !ok {
		return model.NewBookNotFoundError(bookID)
	}
	b.Stock++
	b.UpdatedAt = time.Now()
	l.st.books[bookID] = b
	return nil
}

func (l ledger) Adjust(_ context.Context, bookID string, delta int) (int, error) {
	b, ok := l.st.books[bookID]
	if !ok {
		return 0, model.NewBookNotFoundError(bookID)
	}
	if b.Stock+delta < 0 {
		return 0, model.NewInvalidValueError("quantity", "在庫数が負になります")
	}
	b.Stock += delta
	b.UpdatedAt = time.Now()
	l.st.books[bookID] = b
	return b.Stock, nil
}

type loans struct{ st *state }

func (r loans) HasActiveLoan(_ context.Context, userID, bookID string) (bool, error) {
	for _, l := range r.st.loans {
		if l.UserID == userID && l.BookID == bookID && l.Status == model.LoanStatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (r loans) Create(ctx context.Context, loan *model.Loan) error {
	if _, ok := r.st.users[loan.UserID]; !ok {
		return model.NewUserNotFoundError(loan.UserID)
	}
	if _, ok := r.st.books[loan.BookID]; !ok {
		return model.NewBookNotFoundError(loan.BookID)
	}
	active, _ := r.HasActiveLoan(ctx, loan.UserID, loan.BookID)
	if active {
		return model.NewAlreadyBorrowedError(loan.BookID)
	}

	loan.Status = model.LoanStatusActive
	loan.ReturnedAt = nil
	r.st.loans[loan.ID] = *loan
	r.st.loanSeq = append(r.st.loanSeq, loan.ID)
	return nil
}

func (r loans) MarkReturned(_ context.Context, loanID string, returnedAt time.Time) error {
	l, ok := r.st.loans[loanID]
	if !ok {
		return model.NewLoanNotFoundError(loanID)
	}
	if l.Status != model.LoanStatusActive {
		return model.NewAlreadyReturnedError(loanID)
	}
	l.Status = model.LoanStatusReturned
	l.ReturnedAt = &returnedAt
	r.st.loans[loanID] = l
	return nil
}

func (r loans) FindByID(_ context.Context, id string) (*model.Loan, error) {
	l, ok := r.st.loans[id]
	if !ok {
		return nil, nil
	}
	return r.decorate(l), nil
}

func (r loans) List(_ context.Context, page model.Page) ([]*model.Loan, error) {
	return r.filter(page, func(model.Loan) bool { return true }), nil
}

func (r loans) ListByUser(_ context.Context, userID string, page model.Page) ([]*model.Loan, error) {
	return r.filter(page, func(l model.Loan) bool { return l.UserID == userID }), nil
}

func (r loans) ListActiveByUser(_ context.Context, userID string) ([]*model.Loan, error) {
	return r.filter(model.Page{}, func(l model.Loan) bool {
		return l.UserID == userID && l.Status == model.LoanStatusActive
	}), nil
}

func (r loans) Count(_ context.Context) (int, error) {
	return len(r.st.loans), nil
}

// filter は新しい順に並べた貸出記録を返す。PerPageが0ならページングしない。
func (r loans) filter(page model.Page, keep func(model.Loan) bool) []*model.Loan {
	var out []*model.Loan
	for i := len(r.st.loanSeq) - 1; i >= 0; i-- {
		l := r.st.loans[r.st.loanSeq[i]]
		if keep(l) {
			out = append(out, r.decorate(l))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].BorrowedAt.After(out[j].BorrowedAt) })

	if page.PerPage <= 0 {
		return out
	}
	start := page.Offset()
	if start >= len(out) {
		return nil
	}
	end := start + page.PerPage
	if end > len(out) {
		end = len(out)
	}
	return out[start:end]
}

func (r loans) decorate(l model.Loan) *model.Loan {
	if b, ok := r.st.books[l.BookID]; ok {
		l.BookTitle = b.Title
	}
	if u, ok := r.st.users[l.UserID]; ok {
		l.Username = u.Username
	}
	return &l
}

// compile-time interface check
var _ repository.TxManager = (*Store)(nil)
