package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/perpus/internal/book"
	"github.com/hitoshi/perpus/internal/catalog"
	"github.com/hitoshi/perpus/internal/middleware"
	"github.com/hitoshi/perpus/internal/model"
	"github.com/hitoshi/perpus/internal/report"
	"github.com/hitoshi/perpus/internal/user"
)

// --- モック定義 ---

type mockAuthService struct {
	loginFn          func(ctx context.Context, username, password string) (*model.Session, *model.User, error)
	logoutFn         func(ctx context.Context, sessionID string) error
	getCurrentUserFn func(ctx context.Context, sessionID string) (*model.User, error)
}

func (m *mockAuthService) Login(ctx context.Context, username, password string) (*model.Session, *model.User, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, username, password)
	}
	return nil, nil, model.NewUnauthorizedError()
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, sessionID)
	}
	return nil, model.NewUnauthorizedError()
}

type mockLoanService struct {
	borrowAsFn         func(ctx context.Context, actor model.Actor, targetUserID, bookID string) (*model.Loan, error)
	returnAsFn         func(ctx context.Context, actor model.Actor, loanID string) (*model.Loan, error)
	getFn              func(ctx context.Context, actor model.Actor, loanID string) (*model.Loan, error)
	listFn             func(ctx context.Context, actor model.Actor, page model.Page) ([]*model.Loan, int, error)
	listByUserFn       func(ctx context.Context, actor model.Actor, userID string, page model.Page) ([]*model.Loan, error)
	listActiveByUserFn func(ctx context.Context, actor model.Actor, userID string) ([]*model.Loan, error)
	isBorrowingFn      func(ctx context.Context, userID, bookID string) (bool, error)
}

func (m *mockLoanService) BorrowAs(ctx context.Context, actor model.Actor, targetUserID, bookID string) (*model.Loan, error) {
	if m.borrowAsFn != nil {
		return m.borrowAsFn(ctx, actor, targetUserID, bookID)
	}
	return nil, nil
}

func (m *mockLoanService) ReturnAs(ctx context.Context, actor model.Actor, loanID string) (*model.Loan, error) {
	if m.returnAsFn != nil {
		return m.returnAsFn(ctx, actor, loanID)
	}
	return nil, nil
}

func (m *mockLoanService) Get(ctx context.Context, actor model.Actor, loanID string) (*model.Loan, error) {
	if m.getFn != nil {
		return m.getFn(ctx, actor, loanID)
	}
	return nil, model.NewLoanNotFoundError(loanID)
}

func (m *mockLoanService) List(ctx context.Context, actor model.Actor, page model.Page) ([]*model.Loan, int, error) {
	if m.listFn != nil {
		return m.listFn(ctx, actor, page)
	}
	return nil, 0, nil
}

func (m *mockLoanService) ListByUser(ctx context.Context, actor model.Actor, userID string, page model.Page) ([]*model.Loan, error) {
	if m.listByUserFn != nil {
		return m.listByUserFn(ctx, actor, userID, page)
	}
	return nil, nil
}

func (m *mockLoanService) ListActiveByUser(ctx context.Context, actor model.Actor, userID string) ([]*model.Loan, error) {
	if m.listActiveByUserFn != nil {
		return m.listActiveByUserFn(ctx, actor, userID)
	}
	return nil, nil
}

func (m *mockLoanService) IsBorrowing(ctx context.Context, userID, bookID string) (bool, error) {
	if m.isBorrowingFn != nil {
		return m.isBorrowingFn(ctx, userID, bookID)
	}
	return false, nil
}

type mockBookService struct {
	createFn      func(ctx context.Context, in book.Input) (*model.Book, error)
	getFn         func(ctx context.Context, id string) (*model.Book, error)
	listFn        func(ctx context.Context, page model.Page) ([]*model.Book, int, error)
	searchFn      func(ctx context.Context, keyword string) ([]*model.Book, error)
	updateFn      func(ctx context.Context, id string, patch model.BookPatch) (*model.Book, error)
	deleteFn      func(ctx context.Context, id string) error
	adjustStockFn func(ctx context.Context, id string, quantity int) (int, error)
}

func (m *mockBookService) Create(ctx context.Context, in book.Input) (*model.Book, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return &model.Book{ID: "book-new", Title: in.Title, Author: in.Author, Stock: in.Stock, Year: in.Year}, nil
}

func (m *mockBookService) Get(ctx context.Context, id string) (*model.Book, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, model.NewBookNotFoundError(id)
}

func (m *mockBookService) List(ctx context.Context, page model.Page) ([]*model.Book, int, error) {
	if m.listFn != nil {
		return m.listFn(ctx, page)
	}
	return nil, 0, nil
}

func (m *mockBookService) Search(ctx context.Context, keyword string) ([]*model.Book, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, keyword)
	}
	return nil, nil
}

func (m *mockBookService) Update(ctx context.Context, id string, patch model.BookPatch) (*model.Book, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, patch)
	}
	return nil, model.NewBookNotFoundError(id)
}

func (m *mockBookService) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockBookService) AdjustStock(ctx context.Context, id string, quantity int) (int, error) {
	if m.adjustStockFn != nil {
		return m.adjustStockFn(ctx, id, quantity)
	}
	return 0, nil
}

type mockImporter struct {
	importFn func(ctx context.Context, feedURL string, copies int) (*catalog.Result, error)
}

func (m *mockImporter) Import(ctx context.Context, feedURL string, copies int) (*catalog.Result, error) {
	if m.importFn != nil {
		return m.importFn(ctx, feedURL, copies)
	}
	return &catalog.Result{}, nil
}

type mockUserService struct {
	createFn func(ctx context.Context, in user.CreateInput) (*model.User, error)
	getFn    func(ctx context.Context, id string) (*model.User, error)
	listFn   func(ctx context.Context, page model.Page) ([]*model.User, error)
	searchFn func(ctx context.Context, keyword string) ([]*model.User, error)
	updateFn func(ctx context.Context, id string, in user.UpdateInput) (*model.User, error)
	deleteFn func(ctx context.Context, actor model.Actor, id string) error
}

func (m *mockUserService) Create(ctx context.Context, in user.CreateInput) (*model.User, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return &model.User{ID: "user-new", Username: in.Username, Role: in.Role}, nil
}

func (m *mockUserService) Get(ctx context.Context, id string) (*model.User, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return &model.User{ID: id, Username: "name-" + id, Role: model.RoleUser}, nil
}

func (m *mockUserService) List(ctx context.Context, page model.Page) ([]*model.User, error) {
	if m.listFn != nil {
		return m.listFn(ctx, page)
	}
	return nil, nil
}

func (m *mockUserService) Search(ctx context.Context, keyword string) ([]*model.User, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, keyword)
	}
	return nil, nil
}

func (m *mockUserService) Update(ctx context.Context, id string, in user.UpdateInput) (*model.User, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, in)
	}
	return &model.User{ID: id}, nil
}

func (m *mockUserService) Delete(ctx context.Context, actor model.Actor, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, actor, id)
	}
	return nil
}

type mockReportService struct {
	generateFn      func(ctx context.Context, filter model.ReportFilter) ([]model.ReportRow, error)
	filterOptionsFn func(ctx context.Context) (*model.ReportFilterOptions, error)
	popularBooksFn  func(ctx context.Context, year, limit int) (*report.PopularBooksReport, error)
}

func (m *mockReportService) Generate(ctx context.Context, filter model.ReportFilter) ([]model.ReportRow, error) {
	if m.generateFn != nil {
		return m.generateFn(ctx, filter)
	}
	return []model.ReportRow{}, nil
}

func (m *mockReportService) FilterOptions(ctx context.Context) (*model.ReportFilterOptions, error) {
	if m.filterOptionsFn != nil {
		return m.filterOptionsFn(ctx)
	}
	return &model.ReportFilterOptions{}, nil
}

func (m *mockReportService) PopularBooks(ctx context.Context, year, limit int) (*report.PopularBooksReport, error) {
	if m.popularBooksFn != nil {
		return m.popularBooksFn(ctx, year, limit)
	}
	return &report.PopularBooksReport{Year: year, Books: []model.PopularBook{}}, nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error { return m.err }

// --- テストヘルパー ---

var (
	testAdmin = model.Actor{UserID: "admin-1", Role: model.RoleAdmin}
	testUser  = model.Actor{UserID: "user-1", Role: model.RoleUser}
	testOther = model.Actor{UserID: "user-2", Role: model.RoleUser}
)

// asActor はセッションミドルウェアを通過した状態のリクエストを返す。
func asActor(req *http.Request, actor model.Actor) *http.Request {
	return req.WithContext(middleware.ContextWithActor(req.Context(), actor))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response body: %v (raw: %s)", err, w.Body.String())
	}
	return v
}

func assertErrorCode(t *testing.T, w *httptest.ResponseRecorder, wantStatus int, wantCode string) {
	t.Helper()
	if w.Code != wantStatus {
		t.Errorf("status = %d, want %d (body: %s)", w.Code, wantStatus, w.Body.String())
	}
	body := decodeBody[middleware.ErrorResponseBody](t, w)
	if body.Code != wantCode {
		t.Errorf("code = %q, want %q", body.Code, wantCode)
	}
}

// withURLParam はchiのURLパラメータを設定したリクエストを返す。
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

type mockSessionFinder struct {
	sessions map[string]*model.Session
}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return m.sessions[id], nil
}
