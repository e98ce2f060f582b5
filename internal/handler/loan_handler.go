package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/perpus/internal/model"
)

// LoanServiceInterface は貸出ハンドラーが必要とするサービスインターフェース。
type LoanServiceInterface interface {
	// BorrowAs はactorの権限で貸出を行う。targetUserIDが空ならactor自身の貸出。
	BorrowAs(ctx context.Context, actor model.Actor, targetUserID, bookID string) (*model.Loan, error)
	// ReturnAs はactorの権限で返却を行う。
	ReturnAs(ctx context.Context, actor model.Actor, loanID string) (*model.Loan, error)
	Get(ctx context.Context, actor model.Actor, loanID string) (*model.Loan, error)
	List(ctx context.Context, actor model.Actor, page model.Page) ([]*model.Loan, int, error)
	ListByUser(ctx context.Context, actor model.Actor, userID string, page model.Page) ([]*model.Loan, error)
	ListActiveByUser(ctx context.Context, actor model.Actor, userID string) ([]*model.Loan, error)
	IsBorrowing(ctx context.Context, userID, bookID string) (bool, error)
}

// LoanHandler は貸出・返却のHTTPハンドラー。
type LoanHandler struct {
	service LoanServiceInterface
}

// NewLoanHandler はLoanHandlerを生成する。
func NewLoanHandler(service LoanServiceInterface) *LoanHandler {
	return &LoanHandler{service: service}
}

// borrowRequest は貸出リクエストのボディ。user_idは管理者が代理で貸し出す場合のみ指定する。
type borrowRequest struct {
	BookID string `json:"book_id"`
	UserID string `json:"user_id,omitempty"`
}

// borrowingStatusResponse は貸出状況確認のレスポンス。
type borrowingStatusResponse struct {
	BookID    string `json:"book_id"`
	Borrowing bool   `json:"borrowing"`
}

// Borrow は書籍を貸し出す。
// POST /loans
func (h *LoanHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req borrowRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	loan, err := h.service.BorrowAs(r.Context(), actor, req.UserID, req.BookID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

// Return は貸出を返却する。
// POST /loans/{id}/return
func (h *LoanHandler) Return(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	loan, err := h.service.ReturnAs(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// Get は貸出記録を取得する。
// GET /loans/{id}
func (h *LoanHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	loan, err := h.service.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// List は全貸出記録を返す（管理者のみ）。
// GET /loans?page=&per_page=
func (h *LoanHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	page, err := parsePage(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	loans, total, err := h.service.List(r.Context(), actor, page)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(loans, page, total))
}

// ListByUser は指定ユーザーの貸出履歴を返す。
// GET /users/{id}/loans
func (h *LoanHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	page, err := parsePage(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	loans, err := h.service.ListByUser(r.Context(), actor, chi.URLParam(r, "id"), page)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(loans, page, 0))
}

// ListActiveByUser は指定ユーザーの貸出中の記録を返す。
// GET /users/{id}/loans/active
func (h *LoanHandler) ListActiveByUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	loans, err := h.service.ListActiveByUser(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if loans == nil {
		loans = []*model.Loan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

// Status は操作主体が指定書籍を借りているかを返す。
// GET /loans/status?book_id=
func (h *LoanHandler) Status(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	bookID := r.URL.Query().Get("book_id")
	if bookID == "" {
		handleServiceError(w, model.NewInvalidValueError("book_id", "書籍IDを指定してください"))
		return
	}

	borrowing, err := h.service.IsBorrowing(r.Context(), actor.UserID, bookID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, borrowingStatusResponse{BookID: bookID, Borrowing: borrowing})
}
