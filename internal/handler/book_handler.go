package handler

import (
	"context"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/perpus/internal/book"
	"github.com/hitoshi/perpus/internal/catalog"
	"github.com/hitoshi/perpus/internal/model"
)

// BookServiceInterface は書籍ハンドラーが必要とするサービスインターフェース。
type BookServiceInterface interface {
	Create(ctx context.Context, in book.Input) (*model.Book, error)
	Get(ctx context.Context, id string) (*model.Book, error)
	List(ctx context.Context, page model.Page) ([]*model.Book, int, error)
	Search(ctx context.Context, keyword string) ([]*model.Book, error)
	Update(ctx context.Context, id string, patch model.BookPatch) (*model.Book, error)
	Delete(ctx context.Context, id string) error
	AdjustStock(ctx context.Context, id string, quantity int) (int, error)
}

// CatalogImporter は外部カタログフィードからの一括登録インターフェース。
type CatalogImporter interface {
	Import(ctx context.Context, feedURL string, copies int) (*catalog.Result, error)
}

// BookHandler は書籍管理のHTTPハンドラー。
type BookHandler struct {
	service  BookServiceInterface
	importer CatalogImporter
}

// NewBookHandler はBookHandlerを生成する。
func NewBookHandler(service BookServiceInterface, importer CatalogImporter) *BookHandler {
	return &BookHandler{service: service, importer: importer}
}

// createBookRequest は書籍登録リクエストのボディ。
type createBookRequest struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	Stock  int    `json:"stock"`
	Year   int    `json:"year"`
}

// adjustStockRequest は在庫調整リクエストのボディ。
// 整数以外の値を400で弾くため、数値型で受けてから検査する。
type adjustStockRequest struct {
	Quantity any `json:"quantity"`
}

// stockResponse は在庫調整後のレスポンス。
type stockResponse struct {
	BookID string `json:"book_id"`
	Stock  int    `json:"stock"`
}

// importRequest はカタログ取り込みリクエストのボディ。
type importRequest struct {
	URL    string `json:"url"`
	Copies int    `json:"copies"`
}

// List は書籍一覧を返す。
// GET /books?page=&per_page=
func (h *BookHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	books, total, err := h.service.List(r.Context(), page)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(books, page, total))
}

// Search はタイトル・著者で書籍を検索する。
// GET /books/search?q=
func (h *BookHandler) Search(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if books == nil {
		books = []*model.Book{}
	}
	writeJSON(w, http.StatusOK, books)
}

// Get は書籍詳細を返す。
// GET /books/{id}
func (h *BookHandler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Create は書籍を登録する。
// POST /books
func (h *BookHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createBookRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	b, err := h.service.Create(r.Context(), book.Input{
		Title:  req.Title,
		Author: req.Author,
		Stock:  req.Stock,
		Year:   req.Year,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// Update は書籍を部分更新する。指定されたフィールドのみ変更する。
// PUT /books/{id}
func (h *BookHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch model.BookPatch
	if !decodeJSON(w, r, &patch) {
		return
	}

	b, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Delete は書籍を削除する。
// DELETE /books/{id}
func (h *BookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdjustStock は在庫数を増減する。
// PATCH /books/{id}/stock
func (h *BookHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	quantity, ok := integralNumber(req.Quantity)
	if !ok {
		handleServiceError(w, model.NewInvalidValueError("quantity", "整数で指定してください"))
		return
	}

	id := chi.URLParam(r, "id")
	stock, err := h.service.AdjustStock(r.Context(), id, quantity)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stockResponse{BookID: id, Stock: stock})
}

// Import は外部カタログフィードから書籍を一括登録する。
// POST /books/import
func (h *BookHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.URL == "" {
		handleServiceError(w, model.NewInvalidURLError("URLが空です"))
		return
	}

	result, err := h.importer.Import(r.Context(), req.URL, req.Copies)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// integralNumber はJSON数値が整数であればintとして返す。
func integralNumber(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}
