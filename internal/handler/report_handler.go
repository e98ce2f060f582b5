package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/perpus/internal/model"
	"github.com/hitoshi/perpus/internal/report"
)

const (
	reportDateLayout    = "2006-01-02"
	defaultPopularLimit = 10
)

// ReportServiceInterface はレポートハンドラーが必要とするサービスインターフェース。
type ReportServiceInterface interface {
	Generate(ctx context.Context, filter model.ReportFilter) ([]model.ReportRow, error)
	FilterOptions(ctx context.Context) (*model.ReportFilterOptions, error)
	PopularBooks(ctx context.Context, year, limit int) (*report.PopularBooksReport, error)
}

// ReportHandler は管理者向けレポートのHTTPハンドラー。
type ReportHandler struct {
	service ReportServiceInterface
	now     func() time.Time
}

// NewReportHandler はReportHandlerを生成する。
func NewReportHandler(service ReportServiceInterface) *ReportHandler {
	return &ReportHandler{service: service, now: time.Now}
}

// Loans は貸出レポートを返す。
// GET /reports/loans?start_date=&end_date=&status=&book_title=&username=
// end_dateはその日の終わりまでを含む。
func (h *ReportHandler) Loans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := model.ReportFilter{
		Status:    model.LoanStatus(q.Get("status")),
		BookTitle: q.Get("book_title"),
		Username:  q.Get("username"),
	}

	start, err := parseDate(q.Get("start_date"), "start_date")
	if err != nil {
		handleServiceError(w, err)
		return
	}
	end, err := parseDate(q.Get("end_date"), "end_date")
	if err != nil {
		handleServiceError(w, err)
		return
	}
	filter.StartDate = start
	if end != nil {
		endOfDay := end.AddDate(0, 0, 1).Add(-time.Nanosecond)
		filter.EndDate = &endOfDay
	}

	rows, err := h.service.Generate(r.Context(), filter)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// Filters はレポートのフィルタ候補を返す。
// GET /reports/filters
func (h *ReportHandler) Filters(w http.ResponseWriter, r *http.Request) {
	opts, err := h.service.FilterOptions(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, opts)
}

// PopularBooks は年間人気書籍ランキングを返す。yearの既定は今年、limitの既定は10。
// GET /reports/popular-books?year=&limit=
func (h *ReportHandler) PopularBooks(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "year")
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if r.URL.Query().Get("year") == "" {
		year = h.now().Year()
	}

	limit, err := queryInt(r, "limit")
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if r.URL.Query().Get("limit") == "" {
		limit = defaultPopularLimit
	}

	rep, err := h.service.PopularBooks(r.Context(), year, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func parseDate(v, field string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(reportDateLayout, v)
	if err != nil {
		return nil, model.NewInvalidValueError(field, "YYYY-MM-DD形式で指定してください")
	}
	return &t, nil
}
