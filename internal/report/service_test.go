package report

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"

	"github.com/hitoshi/perpus/internal/model"
)

// --- モック ---

type mockReportRepo struct {
	loanReportFn    func(ctx context.Context, f model.ReportFilter) ([]model.ReportRow, error)
	filterOptionsFn func(ctx context.Context) (*model.ReportFilterOptions, error)
	popularBooksFn  func(ctx context.Context, from, to time.Time, limit int) ([]model.PopularBook, int, error)
	popularCalls    atomic.Int32
}

func (m *mockReportRepo) LoanReport(ctx context.Context, f model.ReportFilter) ([]model.ReportRow, error) {
	return m.loanReportFn(ctx, f)
}
func (m *mockReportRepo) FilterOptions(ctx context.Context) (*model.ReportFilterOptions, error) {
	return m.filterOptionsFn(ctx)
}
func (m *mockReportRepo) PopularBooks(ctx context.Context, from, to time.Time, limit int) ([]model.PopularBook, int, error) {
	m.popularCalls.Add(1)
	return m.popularBooksFn(ctx, from, to, limit)
}

type memCache struct {
	mu     sync.Mutex
	items  map[string][]byte
	getErr error
	setErr error
}

func newMemCache() *memCache { return &memCache{items: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	b, ok := c.items[key]
	return b, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.items[key] = value
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func samplePopular() ([]model.PopularBook, int) {
	return []model.PopularBook{
		{BookID: "b1", Title: "Laskar Pelangi", LoanCount: 2, AvgDurationDays: 3.456},
		{BookID: "b2", Title: "Bumi Manusia", LoanCount: 1, AvgDurationDays: 7},
	}, 3
}

// --- Generate / FilterOptions ---

func TestGenerate_Validation(t *testing.T) {
	repo := &mockReportRepo{loanReportFn: func(context.Context, model.ReportFilter) ([]model.ReportRow, error) {
		t.Fatal("repository must not be called")
		return nil, nil
	}}
	svc := NewService(repo, nil, time.Minute, discardLogger())

	start := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, -1)
	_, err := svc.Generate(context.Background(), model.ReportFilter{StartDate: &start, EndDate: &end})
	if model.ErrorCode(err) != model.ErrCodeInvalidValue {
		t.Errorf("expected INVALID_VALUE for reversed range, got %v", err)
	}

	_, err = svc.Generate(context.Background(), model.ReportFilter{Status: "lost"})
	if model.ErrorCode(err) != model.ErrCodeInvalidValue {
		t.Errorf("expected INVALID_VALUE for unknown status, got %v", err)
	}
}

func TestGenerate_PassesFilterAndNeverReturnsNil(t *testing.T) {
	var got model.ReportFilter
	repo := &mockReportRepo{loanReportFn: func(_ context.Context, f model.ReportFilter) ([]model.ReportRow, error) {
		got = f
		return nil, nil
	}}
	svc := NewService(repo, nil, time.Minute, discardLogger())

	rows, err := svc.Generate(context.Background(), model.ReportFilter{Status: model.LoanStatusActive, Username: "siti"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Errorf("rows = %v, want empty slice", rows)
	}
	if got.Status != model.LoanStatusActive || got.Username != "siti" {
		t.Errorf("filter = %+v", got)
	}
}

func TestFilterOptions_Error(t *testing.T) {
	repo := &mockReportRepo{filterOptionsFn: func(context.Context) (*model.ReportFilterOptions, error) {
		return nil, errors.New("db down")
	}}
	if _, err := NewService(repo, nil, time.Minute, discardLogger()).FilterOptions(context.Background()); err == nil {
		t.Error("expected error")
	}
}

// --- PopularBooks ---

func TestPopularBooks_Validation(t *testing.T) {
	svc := NewService(&mockReportRepo{}, nil, time.Minute, discardLogger())
	tests := []struct {
		year, limit int
		field       string
	}{
		{1899, 10, "year"},
		{2101, 10, "year"},
		{2024, 0, "limit"},
		{2024, 101, "limit"},
	}
	for _, tt := range tests {
		_, err := svc.PopularBooks(context.Background(), tt.year, tt.limit)
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Field != tt.field {
			t.Errorf("PopularBooks(%d, %d) = %v, want INVALID_VALUE/%s", tt.year, tt.limit, err, tt.field)
		}
	}
}

func TestPopularBooks_ComputesPercentageAndYearRange(t *testing.T) {
	repo := &mockReportRepo{popularBooksFn: func(_ context.Context, from, to time.Time, limit int) ([]model.PopularBook, int, error) {
		if !from.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) || !to.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("range = [%v, %v)", from, to)
		}
		if limit != 5 {
			t.Errorf("limit = %d", limit)
		}
		books, total := samplePopular()
		return books, total, nil
	}}
	svc := NewService(repo, nil, time.Minute, discardLogger())

	report, err := svc.PopularBooks(context.Background(), 2024, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.TotalLoans != 3 || report.Year != 2024 {
		t.Errorf("report = %+v", report)
	}
	if report.Books[0].Percentage != 66.67 || report.Books[1].Percentage != 33.33 {
		t.Errorf("percentages = %v, %v", report.Books[0].Percentage, report.Books[1].Percentage)
	}
	if report.Books[0].AvgDurationDays != 3.46 {
		t.Errorf("avg = %v, want 3.46", report.Books[0].AvgDurationDays)
	}
}

func TestPopularBooks_EmptyYear(t *testing.T) {
	repo := &mockReportRepo{popularBooksFn: func(context.Context, time.Time, time.Time, int) ([]model.PopularBook, int, error) {
		return nil, 0, nil
	}}
	report, err := NewService(repo, nil, time.Minute, discardLogger()).PopularBooks(context.Background(), 1990, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Books == nil || len(report.Books) != 0 || report.TotalLoans != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestPopularBooks_UsesCache(t *testing.T) {
	repo := &mockReportRepo{popularBooksFn: func(context.Context, time.Time, time.Time, int) ([]model.PopularBook, int, error) {
		books, total := samplePopular()
		return books, total, nil
	}}
	cache := newMemCache()
	svc := NewService(repo, cache, time.Minute, discardLogger())

	first, err := svc.PopularBooks(context.Background(), 2024, 10)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := svc.PopularBooks(context.Background(), 2024, 10)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if repo.popularCalls.Load() != 1 {
		t.Errorf("repository calls = %d, want 1", repo.popularCalls.Load())
	}
	if second.Books[0].Percentage != first.Books[0].Percentage {
		t.Error("cached report differs from the original")
	}
}

func TestPopularBooks_CacheFailureFallsBack(t *testing.T) {
	repo := &mockReportRepo{popularBooksFn: func(context.Context, time.Time, time.Time, int) ([]model.PopularBook, int, error) {
		books, total := samplePopular()
		return books, total, nil
	}}
	cache := newMemCache()
	cache.getErr = errors.New("redis down")
	cache.setErr = errors.New("redis down")

	if _, err := NewService(repo, cache, time.Minute, discardLogger()).PopularBooks(context.Background(), 2024, 10); err != nil {
		t.Fatalf("cache failure must not fail the report: %v", err)
	}
}

func TestPopularBooks_ConcurrentMissesCollapse(t *testing.T) {
	release := make(chan struct{})
	repo := &mockReportRepo{popularBooksFn: func(context.Context, time.Time, time.Time, int) ([]model.PopularBook, int, error) {
		<-release
		books, total := samplePopular()
		return books, total, nil
	}}
	svc := NewService(repo, newMemCache(), time.Minute, discardLogger())

	const callers = 10
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.PopularBooks(context.Background(), 2024, 10)
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if got := repo.popularCalls.Load(); got != 1 {
		t.Errorf("repository calls = %d, want 1", got)
	}
}

func TestPopularBooks_RedisHit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectGet("perpus:report:popular:2024:10").
		SetVal(`{"year":2024,"total_loans":4,"books":[{"book_id":"b1","title":"Hujan","loan_count":4,"percentage":100}]}`)

	repo := &mockReportRepo{popularBooksFn: func(context.Context, time.Time, time.Time, int) ([]model.PopularBook, int, error) {
		t.Fatal("repository must not be called on a cache hit")
		return nil, 0, nil
	}}
	svc := NewService(repo, NewRedisCache(db, "perpus:report:"), time.Minute, discardLogger())

	report, err := svc.PopularBooks(context.Background(), 2024, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.TotalLoans != 4 || len(report.Books) != 1 || report.Books[0].Title != "Hujan" {
		t.Errorf("report = %+v", report)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
