// Package report は貸出状況の集計レポートを提供する。
package report

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/perpus/internal/model"
	"github.com/hitoshi/perpus/internal/repository"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	minReportYear = 1900
	maxReportYear = 2100
	minLimit      = 1
	maxLimit      = 100
)

// PopularBooksReport は年間人気書籍ランキング。
type PopularBooksReport struct {
	Year       int                 `json:"year"`
	TotalLoans int                 `json:"total_loans"`
	Books      []model.PopularBook `json:"books"`
}

// Service はレポート生成のサービス層。
// 人気書籍ランキングはキャッシュし、同時のキャッシュミスは1回の集計にまとめる。
type Service struct {
	repo   repository.ReportRepository
	cache  Cache
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。cacheがnilの場合はキャッシュしない。
func NewService(repo repository.ReportRepository, cache Cache, ttl time.Duration, logger *slog.Logger) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// Generate はフィルタ条件に一致する貸出レポートを返す。
func (s *Service) Generate(ctx context.Context, filter model.ReportFilter) ([]model.ReportRow, error) {
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, model.NewInvalidValueError("end_date", "開始日以降の日付を指定してください")
	}
	switch filter.Status {
	case "", model.LoanStatusActive, model.LoanStatusReturned:
	default:
		return nil, model.NewInvalidValueError("status", "active または returned を指定してください")
	}

	rows, err := s.repo.LoanReport(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("貸出レポートの取得に失敗しました: %w", err)
	}
	if rows == nil {
		rows = []model.ReportRow{}
	}
	return rows, nil
}

// FilterOptions はレポートのフィルタ候補を返す。
func (s *Service) FilterOptions(ctx context.Context) (*model.ReportFilterOptions, error) {
	opts, err := s.repo.FilterOptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("フィルタ候補の取得に失敗しました: %w", err)
	}
	return opts, nil
}

// PopularBooks は指定年に多く貸し出された書籍を最大limit件返す。
// 各書籍の割合は年間総貸出数に対する百分率（小数第2位まで）。
func (s *Service) PopularBooks(ctx context.Context, year, limit int) (*PopularBooksReport, error) {
	if year < minReportYear || year > maxReportYear {
		return nil, model.NewInvalidValueError("year", fmt.Sprintf("%d〜%dの範囲で指定してください", minReportYear, maxReportYear))
	}
	if limit < minLimit || limit > maxLimit {
		return nil, model.NewInvalidValueError("limit", fmt.Sprintf("%d〜%dの範囲で指定してください", minLimit, maxLimit))
	}

	key := fmt.Sprintf("popular:%d:%d", year, limit)
	if report, ok := s.cached(ctx, key); ok {
		return report, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		if report, ok := s.cached(ctx, key); ok {
			return report, nil
		}
		report, err := s.buildPopularBooks(ctx, year, limit)
		if err != nil {
			return nil, err
		}
		s.store(ctx, key, report)
		return report, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*PopularBooksReport), nil
}

func (s *Service) buildPopularBooks(ctx context.Context, year, limit int) (*PopularBooksReport, error) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)

	books, total, err := s.repo.PopularBooks(ctx, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("人気書籍の集計に失敗しました: %w", err)
	}
	if books == nil {
		books = []model.PopularBook{}
	}
	for i := range books {
		if total > 0 {
			books[i].Percentage = round2(float64(books[i].LoanCount) / float64(total) * 100)
		}
		books[i].AvgDurationDays = round2(books[i].AvgDurationDays)
	}
	return &PopularBooksReport{Year: year, TotalLoans: total, Books: books}, nil
}

// cached はキャッシュから取得する。キャッシュ障害は集計にフォールバックする。
func (s *Service) cached(ctx context.Context, key string) (*PopularBooksReport, bool) {
	b, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("レポートキャッシュの取得に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var report PopularBooksReport
	if err := json.Unmarshal(b, &report); err != nil {
		s.logger.Warn("レポートキャッシュの復元に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	return &report, true
}

func (s *Service) store(ctx context.Context, key string, report *PopularBooksReport) {
	b, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, b, s.ttl); err != nil {
		s.logger.Warn("レポートキャッシュの保存に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
