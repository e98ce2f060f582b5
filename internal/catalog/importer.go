// Package catalog は外部のRSS/Atom形式の新着図書フィードから書籍を一括登録する。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/perpus/internal/book"
	"github.com/hitoshi/perpus/internal/model"
	"github.com/hitoshi/perpus/internal/security"
)

const userAgent = "Perpus/1.0 Catalog Importer"

// BookCreator は書籍登録のインターフェース。book.Serviceが実装する。
type BookCreator interface {
	Create(ctx context.Context, in book.Input) (*model.Book, error)
}

// Skipped は取り込まなかったエントリとその理由。
type Skipped struct {
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// Result は取り込み結果。
type Result struct {
	Created int           `json:"created"`
	Skipped []Skipped     `json:"skipped"`
	Books   []*model.Book `json:"books"`
}

// Options は取り込みの制限値。
type Options struct {
	Timeout       time.Duration
	MaxBodySize   int64
	DefaultCopies int
}

// Importer はカタログフィードを取得して書籍を登録する。
type Importer struct {
	books  BookCreator
	guard  security.URLGuard
	logger *slog.Logger
	opts   Options
	now    func() time.Time
}

// NewImporter はImporterの新しいインスタンスを生成する。
func NewImporter(books BookCreator, guard security.URLGuard, logger *slog.Logger, opts Options) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 5 * 1024 * 1024
	}
	if opts.DefaultCopies <= 0 {
		opts.DefaultCopies = 1
	}
	return &Importer{
		books:  books,
		guard:  guard,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// Import はfeedURLのフィードを取得し、各エントリをcopies冊の在庫で登録する。
// copiesが0の場合は既定の冊数を使う。
// 入力検証に通らないエントリはスキップし、ストレージ障害の場合は処理を中断する。
func (imp *Importer) Import(ctx context.Context, feedURL string, copies int) (*Result, error) {
	if copies < 0 {
		return nil, model.NewInvalidValueError("copies", "0以上の整数を指定してください")
	}
	if copies == 0 {
		copies = imp.opts.DefaultCopies
	}

	if err := imp.guard.Check(feedURL); err != nil {
		imp.logger.Warn("カタログURLの検証に失敗しました",
			slog.String("url", feedURL),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, security.ErrBlockedDestination) {
			return nil, model.NewSSRFBlockedError()
		}
		return nil, model.NewInvalidURLError(err.Error())
	}

	body, err := imp.fetch(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		imp.logger.Warn("カタログのパースに失敗しました",
			slog.String("url", feedURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewParseFailedError()
	}

	result := &Result{Skipped: []Skipped{}, Books: []*model.Book{}}
	for _, item := range feed.Items {
		in := imp.toInput(feed, item, copies)
		if in.Author == "" {
			result.Skipped = append(result.Skipped, Skipped{Title: in.Title, Reason: "著者が指定されていません"})
			continue
		}

		b, err := imp.books.Create(ctx, in)
		if err != nil {
			var apiErr *model.APIError
			if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeInvalidValue {
				result.Skipped = append(result.Skipped, Skipped{Title: in.Title, Reason: apiErr.Message})
				continue
			}
			return nil, fmt.Errorf("カタログからの書籍登録に失敗しました: %w", err)
		}
		result.Books = append(result.Books, b)
		result.Created++
	}

	imp.logger.Info("カタログを取り込みました",
		slog.String("url", feedURL),
		slog.Int("created", result.Created),
		slog.Int("skipped", len(result.Skipped)),
	)
	return result, nil
}

func (imp *Importer) fetch(ctx context.Context, feedURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, imp.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.5")

	resp, err := imp.guard.Client(imp.opts.Timeout).Do(req)
	if err != nil {
		imp.logger.Warn("カタログの取得に失敗しました",
			slog.String("url", feedURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewFetchFailedError("接続できませんでした")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewFetchFailedError(fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	// 上限+1バイトまで読み、超過を検出する
	body, err := io.ReadAll(io.LimitReader(resp.Body, imp.opts.MaxBodySize+1))
	if err != nil {
		return nil, model.NewFetchFailedError("レスポンスの読み込みに失敗しました")
	}
	if int64(len(body)) > imp.opts.MaxBodySize {
		return nil, model.NewFetchFailedError("レスポンスサイズが上限を超えています")
	}
	return body, nil
}

// toInput はフィードのエントリを書籍入力に変換する。
// 著者はエントリ、フィードの順に探し、出版年は公開日時、更新日時、現在年の順に採用する。
func (imp *Importer) toInput(feed *gofeed.Feed, item *gofeed.Item, copies int) book.Input {
	in := book.Input{
		Title: strings.TrimSpace(item.Title),
		Stock: copies,
		Year:  imp.now().Year(),
	}

	switch {
	case len(item.Authors) > 0 && item.Authors[0] != nil:
		in.Author = item.Authors[0].Name
	case item.Author != nil:
		in.Author = item.Author.Name
	case len(feed.Authors) > 0 && feed.Authors[0] != nil:
		in.Author = feed.Authors[0].Name
	}
	in.Author = strings.TrimSpace(in.Author)

	switch {
	case item.PublishedParsed != nil:
		in.Year = item.PublishedParsed.Year()
	case item.UpdatedParsed != nil:
		in.Year = item.UpdatedParsed.Year()
	}
	return in
}
