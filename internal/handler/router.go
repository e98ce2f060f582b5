package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/perpus/internal/metrics"
	"github.com/hitoshi/perpus/internal/middleware"
	"github.com/hitoshi/perpus/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig
	Metrics           metrics.MetricsCollector

	// 運用
	DB             Pinger
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 貸出
	LoanService LoanServiceInterface

	// 書籍
	BookService     BookServiceInterface
	CatalogImporter CatalogImporter

	// ユーザー
	UserService UserServiceInterface

	// レポート
	ReportService ReportServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS
//	  → SessionMiddleware → CSRF → RateLimit(General) → RequireRole(admin)
//
// ヘルスチェック・ログイン・書籍の閲覧は認証なしで利用できる。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	collector := deps.Metrics
	if collector == nil {
		collector = metrics.Noop{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(collector))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	loanHandler := NewLoanHandler(deps.LoanService)
	bookHandler := NewBookHandler(deps.BookService, deps.CatalogImporter)
	userHandler := NewUserHandler(deps.UserService)
	reportHandler := NewReportHandler(deps.ReportService)

	// --- 認証不要のルート ---

	if deps.DB != nil {
		r.Method(http.MethodGet, "/health", NewHealthHandler(deps.DB))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
	r.Post("/login", authHandler.Login)

	r.Get("/books", bookHandler.List)
	r.Get("/books/search", bookHandler.Search)
	r.Get("/books/{id}", bookHandler.Get)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)

		// 貸出・返却
		r.Route("/loans", func(r chi.Router) {
			// POST /loans - 貸出（貸出専用レート制限を追加）
			r.With(deps.RateLimiter.BorrowMiddleware()).Post("/", loanHandler.Borrow)
			r.Get("/", loanHandler.List)
			r.Get("/status", loanHandler.Status)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", loanHandler.Get)
				r.Post("/return", loanHandler.Return)
			})
		})

		// ユーザー（本人または管理者）
		r.Get("/users/{id}", userHandler.Get)
		r.Put("/users/{id}", userHandler.Update)
		r.Get("/users/{id}/loans", loanHandler.ListByUser)
		r.Get("/users/{id}/loans/active", loanHandler.ListActiveByUser)

		// --- 管理者専用のルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleAdmin))

			r.Post("/books", bookHandler.Create)
			r.Post("/books/import", bookHandler.Import)
			r.Put("/books/{id}", bookHandler.Update)
			r.Delete("/books/{id}", bookHandler.Delete)
			r.Patch("/books/{id}/stock", bookHandler.AdjustStock)

			r.Post("/users", userHandler.Create)
			r.Get("/users", userHandler.List)
			r.Get("/users/search", userHandler.Search)
			r.Delete("/users/{id}", userHandler.Delete)

			r.Get("/reports/loans", reportHandler.Loans)
			r.Get("/reports/filters", reportHandler.Filters)
			r.Get("/reports/popular-books", reportHandler.PopularBooks)
		})
	})

	return r
}
