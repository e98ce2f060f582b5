// Package app は設定の読み込みから依存関係の組み立て、各起動モードの実行までを担う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/term"

	"github.com/hitoshi/perpus/internal/auth"
	"github.com/hitoshi/perpus/internal/book"
	"github.com/hitoshi/perpus/internal/catalog"
	"github.com/hitoshi/perpus/internal/config"
	"github.com/hitoshi/perpus/internal/database"
	"github.com/hitoshi/perpus/internal/events"
	"github.com/hitoshi/perpus/internal/handler"
	"github.com/hitoshi/perpus/internal/loan"
	"github.com/hitoshi/perpus/internal/logger"
	"github.com/hitoshi/perpus/internal/metrics"
	"github.com/hitoshi/perpus/internal/middleware"
	"github.com/hitoshi/perpus/internal/model"
	"github.com/hitoshi/perpus/internal/report"
	"github.com/hitoshi/perpus/internal/repository"
	"github.com/hitoshi/perpus/internal/security"
	"github.com/hitoshi/perpus/internal/user"
	"github.com/hitoshi/perpus/internal/worker/cleanup"
)

const (
	dbPingTimeout   = 5 * time.Second
	shutdownTimeout = 30 * time.Second
	reportCacheKey  = "perpus:report:"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, "info")

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMでコマンドのcontextがキャンセルされる。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand(w)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func logStart(cmd Command, cfg *config.Config) {
	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
}

// openDB はDB接続を開いて疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config, opts database.PoolOptions) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, opts)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("database connection established")
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg, database.DefaultPoolOptions())
	if err != nil {
		return err
	}
	defer db.Close()

	// リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	bookRepo := repository.NewPostgresBookRepo(db)
	reportRepo := repository.NewPostgresReportRepo(sqlx.NewDb(db, "postgres"))
	txm := repository.NewPostgresTxManager(db)

	// メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db, "perpus"),
	)
	collector := metrics.NewCollector(registry)

	// 貸出イベント
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, slog.Default())
		if err != nil {
			return fmt.Errorf("failed to connect to AMQP broker: %w", err)
		}
		defer amqpPublisher.Close()
		publisher = amqpPublisher
		slog.Info("loan events enabled", slog.String("exchange", cfg.AMQPExchange))
	}

	// レポートキャッシュ
	var cache report.Cache
	if cfg.RedisURL != "" {
		client, err := newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		cache = report.NewRedisCache(client, reportCacheKey)
		slog.Info("report cache enabled", slog.Duration("ttl", cfg.ReportCacheTTL))
	}

	// ドメインサービス
	sanitizer := security.NewTextSanitizer()
	authService := auth.NewService(userRepo, sessionRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge}, slog.Default())
	loanService := loan.NewService(txm, publisher, collector, slog.Default(), loan.Config{
		TxTimeout:       cfg.LoanTxTimeout,
		DefaultPageSize: cfg.DefaultPageSize,
	})
	bookService := book.NewService(bookRepo, txm, sanitizer, slog.Default(), cfg.DefaultPageSize)
	importer := catalog.NewImporter(bookService, security.NewURLGuard(), slog.Default(), catalog.Options{
		Timeout:       cfg.CatalogFetchTimeout,
		MaxBodySize:   cfg.CatalogFetchMaxSize,
		DefaultCopies: cfg.CatalogDefaultCopies,
	})
	userService := user.NewService(userRepo, sessionRepo, cfg.BcryptCost, slog.Default())
	reportService := report.NewService(reportRepo, cache, cfg.ReportCacheTTL, slog.Default())

	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitBorrow),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Metrics:        collector,
		DB:             db,
		MetricsHandler: metrics.Handler(registry),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},
		LoanService:     loanService,
		BookService:     bookService,
		CatalogImporter: importer,
		UserService:     userService,
		ReportService:   reportService,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

func newRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, dbPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// runWorker は期限切れセッションの定期削除を実行する。ctxのキャンセルで終了する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg, database.PoolOptions{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewSessionCleanupJob(db, slog.Default())

	slog.Info("worker starting",
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
	)
	job.Loop(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// AdminCreator は管理者作成に必要なユーザーサービスの操作。
type AdminCreator interface {
	Create(ctx context.Context, in user.CreateInput) (*model.User, error)
}

// runCreateAdmin はDBに接続して管理者ユーザーを1人作成する。
func runCreateAdmin(ctx context.Context, cfg *config.Config, username, password string, out io.Writer) error {
	db, err := openDB(ctx, cfg, database.PoolOptions{MaxOpenConns: 1})
	if err != nil {
		return err
	}
	defer db.Close()

	svc := user.NewService(
		repository.NewPostgresUserRepo(db),
		repository.NewPostgresSessionRepo(db),
		cfg.BcryptCost,
		slog.Default(),
	)
	return createAdmin(ctx, svc, username, password, out)
}

func createAdmin(ctx context.Context, creator AdminCreator, username, password string, out io.Writer) error {
	u, err := creator.Create(ctx, user.CreateInput{
		Username: username,
		Password: password,
		Role:     model.RoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	fmt.Fprintf(out, "管理者ユーザーを作成しました: %s (%s)\n", u.Username, u.ID)
	return nil
}

// readAdminPassword は管理者パスワードを読み取る。
// 標準入力が端末ならエコーなしで入力させ、そうでなければ環境変数から読む。
func readAdminPassword(in *os.File, prompt io.Writer) (string, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return passwordFromEnv(os.Getenv(adminPasswordEnv))
	}

	fmt.Fprint(prompt, "Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprint(prompt, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

func passwordFromEnv(v string) (string, error) {
	// パイプ経由で渡された場合の末尾の改行は取り除く
	v = strings.TrimRight(v, "\r\n")
	if v == "" {
		return "", fmt.Errorf("stdin is not a terminal and %s is not set", adminPasswordEnv)
	}
	return v, nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
