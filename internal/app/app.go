package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hitoshi/mailfeed/internal/admin"
	"github.com/hitoshi/mailfeed/internal/article"
	"github.com/hitoshi/mailfeed/internal/config"
	"github.com/hitoshi/mailfeed/internal/database"
	"github.com/hitoshi/mailfeed/internal/featureflag"
	"github.com/hitoshi/mailfeed/internal/handler"
	"github.com/hitoshi/mailfeed/internal/identity"
	"github.com/hitoshi/mailfeed/internal/ingest"
	"github.com/hitoshi/mailfeed/internal/logger"
	"github.com/hitoshi/mailfeed/internal/metrics"
	"github.com/hitoshi/mailfeed/internal/middleware"
	"github.com/hitoshi/mailfeed/internal/newsletter"
	"github.com/hitoshi/mailfeed/internal/repository"
	"github.com/hitoshi/mailfeed/internal/security"
	"github.com/hitoshi/mailfeed/internal/subscription"
	"github.com/hitoshi/mailfeed/internal/usage"
	"github.com/hitoshi/mailfeed/internal/user"
	"github.com/hitoshi/mailfeed/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"
)

// defaultReprocessLimit はreprocessコマンドで1回に再処理する受信メールの既定件数。
const defaultReprocessLimit = 100

// dbPingTimeout は起動時のDB疎通確認のタイムアウト。
const dbPingTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("email_domain", cfg.EmailDomain),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandReprocess:
		limit, err := parseLimitArg(args)
		if err != nil {
			return err
		}
		return runReprocess(cfg, limit)
	case CommandCleanup:
		return runCleanup(cfg)
	default:
		return runServe(cfg)
	}
}

// container はDB接続から組み立てた依存関係をまとめる。
type container struct {
	db       *sql.DB
	registry *prometheus.Registry
	metrics  *metrics.Collector

	userRepo  *repository.PostgresUserRepo
	emailRepo *repository.PostgresInboundEmailRepo

	codec         *identity.Codec
	gate          *usage.Gate
	pipeline      *ingest.Pipeline
	articles      *article.Service
	subscriptions *subscription.Service
	users         *user.Service
	newsletters   *newsletter.Service
	admin         *admin.Service
	admins        admin.AllowList

	closers []func() error
}

// Close はcontainerが保持する接続を閉じる。
func (c *container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			slog.Warn("failed to close resource", slog.String("error", err.Error()))
		}
	}
}

// build はDB接続を開き、全依存関係をワイヤリングする。
func build(cfg *config.Config) (*container, error) {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	c := &container{db: db, closers: []func() error{db.Close}}

	if err := database.Ping(context.Background(), db, dbPingTimeout); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	// 2. メトリクス
	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.metrics = metrics.NewCollector(c.registry)

	// 3. リポジトリの初期化
	c.userRepo = repository.NewPostgresUserRepo(db)
	c.emailRepo = repository.NewPostgresInboundEmailRepo(db)
	newsletterRepo := repository.NewPostgresNewsletterRepo(db)
	subRepo := repository.NewPostgresSubscriptionRepo(db)
	articleRepo := repository.NewPostgresArticleRepo(db)
	savedRepo := repository.NewPostgresSavedArticleRepo(db)
	flagRepo := repository.NewPostgresFeatureFlagRepo(db)

	// 4. 利用制限
	catalog := usage.DefaultCatalog()
	if cfg.PlansFile != "" {
		catalog, err = usage.LoadCatalog(cfg.PlansFile)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to load plans: %w", err)
		}
	}

	counters, err := newCounterStore(cfg, c, db)
	if err != nil {
		c.Close()
		return nil, err
	}

	flags := featureflag.NewService(flagRepo, map[string]bool{
		featureflag.FlagMonetization: cfg.MonetizationEnabled,
	})
	c.gate = usage.NewGate(flags, c.userRepo, catalog, counters, c.metrics)

	// 5. ドメインサービスの初期化
	c.codec = identity.NewCodec(cfg.EmailDomain)
	c.users = user.NewService(c.userRepo, c.codec)
	c.newsletters = newsletter.NewService(newsletterRepo)
	c.subscriptions = subscription.NewService(subRepo, newsletterRepo, c.gate)
	c.articles = article.NewService(articleRepo, savedRepo, c.gate)
	c.pipeline = ingest.NewPipeline(
		c.emailRepo, articleRepo, c.userRepo, c.codec,
		newsletter.NewResolver(newsletterRepo), c.subscriptions,
		security.NewContentSanitizer(), c.metrics,
	)
	c.admin = admin.NewService(c.emailRepo, articleRepo, c.pipeline, c.newsletters)
	c.admins = admin.NewAllowList(cfg.AdminEmails)

	return c, nil
}

// newCounterStore はREDIS_URLが設定されていればRedis、なければPostgreSQLの利用量カウンタを返す。
func newCounterStore(cfg *config.Config, c *container, db *sql.DB) (usage.CounterStore, error) {
	if cfg.RedisURL == "" {
		return repository.NewPostgresUsageCounterRepo(db), nil
	}

	store, err := usage.NewRedisCounterStoreFromURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, store.Close)

	ctx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("usage counters backed by redis")
	return store, nil
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	c, err := build(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	if c.admins.Len() == 0 {
		slog.Warn("ADMIN_EMAILS is empty; admin endpoints are unreachable")
	}
	if cfg.InboundWebhookSecret == "" {
		slog.Warn("INBOUND_WEBHOOK_SECRET is empty; service-to-service endpoints are unauthenticated")
	}

	// レート制限（設定値はreq/min単位）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitInbound > 0 {
		rateLimiterCfg.InboundRate = rate.Limit(float64(cfg.RateLimitInbound) / 60.0)
		rateLimiterCfg.InboundBurst = cfg.RateLimitInbound
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:             slog.Default(),
		StatusRecorder:     c.metrics,
		UserFinder:         c.userRepo,
		AdminChecker:       c.admins,
		CORSAllowedOrigin:  cfg.CORSAllowedOrigin,
		RateLimiter:        rateLimiter,
		InboundSecret:      cfg.InboundWebhookSecret,
		InboundMaxBodySize: cfg.InboundMaxBodySize,

		HealthChecker:  c.db,
		MetricsHandler: metrics.Handler(c.registry),

		Ingester:            c.pipeline,
		ArticleService:      c.articles,
		SubscriptionService: c.subscriptions,
		UserService:         c.users,
		UsageChecker:        c.gate,
		NewsletterService:   c.newsletters,
		AdminService:        c.admin,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runReprocess は保持されている受信メールを一括で再処理する。
// 外部のスケジューラから起動されることを想定しており、1回実行して終了する。
func runReprocess(cfg *config.Config, limit int) error {
	c, err := build(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	summary, err := c.pipeline.ReprocessPending(ctx, limit)
	if err != nil {
		return fmt.Errorf("reprocess failed: %w", err)
	}

	slog.Info("reprocess completed",
		slog.Int("total", summary.Total),
		slog.Int("processed", summary.Processed),
		slog.Int("failed", summary.Failed),
	)
	return nil
}

// runCleanup は保持期間を超えた処理済み受信メールを削除する。
func runCleanup(cfg *config.Config) error {
	c, err := build(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	job := cleanup.NewCleanupJob(c.emailRepo, slog.Default(), cfg.InboundRetentionDays)
	if _, err := job.Run(context.Background()); err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// parseLimitArg はreprocessコマンドの件数引数（省略可）を解析する。
func parseLimitArg(args []string) (int, error) {
	if len(args) < 2 {
		return defaultReprocessLimit, nil
	}
	limit, err := strconv.Atoi(args[1])
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid reprocess limit %q: must be a positive integer", args[1])
	}
	return limit, nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
