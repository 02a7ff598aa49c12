package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mailfeed/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger             *slog.Logger
	StatusRecorder     middleware.StatusRecorder
	UserFinder         middleware.UserFinder
	AdminChecker       middleware.AdminChecker
	CORSAllowedOrigin  string
	RateLimiter        *middleware.RateLimiter
	InboundSecret      string
	InboundMaxBodySize int64

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// ドメインサービス
	Ingester            Ingester
	ArticleService      ArticleServiceInterface
	SubscriptionService SubscriptionServiceInterface
	UserService         UserServiceInterface
	UsageChecker        UsageChecker
	NewsletterService   NewsletterServiceInterface
	AdminService        AdminServiceInterface
}

// registerMaxBodySize はユーザー登録リクエストのボディ上限。
const registerMaxBodySize = 64 << 10

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → UserHeader → RateLimit(General) → Admin
//
// 受信Webhookとユーザー登録はゲートウェイを経由しないサービス間呼び出しのため、
// 共有シークレットで保護し、ユーザー認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	inboundHandler := NewInboundHandler(deps.Ingester, limiter)
	articleHandler := NewArticleHandler(deps.ArticleService)
	subHandler := NewSubscriptionHandler(deps.SubscriptionService)
	userHandler := NewUserHandler(deps.UserService)
	usageHandler := NewUsageHandler(deps.UsageChecker)
	newsletterHandler := NewNewsletterHandler(deps.NewsletterService)
	adminHandler := NewAdminHandler(deps.AdminService)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker).ServeHTTP)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- サービス間呼び出し ---
	secretMW := middleware.NewInboundSecretMiddleware(deps.InboundSecret)
	r.With(secretMW, middleware.NewBodyLimitMiddleware(deps.InboundMaxBodySize)).
		Post("/inbound/email", inboundHandler.ReceiveEmail)
	r.With(secretMW, middleware.NewBodyLimitMiddleware(registerMaxBodySize)).
		Post("/api/users", userHandler.Register)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: UserHeader → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewUserHeaderMiddleware(deps.UserFinder))
		r.Use(limiter.GeneralMiddleware())

		// ユーザー
		r.Get("/api/me", userHandler.Me)
		r.Delete("/api/me", userHandler.Withdraw)

		// フィード・記事
		r.Get("/api/feed", articleHandler.ListFeed)
		r.Route("/api/articles/{id}", func(r chi.Router) {
			r.Get("/", articleHandler.GetArticle)
			r.Put("/read", articleHandler.MarkRead)
			r.Post("/save", articleHandler.SaveArticle)
		})

		// 保存記事
		r.Route("/api/saved", func(r chi.Router) {
			r.Get("/", articleHandler.ListSaved)
			r.Patch("/{id}", articleHandler.UpdateSaved)
			r.Delete("/{id}", articleHandler.Unsave)
		})

		// 購読管理
		r.Route("/api/subscriptions", func(r chi.Router) {
			r.Get("/", subHandler.ListSubscriptions)
			r.Post("/", subHandler.Subscribe)

			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", subHandler.Unsubscribe)
				r.Put("/settings", subHandler.UpdateSettings)
				r.Post("/resume", subHandler.Resubscribe)
			})
		})

		// 利用可否・カタログ
		r.Get("/api/usage/{limitType}", usageHandler.CheckUsage)
		r.Get("/api/newsletters/predefined", newsletterHandler.ListPredefined)

		// 管理者
		r.Route("/api/admin", func(r chi.Router) {
			r.Use(middleware.NewAdminMiddleware(deps.AdminChecker))

			r.Get("/inbound", adminHandler.ListInbound)
			r.Post("/inbound/{id}/reprocess", adminHandler.Reprocess)
			r.Get("/newsletters/top", adminHandler.TopNewsletters)
			r.Post("/articles/bulk-delete", adminHandler.BulkDeleteArticles)
		})
	})

	return r
}
