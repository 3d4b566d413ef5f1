// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/tweetbox/internal/metrics"
	"github.com/hitoshi/tweetbox/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	Authenticator     middleware.Authenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 公開エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler // nilの場合は/metricsを公開しない
	AvatarReader   AvatarReader // nilの場合は/avatarsを公開しない

	// 認証・アカウント
	AuthService    AuthServiceInterface
	AccountService AccountAndRegistrationService
	AvatarMaxSize  int64

	// 投稿・フォロー・タイムライン
	PostService     PostServiceInterface
	GraphService    GraphServiceInterface
	TimelineService TimelineServiceInterface
}

// AccountAndRegistrationService は登録とアカウント管理の両方を提供するサービス。
// account.Serviceが実装する。
type AccountAndRegistrationService interface {
	AccountServiceInterface
	RegistrationServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Auth → RateLimit(General)
//
// 認証ルート（/auth/*）とヘルスチェック・メトリクスは認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.AccountService)
	accountHandler := NewAccountHandler(deps.AccountService, deps.AvatarMaxSize)
	postHandler := NewPostHandler(deps.PostService)
	graphHandler := NewGraphHandler(deps.GraphService)
	timelineHandler := NewTimelineHandler(deps.TimelineService)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	if deps.AvatarReader != nil {
		r.Get("/avatars/{key}", NewAvatarHandler(deps.AvatarReader).ServeAvatar)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Authenticator))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/feed", timelineHandler.Feed)
		r.Post("/api/search", timelineHandler.Search)

		// 投稿とエンゲージメント
		r.Route("/api/posts", func(r chi.Router) {
			// POST /api/posts - 投稿作成（作成専用レート制限を追加）
			r.With(deps.RateLimiter.PostCreateMiddleware()).Post("/", postHandler.CreatePost)
			r.Get("/", postHandler.ListPosts)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", postHandler.GetPost)
				r.Delete("/", postHandler.DeletePost)
				r.Post("/like", postHandler.Like)
				r.Post("/deslike", postHandler.Deslike)
				r.Post("/share", postHandler.Share)
			})
		})

		// アカウントとフォロー関係
		r.Route("/api/accounts", func(r chi.Router) {
			r.Get("/", accountHandler.ListAccounts)

			r.Route("/me", func(r chi.Router) {
				r.Get("/", accountHandler.Me)
				r.Patch("/", accountHandler.UpdateProfile)
				r.Delete("/", accountHandler.DeleteAccount)
				r.Put("/password", accountHandler.ChangePassword)
				r.Put("/avatar", accountHandler.UploadAvatar)
				r.Post("/avatar/import", accountHandler.ImportAvatar)
			})

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", accountHandler.GetAccount)
				r.Get("/timeline", timelineHandler.AccountTimeline)
				r.Get("/followers", graphHandler.Followers)
				r.Get("/following", graphHandler.Following)
				r.Post("/follow", graphHandler.Follow)
				r.Delete("/follow", graphHandler.Unfollow)
			})
		})
	})

	return r
}
