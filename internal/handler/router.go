package handler

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/holaholidays/internal/auth"
	"github.com/hitoshi/holaholidays/internal/middleware"
	"github.com/hitoshi/holaholidays/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	Authenticator     middleware.Authenticator
	RejectionRecorder middleware.RejectionRecorder
	HTTPRecorder      middleware.HTTPRecorder
	RateLimiter       *middleware.RateLimiter
	CORSAllowedOrigin string
	Cookies           CookieConfig
	// TrustedProxies はX-Forwarded-Forを信頼するプロキシのアドレス範囲。空なら転送ヘッダーを無視する。
	TrustedProxies []*net.IPNet

	// 運用エンドポイント
	HealthCheckers []NamedHealthChecker
	MetricsHandler http.Handler

	// サービス
	AccountService   AccountServiceInterface
	FederatedService FederatedServiceInterface
	UserService      UserServiceInterface
	TokenVerifier    auth.TokenVerifier
	OAuth            OAuthHandlerConfig
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → ClientIP → Logging → Metrics → SecurityHeaders → CORS
//
// 認証が必要なルートには、さらに Auth → CSRF → RateLimit(General) を適用する。
// ログイン・登録にはRateLimit(Login)を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewClientIPMiddleware(deps.TrustedProxies))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.HTTPRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.Cookies.Secure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	csrfConfig := middleware.CSRFConfig{
		CookieSecure: deps.Cookies.Secure,
		CookieDomain: deps.Cookies.Domain,
	}
	oauthConfig := deps.OAuth
	oauthConfig.Cookies = deps.Cookies

	customerHandler := NewAccountHandler(deps.AccountService, model.KindCustomer, deps.TokenVerifier, deps.Cookies)
	adminHandler := NewAccountHandler(deps.AccountService, model.KindAdmin, deps.TokenVerifier, deps.Cookies)
	userHandler := NewUserHandler(deps.UserService, deps.Cookies)
	oauthHandler := NewOAuthHandler(deps.FederatedService, oauthConfig)

	loginLimit := deps.RateLimiter.LoginMiddleware()

	// protected は認証、CSRF検証、主体ごとのレート制限を適用したグループを構成する。
	protected := func(r chi.Router, kinds ...model.PrincipalKind) chi.Router {
		return r.With(
			middleware.NewAuthMiddleware(deps.Authenticator, deps.RejectionRecorder, kinds...),
			middleware.NewCSRFMiddleware(csrfConfig),
			deps.RateLimiter.GeneralMiddleware(),
		)
	}

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthCheckers...).ServeHTTP)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Get("/csrf-token", middleware.NewCSRFTokenHandler(csrfConfig).ServeHTTP)

	// --- 顧客 ---
	r.Route("/user/customer", func(r chi.Router) {
		r.With(loginLimit).Post("/register", customerHandler.Register)
		r.With(loginLimit).Post("/login", customerHandler.Login)
		r.Post("/logout", customerHandler.Logout)

		p := protected(r, model.KindCustomer)
		p.Get("/profile", customerHandler.GetProfile)
		p.Put("/profile", customerHandler.UpdateProfile)
		p.Delete("/profile", userHandler.Withdraw)
	})

	// --- 管理者 ---
	r.Route("/user/admin", func(r chi.Router) {
		r.With(loginLimit).Post("/register", adminHandler.Register)
		r.With(loginLimit).Post("/login", adminHandler.Login)
		r.Post("/logout", adminHandler.Logout)

		p := protected(r, model.KindAdmin)
		p.Get("/profile", adminHandler.GetProfile)
		p.Put("/profile", adminHandler.UpdateProfile)

		// 顧客管理は承認済み管理者のみ
		approved := p.With(middleware.RequireApprovedAdmin)
		approved.Get("/customers", userHandler.ListCustomers)
		approved.Get("/customers/{id}", userHandler.GetCustomer)
		approved.Put("/customers/{id}", userHandler.UpdateCustomer)
		approved.Delete("/customers/{id}", userHandler.DeleteCustomer)
	})

	// --- 外部IdPログインと現在の主体 ---
	r.Route("/auth", func(r chi.Router) {
		protected(r).Get("/me", customerHandler.GetProfile)

		r.Get("/{provider}", oauthHandler.Login)
		r.Get("/{provider}/callback", oauthHandler.Callback)
	})

	return r
}
