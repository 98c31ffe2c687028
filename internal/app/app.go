package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/hitoshi/holaholidays/internal/auth"
	"github.com/hitoshi/holaholidays/internal/config"
	"github.com/hitoshi/holaholidays/internal/database"
	"github.com/hitoshi/holaholidays/internal/handler"
	"github.com/hitoshi/holaholidays/internal/logger"
	"github.com/hitoshi/holaholidays/internal/metrics"
	"github.com/hitoshi/holaholidays/internal/middleware"
	"github.com/hitoshi/holaholidays/internal/repository"
	"github.com/hitoshi/holaholidays/internal/security"
	"github.com/hitoshi/holaholidays/internal/user"
	"github.com/hitoshi/holaholidays/internal/worker/cleanup"
)

// defaultServerPort はSERVER_PORT未設定時のポート。
const defaultServerPort = "5001"

// oauthHTTPTimeout はIdPへのトークン交換・ユーザー情報取得のタイムアウト。
const oauthHTTPTimeout = 10 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから、環境変数からConfigを読み込む。
// ログレベルは設定読み込み前に必要なため、LOG_LEVELを直接参照する。
func Init(w io.Writer) (*config.Config, error) {
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

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
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = defaultServerPort
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
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_backend", cfg.SessionBackend),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandMigrateStatus:
		return runMigrateStatus(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// sessionStore はセッションバックエンドの選択結果。
// redisはPostgreSQLバックエンドの場合nil。
type sessionStore struct {
	repo     repository.SessionRepository
	purger   cleanup.SessionPurger
	redis    *redis.Client
	backend  string
	checkers []handler.NamedHealthChecker
}

// Close はRedisクライアントを閉じる。
func (s *sessionStore) Close() error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Close()
}

// redisPinger はRedisクライアントをHealthCheckerに適合させる。
type redisPinger struct {
	client redis.Cmdable
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// newSessionStore は設定に従ってセッションストアを構築する。
// PostgreSQLバックエンドの場合のみ期限切れ行の削除ジョブ（purger）を返す。
func newSessionStore(cfg *config.Config, db *sql.DB) (*sessionStore, error) {
	switch cfg.SessionBackend {
	case config.SessionBackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("REDIS_URLの解析に失敗: %w", err)
		}
		client := redis.NewClient(opts)
		return &sessionStore{
			repo:     repository.NewRedisSessionRepo(client),
			redis:    client,
			backend:  config.SessionBackendRedis,
			checkers: []handler.NamedHealthChecker{{Name: "redis", Checker: redisPinger{client: client}}},
		}, nil
	case config.SessionBackendPostgres:
		repo := repository.NewPostgresSessionRepo(db)
		return &sessionStore{
			repo:    repo,
			purger:  repo,
			backend: config.SessionBackendPostgres,
		}, nil
	default:
		return nil, fmt.Errorf("unknown session backend: %q", cfg.SessionBackend)
	}
}

// newRateLimiterConfig は1分あたりの設定値からレート制限設定を求める。
func newRateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rlCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rlCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rlCfg.GeneralBurst = cfg.RateLimitGeneral
	} else {
		rlCfg.GeneralRate = rate.Inf
		rlCfg.GeneralBurst = 0
	}
	rlCfg.LoginRate, rlCfg.LoginBurst = middleware.LoginRateConfig(cfg.RateLimitLogin)
	return rlCfg
}

// oauthProviders は設定済みの外部IdPのみを返す。
func oauthProviders(cfg *config.Config, client *http.Client) []auth.OAuthProvider {
	var providers []auth.OAuthProvider
	if cfg.Google.Enabled() {
		providers = append(providers, auth.NewGoogleProvider(auth.OAuth2Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
			HTTPClient:   client,
		}))
	}
	if cfg.Facebook.Enabled() {
		providers = append(providers, auth.NewFacebookProvider(auth.OAuth2Config{
			ClientID:     cfg.Facebook.ClientID,
			ClientSecret: cfg.Facebook.ClientSecret,
			RedirectURL:  cfg.Facebook.RedirectURL,
			HTTPClient:   client,
		}))
	}
	return providers
}

// server はrunServeで構築した依存関係一式。
type server struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
	cleanupJob  *cleanup.CleanupJob
}

// buildServer はDBとセッションストアから全依存関係をワイヤリングし、ルーターを構築する。
func buildServer(cfg *config.Config, db *sql.DB, store *sessionStore, reg *prometheus.Registry) (*server, error) {
	// 1. リポジトリの初期化
	customerRepo := repository.NewPostgresCustomerRepo(db)
	adminRepo := repository.NewPostgresAdminRepo(db)
	identityRepo := repository.NewPostgresIdentityRepo(db)

	// 2. メトリクス
	collector := metrics.NewCollector(reg)

	// 3. トークンとパスワード
	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		Keys:        map[string][]byte{cfg.JWTKeyID: []byte(cfg.JWTSecret)},
		ActiveKeyID: cfg.JWTKeyID,
		Issuer:      cfg.JWTIssuer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}
	hasher := auth.NewBcryptHasher(cfg.BcryptCost)

	// 4. セキュリティサービスの初期化
	guard := security.NewOutboundGuard()
	sanitizer := security.NewInputSanitizer()

	// 5. ドメインサービスの初期化
	providers := oauthProviders(cfg, guard.NewSafeClient(oauthHTTPTimeout))
	for _, p := range providers {
		slog.Info("oauth provider enabled", slog.String("provider", p.Name()))
	}

	authService := auth.NewService(auth.ServiceDeps{
		Customers: customerRepo,
		Admins:    adminRepo,
		Sessions:  store.repo,
		Hasher:    hasher,
		Tokens:    tokens,
		Linker:    auth.NewLinker(customerRepo, identityRepo, guard),
		Providers: providers,
		Sanitizer: sanitizer,
		Pictures:  guard,
		Recorder:  collector,
	}, auth.ServiceConfig{
		CustomerSessionTTL: cfg.CustomerSessionTTL,
		AdminSessionTTL:    cfg.AdminSessionTTL,
		TokenTTL:           cfg.TokenTTL,
	})
	userService := user.NewService(customerRepo, store.repo, authService)
	authenticator := auth.NewAuthenticator(tokens, store.repo, customerRepo, adminRepo)

	// 6. ルーターの構築
	trustedProxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIESの解析に失敗: %w", err)
	}
	rateLimiter := middleware.NewRateLimiter(newRateLimiterConfig(cfg))
	cookies := handler.CookieConfig{
		Secure: cfg.CookieSecure,
		Domain: cfg.CookieDomain,
	}

	schema, err := database.NewSchemaChecker(db)
	if err != nil {
		return nil, err
	}
	checkers := append([]handler.NamedHealthChecker{
		{Name: "database", Checker: db},
		{Name: "schema", Checker: schema},
	}, store.checkers...)

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		Authenticator:     authenticator,
		RejectionRecorder: collector,
		HTTPRecorder:      collector,
		RateLimiter:       rateLimiter,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Cookies:           cookies,
		TrustedProxies:    trustedProxies,

		HealthCheckers: checkers,
		MetricsHandler: metrics.Handler(reg),

		AccountService:   authService,
		FederatedService: authService,
		UserService:      userService,
		TokenVerifier:    tokens,
		OAuth: handler.OAuthHandlerConfig{
			FrontendURL: cfg.FrontendURL,
			SuccessPath: cfg.OAuthSuccessPath,
			FailurePath: cfg.OAuthFailurePath,
			Cookies:     cookies,
		},
	}

	srv := &server{
		handler:     handler.NewRouter(deps),
		rateLimiter: rateLimiter,
	}
	if store.purger != nil {
		srv.cleanupJob = cleanup.NewCleanupJob(store.purger, collector, slog.Default())
	}
	return srv, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	store, err := newSessionStore(cfg, db)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := buildServer(cfg, db, store, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer srv.rateLimiter.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQLバックエンドでは期限切れセッションをサーバー内で定期削除する
	if srv.cleanupJob != nil {
		go srv.cleanupJob.Start(ctx, cfg.SessionCleanupInterval)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// PostgreSQLセッションストアの期限切れ行を定期削除する。
// Redisバックエンドでも、過去にPostgreSQLへ書き込まれたセッションを掃除するために使える。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	job := cleanup.NewCleanupJob(repository.NewPostgresSessionRepo(db), nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
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

	version, err := database.LatestVersion()
	if err != nil {
		return err
	}
	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
	)
	return nil
}

// runMigrateStatus は適用済みスキーマバージョンを報告する。
// 未適用のマイグレーションがある、またはdirtyな場合はエラーを返す。
func runMigrateStatus(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	version, dirty, err := database.SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	latest, err := database.LatestVersion()
	if err != nil {
		return err
	}

	slog.Info("database schema status",
		slog.Uint64("schema_version", uint64(version)),
		slog.Uint64("latest_version", uint64(latest)),
		slog.Bool("dirty", dirty),
	)

	checker, err := database.NewSchemaChecker(db)
	if err != nil {
		return err
	}
	return checker.PingContext(ctx)
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
