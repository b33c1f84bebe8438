package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/triviaquiz/triviaquiz/internal/api"
	"github.com/triviaquiz/triviaquiz/internal/auth"
	"github.com/triviaquiz/triviaquiz/internal/cache"
	"github.com/triviaquiz/triviaquiz/internal/config"
	"github.com/triviaquiz/triviaquiz/internal/db"
	apperrors "github.com/triviaquiz/triviaquiz/internal/errors"
	"github.com/triviaquiz/triviaquiz/internal/health"
	"github.com/triviaquiz/triviaquiz/internal/logger"
	"github.com/triviaquiz/triviaquiz/internal/metrics"
	"github.com/triviaquiz/triviaquiz/internal/middleware"
	"github.com/triviaquiz/triviaquiz/internal/trivia"
	"github.com/triviaquiz/triviaquiz/internal/websocket"
)

const (
	version         = "1.0.0"
	shutdownTimeout = 15 * time.Second
)

func main() {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Error(context.Background(), "invalid configuration", nil, err)
		os.Exit(1)
	}

	log := logger.New(&logger.Config{Output: os.Stdout, Level: logger.ParseLevel(cfg.LogLevel)})
	logger.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.JWTSecretGenerated {
		log.Warn(ctx, "JWT_SECRET not set, using a random secret; sessions will not survive a restart", nil)
	}

	database, err := db.OpenWithRetry(ctx, cfg.DatabaseDriver, cfg.DatabaseURL,
		apperrors.DBConnectRetryConfig(cfg.DBConnectRetries, cfg.DBConnectBackoff))
	if err != nil {
		log.Error(ctx, "failed to connect to database", map[string]interface{}{"driver": cfg.DatabaseDriver}, err)
		os.Exit(1)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		log.Error(ctx, "failed to run migrations", nil, err)
		os.Exit(1)
	}

	m := metrics.Default()

	var redisCache *cache.Cache
	triviaOpts := []trivia.Option{trivia.WithMetrics(m)}
	if cfg.RedisAddr != "" {
		redisCache, err = cache.New(ctx, cfg.RedisAddr, m)
		if err != nil {
			log.Warn(ctx, "redis unavailable, continuing without cache", map[string]interface{}{
				"addr":  cfg.RedisAddr,
				"error": err.Error(),
			})
		} else {
			defer redisCache.Close()
			triviaOpts = append(triviaOpts, trivia.WithCache(redisCache))
		}
	}

	checkerCfg := &health.CheckerConfig{
		DB:      database.DB,
		Version: version,
		Probes:  []health.Probe{{Name: "schema", Message: "schema not migrated", Check: database.SchemaReady}},
	}
	if redisCache != nil {
		checkerCfg.Redis = redisCache.Client()
	}

	authService := auth.NewService(db.NewUserRepository(database), cfg.JWTSecret, auth.WithMetrics(m))
	cookies := auth.SessionCookies{
		Policy: auth.CookiePolicyFor(cfg.IsProduction(), cfg.ClientOrigin(), cfg.APIOrigin),
		Mirror: cfg.SessionMirrorCookie,
	}

	hub := websocket.NewHub(m)
	go hub.Run(ctx)

	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Error(ctx, "invalid TRUSTED_PROXIES", nil, err)
		os.Exit(1)
	}
	authLimiter := middleware.NewRateLimiter(cfg.AuthRateLimit, middleware.WithTrustedProxies(proxies))
	go authLimiter.Run(ctx)

	router := api.NewRouter(api.Deps{
		DB:             database,
		AuthService:    authService,
		Cookies:        cookies,
		Hub:            hub,
		Trivia:         trivia.NewClient(cfg.TriviaBaseURL, triviaOpts...),
		Health:         health.NewChecker(checkerCfg),
		Metrics:        m,
		AuthLimiter:    authLimiter,
		AllowedOrigins: cfg.AllowedOrigins,
		Log:            log,
	})

	server := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting server", map[string]interface{}{
			"addr":        cfg.ServerAddr,
			"environment": cfg.Environment,
			"driver":      database.Dialect(),
			"same_site":   cookies.Policy.SameSite,
			"secure":      cookies.Policy.Secure,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error(ctx, "server failed", nil, err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "graceful shutdown failed", nil, err)
	}
}
