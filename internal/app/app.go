// Package app wires configuration, storage, cache, token service and HTTP
// routes into a runnable identity service.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/kanggyeonggu/identity-service/internal/cache"
	"github.com/kanggyeonggu/identity-service/internal/config"
	"github.com/kanggyeonggu/identity-service/internal/database"
	"github.com/kanggyeonggu/identity-service/internal/handler"
	"github.com/kanggyeonggu/identity-service/internal/logger"
	"github.com/kanggyeonggu/identity-service/internal/middleware"
	"github.com/kanggyeonggu/identity-service/internal/queue"
	"github.com/kanggyeonggu/identity-service/internal/repository"
	"github.com/kanggyeonggu/identity-service/internal/router"
	"github.com/kanggyeonggu/identity-service/internal/service"
	"github.com/kanggyeonggu/identity-service/internal/token"
)

// App is a fully wired service.
type App struct {
	Cfg        config.Config
	Log        *slog.Logger
	DB         *sql.DB
	Redis      *redis.Client // nil when Redis is unavailable
	Identities *repository.IdentityRepo
	Tokens     *token.Service
	Sessions   *service.SessionService
	Echo       *echo.Echo
	Consumer   *queue.AuditConsumer // nil unless the audit consumer is enabled
}

// Options override collaborators, mostly for tests.
type Options struct {
	// Redis, when set, is used instead of dialing REDIS_*.
	Redis *redis.Client
	// SkipRedis disables the cache and the rate limiter entirely.
	SkipRedis bool
	RateLimit *config.RateLimitConfig
}

// New opens the database (running migrations), connects Redis when possible
// and builds the HTTP server.
func New(cfg config.Config, log *slog.Logger, opts Options) (*App, error) {
	log = logger.OrDiscard(log)

	db, dialect, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a := &App{Cfg: cfg, Log: log, DB: db}

	a.Redis = opts.Redis
	if a.Redis == nil && !opts.SkipRedis {
		rc, err := config.LoadRedisConfig()
		if err == nil {
			a.Redis, err = config.NewRedisClient(rc)
		}
		if err != nil {
			log.Warn("redis unavailable, identity cache and rate limit disabled", "error", err)
		}
	}

	var tokenOpts []token.Option
	if cfg.TokenIssuer != "" {
		tokenOpts = append(tokenOpts, token.WithIssuer(cfg.TokenIssuer))
	}
	a.Tokens, err = token.NewService(cfg.JWTSecret, cfg.AccessTTL, tokenOpts...)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("token service: %w", err)
	}

	a.Identities = repository.NewIdentityRepo(db, dialect)
	identityCache := cache.NewIdentityCache(a.Redis, config.LoadIdentityCacheConfig(), log)

	sessOpts := service.Options{
		RefreshTTL:    cfg.RefreshTTL(),
		RefreshRotate: cfg.RefreshRotate,
		Logger:        log,
	}
	if cfg.EventsEnabled {
		sessOpts.Events = queue.NewPublisher(cfg.RabbitMQURL, log)
	}
	a.Sessions = service.NewSessionService(a.Identities, identityCache, a.Tokens, repository.NewTokenRepo(db, dialect), sessOpts)

	if cfg.AuditConsumerEnabled {
		a.Consumer = &queue.AuditConsumer{URL: cfg.RabbitMQURL, Dir: cfg.AuditLogDir, Log: log}
	}

	rl := config.LoadRateLimitConfig()
	if opts.RateLimit != nil {
		rl = *opts.RateLimit
	}
	a.Echo = newEcho(log)
	router.RegisterRoutes(a.Echo, db)
	router.RegisterAuth(a.Echo, handler.NewAuthHandler(cfg, a.Sessions, a.Tokens, log),
		middleware.NewTokenBucket(rl, a.Redis, log), cfg.InternalAuthSecret)
	router.RegisterUsers(a.Echo, handler.NewUserHandler(a.Sessions, log), a.Tokens, cfg.InternalAuthSecret)
	return a, nil
}

func newEcho(log *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", v.RemoteIP),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				level = slog.LevelError
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			log.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	}))
	return e
}

// Shutdown stops the HTTP server, waits for pending event publications and
// closes the stores.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Echo != nil {
		errs = append(errs, a.Echo.Shutdown(ctx))
	}
	if a.Sessions != nil {
		a.Sessions.Wait()
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	errs = append(errs, a.DB.Close())
	return errors.Join(errs...)
}
