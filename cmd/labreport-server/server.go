package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/medigen/labreport/internal/config"
	"github.com/medigen/labreport/internal/domain/lab"
	"github.com/medigen/labreport/internal/platform/auth"
	"github.com/medigen/labreport/internal/platform/db"
	"github.com/medigen/labreport/internal/platform/events"
	"github.com/medigen/labreport/internal/platform/metrics"
	"github.com/medigen/labreport/internal/platform/middleware"
	"github.com/medigen/labreport/internal/platform/narrative"
)

const augmentRoute = "/api/v1/reports/:reportId/augment"

func newLabService(pool *pgxpool.Pool, tx lab.Transactor) *lab.Service {
	return lab.NewService(
		tx,
		lab.NewPatientRepoPG(pool),
		lab.NewCatalogRepoPG(pool),
		lab.NewTestResultRepoPG(pool),
		lab.NewReportRepoPG(pool),
		lab.NewSequenceRepoPG(pool),
	)
}

// newRouter assembles the HTTP surface. health serves /health and is
// reachable without credentials, as is /metrics.
func newRouter(cfg *config.Config, logger zerolog.Logger, svc *lab.Service, m *metrics.Metrics, health echo.HandlerFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(middleware.TimeoutConfig{
		Timeout:   cfg.RequestTimeout,
		Overrides: map[string]time.Duration{augmentRoute: cfg.NarrativeTimeout + 5*time.Second},
	}))

	e.GET("/health", health)
	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
	authMW := auth.JWTMiddleware(jwtCfg)
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	}

	// Rate limiting runs after auth so authenticated callers get their own bucket.
	apiV1 := e.Group("/api/v1", authMW, middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}), middleware.Audit(logger))
	lab.NewHandler(svc).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	m := metrics.New()
	tx := db.NewTxRunner(pool, cfg.TxMaxAttempts, db.WithConflictHook(m.TxConflict))

	svc := newLabService(pool, tx)
	svc.SetRecorder(m)
	svc.SetLogger(logger)
	svc.SetPublishWorkers(cfg.PublishWorkers)
	svc.SetNarrativeTimeout(cfg.NarrativeTimeout)

	if cfg.NarrativeEnabled() {
		svc.SetNarrativeGenerator(narrative.NewClient(narrative.Config{
			BaseURL:    cfg.NarrativeBaseURL,
			APIKey:     cfg.NarrativeAPIKey,
			Model:      cfg.NarrativeModel,
			Timeout:    cfg.NarrativeTimeout,
			RetryCount: 2,
		}))
		logger.Info().Str("model", cfg.NarrativeModel).Msg("report augmentation enabled")
	} else {
		logger.Warn().Msg("NARRATIVE_API_KEY not set; report augmentation disabled")
	}

	var checks []db.Check
	if cfg.RedisURL != "" {
		client, err := events.NewRedisClient(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure redis")
		}
		defer client.Close()
		pub := events.NewRedisPublisher(client, cfg.EventsStream, cfg.EventsMaxLen)
		svc.SetEventPublisher(pub)
		checks = append(checks, db.Check{Name: "events", Probe: pub.Ping})
		logger.Info().Str("stream", cfg.EventsStream).Msg("lifecycle events enabled")
	} else {
		svc.SetEventPublisher(events.Nop{})
	}

	e := newRouter(cfg, logger, svc, m, db.HealthHandler(pool, checks...))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
