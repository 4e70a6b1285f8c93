package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"file-service/internal/auth"
	"file-service/internal/config"
	"file-service/internal/db"
	"file-service/internal/file"
	"file-service/internal/health"
	"file-service/internal/logger"
	"file-service/internal/mail"
	"file-service/internal/messaging"
	"file-service/internal/middleware"
	"file-service/internal/policy"
	"file-service/internal/storage"
	"file-service/internal/telemetry"
	"file-service/internal/user"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/uptrace/bun"
)

const tokenCleanupInterval = time.Hour

type App struct {
	config    *config.Config
	router    chi.Router
	server    *http.Server
	logger    *slog.Logger
	db        *bun.DB
	producer  messaging.Producer
	telemetry *telemetry.Telemetry
	authRepo  *auth.Repository
	// background work started by Run; cancelled by Shutdown
	bgCtx context.Context
	stop  context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	env := os.Getenv("ENV")
	if env == "" {
		env = "local"
	}
	slogLogger := logger.NewWithServiceContext(ServiceName, Version, env)

	// Set as default logger so slog.Info() uses the same handler
	slog.SetDefault(slogLogger)

	slogLogger.Info("initializing application", "commit", GitCommit, "build_time", BuildTime)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	slogLogger.Info("config loaded", "env", cfg.Env)

	tel, err := telemetry.Init(ctx, cfg.Telemetry, ServiceName, Version, cfg.Env, slogLogger)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	m := tel.Metrics

	database, err := db.New(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := m.Database.RegisterDB(database.DB, m.Meter()); err != nil {
		slogLogger.Warn("failed to register db pool metrics", "error", err)
	}

	if err := db.RunMigrations(ctx, database, (*user.User)(nil), (*file.File)(nil), (*auth.RefreshToken)(nil)); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	if err := db.CreateIndexes(ctx, database, file.Indexes...); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}

	userRepo := user.NewRepository(database, m)
	if err := user.Bootstrap(ctx, userRepo, cfg.Bootstrap.Users, slogLogger); err != nil {
		return nil, err
	}

	var store storage.BlobStore
	if cfg.Storage.Endpoint == "" {
		slogLogger.Warn("storage endpoint not configured, keeping files in memory")
		store = storage.NewMemoryStore()
	} else {
		minioStore, err := storage.NewMinioStore(ctx, cfg.Storage, m, slogLogger)
		if err != nil {
			return nil, err
		}
		store = minioStore
	}

	producer, err := messaging.NewProducer(cfg.Events, m, slogLogger)
	if err != nil {
		slogLogger.Warn("failed to initialize event producer, events disabled", "driver", cfg.Events.Driver, "error", err)
		producer = messaging.NoopProducer{}
	}

	scope, err := policy.ParseScope(cfg.Files.Visibility)
	if err != nil {
		return nil, err
	}

	app := &App{
		config:    cfg,
		router:    chi.NewRouter(),
		logger:    slogLogger,
		db:        database,
		producer:  producer,
		telemetry: tel,
	}

	app.router.Use(chimiddleware.RequestID)
	app.router.Use(chimiddleware.RealIP)
	app.router.Use(middleware.RequestLogger(slogLogger))
	app.router.Use(chimiddleware.Recoverer)
	app.router.Use(middleware.CORS(cfg.Server.CORSOrigins))
	app.router.Use(m.HTTP.Middleware)

	// Health endpoints (no auth required)
	healthHandler := health.NewHandler(m, slogLogger,
		health.Check{Name: "database", Ping: database.PingContext},
		health.Check{Name: "storage", Ping: store.Ping},
	)
	if err := m.Health.RegisterDependencies(m.Meter(), healthHandler.Names()); err != nil {
		slogLogger.Warn("failed to register dependency metrics", "error", err)
	}
	healthHandler.RegisterRoutes(app.router)

	// Auth setup
	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL())
	app.authRepo = auth.NewRepository(database, m)
	authService := auth.NewService(app.authRepo, userRepo, auth.ServiceConfig{
		Tokens:       tokens,
		Tickets:      auth.NewTicketIssuer(cfg.Auth.ResetSecretOrDefault(), cfg.Auth.ResetTicketTTL()),
		Mailer:       mail.NewSender(cfg.Mail, slogLogger),
		ResetBaseURL: cfg.Auth.ResetBaseURL,
		RefreshTTL:   cfg.Auth.RefreshTokenTTL(),
	}, m, slogLogger)
	authHandler := auth.NewHandler(authService, tokens, secureCookies(cfg.Env), slogLogger)
	authHandler.RegisterRoutes(app.router)

	// File registry
	fileService := file.NewService(file.NewRepository(database, m), store, producer, file.Options{
		Scope:          scope,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		PresignTTL:     cfg.Storage.PresignTTL(),
	}, m, slogLogger)
	fileHandler := file.NewHandler(fileService, cfg.Storage.DownloadMode, cfg.Storage.MaxUploadBytes, slogLogger)

	// Create protected routes group for /api endpoints
	app.router.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(tokens, slogLogger))
		authHandler.RegisterProtectedRoutes(r)
		fileHandler.RegisterRoutes(r)
	})

	app.server = &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      app.router,
		ReadTimeout:  seconds(cfg.Server.ReadTimeout, 30),
		WriteTimeout: seconds(cfg.Server.WriteTimeout, 60),
		IdleTimeout:  seconds(cfg.Server.IdleTimeout, 120),
	}
	app.bgCtx, app.stop = context.WithCancel(context.Background())

	slogLogger.Info("application initialized successfully", "visibility", scope, "download_mode", cfg.Storage.DownloadMode)

	return app, nil
}

func secureCookies(env string) bool {
	return env == "prod" || env == "production"
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

func (a *App) Run() error {
	go a.cleanupTokens(a.bgCtx)

	a.logger.Info("server starting", "port", a.config.Server.Port)
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// cleanupTokens purges expired refresh tokens until ctx is done.
func (a *App) cleanupTokens(ctx context.Context) {
	ticker := time.NewTicker(tokenCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.authRepo.DeleteExpiredTokens(ctx)
			if err != nil {
				a.logger.Warn("refresh token cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				a.logger.Info("expired refresh tokens removed", "count", n)
			}
		}
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down server")

	a.stop()
	err := a.server.Shutdown(ctx)

	if closeErr := a.producer.Close(); closeErr != nil {
		a.logger.Error("event producer close error", "error", closeErr)
	}
	db.Close(a.db)

	if telErr := a.telemetry.Shutdown(ctx, a.logger); telErr != nil {
		a.logger.Error("telemetry shutdown error", "error", telErr)
	}

	return err
}
