package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/campusreg/apiserver/config"
	"github.com/campusreg/apiserver/internal/db"
	"github.com/campusreg/apiserver/internal/handlers"
	"github.com/campusreg/apiserver/internal/mailer"
	"github.com/campusreg/apiserver/internal/mq"
	"github.com/campusreg/apiserver/internal/ratelimit"
	"github.com/campusreg/apiserver/internal/services"
	"github.com/campusreg/apiserver/internal/storage"
	"github.com/campusreg/apiserver/internal/store"
	"github.com/campusreg/apiserver/internal/token"
)

// Server wraps the HTTP server and its backing connections.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	redis      *redis.Client
	broker     mq.Backend
	logger     *slog.Logger
}

// New constructs a Server with all dependencies wired.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	jwtSecret := strings.TrimSpace(cfg.Auth.JWTSecret)
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	badgeStore, err := storage.NewFromConfig(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		_ = rdb.Close()
		return nil, err
	}
	if badgeStore != nil {
		if err := badgeStore.EnsureBucket(ctx); err != nil {
			_ = dbConn.Close()
			_ = rdb.Close()
			return nil, fmt.Errorf("preparing badge bucket: %w", err)
		}
	}

	broker, err := mq.NewFromConfig(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		_ = rdb.Close()
		return nil, err
	}

	accounts := store.NewAccountRepository(dbConn)
	limiter := ratelimit.NewFailureLimiter(rdb, cfg.RateLimit.MaxFailures, cfg.RateLimit.Window)
	tokens := token.NewIssuer(jwtSecret, cfg.Auth.Issuer)
	outbox := mailer.NewOutbox(broker, logger)
	google := services.NewGoogleVerifier(cfg.Auth.GoogleClientID)

	authService := services.NewAuthService(accounts, limiter, tokens, google, outbox, logger, cfg.Auth)
	userService := services.NewUserService(accounts, badgeStore, logger)
	badgeService := services.NewBadgeService(accounts, badgeStore, logger)

	devMode := cfg.Environment == "dev"
	authHandler := handlers.NewAuthHandler(authService, devMode)
	userHandler := handlers.NewUserHandler(userService, badgeService)
	authMiddleware := handlers.RequireAuth(tokens)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Handle("/metrics", promhttp.Handler())
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler, authMiddleware)
	})
	router.With(authMiddleware).Get("/profile", authHandler.Profile)
	router.Route("/users", func(r chi.Router) {
		handlers.BadgeRouter(r, userHandler, authMiddleware)
	})
	router.Route("/admin/users", func(r chi.Router) {
		handlers.AdminUserRouter(r, userHandler, authMiddleware)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		redis:      rdb,
		broker:     broker,
		logger:     logger,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown closes the HTTP server and backing connections.
func (s *Server) Shutdown() error {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.broker != nil {
		_ = s.broker.Close()
	}
	return s.httpServer.Close()
}
