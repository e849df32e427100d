package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/liamcoop/decisions/enginemanager"
	"github.com/liamcoop/decisions/internal/logger"
	"github.com/liamcoop/decisions/internal/metrics"
	"github.com/liamcoop/decisions/rules"
)

// slowRequestThreshold marks requests counted as slow
const slowRequestThreshold = time.Second

// Config is read from the environment
type Config struct {
	DatabaseURL     string
	SQLitePath      string
	RedisAddr       string
	Port            string
	ConfigDir       string
	RefreshSchedule string
	CacheTTL        time.Duration
}

// ConfigFromEnv reads DATABASE_URL, SQLITE_PATH, REDIS_ADDR, PORT, CONFIG_DIR,
// REFRESH_SCHEDULE and CACHE_TTL
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		SQLitePath:      os.Getenv("SQLITE_PATH"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		Port:            os.Getenv("PORT"),
		ConfigDir:       os.Getenv("CONFIG_DIR"),
		RefreshSchedule: os.Getenv("REFRESH_SCHEDULE"),
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if ttl := os.Getenv("CACHE_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return cfg, fmt.Errorf("invalid CACHE_TTL %q: %w", ttl, err)
		}
		cfg.CacheTTL = d
	}
	return cfg, nil
}

type Server struct {
	db        *sql.DB
	closers   []func() error
	store     rules.DecisionSetStore
	manager   *enginemanager.Manager
	metrics   *metrics.Metrics
	router    *chi.Mux
	startedAt time.Time
}

// NewServer picks the store (PostgreSQL, SQLite, then in-memory) and the
// cache (Redis when REDIS_ADDR is set) from cfg
func NewServer(cfg Config) (*Server, error) {
	var closers []func() error

	cacheConfig := rules.CacheConfig{TTL: cfg.CacheTTL}
	var cache rules.DecisionSetCache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		closers = append(closers, client.Close)
		cache = rules.NewRedisDecisionSetCache(client, cacheConfig, rules.WithRedisLogger(logger.Logger))
		logger.Info("using redis decision set cache", "addr", cfg.RedisAddr)
	} else {
		cache = rules.NewInMemoryDecisionSetCache(cacheConfig)
	}

	var (
		store rules.DecisionSetStore
		db    *sql.DB
	)
	switch {
	case cfg.DatabaseURL != "":
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		closers = append(closers, db.Close)
		store = rules.NewPostgresDecisionSetStore(db)
	case cfg.SQLitePath != "":
		sqlite, err := rules.NewSQLiteDecisionSetStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		closers = append(closers, sqlite.Close)
		store = sqlite
		logger.Info("using sqlite decision set store", "path", cfg.SQLitePath)
	default:
		logger.Info("DATABASE_URL and SQLITE_PATH not set, using in-memory decision set store")
		store = rules.NewInMemoryDecisionSetStore()
	}

	s, err := NewServerWithStore(store, db, cache)
	if err != nil {
		for _, closeFn := range closers {
			closeFn()
		}
		return nil, err
	}
	s.closers = closers
	return s, nil
}

// NewServerWithStore creates a server over an existing store. db may be nil;
// a nil cache means an in-memory cache invalidated only by mutations.
func NewServerWithStore(store rules.DecisionSetStore, db *sql.DB, cache rules.DecisionSetCache) (*Server, error) {
	if cache == nil {
		cache = rules.NewInMemoryDecisionSetCache(rules.DefaultCacheConfig())
	}

	m := metrics.New(nil)
	m.RegisterLogCounters()

	manager := enginemanager.NewManager(store,
		enginemanager.WithCache(cache),
		enginemanager.WithEngineOptions(rules.WithObserver(m)),
		enginemanager.WithLogger(logger.Logger),
	)
	m.RegisterServedSets(func() int { return len(manager.List()) })

	logger.Info("loading decision sets")
	if err := manager.LoadAll(); err != nil {
		return nil, fmt.Errorf("failed to load decision sets: %w", err)
	}
	logger.Info("decision sets ready", "names", manager.List())

	s := &Server{
		db:        db,
		store:     store,
		manager:   manager,
		metrics:   m,
		startedAt: time.Now(),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Post("/api/v1/evaluate", s.handleEvaluate)

	r.Route("/api/v1/decisionsets", func(r chi.Router) {
		r.Get("/", s.handleListDecisionSets)
		r.Post("/", s.handleCreateDecisionSet)

		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", s.handleGetDecisionSet)
			r.Put("/", s.handleUpdateDecisionSet)
			r.Delete("/", s.handleDeleteDecisionSet)
			r.Post("/actions", s.handleActions)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases the store and cache connections
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Warn("failed to close resource", "error", err)
		}
	}
}

// requestLogger logs every request through the service logger and counts slow ones
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		if elapsed > slowRequestThreshold {
			logger.WarnSlowRequest()
		}
		logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", elapsed,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func main() {
	logger.Info("logging configured", logger.Describe()...)

	cfg, err := ConfigFromEnv()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RefreshSchedule != "" {
		refresher, err := enginemanager.NewRefresher(server.manager, cfg.RefreshSchedule, logger.Logger)
		if err != nil {
			logger.Fatal("invalid refresh schedule", "error", err)
		}
		if err := refresher.Start(ctx); err != nil {
			logger.Fatal("failed to start refresher", "error", err)
		}
		defer refresher.Stop()
	}

	if cfg.ConfigDir != "" {
		watcher, err := enginemanager.NewWatcher(cfg.ConfigDir, server.manager, 0, logger.Logger)
		if err != nil {
			logger.Fatal("failed to create config watcher", "error", err)
		}
		defer watcher.Stop()

		go func() {
			if err := watcher.Watch(ctx); err != nil {
				logger.Error("config watcher exited", "dir", cfg.ConfigDir, "error", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}
