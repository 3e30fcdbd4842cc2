// Command usersvc serves a user table over HTTP. Every request runs in its
// own request scope, so repeated reads of the same user within one request
// hit the database once and writes drop the entries they make stale.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jonwraymond/reqcache/cache"
	"github.com/jonwraymond/reqcache/command"
	"github.com/jonwraymond/reqcache/health"
	"github.com/jonwraymond/reqcache/observe"
	"github.com/jonwraymond/reqcache/resilience"
)

// maxActiveScopes is the number of live request scopes above which the
// service reports itself degraded.
const maxActiveScopes = 1024

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "usersvc:", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	dsn := flag.String("db", ":memory:", "sqlite database path")
	configPath := flag.String("config", "", "observability config file (YAML)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := defaultObserveConfig()
	if *configPath != "" {
		loaded, err := observe.LoadConfig(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	obs, err := observe.NewObserver(ctx, cfg)
	if err != nil {
		return fmt.Errorf("observer: %w", err)
	}

	db, err := openDB(*dsn)
	if err != nil {
		return err
	}

	a, err := newApp(db, obs)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.logger.Info(ctx, "listening", observe.Field{Key: "addr", Value: *addr})

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Join(
		srv.Shutdown(shutdownCtx),
		a.close(shutdownCtx),
		obs.Shutdown(shutdownCtx),
	)
}

func defaultObserveConfig() observe.Config {
	return observe.Config{
		ServiceName: "usersvc",
		Logging:     observe.LoggingConfig{Enabled: true, Level: "info"},
	}
}

// openDB opens the sqlite database and migrates the users table.
func openDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	if dsn == ":memory:" {
		// Every connection would otherwise see its own empty database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, fmt.Errorf("migrate users: %w", err)
	}
	return db, nil
}

type app struct {
	db       *gorm.DB
	registry *cache.Registry
	users    *userService
	breakers *resilience.CircuitBreakerGroup
	health   *health.Aggregator
	router   chi.Router
	logger   observe.Logger
}

func newApp(db *gorm.DB, obs observe.Observer) (*app, error) {
	logger := obs.Logger()
	breakers := resilience.NewCircuitBreakerGroup(resilience.CircuitBreakerConfig{
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
		OnStateChange: func(command string, from, to resilience.State) {
			logger.Warn(context.Background(), "command circuit state changed",
				observe.Field{Key: "command.id", Value: command},
				observe.Field{Key: "from", Value: from.String()},
				observe.Field{Key: "to", Value: to.String()})
		},
	})
	bulkhead := resilience.NewBulkhead(resilience.BulkheadConfig{
		MaxConcurrent: 64,
		MaxWait:       100 * time.Millisecond,
	})
	executor := resilience.NewExecutor(
		resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:       500,
			Burst:      100,
			PerCommand: true,
		})),
		resilience.WithBulkhead(bulkhead),
		resilience.WithCircuitBreakerGroup(breakers),
		resilience.WithRetry(resilience.NewRetry(resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 20 * time.Millisecond,
			Jitter:       true,
		})),
		resilience.WithTimeout(2*time.Second),
	)

	runner, err := command.NewRunner(command.WithExecutor(executor), command.WithObserver(obs))
	if err != nil {
		return nil, err
	}
	users, err := newUserService(db, runner)
	if err != nil {
		return nil, fmt.Errorf("register commands: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	registry := cache.NewRegistry(cache.DefaultPolicy(), cache.WithLogger(logger))

	agg := health.NewAggregator(health.AggregatorConfig{Timeout: 5 * time.Second})
	agg.Register(health.PingCheck("database", sqlDB.PingContext))
	agg.Register(health.CircuitCheck(breakers))
	agg.Register(health.BulkheadCheck("command_slots", bulkhead))
	agg.Register(health.ScopeCheck(registry, maxActiveScopes))

	router := chi.NewRouter()
	router.Use(chimw.RequestID, chimw.Recoverer)
	health.Routes(router, agg)
	router.Group(func(r chi.Router) {
		r.Use(cache.Middleware(registry))
		(&userHandlers{users: users, logger: logger}).routes(r)
	})

	return &app{
		db:       db,
		registry: registry,
		users:    users,
		breakers: breakers,
		health:   agg,
		router:   router,
		logger:   logger,
	}, nil
}

// close ends any request scope still open and closes the database.
func (a *app) close(ctx context.Context) error {
	if n := a.registry.Close(ctx); n > 0 {
		a.logger.Warn(ctx, "ended request scopes left open at shutdown", observe.Field{Key: "count", Value: n})
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
