// Package main is the entry point for the workflow service. It wires the
// record store, identity directory, event publisher and HTTP surface
// together and starts the server.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rynzz22/digital.talibon/internal/config"
	"github.com/rynzz22/digital.talibon/internal/events"
	"github.com/rynzz22/digital.talibon/internal/facade"
	"github.com/rynzz22/digital.talibon/internal/identity"
	"github.com/rynzz22/digital.talibon/internal/observability"
	"github.com/rynzz22/digital.talibon/internal/transport"
	"github.com/rynzz22/digital.talibon/internal/workflow"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "workflowd", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Open the record repository and load seed data.
	repo, repoCloser, err := buildRepository(ctx, cfg.Repository, logger)
	if err != nil {
		logger.Error("repository initialization failed", zap.Error(err))
		return 1
	}
	if cfg.Repository.SeedFile != "" {
		recs, err := workflow.LoadSeedFile(cfg.Repository.SeedFile)
		if err != nil {
			logger.Error("seed file load failed", zap.Error(err))
			return 1
		}
		n, err := workflow.Seed(ctx, repo, recs)
		if err != nil {
			logger.Error("seeding failed", zap.Error(err))
			return 1
		}
		logger.Info("seed data loaded",
			zap.String("file", cfg.Repository.SeedFile),
			zap.Int("created", n),
			zap.Int("records", len(recs)),
		)
	}

	// Step 5: Idempotency store and event publisher (optional).
	idemStore, idemCloser, err := buildIdempotencyStore(ctx, cfg.Idempotency, logger)
	if err != nil {
		logger.Error("idempotency store initialization failed", zap.Error(err))
		return 1
	}

	publisher, eventBus, eventsCloser, err := buildPublisher(cfg.Events, logger, metrics)
	if err != nil {
		logger.Error("event publisher initialization failed", zap.Error(err))
		return 1
	}

	// Step 6: Build the engine and facades.
	engineOpts := []workflow.Option{
		workflow.WithLogger(logger),
		workflow.WithRecorder(metrics),
		workflow.WithPublisher(publisher),
	}
	if idemStore != nil {
		engineOpts = append(engineOpts, workflow.WithIdempotency(idemStore, cfg.Idempotency.DefaultTTL))
	}
	engine := workflow.NewEngine(repo, engineOpts...)
	facades := facade.NewSet(engine)

	// Step 7: Officer directory and actor resolution.
	var (
		directory *identity.Directory
		source    identity.ProfileSource
		profiles  *identity.CachedSource
	)
	if cfg.Identity.ProfilesFile != "" {
		directory, err = identity.NewDirectory(cfg.Identity.ProfilesFile)
		if err != nil {
			logger.Error("officer directory load failed", zap.Error(err))
			return 1
		}
		metrics.SetProfilesLoaded(float64(directory.Len()))
		profiles = identity.NewCachedSource(directory, cfg.Identity.Cache.TTL, metrics)
		source = profiles
	} else {
		logger.Warn("no officer directory configured, every actor is synthesized from token claims")
	}
	resolver := facade.NewActorResolver(source, logger)

	// Step 8: Build HTTP router.
	auth, err := transport.NewAuthenticator(cfg.Identity, logger)
	if err != nil {
		logger.Error("authenticator initialization failed", zap.Error(err))
		return 1
	}

	readiness := observability.ReadinessChecks{Repository: engine}
	if hc, ok := idemStore.(observability.HealthChecker); ok {
		readiness.IdempotencyStore = hc
	}
	if eventBus != nil {
		readiness.EventBus = eventBus
	}
	if directory != nil {
		readiness.Profiles = directory
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:        cfg,
		Logger:        logger,
		Authenticate:  auth,
		ActorResolver: resolver,
		Facades:       facades,
		Metrics:       metrics,
		Readiness:     readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	if directory != nil {
		go runProfileReloader(bgCtx, directory, profiles, cfg.Identity.ProfileReload, metrics, logger)
	}

	// Step 10: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("repository", cfg.Repository.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()

	if eventsCloser != nil {
		eventsCloser()
	}
	if idemCloser != nil {
		idemCloser()
	}
	if repoCloser != nil {
		repoCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildRepository opens the record store selected by cfg.Driver.
func buildRepository(ctx context.Context, cfg config.RepositoryConfig, logger *zap.Logger) (workflow.Repository, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		logger.Info("using in-memory record repository")
		return workflow.NewMemoryRepository(), nil, nil

	case config.DriverSQLite:
		repo, err := workflow.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite repository: %w", err)
		}
		logger.Info("using sqlite record repository", zap.String("path", cfg.Path))
		return repo, func() {
			if err := repo.Close(); err != nil {
				logger.Error("sqlite close error", zap.Error(err))
			}
		}, nil

	case config.DriverPostgres:
		dsn := cfg.DSN()
		if dsn == "" {
			return nil, nil, fmt.Errorf("postgres repository: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres repository: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres repository: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres repository: ping: %w", err)
		}

		repo := workflow.NewPgRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres repository: %w", err)
		}
		logger.Info("using postgres record repository")
		return repo, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported repository driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the idempotency store based on config.
// Returns a nil store when idempotency is disabled.
func buildIdempotencyStore(ctx context.Context, cfg config.IdempotencyConfig, logger *zap.Logger) (workflow.IdempotencyStore, func(), error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	switch cfg.Driver {
	case config.DriverMemory, "":
		logger.Info("using in-memory idempotency store")
		return workflow.NewMemoryIdempotencyStore(), nil, nil

	case config.DriverRedis:
		addr := cfg.Addr()
		if addr == "" {
			return nil, nil, fmt.Errorf("redis idempotency store: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis idempotency store: ping: %w", err)
		}
		logger.Info("using redis idempotency store", zap.String("addr", addr), zap.Int("db", cfg.DB))
		return workflow.NewRedisIdempotencyStore(client), func() {
			if err := client.Close(); err != nil {
				logger.Error("redis close error", zap.Error(err))
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported idempotency driver: %q", cfg.Driver)
	}
}

// buildPublisher creates the transition event publisher. The returned health
// checker is nil unless events go to a broker.
func buildPublisher(cfg config.EventsConfig, logger *zap.Logger, metrics *observability.Metrics) (workflow.Publisher, observability.HealthChecker, func(), error) {
	if !cfg.Enabled || cfg.Driver == config.DriverNop || cfg.Driver == "" {
		return events.NopPublisher{}, nil, nil, nil
	}

	switch cfg.Driver {
	case config.DriverNATS:
		url := cfg.URL()
		if url == "" {
			return nil, nil, nil, fmt.Errorf("nats publisher: %s environment variable not set", cfg.URLEnv)
		}
		nc, err := events.Connect(url, cfg.ClientName)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("publishing transition events to nats",
			zap.String("subject_prefix", cfg.SubjectPrefix),
		)
		pub := events.NewNATSPublisher(nc, cfg.SubjectPrefix, logger, metrics)
		return pub, pub, func() {
			if err := nc.Drain(); err != nil {
				logger.Error("nats drain error", zap.Error(err))
			}
		}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported events driver: %q", cfg.Driver)
	}
}

// runProfileReloader periodically re-reads the officer directory and drops
// cached lookups after each successful reload.
func runProfileReloader(ctx context.Context, dir *identity.Directory, cache *identity.CachedSource, interval time.Duration, metrics *observability.Metrics, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := dir.Sync(); err != nil {
				metrics.RecordProfileReload("error")
				logger.Warn("officer directory reload failed", zap.Error(err))
				continue
			}
			cache.Flush()
			metrics.RecordProfileReload("ok")
			metrics.SetProfilesLoaded(float64(dir.Len()))
			logger.Debug("officer directory reloaded", zap.Int("profiles", dir.Len()))
		}
	}
}
