package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/codecov/codecov-api/internal/adapter/httpserver"
	"github.com/codecov/codecov-api/internal/adapter/metrics"
	"github.com/codecov/codecov-api/internal/adapter/postgres"
	"github.com/codecov/codecov-api/internal/adapter/redis"
	"github.com/codecov/codecov-api/internal/adapter/stripe"
	"github.com/codecov/codecov-api/internal/adapter/vcs"
	"github.com/codecov/codecov-api/internal/app"
	"github.com/codecov/codecov-api/internal/domain"
	"github.com/codecov/codecov-api/internal/platform/config"
	"github.com/codecov/codecov-api/internal/platform/crypto"
	"github.com/codecov/codecov-api/internal/platform/logging"
	"github.com/codecov/codecov-api/internal/platform/signedcookie"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"
)

const (
	sessionMemoryTTL      = 30 * time.Second
	sessionEvictInterval  = time.Minute
	pruneLeaderKey        = "codecov:session-pruner:leader"
	tokenKeyVersion       = "v1"
	shutdownTimeout       = 10 * time.Second
	dependencyInitTimeout = 10 * time.Second
)

type appMetrics struct {
	http    *metrics.HTTPMetrics
	db      *metrics.DBMetrics
	redis   *metrics.RedisMetrics
	cache   *metrics.CacheMetrics
	vcs     *metrics.VCSMetrics
	breaker *metrics.BreakerMetrics
	app     *metrics.AppMetrics
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config, m *metrics.DBMetrics) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), dependencyInitTimeout)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.WithTracer(postgres.NewMetricsTracer(m)), postgres.WithApplicationName("codecov-api"))
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config, m appMetrics) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), dependencyInitTimeout)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL, redis.NewMetricsHook(m.redis), redis.NewCircuitBreakerHook(m.breaker))
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func setupProviders(cfg *config.Config, m appMetrics) []domain.VCSProvider {
	configured := cfg.Providers()
	providers := make([]domain.VCSProvider, 0, len(configured))
	for _, service := range slices.Sorted(maps.Keys(configured)) {
		redirectURL := strings.TrimSuffix(cfg.APIURL, "/") + "/login/" + service
		p, err := vcs.NewProvider(service, configured[service], redirectURL, vcs.WithMetrics(m.vcs, m.breaker))
		if err != nil {
			slog.Error("Failed to create VCS provider", "service", service, "error", err)
			os.Exit(1)
		}
		providers = append(providers, p)
		slog.Info("VCS provider enabled", "service", service)
	}
	return providers
}

func setupSigner(cfg *config.Config, clock clockwork.Clock) *signedcookie.Signer {
	opts := []signedcookie.Option{
		signedcookie.WithMaxAge(cfg.CookieMaxAge),
		signedcookie.WithKeyVersion(cfg.CookieKeyVersion),
	}
	if cfg.CookieSecretPrevious != "" {
		opts = append(opts, signedcookie.WithPreviousKey(cfg.CookiePreviousKeyVersion, cfg.CookieSecretPrevious))
	}
	return signedcookie.NewSigner(cfg.CookieSecret, clock, opts...)
}

func instanceID(cfg *config.Config) string {
	if cfg.InstanceID != "" {
		return cfg.InstanceID
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}

func runGracefulShutdown(srv *httpserver.Server, cleanups ...func()) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		for _, cleanup := range cleanups {
			cleanup()
		}
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	reg := metrics.NewRegistry()
	m := appMetrics{
		http:    metrics.NewHTTPMetrics(reg),
		db:      metrics.NewDBMetrics(reg),
		redis:   metrics.NewRedisMetrics(reg),
		cache:   metrics.NewCacheMetrics(reg),
		vcs:     metrics.NewVCSMetrics(reg),
		breaker: metrics.NewBreakerMetrics(reg),
		app:     metrics.NewAppMetrics(reg),
	}

	pool := setupDB(cfg, m.db)
	defer pool.Close()

	redisClient := setupRedis(cfg, m)
	defer func() { _ = redisClient.Close() }()

	cryptoSvc, err := crypto.NewAESGCM(map[string]string{tokenKeyVersion: cfg.TokenEncryptionKey}, tokenKeyVersion)
	if err != nil {
		slog.Error("Failed to create crypto service", "error", err)
		os.Exit(1)
	}

	owners := postgres.NewOwnerRepo(pool, cryptoSvc)
	repos := postgres.NewRepoRepo(pool)
	branches := postgres.NewBranchRepo(pool)
	sessions := postgres.NewSessionRepo(pool)
	measurements := postgres.NewMeasurementRepo(pool)
	datasets := postgres.NewDatasetRepo(pool)
	envVars := postgres.NewEnvVarsExposedRepo(pool)

	sessionCache := redis.NewSessionCache(redisClient, sessions, clock, sessionMemoryTTL, cfg.SessionCacheTTL, m.cache)
	stopEviction := sessionCache.StartEvictionTimer(clock, sessionEvictInterval)
	subCtx, stopSubscription := context.WithCancel(context.Background())
	go sessionCache.Subscribe(subCtx)

	providers := setupProviders(cfg, m)

	repoSync := app.NewRepoSyncService(owners, repos, providers)
	authSvc := app.NewAuthService(owners, sessions, sessionCache, providers, clock, app.WithRepoSync(repoSync))
	branchSvc := app.NewBranchService(branches, owners, providers, clock)

	deps := httpserver.Deps{
		Auth:  authSvc,
		Repos: app.NewRepoService(owners, repos),
		Branches: func(currentUser *domain.Owner, service string) httpserver.BranchCommands {
			return branchSvc.Commands(currentUser, service)
		},
		Timeseries: app.NewTimeseriesService(measurements, datasets, clock),
		Security:   app.NewSecurityService(envVars, repos),
		Signer:     setupSigner(cfg, clock),
		Clock:      clock,
		HealthChecks: []httpserver.HealthCheck{
			{Name: "postgres", Check: pool.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
		},
		HTTPMetrics:    m.http,
		AppMetrics:     m.app,
		MetricsHandler: metrics.Handler(reg),
	}

	// Assign billing only when configured to avoid typed-nil interfaces.
	if cfg.StripeAPIKey != "" {
		deps.Billing = app.NewBillingService(owners, stripe.NewClient(cfg.StripeAPIKey), cfg.PlanPriceIDs)
		if cfg.StripeWebhookSecret != "" {
			deps.Webhooks = stripe.NewWebhookParser(cfg.StripeWebhookSecret)
		}
	}

	lock := redis.NewLeaderLock(redisClient, pruneLeaderKey, instanceID(cfg), 2*cfg.SessionPruneInterval)
	pruner := app.NewSessionPruner(sessions, lock, clock, cfg.SessionMaxIdle, cfg.SessionPruneInterval, m.app.ObservePruned)
	pruner.Start()

	srv := httpserver.NewServer(cfg, deps)

	done := runGracefulShutdown(srv, pruner.Stop, stopSubscription, stopEviction)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
