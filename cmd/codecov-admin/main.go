package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/codecov/codecov-api/internal/adapter/cli"
	"github.com/codecov/codecov-api/internal/adapter/postgres"
	"github.com/codecov/codecov-api/internal/adapter/vcs"
	"github.com/codecov/codecov-api/internal/app"
	"github.com/codecov/codecov-api/internal/domain"
	"github.com/codecov/codecov-api/internal/platform/config"
	"github.com/codecov/codecov-api/internal/platform/crypto"
	"github.com/codecov/codecov-api/internal/platform/logging"
	"github.com/jonboulle/clockwork"
)

const (
	connectTimeout  = 10 * time.Second
	tokenKeyVersion = "v1"
)

// load connects to Postgres only. Redis is never touched, and VCS providers are
// built only when configured, for repository syncs.
func load(ctx context.Context) (*cli.Deps, func(), error) {
	cfg, err := config.LoadAdmin()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	pool, err := postgres.Connect(connectCtx, cfg.DatabaseURL, postgres.WithApplicationName("codecov-admin"))
	if err != nil {
		return nil, nil, err
	}

	cryptoSvc, err := crypto.NewAESGCM(map[string]string{tokenKeyVersion: cfg.TokenEncryptionKey}, tokenKeyVersion)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to create crypto service: %w", err)
	}

	providers, err := setupProviders(cfg)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	clock := clockwork.NewRealClock()
	sessions := postgres.NewSessionRepo(pool)
	owners := postgres.NewOwnerRepo(pool, cryptoSvc)
	repos := postgres.NewRepoRepo(pool)

	deps := &cli.Deps{
		Timeseries: app.NewTimeseriesService(postgres.NewMeasurementRepo(pool), postgres.NewDatasetRepo(pool), clock),
		Owners:     owners,
		Repos:      app.NewRepoSyncService(owners, repos, providers),
		Security:   app.NewSecurityService(postgres.NewEnvVarsExposedRepo(pool), repos),
		Pruner: func(maxIdle time.Duration) cli.SessionPruner {
			return app.NewSessionPruner(sessions, nil, clock, maxIdle, 0, nil)
		},
		Migrate: func(ctx context.Context) error { return postgres.RunMigrationsWithLock(ctx, pool) },
		MigrationStatus: func(ctx context.Context) (int32, int32, error) {
			st, err := postgres.MigrationStatus(ctx, pool)
			return st.Current, st.Latest, err
		},
	}
	return deps, pool.Close, nil
}

func setupProviders(cfg *config.Config) ([]domain.VCSProvider, error) {
	configured := cfg.Providers()
	providers := make([]domain.VCSProvider, 0, len(configured))
	for _, service := range slices.Sorted(maps.Keys(configured)) {
		redirectURL := strings.TrimSuffix(cfg.APIURL, "/") + "/login/" + service
		p, err := vcs.NewProvider(service, configured[service], redirectURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s provider: %w", service, err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

func main() {
	root, release := cli.NewRootCmd(load)
	err := root.ExecuteContext(context.Background())
	release()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
