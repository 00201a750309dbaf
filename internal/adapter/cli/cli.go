// Package cli implements the codecov-admin maintenance commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/codecov/codecov-api/internal/app"
	"github.com/codecov/codecov-api/internal/domain"
	"github.com/spf13/cobra"
)

type timeseriesAdmin interface {
	Datasets(ctx context.Context, repositoryID int64) ([]app.DatasetStatus, error)
	SyncBackfilled(ctx context.Context, repositoryID int64) (int, error)
	PurgeRepo(ctx context.Context, repoID int64) (app.PurgeResult, error)
}

type SessionPruner interface {
	PruneOnce(ctx context.Context) (int64, error)
}

type ownerAdmin interface {
	SetStripeCustomer(ctx context.Context, ownerID int64, customerID string) error
}

type repoAdmin interface {
	SyncOwnerByID(ctx context.Context, ownerID int64) (int, error)
}

type securityAdmin interface {
	Import(ctx context.Context, records []domain.EnvVarsExposed) (int, error)
}

// Deps are built once per invocation, after flags are parsed.
type Deps struct {
	Timeseries timeseriesAdmin
	Owners     ownerAdmin
	Repos      repoAdmin
	Security   securityAdmin
	// Pruner builds a pruner deleting login sessions idle for longer than maxIdle.
	Pruner  func(maxIdle time.Duration) SessionPruner
	Migrate func(ctx context.Context) error
	// MigrationStatus returns the applied and the latest schema version.
	MigrationStatus func(ctx context.Context) (current, latest int32, err error)
}

// Loader connects to the backing stores. The returned func releases them.
type Loader func(ctx context.Context) (*Deps, func(), error)

type commands struct {
	load    Loader
	deps    *Deps
	release func()
}

// NewRootCmd builds the codecov-admin command tree. The returned func releases
// whatever the loader acquired and must be called after Execute.
func NewRootCmd(load Loader) (*cobra.Command, func()) {
	c := &commands{load: load}

	root := &cobra.Command{
		Use:           "codecov-admin",
		Short:         "Maintenance commands for the codecov API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			deps, cleanup, err := c.load(cmd.Context())
			if err != nil {
				return err
			}
			c.deps, c.release = deps, cleanup
			return nil
		},
	}

	root.AddCommand(
		c.newDatasetsCmd(),
		c.newSessionsCmd(),
		c.newOwnersCmd(),
		c.newMeasurementsCmd(),
		c.newReposCmd(),
		c.newEnvVarsExposedCmd(),
		c.newMigrateCmd(),
	)
	return root, func() {
		if c.release != nil {
			c.release()
		}
	}
}

func (c *commands) newDatasetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "Timeseries dataset operations",
	}
	cmd.PersistentFlags().Int64("repo", 0, "Restrict to one repository id (0 means all)")
	cmd.AddCommand(c.newDatasetsListCmd(), c.newDatasetsSyncCmd())
	return cmd
}

func (c *commands) newDatasetsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List datasets and their backfill state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repoID, _ := cmd.Flags().GetInt64("repo")
			statuses, err := c.deps.Timeseries.Datasets(cmd.Context(), repoID)
			if err != nil {
				return fmt.Errorf("failed to list datasets: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tREPOSITORY\tSTORED\tBACKFILLED\tCREATED")
			for _, s := range statuses {
				created := "-"
				if !s.CreatedAt.IsZero() {
					created = s.CreatedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%t\t%t\t%s\n", s.ID, s.Name, s.RepositoryID, s.Backfilled, s.IsBackfilled, created)
			}
			return w.Flush()
		},
	}
}

func (c *commands) newDatasetsSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-backfilled",
		Short: "Persist the backfilled flag for datasets past their backfill window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repoID, _ := cmd.Flags().GetInt64("repo")
			marked, err := c.deps.Timeseries.SyncBackfilled(cmd.Context(), repoID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marked %d dataset(s) as backfilled\n", marked)
			return nil
		},
	}
}

func (c *commands) newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Session operations",
	}

	var maxIdle time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete login sessions idle for longer than --max-idle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if maxIdle <= 0 {
				return fmt.Errorf("--max-idle must be positive, got %s", maxIdle)
			}
			deleted, err := c.deps.Pruner(maxIdle).PruneOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to prune sessions: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d session(s)\n", deleted)
			return nil
		},
	}
	prune.Flags().DurationVar(&maxIdle, "max-idle", 30*24*time.Hour, "Idle time after which a login session is deleted")

	cmd.AddCommand(prune)
	return cmd
}

func (c *commands) newOwnersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owners",
		Short: "Owner operations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set-stripe-customer <owner-id> <customer-id>",
		Short: "Link an owner to a Stripe customer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := c.deps.Owners.SetStripeCustomer(cmd.Context(), ownerID, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "owner %d linked to %s\n", ownerID, args[1])
			return nil
		},
	})
	return cmd
}

func (c *commands) newMeasurementsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "measurements",
		Short: "Timeseries measurement operations",
	}

	var confirm bool
	purge := &cobra.Command{
		Use:   "purge <repo-id>",
		Short: "Delete every measurement and dataset of a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoID, err := parseID(args[0])
			if err != nil {
				return err
			}
			if !confirm {
				return fmt.Errorf("refusing to purge repository %d without --yes", repoID)
			}
			res, err := c.deps.Timeseries.PurgeRepo(cmd.Context(), repoID)
			if err != nil {
				return fmt.Errorf("failed to purge repository %d: %w", repoID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d measurement(s) and %d dataset(s)\n", res.Measurements, res.Datasets)
			return nil
		},
	}
	purge.Flags().BoolVar(&confirm, "yes", false, "Confirm the deletion")

	cmd.AddCommand(purge)
	return cmd
}

func (c *commands) newReposCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repos",
		Short: "Repository operations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sync <owner-id>",
		Short: "Refresh an owner's repositories from its VCS provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID, err := parseID(args[0])
			if err != nil {
				return err
			}
			n, err := c.deps.Repos.SyncOwnerByID(cmd.Context(), ownerID)
			if err != nil {
				return fmt.Errorf("failed to sync repositories of owner %d: %w", ownerID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %d repositor(ies)\n", n)
			return nil
		},
	})
	return cmd
}

// envVarsExposedRecord is the import file format, one JSON array of these.
type envVarsExposedRecord struct {
	OwnerID                     *int64  `json:"owner_id"`
	RepoID                      *int64  `json:"repo_id"`
	IsRepoPrivate               *bool   `json:"is_repo_private"`
	SeverityFromLogAnalysis     *string `json:"severity_from_log_analysis"`
	KnownCloneByAttacker        *bool   `json:"known_clone_by_attacker"`
	ExposedEnvVars              *string `json:"exposed_env_vars"`
	SensitiveExposedInGitOrigin *string `json:"sensitive_exposed_in_git_origin"`
}

func (c *commands) newEnvVarsExposedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env-vars-exposed",
		Short: "Leaked CI environment records",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Import exposure records from a JSON file (- reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				in = f
			}

			var raw []envVarsExposedRecord
			if err := json.NewDecoder(in).Decode(&raw); err != nil {
				return fmt.Errorf("failed to parse %s: %w", args[0], err)
			}
			records := make([]domain.EnvVarsExposed, len(raw))
			for i, r := range raw {
				records[i] = domain.EnvVarsExposed{
					OwnerID:                     r.OwnerID,
					RepoID:                      r.RepoID,
					IsRepoPrivate:               r.IsRepoPrivate,
					SeverityFromLogAnalysis:     r.SeverityFromLogAnalysis,
					KnownCloneByAttacker:        r.KnownCloneByAttacker,
					ExposedEnvVars:              r.ExposedEnvVars,
					SensitiveExposedInGitOrigin: r.SensitiveExposedInGitOrigin,
				}
			}

			n, err := c.deps.Security.Import(cmd.Context(), records)
			if err != nil {
				return fmt.Errorf("imported %d of %d record(s): %w", n, len(records), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d record(s)\n", n)
			return nil
		},
	})
	return cmd
}

func (c *commands) newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.deps.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the schema version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			current, latest, err := c.deps.MigrationStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to read migration status: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d of %d, %d pending\n", current, latest, latest-current)
			return nil
		},
	})
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
