package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/codecov/codecov-api/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoColumns = `repo_id, owner_id, service_id, name, private, active, branch, language, updated_at`

type RepoRepo struct {
	pool *pgxpool.Pool
}

func NewRepoRepo(pool *pgxpool.Pool) *RepoRepo {
	return &RepoRepo{pool: pool}
}

func scanRepo(row pgx.Row) (*domain.Repo, error) {
	var r domain.Repo
	err := row.Scan(&r.ID, &r.OwnerID, &r.ServiceID, &r.Name, &r.Private, &r.Active, &r.DefaultBranch, &r.Language, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRepoNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *RepoRepo) GetByID(ctx context.Context, repoID int64) (*domain.Repo, error) {
	repo, err := scanRepo(r.pool.QueryRow(ctx, `SELECT `+repoColumns+` FROM repos WHERE repo_id = $1`, repoID))
	if err != nil && !errors.Is(err, domain.ErrRepoNotFound) {
		return nil, fmt.Errorf("failed to get repo by ID: %w", err)
	}
	return repo, err
}

func (r *RepoRepo) GetByName(ctx context.Context, ownerID int64, name string) (*domain.Repo, error) {
	repo, err := scanRepo(r.pool.QueryRow(ctx, `SELECT `+repoColumns+` FROM repos WHERE owner_id = $1 AND name = $2`, ownerID, name))
	if err != nil && !errors.Is(err, domain.ErrRepoNotFound) {
		return nil, fmt.Errorf("failed to get repo by name: %w", err)
	}
	return repo, err
}

// Upsert is keyed by (owner_id, name). Activation is sticky: a later upsert
// with Active false leaves an active repository active.
func (r *RepoRepo) Upsert(ctx context.Context, repo domain.Repo) (*domain.Repo, error) {
	if repo.DefaultBranch == "" {
		repo.DefaultBranch = "main"
	}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO repos (owner_id, service_id, name, private, active, branch, language)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (owner_id, name) DO UPDATE SET
			service_id = EXCLUDED.service_id,
			private    = EXCLUDED.private,
			active     = repos.active OR EXCLUDED.active,
			branch     = EXCLUDED.branch,
			language   = EXCLUDED.language,
			updated_at = now()
		RETURNING `+repoColumns,
		repo.OwnerID, repo.ServiceID, repo.Name, repo.Private, repo.Active, repo.DefaultBranch, repo.Language)

	stored, err := scanRepo(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert repo: %w", err)
	}
	return stored, nil
}
