package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/codecov/codecov-api/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const envVarsColumns = `id, owner_id, repo_id, is_repo_private, severity_from_log_analysis, exists_on_codecov,
	known_clone_by_attacker, exposed_env_vars, sensitive_exposed_in_git_origin`

type EnvVarsExposedRepo struct {
	pool *pgxpool.Pool
}

func NewEnvVarsExposedRepo(pool *pgxpool.Pool) *EnvVarsExposedRepo {
	return &EnvVarsExposedRepo{pool: pool}
}

func scanEnvVars(row pgx.CollectableRow) (domain.EnvVarsExposed, error) {
	var e domain.EnvVarsExposed
	err := row.Scan(&e.ID, &e.OwnerID, &e.RepoID, &e.IsRepoPrivate, &e.SeverityFromLogAnalysis, &e.ExistsOnCodecov,
		&e.KnownCloneByAttacker, &e.ExposedEnvVars, &e.SensitiveExposedInGitOrigin)
	return e, err
}

func (r *EnvVarsExposedRepo) Upsert(ctx context.Context, e domain.EnvVarsExposed) (*domain.EnvVarsExposed, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		INSERT INTO env_vars_exposed (owner_id, repo_id, is_repo_private, severity_from_log_analysis, exists_on_codecov,
			known_clone_by_attacker, exposed_env_vars, sensitive_exposed_in_git_origin)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT ON CONSTRAINT env_vars_exposed_repo_owner DO UPDATE SET
			is_repo_private                 = EXCLUDED.is_repo_private,
			severity_from_log_analysis      = EXCLUDED.severity_from_log_analysis,
			exists_on_codecov               = EXCLUDED.exists_on_codecov,
			known_clone_by_attacker         = EXCLUDED.known_clone_by_attacker,
			exposed_env_vars                = EXCLUDED.exposed_env_vars,
			sensitive_exposed_in_git_origin = EXCLUDED.sensitive_exposed_in_git_origin
		RETURNING `+envVarsColumns,
		e.OwnerID, e.RepoID, e.IsRepoPrivate, e.SeverityFromLogAnalysis, e.ExistsOnCodecov,
		e.KnownCloneByAttacker, e.ExposedEnvVars, e.SensitiveExposedInGitOrigin)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert env vars exposure: %w", err)
	}
	stored, err := pgx.CollectExactlyOneRow(rows, scanEnvVars)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert env vars exposure: %w", err)
	}
	return &stored, nil
}

func (r *EnvVarsExposedRepo) GetByRepo(ctx context.Context, ownerID, repoID int64) (*domain.EnvVarsExposed, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+envVarsColumns+` FROM env_vars_exposed WHERE owner_id = $1 AND repo_id = $2`, ownerID, repoID)
	if err != nil {
		return nil, fmt.Errorf("failed to get env vars exposure: %w", err)
	}
	e, err := pgx.CollectExactlyOneRow(rows, scanEnvVars)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrEnvVarsExposedNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get env vars exposure: %w", err)
	}
	return &e, nil
}

func (r *EnvVarsExposedRepo) ListByOwner(ctx context.Context, ownerID int64) ([]domain.EnvVarsExposed, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+envVarsColumns+` FROM env_vars_exposed WHERE owner_id = $1 ORDER BY repo_id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list env vars exposures: %w", err)
	}
	records, err := pgx.CollectRows(rows, scanEnvVars)
	if err != nil {
		return nil, fmt.Errorf("failed to list env vars exposures: %w", err)
	}
	return records, nil
}
