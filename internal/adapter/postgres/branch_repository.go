package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/codecov/codecov-api/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const branchColumns = `repo_id, name, head, base, authors, updated_at`

type BranchRepo struct {
	pool *pgxpool.Pool
}

func NewBranchRepo(pool *pgxpool.Pool) *BranchRepo {
	return &BranchRepo{pool: pool}
}

func scanBranch(row pgx.CollectableRow) (domain.Branch, error) {
	var b domain.Branch
	err := row.Scan(&b.RepoID, &b.Name, &b.Head, &b.Base, &b.Authors, &b.UpdatedAt)
	return b, err
}

func (r *BranchRepo) Get(ctx context.Context, repoID int64, name string) (*domain.Branch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+branchColumns+` FROM branches WHERE repo_id = $1 AND name = $2`, repoID, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get branch: %w", err)
	}
	b, err := pgx.CollectExactlyOneRow(rows, scanBranch)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBranchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get branch: %w", err)
	}
	return &b, nil
}

func (r *BranchRepo) List(ctx context.Context, repoID int64) ([]domain.Branch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+branchColumns+` FROM branches WHERE repo_id = $1 ORDER BY updated_at DESC, name`, repoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	branches, err := pgx.CollectRows(rows, scanBranch)
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	return branches, nil
}

func (r *BranchRepo) Upsert(ctx context.Context, b domain.Branch) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO branches (repo_id, name, head, base, authors, updated_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
		ON CONFLICT (repo_id, name) DO UPDATE SET
			head       = EXCLUDED.head,
			base       = EXCLUDED.base,
			authors    = COALESCE(EXCLUDED.authors, branches.authors),
			updated_at = EXCLUDED.updated_at`,
		b.RepoID, b.Name, b.Head, b.Base, b.Authors, nullTime(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert branch: %w", err)
	}
	return nil
}
