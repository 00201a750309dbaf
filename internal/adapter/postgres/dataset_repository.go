package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codecov/codecov-api/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const datasetColumns = `id, name, repository_id, backfilled, created_at, updated_at`

type DatasetRepo struct {
	pool *pgxpool.Pool
}

func NewDatasetRepo(pool *pgxpool.Pool) *DatasetRepo {
	return &DatasetRepo{pool: pool}
}

func scanDataset(row pgx.CollectableRow) (domain.Dataset, error) {
	var (
		d                domain.Dataset
		created, updated *time.Time
	)
	if err := row.Scan(&d.ID, &d.Name, &d.RepositoryID, &d.Backfilled, &created, &updated); err != nil {
		return d, err
	}
	if created != nil {
		d.CreatedAt = *created
	}
	if updated != nil {
		d.UpdatedAt = *updated
	}
	return d, nil
}

func (r *DatasetRepo) GetOrCreate(ctx context.Context, name string, repositoryID int64) (*domain.Dataset, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO datasets (name, repository_id) VALUES ($1, $2)
		ON CONFLICT ON CONSTRAINT datasets_name_repository DO NOTHING`, name, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to create dataset: %w", err)
	}
	return r.Get(ctx, name, repositoryID)
}

func (r *DatasetRepo) Get(ctx context.Context, name string, repositoryID int64) (*domain.Dataset, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE name = $1 AND repository_id = $2`, name, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	d, err := pgx.CollectExactlyOneRow(rows, scanDataset)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrDatasetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	return &d, nil
}

func (r *DatasetRepo) List(ctx context.Context, repositoryID int64) ([]domain.Dataset, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+datasetColumns+` FROM datasets
		WHERE $1::bigint = 0 OR repository_id = $1
		ORDER BY repository_id, name`, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	datasets, err := pgx.CollectRows(rows, scanDataset)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	return datasets, nil
}

func (r *DatasetRepo) MarkBackfilled(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE datasets SET backfilled = true, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark dataset backfilled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDatasetNotFound
	}
	return nil
}

func (r *DatasetRepo) DeleteByRepository(ctx context.Context, repositoryID int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM datasets WHERE repository_id = $1`, repositoryID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete datasets: %w", err)
	}
	return tag.RowsAffected(), nil
}
