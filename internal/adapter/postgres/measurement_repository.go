package postgres

import (
	"context"
	"fmt"

	"github.com/codecov/codecov-api/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MeasurementRepo struct {
	pool *pgxpool.Pool
}

func NewMeasurementRepo(pool *pgxpool.Pool) *MeasurementRepo {
	return &MeasurementRepo{pool: pool}
}

// Upsert replaces the value of an existing measurement for the same
// (name, owner, repo, measurable, commit, timestamp).
func (r *MeasurementRepo) Upsert(ctx context.Context, m domain.Measurement) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO measurements (timestamp, owner_id, repo_id, measurable_id, flag_id, branch, commit_sha, name, value)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT ON CONSTRAINT measurements_unique DO UPDATE SET
			flag_id = EXCLUDED.flag_id,
			branch  = EXCLUDED.branch,
			value   = EXCLUDED.value`,
		m.Timestamp, m.OwnerID, m.RepoID, m.MeasurableID, m.FlagID, m.Branch, m.CommitSHA, string(m.Name), m.Value)
	if err != nil {
		return fmt.Errorf("failed to upsert measurement: %w", err)
	}
	return nil
}

const aggregateQuery = `
	SELECT date_bin(make_interval(days => $1::int), timestamp, '2000-01-03 00:00:00+00'::timestamptz) AS timestamp_bin,
	       owner_id, repo_id, measurable_id, $6::text AS branch, name,
	       avg(value), max(value), min(value), count(value)::float8
	FROM measurements
	WHERE owner_id = $2 AND repo_id = $3 AND measurable_id = $4 AND name = $5
	  AND ($6::text = '' OR branch = $6)
	  AND ($7::timestamptz IS NULL OR timestamp >= $7)
	  AND ($8::timestamptz IS NULL OR timestamp <= $8)
	GROUP BY timestamp_bin, owner_id, repo_id, measurable_id, name
	ORDER BY timestamp_bin`

// AggregateBy bins measurements on the shared origin so that results line up
// with domain.Interval.Bin. Without a branch filter every branch folds into
// one row per bin, reported with an empty branch.
func (r *MeasurementRepo) AggregateBy(ctx context.Context, interval domain.Interval, f domain.MeasurementFilter) ([]domain.MeasurementSummary, error) {
	if err := interval.Validate(); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, aggregateQuery,
		int(interval), f.OwnerID, f.RepoID, f.MeasurableID, string(f.Name), f.Branch, nullTime(f.After), nullTime(f.Before))
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate measurements: %w", err)
	}

	summaries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.MeasurementSummary, error) {
		var s domain.MeasurementSummary
		err := row.Scan(&s.TimestampBin, &s.OwnerID, &s.RepoID, &s.MeasurableID, &s.Branch, &s.Name,
			&s.ValueAvg, &s.ValueMax, &s.ValueMin, &s.ValueCount)
		s.TimestampBin = s.TimestampBin.UTC()
		return s, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate measurements: %w", err)
	}
	return summaries, nil
}

func (r *MeasurementRepo) DeleteByRepo(ctx context.Context, repoID int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM measurements WHERE repo_id = $1`, repoID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete measurements: %w", err)
	}
	return tag.RowsAffected(), nil
}
