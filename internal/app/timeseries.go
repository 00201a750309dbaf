package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/codecov/codecov-api/internal/domain"
	"github.com/jonboulle/clockwork"
)

// defaultCoverageWindow is used when a query gives no start.
const defaultCoverageWindow = 365 * 24 * time.Hour

type TimeseriesService struct {
	measurements domain.MeasurementRepository
	datasets     domain.DatasetRepository
	clock        clockwork.Clock
}

func NewTimeseriesService(measurements domain.MeasurementRepository, datasets domain.DatasetRepository, clock clockwork.Clock) *TimeseriesService {
	return &TimeseriesService{measurements: measurements, datasets: datasets, clock: clock}
}

type CoverageQuery struct {
	Interval domain.Interval
	Branch   string
	After    time.Time
	Before   time.Time
}

type CoverageResult struct {
	Interval   string                      `json:"interval"`
	Backfilled bool                        `json:"backfilled"`
	Results    []domain.MeasurementSummary `json:"results"`
}

// RepoCoverage aggregates the repository-level coverage series.
func (s *TimeseriesService) RepoCoverage(ctx context.Context, repo *domain.Repo, q CoverageQuery) (*CoverageResult, error) {
	if err := q.Interval.Validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if q.Before.IsZero() {
		q.Before = now
	}
	if q.After.IsZero() {
		q.After = q.Before.Add(-defaultCoverageWindow)
	}
	if q.After.After(q.Before) {
		return nil, fmt.Errorf("%w: start %s is after end %s", domain.ErrInvalidRange, q.After.Format(time.RFC3339), q.Before.Format(time.RFC3339))
	}

	branch := q.Branch
	if branch == "" {
		branch = repo.DefaultBranch
	}

	filter := domain.MeasurementFilter{
		OwnerID:      repo.OwnerID,
		RepoID:       repo.ID,
		MeasurableID: strconv.FormatInt(repo.ID, 10),
		Name:         domain.MeasurementCoverage,
		Branch:       branch,
		After:        q.Interval.Bin(q.After),
		Before:       q.Before,
	}
	summaries, err := s.measurements.AggregateBy(ctx, q.Interval, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate measurements: %w", err)
	}

	backfilled := false
	dataset, err := s.datasets.Get(ctx, string(domain.MeasurementCoverage), repo.ID)
	switch {
	case err == nil:
		backfilled = dataset.IsBackfilled(now)
	case !errors.Is(err, domain.ErrDatasetNotFound):
		return nil, err
	}

	return &CoverageResult{Interval: q.Interval.String(), Backfilled: backfilled, Results: summaries}, nil
}

// Record stores a measurement and makes sure its dataset exists.
func (s *TimeseriesService) Record(ctx context.Context, m domain.Measurement) error {
	if !m.Name.Valid() {
		return fmt.Errorf("unknown measurement name %q", m.Name)
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.clock.Now()
	}

	if err := s.measurements.Upsert(ctx, m); err != nil {
		return fmt.Errorf("failed to upsert measurement: %w", err)
	}
	if _, err := s.datasets.GetOrCreate(ctx, string(m.Name), m.RepoID); err != nil {
		return fmt.Errorf("failed to ensure dataset: %w", err)
	}
	return nil
}

type DatasetStatus struct {
	domain.Dataset
	IsBackfilled bool
}

// Datasets lists datasets with their computed backfill state. repositoryID 0 lists all.
func (s *TimeseriesService) Datasets(ctx context.Context, repositoryID int64) ([]DatasetStatus, error) {
	datasets, err := s.datasets.List(ctx, repositoryID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	out := make([]DatasetStatus, len(datasets))
	for i, d := range datasets {
		out[i] = DatasetStatus{Dataset: d, IsBackfilled: d.IsBackfilled(now)}
	}
	return out, nil
}

// SyncBackfilled sets the stored flag on every dataset whose backfill window has passed.
func (s *TimeseriesService) SyncBackfilled(ctx context.Context, repositoryID int64) (int, error) {
	statuses, err := s.Datasets(ctx, repositoryID)
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, st := range statuses {
		if st.Backfilled || !st.IsBackfilled {
			continue
		}
		if err := s.datasets.MarkBackfilled(ctx, st.ID); err != nil {
			return marked, fmt.Errorf("failed to mark dataset %d: %w", st.ID, err)
		}
		marked++
	}
	return marked, nil
}

type PurgeResult struct {
	Measurements int64
	Datasets     int64
}

// PurgeRepo drops all measurements recorded for a repository, then its datasets.
// Datasets go last so that a failed purge can simply be run again.
func (s *TimeseriesService) PurgeRepo(ctx context.Context, repoID int64) (PurgeResult, error) {
	var res PurgeResult

	n, err := s.measurements.DeleteByRepo(ctx, repoID)
	if err != nil {
		return res, fmt.Errorf("failed to delete measurements: %w", err)
	}
	res.Measurements = n

	n, err = s.datasets.DeleteByRepository(ctx, repoID)
	if err != nil {
		return res, fmt.Errorf("failed to delete datasets: %w", err)
	}
	res.Datasets = n
	return res, nil
}
