package domain

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// BucketOrigin aligns every aggregation bin. It is a Monday, so weekly bins run Monday to Sunday.
var BucketOrigin = time.Date(2000, time.January, 3, 0, 0, 0, 0, time.UTC)

type Interval int

const (
	Interval1Day  Interval = 1
	Interval7Day  Interval = 7
	Interval30Day Interval = 30
)

// IntervalError is returned for an interval that has no aggregate.
type IntervalError struct {
	Value string
}

func (e *IntervalError) Error() string { return fmt.Sprintf("cannot aggregate by '%s'", e.Value) }

// ParseInterval accepts "1d", "7d", "30d" or the bare day count.
func ParseInterval(s string) (Interval, error) {
	days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
	if err != nil {
		return 0, &IntervalError{Value: s}
	}
	i := Interval(days)
	if err := i.Validate(); err != nil {
		return 0, &IntervalError{Value: s}
	}
	return i, nil
}

func (i Interval) Validate() error {
	switch i {
	case Interval1Day, Interval7Day, Interval30Day:
		return nil
	}
	return &IntervalError{Value: i.String()}
}

func (i Interval) String() string { return strconv.Itoa(int(i)) + "d" }

func (i Interval) Duration() time.Duration { return time.Duration(i) * 24 * time.Hour }

// Bin returns the start of the bin containing t, counting whole intervals from BucketOrigin.
func (i Interval) Bin(t time.Time) time.Time {
	stride := i.Duration()
	offset := t.UTC().Sub(BucketOrigin)
	n := offset / stride
	if offset%stride < 0 {
		n--
	}
	return BucketOrigin.Add(n * stride)
}

type MeasurementName string

const (
	MeasurementCoverage          MeasurementName = "coverage"
	MeasurementFlagCoverage      MeasurementName = "flag_coverage"
	MeasurementComponentCoverage MeasurementName = "component_coverage"
)

func (n MeasurementName) Valid() bool {
	switch n {
	case MeasurementCoverage, MeasurementFlagCoverage, MeasurementComponentCoverage:
		return true
	}
	return false
}

type Measurement struct {
	Timestamp    time.Time
	OwnerID      int64
	RepoID       int64
	MeasurableID string
	FlagID       *int64
	Branch       *string
	CommitSHA    *string
	Name         MeasurementName
	Value        float64
}

// MeasurementSummary is one aggregated bin.
type MeasurementSummary struct {
	TimestampBin time.Time `json:"timestamp_bin"`
	OwnerID      int64     `json:"owner_id"`
	RepoID       int64     `json:"repo_id"`
	MeasurableID string    `json:"measurable_id"`
	Branch       string    `json:"branch"`
	Name         string    `json:"name"`
	ValueAvg     float64   `json:"value_avg"`
	ValueMax     float64   `json:"value_max"`
	ValueMin     float64   `json:"value_min"`
	ValueCount   float64   `json:"value_count"`
}

type MeasurementFilter struct {
	OwnerID      int64
	RepoID       int64
	MeasurableID string
	Name         MeasurementName
	// Branch is optional; empty matches every branch.
	Branch string
	After  time.Time
	Before time.Time
}

type MeasurementRepository interface {
	Upsert(ctx context.Context, m Measurement) error
	// AggregateBy returns summaries ordered by TimestampBin.
	AggregateBy(ctx context.Context, interval Interval, filter MeasurementFilter) ([]MeasurementSummary, error)
	DeleteByRepo(ctx context.Context, repoID int64) (int64, error)
}

type Dataset struct {
	ID           int64
	Name         string
	RepositoryID int64
	Backfilled   bool
	// CreatedAt is zero when the row has no creation time.
	CreatedAt time.Time
	UpdatedAt time.Time
}

const datasetBackfillWindow = time.Hour

// IsBackfilled reports false for an hour after creation and true afterwards.
func (d *Dataset) IsBackfilled(now time.Time) bool {
	if d.CreatedAt.IsZero() {
		return false
	}
	return now.After(d.CreatedAt.Add(datasetBackfillWindow))
}

type DatasetRepository interface {
	GetOrCreate(ctx context.Context, name string, repositoryID int64) (*Dataset, error)
	Get(ctx context.Context, name string, repositoryID int64) (*Dataset, error)
	// List returns all datasets, or those of one repository when repositoryID > 0.
	List(ctx context.Context, repositoryID int64) ([]Dataset, error)
	MarkBackfilled(ctx context.Context, id int64) error
	DeleteByRepository(ctx context.Context, repositoryID int64) (int64, error)
}
