package domain

import (
	"context"
	"time"
)

type Branch struct {
	RepoID    int64
	Name      string
	Head      string
	Base      string
	Authors   []int64
	UpdatedAt time.Time
}

type BranchRepository interface {
	Get(ctx context.Context, repoID int64, name string) (*Branch, error)
	List(ctx context.Context, repoID int64) ([]Branch, error)
	Upsert(ctx context.Context, branch Branch) error
}
