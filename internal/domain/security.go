package domain

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// MaxSeverityLength bounds SeverityFromLogAnalysis.
const MaxSeverityLength = 50

// EnvVarsExposed records what a leaked CI environment exposed for one repository.
// Every field but the id is nullable. ExposedEnvVars and SensitiveExposedInGitOrigin
// hold the leaked variable names and git origin content as reported by log analysis.
type EnvVarsExposed struct {
	ID                          int64
	OwnerID                     *int64
	RepoID                      *int64
	IsRepoPrivate               *bool
	SeverityFromLogAnalysis     *string
	ExistsOnCodecov             *bool
	KnownCloneByAttacker        *bool
	ExposedEnvVars              *string
	SensitiveExposedInGitOrigin *string
}

// Validate checks the column limits of a record before it is stored.
func (e *EnvVarsExposed) Validate() error {
	if e.SeverityFromLogAnalysis != nil && utf8.RuneCountInString(*e.SeverityFromLogAnalysis) > MaxSeverityLength {
		return fmt.Errorf("%w: severity_from_log_analysis exceeds %d characters", ErrInvalidRecord, MaxSeverityLength)
	}
	return nil
}

type EnvVarsExposedRepository interface {
	// Upsert is keyed by (repo_id, owner_id).
	Upsert(ctx context.Context, record EnvVarsExposed) (*EnvVarsExposed, error)
	GetByRepo(ctx context.Context, ownerID, repoID int64) (*EnvVarsExposed, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]EnvVarsExposed, error)
}
