package domain

import "errors"

var (
	ErrOwnerNotFound          = errors.New("owner not found")
	ErrRepoNotFound           = errors.New("repository not found")
	ErrBranchNotFound         = errors.New("branch not found")
	ErrSessionNotFound        = errors.New("session not found")
	ErrDatasetNotFound        = errors.New("dataset not found")
	ErrEnvVarsExposedNotFound = errors.New("env vars exposure record not found")
	ErrNoSubscription         = errors.New("owner has no subscription")
	ErrUnknownService         = errors.New("unknown vcs service")
	ErrInvalidRange           = errors.New("invalid time range")
	ErrInvalidRecord          = errors.New("invalid record")
)

// ErrNotPartOfOrg means the caller is authenticated but not a member of the owning org.
var ErrNotPartOfOrg = errors.New("current user is not part of the org")
