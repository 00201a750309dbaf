// Package app provides the application service layer.
//
// Orchestrates use cases: OAuth login and session resolution, org membership checks,
// branch commands, coverage time series, billing and security exposure lookups.
// Sits between HTTP handlers and domain repositories. Depends on domain interfaces, not concrete implementations.
package app
