// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (owner.go, repo.go, branch.go, session.go, timeseries.go, etc.)
// hold the entity types and the repository/provider contracts the app layer depends on.
// No implementation code, just contracts and small pure helpers.
package domain
