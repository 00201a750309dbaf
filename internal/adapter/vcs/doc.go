// Package vcs implements domain.VCSProvider for GitHub, GitLab and Bitbucket.
//
// Every API call passes through a per-service circuit breaker and is retried
// with backoff on 5xx and rate-limit answers. Provider errors surface as
// *domain.ClientError so handlers can relay the provider's status.
package vcs
