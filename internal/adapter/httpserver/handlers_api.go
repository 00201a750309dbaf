package httpserver

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/codecov/codecov-api/internal/app"
	"github.com/codecov/codecov-api/internal/domain"
	apperrors "github.com/codecov/codecov-api/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

type branchResponse struct {
	Name        string    `json:"name"`
	Head        string    `json:"head"`
	Base        string    `json:"base,omitempty"`
	Authors     []int64   `json:"authors"`
	UpdateStamp time.Time `json:"updatestamp"`
}

func toBranchResponse(b domain.Branch) branchResponse {
	authors := b.Authors
	if authors == nil {
		authors = []int64{}
	}
	return branchResponse{Name: b.Name, Head: b.Head, Base: b.Base, Authors: authors, UpdateStamp: b.UpdatedAt}
}

func (s *Server) resolveRepo(c echo.Context) (*domain.Owner, *domain.Repo, error) {
	return s.deps.Repos.ResolveRepo(c.Request().Context(), currentUser(c), c.Param("service"), c.Param("owner"), c.Param("repo"))
}

func (s *Server) handleListBranches(c echo.Context) error {
	_, repo, err := s.resolveRepo(c)
	if err != nil {
		return err
	}

	branches, err := s.deps.Branches(currentUser(c), c.Param("service")).ListBranches(c.Request().Context(), repo)
	if err != nil {
		return err
	}

	results := make([]branchResponse, 0, len(branches))
	for _, b := range branches {
		results = append(results, toBranchResponse(b))
	}
	return c.JSON(http.StatusOK, map[string]any{"count": len(results), "results": results})
}

func (s *Server) handleGetBranch(c echo.Context) error {
	// Branch names may contain slashes, so the name is the escaped wildcard remainder.
	name, err := url.PathUnescape(c.Param("*"))
	if err != nil || name == "" {
		return apperrors.ValidationError("invalid branch name")
	}

	_, repo, err := s.resolveRepo(c)
	if err != nil {
		return err
	}

	branch, err := s.deps.Branches(currentUser(c), c.Param("service")).FetchBranch(c.Request().Context(), repo, name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toBranchResponse(*branch))
}

func (s *Server) handleRepoCoverage(c echo.Context) error {
	q, err := parseCoverageQuery(c)
	if err != nil {
		return err
	}

	_, repo, err := s.resolveRepo(c)
	if err != nil {
		return err
	}

	result, err := s.deps.Timeseries.RepoCoverage(c.Request().Context(), repo, q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func parseCoverageQuery(c echo.Context) (app.CoverageQuery, error) {
	raw := c.QueryParam("interval")
	if raw == "" {
		raw = domain.Interval1Day.String()
	}
	interval, err := domain.ParseInterval(raw)
	if err != nil {
		return app.CoverageQuery{}, err
	}

	after, err := parseTimeParam(c, "start")
	if err != nil {
		return app.CoverageQuery{}, err
	}
	before, err := parseTimeParam(c, "end")
	if err != nil {
		return app.CoverageQuery{}, err
	}

	return app.CoverageQuery{Interval: interval, Branch: c.QueryParam("branch"), After: after, Before: before}, nil
}

// parseTimeParam accepts RFC 3339 timestamps or plain dates.
func parseTimeParam(c echo.Context, name string) (time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperrors.ValidationError(fmt.Sprintf("invalid %s: expected RFC 3339 timestamp or date", name)).WithField(name, raw)
}

type measurementRequest struct {
	Name         domain.MeasurementName `json:"name"`
	Value        *float64               `json:"value"`
	MeasurableID string                 `json:"measurable_id"`
	FlagID       *int64                 `json:"flag_id"`
	Branch       *string                `json:"branch"`
	CommitSHA    *string                `json:"commit_sha"`
	Timestamp    time.Time              `json:"timestamp"`
}

func (s *Server) handleRecordMeasurement(c echo.Context) error {
	var req measurementRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if !req.Name.Valid() {
		return apperrors.ValidationError("unknown measurement name").WithField("name", req.Name)
	}
	if req.Value == nil {
		return apperrors.ValidationError("value is required")
	}

	owner, repo, err := s.resolveRepo(c)
	if err != nil {
		return err
	}
	if !domain.CurrentUserPartOfOrg(currentUser(c), owner) {
		return domain.ErrNotPartOfOrg
	}

	measurableID := req.MeasurableID
	if measurableID == "" {
		measurableID = strconv.FormatInt(repo.ID, 10)
	}

	err = s.deps.Timeseries.Record(c.Request().Context(), domain.Measurement{
		Timestamp:    req.Timestamp,
		OwnerID:      owner.ID,
		RepoID:       repo.ID,
		MeasurableID: measurableID,
		FlagID:       req.FlagID,
		Branch:       req.Branch,
		CommitSHA:    req.CommitSHA,
		Name:         req.Name,
		Value:        *req.Value,
	})
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusCreated)
}

type envVarsExposedResponse struct {
	ID                          int64   `json:"id"`
	OwnerID                     *int64  `json:"owner_id"`
	RepoID                      *int64  `json:"repo_id"`
	IsRepoPrivate               *bool   `json:"is_repo_private"`
	SeverityFromLogAnalysis     *string `json:"severity_from_log_analysis"`
	ExistsOnCodecov             *bool   `json:"exists_on_codecov"`
	KnownCloneByAttacker        *bool   `json:"known_clone_by_attacker"`
	ExposedEnvVars              *string `json:"exposed_env_vars"`
	SensitiveExposedInGitOrigin *string `json:"sensitive_exposed_in_git_origin"`
}

func toEnvVarsExposedResponse(r domain.EnvVarsExposed) envVarsExposedResponse {
	return envVarsExposedResponse(r)
}

func (s *Server) handleOwnerEnvVarsExposed(c echo.Context) error {
	owner, err := s.deps.Repos.RequireMember(c.Request().Context(), currentUser(c), c.Param("service"), c.Param("owner"))
	if err != nil {
		return err
	}

	records, err := s.deps.Security.ForOwner(c.Request().Context(), owner)
	if err != nil {
		return err
	}

	results := make([]envVarsExposedResponse, 0, len(records))
	for _, r := range records {
		results = append(results, toEnvVarsExposedResponse(r))
	}
	return c.JSON(http.StatusOK, map[string]any{"count": len(results), "results": results})
}

func (s *Server) handleRepoEnvVarsExposed(c echo.Context) error {
	owner, repo, err := s.resolveRepo(c)
	if err != nil {
		return err
	}
	if !domain.CurrentUserPartOfOrg(currentUser(c), owner) {
		return domain.ErrNotPartOfOrg
	}

	record, err := s.deps.Security.ForRepo(c.Request().Context(), owner, repo)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toEnvVarsExposedResponse(*record))
}

type sessionResponse struct {
	Token     string    `json:"token,omitempty"`
	Type      string    `json:"type"`
	Name      string    `json:"name,omitempty"`
	UserAgent string    `json:"useragent,omitempty"`
	IP        string    `json:"ip,omitempty"`
	LastSeen  time.Time `json:"lastseen"`
	CreatedAt time.Time `json:"created_at"`
}

// toSessionResponse reveals the token of API sessions only; login tokens stay in their cookie.
func toSessionResponse(sess domain.Session) sessionResponse {
	resp := sessionResponse{
		Type:      string(sess.Type),
		Name:      sess.Name,
		UserAgent: sess.UserAgent,
		IP:        sess.IP,
		LastSeen:  sess.LastSeen,
		CreatedAt: sess.CreatedAt,
	}
	if sess.Type == domain.SessionAPI {
		resp.Token = sess.Token.String()
	}
	return resp
}

func (s *Server) handleListSessions(c echo.Context) error {
	sessions, err := s.deps.Auth.ListSessions(c.Request().Context(), currentUser(c))
	if err != nil {
		return err
	}

	results := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		results = append(results, toSessionResponse(sess))
	}
	return c.JSON(http.StatusOK, map[string]any{"count": len(results), "results": results})
}

func (s *Server) handleCreateAPISession(c echo.Context) error {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.Name == "" {
		return apperrors.ValidationError("name is required")
	}

	sess, err := s.deps.Auth.CreateAPISession(c.Request().Context(), currentUser(c), req.Name)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toSessionResponse(*sess))
}
