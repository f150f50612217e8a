package webui

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"sagarmatha/pkg/logx"
	"sagarmatha/pkg/persistence"
	"sagarmatha/pkg/version"
	"sagarmatha/pkg/workflow"
)

// MaxTaskLength bounds a submitted task description, in runes.
const MaxTaskLength = 10000

const maxLogEntries = 1000

// TaskRequest is the body of POST /api/invoke and POST /api/projects.
type TaskRequest struct {
	Value     string `json:"value"`
	ProjectID string `json:"projectId,omitempty"`
}

// taskPayload is the data of the task event.
type taskPayload struct {
	Value     string `json:"value"`
	ProjectID string `json:"projectId"`
}

// InvokeResponse is returned by POST /api/invoke.
type InvokeResponse struct {
	OK        string   `json:"ok"`
	ProjectID string   `json:"projectId"`
	RunIDs    []string `json:"runIds"`
}

func (s *Server) fail(c *gin.Context, status int, message string, err error) {
	if err != nil && status >= http.StatusInternalServerError {
		s.logger.Error("%s %s: %s: %v", c.Request.Method, c.Request.URL.Path, message, err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

func (s *Server) bindTask(c *gin.Context) (*TaskRequest, bool) {
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, "Invalid JSON", err)
		return nil, false
	}
	req.Value = strings.TrimSpace(req.Value)
	if req.Value == "" {
		s.fail(c, http.StatusBadRequest, "Prompt is required", nil)
		return nil, false
	}
	if utf8.RuneCountInString(req.Value) > MaxTaskLength {
		s.fail(c, http.StatusBadRequest, "Prompt is too long", nil)
		return nil, false
	}
	return &req, true
}

// submitTask records the user's message and emits the task event.
func (s *Server) submitTask(ctx context.Context, projectID, value string) ([]string, error) {
	if _, err := s.deps.Projects.CreateMessage(ctx, &persistence.CreateMessageRequest{
		ProjectID: projectID,
		Content:   value,
		Role:      persistence.RoleUser,
		Type:      persistence.TypeResult,
	}); err != nil {
		return nil, err //nolint:wrapcheck // reported by the handler
	}
	return s.deps.Events.Send(ctx, s.opts.TaskEvent, taskPayload{Value: value, ProjectID: projectID}) //nolint:wrapcheck // reported by the handler
}

// handleInvoke implements POST /api/invoke. Without a projectId a project is created.
func (s *Server) handleInvoke(c *gin.Context) {
	req, ok := s.bindTask(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	projectID := req.ProjectID
	if projectID == "" {
		project, err := s.deps.Projects.CreateProject(ctx, persistence.ProjectName(req.Value))
		if err != nil {
			s.fail(c, http.StatusInternalServerError, "Failed to create project", err)
			return
		}
		projectID = project.ID
	} else if _, err := s.deps.Projects.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			s.fail(c, http.StatusNotFound, "Project not found", nil)
			return
		}
		s.fail(c, http.StatusInternalServerError, "Failed to load project", err)
		return
	}

	runIDs, err := s.submitTask(ctx, projectID, req.Value)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "Failed to submit task", err)
		return
	}

	s.logger.Info("📨 Task submitted for project %s (%d run(s))", projectID, len(runIDs))
	c.JSON(http.StatusOK, InvokeResponse{OK: "Success", ProjectID: projectID, RunIDs: runIDs})
}

// handleGreeting implements GET /api/greeting?text=.
func (s *Server) handleGreeting(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"greeting": "hello " + c.Query("text")})
}

// handleCreateProject implements POST /api/projects.
func (s *Server) handleCreateProject(c *gin.Context) {
	req, ok := s.bindTask(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	project, err := s.deps.Projects.CreateProject(ctx, persistence.ProjectName(req.Value))
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "Failed to create project", err)
		return
	}
	runIDs, err := s.submitTask(ctx, project.ID, req.Value)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "Failed to submit task", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": project.ID, "name": project.Name, "runIds": runIDs})
}

func (s *Server) handleListProjects(c *gin.Context) {
	projects, err := s.deps.Projects.ListProjects(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "Failed to list projects", err)
		return
	}
	c.JSON(http.StatusOK, projects)
}

func (s *Server) handleGetProject(c *gin.Context) {
	project, err := s.deps.Projects.GetProject(c.Request.Context(), c.Param("id"))
	if errors.Is(err, persistence.ErrNotFound) {
		s.fail(c, http.StatusNotFound, "Project not found", nil)
		return
	}
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "Failed to load project", err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (s *Server) handleProjectMessages(c *gin.Context) {
	ctx := c.Request.Context()
	projectID := c.Param("id")
	if _, err := s.deps.Projects.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			s.fail(c, http.StatusNotFound, "Project not found", nil)
			return
		}
		s.fail(c, http.StatusInternalServerError, "Failed to load project", err)
		return
	}

	messages, err := s.deps.Projects.ListMessages(ctx, projectID)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "Failed to list messages", err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (s *Server) handleListRuns(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.fail(c, http.StatusBadRequest, "Invalid limit", nil)
			return
		}
		limit = n
	}
	runs, err := s.deps.Runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.deps.Runs.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, workflow.ErrUnknownRun) {
		s.fail(c, http.StatusNotFound, "Run not found", nil)
		return
	}
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "Failed to load run", err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleRunMessages(c *gin.Context) {
	messages, err := s.deps.Projects.MessagesForRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, http.StatusInternalServerError, "Failed to list messages", err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// handleRunMetrics implements GET /api/runs/:id/metrics[?by=model].
func (s *Server) handleRunMetrics(c *gin.Context) {
	if s.deps.Metrics == nil {
		s.fail(c, http.StatusServiceUnavailable, "Metrics query is not configured", nil)
		return
	}
	ctx := c.Request.Context()
	runID := c.Param("id")

	if c.Query("by") == "model" {
		byModel, err := s.deps.Metrics.GetRunMetricsByModel(ctx, runID)
		if err != nil {
			s.fail(c, http.StatusBadGateway, "Failed to query metrics", err)
			return
		}
		c.JSON(http.StatusOK, byModel)
		return
	}

	m, err := s.deps.Metrics.GetRunMetrics(ctx, runID)
	if err != nil {
		s.fail(c, http.StatusBadGateway, "Failed to query metrics", err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// handleLogs implements GET /api/logs?domain=&since=.
func (s *Server) handleLogs(c *gin.Context) {
	domain := c.Query("domain")
	sinceStr := c.Query("since")

	var since time.Time
	if sinceStr != "" {
		var err error
		since, err = time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			s.logger.Warn("Invalid since parameter: %s", sinceStr)
			s.fail(c, http.StatusBadRequest, "Invalid since parameter (use RFC3339)", nil)
			return
		}
	}

	logs := logx.GetRecentLogEntries(domain, since)
	if len(logs) > maxLogEntries {
		logs = logs[len(logs)-maxLogEntries:]
	}
	if logs == nil {
		logs = []logx.LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}
