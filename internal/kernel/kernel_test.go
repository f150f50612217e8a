package kernel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sagarmatha/internal/mocks"
	"sagarmatha/pkg/agent/llm"
	"sagarmatha/pkg/codeagent"
	"sagarmatha/pkg/config"
	"sagarmatha/pkg/persistence"
	"sagarmatha/pkg/sandbox"
	"sagarmatha/pkg/tools"
	"sagarmatha/pkg/workflow"
)

func testConfig() *config.Config {
	return &config.Config{
		Agent: &config.AgentConfig{
			Metrics: config.MetricsConfig{Enabled: true, Namespace: "kernel_test"},
		},
		Workflow: &config.WorkflowConfig{
			Workers: 1,
			Retry:   config.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		},
	}
}

func newTestKernel(t *testing.T, client *mocks.MockLLMClient) (*Kernel, *mocks.MockSandboxGateway) {
	t.Helper()
	dir := t.TempDir()
	gw := mocks.NewMockSandboxGateway()

	k, err := NewKernel(testConfig(), dir, Options{
		DatabasePath: filepath.Join(dir, "kernel.db"),
		Sandboxes:    gw,
		NewClient:    func(string) (llm.LLMClient, error) { return client, nil },
		Registry:     prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })
	return k, gw
}

func TestNewKernelWiresServices(t *testing.T) {
	k, _ := newTestKernel(t, mocks.NewMockLLMClient())

	assert.NotNil(t, k.Database)
	assert.NotNil(t, k.Projects)
	assert.NotNil(t, k.Runs)
	assert.NotNil(t, k.Engine)
	assert.NotNil(t, k.CodeAgent)
	assert.NotNil(t, k.WebServer)
	assert.NotNil(t, k.Recorder)
	assert.NotNil(t, k.LLMFactory)

	// Defaults are filled in place.
	assert.Equal(t, config.DefaultMaxIterations, k.Config.Agent.MaxIterations)
	assert.Equal(t, config.SandboxBackendDocker, k.Config.Sandbox.Backend)
}

func TestRunTaskPersistsResult(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWithSequence([]llm.CompletionResponse{
		mocks.ToolCallResponse("call-1", tools.ToolCreateOrUpdateFiles, map[string]any{
			"files": []any{map[string]any{"path": "app/page.tsx", "content": "export default function Page() {}"}},
		}),
		mocks.TextResponse("<task_summary>Built the page</task_summary>"),
	})
	k, gw := newTestKernel(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run, out, err := k.RunTask(ctx, "build a landing page")
	require.NoError(t, err)

	assert.Equal(t, workflow.RunCompleted, run.Status)
	require.NotNil(t, out)
	assert.True(t, out.Succeeded)
	assert.Contains(t, out.Files, "app/page.tsx")
	assert.Len(t, gw.CreateCalls, 1)

	msgs, err := k.Projects.MessagesForRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, persistence.TypeResult, msgs[0].Type)
	require.NotNil(t, msgs[0].Fragment)
	assert.Equal(t, codeagent.FragmentTitle, msgs[0].Fragment.Title)

	projects, err := k.Projects.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	all, err := k.Projects.ListMessages(ctx, projects[0].ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, persistence.RoleUser, all[0].Role)
	assert.Equal(t, "build a landing page", all[0].Content)

	count, err := testutil.GatherAndCount(k.Registry, "kernel_test_task_results_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRunTaskSavesErrorWhenNoSummary(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWith("working on it")
	k, _ := newTestKernel(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run, out, err := k.RunTask(ctx, "build a todo app")
	require.NoError(t, err)

	assert.Equal(t, workflow.RunCompleted, run.Status)
	require.NotNil(t, out)
	assert.False(t, out.Succeeded)
	assert.Equal(t, config.DefaultMaxIterations, client.GetCompleteCallCount())

	msgs, err := k.Projects.MessagesForRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, persistence.TypeError, msgs[0].Type)
	assert.Equal(t, codeagent.ErrorContent, msgs[0].Content)
}

func TestSubmitRecordsTask(t *testing.T) {
	k, _ := newTestKernel(t, mocks.NewMockLLMClient())
	ctx := context.Background()

	project, runIDs, err := k.Submit(ctx, "a calculator\nwith big buttons")
	require.NoError(t, err)
	require.Len(t, runIDs, 1)
	assert.Equal(t, "a calculator", project.Name)

	run, err := k.Runs.GetRun(ctx, runIDs[0])
	require.NoError(t, err)
	assert.Equal(t, workflow.RunQueued, run.Status)
	assert.Equal(t, codeagent.FunctionID, run.FunctionID)
	assert.Equal(t, codeagent.EventName, run.Event.Name)
}

func TestRunStopsOnCancel(t *testing.T) {
	k, _ := newTestKernel(t, mocks.NewMockLLMClient())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx, false) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("kernel did not stop after cancel")
	}
}

func TestAPIServesThroughKernel(t *testing.T) {
	t.Setenv(config.EnvAPITokens, "kernel-token:tester")
	k, _ := newTestKernel(t, mocks.NewMockLLMClient())

	rec := httptest.NewRecorder()
	k.WebServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/greeting?text=kernel", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/greeting?text=kernel", nil)
	req.Header.Set("Authorization", "Bearer kernel-token")
	rec = httptest.NewRecorder()
	k.WebServer.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"greeting":"hello kernel"}`, rec.Body.String())

	k.Recorder.ResultPersisted(string(persistence.TypeResult))
	rec = httptest.NewRecorder()
	k.WebServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `kernel_test_task_results_total{type="RESULT"} 1`)
}

func TestDefaultConfigProtectsSecretsAPI(t *testing.T) {
	t.Setenv(config.EnvAPITokens, "")
	k, _ := newTestKernel(t, mocks.NewMockLLMClient())

	assert.Equal(t, config.DefaultServerHost, k.Config.Server.Host)

	req := httptest.NewRequest(http.MethodPost, "/api/secrets",
		strings.NewReader(`{"name":"SAGARMATHA_API_TOKENS","value":"evil:attacker"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	k.WebServer.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, config.GetAPITokens())
}

func TestLocalSandboxBackend(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Sandbox = &config.SandboxConfig{
		Backend:      config.SandboxBackendLocal,
		WorkspaceDir: filepath.Join(dir, "boxes"),
	}

	k, err := NewKernel(cfg, dir, Options{
		NewClient: func(string) (llm.LLMClient, error) { return mocks.NewMockLLMClient(), nil },
		Registry:  prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	defer func() { _ = k.Close() }()

	_, ok := k.Sandboxes.(*sandbox.LocalGateway)
	assert.True(t, ok, "expected the local gateway, got %T", k.Sandboxes)
	assert.FileExists(t, filepath.Join(dir, config.ProjectConfigDir, config.DefaultDatabaseFile))
}

func TestMissingTemplatesFileFails(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Sandbox = &config.SandboxConfig{
		Backend:       config.SandboxBackendLocal,
		WorkspaceDir:  filepath.Join(dir, "boxes"),
		TemplatesFile: "does-not-exist.yaml",
	}

	_, err := NewKernel(cfg, dir, Options{DatabasePath: filepath.Join(dir, "k.db")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "templates")
}
