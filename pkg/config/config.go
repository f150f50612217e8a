// Package config provides configuration loading, validation, and management for sagarmatha.
//
// ARCHITECTURE OVERVIEW:
//
// Configuration lives in a single JSON document at <projectDir>/.sagarmatha/config.json and is
// held in memory as a global singleton protected by a mutex.
//
// KEY PRINCIPLES:
//
//  1. SECTIONS BY SUBSYSTEM: agent (model, iteration cap), sandbox (backend, template, preview
//     port), server (HTTP API), auth (route protection), workflow (engine workers, retries) and
//     database. Each section is owned by exactly one subsystem.
//
//  2. VALUE-BASED ACCESS: GetConfig() returns the config BY VALUE. Updates go through the
//     Update* functions which validate and persist atomically.
//
//  3. DEFAULTS ON LOAD: Missing sections and zero fields are filled by applyDefaults and the
//     result is written back, so old files pick up new settings.
//
//  4. SECRETS ARE NOT CONFIG: API keys and session tokens are read through GetSecret (encrypted
//     secrets file first, environment second). They are never written to config.json.
//
// USAGE PATTERNS:
//
//	// Load once at startup
//	err := config.LoadConfig(projectDir)
//
//	// Read (always by value)
//	cfg, err := config.GetConfig()
//	maxTurns := cfg.Agent.MaxIterations
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sagarmatha/pkg/logx"
)

//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config     *Config
	projectDir string // set once by LoadConfig
	logger     *logx.Logger
	mu         sync.RWMutex
)

func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// LogInfo logs an info message using the config logger.
func LogInfo(format string, args ...interface{}) {
	getLogger().Info(format, args...)
}

// Project layout.
const (
	ProjectConfigDir      = ".sagarmatha"
	ProjectConfigFilename = "config.json"
	SchemaVersion         = "1.0"
)

// Providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Environment variables holding provider credentials.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GEMINI_API_KEY"
	EnvAPITokens       = "SAGARMATHA_API_TOKENS"
	EnvPassword        = "SAGARMATHA_PASSWORD"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// Sandbox backends.
const (
	SandboxBackendDocker = "docker"
	SandboxBackendLocal  = "local"
)

// Defaults.
const (
	DefaultModel                = "gemini-2.0-flash-exp"
	DefaultMaxIterations        = 15
	DefaultMaxInferencesPerTurn = 10
	DefaultMaxTokens            = 8192
	DefaultTemperature          = 0.1
	DefaultRequestTimeout       = 3 * time.Minute
	DefaultSandboxTemplate      = "sagarmatha-nextjs-test"
	DefaultSandboxImage         = "node:21-slim"
	DefaultSandboxWorkDir       = "/home/user"
	DefaultPreviewPort          = 3000
	DefaultPreviewScheme        = "https"
	DefaultCommandTimeout       = 10 * time.Minute
	DefaultServerHost           = "127.0.0.1"
	DefaultServerPort           = 8080
	DefaultWorkflowWorkers      = 4
	DefaultWorkflowRetries      = 3
	DefaultWorkflowQueueSize    = 100
	DefaultDatabaseFile         = "sagarmatha.db"
	DefaultSignInPath           = "/agency/sign-in"
	DefaultAfterSignInPath      = "/agency"
)

// ModelInfo contains static information about a known LLM model.
type ModelInfo struct {
	Provider         string  // API provider
	InputCPM         float64 // Cost per million input tokens (USD)
	OutputCPM        float64 // Cost per million output tokens (USD)
	MaxContextTokens int
	MaxOutputTokens  int
}

// KnownModels contains pricing and provider information for supported models.
//
//nolint:gochecknoglobals // static model registry
var KnownModels = map[string]ModelInfo{
	"gemini-2.0-flash-exp": {
		Provider:         ProviderGoogle,
		InputCPM:         0.10,
		OutputCPM:        0.40,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  8192,
	},
	"gemini-2.0-flash": {
		Provider:         ProviderGoogle,
		InputCPM:         0.10,
		OutputCPM:        0.40,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  8192,
	},
	"gemini-2.5-flash": {
		Provider:         ProviderGoogle,
		InputCPM:         0.30,
		OutputCPM:        2.50,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  65536,
	},
	"claude-sonnet-4-5": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-opus-4-1": {
		Provider:         ProviderAnthropic,
		InputCPM:         15.0,
		OutputCPM:        75.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  16384,
	},
	"gpt-4o": {
		Provider:         ProviderOpenAI,
		InputCPM:         2.5,
		OutputCPM:        10.0,
		MaxContextTokens: 128000,
		MaxOutputTokens:  4096,
	},
	"gpt-4.1": {
		Provider:         ProviderOpenAI,
		InputCPM:         2.0,
		OutputCPM:        8.0,
		MaxContextTokens: 1047576,
		MaxOutputTokens:  32768,
	},
}

// ProviderPattern maps a model name prefix to a provider.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

//nolint:gochecknoglobals // inference rules
var ProviderPatterns = []ProviderPattern{
	{"gemini", ProviderGoogle},
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"ollama:", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"codellama", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"phi", ProviderOllama},
}

// GetModelProvider returns the API provider for a model, checking KnownModels then prefixes.
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match", modelName)
}

// CalculateCost returns the USD cost for a model and token usage. Unknown models cost 0.
func CalculateCost(modelName string, promptTokens, completionTokens int) (float64, error) {
	if info, exists := KnownModels[modelName]; exists {
		inputCost := (float64(promptTokens) / 1_000_000.0) * info.InputCPM
		outputCost := (float64(completionTokens) / 1_000_000.0) * info.OutputCPM
		return inputCost + outputCost, nil
	}
	return 0.0, nil
}

// RetryConfig configures exponential backoff.
type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts"`
	InitialDelay  time.Duration `json:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
	Jitter        bool          `json:"jitter"`
}

// MetricsConfig configures Prometheus export and querying.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Namespace     string `json:"namespace,omitempty"`
	PrometheusURL string `json:"prometheus_url,omitempty"`
}

// AgentConfig configures the coding agent and its turn controller.
type AgentConfig struct {
	Name                 string        `json:"name"`
	Model                string        `json:"model"`
	MaxIterations        int           `json:"max_iterations"`
	MaxInferencesPerTurn int           `json:"max_inferences_per_turn"`
	MaxTokens            int           `json:"max_tokens"`
	Temperature          float32       `json:"temperature"`
	RequestTimeout       time.Duration `json:"request_timeout"`
	Retry                RetryConfig   `json:"retry"`
	Metrics              MetricsConfig `json:"metrics"`
}

// ResourceLimits bounds sandbox containers.
type ResourceLimits struct {
	CPUs   string `json:"cpus,omitempty"`
	Memory string `json:"memory,omitempty"`
	PIDs   int64  `json:"pids,omitempty"`
}

// SandboxConfig configures the execution environment each run gets.
type SandboxConfig struct {
	Backend        string         `json:"backend"`
	Template       string         `json:"template"`
	TemplatesFile  string         `json:"templates_file,omitempty"`
	WorkspaceDir   string         `json:"workspace_dir,omitempty"`
	PreviewPort    int            `json:"preview_port"`
	PreviewScheme  string         `json:"preview_scheme"`
	PreviewHost    string         `json:"preview_host,omitempty"`
	CommandTimeout time.Duration  `json:"command_timeout"`
	Resources      ResourceLimits `json:"resources"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	EnableCORS     bool     `json:"enable_cors"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// AuthConfig configures route protection. Protection is on unless Disabled is set;
// the secrets API requires a session either way.
type AuthConfig struct {
	Disabled        bool     `json:"disabled"`
	PublicRoutes    []string `json:"public_routes,omitempty"`
	AuthPages       []string `json:"auth_pages,omitempty"`
	SignInPath      string   `json:"sign_in_path"`
	AfterSignInPath string   `json:"after_sign_in_path"`
}

// WorkflowConfig configures the durable workflow engine.
type WorkflowConfig struct {
	Workers   int         `json:"workers"`
	QueueSize int         `json:"queue_size"`
	Retry     RetryConfig `json:"retry"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `json:"path,omitempty"` // relative paths resolve under .sagarmatha
}

// Config is the complete configuration document.
type Config struct {
	SchemaVersion string          `json:"schema_version"`
	Agent         *AgentConfig    `json:"agent"`
	Sandbox       *SandboxConfig  `json:"sandbox"`
	Server        *ServerConfig   `json:"server"`
	Auth          *AuthConfig     `json:"auth"`
	Workflow      *WorkflowConfig `json:"workflow"`
	Database      *DatabaseConfig `json:"database"`
}

// DefaultPublicRoutes are reachable without a session.
//
//nolint:gochecknoglobals // route policy defaults
var DefaultPublicRoutes = []string{
	"/",
	"/api/auth(.*)",
	"/agency/sign-in(.*)",
	"/agency/sign-up(.*)",
	"/agency/forgot-password(.*)",
	"/agency/reset-password(.*)",
	"/sso-callback(.*)",
	"/api/uploadthing(.*)",
	"/healthz",
	"/metrics",
}

// DefaultAllowedOrigins are the browser origins allowed by CORS when none are configured.
//
//nolint:gochecknoglobals // server defaults
var DefaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
}

// DefaultAuthPages redirect signed-in users away.
//
//nolint:gochecknoglobals // route policy defaults
var DefaultAuthPages = []string{
	"/agency/sign-in(.*)",
	"/agency/sign-up(.*)",
}

// GetProjectConfigDir returns <projectDir>/.sagarmatha.
func GetProjectConfigDir() (string, error) {
	mu.RLock()
	defer mu.RUnlock()
	if projectDir == "" {
		return "", fmt.Errorf("config not initialized - call LoadConfig first")
	}
	return filepath.Join(projectDir, ProjectConfigDir), nil
}

// GetProjectDir returns the project directory passed to LoadConfig.
func GetProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// GetDatabasePath resolves the SQLite file location.
func GetDatabasePath() (string, error) {
	cfg, err := GetConfig()
	if err != nil {
		return "", err
	}
	dir, err := GetProjectConfigDir()
	if err != nil {
		return "", err
	}
	if cfg.Database == nil || cfg.Database.Path == "" {
		return filepath.Join(dir, DefaultDatabaseFile), nil
	}
	if filepath.IsAbs(cfg.Database.Path) {
		return cfg.Database.Path, nil
	}
	return filepath.Join(dir, cfg.Database.Path), nil
}

// GetConfig returns the current global config BY VALUE.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not initialized - call LoadConfig first")
	}
	return *config, nil
}

// SetConfigForTesting sets the global config. Pass nil to reset.
func SetConfigForTesting(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	config = cfg
	if cfg == nil {
		projectDir = ""
	}
}

// LoadConfig loads <projectDir>/.sagarmatha/config.json into the global singleton.
//
// Behavior:
// - Missing file: creates a config with defaults and saves it
// - Existing file: loads, applies defaults for missing fields, validates and saves back
// - Unparseable file: returns an error rather than overwriting user changes
func LoadConfig(inputProjectDir string) error {
	mu.Lock()
	defer mu.Unlock()

	projectDir = inputProjectDir
	configPath := filepath.Join(projectDir, ProjectConfigDir, ProjectConfigFilename)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		getLogger().Info("📝 Config file not found, creating new config at %s", configPath)
		config = createDefaultConfig()
		if err := validateConfig(config); err != nil {
			return fmt.Errorf("default config validation failed: %w", err)
		}
		if err := saveConfigLocked(); err != nil {
			return fmt.Errorf("failed to save initial config: %w", err)
		}
		getLogger().Info("✅ New config file created and validated")
		return nil
	}

	getLogger().Info("📝 Loading config from %s", configPath)
	loadedConfig, err := loadConfigFromFile(configPath)
	if err != nil {
		return fmt.Errorf("fatal: config file exists but cannot be parsed (to avoid overwriting your changes): %w", err)
	}

	applyDefaults(loadedConfig)
	if err := validateConfig(loadedConfig); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	config = loadedConfig

	if err := saveConfigLocked(); err != nil {
		return fmt.Errorf("failed to save config with applied defaults: %w", err)
	}

	getLogger().Info("✅ Config loaded and validated successfully")
	return nil
}

// UpdateAgent replaces the agent section after validation and persists it.
func UpdateAgent(agent *AgentConfig) error {
	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}

	candidate := *config
	candidate.Agent = agent
	applyDefaults(&candidate)
	if err := validateConfig(&candidate); err != nil {
		return err
	}
	config.Agent = candidate.Agent
	return saveConfigLocked()
}

// UpdateSandbox replaces the sandbox section after validation and persists it.
func UpdateSandbox(sandbox *SandboxConfig) error {
	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}

	candidate := *config
	candidate.Sandbox = sandbox
	applyDefaults(&candidate)
	if err := validateConfig(&candidate); err != nil {
		return err
	}
	config.Sandbox = candidate.Sandbox
	return saveConfigLocked()
}

func loadConfigFromFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON %s: %w", configPath, err)
	}
	return &cfg, nil
}

// SaveConfig writes cfg to <dir>/.sagarmatha/config.json.
func SaveConfig(cfg *Config, dir string) error {
	return writeConfigFile(cfg, filepath.Join(dir, ProjectConfigDir, ProjectConfigFilename))
}

func writeConfigFile(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// saveConfigLocked must be called with mu held.
func saveConfigLocked() error {
	if projectDir == "" {
		return fmt.Errorf("config not initialized - call LoadConfig first")
	}
	return SaveConfig(config, projectDir)
}

func createDefaultConfig() *Config {
	cfg := &Config{SchemaVersion: SchemaVersion}
	applyDefaults(cfg)
	return cfg
}

func defaultRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:   DefaultWorkflowRetries,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

func fillRetry(r *RetryConfig) {
	d := defaultRetry()
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = d.MaxAttempts
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = d.InitialDelay
	}
	if r.MaxDelay <= 0 {
		r.MaxDelay = d.MaxDelay
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = d.BackoffFactor
	}
}

// ApplyDefaults fills missing sections and zero-valued fields of a config that was
// built in code rather than loaded.
func ApplyDefaults(cfg *Config) {
	applyDefaults(cfg)
}

// applyDefaults fills missing sections and zero-valued fields.
func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SchemaVersion
	}

	if cfg.Agent == nil {
		cfg.Agent = &AgentConfig{Metrics: MetricsConfig{Enabled: true}}
	}
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = "code-agent"
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = DefaultModel
	}
	if cfg.Agent.MaxIterations <= 0 {
		cfg.Agent.MaxIterations = DefaultMaxIterations
	}
	if cfg.Agent.MaxInferencesPerTurn <= 0 {
		cfg.Agent.MaxInferencesPerTurn = DefaultMaxInferencesPerTurn
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = DefaultMaxTokens
	}
	if cfg.Agent.Temperature == 0 {
		cfg.Agent.Temperature = DefaultTemperature
	}
	if cfg.Agent.RequestTimeout <= 0 {
		cfg.Agent.RequestTimeout = DefaultRequestTimeout
	}
	fillRetry(&cfg.Agent.Retry)
	if cfg.Agent.Metrics.Namespace == "" {
		cfg.Agent.Metrics.Namespace = "sagarmatha"
	}

	if cfg.Sandbox == nil {
		cfg.Sandbox = &SandboxConfig{}
	}
	if cfg.Sandbox.Backend == "" {
		cfg.Sandbox.Backend = SandboxBackendDocker
	}
	if cfg.Sandbox.Template == "" {
		cfg.Sandbox.Template = DefaultSandboxTemplate
	}
	if cfg.Sandbox.PreviewPort <= 0 {
		cfg.Sandbox.PreviewPort = DefaultPreviewPort
	}
	if cfg.Sandbox.PreviewScheme == "" {
		cfg.Sandbox.PreviewScheme = DefaultPreviewScheme
	}
	if cfg.Sandbox.CommandTimeout <= 0 {
		cfg.Sandbox.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.Sandbox.Resources.CPUs == "" {
		cfg.Sandbox.Resources.CPUs = "2"
	}
	if cfg.Sandbox.Resources.Memory == "" {
		cfg.Sandbox.Resources.Memory = "2g"
	}
	if cfg.Sandbox.Resources.PIDs == 0 {
		cfg.Sandbox.Resources.PIDs = 1024
	}

	if cfg.Server == nil {
		cfg.Server = &ServerConfig{EnableCORS: true}
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultServerHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.EnableCORS && len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = append([]string(nil), DefaultAllowedOrigins...)
	}

	if cfg.Auth == nil {
		cfg.Auth = &AuthConfig{}
	}
	if len(cfg.Auth.PublicRoutes) == 0 {
		cfg.Auth.PublicRoutes = append([]string(nil), DefaultPublicRoutes...)
	}
	if len(cfg.Auth.AuthPages) == 0 {
		cfg.Auth.AuthPages = append([]string(nil), DefaultAuthPages...)
	}
	if cfg.Auth.SignInPath == "" {
		cfg.Auth.SignInPath = DefaultSignInPath
	}
	if cfg.Auth.AfterSignInPath == "" {
		cfg.Auth.AfterSignInPath = DefaultAfterSignInPath
	}

	if cfg.Workflow == nil {
		cfg.Workflow = &WorkflowConfig{}
	}
	if cfg.Workflow.Workers <= 0 {
		cfg.Workflow.Workers = DefaultWorkflowWorkers
	}
	if cfg.Workflow.QueueSize <= 0 {
		cfg.Workflow.QueueSize = DefaultWorkflowQueueSize
	}
	fillRetry(&cfg.Workflow.Retry)

	if cfg.Database == nil {
		cfg.Database = &DatabaseConfig{}
	}
}

func validateConfig(cfg *Config) error {
	getLogger().Info("📋 Validating config structure")

	if cfg.Agent != nil {
		if _, err := GetModelProvider(cfg.Agent.Model); err != nil {
			return fmt.Errorf("agent model '%s': %w", cfg.Agent.Model, err)
		}
		if cfg.Agent.MaxIterations < 1 {
			return fmt.Errorf("agent max_iterations must be at least 1 (got %d)", cfg.Agent.MaxIterations)
		}
		if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 2 {
			return fmt.Errorf("agent temperature must be between 0 and 2 (got %.2f)", cfg.Agent.Temperature)
		}
	}

	if cfg.Sandbox != nil {
		switch cfg.Sandbox.Backend {
		case SandboxBackendDocker, SandboxBackendLocal:
		default:
			return fmt.Errorf("sandbox backend must be '%s' or '%s', got '%s'",
				SandboxBackendDocker, SandboxBackendLocal, cfg.Sandbox.Backend)
		}
		if cfg.Sandbox.PreviewPort <= 0 || cfg.Sandbox.PreviewPort > 65535 {
			return fmt.Errorf("sandbox preview_port must be between 1 and 65535 (got %d)", cfg.Sandbox.PreviewPort)
		}
		if cfg.Sandbox.PreviewScheme != "http" && cfg.Sandbox.PreviewScheme != "https" {
			return fmt.Errorf("sandbox preview_scheme must be http or https (got %q)", cfg.Sandbox.PreviewScheme)
		}
	}

	if cfg.Server != nil && (cfg.Server.Port <= 0 || cfg.Server.Port > 65535) {
		return fmt.Errorf("server port must be between 1 and 65535 (got %d)", cfg.Server.Port)
	}

	if cfg.Auth != nil && !cfg.Auth.Disabled && !strings.HasPrefix(cfg.Auth.SignInPath, "/") {
		return fmt.Errorf("auth sign_in_path must be an absolute path (got %q)", cfg.Auth.SignInPath)
	}

	if cfg.Workflow != nil && cfg.Workflow.Workers < 1 {
		return fmt.Errorf("workflow workers must be positive")
	}

	getLogger().Info("✅ Config structure validated")
	return nil
}

// GetAPIKey returns the API key for a provider from the secrets file or environment.
// Ollama needs no key; its server URL is returned instead.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderOllama:
		if host, err := GetSecret(EnvOllamaHost); err == nil && host != "" {
			return host, nil
		}
		return "http://localhost:11434", nil
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	key, err := GetSecret(envVar)
	if err == nil && key != "" {
		return key, nil
	}
	if provider == ProviderGoogle {
		if key, err := GetSecret("GOOGLE_API_KEY"); err == nil && key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("API key not found: %s not found in secrets file or environment variables", envVar)
}

// GetAPITokens parses SAGARMATHA_API_TOKENS ("token:user,token2:user2") into token → user.
func GetAPITokens() map[string]string {
	tokens := make(map[string]string)
	raw, err := GetSecret(EnvAPITokens)
	if err != nil {
		return tokens
	}
	for _, pair := range strings.Split(raw, ",") {
		token, user, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || token == "" || user == "" {
			continue
		}
		tokens[token] = user
	}
	return tokens
}
