package agent

import (
	"fmt"

	"sagarmatha/pkg/agent/internal/llmimpl/anthropic"
	"sagarmatha/pkg/agent/internal/llmimpl/google"
	"sagarmatha/pkg/agent/internal/llmimpl/ollama"
	"sagarmatha/pkg/agent/internal/llmimpl/openaiofficial"
	"sagarmatha/pkg/agent/llm"
	"sagarmatha/pkg/agent/middleware/metrics"
	"sagarmatha/pkg/agent/middleware/resilience/retry"
	"sagarmatha/pkg/agent/middleware/resilience/timeout"
	"sagarmatha/pkg/agent/middleware/validation"
	"sagarmatha/pkg/config"
	"sagarmatha/pkg/logx"
)

// LLMClientFactory creates LLM clients with properly configured middleware chains.
type LLMClientFactory struct {
	config          config.AgentConfig
	metricsRecorder metrics.Recorder
}

// NewLLMClientFactory creates a new LLM client factory. A nil recorder disables metrics.
func NewLLMClientFactory(cfg config.AgentConfig, recorder metrics.Recorder) *LLMClientFactory {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &LLMClientFactory{
		config:          cfg,
		metricsRecorder: recorder,
	}
}

// Model returns the configured model name.
func (f *LLMClientFactory) Model() string {
	return f.config.Model
}

// CreateClient creates a client for the configured model with the full middleware chain.
// The API key is resolved from the secrets file or environment based on the model's provider.
func (f *LLMClientFactory) CreateClient(agentName string, logger *logx.Logger) (llm.LLMClient, error) {
	modelName := f.config.Model

	provider, err := config.GetModelProvider(modelName)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", modelName, err)
	}

	apiKey, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}

	maxTokens := f.config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = llm.DefaultMaxTokens
	}
	clientConfig := llm.LLMConfig{
		APIKey:      apiKey,
		ModelName:   modelName,
		MaxTokens:   maxTokens,
		Temperature: f.config.Temperature,
	}
	if err := clientConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid LLM configuration for %s: %w", agentName, err)
	}

	var rawClient llm.LLMClient
	switch provider {
	case config.ProviderGoogle:
		rawClient = google.NewGeminiClientWithModel(apiKey, modelName)
	case config.ProviderAnthropic:
		rawClient = anthropic.NewClaudeClientWithModel(apiKey, modelName)
	case config.ProviderOpenAI:
		rawClient = openaiofficial.NewOfficialClientWithModel(apiKey, modelName)
	case config.ProviderOllama:
		rawClient = ollama.NewOllamaClientWithModel(apiKey, modelName)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}

	return f.WrapWithMiddleware(rawClient, agentName, logger), nil
}

// WrapWithMiddleware applies the standard chain to an existing client:
// Metrics -> EmptyResponse -> Retry -> Timeout -> client.
//
// Empty-response validation sits outside retry so its own error is not retried a second time.
func (f *LLMClientFactory) WrapWithMiddleware(client llm.LLMClient, agentName string, logger *logx.Logger) llm.LLMClient {
	retryPolicy := retry.NewPolicy(retry.FromConfig(f.config.Retry), nil)

	requestTimeout := f.config.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = config.DefaultRequestTimeout
	}

	return llm.Chain(client,
		metrics.Middleware(f.metricsRecorder, nil, agentName, logger),
		validation.EmptyResponseMiddleware(),
		retry.Middleware(retryPolicy),
		timeout.Middleware(requestTimeout),
	)
}
