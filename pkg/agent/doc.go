// Package agent builds the LLM clients used by the coding agent.
//
// Provider implementations live under internal/llmimpl and are only reachable through
// LLMClientFactory, which wraps them in the middleware chain from middleware/.
// The provider-neutral request and response types are in the llm subpackage.
package agent
