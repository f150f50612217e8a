// Package mocks provides shared mock implementations for testing.
//
// # Usage
//
//	import "sagarmatha/internal/mocks"
//
//	func TestSomething(t *testing.T) {
//	    mockLLM := mocks.NewMockLLMClient()
//	    mockLLM.RespondWith("<task_summary>Done</task_summary>")
//	    sandboxes := mocks.NewMockSandboxGateway()
//	    // Use mockLLM and sandboxes in test...
//	}
//
// # Available Mocks
//
//   - MockLLMClient: Mock for the llm.LLMClient interface
//   - MockSandboxGateway: In-memory sandbox.Gateway with injectable failures
package mocks
