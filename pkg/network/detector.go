package network

import (
	"strings"

	"sagarmatha/pkg/agent/llm"
	"sagarmatha/pkg/state"
)

// CompletionMarker is the literal an agent emits when it considers the task finished.
const CompletionMarker = "<task_summary>"

// LastAssistantText returns the content of the most recent assistant message.
func LastAssistantText(messages []llm.CompletionMessage) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleAssistant {
			return messages[i].Content, true
		}
	}
	return "", false
}

// Detect returns the summary carried by messages: the full text of the last assistant
// message when it contains CompletionMarker. Earlier assistant messages are never considered.
func Detect(messages []llm.CompletionMessage) (string, bool) {
	text, ok := LastAssistantText(messages)
	if !ok || !strings.Contains(text, CompletionMarker) {
		return "", false
	}
	return text, true
}

// DetectCompletion records the summary found in a turn's messages. It reports whether
// st holds a summary afterwards. An existing summary is never overwritten.
func DetectCompletion(messages []llm.CompletionMessage, st *state.State) bool {
	if st.HasSummary() {
		return true
	}
	summary, ok := Detect(messages)
	if !ok {
		return false
	}
	// Only fails if a summary was set concurrently, which a single-writer run never does.
	_ = st.SetSummary(summary)
	return true
}
