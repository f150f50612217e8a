package persistence

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrRunReplyExists is returned when a workflow run already wrote its assistant message.
	ErrRunReplyExists = errors.New("run already has a reply")
)

// Project groups the conversation about one app.
type Project struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ID        string    `json:"id"`
	Name      string    `json:"name"`
}

// MessageRole is who authored a message.
type MessageRole string

// MessageType classifies a message.
type MessageType string

const (
	RoleUser      MessageRole = "USER"
	RoleAssistant MessageRole = "ASSISTANT"

	TypeResult MessageType = "RESULT"
	TypeError  MessageType = "ERROR"
)

// Message is one entry in a project's conversation.
//
//nolint:govet // struct alignment optimization not critical for this type
type Message struct {
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	ID        string      `json:"id"`
	ProjectID string      `json:"project_id"`
	RunID     string      `json:"run_id,omitempty"`
	Content   string      `json:"content"`
	Role      MessageRole `json:"role"`
	Type      MessageType `json:"type"`
	Fragment  *Fragment   `json:"fragment,omitempty"`
}

// Fragment is the artifact of a successful run: the sandbox preview and the files written.
type Fragment struct {
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Files      map[string]string `json:"files"`
	ID         string            `json:"id"`
	MessageID  string            `json:"message_id"`
	SandboxURL string            `json:"sandbox_url"`
	Title      string            `json:"title"`
}

// FragmentInput is the fragment part of CreateMessageRequest.
type FragmentInput struct {
	Files      map[string]string `json:"files"`
	SandboxURL string            `json:"sandbox_url"`
	Title      string            `json:"title"`
}

// CreateMessageRequest creates a message and, optionally, its fragment in one transaction.
type CreateMessageRequest struct {
	Fragment  *FragmentInput `json:"fragment,omitempty"`
	ProjectID string         `json:"project_id"`
	RunID     string         `json:"run_id,omitempty"`
	Content   string         `json:"content"`
	Role      MessageRole    `json:"role"`
	Type      MessageType    `json:"type"`
}

// Valid reports whether r is a known role.
func (r MessageRole) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Valid reports whether t is a known type.
func (t MessageType) Valid() bool {
	return t == TypeResult || t == TypeError
}

// GenerateID generates a new UUID for any record.
func GenerateID() string {
	return uuid.New().String()
}
