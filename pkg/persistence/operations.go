package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// maxProjectNameRunes bounds names derived from a task description.
const maxProjectNameRunes = 60

// DatabaseOperations provides methods for database operations.
type DatabaseOperations struct {
	db *sql.DB
}

// NewDatabaseOperations creates a new DatabaseOperations instance.
func NewDatabaseOperations(db *sql.DB) *DatabaseOperations {
	return &DatabaseOperations{db: db}
}

// ProjectName derives a project name from a task description: its first line, trimmed
// and shortened.
func ProjectName(value string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(value), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return "Untitled project"
	}
	if utf8.RuneCountInString(line) <= maxProjectNameRunes {
		return line
	}
	runes := []rune(line)
	return strings.TrimSpace(string(runes[:maxProjectNameRunes])) + "…"
}

// CreateProject inserts a new project.
func (ops *DatabaseOperations) CreateProject(ctx context.Context, name string) (*Project, error) {
	now := time.Now().UTC()
	project := &Project{ID: GenerateID(), Name: name, CreatedAt: now, UpdatedAt: now}

	_, err := ops.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		project.ID, project.Name, project.CreatedAt, project.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return project, nil
}

// GetProject returns a project by id.
func (ops *DatabaseOperations) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := ops.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", id, err)
	}
	return &p, nil
}

// ListProjects returns projects, most recently updated first.
func (ops *DatabaseOperations) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := ops.db.QueryContext(ctx,
		`SELECT id, name, created_at, updated_at FROM projects ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}
	return projects, nil
}

// CreateMessage inserts a message and its fragment atomically, and touches the project.
func (ops *DatabaseOperations) CreateMessage(ctx context.Context, req *CreateMessageRequest) (*Message, error) {
	if !req.Role.Valid() {
		return nil, fmt.Errorf("invalid message role %q", req.Role)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("invalid message type %q", req.Type)
	}

	now := time.Now().UTC()
	msg := &Message{
		ID:        GenerateID(),
		ProjectID: req.ProjectID,
		RunID:     req.RunID,
		Content:   req.Content,
		Role:      req.Role,
		Type:      req.Type,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := ops.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE projects SET updated_at = ? WHERE id = ?`, now, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to touch project %s: %w", req.ProjectID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("project %s: %w", req.ProjectID, ErrNotFound)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, project_id, run_id, content, role, type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ProjectID, msg.RunID, msg.Content, string(msg.Role), string(msg.Type), msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		if msg.RunID != "" && strings.Contains(err.Error(), "UNIQUE constraint failed: messages.run_id") {
			return nil, fmt.Errorf("run %s: %w", msg.RunID, ErrRunReplyExists)
		}
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if req.Fragment != nil {
		files := req.Fragment.Files
		if files == nil {
			files = map[string]string{}
		}
		filesJSON, err := json.Marshal(files)
		if err != nil {
			return nil, fmt.Errorf("failed to encode fragment files: %w", err)
		}

		frag := &Fragment{
			ID:         GenerateID(),
			MessageID:  msg.ID,
			SandboxURL: req.Fragment.SandboxURL,
			Title:      req.Fragment.Title,
			Files:      files,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO fragments (id, message_id, sandbox_url, title, files, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			frag.ID, frag.MessageID, frag.SandboxURL, frag.Title, string(filesJSON), frag.CreatedAt, frag.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert fragment: %w", err)
		}
		msg.Fragment = frag
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}
	return msg, nil
}

// ListMessages returns a project's messages in creation order, each with its fragment.
func (ops *DatabaseOperations) ListMessages(ctx context.Context, projectID string) ([]*Message, error) {
	rows, err := ops.db.QueryContext(ctx, `
		SELECT m.id, m.project_id, m.run_id, m.content, m.role, m.type, m.created_at, m.updated_at,
		       f.id, f.sandbox_url, f.title, f.files, f.created_at, f.updated_at
		FROM messages m
		LEFT JOIN fragments f ON f.message_id = m.id
		WHERE m.project_id = ?
		ORDER BY m.created_at ASC, m.rowid ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for %s: %w", projectID, err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// MessagesForRun returns the messages a workflow run wrote.
func (ops *DatabaseOperations) MessagesForRun(ctx context.Context, runID string) ([]*Message, error) {
	rows, err := ops.db.QueryContext(ctx, `
		SELECT m.id, m.project_id, m.run_id, m.content, m.role, m.type, m.created_at, m.updated_at,
		       f.id, f.sandbox_url, f.title, f.files, f.created_at, f.updated_at
		FROM messages m
		LEFT JOIN fragments f ON f.message_id = m.id
		WHERE m.run_id = ?
		ORDER BY m.created_at ASC, m.rowid ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// RunReply returns the assistant message a workflow run wrote, or ErrNotFound.
func (ops *DatabaseOperations) RunReply(ctx context.Context, runID string) (*Message, error) {
	messages, err := ops.MessagesForRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	for _, msg := range messages {
		if msg.Role == RoleAssistant {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("reply of run %s: %w", runID, ErrNotFound)
}

func scanMessage(rows *sql.Rows) (*Message, error) {
	var (
		msg           Message
		role, typ     string
		fragID        sql.NullString
		fragURL       sql.NullString
		fragTitle     sql.NullString
		fragFiles     sql.NullString
		fragCreatedAt sql.NullTime
		fragUpdatedAt sql.NullTime
	)
	if err := rows.Scan(
		&msg.ID, &msg.ProjectID, &msg.RunID, &msg.Content, &role, &typ, &msg.CreatedAt, &msg.UpdatedAt,
		&fragID, &fragURL, &fragTitle, &fragFiles, &fragCreatedAt, &fragUpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	msg.Role = MessageRole(role)
	msg.Type = MessageType(typ)

	if fragID.Valid {
		frag := &Fragment{
			ID:         fragID.String,
			MessageID:  msg.ID,
			SandboxURL: fragURL.String,
			Title:      fragTitle.String,
			CreatedAt:  fragCreatedAt.Time,
			UpdatedAt:  fragUpdatedAt.Time,
		}
		if err := json.Unmarshal([]byte(fragFiles.String), &frag.Files); err != nil {
			return nil, fmt.Errorf("failed to decode files of fragment %s: %w", frag.ID, err)
		}
		msg.Fragment = frag
	}
	return &msg, nil
}
