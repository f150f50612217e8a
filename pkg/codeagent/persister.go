package codeagent

import (
	"context"
	"errors"
	"fmt"

	"sagarmatha/pkg/logx"
	"sagarmatha/pkg/persistence"
)

const (
	// FragmentTitle is the title of every fragment a successful run saves.
	FragmentTitle = "Fragment"

	// ErrorContent is the message content saved for a failed run.
	ErrorContent = "Something went Wrong Error Occured"
)

// MessageStore is the slice of the relational store the persister writes to.
type MessageStore interface {
	CreateMessage(ctx context.Context, req *persistence.CreateMessageRequest) (*persistence.Message, error)
	RunReply(ctx context.Context, runID string) (*persistence.Message, error)
}

// ResultRecorder counts persisted outcomes. Optional.
type ResultRecorder interface {
	ResultPersisted(messageType string)
}

// Outcome is the terminal state of one task run as the persister sees it.
type Outcome struct {
	Files      map[string]string
	ProjectID  string
	RunID      string
	SandboxURL string
	Summary    string
}

// Succeeded reports whether the outcome is saved as a RESULT: the agent wrote a
// summary and at least one file.
func (o Outcome) Succeeded() bool {
	return o.Summary != "" && len(o.Files) > 0
}

// Persister writes the single result message of a task run.
type Persister struct {
	store   MessageStore
	results ResultRecorder
	logger  *logx.Logger
}

// NewPersister creates a persister. results may be nil.
func NewPersister(store MessageStore, results ResultRecorder) *Persister {
	return &Persister{store: store, results: results, logger: logx.NewLogger("persister")}
}

// Request builds the message request for an outcome without writing it.
func Request(o Outcome) *persistence.CreateMessageRequest {
	req := &persistence.CreateMessageRequest{
		ProjectID: o.ProjectID,
		RunID:     o.RunID,
		Role:      persistence.RoleAssistant,
	}
	if !o.Succeeded() {
		req.Type = persistence.TypeError
		req.Content = ErrorContent
		return req
	}
	req.Type = persistence.TypeResult
	req.Content = o.Summary
	req.Fragment = &persistence.FragmentInput{
		SandboxURL: o.SandboxURL,
		Title:      FragmentTitle,
		Files:      o.Files,
	}
	return req
}

// Save writes exactly one message for the outcome. When the run already wrote its
// message, for example before a failed step record, that message is returned instead.
func (p *Persister) Save(ctx context.Context, o Outcome) (*persistence.Message, error) {
	if existing, err := p.existingReply(ctx, o.RunID); err != nil || existing != nil {
		return existing, err
	}

	req := Request(o)
	msg, err := p.store.CreateMessage(ctx, req)
	if errors.Is(err, persistence.ErrRunReplyExists) {
		return p.existingReply(ctx, o.RunID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save %s message for project %s: %w", req.Type, o.ProjectID, err)
	}
	if p.results != nil {
		p.results.ResultPersisted(string(req.Type))
	}

	if req.Type == persistence.TypeResult {
		p.logger.Info("💾 Saved result %s with %d file(s) for project %s", msg.ID, len(o.Files), o.ProjectID)
	} else {
		p.logger.Warn("💾 Saved error message %s for project %s (summary: %t, files: %d)",
			msg.ID, o.ProjectID, o.Summary != "", len(o.Files))
	}
	return msg, nil
}

// existingReply returns the message runID already wrote, or nil.
func (p *Persister) existingReply(ctx context.Context, runID string) (*persistence.Message, error) {
	if runID == "" {
		return nil, nil
	}
	msg, err := p.store.RunReply(ctx, runID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up the reply of run %s: %w", runID, err)
	}
	p.logger.Info("💾 Run %s already saved message %s", runID, msg.ID)
	return msg, nil
}
