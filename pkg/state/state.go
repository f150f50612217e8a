// Package state holds the shared agent state of one task run: the files the agent has
// written so far and, once the agent declares completion, its summary.
//
// A State is owned by a single network run. Tools and the completion detector receive it
// explicitly; nothing else mutates it.
package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrSummaryAlreadySet is returned when a second summary is recorded.
var ErrSummaryAlreadySet = errors.New("summary already set")

// ErrFilesShrink is returned when a replacement mapping drops a known path.
var ErrFilesShrink = errors.New("files mapping may not drop paths")

// File is one path/content pair as exchanged with tools.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// State is the shared agent state.
type State struct {
	mu      sync.RWMutex
	files   map[string]string
	summary *string
}

// New returns an empty state.
func New() *State {
	return &State{files: make(map[string]string)}
}

// Files returns a copy of the path → content mapping.
func (s *State) Files() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyFiles(s.files)
}

// FileCount returns the number of tracked paths.
func (s *State) FileCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// Paths returns the tracked paths in sorted order.
func (s *State) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ReplaceFiles swaps in a new mapping. The mapping must contain every path already
// tracked; values may change.
func (s *State) ReplaceFiles(files map[string]string) error {
	if files == nil {
		return fmt.Errorf("files mapping is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for path := range s.files {
		if _, ok := files[path]; !ok {
			return fmt.Errorf("%w: %s", ErrFilesShrink, path)
		}
	}
	s.files = copyFiles(files)
	return nil
}

// Summary returns the summary and whether it has been set.
func (s *State) Summary() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.summary == nil {
		return "", false
	}
	return *s.summary, true
}

// HasSummary reports whether a non-empty summary has been recorded.
func (s *State) HasSummary() bool {
	summary, ok := s.Summary()
	return ok && summary != ""
}

// SetSummary records the summary. It can be set once.
func (s *State) SetSummary(summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summary != nil {
		return ErrSummaryAlreadySet
	}
	s.summary = &summary
	return nil
}

// Snapshot is a serializable copy of a State.
type Snapshot struct {
	Files   map[string]string `json:"files"`
	Summary string            `json:"summary,omitempty"`
}

// Snapshot returns a point-in-time copy.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Files: copyFiles(s.files)}
	if s.summary != nil {
		snap.Summary = *s.summary
	}
	return snap
}

// MergeFiles applies entries to a copy of base in order; later entries for the same
// path win. base is not modified.
func MergeFiles(base map[string]string, entries []File) map[string]string {
	merged := copyFiles(base)
	for _, f := range entries {
		merged[f.Path] = f.Content
	}
	return merged
}

func copyFiles(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
