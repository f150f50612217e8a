// Package logx provides component-scoped logging with context-aware debug output
// and an in-memory buffer of recent entries for the HTTP API.
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const timestampFormat = "2006-01-02T15:04:05.000Z"

type Logger struct {
	component string
}

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// DebugConfig controls debug logging behavior.
type DebugConfig struct {
	Enabled bool
	Domains map[string]bool // nil = all domains
}

// LogEntry is a structured log entry served by the API.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Component string `json:"component"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Domain    string `json:"domain,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

// InMemoryLogBuffer stores the most recent log entries.
type InMemoryLogBuffer struct {
	entries []LogEntry
	mutex   sync.RWMutex
	maxSize int
}

type ctxKey string

const runIDKey ctxKey = "run_id"

var (
	debugConfig = &DebugConfig{}
	debugMutex  sync.RWMutex

	logBuffer = NewInMemoryLogBuffer(1000)

	// logWriter overrides the output destination; nil means stderr.
	logWriter     io.Writer
	logWriterLock sync.Mutex
)

func init() { //nolint:gochecknoinits // env var initialization
	initDebugFromEnv()
}

func initDebugFromEnv() {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debug := os.Getenv("DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		debugConfig.Enabled = true
	}

	// DEBUG_DOMAINS=network,sandbox,workflow
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugConfig.Domains = make(map[string]bool)
		for _, domain := range strings.Split(domains, ",") {
			debugConfig.Domains[strings.TrimSpace(domain)] = true
		}
	}
}

func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

// SetDebugConfig toggles debug logging globally.
func SetDebugConfig(enabled bool) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugConfig.Enabled = enabled
}

// SetDebugDomains restricts debug logging to the given domains. An empty list enables all.
func SetDebugDomains(domains []string) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if len(domains) == 0 {
		debugConfig.Domains = nil
		return
	}
	debugConfig.Domains = make(map[string]bool)
	for _, domain := range domains {
		debugConfig.Domains[strings.TrimSpace(domain)] = true
	}
}

func IsDebugEnabled() bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()
	return debugConfig.Enabled
}

// IsDebugEnabledForDomain reports whether debug output is enabled for domain.
func IsDebugEnabledForDomain(domain string) bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()

	if !debugConfig.Enabled {
		return false
	}
	if debugConfig.Domains == nil {
		return true
	}
	return debugConfig.Domains[domain]
}

// WithRunID tags ctx so that debug lines emitted through it carry the run id.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunIDFromContext returns the run id stored by WithRunID, or "".
func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

func NewInMemoryLogBuffer(maxSize int) *InMemoryLogBuffer {
	return &InMemoryLogBuffer{
		entries: make([]LogEntry, 0),
		maxSize: maxSize,
	}
}

// AddLogEntry appends entry, evicting the oldest entries beyond maxSize.
func (b *InMemoryLogBuffer) AddLogEntry(entry *LogEntry) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.entries = append(b.entries, *entry)
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

// GetLogEntries returns a copy of the buffered entries, optionally filtered.
func (b *InMemoryLogBuffer) GetLogEntries(domain string, since time.Time) []LogEntry {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	filtered := make([]LogEntry, 0, len(b.entries))
	for i := range b.entries {
		entry := &b.entries[i]
		if domain != "" && !strings.EqualFold(entry.Domain, domain) && !strings.EqualFold(entry.Component, domain) {
			continue
		}
		if !since.IsZero() {
			entryTime, err := time.Parse(timestampFormat, entry.Timestamp)
			if err != nil || entryTime.Before(since) {
				continue
			}
		}
		filtered = append(filtered, *entry)
	}
	return filtered
}

// GetRecentLogEntries returns entries from the global buffer.
func GetRecentLogEntries(domain string, since time.Time) []LogEntry {
	return logBuffer.GetLogEntries(domain, since)
}

// SetOutput redirects log lines to w. A nil writer restores stderr.
func SetOutput(w io.Writer) {
	logWriterLock.Lock()
	defer logWriterLock.Unlock()
	logWriter = w
}

func writeLine(line string) {
	logWriterLock.Lock()
	defer logWriterLock.Unlock()

	var w io.Writer = os.Stderr
	if logWriter != nil {
		w = logWriter
	}
	fmt.Fprintln(w, line)
}

func emit(component string, level Level, domain, runID, message string) {
	timestamp := time.Now().UTC().Format(timestampFormat)
	body := message
	if domain != "" {
		body = fmt.Sprintf("[%s] %s", domain, message)
	}
	writeLine(fmt.Sprintf("[%s] [%s] %s: %s", timestamp, component, level, body))

	logBuffer.AddLogEntry(&LogEntry{
		Timestamp: timestamp,
		Component: component,
		Level:     string(level),
		Message:   message,
		Domain:    domain,
		RunID:     runID,
	})
}

func (l *Logger) log(level Level, format string, args ...any) {
	emit(l.component, level, "", "", fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Debug logs a debug message for domain, honoring DEBUG and DEBUG_DOMAINS.
//
//	logx.Debug(ctx, "network", "turn %d scheduled", n)
//	logx.Debug(ctx, "sandbox", "wrote %s", path)
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	runID := RunIDFromContext(ctx)
	component := "unknown"
	if runID != "" {
		component = runID
	}
	emit(component, LevelDebug, domain, runID, fmt.Sprintf(format, args...))
}

// DebugState logs a state transition for domain.
func DebugState(ctx context.Context, domain, action, state string, extra ...string) {
	extraInfo := ""
	if len(extra) > 0 {
		extraInfo = fmt.Sprintf(" - %s", extra[0])
	}
	Debug(ctx, domain, "State %s: %s%s", action, state, extraInfo)
}
