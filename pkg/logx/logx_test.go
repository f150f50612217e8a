package logx

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func setupTestLogger() *bytes.Buffer {
	var buf bytes.Buffer
	logWriterLock.Lock()
	logWriter = &buf
	logWriterLock.Unlock()
	return &buf
}

func resetTestLogger() {
	logWriterLock.Lock()
	logWriter = nil
	logWriterLock.Unlock()
}

func TestLogFormat(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	logger := NewLogger("network")
	logger.Info("Test message with %s", "formatting")

	output := buf.String()
	if !strings.Contains(output, "[network]") {
		t.Errorf("Expected component in output, got: %s", output)
	}
	if !strings.Contains(output, "INFO: Test message with formatting") {
		t.Errorf("Expected level and message in output, got: %s", output)
	}
	if !strings.Contains(output, "T") || !strings.Contains(output, "Z]") {
		t.Errorf("Expected ISO timestamp in output, got: %s", output)
	}
}

func TestDebugRespectsDomains(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	SetDebugConfig(true)
	SetDebugDomains([]string{"sandbox"})
	defer func() {
		SetDebugConfig(false)
		SetDebugDomains(nil)
	}()

	ctx := WithRunID(context.Background(), "run-42")
	Debug(ctx, "network", "hidden")
	Debug(ctx, "sandbox", "visible %d", 1)

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("network domain should be filtered, got: %s", output)
	}
	if !strings.Contains(output, "[run-42] DEBUG: [sandbox] visible 1") {
		t.Errorf("Expected sandbox debug line, got: %s", output)
	}
}

func TestLoggerDebugDisabled(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	SetDebugConfig(false)
	NewLogger("x").Debug("nothing")
	if buf.Len() != 0 {
		t.Errorf("Expected no output with debug disabled, got: %s", buf.String())
	}
}

func TestInMemoryLogBufferEviction(t *testing.T) {
	b := NewInMemoryLogBuffer(3)
	for i := 0; i < 5; i++ {
		b.AddLogEntry(&LogEntry{Timestamp: time.Now().UTC().Format(timestampFormat), Message: string(rune('a' + i))})
	}

	entries := b.GetLogEntries("", time.Time{})
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Message != "c" || entries[2].Message != "e" {
		t.Errorf("unexpected retained entries: %+v", entries)
	}
}

func TestGetLogEntriesFilter(t *testing.T) {
	b := NewInMemoryLogBuffer(10)
	old := time.Now().Add(-time.Hour).UTC().Format(timestampFormat)
	now := time.Now().UTC().Format(timestampFormat)
	b.AddLogEntry(&LogEntry{Timestamp: old, Component: "sandbox", Message: "old"})
	b.AddLogEntry(&LogEntry{Timestamp: now, Component: "sandbox", Message: "new"})
	b.AddLogEntry(&LogEntry{Timestamp: now, Component: "api", Message: "other"})

	got := b.GetLogEntries("sandbox", time.Now().Add(-time.Minute))
	if len(got) != 1 || got[0].Message != "new" {
		t.Errorf("got %+v, want only the recent sandbox entry", got)
	}
}

func TestDebugState(t *testing.T) {
	buf := setupTestLogger()
	defer resetTestLogger()

	SetDebugConfig(true)
	defer SetDebugConfig(false)

	DebugState(context.Background(), "network", "entered", "STOPPED", "summary")
	if !strings.Contains(buf.String(), "[network] State entered: STOPPED - summary") {
		t.Errorf("Expected state line, got: %s", buf.String())
	}
}
