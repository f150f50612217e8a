package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"

	"sagarmatha/pkg/codeagent"
	"sagarmatha/pkg/config"
	"sagarmatha/pkg/logx"
	"sagarmatha/pkg/workflow"
)

func init() {
	color.NoColor = true
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCommand()
	want := map[string]bool{"serve": false, "run": false, "secrets": false, "version": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "sagarmatha ") {
		t.Errorf("unexpected version output: %q", out)
	}
}

func TestTaskFromInput(t *testing.T) {
	dir := t.TempDir()
	taskFile := filepath.Join(dir, "task.md")
	if err := os.WriteFile(taskFile, []byte("  build a blog  \n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    []string
		file    string
		stdin   string
		want    string
		wantErr bool
	}{
		{name: "args joined", args: []string{"build", "a", "todo", "app"}, want: "build a todo app"},
		{name: "file", file: taskFile, want: "build a blog"},
		{name: "stdin", file: "-", stdin: "make a clock\n", want: "make a clock"},
		{name: "empty", args: []string{"  "}, wantErr: true},
		{name: "missing file", file: filepath.Join(dir, "nope.md"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := taskFromInput(tt.args, tt.file, strings.NewReader(tt.stdin))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderRunSuccess(t *testing.T) {
	var buf bytes.Buffer
	run := &workflow.Run{ID: "run-1", Status: workflow.RunCompleted, Attempt: 1}
	out := &codeagent.Output{
		Succeeded: true,
		Title:     codeagent.FragmentTitle,
		URL:       "https://3000-sbx.local",
		Summary:   "<task_summary>Built</task_summary>",
		Files:     map[string]string{"b.tsx": "", "a.tsx": ""},
	}
	renderRun(&buf, run, out)

	s := buf.String()
	for _, want := range []string{"run-1", "https://3000-sbx.local", "Files (2):", "<task_summary>Built</task_summary>"} {
		if !strings.Contains(s, want) {
			t.Errorf("output missing %q:\n%s", want, s)
		}
	}
	if strings.Index(s, "a.tsx") > strings.Index(s, "b.tsx") {
		t.Errorf("files should be sorted:\n%s", s)
	}
}

func TestRenderRunFailure(t *testing.T) {
	var buf bytes.Buffer
	renderRun(&buf, &workflow.Run{ID: "run-2", Status: workflow.RunCompleted, Attempt: 1}, &codeagent.Output{})
	if !strings.Contains(buf.String(), codeagent.ErrorContent) {
		t.Errorf("expected error content, got:\n%s", buf.String())
	}

	buf.Reset()
	renderRun(&buf, &workflow.Run{ID: "run-3", Status: workflow.RunFailed, Error: "projectId is required"}, nil)
	if !strings.Contains(buf.String(), "projectId is required") {
		t.Errorf("expected run error, got:\n%s", buf.String())
	}
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	run := &workflow.Run{ID: "run-1", Status: workflow.RunCompleted, Attempt: 2}
	if err := writeJSON(&buf, run, &codeagent.Output{Succeeded: true, URL: "https://x"}); err != nil {
		t.Fatal(err)
	}
	var report map[string]any
	if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if report["runId"] != "run-1" || report["status"] != "completed" {
		t.Errorf("unexpected report: %v", report)
	}
	if report["attempts"] != float64(2) {
		t.Errorf("attempts = %v, want 2", report["attempts"])
	}
}

func TestSecretsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvPassword, "correct horse battery staple")

	if _, err := execute(t, "", "--projectdir", dir, "secrets", "set", "OPENAI_API_KEY", "sk-test"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, err := execute(t, "ya29.token\n", "--projectdir", dir, "secrets", "set", "GEMINI_API_KEY"); err != nil {
		t.Fatalf("set from stdin failed: %v", err)
	}

	secrets, err := config.DecryptSecretsFile(dir, "correct horse battery staple")
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if secrets["OPENAI_API_KEY"] != "sk-test" || secrets["GEMINI_API_KEY"] != "ya29.token" {
		t.Errorf("unexpected secrets: %v", secrets)
	}

	out, err := execute(t, "", "--projectdir", dir, "secrets", "list")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if !strings.Contains(out, "GEMINI_API_KEY\nOPENAI_API_KEY") {
		t.Errorf("unexpected list output: %q", out)
	}
	if strings.Contains(out, "sk-test") {
		t.Error("list must not print values")
	}

	if _, err := execute(t, "", "--projectdir", dir, "secrets", "delete", "OPENAI_API_KEY"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	secrets, err = config.DecryptSecretsFile(dir, "correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := secrets["OPENAI_API_KEY"]; ok {
		t.Error("secret should have been deleted")
	}

	if _, err := execute(t, "", "--projectdir", dir, "secrets", "delete", "MISSING"); err == nil {
		t.Error("expected error deleting unknown secret")
	}
}

func TestSecretsWrongPassword(t *testing.T) {
	dir := t.TempDir()
	if err := config.EncryptSecretsFile(dir, "right", map[string]string{"A": "1"}); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvPassword, "wrong")
	if _, err := execute(t, "", "--projectdir", dir, "secrets", "list"); err == nil {
		t.Fatal("expected decryption failure")
	}
}

func TestRunRequiresTask(t *testing.T) {
	_, err := execute(t, "", "--projectdir", t.TempDir(), "run")
	if err == nil || !strings.Contains(err.Error(), "task is required") {
		t.Fatalf("expected missing task error, got %v", err)
	}
}

func TestLogFileFlag(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "sagarmatha.log")
	if _, err := execute(t, "", "--log-file", logPath, "version"); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("log file not created: %v", err)
	}
}

func TestDebugDomainsFlag(t *testing.T) {
	defer func() {
		logx.SetDebugConfig(false)
		logx.SetDebugDomains(nil)
	}()

	if _, err := execute(t, "", "--debug-domains", "network,workflow", "version"); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !logx.IsDebugEnabledForDomain("network") || !logx.IsDebugEnabledForDomain("workflow") {
		t.Error("expected debug output for the listed domains")
	}
	if logx.IsDebugEnabledForDomain("sandbox") {
		t.Error("expected other domains to stay quiet")
	}
}
