package exec

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLocalExec_Run_Success(t *testing.T) {
	e := NewLocalExec()
	opts := DefaultExecOpts()
	result, err := e.Run(context.Background(), []string{"echo", "hello world"}, &opts)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", result.ExitCode)
	}
	if strings.TrimSpace(result.Stdout) != "hello world" {
		t.Errorf("Expected stdout 'hello world', got %s", result.Stdout)
	}
	if result.ExecutorUsed != "local" {
		t.Errorf("Expected executor 'local', got %s", result.ExecutorUsed)
	}
}

func TestLocalExec_Run_NonZeroExit(t *testing.T) {
	e := NewLocalExec()
	opts := DefaultExecOpts()
	result, err := e.Run(context.Background(), []string{"sh", "-c", "echo partial; echo oops >&2; exit 3"}, &opts)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("Expected exit code 3, got %d", result.ExitCode)
	}
	if strings.TrimSpace(result.Stdout) != "partial" || strings.TrimSpace(result.Stderr) != "oops" {
		t.Errorf("unexpected output: stdout=%q stderr=%q", result.Stdout, result.Stderr)
	}
}

func TestLocalExec_Run_Streams(t *testing.T) {
	e := NewLocalExec()
	var out, errOut bytes.Buffer
	opts := Opts{Stdout: &out, Stderr: &errOut}
	result, err := e.Run(context.Background(), []string{"sh", "-c", "echo a; echo b >&2"}, &opts)
	if err != nil {
		t.Fatal(err)
	}
	if out.String() != result.Stdout || errOut.String() != result.Stderr {
		t.Errorf("streamed output differs from buffered: %q/%q vs %q/%q", out.String(), errOut.String(), result.Stdout, result.Stderr)
	}
}

func TestLocalExec_Run_Errors(t *testing.T) {
	e := NewLocalExec()
	if _, err := e.Run(context.Background(), nil, nil); err == nil {
		t.Error("Expected error for empty command")
	}

	opts := Opts{WorkDir: filepath.Join(t.TempDir(), "missing")}
	if _, err := e.Run(context.Background(), []string{"true"}, &opts); err == nil {
		t.Error("Expected error for missing workdir")
	}

	opts = Opts{Timeout: 50 * time.Millisecond}
	result, err := e.Run(context.Background(), []string{"sleep", "5"}, &opts)
	if err == nil {
		t.Error("Expected error for timed out command")
	}
	if result.ExitCode != -1 {
		t.Errorf("Expected exit code -1 on timeout, got %d", result.ExitCode)
	}
}

func TestBuildRunArgs(t *testing.T) {
	spec := &ContainerSpec{
		Image:          "node:21-slim",
		WorkDir:        "/home/user",
		Env:            []string{"A=1"},
		ResourceLimits: &ResourceLimits{CPUs: "2", Memory: "2g", PIDs: 512},
		PublishPorts:   []int{3000},
	}
	args := buildRunArgs("sagarmatha-sbx-x", spec)
	joined := strings.Join(args, " ")

	for _, want := range []string{
		"run -d --name sagarmatha-sbx-x",
		"--security-opt no-new-privileges",
		"--cpus 2", "--memory 2g", "--pids-limit 512",
		"--workdir /home/user",
		"--publish 3000",
		"--env A=1",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
	if !strings.HasSuffix(joined, "node:21-slim sleep infinity") {
		t.Errorf("args should end with image and keepalive, got %q", joined)
	}
	if strings.Contains(joined, "--network none") {
		t.Errorf("network should be enabled by default")
	}
}

func TestParsePortOutput(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"0.0.0.0:49153\n[::]:49153\n", "0.0.0.0:49153", false},
		{"[::]:49160\n", "[::]:49160", false},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := parsePortOutput(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parsePortOutput(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestRunInUnknownContainer(t *testing.T) {
	d := NewLongRunningDockerExec()
	_, err := d.RunIn(context.Background(), "nope", []string{"true"}, nil)
	if err == nil {
		t.Fatal("expected error for unknown container")
	}
}
