package exec

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"sagarmatha/pkg/logx"
)

const (
	dockerCommand = "docker"
	podmanCommand = "podman"

	// ContainerPrefix prefixes every sandbox container name.
	ContainerPrefix = "sagarmatha-sbx-"
)

// ErrContainerNotFound is returned for operations on unknown containers.
var ErrContainerNotFound = errors.New("container not found")

// LongRunningDockerExec manages containers that live for the duration of one task run,
// so state persists between commands.
type LongRunningDockerExec struct {
	logger           *logx.Logger
	activeContainers map[string]*ContainerInfo // key: container name
	dockerCmd        string
	mu               sync.RWMutex
}

// ContainerInfo holds information about a running container.
type ContainerInfo struct {
	CreatedAt time.Time
	LastUsed  time.Time
	ID        string
	Name      string
	Image     string
	WorkDir   string
}

// ContainerSpec describes a container to start.
//
//nolint:govet // logical grouping preferred
type ContainerSpec struct {
	Image          string
	WorkDir        string // working directory inside the container
	Env            []string
	ResourceLimits *ResourceLimits
	User           string
	ReadOnly       bool
	NetworkOff     bool
	PublishPorts   []int // container ports published to random host ports
}

func NewLongRunningDockerExec() *LongRunningDockerExec {
	dockerCmd := dockerCommand
	if _, err := exec.LookPath(podmanCommand); err == nil {
		if _, err := exec.LookPath(dockerCommand); err != nil {
			dockerCmd = podmanCommand
		}
	}

	return &LongRunningDockerExec{
		logger:           logx.NewLogger("docker"),
		dockerCmd:        dockerCmd,
		activeContainers: make(map[string]*ContainerInfo),
	}
}

func (d *LongRunningDockerExec) Name() ExecutorType {
	return ExecutorTypeDocker
}

// Available checks that the docker binary exists and the daemon answers.
func (d *LongRunningDockerExec) Available() bool {
	if _, err := exec.LookPath(d.dockerCmd); err != nil {
		d.logger.Debug("Docker command not found: %v", err)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := exec.CommandContext(ctx, d.dockerCmd, "ps", "-q").Run(); err != nil {
		d.logger.Debug("Docker daemon not available: %v", err)
		return false
	}
	return true
}

// ContainerName returns the container name used for a sandbox id.
func ContainerName(id string) string {
	return ContainerPrefix + id
}

// buildRunArgs assembles the `docker run` arguments for spec.
func buildRunArgs(name string, spec *ContainerSpec) []string {
	args := []string{"run", "-d", "--name", name, "--security-opt", "no-new-privileges"}

	if spec.ReadOnly {
		args = append(args, "--read-only")
	}
	if spec.NetworkOff {
		args = append(args, "--network", "none")
	}

	if spec.ResourceLimits != nil {
		if spec.ResourceLimits.CPUs != "" {
			args = append(args, "--cpus", spec.ResourceLimits.CPUs)
		}
		if spec.ResourceLimits.Memory != "" {
			args = append(args, "--memory", spec.ResourceLimits.Memory)
		}
		if spec.ResourceLimits.PIDs > 0 {
			args = append(args, "--pids-limit", strconv.FormatInt(spec.ResourceLimits.PIDs, 10))
		}
	}

	if spec.User != "" {
		args = append(args, "--user", spec.User)
	}
	if spec.WorkDir != "" {
		args = append(args, "--workdir", spec.WorkDir)
	}
	for _, port := range spec.PublishPorts {
		args = append(args, "--publish", strconv.Itoa(port))
	}
	for _, env := range spec.Env {
		args = append(args, "--env", env)
	}

	return append(args, spec.Image, "sleep", "infinity")
}

// StartContainer creates and starts a container for id and returns its name.
func (d *LongRunningDockerExec) StartContainer(ctx context.Context, id string, spec *ContainerSpec) (string, error) {
	if spec == nil || spec.Image == "" {
		return "", fmt.Errorf("container image is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	containerName := ContainerName(id)
	if info, exists := d.activeContainers[containerName]; exists {
		d.logger.Info("Container %s already exists, reusing", containerName)
		info.LastUsed = time.Now()
		return containerName, nil
	}

	// Leftover from a previous process; ignore failure.
	if err := exec.CommandContext(ctx, d.dockerCmd, "rm", "-f", containerName).Run(); err != nil {
		d.logger.Debug("No stale container %s to remove: %v", containerName, err)
	}

	cmd := exec.CommandContext(ctx, d.dockerCmd, buildRunArgs(containerName, spec)...)
	d.logger.Info("Starting container: %s", strings.Join(cmd.Args, " "))

	output, err := cmd.CombinedOutput()
	if err != nil {
		d.logger.Error("Docker command failed: %v: %s", err, strings.TrimSpace(string(output)))
		return "", fmt.Errorf("failed to start container %s: %w\nOutput: %s", containerName, err, string(output))
	}

	containerID := strings.TrimSpace(string(output))
	d.logger.Info("Started container %s with ID: %s", containerName, containerID)

	d.activeContainers[containerName] = &ContainerInfo{
		ID:        containerID,
		Name:      containerName,
		Image:     spec.Image,
		WorkDir:   spec.WorkDir,
		CreatedAt: time.Now(),
		LastUsed:  time.Now(),
	}
	return containerName, nil
}

// Attach registers an already running container (e.g. started by a previous process).
func (d *LongRunningDockerExec) Attach(ctx context.Context, containerName string) error {
	d.mu.RLock()
	_, tracked := d.activeContainers[containerName]
	d.mu.RUnlock()
	if tracked {
		return nil
	}

	out, err := exec.CommandContext(ctx, d.dockerCmd, "inspect", "--format",
		"{{.Id}}|{{.State.Running}}|{{.Config.Image}}|{{.Config.WorkingDir}}", containerName).Output()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrContainerNotFound, containerName)
	}

	parts := strings.SplitN(strings.TrimSpace(string(out)), "|", 4)
	if len(parts) != 4 || parts[1] != "true" {
		return fmt.Errorf("container %s is not running", containerName)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.activeContainers[containerName] = &ContainerInfo{
		ID:        parts[0],
		Name:      containerName,
		Image:     parts[2],
		WorkDir:   parts[3],
		CreatedAt: time.Now(),
		LastUsed:  time.Now(),
	}
	d.logger.Info("Attached to running container %s", containerName)
	return nil
}

// StopContainer stops and removes a container.
func (d *LongRunningDockerExec) StopContainer(ctx context.Context, containerName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	info, exists := d.activeContainers[containerName]
	if !exists {
		d.logger.Warn("Container %s not found in active containers", containerName)
		return nil
	}

	d.logger.Info("Stopping container %s", containerName)
	if err := exec.CommandContext(ctx, d.dockerCmd, "stop", containerName).Run(); err != nil {
		d.logger.Error("Failed to stop container %s: %v", containerName, err)
	}
	if err := exec.CommandContext(ctx, d.dockerCmd, "rm", "-f", containerName).Run(); err != nil {
		d.logger.Error("Failed to remove container %s: %v", containerName, err)
	}
	delete(d.activeContainers, containerName)

	d.logger.Info("Container %s stopped and removed (was active for %v)", containerName, time.Since(info.CreatedAt))
	return nil
}

// RunIn executes cmd inside containerName. Non-zero exit codes are reported in the result.
func (d *LongRunningDockerExec) RunIn(ctx context.Context, containerName string, cmd []string, opts *Opts) (Result, error) {
	start := time.Now()

	if len(cmd) == 0 {
		return Result{}, fmt.Errorf("command cannot be empty")
	}
	if opts == nil {
		defaults := DefaultExecOpts()
		opts = &defaults
	}

	d.mu.Lock()
	info, exists := d.activeContainers[containerName]
	if exists {
		info.LastUsed = time.Now()
	}
	d.mu.Unlock()
	if !exists {
		return Result{}, fmt.Errorf("%w: %s (call StartContainer first)", ErrContainerNotFound, containerName)
	}

	execCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	execArgs := []string{"exec", "-i"}
	if opts.User != "" {
		execArgs = append(execArgs, "--user", opts.User)
	}
	if opts.WorkDir != "" {
		execArgs = append(execArgs, "--workdir", opts.WorkDir)
	}
	for _, envVar := range opts.Env {
		execArgs = append(execArgs, "-e", envVar)
	}
	execArgs = append(execArgs, containerName)
	execArgs = append(execArgs, cmd...)

	dockerCmd := exec.CommandContext(execCtx, d.dockerCmd, execArgs...)
	var stdout, stderr strings.Builder
	dockerCmd.Stdout = outputWriters(&stdout, opts.Stdout)
	dockerCmd.Stderr = outputWriters(&stderr, opts.Stderr)

	d.logger.Debug("Executing docker command: %s", strings.Join(dockerCmd.Args, " "))
	err := dockerCmd.Run()

	result := Result{
		Stdout:       stdout.String(),
		Stderr:       stderr.String(),
		Duration:     time.Since(start),
		ExecutorUsed: string(d.Name()),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && execCtx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		result.ExitCode = -1
		return result, fmt.Errorf("docker exec failed: %w", err)
	}
	return result, nil
}

// ContainerExecutor adapts one container to the Executor interface.
type ContainerExecutor struct {
	runtime *LongRunningDockerExec
	name    string
}

// Executor returns an Executor bound to containerName.
func (d *LongRunningDockerExec) Executor(containerName string) *ContainerExecutor {
	return &ContainerExecutor{runtime: d, name: containerName}
}

func (c *ContainerExecutor) Run(ctx context.Context, cmd []string, opts *Opts) (Result, error) {
	return c.runtime.RunIn(ctx, c.name, cmd, opts)
}

func (c *ContainerExecutor) Name() ExecutorType { return ExecutorTypeDocker }

func (c *ContainerExecutor) Available() bool { return c.runtime.Available() }

// Exec runs args in a container and returns combined output.
func (d *LongRunningDockerExec) Exec(ctx context.Context, containerName string, args ...string) ([]byte, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("command cannot be empty")
	}

	execArgs := append([]string{"exec", "-i", containerName}, args...)
	output, err := exec.CommandContext(ctx, d.dockerCmd, execArgs...).CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("docker exec failed: %w", err)
	}
	return output, nil
}

// CpToContainer copies data to dstPath inside a running container with the given mode.
func (d *LongRunningDockerExec) CpToContainer(ctx context.Context, containerName, dstPath string, data []byte, mode int) error {
	tmpFile, err := os.CreateTemp("", "sagarmatha-cp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmpFile.Name()) }()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpFile.Name(), os.FileMode(mode)); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}

	if out, err := exec.CommandContext(ctx, d.dockerCmd, "cp", tmpFile.Name(), containerName+":"+dstPath).CombinedOutput(); err != nil {
		return fmt.Errorf("docker cp failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// HostPort returns the host address ("ip:port") that containerPort is published on.
func (d *LongRunningDockerExec) HostPort(ctx context.Context, containerName string, containerPort int) (string, error) {
	out, err := exec.CommandContext(ctx, d.dockerCmd, "port", containerName, fmt.Sprintf("%d/tcp", containerPort)).Output()
	if err != nil {
		return "", fmt.Errorf("failed to resolve port %d of %s: %w", containerPort, containerName, err)
	}
	return parsePortOutput(string(out))
}

// parsePortOutput picks the first IPv4 mapping from `docker port` output.
func parsePortOutput(out string) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	var fallback string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") {
			if fallback == "" {
				fallback = line
			}
			continue
		}
		return line, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("port is not published")
}

// Shutdown stops all tracked containers in parallel.
func (d *LongRunningDockerExec) Shutdown(ctx context.Context) error {
	d.mu.RLock()
	containerNames := make([]string, 0, len(d.activeContainers))
	for name := range d.activeContainers {
		containerNames = append(containerNames, name)
	}
	d.mu.RUnlock()

	d.logger.Info("Shutting down %d active containers", len(containerNames))

	var wg sync.WaitGroup
	for _, containerName := range containerNames {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := d.StopContainer(ctx, name); err != nil {
				d.logger.Error("Failed to stop container %s during shutdown: %v", name, err)
			}
		}(containerName)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("All containers stopped successfully")
		return nil
	case <-ctx.Done():
		d.logger.Error("Container shutdown timed out")
		return fmt.Errorf("container shutdown timed out: %w", ctx.Err())
	}
}

// GetActiveContainers returns a snapshot of tracked containers.
func (d *LongRunningDockerExec) GetActiveContainers() map[string]ContainerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make(map[string]ContainerInfo, len(d.activeContainers))
	for name, info := range d.activeContainers {
		result[name] = *info
	}
	return result
}
