package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sagarmatha/internal/kernel"
	"sagarmatha/pkg/codeagent"
	"sagarmatha/pkg/config"
	"sagarmatha/pkg/workflow"
)

func newRunCommand(opts *globalOptions) *cobra.Command {
	var (
		taskFile string
		asJSON   bool
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run [task...]",
		Short: "Run one coding task to completion and print the result",
		Example: `  sagarmatha run "build a landing page for a coffee shop"
  sagarmatha run --file task.md --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := taskFromInput(args, taskFile, cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, password, err := loadProject(opts)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			if timeout > 0 {
				var stop context.CancelFunc
				ctx, stop = context.WithTimeout(ctx, timeout)
				defer stop()
			}

			k, err := kernel.NewKernel(cfg, opts.projectDir, kernel.Options{SecretsPassword: password})
			if err != nil {
				return fmt.Errorf("failed to create kernel: %w", err)
			}
			defer func() {
				if closeErr := k.Close(); closeErr != nil {
					config.LogInfo("⚠️ Error stopping kernel: %v", closeErr)
				}
			}()

			fmt.Fprintln(cmd.ErrOrStderr(), yellow("⏳ Running task..."))
			run, out, err := k.RunTask(ctx, task)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), run, out)
			}
			renderRun(cmd.OutOrStdout(), run, out)
			if run.Status == workflow.RunFailed || out == nil || !out.Succeeded {
				return fmt.Errorf("task did not complete successfully")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&taskFile, "file", "f", "", "Read the task from a file (- for stdin)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the run and its output as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "Give up waiting after this long (0 disables)")
	return cmd
}

// taskFromInput resolves the task text from arguments or --file.
func taskFromInput(args []string, file string, stdin io.Reader) (string, error) {
	var task string
	switch {
	case file == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read task from stdin: %w", err)
		}
		task = string(data)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read task file: %w", err)
		}
		task = string(data)
	default:
		task = strings.Join(args, " ")
	}

	task = strings.TrimSpace(task)
	if task == "" {
		return "", fmt.Errorf("a task is required: pass it as arguments or with --file")
	}
	return task, nil
}

type runReport struct {
	RunID    string            `json:"runId"`
	Status   string            `json:"status"`
	Attempts int               `json:"attempts"`
	Error    string            `json:"error,omitempty"`
	Output   *codeagent.Output `json:"output,omitempty"`
}

func writeJSON(w io.Writer, run *workflow.Run, out *codeagent.Output) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(runReport{ //nolint:wrapcheck // writer errors are self-explanatory
		RunID:    run.ID,
		Status:   string(run.Status),
		Attempts: run.Attempt,
		Error:    run.Error,
		Output:   out,
	})
}

func renderRun(w io.Writer, run *workflow.Run, out *codeagent.Output) {
	fmt.Fprintf(w, "%s %s (%d attempt(s))\n", bold("Run"), run.ID, run.Attempt)

	if run.Status == workflow.RunFailed {
		fmt.Fprintln(w, red("❌ Run failed: "+run.Error))
		return
	}
	if out == nil || !out.Succeeded {
		fmt.Fprintln(w, red("❌ "+codeagent.ErrorContent))
		return
	}

	fmt.Fprintln(w, green("✅ "+out.Title))
	fmt.Fprintf(w, "%s %s\n", bold("Preview:"), cyan(out.URL))

	paths := make([]string, 0, len(out.Files))
	for p := range out.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	fmt.Fprintf(w, "%s\n", bold(fmt.Sprintf("Files (%d):", len(paths))))
	for _, p := range paths {
		fmt.Fprintf(w, "  • %s\n", p)
	}
	fmt.Fprintf(w, "%s\n%s\n", bold("Summary:"), out.Summary)
}
