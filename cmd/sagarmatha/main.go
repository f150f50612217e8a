// Command sagarmatha serves the coding-agent API and runs one-off tasks from the shell.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"sagarmatha/pkg/config"
	"sagarmatha/pkg/logx"
	"sagarmatha/pkg/version"
)

// Shared CLI styling.
//
//nolint:gochecknoglobals // color helpers
var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// globalOptions are the persistent flags every command sees.
type globalOptions struct {
	projectDir string
	logFile    string
	debug      bool

	debugDomains []string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("❌ "+err.Error()))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	var logFile *os.File

	root := &cobra.Command{
		Use:           "sagarmatha",
		Short:         "AI coding agent that builds Next.js apps in sandboxes",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if opts.debug || len(opts.debugDomains) > 0 {
				logx.SetDebugConfig(true)
				logx.SetDebugDomains(opts.debugDomains)
			}
			if opts.logFile == "" {
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(opts.logFile), 0o755); err != nil {
				return fmt.Errorf("failed to create log directory: %w", err)
			}
			f, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			logFile = f
			logx.SetOutput(f)
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if logFile == nil {
				return nil
			}
			logx.SetOutput(nil)
			return logFile.Close()
		},
	}
	root.SetVersionTemplate(version.String() + "\n")

	root.PersistentFlags().StringVar(&opts.projectDir, "projectdir", ".", "Project directory holding .sagarmatha/")
	root.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Write logs to this file instead of stderr")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringSliceVar(&opts.debugDomains, "debug-domains", nil, "Limit debug logging to these domains (network,tools,workflow,...)")

	root.AddCommand(
		newServeCommand(opts),
		newRunCommand(opts),
		newSecretsCommand(opts),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

// loadProject loads (or creates) the project config and unlocks the secrets file
// when one exists. It returns the config and the secrets password, if any.
func loadProject(opts *globalOptions) (*config.Config, string, error) {
	if opts.projectDir == "." {
		config.LogInfo("⚠️  --projectdir not set. Using the current directory.")
	}
	if err := config.LoadConfig(opts.projectDir); err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get config: %w", err)
	}

	password := ""
	if config.SecretsFileExists(opts.projectDir) {
		password, err = readPassword("Secrets password: ", false)
		if err != nil {
			return nil, "", err
		}
		secrets, err := config.DecryptSecretsFile(opts.projectDir, password)
		if err != nil {
			return nil, "", fmt.Errorf("failed to decrypt secrets: %w", err)
		}
		config.SetDecryptedSecrets(secrets)
		config.LogInfo("🔐 Loaded %d secret(s)", len(secrets))
	}
	return &cfg, password, nil
}
