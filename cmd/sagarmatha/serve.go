package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sagarmatha/internal/kernel"
	"sagarmatha/pkg/config"
)

func newServeCommand(opts *globalOptions) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the workflow engine and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, password, err := loadProject(opts)
			if err != nil {
				return err
			}
			config.ApplyDefaults(cfg)
			if host != "" {
				cfg.Server.Host = host
			}
			if port > 0 {
				cfg.Server.Port = port
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			k, err := kernel.NewKernel(cfg, opts.projectDir, kernel.Options{SecretsPassword: password})
			if err != nil {
				return fmt.Errorf("failed to create kernel: %w", err)
			}
			defer func() {
				if closeErr := k.Close(); closeErr != nil {
					config.LogInfo("⚠️ Error stopping kernel: %v", closeErr)
				}
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "%s listening on %s\n",
				green("🚀 sagarmatha"), cyan(fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)))
			if err := k.Run(ctx, true); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Override the configured listen host")
	cmd.Flags().IntVar(&port, "port", 0, "Override the configured listen port")
	return cmd
}
