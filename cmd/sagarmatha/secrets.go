package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"sagarmatha/pkg/config"
)

func newSecretsCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the encrypted secrets file (API keys, API tokens)",
	}
	cmd.AddCommand(newSecretsSetCommand(opts), newSecretsListCommand(opts), newSecretsDeleteCommand(opts))
	return cmd
}

// openSecrets decrypts the existing secrets file, or starts an empty one after
// asking for a new password.
func openSecrets(projectDir string) (map[string]string, string, error) {
	if !config.SecretsFileExists(projectDir) {
		password, err := readPassword("New secrets password: ", true)
		if err != nil {
			return nil, "", err
		}
		return map[string]string{}, password, nil
	}
	password, err := readPassword("Secrets password: ", false)
	if err != nil {
		return nil, "", err
	}
	secrets, err := config.DecryptSecretsFile(projectDir, password)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decrypt secrets: %w", err)
	}
	return secrets, password, nil
}

func newSecretsSetCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set NAME [VALUE]",
		Short: "Store a secret; the value is read from stdin when omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return fmt.Errorf("secret name must not be empty")
			}
			var value string
			if len(args) == 2 {
				value = args[1]
			} else {
				v, err := readValue(cmd.InOrStdin())
				if err != nil {
					return err
				}
				value = v
			}

			secrets, password, err := openSecrets(opts.projectDir)
			if err != nil {
				return err
			}
			secrets[name] = value
			if err := config.EncryptSecretsFile(opts.projectDir, password, secrets); err != nil {
				return fmt.Errorf("failed to save secrets: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), green("🔐 Stored "+name))
			return nil
		},
	}
}

func newSecretsListCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List secret names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !config.SecretsFileExists(opts.projectDir) {
				fmt.Fprintln(cmd.OutOrStdout(), yellow("No secrets file"))
				return nil
			}
			secrets, _, err := openSecrets(opts.projectDir)
			if err != nil {
				return err
			}
			config.SetDecryptedSecrets(secrets)
			for _, name := range config.GetDecryptedSecretNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newSecretsDeleteCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Remove a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !config.SecretsFileExists(opts.projectDir) {
				return fmt.Errorf("no secrets file in %s", opts.projectDir)
			}
			secrets, password, err := openSecrets(opts.projectDir)
			if err != nil {
				return err
			}
			if _, ok := secrets[args[0]]; !ok {
				return fmt.Errorf("secret %s not found", args[0])
			}
			delete(secrets, args[0])
			if err := config.EncryptSecretsFile(opts.projectDir, password, secrets); err != nil {
				return fmt.Errorf("failed to save secrets: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), green("🗑️  Deleted "+args[0]))
			return nil
		},
	}
}

func readValue(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("no value provided on stdin")
	}
	return strings.TrimRight(line, "\r\n"), nil
}
