package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/netwatch/internal/app"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage transport credentials in the secret store",
	}
	cmd.AddCommand(newSecretSetCmd())
	return cmd
}

// newSecretSetCmd stores one secret read from stdin, e.g. the SMTP password for
// --service netwatch_email_password --account <username>.
func newSecretSetCmd() *cobra.Command {
	var service, account string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store a secret read from stdin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			store, err := app.NewSecretStore(rt.cfg.Secrets)
			if err != nil {
				return err
			}
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read secret: %w", err)
			}
			secret := strings.TrimRight(line, "\r\n")
			if secret == "" {
				return errors.New("read secret: empty input")
			}
			if err := store.Set(service, account, secret); err != nil {
				return fmt.Errorf("store secret: %w", err)
			}
			rt.logger.Info("secret stored")
			fmt.Fprintf(cmd.OutOrStdout(), "stored secret for %s/%s\n", service, account)
			return nil
		},
	}
	cmd.Flags().StringVar(&service, "service", "", "secret service name")
	cmd.Flags().StringVar(&account, "account", "", "account name")
	_ = cmd.MarkFlagRequired("service")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
