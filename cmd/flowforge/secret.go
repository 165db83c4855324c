package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/flowforge/internal/secrets"
)

func newSecretCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage credential bundles in the vault",
		Long: `Credential bundles are encrypted with a key derived from vault_passphrase
(FLOWFORGE_VAULT_PASSPHRASE). Nodes reference a bundle with config.credentialRef.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <ref> key=value...",
			Short: "Store a credential bundle",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				bundle, err := parseBundle(args[1:])
				if err != nil {
					return err
				}
				return withVault(cmd.Context(), c.app, func(v secrets.Vault) error {
					return v.Put(cmd.Context(), args[0], bundle)
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List credential references",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withVault(cmd.Context(), c.app, func(v secrets.Vault) error {
					refs, err := v.List(cmd.Context())
					if err != nil {
						return err
					}
					for _, ref := range refs {
						fmt.Fprintln(cmd.OutOrStdout(), ref)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "rm <ref>",
			Short: "Delete a credential bundle",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withVault(cmd.Context(), c.app, func(v secrets.Vault) error {
					return v.Delete(cmd.Context(), args[0])
				})
			},
		},
	)
	return cmd
}

func withVault(ctx context.Context, a *app, fn func(secrets.Vault) error) error {
	if a.cfg.VaultPassphrase == "" {
		return fmt.Errorf("vault_passphrase is not configured")
	}
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	v, err := a.vault(st)
	if err != nil {
		return err
	}
	return fn(v)
}

// parseBundle turns key=value arguments into a bundle.
func parseBundle(args []string) (map[string]string, error) {
	bundle := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		bundle[k] = v
	}
	return bundle, nil
}
