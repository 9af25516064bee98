package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"vaultbridge.mini/vb/internal/derive"
	"vaultbridge.mini/vb/internal/identity"
)

func newKeysCmd(c *cli) *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage signing keys",
		Long: `Key commands for ed25519 key files (PEM, PKCS8, mode 0600).

Examples:
  vbctl keys generate --out relayer.pem
  vbctl keys show --key relayer.pem`,
	}

	var out string
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Create a new key file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := out
			if path == "" {
				path = c.keyFile
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("key file %s already exists", path)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			id, err := identity.LoadOrCreateIdentity(path)
			if err != nil {
				return err
			}
			return c.printAddress(map[string]string{"key_file": path, "address": id.Address().String()}, id.Address().String())
		},
	}
	generate.Flags().StringVar(&out, "out", "", "path of the new key file (default --key)")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the address of the signing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.signer()
			if err != nil {
				return err
			}
			return c.printAddress(map[string]string{"key_file": c.keyFile, "address": id.Address().String()}, id.Address().String())
		},
	}

	keys.AddCommand(generate, show)
	return keys
}

func newAddressCmd(c *cli) *cobra.Command {
	address := &cobra.Command{
		Use:   "address",
		Short: "Derive program and token account addresses",
		Long: `Derive addresses offline from the program id.

Examples:
  vbctl address bridge-state
  vbctl address vault --mint <mint>
  vbctl address whitelist <counterparty>
  vbctl address ata <owner> <mint>`,
	}

	address.AddCommand(&cobra.Command{
		Use:   "bridge-state",
		Short: "Bridge state account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.resolver()
			if err != nil {
				return err
			}
			addr, bump := r.BridgeState()
			return c.printAddress(map[string]interface{}{"address": addr, "bump": bump}, addr.String())
		},
	})

	var mint string
	vault := &cobra.Command{
		Use:   "vault",
		Short: "Vault token account for a mint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.resolver()
			if err != nil {
				return err
			}
			m, err := parseKey("mint", mint)
			if err != nil {
				return err
			}
			addr, err := r.Vault(m)
			if err != nil {
				return err
			}
			return c.printAddress(map[string]interface{}{"address": addr, "mint": m}, addr.String())
		},
	}
	vault.Flags().StringVar(&mint, "mint", "", "whitelisted mint")
	_ = vault.MarkFlagRequired("mint")

	whitelist := &cobra.Command{
		Use:   "whitelist <counterparty>",
		Short: "Whitelist entry account of a counterparty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := c.resolver()
			if err != nil {
				return err
			}
			cp, err := parseKey("counterparty", args[0])
			if err != nil {
				return err
			}
			addr, bump, err := r.WhitelistEntry(cp)
			if err != nil {
				return err
			}
			return c.printAddress(map[string]interface{}{"address": addr, "bump": bump, "counterparty": cp}, addr.String())
		},
	}

	ata := &cobra.Command{
		Use:   "ata <owner> <mint>",
		Short: "Associated token account of an owner for a mint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseKey("owner", args[0])
			if err != nil {
				return err
			}
			m, err := parseKey("mint", args[1])
			if err != nil {
				return err
			}
			addr, err := derive.AssociatedTokenAddress(owner, m)
			if err != nil {
				return err
			}
			return c.printAddress(map[string]interface{}{"address": addr, "owner": owner, "mint": m}, addr.String())
		},
	}

	address.AddCommand(vault, whitelist, ata)
	return address
}

// printAddress prints v with --json and the bare address otherwise.
func (c *cli) printAddress(v interface{}, addr string) error {
	if c.jsonOut {
		return c.printJSON(v)
	}
	_, err := fmt.Fprintln(c.out, addr)
	return err
}
