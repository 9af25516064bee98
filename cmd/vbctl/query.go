package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"vaultbridge.mini/vb/internal/abci"
)

func newQueryCmd(c *cli) *cobra.Command {
	query := &cobra.Command{
		Use:   "query",
		Short: "Query committed ledger state",
		Long: `Query the node's committed state over ABCI.

Examples:
  vbctl query bridge
  vbctl query whitelist <counterparty>
  vbctl query account <address>
  vbctl query reconcile
  vbctl query tx <id>`,
	}

	path := func(use, short string, args cobra.PositionalArgs, build func([]string) string) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  args,
			RunE: func(cmd *cobra.Command, posArgs []string) error {
				return c.query(cmd.Context(), build(posArgs))
			},
		}
	}

	query.AddCommand(
		path("bridge", "Bridge state", cobra.NoArgs,
			func([]string) string { return abci.PathBridgeState }),
		path("whitelist <counterparty>", "Whitelist status of a counterparty", cobra.ExactArgs(1),
			func(a []string) string { return abci.PathWhitelist + a[0] }),
		path("account <address>", "Any ledger account", cobra.ExactArgs(1),
			func(a []string) string { return abci.PathAccount + a[0] }),
		path("reconcile", "Cached against actual vault balance", cobra.NoArgs,
			func([]string) string { return abci.PathReconcile }),
		newQueryTxCmd(c),
	)
	return query
}

func newQueryTxCmd(c *cli) *cobra.Command {
	var indexed bool
	cmd := &cobra.Command{
		Use:   "tx <id|hash>",
		Short: "Whether a transaction was delivered",
		Long: `Report whether the transaction with the given id was delivered. The id
is the hash of the signed payload, printed as "id:" on submit. With --indexed
the argument is Tendermint's transaction hash and the result code, log and
events come from Tendermint's transaction index.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !indexed {
				return c.query(cmd.Context(), abci.PathTx+args[0])
			}
			client, err := c.ledger()
			if err != nil {
				return err
			}
			res, err := client.QueryTx(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printJSON(res)
		},
	}
	cmd.Flags().BoolVar(&indexed, "indexed", false, "read the result from Tendermint's tx index")
	return cmd
}

// query prints the JSON value at path. Output is indented unless --json
// asks for the raw value.
func (c *cli) query(ctx context.Context, path string) error {
	client, err := c.ledger()
	if err != nil {
		return err
	}
	raw, err := client.ABCIQuery(ctx, path)
	if err != nil {
		return err
	}
	if c.jsonOut {
		_, err := fmt.Fprintln(c.out, string(raw))
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	_, err = fmt.Fprintln(c.out, buf.String())
	return err
}
