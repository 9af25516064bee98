package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
	"vaultbridge.mini/vb/internal/bridge"
	"vaultbridge.mini/vb/internal/codec"
	"vaultbridge.mini/vb/internal/config"
	"vaultbridge.mini/vb/internal/derive"
	"vaultbridge.mini/vb/internal/discovery"
	"vaultbridge.mini/vb/internal/identity"
	"vaultbridge.mini/vb/internal/tendermint"
	"vaultbridge.mini/vb/internal/types"
)

// ledgerClient is the node surface vbctl talks to.
type ledgerClient interface {
	BroadcastSignedTransaction(ctx context.Context, signedTx *types.SignedTransaction, commit bool) (*tendermint.Result, error)
	ABCIQuery(ctx context.Context, path string) (json.RawMessage, error)
	QueryTx(ctx context.Context, txHash string) (*tendermint.Result, error)
}

// cli holds global flags and lazily built collaborators.
type cli struct {
	cfgFile   string
	keyFile   string
	rpc       string
	programID string
	jsonOut   bool
	commit    bool

	out    io.Writer
	client ledgerClient
	dial   func(rpc string) (ledgerClient, error)
	browse func(ctx context.Context, wait time.Duration) ([]*discovery.Peer, error)
}

func newCLI(out io.Writer) *cli {
	return &cli{
		out: out,
		dial: func(rpc string) (ledgerClient, error) {
			bc, err := tendermint.NewBroadcastClient(rpc)
			if err != nil {
				return nil, err
			}
			return bc, nil
		},
		browse: discovery.Browse,
	}
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:   "vbctl",
		Short: "vaultbridge CLI - sign, submit and query bridge transactions",
		Long: `vbctl is the command-line client of a vaultbridge node.

Configuration (in order of priority):
  1. Command-line flags (--key, --rpc, --program-id)
  2. Environment variables (VB_KEY_FILE, VB_TENDERMINT_RPC, VB_PROGRAM_ID)
  3. Config file (--config, VB_CONFIG, default vb.yaml)

Get started:
  $ vbctl keys generate --out admin.pem
  $ vbctl address bridge-state
  $ vbctl query bridge`,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd.Flags().Changed("config"))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "vb.yaml", "config file")
	pf.StringVar(&c.keyFile, "key", "", "signing key file (or key_file from config)")
	pf.StringVar(&c.rpc, "rpc", "", "Tendermint RPC address (or tendermint.rpc from config)")
	pf.StringVar(&c.programID, "program-id", "", "bridge program id (or program_id from config)")
	pf.BoolVar(&c.jsonOut, "json", false, "output in JSON format")
	pf.BoolVar(&c.commit, "commit", false, "wait for the transaction's block")

	root.AddCommand(
		newVersionCmd(c),
		newKeysCmd(c),
		newAddressCmd(c),
		newAdminCmd(c),
		newRelayCmd(c),
		newDepositCmd(c),
		newQueryCmd(c),
		newNodesCmd(c),
	)
	return root
}

func newVersionCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.out, "vbctl version %s\n", types.Version)
		},
	}
}

// load fills unset flags from the config file and environment.
func (c *cli) load(explicit bool) error {
	cfg, err := config.Load(config.ConfigPath(c.cfgFile, explicit))
	if err != nil {
		return err
	}
	if c.keyFile == "" {
		c.keyFile = cfg.KeyFile
	}
	if c.rpc == "" {
		c.rpc = cfg.Tendermint.RPC
	}
	if c.programID == "" {
		c.programID = cfg.ProgramID
	}
	if c.programID == "" {
		c.programID = bridge.DefaultProgramID
	}
	return nil
}

func (c *cli) resolver() (*derive.Resolver, error) {
	pid, err := solana.PublicKeyFromBase58(c.programID)
	if err != nil {
		return nil, fmt.Errorf("program id %q: %w", c.programID, err)
	}
	return derive.NewResolver(pid)
}

func (c *cli) builder() (*codec.Builder, error) {
	r, err := c.resolver()
	if err != nil {
		return nil, err
	}
	return codec.NewBuilder(r), nil
}

// signer loads the key file. It never creates one.
func (c *cli) signer() (*identity.Identity, error) {
	id, err := identity.LoadIdentity(c.keyFile)
	if err != nil {
		return nil, fmt.Errorf("key %s: %w", c.keyFile, err)
	}
	return id, nil
}

func (c *cli) ledger() (ledgerClient, error) {
	if c.client == nil {
		client, err := c.dial(c.rpc)
		if err != nil {
			return nil, err
		}
		c.client = client
	}
	return c.client, nil
}

// printJSON outputs data as formatted JSON.
func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseKey(name, s string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%s %q: %w", name, s, err)
	}
	return pk, nil
}

// Terminal colors

func colorRed(s string) string {
	if !isTTY() {
		return s
	}
	return "\033[31m" + s + "\033[0m"
}

func colorGreen(s string) string {
	if !isTTY() {
		return s
	}
	return "\033[32m" + s + "\033[0m"
}

func isTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
