package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
	"vaultbridge.mini/vb/internal/abci"
	"vaultbridge.mini/vb/internal/codec"
	"vaultbridge.mini/vb/internal/identity"
	"vaultbridge.mini/vb/internal/ledger"
	"vaultbridge.mini/vb/internal/types"
)

// buildFunc builds one instruction signed by the key file's identity.
type buildFunc func(ctx context.Context, b *codec.Builder, signer *identity.Identity) (types.Instruction, error)

// txCmd wraps build into a command that signs and broadcasts the result.
func (c *cli) txCmd(use, short string, args cobra.PositionalArgs, build func(args []string) buildFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			return c.submit(cmd.Context(), build(posArgs))
		},
	}
}

func (c *cli) submit(ctx context.Context, build buildFunc) error {
	signer, err := c.signer()
	if err != nil {
		return err
	}
	b, err := c.builder()
	if err != nil {
		return err
	}
	ix, err := build(ctx, b, signer)
	if err != nil {
		return err
	}
	signed, err := types.NewTransaction(ix).Sign(signer)
	if err != nil {
		return err
	}

	client, err := c.ledger()
	if err != nil {
		return err
	}
	res, err := client.BroadcastSignedTransaction(ctx, signed, c.commit)
	if err != nil {
		return err
	}
	if c.jsonOut {
		if err := c.printJSON(res); err != nil {
			return err
		}
	} else if res.OK() {
		fmt.Fprintf(c.out, "%s %s\n", colorGreen("submitted"), res.Hash)
		fmt.Fprintf(c.out, "  id: %s\n", signed.ID())
		if res.Height > 0 {
			fmt.Fprintf(c.out, "  height: %d\n", res.Height)
		}
	} else {
		fmt.Fprintf(c.out, "%s code %d: %s\n", colorRed("rejected"), res.Code, res.Log)
	}
	if !res.OK() {
		return res
	}
	return nil
}

// bridgeState fetches the committed bridge configuration.
func (c *cli) bridgeState(ctx context.Context) (*ledger.BridgeState, error) {
	client, err := c.ledger()
	if err != nil {
		return nil, err
	}
	raw, err := client.ABCIQuery(ctx, abci.PathBridgeState)
	if err != nil {
		return nil, err
	}
	var bs ledger.BridgeState
	if err := json.Unmarshal(raw, &bs); err != nil {
		return nil, fmt.Errorf("decode bridge state: %w", err)
	}
	return &bs, nil
}

// mint returns flag, or the bridge's whitelisted mint when flag is empty.
func (c *cli) mint(ctx context.Context, flag string) (solana.PublicKey, error) {
	if flag != "" {
		return parseKey("mint", flag)
	}
	bs, err := c.bridgeState(ctx)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("look up whitelisted mint (or pass --mint): %w", err)
	}
	return bs.Mint, nil
}

func keyArg(name string, build func(b *codec.Builder, signer, key solana.PublicKey) (types.Instruction, error)) func([]string) buildFunc {
	return func(args []string) buildFunc {
		return func(_ context.Context, b *codec.Builder, signer *identity.Identity) (types.Instruction, error) {
			key, err := parseKey(name, args[0])
			if err != nil {
				return types.Instruction{}, err
			}
			return build(b, signer.Address(), key)
		}
	}
}

func toggle(method string) func([]string) buildFunc {
	return func([]string) buildFunc {
		return func(_ context.Context, b *codec.Builder, signer *identity.Identity) (types.Instruction, error) {
			return b.Toggle(method, signer.Address())
		}
	}
}

func newAdminCmd(c *cli) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Administrator and relayer operations",
		Long: `Operations signed by the administrator key. relayer-pause and
relayer-unpause may also be signed by the relayer.

Examples:
  vbctl admin initialize --mint <mint> --relayer <addr> --fee-collector <addr> --min 1000000000 --max 100000000000
  vbctl admin whitelist-add <counterparty> --commit
  vbctl admin add-liquidity --amount 5000000000`,
	}

	var ic struct {
		mint, relayer, collector string
		fee, min, max            uint64
	}
	initialize := &cobra.Command{
		Use:   "initialize",
		Short: "Create the bridge state and vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.submit(cmd.Context(), func(_ context.Context, b *codec.Builder, signer *identity.Identity) (types.Instruction, error) {
				mint, err := parseKey("mint", ic.mint)
				if err != nil {
					return types.Instruction{}, err
				}
				relayer, err := parseKey("relayer", ic.relayer)
				if err != nil {
					return types.Instruction{}, err
				}
				collector, err := parseKey("fee collector", ic.collector)
				if err != nil {
					return types.Instruction{}, err
				}
				return b.InitializeContract(signer.Address(), mint, codec.InitializeContractArgs{
					Relayer:        relayer,
					FeeCollector:   collector,
					FeeAmount:      ic.fee,
					MinimumDeposit: ic.min,
					MaximumDeposit: ic.max,
				})
			})
		},
	}
	initialize.Flags().StringVar(&ic.mint, "mint", "", "mint to custody")
	initialize.Flags().StringVar(&ic.relayer, "relayer", "", "relayer address")
	initialize.Flags().StringVar(&ic.collector, "fee-collector", "", "fee collector address")
	initialize.Flags().Uint64Var(&ic.fee, "fee", 0, "deposit fee in native base units")
	initialize.Flags().Uint64Var(&ic.min, "min", 0, "minimum deposit in base units")
	initialize.Flags().Uint64Var(&ic.max, "max", 0, "maximum deposit in base units")
	for _, f := range []string{"mint", "relayer", "fee-collector"} {
		_ = initialize.MarkFlagRequired(f)
	}

	var limits struct{ min, max uint64 }
	setLimits := &cobra.Command{
		Use:   "set-limits",
		Short: "Set the deposit range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.submit(cmd.Context(), func(_ context.Context, b *codec.Builder, signer *identity.Identity) (types.Instruction, error) {
				return b.SetDepositLimits(signer.Address(), limits.min, limits.max)
			})
		},
	}
	setLimits.Flags().Uint64Var(&limits.min, "min", 0, "minimum deposit in base units")
	setLimits.Flags().Uint64Var(&limits.max, "max", 0, "maximum deposit in base units")
	_ = setLimits.MarkFlagRequired("min")
	_ = setLimits.MarkFlagRequired("max")

	setFee := &cobra.Command{
		Use:   "set-fee <amount>",
		Short: "Set the deposit fee in native base units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fee, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("fee %q: %w", args[0], err)
			}
			return c.submit(cmd.Context(), func(_ context.Context, b *codec.Builder, signer *identity.Identity) (types.Instruction, error) {
				return b.SetFeeAmount(signer.Address(), fee)
			})
		},
	}

	admin.AddCommand(
		initialize,
		c.txCmd("update-relayer <address>", "Replace the relayer", cobra.ExactArgs(1),
			keyArg("relayer", (*codec.Builder).UpdateRelayer)),
		c.txCmd("update-fee-collector <address>", "Replace the fee collector", cobra.ExactArgs(1),
			keyArg("fee collector", (*codec.Builder).UpdateFeeCollector)),
		c.txCmd("update-mint <mint>", "Switch custody to a new mint with an empty vault", cobra.ExactArgs(1),
			keyArg("mint", (*codec.Builder).UpdateWhitelistedMint)),
		setLimits,
		setFee,
		c.txCmd("relayer-pause", "Pause relayer payouts", cobra.NoArgs, toggle(codec.MethodRelayerPause)),
		c.txCmd("relayer-unpause", "Resume relayer payouts", cobra.NoArgs, toggle(codec.MethodRelayerUnpause)),
		c.txCmd("public-pause", "Pause public deposits", cobra.NoArgs, toggle(codec.MethodPublicPause)),
		c.txCmd("public-unpause", "Resume public deposits", cobra.NoArgs, toggle(codec.MethodPublicUnpause)),
		c.txCmd("whitelist-active", "Require depositors to be whitelisted", cobra.NoArgs, toggle(codec.MethodSetWhitelistActive)),
		c.txCmd("whitelist-inactive", "Accept deposits from anyone", cobra.NoArgs, toggle(codec.MethodSetWhitelistInactive)),
		c.liquidityCmd("add-liquidity", "Move tokens from the admin account into the vault", (*codec.Builder).AddLiquidity),
		c.liquidityCmd("remove-liquidity", "Move tokens from the vault to the admin account", (*codec.Builder).RemoveLiquidity),
		c.txCmd("whitelist-add <counterparty>", "Whitelist a counterparty", cobra.ExactArgs(1),
			keyArg("counterparty", (*codec.Builder).AddToWhitelist)),
		c.txCmd("whitelist-remove <counterparty>", "Remove a counterparty's whitelist entry", cobra.ExactArgs(1),
			keyArg("counterparty", (*codec.Builder).RemoveFromWhitelist)),
	)
	return admin
}

func (c *cli) liquidityCmd(use, short string, build func(b *codec.Builder, admin, mint solana.PublicKey, amount uint64) (types.Instruction, error)) *cobra.Command {
	var amount uint64
	var mintFlag string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.submit(cmd.Context(), func(ctx context.Context, b *codec.Builder, signer *identity.Identity) (types.Instruction, error) {
				mint, err := c.mint(ctx, mintFlag)
				if err != nil {
					return types.Instruction{}, err
				}
				return build(b, signer.Address(), mint, amount)
			})
		},
	}
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount in base units")
	cmd.Flags().StringVar(&mintFlag, "mint", "", "mint (default: the bridge's whitelisted mint)")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newRelayCmd(c *cli) *cobra.Command {
	relay := &cobra.Command{
		Use:   "relay",
		Short: "Relayer operations",
	}

	var amount uint64
	var receiver, mintFlag string
	send := &cobra.Command{
		Use:   "send",
		Short: "Pay out from the vault to a receiver's associated token account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.submit(cmd.Context(), func(ctx context.Context, b *codec.Builder, signer *identity.Identity) (types.Instruction, error) {
				to, err := parseKey("receiver", receiver)
				if err != nil {
					return types.Instruction{}, err
				}
				mint, err := c.mint(ctx, mintFlag)
				if err != nil {
					return types.Instruction{}, err
				}
				return b.SendFromLiquidity(signer.Address(), mint, to, amount)
			})
		},
	}
	send.Flags().Uint64Var(&amount, "amount", 0, "amount in base units")
	send.Flags().StringVar(&receiver, "receiver", "", "receiver address")
	send.Flags().StringVar(&mintFlag, "mint", "", "mint (default: the bridge's whitelisted mint)")
	_ = send.MarkFlagRequired("amount")
	_ = send.MarkFlagRequired("receiver")

	relay.AddCommand(send)
	return relay
}

func newDepositCmd(c *cli) *cobra.Command {
	var amount uint64
	var destination, signature string
	deposit := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit into the vault for release on the paired chain",
		Long: `Deposit tokens into the vault. The fee accounts and the depositor's
whitelist entry are filled in from the committed bridge state.

Example:
  vbctl deposit --amount 2000000000 --destination 0xabc... --signature 0xdef...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.submit(cmd.Context(), func(ctx context.Context, b *codec.Builder, signer *identity.Identity) (types.Instruction, error) {
				bs, err := c.bridgeState(ctx)
				if err != nil {
					return types.Instruction{}, err
				}
				d := codec.Deposit{
					Depositor:          signer.Address(),
					Mint:               bs.Mint,
					Amount:             amount,
					Destination:        destination,
					DestinationSig:     signature,
					IncludeWhitelisted: bs.WhitelistState == ledger.Active,
				}
				if bs.FeeAmount > 0 {
					d.FeeCollector = bs.FeeCollector
				}
				return b.SendToLiquidity(d)
			})
		},
	}
	deposit.Flags().Uint64Var(&amount, "amount", 0, "amount in base units")
	deposit.Flags().StringVar(&destination, "destination", "", "address on the paired chain")
	deposit.Flags().StringVar(&signature, "signature", "", "signature over the destination address")
	_ = deposit.MarkFlagRequired("amount")
	return deposit
}
