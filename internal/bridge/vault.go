package bridge

import (
	"math"

	"github.com/gagliardetto/solana-go"
	"vaultbridge.mini/vb/internal/codec"
	"vaultbridge.mini/vb/internal/derive"
	"vaultbridge.mini/vb/internal/ledger"
	"vaultbridge.mini/vb/internal/token"
)

type InitializeContractEvent struct {
	Mint        solana.PublicKey `json:"mint"`
	Relayer     solana.PublicKey `json:"relayer"`
	Vault       solana.PublicKey `json:"vault"`
	VaultAmount uint64           `json:"vault_amount"`
	State       solana.PublicKey `json:"state"`
}

type UpdateWhitelistedMintEvent struct {
	From        solana.PublicKey `json:"from"`
	Mint        solana.PublicKey `json:"mint"`
	Vault       solana.PublicKey `json:"vault"`
	VaultAmount uint64           `json:"vault_amount"`
}

// LiquidityEvent is emitted by add_liquidity and remove_liquidity.
type LiquidityEvent struct {
	From   solana.PublicKey `json:"from"`
	To     solana.PublicKey `json:"to"`
	Amount uint64           `json:"amount"`
}

type SendFromLiquidityEvent struct {
	From   solana.PublicKey `json:"from"`
	To     solana.PublicKey `json:"to"`
	Amount uint64           `json:"amount"`
	Mint   solana.PublicKey `json:"mint"`
}

// SendToLiquidityEvent is the record the paired chain settles against.
type SendToLiquidityEvent struct {
	From                        solana.PublicKey `json:"from"`
	To                          solana.PublicKey `json:"to"`
	Amount                      uint64           `json:"amount"`
	Mint                        solana.PublicKey `json:"mint"`
	FeeAmount                   uint64           `json:"fee_amount"`
	DestinationAddress          string           `json:"destination_address"`
	DestinationAddressSignature string           `json:"destination_address_signature"`
}

// openVault creates the vault for the mint in the call, if needed, and
// returns its address and balance.
func (p *Program) openVault(c *call) (solana.PublicKey, uint64, error) {
	mint := c.account(codec.AccountMint)
	want, err := p.resolver.Vault(mint)
	if err != nil {
		return solana.PublicKey{}, 0, err
	}
	if got := c.account(codec.AccountVault); !got.Equals(want) {
		return solana.PublicKey{}, 0, fail(ErrAddressMismatch, "vault for %s is %s, got %s", mint, want, got)
	}
	vault, err := p.tokens.CreateAssociatedIdempotent(c.t, p.bridgeState(), mint)
	if err != nil {
		return solana.PublicKey{}, 0, err
	}
	balance, err := p.tokens.Balance(c.t, vault)
	if err != nil {
		return solana.PublicKey{}, 0, err
	}
	return vault, balance, nil
}

func (p *Program) initialize(c *call, body []byte) (interface{}, error) {
	var args codec.InitializeContractArgs
	if err := codec.DecodeArgs(body, &args); err != nil {
		return nil, err
	}
	if err := p.requireAdmin(c); err != nil {
		return nil, err
	}
	addr, bump := p.resolver.BridgeState()
	exists, err := c.t.Exists(addr)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fail(ErrAccountAlreadyInitialized, "bridge state %s", addr)
	}
	vault, balance, err := p.openVault(c)
	if err != nil {
		return nil, err
	}
	bs := &ledger.BridgeState{
		Bump:           bump,
		Mint:           c.account(codec.AccountMint),
		Relayer:        args.Relayer,
		Vault:          vault,
		FeeCollector:   args.FeeCollector,
		VaultAmount:    balance,
		RelayerState:   ledger.Inactive,
		PublicState:    ledger.Inactive,
		WhitelistState: ledger.Inactive,
		MinimumDeposit: args.MinimumDeposit,
		MaximumDeposit: args.MaximumDeposit,
		FeeAmount:      args.FeeAmount,
	}
	if err := p.save(c, bs); err != nil {
		return nil, err
	}
	return InitializeContractEvent{Mint: bs.Mint, Relayer: bs.Relayer, Vault: vault, VaultAmount: balance, State: addr}, nil
}

func (p *Program) updateWhitelistedMint(c *call, body []byte) (interface{}, error) {
	if err := codec.DecodeArgs(body, &codec.NoArgs{}); err != nil {
		return nil, err
	}
	bs, err := p.state(c)
	if err != nil {
		return nil, err
	}
	if err := p.requireAdmin(c); err != nil {
		return nil, err
	}
	vault, balance, err := p.openVault(c)
	if err != nil {
		return nil, err
	}
	bs.Mint = c.account(codec.AccountMint)
	bs.Vault = vault
	bs.VaultAmount = balance
	if err := p.save(c, bs); err != nil {
		return nil, err
	}
	return UpdateWhitelistedMintEvent{From: c.authority(), Mint: bs.Mint, Vault: vault, VaultAmount: balance}, nil
}

// custody checks the declared mint and vault against the bridge state and
// returns the mint's decimals.
func (p *Program) custody(c *call, bs *ledger.BridgeState) (uint8, error) {
	mint := c.account(codec.AccountMint)
	if !mint.Equals(bs.Mint) {
		return 0, fail(ErrMintMismatch, "whitelisted mint is %s, got %s", bs.Mint, mint)
	}
	if vault := c.account(codec.AccountVault); !vault.Equals(bs.Vault) {
		return 0, fail(ErrAddressMismatch, "vault is %s, got %s", bs.Vault, vault)
	}
	m, err := ledger.MintAt(c.t, mint)
	if err != nil {
		return 0, err
	}
	return m.Decimals, nil
}

// authority is the bridge state signing for the vault.
func (p *Program) authority(bs *ledger.BridgeState) (derive.Authority, error) {
	return p.resolver.Authority(bs.Bump)
}

func credit(bs *ledger.BridgeState, amount uint64) error {
	if bs.VaultAmount > math.MaxUint64-amount {
		return token.ErrOverflow
	}
	bs.VaultAmount += amount
	return nil
}

func debit(bs *ledger.BridgeState, amount uint64) error {
	if bs.VaultAmount < amount {
		return fail(ErrNotEnoughBalance, "vault holds %d, need %d", bs.VaultAmount, amount)
	}
	bs.VaultAmount -= amount
	return nil
}

func (p *Program) addLiquidity(c *call, body []byte) (interface{}, error) {
	var args codec.AmountArgs
	if err := codec.DecodeArgs(body, &args); err != nil {
		return nil, err
	}
	bs, err := p.state(c)
	if err != nil {
		return nil, err
	}
	if err := p.requireAdmin(c); err != nil {
		return nil, err
	}
	decimals, err := p.custody(c, bs)
	if err != nil {
		return nil, err
	}
	source := c.account(codec.AccountAuthorityTokenAccount)
	if err := p.tokens.TransferChecked(c.t, token.Transfer{
		From: source, Mint: bs.Mint, To: bs.Vault,
		Authority: c.signers, Amount: args.Amount, Decimals: decimals,
	}); err != nil {
		return nil, err
	}
	if err := credit(bs, args.Amount); err != nil {
		return nil, err
	}
	if err := p.save(c, bs); err != nil {
		return nil, err
	}
	return LiquidityEvent{From: source, To: bs.Vault, Amount: args.Amount}, nil
}

func (p *Program) removeLiquidity(c *call, body []byte) (interface{}, error) {
	var args codec.AmountArgs
	if err := codec.DecodeArgs(body, &args); err != nil {
		return nil, err
	}
	bs, err := p.state(c)
	if err != nil {
		return nil, err
	}
	if err := p.requireAdmin(c); err != nil {
		return nil, err
	}
	decimals, err := p.custody(c, bs)
	if err != nil {
		return nil, err
	}
	if err := debit(bs, args.Amount); err != nil {
		return nil, err
	}
	auth, err := p.authority(bs)
	if err != nil {
		return nil, err
	}
	dest := c.account(codec.AccountAuthorityTokenAccount)
	if err := p.tokens.TransferChecked(c.t, token.Transfer{
		From: bs.Vault, Mint: bs.Mint, To: dest,
		Authority: auth, Amount: args.Amount, Decimals: decimals,
	}); err != nil {
		return nil, err
	}
	if err := p.save(c, bs); err != nil {
		return nil, err
	}
	return LiquidityEvent{From: bs.Vault, To: dest, Amount: args.Amount}, nil
}

func (p *Program) sendFromLiquidity(c *call, body []byte) (interface{}, error) {
	var args codec.SendFromLiquidityArgs
	if err := codec.DecodeArgs(body, &args); err != nil {
		return nil, err
	}
	bs, err := p.state(c)
	if err != nil {
		return nil, err
	}
	if err := requireRelayer(c, bs); err != nil {
		return nil, err
	}
	if err := requireActive(bs, FlowRelayer); err != nil {
		return nil, err
	}
	decimals, err := p.custody(c, bs)
	if err != nil {
		return nil, err
	}

	dest := c.account(codec.AccountReceiverTokenAccount)
	receiver, err := ledger.TokenAccountAt(c.t, dest)
	if err != nil {
		return nil, err
	}
	if !receiver.Owner.Equals(args.Receiver) {
		return nil, fail(ErrOwnerMismatch, "%s is owned by %s, not %s", dest, receiver.Owner, args.Receiver)
	}
	if !receiver.Mint.Equals(bs.Mint) {
		return nil, fail(ErrMintMismatch, "%s holds %s", dest, receiver.Mint)
	}
	if err := checkWhole(args.Amount, decimals); err != nil {
		return nil, err
	}

	if err := debit(bs, args.Amount); err != nil {
		return nil, err
	}
	auth, err := p.authority(bs)
	if err != nil {
		return nil, err
	}
	if err := p.tokens.TransferChecked(c.t, token.Transfer{
		From: bs.Vault, Mint: bs.Mint, To: dest,
		Authority: auth, Amount: args.Amount, Decimals: decimals,
	}); err != nil {
		return nil, err
	}
	if err := p.save(c, bs); err != nil {
		return nil, err
	}
	return SendFromLiquidityEvent{From: bs.Vault, To: args.Receiver, Amount: args.Amount, Mint: bs.Mint}, nil
}

func (p *Program) sendToLiquidity(c *call, body []byte) (interface{}, error) {
	var args codec.SendToLiquidityArgs
	if err := codec.DecodeArgs(body, &args); err != nil {
		return nil, err
	}
	bs, err := p.state(c)
	if err != nil {
		return nil, err
	}
	if err := requireActive(bs, FlowPublic); err != nil {
		return nil, err
	}
	decimals, err := p.custody(c, bs)
	if err != nil {
		return nil, err
	}
	if err := p.checkWhitelisted(c, bs); err != nil {
		return nil, err
	}
	if err := checkRange(bs, args.Amount); err != nil {
		return nil, err
	}
	if err := checkWhole(args.Amount, decimals); err != nil {
		return nil, err
	}

	caller := c.authority()
	source := c.account(codec.AccountAuthorityTokenAccount)
	if err := checkSource(c, source, caller, bs.Mint, args.Amount); err != nil {
		return nil, err
	}
	if bs.FeeAmount > 0 {
		if err := p.skimFee(c, bs); err != nil {
			return nil, err
		}
	}

	if err := p.tokens.TransferChecked(c.t, token.Transfer{
		From: source, Mint: bs.Mint, To: bs.Vault,
		Authority: c.signers, Amount: args.Amount, Decimals: decimals,
	}); err != nil {
		return nil, err
	}
	if err := credit(bs, args.Amount); err != nil {
		return nil, err
	}
	if err := p.save(c, bs); err != nil {
		return nil, err
	}
	return SendToLiquidityEvent{
		From:                        caller,
		To:                          bs.Vault,
		Amount:                      args.Amount,
		Mint:                        bs.Mint,
		FeeAmount:                   bs.FeeAmount,
		DestinationAddress:          args.DestinationAddress,
		DestinationAddressSignature: args.DestinationAddressSignature,
	}, nil
}

// checkSource verifies a caller's token account can fund amount of mint.
func checkSource(c *call, addr, owner, mint solana.PublicKey, amount uint64) error {
	acct, err := ledger.TokenAccountAt(c.t, addr)
	if err != nil {
		return err
	}
	if acct.Amount < amount {
		return fail(ErrNotEnoughBalance, "%s holds %d, need %d", addr, acct.Amount, amount)
	}
	if !acct.Owner.Equals(owner) {
		return fail(ErrOwnerMismatch, "%s is owned by %s", addr, acct.Owner)
	}
	if !acct.Mint.Equals(mint) {
		return fail(ErrMintMismatch, "%s holds %s, want %s", addr, acct.Mint, mint)
	}
	return nil
}

// skimFee moves the flat fee in the native mint from the caller to the fee
// collector's associated account, creating it if needed.
func (p *Program) skimFee(c *call, bs *ledger.BridgeState) error {
	feeMint, ok1 := c.optional(codec.AccountFeeMint)
	collector, ok2 := c.optional(codec.AccountFeeCollector)
	source, ok3 := c.optional(codec.AccountAuthorityFeeTokenAccount)
	dest, ok4 := c.optional(codec.AccountFeeCollectorTokenAccount)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return fail(ErrNoFeeAccountsProvided, "fee of %d requires all fee accounts", bs.FeeAmount)
	}
	if !feeMint.Equals(token.NativeMint) {
		return fail(ErrMintMismatch, "fee mint must be %s", token.NativeMint)
	}
	if !collector.Equals(bs.FeeCollector) {
		return fail(ErrFeeCollectorMismatch, "fee collector is %s, got %s", bs.FeeCollector, collector)
	}
	if err := checkSource(c, source, c.authority(), feeMint, bs.FeeAmount); err != nil {
		return err
	}
	want, err := derive.AssociatedTokenAddress(collector, feeMint)
	if err != nil {
		return err
	}
	if !dest.Equals(want) {
		return fail(ErrAddressMismatch, "fee collector account is %s, got %s", want, dest)
	}
	if _, err := p.tokens.CreateAssociatedIdempotent(c.t, collector, feeMint); err != nil {
		return err
	}
	native, err := ledger.MintAt(c.t, feeMint)
	if err != nil {
		return err
	}
	return p.tokens.TransferChecked(c.t, token.Transfer{
		From: source, Mint: feeMint, To: dest,
		Authority: c.signers, Amount: bs.FeeAmount, Decimals: native.Decimals,
	})
}
