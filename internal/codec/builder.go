package codec

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"vaultbridge.mini/vb/internal/derive"
	"vaultbridge.mini/vb/internal/token"
	"vaultbridge.mini/vb/internal/types"
)

// Builder assembles bridge instructions with their full account lists.
type Builder struct {
	resolver *derive.Resolver
}

func NewBuilder(resolver *derive.Resolver) *Builder {
	return &Builder{resolver: resolver}
}

// Resolver returns the address resolver the builder derives with.
func (b *Builder) Resolver() *derive.Resolver {
	return b.resolver
}

// programs are the trailing well-known program slots.
func programs(ids ...solana.PublicKey) []*solana.AccountMeta {
	out := make([]*solana.AccountMeta, len(ids))
	for i, id := range ids {
		out[i] = solana.Meta(id)
	}
	return out
}

func allPrograms() []*solana.AccountMeta {
	return programs(solana.SystemProgramID, solana.TokenProgramID, solana.SPLAssociatedTokenAccountProgramID)
}

func (b *Builder) build(method string, accounts []*solana.AccountMeta, args interface{}) (types.Instruction, error) {
	data, err := Encode(method, args)
	if err != nil {
		return types.Instruction{}, err
	}
	return types.Instruction{ProgramID: b.resolver.ProgramID(), Accounts: accounts, Data: data}, nil
}

// absent fills an optional slot that is not supplied.
func (b *Builder) absent() *solana.AccountMeta {
	return solana.Meta(b.resolver.ProgramID())
}

func (b *Builder) bridgeState() *solana.AccountMeta {
	addr, _ := b.resolver.BridgeState()
	return solana.Meta(addr).WRITE()
}

func (b *Builder) vaultAccounts(authority, mint solana.PublicKey) ([]*solana.AccountMeta, error) {
	vault, err := b.resolver.Vault(mint)
	if err != nil {
		return nil, err
	}
	return append([]*solana.AccountMeta{
		b.bridgeState(),
		solana.Meta(vault).WRITE(),
		solana.Meta(mint),
		solana.Meta(authority).WRITE().SIGNER(),
	}, allPrograms()...), nil
}

func (b *Builder) configAccounts(authority solana.PublicKey) []*solana.AccountMeta {
	return append([]*solana.AccountMeta{
		b.bridgeState(),
		solana.Meta(authority).WRITE().SIGNER(),
	}, programs(solana.SystemProgramID)...)
}

// InitializeContract creates the bridge state and the vault for mint.
func (b *Builder) InitializeContract(admin, mint solana.PublicKey, args InitializeContractArgs) (types.Instruction, error) {
	accounts, err := b.vaultAccounts(admin, mint)
	if err != nil {
		return types.Instruction{}, err
	}
	return b.build(MethodInitializeContract, accounts, args)
}

// UpdateWhitelistedMint re-points the vault to mint.
func (b *Builder) UpdateWhitelistedMint(admin, mint solana.PublicKey) (types.Instruction, error) {
	accounts, err := b.vaultAccounts(admin, mint)
	if err != nil {
		return types.Instruction{}, err
	}
	return b.build(MethodUpdateWhitelistedMint, accounts, NoArgs{})
}

func (b *Builder) UpdateRelayer(admin, relayer solana.PublicKey) (types.Instruction, error) {
	return b.build(MethodUpdateRelayer, b.configAccounts(admin), UpdateRelayerArgs{Relayer: relayer})
}

func (b *Builder) UpdateFeeCollector(admin, collector solana.PublicKey) (types.Instruction, error) {
	return b.build(MethodUpdateFeeCollector, b.configAccounts(admin), UpdateFeeCollectorArgs{FeeCollector: collector})
}

func (b *Builder) SetDepositLimits(admin solana.PublicKey, minimum, maximum uint64) (types.Instruction, error) {
	return b.build(MethodSetDepositLimits, b.configAccounts(admin), DepositLimitsArgs{Minimum: minimum, Maximum: maximum})
}

func (b *Builder) SetFeeAmount(admin solana.PublicKey, fee uint64) (types.Instruction, error) {
	return b.build(MethodSetFeeAmount, b.configAccounts(admin), FeeAmountArgs{FeeAmount: fee})
}

// Toggle builds one of the argument-less flag methods.
func (b *Builder) Toggle(method string, caller solana.PublicKey) (types.Instruction, error) {
	switch method {
	case MethodRelayerPause, MethodRelayerUnpause,
		MethodPublicPause, MethodPublicUnpause,
		MethodSetWhitelistActive, MethodSetWhitelistInactive:
	default:
		return types.Instruction{}, fmt.Errorf("%w: %q does not toggle a flag", ErrUnknownMethod, method)
	}
	return b.build(method, b.configAccounts(caller), NoArgs{})
}

func (b *Builder) liquidity(method string, admin, mint solana.PublicKey, amount uint64) (types.Instruction, error) {
	vault, err := b.resolver.Vault(mint)
	if err != nil {
		return types.Instruction{}, err
	}
	source, err := derive.AssociatedTokenAddress(admin, mint)
	if err != nil {
		return types.Instruction{}, err
	}
	return b.build(method, append([]*solana.AccountMeta{
		b.bridgeState(),
		solana.Meta(vault).WRITE(),
		solana.Meta(admin).WRITE().SIGNER(),
		solana.Meta(mint),
		solana.Meta(source).WRITE(),
	}, allPrograms()...), AmountArgs{Amount: amount})
}

// AddLiquidity moves amount from the admin's associated account into the vault.
func (b *Builder) AddLiquidity(admin, mint solana.PublicKey, amount uint64) (types.Instruction, error) {
	return b.liquidity(MethodAddLiquidity, admin, mint, amount)
}

// RemoveLiquidity moves amount from the vault to the admin's associated account.
func (b *Builder) RemoveLiquidity(admin, mint solana.PublicKey, amount uint64) (types.Instruction, error) {
	return b.liquidity(MethodRemoveLiquidity, admin, mint, amount)
}

func (b *Builder) whitelist(method string, admin, counterparty solana.PublicKey) (types.Instruction, error) {
	entry, _, err := b.resolver.WhitelistEntry(counterparty)
	if err != nil {
		return types.Instruction{}, err
	}
	return b.build(method, append([]*solana.AccountMeta{
		solana.Meta(entry).WRITE(),
		solana.Meta(admin).WRITE().SIGNER(),
		b.bridgeState(),
	}, programs(solana.SystemProgramID)...), WhitelistArgs{Counterparty: counterparty})
}

func (b *Builder) AddToWhitelist(admin, counterparty solana.PublicKey) (types.Instruction, error) {
	return b.whitelist(MethodAddToWhitelist, admin, counterparty)
}

func (b *Builder) RemoveFromWhitelist(admin, counterparty solana.PublicKey) (types.Instruction, error) {
	return b.whitelist(MethodRemoveFromWhitelist, admin, counterparty)
}

// SendFromLiquidity pays amount from the vault to receiver's associated
// account for mint.
func (b *Builder) SendFromLiquidity(relayer, mint, receiver solana.PublicKey, amount uint64) (types.Instruction, error) {
	vault, err := b.resolver.Vault(mint)
	if err != nil {
		return types.Instruction{}, err
	}
	dest, err := derive.AssociatedTokenAddress(receiver, mint)
	if err != nil {
		return types.Instruction{}, err
	}
	return b.build(MethodSendFromLiquidity, append([]*solana.AccountMeta{
		b.bridgeState(),
		solana.Meta(vault).WRITE(),
		solana.Meta(relayer).WRITE().SIGNER(),
		solana.Meta(mint),
		solana.Meta(dest).WRITE(),
	}, allPrograms()...), SendFromLiquidityArgs{Amount: amount, Receiver: receiver})
}

// Deposit holds the inputs of a public deposit.
type Deposit struct {
	Depositor          solana.PublicKey
	Mint               solana.PublicKey
	Amount             uint64
	Destination        string
	DestinationSig     string
	FeeCollector       solana.PublicKey // zero when the bridge charges no fee
	IncludeWhitelisted bool             // pass the depositor's whitelist entry
}

// SendToLiquidity builds a public deposit. Fee accounts are filled in only
// when d.FeeCollector is set.
func (b *Builder) SendToLiquidity(d Deposit) (types.Instruction, error) {
	vault, err := b.resolver.Vault(d.Mint)
	if err != nil {
		return types.Instruction{}, err
	}
	source, err := derive.AssociatedTokenAddress(d.Depositor, d.Mint)
	if err != nil {
		return types.Instruction{}, err
	}

	entry := b.absent()
	if d.IncludeWhitelisted {
		addr, _, err := b.resolver.WhitelistEntry(d.Depositor)
		if err != nil {
			return types.Instruction{}, err
		}
		entry = solana.Meta(addr)
	}

	feeMint, collector, feeSource, feeDest := b.absent(), b.absent(), b.absent(), b.absent()
	if !d.FeeCollector.IsZero() {
		from, err := derive.AssociatedTokenAddress(d.Depositor, token.NativeMint)
		if err != nil {
			return types.Instruction{}, err
		}
		to, err := derive.AssociatedTokenAddress(d.FeeCollector, token.NativeMint)
		if err != nil {
			return types.Instruction{}, err
		}
		feeMint = solana.Meta(token.NativeMint)
		collector = solana.Meta(d.FeeCollector)
		feeSource = solana.Meta(from).WRITE()
		feeDest = solana.Meta(to).WRITE()
	}

	return b.build(MethodSendToLiquidity, append([]*solana.AccountMeta{
		b.bridgeState(),
		solana.Meta(vault).WRITE(),
		entry,
		solana.Meta(d.Depositor).WRITE().SIGNER(),
		solana.Meta(d.Mint),
		solana.Meta(source).WRITE(),
		feeMint, collector, feeSource, feeDest,
	}, allPrograms()...), SendToLiquidityArgs{
		Amount:                      d.Amount,
		DestinationAddress:          d.Destination,
		DestinationAddressSignature: d.DestinationSig,
	})
}
