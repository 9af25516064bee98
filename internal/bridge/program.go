// Package bridge is the custody program: a single vault of one whitelisted
// mint, administered by a compiled-in admin, drained toward end users by a
// relayer and filled by public deposits under pause flags, a whitelist,
// deposit limits and an optional flat fee.
//
// The program keeps no state of its own. Every call runs inside a
// ledger.Txn that only exposes the accounts the instruction declared, and a
// failed call leaves the Txn for the host to discard.
package bridge

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"vaultbridge.mini/vb/internal/codec"
	"vaultbridge.mini/vb/internal/derive"
	"vaultbridge.mini/vb/internal/ledger"
	"vaultbridge.mini/vb/internal/token"
	"vaultbridge.mini/vb/internal/types"
)

// AdminPubkey is the administrator. It is fixed at build time:
//
//	go build -ldflags "-X vaultbridge.mini/vb/internal/bridge.AdminPubkey=<base58>"
var AdminPubkey = "8rqbGpDceSrTLJ6DQoeRZCCLazKeH2g6uCSMzRTinYoP"

// DefaultProgramID is the address the program is deployed under unless
// configured otherwise.
const DefaultProgramID = "A7c6B6WbfL9bz8bU2Yy24DQrBwzWfED7uZxGhQDu9xNM"

type handler func(p *Program, c *call, body []byte) (interface{}, error)

var handlers = map[string]handler{
	codec.MethodInitializeContract:    (*Program).initialize,
	codec.MethodUpdateRelayer:         (*Program).updateRelayer,
	codec.MethodUpdateFeeCollector:    (*Program).updateFeeCollector,
	codec.MethodUpdateWhitelistedMint: (*Program).updateWhitelistedMint,
	codec.MethodSetDepositLimits:      (*Program).setDepositLimits,
	codec.MethodSetFeeAmount:          (*Program).setFeeAmount,
	codec.MethodRelayerPause:          (*Program).toggle,
	codec.MethodRelayerUnpause:        (*Program).toggle,
	codec.MethodPublicPause:           (*Program).toggle,
	codec.MethodPublicUnpause:         (*Program).toggle,
	codec.MethodSetWhitelistActive:    (*Program).toggle,
	codec.MethodSetWhitelistInactive:  (*Program).toggle,
	codec.MethodAddLiquidity:          (*Program).addLiquidity,
	codec.MethodRemoveLiquidity:       (*Program).removeLiquidity,
	codec.MethodAddToWhitelist:        (*Program).addToWhitelist,
	codec.MethodRemoveFromWhitelist:   (*Program).removeFromWhitelist,
	codec.MethodSendFromLiquidity:     (*Program).sendFromLiquidity,
	codec.MethodSendToLiquidity:       (*Program).sendToLiquidity,
}

// Program executes bridge instructions.
type Program struct {
	id       solana.PublicKey
	admin    solana.PublicKey
	resolver *derive.Resolver
	tokens   token.Service
}

type Option func(*Program)

// WithAdmin replaces the compiled-in administrator.
func WithAdmin(admin solana.PublicKey) Option {
	return func(p *Program) { p.admin = admin }
}

// New builds the program deployed at programID.
func New(programID solana.PublicKey, opts ...Option) (*Program, error) {
	admin, err := solana.PublicKeyFromBase58(AdminPubkey)
	if err != nil {
		return nil, fmt.Errorf("admin pubkey %q: %w", AdminPubkey, err)
	}
	resolver, err := derive.NewResolver(programID)
	if err != nil {
		return nil, err
	}
	p := &Program{id: programID, admin: admin, resolver: resolver}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Program) ID() solana.PublicKey       { return p.id }
func (p *Program) Admin() solana.PublicKey    { return p.admin }
func (p *Program) Resolver() *derive.Resolver { return p.resolver }
func (p *Program) Builder() *codec.Builder    { return codec.NewBuilder(p.resolver) }

func (p *Program) bridgeState() solana.PublicKey {
	addr, _ := p.resolver.BridgeState()
	return addr
}

// Execute decodes ix, checks its account list and runs the method.
func (p *Program) Execute(t *ledger.Txn, ix types.Instruction, signers token.Signers) (*types.Event, error) {
	method, body, err := codec.Split(ix.Data)
	if err != nil {
		return nil, err
	}
	spec, _ := codec.Lookup(method)
	c, err := p.resolve(t, spec, ix.Accounts, signers)
	if err != nil {
		return nil, err
	}
	data, err := handlers[method](p, c, body)
	if err != nil {
		return nil, translate(err)
	}
	return &types.Event{Name: spec.Event, Data: data}, nil
}

// call is one resolved invocation.
type call struct {
	t        *ledger.Txn
	method   string
	accounts map[string]solana.PublicKey
	signers  token.Signers
}

func (c *call) account(name string) solana.PublicKey {
	return c.accounts[name]
}

func (c *call) optional(name string) (solana.PublicKey, bool) {
	addr, ok := c.accounts[name]
	return addr, ok
}

// authority is the signer every method names in its authority slot.
func (c *call) authority() solana.PublicKey {
	return c.account(codec.AccountAuthority)
}

var wellKnown = map[string]solana.PublicKey{
	codec.AccountSystemProgram:          solana.SystemProgramID,
	codec.AccountTokenProgram:           solana.TokenProgramID,
	codec.AccountAssociatedTokenProgram: solana.SPLAssociatedTokenAccountProgramID,
}

// resolve binds account slots to names and checks the flags and fixed
// addresses each slot requires.
func (p *Program) resolve(t *ledger.Txn, spec codec.MethodSpec, metas []*solana.AccountMeta, signers token.Signers) (*call, error) {
	if len(metas) < len(spec.Accounts) {
		return nil, fail(ErrMissingAccounts, "%s needs %d accounts, got %d", spec.Name, len(spec.Accounts), len(metas))
	}
	c := &call{t: t, method: spec.Name, accounts: make(map[string]solana.PublicKey, len(spec.Accounts)), signers: signers}
	for i, slot := range spec.Accounts {
		meta := metas[i]
		if meta == nil {
			return nil, fail(ErrMissingAccounts, "slot %d (%s) is empty", i, slot.Name)
		}
		if slot.Optional && meta.PublicKey.Equals(p.id) {
			continue
		}
		if (slot.Writable && !meta.IsWritable) || (slot.Signer && !meta.IsSigner) {
			return nil, fail(ErrAccountFlagsMismatch, "%s", slot.Name)
		}
		if slot.Signer && !signers.Authorizes(meta.PublicKey) {
			return nil, fail(ErrAccountFlagsMismatch, "%s %s did not sign", slot.Name, meta.PublicKey)
		}
		if want, ok := wellKnown[slot.Name]; ok && !meta.PublicKey.Equals(want) {
			return nil, fail(ErrAddressMismatch, "%s must be %s", slot.Name, want)
		}
		c.accounts[slot.Name] = meta.PublicKey
	}
	if addr, ok := c.accounts[codec.AccountBridgeState]; ok && !addr.Equals(p.bridgeState()) {
		return nil, fail(ErrAddressMismatch, "bridge state must be %s", p.bridgeState())
	}
	return c, nil
}

// state loads the bridge state record.
func (p *Program) state(c *call) (*ledger.BridgeState, error) {
	bs, err := ledger.BridgeStateAt(c.t, c.account(codec.AccountBridgeState))
	if err != nil {
		return nil, translate(err)
	}
	return bs, nil
}

func (p *Program) save(c *call, bs *ledger.BridgeState) error {
	return c.t.Put(c.account(codec.AccountBridgeState), bs)
}
