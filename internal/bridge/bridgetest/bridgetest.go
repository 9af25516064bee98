// Package bridgetest builds seeded ledgers and signed calls for tests of the
// bridge program and the hosts that run it.
package bridgetest

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
	"vaultbridge.mini/vb/internal/bridge"
	"vaultbridge.mini/vb/internal/codec"
	"vaultbridge.mini/vb/internal/derive"
	"vaultbridge.mini/vb/internal/identity"
	"vaultbridge.mini/vb/internal/ledger"
	"vaultbridge.mini/vb/internal/token"
	"vaultbridge.mini/vb/internal/types"
)

// ProgramID is the program address every fixture deploys under.
var ProgramID = solana.MustPublicKeyFromBase58(bridge.DefaultProgramID)

// Decimals of the fixture mint.
const Decimals = 6

// Unit is one whole token of the fixture mint.
const Unit = uint64(1_000000)

// Env is a bridge deployment over an in-memory ledger.
type Env struct {
	t       testing.TB
	State   *ledger.State
	Program *bridge.Program
	Builder *codec.Builder

	Admin     *identity.Identity
	Relayer   *identity.Identity
	Collector *identity.Identity
	MintAuth  *identity.Identity
	Mint      solana.PublicKey
}

// New seeds a ledger with the fixture mint and the native mint and deploys
// the program with a fresh admin.
func New(t testing.TB) *Env {
	t.Helper()
	e := &Env{
		t:         t,
		State:     ledger.NewState(),
		Admin:     Key(t),
		Relayer:   Key(t),
		Collector: Key(t),
		MintAuth:  Key(t),
		Mint:      solana.NewWallet().PublicKey(),
	}
	p, err := bridge.New(ProgramID, bridge.WithAdmin(e.Admin.Address()))
	require.NoError(t, err)
	e.Program = p
	e.Builder = p.Builder()

	e.State.Seed(e.Mint, &ledger.Mint{MintAuthority: e.MintAuth.Address(), Decimals: Decimals})
	e.State.Seed(token.NativeMint, &ledger.Mint{Decimals: 9})
	return e
}

// Key returns a fresh identity.
func Key(t testing.TB) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	return id
}

// Fund seeds owner's associated account for mint with amount and returns it.
func (e *Env) Fund(owner, mint solana.PublicKey, amount uint64) solana.PublicKey {
	e.t.Helper()
	addr, err := derive.AssociatedTokenAddress(owner, mint)
	require.NoError(e.t, err)
	e.State.Seed(addr, &ledger.TokenAccount{Mint: mint, Owner: owner, Amount: amount})
	return addr
}

// Exec runs ix as signed by signers and commits it on success.
func (e *Env) Exec(ix types.Instruction, signers ...*identity.Identity) (*types.Event, error) {
	set := make(token.Signers, len(signers))
	for _, s := range signers {
		set[s.Address()] = true
	}
	txn := e.State.Begin(ix.Accounts)
	ev, err := e.Program.Execute(txn, ix, set)
	if err != nil {
		txn.Discard()
		return nil, err
	}
	if _, err := txn.Commit(); err != nil {
		return nil, err
	}
	return ev, nil
}

// Must runs ix and fails the test on error.
func (e *Env) Must(ix types.Instruction, err error, signers ...*identity.Identity) *types.Event {
	e.t.Helper()
	require.NoError(e.t, err)
	ev, err := e.Exec(ix, signers...)
	require.NoError(e.t, err)
	return ev
}

// Initialize deploys the bridge with the given limits and fee and returns
// the vault address.
func (e *Env) Initialize(min, max, fee uint64) solana.PublicKey {
	e.t.Helper()
	ix, err := e.Builder.InitializeContract(e.Admin.Address(), e.Mint, codec.InitializeContractArgs{
		Relayer:        e.Relayer.Address(),
		FeeCollector:   e.Collector.Address(),
		FeeAmount:      fee,
		MinimumDeposit: min,
		MaximumDeposit: max,
	})
	e.Must(ix, err, e.Admin)
	return e.Bridge().Vault
}

// Open initializes with the given limits and no fee, then activates the
// public and relayer flows.
func (e *Env) Open(min, max uint64) solana.PublicKey {
	e.t.Helper()
	vault := e.Initialize(min, max, 0)
	e.Toggle(codec.MethodPublicUnpause, e.Admin)
	e.Toggle(codec.MethodRelayerUnpause, e.Admin)
	return vault
}

// Toggle flips one flag.
func (e *Env) Toggle(method string, by *identity.Identity) {
	e.t.Helper()
	ix, err := e.Builder.Toggle(method, by.Address())
	e.Must(ix, err, by)
}

// Bridge returns the committed bridge state.
func (e *Env) Bridge() *ledger.BridgeState {
	e.t.Helper()
	bs, err := e.Program.State(e.State)
	require.NoError(e.t, err)
	return bs
}

// Balance returns the committed amount of a token account, zero if absent.
func (e *Env) Balance(addr solana.PublicKey) uint64 {
	acct, ok := e.State.Get(addr)
	if !ok {
		return 0
	}
	ta, ok := acct.(*ledger.TokenAccount)
	if !ok {
		return 0
	}
	return ta.Amount
}

// Deposit builds a public deposit by from without fee accounts.
func (e *Env) Deposit(from *identity.Identity, amount uint64) (types.Instruction, error) {
	return e.Builder.SendToLiquidity(codec.Deposit{
		Depositor:   from.Address(),
		Mint:        e.Mint,
		Amount:      amount,
		Destination: "0x00000000000000000000000000000000000000aa",
	})
}
