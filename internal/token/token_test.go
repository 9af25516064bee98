package token

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"vaultbridge.mini/vb/internal/derive"
	"vaultbridge.mini/vb/internal/ledger"
	"vaultbridge.mini/vb/internal/types"
)

type fixture struct {
	state     *ledger.State
	mint      solana.PublicKey
	authority solana.PublicKey
	alice     solana.PublicKey
	bob       solana.PublicKey
	aliceATA  solana.PublicKey
	bobATA    solana.PublicKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		state:     ledger.NewState(),
		mint:      solana.NewWallet().PublicKey(),
		authority: solana.NewWallet().PublicKey(),
		alice:     solana.NewWallet().PublicKey(),
		bob:       solana.NewWallet().PublicKey(),
	}
	var err error
	f.aliceATA, err = derive.AssociatedTokenAddress(f.alice, f.mint)
	require.NoError(t, err)
	f.bobATA, err = derive.AssociatedTokenAddress(f.bob, f.mint)
	require.NoError(t, err)

	f.state.Seed(f.mint, &ledger.Mint{MintAuthority: f.authority, Decimals: 6, Supply: 1_000_000000})
	f.state.Seed(f.aliceATA, &ledger.TokenAccount{Mint: f.mint, Owner: f.alice, Amount: 1_000_000000})
	f.state.Seed(f.bobATA, &ledger.TokenAccount{Mint: f.mint, Owner: f.bob})
	return f
}

func (f *fixture) txn() *ledger.Txn {
	return f.state.Begin([]*solana.AccountMeta{
		solana.Meta(f.mint).WRITE(),
		solana.Meta(f.aliceATA).WRITE(),
		solana.Meta(f.bobATA).WRITE(),
	})
}

func (f *fixture) balance(t *testing.T, addr solana.PublicKey) uint64 {
	acct, ok := f.state.Get(addr)
	require.True(t, ok)
	return acct.(*ledger.TokenAccount).Amount
}

func TestTransferChecked(t *testing.T) {
	f := newFixture(t)
	txn := f.txn()

	err := Service{}.TransferChecked(txn, Transfer{
		From: f.aliceATA, Mint: f.mint, To: f.bobATA,
		Authority: Signers{f.alice: true}, Amount: 250_000000, Decimals: 6,
	})
	require.NoError(t, err)
	_, err = txn.Commit()
	require.NoError(t, err)

	assert.Equal(t, uint64(750_000000), f.balance(t, f.aliceATA))
	assert.Equal(t, uint64(250_000000), f.balance(t, f.bobATA))
}

func TestTransferCheckedFailures(t *testing.T) {
	f := newFixture(t)
	other := solana.NewWallet().PublicKey()
	f.state.Seed(other, &ledger.Mint{Decimals: 6})

	cases := []struct {
		name string
		tr   Transfer
		want error
	}{
		{"insufficient funds", Transfer{From: f.aliceATA, Mint: f.mint, To: f.bobATA, Authority: Signers{f.alice: true}, Amount: 2_000_000000, Decimals: 6}, ErrInsufficientFunds},
		{"owner did not sign", Transfer{From: f.aliceATA, Mint: f.mint, To: f.bobATA, Authority: Signers{f.bob: true}, Amount: 1, Decimals: 6}, ErrOwnerMismatch},
		{"nil authority", Transfer{From: f.aliceATA, Mint: f.mint, To: f.bobATA, Amount: 1, Decimals: 6}, ErrOwnerMismatch},
		{"wrong decimals", Transfer{From: f.aliceATA, Mint: f.mint, To: f.bobATA, Authority: Signers{f.alice: true}, Amount: 1, Decimals: 9}, ErrDecimalsMismatch},
		{"wrong mint", Transfer{From: f.aliceATA, Mint: other, To: f.bobATA, Authority: Signers{f.alice: true}, Amount: 1, Decimals: 6}, ErrMintMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			txn := f.state.Begin([]*solana.AccountMeta{
				solana.Meta(f.mint), solana.Meta(other),
				solana.Meta(f.aliceATA).WRITE(), solana.Meta(f.bobATA).WRITE(),
			})
			defer txn.Discard()
			err := Service{}.TransferChecked(txn, tc.tr)
			assert.ErrorIs(t, err, tc.want)
		})
	}
	assert.Equal(t, uint64(1_000_000000), f.balance(t, f.aliceATA))
}

func TestTransferUnderDerivedAuthority(t *testing.T) {
	f := newFixture(t)
	r := derive.MustResolver(solana.MustPublicKeyFromBase58("A7c6B6WbfL9bz8bU2Yy24DQrBwzWfED7uZxGhQDu9xNM"))
	state, bump := r.BridgeState()
	vault, err := r.Vault(f.mint)
	require.NoError(t, err)
	f.state.Seed(vault, &ledger.TokenAccount{Mint: f.mint, Owner: state, Amount: 10})

	auth, err := r.Authority(bump)
	require.NoError(t, err)

	txn := f.state.Begin([]*solana.AccountMeta{solana.Meta(f.mint), solana.Meta(vault).WRITE(), solana.Meta(f.bobATA).WRITE()})
	require.NoError(t, Service{}.TransferChecked(txn, Transfer{
		From: vault, Mint: f.mint, To: f.bobATA, Authority: auth, Amount: 10, Decimals: 6,
	}))
	_, err = txn.Commit()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), f.balance(t, f.bobATA))
}

func TestCreateAssociatedIdempotent(t *testing.T) {
	f := newFixture(t)
	carol := solana.NewWallet().PublicKey()
	carolATA, err := derive.AssociatedTokenAddress(carol, f.mint)
	require.NoError(t, err)

	txn := f.state.Begin([]*solana.AccountMeta{solana.Meta(f.mint), solana.Meta(carolATA).WRITE(), solana.Meta(f.aliceATA).WRITE()})
	addr, err := Service{}.CreateAssociatedIdempotent(txn, carol, f.mint)
	require.NoError(t, err)
	assert.Equal(t, carolATA, addr)

	again, err := Service{}.CreateAssociatedIdempotent(txn, carol, f.mint)
	require.NoError(t, err)
	assert.Equal(t, carolATA, again)

	existing, err := Service{}.CreateAssociatedIdempotent(txn, f.alice, f.mint)
	require.NoError(t, err)
	assert.Equal(t, f.aliceATA, existing)

	_, err = txn.Commit()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), f.balance(t, carolATA))
	assert.Equal(t, uint64(1_000_000000), f.balance(t, f.aliceATA), "existing balance must survive")
}

func TestMintTo(t *testing.T) {
	f := newFixture(t)

	txn := f.txn()
	err := Service{}.MintTo(txn, f.mint, f.bobATA, Signers{f.alice: true}, 5)
	assert.ErrorIs(t, err, ErrOwnerMismatch)
	require.NoError(t, Service{}.MintTo(txn, f.mint, f.bobATA, Signers{f.authority: true}, 5))
	_, err = txn.Commit()
	require.NoError(t, err)

	assert.Equal(t, uint64(5), f.balance(t, f.bobATA))
	m, _ := f.state.Get(f.mint)
	assert.Equal(t, uint64(1_000_000005), m.(*ledger.Mint).Supply)
}

func TestProgramInstructions(t *testing.T) {
	f := newFixture(t)
	prog := NewProgram()

	ix, err := TransferCheckedInstruction(f.aliceATA, f.mint, f.bobATA, f.alice, 3, 6)
	require.NoError(t, err)
	assert.Equal(t, solana.TokenProgramID, ix.ProgramID)

	txn := f.state.Begin(ix.Accounts)
	ev, err := prog.Execute(txn, ix, Signers{f.alice: true})
	require.NoError(t, err)
	assert.Equal(t, "TransferChecked", ev.Name)
	_, err = txn.Commit()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), f.balance(t, f.bobATA))

	mintIx, err := MintToInstruction(f.mint, f.bobATA, f.authority, 7)
	require.NoError(t, err)
	txn = f.state.Begin(mintIx.Accounts)
	_, err = prog.Execute(txn, mintIx, Signers{f.authority: true})
	require.NoError(t, err)
	_, err = txn.Commit()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), f.balance(t, f.bobATA))

	bad := ix
	bad.Data = append(append([]byte{}, ix.Data...), 0)
	_, err = prog.Execute(f.state.Begin(bad.Accounts), bad, Signers{f.alice: true})
	assert.Error(t, err)

	_, err = prog.Execute(f.state.Begin(nil), types.Instruction{ProgramID: solana.TokenProgramID}, nil)
	assert.ErrorIs(t, err, ErrUnknownInstruction)
}

func TestProgramChecksAccountFlags(t *testing.T) {
	f := newFixture(t)
	prog := NewProgram()

	readonly, err := TransferCheckedInstruction(f.aliceATA, f.mint, f.bobATA, f.alice, 1, 6)
	require.NoError(t, err)
	readonly.Accounts[0] = solana.Meta(f.aliceATA)
	_, err = prog.Execute(f.state.Begin(readonly.Accounts), readonly, Signers{f.alice: true})
	assert.ErrorIs(t, err, ledger.ErrNotWritable)

	unsigned, err := TransferCheckedInstruction(f.aliceATA, f.mint, f.bobATA, f.alice, 1, 6)
	require.NoError(t, err)
	unsigned.Accounts[3] = solana.Meta(f.alice)
	_, err = prog.Execute(f.state.Begin(unsigned.Accounts), unsigned, Signers{f.alice: true})
	assert.ErrorIs(t, err, ErrMissingSigner)

	mintIx, err := MintToInstruction(f.mint, f.bobATA, f.authority, 1)
	require.NoError(t, err)
	mintIx.Accounts[1] = solana.Meta(f.bobATA)
	_, err = prog.Execute(f.state.Begin(mintIx.Accounts), mintIx, Signers{f.authority: true})
	assert.ErrorIs(t, err, ledger.ErrNotWritable)

	assert.Equal(t, uint64(1_000_000000), f.balance(t, f.aliceATA))
	assert.Zero(t, f.balance(t, f.bobATA))
}

func TestProgramAuthorizesOnlyTheOwnerSlot(t *testing.T) {
	f := newFixture(t)
	prog := NewProgram()

	// alice signed the transaction but bob is named as the owner
	ix, err := TransferCheckedInstruction(f.aliceATA, f.mint, f.bobATA, f.bob, 1, 6)
	require.NoError(t, err)
	_, err = prog.Execute(f.state.Begin(ix.Accounts), ix, Signers{f.alice: true, f.bob: true})
	assert.ErrorIs(t, err, ErrOwnerMismatch)

	mintIx, err := MintToInstruction(f.mint, f.bobATA, f.bob, 1)
	require.NoError(t, err)
	_, err = prog.Execute(f.state.Begin(mintIx.Accounts), mintIx, Signers{f.authority: true, f.bob: true})
	assert.ErrorIs(t, err, ErrOwnerMismatch)

	assert.Equal(t, uint64(1_000_000000), f.balance(t, f.aliceATA))
}

func TestAssociatedProgram(t *testing.T) {
	f := newFixture(t)
	dave := solana.NewWallet().PublicKey()
	daveATA, err := derive.AssociatedTokenAddress(dave, f.mint)
	require.NoError(t, err)

	ix := CreateAssociatedInstruction(f.alice, daveATA, dave, f.mint)
	txn := f.state.Begin(ix.Accounts)
	ev, err := NewAssociatedProgram().Execute(txn, ix, Signers{f.alice: true})
	require.NoError(t, err)
	assert.Equal(t, "CreateAssociatedAccount", ev.Name)
	_, err = txn.Commit()
	require.NoError(t, err)

	acct, ok := f.state.Get(daveATA)
	require.True(t, ok)
	assert.Equal(t, dave, acct.(*ledger.TokenAccount).Owner)

	wrong := CreateAssociatedInstruction(f.alice, f.bobATA, dave, f.mint)
	_, err = NewAssociatedProgram().Execute(f.state.Begin(wrong.Accounts), wrong, Signers{f.alice: true})
	assert.Error(t, err)
}
