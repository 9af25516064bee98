package abci

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tmabci "github.com/tendermint/tendermint/abci/types"
	tmproto "github.com/tendermint/tendermint/proto/tendermint/types"

	"vaultbridge.mini/vb/internal/bridge"
	"vaultbridge.mini/vb/internal/codec"
	"vaultbridge.mini/vb/internal/config"
	"vaultbridge.mini/vb/internal/derive"
	"vaultbridge.mini/vb/internal/events"
	"vaultbridge.mini/vb/internal/identity"
	"vaultbridge.mini/vb/internal/ledger"
	"vaultbridge.mini/vb/internal/store"
	"vaultbridge.mini/vb/internal/token"
	"vaultbridge.mini/vb/internal/types"
)

const unit = uint64(1_000000)

type recorder struct {
	mu      sync.Mutex
	batches [][]events.Envelope
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Publish(_ context.Context, batch []events.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return nil
}

func (r *recorder) all() []events.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Envelope
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

type harness struct {
	t       *testing.T
	dbPath  string
	store   *store.Store
	program *bridge.Program
	builder *codec.Builder
	app     *ABCIApplication
	sink    *recorder
	height  int64

	admin   *identity.Identity
	relayer *identity.Identity
	user    *identity.Identity
	mint    solana.PublicKey
}

func newID(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	return id
}

func quiet() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		dbPath:  filepath.Join(t.TempDir(), "ledger.db"),
		admin:   newID(t),
		relayer: newID(t),
		user:    newID(t),
		mint:    solana.NewWallet().PublicKey(),
		sink:    &recorder{},
	}
	p, err := bridge.New(solana.MustPublicKeyFromBase58(bridge.DefaultProgramID), bridge.WithAdmin(h.admin.Address()))
	require.NoError(t, err)
	h.program = p
	h.builder = p.Builder()
	h.open()

	genesis := fmt.Sprintf(`{
		"mints": [{"address": %q, "decimals": 6, "mint_authority": %q}],
		"token_accounts": [{"owner": %q, "mint": %q, "amount": %d}]
	}`, h.mint, h.admin.Address(), h.user.Address(), h.mint, 1000*unit)
	h.app.InitChain(tmabci.RequestInitChain{ChainId: "vb-test", AppStateBytes: []byte(genesis)})
	h.block()
	return h
}

func (h *harness) open() {
	h.t.Helper()
	s, err := store.Open(h.dbPath)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { s.Close() })
	h.store = s
	app, err := NewABCIApplication(Options{Program: h.program, Store: s, Sink: h.sink, Logger: quiet()})
	require.NoError(h.t, err)
	h.app = app
}

func (h *harness) tx(ixs []types.Instruction, signers ...*identity.Identity) []byte {
	h.t.Helper()
	tsigners := make([]types.Signer, len(signers))
	for i, s := range signers {
		tsigners[i] = s
	}
	stx, err := types.NewTransaction(ixs...).Sign(tsigners...)
	require.NoError(h.t, err)
	raw, err := stx.Marshal()
	require.NoError(h.t, err)
	return raw
}

func (h *harness) ix(ix types.Instruction, err error) []types.Instruction {
	h.t.Helper()
	require.NoError(h.t, err)
	return []types.Instruction{ix}
}

// block delivers txs in one block and commits it.
func (h *harness) block(txs ...[]byte) ([]tmabci.ResponseDeliverTx, tmabci.ResponseCommit) {
	h.t.Helper()
	h.height++
	h.app.BeginBlock(tmabci.RequestBeginBlock{Header: tmproto.Header{Height: h.height}})
	out := make([]tmabci.ResponseDeliverTx, len(txs))
	for i, raw := range txs {
		out[i] = h.app.DeliverTx(tmabci.RequestDeliverTx{Tx: raw})
	}
	return out, h.app.Commit()
}

func (h *harness) deliverOK(txs ...[]byte) []tmabci.ResponseDeliverTx {
	h.t.Helper()
	resps, _ := h.block(txs...)
	for i, r := range resps {
		require.Equal(h.t, CodeTypeOK, r.Code, "tx %d: %s", i, r.Log)
	}
	return resps
}

func (h *harness) initialize(min, max, fee uint64) {
	h.t.Helper()
	init := h.tx(h.ix(h.builder.InitializeContract(h.admin.Address(), h.mint, codec.InitializeContractArgs{
		Relayer:        h.relayer.Address(),
		FeeCollector:   h.admin.Address(),
		FeeAmount:      fee,
		MinimumDeposit: min,
		MaximumDeposit: max,
	})), h.admin)
	h.deliverOK(init)
}

func (h *harness) toggle(method string, by *identity.Identity) []byte {
	return h.tx(h.ix(h.builder.Toggle(method, by.Address())), by)
}

func (h *harness) deposit(from *identity.Identity, amount uint64) []byte {
	return h.tx(h.ix(h.builder.SendToLiquidity(codec.Deposit{
		Depositor:   from.Address(),
		Mint:        h.mint,
		Amount:      amount,
		Destination: "0x00000000000000000000000000000000000000aa",
	})), from)
}

func (h *harness) bridgeState() *ledger.BridgeState {
	h.t.Helper()
	bs, err := h.program.State(h.app.State())
	require.NoError(h.t, err)
	return bs
}

func (h *harness) balance(owner solana.PublicKey) uint64 {
	h.t.Helper()
	addr, err := derive.AssociatedTokenAddress(owner, h.mint)
	require.NoError(h.t, err)
	acct, ok := h.app.State().Get(addr)
	if !ok {
		return 0
	}
	return acct.(*ledger.TokenAccount).Amount
}

func TestInitChainSeedsGenesis(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, 1000*unit, h.balance(h.user.Address()))

	acct, ok := h.app.State().Get(h.mint)
	require.True(t, ok)
	assert.Equal(t, 1000*unit, acct.(*ledger.Mint).Supply)

	native, ok := h.app.State().Get(token.NativeMint)
	require.True(t, ok, "native mint seeded")
	assert.Equal(t, uint8(NativeDecimals), native.(*ledger.Mint).Decimals)

	_, err := h.program.State(h.app.State())
	assert.ErrorIs(t, err, bridge.ErrNotInitialized, "genesis never creates the bridge state")
}

func TestDepositFlowPersistsAndPublishes(t *testing.T) {
	h := newHarness(t)
	h.initialize(unit, 1000*unit, 0)
	h.deliverOK(h.toggle(codec.MethodPublicUnpause, h.admin))

	resps, commit := h.block(h.deposit(h.user, 5*unit))
	require.Equal(t, CodeTypeOK, resps[0].Code, resps[0].Log)

	var evs []types.Event
	require.NoError(t, json.Unmarshal(resps[0].Data, &evs))
	require.Len(t, evs, 1)
	assert.Equal(t, "SendToLiquidityEvent", evs[0].Name)
	require.Len(t, resps[0].Events, 1)
	assert.Equal(t, EventType, resps[0].Events[0].Type)

	assert.Equal(t, 5*unit, h.bridgeState().VaultAmount)
	assert.Equal(t, 995*unit, h.balance(h.user.Address()))

	want, err := h.app.State().Hash()
	require.NoError(t, err)
	assert.Equal(t, want, commit.Data)
	height, stored, err := h.store.LastBlock()
	require.NoError(t, err)
	assert.Equal(t, h.height, height)
	assert.Equal(t, want, stored)

	published := h.sink.all()
	require.NotEmpty(t, published)
	last := published[len(published)-1]
	assert.Equal(t, "SendToLiquidityEvent", last.Name)
	assert.Equal(t, h.height, last.Height)
	assert.Contains(t, string(last.Data), `"destination_address":"0x00000000000000000000000000000000000000aa"`)
}

func TestCheckTxCodes(t *testing.T) {
	h := newHarness(t)

	resp := h.app.CheckTx(tmabci.RequestCheckTx{Tx: []byte("{not json")})
	assert.Equal(t, CodeTypeEncodingError, resp.Code)

	init := h.ix(h.builder.InitializeContract(h.admin.Address(), h.mint, codec.InitializeContractArgs{
		Relayer: h.relayer.Address(), MinimumDeposit: 1, MaximumDeposit: 2,
	}))
	stx, err := types.NewTransaction(init...).Sign(h.admin)
	require.NoError(t, err)
	stx.Signatures[0].Signature[0] ^= 0xff
	forged, err := stx.Marshal()
	require.NoError(t, err)
	assert.Equal(t, CodeTypeAuthError, h.app.CheckTx(tmabci.RequestCheckTx{Tx: forged}).Code)

	// a stranger in the admin slot is refused by the program
	stranger := newID(t)
	notAdmin := h.tx(h.ix(h.builder.InitializeContract(stranger.Address(), h.mint, codec.InitializeContractArgs{
		Relayer: h.relayer.Address(),
	})), stranger)
	assert.Equal(t, bridge.ErrNotPrivileged.Code, h.app.CheckTx(tmabci.RequestCheckTx{Tx: notAdmin}).Code)

	h.initialize(unit, 1000*unit, 0)
	paused := h.deposit(h.user, 5*unit)
	assert.Equal(t, bridge.ErrProgramIsPaused.Code, h.app.CheckTx(tmabci.RequestCheckTx{Tx: paused}).Code)

	h.deliverOK(h.toggle(codec.MethodPublicUnpause, h.admin))
	ok := h.deposit(h.user, 5*unit)
	assert.Equal(t, CodeTypeOK, h.app.CheckTx(tmabci.RequestCheckTx{Tx: ok}).Code)
	assert.Zero(t, h.bridgeState().VaultAmount, "CheckTx never mutates state")
}

func TestReplayIsRejected(t *testing.T) {
	h := newHarness(t)
	h.initialize(unit, 1000*unit, 0)

	raw := h.toggle(codec.MethodPublicUnpause, h.admin)
	resps, _ := h.block(raw, raw)
	assert.Equal(t, CodeTypeOK, resps[0].Code)
	assert.Equal(t, CodeTypeReplay, resps[1].Code)

	assert.Equal(t, CodeTypeReplay, h.app.CheckTx(tmabci.RequestCheckTx{Tx: raw}).Code)

	seen, height, err := h.store.HasTx(txID(t, raw))
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, h.height, height)
}

func txID(t *testing.T, raw []byte) string {
	t.Helper()
	stx, err := types.DecodeSignedTransaction(raw)
	require.NoError(t, err)
	return stx.ID()
}

func TestReencodedEnvelopeIsReplay(t *testing.T) {
	h := newHarness(t)
	h.initialize(unit, 1000*unit, 0)
	h.deliverOK(h.toggle(codec.MethodPublicUnpause, h.admin))

	raw := h.deposit(h.user, 5*unit)
	h.deliverOK(raw)

	stx, err := types.DecodeSignedTransaction(raw)
	require.NoError(t, err)
	indented, err := json.MarshalIndent(stx, "", "  ")
	require.NoError(t, err)
	doubled := *stx
	doubled.Signatures = append(append([]types.Signature{}, stx.Signatures...), stx.Signatures[0])
	dup, err := doubled.Marshal()
	require.NoError(t, err)

	padded := append([]byte(" "), raw...)
	resps, _ := h.block(padded, indented, dup)
	assert.Equal(t, CodeTypeReplay, resps[0].Code, resps[0].Log)
	assert.Equal(t, CodeTypeReplay, resps[1].Code, resps[1].Log)
	assert.Equal(t, CodeTypeAuthError, resps[2].Code, resps[2].Log)
	assert.Equal(t, CodeTypeReplay, h.app.CheckTx(tmabci.RequestCheckTx{Tx: padded}).Code)

	assert.Equal(t, 5*unit, h.bridgeState().VaultAmount)
	assert.Equal(t, 995*unit, h.balance(h.user.Address()))
}

func TestFailedTransactionStillSpendsItsHash(t *testing.T) {
	h := newHarness(t)
	h.initialize(unit, 1000*unit, 0)

	raw := h.deposit(h.user, 5*unit)
	resps, _ := h.block(raw)
	assert.Equal(t, bridge.ErrProgramIsPaused.Code, resps[0].Code)

	h.deliverOK(h.toggle(codec.MethodPublicUnpause, h.admin))
	assert.Equal(t, CodeTypeReplay, h.app.CheckTx(tmabci.RequestCheckTx{Tx: raw}).Code)
}

func TestMultiInstructionTransactionIsAtomic(t *testing.T) {
	h := newHarness(t)
	h.initialize(unit, 1000*unit, 0)

	unpause, err := h.builder.Toggle(codec.MethodPublicUnpause, h.admin.Address())
	require.NoError(t, err)
	tooMuch, err := h.builder.SendToLiquidity(codec.Deposit{
		Depositor: h.admin.Address(), Mint: h.mint, Amount: 5 * unit, Destination: "x",
	})
	require.NoError(t, err)

	resps, _ := h.block(h.tx([]types.Instruction{unpause, tooMuch}, h.admin))
	assert.NotEqual(t, CodeTypeOK, resps[0].Code)
	assert.Contains(t, resps[0].Log, "instruction 1")
	assert.Equal(t, ledger.Inactive, h.bridgeState().PublicState, "first instruction rolled back")
}

func TestTokenProgramsThroughRouter(t *testing.T) {
	h := newHarness(t)
	h.initialize(unit, 1000*unit, 0)
	h.deliverOK(h.toggle(codec.MethodPublicUnpause, h.admin))

	// admin creates a fresh user's account, mints to it and the user deposits
	fresh := newID(t)
	ata, err := derive.AssociatedTokenAddress(fresh.Address(), h.mint)
	require.NoError(t, err)
	create := token.CreateAssociatedInstruction(h.admin.Address(), ata, fresh.Address(), h.mint)
	mintTo, err := token.MintToInstruction(h.mint, ata, h.admin.Address(), 3*unit)
	require.NoError(t, err)
	dep, err := h.builder.SendToLiquidity(codec.Deposit{
		Depositor: fresh.Address(), Mint: h.mint, Amount: 2 * unit, Destination: "y",
	})
	require.NoError(t, err)

	resps := h.deliverOK(h.tx([]types.Instruction{create, mintTo, dep}, h.admin, fresh))

	var evs []types.Event
	require.NoError(t, json.Unmarshal(resps[0].Data, &evs))
	require.Len(t, evs, 3)
	assert.Equal(t, "CreateAssociatedAccount", evs[0].Name)
	assert.Equal(t, "MintTo", evs[1].Name)
	assert.Equal(t, "SendToLiquidityEvent", evs[2].Name)

	assert.Equal(t, unit, h.balance(fresh.Address()))
	assert.Equal(t, 2*unit, h.bridgeState().VaultAmount)
}

func TestUnknownProgramIsRejected(t *testing.T) {
	h := newHarness(t)
	other := solana.NewWallet().PublicKey()
	raw := h.tx([]types.Instruction{{
		ProgramID: other,
		Accounts:  []*solana.AccountMeta{solana.Meta(h.user.Address()).SIGNER()},
	}}, h.user)

	resp := h.app.CheckTx(tmabci.RequestCheckTx{Tx: raw})
	assert.Equal(t, CodeTypeInvalidTx, resp.Code)
	assert.Contains(t, resp.Log, ErrUnknownProgram.Error())
}

func TestMalformedInstructionDataIsEncodingError(t *testing.T) {
	h := newHarness(t)
	raw := h.tx([]types.Instruction{{
		ProgramID: h.program.ID(),
		Accounts:  []*solana.AccountMeta{solana.Meta(h.user.Address()).SIGNER()},
		Data:      []byte{1, 2, 3},
	}}, h.user)
	assert.Equal(t, CodeTypeEncodingError, h.app.CheckTx(tmabci.RequestCheckTx{Tx: raw}).Code)
}

func TestRestartRestoresLedger(t *testing.T) {
	h := newHarness(t)
	h.initialize(unit, 1000*unit, 0)
	h.deliverOK(h.toggle(codec.MethodPublicUnpause, h.admin))
	h.deliverOK(h.deposit(h.user, 7*unit))
	before := h.app.Info(tmabci.RequestInfo{})

	require.NoError(t, h.store.Close())
	h.open()

	after := h.app.Info(tmabci.RequestInfo{})
	assert.Equal(t, before.LastBlockHeight, after.LastBlockHeight)
	assert.Equal(t, before.LastBlockAppHash, after.LastBlockAppHash)
	assert.Equal(t, 7*unit, h.bridgeState().VaultAmount)

	hash, err := h.app.State().Hash()
	require.NoError(t, err)
	assert.Equal(t, after.LastBlockAppHash, hash)
}

func TestQueryPaths(t *testing.T) {
	h := newHarness(t)

	q := func(path string) tmabci.ResponseQuery {
		return h.app.Query(tmabci.RequestQuery{Path: path})
	}

	assert.Equal(t, CodeTypeNotFound, q(PathBridgeState).Code)
	assert.Equal(t, CodeTypeNotFound, q(PathReconcile).Code)
	assert.Equal(t, CodeTypeInvalidTx, q("/nope").Code)
	assert.Equal(t, CodeTypeInvalidTx, q(PathAccount+"not-base58").Code)
	assert.Equal(t, CodeTypeNotFound, q(PathAccount+solana.NewWallet().PublicKey().String()).Code)

	h.initialize(unit, 1000*unit, 0)
	h.deliverOK(h.tx(h.ix(h.builder.AddToWhitelist(h.admin.Address(), h.user.Address())), h.admin))

	resp := q(PathBridgeState)
	require.Equal(t, CodeTypeOK, resp.Code, resp.Log)
	var bs ledger.BridgeState
	require.NoError(t, json.Unmarshal(resp.Value, &bs))
	assert.Equal(t, h.relayer.Address(), bs.Relayer)
	assert.Equal(t, h.height, resp.Height)

	resp = q(PathWhitelist + h.user.Address().String())
	require.Equal(t, CodeTypeOK, resp.Code, resp.Log)
	var wl WhitelistStatus
	require.NoError(t, json.Unmarshal(resp.Value, &wl))
	assert.True(t, wl.Whitelisted)

	resp = q(PathAccount + h.mint.String())
	require.Equal(t, CodeTypeOK, resp.Code, resp.Log)
	var view struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(resp.Value, &view))
	assert.Equal(t, ledger.KindMint.String(), view.Kind)

	resp = q(PathReconcile)
	require.Equal(t, CodeTypeOK, resp.Code, resp.Log)
	var rec bridge.Reconciliation
	require.NoError(t, json.Unmarshal(resp.Value, &rec))
	assert.True(t, rec.InSync)

	raw := h.toggle(codec.MethodPublicUnpause, h.admin)
	h.deliverOK(raw)
	resp = q(PathTx + txID(t, raw))
	require.Equal(t, CodeTypeOK, resp.Code, resp.Log)
	var st TxStatus
	require.NoError(t, json.Unmarshal(resp.Value, &st))
	assert.True(t, st.Processed)
	assert.Equal(t, h.height, st.Height)

	assert.Equal(t, CodeTypeInvalidTx, q(PathTx+"zz").Code)
}

func TestSeedGenesisRejectsUndeclaredMint(t *testing.T) {
	state := ledger.NewState()
	err := SeedGenesis(state, &config.Genesis{
		TokenAccounts: []config.GenesisTokenAccount{{
			Owner: solana.NewWallet().PublicKey().String(),
			Mint:  solana.NewWallet().PublicKey().String(),
		}},
	})
	assert.Error(t, err)
	assert.Zero(t, state.Len(), "nothing is seeded on error")
}
