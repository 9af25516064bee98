package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"vaultbridge.mini/vb/internal/abci"
	"vaultbridge.mini/vb/internal/bridge"
	"vaultbridge.mini/vb/internal/codec"
	"vaultbridge.mini/vb/internal/derive"
	"vaultbridge.mini/vb/internal/discovery"
	"vaultbridge.mini/vb/internal/identity"
	"vaultbridge.mini/vb/internal/ledger"
	"vaultbridge.mini/vb/internal/tendermint"
	"vaultbridge.mini/vb/internal/token"
	"vaultbridge.mini/vb/internal/types"
)

type mockLedger struct {
	mock.Mock
	sent []*types.SignedTransaction
}

func (m *mockLedger) BroadcastSignedTransaction(ctx context.Context, stx *types.SignedTransaction, commit bool) (*tendermint.Result, error) {
	m.sent = append(m.sent, stx)
	args := m.Called(commit)
	res, _ := args.Get(0).(*tendermint.Result)
	return res, args.Error(1)
}

func (m *mockLedger) ABCIQuery(ctx context.Context, path string) (json.RawMessage, error) {
	args := m.Called(path)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func (m *mockLedger) QueryTx(ctx context.Context, hash string) (*tendermint.Result, error) {
	args := m.Called(hash)
	res, _ := args.Get(0).(*tendermint.Result)
	return res, args.Error(1)
}

type harness struct {
	out    *bytes.Buffer
	ledger *mockLedger
	key    string
	signer *identity.Identity
	peers  []*discovery.Peer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	key := filepath.Join(dir, "key.pem")
	id, err := identity.LoadOrCreateIdentity(key)
	require.NoError(t, err)
	return &harness{out: new(bytes.Buffer), ledger: new(mockLedger), key: key, signer: id}
}

func (h *harness) run(t *testing.T, args ...string) error {
	t.Helper()
	h.out.Reset()
	c := newCLI(h.out)
	c.client = h.ledger
	c.browse = func(ctx context.Context, wait time.Duration) ([]*discovery.Peer, error) {
		return h.peers, nil
	}
	root := newRootCmd(c)
	root.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml"), "--key", h.key}, args...))
	root.SetOut(h.out)
	root.SetErr(h.out)
	return root.Execute()
}

// instruction decodes the single instruction of the last broadcast.
func (h *harness) instruction(t *testing.T) types.Instruction {
	t.Helper()
	require.NotEmpty(t, h.ledger.sent)
	tx, err := h.ledger.sent[len(h.ledger.sent)-1].Verify()
	require.NoError(t, err)
	require.Len(t, tx.Instructions, 1)
	return tx.Instructions[0]
}

func methodOf(t *testing.T, ix types.Instruction) string {
	t.Helper()
	m, _, err := codec.Split(ix.Data)
	require.NoError(t, err)
	return m
}

func resolver(t *testing.T) *derive.Resolver {
	t.Helper()
	r, err := derive.NewResolver(solana.MustPublicKeyFromBase58(bridge.DefaultProgramID))
	require.NoError(t, err)
	return r
}

func bridgeJSON(t *testing.T, bs ledger.BridgeState) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(bs)
	require.NoError(t, err)
	return raw
}

func TestAddressBridgeStateMatchesResolver(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t, "address", "bridge-state"))

	want, _ := resolver(t).BridgeState()
	assert.Equal(t, want.String()+"\n", h.out.String())
}

func TestAddressATA(t *testing.T) {
	h := newHarness(t)
	owner := h.signer.Address()
	require.NoError(t, h.run(t, "--json", "address", "ata", owner.String(), token.NativeMint.String()))

	want, err := derive.AssociatedTokenAddress(owner, token.NativeMint)
	require.NoError(t, err)
	var got map[string]string
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &got))
	assert.Equal(t, want.String(), got["address"])
}

func TestKeysShowAndGenerate(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(t, "keys", "show"))
	assert.Equal(t, h.signer.Address().String()+"\n", h.out.String())

	assert.Error(t, h.run(t, "keys", "generate", "--out", h.key), "existing key file must not be overwritten")

	fresh := filepath.Join(t.TempDir(), "new.pem")
	require.NoError(t, h.run(t, "keys", "generate", "--out", fresh))
	id, err := identity.LoadIdentity(fresh)
	require.NoError(t, err)
	assert.Equal(t, id.Address().String()+"\n", h.out.String())
}

func TestAdminToggleBroadcasts(t *testing.T) {
	h := newHarness(t)
	h.ledger.On("BroadcastSignedTransaction", true).Return(&tendermint.Result{Hash: "ABCD", Height: 9}, nil)

	require.NoError(t, h.run(t, "admin", "public-pause", "--commit"))
	assert.Contains(t, h.out.String(), "ABCD")
	assert.Contains(t, h.out.String(), "height: 9")
	assert.Contains(t, h.out.String(), "id: "+h.ledger.sent[0].ID())

	ix := h.instruction(t)
	assert.Equal(t, codec.MethodPublicPause, methodOf(t, ix))
	assert.Equal(t, solana.MustPublicKeyFromBase58(bridge.DefaultProgramID), ix.ProgramID)
}

func TestRejectedTransactionFails(t *testing.T) {
	h := newHarness(t)
	h.ledger.On("BroadcastSignedTransaction", false).
		Return(&tendermint.Result{Hash: "EF", Code: bridge.ErrNotPrivileged.Code, Log: "not privileged"}, nil)

	err := h.run(t, "admin", "whitelist-add", solana.NewWallet().PublicKey().String())
	require.Error(t, err)
	assert.Contains(t, h.out.String(), "rejected")
	assert.Equal(t, codec.MethodAddToWhitelist, methodOf(t, h.instruction(t)))
}

func TestDepositFillsFeeAndWhitelistAccounts(t *testing.T) {
	h := newHarness(t)
	mint := solana.NewWallet().PublicKey()
	collector := solana.NewWallet().PublicKey()
	h.ledger.On("ABCIQuery", abci.PathBridgeState).Return(bridgeJSON(t, ledger.BridgeState{
		Mint:           mint,
		FeeCollector:   collector,
		FeeAmount:      5000,
		WhitelistState: ledger.Active,
	}), nil)
	h.ledger.On("BroadcastSignedTransaction", false).Return(&tendermint.Result{Hash: "01"}, nil)

	require.NoError(t, h.run(t, "deposit", "--amount", "2000000000", "--destination", "0xabc", "--signature", "0xdef"))

	ix := h.instruction(t)
	assert.Equal(t, codec.MethodSendToLiquidity, methodOf(t, ix))

	r := resolver(t)
	entry, _, err := r.WhitelistEntry(h.signer.Address())
	require.NoError(t, err)
	feeDest, err := derive.AssociatedTokenAddress(collector, token.NativeMint)
	require.NoError(t, err)

	keys := make(map[solana.PublicKey]bool)
	for _, m := range ix.Accounts {
		keys[m.PublicKey] = true
	}
	assert.True(t, keys[entry], "whitelist entry passed while the whitelist is active")
	assert.True(t, keys[collector])
	assert.True(t, keys[feeDest])
	assert.True(t, keys[mint])
}

func TestRelaySendUsesBridgeMint(t *testing.T) {
	h := newHarness(t)
	mint := solana.NewWallet().PublicKey()
	receiver := solana.NewWallet().PublicKey()
	h.ledger.On("ABCIQuery", abci.PathBridgeState).Return(bridgeJSON(t, ledger.BridgeState{Mint: mint}), nil)
	h.ledger.On("BroadcastSignedTransaction", false).Return(&tendermint.Result{Hash: "02"}, nil)

	require.NoError(t, h.run(t, "relay", "send", "--amount", "7", "--receiver", receiver.String()))

	ix := h.instruction(t)
	assert.Equal(t, codec.MethodSendFromLiquidity, methodOf(t, ix))
	dest, err := derive.AssociatedTokenAddress(receiver, mint)
	require.NoError(t, err)
	found := false
	for _, m := range ix.Accounts {
		found = found || m.PublicKey.Equals(dest)
	}
	assert.True(t, found, "receiver's associated account is in the account list")
}

func TestQueryPrintsIndentedJSON(t *testing.T) {
	h := newHarness(t)
	h.ledger.On("ABCIQuery", abci.PathReconcile).Return(json.RawMessage(`{"drift":0,"in_sync":true}`), nil)

	require.NoError(t, h.run(t, "query", "reconcile"))
	assert.Equal(t, "{\n  \"drift\": 0,\n  \"in_sync\": true\n}\n", h.out.String())

	require.NoError(t, h.run(t, "--json", "query", "reconcile"))
	assert.Equal(t, "{\"drift\":0,\"in_sync\":true}\n", h.out.String())
}

func TestQueryErrorsPropagate(t *testing.T) {
	h := newHarness(t)
	h.ledger.On("ABCIQuery", abci.PathBridgeState).Return(nil, &tendermint.QueryError{Path: abci.PathBridgeState, Code: abci.CodeTypeNotFound})

	err := h.run(t, "query", "bridge")
	var qe *tendermint.QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, abci.CodeTypeNotFound, qe.Code)
}

func TestNodesFiltersByProgram(t *testing.T) {
	h := newHarness(t)
	h.peers = []*discovery.Peer{
		{Instance: "alpha", Port: 8080, Addrs: []net.IP{net.ParseIP("192.0.2.1")}, ProgramID: bridge.DefaultProgramID, Version: "0.3.0"},
		{Instance: "other", Port: 8080, ProgramID: "elsewhere"},
	}

	require.NoError(t, h.run(t, "nodes"))
	assert.Contains(t, h.out.String(), "http://192.0.2.1:8080")
	assert.NotContains(t, h.out.String(), "other")

	require.NoError(t, h.run(t, "--json", "nodes", "--all"))
	var got []discovery.Peer
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &got))
	assert.Len(t, got, 2)
}
