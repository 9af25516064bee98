package abci

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	abci "github.com/tendermint/tendermint/abci/types"
	"vaultbridge.mini/vb/internal/bridge"
	"vaultbridge.mini/vb/internal/ledger"
)

// Query paths.
const (
	PathBridgeState = "/bridge_state"
	PathWhitelist   = "/whitelist/"
	PathAccount     = "/account/"
	PathReconcile   = "/vault/reconcile"
	PathTx          = "/tx/"
)

// ErrNotFound marks a lookup of an absent object.
var ErrNotFound = errors.New("not found")

// WhitelistStatus answers a whitelist lookup.
type WhitelistStatus struct {
	Address     solana.PublicKey `json:"address"`
	Entry       solana.PublicKey `json:"entry"`
	Whitelisted bool             `json:"whitelisted"`
}

// AccountView is an account with its variant name.
type AccountView struct {
	Address solana.PublicKey `json:"address"`
	Kind    string           `json:"kind"`
	Version uint64           `json:"version"`
	Data    ledger.Account   `json:"data"`
}

// TxStatus reports whether a transaction id was delivered. The id is the
// hash of the signed payload, not of the envelope.
type TxStatus struct {
	Hash      string `json:"hash"`
	Processed bool   `json:"processed"`
	Height    int64  `json:"height,omitempty"`
}

// Lookup resolves a query path against committed state. It backs both the
// ABCI Query method and in-process readers.
func (app *ABCIApplication) Lookup(path string) (interface{}, error) {
	state := app.State()
	switch {
	case path == PathBridgeState:
		bs, err := app.program.State(state)
		if errors.Is(err, bridge.ErrNotInitialized) {
			return nil, fmt.Errorf("bridge state: %w", ErrNotFound)
		}
		return bs, err

	case path == PathReconcile:
		r, err := app.program.Reconcile(state)
		if errors.Is(err, bridge.ErrNotInitialized) {
			return nil, fmt.Errorf("bridge state: %w", ErrNotFound)
		}
		return r, err

	case strings.HasPrefix(path, PathWhitelist):
		cp, err := solana.PublicKeyFromBase58(strings.TrimPrefix(path, PathWhitelist))
		if err != nil {
			return nil, fmt.Errorf("counterparty: %w", err)
		}
		entry, ok, err := app.program.Whitelisted(state, cp)
		if err != nil {
			return nil, err
		}
		return WhitelistStatus{Address: cp, Entry: entry, Whitelisted: ok}, nil

	case strings.HasPrefix(path, PathAccount):
		addr, err := solana.PublicKeyFromBase58(strings.TrimPrefix(path, PathAccount))
		if err != nil {
			return nil, fmt.Errorf("address: %w", err)
		}
		acct, ok := state.Get(addr)
		if !ok {
			return nil, fmt.Errorf("account %s: %w", addr, ErrNotFound)
		}
		return AccountView{Address: addr, Kind: acct.Kind().String(), Version: state.Version(addr), Data: acct}, nil

	case strings.HasPrefix(path, PathTx):
		hash := strings.ToUpper(strings.TrimPrefix(path, PathTx))
		if _, err := hex.DecodeString(hash); err != nil || len(hash) != 64 {
			return nil, fmt.Errorf("tx hash %q is not 32 hex bytes", hash)
		}
		seen, height, err := app.store.HasTx(hash)
		if err != nil {
			return nil, err
		}
		return TxStatus{Hash: hash, Processed: seen, Height: height}, nil
	}
	return nil, fmt.Errorf("unknown query path %q", path)
}

// IsNotFound reports whether a Lookup error means the object is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func (app *ABCIApplication) Query(req abci.RequestQuery) abci.ResponseQuery {
	height := app.Height()
	v, err := app.Lookup(req.Path)
	if err != nil {
		code := CodeTypeInvalidTx
		if IsNotFound(err) {
			code = CodeTypeNotFound
		}
		return abci.ResponseQuery{Code: code, Log: err.Error(), Height: height}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return abci.ResponseQuery{Code: CodeTypeEncodingError, Log: err.Error(), Height: height}
	}
	return abci.ResponseQuery{Code: CodeTypeOK, Key: []byte(req.Path), Value: data, Height: height}
}
