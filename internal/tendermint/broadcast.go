package tendermint

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	rpchttp "github.com/tendermint/tendermint/rpc/client/http"
	ctypes "github.com/tendermint/tendermint/rpc/core/types"
	tmtypes "github.com/tendermint/tendermint/types"
	"vaultbridge.mini/vb/internal/types"
)

// DefaultRPC is the local Tendermint RPC endpoint.
const DefaultRPC = "http://localhost:26657"

// rpcClient is the subset of the Tendermint RPC client in use.
type rpcClient interface {
	BroadcastTxSync(ctx context.Context, tx tmtypes.Tx) (*ctypes.ResultBroadcastTx, error)
	BroadcastTxCommit(ctx context.Context, tx tmtypes.Tx) (*ctypes.ResultBroadcastTxCommit, error)
	ABCIQuery(ctx context.Context, path string, data tmbytes.HexBytes) (*ctypes.ResultABCIQuery, error)
	Tx(ctx context.Context, hash []byte, prove bool) (*ctypes.ResultTx, error)
}

// Result is the outcome of a broadcast. Code is the CheckTx code for a sync
// broadcast and the first non-zero of CheckTx and DeliverTx for a commit.
type Result struct {
	Hash   string          `json:"hash"`
	Height int64           `json:"height,omitempty"`
	Code   uint32          `json:"code"`
	Log    string          `json:"log,omitempty"`
	Events json.RawMessage `json:"events,omitempty"`
}

// OK reports whether the transaction was accepted.
func (r *Result) OK() bool { return r.Code == 0 }

// Error describes a rejected transaction.
func (r *Result) Error() string {
	return fmt.Sprintf("transaction %s failed with code %d: %s", r.Hash, r.Code, r.Log)
}

// BroadcastClient submits transactions and queries over Tendermint RPC.
type BroadcastClient struct {
	rpc rpcClient
}

// NewBroadcastClient connects to rpcAddr (DefaultRPC when empty).
func NewBroadcastClient(rpcAddr string) (*BroadcastClient, error) {
	if rpcAddr == "" {
		rpcAddr = DefaultRPC
	}
	c, err := rpchttp.New(rpcAddr, "/websocket")
	if err != nil {
		return nil, fmt.Errorf("tendermint rpc %s: %w", rpcAddr, err)
	}
	return &BroadcastClient{rpc: c}, nil
}

// BroadcastTxSync returns after CheckTx.
func (bc *BroadcastClient) BroadcastTxSync(ctx context.Context, tx []byte) (*Result, error) {
	res, err := bc.rpc.BroadcastTxSync(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("broadcast_tx_sync: %w", err)
	}
	return &Result{Hash: res.Hash.String(), Code: res.Code, Log: res.Log}, nil
}

// BroadcastTxCommit waits for the transaction's block.
func (bc *BroadcastClient) BroadcastTxCommit(ctx context.Context, tx []byte) (*Result, error) {
	res, err := bc.rpc.BroadcastTxCommit(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("broadcast_tx_commit: %w", err)
	}
	out := &Result{Hash: res.Hash.String(), Height: res.Height}
	switch {
	case res.CheckTx.Code != 0:
		out.Code, out.Log = res.CheckTx.Code, res.CheckTx.Log
	case res.DeliverTx.Code != 0:
		out.Code, out.Log = res.DeliverTx.Code, res.DeliverTx.Log
	default:
		out.Events = res.DeliverTx.Data
	}
	return out, nil
}

// BroadcastSignedTransaction encodes signedTx and broadcasts it, waiting for
// the block when commit is set.
func (bc *BroadcastClient) BroadcastSignedTransaction(ctx context.Context, signedTx *types.SignedTransaction, commit bool) (*Result, error) {
	raw, err := signedTx.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction: %w", err)
	}
	if commit {
		return bc.BroadcastTxCommit(ctx, raw)
	}
	return bc.BroadcastTxSync(ctx, raw)
}

// QueryError is a non-zero ABCI query code.
type QueryError struct {
	Path string
	Code uint32
	Log  string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s: code %d: %s", e.Path, e.Code, e.Log)
}

// ABCIQuery runs an application query and returns the JSON value.
func (bc *BroadcastClient) ABCIQuery(ctx context.Context, path string) (json.RawMessage, error) {
	res, err := bc.rpc.ABCIQuery(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("abci_query %s: %w", path, err)
	}
	if res.Response.Code != 0 {
		return nil, &QueryError{Path: path, Code: res.Response.Code, Log: res.Response.Log}
	}
	return json.RawMessage(res.Response.Value), nil
}

// QueryTx looks a transaction up in Tendermint's index.
func (bc *BroadcastClient) QueryTx(ctx context.Context, txHash string) (*Result, error) {
	hash, err := hex.DecodeString(strings.TrimPrefix(txHash, "0x"))
	if err != nil {
		return nil, fmt.Errorf("tx hash: %w", err)
	}
	res, err := bc.rpc.Tx(ctx, hash, false)
	if err != nil {
		return nil, fmt.Errorf("tx %s: %w", txHash, err)
	}
	out := &Result{
		Hash:   res.Hash.String(),
		Height: res.Height,
		Code:   res.TxResult.Code,
		Log:    res.TxResult.Log,
	}
	if out.Code == 0 {
		out.Events = res.TxResult.Data
	}
	return out, nil
}
