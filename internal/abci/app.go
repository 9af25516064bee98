// Package abci contains the ABCI application that connects the bridge
// program to the Tendermint consensus engine. CheckTx verifies envelopes and
// dry-runs them, DeliverTx executes them atomically against the ledger, and
// Commit persists the block and publishes its events.
package abci

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	abci "github.com/tendermint/tendermint/abci/types"
	"vaultbridge.mini/vb/internal/bridge"
	"vaultbridge.mini/vb/internal/codec"
	"vaultbridge.mini/vb/internal/config"
	"vaultbridge.mini/vb/internal/events"
	"vaultbridge.mini/vb/internal/ledger"
	"vaultbridge.mini/vb/internal/metrics"
	"vaultbridge.mini/vb/internal/store"
	"vaultbridge.mini/vb/internal/token"
	"vaultbridge.mini/vb/internal/types"
)

const (
	CodeTypeOK            uint32 = 0
	CodeTypeEncodingError uint32 = 1
	CodeTypeAuthError     uint32 = 2
	CodeTypeInvalidTx     uint32 = 3
	CodeTypeReplay        uint32 = 4
	CodeTypeNotFound      uint32 = 5
)

// EventType is the ABCI event type attached to every delivered instruction.
const EventType = "vaultbridge"

const publishTimeout = 5 * time.Second

var ErrReplay = errors.New("transaction already processed")

// Persister is where committed blocks go.
type Persister interface {
	LoadState() (*ledger.State, error)
	LastBlock() (int64, []byte, error)
	HasTx(hash string) (bool, int64, error)
	ApplyCommit(c store.Commit) error
}

// Options configures NewABCIApplication.
type Options struct {
	Program *bridge.Program
	Store   Persister
	Sink    events.Sink
	Logger  *logrus.Entry
	// Genesis is used by InitChain when Tendermint's app_state is empty.
	Genesis *config.Genesis
}

// ABCIApplication implements the ABCI interface.
type ABCIApplication struct {
	abci.BaseApplication

	mu      sync.Mutex
	state   *ledger.State
	program *bridge.Program
	router  *Router
	store   Persister
	sink    events.Sink
	log     *logrus.Entry
	genesis *config.Genesis

	height  int64
	appHash []byte

	// block in progress
	blockHeight int64
	blockTxs    map[string]bool
	blockHashes []string
	blockEvents []events.Envelope
}

// NewABCIApplication restores the ledger from the store.
func NewABCIApplication(opts Options) (*ABCIApplication, error) {
	if opts.Program == nil {
		return nil, errors.New("abci: program is required")
	}
	if opts.Store == nil {
		return nil, errors.New("abci: store is required")
	}
	if opts.Sink == nil {
		opts.Sink = events.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	app := &ABCIApplication{
		program: opts.Program,
		router:  NewRouter(opts.Program, token.NewProgram(), token.NewAssociatedProgram()),
		store:   opts.Store,
		sink:    opts.Sink,
		log:     opts.Logger.WithField("component", "abci"),
		genesis: opts.Genesis,
	}
	if err := app.Reload(); err != nil {
		return nil, err
	}
	return app, nil
}

// Reload replaces the in-memory ledger with the store's contents, e.g. after
// a snapshot import.
func (app *ABCIApplication) Reload() error {
	state, err := app.store.LoadState()
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	height, hash, err := app.store.LastBlock()
	if err != nil {
		return err
	}

	app.mu.Lock()
	defer app.mu.Unlock()
	app.state = state
	app.height = height
	app.appHash = hash
	app.resetBlock()
	metrics.BlockHeight.Set(float64(height))
	app.observeVault()
	app.log.WithFields(logrus.Fields{"height": height, "accounts": state.Len()}).Info("ledger loaded")
	return nil
}

func (app *ABCIApplication) resetBlock() {
	app.blockTxs = make(map[string]bool)
	app.blockHashes = nil
	app.blockEvents = nil
}

// State is the live ledger. Readers must treat it as read only.
func (app *ABCIApplication) State() *ledger.State {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.state
}

// Program returns the bridge program the node runs.
func (app *ABCIApplication) Program() *bridge.Program {
	return app.program
}

// Height returns the last committed height.
func (app *ABCIApplication) Height() int64 {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.height
}

func (app *ABCIApplication) Info(req abci.RequestInfo) abci.ResponseInfo {
	app.mu.Lock()
	defer app.mu.Unlock()
	return abci.ResponseInfo{
		Data:             "vaultbridge",
		Version:          types.Version,
		LastBlockHeight:  app.height,
		LastBlockAppHash: app.appHash,
	}
}

// decoded is a transaction that passed envelope checks.
type decoded struct {
	hash    string
	tx      *types.Transaction
	signers token.Signers
}

// decode verifies the envelope and the replay set. The returned code is
// meaningful only when err is not nil.
func (app *ABCIApplication) decode(raw []byte) (*decoded, uint32, error) {
	stx, err := types.DecodeSignedTransaction(raw)
	if err != nil {
		metrics.TxRejected.WithLabelValues(metrics.StageDecode).Inc()
		return nil, CodeTypeEncodingError, err
	}
	tx, err := stx.Verify()
	if err != nil {
		if !isSignatureError(err) {
			metrics.TxRejected.WithLabelValues(metrics.StageDecode).Inc()
			return nil, CodeTypeEncodingError, err
		}
		metrics.TxRejected.WithLabelValues(metrics.StageSignature).Inc()
		return nil, CodeTypeAuthError, err
	}

	hash := stx.ID()
	if app.blockTxs[hash] {
		metrics.TxRejected.WithLabelValues(metrics.StageReplay).Inc()
		return nil, CodeTypeReplay, ErrReplay
	}
	seen, _, err := app.store.HasTx(hash)
	if err != nil {
		return nil, CodeTypeInvalidTx, err
	}
	if seen {
		metrics.TxRejected.WithLabelValues(metrics.StageReplay).Inc()
		return nil, CodeTypeReplay, ErrReplay
	}
	return &decoded{hash: hash, tx: tx, signers: token.Signers(stx.SignerSet())}, CodeTypeOK, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, types.ErrInvalidSignature) ||
		errors.Is(err, types.ErrMissingSignature) ||
		errors.Is(err, types.ErrUnexpectedSignature) ||
		errors.Is(err, types.ErrDuplicateSignature)
}

// codeOf maps an execution failure to its response code.
func codeOf(err error) uint32 {
	if code, ok := bridge.CodeOf(err); ok {
		return code
	}
	if codec.IsDecodeError(err) {
		return CodeTypeEncodingError
	}
	return CodeTypeInvalidTx
}

func (app *ABCIApplication) CheckTx(req abci.RequestCheckTx) abci.ResponseCheckTx {
	app.mu.Lock()
	defer app.mu.Unlock()

	d, code, err := app.decode(req.Tx)
	if err != nil {
		return abci.ResponseCheckTx{Code: code, Log: err.Error()}
	}

	txn := app.state.Begin(nil)
	_, err = app.router.Run(txn, d.tx, d.signers)
	txn.Discard()
	if err != nil {
		metrics.TxRejected.WithLabelValues(metrics.StageCheck).Inc()
		return abci.ResponseCheckTx{Code: codeOf(err), Log: err.Error()}
	}
	return abci.ResponseCheckTx{Code: CodeTypeOK}
}

func (app *ABCIApplication) BeginBlock(req abci.RequestBeginBlock) abci.ResponseBeginBlock {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.blockHeight = req.Header.Height
	app.resetBlock()
	return abci.ResponseBeginBlock{}
}

func (app *ABCIApplication) DeliverTx(req abci.RequestDeliverTx) abci.ResponseDeliverTx {
	app.mu.Lock()
	defer app.mu.Unlock()

	d, code, err := app.decode(req.Tx)
	if err != nil {
		app.log.WithFields(logrus.Fields{"code": code, "err": err}).Debug("rejected transaction")
		return abci.ResponseDeliverTx{Code: code, Log: err.Error()}
	}
	// A delivered hash is spent whether or not execution succeeds.
	app.blockTxs[d.hash] = true
	app.blockHashes = append(app.blockHashes, d.hash)

	log := app.log.WithField("tx", d.hash)
	txn := app.state.Begin(nil)
	evs, err := app.router.Run(txn, d.tx, d.signers)
	if err == nil {
		_, err = txn.Commit()
	} else {
		txn.Discard()
	}
	if err != nil {
		code := codeOf(err)
		for _, ix := range d.tx.Instructions {
			metrics.TxTotal.WithLabelValues(app.router.Label(ix), "failed").Inc()
		}
		log.WithFields(logrus.Fields{"code": code, "err": err}).Info("transaction failed")
		return abci.ResponseDeliverTx{Code: code, Log: err.Error()}
	}

	data, err := json.Marshal(evs)
	if err != nil {
		// unreachable for the event types the programs emit
		log.WithError(err).Error("encode events")
	}

	resp := abci.ResponseDeliverTx{Code: CodeTypeOK, Data: data}
	for i, ev := range evs {
		label := app.router.Label(d.tx.Instructions[i])
		metrics.TxTotal.WithLabelValues(label, "ok").Inc()

		payload, _ := json.Marshal(ev.Data)
		app.blockEvents = append(app.blockEvents, events.Envelope{
			Height: app.blockHeight,
			TxHash: d.hash,
			Index:  i,
			Name:   ev.Name,
			Data:   payload,
		})
		resp.Events = append(resp.Events, abci.Event{
			Type: EventType,
			Attributes: []abci.EventAttribute{
				{Key: []byte("method"), Value: []byte(label), Index: true},
				{Key: []byte("event"), Value: []byte(ev.Name), Index: true},
			},
		})
		log.WithFields(logrus.Fields{"method": label, "event": ev.Name}).Info("instruction applied")
	}
	return resp
}

// Commit persists the block and returns the app hash. A store failure is
// fatal: the node cannot agree on a block it did not save.
func (app *ABCIApplication) Commit() abci.ResponseCommit {
	app.mu.Lock()
	defer app.mu.Unlock()

	hash, err := app.state.Hash()
	if err != nil {
		app.log.WithError(err).Panic("hash ledger")
	}
	height := app.blockHeight
	if height == 0 {
		height = app.height + 1
	}

	commit := store.Commit{
		Height:   height,
		AppHash:  hash,
		Changes:  app.state.TakeChanges(),
		TxHashes: app.blockHashes,
	}
	if err := app.store.ApplyCommit(commit); err != nil {
		app.log.WithError(err).WithField("height", height).Panic("persist block")
	}

	app.height = height
	app.appHash = hash
	batch := app.blockEvents
	app.resetBlock()
	app.blockHeight = 0

	metrics.BlockHeight.Set(float64(height))
	app.observeVault()
	app.log.WithFields(logrus.Fields{
		"height":   height,
		"txs":      len(commit.TxHashes),
		"accounts": len(commit.Changes),
		"events":   len(batch),
	}).Debug("committed block")

	app.publish(batch)
	return abci.ResponseCommit{Data: hash}
}

func (app *ABCIApplication) publish(batch []events.Envelope) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := app.sink.Publish(ctx, batch); err != nil {
		app.log.WithError(err).WithField("events", len(batch)).Warn("publish events")
	}
}

func (app *ABCIApplication) observeVault() {
	if bs, err := app.program.State(app.state); err == nil {
		metrics.VaultAmount.Set(float64(bs.VaultAmount))
	}
}
