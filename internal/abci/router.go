package abci

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"vaultbridge.mini/vb/internal/codec"
	"vaultbridge.mini/vb/internal/ledger"
	"vaultbridge.mini/vb/internal/token"
	"vaultbridge.mini/vb/internal/types"
)

var ErrUnknownProgram = errors.New("instruction targets an unknown program")

// Executor is a program the node can run.
type Executor interface {
	ID() solana.PublicKey
	Execute(t *ledger.Txn, ix types.Instruction, signers token.Signers) (*types.Event, error)
}

// Router dispatches instructions by program id.
type Router struct {
	programs map[solana.PublicKey]Executor
	bridge   solana.PublicKey
}

// NewRouter registers bridge and the token programs it invokes.
func NewRouter(bridge Executor, others ...Executor) *Router {
	r := &Router{
		programs: make(map[solana.PublicKey]Executor, len(others)+1),
		bridge:   bridge.ID(),
	}
	r.programs[bridge.ID()] = bridge
	for _, p := range others {
		r.programs[p.ID()] = p
	}
	return r
}

// Run executes every instruction of tx inside t. Each instruction sees only
// the accounts it declares, but later instructions observe the writes of
// earlier ones.
func (r *Router) Run(t *ledger.Txn, tx *types.Transaction, signers token.Signers) ([]*types.Event, error) {
	evs := make([]*types.Event, 0, len(tx.Instructions))
	for i, ix := range tx.Instructions {
		p, ok := r.programs[ix.ProgramID]
		if !ok {
			return nil, fmt.Errorf("instruction %d: %w: %s", i, ErrUnknownProgram, ix.ProgramID)
		}
		t.Scope(ix.Accounts)
		ev, err := p.Execute(t, ix, signers)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		evs = append(evs, ev)
	}
	return evs, nil
}

// Label names an instruction for metrics and logs.
func (r *Router) Label(ix types.Instruction) string {
	switch ix.ProgramID {
	case r.bridge:
		if method, _, err := codec.Split(ix.Data); err == nil {
			return method
		}
		return "unknown"
	case solana.TokenProgramID:
		return "token"
	case solana.SPLAssociatedTokenAccountProgramID:
		return "associated_token"
	}
	return "unknown_program"
}
