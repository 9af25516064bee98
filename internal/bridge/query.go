package bridge

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"vaultbridge.mini/vb/internal/ledger"
)

// ErrNotInitialized is returned by reads before initialize_contract ran.
var ErrNotInitialized = errors.New("bridge: not initialized")

// State reads the committed bridge state.
func (p *Program) State(s *ledger.State) (*ledger.BridgeState, error) {
	acct, ok := s.Get(p.bridgeState())
	if !ok {
		return nil, ErrNotInitialized
	}
	bs, ok := acct.(*ledger.BridgeState)
	if !ok {
		return nil, fmt.Errorf("bridge state holds a %s", acct.Kind())
	}
	return bs, nil
}

// Whitelisted returns counterparty's entry address and whether it exists.
func (p *Program) Whitelisted(s *ledger.State, counterparty solana.PublicKey) (solana.PublicKey, bool, error) {
	addr, _, err := p.resolver.WhitelistEntry(counterparty)
	if err != nil {
		return solana.PublicKey{}, false, err
	}
	acct, ok := s.Get(addr)
	if !ok {
		return addr, false, nil
	}
	_, ok = acct.(*ledger.WhitelistEntry)
	return addr, ok, nil
}

// Reconciliation compares the cached vault balance with the vault account.
// Drift is Actual minus Cached, clamped to the int64 range.
type Reconciliation struct {
	Vault  solana.PublicKey `json:"vault"`
	Cached uint64           `json:"cached"`
	Actual uint64           `json:"actual"`
	Drift  int64            `json:"drift"`
	InSync bool             `json:"in_sync"`
}

// Reconcile reads both balances from committed state.
func (p *Program) Reconcile(s *ledger.State) (Reconciliation, error) {
	bs, err := p.State(s)
	if err != nil {
		return Reconciliation{}, err
	}
	r := Reconciliation{Vault: bs.Vault, Cached: bs.VaultAmount}
	if acct, ok := s.Get(bs.Vault); ok {
		if ta, ok := acct.(*ledger.TokenAccount); ok {
			r.Actual = ta.Amount
		}
	}
	r.InSync = r.Actual == r.Cached
	r.Drift = drift(r.Actual, r.Cached)
	return r, nil
}

func drift(actual, cached uint64) int64 {
	const max = uint64(1<<63 - 1)
	if actual >= cached {
		if d := actual - cached; d <= max {
			return int64(d)
		}
		return int64(max)
	}
	if d := cached - actual; d <= max {
		return -int64(d)
	}
	return -int64(max)
}
