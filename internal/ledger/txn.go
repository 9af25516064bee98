package ledger

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrNotDeclared  = errors.New("ledger: account not declared for this instruction")
	ErrNotWritable  = errors.New("ledger: account not declared writable")
	ErrNotFound     = errors.New("ledger: account not found")
	ErrKindMismatch = errors.New("ledger: account has unexpected kind")
	ErrClosed       = errors.New("ledger: transaction already finished")
)

// Txn is a copy-on-write view of State. Reads and writes are limited to the
// declared account set; nothing reaches State until Commit, and Commit fails
// if any account the Txn observed changed in the meantime.
type Txn struct {
	state    *State
	declared map[solana.PublicKey]bool
	writes   map[solana.PublicKey]Account
	seen     map[solana.PublicKey]uint64
	done     bool
}

// Scope replaces the declared account set. Writes made under an earlier
// scope are kept, so several instructions can share one Txn.
func (t *Txn) Scope(metas []*solana.AccountMeta) {
	t.declared = make(map[solana.PublicKey]bool, len(metas))
	for _, m := range metas {
		if m == nil {
			continue
		}
		t.declared[m.PublicKey] = t.declared[m.PublicKey] || m.IsWritable
	}
}

func (t *Txn) observe(addr solana.PublicKey) {
	if _, ok := t.seen[addr]; !ok {
		t.seen[addr] = t.state.Version(addr)
	}
}

// Get returns a private copy of the account at addr.
func (t *Txn) Get(addr solana.PublicKey) (Account, error) {
	if t.done {
		return nil, ErrClosed
	}
	if _, ok := t.declared[addr]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotDeclared, addr)
	}
	if acct, ok := t.writes[addr]; ok {
		if acct == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
		}
		return acct.clone(), nil
	}
	t.observe(addr)
	acct, ok := t.state.Get(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	return acct, nil
}

// Exists reports whether a declared account is live.
func (t *Txn) Exists(addr solana.PublicKey) (bool, error) {
	_, err := t.Get(addr)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Put stages acct at addr.
func (t *Txn) Put(addr solana.PublicKey, acct Account) error {
	if err := t.writable(addr); err != nil {
		return err
	}
	t.observe(addr)
	t.writes[addr] = acct.clone()
	return nil
}

// Delete stages removal of addr.
func (t *Txn) Delete(addr solana.PublicKey) error {
	if err := t.writable(addr); err != nil {
		return err
	}
	t.observe(addr)
	t.writes[addr] = nil
	return nil
}

func (t *Txn) writable(addr solana.PublicKey) error {
	if t.done {
		return ErrClosed
	}
	w, ok := t.declared[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotDeclared, addr)
	}
	if !w {
		return fmt.Errorf("%w: %s", ErrNotWritable, addr)
	}
	return nil
}

// Commit applies every staged write and returns the changed addresses.
func (t *Txn) Commit() ([]solana.PublicKey, error) {
	if t.done {
		return nil, ErrClosed
	}
	t.done = true
	return t.state.apply(t)
}

// Discard drops every staged write.
func (t *Txn) Discard() {
	t.done = true
	t.writes = nil
}

// BridgeStateAt loads a bridge state record.
func BridgeStateAt(t *Txn, addr solana.PublicKey) (*BridgeState, error) {
	acct, err := t.Get(addr)
	if err != nil {
		return nil, err
	}
	b, ok := acct.(*BridgeState)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrKindMismatch, addr, acct.Kind())
	}
	return b, nil
}

// TokenAccountAt loads a token account.
func TokenAccountAt(t *Txn, addr solana.PublicKey) (*TokenAccount, error) {
	acct, err := t.Get(addr)
	if err != nil {
		return nil, err
	}
	a, ok := acct.(*TokenAccount)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrKindMismatch, addr, acct.Kind())
	}
	return a, nil
}

// MintAt loads a mint.
func MintAt(t *Txn, addr solana.PublicKey) (*Mint, error) {
	acct, err := t.Get(addr)
	if err != nil {
		return nil, err
	}
	m, ok := acct.(*Mint)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrKindMismatch, addr, acct.Kind())
	}
	return m, nil
}

// WhitelistEntryAt loads a whitelist entry.
func WhitelistEntryAt(t *Txn, addr solana.PublicKey) (*WhitelistEntry, error) {
	acct, err := t.Get(addr)
	if err != nil {
		return nil, err
	}
	w, ok := acct.(*WhitelistEntry)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrKindMismatch, addr, acct.Kind())
	}
	return w, nil
}
