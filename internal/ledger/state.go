// Package ledger holds the replicated account state of the vaultbridge
// application. Accounts are tagged variants (bridge state, whitelist entries,
// token accounts, mints) keyed by address. Every mutation goes through a Txn
// that only sees the accounts declared for it and commits all-or-nothing.
package ledger

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
)

var ErrConflict = errors.New("ledger: account changed since transaction began")

// State is the full collection of accounts known to the node.
type State struct {
	mu       sync.RWMutex
	accounts map[solana.PublicKey]Account
	versions map[solana.PublicKey]uint64
	dirty    map[solana.PublicKey]struct{}
}

func NewState() *State {
	return &State{
		accounts: make(map[solana.PublicKey]Account),
		versions: make(map[solana.PublicKey]uint64),
		dirty:    make(map[solana.PublicKey]struct{}),
	}
}

// Load installs an account without marking it dirty. It is used when
// restoring from the store, where the row already holds the value.
func (s *State) Load(addr solana.PublicKey, acct Account, version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[addr] = acct.clone()
	s.versions[addr] = version
}

// Seed installs an account as a fresh write, e.g. from genesis.
func (s *State) Seed(addr solana.PublicKey, acct Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[addr] = acct.clone()
	s.versions[addr]++
	s.dirty[addr] = struct{}{}
}

// Get returns a copy of the account at addr.
func (s *State) Get(addr solana.PublicKey) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[addr]
	if !ok {
		return nil, false
	}
	return acct.clone(), true
}

// Version returns the number of committed writes to addr.
func (s *State) Version(addr solana.PublicKey) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions[addr]
}

// Len returns the number of live accounts.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// Addresses returns all live addresses in byte order.
func (s *State) Addresses() []solana.PublicKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

func (s *State) sortedLocked() []solana.PublicKey {
	out := make([]solana.PublicKey, 0, len(s.accounts))
	for addr := range s.accounts {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i][:]) < string(out[j][:])
	})
	return out
}

// Change describes one account touched since the last TakeChanges.
// Account is nil when it was deleted.
type Change struct {
	Address solana.PublicKey
	Account Account
	Version uint64
}

// TakeChanges returns and clears the accounts written since the last call,
// sorted by address.
func (s *State) TakeChanges() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	addrs := make([]solana.PublicKey, 0, len(s.dirty))
	for addr := range s.dirty {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return string(addrs[i][:]) < string(addrs[j][:])
	})

	changes := make([]Change, 0, len(addrs))
	for _, addr := range addrs {
		c := Change{Address: addr, Version: s.versions[addr]}
		if acct, ok := s.accounts[addr]; ok {
			c.Account = acct.clone()
		}
		changes = append(changes, c)
	}
	s.dirty = make(map[solana.PublicKey]struct{})
	return changes
}

// Hash commits to every live account: sha256 over address, kind and
// encoded data, in address order.
func (s *State) Hash() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := sha256.New()
	for _, addr := range s.sortedLocked() {
		acct := s.accounts[addr]
		data, err := Encode(acct)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", addr, err)
		}
		h.Write(addr[:])
		h.Write([]byte{byte(acct.Kind())})
		h.Write(data)
	}
	return h.Sum(nil), nil
}

// Begin opens a transaction scoped to metas.
func (s *State) Begin(metas []*solana.AccountMeta) *Txn {
	t := &Txn{
		state:  s,
		writes: make(map[solana.PublicKey]Account),
		seen:   make(map[solana.PublicKey]uint64),
	}
	t.Scope(metas)
	return t
}

func (s *State) apply(t *Txn) ([]solana.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for addr, v := range t.seen {
		if s.versions[addr] != v {
			return nil, fmt.Errorf("%w: %s", ErrConflict, addr)
		}
	}

	changed := make([]solana.PublicKey, 0, len(t.writes))
	for addr, acct := range t.writes {
		if acct == nil {
			delete(s.accounts, addr)
		} else {
			s.accounts[addr] = acct
		}
		s.versions[addr]++
		s.dirty[addr] = struct{}{}
		changed = append(changed, addr)
	}
	sort.Slice(changed, func(i, j int) bool {
		return string(changed[i][:]) < string(changed[j][:])
	})
	return changed, nil
}
