// Package derive computes the deterministic addresses a bridge deployment
// uses: the bridge-state record, per-counterparty whitelist entries and the
// vault token account. Every address is recomputable from its seeds, so
// clients never need a lookup table. Program-derived addresses lie off the
// ed25519 curve and therefore have no private key; the only way to act as
// one is to present its seeds, which is what Authority captures.
package derive

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// BridgeStateSeed is the fixed tag for the singleton bridge-state record.
const BridgeStateSeed = "bridge_state"

var ErrAuthorityMismatch = errors.New("derive: seeds do not reproduce the bridge state address")

// Resolver derives addresses for one deployed program.
type Resolver struct {
	programID   solana.PublicKey
	bridgeState solana.PublicKey
	bump        uint8
}

// NewResolver precomputes the bridge-state address for programID.
func NewResolver(programID solana.PublicKey) (*Resolver, error) {
	addr, bump, err := solana.FindProgramAddress([][]byte{[]byte(BridgeStateSeed)}, programID)
	if err != nil {
		return nil, fmt.Errorf("derive bridge state: %w", err)
	}
	return &Resolver{programID: programID, bridgeState: addr, bump: bump}, nil
}

// MustResolver is NewResolver for package-level fixtures.
func MustResolver(programID solana.PublicKey) *Resolver {
	r, err := NewResolver(programID)
	if err != nil {
		panic(err)
	}
	return r
}

// ProgramID returns the program the resolver derives for.
func (r *Resolver) ProgramID() solana.PublicKey {
	return r.programID
}

// BridgeState returns the bridge-state address and its bump.
func (r *Resolver) BridgeState() (solana.PublicKey, uint8) {
	return r.bridgeState, r.bump
}

// WhitelistEntry returns the entry address for counterparty, seeded by the
// counterparty and the bridge-state address.
func (r *Resolver) WhitelistEntry(counterparty solana.PublicKey) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress(
		[][]byte{counterparty.Bytes(), r.bridgeState.Bytes()},
		r.programID,
	)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("derive whitelist entry for %s: %w", counterparty, err)
	}
	return addr, bump, nil
}

// Vault returns the custody account: the associated token account of the
// bridge state for mint.
func (r *Resolver) Vault(mint solana.PublicKey) (solana.PublicKey, error) {
	return AssociatedTokenAddress(r.bridgeState, mint)
}

// Authority rebuilds the bridge-state signing capability from its stored
// bump. It fails if the seeds do not reproduce the bridge-state address.
func (r *Resolver) Authority(bump uint8) (Authority, error) {
	seeds := [][]byte{[]byte(BridgeStateSeed), {bump}}
	addr, err := solana.CreateProgramAddress(seeds, r.programID)
	if err != nil {
		return Authority{}, fmt.Errorf("%w: %v", ErrAuthorityMismatch, err)
	}
	if !addr.Equals(r.bridgeState) {
		return Authority{}, ErrAuthorityMismatch
	}
	return Authority{address: addr, seeds: seeds}, nil
}

// AssociatedTokenAddress returns the canonical token account of owner for
// mint under the associated-token-account convention.
func AssociatedTokenAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive associated token account: %w", err)
	}
	return addr, nil
}

// Authority lets the vault engine sign as the bridge state. It carries the
// seeds that reproduce the address, never a private key.
type Authority struct {
	address solana.PublicKey
	seeds   [][]byte
}

// Address is the derived address this authority signs for.
func (a Authority) Address() solana.PublicKey {
	return a.address
}

// Authorizes reports whether this authority may act for addr.
func (a Authority) Authorizes(addr solana.PublicKey) bool {
	return !a.address.IsZero() && addr.Equals(a.address)
}

// Seeds returns a copy of the signer seeds, bump included.
func (a Authority) Seeds() [][]byte {
	out := make([][]byte, len(a.seeds))
	for i, s := range a.seeds {
		out[i] = append([]byte(nil), s...)
	}
	return out
}
