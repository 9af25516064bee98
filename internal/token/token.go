// Package token is the delegated token-transfer service: it owns mint and
// token-account bookkeeping and moves balances when the source owner, or a
// derived authority standing in for it, approves. The bridge program calls
// it directly; end users reach it through the token and associated-token
// program instructions in program.go.
package token

import (
	"errors"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
	"vaultbridge.mini/vb/internal/derive"
	"vaultbridge.mini/vb/internal/ledger"
)

var (
	ErrInsufficientFunds = errors.New("token: insufficient funds")
	ErrMintMismatch      = errors.New("token: account mint does not match")
	ErrDecimalsMismatch  = errors.New("token: decimals do not match mint")
	ErrOwnerMismatch     = errors.New("token: owner did not authorize")
	ErrOverflow          = errors.New("token: balance overflow")
	ErrAccountExists     = errors.New("token: account address already in use")
)

// NativeMint is the wrapped native asset, used for fee payments.
var NativeMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

// Authorizer decides whether an owner has approved an operation.
type Authorizer interface {
	Authorizes(owner solana.PublicKey) bool
}

// Signers is the set of addresses that signed the enclosing transaction.
type Signers map[solana.PublicKey]bool

func (s Signers) Authorizes(owner solana.PublicKey) bool {
	return s[owner]
}

// Service performs token operations inside a ledger transaction.
type Service struct{}

// Transfer describes a checked transfer.
type Transfer struct {
	From      solana.PublicKey
	Mint      solana.PublicKey
	To        solana.PublicKey
	Authority Authorizer
	Amount    uint64
	Decimals  uint8
}

// TransferChecked moves Amount from From to To, verifying both accounts are
// of Mint, Decimals matches the mint and Authority approves for the owner
// of From.
func (Service) TransferChecked(t *ledger.Txn, tr Transfer) error {
	mint, err := ledger.MintAt(t, tr.Mint)
	if err != nil {
		return fmt.Errorf("load mint: %w", err)
	}
	from, err := ledger.TokenAccountAt(t, tr.From)
	if err != nil {
		return fmt.Errorf("load source: %w", err)
	}
	to, err := ledger.TokenAccountAt(t, tr.To)
	if err != nil {
		return fmt.Errorf("load destination: %w", err)
	}

	if !from.Mint.Equals(tr.Mint) || !to.Mint.Equals(tr.Mint) {
		return ErrMintMismatch
	}
	if mint.Decimals != tr.Decimals {
		return fmt.Errorf("%w: mint has %d, got %d", ErrDecimalsMismatch, mint.Decimals, tr.Decimals)
	}
	if tr.Authority == nil || !tr.Authority.Authorizes(from.Owner) {
		return fmt.Errorf("%w: %s", ErrOwnerMismatch, from.Owner)
	}
	if from.Amount < tr.Amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, from.Amount, tr.Amount)
	}
	if tr.From.Equals(tr.To) {
		return nil
	}
	if to.Amount > math.MaxUint64-tr.Amount {
		return ErrOverflow
	}

	from.Amount -= tr.Amount
	to.Amount += tr.Amount
	if err := t.Put(tr.From, from); err != nil {
		return err
	}
	return t.Put(tr.To, to)
}

// CreateAssociatedIdempotent makes sure the associated token account of
// owner for mint exists and returns its address. An existing account at
// that address must already be of owner and mint.
func (Service) CreateAssociatedIdempotent(t *ledger.Txn, owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, err := derive.AssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if _, err := ledger.MintAt(t, mint); err != nil {
		return solana.PublicKey{}, fmt.Errorf("load mint: %w", err)
	}

	acct, err := t.Get(addr)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return addr, t.Put(addr, &ledger.TokenAccount{Mint: mint, Owner: owner})
	case err != nil:
		return solana.PublicKey{}, err
	}

	existing, ok := acct.(*ledger.TokenAccount)
	if !ok {
		return solana.PublicKey{}, fmt.Errorf("%w: %s is %s", ErrAccountExists, addr, acct.Kind())
	}
	if !existing.Mint.Equals(mint) {
		return solana.PublicKey{}, ErrMintMismatch
	}
	if !existing.Owner.Equals(owner) {
		return solana.PublicKey{}, ErrOwnerMismatch
	}
	return addr, nil
}

// MintTo issues amount of mint into the token account to.
func (Service) MintTo(t *ledger.Txn, mintAddr, to solana.PublicKey, authority Authorizer, amount uint64) error {
	mint, err := ledger.MintAt(t, mintAddr)
	if err != nil {
		return fmt.Errorf("load mint: %w", err)
	}
	dest, err := ledger.TokenAccountAt(t, to)
	if err != nil {
		return fmt.Errorf("load destination: %w", err)
	}
	if !dest.Mint.Equals(mintAddr) {
		return ErrMintMismatch
	}
	if authority == nil || !authority.Authorizes(mint.MintAuthority) {
		return fmt.Errorf("%w: mint authority %s", ErrOwnerMismatch, mint.MintAuthority)
	}
	if mint.Supply > math.MaxUint64-amount || dest.Amount > math.MaxUint64-amount {
		return ErrOverflow
	}

	mint.Supply += amount
	dest.Amount += amount
	if err := t.Put(mintAddr, mint); err != nil {
		return err
	}
	return t.Put(to, dest)
}

// Balance returns the amount held by a token account.
func (Service) Balance(t *ledger.Txn, addr solana.PublicKey) (uint64, error) {
	acct, err := ledger.TokenAccountAt(t, addr)
	if err != nil {
		return 0, err
	}
	return acct.Amount, nil
}

var _ Authorizer = derive.Authority{}
