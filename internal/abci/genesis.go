package abci

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	abci "github.com/tendermint/tendermint/abci/types"
	"vaultbridge.mini/vb/internal/config"
	"vaultbridge.mini/vb/internal/derive"
	"vaultbridge.mini/vb/internal/ledger"
	"vaultbridge.mini/vb/internal/token"
)

// NativeDecimals is the scale of the native mint seeded when genesis does
// not declare it.
const NativeDecimals = 9

// InitChain seeds the ledger from Tendermint's app_state, or from the
// configured genesis when app_state is empty. A malformed genesis stops
// the node.
func (app *ABCIApplication) InitChain(req abci.RequestInitChain) abci.ResponseInitChain {
	g := app.genesis
	if len(req.AppStateBytes) > 0 {
		parsed, err := config.ParseGenesis(req.AppStateBytes)
		if err != nil {
			app.log.WithError(err).Panic("parse app_state")
		}
		g = parsed
	}
	if g == nil {
		g = &config.Genesis{}
	}

	app.mu.Lock()
	defer app.mu.Unlock()
	if err := SeedGenesis(app.state, g); err != nil {
		app.log.WithError(err).Panic("apply genesis")
	}
	app.log.WithFields(logrus.Fields{
		"chain":    req.ChainId,
		"mints":    len(g.Mints),
		"accounts": len(g.TokenAccounts),
	}).Info("genesis applied")
	return abci.ResponseInitChain{}
}

// SeedGenesis writes g's mints and token accounts into state. Mint supply
// is the sum of the seeded balances. The native mint is added if missing.
func SeedGenesis(state *ledger.State, g *config.Genesis) error {
	mints := make(map[solana.PublicKey]*ledger.Mint, len(g.Mints)+1)
	order := make([]solana.PublicKey, 0, len(g.Mints)+1)
	for i, m := range g.Mints {
		addr, err := solana.PublicKeyFromBase58(m.Address)
		if err != nil {
			return fmt.Errorf("mint %d address: %w", i, err)
		}
		if _, dup := mints[addr]; dup {
			return fmt.Errorf("mint %s declared twice", addr)
		}
		mint := &ledger.Mint{Decimals: m.Decimals}
		if m.MintAuthority != "" {
			if mint.MintAuthority, err = solana.PublicKeyFromBase58(m.MintAuthority); err != nil {
				return fmt.Errorf("mint %s authority: %w", addr, err)
			}
		}
		mints[addr] = mint
		order = append(order, addr)
	}
	if _, ok := mints[token.NativeMint]; !ok {
		if _, exists := state.Get(token.NativeMint); !exists {
			mints[token.NativeMint] = &ledger.Mint{Decimals: NativeDecimals}
			order = append(order, token.NativeMint)
		}
	}

	accounts := make(map[solana.PublicKey]*ledger.TokenAccount, len(g.TokenAccounts))
	for i, a := range g.TokenAccounts {
		owner, err := solana.PublicKeyFromBase58(a.Owner)
		if err != nil {
			return fmt.Errorf("token account %d owner: %w", i, err)
		}
		mintAddr, err := solana.PublicKeyFromBase58(a.Mint)
		if err != nil {
			return fmt.Errorf("token account %d mint: %w", i, err)
		}
		mint, ok := mints[mintAddr]
		if !ok {
			return fmt.Errorf("token account %d: mint %s is not declared", i, mintAddr)
		}

		var addr solana.PublicKey
		if a.Address != "" {
			addr, err = solana.PublicKeyFromBase58(a.Address)
		} else {
			addr, err = derive.AssociatedTokenAddress(owner, mintAddr)
		}
		if err != nil {
			return fmt.Errorf("token account %d address: %w", i, err)
		}
		if _, dup := accounts[addr]; dup {
			return fmt.Errorf("token account %s declared twice", addr)
		}
		if mint.Supply+a.Amount < mint.Supply {
			return fmt.Errorf("mint %s supply overflows", mintAddr)
		}
		mint.Supply += a.Amount
		accounts[addr] = &ledger.TokenAccount{Mint: mintAddr, Owner: owner, Amount: a.Amount}
	}

	for _, addr := range order {
		state.Seed(addr, mints[addr])
	}
	for addr, acct := range accounts {
		state.Seed(addr, acct)
	}
	return nil
}
