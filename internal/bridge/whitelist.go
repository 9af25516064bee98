package bridge

import (
	"github.com/gagliardetto/solana-go"
	"vaultbridge.mini/vb/internal/codec"
	"vaultbridge.mini/vb/internal/ledger"
)

type AddToWhitelistEvent struct {
	From         solana.PublicKey `json:"from"`
	Counterparty solana.PublicKey `json:"counterparty"`
}

type RemoveFromWhitelistEvent struct {
	From         solana.PublicKey `json:"from"`
	Counterparty solana.PublicKey `json:"counterparty"`
}

// entry checks that the declared whitelist slot is the derived entry of
// counterparty.
func (p *Program) entry(c *call, counterparty solana.PublicKey) (solana.PublicKey, uint8, error) {
	addr, bump, err := p.resolver.WhitelistEntry(counterparty)
	if err != nil {
		return solana.PublicKey{}, 0, err
	}
	if got := c.account(codec.AccountWhitelistEntry); !got.Equals(addr) {
		return solana.PublicKey{}, 0, fail(ErrAddressMismatch, "whitelist entry for %s is %s, got %s", counterparty, addr, got)
	}
	return addr, bump, nil
}

func (p *Program) addToWhitelist(c *call, body []byte) (interface{}, error) {
	var args codec.WhitelistArgs
	if err := codec.DecodeArgs(body, &args); err != nil {
		return nil, err
	}
	if err := p.requireAdmin(c); err != nil {
		return nil, err
	}
	if _, err := p.state(c); err != nil {
		return nil, err
	}
	addr, bump, err := p.entry(c, args.Counterparty)
	if err != nil {
		return nil, err
	}
	exists, err := c.t.Exists(addr)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fail(ErrAccountAlreadyInitialized, "%s is already whitelisted", args.Counterparty)
	}
	if err := c.t.Put(addr, &ledger.WhitelistEntry{
		Bump:         bump,
		Counterparty: args.Counterparty,
		BridgeState:  p.bridgeState(),
	}); err != nil {
		return nil, err
	}
	return AddToWhitelistEvent{From: c.authority(), Counterparty: args.Counterparty}, nil
}

func (p *Program) removeFromWhitelist(c *call, body []byte) (interface{}, error) {
	var args codec.WhitelistArgs
	if err := codec.DecodeArgs(body, &args); err != nil {
		return nil, err
	}
	if err := p.requireAdmin(c); err != nil {
		return nil, err
	}
	addr, _, err := p.entry(c, args.Counterparty)
	if err != nil {
		return nil, err
	}
	if _, err := ledger.WhitelistEntryAt(c.t, addr); err != nil {
		return nil, err
	}
	if err := c.t.Delete(addr); err != nil {
		return nil, err
	}
	return RemoveFromWhitelistEvent{From: c.authority(), Counterparty: args.Counterparty}, nil
}

// checkWhitelisted gates a deposit by the caller's entry while whitelist
// enforcement is active.
func (p *Program) checkWhitelisted(c *call, bs *ledger.BridgeState) error {
	if bs.WhitelistState != ledger.Active {
		return nil
	}
	caller := c.authority()
	slot, ok := c.optional(codec.AccountWhitelistEntry)
	if !ok {
		return fail(ErrNotWhitelisted, "%s passed no whitelist entry", caller)
	}
	want, _, err := p.resolver.WhitelistEntry(caller)
	if err != nil {
		return err
	}
	if !slot.Equals(want) {
		return fail(ErrNotWhitelisted, "%s is not the entry of %s", slot, caller)
	}
	entry, err := ledger.WhitelistEntryAt(c.t, slot)
	if err != nil {
		return fail(ErrNotWhitelisted, "%s: %v", caller, err)
	}
	if !entry.Counterparty.Equals(caller) || !entry.BridgeState.Equals(p.bridgeState()) {
		return fail(ErrNotWhitelisted, "entry %s belongs to %s", slot, entry.Counterparty)
	}
	return nil
}
