package bridge

import (
	"github.com/gagliardetto/solana-go"
	"vaultbridge.mini/vb/internal/codec"
	"vaultbridge.mini/vb/internal/ledger"
)

func (p *Program) requireAdmin(c *call) error {
	if !p.isAdmin(c.authority()) {
		return fail(ErrNotPrivileged, "%s requires the admin, signed by %s", c.method, c.authority())
	}
	return nil
}

func requireRelayer(c *call, bs *ledger.BridgeState) error {
	if bs.Relayer.IsZero() || !c.authority().Equals(bs.Relayer) {
		return fail(ErrNotPrivileged, "%s requires the relayer, signed by %s", c.method, c.authority())
	}
	return nil
}

// requireRole dispatches on the catalog role of the current method.
func (p *Program) requireRole(c *call, bs *ledger.BridgeState) error {
	spec, _ := codec.Lookup(c.method)
	switch spec.Role {
	case codec.RoleAdmin:
		return p.requireAdmin(c)
	case codec.RoleRelayer:
		return requireRelayer(c, bs)
	case codec.RoleAdminRelayer:
		if p.isAdmin(c.authority()) {
			return nil
		}
		return requireRelayer(c, bs)
	}
	return nil
}

func (p *Program) isAdmin(addr solana.PublicKey) bool {
	return addr.Equals(p.admin)
}
