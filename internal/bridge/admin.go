package bridge

import (
	"github.com/gagliardetto/solana-go"
	"vaultbridge.mini/vb/internal/codec"
	"vaultbridge.mini/vb/internal/ledger"
)

type UpdateRelayerEvent struct {
	From    solana.PublicKey `json:"from"`
	Relayer solana.PublicKey `json:"relayer"`
}

type UpdateFeeCollectorEvent struct {
	From         solana.PublicKey `json:"from"`
	FeeCollector solana.PublicKey `json:"fee_collector"`
}

type DepositLimitsEvent struct {
	From    solana.PublicKey `json:"from"`
	Minimum uint64           `json:"minimum"`
	Maximum uint64           `json:"maximum"`
}

type FeeAmountEvent struct {
	From      solana.PublicKey `json:"from"`
	FeeAmount uint64           `json:"fee_amount"`
}

// configure runs the shared shape of the admin setters: decode, load,
// authorize, mutate, save.
func (p *Program) configure(c *call, body []byte, args interface{}, apply func(*ledger.BridgeState) interface{}) (interface{}, error) {
	if err := codec.DecodeArgs(body, args); err != nil {
		return nil, err
	}
	bs, err := p.state(c)
	if err != nil {
		return nil, err
	}
	if err := p.requireAdmin(c); err != nil {
		return nil, err
	}
	ev := apply(bs)
	if err := p.save(c, bs); err != nil {
		return nil, err
	}
	return ev, nil
}

func (p *Program) updateRelayer(c *call, body []byte) (interface{}, error) {
	var args codec.UpdateRelayerArgs
	return p.configure(c, body, &args, func(bs *ledger.BridgeState) interface{} {
		bs.Relayer = args.Relayer
		return UpdateRelayerEvent{From: c.authority(), Relayer: args.Relayer}
	})
}

func (p *Program) updateFeeCollector(c *call, body []byte) (interface{}, error) {
	var args codec.UpdateFeeCollectorArgs
	return p.configure(c, body, &args, func(bs *ledger.BridgeState) interface{} {
		bs.FeeCollector = args.FeeCollector
		return UpdateFeeCollectorEvent{From: c.authority(), FeeCollector: args.FeeCollector}
	})
}

// setDepositLimits replaces both bounds. An inverted range is stored as
// given and rejects every deposit.
func (p *Program) setDepositLimits(c *call, body []byte) (interface{}, error) {
	var args codec.DepositLimitsArgs
	return p.configure(c, body, &args, func(bs *ledger.BridgeState) interface{} {
		bs.MinimumDeposit, bs.MaximumDeposit = args.Minimum, args.Maximum
		return DepositLimitsEvent{From: c.authority(), Minimum: args.Minimum, Maximum: args.Maximum}
	})
}

func (p *Program) setFeeAmount(c *call, body []byte) (interface{}, error) {
	var args codec.FeeAmountArgs
	return p.configure(c, body, &args, func(bs *ledger.BridgeState) interface{} {
		bs.FeeAmount = args.FeeAmount
		return FeeAmountEvent{From: c.authority(), FeeAmount: args.FeeAmount}
	})
}
