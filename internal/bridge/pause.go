package bridge

import (
	"github.com/gagliardetto/solana-go"
	"vaultbridge.mini/vb/internal/codec"
	"vaultbridge.mini/vb/internal/ledger"
)

// Flow names a gated flow.
type Flow string

const (
	FlowRelayer   Flow = "relayer"
	FlowPublic    Flow = "public"
	FlowWhitelist Flow = "whitelist"
)

type transition struct {
	flow Flow
	to   ledger.FlowState
}

var transitions = map[string]transition{
	codec.MethodRelayerPause:         {FlowRelayer, ledger.Inactive},
	codec.MethodRelayerUnpause:       {FlowRelayer, ledger.Active},
	codec.MethodPublicPause:          {FlowPublic, ledger.Inactive},
	codec.MethodPublicUnpause:        {FlowPublic, ledger.Active},
	codec.MethodSetWhitelistInactive: {FlowWhitelist, ledger.Inactive},
	codec.MethodSetWhitelistActive:   {FlowWhitelist, ledger.Active},
}

func flag(bs *ledger.BridgeState, f Flow) *ledger.FlowState {
	switch f {
	case FlowRelayer:
		return &bs.RelayerState
	case FlowPublic:
		return &bs.PublicState
	default:
		return &bs.WhitelistState
	}
}

// PauseEvent is emitted for both directions of every flag; the event name
// tells pause from unpause.
type PauseEvent struct {
	From  solana.PublicKey `json:"from"`
	Flow  Flow             `json:"flow"`
	State ledger.FlowState `json:"state"`
}

func (p *Program) toggle(c *call, body []byte) (interface{}, error) {
	if err := codec.DecodeArgs(body, &codec.NoArgs{}); err != nil {
		return nil, err
	}
	bs, err := p.state(c)
	if err != nil {
		return nil, err
	}
	if err := p.requireRole(c, bs); err != nil {
		return nil, err
	}
	tr := transitions[c.method]
	*flag(bs, tr.flow) = tr.to
	if err := p.save(c, bs); err != nil {
		return nil, err
	}
	return PauseEvent{From: c.authority(), Flow: tr.flow, State: tr.to}, nil
}

func requireActive(bs *ledger.BridgeState, f Flow) error {
	if *flag(bs, f) != ledger.Active {
		return fail(ErrProgramIsPaused, "%s flow is inactive", f)
	}
	return nil
}
