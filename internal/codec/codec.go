// Package codec is the wire contract of the bridge program: method
// selectors, Borsh argument layouts and the ordered account lists every
// instruction must carry.
package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// SelectorNamespace prefixes every method name before hashing.
const SelectorNamespace = "global"

const (
	MethodInitializeContract    = "initialize_contract"
	MethodUpdateRelayer         = "update_relayer"
	MethodUpdateFeeCollector    = "update_fee_collector"
	MethodUpdateWhitelistedMint = "update_whitelisted_mint"
	MethodSetDepositLimits      = "set_deposit_limits"
	MethodSetFeeAmount          = "set_fee_amount"
	MethodRelayerPause          = "relayer_pause"
	MethodRelayerUnpause        = "relayer_unpause"
	MethodPublicPause           = "public_pause"
	MethodPublicUnpause         = "public_unpause"
	MethodSetWhitelistActive    = "set_whitelist_active"
	MethodSetWhitelistInactive  = "set_whitelist_inactive"
	MethodAddLiquidity          = "add_liquidity"
	MethodRemoveLiquidity       = "remove_liquidity"
	MethodAddToWhitelist        = "add_to_whitelist"
	MethodRemoveFromWhitelist   = "remove_from_whitelist"
	MethodSendFromLiquidity     = "send_from_liquidity"
	MethodSendToLiquidity       = "send_to_liquidity"
)

// Methods lists every method in catalog order.
var Methods = []string{
	MethodInitializeContract,
	MethodUpdateRelayer,
	MethodUpdateFeeCollector,
	MethodUpdateWhitelistedMint,
	MethodSetDepositLimits,
	MethodSetFeeAmount,
	MethodRelayerPause,
	MethodRelayerUnpause,
	MethodPublicPause,
	MethodPublicUnpause,
	MethodSetWhitelistActive,
	MethodSetWhitelistInactive,
	MethodAddLiquidity,
	MethodRemoveLiquidity,
	MethodAddToWhitelist,
	MethodRemoveFromWhitelist,
	MethodSendFromLiquidity,
	MethodSendToLiquidity,
}

var (
	ErrUnknownMethod = errors.New("codec: unknown method")
	ErrShortData     = errors.New("codec: instruction data shorter than a selector")
	ErrTrailingBytes = errors.New("codec: trailing bytes after arguments")
	ErrBadArguments  = errors.New("codec: malformed arguments")
)

// IsDecodeError reports whether err came from parsing instruction data.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrUnknownMethod) || errors.Is(err, ErrShortData) ||
		errors.Is(err, ErrTrailingBytes) || errors.Is(err, ErrBadArguments)
}

// Selector identifies a method on the wire.
type Selector [8]byte

// SelectorOf hashes a method name into its selector.
func SelectorOf(method string) Selector {
	sum := sha256.Sum256([]byte(SelectorNamespace + ":" + method))
	var s Selector
	copy(s[:], sum[:8])
	return s
}

func (s Selector) String() string {
	return hex.EncodeToString(s[:])
}

var byselector = func() map[Selector]string {
	m := make(map[Selector]string, len(Methods))
	for _, name := range Methods {
		m[SelectorOf(name)] = name
	}
	return m
}()

// MethodOf returns the method a selector names.
func MethodOf(s Selector) (string, bool) {
	name, ok := byselector[s]
	return name, ok
}

type NoArgs struct{}

type InitializeContractArgs struct {
	Relayer        solana.PublicKey
	FeeCollector   solana.PublicKey
	FeeAmount      uint64
	MinimumDeposit uint64
	MaximumDeposit uint64
}

type UpdateRelayerArgs struct {
	Relayer solana.PublicKey
}

type UpdateFeeCollectorArgs struct {
	FeeCollector solana.PublicKey
}

type DepositLimitsArgs struct {
	Minimum uint64
	Maximum uint64
}

type FeeAmountArgs struct {
	FeeAmount uint64
}

// AmountArgs carries add_liquidity and remove_liquidity.
type AmountArgs struct {
	Amount uint64
}

// WhitelistArgs carries add_to_whitelist and remove_from_whitelist.
type WhitelistArgs struct {
	Counterparty solana.PublicKey
}

type SendFromLiquidityArgs struct {
	Amount   uint64
	Receiver solana.PublicKey
}

// SendToLiquidityArgs carries a public deposit. The two strings are opaque
// to the program and forwarded to the paired chain.
type SendToLiquidityArgs struct {
	Amount                      uint64
	DestinationAddress          string
	DestinationAddressSignature string
}

// Encode serializes method's selector followed by args.
func Encode(method string, args interface{}) ([]byte, error) {
	if _, ok := lookup[method]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	sel := SelectorOf(method)
	buf := bytes.NewBuffer(append([]byte(nil), sel[:]...))
	if _, empty := args.(NoArgs); empty || args == nil {
		return buf.Bytes(), nil
	}
	if err := bin.NewBorshEncoder(buf).Encode(args); err != nil {
		return nil, fmt.Errorf("codec: encode %s: %w", method, err)
	}
	return buf.Bytes(), nil
}

// Split separates the selector from the argument bytes and resolves the
// method name.
func Split(data []byte) (string, []byte, error) {
	if len(data) < len(Selector{}) {
		return "", nil, ErrShortData
	}
	var sel Selector
	copy(sel[:], data)
	method, ok := MethodOf(sel)
	if !ok {
		return "", nil, fmt.Errorf("%w: selector %s", ErrUnknownMethod, sel)
	}
	return method, data[len(sel):], nil
}

// DecodeArgs decodes body into v and rejects leftover bytes.
func DecodeArgs(body []byte, v interface{}) error {
	if _, empty := v.(*NoArgs); empty {
		if len(body) != 0 {
			return fmt.Errorf("%w: %d", ErrTrailingBytes, len(body))
		}
		return nil
	}
	dec := bin.NewBorshDecoder(body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadArguments, err)
	}
	if n := dec.Remaining(); n != 0 {
		return fmt.Errorf("%w: %d", ErrTrailingBytes, n)
	}
	return nil
}
