package ledger

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Kind discriminates the account variants sharing the ledger.
type Kind uint8

const (
	KindBridgeState Kind = iota + 1
	KindWhitelistEntry
	KindTokenAccount
	KindMint
)

var kindNames = map[Kind]string{
	KindBridgeState:    "BridgeState",
	KindWhitelistEntry: "WhitelistEntry",
	KindTokenAccount:   "TokenAccount",
	KindMint:           "Mint",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Discriminator is the 8-byte prefix of an encoded account of this kind.
func (k Kind) Discriminator() [8]byte {
	var d [8]byte
	sum := sha256.Sum256([]byte("account:" + k.String()))
	copy(d[:], sum[:8])
	return d
}

var (
	ErrUnknownKind    = errors.New("ledger: unknown account kind")
	ErrBadAccountData = errors.New("ledger: malformed account data")
)

// Account is one of the ledger's record variants. The set is closed: only
// the types in this file implement it.
type Account interface {
	Kind() Kind
	clone() Account
}

// FlowState is a binary switch gating one flow of the bridge.
type FlowState uint8

const (
	Inactive FlowState = 0
	Active   FlowState = 1
)

func (s FlowState) String() string {
	if s == Active {
		return "active"
	}
	return "inactive"
}

// BridgeState is the singleton configuration and accounting record of a
// bridge deployment.
type BridgeState struct {
	Bump           uint8            `json:"bump"`
	Mint           solana.PublicKey `json:"mint_of_token_whitelisted"`
	Relayer        solana.PublicKey `json:"relayer_pubkey"`
	Vault          solana.PublicKey `json:"vault"`
	FeeCollector   solana.PublicKey `json:"fee_collector"`
	VaultAmount    uint64           `json:"vault_amount"`
	RelayerState   FlowState        `json:"relayer_state"`
	PublicState    FlowState        `json:"public_state"`
	WhitelistState FlowState        `json:"whitelist_state"`
	MinimumDeposit uint64           `json:"minimum_deposit"`
	MaximumDeposit uint64           `json:"maximum_deposit"`
	FeeAmount      uint64           `json:"fee_amount"`
}

func (*BridgeState) Kind() Kind { return KindBridgeState }

func (b *BridgeState) clone() Account { c := *b; return &c }

// WhitelistEntry approves one counterparty for deposits. Its existence is
// the signal; the fields only record what it was derived from.
type WhitelistEntry struct {
	Bump         uint8            `json:"bump"`
	Counterparty solana.PublicKey `json:"whitelist_address"`
	BridgeState  solana.PublicKey `json:"bridge_state"`
}

func (*WhitelistEntry) Kind() Kind { return KindWhitelistEntry }

func (w *WhitelistEntry) clone() Account { c := *w; return &c }

// TokenAccount holds a balance of one mint for one owner.
type TokenAccount struct {
	Mint   solana.PublicKey `json:"mint"`
	Owner  solana.PublicKey `json:"owner"`
	Amount uint64           `json:"amount"`
}

func (*TokenAccount) Kind() Kind { return KindTokenAccount }

func (a *TokenAccount) clone() Account { c := *a; return &c }

// Mint describes a token: its decimal scale and who may issue it.
type Mint struct {
	MintAuthority solana.PublicKey `json:"mint_authority"`
	Supply        uint64           `json:"supply"`
	Decimals      uint8            `json:"decimals"`
}

func (*Mint) Kind() Kind { return KindMint }

func (m *Mint) clone() Account { c := *m; return &c }

// Encode serializes an account as discriminator followed by its Borsh body.
func Encode(acct Account) ([]byte, error) {
	if _, ok := kindNames[acct.Kind()]; !ok {
		return nil, ErrUnknownKind
	}
	var buf bytes.Buffer
	d := acct.Kind().Discriminator()
	buf.Write(d[:])
	if err := bin.NewBorshEncoder(&buf).Encode(acct); err != nil {
		return nil, fmt.Errorf("encode %s: %w", acct.Kind(), err)
	}
	return buf.Bytes(), nil
}

// Decode parses data produced by Encode. The discriminator selects the
// variant; trailing bytes are rejected.
func Decode(data []byte) (Account, error) {
	if len(data) < 8 {
		return nil, ErrBadAccountData
	}
	var acct Account
	for kind := range kindNames {
		d := kind.Discriminator()
		if bytes.Equal(data[:8], d[:]) {
			acct = newAccount(kind)
			break
		}
	}
	if acct == nil {
		return nil, ErrUnknownKind
	}

	dec := bin.NewBorshDecoder(data[8:])
	if err := dec.Decode(acct); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadAccountData, acct.Kind(), err)
	}
	if dec.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrBadAccountData, dec.Remaining())
	}
	return acct, nil
}

func newAccount(kind Kind) Account {
	switch kind {
	case KindBridgeState:
		return &BridgeState{}
	case KindWhitelistEntry:
		return &WhitelistEntry{}
	case KindTokenAccount:
		return &TokenAccount{}
	case KindMint:
		return &Mint{}
	}
	return nil
}
