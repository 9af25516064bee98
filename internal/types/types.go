// Package types defines the transaction envelope shared by the vaultbridge
// node, its CLI and its tests. A Transaction is an ordered list of program
// instructions; a SignedTransaction carries the JSON encoding of that
// Transaction together with one ed25519 signature per required signer.
package types

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// Version is the current version of vaultbridge
const Version = "0.3.0"

// BuildTime is set at build time via -ldflags
var BuildTime = "dev"

var (
	ErrNoInstructions      = errors.New("transaction has no instructions")
	ErrMissingSignature    = errors.New("missing signature for required signer")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrUnexpectedSignature = errors.New("signature from account that is not a signer")
	ErrDuplicateSignature  = errors.New("duplicate signature")
)

// Instruction is a single program invocation. Accounts are ordered; the
// program interprets each position by index.
type Instruction struct {
	ProgramID solana.PublicKey      `json:"program_id"`
	Accounts  []*solana.AccountMeta `json:"accounts"`
	Data      []byte                `json:"data"`
}

// Transaction groups instructions that execute as one atomic unit.
type Transaction struct {
	Nonce        string        `json:"nonce"`
	Instructions []Instruction `json:"instructions"`
}

// Signature pairs a signer address with its signature over the raw
// transaction bytes.
type Signature struct {
	PublicKey solana.PublicKey `json:"public_key"`
	Signature []byte           `json:"signature"`
}

// SignedTransaction is the wire envelope submitted to the node.
type SignedTransaction struct {
	Tx         []byte      `json:"tx"`
	Signatures []Signature `json:"signatures"`
}

// Event is a named record emitted by a program on success.
type Event struct {
	Name string      `json:"name"`
	Data interface{} `json:"data"`
}

// Signer is anything able to sign on behalf of an address.
type Signer interface {
	Address() solana.PublicKey
	Sign(message []byte) []byte
}

// NewTransaction builds a transaction with a fresh random nonce.
func NewTransaction(instructions ...Instruction) *Transaction {
	return &Transaction{
		Nonce:        uuid.NewString(),
		Instructions: instructions,
	}
}

// Signers returns the distinct signer addresses in first-seen order.
func (tx *Transaction) Signers() []solana.PublicKey {
	seen := make(map[solana.PublicKey]bool)
	var out []solana.PublicKey
	for _, ix := range tx.Instructions {
		for _, meta := range ix.Accounts {
			if meta == nil || !meta.IsSigner || seen[meta.PublicKey] {
				continue
			}
			seen[meta.PublicKey] = true
			out = append(out, meta.PublicKey)
		}
	}
	return out
}

// Sign encodes the transaction and signs it with every provided signer.
// Each required signer must be among signers.
func (tx *Transaction) Sign(signers ...Signer) (*SignedTransaction, error) {
	if len(tx.Instructions) == 0 {
		return nil, ErrNoInstructions
	}
	raw, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("marshal transaction: %w", err)
	}

	byAddr := make(map[solana.PublicKey]Signer, len(signers))
	for _, s := range signers {
		byAddr[s.Address()] = s
	}

	stx := &SignedTransaction{Tx: raw}
	for _, addr := range tx.Signers() {
		s, ok := byAddr[addr]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingSignature, addr)
		}
		stx.Signatures = append(stx.Signatures, Signature{
			PublicKey: addr,
			Signature: s.Sign(raw),
		})
	}
	return stx, nil
}

// GetTransaction decodes the inner transaction.
func (s *SignedTransaction) GetTransaction() (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(s.Tx, &tx); err != nil {
		return nil, fmt.Errorf("decode inner tx: %w", err)
	}
	if len(tx.Instructions) == 0 {
		return nil, ErrNoInstructions
	}
	return &tx, nil
}

// Verify checks that exactly the required signers signed the transaction
// and that every signature is valid. It returns the decoded transaction.
func (s *SignedTransaction) Verify() (*Transaction, error) {
	tx, err := s.GetTransaction()
	if err != nil {
		return nil, err
	}

	required := make(map[solana.PublicKey]bool)
	for _, addr := range tx.Signers() {
		required[addr] = true
	}

	signed := make(map[solana.PublicKey]bool, len(s.Signatures))
	for _, sig := range s.Signatures {
		if signed[sig.PublicKey] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSignature, sig.PublicKey)
		}
		if !required[sig.PublicKey] {
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedSignature, sig.PublicKey)
		}
		if !ed25519.Verify(ed25519.PublicKey(sig.PublicKey.Bytes()), s.Tx, sig.Signature) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidSignature, sig.PublicKey)
		}
		signed[sig.PublicKey] = true
	}
	for addr := range required {
		if !signed[addr] {
			return nil, fmt.Errorf("%w: %s", ErrMissingSignature, addr)
		}
	}
	return tx, nil
}

// SignerSet returns the addresses that signed the envelope.
func (s *SignedTransaction) SignerSet() map[solana.PublicKey]bool {
	out := make(map[solana.PublicKey]bool, len(s.Signatures))
	for _, sig := range s.Signatures {
		out[sig.PublicKey] = true
	}
	return out
}

// ID is the hash of the signed payload. Re-encoding the envelope around
// the same payload keeps the ID, so it is the replay key.
func (s *SignedTransaction) ID() string {
	return TxHash(s.Tx)
}

// Marshal returns the bytes submitted to Tendermint.
func (s *SignedTransaction) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSignedTransaction parses raw transaction bytes.
func DecodeSignedTransaction(raw []byte) (*SignedTransaction, error) {
	var stx SignedTransaction
	if err := json.Unmarshal(raw, &stx); err != nil {
		return nil, fmt.Errorf("decode signed tx: %w", err)
	}
	return &stx, nil
}

// TxHash returns the hash Tendermint reports for raw: upper-case hex sha256.
func TxHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
