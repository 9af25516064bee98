package token

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"vaultbridge.mini/vb/internal/ledger"
	"vaultbridge.mini/vb/internal/types"
)

// Instruction tags, numbered as in the token program they mirror.
const (
	InstructionMintTo          uint8 = 7
	InstructionTransferChecked uint8 = 12

	// associated token account program
	InstructionCreateIdempotent uint8 = 1
)

var (
	ErrUnknownInstruction = errors.New("token: unknown instruction")
	ErrMissingAccounts    = errors.New("token: not enough accounts")
	ErrMissingSigner      = errors.New("token: required signer missing")
)

type transferCheckedData struct {
	Tag      uint8
	Amount   uint64
	Decimals uint8
}

type mintToData struct {
	Tag    uint8
	Amount uint64
}

// Program exposes Service as the token program.
type Program struct {
	svc Service
}

func NewProgram() *Program { return &Program{} }

func (*Program) ID() solana.PublicKey { return solana.TokenProgramID }

// Execute runs one token program instruction.
//
//	transfer_checked: source(w), mint, destination(w), owner(s)
//	mint_to:          mint(w), destination(w), mint_authority(s)
func (p *Program) Execute(t *ledger.Txn, ix types.Instruction, signers Signers) (*types.Event, error) {
	if len(ix.Data) == 0 {
		return nil, ErrUnknownInstruction
	}
	switch ix.Data[0] {
	case InstructionTransferChecked:
		var args transferCheckedData
		if err := decodeStrict(ix.Data, &args); err != nil {
			return nil, err
		}
		if len(ix.Accounts) < 4 {
			return nil, ErrMissingAccounts
		}
		if err := checkFlags(ix.Accounts, 3, 0, 2); err != nil {
			return nil, err
		}
		owner := ix.Accounts[3].PublicKey
		err := p.svc.TransferChecked(t, Transfer{
			From:      ix.Accounts[0].PublicKey,
			Mint:      ix.Accounts[1].PublicKey,
			To:        ix.Accounts[2].PublicKey,
			Authority: Signers{owner: signers.Authorizes(owner)},
			Amount:    args.Amount,
			Decimals:  args.Decimals,
		})
		if err != nil {
			return nil, err
		}
		return &types.Event{Name: "TransferChecked", Data: map[string]interface{}{
			"from":   ix.Accounts[0].PublicKey,
			"to":     ix.Accounts[2].PublicKey,
			"mint":   ix.Accounts[1].PublicKey,
			"amount": args.Amount,
		}}, nil

	case InstructionMintTo:
		var args mintToData
		if err := decodeStrict(ix.Data, &args); err != nil {
			return nil, err
		}
		if len(ix.Accounts) < 3 {
			return nil, ErrMissingAccounts
		}
		if err := checkFlags(ix.Accounts, 2, 0, 1); err != nil {
			return nil, err
		}
		authority := ix.Accounts[2].PublicKey
		err := p.svc.MintTo(t, ix.Accounts[0].PublicKey, ix.Accounts[1].PublicKey,
			Signers{authority: signers.Authorizes(authority)}, args.Amount)
		if err != nil {
			return nil, err
		}
		return &types.Event{Name: "MintTo", Data: map[string]interface{}{
			"mint":   ix.Accounts[0].PublicKey,
			"to":     ix.Accounts[1].PublicKey,
			"amount": args.Amount,
		}}, nil
	}
	return nil, fmt.Errorf("%w: tag %d", ErrUnknownInstruction, ix.Data[0])
}

// checkFlags requires the signer slot to be signed and every writable slot
// to be declared writable. Only the signer slot may authorize the
// instruction, whoever else signed the transaction.
func checkFlags(metas []*solana.AccountMeta, signer int, writable ...int) error {
	for _, i := range writable {
		if !metas[i].IsWritable {
			return fmt.Errorf("%w: slot %d %s", ledger.ErrNotWritable, i, metas[i].PublicKey)
		}
	}
	if !metas[signer].IsSigner {
		return fmt.Errorf("%w: slot %d %s", ErrMissingSigner, signer, metas[signer].PublicKey)
	}
	return nil
}

// AssociatedProgram exposes idempotent associated-account creation.
type AssociatedProgram struct {
	svc Service
}

func NewAssociatedProgram() *AssociatedProgram { return &AssociatedProgram{} }

func (*AssociatedProgram) ID() solana.PublicKey { return solana.SPLAssociatedTokenAccountProgramID }

// Execute handles create_idempotent:
//
//	payer(w,s), associated_account(w), owner, mint, system, token
func (p *AssociatedProgram) Execute(t *ledger.Txn, ix types.Instruction, _ Signers) (*types.Event, error) {
	if len(ix.Data) != 1 || ix.Data[0] != InstructionCreateIdempotent {
		return nil, ErrUnknownInstruction
	}
	if len(ix.Accounts) < 4 {
		return nil, ErrMissingAccounts
	}
	if !ix.Accounts[0].IsSigner {
		return nil, ErrMissingSigner
	}
	owner, mint := ix.Accounts[2].PublicKey, ix.Accounts[3].PublicKey
	addr, err := p.svc.CreateAssociatedIdempotent(t, owner, mint)
	if err != nil {
		return nil, err
	}
	if !addr.Equals(ix.Accounts[1].PublicKey) {
		return nil, fmt.Errorf("token: associated account is %s, got %s", addr, ix.Accounts[1].PublicKey)
	}
	return &types.Event{Name: "CreateAssociatedAccount", Data: map[string]interface{}{
		"account": addr,
		"owner":   owner,
		"mint":    mint,
	}}, nil
}

// TransferCheckedInstruction builds a token transfer signed by owner.
func TransferCheckedInstruction(from, mint, to, owner solana.PublicKey, amount uint64, decimals uint8) (types.Instruction, error) {
	data, err := encode(transferCheckedData{Tag: InstructionTransferChecked, Amount: amount, Decimals: decimals})
	if err != nil {
		return types.Instruction{}, err
	}
	return types.Instruction{
		ProgramID: solana.TokenProgramID,
		Accounts: []*solana.AccountMeta{
			solana.Meta(from).WRITE(),
			solana.Meta(mint),
			solana.Meta(to).WRITE(),
			solana.Meta(owner).SIGNER(),
		},
		Data: data,
	}, nil
}

// MintToInstruction builds an issuance signed by the mint authority.
func MintToInstruction(mint, to, authority solana.PublicKey, amount uint64) (types.Instruction, error) {
	data, err := encode(mintToData{Tag: InstructionMintTo, Amount: amount})
	if err != nil {
		return types.Instruction{}, err
	}
	return types.Instruction{
		ProgramID: solana.TokenProgramID,
		Accounts: []*solana.AccountMeta{
			solana.Meta(mint).WRITE(),
			solana.Meta(to).WRITE(),
			solana.Meta(authority).SIGNER(),
		},
		Data: data,
	}, nil
}

// CreateAssociatedInstruction builds an idempotent associated-account
// creation paid for by payer.
func CreateAssociatedInstruction(payer, account, owner, mint solana.PublicKey) types.Instruction {
	return types.Instruction{
		ProgramID: solana.SPLAssociatedTokenAccountProgramID,
		Accounts: []*solana.AccountMeta{
			solana.Meta(payer).WRITE().SIGNER(),
			solana.Meta(account).WRITE(),
			solana.Meta(owner),
			solana.Meta(mint),
			solana.Meta(solana.SystemProgramID),
			solana.Meta(solana.TokenProgramID),
		},
		Data: []byte{InstructionCreateIdempotent},
	}
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := bin.NewBorshEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeStrict(data []byte, v interface{}) error {
	dec := bin.NewBorshDecoder(data)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("token: decode instruction: %w", err)
	}
	if dec.Remaining() != 0 {
		return fmt.Errorf("token: %d trailing bytes", dec.Remaining())
	}
	return nil
}
