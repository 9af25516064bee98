package bridge

import (
	"errors"
	"fmt"

	"vaultbridge.mini/vb/internal/ledger"
	"vaultbridge.mini/vb/internal/token"
)

// ProgramError is a failure with a stable numeric code. The ABCI layer
// reports Code as the response code.
type ProgramError struct {
	Code uint32
	Name string
	Msg  string
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Msg)
}

func newError(code uint32, name, msg string) *ProgramError {
	return &ProgramError{Code: code, Name: name, Msg: msg}
}

// Program errors.
var (
	ErrProgramIsPaused                 = newError(6000, "ProgramIsPaused", "this flow is paused")
	ErrPaymentAmountNotInAcceptedRange = newError(6001, "PaymentAmountNotInAcceptedRange", "amount outside the accepted deposit range")
	ErrNotWhitelisted                  = newError(6002, "NotWhitelisted", "caller is not whitelisted")
	ErrNotWholeNumber                  = newError(6003, "NotWholeNumber", "amount is not a whole number of tokens")
	ErrNotPrivileged                   = newError(6004, "NotPrivileged", "caller lacks the required role")
	ErrNotEnoughBalance                = newError(6005, "NotEnoughBalance", "not enough balance")
	ErrOwnerMismatch                   = newError(6006, "OwnerMismatch", "token account owner mismatch")
	ErrMintMismatch                    = newError(6007, "MintMismatch", "token mint mismatch")
	ErrNoFeeAccountsProvided           = newError(6008, "NoFeeAccountsProvided", "fee accounts are required")
	ErrFeeCollectorMismatch            = newError(6009, "FeeCollectorMismatch", "fee collector mismatch")
)

// Account constraint errors raised before the program logic runs.
var (
	ErrAccountFlagsMismatch      = newError(2000, "AccountFlagsMismatch", "account is missing a required writable or signer flag")
	ErrAddressMismatch           = newError(2001, "AddressMismatch", "account address does not match the expected address")
	ErrAccountNotInitialized     = newError(2002, "AccountNotInitialized", "account does not exist")
	ErrAccountAlreadyInitialized = newError(2003, "AccountAlreadyInitialized", "account already exists")
	ErrMissingAccounts           = newError(2004, "MissingAccounts", "not enough accounts")
	ErrAccountKindMismatch       = newError(2005, "AccountKindMismatch", "account holds a different kind of record")
)

// Errors lists every program and constraint error in code order.
var Errors = []*ProgramError{
	ErrAccountFlagsMismatch, ErrAddressMismatch, ErrAccountNotInitialized,
	ErrAccountAlreadyInitialized, ErrMissingAccounts, ErrAccountKindMismatch,
	ErrProgramIsPaused, ErrPaymentAmountNotInAcceptedRange, ErrNotWhitelisted,
	ErrNotWholeNumber, ErrNotPrivileged, ErrNotEnoughBalance, ErrOwnerMismatch,
	ErrMintMismatch, ErrNoFeeAccountsProvided, ErrFeeCollectorMismatch,
}

// CodeOf returns the code of the first ProgramError in err's chain.
func CodeOf(err error) (uint32, bool) {
	var pe *ProgramError
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return 0, false
}

// fail wraps a program error with detail.
func fail(pe *ProgramError, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", pe, fmt.Sprintf(format, args...))
}

// translate maps token and ledger failures onto program errors so callers
// see one taxonomy.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := CodeOf(err); ok {
		return err
	}
	var pe *ProgramError
	switch {
	case errors.Is(err, token.ErrInsufficientFunds):
		pe = ErrNotEnoughBalance
	case errors.Is(err, token.ErrOwnerMismatch):
		pe = ErrOwnerMismatch
	case errors.Is(err, token.ErrMintMismatch), errors.Is(err, token.ErrDecimalsMismatch):
		pe = ErrMintMismatch
	case errors.Is(err, ledger.ErrNotFound):
		pe = ErrAccountNotInitialized
	case errors.Is(err, ledger.ErrKindMismatch), errors.Is(err, token.ErrAccountExists):
		pe = ErrAccountKindMismatch
	case errors.Is(err, ledger.ErrNotDeclared):
		pe = ErrMissingAccounts
	case errors.Is(err, ledger.ErrNotWritable):
		pe = ErrAccountFlagsMismatch
	default:
		return err
	}
	return fmt.Errorf("%w: %v", pe, err)
}
