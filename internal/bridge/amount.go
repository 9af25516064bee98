package bridge

import "vaultbridge.mini/vb/internal/ledger"

// maxDecimals is the largest exponent whose power of ten fits in a u64.
const maxDecimals = 19

func checkRange(bs *ledger.BridgeState, amount uint64) error {
	if amount < bs.MinimumDeposit || amount > bs.MaximumDeposit {
		return fail(ErrPaymentAmountNotInAcceptedRange, "%d not in [%d, %d]", amount, bs.MinimumDeposit, bs.MaximumDeposit)
	}
	return nil
}

// WholeUnits reports whether amount is a multiple of 10^decimals. Above 19
// decimals no non-zero u64 is a whole unit.
func WholeUnits(amount uint64, decimals uint8) bool {
	if decimals > maxDecimals {
		return amount == 0
	}
	scale := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		scale *= 10
	}
	return amount%scale == 0
}

func checkWhole(amount uint64, decimals uint8) error {
	if !WholeUnits(amount, decimals) {
		return fail(ErrNotWholeNumber, "%d is not a multiple of 10^%d", amount, decimals)
	}
	return nil
}
