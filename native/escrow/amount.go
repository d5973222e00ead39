package escrow

import "math/big"

const (
	// bpsDenominator is the basis-point scale: 10000 bps = 100%.
	bpsDenominator = 10_000
	// feeDivisor expresses the flat 1% platform fee deducted from every
	// released milestone share.
	feeDivisor = 100
)

// MilestoneAmount computes a milestone's share of the total deposit:
// total * bps / 10000 with integer division truncating toward zero. Because
// the bps of one agreement sum to exactly 10000, the truncation drift across
// n milestones is bounded to n-1 minor units; the remainder stays in the
// vault and is returned with any cancellation refund.
func MilestoneAmount(total *big.Int, bps uint32) *big.Int {
	if total == nil {
		return big.NewInt(0)
	}
	amount := new(big.Int).Mul(total, new(big.Int).SetUint64(uint64(bps)))
	return amount.Quo(amount, big.NewInt(bpsDenominator))
}

// ReleaseFee computes the platform fee on a released milestone share:
// amount / 100, truncating toward zero. Refunds carry no fee.
func ReleaseFee(amount *big.Int) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Quo(amount, big.NewInt(feeDivisor))
}
