package protocol

import "math"

// Amount is a quantity of the settlement asset in its smallest unit.
type Amount uint64

// MaxAmount is the largest amount a ledger column can hold.
const MaxAmount Amount = math.MaxInt64

// Add returns a+b, or ErrAmountOverflow when the sum exceeds MaxAmount.
func (a Amount) Add(b Amount) (Amount, error) {
	if a > MaxAmount || b > MaxAmount-a {
		return 0, ErrAmountOverflow
	}
	return a + b, nil
}

// Sub returns a-b, or ErrInsufficientPoolBalance when b exceeds a.
func (a Amount) Sub(b Amount) (Amount, error) {
	if b > a {
		return 0, ErrInsufficientPoolBalance
	}
	return a - b, nil
}
