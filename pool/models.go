package pool

import (
	"time"

	"github.com/google/uuid"

	"arbitra/protocol"
)

// Pool is a user's reusable stake balance for one role. Pools are global:
// the same Juror pool backs votes in every namespace.
type Pool struct {
	Address   uuid.UUID
	Owner     protocol.Identity
	Role      protocol.Role
	Balance   protocol.Amount
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New returns an empty pool at its derived address.
func New(owner protocol.Identity, role protocol.Role) Pool {
	return Pool{
		Address: protocol.PoolAddress(role, owner),
		Owner:   owner,
		Role:    role,
	}
}

// Deposit tops up the pool. A zero deposit is rejected.
func (p *Pool) Deposit(amount protocol.Amount) error {
	if amount == 0 {
		return protocol.Reject(protocol.ErrBelowMinimum, p.Address.String(), "deposit").Withf("deposit must be positive")
	}
	return p.Credit(amount)
}

// Credit adds funds returned from escrow.
func (p *Pool) Credit(amount protocol.Amount) error {
	next, err := p.Balance.Add(amount)
	if err != nil {
		return protocol.Reject(protocol.ErrAmountOverflow, p.Address.String(), "balance")
	}
	p.Balance = next
	return nil
}

// Withdraw removes funds from the pool. It leaves the balance untouched on
// failure.
func (p *Pool) Withdraw(amount protocol.Amount) error {
	next, err := p.Balance.Sub(amount)
	if err != nil {
		return protocol.Reject(protocol.ErrInsufficientPoolBalance, p.Address.String(), "balance").
			Withf("balance %d < requested %d", p.Balance, amount)
	}
	p.Balance = next
	return nil
}

// Funding is where the money behind a contribution comes from: either the
// caller pays directly or it is allocated out of the caller's role pool.
type Funding struct {
	Source protocol.BondSource
	Pool   *Pool
}

func Direct() Funding {
	return Funding{Source: protocol.BondSourceDirect}
}

// FromPool funds from p. A nil p means the caller has no pool for the role.
func FromPool(p *Pool) Funding {
	return Funding{Source: protocol.BondSourcePool, Pool: p}
}

// Check validates that amount can be debited without mutating anything.
func (f Funding) Check(amount protocol.Amount) error {
	switch f.Source {
	case protocol.BondSourceDirect:
		return nil
	case protocol.BondSourcePool:
		if f.Pool == nil {
			return protocol.Reject(protocol.ErrInsufficientPoolBalance, "", "pool").Withf("no pool to allocate from")
		}
		if f.Pool.Balance < amount {
			return protocol.Reject(protocol.ErrInsufficientPoolBalance, f.Pool.Address.String(), "balance").
				Withf("balance %d < requested %d", f.Pool.Balance, amount)
		}
		return nil
	default:
		return protocol.Reject(protocol.ErrInvalidParameter, "", "bond_source").Withf("unknown bond source %q", f.Source)
	}
}

// Debit takes amount from the funding source. Direct funding settles
// outside the ledger, so only pool funding changes state.
func (f Funding) Debit(amount protocol.Amount) error {
	if err := f.Check(amount); err != nil {
		return err
	}
	if f.Source == protocol.BondSourcePool {
		return f.Pool.Withdraw(amount)
	}
	return nil
}

// Filter narrows List results.
type Filter struct {
	Owner protocol.Identity
	Role  protocol.Role
	Limit int
}
