package domain

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Balance is a participant's position in one asset kind.
type Balance struct {
	DepositedAmount uint64          `json:"deposited_amount"`
	DepositedShares decimal.Decimal `json:"deposited_shares"`
	BorrowedAmount  uint64          `json:"borrowed_amount"`
	BorrowedShares  decimal.Decimal `json:"borrowed_shares"`
}

// IsZero reports whether the balance holds nothing.
func (b *Balance) IsZero() bool {
	return b.DepositedAmount == 0 && b.BorrowedAmount == 0 &&
		b.DepositedShares.IsZero() && b.BorrowedShares.IsZero()
}

// User is the position ledger of a single participant across asset kinds.
type User struct {
	Owner       AccountID              `json:"owner"`
	Balances    map[AssetKind]*Balance `json:"balances"`
	LastUpdated time.Time              `json:"last_updated"`
}

// NewUser creates an empty position ledger.
func NewUser(owner AccountID, now time.Time) (*User, error) {
	if owner == "" {
		return nil, errors.Wrap(ErrInvalidConfig, "user owner is required")
	}
	return &User{
		Owner:       owner,
		Balances:    make(map[AssetKind]*Balance),
		LastUpdated: now,
	}, nil
}

// Balance returns the balance of kind, creating an empty one if missing.
func (u *User) Balance(kind AssetKind) *Balance {
	if u.Balances == nil {
		u.Balances = make(map[AssetKind]*Balance)
	}
	b, ok := u.Balances[kind]
	if !ok {
		b = &Balance{DepositedShares: decimal.Zero, BorrowedShares: decimal.Zero}
		u.Balances[kind] = b
	}
	return b
}

// Peek returns the balance of kind without creating it.
func (u *User) Peek(kind AssetKind) Balance {
	if b, ok := u.Balances[kind]; ok && b != nil {
		return *b
	}
	return Balance{DepositedShares: decimal.Zero, BorrowedShares: decimal.Zero}
}

// Kinds returns the asset kinds the user holds a balance in, in lock order.
func (u *User) Kinds() []AssetKind {
	kinds := make([]AssetKind, 0, len(u.Balances))
	for kind := range u.Balances {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i].Order() < kinds[j].Order() })
	return kinds
}

// HasDebt reports whether any borrowed principal is outstanding.
func (u *User) HasDebt() bool {
	for _, b := range u.Balances {
		if b != nil && b.BorrowedAmount > 0 {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the user holds no deposits and no debt.
func (u *User) IsEmpty() bool {
	for _, b := range u.Balances {
		if b != nil && !b.IsZero() {
			return false
		}
	}
	return true
}

// Clone returns a deep copy safe to mutate.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	clone := &User{
		Owner:       u.Owner,
		Balances:    make(map[AssetKind]*Balance, len(u.Balances)),
		LastUpdated: u.LastUpdated,
	}
	for kind, b := range u.Balances {
		if b == nil {
			continue
		}
		copied := *b
		clone.Balances[kind] = &copied
	}
	return clone
}

// CheckInvariants rejects negative shares.
func (u *User) CheckInvariants() error {
	for kind, b := range u.Balances {
		if b == nil {
			continue
		}
		if b.DepositedShares.IsNegative() || b.BorrowedShares.IsNegative() {
			return errors.Wrapf(ErrLedgerUnderflow, "user %s holds negative %s shares", u.Owner, kind)
		}
	}
	return nil
}
