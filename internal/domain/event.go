package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Operation names a ledger mutation.
type Operation string

const (
	OpCreateBank Operation = "create_bank"
	OpCreateUser Operation = "create_user"
	OpDeposit    Operation = "deposit"
	OpBorrow     Operation = "borrow"
	OpRepay      Operation = "repay"
	OpWithdraw   Operation = "withdraw"
)

// ParseOperation accepts an operation name in any case.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	switch op {
	case OpCreateBank, OpCreateUser, OpDeposit, OpBorrow, OpRepay, OpWithdraw:
		return op, nil
	}
	return "", errors.Errorf("unknown ledger operation %q", s)
}

// LedgerEvent describes a committed ledger mutation.
type LedgerEvent struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"ts"`
	Op          Operation `json:"op"`
	Owner       AccountID `json:"owner,omitempty"`
	Asset       AssetKind `json:"asset"`
	Amount      uint64    `json:"amount"`
	SharesDelta string    `json:"shares_delta,omitempty"`
	Value       string    `json:"value,omitempty"`
}

// NewLedgerEvent creates an event with a fresh ID.
func NewLedgerEvent(ts time.Time, op Operation, owner AccountID, asset AssetKind, amount uint64) LedgerEvent {
	return LedgerEvent{
		ID:        uuid.NewString(),
		Timestamp: ts,
		Op:        op,
		Owner:     owner,
		Asset:     asset,
		Amount:    amount,
	}
}

// LedgerEventRecord bundles an event with its journal index.
type LedgerEventRecord struct {
	Index uint64
	Event LedgerEvent
}
