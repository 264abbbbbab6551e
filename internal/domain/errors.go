package domain

import "github.com/pkg/errors"

// input validation
var (
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrBorrowNotAllowed = errors.New("borrow not allowed: collateral and borrow asset must differ")
	ErrUnsupportedAsset = errors.New("unsupported asset kind")
	ErrInvalidConfig    = errors.New("invalid ledger configuration")
)

// policy violations
var (
	ErrNoCollateral            = errors.New("deposited collateral value is less or equal to zero")
	ErrInsufficientCollateral  = errors.New("not enough collateral for requested borrow")
	ErrRepayExceedsOutstanding = errors.New("repay amount exceeds outstanding debt")
	ErrNotEnoughBalance        = errors.New("not enough deposited balance")
	ErrNothingToRepay          = errors.New("nothing to repay")
)

// collaborator failures
var (
	ErrStalePrice        = errors.New("price feed is older than the allowed window")
	ErrClockUnavailable  = errors.New("clock unavailable")
	ErrInsufficientFunds = errors.New("insufficient custodial funds")
	ErrTransferRejected  = errors.New("transfer rejected")
)

// ledger guards
var (
	ErrLedgerUnderflow    = errors.New("ledger total underflow")
	ErrDivisionByZeroPool = errors.New("pool total amount is zero")
	ErrBankNotFound       = errors.New("bank not found")
	ErrBankExists         = errors.New("bank already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("user already exists")
)

// ErrorKind groups errors for callers that map them onto transport codes.
type ErrorKind string

const (
	ErrorKindValidation   ErrorKind = "validation"
	ErrorKindPolicy       ErrorKind = "policy"
	ErrorKindCollaborator ErrorKind = "collaborator"
	ErrorKindNotFound     ErrorKind = "not_found"
	ErrorKindLedger       ErrorKind = "ledger"
	ErrorKindInternal     ErrorKind = "internal"
)

var errorKinds = []struct {
	kind ErrorKind
	errs []error
}{
	{ErrorKindValidation, []error{ErrInvalidAmount, ErrBorrowNotAllowed, ErrUnsupportedAsset, ErrInvalidConfig}},
	{ErrorKindPolicy, []error{ErrNoCollateral, ErrInsufficientCollateral, ErrRepayExceedsOutstanding,
		ErrNotEnoughBalance, ErrNothingToRepay, ErrBankExists, ErrUserExists}},
	{ErrorKindCollaborator, []error{ErrStalePrice, ErrClockUnavailable, ErrInsufficientFunds, ErrTransferRejected}},
	{ErrorKindNotFound, []error{ErrBankNotFound, ErrUserNotFound}},
	{ErrorKindLedger, []error{ErrLedgerUnderflow, ErrDivisionByZeroPool}},
}

// Kind classifies err into the error taxonomy. nil yields an empty kind.
func Kind(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, group := range errorKinds {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.kind
			}
		}
	}
	return ErrorKindInternal
}
