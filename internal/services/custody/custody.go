// Package custody moves token amounts between custodial accounts on behalf of the ledger.
package custody

import (
	"context"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/lendpool/internal/domain"
)

// Authority is the party that signs a transfer.
type Authority int

const (
	// AuthorityUser the participant moves funds out of their own account.
	AuthorityUser Authority = iota
	// AuthorityPool the pool moves funds out of its treasury.
	AuthorityPool
)

// String returns the string representation.
func (a Authority) String() string {
	switch a {
	case AuthorityUser:
		return "user"
	case AuthorityPool:
		return "pool"
	default:
		return "unknown"
	}
}

// Request is a single transfer instruction.
type Request struct {
	ID        string
	From      domain.AccountID
	To        domain.AccountID
	Asset     domain.AssetKind
	Amount    uint64
	Authority Authority
	// Signer must own From under user authority.
	Signer domain.AccountID
}

// Reverse returns the compensating transfer of r signed by the receiving side.
func (r Request) Reverse(id string) Request {
	rev := Request{
		ID:        id,
		From:      r.To,
		To:        r.From,
		Asset:     r.Asset,
		Amount:    r.Amount,
		Authority: AuthorityUser,
		Signer:    r.To,
	}
	if r.Authority == AuthorityUser {
		rev.Authority = AuthorityPool
	}
	return rev
}

// Validate checks the request shape and whether its authority may debit From.
func (r Request) Validate() error {
	if r.Amount == 0 {
		return errors.Wrap(domain.ErrInvalidAmount, "transfer amount")
	}
	if !r.Asset.IsValid() {
		return errors.Wrapf(domain.ErrUnsupportedAsset, "transfer asset %q", r.Asset)
	}
	if r.From == "" || r.To == "" || r.From == r.To {
		return errors.Wrapf(domain.ErrTransferRejected, "transfer %s -> %s", r.From, r.To)
	}

	switch r.Authority {
	case AuthorityUser:
		if r.Signer != r.From {
			return errors.Wrapf(domain.ErrTransferRejected, "signer %s does not own %s", r.Signer, r.From)
		}
	case AuthorityPool:
		if r.From != domain.TreasuryAccount(r.Asset) {
			return errors.Wrapf(domain.ErrTransferRejected, "pool authority cannot debit %s", r.From)
		}
	default:
		return errors.Wrapf(domain.ErrTransferRejected, "unknown authority %d", r.Authority)
	}
	return nil
}

// Transferer executes transfers. A failed transfer moves nothing.
type Transferer interface {
	Transfer(ctx context.Context, req Request) error
}
