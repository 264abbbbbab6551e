package lending

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/lendpool/internal/domain"
	"github.com/vadiminshakov/lendpool/internal/storage/ledger"
)

// txn is the private working copy of the records an operation mutates.
type txn struct {
	now   time.Time
	banks map[domain.AssetKind]*domain.Bank
	user  *domain.User
	pos   position
}

// begin loads the banks of assets and the user of owner, accrues the banks and settles the user.
// Callers hold the record locks.
func (e *Engine) begin(owner domain.AccountID, assets ...domain.AssetKind) (*txn, error) {
	now, err := e.now()
	if err != nil {
		return nil, err
	}

	t := &txn{now: now, banks: make(map[domain.AssetKind]*domain.Bank, len(assets))}
	loaded := make([]*domain.Bank, 0, len(assets))
	for _, asset := range assets {
		bank, err := e.store.Bank(asset)
		if err != nil {
			return nil, err
		}
		if err := e.accrueBank(bank, now); err != nil {
			return nil, err
		}
		t.banks[asset] = bank
		loaded = append(loaded, bank)
	}

	user, err := e.store.User(owner)
	if err != nil {
		return nil, err
	}
	pos, err := e.settle(user, e.ratesFrom(loaded...), now)
	if err != nil {
		return nil, err
	}
	t.user = user
	t.pos = pos

	return t, nil
}

// batch writes the settled position back onto the user and bundles every touched record.
func (e *Engine) batch(t *txn) (ledger.Batch, error) {
	if err := e.writeBack(t.user, t.pos, t.now); err != nil {
		return ledger.Batch{}, err
	}
	for kind, bal := range t.user.Balances {
		if bal == nil {
			continue
		}
		if bal.DepositedAmount == 0 {
			bal.DepositedShares = decimal.Zero
		}
		if bal.BorrowedAmount == 0 {
			bal.BorrowedShares = decimal.Zero
		}
		if bal.IsZero() {
			delete(t.user.Balances, kind)
		}
	}

	b := ledger.Batch{Users: []*domain.User{t.user}}
	for _, asset := range domain.AllAssetKinds() {
		if bank, ok := t.banks[asset]; ok {
			b.Banks = append(b.Banks, bank)
		}
	}
	return b, nil
}

func (e *Engine) result(t *txn, event domain.LedgerEvent, delta, value decimal.Decimal) Result {
	return Result{
		EventID:     event.ID,
		Op:          event.Op,
		Asset:       event.Asset,
		Amount:      event.Amount,
		SharesDelta: delta,
		Value:       value,
		Bank:        t.banks[event.Asset].Clone(),
		User:        t.user.Clone(),
	}
}
