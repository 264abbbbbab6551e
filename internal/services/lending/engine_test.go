package lending

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/lendpool/internal/accounting"
	"github.com/vadiminshakov/lendpool/internal/domain"
	"github.com/vadiminshakov/lendpool/internal/events"
	"github.com/vadiminshakov/lendpool/internal/services/custody"
	"github.com/vadiminshakov/lendpool/internal/services/pricer"
	"github.com/vadiminshakov/lendpool/internal/storage/ledger"
)

var t0 = time.Unix(1_700_000_000, 0)

type failingStore struct {
	ledger.Store
	mu   sync.Mutex
	fail bool
}

func (s *failingStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *failingStore) Commit(b ledger.Batch) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return s.Store.Commit(b)
}

type memoryJournal struct {
	mu     sync.Mutex
	events []domain.LedgerEvent
}

func (j *memoryJournal) Append(event domain.LedgerEvent) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, event)
	return uint64(len(j.events)), nil
}

func (j *memoryJournal) ops() []domain.Operation {
	j.mu.Lock()
	defer j.mu.Unlock()
	ops := make([]domain.Operation, 0, len(j.events))
	for _, e := range j.events {
		ops = append(ops, e.Op)
	}
	return ops
}

type fixture struct {
	t       *testing.T
	engine  *Engine
	store   *failingStore
	pricer  *pricer.StaticPricer
	custody *custody.SimulateCustody
	journal *memoryJournal
	clock   *clock.Mock
	prices  map[domain.AssetKind]decimal.Decimal
}

type rates struct {
	deposited decimal.Decimal
	borrowed  decimal.Decimal
}

func newFixture(t *testing.T, bankRates map[domain.AssetKind]rates, opts ...Option) *fixture {
	t.Helper()

	clk, mock := accounting.NewMockClock(t0)
	c, err := custody.NewSimulateCustody(nil, clk, nil)
	require.NoError(t, err)

	f := &fixture{
		t:       t,
		store:   &failingStore{Store: ledger.NewMemoryStore()},
		pricer:  pricer.NewStaticPricer(clk),
		custody: c,
		journal: &memoryJournal{},
		clock:   mock,
		prices: map[domain.AssetKind]decimal.Decimal{
			domain.AssetSOL:  decimal.NewFromInt(1),
			domain.AssetUSDC: decimal.NewFromInt(1),
		},
	}
	f.refreshPrices()

	opts = append([]Option{WithJournal(f.journal)}, opts...)
	f.engine, err = New(f.store, f.pricer, f.custody, clk, nil, opts...)
	require.NoError(t, err)

	for _, asset := range domain.AllAssetKinds() {
		r := bankRates[asset]
		_, err := f.engine.CreateBank(context.Background(), domain.BankConfig{
			Authority: "admin",
			Asset:     asset,
			Risk: domain.RiskParameters{
				LiquidateThreshold:   decimal.RequireFromString("0.8"),
				LiquidateBonus:       decimal.RequireFromString("0.05"),
				LiquidateCloseFactor: decimal.RequireFromString("0.5"),
				MaxLTV:               decimal.RequireFromString("0.5"),
			},
			DepositedInterestRatio: r.deposited,
			BorrowedInterestRatio:  r.borrowed,
		})
		require.NoError(t, err)
	}

	return f
}

func (f *fixture) refreshPrices() {
	for asset, price := range f.prices {
		f.pricer.SetQuote(pricer.Quote{Asset: asset, Price: price, Timestamp: f.clock.Now()})
	}
}

// user creates owner and funds its custodial account.
func (f *fixture) user(owner domain.AccountID, funds map[domain.AssetKind]uint64) {
	f.t.Helper()
	_, err := f.engine.CreateUser(context.Background(), owner)
	require.NoError(f.t, err)
	for asset, amount := range funds {
		require.NoError(f.t, f.custody.Fund(owner, asset, amount))
	}
}

func (f *fixture) bank(asset domain.AssetKind) *domain.Bank {
	f.t.Helper()
	bank, err := f.store.Bank(asset)
	require.NoError(f.t, err)
	return bank
}

func (f *fixture) stored(owner domain.AccountID) *domain.User {
	f.t.Helper()
	user, err := f.store.User(owner)
	require.NoError(f.t, err)
	return user
}

func (f *fixture) assertShareConservation(asset domain.AssetKind) {
	f.t.Helper()
	users, err := f.store.Users()
	require.NoError(f.t, err)

	deposited, borrowed := decimal.Zero, decimal.Zero
	for _, u := range users {
		deposited = deposited.Add(u.Peek(asset).DepositedShares)
		borrowed = borrowed.Add(u.Peek(asset).BorrowedShares)
	}
	bank := f.bank(asset)
	assert.True(f.t, deposited.Equal(bank.TotalDepositedShares),
		"user deposit shares %s != pool %s", deposited, bank.TotalDepositedShares)
	assert.True(f.t, borrowed.Equal(bank.TotalBorrowedShares),
		"user borrow shares %s != pool %s", borrowed, bank.TotalBorrowedShares)
	require.NoError(f.t, bank.CheckInvariants())
}

func TestNew_Validation(t *testing.T) {
	clk, _ := accounting.NewMockClock(t0)
	p := pricer.NewStaticPricer(clk)
	c, err := custody.NewSimulateCustody(nil, clk, nil)
	require.NoError(t, err)

	_, err = New(nil, p, c, clk, nil)
	require.Error(t, err)
	_, err = New(ledger.NewMemoryStore(), p, c, clk, nil, WithPrecision(-1))
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestCreateBankAndUser_Duplicates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.engine.CreateBank(ctx, domain.BankConfig{Authority: "admin", Asset: domain.AssetSOL})
	require.ErrorIs(t, err, domain.ErrBankExists)

	_, err = f.engine.CreateBank(ctx, domain.BankConfig{Authority: "admin", Asset: "BTC"})
	require.ErrorIs(t, err, domain.ErrUnsupportedAsset)

	f.user("alice", nil)
	_, err = f.engine.CreateUser(ctx, "alice")
	require.ErrorIs(t, err, domain.ErrUserExists)

	_, err = f.engine.CreateUser(ctx, "")
	require.ErrorIs(t, err, domain.ErrInvalidConfig)

	assert.Equal(t, t0.Unix(), f.bank(domain.AssetSOL).LastUpdated.Unix())
	assert.Equal(t, []domain.Operation{domain.OpCreateBank, domain.OpCreateBank, domain.OpCreateUser}, f.journal.ops())
}

func TestDeposit_Bootstrap(t *testing.T) {
	f := newFixture(t, nil)
	f.user("alice", map[domain.AssetKind]uint64{domain.AssetUSDC: 1000})

	res, err := f.engine.Deposit(context.Background(), "alice", domain.AssetUSDC, 1000)
	require.NoError(t, err)

	assert.Equal(t, "1000", res.SharesDelta.String())
	assert.Equal(t, uint64(1000), res.Bank.TotalDepositedAmount)
	assert.Equal(t, "1000", res.Bank.TotalDepositedShares.String())

	user := f.stored("alice")
	assert.Equal(t, uint64(1000), user.Peek(domain.AssetUSDC).DepositedAmount)
	assert.Equal(t, "1000", user.Peek(domain.AssetUSDC).DepositedShares.String())

	assert.Zero(t, f.custody.Balance("alice", domain.AssetUSDC))
	assert.Equal(t, uint64(1000), f.custody.Balance(domain.TreasuryAccount(domain.AssetUSDC), domain.AssetUSDC))
	f.assertShareConservation(domain.AssetUSDC)
}

func TestDeposit_Proportional(t *testing.T) {
	f := newFixture(t, nil)
	f.user("alice", map[domain.AssetKind]uint64{domain.AssetUSDC: 1000})
	f.user("bob", map[domain.AssetKind]uint64{domain.AssetUSDC: 250})
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, "alice", domain.AssetUSDC, 1000)
	require.NoError(t, err)

	res, err := f.engine.Deposit(ctx, "bob", domain.AssetUSDC, 250)
	require.NoError(t, err)
	assert.Equal(t, "250", res.SharesDelta.String())

	bank := f.bank(domain.AssetUSDC)
	assert.Equal(t, uint64(1250), bank.TotalDepositedAmount)
	assert.Equal(t, "1250", bank.TotalDepositedShares.String())
	f.assertShareConservation(domain.AssetUSDC)
}

func TestDeposit_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	f.user("alice", map[domain.AssetKind]uint64{domain.AssetUSDC: 10})
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, "alice", domain.AssetUSDC, 0)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.engine.Deposit(ctx, "alice", "BTC", 1)
	require.ErrorIs(t, err, domain.ErrUnsupportedAsset)

	_, err = f.engine.Deposit(ctx, "mallory", domain.AssetUSDC, 1)
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = f.engine.Deposit(ctx, "alice", domain.AssetUSDC, 11)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	bank := f.bank(domain.AssetUSDC)
	assert.Zero(t, bank.TotalDepositedAmount)
	assert.True(t, bank.TotalDepositedShares.IsZero())
	assert.True(t, f.stored("alice").IsEmpty())
	assert.Equal(t, uint64(10), f.custody.Balance("alice", domain.AssetUSDC))
}

func TestDeposit_CommitFailureReversesTransfer(t *testing.T) {
	f := newFixture(t, nil)
	f.user("alice", map[domain.AssetKind]uint64{domain.AssetUSDC: 1000})

	f.store.setFail(true)
	_, err := f.engine.Deposit(context.Background(), "alice", domain.AssetUSDC, 600)
	require.Error(t, err)
	f.store.setFail(false)

	assert.Equal(t, uint64(1000), f.custody.Balance("alice", domain.AssetUSDC))
	assert.Zero(t, f.custody.Balance(domain.TreasuryAccount(domain.AssetUSDC), domain.AssetUSDC))
	assert.Zero(t, f.bank(domain.AssetUSDC).TotalDepositedAmount)
	assert.True(t, f.stored("alice").IsEmpty())
	assert.NotContains(t, f.journal.ops(), domain.OpDeposit)
}

func TestBorrow_LTVBoundary(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) *fixture {
		f := newFixture(t, nil)
		f.user("alice", map[domain.AssetKind]uint64{domain.AssetUSDC: 1000})
		f.user("bob", map[domain.AssetKind]uint64{domain.AssetSOL: 1000})
		_, err := f.engine.Deposit(ctx, "alice", domain.AssetUSDC, 1000)
		require.NoError(t, err)
		_, err = f.engine.Deposit(ctx, "bob", domain.AssetSOL, 1000)
		require.NoError(t, err)
		return f
	}

	t.Run("just above the limit", func(t *testing.T) {
		f := setup(t)
		_, err := f.engine.Borrow(ctx, "alice", domain.AssetUSDC, domain.AssetSOL, decimal.RequireFromString("500.01"))
		require.ErrorIs(t, err, domain.ErrInsufficientCollateral)

		assert.Zero(t, f.bank(domain.AssetSOL).TotalBorrowedAmount)
		assert.Zero(t, f.custody.Balance("alice", domain.AssetSOL))
	})

	t.Run("at the limit", func(t *testing.T) {
		f := setup(t)
		res, err := f.engine.Borrow(ctx, "alice", domain.AssetUSDC, domain.AssetSOL, decimal.NewFromInt(500))
		require.NoError(t, err)

		assert.Equal(t, uint64(500), res.Amount)
		assert.Equal(t, "500", res.SharesDelta.String())

		bank := f.bank(domain.AssetSOL)
		assert.Equal(t, uint64(500), bank.TotalBorrowedAmount)
		assert.Equal(t, "500", bank.TotalBorrowedShares.String())

		user := f.stored("alice")
		assert.Equal(t, uint64(500), user.Peek(domain.AssetSOL).BorrowedAmount)
		assert.Equal(t, "500", user.Peek(domain.AssetSOL).BorrowedShares.String())
		assert.Equal(t, uint64(500), f.custody.Balance("alice", domain.AssetSOL))
		assert.Equal(t, uint64(500), f.custody.Balance(domain.TreasuryAccount(domain.AssetSOL), domain.AssetSOL))
		f.assertShareConservation(domain.AssetSOL)

		// existing debt counts against the limit
		_, err = f.engine.Borrow(ctx, "alice", domain.AssetUSDC, domain.AssetSOL, decimal.RequireFromString("0.01"))
		require.ErrorIs(t, err, domain.ErrInsufficientCollateral)
	})
}

func TestBorrow_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	f.user("alice", map[domain.AssetKind]uint64{domain.AssetUSDC: 1000})
	f.user("bob", map[domain.AssetKind]uint64{domain.AssetSOL: 1000})
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, "bob", domain.AssetSOL, 1000)
	require.NoError(t, err)

	_, err = f.engine.Borrow(ctx, "nobody", domain.AssetSOL, domain.AssetSOL, decimal.NewFromInt(10))
	require.ErrorIs(t, err, domain.ErrBorrowNotAllowed)

	_, err = f.engine.Borrow(ctx, "alice", domain.AssetUSDC, domain.AssetSOL, decimal.Zero)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.engine.Borrow(ctx, "alice", domain.AssetUSDC, domain.AssetSOL, decimal.NewFromInt(10))
	require.ErrorIs(t, err, domain.ErrNoCollateral)

	_, err = f.engine.Deposit(ctx, "alice", domain.AssetUSDC, 1000)
	require.NoError(t, err)

	_, err = f.engine.Borrow(ctx, "alice", domain.AssetUSDC, domain.AssetSOL, decimal.RequireFromString("0.5"))
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	f.clock.Add(2 * time.Minute)
	_, err = f.engine.Borrow(ctx, "alice", domain.AssetUSDC, domain.AssetSOL, decimal.NewFromInt(10))
	require.ErrorIs(t, err, domain.ErrStalePrice)

	f.refreshPrices()
	_, err = f.engine.Borrow(ctx, "alice", domain.AssetUSDC, domain.AssetSOL, decimal.NewFromInt(10))
	require.NoError(t, err)
}

func TestBorrow_EmptyTreasury(t *testing.T) {
	f := newFixture(t, nil)
	f.user("alice", map[domain.AssetKind]uint64{domain.AssetUSDC: 1000})
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, "alice", domain.AssetUSDC, 1000)
	require.NoError(t, err)

	_, err = f.engine.Borrow(ctx, "alice", domain.AssetUSDC, domain.AssetSOL, decimal.NewFromInt(100))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Zero(t, f.bank(domain.AssetSOL).TotalBorrowedAmount)
	assert.False(t, f.stored("alice").HasDebt())
}

func borrowed(t *testing.T, value int64) *fixture {
	t.Helper()
	f := newFixture(t, nil)
	f.user("alice", map[domain.AssetKind]uint64{domain.AssetUSDC: 1000})
	f.user("bob", map[domain.AssetKind]uint64{domain.AssetSOL: 1000})
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, "alice", domain.AssetUSDC, 1000)
	require.NoError(t, err)
	_, err = f.engine.Deposit(ctx, "bob", domain.AssetSOL, 1000)
	require.NoError(t, err)
	_, err = f.engine.Borrow(ctx, "alice", domain.AssetUSDC, domain.AssetSOL, decimal.NewFromInt(value))
	require.NoError(t, err)
	return f
}

func TestRepay_Overshoot(t *testing.T) {
	f := borrowed(t, 100)
	ctx := context.Background()
	require.NoError(t, f.custody.Fund("alice", domain.AssetSOL, 1))

	_, err := f.engine.Repay(ctx, "alice", domain.AssetSOL, 101)
	require.ErrorIs(t, err, domain.ErrRepayExceedsOutstanding)

	res, err := f.engine.Repay(ctx, "alice", domain.AssetSOL, 100)
	require.NoError(t, err)
	assert.Equal(t, "100", res.SharesDelta.String())

	user := f.stored("alice")
	assert.Zero(t, user.Peek(domain.AssetSOL).BorrowedAmount)
	assert.True(t, user.Peek(domain.AssetSOL).BorrowedShares.IsZero())
	assert.False(t, user.HasDebt())

	bank := f.bank(domain.AssetSOL)
	assert.Zero(t, bank.TotalBorrowedAmount)
	assert.True(t, bank.TotalBorrowedShares.IsZero())
	assert.Equal(t, uint64(1), f.custody.Balance("alice", domain.AssetSOL))
	assert.Equal(t, uint64(1000), f.custody.Balance(domain.TreasuryAccount(domain.AssetSOL), domain.AssetSOL))
	f.assertShareConservation(domain.AssetSOL)

	_, err = f.engine.Repay(ctx, "alice", domain.AssetSOL, 1)
	require.ErrorIs(t, err, domain.ErrNothingToRepay)
}

func TestRepay_Partial(t *testing.T) {
	f := borrowed(t, 100)

	res, err := f.engine.Repay(context.Background(), "alice", domain.AssetSOL, 40)
	require.NoError(t, err)
	assert.Equal(t, "40", res.SharesDelta.String())

	user := f.stored("alice")
	assert.Equal(t, uint64(60), user.Peek(domain.AssetSOL).BorrowedAmount)
	assert.Equal(t, "60", user.Peek(domain.AssetSOL).BorrowedShares.String())

	bank := f.bank(domain.AssetSOL)
	assert.Equal(t, uint64(60), bank.TotalBorrowedAmount)
	assert.Equal(t, "60", bank.TotalBorrowedShares.String())
	f.assertShareConservation(domain.AssetSOL)

	_, err = f.engine.Repay(context.Background(), "alice", domain.AssetSOL, 0)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t, nil)
	f.user("alice", map[domain.AssetKind]uint64{domain.AssetUSDC: 1000})
	f.user("bob", nil)
	ctx := context.Background()

	_, err := f.engine.Withdraw(ctx, "bob", domain.AssetUSDC, 1)
	require.ErrorIs(t, err, domain.ErrNotEnoughBalance)

	_, err = f.engine.Deposit(ctx, "alice", domain.AssetUSDC, 1000)
	require.NoError(t, err)

	res, err := f.engine.Withdraw(ctx, "alice", domain.AssetUSDC, 400)
	require.NoError(t, err)
	assert.Equal(t, "400", res.SharesDelta.String())
	assert.Equal(t, uint64(400), f.custody.Balance("alice", domain.AssetUSDC))

	bank := f.bank(domain.AssetUSDC)
	assert.Equal(t, uint64(600), bank.TotalDepositedAmount)
	assert.Equal(t, "600", bank.TotalDepositedShares.String())
	f.assertShareConservation(domain.AssetUSDC)

	_, err = f.engine.Withdraw(ctx, "alice", domain.AssetUSDC, 601)
	require.ErrorIs(t, err, domain.ErrNotEnoughBalance)

	_, err = f.engine.Withdraw(ctx, "alice", domain.AssetUSDC, 600)
	require.NoError(t, err)

	bank = f.bank(domain.AssetUSDC)
	assert.Zero(t, bank.TotalDepositedAmount)
	assert.True(t, bank.TotalDepositedShares.IsZero())
	assert.True(t, f.stored("alice").IsEmpty())
	assert.Equal(t, uint64(1000), f.custody.Balance("alice", domain.AssetUSDC))
	f.assertShareConservation(domain.AssetUSDC)
}

func TestWithdraw_CollateralGuard(t *testing.T) {
	f := borrowed(t, 500)
	ctx := context.Background()

	_, err := f.engine.Withdraw(ctx, "alice", domain.AssetUSDC, 1)
	require.ErrorIs(t, err, domain.ErrInsufficientCollateral)
	assert.Equal(t, uint64(1000), f.bank(domain.AssetUSDC).TotalDepositedAmount)

	_, err = f.engine.Repay(ctx, "alice", domain.AssetSOL, 250)
	require.NoError(t, err)

	_, err = f.engine.Withdraw(ctx, "alice", domain.AssetUSDC, 500)
	require.NoError(t, err)

	_, err = f.engine.Withdraw(ctx, "alice", domain.AssetUSDC, 1)
	require.ErrorIs(t, err, domain.ErrInsufficientCollateral)
}

func TestShareConservation_MixedSequence(t *testing.T) {
	f := newFixture(t, nil)
	owners := []domain.AccountID{"alice", "bob", "carol"}
	for _, owner := range owners {
		f.user(owner, map[domain.AssetKind]uint64{domain.AssetUSDC: 10_000})
	}
	ctx := context.Background()

	steps := []struct {
		owner    domain.AccountID
		withdraw bool
		amount   uint64
	}{
		{"alice", false, 1000},
		{"bob", false, 333},
		{"carol", false, 7},
		{"alice", true, 250},
		{"bob", false, 1234},
		{"carol", true, 7},
		{"bob", true, 1567},
		{"alice", false, 1},
		{"alice", true, 751},
	}

	for i, step := range steps {
		var err error
		if step.withdraw {
			_, err = f.engine.Withdraw(ctx, step.owner, domain.AssetUSDC, step.amount)
		} else {
			_, err = f.engine.Deposit(ctx, step.owner, domain.AssetUSDC, step.amount)
		}
		require.NoError(t, err, "step %d", i)
		f.assertShareConservation(domain.AssetUSDC)
	}

	bank := f.bank(domain.AssetUSDC)
	assert.Zero(t, bank.TotalDepositedAmount)
	assert.True(t, bank.TotalDepositedShares.IsZero())
}

func TestRoundingStability(t *testing.T) {
	f := newFixture(t, nil)
	f.user("alice", map[domain.AssetKind]uint64{domain.AssetUSDC: 1000})
	f.user("bob", map[domain.AssetKind]uint64{domain.AssetUSDC: 3})
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, "alice", domain.AssetUSDC, 1000)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		_, err := f.engine.Deposit(ctx, "bob", domain.AssetUSDC, 3)
		require.NoError(t, err)
		_, err = f.engine.Withdraw(ctx, "bob", domain.AssetUSDC, 3)
		require.NoError(t, err)
	}

	bank := f.bank(domain.AssetUSDC)
	assert.Equal(t, uint64(1000), bank.TotalDepositedAmount)
	assert.Equal(t, "1000", bank.TotalDepositedShares.String())
	assert.Equal(t, uint64(3), f.custody.Balance("bob", domain.AssetUSDC))
	f.assertShareConservation(domain.AssetUSDC)
}

func TestInterest_AccruesBeforeShareMath(t *testing.T) {
	f := newFixture(t, map[domain.AssetKind]rates{
		domain.AssetUSDC: {deposited: decimal.RequireFromString("0.0001"), borrowed: decimal.RequireFromString("0.0002")},
	})
	f.user("alice", map[domain.AssetKind]uint64{domain.AssetUSDC: 1_000_000})
	f.user("bob", map[domain.AssetKind]uint64{domain.AssetUSDC: 1_105_171})
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, "alice", domain.AssetUSDC, 1_000_000)
	require.NoError(t, err)

	f.clock.Add(1000 * time.Second)

	bank, err := f.engine.Bank(ctx, domain.AssetUSDC)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_105_170), bank.TotalDepositedAmount)
	assert.Equal(t, "0.9181", bank.DepositedRemainder.String())
	assert.Equal(t, "1000000", bank.TotalDepositedShares.String())

	view, err := f.engine.Position(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, view.Assets, 1)
	assert.Equal(t, "1105170.9181", view.Assets[0].Deposited.String())

	// bob pays slightly more than a share is worth, so he gets slightly more shares
	res, err := f.engine.Deposit(ctx, "bob", domain.AssetUSDC, 1_105_171)
	require.NoError(t, err)
	assert.Equal(t, "1000000.0741", res.SharesDelta.String())

	_, err = f.engine.Withdraw(ctx, "alice", domain.AssetUSDC, 1_105_171)
	require.ErrorIs(t, err, domain.ErrNotEnoughBalance)

	_, err = f.engine.Withdraw(ctx, "alice", domain.AssetUSDC, 1_105_170)
	require.NoError(t, err)
	f.assertShareConservation(domain.AssetUSDC)

	bank = f.bank(domain.AssetUSDC)
	assert.Equal(t, uint64(1_105_171), bank.TotalDepositedAmount)
	assert.Equal(t, "0.9181", bank.DepositedRemainder.String())
	assert.True(t, f.stored("alice").IsEmpty())
}

func TestInterest_DebtGrows(t *testing.T) {
	f := newFixture(t, map[domain.AssetKind]rates{
		domain.AssetSOL: {deposited: decimal.RequireFromString("0.00001"), borrowed: decimal.RequireFromString("0.0001")},
	})
	f.user("alice", map[domain.AssetKind]uint64{domain.AssetUSDC: 10_000})
	f.user("bob", map[domain.AssetKind]uint64{domain.AssetSOL: 10_000})
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, "alice", domain.AssetUSDC, 10_000)
	require.NoError(t, err)
	_, err = f.engine.Deposit(ctx, "bob", domain.AssetSOL, 10_000)
	require.NoError(t, err)
	_, err = f.engine.Borrow(ctx, "alice", domain.AssetUSDC, domain.AssetSOL, decimal.NewFromInt(1000))
	require.NoError(t, err)

	f.clock.Add(1000 * time.Second)
	f.refreshPrices()

	view, err := f.engine.Position(ctx, "alice")
	require.NoError(t, err)
	var debt decimal.Decimal
	for _, a := range view.Assets {
		if a.Asset == domain.AssetSOL {
			debt = a.Borrowed
		}
	}
	assert.Equal(t, "1105.1709", debt.String())

	_, err = f.engine.Repay(ctx, "alice", domain.AssetSOL, 1106)
	require.ErrorIs(t, err, domain.ErrRepayExceedsOutstanding)

	require.NoError(t, f.custody.Fund("alice", domain.AssetSOL, 105))
	_, err = f.engine.Repay(ctx, "alice", domain.AssetSOL, 1105)
	require.NoError(t, err)

	user := f.stored("alice")
	assert.False(t, user.HasDebt())
	assert.True(t, user.Peek(domain.AssetSOL).BorrowedShares.IsZero())
	f.assertShareConservation(domain.AssetSOL)
}

func (f *fixture) settled(owner domain.AccountID, asset domain.AssetKind) AssetPosition {
	f.t.Helper()
	view, err := f.engine.Position(context.Background(), owner)
	require.NoError(f.t, err)
	for _, a := range view.Assets {
		if a.Asset == asset {
			return a
		}
	}
	return AssetPosition{Asset: asset, Deposited: decimal.Zero, Borrowed: decimal.Zero}
}

func TestInterest_PoolTotalsCoverIdlePositions(t *testing.T) {
	f := newFixture(t, map[domain.AssetKind]rates{
		domain.AssetSOL: {deposited: decimal.RequireFromString("0.00000005"), borrowed: decimal.RequireFromString("0.0000001")},
	})
	f.user("alice", map[domain.AssetKind]uint64{domain.AssetUSDC: 8_000_000})
	f.user("carol", map[domain.AssetKind]uint64{domain.AssetUSDC: 4})
	f.user("bob", map[domain.AssetKind]uint64{domain.AssetSOL: 5_000_030})
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, "bob", domain.AssetSOL, 5_000_000)
	require.NoError(t, err)
	_, err = f.engine.Deposit(ctx, "alice", domain.AssetUSDC, 8_000_000)
	require.NoError(t, err)
	_, err = f.engine.Deposit(ctx, "carol", domain.AssetUSDC, 4)
	require.NoError(t, err)
	_, err = f.engine.Borrow(ctx, "alice", domain.AssetUSDC, domain.AssetSOL, decimal.NewFromInt(4_000_000))
	require.NoError(t, err)
	_, err = f.engine.Borrow(ctx, "carol", domain.AssetUSDC, domain.AssetSOL, decimal.NewFromInt(2))
	require.NoError(t, err)

	// bob keeps the SOL bank busy while alice and carol stay idle
	for i := 0; i < 30; i++ {
		f.clock.Add(time.Second)
		_, err := f.engine.Deposit(ctx, "bob", domain.AssetSOL, 1)
		require.NoError(t, err, "second %d", i)
	}
	f.refreshPrices()

	bank, err := f.engine.Bank(ctx, domain.AssetSOL)
	require.NoError(t, err)
	require.NoError(t, bank.CheckInvariants())

	aliceDebt := f.settled("alice", domain.AssetSOL).Borrowed
	carolDebt := f.settled("carol", domain.AssetSOL).Borrowed
	assert.Equal(t, "4000012", aliceDebt.String())
	owed := aliceDebt.Add(carolDebt)
	assert.False(t, bank.BorrowedTotal().LessThan(owed), "pool %s below owed %s", bank.BorrowedTotal(), owed)
	assert.True(t, bank.BorrowedTotal().Sub(owed).LessThan(decimal.NewFromInt(2)),
		"pool %s drifted above owed %s", bank.BorrowedTotal(), owed)

	bobDeposit := f.settled("bob", domain.AssetSOL).Deposited
	assert.False(t, bank.DepositedTotal().LessThan(bobDeposit), "pool %s below deposit %s", bank.DepositedTotal(), bobDeposit)
	assert.True(t, bank.DepositedTotal().Sub(bobDeposit).LessThan(decimal.NewFromInt(1)))

	// alice is not the sole borrower and repays her whole debt
	require.NoError(t, f.custody.Fund("alice", domain.AssetSOL, 12))
	_, err = f.engine.Repay(ctx, "alice", domain.AssetSOL, 4_000_012)
	require.NoError(t, err)
	assert.False(t, f.stored("alice").HasDebt())

	bank = f.bank(domain.AssetSOL)
	assert.Equal(t, uint64(2), bank.TotalBorrowedAmount)
	assert.Equal(t, "2", bank.TotalBorrowedShares.String())
	f.assertShareConservation(domain.AssetSOL)

	_, err = f.engine.Repay(ctx, "carol", domain.AssetSOL, 2)
	require.NoError(t, err)

	bank = f.bank(domain.AssetSOL)
	assert.Zero(t, bank.TotalBorrowedAmount)
	assert.True(t, bank.BorrowedRemainder.IsZero())
	assert.True(t, bank.TotalBorrowedShares.IsZero())
	f.assertShareConservation(domain.AssetSOL)
}

func TestInterest_ExponentOverflowFailsFast(t *testing.T) {
	f := newFixture(t, map[domain.AssetKind]rates{
		domain.AssetSOL: {borrowed: domain.MaxInterestRatio},
	})
	f.user("alice", map[domain.AssetKind]uint64{domain.AssetUSDC: 1000})
	f.user("bob", map[domain.AssetKind]uint64{domain.AssetSOL: 1000})
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, "alice", domain.AssetUSDC, 1000)
	require.NoError(t, err)
	_, err = f.engine.Deposit(ctx, "bob", domain.AssetSOL, 1000)
	require.NoError(t, err)
	_, err = f.engine.Borrow(ctx, "alice", domain.AssetUSDC, domain.AssetSOL, decimal.NewFromInt(100))
	require.NoError(t, err)

	// 0.001/s over 50000s is e^50, beyond any uint64 amount
	f.clock.Add(50_000 * time.Second)
	f.refreshPrices()

	start := time.Now()
	_, err = f.engine.Repay(ctx, "alice", domain.AssetSOL, 1)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = f.engine.Deposit(ctx, "bob", domain.AssetSOL, 1)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Less(t, time.Since(start), time.Second)

	_, err = f.engine.Deposit(ctx, "alice", domain.AssetUSDC, 1)
	require.ErrorIs(t, err, domain.ErrInvalidAmount, "settling alice's SOL debt overflows too")
}

func TestHealthFactor(t *testing.T) {
	f := borrowed(t, 500)
	ctx := context.Background()

	report, err := f.engine.HealthFactor(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, report.Infinite)
	assert.Equal(t, "1000", report.CollateralValue.String())
	assert.Equal(t, "500", report.DebtValue.String())
	assert.Equal(t, "1.6", report.HealthFactor.String())
	assert.False(t, report.Liquidatable())

	f.prices[domain.AssetSOL] = decimal.NewFromInt(2)
	f.refreshPrices()
	report, err = f.engine.HealthFactor(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "0.8", report.HealthFactor.String())
	assert.True(t, report.Liquidatable())

	report, err = f.engine.HealthFactor(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, report.Infinite)
	assert.False(t, report.Liquidatable())
}

func TestEvents_PublishedAfterCommit(t *testing.T) {
	broadcaster := events.NewBroadcaster(16)
	sub := broadcaster.Subscribe()
	defer broadcaster.Unsubscribe(sub)

	f := newFixture(t, nil, WithPublisher(broadcaster))
	f.user("alice", map[domain.AssetKind]uint64{domain.AssetUSDC: 10})

	res, err := f.engine.Deposit(context.Background(), "alice", domain.AssetUSDC, 10)
	require.NoError(t, err)

	var got domain.LedgerEvent
	for got.Op != domain.OpDeposit {
		select {
		case got = <-sub:
		case <-time.After(time.Second):
			t.Fatal("deposit event not published")
		}
	}
	assert.Equal(t, res.EventID, got.ID)
	assert.Equal(t, uint64(10), got.Amount)
	assert.Equal(t, "10", got.SharesDelta)
}

func TestConcurrentOperations(t *testing.T) {
	f := newFixture(t, nil)
	const workers = 16
	for i := 0; i < workers; i++ {
		f.user(domain.AccountID(fmt.Sprintf("user-%02d", i)), map[domain.AssetKind]uint64{domain.AssetUSDC: 100})
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, workers*3)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(owner domain.AccountID) {
			defer wg.Done()
			for _, amount := range []uint64{50, 30} {
				if _, err := f.engine.Deposit(ctx, owner, domain.AssetUSDC, amount); err != nil {
					errs <- err
				}
			}
			if _, err := f.engine.Withdraw(ctx, owner, domain.AssetUSDC, 20); err != nil {
				errs <- err
			}
		}(domain.AccountID(fmt.Sprintf("user-%02d", i)))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	bank := f.bank(domain.AssetUSDC)
	assert.Equal(t, uint64(workers*60), bank.TotalDepositedAmount)
	assert.Equal(t, uint64(workers*60), f.custody.Balance(domain.TreasuryAccount(domain.AssetUSDC), domain.AssetUSDC))
	f.assertShareConservation(domain.AssetUSDC)
}
