// Package ledger persists pool and position ledger records.
package ledger

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/lendpool/internal/domain"
)

// Store is a key-value store of ledger records. Reads return copies safe to mutate.
type Store interface {
	// Bank returns domain.ErrBankNotFound when asset has no pool ledger.
	Bank(asset domain.AssetKind) (*domain.Bank, error)
	// User returns domain.ErrUserNotFound when owner has no position ledger.
	User(owner domain.AccountID) (*domain.User, error)
	Banks() ([]*domain.Bank, error)
	Users() ([]*domain.User, error)
	// Commit writes every record of the batch or none of them.
	Commit(batch Batch) error
	Close() error
}

// Batch is a set of records written atomically.
type Batch struct {
	Banks []*domain.Bank `json:"banks,omitempty"`
	Users []*domain.User `json:"users,omitempty"`
}

// IsEmpty reports whether the batch holds no records.
func (b Batch) IsEmpty() bool {
	return len(b.Banks) == 0 && len(b.Users) == 0
}

// Validate rejects malformed records before anything is written.
func (b Batch) Validate() error {
	for _, bank := range b.Banks {
		if bank == nil {
			return errors.New("batch holds a nil bank")
		}
		if !bank.Asset.IsValid() {
			return errors.Wrapf(domain.ErrUnsupportedAsset, "bank asset %q", bank.Asset)
		}
		if err := bank.CheckInvariants(); err != nil {
			return err
		}
	}
	for _, user := range b.Users {
		if user == nil {
			return errors.New("batch holds a nil user")
		}
		if user.Owner == "" {
			return errors.New("batch holds a user without owner")
		}
		if err := user.CheckInvariants(); err != nil {
			return err
		}
	}
	return nil
}

// state is an in-memory image of the store contents.
type state struct {
	banks map[domain.AssetKind]*domain.Bank
	users map[domain.AccountID]*domain.User
}

func newState() *state {
	return &state{
		banks: make(map[domain.AssetKind]*domain.Bank),
		users: make(map[domain.AccountID]*domain.User),
	}
}

func (s *state) apply(batch Batch) {
	for _, bank := range batch.Banks {
		s.banks[bank.Asset] = bank.Clone()
	}
	for _, user := range batch.Users {
		s.users[user.Owner] = user.Clone()
	}
}

func (s *state) bank(asset domain.AssetKind) (*domain.Bank, error) {
	bank, ok := s.banks[asset]
	if !ok {
		return nil, errors.Wrapf(domain.ErrBankNotFound, "asset %s", asset)
	}
	return bank.Clone(), nil
}

func (s *state) user(owner domain.AccountID) (*domain.User, error) {
	user, ok := s.users[owner]
	if !ok {
		return nil, errors.Wrapf(domain.ErrUserNotFound, "owner %s", owner)
	}
	return user.Clone(), nil
}

func (s *state) allBanks() []*domain.Bank {
	banks := make([]*domain.Bank, 0, len(s.banks))
	for _, bank := range s.banks {
		banks = append(banks, bank.Clone())
	}
	sortBanks(banks)
	return banks
}

func (s *state) allUsers() []*domain.User {
	users := make([]*domain.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user.Clone())
	}
	sortUsers(users)
	return users
}

// checkpoint returns the whole state as a single batch.
func (s *state) checkpoint() Batch {
	return Batch{Banks: s.allBanks(), Users: s.allUsers()}
}

func sortBanks(banks []*domain.Bank) {
	sort.Slice(banks, func(i, j int) bool { return banks[i].Asset.Order() < banks[j].Asset.Order() })
}

func sortUsers(users []*domain.User) {
	sort.Slice(users, func(i, j int) bool { return users[i].Owner < users[j].Owner })
}
