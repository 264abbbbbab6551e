package ledger

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/vadiminshakov/lendpool/internal/domain"
)

var (
	bucketBanks = []byte("banks")
	bucketUsers = []byte("users")
)

// BoltStore keeps records in a BoltDB file, one bucket per record kind.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (and migrates) the BoltDB-backed store at path.
func NewBoltStore(path string, options *bolt.Options) (*BoltStore, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, errors.Wrapf(err, "open ledger db %s", path)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBanks, bucketUsers} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create ledger buckets")
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Bank(asset domain.AssetKind) (*domain.Bank, error) {
	var bank *domain.Bank
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBanks).Get([]byte(asset))
		if raw == nil {
			return errors.Wrapf(domain.ErrBankNotFound, "asset %s", asset)
		}
		bank = new(domain.Bank)
		return errors.Wrap(json.Unmarshal(raw, bank), "decode bank")
	})
	if err != nil {
		return nil, err
	}
	return bank, nil
}

func (s *BoltStore) User(owner domain.AccountID) (*domain.User, error) {
	var user *domain.User
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketUsers).Get([]byte(owner))
		if raw == nil {
			return errors.Wrapf(domain.ErrUserNotFound, "owner %s", owner)
		}
		var err error
		user, err = decodeUser(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *BoltStore) Banks() ([]*domain.Bank, error) {
	var banks []*domain.Bank
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBanks).ForEach(func(_, raw []byte) error {
			var bank domain.Bank
			if err := json.Unmarshal(raw, &bank); err != nil {
				return errors.Wrap(err, "decode bank")
			}
			banks = append(banks, &bank)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortBanks(banks)
	return banks, nil
}

func (s *BoltStore) Users() ([]*domain.User, error) {
	var users []*domain.User
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(_, raw []byte) error {
			user, err := decodeUser(raw)
			if err != nil {
				return err
			}
			users = append(users, user)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortUsers(users)
	return users, nil
}

// Commit writes the batch in a single Bolt transaction.
func (s *BoltStore) Commit(batch Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		banks := tx.Bucket(bucketBanks)
		for _, bank := range batch.Banks {
			encoded, err := json.Marshal(bank)
			if err != nil {
				return errors.Wrap(err, "encode bank")
			}
			if err := banks.Put([]byte(bank.Asset), encoded); err != nil {
				return errors.Wrapf(err, "put bank %s", bank.Asset)
			}
		}

		users := tx.Bucket(bucketUsers)
		for _, user := range batch.Users {
			encoded, err := json.Marshal(user)
			if err != nil {
				return errors.Wrap(err, "encode user")
			}
			if err := users.Put([]byte(user.Owner), encoded); err != nil {
				return errors.Wrapf(err, "put user %s", user.Owner)
			}
		}
		return nil
	})
}

// Close releases the underlying Bolt database handle.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func decodeUser(raw []byte) (*domain.User, error) {
	var user domain.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, errors.Wrap(err, "decode user")
	}
	if user.Balances == nil {
		user.Balances = make(map[domain.AssetKind]*domain.Balance)
	}
	return &user, nil
}
