package ledger

import (
	"sync"

	"github.com/vadiminshakov/lendpool/internal/domain"
)

// MemoryStore keeps records in process memory only.
type MemoryStore struct {
	mu    sync.RWMutex
	state *state
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newState()}
}

func (s *MemoryStore) Bank(asset domain.AssetKind) (*domain.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.bank(asset)
}

func (s *MemoryStore) User(owner domain.AccountID) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.user(owner)
}

func (s *MemoryStore) Banks() ([]*domain.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.allBanks(), nil
}

func (s *MemoryStore) Users() ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.allUsers(), nil
}

func (s *MemoryStore) Commit(batch Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.apply(batch)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
