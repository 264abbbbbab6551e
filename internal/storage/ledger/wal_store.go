package ledger

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/lendpool/internal/domain"
)

const (
	defaultLedgerDir   = "./data/ledger"
	ledgerSegmentLimit = 1000
	ledgerMaxSegments  = 100

	batchKey      = "ledger_batch"
	checkpointKey = "ledger_checkpoint"

	// written well before old segments rotate out, so replay always finds one
	checkpointEvery = ledgerSegmentLimit
)

// WALStore persists every committed batch in a WAL and serves reads from memory.
// The state is rebuilt on open by replaying the log from the latest checkpoint.
type WALStore struct {
	wal    *gowal.Wal
	mu     sync.RWMutex
	state  *state
	logger *zap.Logger
}

// NewWALStore opens (or creates) a WAL-backed ledger store under dir.
func NewWALStore(dir string, logger *zap.Logger) (*WALStore, error) {
	if dir == "" {
		dir = defaultLedgerDir
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "ledger_",
		SegmentThreshold: ledgerSegmentLimit,
		MaxSegments:      ledgerMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init ledger WAL")
	}

	s := &WALStore{wal: wal, state: newState(), logger: logger}
	if err := s.replay(); err != nil {
		_ = wal.Close()
		return nil, err
	}

	return s, nil
}

func (s *WALStore) replay() error {
	replayed := 0
	for msg := range s.wal.Iterator() {
		var batch Batch
		switch msg.Key {
		case checkpointKey:
			if err := json.Unmarshal(msg.Value, &batch); err != nil {
				return errors.Wrap(err, "decode ledger checkpoint")
			}
			s.state = newState()
		case batchKey:
			if err := json.Unmarshal(msg.Value, &batch); err != nil {
				return errors.Wrap(err, "decode ledger batch")
			}
		default:
			continue
		}
		s.state.apply(batch)
		replayed++
	}

	s.logger.Info("ledger WAL replayed",
		zap.Int("entries", replayed),
		zap.Int("banks", len(s.state.banks)),
		zap.Int("users", len(s.state.users)),
		zap.Uint64("index", s.wal.CurrentIndex()))

	return nil
}

func (s *WALStore) Bank(asset domain.AssetKind) (*domain.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.bank(asset)
}

func (s *WALStore) User(owner domain.AccountID) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.user(owner)
}

func (s *WALStore) Banks() ([]*domain.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.allBanks(), nil
}

func (s *WALStore) Users() ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.allUsers(), nil
}

// Commit appends batch to the WAL, then applies it to the in-memory state.
func (s *WALStore) Commit(batch Batch) error {
	if s == nil || s.wal == nil {
		return errors.New("ledger store is not initialized")
	}
	if err := batch.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		return errors.Wrap(err, "marshal ledger batch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, batchKey, payload); err != nil {
		return errors.Wrap(err, "write ledger batch")
	}
	s.state.apply(batch)

	if nextIndex%checkpointEvery == 0 {
		if err := s.writeCheckpoint(nextIndex + 1); err != nil {
			// the batch is already durable, the next checkpoint round covers it
			s.logger.Error("failed to write ledger checkpoint", zap.Error(err))
		}
	}

	return nil
}

func (s *WALStore) writeCheckpoint(index uint64) error {
	payload, err := json.Marshal(s.state.checkpoint())
	if err != nil {
		return errors.Wrap(err, "marshal ledger checkpoint")
	}
	return errors.Wrap(s.wal.Write(index, checkpointKey, payload), "write ledger checkpoint")
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("ledger store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
