// Package journal keeps an append-only log of committed ledger events.
package journal

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/lendpool/internal/domain"
)

const (
	defaultJournalDir = "./data/journal"
	segmentEntries    = 1000
	maxSegments       = 100
	keyNamespace      = "ledger/"
)

var errNotInitialized = errors.New("ledger journal is not initialized")

// WALStore is the ledger event journal. Each entry's WAL key carries the
// event operation, so readers can filter without decoding payloads.
type WALStore struct {
	mu  sync.RWMutex
	wal *gowal.Wal
}

// NewWALStore opens (or creates) the journal in dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultJournalDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "event_",
		SegmentThreshold: segmentEntries,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open ledger journal in %s", dir)
	}

	return &WALStore{wal: wal}, nil
}

func (s *WALStore) ready() error {
	if s == nil || s.wal == nil {
		return errNotInitialized
	}
	return nil
}

func eventKey(op domain.Operation) string {
	return keyNamespace + string(op)
}

// opFromKey reports the operation recorded in a journal key.
func opFromKey(key string) (domain.Operation, bool) {
	op, ok := strings.CutPrefix(key, keyNamespace)
	if !ok || op == "" {
		return "", false
	}
	return domain.Operation(op), true
}

// Append journals the event and returns the index it was written at.
func (s *WALStore) Append(event domain.LedgerEvent) (uint64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if event.Op == "" {
		return 0, errors.New("ledger event op is required")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return 0, errors.Wrapf(err, "encode %s event", event.Op)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(idx, eventKey(event.Op), payload); err != nil {
		return 0, errors.Wrapf(err, "journal %s event at %d", event.Op, idx)
	}
	return idx, nil
}

// EventsAfter returns the events journaled after index, oldest first.
// When ops is non-empty only events of those operations are returned.
func (s *WALStore) EventsAfter(index uint64, ops ...domain.Operation) ([]domain.LedgerEventRecord, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	var wanted map[domain.Operation]struct{}
	if len(ops) > 0 {
		wanted = make(map[domain.Operation]struct{}, len(ops))
		for _, op := range ops {
			wanted[op] = struct{}{}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var records []domain.LedgerEventRecord
	for idx := index + 1; idx <= s.wal.CurrentIndex(); idx++ {
		key, payload, ok := s.wal.Get(idx)
		if !ok {
			continue
		}
		op, ok := opFromKey(key)
		if !ok {
			continue
		}
		if wanted != nil {
			if _, hit := wanted[op]; !hit {
				continue
			}
		}

		var event domain.LedgerEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, errors.Wrapf(err, "decode journal entry %d", idx)
		}
		records = append(records, domain.LedgerEventRecord{Index: idx, Event: event})
	}
	return records, nil
}

// CurrentIndex is the index of the last journaled event, 0 when empty.
func (s *WALStore) CurrentIndex() uint64 {
	if s.ready() != nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wal.CurrentIndex()
}

func (s *WALStore) Close() error {
	if err := s.ready(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.Close()
}
