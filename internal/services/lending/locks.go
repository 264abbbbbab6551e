package lending

import (
	"sort"
	"sync"

	"github.com/vadiminshakov/lendpool/internal/domain"
)

// keyedLocker hands out exclusive per-record locks.
type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[string]*refLock)}
}

func (k *keyedLocker) acquire(key string) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
}

func (k *keyedLocker) release(key string) {
	k.mu.Lock()
	l := k.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	l.mu.Unlock()
}

// lockRecords locks the banks of assets (in asset order) and then the user of owner.
// An empty owner locks banks only. The returned func releases everything in reverse order.
func (k *keyedLocker) lockRecords(owner domain.AccountID, assets ...domain.AssetKind) func() {
	keys := recordKeys(owner, assets...)
	for _, key := range keys {
		k.acquire(key)
	}
	return func() {
		for i := len(keys) - 1; i >= 0; i-- {
			k.release(keys[i])
		}
	}
}

func recordKeys(owner domain.AccountID, assets ...domain.AssetKind) []string {
	sorted := make([]domain.AssetKind, 0, len(assets))
	seen := make(map[domain.AssetKind]struct{}, len(assets))
	for _, asset := range assets {
		if _, dup := seen[asset]; dup {
			continue
		}
		seen[asset] = struct{}{}
		sorted = append(sorted, asset)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order() < sorted[j].Order() })

	keys := make([]string, 0, len(sorted)+1)
	for _, asset := range sorted {
		keys = append(keys, "bank:"+asset.String())
	}
	if owner != "" {
		keys = append(keys, "user:"+owner.String())
	}
	return keys
}
