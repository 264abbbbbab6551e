// Package custodystate persists simulated custodial balances so restarts keep funds in place.
package custodystate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const defaultStateDir = "./data/custody"

// Store keeps custody state in a single JSON file.
type Store struct {
	path string
}

// NewStore creates a custody state store under dir (./data/custody when empty) named after scope.
func NewStore(dir, scope string) (*Store, error) {
	if dir == "" {
		dir = defaultStateDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create custody state dir")
	}

	name := sanitizeScope(scope)
	if name == "" {
		name = "custody"
	}

	return &Store{path: filepath.Join(dir, fmt.Sprintf("%s.json", name))}, nil
}

// Path returns the state file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// State is all persisted custody data.
type State struct {
	// Balances maps account to asset to amount in smallest units.
	Balances  map[string]map[string]uint64 `json:"balances"`
	Transfers uint64                       `json:"transfers"`
	UpdatedAt time.Time                    `json:"updated_at"`
}

// Load reads custody state from disk. A missing or empty file yields nil state.
func (s *Store) Load() (*State, error) {
	if s == nil || s.path == "" {
		return nil, nil
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, errors.Wrap(err, "read custody state")
	}

	if len(payload) == 0 {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, errors.Wrap(err, "decode custody state")
	}
	if state.Balances == nil {
		state.Balances = make(map[string]map[string]uint64)
	}

	return &state, nil
}

// Save writes custody state to disk atomically via temp file.
func (s *Store) Save(state State) error {
	if s == nil || s.path == "" {
		return nil
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode custody state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write custody state temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist custody state")
	}

	return nil
}

func sanitizeScope(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}

	var b strings.Builder

	prevUnderscore := false

	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)

			prevUnderscore = false

			continue
		}

		if !prevUnderscore {
			b.WriteByte('_')

			prevUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}
